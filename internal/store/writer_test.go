package store

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/zombor/invoice-extractor/internal/invoice"
)

const strictItems = "strict_items"

var _ = Describe("Writer", func() {
	var (
		ctx        context.Context
		connector  *Connector
		writer     *Writer
		headerSQL  string
		itemSQL    string
		strictSQL  string
		header     []any
		itemRow    func(desc string) []any
		strictItem func(qty string) []any
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		connector, err = NewConnector(sqliteConfig())
		Expect(err).NotTo(HaveOccurred())
		Expect(Migrate(ctx, connector)).To(Succeed())
		Expect(connector.Do(ctx, func(db *gorm.DB) error {
			return db.Exec("CREATE TABLE " + strictItems + " (invoice_id TEXT, quantity INTEGER NOT NULL CHECK (typeof(quantity) = 'integer'))").Error
		})).To(Succeed())

		writer = NewWriter(connector)
		headerSQL = BuildInsert(invoice.HeaderTable, invoice.HeaderColumns)
		itemSQL = BuildInsert(invoice.ItemTable, invoice.ItemColumns)
		strictSQL = BuildInsert(strictItems, []string{"invoice_id", "quantity"})

		header = []any{"INV-1", "2024-01-15", "Acme", nil, nil, nil, "Globex", nil, nil, "6,00", "66,00"}
		itemRow = func(desc string) []any {
			return []any{"INV-1", desc, "2", "each", "10,00", "20,00", nil, "22,00"}
		}
		strictItem = func(qty string) []any {
			return []any{"INV-1", qty}
		}
	})

	AfterEach(func() {
		Expect(connector.Close()).To(Succeed())
	})

	Describe("Write", func() {
		var (
			stmts []Statement
			err   error
		)

		JustBeforeEach(func() {
			err = writer.Write(ctx, stmts...)
		})

		When("every statement succeeds", func() {
			BeforeEach(func() {
				stmts = []Statement{
					NewStatement(headerSQL, header...),
					NewStatement(itemSQL, itemRow("first")...),
					NewStatement(itemSQL, itemRow("second")...),
					NewStatement(itemSQL, itemRow("third")...),
				}
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should persist one header row", func() {
				Expect(countRows(connector, invoice.HeaderTable, "INV-1")).To(Equal(int64(1)))
			})

			It("should persist three item rows with the same invoice id", func() {
				Expect(countRows(connector, invoice.ItemTable, "INV-1")).To(Equal(int64(3)))
			})

			It("should store NULL for nil arguments", func() {
				var n int64
				Expect(connector.Do(ctx, func(db *gorm.DB) error {
					return db.Table(invoice.HeaderTable).Where("seller_address IS NULL").Count(&n).Error
				})).To(Succeed())
				Expect(n).To(Equal(int64(1)))
			})

			It("should keep items in insertion order", func() {
				var descriptions []string
				Expect(connector.Do(ctx, func(db *gorm.DB) error {
					return db.Table(invoice.ItemTable).Order("id").Pluck("description", &descriptions).Error
				})).To(Succeed())
				Expect(descriptions).To(Equal([]string{"first", "second", "third"}))
			})

			It("should release the connection", func() {
				Expect(connector.Active()).To(Equal(0))
			})
		})

		When("a later statement violates a type constraint", func() {
			BeforeEach(func() {
				stmts = []Statement{
					NewStatement(headerSQL, header...),
					NewStatement(strictSQL, strictItem("3")...),
					NewStatement(strictSQL, strictItem("three")...),
				}
			})

			It("returns a statement error naming the failing statement", func() {
				var stmtErr *StatementError
				Expect(err).To(BeAssignableToTypeOf(stmtErr))
				Expect(err.(*StatementError).Index).To(Equal(2))
				Expect(err.(*StatementError).SQL).To(Equal(strictSQL))
			})

			It("should roll back the header row", func() {
				Expect(countRows(connector, invoice.HeaderTable, "INV-1")).To(BeZero())
			})

			It("should roll back the earlier item row", func() {
				Expect(countRows(connector, strictItems, "INV-1")).To(BeZero())
			})

			It("should release the connection", func() {
				Expect(connector.Active()).To(Equal(0))
			})
		})

		When("the batch is empty", func() {
			BeforeEach(func() {
				stmts = nil
			})

			It("should do nothing", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(connector.Active()).To(Equal(0))
			})
		})

		When("the statement is invalid SQL", func() {
			BeforeEach(func() {
				stmts = []Statement{
					NewStatement(headerSQL, header...),
					NewStatement("INSERT INTO no_such_table (a) VALUES (?)", 1),
				}
			})

			It("should roll back and report the second statement", func() {
				var stmtErr *StatementError
				Expect(err).To(BeAssignableToTypeOf(stmtErr))
				Expect(err.(*StatementError).Index).To(Equal(1))
				Expect(countRows(connector, invoice.HeaderTable, "INV-1")).To(BeZero())
			})
		})
	})

	Describe("WriteOne", func() {
		It("should commit a single statement", func() {
			Expect(writer.WriteOne(ctx, headerSQL, header...)).To(Succeed())
			Expect(countRows(connector, invoice.HeaderTable, "INV-1")).To(Equal(int64(1)))
			Expect(connector.Active()).To(Equal(0))
		})
	})

	When("the database cannot be reached", func() {
		It("returns a connection error", func() {
			broken, err := NewConnector(Config{
				Driver:   DriverSQLite,
				Database: filepath.Join(GinkgoT().TempDir(), "missing", "invoices.db"),
			})
			Expect(err).NotTo(HaveOccurred())

			err = NewWriter(broken).Write(ctx, NewStatement(headerSQL, header...))
			var connErr *ConnectionError
			Expect(err).To(BeAssignableToTypeOf(connErr))
			Expect(broken.Active()).To(Equal(0))
		})
	})
})
