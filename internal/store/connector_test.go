package store

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("Connector", func() {
	var (
		cfg       Config
		connector *Connector
		ctx       context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = sqliteConfig()
	})

	JustBeforeEach(func() {
		var err error
		connector, err = NewConnector(cfg)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if connector != nil {
			Expect(connector.Close()).To(Succeed())
		}
	})

	Describe("NewConnector", func() {
		It("should reject an invalid config", func() {
			_, err := NewConnector(Config{Driver: "oracle"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Acquire", func() {
		When("the database is reachable", func() {
			It("should return a usable connection", func() {
				conn, err := connector.Acquire(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(conn.DB().Exec("SELECT 1").Error).NotTo(HaveOccurred())
				Expect(connector.Active()).To(Equal(1))
				Expect(conn.Release()).To(Succeed())
				Expect(connector.Active()).To(Equal(0))
			})

			It("should open a new physical connection on every call", func() {
				first, err := connector.Acquire(ctx)
				Expect(err).NotTo(HaveOccurred())
				second, err := connector.Acquire(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(first.DB()).NotTo(BeIdenticalTo(second.DB()))
				Expect(first.Release()).To(Succeed())
				Expect(second.Release()).To(Succeed())
			})
		})

		When("the database cannot be opened", func() {
			BeforeEach(func() {
				cfg.Database = filepath.Join(GinkgoT().TempDir(), "missing", "dir", "invoices.db")
			})

			It("returns a connection error", func() {
				conn, err := connector.Acquire(ctx)
				Expect(conn).To(BeNil())
				var connErr *ConnectionError
				Expect(err).To(BeAssignableToTypeOf(connErr))
				Expect(connector.Active()).To(Equal(0))
			})
		})

		When("pooled", func() {
			BeforeEach(func() {
				cfg.Pooled = true
				cfg.MaxOpenConns = 4
			})

			It("should hand out the shared pool", func() {
				first, err := connector.Acquire(ctx)
				Expect(err).NotTo(HaveOccurred())
				second, err := connector.Acquire(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(first.DB()).To(BeIdenticalTo(second.DB()))
				Expect(first.Release()).To(Succeed())
				Expect(second.Release()).To(Succeed())
				Expect(connector.Active()).To(Equal(0))
			})

			It("should keep the pool usable after release", func() {
				conn, err := connector.Acquire(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(conn.Release()).To(Succeed())
				Expect(conn.DB().Exec("SELECT 1").Error).NotTo(HaveOccurred())
			})
		})
	})

	Describe("Release", func() {
		It("should be a no-op the second time", func() {
			conn, err := connector.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(conn.Release()).To(Succeed())
			Expect(conn.Release()).To(Succeed())
			Expect(conn.Released()).To(BeTrue())
			Expect(connector.Active()).To(Equal(0))
		})

		It("should accept a nil connection", func() {
			var conn *Conn
			Expect(conn.Release()).To(Succeed())
			Expect(conn.Released()).To(BeFalse())
		})
	})

	Describe("Do", func() {
		It("should release after success", func() {
			err := connector.Do(ctx, func(db *gorm.DB) error {
				Expect(connector.Active()).To(Equal(1))
				return db.Exec("SELECT 1").Error
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(connector.Active()).To(Equal(0))
		})

		It("should release after failure and return the error", func() {
			err := connector.Do(ctx, func(db *gorm.DB) error {
				return db.Exec("SELECT * FROM no_such_table").Error
			})
			Expect(err).To(HaveOccurred())
			Expect(connector.Active()).To(Equal(0))
		})
	})

	Describe("Ping", func() {
		It("succeeds against a reachable database", func() {
			Expect(connector.Ping(ctx)).To(Succeed())
			Expect(connector.Active()).To(Equal(0))
		})

		When("the database file cannot be created", func() {
			BeforeEach(func() {
				cfg.Database = filepath.Join(GinkgoT().TempDir(), "missing", "invoices.db")
			})

			It("returns a connection error", func() {
				var connErr *ConnectionError
				Expect(errors.As(connector.Ping(ctx), &connErr)).To(BeTrue())
			})
		})
	})

	Describe("ConnectTimeout", func() {
		BeforeEach(func() {
			cfg.ConnectTimeout = time.Nanosecond
		})

		It("returns a connection error when the context is already done", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			_, err := connector.Acquire(cancelled)
			var connErr *ConnectionError
			Expect(err).To(BeAssignableToTypeOf(connErr))
		})
	})
})
