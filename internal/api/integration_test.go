package api

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/invoice-extractor/internal/ingest"
	"github.com/zombor/invoice-extractor/internal/invoice"
	"github.com/zombor/invoice-extractor/internal/ledger"
	"github.com/zombor/invoice-extractor/internal/store"
)

type stubExtractor struct {
	raw invoice.Raw
}

func (s *stubExtractor) Extract(context.Context, []byte, string) (invoice.Raw, error) {
	return s.raw, nil
}

func (s *stubExtractor) Close() error { return nil }

var _ = Describe("Integration", func() {
	var (
		connector *store.Connector
		processed *ledger.BoltLedger
		extractor *stubExtractor
		server    *Server
		ghServer  *ghttp.Server
	)

	send := func(req *http.Request) *http.Response {
		ghServer.AppendHandlers(server.ServeHTTP)
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	BeforeEach(func() {
		dir := GinkgoT().TempDir()

		var err error
		connector, err = store.NewConnector(store.Config{
			Driver:           store.DriverSQLite,
			Database:         filepath.Join(dir, "invoices.db"),
			Pooled:           true,
			MaxOpenConns:     1,
			ConnectTimeout:   5 * time.Second,
			StatementTimeout: 5 * time.Second,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Migrate(context.Background(), connector)).To(Succeed())

		storage, err := ingest.NewLocalStorage(filepath.Join(dir, "files"))
		Expect(err).NotTo(HaveOccurred())
		processed, err = ledger.Open(filepath.Join(dir, "ledger.db"))
		Expect(err).NotTo(HaveOccurred())

		extractor = &stubExtractor{raw: invoice.Raw{
			"invoice_number": "INV-7",
			"seller_name":    "Acme",
			"items": []any{
				map[string]any{
					"description": "Desk", "quantity": "1", "unit": "pc",
					"net_price": "100.00", "net_worth": "100.00", "vat": "20%", "gross_worth": "120.00",
				},
			},
			"summary": map[string]any{"total_tax": "20.00", "total": "120.00"},
		}}

		service := ingest.NewService(extractor, store.NewWriter(connector), storage, processed)
		server = NewServer(Deps{
			Processor: service,
			Querier:   store.NewReader(connector),
			Ledger:    processed,
			Pinger:    connector,
		}, BasicAuth{})
		ghServer = ghttp.NewServer()
	})

	AfterEach(func() {
		ghServer.Close()
		processed.Close()
		connector.Close()
	})

	It("uploads an invoice and reads it back with SQL", func() {
		resp := send(uploadRequest(ghServer.URL()+"/api/invoices", "desk.png", []byte("png bytes")))
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		resp = send(jsonRequest(ghServer.URL()+"/api/query", map[string]string{
			"text": "SELECT i.description, h.seller_name FROM invoice_items i JOIN invoice_info h ON h.invoice_id = i.invoice_id",
		}))
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var body map[string][]map[string]any
		decodeBody(resp, &body)
		Expect(body["rows"]).To(HaveLen(1))
		Expect(body["rows"][0]).To(HaveKeyWithValue("description", "Desk"))
		Expect(body["rows"][0]).To(HaveKeyWithValue("seller_name", "Acme"))
	})

	It("rejects the same file a second time", func() {
		resp := send(uploadRequest(ghServer.URL()+"/api/invoices", "desk.png", []byte("png bytes")))
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		resp = send(uploadRequest(ghServer.URL()+"/api/invoices", "copy.png", []byte("png bytes")))
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusConflict))

		resp = send(mustRequest(http.MethodGet, ghServer.URL()+"/api/ledger"))
		var entries []*ledger.Entry
		decodeBody(resp, &entries)
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].InvoiceID).To(Equal("INV-7"))
	})

	It("answers 422 for an invoice whose item lacks a field", func() {
		delete(extractor.raw["items"].([]any)[0].(map[string]any), "quantity")

		resp := send(uploadRequest(ghServer.URL()+"/api/invoices", "desk.png", []byte("png bytes")))
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

		resp = send(jsonRequest(ghServer.URL()+"/api/query", map[string]string{"text": "SELECT * FROM invoice_info"}))
		var body map[string][]map[string]any
		decodeBody(resp, &body)
		Expect(body["rows"]).To(BeEmpty())
	})

	It("reports a healthy database", func() {
		resp := send(mustRequest(http.MethodGet, ghServer.URL()+"/healthz"))
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})
})
