package invoice

// HeaderTable and ItemTable are the relational tables an extraction is
// persisted into.
const (
	HeaderTable = "invoice_info"
	ItemTable   = "invoice_items"
)

// HeaderColumns lists the invoice_info columns in tuple order.
var HeaderColumns = []string{
	"invoice_id", "invoice_date",
	"seller_name", "seller_address", "seller_tax_id", "seller_iban",
	"client_name", "client_address", "client_tax_id",
	"total_tax", "total",
}

// ItemColumns lists the invoice_items columns in tuple order. The first
// column correlates the item with its header row.
var ItemColumns = []string{
	"invoice_id", "description", "quantity", "unit_of_measure",
	"net_price", "net_worth", "vat", "gross_worth",
}

// Header is the single per-invoice summary row. A nil field is stored as
// SQL NULL.
type Header struct {
	InvoiceID     any `json:"invoice_id"`
	InvoiceDate   any `json:"invoice_date"`
	SellerName    any `json:"seller_name"`
	SellerAddress any `json:"seller_address"`
	SellerTaxID   any `json:"seller_tax_id"`
	SellerIBAN    any `json:"seller_iban"`
	ClientName    any `json:"client_name"`
	ClientAddress any `json:"client_address"`
	ClientTaxID   any `json:"client_tax_id"`
	TotalTax      any `json:"total_tax"`
	Total         any `json:"total"`
}

// Values returns the header tuple in HeaderColumns order.
func (h Header) Values() []any {
	return []any{
		h.InvoiceID, h.InvoiceDate,
		h.SellerName, h.SellerAddress, h.SellerTaxID, h.SellerIBAN,
		h.ClientName, h.ClientAddress, h.ClientTaxID,
		h.TotalTax, h.Total,
	}
}

// LineItem is one purchased good or service on an invoice.
type LineItem struct {
	Description   any `json:"description"`
	Quantity      any `json:"quantity"`
	UnitOfMeasure any `json:"unit_of_measure"`
	NetPrice      any `json:"net_price"`
	NetWorth      any `json:"net_worth"`
	VAT           any `json:"vat"`
	GrossWorth    any `json:"gross_worth"`
}

// Values returns the item tuple without the correlating invoice_id.
func (li LineItem) Values() []any {
	return []any{
		li.Description, li.Quantity, li.UnitOfMeasure,
		li.NetPrice, li.NetWorth, li.VAT, li.GrossWorth,
	}
}

// Record is a normalized extraction: one header and its items in source
// order.
type Record struct {
	Header Header     `json:"header"`
	Items  []LineItem `json:"items"`
}

// ItemRows returns one tuple per item in ItemColumns order, each prefixed
// with the header's invoice_id.
func (r Record) ItemRows() [][]any {
	rows := make([][]any, 0, len(r.Items))
	for _, item := range r.Items {
		row := make([]any, 0, len(ItemColumns))
		row = append(row, r.Header.InvoiceID)
		row = append(row, item.Values()...)
		rows = append(rows, row)
	}
	return rows
}
