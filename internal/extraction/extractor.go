package extraction

import (
	"context"

	"github.com/zombor/invoice-extractor/internal/invoice"
)

// Extractor reads an invoice image and returns the model's raw payload
type Extractor interface {
	// Extract analyzes an invoice image/PDF and returns the extracted fields
	Extract(ctx context.Context, imageData []byte, contentType string) (invoice.Raw, error)
	// Close releases the model client
	Close() error
}

// systemPrompt frames the model; it is sent ahead of the image.
const systemPrompt = `You are a specialist in comprehending invoices and receipts.
Input images in the form of invoices will be provided to you, and your task is to
respond with the data printed on them.`

// invoicePrompt is sent after the image by every backend.
const invoicePrompt = `Retrieve these values from the invoice: invoice number, invoice date,
client name, client address and tax ID, seller name, seller address and tax ID,
invoice IBAN, every line item in the items table, total tax and total.

Return ONLY valid JSON in this exact format:
{
  "invoice_number": "",
  "invoice_date": "",
  "client_name": "",
  "client_address": "",
  "client_tax_id": "",
  "seller_name": "",
  "seller_address": "",
  "seller_tax_id": "",
  "invoice_iban": "",
  "items": [
    {
      "description": "name of the item that was bought",
      "quantity": "number of units",
      "unit": "unit of measurement",
      "net_price": "price of one unit",
      "net_worth": "quantity multiplied by net_price",
      "vat": "tax or VAT rate",
      "gross_worth": "what the line costs including tax"
    }
  ],
  "summary": {
    "total_tax": "",
    "total": ""
  }
}

Important:
- Copy amounts exactly as printed, including their decimal separator
- Keep the items in the order they appear on the invoice
- Use an empty string for any value you cannot find, never omit a key
- Do not include any text before or after the JSON
- Do not use markdown code blocks`
