package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/zombor/invoice-extractor/internal/invoice"
)

// InvoiceInfo is the invoice_info table. Values are kept as text exactly as
// extracted; there is no foreign key to invoice_items.
type InvoiceInfo struct {
	ID            uint    `gorm:"primaryKey"`
	InvoiceID     *string `gorm:"type:text;index"`
	InvoiceDate   *string `gorm:"type:text"`
	SellerName    *string `gorm:"type:text"`
	SellerAddress *string `gorm:"type:text"`
	SellerTaxID   *string `gorm:"column:seller_tax_id;type:text"`
	SellerIBAN    *string `gorm:"column:seller_iban;type:text"`
	ClientName    *string `gorm:"type:text"`
	ClientAddress *string `gorm:"type:text"`
	ClientTaxID   *string `gorm:"column:client_tax_id;type:text"`
	TotalTax      *string `gorm:"type:text"`
	Total         *string `gorm:"type:text"`
}

// TableName implements gorm's tabler.
func (InvoiceInfo) TableName() string { return invoice.HeaderTable }

// InvoiceItem is the invoice_items table, correlated to its header by the
// shared invoice_id value.
type InvoiceItem struct {
	ID            uint    `gorm:"primaryKey"`
	InvoiceID     *string `gorm:"type:text;index"`
	Description   *string `gorm:"type:text"`
	Quantity      *string `gorm:"type:text"`
	UnitOfMeasure *string `gorm:"type:text"`
	NetPrice      *string `gorm:"type:text"`
	NetWorth      *string `gorm:"type:text"`
	VAT           *string `gorm:"column:vat;type:text"`
	GrossWorth    *string `gorm:"type:text"`
}

// TableName implements gorm's tabler.
func (InvoiceItem) TableName() string { return invoice.ItemTable }

// Migrate creates or updates the invoice tables.
func Migrate(ctx context.Context, connector *Connector) error {
	return connector.Do(ctx, func(db *gorm.DB) error {
		for _, model := range []any{&InvoiceInfo{}, &InvoiceItem{}} {
			if err := db.AutoMigrate(model); err != nil {
				return fmt.Errorf("migrating %T: %w", model, err)
			}
		}
		return nil
	})
}
