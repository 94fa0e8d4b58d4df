package invoice

// summaryKeys hold sub-mappings whose keys are lifted into the header
// namespace, overwriting anything already there. Later keys win.
var summaryKeys = []string{"total", "summary"}

// partyKeys hold sub-mappings lifted with a prefix, never overwriting a
// flat key the model already returned.
var partyKeys = []string{"seller", "client"}

var headerSources = []struct {
	set  func(*Header, any)
	keys []string
}{
	{func(h *Header, v any) { h.InvoiceID = v }, []string{"invoice_number", "invoice_no", "invoice_id"}},
	{func(h *Header, v any) { h.InvoiceDate = v }, []string{"invoice_date", "date_of_issue"}},
	{func(h *Header, v any) { h.SellerName = v }, []string{"seller_name"}},
	{func(h *Header, v any) { h.SellerAddress = v }, []string{"seller_address"}},
	{func(h *Header, v any) { h.SellerTaxID = v }, []string{"seller_tax_id", "seller_taxid"}},
	{func(h *Header, v any) { h.SellerIBAN = v }, []string{"invoice_iban", "seller_iban", "iban"}},
	{func(h *Header, v any) { h.ClientName = v }, []string{"client_name"}},
	{func(h *Header, v any) { h.ClientAddress = v }, []string{"client_address"}},
	{func(h *Header, v any) { h.ClientTaxID = v }, []string{"client_tax_id", "client_taxid"}},
	{func(h *Header, v any) { h.TotalTax = v }, []string{"total_tax", "vat_total", "tax"}},
	{func(h *Header, v any) { h.Total = v }, []string{"total", "gross_total"}},
}

// Normalize turns a raw extraction into a header and its line items.
//
// Missing header keys never fail; they become NULL. Each item must carry
// description, quantity, unit, net_price, net_worth and gross_worth. The
// first item missing one of them stops normalization: the returned Record
// still holds the header and every item built before the failing one, and
// the error says which item and key. Empty strings become NULL in every
// tuple; nothing else is rewritten. raw is not modified.
func Normalize(raw Raw) (Record, error) {
	attrs := flatten(raw)

	var rec Record
	for _, src := range headerSources {
		src.set(&rec.Header, lookup(attrs, src.keys...))
	}
	rec.Header = nullHeader(rec.Header)

	entries, err := itemEntries(raw)
	if err != nil {
		return rec, err
	}

	rec.Items = make([]LineItem, 0, len(entries))
	for i, entry := range entries {
		item, err := buildItem(i, entry)
		if err != nil {
			return rec, err
		}
		rec.Items = append(rec.Items, nullItem(item))
	}
	return rec, nil
}

// Nullify returns a copy of values with every empty string replaced by nil.
// Zero, false and whitespace-only strings are kept.
func Nullify(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		out[i] = v
	}
	return out
}

func flatten(raw Raw) map[string]any {
	attrs := make(map[string]any, len(raw))
	for k, v := range raw {
		attrs[k] = v
	}

	for _, party := range partyKeys {
		sub, ok := asMap(raw[party])
		if !ok {
			continue
		}
		delete(attrs, party)
		for k, v := range sub {
			key := party + "_" + k
			if _, exists := raw[key]; !exists {
				attrs[key] = v
			}
		}
	}

	for _, key := range summaryKeys {
		sub, ok := asMap(raw[key])
		if !ok {
			continue
		}
		if _, still := asMap(attrs[key]); still {
			delete(attrs, key)
		}
		for k, v := range sub {
			attrs[k] = v
		}
	}
	return attrs
}

// lookup returns the value of the first present key, or "" when none is.
func lookup(attrs map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := attrs[k]; ok {
			if _, isMap := asMap(v); isMap {
				continue
			}
			return coerceScalar(v)
		}
	}
	return ""
}

func itemEntries(raw Raw) ([]any, error) {
	v, ok := raw["items"]
	if !ok {
		v, ok = raw["item"]
	}
	if !ok || v == nil {
		return nil, nil
	}

	switch list := v.(type) {
	case []any:
		return list, nil
	case []map[string]any:
		out := make([]any, len(list))
		for i, m := range list {
			out[i] = m
		}
		return out, nil
	case []Raw:
		out := make([]any, len(list))
		for i, m := range list {
			out[i] = map[string]any(m)
		}
		return out, nil
	default:
		return nil, ErrItemsNotList
	}
}

func buildItem(index int, entry any) (LineItem, error) {
	m, ok := asMap(entry)
	if !ok {
		return LineItem{}, &MalformedItemError{Index: index, Value: entry}
	}

	required := func(field string, keys ...string) (any, error) {
		for _, k := range keys {
			if v, ok := m[k]; ok {
				return coerceScalar(v), nil
			}
		}
		return nil, &MissingItemFieldError{Index: index, Field: field}
	}

	var (
		item LineItem
		err  error
	)
	if item.Description, err = required("description", "description"); err != nil {
		return LineItem{}, err
	}
	if item.Quantity, err = required("quantity", "quantity"); err != nil {
		return LineItem{}, err
	}
	if item.UnitOfMeasure, err = required("unit", "unit", "unit_of_measure"); err != nil {
		return LineItem{}, err
	}
	if item.NetPrice, err = required("net_price", "net_price"); err != nil {
		return LineItem{}, err
	}
	if item.NetWorth, err = required("net_worth", "net_worth"); err != nil {
		return LineItem{}, err
	}
	if item.GrossWorth, err = required("gross_worth", "gross_worth"); err != nil {
		return LineItem{}, err
	}
	item.VAT = lookup(m, "vat", "tax")
	return item, nil
}

func nullHeader(h Header) Header {
	v := Nullify(h.Values())
	return Header{
		InvoiceID: v[0], InvoiceDate: v[1],
		SellerName: v[2], SellerAddress: v[3], SellerTaxID: v[4], SellerIBAN: v[5],
		ClientName: v[6], ClientAddress: v[7], ClientTaxID: v[8],
		TotalTax: v[9], Total: v[10],
	}
}

func nullItem(li LineItem) LineItem {
	v := Nullify(li.Values())
	return LineItem{
		Description: v[0], Quantity: v[1], UnitOfMeasure: v[2],
		NetPrice: v[3], NetWorth: v[4], VAT: v[5], GrossWorth: v[6],
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Raw:
		return m, true
	default:
		return nil, false
	}
}
