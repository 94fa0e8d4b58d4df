package invoice

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Reconciliation is a data-quality report for a normalized record. It never
// blocks persistence; callers log the warnings.
type Reconciliation struct {
	ItemGrossSum decimal.Decimal
	Total        decimal.Decimal
	HasTotal     bool
	Warnings     []string
}

// OK reports whether no warnings were raised.
func (r Reconciliation) OK() bool { return len(r.Warnings) == 0 }

// Reconcile checks a record for the problems the upstream model most often
// introduces: a missing invoice number and line items that do not add up to
// the invoice total.
func Reconcile(rec Record) Reconciliation {
	var r Reconciliation

	if rec.Header.InvoiceID == nil {
		r.Warnings = append(r.Warnings, "invoice_id is missing")
	}

	unparsed := 0
	for _, item := range rec.Items {
		amount, ok := ParseAmount(item.GrossWorth)
		if !ok {
			unparsed++
			continue
		}
		r.ItemGrossSum = r.ItemGrossSum.Add(amount)
	}
	if unparsed > 0 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("%d item gross amounts could not be parsed", unparsed))
	}

	r.Total, r.HasTotal = ParseAmount(rec.Header.Total)
	if r.HasTotal && len(rec.Items) > 0 && unparsed == 0 && !r.ItemGrossSum.Equal(r.Total) {
		r.Warnings = append(r.Warnings, fmt.Sprintf("item gross sum %s does not match total %s",
			r.ItemGrossSum.StringFixed(2), r.Total.StringFixed(2)))
	}
	return r
}

// ParseAmount reads a money-like value as printed on invoices: "1 234,50",
// "$12.00", "1,234.50" or a bare number.
func ParseAmount(v any) (decimal.Decimal, bool) {
	var s string
	switch val := v.(type) {
	case nil:
		return decimal.Decimal{}, false
	case string:
		s = val
	case float64:
		return decimal.NewFromFloat(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	default:
		s = fmt.Sprint(val)
	}

	s = strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			return r
		default:
			return -1
		}
	}, s)
	if s == "" {
		return decimal.Decimal{}, false
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastDot < 0 && commaGroups(s):
		s = strings.ReplaceAll(s, ",", "")
	case lastComma > lastDot:
		// comma is the decimal separator
		s = strings.ReplaceAll(s, ".", "")
		i := strings.LastIndex(s, ",")
		s = strings.ReplaceAll(s[:i], ",", "") + "." + s[i+1:]
	default:
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// commaGroups reports whether the commas in a dot-less amount group
// thousands: more than one comma, or a single comma followed by exactly
// three digits.
func commaGroups(s string) bool {
	n := strings.Count(s, ",")
	if n == 0 {
		return false
	}
	if n > 1 {
		return true
	}
	return len(s)-strings.LastIndex(s, ",")-1 == 3
}
