package mapping

import (
	"regexp"

	"github.com/erpbridge/erpbridge/pkg/model"
)

var (
	skuPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	emailPattern = regexp.MustCompile(`^\S+@\S+$`)
	vatPattern   = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
)

func minValue(v float64) *float64 { return &v }

// Tables returns the field-mapping table for every supported entity kind.
// Shift and ZetaReport carry no table of their own: their payloads already
// use target field names and pass through unchanged.
func Tables() map[model.EntityType]EntityMapping {
	return map[model.EntityType]EntityMapping{
		model.EntityProduct: {
			Model: "product.template",
			Fields: []Field{
				{Source: "name", Target: "name", Type: FieldText, Required: true},
				{Source: "description", Target: "description", Type: FieldText},
				{Source: "price", Target: "list_price", Type: FieldNumber, Min: minValue(0)},
				{Source: "cost", Target: "standard_price", Type: FieldNumber, Min: minValue(0)},
				{Source: "barcode", Target: "barcode", Type: FieldText},
				{Source: "sku", Target: "default_code", Type: FieldText, Pattern: skuPattern},
				{Source: "active", Target: "active", Type: FieldBoolean, Default: true},
				{Source: "weight", Target: "weight", Type: FieldNumber, Min: minValue(0)},
				{Source: "volume", Target: "volume", Type: FieldNumber, Min: minValue(0)},
				{Source: "category", Target: "categ_id", Type: FieldRelation, Transform: "find_or_create_category"},
			},
		},
		model.EntityUser: {
			Model: "res.users",
			Fields: []Field{
				{Source: "name", Target: "name", Type: FieldText, Required: true},
				{Source: "email", Target: "login", Type: FieldText, Required: true, Pattern: emailPattern},
				{Source: "email", Target: "email", Type: FieldText},
				{Source: "phone", Target: "phone", Type: FieldText},
				{Source: "mobile", Target: "mobile", Type: FieldText},
				{Source: "active", Target: "active", Type: FieldBoolean, Default: true},
				{Source: "language", Target: "lang", Type: FieldText, Default: "es_ES"},
				{Source: "timezone", Target: "tz", Type: FieldText, Default: "America/Caracas"},
			},
		},
		model.EntityStore: {
			Model: "res.company",
			Fields: []Field{
				{Source: "name", Target: "name", Type: FieldText, Required: true},
				{Source: "address", Target: "street", Type: FieldText},
				{Source: "city", Target: "city", Type: FieldText},
				{Source: "state", Target: "state_id", Type: FieldRelation, Transform: "find_state"},
				{Source: "country", Target: "country_id", Type: FieldRelation, Transform: "find_country"},
				{Source: "phone", Target: "phone", Type: FieldText},
				{Source: "email", Target: "email", Type: FieldText},
				{Source: "vat", Target: "vat", Type: FieldText, Pattern: vatPattern},
				{Source: "website", Target: "website", Type: FieldText},
				{Source: "currency", Target: "currency_id", Type: FieldRelation, Transform: "find_currency"},
			},
		},
		model.EntityInvoice: {
			Model: "account.move",
			Fields: []Field{
				{Source: "number", Target: "name", Type: FieldText},
				{Source: "date", Target: "invoice_date", Type: FieldDate},
				{Source: "due_date", Target: "invoice_date_due", Type: FieldDate},
				{Source: "partner_id", Target: "partner_id", Type: FieldRelation, Required: true},
				{Source: "amount_total", Target: "amount_total", Type: FieldNumber, Min: minValue(0)},
				{Source: "amount_tax", Target: "amount_tax", Type: FieldNumber, Min: minValue(0)},
				{Source: "amount_untaxed", Target: "amount_untaxed", Type: FieldNumber, Min: minValue(0)},
				{Source: "state", Target: "state", Type: FieldText},
				{Source: "reference", Target: "ref", Type: FieldText},
			},
		},
		model.EntityShift: {
			Model: "hr.attendance",
		},
		model.EntityZetaReport: {
			Model: "account.report",
		},
	}
}
