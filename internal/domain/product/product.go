package product

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/musaver/admintaxmahir-sub002/internal/domain/importjob"
)

// Field keys as they appear after header normalisation.
const (
	FieldName          = "name"
	FieldPrice         = "price"
	FieldSKU           = "sku"
	FieldDescription   = "description"
	FieldCategory      = "category"
	FieldStockQuantity = "stockquantity"
)

var requiredFields = []string{FieldName, FieldPrice}

type Product struct {
	ID            string
	TenantID      string
	Name          string
	Price         decimal.Decimal
	SKU           string
	Description   string
	Category      string
	StockQuantity *int64
}

// FromRow validates a parsed CSV row against the product schema. Required
// fields are checked before typed fields and the first failure wins.
func FromRow(fields map[string]string) (Product, error) {
	for _, name := range requiredFields {
		if strings.TrimSpace(fields[name]) == "" {
			return Product{}, importjob.MissingField(name)
		}
	}

	price, err := parsePrice(fields[FieldPrice])
	if err != nil {
		return Product{}, err
	}

	p := Product{
		Name:        strings.TrimSpace(fields[FieldName]),
		Price:       price,
		SKU:         strings.TrimSpace(fields[FieldSKU]),
		Description: strings.TrimSpace(fields[FieldDescription]),
		Category:    strings.TrimSpace(fields[FieldCategory]),
	}

	if raw := strings.TrimSpace(fields[FieldStockQuantity]); raw != "" {
		qty, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || qty < 0 {
			return Product{}, importjob.InvalidField(FieldStockQuantity, "invalid stock quantity %q: must be a non-negative integer", raw)
		}
		p.StockQuantity = &qty
	}

	return p, nil
}

func parsePrice(raw string) (decimal.Decimal, error) {
	cleaned := strings.TrimPrefix(strings.TrimSpace(raw), "$")
	price, err := decimal.NewFromString(strings.TrimSpace(cleaned))
	if err != nil || price.IsNegative() {
		return decimal.Decimal{}, importjob.InvalidField(FieldPrice, "invalid price %q: must be a non-negative number", raw)
	}
	return price, nil
}
