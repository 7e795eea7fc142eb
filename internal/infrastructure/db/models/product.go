package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            string          `gorm:"type:uuid;primaryKey"`
	TenantID      string          `gorm:"type:text;not null;index"`
	Name          string          `gorm:"size:255;not null"`
	Price         decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	SKU           *string         `gorm:"column:sku;size:120"`
	Description   *string         `gorm:"type:text"`
	Category      *string         `gorm:"size:120"`
	StockQuantity *int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (Product) TableName() string {
	return "products"
}
