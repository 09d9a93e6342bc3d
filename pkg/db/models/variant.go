package models

import "time"

// Variant is a sellable configuration of a product. Stock mirrors the count
// of unused stock items and is never used for withdrawal decisions.
type Variant struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TenantID  int64     `gorm:"column:tenant_id;not null;default:0;index:idx_variants_tenant"`
	ProductID int64     `gorm:"column:product_id;not null"`
	Name      string    `gorm:"column:name;type:text;not null"`
	Price     int64     `gorm:"column:price;not null"`
	Stock     int       `gorm:"column:stock;not null;default:0"`
	Active    bool      `gorm:"column:active;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
