package models

import "time"

// RetiredStockOrderID stamps unused stock retired together with its variant.
const RetiredStockOrderID = "DELETED"

// StockItem is one deliverable unit. ID order is the FIFO withdrawal order.
type StockItem struct {
	ID          int64      `gorm:"column:id;primaryKey;autoIncrement;index:idx_stock_items_fifo,priority:4"`
	TenantID    int64      `gorm:"column:tenant_id;not null;default:0;index:idx_stock_items_fifo,priority:1"`
	VariantID   int64      `gorm:"column:variant_id;not null;index:idx_stock_items_fifo,priority:2"`
	Payload     string     `gorm:"column:payload;type:text;not null"`
	Used        bool       `gorm:"column:used;not null;default:false;index:idx_stock_items_fifo,priority:3"`
	UsedOrderID *string    `gorm:"column:used_order_id;type:text;index:idx_stock_items_used_order"`
	UsedAt      *time.Time `gorm:"column:used_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
}
