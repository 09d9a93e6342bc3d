package models

import (
	"time"

	"github.com/angelmondragon/storefront-core/pkg/enums"
)

// Rent is a storefront rental bought through a RENT order.
type Rent struct {
	ID          int64            `gorm:"column:id;primaryKey;autoIncrement"`
	UserID      int64            `gorm:"column:user_id;not null;index:idx_rents_user_status,priority:1"`
	Plan        string           `gorm:"column:plan;type:text;not null"`
	Months      int              `gorm:"column:months;not null"`
	Price       int64            `gorm:"column:price;not null"`
	OrderID     string           `gorm:"column:order_id;type:text;not null;uniqueIndex:ux_rents_order_id"`
	Status      enums.RentStatus `gorm:"column:status;type:text;not null;index:idx_rents_user_status,priority:2"`
	EndsAt      *time.Time       `gorm:"column:ends_at"`
	ActivatedAt *time.Time       `gorm:"column:activated_at"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime"`
}
