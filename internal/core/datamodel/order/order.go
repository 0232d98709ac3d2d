package order

import (
	"time"
)

// Order lifecycle statuses. Payment only ever moves an order from pending to
// confirmed; the rest of the lifecycle belongs to fulfilment.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
)

// Order is the storefront order an attempt pays for. The payment service
// references it but does not own its full lifecycle: the only mutation this
// service performs is the one-shot is_paid flip.
type Order struct {
	ID          int64      `gorm:"primaryKey"`
	UserID      int64      `gorm:"column:user_id;not null;index"`
	Reference   string     `gorm:"column:reference;not null;uniqueIndex"`
	TotalAmount int64      `gorm:"column:total_amount;not null"`
	Currency    string     `gorm:"column:currency;not null"`
	IsPaid      bool       `gorm:"column:is_paid;default:false"`
	Status      string     `gorm:"column:status;default:pending"`
	PaidAt      *time.Time `gorm:"column:paid_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;default:now()"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;default:now()"`
}

func (Order) TableName() string {
	return "orders"
}
