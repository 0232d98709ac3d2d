package postgres

import (
	"time"

	"gorm.io/gorm"

	"github.com/frahmantamala/storefront-payments/internal/core/datamodel/order"
	orderpkg "github.com/frahmantamala/storefront-payments/internal/order"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) orderpkg.Repository {
	return &OrderRepository{
		db: db,
	}
}

func (r *OrderRepository) GetByID(id int64) (*order.Order, error) {
	var o order.Order
	err := r.db.First(&o, id).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// MarkPaid flips is_paid exactly once. The WHERE clause on is_paid = false is
// the compare-and-swap: a concurrent caller that lost the race sees zero rows
// affected and gets false back.
func (r *OrderRepository) MarkPaid(id int64, paidAt time.Time) (bool, error) {
	result := r.db.Model(&order.Order{}).
		Where("id = ? AND is_paid = ?", id, false).
		Updates(map[string]interface{}{
			"is_paid":    true,
			"status":     order.StatusConfirmed,
			"paid_at":    paidAt,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
