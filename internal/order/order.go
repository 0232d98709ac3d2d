package order

import (
	"time"

	"github.com/frahmantamala/storefront-payments/internal/core/datamodel/order"
)

// Repository is the order store boundary the reconciliation engine consumes.
// MarkPaid is the conditional update that guards the one-shot is_paid flip:
// it returns false when the precondition (is_paid = false) no longer holds.
type Repository interface {
	GetByID(id int64) (*order.Order, error)
	MarkPaid(id int64, paidAt time.Time) (bool, error)
}
