package postgres

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	paymentmodel "github.com/frahmantamala/storefront-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/storefront-payments/internal/payment"
)

type AttemptRepository struct {
	db *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

func (r *AttemptRepository) Create(a *paymentmodel.PaymentAttempt) error {
	return r.db.Create(a).Error
}

func (r *AttemptRepository) GetByCorrelationKey(providerName, correlationKey string) (*paymentmodel.PaymentAttempt, error) {
	var attempt paymentmodel.PaymentAttempt
	err := r.db.Where("provider = ? AND correlation_key = ?", providerName, correlationKey).
		First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, payment.ErrAttemptNotFound
		}
		return nil, err
	}
	return &attempt, nil
}

func (r *AttemptRepository) GetLatestByOrderID(orderID int64) (*paymentmodel.PaymentAttempt, error) {
	var attempt paymentmodel.PaymentAttempt
	// id breaks ties between retries created within the same timestamp.
	err := r.db.Where("order_id = ?", orderID).
		Order("created_at DESC, id DESC").
		First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, payment.ErrAttemptNotFound
		}
		return nil, err
	}
	return &attempt, nil
}

// MarkTerminal flips an attempt into a terminal state. The WHERE clause
// restricts the update to attempts still in flight, so concurrent
// deliveries race on the row and exactly one caller sees true.
func (r *AttemptRepository) MarkTerminal(id int64, state string, receipt, failureReason *string, providerResponse json.RawMessage) (bool, error) {
	updates := map[string]any{
		"state":      state,
		"updated_at": time.Now(),
	}
	if receipt != nil {
		updates["provider_receipt"] = *receipt
	}
	if failureReason != nil {
		updates["failure_reason"] = *failureReason
	}
	if providerResponse != nil {
		updates["provider_response"] = providerResponse
	}

	res := r.db.Model(&paymentmodel.PaymentAttempt{}).
		Where("id = ? AND state IN ?", id, []string{
			paymentmodel.StateInitiated,
			paymentmodel.StatePendingConfirmation,
		}).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *AttemptRepository) ListStalePending(olderThan time.Time, limit int) ([]*paymentmodel.PaymentAttempt, error) {
	var attempts []*paymentmodel.PaymentAttempt
	err := r.db.Where("state = ? AND created_at < ?", paymentmodel.StatePendingConfirmation, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}
