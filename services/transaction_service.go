package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fadovn/fado_crm/models"
	"github.com/fadovn/fado_crm/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrTxnNotFound = errors.New("payment transaction not found")

	// ErrStatusConflict means a callback tried to move an already-terminal
	// transaction somewhere else. The caller raises an anomaly instead of
	// overwriting the settled status.
	ErrStatusConflict = errors.New("conflicting terminal payment status")

	// ErrRefAssigned guards the write-once gateway reference.
	ErrRefAssigned = errors.New("gateway reference already assigned")
)

const (
	refAssignAttempts = 3
	statusSwapRetries = 3
)

// TransactionService owns the PaymentTransaction lifecycle. Every status
// mutation funnels through UpdateStatusByReference so the state-transition
// and idempotency rules hold no matter how many callbacks race.
type TransactionService struct {
	db *gorm.DB
}

func NewTransactionService(db *gorm.DB) *TransactionService {
	return &TransactionService{db: db}
}

// Create inserts a new PENDING transaction carrying the trusted baseline
// amount for the order.
func (s *TransactionService) Create(ctx context.Context, orderID uint, amount float64, method string) (*models.PaymentTransaction, error) {
	txn := models.PaymentTransaction{
		TransactionID: strings.ReplaceAll(uuid.New().String(), "-", ""),
		OrderID:       orderID,
		Method:        method,
		Amount:        amount,
		Currency:      "VND",
		Status:        models.PaymentPending,
	}
	if err := s.db.WithContext(ctx).Create(&txn).Error; err != nil {
		return nil, fmt.Errorf("failed to create payment transaction: %w", err)
	}
	return &txn, nil
}

// SetReference assigns the gateway reference exactly once. The conditional
// update plus the unique index make the assignment an atomic
// insert-if-absent: a duplicate reference fails the write instead of
// silently overwriting another transaction's identity.
func (s *TransactionService) SetReference(ctx context.Context, transactionID, ref string) error {
	res := s.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("transaction_id = ? AND gateway_reference IS NULL", transactionID).
		Updates(map[string]interface{}{"gateway_reference": ref, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to assign gateway reference: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
			Where("transaction_id = ?", transactionID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrTxnNotFound
		}
		return ErrRefAssigned
	}
	return nil
}

// CreateForOrder runs Create plus reference assignment inside one DB
// transaction, so a reference collision never leaves an orphan PENDING row.
func (s *TransactionService) CreateForOrder(ctx context.Context, orderID uint, amount float64, method string) (*models.PaymentTransaction, error) {
	var created *models.PaymentTransaction

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scoped := NewTransactionService(tx)

		txn, err := scoped.Create(ctx, orderID, amount, method)
		if err != nil {
			return err
		}

		for attempt := 0; attempt < refAssignAttempts; attempt++ {
			ref, err := utils.GenerateUniqueGatewayRef(tx)
			if err != nil {
				return err
			}
			if err := scoped.SetReference(ctx, txn.TransactionID, ref); err != nil {
				continue // lost a reference race, regenerate
			}
			txn.GatewayReference = &ref
			created = txn
			return nil
		}
		return fmt.Errorf("could not assign a unique gateway reference after %d attempts", refAssignAttempts)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetByReference looks a transaction up by the reference the gateway echoes
// back. Callbacks are never resolved by the internal transaction id.
func (s *TransactionService) GetByReference(ctx context.Context, ref string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := s.db.WithContext(ctx).Where("gateway_reference = ?", ref).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTxnNotFound
		}
		return nil, fmt.Errorf("failed to load payment transaction: %w", err)
	}
	return &txn, nil
}

// UpdateStatusByReference is the single choke point for status mutation.
// It resolves concurrent callers through a conditional compare-and-swap on
// the current status:
//   - same status reported again -> (txn, false, nil), nothing written
//   - terminal status and a different report -> ErrStatusConflict
//   - unknown reference -> ErrTxnNotFound
func (s *TransactionService) UpdateStatusByReference(ctx context.Context, ref string, newStatus models.PaymentStatus) (*models.PaymentTransaction, bool, error) {
	for attempt := 0; attempt < statusSwapRetries; attempt++ {
		txn, err := s.GetByReference(ctx, ref)
		if err != nil {
			return nil, false, err
		}

		if txn.Status == newStatus {
			return txn, false, nil
		}
		if !txn.Status.CanTransitionTo(newStatus) {
			return txn, false, ErrStatusConflict
		}

		res := s.db.WithContext(ctx).
			Model(&models.PaymentTransaction{}).
			Where("gateway_reference = ? AND status = ?", ref, txn.Status).
			Updates(map[string]interface{}{"status": newStatus, "updated_at": time.Now()})
		if res.Error != nil {
			return nil, false, fmt.Errorf("failed to update payment status: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			txn.Status = newStatus
			return txn, true, nil
		}
		// A concurrent caller won the swap; re-read and reclassify.
	}
	return nil, false, ErrStatusConflict
}

// MarkRefunded records the state a completed refund leaves behind. Only a
// successful transaction can be refunded.
func (s *TransactionService) MarkRefunded(ctx context.Context, transactionID string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := s.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTxnNotFound
		}
		return nil, err
	}
	if txn.GatewayReference == nil {
		return nil, ErrStatusConflict
	}
	updated, applied, err := s.UpdateStatusByReference(ctx, *txn.GatewayReference, models.PaymentRefunded)
	if err != nil {
		return nil, err
	}
	if !applied && updated.Status != models.PaymentRefunded {
		return updated, ErrStatusConflict
	}
	return updated, nil
}

// RecordReturnObservation remembers the status the browser redirect reported
// for a still-unsettled transaction. Informational only; the authoritative
// status is untouched.
func (s *TransactionService) RecordReturnObservation(ctx context.Context, ref string, observed models.PaymentStatus) error {
	res := s.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("gateway_reference = ? AND return_observed IS NULL", ref).
		Update("return_observed", string(observed))
	return res.Error
}

// ListStalePending returns PENDING transactions older than the cutoff, for
// the manual-review job. Read-only.
func (s *TransactionService) ListStalePending(ctx context.Context, olderThan time.Duration) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	cutoff := time.Now().Add(-olderThan)
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.PaymentPending, cutoff).
		Order("created_at asc").
		Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending transactions: %w", err)
	}
	return txns, nil
}
