package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/trm-platform/trm-backend/internal/db"
	"github.com/trm-platform/trm-backend/internal/models"
	"github.com/trm-platform/trm-backend/internal/services/payment"
)

var (
	ErrUnknownTransaction = errors.New("unknown transaction")
	ErrNotReversible      = errors.New("only completed transactions can be reversed")
	ErrConflictingStatus  = errors.New("provider status conflicts with settled transaction")
)

// Service is the durable record of every money movement. All writes go
// through here; balances are never mutated anywhere else except by the
// commission calculator at posting time.
type Service struct {
	DB      *gorm.DB
	Gateway *payment.Client
}

func NewService(db *gorm.DB, gateway *payment.Client) *Service {
	return &Service{DB: db, Gateway: gateway}
}

type CreateParams struct {
	Type     models.PaymentType
	Provider models.PaymentProvider
	Amount   int64
	Fees     int64

	RecipientID     *uuid.UUID
	RecipientName   string
	RecipientMSISDN string

	ReferralID *uuid.UUID
	OrderID    string

	// Platform-revenue rows (success fee, platform commission) carry no
	// disbursement and are created already completed.
	Status models.PaymentStatus
}

// CreateTransaction records a new payment transaction in the ledger.
// Must be called within a DB transaction when part of a larger money move.
func (s *Service) CreateTransaction(tx *gorm.DB, p CreateParams) (*models.PaymentTransaction, error) {
	if p.Amount <= 0 {
		return nil, errors.New("amount must be greater than zero")
	}
	if p.Fees < 0 || p.Fees > p.Amount {
		return nil, errors.New("fees must be between zero and amount")
	}

	status := p.Status
	if status == "" {
		status = models.PaymentStatusPending
	}

	// Retry on the off chance the generated number collides. Anything other
	// than not-found is a real DB failure and must surface, not spin.
	var number string
	for {
		number = models.GenerateTransactionNumber()
		var existing models.PaymentTransaction
		err := tx.Where("transaction_number = ?", number).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	trx := models.PaymentTransaction{
		TransactionNumber: number,
		OrderID:           p.OrderID,
		ReferralID:        p.ReferralID,
		RecipientID:       p.RecipientID,
		Provider:          p.Provider,
		Type:              p.Type,
		Amount:            p.Amount,
		Fees:              p.Fees,
		NetAmount:         p.Amount - p.Fees,
		RecipientName:     p.RecipientName,
		RecipientMSISDN:   p.RecipientMSISDN,
		Status:            status,
	}
	if status == models.PaymentStatusCompleted {
		now := time.Now()
		trx.PaidAt = &now
	}

	if err := tx.Create(&trx).Error; err != nil {
		return nil, err
	}
	return &trx, nil
}

// MapProviderStatus translates the aggregator's status vocabulary into ours.
func MapProviderStatus(s string) (models.PaymentStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCESS", "COMPLETED", "PAID":
		return models.PaymentStatusCompleted, nil
	case "PENDING", "ACCEPTED", "PROCESSING":
		return models.PaymentStatusProcessing, nil
	case "FAILED", "REJECTED", "EXPIRED":
		return models.PaymentStatusFailed, nil
	case "REVERSED", "REFUNDED":
		return models.PaymentStatusReversed, nil
	}
	return "", fmt.Errorf("unrecognized provider status %q", s)
}

type settlementAction int

const (
	actionNone settlementAction = iota
	actionProcess
	actionComplete
	actionFail
	actionReverse
)

// settlementDecision decides what applying an incoming provider status to the
// current ledger status does. Repeating a terminal status is a no-op, which
// is what makes RecordProviderResult idempotent.
func settlementDecision(current, incoming models.PaymentStatus) (settlementAction, error) {
	if current == incoming {
		return actionNone, nil
	}

	switch current {
	case models.PaymentStatusPending, models.PaymentStatusProcessing:
		switch incoming {
		case models.PaymentStatusProcessing:
			return actionProcess, nil
		case models.PaymentStatusCompleted:
			return actionComplete, nil
		case models.PaymentStatusFailed:
			return actionFail, nil
		case models.PaymentStatusReversed:
			return actionNone, fmt.Errorf("%w: cannot reverse before completion", ErrConflictingStatus)
		case models.PaymentStatusPending:
			// provider still queueing, nothing to record
			return actionNone, nil
		}
	case models.PaymentStatusCompleted:
		switch incoming {
		case models.PaymentStatusReversed:
			return actionReverse, nil
		case models.PaymentStatusPending, models.PaymentStatusProcessing:
			// stale provider read, keep the settled state
			return actionNone, nil
		case models.PaymentStatusFailed:
			return actionNone, ErrConflictingStatus
		}
	case models.PaymentStatusFailed:
		switch incoming {
		case models.PaymentStatusCompleted:
			// late success after a transient failure report
			return actionComplete, nil
		default:
			return actionNone, nil
		}
	case models.PaymentStatusReversed:
		return actionNone, nil
	}
	return actionNone, fmt.Errorf("unhandled status pair %s -> %s", current, incoming)
}

// RecordProviderResult applies a provider-reported status to a transaction.
// Idempotent: repeating the same terminal status moves balances only once.
// Returns whether the stored status changed. fee is the provider-disclosed
// fee in MMK; zero means not reported.
func (s *Service) RecordProviderResult(gdb *gorm.DB, txnID uuid.UUID, providerStatus, providerRef string, fee int64, rawPayload []byte) (bool, error) {
	incoming, err := MapProviderStatus(providerStatus)
	if err != nil {
		return false, err
	}

	changed := false
	err = gdb.Transaction(func(tx *gorm.DB) error {
		var trx models.PaymentTransaction
		if err := db.LockForUpdate(tx).First(&trx, "id = ?", txnID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnknownTransaction
			}
			return err
		}

		act, err := settlementDecision(trx.Status, incoming)
		if err != nil {
			return err
		}

		now := time.Now()
		trx.LastCheckedAt = &now
		if providerRef != "" {
			trx.ProviderReference = providerRef
		}
		if len(rawPayload) > 0 {
			trx.ProviderPayload = datatypes.JSON(rawPayload)
		}

		switch act {
		case actionNone:
			return tx.Save(&trx).Error
		case actionProcess:
			trx.Status = models.PaymentStatusProcessing
		case actionComplete:
			trx.Status = models.PaymentStatusCompleted
			trx.PaidAt = &now
			if fee > 0 && fee <= trx.Amount {
				trx.Fees = fee
				trx.NetAmount = trx.Amount - fee
			}
			if err := s.applyCompletion(tx, &trx); err != nil {
				return err
			}
		case actionFail:
			trx.Status = models.PaymentStatusFailed
			trx.FailureReason = "provider reported " + providerStatus
		case actionReverse:
			trx.Status = models.PaymentStatusReversed
			trx.ReversedAt = &now
			trx.FailureReason = "provider reported " + providerStatus
			if err := s.applyReversal(tx, &trx); err != nil {
				return err
			}
		}

		changed = true
		return tx.Save(&trx).Error
	})
	return changed, err
}

// MarkReversed reverses a completed transaction: the disbursed amount moves
// back to the recipient's pending balance and the row is marked reversed.
func (s *Service) MarkReversed(gdb *gorm.DB, txnID uuid.UUID, reason string) error {
	return gdb.Transaction(func(tx *gorm.DB) error {
		var trx models.PaymentTransaction
		if err := db.LockForUpdate(tx).First(&trx, "id = ?", txnID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnknownTransaction
			}
			return err
		}

		if trx.Status != models.PaymentStatusCompleted {
			return ErrNotReversible
		}

		now := time.Now()
		trx.Status = models.PaymentStatusReversed
		trx.ReversedAt = &now
		trx.FailureReason = reason

		if err := s.applyReversal(tx, &trx); err != nil {
			return err
		}
		return tx.Save(&trx).Error
	})
}

// applyCompletion moves the payout amount out of the recipient's pending
// balance into their disbursed total. Only commission payouts touch balances.
func (s *Service) applyCompletion(tx *gorm.DB, trx *models.PaymentTransaction) error {
	if trx.Type != models.PaymentTypeCommissionPayout || trx.RecipientID == nil {
		return nil
	}

	result := tx.Model(&models.ReferrerProfile{}).
		Where("user_id = ?", *trx.RecipientID).
		Updates(map[string]interface{}{
			"pending_balance": gorm.Expr("pending_balance - ?", trx.Amount),
			"disbursed_total": gorm.Expr("disbursed_total + ?", trx.Amount),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("referrer profile not found for user %s", *trx.RecipientID)
	}
	return nil
}

func (s *Service) applyReversal(tx *gorm.DB, trx *models.PaymentTransaction) error {
	if trx.Type != models.PaymentTypeCommissionPayout || trx.RecipientID == nil {
		return nil
	}

	result := tx.Model(&models.ReferrerProfile{}).
		Where("user_id = ?", *trx.RecipientID).
		Updates(map[string]interface{}{
			"pending_balance": gorm.Expr("pending_balance + ?", trx.Amount),
			"disbursed_total": gorm.Expr("disbursed_total - ?", trx.Amount),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("referrer profile not found for user %s", *trx.RecipientID)
	}
	return nil
}

// Dispatch forwards a pending payout to the payment provider and records the
// provider's reference. Failures leave the row pending for the
// reconciliation worker to retry.
func (s *Service) Dispatch(gdb *gorm.DB, txnID uuid.UUID) error {
	var trx models.PaymentTransaction
	if err := gdb.First(&trx, "id = ?", txnID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUnknownTransaction
		}
		return err
	}

	if trx.Type != models.PaymentTypeCommissionPayout {
		return nil
	}
	if trx.Provider == models.ProviderBankTransfer {
		// settled manually by operations, no API to call
		return nil
	}
	if trx.Status != models.PaymentStatusPending || trx.ProviderReference != "" {
		return nil
	}

	result, err := s.Gateway.Disburse(payment.DisburseParams{
		Provider:        trx.Provider,
		MerchantRef:     trx.TransactionNumber,
		Amount:          trx.NetAmount,
		RecipientName:   trx.RecipientName,
		RecipientMSISDN: trx.RecipientMSISDN,
		Description:     "TRM commission payout " + trx.TransactionNumber,
	})
	if err != nil {
		return err
	}

	_, err = s.RecordProviderResult(gdb, trx.ID, result.Status, result.Reference, result.Fee, nil)
	return err
}
