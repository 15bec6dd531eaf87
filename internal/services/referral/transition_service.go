package referral

import (
	"errors"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trm-platform/trm-backend/internal/db"
	"github.com/trm-platform/trm-backend/internal/models"
	"github.com/trm-platform/trm-backend/internal/services/commission"
	"github.com/trm-platform/trm-backend/internal/services/ledger"
	"github.com/trm-platform/trm-backend/internal/services/notify"
)

var (
	ErrNotFound          = errors.New("referral not found")
	ErrForbidden         = errors.New("actor may not set this status")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// pipeline is the forward hiring order. A transition may skip ahead any
// number of stages (an authorized actor correcting the record) but never
// move backward into an earlier non-terminal stage.
var pipeline = []models.ReferralStatus{
	models.ReferralStatusSubmitted,
	models.ReferralStatusUnderReview,
	models.ReferralStatusInterviewScheduled,
	models.ReferralStatusInterviewCompleted,
	models.ReferralStatusOfferExtended,
	models.ReferralStatusHired,
}

func stageIndex(s models.ReferralStatus) int {
	for i, st := range pipeline {
		if st == s {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether no further transitions are allowed from s.
func IsTerminal(s models.ReferralStatus) bool {
	return s == models.ReferralStatusHired ||
		s == models.ReferralStatusRejected ||
		s == models.ReferralStatusWithdrawn
}

// KnownStatus reports whether s is a member of the status set at all.
func KnownStatus(s models.ReferralStatus) bool {
	return stageIndex(s) >= 0 ||
		s == models.ReferralStatusRejected ||
		s == models.ReferralStatusWithdrawn
}

// CanTransition implements the allowed-edges rule: forward progression along
// the pipeline (one or more steps), or into a terminal failure state from
// any non-terminal state. Nothing leaves a terminal state.
func CanTransition(from, to models.ReferralStatus) bool {
	if IsTerminal(from) {
		return false
	}
	if to == models.ReferralStatusRejected || to == models.ReferralStatusWithdrawn {
		return true
	}
	fi, ti := stageIndex(from), stageIndex(to)
	if fi < 0 || ti < 0 {
		return false
	}
	return ti > fi
}

// Actor is the identity applying a transition, from the auth middleware.
type Actor struct {
	UserID uuid.UUID
	Role   models.Role
}

// companyTargets are the statuses the hiring company controls.
var companyTargets = map[models.ReferralStatus]bool{
	models.ReferralStatusUnderReview:        true,
	models.ReferralStatusInterviewScheduled: true,
	models.ReferralStatusInterviewCompleted: true,
	models.ReferralStatusOfferExtended:      true,
	models.ReferralStatusHired:              true,
	models.ReferralStatusRejected:           true,
}

// ActorMayTarget checks the capability of an actor for a target status:
// admins may set anything, the owning company everything except withdrawal,
// the owning referrer only withdrawal.
func ActorMayTarget(actor Actor, ref *models.Referral, companyOwnerID uuid.UUID, target models.ReferralStatus) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleCompany:
		return actor.UserID == companyOwnerID && companyTargets[target]
	case models.RoleReferrer:
		return actor.UserID == ref.ReferrerID && target == models.ReferralStatusWithdrawn
	}
	return false
}

// Service is the status transition engine. Every referral status change in
// the system goes through ApplyTransition; nothing else writes
// referrals.status or the history table.
type Service struct {
	DB         *gorm.DB
	Commission *commission.Calculator
	Ledger     *ledger.Service
	Notifier   *notify.Notifier
}

func NewService(db *gorm.DB, calc *commission.Calculator, led *ledger.Service, notifier *notify.Notifier) *Service {
	return &Service{DB: db, Commission: calc, Ledger: led, Notifier: notifier}
}

// ApplyTransition validates and applies one status change. Concurrent calls
// for the same referral serialize on the row lock, so the history stays
// ordered and earnings post at most once. On a transition to hired the
// commission calculator runs inside the same DB transaction and the
// earnings_posted flag flips before commit.
func (s *Service) ApplyTransition(referralID uuid.UUID, target models.ReferralStatus, actor Actor, note string) (*models.Referral, error) {
	if !KnownStatus(target) {
		return nil, ErrInvalidTransition
	}

	var ref models.Referral
	var companyOwnerID uuid.UUID

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		// Lock the referral row; this serializes competing transitions.
		if err := db.LockForUpdate(tx).First(&ref, "id = ?", referralID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var job models.Job
		if err := tx.First(&job, "id = ?", ref.JobID).Error; err != nil {
			return err
		}
		var company models.Company
		if err := tx.First(&company, "id = ?", job.CompanyID).Error; err != nil {
			return err
		}
		companyOwnerID = company.OwnerID

		if !ActorMayTarget(actor, &ref, companyOwnerID, target) {
			return ErrForbidden
		}

		// A second hire attempt after settlement is a financial-invariant
		// violation, reported as such rather than as a plain bad transition.
		if target == models.ReferralStatusHired && ref.EarningsPosted {
			return commission.ErrDoubleSettlement
		}

		if !CanTransition(ref.Status, target) {
			return ErrInvalidTransition
		}

		ref.Status = target
		if err := tx.Save(&ref).Error; err != nil {
			return err
		}

		change := models.ReferralStatusChange{
			ReferralID: ref.ID,
			Status:     target,
			ChangedBy:  actor.UserID,
			Note:       note,
		}
		if err := tx.Create(&change).Error; err != nil {
			return err
		}

		if target == models.ReferralStatusHired {
			if err := s.Commission.PostEarnings(tx, &ref, &job); err != nil {
				return err
			}
			ref.EarningsPosted = true
			if err := tx.Model(&models.Referral{}).
				Where("id = ?", ref.ID).
				Update("earnings_posted", true).Error; err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	// Side effects after commit. Both are best-effort: a failed notification
	// or dispatch never undoes the transition, and undispatched payouts are
	// picked up by the reconciliation worker.
	s.Notifier.ReferralStatusChanged(ref.ReferrerID, companyOwnerID, notify.StatusEvent{
		Type:       "referral_status",
		ReferralID: ref.ID.String(),
		Status:     string(target),
		ActorID:    actor.UserID.String(),
		Note:       note,
	})

	if target == models.ReferralStatusHired {
		s.dispatchPayouts(ref.ID)
	}

	return &ref, nil
}

func (s *Service) dispatchPayouts(referralID uuid.UUID) {
	var payouts []models.PaymentTransaction
	err := s.DB.
		Where("referral_id = ? AND type = ? AND status = ? AND provider_reference = ''",
			referralID, models.PaymentTypeCommissionPayout, models.PaymentStatusPending).
		Find(&payouts).Error
	if err != nil {
		log.Printf("dispatch payouts for referral %s: %v", referralID, err)
		return
	}

	for _, trx := range payouts {
		if err := s.Ledger.Dispatch(s.DB, trx.ID); err != nil {
			log.Printf("dispatch %s failed (will reconcile): %v", trx.TransactionNumber, err)
		}
	}
}

// History returns the append-only status log for a referral, oldest first.
func (s *Service) History(referralID uuid.UUID) ([]models.ReferralStatusChange, error) {
	var changes []models.ReferralStatusChange
	err := s.DB.
		Where("referral_id = ?", referralID).
		Order("created_at ASC").
		Find(&changes).Error
	return changes, err
}
