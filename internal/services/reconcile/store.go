package reconcile

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trm-platform/trm-backend/internal/models"
	"github.com/trm-platform/trm-backend/internal/services/ledger"
)

const batchLimit = 100

// GormStore backs the worker with the real ledger. Bank transfers are
// excluded from scans: there is no provider API to poll, operations settles
// them manually through the ledger.
type GormStore struct {
	DB     *gorm.DB
	Ledger *ledger.Service
}

func NewGormStore(db *gorm.DB, led *ledger.Service) *GormStore {
	return &GormStore{DB: db, Ledger: led}
}

func (g *GormStore) Stale(cutoff time.Time) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	err := g.DB.
		Where("status IN ? AND created_at < ? AND provider <> ?",
			[]models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusProcessing},
			cutoff, models.ProviderBankTransfer).
		Order("created_at ASC").
		Limit(batchLimit).
		Find(&txns).Error
	return txns, err
}

// Claim is an optimistic check-and-set: it refreshes last_checked_at only if
// the status is unchanged and no other worker touched the row since cutoff.
// Zero rows affected means the claim is lost.
func (g *GormStore) Claim(id uuid.UUID, expect models.PaymentStatus, touchedBefore time.Time) (bool, error) {
	result := g.DB.Model(&models.PaymentTransaction{}).
		Where("id = ? AND status = ? AND (last_checked_at IS NULL OR last_checked_at < ?)",
			id, expect, touchedBefore).
		Update("last_checked_at", time.Now())
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (g *GormStore) ApplyResult(id uuid.UUID, providerStatus, providerRef string, fee int64) (bool, error) {
	return g.Ledger.RecordProviderResult(g.DB, id, providerStatus, providerRef, fee, nil)
}
