package reconcile

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/trm-platform/trm-backend/internal/models"
	"github.com/trm-platform/trm-backend/internal/services/payment"
)

// The worker detects transactions stuck in pending/processing beyond the
// staleness threshold and re-queries the provider. It is safe to run several
// instances with overlapping windows: each transaction is claimed with an
// optimistic check-and-set before any provider call, so at most one worker
// acts on it per cycle.

// TransactionStore is the ledger-side surface the worker needs. The gorm
// implementation lives in store.go; tests use fakes.
type TransactionStore interface {
	// Stale returns transactions in pending/processing created before cutoff.
	Stale(cutoff time.Time) ([]models.PaymentTransaction, error)
	// Claim marks a transaction as being worked on iff its status is still
	// expect and no other worker touched it since touchedBefore.
	Claim(id uuid.UUID, expect models.PaymentStatus, touchedBefore time.Time) (bool, error)
	// ApplyResult records a provider-reported status and fee; reports whether
	// the stored status changed.
	ApplyResult(id uuid.UUID, providerStatus, providerRef string, fee int64) (bool, error)
}

// ProviderClient is the subset of the gateway the worker calls.
// *payment.Client satisfies it.
type ProviderClient interface {
	QueryStatus(reference string) (*payment.StatusResult, error)
	Disburse(p payment.DisburseParams) (*payment.DisburseResult, error)
}

type TransactionError struct {
	TransactionID     uuid.UUID `json:"transaction_id"`
	TransactionNumber string    `json:"transaction_number"`
	Err               string    `json:"error"`
}

type Report struct {
	Checked int                `json:"checked"`
	Updated int                `json:"updated"`
	Skipped int                `json:"skipped"`
	Failed  int                `json:"failed"`
	Errors  []TransactionError `json:"errors,omitempty"`
}

type Worker struct {
	Store    TransactionStore
	Provider ProviderClient

	StaleAfter time.Duration
	// Delay between provider calls, to respect gateway rate limits.
	Delay time.Duration
}

func NewWorker(store TransactionStore, provider ProviderClient, staleAfter, delay time.Duration) *Worker {
	return &Worker{Store: store, Provider: provider, StaleAfter: staleAfter, Delay: delay}
}

// Start runs the worker on a fixed interval in a background goroutine.
func (w *Worker) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			log.Println("[reconcile] scanning for stale payment transactions...")
			report, err := w.RunOnce()
			if err != nil {
				log.Printf("[reconcile] batch failed: %v", err)
				continue
			}
			log.Printf("[reconcile] checked=%d updated=%d skipped=%d failed=%d",
				report.Checked, report.Updated, report.Skipped, report.Failed)
		}
	}()
}

// RunOnce processes one batch. Individual provider failures are recorded and
// skipped, never aborting the batch; only a store-level failure does. The
// loop leaves no partial transaction state between iterations, so stopping
// the process mid-batch is safe.
func (w *Worker) RunOnce() (Report, error) {
	var report Report

	cutoff := time.Now().Add(-w.StaleAfter)
	txns, err := w.Store.Stale(cutoff)
	if err != nil {
		return report, err
	}

	for i, trx := range txns {
		if i > 0 && w.Delay > 0 {
			time.Sleep(w.Delay)
		}

		claimed, err := w.Store.Claim(trx.ID, trx.Status, cutoff)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, TransactionError{
				TransactionID: trx.ID, TransactionNumber: trx.TransactionNumber, Err: err.Error(),
			})
			continue
		}
		if !claimed {
			// another worker owns it this cycle
			report.Skipped++
			continue
		}

		report.Checked++

		updated, err := w.reconcileOne(&trx)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, TransactionError{
				TransactionID: trx.ID, TransactionNumber: trx.TransactionNumber, Err: err.Error(),
			})
			continue
		}
		if updated {
			report.Updated++
		}
	}

	return report, nil
}

func (w *Worker) reconcileOne(trx *models.PaymentTransaction) (bool, error) {
	// A pending payout that never reached the provider is re-dispatched;
	// everything else is a status re-poll.
	if trx.ProviderReference == "" {
		result, err := w.Provider.Disburse(payment.DisburseParams{
			Provider:        trx.Provider,
			MerchantRef:     trx.TransactionNumber,
			Amount:          trx.NetAmount,
			RecipientName:   trx.RecipientName,
			RecipientMSISDN: trx.RecipientMSISDN,
			Description:     "TRM commission payout " + trx.TransactionNumber,
		})
		if err != nil {
			return false, err
		}
		return w.Store.ApplyResult(trx.ID, result.Status, result.Reference, result.Fee)
	}

	result, err := w.Provider.QueryStatus(trx.ProviderReference)
	if err != nil {
		return false, err
	}
	return w.Store.ApplyResult(trx.ID, result.Status, result.Reference, result.Fee)
}
