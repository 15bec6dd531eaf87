package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/trm-platform/trm-backend/internal/models"
	"github.com/trm-platform/trm-backend/internal/services/payment"
)

type fakeStore struct {
	stale      []models.PaymentTransaction
	claimDeny  map[uuid.UUID]bool
	applyErr   map[uuid.UUID]error
	applied    []uuid.UUID
	appliedRef map[uuid.UUID]string
	appliedFee map[uuid.UUID]int64
}

func newFakeStore(stale ...models.PaymentTransaction) *fakeStore {
	return &fakeStore{
		stale:      stale,
		claimDeny:  map[uuid.UUID]bool{},
		applyErr:   map[uuid.UUID]error{},
		appliedRef: map[uuid.UUID]string{},
		appliedFee: map[uuid.UUID]int64{},
	}
}

func (f *fakeStore) Stale(cutoff time.Time) ([]models.PaymentTransaction, error) {
	return f.stale, nil
}

func (f *fakeStore) Claim(id uuid.UUID, expect models.PaymentStatus, touchedBefore time.Time) (bool, error) {
	return !f.claimDeny[id], nil
}

func (f *fakeStore) ApplyResult(id uuid.UUID, providerStatus, providerRef string, fee int64) (bool, error) {
	if err := f.applyErr[id]; err != nil {
		return false, err
	}
	f.applied = append(f.applied, id)
	f.appliedRef[id] = providerRef
	f.appliedFee[id] = fee
	return true, nil
}

type fakeProvider struct {
	statusByRef map[string]string
	feeByRef    map[string]int64
	queryErr    map[string]error
	disbursed   []string
	disburseErr error
}

func (f *fakeProvider) QueryStatus(reference string) (*payment.StatusResult, error) {
	if err := f.queryErr[reference]; err != nil {
		return nil, err
	}
	return &payment.StatusResult{
		Reference: reference,
		Status:    f.statusByRef[reference],
		Fee:       f.feeByRef[reference],
	}, nil
}

func (f *fakeProvider) Disburse(p payment.DisburseParams) (*payment.DisburseResult, error) {
	if f.disburseErr != nil {
		return nil, f.disburseErr
	}
	f.disbursed = append(f.disbursed, p.MerchantRef)
	return &payment.DisburseResult{Reference: "PRV-" + p.MerchantRef, Status: "PENDING"}, nil
}

func stuckTxn(status models.PaymentStatus, providerRef string) models.PaymentTransaction {
	return models.PaymentTransaction{
		ID:                uuid.New(),
		TransactionNumber: models.GenerateTransactionNumber(),
		Provider:          models.ProviderKBZPay,
		Type:              models.PaymentTypeCommissionPayout,
		Amount:            127500,
		NetAmount:         127500,
		Status:            status,
		ProviderReference: providerRef,
	}
}

func TestRunOnceRepollsStuckTransactions(t *testing.T) {
	a := stuckTxn(models.PaymentStatusProcessing, "REF-A")
	b := stuckTxn(models.PaymentStatusProcessing, "REF-B")

	store := newFakeStore(a, b)
	provider := &fakeProvider{
		statusByRef: map[string]string{
			"REF-A": "SUCCESS",
			"REF-B": "PROCESSING",
		},
		feeByRef: map[string]int64{"REF-A": 500},
	}

	w := NewWorker(store, provider, 5*time.Minute, 0)
	report, err := w.RunOnce()
	if err != nil {
		t.Fatal(err)
	}

	if report.Checked != 2 || report.Updated != 2 || report.Failed != 0 || report.Skipped != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
	if len(store.applied) != 2 {
		t.Fatalf("applied %d results, want 2", len(store.applied))
	}
	if store.appliedRef[a.ID] != "REF-A" {
		t.Errorf("wrong reference applied for a: %q", store.appliedRef[a.ID])
	}
	if store.appliedFee[a.ID] != 500 {
		t.Errorf("provider fee not passed through: got %d, want 500", store.appliedFee[a.ID])
	}
}

func TestRunOnceRedispatchesNeverSentPayouts(t *testing.T) {
	a := stuckTxn(models.PaymentStatusPending, "")

	store := newFakeStore(a)
	provider := &fakeProvider{statusByRef: map[string]string{}}

	w := NewWorker(store, provider, 5*time.Minute, 0)
	report, err := w.RunOnce()
	if err != nil {
		t.Fatal(err)
	}

	if len(provider.disbursed) != 1 || provider.disbursed[0] != a.TransactionNumber {
		t.Fatalf("expected re-dispatch of %s, got %v", a.TransactionNumber, provider.disbursed)
	}
	if store.appliedRef[a.ID] != "PRV-"+a.TransactionNumber {
		t.Errorf("provider reference not recorded: %q", store.appliedRef[a.ID])
	}
	if report.Updated != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestRunOnceProviderErrorDoesNotAbortBatch(t *testing.T) {
	a := stuckTxn(models.PaymentStatusProcessing, "REF-A")
	b := stuckTxn(models.PaymentStatusProcessing, "REF-B")

	store := newFakeStore(a, b)
	provider := &fakeProvider{
		statusByRef: map[string]string{"REF-B": "SUCCESS"},
		queryErr:    map[string]error{"REF-A": payment.ErrProviderUnavailable},
	}

	w := NewWorker(store, provider, 5*time.Minute, 0)
	report, err := w.RunOnce()
	if err != nil {
		t.Fatal(err)
	}

	if report.Failed != 1 || report.Updated != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if len(report.Errors) != 1 || report.Errors[0].TransactionNumber != a.TransactionNumber {
		t.Errorf("unexpected errors: %+v", report.Errors)
	}
	if len(store.applied) != 1 || store.applied[0] != b.ID {
		t.Errorf("expected only b applied, got %v", store.applied)
	}
}

func TestRunOnceLostClaimIsSkipped(t *testing.T) {
	a := stuckTxn(models.PaymentStatusProcessing, "REF-A")

	store := newFakeStore(a)
	store.claimDeny[a.ID] = true
	provider := &fakeProvider{statusByRef: map[string]string{"REF-A": "SUCCESS"}}

	w := NewWorker(store, provider, 5*time.Minute, 0)
	report, err := w.RunOnce()
	if err != nil {
		t.Fatal(err)
	}

	if report.Skipped != 1 || report.Checked != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
	if len(store.applied) != 0 {
		t.Errorf("a lost claim must not reach the provider or the store")
	}
}

func TestRunOnceApplyErrorRecorded(t *testing.T) {
	a := stuckTxn(models.PaymentStatusProcessing, "REF-A")

	store := newFakeStore(a)
	store.applyErr[a.ID] = errors.New("db down")
	provider := &fakeProvider{statusByRef: map[string]string{"REF-A": "SUCCESS"}}

	w := NewWorker(store, provider, 5*time.Minute, 0)
	report, err := w.RunOnce()
	if err != nil {
		t.Fatal(err)
	}

	if report.Failed != 1 || report.Updated != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
}
