package referral

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trm-platform/trm-backend/internal/models"
	"github.com/trm-platform/trm-backend/internal/services/commission"
	"github.com/trm-platform/trm-backend/internal/services/ledger"
	"github.com/trm-platform/trm-backend/internal/services/payment"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := gdb.AutoMigrate(
		&models.User{},
		&models.ReferrerProfile{},
		&models.Company{},
		&models.Job{},
		&models.Referral{},
		&models.ReferralStatusChange{},
		&models.PaymentTransaction{},
	); err != nil {
		t.Fatal(err)
	}
	return gdb
}

func newTestService(t *testing.T, gdb *gorm.DB) *Service {
	t.Helper()

	// nothing listens on port 1, so payout dispatch fails fast and the rows
	// stay pending for reconciliation, which is what these tests expect
	gw := &payment.Client{
		HTTP:      &http.Client{Timeout: time.Second},
		BaseURL:   "http://127.0.0.1:1",
		SecretKey: "test",
	}
	led := ledger.NewService(gdb, gw)
	calc := &commission.Calculator{
		Ledger:                led,
		PlatformCommissionPct: 15,
		NetworkBonusPct:       5,
		SuccessFeeAmount:      30000,
	}
	return NewService(gdb, calc, led, nil)
}

type fixture struct {
	referrer models.User
	owner    models.User
	job      models.Job
	referral models.Referral
}

func seedReferral(t *testing.T, gdb *gorm.DB, upstream *models.User) fixture {
	t.Helper()

	var f fixture

	f.referrer = models.User{
		Name:       "Referrer",
		Email:      fmt.Sprintf("ref-%s@test.mm", uuid.New()),
		Phone:      uuid.New().String()[:12],
		Password:   "x",
		Role:       models.RoleReferrer,
		IsActive:   true,
		InviteCode: models.GenerateInviteCode(),
	}
	if upstream != nil {
		f.referrer.ReferredByID = &upstream.ID
	}
	if err := gdb.Create(&f.referrer).Error; err != nil {
		t.Fatal(err)
	}
	profile := models.ReferrerProfile{UserID: f.referrer.ID, PayoutMSISDN: "09791234567"}
	if err := gdb.Create(&profile).Error; err != nil {
		t.Fatal(err)
	}

	f.owner = models.User{
		Name:       "Owner",
		Email:      fmt.Sprintf("owner-%s@test.mm", uuid.New()),
		Phone:      uuid.New().String()[:12],
		Password:   "x",
		Role:       models.RoleCompany,
		IsActive:   true,
		InviteCode: models.GenerateInviteCode(),
	}
	if err := gdb.Create(&f.owner).Error; err != nil {
		t.Fatal(err)
	}
	company := models.Company{OwnerID: f.owner.ID, Name: "Test Co"}
	if err := gdb.Create(&company).Error; err != nil {
		t.Fatal(err)
	}

	f.job = models.Job{
		CompanyID:     company.ID,
		Title:         "Backend Engineer",
		BonusAmount:   150000,
		BonusCurrency: "MMK",
		Status:        models.JobStatusOpen,
	}
	if err := gdb.Create(&f.job).Error; err != nil {
		t.Fatal(err)
	}

	f.referral = models.Referral{
		ReferrerID:    f.referrer.ID,
		JobID:         f.job.ID,
		CandidateName: "Candidate",
		Status:        models.ReferralStatusSubmitted,
	}
	if err := gdb.Create(&f.referral).Error; err != nil {
		t.Fatal(err)
	}

	return f
}

func loadProfile(t *testing.T, gdb *gorm.DB, userID uuid.UUID) models.ReferrerProfile {
	t.Helper()
	var p models.ReferrerProfile
	if err := gdb.First(&p, "user_id = ?", userID).Error; err != nil {
		t.Fatal(err)
	}
	return p
}

func TestApplyTransitionHirePostsEarningsExactlyOnce(t *testing.T) {
	gdb := newTestDB(t)
	svc := newTestService(t, gdb)
	f := seedReferral(t, gdb, nil)

	actor := Actor{UserID: f.owner.ID, Role: models.RoleCompany}

	if _, err := svc.ApplyTransition(f.referral.ID, models.ReferralStatusUnderReview, actor, ""); err != nil {
		t.Fatal(err)
	}
	ref, err := svc.ApplyTransition(f.referral.ID, models.ReferralStatusHired, actor, "signed offer")
	if err != nil {
		t.Fatal(err)
	}

	if ref.Status != models.ReferralStatusHired || !ref.EarningsPosted {
		t.Fatalf("after hire: status=%s earningsPosted=%v", ref.Status, ref.EarningsPosted)
	}

	profile := loadProfile(t, gdb, f.referrer.ID)
	if profile.PendingBalance != 127500 || profile.TotalEarnings != 127500 {
		t.Errorf("direct share: pending=%d total=%d, want 127500/127500",
			profile.PendingBalance, profile.TotalEarnings)
	}
	if profile.DirectReferrals != 1 {
		t.Errorf("direct_referrals = %d, want 1", profile.DirectReferrals)
	}

	var payouts []models.PaymentTransaction
	if err := gdb.Where("referral_id = ? AND type = ?", f.referral.ID, models.PaymentTypeCommissionPayout).
		Find(&payouts).Error; err != nil {
		t.Fatal(err)
	}
	if len(payouts) != 1 {
		t.Fatalf("payout rows = %d, want 1 (no upstream referrer)", len(payouts))
	}
	if payouts[0].Amount != 127500 || payouts[0].Status != models.PaymentStatusPending {
		t.Errorf("payout row: amount=%d status=%s", payouts[0].Amount, payouts[0].Status)
	}

	var fee, platformCut models.PaymentTransaction
	if err := gdb.First(&fee, "referral_id = ? AND type = ?", f.referral.ID, models.PaymentTypeSuccessFee).Error; err != nil {
		t.Fatal("success fee row missing:", err)
	}
	if fee.Amount != 30000 || fee.Status != models.PaymentStatusCompleted {
		t.Errorf("success fee: amount=%d status=%s", fee.Amount, fee.Status)
	}
	if err := gdb.First(&platformCut, "referral_id = ? AND type = ?", f.referral.ID, models.PaymentTypePlatformCommission).Error; err != nil {
		t.Fatal("platform commission row missing:", err)
	}
	if platformCut.Amount != 22500 {
		t.Errorf("platform commission amount = %d, want 22500", platformCut.Amount)
	}

	// A second hire attempt must surface the double-settlement violation and
	// leave every balance and ledger row untouched.
	_, err = svc.ApplyTransition(f.referral.ID, models.ReferralStatusHired, actor, "retry")
	if !errors.Is(err, commission.ErrDoubleSettlement) {
		t.Fatalf("second hire: err = %v, want ErrDoubleSettlement", err)
	}

	profile = loadProfile(t, gdb, f.referrer.ID)
	if profile.PendingBalance != 127500 || profile.DirectReferrals != 1 {
		t.Errorf("second hire moved balances: pending=%d direct=%d",
			profile.PendingBalance, profile.DirectReferrals)
	}
	var txnCount int64
	gdb.Model(&models.PaymentTransaction{}).Where("referral_id = ?", f.referral.ID).Count(&txnCount)
	if txnCount != 3 {
		t.Errorf("ledger rows = %d, want 3", txnCount)
	}

	var history []models.ReferralStatusChange
	if err := gdb.Where("referral_id = ?", f.referral.ID).Order("created_at ASC").Find(&history).Error; err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Errorf("history rows = %d, want 2", len(history))
	}
	for i := 1; i < len(history); i++ {
		if !CanTransition(history[i-1].Status, history[i].Status) {
			t.Errorf("history contains illegal edge %s -> %s", history[i-1].Status, history[i].Status)
		}
	}
}

func TestApplyTransitionRejectedPostsNothing(t *testing.T) {
	gdb := newTestDB(t)
	svc := newTestService(t, gdb)
	f := seedReferral(t, gdb, nil)

	actor := Actor{UserID: f.owner.ID, Role: models.RoleCompany}
	ref, err := svc.ApplyTransition(f.referral.ID, models.ReferralStatusRejected, actor, "not a fit")
	if err != nil {
		t.Fatal(err)
	}
	if ref.EarningsPosted {
		t.Error("rejection must not post earnings")
	}

	profile := loadProfile(t, gdb, f.referrer.ID)
	if profile.PendingBalance != 0 || profile.TotalEarnings != 0 {
		t.Errorf("balances moved on rejection: pending=%d total=%d",
			profile.PendingBalance, profile.TotalEarnings)
	}
	var txnCount int64
	gdb.Model(&models.PaymentTransaction{}).Where("referral_id = ?", f.referral.ID).Count(&txnCount)
	if txnCount != 0 {
		t.Errorf("ledger rows = %d, want 0", txnCount)
	}
}

func TestApplyTransitionNetworkBonus(t *testing.T) {
	gdb := newTestDB(t)
	svc := newTestService(t, gdb)

	upstream := models.User{
		Name:       "Upstream",
		Email:      fmt.Sprintf("up-%s@test.mm", uuid.New()),
		Phone:      uuid.New().String()[:12],
		Password:   "x",
		Role:       models.RoleReferrer,
		IsActive:   true,
		InviteCode: models.GenerateInviteCode(),
	}
	if err := gdb.Create(&upstream).Error; err != nil {
		t.Fatal(err)
	}
	if err := gdb.Create(&models.ReferrerProfile{UserID: upstream.ID, PayoutMSISDN: "09770000000"}).Error; err != nil {
		t.Fatal(err)
	}

	f := seedReferral(t, gdb, &upstream)
	actor := Actor{UserID: f.owner.ID, Role: models.RoleCompany}

	if _, err := svc.ApplyTransition(f.referral.ID, models.ReferralStatusHired, actor, ""); err != nil {
		t.Fatal(err)
	}

	up := loadProfile(t, gdb, upstream.ID)
	if up.PendingBalance != 7500 || up.NetworkEarnings != 7500 {
		t.Errorf("network bonus: pending=%d network=%d, want 7500/7500",
			up.PendingBalance, up.NetworkEarnings)
	}

	// the direct share is not reduced by the network pool
	direct := loadProfile(t, gdb, f.referrer.ID)
	if direct.PendingBalance != 127500 {
		t.Errorf("direct share reduced to %d", direct.PendingBalance)
	}

	var payoutCount int64
	gdb.Model(&models.PaymentTransaction{}).
		Where("referral_id = ? AND type = ?", f.referral.ID, models.PaymentTypeCommissionPayout).
		Count(&payoutCount)
	if payoutCount != 2 {
		t.Errorf("payout rows = %d, want 2", payoutCount)
	}
}

func TestApplyTransitionErrors(t *testing.T) {
	gdb := newTestDB(t)
	svc := newTestService(t, gdb)
	f := seedReferral(t, gdb, nil)

	if _, err := svc.ApplyTransition(uuid.New(), models.ReferralStatusHired,
		Actor{UserID: f.owner.ID, Role: models.RoleCompany}, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown referral: err = %v, want ErrNotFound", err)
	}

	if _, err := svc.ApplyTransition(f.referral.ID, models.ReferralStatusHired,
		Actor{UserID: f.referrer.ID, Role: models.RoleReferrer}, ""); !errors.Is(err, ErrForbidden) {
		t.Errorf("referrer hiring: err = %v, want ErrForbidden", err)
	}

	actor := Actor{UserID: f.owner.ID, Role: models.RoleCompany}
	if _, err := svc.ApplyTransition(f.referral.ID, models.ReferralStatusOfferExtended, actor, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ApplyTransition(f.referral.ID, models.ReferralStatusUnderReview, actor, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("backward move: err = %v, want ErrInvalidTransition", err)
	}
}
