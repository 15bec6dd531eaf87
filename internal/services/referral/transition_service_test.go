package referral

import (
	"testing"

	"github.com/google/uuid"

	"github.com/trm-platform/trm-backend/internal/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from models.ReferralStatus
		to   models.ReferralStatus
		want bool
	}{
		{"one step forward", models.ReferralStatusSubmitted, models.ReferralStatusUnderReview, true},
		{"skip ahead several stages", models.ReferralStatusSubmitted, models.ReferralStatusOfferExtended, true},
		{"straight to hired", models.ReferralStatusUnderReview, models.ReferralStatusHired, true},
		{"backward move", models.ReferralStatusOfferExtended, models.ReferralStatusUnderReview, false},
		{"same status", models.ReferralStatusUnderReview, models.ReferralStatusUnderReview, false},
		{"reject from submitted", models.ReferralStatusSubmitted, models.ReferralStatusRejected, true},
		{"reject from offer", models.ReferralStatusOfferExtended, models.ReferralStatusRejected, true},
		{"withdraw mid-pipeline", models.ReferralStatusInterviewScheduled, models.ReferralStatusWithdrawn, true},
		{"nothing leaves hired", models.ReferralStatusHired, models.ReferralStatusRejected, false},
		{"nothing leaves rejected", models.ReferralStatusRejected, models.ReferralStatusUnderReview, false},
		{"nothing leaves withdrawn", models.ReferralStatusWithdrawn, models.ReferralStatusHired, false},
		{"unknown target", models.ReferralStatusSubmitted, models.ReferralStatus("archived"), false},
		{"unknown source", models.ReferralStatus("archived"), models.ReferralStatusHired, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []models.ReferralStatus{
		models.ReferralStatusHired,
		models.ReferralStatusRejected,
		models.ReferralStatusWithdrawn,
	}
	for _, s := range terminal {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = false, want true", s)
		}
	}

	open := []models.ReferralStatus{
		models.ReferralStatusSubmitted,
		models.ReferralStatusUnderReview,
		models.ReferralStatusInterviewScheduled,
		models.ReferralStatusInterviewCompleted,
		models.ReferralStatusOfferExtended,
	}
	for _, s := range open {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = true, want false", s)
		}
	}
}

func TestKnownStatus(t *testing.T) {
	if KnownStatus(models.ReferralStatus("pending")) {
		t.Error("KnownStatus accepted a status outside the set")
	}
	if !KnownStatus(models.ReferralStatusWithdrawn) {
		t.Error("KnownStatus rejected withdrawn")
	}
}

func TestActorMayTarget(t *testing.T) {
	referrerID := uuid.New()
	ownerID := uuid.New()
	strangerID := uuid.New()

	ref := &models.Referral{ID: uuid.New(), ReferrerID: referrerID}

	tests := []struct {
		name   string
		actor  Actor
		target models.ReferralStatus
		want   bool
	}{
		{"admin may hire", Actor{strangerID, models.RoleAdmin}, models.ReferralStatusHired, true},
		{"admin may withdraw", Actor{strangerID, models.RoleAdmin}, models.ReferralStatusWithdrawn, true},
		{"owning company may review", Actor{ownerID, models.RoleCompany}, models.ReferralStatusUnderReview, true},
		{"owning company may hire", Actor{ownerID, models.RoleCompany}, models.ReferralStatusHired, true},
		{"owning company may reject", Actor{ownerID, models.RoleCompany}, models.ReferralStatusRejected, true},
		{"company may not withdraw", Actor{ownerID, models.RoleCompany}, models.ReferralStatusWithdrawn, false},
		{"other company may not touch", Actor{strangerID, models.RoleCompany}, models.ReferralStatusUnderReview, false},
		{"referrer may withdraw own", Actor{referrerID, models.RoleReferrer}, models.ReferralStatusWithdrawn, true},
		{"referrer may not hire", Actor{referrerID, models.RoleReferrer}, models.ReferralStatusHired, false},
		{"referrer may not advance", Actor{referrerID, models.RoleReferrer}, models.ReferralStatusUnderReview, false},
		{"other referrer may not withdraw", Actor{strangerID, models.RoleReferrer}, models.ReferralStatusWithdrawn, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ActorMayTarget(tt.actor, ref, ownerID, tt.target); got != tt.want {
				t.Errorf("ActorMayTarget(%s as %s -> %s) = %v, want %v",
					tt.actor.UserID, tt.actor.Role, tt.target, got, tt.want)
			}
		})
	}
}
