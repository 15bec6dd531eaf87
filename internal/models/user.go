package models

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleReferrer Role = "referrer"
	RoleCompany  Role = "company"
	RoleAdmin    Role = "admin"
)

type User struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name  string    `gorm:"not null" json:"name"`
	Email string    `gorm:"uniqueIndex;not null" json:"email"`
	Phone string    `gorm:"type:varchar(30);uniqueIndex" json:"phone"`

	Password string `gorm:"not null" json:"-"`
	Role     Role   `gorm:"type:varchar(20);not null;index" json:"role"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	// Invite code links the multi-level referrer chain. ReferredByID points at
	// the upstream referrer whose code was used at registration.
	InviteCode   string     `gorm:"type:varchar(12);uniqueIndex" json:"invite_code"`
	ReferredByID *uuid.UUID `gorm:"type:uuid;index" json:"referred_by_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ReferrerProfile *ReferrerProfile `gorm:"foreignKey:UserID;references:ID" json:"referrer_profile,omitempty"`
	ReferredBy      *User            `gorm:"foreignKey:ReferredByID" json:"-"`
}

func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return
}

// ReferrerProfile holds the financial state of a referrer. All amounts are
// whole MMK. Balances are mutated only by the commission calculator and the
// payment ledger, always via atomic increments inside a DB transaction.
//
// Accounting identity: AvailableBalance + PendingBalance + DisbursedTotal
// == TotalEarnings once all postings have settled.
type ReferrerProfile struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`

	AvailableBalance int64 `gorm:"not null;default:0" json:"available_balance"`
	PendingBalance   int64 `gorm:"not null;default:0" json:"pending_balance"`
	TotalEarnings    int64 `gorm:"not null;default:0" json:"total_earnings"`
	NetworkEarnings  int64 `gorm:"not null;default:0" json:"network_earnings"`
	DisbursedTotal   int64 `gorm:"not null;default:0" json:"disbursed_total"`

	DirectReferrals int `gorm:"not null;default:0" json:"direct_referrals"`

	// Payout destination for commission disbursements.
	PayoutProvider PaymentProvider `gorm:"type:varchar(30);default:'kbzpay'" json:"payout_provider"`
	PayoutMSISDN   string          `gorm:"type:varchar(20)" json:"payout_msisdn"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *ReferrerProfile) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return
}

// GenerateInviteCode generates a random alphanumeric invite code.
// Ambiguous characters (0/O, 1/I/L) are excluded.
func GenerateInviteCode() string {
	const letters = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	b := make([]byte, 8)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}
