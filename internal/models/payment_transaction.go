package models

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PaymentProvider string

const (
	ProviderKBZPay       PaymentProvider = "kbzpay"
	ProviderWavePay      PaymentProvider = "wavepay"
	ProviderAYAPay       PaymentProvider = "ayapay"
	ProviderBankTransfer PaymentProvider = "bank_transfer"
)

type PaymentType string

const (
	PaymentTypeCommissionPayout   PaymentType = "commission_payout"
	PaymentTypeSuccessFee         PaymentType = "success_fee"
	PaymentTypePlatformCommission PaymentType = "platform_commission"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusReversed   PaymentStatus = "reversed"
)

// PaymentTransaction records one money movement and its settlement state.
// Rows are never deleted; corrections are expressed as a reversal.
type PaymentTransaction struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionNumber string    `gorm:"type:varchar(20);uniqueIndex;not null" json:"transaction_number"`
	OrderID           string    `gorm:"type:varchar(40);index" json:"order_id"`

	ReferralID  *uuid.UUID `gorm:"type:uuid;index" json:"referral_id,omitempty"`
	RecipientID *uuid.UUID `gorm:"type:uuid;index" json:"recipient_id,omitempty"`

	Provider PaymentProvider `gorm:"type:varchar(30);not null" json:"provider"`
	Type     PaymentType     `gorm:"type:varchar(30);not null" json:"type"`

	Amount    int64 `gorm:"not null" json:"amount"`
	Fees      int64 `gorm:"not null;default:0" json:"fees"`
	NetAmount int64 `gorm:"not null" json:"net_amount"` // Amount - Fees, always

	// Disbursement destination, copied from the recipient's payout settings
	// at posting time so the row is self-contained for dispatch.
	RecipientName   string `gorm:"type:varchar(160)" json:"recipient_name"`
	RecipientMSISDN string `gorm:"type:varchar(20)" json:"recipient_msisdn"`

	Status PaymentStatus `gorm:"type:varchar(20);default:'pending';index" json:"status"`

	ProviderReference string         `gorm:"type:varchar(64);index" json:"provider_reference"`
	ProviderPayload   datatypes.JSON `json:"provider_payload,omitempty"` // last raw callback/status body
	FailureReason     string         `gorm:"type:text" json:"failure_reason,omitempty"`

	LastCheckedAt *time.Time `gorm:"index" json:"last_checked_at,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	ReversedAt    *time.Time `json:"reversed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Referral  *Referral `gorm:"foreignKey:ReferralID" json:"-"`
	Recipient *User     `gorm:"foreignKey:RecipientID" json:"-"`
}

func (t *PaymentTransaction) BeforeCreate(tx *gorm.DB) (err error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return
}

// GenerateTransactionNumber generates a human-referenceable transaction
// number, e.g. TRM-K7M2PQ4X. Uniqueness is enforced by the DB index; the
// ledger retries on collision.
func GenerateTransactionNumber() string {
	const letters = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	b := make([]byte, 8)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return "TRM-" + string(b)
}
