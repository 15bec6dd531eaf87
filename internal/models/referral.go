package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ReferralStatus string

const (
	ReferralStatusSubmitted          ReferralStatus = "submitted"
	ReferralStatusUnderReview        ReferralStatus = "under_review"
	ReferralStatusInterviewScheduled ReferralStatus = "interview_scheduled"
	ReferralStatusInterviewCompleted ReferralStatus = "interview_completed"
	ReferralStatusOfferExtended      ReferralStatus = "offer_extended"
	ReferralStatusHired              ReferralStatus = "hired"
	ReferralStatusRejected           ReferralStatus = "rejected"
	ReferralStatusWithdrawn          ReferralStatus = "withdrawn"
)

// Referral is a candidate submission tied to a job and a referring user.
// It is never hard-deleted; withdrawal is a terminal status. Status moves
// only through the transition engine.
type Referral struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ReferrerID uuid.UUID `gorm:"type:uuid;index;not null" json:"referrer_id"`
	JobID      uuid.UUID `gorm:"type:uuid;index;not null" json:"job_id"`

	CandidateName   string `gorm:"type:varchar(160);not null" json:"candidate_name"`
	CandidateEmail  string `gorm:"type:varchar(150)" json:"candidate_email"`
	CandidatePhone  string `gorm:"type:varchar(30)" json:"candidate_phone"`
	ExperienceYears int    `gorm:"default:0" json:"experience_years"`

	Status ReferralStatus `gorm:"type:varchar(30);default:'submitted';index" json:"status"`

	// Set true exactly once, when commission is posted on hire. Guards the
	// calculator against double posting on retries.
	EarningsPosted bool `gorm:"not null;default:false" json:"earnings_posted"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Referrer *User                  `gorm:"foreignKey:ReferrerID" json:"referrer,omitempty"`
	Job      *Job                   `gorm:"foreignKey:JobID" json:"job,omitempty"`
	History  []ReferralStatusChange `gorm:"foreignKey:ReferralID" json:"history,omitempty"`
}

func (r *Referral) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return
}

// ReferralStatusChange is one entry in a referral's append-only status log.
// Rows are only ever inserted, never updated.
type ReferralStatusChange struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ReferralID uuid.UUID      `gorm:"type:uuid;index;not null" json:"referral_id"`
	Status     ReferralStatus `gorm:"type:varchar(30);not null" json:"status"`
	ChangedBy  uuid.UUID      `gorm:"type:uuid;not null" json:"changed_by"`
	Note       string         `gorm:"type:text" json:"note"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (c *ReferralStatusChange) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return
}
