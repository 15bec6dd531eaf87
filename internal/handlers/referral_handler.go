package handlers

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trm-platform/trm-backend/internal/models"
	"github.com/trm-platform/trm-backend/internal/services/commission"
	"github.com/trm-platform/trm-backend/internal/services/referral"
	"github.com/trm-platform/trm-backend/internal/utils"
)

type ReferralHandler struct {
	DB             *gorm.DB
	Transitions    *referral.Service
	StatusTokenKey string
}

func NewReferralHandler(db *gorm.DB, transitions *referral.Service, statusTokenKey string) *ReferralHandler {
	return &ReferralHandler{DB: db, Transitions: transitions, StatusTokenKey: statusTokenKey}
}

type CreateReferralRequest struct {
	JobID           string `json:"job_id"`
	CandidateName   string `json:"candidate_name"`
	CandidateEmail  string `json:"candidate_email"`
	CandidatePhone  string `json:"candidate_phone"`
	ExperienceYears int    `json:"experience_years"`
}

type StatusChangeResponse struct {
	Status    string    `json:"status"`
	ChangedBy string    `json:"changed_by"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ReferralResponse struct {
	ID              string `json:"id"`
	ReferrerID      string `json:"referrer_id"`
	JobID           string `json:"job_id"`
	JobTitle        string `json:"job_title,omitempty"`
	CandidateName   string `json:"candidate_name"`
	CandidateEmail  string `json:"candidate_email,omitempty"`
	CandidatePhone  string `json:"candidate_phone,omitempty"`
	ExperienceYears int    `json:"experience_years"`
	Status          string `json:"status"`
	EarningsPosted  bool   `json:"earnings_posted"`

	CreatedAt time.Time              `json:"created_at"`
	History   []StatusChangeResponse `json:"history,omitempty"`
}

func toReferralResponse(ref *models.Referral) ReferralResponse {
	resp := ReferralResponse{
		ID:              ref.ID.String(),
		ReferrerID:      ref.ReferrerID.String(),
		JobID:           ref.JobID.String(),
		CandidateName:   ref.CandidateName,
		CandidateEmail:  ref.CandidateEmail,
		CandidatePhone:  ref.CandidatePhone,
		ExperienceYears: ref.ExperienceYears,
		Status:          string(ref.Status),
		EarningsPosted:  ref.EarningsPosted,
		CreatedAt:       ref.CreatedAt,
	}
	if ref.Job != nil {
		resp.JobTitle = ref.Job.Title
	}
	for _, h := range ref.History {
		resp.History = append(resp.History, StatusChangeResponse{
			Status:    string(h.Status),
			ChangedBy: h.ChangedBy.String(),
			Note:      h.Note,
			CreatedAt: h.CreatedAt,
		})
	}
	return resp
}

// CreateReferral submits a candidate for a job. The initial history entry is
// written here; every later status change goes through the transition engine.
func (h *ReferralHandler) CreateReferral(c *fiber.Ctx) error {
	userID := c.Locals("userId")
	if userID == nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}
	referrerID, err := uuid.Parse(userID.(string))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid user ID"})
	}

	var req CreateReferralRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid request body"})
	}

	errs := FieldErrors{}
	if strings.TrimSpace(req.CandidateName) == "" {
		errs.Add("candidate_name", "Candidate name is required")
	}
	if req.CandidateEmail == "" && req.CandidatePhone == "" {
		errs.Add("candidate_email", "Candidate email or phone is required")
	}
	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		errs.Add("job_id", "Invalid job ID")
	}
	if len(errs) > 0 {
		return validationFail(c, errs)
	}

	var job models.Job
	if err := h.DB.First(&job, "id = ?", jobID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "message": "Job not found"})
	}
	if job.Status != models.JobStatusOpen {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Job is no longer open for referrals"})
	}

	ref := models.Referral{
		ReferrerID:      referrerID,
		JobID:           job.ID,
		CandidateName:   strings.TrimSpace(req.CandidateName),
		CandidateEmail:  strings.ToLower(strings.TrimSpace(req.CandidateEmail)),
		CandidatePhone:  strings.TrimSpace(req.CandidatePhone),
		ExperienceYears: req.ExperienceYears,
		Status:          models.ReferralStatusSubmitted,
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&ref).Error; err != nil {
			return err
		}
		change := models.ReferralStatusChange{
			ReferralID: ref.ID,
			Status:     models.ReferralStatusSubmitted,
			ChangedBy:  referrerID,
		}
		return tx.Create(&change).Error
	})
	if err != nil {
		log.Println("Error creating referral:", err)
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to create referral"})
	}

	// token the candidate can use to track their own status, no login needed
	trackToken := ""
	if h.StatusTokenKey != "" {
		if t, err := utils.EncodeStatusToken(ref.ID, h.StatusTokenKey); err == nil {
			trackToken = t
		} else {
			log.Printf("status token encode failed: %v", err)
		}
	}

	return c.Status(201).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"referral":    toReferralResponse(&ref),
			"track_token": trackToken,
		},
	})
}

// ListMine returns the authenticated referrer's referrals.
func (h *ReferralHandler) ListMine(c *fiber.Ctx) error {
	userID := c.Locals("userId")
	if userID == nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}
	referrerID, err := uuid.Parse(userID.(string))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid user ID"})
	}

	var refs []models.Referral
	if err := h.DB.
		Preload("Job").
		Where("referrer_id = ?", referrerID).
		Order("created_at DESC").
		Find(&refs).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch referrals"})
	}

	out := make([]ReferralResponse, 0, len(refs))
	for i := range refs {
		out = append(out, toReferralResponse(&refs[i]))
	}
	return c.JSON(fiber.Map{"success": true, "data": out})
}

// CompanyInbox returns referrals submitted against the company's jobs.
func (h *ReferralHandler) CompanyInbox(c *fiber.Ctx) error {
	userID := c.Locals("userId")
	if userID == nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}
	uid, err := uuid.Parse(userID.(string))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid user ID"})
	}

	var company models.Company
	if err := h.DB.First(&company, "owner_id = ?", uid).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "message": "Company profile not found"})
	}

	var refs []models.Referral
	if err := h.DB.
		Preload("Job").
		Joins("JOIN jobs ON jobs.id = referrals.job_id").
		Where("jobs.company_id = ?", company.ID).
		Order("referrals.created_at DESC").
		Find(&refs).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch referrals"})
	}

	out := make([]ReferralResponse, 0, len(refs))
	for i := range refs {
		out = append(out, toReferralResponse(&refs[i]))
	}
	return c.JSON(fiber.Map{"success": true, "data": out})
}

// GetOne returns a referral with its full status history. Visible to the
// owning referrer, the hiring company's owner, and admins.
func (h *ReferralHandler) GetOne(c *fiber.Ctx) error {
	userID := c.Locals("userId")
	role, _ := c.Locals("role").(string)
	if userID == nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}
	uid, err := uuid.Parse(userID.(string))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid user ID"})
	}

	refID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid referral ID"})
	}

	var ref models.Referral
	if err := h.DB.
		Preload("Job").
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&ref, "id = ?", refID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "message": "Referral not found"})
	}

	if role != string(models.RoleAdmin) && ref.ReferrerID != uid {
		var company models.Company
		ownerOK := h.DB.First(&company, "owner_id = ?", uid).Error == nil &&
			ref.Job != nil && ref.Job.CompanyID == company.ID
		if !ownerOK {
			return c.Status(403).JSON(fiber.Map{"success": false, "message": "Access denied"})
		}
	}

	return c.JSON(fiber.Map{"success": true, "data": toReferralResponse(&ref)})
}

type UpdateReferralStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// UpdateStatus applies one transition through the engine and maps its error
// taxonomy onto HTTP codes.
func (h *ReferralHandler) UpdateStatus(c *fiber.Ctx) error {
	userID := c.Locals("userId")
	role, _ := c.Locals("role").(string)
	if userID == nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}
	uid, err := uuid.Parse(userID.(string))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid user ID"})
	}

	refID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid referral ID"})
	}

	var req UpdateReferralStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid request body"})
	}

	actor := referral.Actor{UserID: uid, Role: models.Role(role)}
	ref, err := h.Transitions.ApplyTransition(refID, models.ReferralStatus(req.Status), actor, req.Note)
	if err != nil {
		switch {
		case errors.Is(err, referral.ErrNotFound):
			return c.Status(404).JSON(fiber.Map{"success": false, "error": "NotFound", "message": "Referral not found"})
		case errors.Is(err, referral.ErrForbidden):
			return c.Status(403).JSON(fiber.Map{"success": false, "error": "Forbidden", "message": "You may not set this status"})
		case errors.Is(err, referral.ErrInvalidTransition):
			return c.Status(400).JSON(fiber.Map{"success": false, "error": "InvalidTransition", "message": "Cannot move this referral to " + req.Status})
		case errors.Is(err, commission.ErrDoubleSettlement):
			log.Printf("ALERT double settlement attempt on referral %s by %s", refID, uid)
			return c.Status(409).JSON(fiber.Map{"success": false, "error": "DoubleSettlement", "message": "Earnings were already posted for this referral"})
		default:
			log.Printf("Error applying transition on %s: %v", refID, err)
			return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to update status"})
		}
	}

	return c.JSON(fiber.Map{"success": true, "data": toReferralResponse(ref)})
}

// Track is the public candidate-facing status lookup by signed token. Only
// the status is disclosed, nothing about the referrer or the bonus.
func (h *ReferralHandler) Track(c *fiber.Ctx) error {
	if h.StatusTokenKey == "" {
		return c.Status(404).JSON(fiber.Map{"success": false, "message": "Tracking is not enabled"})
	}

	refID, err := utils.DecodeStatusToken(c.Params("token"), h.StatusTokenKey)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid tracking token"})
	}

	var ref models.Referral
	if err := h.DB.Preload("Job").First(&ref, "id = ?", refID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "message": "Referral not found"})
	}

	jobTitle := ""
	if ref.Job != nil {
		jobTitle = ref.Job.Title
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"candidate_name": ref.CandidateName,
			"job_title":      jobTitle,
			"status":         ref.Status,
			"updated_at":     ref.UpdatedAt,
		},
	})
}
