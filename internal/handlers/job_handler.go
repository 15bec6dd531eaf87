package handlers

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/trm-platform/trm-backend/internal/models"
)

// Open-job listings are hot and read-only, so they are cached in Redis with
// a short TTL. Financial data is never cached — the DB stays the single
// source of truth for balances.
const (
	jobListCacheKey = "trm:jobs:open"
	jobCacheTTL     = 60 * time.Second
)

type JobHandler struct {
	DB  *gorm.DB
	RDB *redis.Client
}

func NewJobHandler(db *gorm.DB, rdb *redis.Client) *JobHandler {
	return &JobHandler{DB: db, RDB: rdb}
}

type CreateJobRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Location    string `json:"location"`
	BonusAmount int64  `json:"bonus_amount"`
}

type JobResponse struct {
	ID            string `json:"id"`
	CompanyID     string `json:"company_id"`
	CompanyName   string `json:"company_name,omitempty"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	Location      string `json:"location"`
	BonusAmount   int64  `json:"bonus_amount"`
	BonusCurrency string `json:"bonus_currency"`
	Status        string `json:"status"`
}

func toJobResponse(job *models.Job) JobResponse {
	resp := JobResponse{
		ID:            job.ID.String(),
		CompanyID:     job.CompanyID.String(),
		Title:         job.Title,
		Description:   job.Description,
		Category:      job.Category,
		Location:      job.Location,
		BonusAmount:   job.BonusAmount,
		BonusCurrency: job.BonusCurrency,
		Status:        string(job.Status),
	}
	if job.Company != nil {
		resp.CompanyName = job.Company.Name
	}
	return resp
}

// companyFor loads the company owned by the authenticated user.
func (h *JobHandler) companyFor(c *fiber.Ctx) (*models.Company, error) {
	userID := c.Locals("userId")
	if userID == nil {
		return nil, fiber.ErrUnauthorized
	}
	uid, err := uuid.Parse(userID.(string))
	if err != nil {
		return nil, fiber.NewError(400, "Invalid user ID")
	}

	var company models.Company
	if err := h.DB.First(&company, "owner_id = ?", uid).Error; err != nil {
		return nil, fiber.NewError(404, "Company profile not found")
	}
	return &company, nil
}

func (h *JobHandler) CreateJob(c *fiber.Ctx) error {
	company, err := h.companyFor(c)
	if err != nil {
		if e, ok := err.(*fiber.Error); ok {
			return c.Status(e.Code).JSON(fiber.Map{"success": false, "message": e.Message})
		}
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Server error"})
	}

	var req CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid request body"})
	}

	if req.Title == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Title is required"})
	}
	if req.BonusAmount <= 0 {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Referral bonus must be positive"})
	}

	job := models.Job{
		CompanyID:     company.ID,
		Title:         req.Title,
		Description:   req.Description,
		Category:      req.Category,
		Location:      req.Location,
		BonusAmount:   req.BonusAmount,
		BonusCurrency: "MMK",
		Status:        models.JobStatusOpen,
	}

	if err := h.DB.Create(&job).Error; err != nil {
		log.Println("Error creating job:", err)
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to create job"})
	}

	h.invalidateListCache(c.Context())

	return c.Status(201).JSON(fiber.Map{"success": true, "data": toJobResponse(&job)})
}

// ListPublic returns open jobs, served from the Redis cache when possible.
func (h *JobHandler) ListPublic(c *fiber.Ctx) error {
	category := c.Query("category")

	// only the unfiltered listing is cached
	if category == "" && h.RDB != nil {
		if cached, err := h.RDB.Get(c.Context(), jobListCacheKey).Result(); err == nil {
			var out []JobResponse
			if json.Unmarshal([]byte(cached), &out) == nil {
				return c.JSON(fiber.Map{"success": true, "data": out, "cached": true})
			}
		}
	}

	q := h.DB.Preload("Company").Where("status = ?", models.JobStatusOpen)
	if category != "" {
		q = q.Where("category = ?", category)
	}

	var jobs []models.Job
	if err := q.Order("created_at DESC").Find(&jobs).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch jobs"})
	}

	out := make([]JobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, toJobResponse(&jobs[i]))
	}

	if category == "" && h.RDB != nil {
		if payload, err := json.Marshal(out); err == nil {
			if err := h.RDB.Set(c.Context(), jobListCacheKey, payload, jobCacheTTL).Err(); err != nil {
				log.Printf("job cache set failed: %v", err)
			}
		}
	}

	return c.JSON(fiber.Map{"success": true, "data": out})
}

func (h *JobHandler) GetDetail(c *fiber.Ctx) error {
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid job ID"})
	}

	var job models.Job
	if err := h.DB.Preload("Company").First(&job, "id = ?", jobID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "message": "Job not found"})
	}

	return c.JSON(fiber.Map{"success": true, "data": toJobResponse(&job)})
}

// GetCategories lists the distinct categories of open jobs.
func (h *JobHandler) GetCategories(c *fiber.Ctx) error {
	var categories []string

	err := h.DB.
		Table("jobs").
		Where("status = ?", models.JobStatusOpen).
		Distinct("category").
		Pluck("category", &categories).
		Error

	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch categories",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    categories,
	})
}

func (h *JobHandler) CloseJob(c *fiber.Ctx) error {
	company, err := h.companyFor(c)
	if err != nil {
		if e, ok := err.(*fiber.Error); ok {
			return c.Status(e.Code).JSON(fiber.Map{"success": false, "message": e.Message})
		}
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Server error"})
	}

	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid job ID"})
	}

	var job models.Job
	if err := h.DB.First(&job, "id = ?", jobID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "message": "Job not found"})
	}

	if job.CompanyID != company.ID {
		return c.Status(403).JSON(fiber.Map{"success": false, "message": "Access denied"})
	}

	job.Status = models.JobStatusClosed
	if err := h.DB.Save(&job).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to close job"})
	}

	h.invalidateListCache(c.Context())

	return c.JSON(fiber.Map{"success": true, "data": toJobResponse(&job)})
}

func (h *JobHandler) invalidateListCache(ctx context.Context) {
	if h.RDB == nil {
		return
	}
	if err := h.RDB.Del(ctx, jobListCacheKey).Err(); err != nil {
		log.Printf("job cache invalidate failed: %v", err)
	}
}
