package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trm-platform/trm-backend/internal/models"
)

type CompanyHandler struct {
	DB *gorm.DB
}

func NewCompanyHandler(db *gorm.DB) *CompanyHandler {
	return &CompanyHandler{DB: db}
}

type CompanyProfileRequest struct {
	Name     string `json:"name"`
	Industry string `json:"industry"`
}

// UpsertProfile creates or updates the company profile of the authenticated
// company user. One company per account, keyed on owner_id.
func (h *CompanyHandler) UpsertProfile(c *fiber.Ctx) error {
	userID := c.Locals("userId")
	if userID == nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}
	uid, err := uuid.Parse(userID.(string))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid user ID"})
	}

	var req CompanyProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid request body"})
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Company name is required"})
	}

	var company models.Company
	err = h.DB.First(&company, "owner_id = ?", uid).Error
	switch {
	case err == nil:
		company.Name = name
		company.Industry = strings.TrimSpace(req.Industry)
		if err := h.DB.Save(&company).Error; err != nil {
			return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to update company"})
		}
		return c.JSON(fiber.Map{"success": true, "data": company})
	case err == gorm.ErrRecordNotFound:
		company = models.Company{
			OwnerID:  uid,
			Name:     name,
			Industry: strings.TrimSpace(req.Industry),
		}
		if err := h.DB.Create(&company).Error; err != nil {
			return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to create company"})
		}
		return c.Status(201).JSON(fiber.Map{"success": true, "data": company})
	default:
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Server error"})
	}
}

// MyProfile returns the authenticated company user's profile.
func (h *CompanyHandler) MyProfile(c *fiber.Ctx) error {
	userID := c.Locals("userId")
	if userID == nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	var company models.Company
	if err := h.DB.First(&company, "owner_id = ?", userID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "message": "Company profile not found"})
	}

	return c.JSON(fiber.Map{"success": true, "data": company})
}

// MyJobs lists the company's own postings, open and closed.
func (h *CompanyHandler) MyJobs(c *fiber.Ctx) error {
	userID := c.Locals("userId")
	if userID == nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	var company models.Company
	if err := h.DB.First(&company, "owner_id = ?", userID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "message": "Company profile not found"})
	}

	var jobs []models.Job
	if err := h.DB.
		Where("company_id = ?", company.ID).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch jobs"})
	}

	out := make([]JobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, toJobResponse(&jobs[i]))
	}
	return c.JSON(fiber.Map{"success": true, "data": out})
}
