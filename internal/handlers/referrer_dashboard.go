package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trm-platform/trm-backend/internal/models"
)

type ReferrerDashboardHandler struct {
	DB *gorm.DB
}

func NewReferrerDashboardHandler(db *gorm.DB) *ReferrerDashboardHandler {
	return &ReferrerDashboardHandler{DB: db}
}

func (h *ReferrerDashboardHandler) profileFor(c *fiber.Ctx) (*models.ReferrerProfile, uuid.UUID, error) {
	userID := c.Locals("userId")
	if userID == nil {
		return nil, uuid.Nil, fiber.ErrUnauthorized
	}
	uid, err := uuid.Parse(userID.(string))
	if err != nil {
		return nil, uuid.Nil, fiber.NewError(400, "Invalid user ID")
	}

	var profile models.ReferrerProfile
	if err := h.DB.First(&profile, "user_id = ?", uid).Error; err != nil {
		return nil, uuid.Nil, fiber.NewError(404, "Referrer profile not found")
	}
	return &profile, uid, nil
}

func dashboardFail(c *fiber.Ctx, err error) error {
	if e, ok := err.(*fiber.Error); ok {
		return c.Status(e.Code).JSON(fiber.Map{"success": false, "message": e.Message})
	}
	return c.Status(500).JSON(fiber.Map{"success": false, "message": "Server error"})
}

// Earnings returns the referrer's balances and their most recent payouts.
// available + pending + disbursed always equals total earnings.
func (h *ReferrerDashboardHandler) Earnings(c *fiber.Ctx) error {
	profile, uid, err := h.profileFor(c)
	if err != nil {
		return dashboardFail(c, err)
	}

	var txns []models.PaymentTransaction
	if err := h.DB.
		Where("recipient_id = ? AND type = ?", uid, models.PaymentTypeCommissionPayout).
		Order("created_at DESC").
		Limit(20).
		Find(&txns).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch transactions"})
	}

	recent := make([]PaymentResponse, 0, len(txns))
	for i := range txns {
		recent = append(recent, toPaymentResponse(&txns[i]))
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"available_balance": profile.AvailableBalance,
			"pending_balance":   profile.PendingBalance,
			"disbursed_total":   profile.DisbursedTotal,
			"total_earnings":    profile.TotalEarnings,
			"network_earnings":  profile.NetworkEarnings,
			"direct_referrals":  profile.DirectReferrals,
			"payout_provider":   profile.PayoutProvider,
			"payout_msisdn":     profile.PayoutMSISDN,
			"recent_payouts":    recent,
		},
	})
}

// Network lists the referrers this user invited, with per-invitee hire counts.
func (h *ReferrerDashboardHandler) Network(c *fiber.Ctx) error {
	profile, uid, err := h.profileFor(c)
	if err != nil {
		return dashboardFail(c, err)
	}

	var invitees []models.User
	if err := h.DB.
		Where("referred_by_id = ?", uid).
		Order("created_at ASC").
		Find(&invitees).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch network"})
	}

	type inviteeView struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		JoinedAt string `json:"joined_at"`
		Hires    int64  `json:"hires"`
	}

	out := make([]inviteeView, 0, len(invitees))
	for i := range invitees {
		inv := invitees[i]
		var hires int64
		h.DB.Model(&models.Referral{}).
			Where("referrer_id = ? AND status = ?", inv.ID, models.ReferralStatusHired).
			Count(&hires)
		out = append(out, inviteeView{
			ID:       inv.ID.String(),
			Name:     inv.Name,
			JoinedAt: inv.CreatedAt.Format("2006-01-02"),
			Hires:    hires,
		})
	}

	var me models.User
	inviteCode := ""
	if h.DB.First(&me, "id = ?", uid).Error == nil {
		inviteCode = me.InviteCode
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"invite_code":      inviteCode,
			"network_earnings": profile.NetworkEarnings,
			"invitees":         out,
		},
	})
}

type PayoutSettingsRequest struct {
	Provider string `json:"provider"`
	MSISDN   string `json:"msisdn"`
}

// UpdatePayoutSettings stores the wallet future payouts are sent to. Rows
// already in the ledger keep the destination they were created with.
func (h *ReferrerDashboardHandler) UpdatePayoutSettings(c *fiber.Ctx) error {
	profile, _, err := h.profileFor(c)
	if err != nil {
		return dashboardFail(c, err)
	}

	var req PayoutSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid request body"})
	}

	switch models.PaymentProvider(req.Provider) {
	case models.ProviderKBZPay, models.ProviderWavePay, models.ProviderAYAPay, models.ProviderBankTransfer:
	default:
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Unknown payout provider"})
	}
	if len(req.MSISDN) < 8 {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid phone number"})
	}

	profile.PayoutProvider = models.PaymentProvider(req.Provider)
	profile.PayoutMSISDN = req.MSISDN
	if err := h.DB.Save(profile).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to save payout settings"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Payout settings updated",
		"data": fiber.Map{
			"payout_provider": profile.PayoutProvider,
			"payout_msisdn":   profile.PayoutMSISDN,
		},
	})
}
