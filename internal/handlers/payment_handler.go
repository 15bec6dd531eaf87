package handlers

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trm-platform/trm-backend/internal/models"
	"github.com/trm-platform/trm-backend/internal/services/ledger"
	"github.com/trm-platform/trm-backend/internal/services/notify"
	"github.com/trm-platform/trm-backend/internal/services/payment"
	"github.com/trm-platform/trm-backend/internal/services/reconcile"
)

type PaymentHandler struct {
	DB       *gorm.DB
	Ledger   *ledger.Service
	Gateway  *payment.Client
	Worker   *reconcile.Worker
	Notifier *notify.Notifier
}

func NewPaymentHandler(db *gorm.DB, led *ledger.Service, gateway *payment.Client, worker *reconcile.Worker, notifier *notify.Notifier) *PaymentHandler {
	return &PaymentHandler{DB: db, Ledger: led, Gateway: gateway, Worker: worker, Notifier: notifier}
}

type providerCallback struct {
	Reference   string `json:"reference"`
	MerchantRef string `json:"merchant_ref"`
	Status      string `json:"status"`
	Fee         int64  `json:"fee"`
}

// Callback receives asynchronous settlement notifications from the payment
// aggregator. The signature covers the raw body; an invalid one gets a 403 so
// the gateway does not retry forged requests forever.
func (h *PaymentHandler) Callback(c *fiber.Ctx) error {
	rawBody := c.Body()

	incomingSig := c.Get("X-Callback-Signature")
	if incomingSig == "" || !h.Gateway.ValidateSignature(incomingSig, string(rawBody)) {
		log.Println("payment callback rejected: bad signature")
		return c.Status(403).JSON(fiber.Map{"success": false, "message": "Invalid signature"})
	}

	var cb providerCallback
	if err := json.Unmarshal(rawBody, &cb); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid payload"})
	}
	if cb.MerchantRef == "" && cb.Reference == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Missing transaction reference"})
	}

	// The merchant ref is our transaction number; fall back to the provider
	// reference for callbacks that omit it.
	var trx models.PaymentTransaction
	q := h.DB
	if cb.MerchantRef != "" {
		q = q.Where("transaction_number = ?", cb.MerchantRef)
	} else {
		q = q.Where("provider_reference = ?", cb.Reference)
	}
	if err := q.First(&trx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"success": false, "error": "UnknownTransaction", "message": "Transaction not found"})
		}
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Server error"})
	}

	changed, err := h.Ledger.RecordProviderResult(h.DB, trx.ID, cb.Status, cb.Reference, cb.Fee, rawBody)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrUnknownTransaction):
			return c.Status(404).JSON(fiber.Map{"success": false, "error": "UnknownTransaction", "message": "Transaction not found"})
		case errors.Is(err, ledger.ErrConflictingStatus):
			log.Printf("ALERT conflicting callback on %s: provider says %s over settled %s",
				trx.TransactionNumber, cb.Status, trx.Status)
			return c.Status(409).JSON(fiber.Map{"success": false, "error": "ConflictingStatus", "message": "Status conflicts with settled transaction"})
		default:
			log.Printf("Error recording callback for %s: %v", trx.TransactionNumber, err)
			return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to record result"})
		}
	}

	if changed && trx.RecipientID != nil {
		var fresh models.PaymentTransaction
		if err := h.DB.First(&fresh, "id = ?", trx.ID).Error; err == nil {
			h.Notifier.PaymentStatusChanged(*trx.RecipientID, notify.StatusEvent{
				Type:      "payment_status",
				PaymentID: fresh.ID.String(),
				Status:    string(fresh.Status),
			})
		}
	}

	return c.JSON(fiber.Map{"success": true, "message": "Callback processed"})
}

type PaymentResponse struct {
	ID                string `json:"id"`
	TransactionNumber string `json:"transaction_number"`
	Provider          string `json:"provider"`
	Type              string `json:"type"`
	Amount            int64  `json:"amount"`
	Fees              int64  `json:"fees"`
	NetAmount         int64  `json:"net_amount"`
	Status            string `json:"status"`
	ProviderReference string `json:"provider_reference,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`
	PaidAt            string `json:"paid_at,omitempty"`
	ReversedAt        string `json:"reversed_at,omitempty"`
	CreatedAt         string `json:"created_at"`
}

func toPaymentResponse(trx *models.PaymentTransaction) PaymentResponse {
	resp := PaymentResponse{
		ID:                trx.ID.String(),
		TransactionNumber: trx.TransactionNumber,
		Provider:          string(trx.Provider),
		Type:              string(trx.Type),
		Amount:            trx.Amount,
		Fees:              trx.Fees,
		NetAmount:         trx.NetAmount,
		Status:            string(trx.Status),
		ProviderReference: trx.ProviderReference,
		FailureReason:     trx.FailureReason,
		CreatedAt:         trx.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	if trx.PaidAt != nil {
		resp.PaidAt = trx.PaidAt.Format("2006-01-02 15:04:05")
	}
	if trx.ReversedAt != nil {
		resp.ReversedAt = trx.ReversedAt.Format("2006-01-02 15:04:05")
	}
	return resp
}

// GetOne returns a single ledger row. Recipients see their own payouts,
// admins see everything.
func (h *PaymentHandler) GetOne(c *fiber.Ctx) error {
	userID := c.Locals("userId")
	role, _ := c.Locals("role").(string)
	if userID == nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}
	uid, err := uuid.Parse(userID.(string))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid user ID"})
	}

	txnID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid transaction ID"})
	}

	var trx models.PaymentTransaction
	if err := h.DB.First(&trx, "id = ?", txnID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "error": "UnknownTransaction", "message": "Transaction not found"})
	}

	if role != string(models.RoleAdmin) {
		if trx.RecipientID == nil || *trx.RecipientID != uid {
			return c.Status(403).JSON(fiber.Map{"success": false, "message": "Access denied"})
		}
	}

	return c.JSON(fiber.Map{"success": true, "data": toPaymentResponse(&trx)})
}

// AdminList returns the ledger with optional status/type filters.
func (h *PaymentHandler) AdminList(c *fiber.Ctx) error {
	q := h.DB.Order("created_at DESC").Limit(200)
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	if typ := c.Query("type"); typ != "" {
		q = q.Where("type = ?", typ)
	}

	var txns []models.PaymentTransaction
	if err := q.Find(&txns).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch transactions"})
	}

	out := make([]PaymentResponse, 0, len(txns))
	for i := range txns {
		out = append(out, toPaymentResponse(&txns[i]))
	}
	return c.JSON(fiber.Map{"success": true, "data": out})
}

// AdminReconcile triggers one reconciliation batch on demand and returns the
// report. The same code path the background worker runs.
func (h *PaymentHandler) AdminReconcile(c *fiber.Ctx) error {
	report, err := h.Worker.RunOnce()
	if err != nil {
		log.Printf("Error running reconciliation batch: %v", err)
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Reconciliation batch failed"})
	}
	return c.JSON(fiber.Map{"success": true, "data": report})
}

type reverseRequest struct {
	Reason string `json:"reason"`
}

// AdminReverse reverses a completed payout, e.g. after a provider chargeback.
func (h *PaymentHandler) AdminReverse(c *fiber.Ctx) error {
	txnID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid transaction ID"})
	}

	var req reverseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid request body"})
	}
	if req.Reason == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Reason is required"})
	}

	if err := h.Ledger.MarkReversed(h.DB, txnID, req.Reason); err != nil {
		switch {
		case errors.Is(err, ledger.ErrUnknownTransaction):
			return c.Status(404).JSON(fiber.Map{"success": false, "error": "UnknownTransaction", "message": "Transaction not found"})
		case errors.Is(err, ledger.ErrNotReversible):
			return c.Status(400).JSON(fiber.Map{"success": false, "error": "NotReversible", "message": "Only completed transactions can be reversed"})
		default:
			log.Printf("Error reversing transaction %s: %v", txnID, err)
			return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to reverse transaction"})
		}
	}

	var trx models.PaymentTransaction
	if err := h.DB.First(&trx, "id = ?", txnID).Error; err == nil && trx.RecipientID != nil {
		h.Notifier.PaymentStatusChanged(*trx.RecipientID, notify.StatusEvent{
			Type:      "payment_status",
			PaymentID: trx.ID.String(),
			Status:    string(trx.Status),
			Note:      req.Reason,
		})
	}

	return c.JSON(fiber.Map{"success": true, "data": toPaymentResponse(&trx)})
}
