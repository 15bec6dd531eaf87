package payment

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trm-platform/trm-backend/internal/config"
	"github.com/trm-platform/trm-backend/internal/models"
)

// ErrProviderUnavailable means the gateway could not be reached or returned
// garbage. Callers must treat the transaction as still pending and leave the
// retry to the reconciliation worker.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// Client talks to the mobile-money aggregator that fronts KBZPay, WavePay
// and AYAPay behind a single disbursement API. Requests are signed with
// HMAC-SHA256 over merchant_code + merchant_ref + amount.
type Client struct {
	HTTP         *http.Client
	APIKey       string
	MerchantCode string
	SecretKey    string
	BaseURL      string
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		HTTP:         &http.Client{Timeout: 15 * time.Second},
		APIKey:       cfg.PaymentAPIKey,
		MerchantCode: cfg.PaymentMerchantCode,
		SecretKey:    cfg.PaymentSecretKey,
		BaseURL:      cfg.PaymentBaseURL,
	}
}

type DisburseParams struct {
	Provider        models.PaymentProvider
	MerchantRef     string // our transaction number
	Amount          int64
	RecipientName   string
	RecipientMSISDN string
	Description     string
}

type disburseRequest struct {
	Provider        string `json:"provider"`
	MerchantRef     string `json:"merchant_ref"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	RecipientName   string `json:"recipient_name"`
	RecipientMSISDN string `json:"recipient_msisdn"`
	Description     string `json:"description"`
	Signature       string `json:"signature"`
}

type DisburseResult struct {
	Reference   string `json:"reference"`
	MerchantRef string `json:"merchant_ref"`
	Status      string `json:"status"`
	Fee         int64  `json:"fee"`
}

type disburseResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    DisburseResult `json:"data"`
}

// Disburse submits a payout to the provider. The returned status is the
// provider's initial word ("PENDING" in practice), never taken as final:
// settlement is confirmed by callback or by the reconciliation worker.
func (c *Client) Disburse(p DisburseParams) (*DisburseResult, error) {
	sigData := fmt.Sprintf("%s%s%d", c.MerchantCode, p.MerchantRef, p.Amount)

	reqBody := disburseRequest{
		Provider:        string(p.Provider),
		MerchantRef:     p.MerchantRef,
		Amount:          p.Amount,
		Currency:        "MMK",
		RecipientName:   p.RecipientName,
		RecipientMSISDN: p.RecipientMSISDN,
		Description:     p.Description,
		Signature:       c.sign(sigData),
	}

	jsonBody, _ := json.Marshal(reqBody)

	req, err := http.NewRequest("POST", c.BaseURL+"/disbursement/create", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	var apiResp disburseResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrProviderUnavailable, err)
	}

	if !apiResp.Success {
		return nil, fmt.Errorf("gateway error: %s", apiResp.Message)
	}

	return &apiResp.Data, nil
}

type StatusResult struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Fee       int64  `json:"fee"`
}

type statusResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Data    StatusResult `json:"data"`
}

// QueryStatus re-polls the provider for the current state of a disbursement.
func (c *Client) QueryStatus(reference string) (*StatusResult, error) {
	req, err := http.NewRequest("GET", c.BaseURL+"/disbursement/status?reference="+reference, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	var apiResp statusResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrProviderUnavailable, err)
	}

	if !apiResp.Success {
		return nil, fmt.Errorf("gateway error: %s", apiResp.Message)
	}

	return &apiResp.Data, nil
}

func (c *Client) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.SecretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateSignature checks a callback signature:
// HMAC-SHA256(JSON body, secret key).
func (c *Client) ValidateSignature(incomingSig, jsonBody string) bool {
	h := hmac.New(sha256.New, []byte(c.SecretKey))
	h.Write([]byte(jsonBody))
	calculated := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(calculated), []byte(incomingSig))
}
