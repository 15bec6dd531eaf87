package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/trm-platform/trm-backend/internal/models"
)

func testClient(baseURL string) *Client {
	return &Client{
		HTTP:         &http.Client{Timeout: 2 * time.Second},
		APIKey:       "test-api-key",
		MerchantCode: "TRM001",
		SecretKey:    "test-secret",
		BaseURL:      baseURL,
	}
}

func TestDisburse(t *testing.T) {
	var gotReq disburseRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/disbursement/create" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-api-key" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatal(err)
		}
		json.NewEncoder(w).Encode(disburseResponse{
			Success: true,
			Data: DisburseResult{
				Reference:   "PRV-123",
				MerchantRef: gotReq.MerchantRef,
				Status:      "PENDING",
			},
		})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	result, err := c.Disburse(DisburseParams{
		Provider:        models.ProviderKBZPay,
		MerchantRef:     "TRM-ABCD2345",
		Amount:          127500,
		RecipientName:   "Aung Aung",
		RecipientMSISDN: "09791234567",
	})
	if err != nil {
		t.Fatal(err)
	}

	if result.Reference != "PRV-123" {
		t.Errorf("Reference = %q, want PRV-123", result.Reference)
	}
	if gotReq.Currency != "MMK" {
		t.Errorf("Currency = %q, want MMK", gotReq.Currency)
	}
	if gotReq.Signature != c.sign("TRM001TRM-ABCD2345127500") {
		t.Errorf("request signature mismatch")
	}
}

func TestDisburseGatewayRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(disburseResponse{Success: false, Message: "insufficient merchant balance"})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Disburse(DisburseParams{
		Provider:    models.ProviderWavePay,
		MerchantRef: "TRM-ABCD2345",
		Amount:      1000,
	})
	if err == nil {
		t.Fatal("expected error on rejected disbursement")
	}
	if errors.Is(err, ErrProviderUnavailable) {
		t.Error("an explicit rejection is not an availability failure")
	}
}

func TestDisburseUnreachableProvider(t *testing.T) {
	c := testClient("http://127.0.0.1:1") // nothing listens here

	_, err := c.Disburse(DisburseParams{
		Provider:    models.ProviderKBZPay,
		MerchantRef: "TRM-ABCD2345",
		Amount:      1000,
	})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("error = %v, want ErrProviderUnavailable", err)
	}
}

func TestQueryStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/disbursement/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("reference") != "PRV-123" {
			t.Errorf("reference = %q", r.URL.Query().Get("reference"))
		}
		json.NewEncoder(w).Encode(statusResponse{
			Success: true,
			Data:    StatusResult{Reference: "PRV-123", Status: "SUCCESS", Fee: 500},
		})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	result, err := c.QueryStatus("PRV-123")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != "SUCCESS" || result.Fee != 500 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestQueryStatusGarbageResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway timeout</html>"))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.QueryStatus("PRV-123")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("error = %v, want ErrProviderUnavailable", err)
	}
}

func TestValidateSignature(t *testing.T) {
	c := testClient("http://unused")
	body := `{"reference":"PRV-123","status":"SUCCESS"}`
	valid := c.sign(body)

	if !c.ValidateSignature(valid, body) {
		t.Error("valid signature rejected")
	}
	if c.ValidateSignature(valid, body+" ") {
		t.Error("signature accepted for altered body")
	}
	if c.ValidateSignature("deadbeef", body) {
		t.Error("forged signature accepted")
	}
	if c.ValidateSignature("", body) {
		t.Error("empty signature accepted")
	}
}
