package coreapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(serverURL string) *Client {
	return &Client{
		APIKey:        "test-api-key",
		AppID:         "test-app-id",
		MerchantOrgID: "merchant-org-1",
		PartnerName:   "Test Partner",
		BaseURL:       serverURL,
		Sandbox:       true,
		HttpClient:    &http.Client{Timeout: 5 * time.Second},
		ProbeClient:   &http.Client{Timeout: 2 * time.Second},
	}
}

func TestCreateOrganization(t *testing.T) {
	var captured map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/organization", r.URL.Path)
		assert.Equal(t, "test-api-key", r.Header.Get("X-API-KEY"))
		assert.Equal(t, "test-app-id", r.Header.Get("X-APP-ID"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		err := json.NewDecoder(r.Body).Decode(&captured)
		assert.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"orgId":"org-123","userId":"user-9","bankLinkingUrl":"https://link.example/org-123"}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	doc, err := client.CreateOrganization(context.Background(), CustomerData{
		Email:     "jane@example.com",
		FirstName: "Jane",
		LastName:  "Doe",
		Phone:     "5551234567",
	})
	require.NoError(t, err)

	assert.Equal(t, "org-123", doc.OrgID())
	assert.Equal(t, "https://link.example/org-123", doc.BankLinkingURL())

	assert.Equal(t, "purchaser", captured["orgType"])
	assert.Equal(t, "ODFI210", captured["odfi_endpoint"])
	assert.Equal(t, "partner_app", captured["originationClient"])
	assert.Equal(t, "Test Partner", captured["partnerName"])
	assert.Equal(t, "merchant-org-1", captured["parentOrgId"])
	meta, ok := captured["user_metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "5551234567", meta["phone"])
}

func TestCreatePayTokenPayload(t *testing.T) {
	var captured map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/paytoken", r.URL.Path)
		err := json.NewDecoder(r.Body).Decode(&captured)
		assert.NoError(t, err)
		_, _ = w.Write([]byte(`{"_id":"tok-55"}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	doc, err := client.CreatePayToken(context.Background(), "org-123", BankData{
		BankName:      "Test Bank",
		AccountNumber: "000123456789",
		RoutingNumber: "011000015",
		AccountType:   "checking",
		UserID:        "user-9",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-55", doc.PayTokenID())

	assert.Equal(t, "org-123", captured["orgId"])
	assert.Equal(t, "Helox", captured["pay_type"])
	assert.Equal(t, "CHECKING", captured["accountType"])
	assert.Equal(t, "000123456789", captured["dda"])
	assert.Equal(t, "011000015", captured["routing"])
	assert.Equal(t, true, captured["yodlee"])
	balance, ok := captured["currentBalance"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "USD", balance["currency"])
}

func TestSalePayload(t *testing.T) {
	var captured map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/sale", r.URL.Path)
		err := json.NewDecoder(r.Body).Decode(&captured)
		assert.NoError(t, err)
		_, _ = w.Write([]byte(`{"transactionId":"txn-77","status":"Pending"}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	doc, err := client.Sale(context.Background(), SaleData{
		Amount:     42.50,
		OrgID:      "org-123",
		PayTokenID: "tok-55",
		Comment:    "Order 1001",
	})
	require.NoError(t, err)
	assert.Equal(t, "txn-77", doc.TransactionID())
	assert.Equal(t, "pending", doc.Status())

	assert.Equal(t, 42.50, captured["amount"])
	assert.Equal(t, "org-123", captured["orgId"])
	assert.Equal(t, "tok-55", captured["payTokenId"])
	assert.Equal(t, "merchant-org-1", captured["merchantOrgId"])
	assert.Equal(t, "partner_app", captured["service_origin"])
}

func TestLatestPayTokenNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/getlatestpaytoken/org-123", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no paytoken found"}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.LatestPayToken(context.Background(), "org-123")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestWithCredentialsDoesNotMutateOriginal(t *testing.T) {
	client := testClient("http://example.invalid")
	scoped := client.WithCredentials("purchaser-key", "purchaser-app")

	assert.Equal(t, "purchaser-key", scoped.APIKey)
	assert.Equal(t, "purchaser-app", scoped.AppID)
	assert.Equal(t, "test-api-key", client.APIKey)
	assert.Equal(t, client.MerchantOrgID, scoped.MerchantOrgID)
	assert.Equal(t, client.BaseURL, scoped.BaseURL)
}

func TestErrorMessageExtraction(t *testing.T) {
	tests := []struct {
		name            string
		responseStatus  int
		responseBody    string
		expectedMessage string
	}{
		{
			name:            "error string wins",
			responseStatus:  http.StatusBadRequest,
			responseBody:    `{"error":"routing number is invalid","message":"should not be used"}`,
			expectedMessage: "routing number is invalid",
		},
		{
			name:            "nested error message",
			responseStatus:  http.StatusBadRequest,
			responseBody:    `{"error":{"message":"account is closed"}}`,
			expectedMessage: "account is closed",
		},
		{
			name:            "plain message field",
			responseStatus:  http.StatusBadRequest,
			responseBody:    `{"message":"amount exceeds limit"}`,
			expectedMessage: "amount exceeds limit",
		},
		{
			name:            "errorMessage field",
			responseStatus:  http.StatusBadRequest,
			responseBody:    `{"errorMessage":"duplicate request"}`,
			expectedMessage: "duplicate request",
		},
		{
			name:            "unauthorized fallback",
			responseStatus:  http.StatusUnauthorized,
			responseBody:    `{}`,
			expectedMessage: "Payment authorization failed. Please contact the store owner.",
		},
		{
			name:            "unparseable body falls back by status",
			responseStatus:  http.StatusBadGateway,
			responseBody:    `<html>down</html>`,
			expectedMessage: "The payment provider is temporarily unavailable.",
		},
		{
			name:            "maintenance window has its own wording",
			responseStatus:  http.StatusServiceUnavailable,
			responseBody:    `{}`,
			expectedMessage: "The payment provider is down for maintenance. Please try again shortly.",
		},
		{
			name:            "unknown status generic fallback",
			responseStatus:  http.StatusTeapot,
			responseBody:    ``,
			expectedMessage: "Payment could not be processed. Please try again.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.responseStatus)
				_, _ = w.Write([]byte(tt.responseBody))
			}))
			defer server.Close()

			client := testClient(server.URL)
			_, err := client.TransactionStatus(context.Background(), "txn-1")
			require.Error(t, err)

			apiErr, ok := err.(*APIError)
			require.True(t, ok)
			assert.Equal(t, tt.responseStatus, apiErr.StatusCode)
			assert.Equal(t, tt.expectedMessage, apiErr.Message)
		})
	}
}

func TestErrorClassification(t *testing.T) {
	emailTaken := &APIError{StatusCode: 400, Message: "This email already exists"}
	assert.True(t, IsEmailTaken(emailTaken))

	emailInUse := &APIError{StatusCode: 409, Message: "Email is in use by another account"}
	assert.True(t, IsEmailTaken(emailInUse))

	otherEmail := &APIError{StatusCode: 400, Message: "Email format is wrong"}
	assert.False(t, IsEmailTaken(otherEmail))

	headers := &APIError{StatusCode: 400, Message: "Invalid request headers"}
	assert.True(t, IsInvalidRequestHeaders(headers))
	assert.False(t, IsInvalidRequestHeaders(emailTaken))

	assert.False(t, IsEmailTaken(nil))
	assert.False(t, IsNotFound(nil))
}
