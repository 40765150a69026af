package coreapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antinvestor/monarch-ach/config"
)

const (
	odfiEndpoint      = "ODFI210"
	orgTypePurchaser  = "purchaser"
	originationClient = "partner_app"
	payType           = "Helox"
)

// CustomerData is what we know about a shopper when creating their
// purchaser organization with the provider.
type CustomerData struct {
	Email       string
	FirstName   string
	LastName    string
	Phone       string
	CompanyName string
	DOB         string
	Address1    string
	Address2    string
	City        string
	State       string
	Zip         string
	Country     string
}

// BankData carries manually entered bank account details.
type BankData struct {
	BankName          string
	AccountNumber     string
	RoutingNumber     string
	AccountType       string
	AccountID         string
	ProviderAccountID string
	UserID            string
}

// SaleData describes a payment to originate.
type SaleData struct {
	Amount     float64
	OrgID      string
	PayTokenID string
	Comment    string
}

// Client talks to the Monarch API. The zero value is not usable; build one
// with NewClient.
type Client struct {
	APIKey        string
	AppID         string
	MerchantOrgID string
	PartnerName   string
	BaseURL       string
	Sandbox       bool

	HttpClient  *http.Client
	ProbeClient *http.Client
}

func NewClient(cfg *config.MonarchConfig) *Client {
	return &Client{
		APIKey:        cfg.ActiveAPIKey(),
		AppID:         cfg.ActiveAppID(),
		MerchantOrgID: cfg.ActiveMerchantOrgID(),
		PartnerName:   cfg.PartnerName,
		BaseURL:       cfg.BaseURL(),
		Sandbox:       cfg.Sandbox,
		HttpClient:    &http.Client{Timeout: 30 * time.Second},
		ProbeClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

// WithCredentials returns a copy of the client that authenticates with the
// given org-scoped credentials. The merchant-level settings carry over.
func (c *Client) WithCredentials(apiKey, appID string) *Client {
	scoped := *c
	scoped.APIKey = apiKey
	scoped.AppID = appID
	return &scoped
}

func (c *Client) request(ctx context.Context, httpClient *http.Client, method, path string, payload any) (Document, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", c.APIKey)
	req.Header.Set("X-APP-ID", c.AppID)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, respBody)
	}

	var doc Document
	if len(respBody) > 0 {
		if err = json.Unmarshal(respBody, &doc); err != nil {
			return nil, fmt.Errorf("monarch: decoding %s %s response: %w", method, path, err)
		}
	}
	return doc, nil
}

// CreateOrganization registers a purchaser organization under the merchant.
func (c *Client) CreateOrganization(ctx context.Context, customer CustomerData) (Document, error) {
	payload := map[string]any{
		"name":              customer.FirstName + " " + customer.LastName,
		"email":             customer.Email,
		"orgType":           orgTypePurchaser,
		"odfi_endpoint":     odfiEndpoint,
		"originationClient": originationClient,
		"partnerName":       c.PartnerName,
		"parentOrgId":       c.MerchantOrgID,
		"user_metadata": map[string]any{
			"phone":       customer.Phone,
			"companyName": customer.CompanyName,
			"dob":         customer.DOB,
			"add1":        customer.Address1,
			"add2":        customer.Address2,
			"city":        customer.City,
			"state":       customer.State,
			"zip":         customer.Zip,
			"country":     customer.Country,
		},
	}
	return c.request(ctx, c.HttpClient, http.MethodPost, "/organization", payload)
}

// CreatePayToken registers a bank account as a payment token.
func (c *Client) CreatePayToken(ctx context.Context, orgID string, bank BankData) (Document, error) {
	payload := map[string]any{
		"orgId":             orgID,
		"pay_type":          payType,
		"bankName":          bank.BankName,
		"userId":            bank.UserID,
		"dda":               bank.AccountNumber,
		"routing":           bank.RoutingNumber,
		"accountId":         bank.AccountID,
		"providerAccountId": bank.ProviderAccountID,
		"accountType":       strings.ToUpper(bank.AccountType),
		"currentBalance":    map[string]any{"currency": "USD", "amount": 0},
		"yodlee":            true,
	}
	return c.request(ctx, c.HttpClient, http.MethodPost, "/paytoken", payload)
}

// AssignPayToken binds a token to an organization so sales can draw on it.
func (c *Client) AssignPayToken(ctx context.Context, orgID, payTokenID string) (Document, error) {
	payload := map[string]any{
		"orgId":      orgID,
		"payTokenId": payTokenID,
	}
	return c.request(ctx, c.HttpClient, http.MethodPut, "/organization/paytoken/assign", payload)
}

// Sale originates an ACH debit against the org's active token.
func (c *Client) Sale(ctx context.Context, sale SaleData) (Document, error) {
	payload := map[string]any{
		"amount":         sale.Amount,
		"orgId":          sale.OrgID,
		"comment":        sale.Comment,
		"service_origin": originationClient,
		"partnerName":    c.PartnerName,
		"payTokenId":     sale.PayTokenID,
		"merchantOrgId":  c.MerchantOrgID,
	}
	return c.request(ctx, c.HttpClient, http.MethodPost, "/transaction/sale", payload)
}

// TransactionStatus fetches the provider's current view of a transaction.
func (c *Client) TransactionStatus(ctx context.Context, transactionID string) (Document, error) {
	return c.request(ctx, c.HttpClient, http.MethodGet, "/transaction/status/"+url.PathEscape(transactionID), nil)
}

// LatestPayToken returns the organization's most recent payment token.
// A 404 means the shopper has not completed bank linking yet.
func (c *Client) LatestPayToken(ctx context.Context, orgID string) (Document, error) {
	return c.request(ctx, c.HttpClient, http.MethodGet, "/getlatestpaytoken/"+url.PathEscape(orgID), nil)
}

// VerifyMerchant checks an email against the provider's merchant registry.
func (c *Client) VerifyMerchant(ctx context.Context, email string) (Document, error) {
	return c.request(ctx, c.HttpClient, http.MethodGet, "/merchants/verify/"+url.PathEscape(email), nil)
}

// GetUserByEmail looks up an existing provider user record by email.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (Document, error) {
	return c.request(ctx, c.HttpClient, http.MethodGet, "/getUserByEmail/"+url.PathEscape(email), nil)
}

// ProbeLatestPayToken is LatestPayToken on the short pre-flight timeout,
// used to confirm a stored org id still exists before trusting it.
func (c *Client) ProbeLatestPayToken(ctx context.Context, orgID string) (Document, error) {
	return c.request(ctx, c.ProbeClient, http.MethodGet, "/getlatestpaytoken/"+url.PathEscape(orgID), nil)
}

