package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/antinvestor/monarch-ach/service/coreapi"
	"github.com/antinvestor/monarch-ach/service/identity"
	"github.com/antinvestor/monarch-ach/service/linking"
	"github.com/antinvestor/monarch-ach/service/models"
)

type customerRequest struct {
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Phone       string `json:"phone"`
	CompanyName string `json:"company_name"`
	DOB         string `json:"dob"`
	Address1    string `json:"address_1"`
	Address2    string `json:"address_2"`
	City        string `json:"city"`
	State       string `json:"state"`
	Zip         string `json:"zip"`
	Country     string `json:"country"`
}

func (c *customerRequest) toCustomerData() coreapi.CustomerData {
	return coreapi.CustomerData{
		Email:       c.Email,
		FirstName:   c.FirstName,
		LastName:    c.LastName,
		Phone:       lastDigits(c.Phone, 10),
		CompanyName: c.CompanyName,
		DOB:         normalizeDOB(c.DOB),
		Address1:    c.Address1,
		Address2:    c.Address2,
		City:        c.City,
		State:       c.State,
		Zip:         c.Zip,
		Country:     c.Country,
	}
}

// lastDigits strips formatting from a phone number and keeps the trailing
// n digits, which is all the provider will accept.
func lastDigits(phone string, n int) string {
	digits := make([]byte, 0, len(phone))
	for i := 0; i < len(phone); i++ {
		if phone[i] >= '0' && phone[i] <= '9' {
			digits = append(digits, phone[i])
		}
	}
	if len(digits) > n {
		digits = digits[len(digits)-n:]
	}
	return string(digits)
}

// normalizeDOB converts ISO dates to the mm/dd/yyyy form the provider
// expects; anything unrecognized passes through untouched.
func normalizeDOB(dob string) string {
	parsed, err := time.Parse("2006-01-02", dob)
	if err != nil {
		return dob
	}
	return parsed.Format("01/02/2006")
}

// validRoutingNumber checks for exactly nine digits.
func validRoutingNumber(routing string) bool {
	if len(routing) != 9 {
		return false
	}
	for i := 0; i < len(routing); i++ {
		if routing[i] < '0' || routing[i] > '9' {
			return false
		}
	}
	return true
}

type manualEntryRequest struct {
	customerRequest
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	RoutingNumber string `json:"routing_number"`
	AccountType   string `json:"account_type"`
}

// BeginLinkingHandler starts bank linking and returns the hosted URL.
func (gs *GatewayServer) BeginLinkingHandler(w http.ResponseWriter, r *http.Request) {
	var request customerRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if request.Email == "" {
		writeError(w, http.StatusBadRequest, errors.New("email is required"))
		return
	}

	store, userID := gs.Stores.StoreFor(w, r)
	record, err := gs.Flow.BeginLinking(r.Context(), store, userID, request.toCustomerData())
	if err != nil {
		gs.writeLinkingError(w, err)
		return
	}

	writeData(w, map[string]any{
		"org_id":           record.OrgID,
		"state":            record.State,
		"bank_linking_url": record.BankLinkingURL,
	})
}

// ManualEntryHandler links a bank account from typed-in details.
func (gs *GatewayServer) ManualEntryHandler(w http.ResponseWriter, r *http.Request) {
	var request manualEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if request.Email == "" || request.AccountNumber == "" || request.RoutingNumber == "" {
		writeError(w, http.StatusBadRequest, errors.New("email, account_number and routing_number are required"))
		return
	}
	if !validRoutingNumber(request.RoutingNumber) {
		writeError(w, http.StatusBadRequest, errors.New("routing number must be exactly 9 digits"))
		return
	}

	store, userID := gs.Stores.StoreFor(w, r)
	record, err := gs.Flow.ManualEntry(r.Context(), store, userID, request.toCustomerData(), coreapi.BankData{
		BankName:      request.BankName,
		AccountNumber: request.AccountNumber,
		RoutingNumber: request.RoutingNumber,
		AccountType:   request.AccountType,
	})
	if err != nil {
		gs.writeLinkingError(w, err)
		return
	}

	writeData(w, map[string]any{
		"org_id":       record.OrgID,
		"state":        record.State,
		"paytoken_set": record.PayTokenID != "",
	})
}

// CompleteLinkingHandler is polled by the checkout page after the bank
// window closes to pick up the freshly minted token.
func (gs *GatewayServer) CompleteLinkingHandler(w http.ResponseWriter, r *http.Request) {
	store, userID := gs.Stores.StoreFor(w, r)
	record, err := gs.Flow.CompleteLinking(r.Context(), store, userID)
	if err != nil {
		gs.writeLinkingError(w, err)
		return
	}

	writeData(w, map[string]any{
		"org_id":       record.OrgID,
		"state":        record.State,
		"paytoken_set": record.PayTokenID != "",
	})
}

// LatestPayTokenHandler exposes the org's current token state; 404 while
// linking is still pending.
func (gs *GatewayServer) LatestPayTokenHandler(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["orgID"]
	if orgID == "" {
		writeError(w, http.StatusBadRequest, errors.New("orgID is required"))
		return
	}

	store, userID := gs.Stores.StoreFor(w, r)
	record, err := gs.Flow.FetchLatestToken(r.Context(), store, userID)
	if err != nil {
		gs.writeLinkingError(w, err)
		return
	}
	if record.OrgID != orgID {
		writeError(w, http.StatusForbidden, errors.New("organization does not belong to this shopper"))
		return
	}

	writeData(w, map[string]any{
		"org_id":      record.OrgID,
		"paytoken_id": record.PayTokenID,
		"state":       record.State,
	})
}

// LinkingURLHandler hands returning shoppers their bank-linking URL,
// reusing the stored one before minting anything new.
func (gs *GatewayServer) LinkingURLHandler(w http.ResponseWriter, r *http.Request) {
	var request customerRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if request.Email == "" {
		writeError(w, http.StatusBadRequest, errors.New("email is required"))
		return
	}

	store, userID := gs.Stores.StoreFor(w, r)
	record, err := gs.Flow.BeginLinking(r.Context(), store, userID, request.toCustomerData())
	if err != nil {
		gs.writeLinkingError(w, err)
		return
	}
	if record.BankLinkingURL == "" {
		writeError(w, http.StatusNotFound, errors.New("no bank linking URL is available for this organization"))
		return
	}

	writeData(w, map[string]any{
		"org_id":           record.OrgID,
		"bank_linking_url": record.BankLinkingURL,
	})
}

// LinkingStatusHandler reports where the shopper is in the linking flow.
func (gs *GatewayServer) LinkingStatusHandler(w http.ResponseWriter, r *http.Request) {
	store, userID := gs.Stores.StoreFor(w, r)
	record, err := gs.Flow.ReenterLinking(r.Context(), store, userID)
	if errors.Is(err, linking.ErrNotLinked) {
		writeData(w, map[string]any{
			"state":     models.StateNew,
			"connected": false,
		})
		return
	}
	if err != nil && !errors.Is(err, linking.ErrTokenNotReady) {
		gs.writeLinkingError(w, err)
		return
	}
	if orgID := mux.Vars(r)["orgID"]; orgID != "" && record.OrgID != orgID {
		writeError(w, http.StatusForbidden, errors.New("organization does not belong to this shopper"))
		return
	}

	writeData(w, map[string]any{
		"org_id":           record.OrgID,
		"state":            record.State,
		"connected":        record.PayTokenID != "",
		"bank_linking_url": record.BankLinkingURL,
	})
}

// DisconnectHandler drops the shopper's bank linkage.
func (gs *GatewayServer) DisconnectHandler(w http.ResponseWriter, r *http.Request) {
	store, userID := gs.Stores.StoreFor(w, r)
	if err := gs.Flow.Disconnect(r.Context(), store, userID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeData(w, map[string]any{"disconnected": true})
}

func (gs *GatewayServer) writeLinkingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, linking.ErrNotLinked):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, linking.ErrTokenNotReady):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, linking.ErrRelinkRequired):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, identity.ErrUnresolvable):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		var apiErr *coreapi.APIError
		if errors.As(err, &apiErr) {
			writeError(w, http.StatusBadGateway, errors.New(apiErr.Message))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
	}
}
