package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/antinvestor/monarch-ach/service/business"
	"github.com/antinvestor/monarch-ach/service/coreapi"
)

type payRequest struct {
	OrderID  string `json:"order_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Comment  string `json:"comment"`
}

// PayHandler originates an ACH sale for an order.
func (gs *GatewayServer) PayHandler(w http.ResponseWriter, r *http.Request) {
	var request payRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if request.OrderID == "" {
		writeError(w, http.StatusBadRequest, errors.New("order_id is required"))
		return
	}

	amount, err := decimal.NewFromString(request.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, business.ErrorInvalidAmount)
		return
	}
	if request.Currency == "" {
		request.Currency = "USD"
	}
	if request.Comment == "" {
		request.Comment = fmt.Sprintf("Order %s", request.OrderID)
	}

	order := &business.CheckoutOrder{
		OrderID:     request.OrderID,
		Amount:      amount,
		CurrencyVal: request.Currency,
		Comment:     request.Comment,
	}

	store, userID := gs.Stores.StoreFor(w, r)
	transaction, err := gs.Business.Pay(r.Context(), store, userID, order)
	if err != nil {
		gs.writePaymentError(w, err)
		return
	}

	writeData(w, map[string]any{
		"transaction_id": transaction.TransactionID,
		"status":         transaction.Status,
		"needs_review":   transaction.NeedsReview,
	})
}

// OrderTransactionsHandler lists payments recorded against an order.
func (gs *GatewayServer) OrderTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderID"]
	if orderID == "" {
		writeError(w, http.StatusBadRequest, errors.New("orderID is required"))
		return
	}

	transactions, err := gs.Business.OrderTransactions(r.Context(), orderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]map[string]any, 0, len(transactions))
	for _, transaction := range transactions {
		out = append(out, map[string]any{
			"transaction_id": transaction.TransactionID,
			"status":         transaction.Status,
			"amount":         transaction.Amount.Decimal.String(),
			"currency":       transaction.Currency,
			"needs_review":   transaction.NeedsReview,
			"created_at":     transaction.CreatedAt,
		})
	}
	writeData(w, out)
}

func (gs *GatewayServer) writePaymentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, business.ErrorBankNotConnected):
		writeError(w, http.StatusPreconditionFailed, err)
	case errors.Is(err, business.ErrorReconnectRequired):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, business.ErrorOrderAlreadyPaid):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, business.ErrorInvalidAmount):
		writeError(w, http.StatusBadRequest, err)
	default:
		var apiErr *coreapi.APIError
		if errors.As(err, &apiErr) {
			// surface the provider's own wording to the shopper
			writeError(w, http.StatusBadGateway, errors.New(apiErr.Message))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
	}
}
