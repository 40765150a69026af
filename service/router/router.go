package router

import (
	"github.com/gorilla/mux"

	"github.com/antinvestor/monarch-ach/service/handlers"
)

func NewRouter(gs *handlers.GatewayServer) *mux.Router {
	router := mux.NewRouter().StrictSlash(true)

	// Health check endpoint
	router.HandleFunc("/health", handlers.HealthHandler).Methods("GET")

	// Bank linking endpoints
	router.HandleFunc("/linking/organization", gs.BeginLinkingHandler).Methods("POST")
	router.HandleFunc("/linking/manual", gs.ManualEntryHandler).Methods("POST")
	router.HandleFunc("/linking/complete", gs.CompleteLinkingHandler).Methods("POST")
	router.HandleFunc("/linking/paytoken/{orgID}", gs.LatestPayTokenHandler).Methods("GET")
	router.HandleFunc("/linking/status/{orgID}", gs.LinkingStatusHandler).Methods("GET")
	router.HandleFunc("/linking/status", gs.LinkingStatusHandler).Methods("GET")
	router.HandleFunc("/linking/url", gs.LinkingURLHandler).Methods("POST")
	router.HandleFunc("/linking/disconnect", gs.DisconnectHandler).Methods("POST")

	// Provider redirect target after hosted linking
	router.HandleFunc("/bank/callback", gs.BankCallbackHandler).Methods("GET")

	// Checkout endpoints
	router.HandleFunc("/checkout/pay", gs.PayHandler).Methods("POST")
	router.HandleFunc("/transactions/{orderID}", gs.OrderTransactionsHandler).Methods("GET")

	// Operator endpoints
	router.HandleFunc("/admin/reconcile", gs.ReconcileHandler).Methods("POST")
	router.HandleFunc("/admin/reconcile", gs.ReconcileStatsHandler).Methods("GET")
	router.HandleFunc("/admin/transactions", gs.TransactionSearchHandler).Methods("GET")
	router.HandleFunc("/admin/transactions/{reference}", gs.TransactionDetailHandler).Methods("GET")

	return router
}
