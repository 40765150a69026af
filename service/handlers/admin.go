package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// ReconcileHandler runs a reconciliation sweep on demand and returns its
// stats, for operators who cannot wait for the next scheduled run.
func (gs *GatewayServer) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	stats := gs.Reconciler.Run(r.Context())
	writeData(w, stats)
}

// TransactionSearchHandler lets operators hunt transactions by provider
// reference, order id or row id fragment.
func (gs *GatewayServer) TransactionSearchHandler(w http.ResponseWriter, r *http.Request) {
	transactions, err := gs.Business.SearchTransactions(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeData(w, transactions)
}

// TransactionDetailHandler returns one sale by provider reference or row id.
func (gs *GatewayServer) TransactionDetailHandler(w http.ResponseWriter, r *http.Request) {
	reference := mux.Vars(r)["reference"]
	transaction, err := gs.Business.FindTransaction(r.Context(), reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, errors.New("transaction not found"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeData(w, transaction)
}

// ReconcileStatsHandler returns the stats of the last sweep.
func (gs *GatewayServer) ReconcileStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := gs.Reconciler.LastRun(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if stats == nil {
		writeData(w, map[string]any{"has_run": false})
		return
	}
	writeData(w, stats)
}
