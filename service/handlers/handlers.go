package handlers

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/pitabwire/frame"

	"github.com/antinvestor/monarch-ach/config"
	"github.com/antinvestor/monarch-ach/service/business"
	"github.com/antinvestor/monarch-ach/service/coreapi"
	"github.com/antinvestor/monarch-ach/service/linking"
	"github.com/antinvestor/monarch-ach/service/worker"
)

const sessionCookieName = "monarch_sid"

// StoreFactory picks the credential store and shopper id for a request.
// Signed-in shoppers get the durable store, guests the session store.
type StoreFactory interface {
	StoreFor(w http.ResponseWriter, r *http.Request) (linking.CredentialStore, string)
}

// LinkingFlow is the slice of the linking flow the HTTP surface drives.
type LinkingFlow interface {
	BeginLinking(ctx context.Context, store linking.CredentialStore, userID string, customer coreapi.CustomerData) (*linking.Record, error)
	ManualEntry(ctx context.Context, store linking.CredentialStore, userID string, customer coreapi.CustomerData, bank coreapi.BankData) (*linking.Record, error)
	CompleteLinking(ctx context.Context, store linking.CredentialStore, userID string) (*linking.Record, error)
	FetchLatestToken(ctx context.Context, store linking.CredentialStore, userID string) (*linking.Record, error)
	ReenterLinking(ctx context.Context, store linking.CredentialStore, userID string) (*linking.Record, error)
	Disconnect(ctx context.Context, store linking.CredentialStore, userID string) error
}

// GatewayServer carries everything the HTTP surface needs.
type GatewayServer struct {
	Service    *frame.Service
	Config     *config.MonarchConfig
	Flow       LinkingFlow
	Business   business.PaymentBusiness
	Reconciler *worker.StatusReconciler
	Stores     StoreFactory
}

type storeFactory struct {
	accounts *linking.AccountStore
	sessions *linking.SessionStore
}

func NewStoreFactory(accounts *linking.AccountStore, sessions *linking.SessionStore) StoreFactory {
	return &storeFactory{accounts: accounts, sessions: sessions}
}

func (f *storeFactory) StoreFor(w http.ResponseWriter, r *http.Request) (linking.CredentialStore, string) {
	if userID := r.Header.Get("X-User-ID"); userID != "" {
		return f.accounts, userID
	}

	sessionID := ""
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		sessionID = cookie.Value
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    sessionID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return f.sessions, guestID(sessionID)
}

// guestID derives a stable shopper id from the session so guests keep
// their linkage across requests within a session.
func guestID(sessionID string) string {
	sum := md5.Sum([]byte(sessionID))
	return "guest_" + hex.EncodeToString(sum[:])[:8]
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, statusCode int, err error) {
	writeJSON(w, statusCode, map[string]any{"success": false, "error": err.Error()})
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
