package linking

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis"
	"gorm.io/gorm"

	"github.com/antinvestor/monarch-ach/service/models"
	"github.com/antinvestor/monarch-ach/service/repository"
)

// Record is everything the gateway keeps about one shopper's provider
// linkage, whichever store it lives in.
type Record struct {
	UserID string `json:"user_id"`

	OrgID           string `json:"org_id"`
	ProviderUserID  string `json:"provider_user_id"`
	PayTokenID      string `json:"pay_token_id"`
	RegisteredEmail string `json:"registered_email"`

	PurchaserAPIKey string `json:"purchaser_api_key,omitempty"`
	PurchaserAppID  string `json:"purchaser_app_id,omitempty"`

	MerchantOrgID string `json:"merchant_org_id"`
	Sandbox       bool   `json:"sandbox"`

	BankLinkingURL string     `json:"bank_linking_url,omitempty"`
	State          string     `json:"state"`
	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
}

func (r *Record) HasPurchaserCredentials() bool {
	return r.PurchaserAPIKey != "" && r.PurchaserAppID != ""
}

// CredentialStore persists linkage records. Load returns (nil, nil) when
// the shopper has no record yet.
type CredentialStore interface {
	Load(ctx context.Context, userID string) (*Record, error)
	Save(ctx context.Context, record *Record) error
	Clear(ctx context.Context, userID string) error
}

// AccountStore keeps records in the database for signed-in shoppers.
type AccountStore struct {
	repo repository.IdentityRepository
}

func NewAccountStore(repo repository.IdentityRepository) *AccountStore {
	return &AccountStore{repo: repo}
}

func (s *AccountStore) Load(ctx context.Context, userID string) (*Record, error) {
	identity, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &Record{
		UserID:          identity.UserID,
		OrgID:           identity.OrgID,
		ProviderUserID:  identity.ProviderUserID,
		PayTokenID:      identity.PayTokenID,
		RegisteredEmail: identity.RegisteredEmail,
		PurchaserAPIKey: identity.PurchaserAPIKey,
		PurchaserAppID:  identity.PurchaserAppID,
		MerchantOrgID:   identity.MerchantOrgID,
		Sandbox:         identity.Sandbox,
		BankLinkingURL:  identity.BankLinkingURL,
		State:           identity.LinkState,
		ConnectedAt:     identity.ConnectedAt,
	}, nil
}

func (s *AccountStore) Save(ctx context.Context, record *Record) error {
	identity, err := s.repo.GetByUserID(ctx, record.UserID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		identity = &models.Identity{UserID: record.UserID}
	}

	identity.OrgID = record.OrgID
	identity.ProviderUserID = record.ProviderUserID
	identity.PayTokenID = record.PayTokenID
	identity.RegisteredEmail = record.RegisteredEmail
	identity.PurchaserAPIKey = record.PurchaserAPIKey
	identity.PurchaserAppID = record.PurchaserAppID
	identity.MerchantOrgID = record.MerchantOrgID
	identity.Sandbox = record.Sandbox
	identity.BankLinkingURL = record.BankLinkingURL
	identity.LinkState = record.State
	identity.ConnectedAt = record.ConnectedAt

	return s.repo.Save(ctx, identity)
}

func (s *AccountStore) Clear(ctx context.Context, userID string) error {
	identity, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	return s.repo.Delete(ctx, identity)
}

const (
	sessionKeyPrefix = "monarch_session:"
	sessionTTL       = 24 * time.Hour
)

// SessionStore keeps records in redis, keyed by session id, for guest
// checkouts. Records expire with the session.
type SessionStore struct {
	client *redis.Client
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

func (s *SessionStore) Load(ctx context.Context, sessionID string) (*Record, error) {
	blob, err := s.client.Get(sessionKeyPrefix + sessionID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	record := Record{}
	if err = json.Unmarshal([]byte(blob), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *SessionStore) Save(ctx context.Context, record *Record) error {
	blob, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.client.Set(sessionKeyPrefix+record.UserID, blob, sessionTTL).Err()
}

func (s *SessionStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(sessionKeyPrefix + sessionID).Err()
}
