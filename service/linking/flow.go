package linking

import (
	"context"
	"errors"
	"time"

	"github.com/pitabwire/frame"

	"github.com/antinvestor/monarch-ach/service/coreapi"
	"github.com/antinvestor/monarch-ach/service/identity"
	"github.com/antinvestor/monarch-ach/service/models"
)

var (
	// ErrNotLinked means the shopper has no organization on file yet.
	ErrNotLinked = errors.New("linking: no bank connection on file")

	// ErrTokenNotReady means the org exists but the shopper has not
	// finished the hosted bank-linking flow.
	ErrTokenNotReady = errors.New("linking: bank linking not completed yet")

	// ErrRelinkRequired means the stored linkage went stale and was wiped;
	// the shopper has to connect their bank again.
	ErrRelinkRequired = errors.New("linking: stored bank connection is no longer valid, please reconnect")
)

type orgResolver interface {
	Resolve(ctx context.Context, customer coreapi.CustomerData) (*identity.Resolution, error)
}

type providerAPI interface {
	CreatePayToken(ctx context.Context, orgID string, bank coreapi.BankData) (coreapi.Document, error)
	AssignPayToken(ctx context.Context, orgID, payTokenID string) (coreapi.Document, error)
	LatestPayToken(ctx context.Context, orgID string) (coreapi.Document, error)
	ProbeLatestPayToken(ctx context.Context, orgID string) (coreapi.Document, error)
	GetUserByEmail(ctx context.Context, email string) (coreapi.Document, error)
}

// Flow drives the account-linking state machine. Handlers pick the store
// per request; the flow itself is store-agnostic.
type Flow struct {
	service  *frame.Service
	client   providerAPI
	resolver orgResolver

	merchantOrgID string
	sandbox       bool
}

func NewFlow(service *frame.Service, client *coreapi.Client, resolver *identity.Resolver) *Flow {
	return &Flow{
		service:       service,
		client:        client,
		resolver:      resolver,
		merchantOrgID: client.MerchantOrgID,
		sandbox:       client.Sandbox,
	}
}

// loadGuarded loads the record, wiping any linkage stamped under other
// merchant credentials or the other environment before it can be reused.
func (f *Flow) loadGuarded(ctx context.Context, store CredentialStore, userID string) (*Record, error) {
	record, err := store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	if record.MerchantOrgID != "" &&
		(record.MerchantOrgID != f.merchantOrgID || record.Sandbox != f.sandbox) {
		f.service.Log(ctx).WithField("org_id", record.OrgID).
			Warn("credential context changed since linking, wiping linkage")
		if err = store.Clear(ctx, userID); err != nil {
			return nil, err
		}
		return nil, ErrRelinkRequired
	}
	return record, nil
}

// BeginLinking resolves the shopper's organization and hands back the
// hosted linking URL. Safe to call again; an existing record short
// circuits to its stored URL.
func (f *Flow) BeginLinking(ctx context.Context, store CredentialStore, userID string, customer coreapi.CustomerData) (*Record, error) {
	record, err := f.loadGuarded(ctx, store, userID)
	if err != nil && !errors.Is(err, ErrRelinkRequired) {
		return nil, err
	}
	if record != nil && record.OrgID != "" && record.BankLinkingURL != "" {
		return record, nil
	}

	resolution, err := f.resolver.Resolve(ctx, customer)
	if err != nil {
		return nil, err
	}

	record = &Record{
		UserID:          userID,
		OrgID:           resolution.OrgID,
		ProviderUserID:  resolution.ProviderUserID,
		PayTokenID:      resolution.PayTokenID,
		RegisteredEmail: resolution.RegisteredEmail,
		MerchantOrgID:   f.merchantOrgID,
		Sandbox:         f.sandbox,
		BankLinkingURL:  resolution.BankLinkingURL,
		State:           models.StateOrgResolved,
	}
	if record.BankLinkingURL != "" {
		record.State = models.StateBankLinkPending
	}
	if record.PayTokenID != "" {
		f.markConnected(record)
	}

	if err = store.Save(ctx, record); err != nil {
		return nil, err
	}

	f.service.Log(ctx).WithField("org_id", record.OrgID).
		WithField("state", record.State).
		Info("bank linking started")
	return record, nil
}

// ManualEntry registers a bank account the shopper typed in, skipping the
// hosted linking page entirely.
func (f *Flow) ManualEntry(ctx context.Context, store CredentialStore, userID string, customer coreapi.CustomerData, bank coreapi.BankData) (*Record, error) {
	record, err := f.BeginLinking(ctx, store, userID, customer)
	if err != nil {
		return nil, err
	}

	if bank.UserID == "" {
		bank.UserID = record.ProviderUserID
	}

	tokenDoc, err := f.client.CreatePayToken(ctx, record.OrgID, bank)
	if err != nil {
		return nil, err
	}
	payTokenID := tokenDoc.PayTokenID()
	if payTokenID == "" {
		return nil, errors.New("linking: provider accepted the account but returned no token id")
	}

	// record the minted token before assignment so a failed assign leaves
	// an honest trail instead of a phantom-linked account
	record.PayTokenID = payTokenID
	record.State = models.StateTokenObtained
	if err = store.Save(ctx, record); err != nil {
		return nil, err
	}

	if _, err = f.client.AssignPayToken(ctx, record.OrgID, payTokenID); err != nil {
		return nil, err
	}

	f.markConnected(record)
	if err = store.Save(ctx, record); err != nil {
		return nil, err
	}

	f.service.Log(ctx).WithField("org_id", record.OrgID).
		Info("manual bank account linked")
	return record, nil
}

// CompleteLinking finishes the hosted flow after the bank callback fires:
// fetch the freshly minted token, harvest org-scoped credentials and
// promote the record to ready.
func (f *Flow) CompleteLinking(ctx context.Context, store CredentialStore, userID string) (*Record, error) {
	record, err := f.loadGuarded(ctx, store, userID)
	if err != nil {
		return nil, err
	}
	if record == nil || record.OrgID == "" {
		return nil, ErrNotLinked
	}

	tokenDoc, err := f.client.LatestPayToken(ctx, record.OrgID)
	if err != nil {
		if coreapi.IsNotFound(err) {
			return nil, ErrTokenNotReady
		}
		return nil, err
	}
	payTokenID := tokenDoc.PayTokenID()
	if payTokenID == "" {
		return nil, ErrTokenNotReady
	}

	record.PayTokenID = payTokenID
	f.harvestCredentials(ctx, record)
	f.markConnected(record)

	if err = store.Save(ctx, record); err != nil {
		return nil, err
	}

	f.service.Log(ctx).WithField("org_id", record.OrgID).
		Info("bank linking completed")
	return record, nil
}

// FetchLatestToken refreshes the record's token from the provider without
// changing any other linkage state.
func (f *Flow) FetchLatestToken(ctx context.Context, store CredentialStore, userID string) (*Record, error) {
	record, err := f.loadGuarded(ctx, store, userID)
	if err != nil {
		return nil, err
	}
	if record == nil || record.OrgID == "" {
		return nil, ErrNotLinked
	}

	tokenDoc, err := f.client.LatestPayToken(ctx, record.OrgID)
	if err != nil {
		if coreapi.IsNotFound(err) {
			return nil, ErrTokenNotReady
		}
		return nil, err
	}
	payTokenID := tokenDoc.PayTokenID()
	if payTokenID == "" {
		return nil, ErrTokenNotReady
	}

	if payTokenID != record.PayTokenID {
		record.PayTokenID = payTokenID
		f.markConnected(record)
		if err = store.Save(ctx, record); err != nil {
			return nil, err
		}
	}
	return record, nil
}

// ReenterLinking revalidates a stored linkage before reusing it. A dead
// org wipes the record so the shopper starts clean.
func (f *Flow) ReenterLinking(ctx context.Context, store CredentialStore, userID string) (*Record, error) {
	record, err := f.loadGuarded(ctx, store, userID)
	if err != nil {
		return nil, err
	}
	if record == nil || record.OrgID == "" {
		return nil, ErrNotLinked
	}

	tokenDoc, err := f.client.ProbeLatestPayToken(ctx, record.OrgID)
	if err != nil {
		if coreapi.IsNotFound(err) {
			// org is alive, just tokenless; hosted flow can resume
			return record, ErrTokenNotReady
		}
		f.service.Log(ctx).WithError(err).
			WithField("org_id", record.OrgID).
			Warn("stored organization no longer answers, wiping linkage")
		if clearErr := store.Clear(ctx, userID); clearErr != nil {
			return nil, clearErr
		}
		return nil, ErrRelinkRequired
	}

	if payTokenID := tokenDoc.PayTokenID(); payTokenID != "" && payTokenID != record.PayTokenID {
		record.PayTokenID = payTokenID
		f.markConnected(record)
		if err = store.Save(ctx, record); err != nil {
			return nil, err
		}
	}
	return record, nil
}

// Disconnect drops the shopper's linkage entirely.
func (f *Flow) Disconnect(ctx context.Context, store CredentialStore, userID string) error {
	return store.Clear(ctx, userID)
}

// MarkTokenSpent clears the stored token after a completed sale. Tokens
// are single use; the shopper relinks before the next payment.
func (f *Flow) MarkTokenSpent(ctx context.Context, store CredentialStore, userID string) error {
	record, err := store.Load(ctx, userID)
	if err != nil {
		return err
	}
	if record == nil || record.PayTokenID == "" {
		return nil
	}

	record.PayTokenID = ""
	record.State = models.StateBankLinkPending
	return store.Save(ctx, record)
}

func (f *Flow) markConnected(record *Record) {
	now := time.Now()
	record.State = models.StateReadyToPay
	record.ConnectedAt = &now
}

// harvestCredentials pulls org-scoped API keys off the provider user
// record. Failure here is tolerable; sales fall back to merchant keys.
func (f *Flow) harvestCredentials(ctx context.Context, record *Record) {
	if record.RegisteredEmail == "" {
		return
	}
	doc, err := f.client.GetUserByEmail(ctx, record.RegisteredEmail)
	if err != nil {
		f.service.Log(ctx).WithError(err).
			WithField("org_id", record.OrgID).
			Warn("could not fetch purchaser credentials")
		return
	}
	apiKey, appID := doc.Credentials(record.Sandbox)
	if apiKey != "" && appID != "" {
		record.PurchaserAPIKey = apiKey
		record.PurchaserAppID = appID
	}
}
