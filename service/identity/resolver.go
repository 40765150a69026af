package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antinvestor/monarch-ach/service/coreapi"
)

// ErrUnresolvable means every strategy for binding the shopper to a
// provider organization was exhausted.
var ErrUnresolvable = errors.New("identity: could not resolve a provider organization for this email")

// Resolution is the outcome of resolving a shopper against the provider.
type Resolution struct {
	OrgID          string
	ProviderUserID string
	// Email the org ended up registered under. Differs from the input when
	// a suffixed alias had to be minted to dodge a cross-merchant conflict.
	RegisteredEmail string
	// PayTokenID is set when the resolved org already has a linked token.
	PayTokenID string
	// BankLinkingURL is the hosted linking page, when the provider
	// returned one with the organization.
	BankLinkingURL string
	// Created reports whether a fresh org was created rather than reused.
	Created bool
}

type monarchAPI interface {
	CreateOrganization(ctx context.Context, customer coreapi.CustomerData) (coreapi.Document, error)
	VerifyMerchant(ctx context.Context, email string) (coreapi.Document, error)
	GetUserByEmail(ctx context.Context, email string) (coreapi.Document, error)
	ProbeLatestPayToken(ctx context.Context, orgID string) (coreapi.Document, error)
}

// Resolver owns the create-or-recover dance for purchaser organizations.
type Resolver struct {
	client monarchAPI

	now func() time.Time
}

func NewResolver(client *coreapi.Client) *Resolver {
	return &Resolver{client: client, now: time.Now}
}

// Resolve binds a shopper email to a purchaser organization. The happy
// path is a straight create; an email-taken rejection falls back to
// looking the user up, and a cross-merchant header conflict gets one
// retry under a time-suffixed alias of the same mailbox.
func (r *Resolver) Resolve(ctx context.Context, customer coreapi.CustomerData) (*Resolution, error) {
	doc, err := r.client.CreateOrganization(ctx, customer)
	if err == nil {
		orgID := doc.OrgID()
		if orgID == "" {
			return nil, fmt.Errorf("identity: organization created but no org id in response")
		}
		return &Resolution{
			OrgID:           orgID,
			ProviderUserID:  doc.FindString(5, "userId", "user_id"),
			RegisteredEmail: customer.Email,
			BankLinkingURL:  doc.BankLinkingURL(),
			Created:         true,
		}, nil
	}

	switch {
	case coreapi.IsEmailTaken(err):
		return r.recoverByLookup(ctx, customer)
	case coreapi.IsInvalidRequestHeaders(err):
		return r.retryWithAlias(ctx, customer)
	default:
		return nil, err
	}
}

// recoverByLookup finds the existing org behind an already-registered
// email and confirms it is reachable under our credentials.
func (r *Resolver) recoverByLookup(ctx context.Context, customer coreapi.CustomerData) (*Resolution, error) {
	doc, err := r.client.VerifyMerchant(ctx, customer.Email)
	if err != nil || doc.OrgID() == "" {
		doc, err = r.client.GetUserByEmail(ctx, customer.Email)
		if err != nil {
			if coreapi.IsNotFound(err) {
				return nil, ErrUnresolvable
			}
			return nil, err
		}
	}

	orgID := doc.OrgID()
	if orgID == "" {
		return nil, ErrUnresolvable
	}

	res := &Resolution{
		OrgID:           orgID,
		ProviderUserID:  doc.FindString(5, "userId", "user_id", "_id"),
		RegisteredEmail: customer.Email,
	}

	// confirm the org answers under our merchant credentials. An invalid
	// request headers rejection means the org belongs to another
	// merchant's app, so create a fresh one under an aliased mailbox. A
	// 404 just means linking is still pending, and auth rejections cannot
	// prove the org is gone, so both proceed; anything else is terminal.
	tokenDoc, err := r.client.ProbeLatestPayToken(ctx, orgID)
	if err != nil {
		if coreapi.IsInvalidRequestHeaders(err) {
			return r.retryWithAlias(ctx, customer)
		}
		var apiErr *coreapi.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.StatusCode {
			case 404, 401, 403:
				return res, nil
			}
		}
		return nil, ErrUnresolvable
	}
	res.PayTokenID = tokenDoc.PayTokenID()
	return res, nil
}

// retryWithAlias works around the provider rejecting an email already
// bound to a different merchant app. Plus-addressing keeps delivery to
// the same mailbox while giving the provider a distinct identity.
func (r *Resolver) retryWithAlias(ctx context.Context, customer coreapi.CustomerData) (*Resolution, error) {
	local, domain, ok := strings.Cut(customer.Email, "@")
	if !ok {
		return nil, ErrUnresolvable
	}

	aliased := customer
	aliased.Email = fmt.Sprintf("%s+%d@%s", local, r.now().Unix(), domain)

	doc, err := r.client.CreateOrganization(ctx, aliased)
	if err != nil {
		return nil, ErrUnresolvable
	}

	orgID := doc.OrgID()
	if orgID == "" {
		return nil, ErrUnresolvable
	}
	return &Resolution{
		OrgID:           orgID,
		ProviderUserID:  doc.FindString(5, "userId", "user_id"),
		RegisteredEmail: aliased.Email,
		BankLinkingURL:  doc.BankLinkingURL(),
		Created:         true,
	}, nil
}
