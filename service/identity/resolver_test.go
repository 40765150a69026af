package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/monarch-ach/service/coreapi"
)

type fakeAPI struct {
	createCalls  []coreapi.CustomerData
	createDocs   []coreapi.Document
	createErrs   []error
	verifyDoc    coreapi.Document
	lookupDoc    coreapi.Document
	lookupErr    error
	probeDoc     coreapi.Document
	probeErr     error
	lookupCalled bool
}

func (f *fakeAPI) CreateOrganization(ctx context.Context, customer coreapi.CustomerData) (coreapi.Document, error) {
	call := len(f.createCalls)
	f.createCalls = append(f.createCalls, customer)
	if call < len(f.createErrs) && f.createErrs[call] != nil {
		return nil, f.createErrs[call]
	}
	if call < len(f.createDocs) {
		return f.createDocs[call], nil
	}
	return nil, errors.New("unexpected create call")
}

func (f *fakeAPI) VerifyMerchant(ctx context.Context, email string) (coreapi.Document, error) {
	if f.verifyDoc != nil {
		return f.verifyDoc, nil
	}
	return nil, &coreapi.APIError{StatusCode: 404, Message: "merchant not found"}
}

func (f *fakeAPI) GetUserByEmail(ctx context.Context, email string) (coreapi.Document, error) {
	f.lookupCalled = true
	return f.lookupDoc, f.lookupErr
}

func (f *fakeAPI) ProbeLatestPayToken(ctx context.Context, orgID string) (coreapi.Document, error) {
	return f.probeDoc, f.probeErr
}

func testResolver(api *fakeAPI) *Resolver {
	return &Resolver{
		client: api,
		now:    func() time.Time { return time.Unix(1700000000, 0) },
	}
}

func TestResolveCreatesFreshOrganization(t *testing.T) {
	api := &fakeAPI{
		createDocs: []coreapi.Document{{"orgId": "org-1", "userId": "user-1", "bankLinkingUrl": "https://link.example/org-1"}},
	}

	res, err := testResolver(api).Resolve(context.Background(), coreapi.CustomerData{Email: "jane@example.com"})
	require.NoError(t, err)

	assert.Equal(t, "org-1", res.OrgID)
	assert.Equal(t, "user-1", res.ProviderUserID)
	assert.Equal(t, "jane@example.com", res.RegisteredEmail)
	assert.Equal(t, "https://link.example/org-1", res.BankLinkingURL)
	assert.True(t, res.Created)
	assert.Len(t, api.createCalls, 1)
	assert.False(t, api.lookupCalled)
}

func TestResolveRecoversExistingOrganization(t *testing.T) {
	api := &fakeAPI{
		createErrs: []error{&coreapi.APIError{StatusCode: 400, Message: "email already exists"}},
		lookupDoc:  coreapi.Document{"orgId": "org-2", "_id": "user-2"},
		probeDoc:   coreapi.Document{"_id": "tok-9"},
	}

	res, err := testResolver(api).Resolve(context.Background(), coreapi.CustomerData{Email: "jane@example.com"})
	require.NoError(t, err)

	assert.Equal(t, "org-2", res.OrgID)
	assert.Equal(t, "tok-9", res.PayTokenID)
	assert.False(t, res.Created)
	assert.Len(t, api.createCalls, 1)
}

func TestResolveMerchantVerifySkipsUserLookup(t *testing.T) {
	api := &fakeAPI{
		createErrs: []error{&coreapi.APIError{StatusCode: 400, Message: "email already exists"}},
		verifyDoc:  coreapi.Document{"orgId": "org-m", "userId": "user-m"},
		probeDoc:   coreapi.Document{"_id": "tok-m"},
	}

	res, err := testResolver(api).Resolve(context.Background(), coreapi.CustomerData{Email: "shop@example.com"})
	require.NoError(t, err)

	assert.Equal(t, "org-m", res.OrgID)
	assert.Equal(t, "tok-m", res.PayTokenID)
	assert.False(t, api.lookupCalled)
}

func TestResolveRecoveredOrgWithoutTokenIsFine(t *testing.T) {
	api := &fakeAPI{
		createErrs: []error{&coreapi.APIError{StatusCode: 400, Message: "email already exists"}},
		lookupDoc:  coreapi.Document{"orgId": "org-3"},
		probeErr:   &coreapi.APIError{StatusCode: 404, Message: "no paytoken found"},
	}

	res, err := testResolver(api).Resolve(context.Background(), coreapi.CustomerData{Email: "jane@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "org-3", res.OrgID)
	assert.Equal(t, "", res.PayTokenID)
}

func TestResolveAuthRejectedProbeStillProceeds(t *testing.T) {
	// cannot prove the org is gone from a 403, so the lookup result stands
	api := &fakeAPI{
		createErrs: []error{&coreapi.APIError{StatusCode: 400, Message: "email already exists"}},
		lookupDoc:  coreapi.Document{"orgId": "org-4"},
		probeErr:   &coreapi.APIError{StatusCode: 403, Message: "forbidden"},
	}

	res, err := testResolver(api).Resolve(context.Background(), coreapi.CustomerData{Email: "jane@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "org-4", res.OrgID)
	assert.Equal(t, "", res.PayTokenID)
}

func TestResolveForeignMerchantOrgRetriesWithAlias(t *testing.T) {
	// the looked-up org belongs to another merchant's app; reusing it
	// would send sales to the wrong merchant, so a fresh org is created
	// under an aliased mailbox instead
	api := &fakeAPI{
		createErrs: []error{&coreapi.APIError{StatusCode: 400, Message: "email already exists"}, nil},
		createDocs: []coreapi.Document{nil, {"orgId": "org-alias"}},
		lookupDoc:  coreapi.Document{"orgId": "org-foreign"},
		probeErr:   &coreapi.APIError{StatusCode: 400, Message: "Invalid request headers"},
	}

	res, err := testResolver(api).Resolve(context.Background(), coreapi.CustomerData{Email: "taken@example.com"})
	require.NoError(t, err)

	assert.Equal(t, "org-alias", res.OrgID)
	assert.True(t, res.Created)
	require.Len(t, api.createCalls, 2)
	assert.Equal(t, "taken+1700000000@example.com", api.createCalls[1].Email)
	assert.Equal(t, "taken+1700000000@example.com", res.RegisteredEmail)
}

func TestResolveForeignMerchantProbeOn401AlsoRetries(t *testing.T) {
	// the ownership rejection is classified by wording, whatever status
	// code it rides in on; it must never fall into the auth pass-through
	api := &fakeAPI{
		createErrs: []error{&coreapi.APIError{StatusCode: 400, Message: "email already in use"}, nil},
		createDocs: []coreapi.Document{nil, {"orgId": "org-alias-2"}},
		lookupDoc:  coreapi.Document{"orgId": "org-foreign"},
		probeErr:   &coreapi.APIError{StatusCode: 401, Message: "Invalid request headers"},
	}

	res, err := testResolver(api).Resolve(context.Background(), coreapi.CustomerData{Email: "taken@example.com"})
	require.NoError(t, err)

	assert.Equal(t, "org-alias-2", res.OrgID)
	assert.NotEqual(t, "org-foreign", res.OrgID)
	require.Len(t, api.createCalls, 2)
}

func TestResolveUnreachableOrgIsUnresolvable(t *testing.T) {
	api := &fakeAPI{
		createErrs: []error{&coreapi.APIError{StatusCode: 400, Message: "email already exists"}},
		lookupDoc:  coreapi.Document{"orgId": "org-5"},
		probeErr:   &coreapi.APIError{StatusCode: 500, Message: "server blew up"},
	}

	_, err := testResolver(api).Resolve(context.Background(), coreapi.CustomerData{Email: "jane@example.com"})
	assert.ErrorIs(t, err, ErrUnresolvable)
}

func TestResolveRetriesWithAliasedEmail(t *testing.T) {
	api := &fakeAPI{
		createErrs: []error{&coreapi.APIError{StatusCode: 400, Message: "Invalid request headers"}, nil},
		createDocs: []coreapi.Document{nil, {"orgId": "org-5"}},
	}

	res, err := testResolver(api).Resolve(context.Background(), coreapi.CustomerData{Email: "jane@example.com"})
	require.NoError(t, err)

	assert.Equal(t, "org-5", res.OrgID)
	assert.True(t, res.Created)
	require.Len(t, api.createCalls, 2)
	assert.Equal(t, "jane+1700000000@example.com", api.createCalls[1].Email)
	assert.Equal(t, "jane+1700000000@example.com", res.RegisteredEmail)
}

func TestResolveAliasRetryFailureIsTerminal(t *testing.T) {
	api := &fakeAPI{
		createErrs: []error{
			&coreapi.APIError{StatusCode: 400, Message: "Invalid request headers"},
			&coreapi.APIError{StatusCode: 400, Message: "Invalid request headers"},
		},
	}

	_, err := testResolver(api).Resolve(context.Background(), coreapi.CustomerData{Email: "jane@example.com"})
	assert.ErrorIs(t, err, ErrUnresolvable)
	// exactly one retry, never a loop
	assert.Len(t, api.createCalls, 2)
}

func TestResolveOtherErrorsPassThrough(t *testing.T) {
	providerErr := &coreapi.APIError{StatusCode: 500, Message: "server blew up"}
	api := &fakeAPI{createErrs: []error{providerErr}}

	_, err := testResolver(api).Resolve(context.Background(), coreapi.CustomerData{Email: "jane@example.com"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnresolvable)

	var apiErr *coreapi.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "server blew up", apiErr.Message)
}

func TestResolveLookupNotFoundIsUnresolvable(t *testing.T) {
	api := &fakeAPI{
		createErrs: []error{&coreapi.APIError{StatusCode: 400, Message: "email already in use"}},
		lookupErr:  &coreapi.APIError{StatusCode: 404, Message: "user not found"},
	}

	_, err := testResolver(api).Resolve(context.Background(), coreapi.CustomerData{Email: "jane@example.com"})
	assert.ErrorIs(t, err, ErrUnresolvable)
}
