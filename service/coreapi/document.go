package coreapi

import (
	"net/url"
	"strings"
)

// Document is a decoded provider response. Monarch payloads are loosely
// shaped and drift between endpoints, so callers project the fields they
// need instead of binding to structs.
type Document map[string]any

const maxSearchDepth = 5

var orgIDKeys = []string{"orgId", "org_id", "organizationId", "organization_id"}

var payTokenKeys = []string{"_id", "payTokenId", "paytoken_id", "payToken", "id"}

var transactionIDKeys = []string{
	"id", "_id", "transactionId", "transaction_id",
	"txnId", "txn_id", "referenceId", "reference_id",
}

// FindString walks the document looking for any of the aliases, descending
// into nested maps up to the depth limit. Top level wins over nested hits.
func (d Document) FindString(depth int, aliases ...string) string {
	if d == nil || depth <= 0 {
		return ""
	}
	for _, key := range aliases {
		if s := stringValue(d[key]); s != "" {
			return s
		}
	}
	for _, v := range d {
		child, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if s := Document(child).FindString(depth-1, aliases...); s != "" {
			return s
		}
	}
	return ""
}

func (d Document) firstString(aliases ...string) string {
	for _, key := range aliases {
		if s := stringValue(d[key]); s != "" {
			return s
		}
	}
	return ""
}

// OrgID extracts an organization id from wherever the provider buried it.
func (d Document) OrgID() string {
	return d.FindString(maxSearchDepth, orgIDKeys...)
}

// PayTokenID extracts a payment token id. Token ids only ever appear at the
// top level of token responses, so no deep search here.
func (d Document) PayTokenID() string {
	return d.firstString(payTokenKeys...)
}

// TransactionID extracts a transaction reference from a sale response.
func (d Document) TransactionID() string {
	return d.firstString(transactionIDKeys...)
}

// Status returns the provider-reported status string, lowercased.
func (d Document) Status() string {
	s := d.firstString("status", "state", "transactionStatus")
	if s == "" {
		if nested, ok := d["transaction"].(map[string]any); ok {
			s = Document(nested).firstString("status", "state")
		}
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// BankLinkingURL returns the hosted bank-linking URL, if present. The
// provider sometimes ships it percent-encoded, occasionally twice.
func (d Document) BankLinkingURL() string {
	raw := d.FindString(maxSearchDepth,
		"partner_embedded_url", "partnerEmbeddedUrl",
		"bankLinkingUrl", "bank_linking_url", "linkingUrl", "url")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	if strings.Contains(decoded, "%") {
		if again, err := url.PathUnescape(decoded); err == nil {
			decoded = again
		}
	}
	return decoded
}

// Credentials pulls org-scoped API credentials out of a user or org
// response. Sandbox and live keys live under different names.
func (d Document) Credentials(sandbox bool) (apiKey, appID string) {
	if sandbox {
		apiKey = d.FindString(maxSearchDepth, "sandboxApiKey", "sandbox_api_key", "testApiKey")
		appID = d.FindString(maxSearchDepth, "sandboxAppId", "sandbox_app_id", "testAppId")
	} else {
		apiKey = d.FindString(maxSearchDepth, "apiKey", "api_key", "liveApiKey")
		appID = d.FindString(maxSearchDepth, "appId", "app_id", "liveAppId")
	}
	return apiKey, appID
}

func stringValue(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
