package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"github.com/antinvestor/monarch-ach/service/linking"
)

// callbackPage is what the provider's hosted flow redirects the popup to.
// It signals the opener window and keeps retrying in case the checkout
// page has not attached its listener yet.
var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><title>Bank Connected</title></head>
<body>
<p>Finishing up, this window will close itself.</p>
<script>
(function () {
	var payload = {{.PayloadJSON}};
	var attempts = 0;
	function signal() {
		attempts++;
		if (window.opener) {
			window.opener.postMessage(payload, "*");
		}
		if (attempts < 5) {
			setTimeout(signal, 3000);
		} else {
			window.close();
		}
	}
	payload.status = "LANDED";
	if (window.opener) {
		payload.status = "WINDOW_OPENED";
	}
	if (payload.paytoken_id) {
		payload.status = "SUCCESS";
	}
	if (!window.opener && payload.checkout_url) {
		// popup was blocked and the hosted flow took over this window;
		// send the shopper back to checkout instead of signalling nobody
		window.location = payload.checkout_url;
		return;
	}
	signal();
})();
</script>
</body>
</html>
`))

// BankCallbackHandler lands the shopper after the hosted bank-linking
// flow. It completes the linkage server side, then serves a page that
// notifies the checkout window.
func (gs *GatewayServer) BankCallbackHandler(w http.ResponseWriter, r *http.Request) {
	store, userID := gs.Stores.StoreFor(w, r)

	orgID := r.URL.Query().Get("org_id")
	payTokenID := ""

	record, err := gs.Flow.CompleteLinking(r.Context(), store, userID)
	if err == nil {
		orgID = record.OrgID
		payTokenID = record.PayTokenID
	} else if !errors.Is(err, linking.ErrTokenNotReady) && !errors.Is(err, linking.ErrNotLinked) {
		gs.Service.Log(r.Context()).WithError(err).Warn("bank callback could not complete linking")
	}

	payload, err := json.Marshal(map[string]string{
		"type":         "BANK_CALLBACK",
		"status":       "LANDED",
		"org_id":       orgID,
		"paytoken_id":  payTokenID,
		"checkout_url": gs.Config.CheckoutURL,
	})
	if err != nil {
		http.Error(w, "could not build callback payload", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	execErr := callbackPage.Execute(w, map[string]any{
		"PayloadJSON": template.JS(payload),
	})
	if execErr != nil {
		fmt.Fprint(w, "Bank linking finished. You can close this window.")
	}
}
