package callflow

import (
	"fmt"
	"net/http"
)

// terminalFailureStatuses are the provider call statuses that mean the
// call never connected, per §4.9/§7 kind 3.
var terminalFailureStatuses = map[string]bool{
	"busy":      true,
	"no-answer": true,
	"canceled":  true,
	"failed":    true,
}

// HandleCallStatus implements the status callback: for any terminal
// non-connection status it dispatches a fallback event carrying the
// provider's SIP response code when present, and always responds with an
// empty 200 — the provider doesn't read this body.
func HandleCallStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := formOrQuery(r, "CallStatus")
		sipCode := formOrQuery(r, "SipResponseCode")
		callSID := formOrQuery(r, "CallSid")

		q := r.URL.Query()
		callID := q.Get("call_id")
		token := q.Get("token")
		leadID := q.Get("lead_id")
		n8nURL := q.Get("n8n_url")

		if terminalFailureStatuses[status] {
			reason := fmt.Sprintf("call_status_%s", status)
			deps.WebhookDispatcher.DispatchFallback(r.Context(), fallbackEvent(reason, sipCode, callSID, token, leadID, callID), token, n8nURL)
		}

		w.WriteHeader(http.StatusOK)
	}
}
