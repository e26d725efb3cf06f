// Package callflow implements the HTTP call-flow controller: the trigger
// endpoint, the two-stage SDR verification endpoints, the inbound handler,
// the status callback, and the media-stream upgrade, all emitting the
// telephony control documents described in spec.md §4.9.
package callflow

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/leadbridge/callbridge/internal/classify"
	"github.com/leadbridge/callbridge/internal/config"
	"github.com/leadbridge/callbridge/internal/detection"
	"github.com/leadbridge/callbridge/internal/model"
	"github.com/leadbridge/callbridge/internal/session"
	"github.com/leadbridge/callbridge/internal/twilioapi"
	"github.com/leadbridge/callbridge/internal/webhook"
)

// Deps is the shared service container every HTTP handler closes over.
type Deps struct {
	Config            *config.Config
	DetectionCache    *detection.Cache
	Classifier        *classify.Classifier
	WebhookDispatcher *webhook.Dispatcher
	SessionDeps       session.Deps
	Log               *slog.Logger
}

// generateCallID produces the "<unix-ms>-<random>" identifier assigned at
// trigger time, per §4.9.
func generateCallID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), hex.EncodeToString(buf))
}

// twilioCreds resolves the per-call Twilio subaccount, falling back to the
// process-wide configured defaults when the trigger payload doesn't
// override them.
func twilioCreds(cfg *config.Config, accountSID, authToken, fromNumber, baseURL string) twilioapi.Credentials {
	return twilioapi.Credentials{
		AccountSID: firstNonEmpty(accountSID, cfg.TwilioAccountSID),
		AuthToken:  firstNonEmpty(authToken, cfg.TwilioAuthToken),
		FromNumber: firstNonEmpty(fromNumber, cfg.TwilioFromNumber),
		BaseURL:    baseURL,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// writeJSON writes v as the JSON response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeXML writes a telephony control document response.
func writeXML(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(doc))
}

// fallbackEvent builds the fallback event envelope shared by every HTTP
// failure branch.
func fallbackEvent(reason, sipCode, callSID, token, leadID, callID string) model.FallbackEvent {
	return model.FallbackEvent{
		AssistantName: "BIANCA",
		Timestamp:     time.Now(),
		Status:        "failed",
		Mode:          model.ModeBridge,
		Source:        model.FallbackSource,
		ErrorReason:   reason,
		SIPCode:       sipCode,
		CallSID:       callSID,
		Token:         token,
		LeadID:        leadID,
		CallID:        callID,
	}
}
