package callflow

import (
	"net/http"

	"github.com/leadbridge/callbridge/internal/twiml"
)

// HandleIncoming implements /incoming and / : the simple inbound/direct-dial
// document that connects the caller straight to the LLM voice agent,
// without the announce/gather/dial choreography bridge mode uses.
func HandleIncoming(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamURL := twiml.BuildStreamURL(deps.Config.PublicBaseURL, "/media-stream")

		params := []twiml.StreamParam{
			{Name: "mode", Value: "agent"},
			{Name: "voice_id", Value: deps.Config.DefaultVoiceID},
			{Name: "voice_provider", Value: deps.Config.DefaultVoiceProvider},
		}

		doc, err := twiml.ConnectStreamDocument(streamURL, params)
		if err != nil {
			deps.Log.Error("callflow: build connect-stream document failed", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeXML(w, doc)
	}
}
