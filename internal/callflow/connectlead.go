package callflow

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/leadbridge/callbridge/internal/classify"
	"github.com/leadbridge/callbridge/internal/model"
	"github.com/leadbridge/callbridge/internal/twiml"
)

// HandleConnectLead implements the announce→gather leg of bridge mode: it
// starts the bidirectional media stream, speaks the new-lead announcement,
// then gathers the SDR's confirmation speech. The provider's own machine
// detection is checked first — a machine/fax answer skips straight to
// hangup + fallback, since there is no point recording or verifying.
func HandleConnectLead(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		q := r.URL.Query()

		callID := q.Get("call_id")
		leadName := q.Get("lead_name")
		leadPhone := q.Get("lead_phone")
		dataAgendamento := q.Get("data_agendamento")
		n8nURL := q.Get("n8n_url")
		token := q.Get("token")
		leadID := q.Get("lead_id")
		openaiKey := q.Get("openai_key")
		fromNumber := q.Get("from_number")

		answeredBy := r.FormValue("AnsweredBy")
		callSID := r.FormValue("CallSid")

		if answeredBy == "machine_start" || answeredBy == "machine_end_beep" ||
			answeredBy == "machine_end_silence" || answeredBy == "machine_end_other" || answeredBy == "fax" {
			deps.WebhookDispatcher.DispatchFallback(r.Context(),
				fallbackEvent(fmt.Sprintf("machine_detection: %s", answeredBy), "", callSID, token, leadID, callID),
				token, n8nURL)
			doc, _ := twiml.MachineDetectedDocument()
			writeXML(w, doc)
			return
		}

		streamURL := twiml.BuildStreamURL(deps.Config.PublicBaseURL, "/media-stream")

		gatherAction := "/verify-sdr?" + downstreamQuery(map[string]string{
			"call_id":     callID,
			"lead_phone":  leadPhone,
			"from_number": fromNumber,
			"token":       token,
			"lead_id":     leadID,
			"n8n_url":     n8nURL,
		})

		params := []twiml.StreamParam{
			{Name: "call_id", Value: callID},
			{Name: "mode", Value: string(model.ModeBridge)},
			{Name: "automation_endpoint", Value: n8nURL},
			{Name: "user_token", Value: token},
			{Name: "lead_id", Value: leadID},
			{Name: "custom_llm_key", Value: openaiKey},
		}

		timeoutRedirect := "/verify-sdr?" + downstreamQuery(map[string]string{
			"call_id":       callID,
			"lead_phone":    leadPhone,
			"from_number":   fromNumber,
			"token":         token,
			"lead_id":       leadID,
			"n8n_url":       n8nURL,
			"speech_result": "timeout",
		})

		doc, err := twiml.AnnounceDocument(streamURL, announcementMessage(leadName, dataAgendamento), gatherAction, timeoutRedirect, params)
		if err != nil {
			deps.Log.Error("callflow: build announce document failed", "call_id", callID, "error", err)
			doc, _ = twiml.MachineDetectedDocument()
		}
		writeXML(w, doc)
	}
}

// announcementMessage renders the Portuguese new-lead notice, per §4.9.
func announcementMessage(leadName, dataAgendamento string) string {
	if dataAgendamento != "" {
		return fmt.Sprintf("Novo lead: %s; Agendado para %s", leadName, dataAgendamento)
	}
	return fmt.Sprintf("Novo lead: %s; Pediu para falar com especialista", leadName)
}

// HandleVerifySdr implements the two-stage verification's second half: it
// classifies the SDR's captured speech, stores the outcome in the
// detection cache for the media session to pick up on stream-start, and
// either connects the lead or hangs up with the rejection notice.
func HandleVerifySdr(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		speechResult := formOrQuery(r, "SpeechResult")
		if speechResult == "" {
			speechResult = r.URL.Query().Get("speech_result")
			if speechResult == "timeout" {
				speechResult = ""
			}
		}

		callSID := formOrQuery(r, "CallSid")
		q := r.URL.Query()
		callID := q.Get("call_id")
		leadPhone := q.Get("lead_phone")
		fromNumber := q.Get("from_number")
		token := q.Get("token")
		leadID := q.Get("lead_id")
		n8nURL := q.Get("n8n_url")

		result := classifySdrSpeech(r.Context(), deps, speechResult)

		deps.DetectionCache.Store(model.DetectionRecord{
			CallSID:    callSID,
			Answered:   result.IsHuman,
			Reason:     result.Reason,
			Confidence: result.Confidence,
			FirstWords: speechResult,
			CreatedAt:  time.Now(),
		})

		if result.IsHuman {
			doc, err := twiml.VerifyConfirmedDocument(fromNumber, leadPhone)
			if err != nil {
				deps.Log.Error("callflow: build verify-confirmed document failed", "call_id", callID, "error", err)
			}
			writeXML(w, doc)
			return
		}

		reason := fmt.Sprintf("sdr_not_confirmed: %s", result.Reason)
		deps.WebhookDispatcher.DispatchFallback(r.Context(), fallbackEvent(reason, "", callSID, token, leadID, callID), token, n8nURL)

		doc, err := twiml.VerifyNotConfirmedDocument()
		if err != nil {
			deps.Log.Error("callflow: build verify-not-confirmed document failed", "call_id", callID, "error", err)
		}
		writeXML(w, doc)
	}
}

func classifySdrSpeech(ctx context.Context, deps Deps, speechResult string) classify.Result {
	if speechResult == "" {
		return classify.Result{IsHuman: false, Confidence: 0, Reason: "timeout_no_speech"}
	}
	return deps.Classifier.ClassifySdrFirstSpeech(ctx, speechResult, "")
}
