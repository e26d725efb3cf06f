package callflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/leadbridge/callbridge/internal/schema"
	"github.com/leadbridge/callbridge/internal/twilioapi"
)

// triggerParams is the normalized shape both /trigger-call and
// /webhook/speed-dial reduce their differently-keyed payloads into before
// running the shared trigger logic.
type triggerParams struct {
	LeadName        string
	LeadPhone       string
	SDRPhone        string
	DataAgendamento string
	N8NURL          string
	Token           string
	LeadID          string
	OpenAIKey       string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioBaseURL    string
}

// triggerResponse is the body returned by both trigger endpoints.
type triggerResponse struct {
	Success bool   `json:"success"`
	CallID  string `json:"call_id"`
	SID     string `json:"sid,omitempty"`
	Error   string `json:"error,omitempty"`
}

type triggerCallRequest struct {
	LeadName        string `json:"lead_name"`
	LeadPhone       string `json:"lead_phone"`
	SDRPhone        string `json:"sdr_phone"`
	DataAgendamento string `json:"data_agendamento"`
	N8NURL          string `json:"n8n_url"`
	Token           string `json:"token"`
	LeadID          string `json:"lead_id"`
	OpenAIKey       string `json:"openai_key"`
	TwilioConfig    struct {
		AccountSID string `json:"accountSid"`
		AuthToken  string `json:"authToken"`
		FromNumber string `json:"fromNumber"`
		BaseURL    string `json:"baseUrl"`
	} `json:"twilio_config"`
}

// HandleTriggerCall implements POST /trigger-call.
func HandleTriggerCall(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			respondBadRequest(w, deps, "", "read_body_failed: "+err.Error())
			return
		}

		result, err := schema.ValidateTriggerCall(body)
		if err != nil || !result.Valid {
			respondBadRequest(w, deps, "", validationReason(err, result))
			return
		}

		var req triggerCallRequest

		if err := json.Unmarshal(body, &req); err != nil {
			respondBadRequest(w, deps, "", "decode_failed: "+err.Error())
			return
		}

		params := triggerParams{
			LeadName:         req.LeadName,
			LeadPhone:        req.LeadPhone,
			SDRPhone:         req.SDRPhone,
			DataAgendamento:  req.DataAgendamento,
			N8NURL:           req.N8NURL,
			Token:            req.Token,
			LeadID:           req.LeadID,
			OpenAIKey:        req.OpenAIKey,
			TwilioAccountSID: req.TwilioConfig.AccountSID,
			TwilioAuthToken:  req.TwilioConfig.AuthToken,
			TwilioFromNumber: req.TwilioConfig.FromNumber,
			TwilioBaseURL:    req.TwilioConfig.BaseURL,
		}

		runTrigger(w, r.Context(), deps, params)
	}
}

type speedDialRequest struct {
	NomeLead        string `json:"nome_lead"`
	TelefoneLead    string `json:"telefone_lead"`
	TelefoneSDR     string `json:"telefone_sdr"`
	DataAgendamento string `json:"data_agendamento"`
	N8NURL          string `json:"n8n_url"`
	Token           string `json:"token"`
	LeadID          string `json:"lead_id"`
	Credenciais     struct {
		OpenAIKey        string `json:"openai_key"`
		TwilioAccountSID string `json:"twilio_account_sid"`
		TwilioAuthToken  string `json:"twilio_auth_token"`
		TwilioFromNumber string `json:"twilio_from_number"`
		TwilioBaseURL    string `json:"twilio_base_url"`
	} `json:"credenciais"`
}

// HandleSpeedDial implements POST /webhook/speed-dial: the Portuguese-keyed
// sibling of /trigger-call, with credentials embedded in the payload. Same
// fallback coverage.
func HandleSpeedDial(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			respondBadRequest(w, deps, "", "read_body_failed: "+err.Error())
			return
		}

		result, err := schema.ValidateSpeedDial(body)
		if err != nil || !result.Valid {
			respondBadRequest(w, deps, "", validationReason(err, result))
			return
		}

		var req speedDialRequest
		if err := json.Unmarshal(body, &req); err != nil {
			respondBadRequest(w, deps, "", "decode_failed: "+err.Error())
			return
		}

		params := triggerParams{
			LeadName:         req.NomeLead,
			LeadPhone:        req.TelefoneLead,
			SDRPhone:         req.TelefoneSDR,
			DataAgendamento:  req.DataAgendamento,
			N8NURL:           req.N8NURL,
			Token:            req.Token,
			LeadID:           req.LeadID,
			OpenAIKey:        req.Credenciais.OpenAIKey,
			TwilioAccountSID: req.Credenciais.TwilioAccountSID,
			TwilioAuthToken:  req.Credenciais.TwilioAuthToken,
			TwilioFromNumber: req.Credenciais.TwilioFromNumber,
			TwilioBaseURL:    req.Credenciais.TwilioBaseURL,
		}

		runTrigger(w, r.Context(), deps, params)
	}
}

func validationReason(err error, result *schema.ValidationResult) string {
	if err != nil {
		return "invalid_payload: " + err.Error()
	}
	if result == nil || len(result.Errors) == 0 {
		return "invalid_payload"
	}
	return "invalid_payload: " + result.Errors[0].Error()
}

// respondBadRequest dispatches a fallback event and returns the standard
// {success:false, call_id, error} shape with a 4xx status, per §7 kind 1.
func respondBadRequest(w http.ResponseWriter, deps Deps, callID, reason string) {
	if callID == "" {
		callID = generateCallID()
	}
	deps.WebhookDispatcher.DispatchFallback(context.Background(), fallbackEvent(reason, "", "", "", "", callID), "", deps.Config.N8NWebhookURL)
	writeJSON(w, http.StatusBadRequest, triggerResponse{Success: false, CallID: callID, Error: reason})
}

// runTrigger is the shared core: generate call_id, validate credentials,
// sanitize phones, build the connect-lead callback URL, and invoke the
// provider's call-creation API. Every failure branch dispatches a fallback
// event before responding, per §4.9/§7.
func runTrigger(w http.ResponseWriter, ctx context.Context, deps Deps, p triggerParams) {
	callID := generateCallID()

	defer func() {
		if rec := recover(); rec != nil {
			reason := fmt.Sprintf("exception: %v", rec)
			deps.Log.Error("callflow: trigger panicked", "call_id", callID, "error", rec)
			deps.WebhookDispatcher.DispatchFallback(ctx, fallbackEvent(reason, "", "", p.Token, p.LeadID, callID), p.Token, p.N8NURL)
			writeJSON(w, http.StatusInternalServerError, triggerResponse{Success: false, CallID: callID, Error: reason})
		}
	}()

	if p.LeadName == "" || p.LeadPhone == "" || p.SDRPhone == "" {
		respondMissingFields(w, deps, callID)
		return
	}

	creds := twilioCreds(deps.Config, p.TwilioAccountSID, p.TwilioAuthToken, p.TwilioFromNumber, p.TwilioBaseURL)
	if creds.AccountSID == "" || creds.AuthToken == "" || creds.FromNumber == "" {
		deps.WebhookDispatcher.DispatchFallback(ctx, fallbackEvent("missing_credentials", "", "", p.Token, p.LeadID, callID), p.Token, p.N8NURL)
		writeJSON(w, http.StatusBadRequest, triggerResponse{Success: false, CallID: callID, Error: "missing_credentials"})
		return
	}

	leadPhone := sanitizePhone(p.LeadPhone)
	sdrPhone := sanitizePhone(p.SDRPhone)

	connectLeadURL := deps.Config.PublicBaseURL + "/connect-lead?" + downstreamQuery(map[string]string{
		"call_id":           callID,
		"lead_name":         p.LeadName,
		"lead_phone":        leadPhone,
		"data_agendamento":  p.DataAgendamento,
		"n8n_url":           p.N8NURL,
		"token":             p.Token,
		"lead_id":           p.LeadID,
		"openai_key":        p.OpenAIKey,
		"from_number":       creds.FromNumber,
	})
	statusCallbackURL := deps.Config.PublicBaseURL + "/call-status?" + downstreamQuery(map[string]string{
		"call_id": callID,
		"token":   p.Token,
		"lead_id": p.LeadID,
		"n8n_url": p.N8NURL,
	})

	result, err := twilioapi.CreateCall(creds, twilioapi.CreateCallParams{
		To:                sdrPhone,
		From:              creds.FromNumber,
		URL:               connectLeadURL,
		StatusCallbackURL: statusCallbackURL,
	})
	if err != nil {
		reason := fmt.Sprintf("twilio_api_error: %v", err)
		deps.WebhookDispatcher.DispatchFallback(ctx, fallbackEvent(reason, "", "", p.Token, p.LeadID, callID), p.Token, p.N8NURL)
		writeJSON(w, http.StatusOK, triggerResponse{Success: false, CallID: callID, Error: reason})
		return
	}

	writeJSON(w, http.StatusOK, triggerResponse{Success: true, CallID: callID, SID: result.SID})
}

func respondMissingFields(w http.ResponseWriter, deps Deps, callID string) {
	deps.WebhookDispatcher.DispatchFallback(context.Background(), fallbackEvent("missing_required_fields", "", "", "", "", callID), "", deps.Config.N8NWebhookURL)
	writeJSON(w, http.StatusBadRequest, triggerResponse{Success: false, CallID: callID, Error: "missing_required_fields"})
}
