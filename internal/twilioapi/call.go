// Package twilioapi wraps the telephony provider's REST call-creation API
// (out of scope per spec.md §1 as a contract, but the trigger handler must
// still invoke it) using the same twilio-go client the twiml package builds
// documents for.
package twilioapi

import (
	"fmt"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Credentials identifies which Twilio subaccount to place the call from.
// Per-call overrides (the trigger payload's twilio_config) take precedence
// over the process-wide defaults.
type Credentials struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
}

// CreateCallParams are the parameters this system always sets on outbound
// SDR calls: machine detection so the provider can flag voicemail before
// the media stream even opens, and a status callback so terminal
// non-connection states (busy/no-answer/canceled/failed) reach /call-status.
type CreateCallParams struct {
	To                string
	From              string
	URL               string
	StatusCallbackURL string
}

// Result is the outcome of a successful call-creation request.
type Result struct {
	SID string
}

// CreateCall places an outbound call via the provider's REST API with
// machine detection enabled and a status callback registered for the
// "completed" event.
func CreateCall(creds Credentials, p CreateCallParams) (*Result, error) {
	clientParams := twilio.ClientParams{
		Username: creds.AccountSID,
		Password: creds.AuthToken,
	}
	if creds.BaseURL != "" {
		clientParams.ApiBaseURL = creds.BaseURL
	}
	client := twilio.NewRestClientWithParams(clientParams)

	params := &openapi.CreateCallParams{}
	params.SetTo(p.To)
	params.SetFrom(p.From)
	params.SetUrl(p.URL)
	params.SetMachineDetection("Enable")
	params.SetStatusCallback(p.StatusCallbackURL)
	params.SetStatusCallbackEvent([]string{"completed"})

	resp, err := client.Api.CreateCall(params)
	if err != nil {
		return nil, fmt.Errorf("twilioapi: create call: %w", err)
	}
	if resp.Sid == nil {
		return nil, fmt.Errorf("twilioapi: create call: no sid in response")
	}
	return &Result{SID: *resp.Sid}, nil
}
