package callflow

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestSanitizePhone(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"+55 (11) 99999-8888", "+5511999998888"},
		{"5511999998888", "5511999998888"},
		{"+1-555-123-4567", "+15551234567"},
		{"no digits here", ""},
		{"", ""},
		{"++5511999998888", "+5511999998888"}, // only the leading '+' survives
	}
	for _, c := range cases {
		got := sanitizePhone(c.in)
		if got != c.want {
			t.Errorf("sanitizePhone(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDownstreamQuery_OmitsEmptyValues(t *testing.T) {
	q := downstreamQuery(map[string]string{
		"call_id": "123",
		"token":   "",
		"lead_id": "lead-9",
	})
	values, err := url.ParseQuery(q)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	if values.Get("call_id") != "123" {
		t.Errorf("expected call_id=123, got %q", values.Get("call_id"))
	}
	if values.Has("token") {
		t.Errorf("expected empty token to be omitted from the query string")
	}
	if values.Get("lead_id") != "lead-9" {
		t.Errorf("expected lead_id=lead-9, got %q", values.Get("lead_id"))
	}
}

func TestFormOrQuery_PrefersFormThenQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/verify-sdr?SpeechResult=from-query", strings.NewReader("SpeechResult=from-form"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	got := formOrQuery(req, "SpeechResult")
	if got != "from-form" {
		t.Errorf("formOrQuery = %q, want form value to win", got)
	}
}

func TestFormOrQuery_FallsBackToQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/call-status?CallStatus=busy", nil)
	got := formOrQuery(req, "CallStatus")
	if got != "busy" {
		t.Errorf("formOrQuery = %q, want busy", got)
	}
}

func TestFormOrQuery_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/call-status", nil)
	got := formOrQuery(req, "CallStatus")
	if got != "" {
		t.Errorf("formOrQuery = %q, want empty string", got)
	}
}
