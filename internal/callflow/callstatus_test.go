package callflow

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestHandleCallStatus_TerminalFailures(t *testing.T) {
	for _, status := range []string{"busy", "no-answer", "canceled", "failed"} {
		t.Run(status, func(t *testing.T) {
			deps, received := testDeps(t)
			handler := HandleCallStatus(deps)

			form := strings.NewReader("CallStatus=" + status + "&SipResponseCode=480&CallSid=CA1")
			req := httptest.NewRequest(http.MethodPost, "/call-status?call_id=1", form)
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()

			handler(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", w.Code)
			}
			if atomic.LoadInt32(received) != 1 {
				t.Errorf("expected exactly one fallback dispatch for CallStatus=%s, got %d", status, atomic.LoadInt32(received))
			}
		})
	}
}

func TestHandleCallStatus_NonTerminal(t *testing.T) {
	deps, received := testDeps(t)
	handler := HandleCallStatus(deps)

	form := strings.NewReader("CallStatus=in-progress&CallSid=CA1")
	req := httptest.NewRequest(http.MethodPost, "/call-status?call_id=1", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	handler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if atomic.LoadInt32(received) != 0 {
		t.Errorf("expected no fallback dispatch for a non-terminal status, got %d", atomic.LoadInt32(received))
	}
}
