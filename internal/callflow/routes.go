package callflow

import (
	"net/http"
)

// RegisterRoutes wires every call-flow endpoint onto mux, each wrapped in
// permissive CORS per §6 ("CORS: permissive on all endpoints").
func RegisterRoutes(mux *http.ServeMux, deps Deps) {
	mux.Handle("POST /trigger-call", withCORS(HandleTriggerCall(deps)))
	mux.Handle("POST /webhook/speed-dial", withCORS(HandleSpeedDial(deps)))
	mux.Handle("/connect-lead", withCORS(HandleConnectLead(deps)))
	mux.Handle("/verify-sdr", withCORS(HandleVerifySdr(deps)))
	mux.Handle("/call-status", withCORS(HandleCallStatus(deps)))
	mux.Handle("/incoming", withCORS(HandleIncoming(deps)))
	mux.Handle("/media-stream", HandleMediaStream(deps))
	mux.Handle("/", withCORS(HandleIncoming(deps)))
}

// withCORS answers preflight requests and attaches permissive CORS headers
// to every response, matching §6's "CORS: permissive on all endpoints".
func withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}
