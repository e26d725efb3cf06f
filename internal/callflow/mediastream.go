package callflow

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/leadbridge/callbridge/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleMediaStream upgrades the connection to the telephony provider's
// media WebSocket and runs a session to completion. defaultMode is "agent"
// — the start frame's customParameters override it to "bridge" for
// /connect-lead-originated streams, per §4.8.
func HandleMediaStream(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			deps.Log.Error("callflow: websocket upgrade failed", "error", err)
			return
		}

		sess := session.New(conn, deps.SessionDeps, "agent", "media-stream")
		sess.Run(r.Context())
	}
}
