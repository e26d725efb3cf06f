package session

// wireFrame is one inbound JSON frame from the telephony media WebSocket.
type wireFrame struct {
	Event string        `json:"event"`
	Start *startPayload `json:"start,omitempty"`
	Media *mediaPayload `json:"media,omitempty"`
}

type startPayload struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

type mediaPayload struct {
	Track     string `json:"track"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

type outboundMediaFrame struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid"`
	Media     outboundMedia `json:"media"`
}

type outboundMedia struct {
	Payload string `json:"payload"`
}

type clearFrame struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}
