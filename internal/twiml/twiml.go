// Package twiml builds the telephony control documents this system emits,
// as thin wrappers over twilio-go's twiml element structs.
package twiml

import (
	"fmt"

	"github.com/twilio/twilio-go/twiml"
)

// StreamParam is one key/value pair attached to a <Stream> element, mapping
// directly onto a call's recognized options.
type StreamParam struct {
	Name  string
	Value string
}

func paramElements(params []StreamParam) []twiml.Element {
	elements := make([]twiml.Element, 0, len(params))
	for _, p := range params {
		elements = append(elements, &twiml.VoiceParameter{Name: p.Name, Value: p.Value})
	}
	return elements
}

// AnnounceDocument builds the connect-lead document: starts the
// bidirectional media stream with every recognized option as a stream
// parameter, speaks the announcement, then gathers the SDR's confirmation
// speech. timeoutRedirect is a trailing <Redirect>, which TwiML falls
// through to when <Gather> completes without capturing speech.
func AnnounceDocument(streamURL, announcement, gatherAction, timeoutRedirect string, params []StreamParam) (string, error) {
	stream := &twiml.VoiceStream{
		Url:           streamURL,
		Track:         "both_tracks",
		InnerElements: paramElements(params),
	}
	start := &twiml.VoiceStart{InnerElements: []twiml.Element{stream}}

	say := &twiml.VoiceSay{
		Message:  announcement,
		Voice:    "Polly.Camila-Neural",
		Language: "pt-BR",
	}

	gatherSay := &twiml.VoiceSay{
		Message:  "Diga algo para confirmar",
		Voice:    "Polly.Camila-Neural",
		Language: "pt-BR",
	}
	gather := &twiml.VoiceGather{
		Input:         "speech",
		Timeout:       "3",
		SpeechTimeout: "2",
		Language:      "pt-BR",
		Action:        gatherAction,
		Method:        "POST",
		InnerElements: []twiml.Element{gatherSay},
	}

	redirect := &twiml.VoiceRedirect{Message: timeoutRedirect}

	return twiml.Voice([]twiml.Element{start, say, gather, redirect})
}

// MachineDetectedDocument hangs up immediately, used when the provider's
// own machine detection reports an answering machine.
func MachineDetectedDocument() (string, error) {
	return twiml.Voice([]twiml.Element{&twiml.VoiceHangup{}})
}

// VerifyConfirmedDocument dials the lead after the SDR is confirmed human.
func VerifyConfirmedDocument(fromNumber, leadPhone string) (string, error) {
	say := &twiml.VoiceSay{
		Message:  "Conectando com o lead agora",
		Voice:    "Polly.Camila-Neural",
		Language: "pt-BR",
	}
	dial := &twiml.VoiceDial{
		CallerId: fromNumber,
		Timeout:  "30",
		Message:  leadPhone,
	}
	return twiml.Voice([]twiml.Element{say, dial})
}

// VerifyNotConfirmedDocument plays the rejection notice and hangs up, used
// when the SDR's speech fails classification.
func VerifyNotConfirmedDocument() (string, error) {
	say := &twiml.VoiceSay{
		Message:  "Não foi possível confirmar o atendimento. A ligação será encerrada.",
		Voice:    "Polly.Camila-Neural",
		Language: "pt-BR",
	}
	return twiml.Voice([]twiml.Element{say, &twiml.VoiceHangup{}})
}

// ConnectStreamDocument builds the simple inbound/direct-dial document: a
// bidirectional media stream without the announce/gather/dial choreography.
func ConnectStreamDocument(streamURL string, params []StreamParam) (string, error) {
	stream := &twiml.VoiceStream{
		Url:           streamURL,
		InnerElements: paramElements(params),
	}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	return twiml.Voice([]twiml.Element{connect})
}

// BuildStreamURL joins a public base URL with the media-stream path,
// switching the scheme to a WebSocket scheme.
func BuildStreamURL(publicBaseURL, path string) string {
	scheme := "wss"
	host := publicBaseURL
	for _, prefix := range []string{"https://", "http://"} {
		if len(host) >= len(prefix) && host[:len(prefix)] == prefix {
			if prefix == "http://" {
				scheme = "ws"
			}
			host = host[len(prefix):]
			break
		}
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, path)
}
