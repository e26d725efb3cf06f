// Package classify runs the human-vs-voicemail and real-speech-vs-noise
// detector calls. Both operations short-circuit on fast local heuristics
// before ever reaching the external chat LLM, so that verification latency
// and robustness under classifier outage do not depend on a network round
// trip for the common case.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"github.com/leadbridge/callbridge/internal/audio"
	"github.com/leadbridge/callbridge/internal/llmchat"
	"github.com/leadbridge/callbridge/internal/metrics"
)

// Result is the shape returned by both classification operations.
type Result struct {
	IsHuman    bool
	Confidence float64
	Reason     string
}

// quickConfirmationPatterns is the fast-path pattern set. It is part of the
// contract: ported verbatim, case-insensitive, matched after punctuation is
// stripped. Do not add/remove entries casually.
var quickConfirmationPatterns = map[string]bool{
	"ok":         true,
	"sim":        true,
	"alo":        true,
	"pode":       true,
	"confirmado": true,
	"beleza":     true,
	"manda":      true,
	"positivo":   true,
}

var punctuationRE = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
var accentReplacer = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ã", "a",
	"é", "e", "ê", "e",
	"í", "i",
	"ó", "o", "ô", "o", "õ", "o",
	"ú", "u",
	"ç", "c",
)

func normalizeForMatch(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	lower = accentReplacer.Replace(lower)
	stripped := punctuationRE.ReplaceAllString(lower, "")
	return strings.Join(strings.Fields(stripped), " ")
}

func matchesQuickConfirmation(text string) bool {
	normalized := normalizeForMatch(text)
	if normalized == "" {
		return false
	}
	if quickConfirmationPatterns[normalized] {
		return true
	}
	for _, word := range strings.Fields(normalized) {
		if quickConfirmationPatterns[word] {
			return true
		}
	}
	return false
}

const sdrDetectorPrompt = `You are a strict call-screening classifier. Given a short transcript of the first words spoken after a phone call connects, decide whether a real human answered versus an answering machine/voicemail system. Bias toward voicemail when uncertain. Respond with exactly one JSON object and nothing else: {"is_human": bool, "confidence": number between 0 and 1, "reason": short string}.`

const leadDetectorPrompt = `You are a strict call-screening classifier. Given a transcript of a lead's side of a phone call, decide whether the speech is genuine human conversation versus noise, ring tone artifacts, or voicemail. Respond with exactly one JSON object and nothing else: {"is_human": bool, "confidence": number between 0 and 1, "reason": short string}.`

// Classifier runs both detector operations against an external chat LLM,
// building a per-call client when the caller supplies an override API key.
type Classifier struct {
	defaultClient *llmchat.Client
	newClient     func(apiKey string) *llmchat.Client
	log           *slog.Logger
}

// New builds a Classifier. newClient constructs an llmchat.Client pointed at
// the same base URL/model but with a caller-supplied API key; it is used
// when a call carries its own LLM key override.
func New(defaultClient *llmchat.Client, newClient func(apiKey string) *llmchat.Client, log *slog.Logger) *Classifier {
	return &Classifier{defaultClient: defaultClient, newClient: newClient, log: log}
}

func (c *Classifier) clientFor(apiKey string) *llmchat.Client {
	if apiKey == "" || c.newClient == nil {
		return c.defaultClient
	}
	return c.newClient(apiKey)
}

// ClassifySdrFirstSpeech decides human-vs-voicemail for the SDR's first
// words after the call connects.
func (c *Classifier) ClassifySdrFirstSpeech(ctx context.Context, text, apiKey string) Result {
	if matchesQuickConfirmation(text) {
		return Result{IsHuman: true, Confidence: 0.99, Reason: "quick_confirmation_pattern"}
	}
	return c.detect(ctx, sdrDetectorPrompt, text, apiKey, "classify_sdr")
}

// ClassifyLeadSpeech decides whether the lead's side of the call is genuine
// human speech, applying the noise/announcement pre-checks before ever
// calling the external LLM.
func (c *Classifier) ClassifyLeadSpeech(ctx context.Context, text, apiKey string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{IsHuman: false, Confidence: 1.0, Reason: "no_transcript"}
	}
	if audio.MatchesAnnouncement(text) {
		return Result{IsHuman: false, Confidence: 0.95, Reason: "only_bianca_messages"}
	}

	cleaned := CleanRingToneArtifacts(text)
	if len(strings.TrimSpace(cleaned)) < 3 || isPureNoise(cleaned) {
		return Result{IsHuman: false, Confidence: 0.9, Reason: "noise_or_artifacts"}
	}

	return c.detect(ctx, leadDetectorPrompt, text, apiKey, "classify_lead")
}

func (c *Classifier) detect(ctx context.Context, systemPrompt, text, apiKey, stage string) Result {
	client := c.clientFor(apiKey)
	if client == nil {
		c.log.Error("classify: no llm client configured", "stage", stage)
		metrics.Errors.WithLabelValues(stage, "llm").Inc()
		return Result{IsHuman: false, Confidence: 0, Reason: "error: no llm client configured"}
	}
	result, err := client.Complete(ctx, systemPrompt, text)
	if err != nil {
		c.log.Error("classify: llm call failed", "stage", stage, "error", err)
		metrics.Errors.WithLabelValues(stage, "llm").Inc()
		return Result{IsHuman: false, Confidence: 0, Reason: fmt.Sprintf("error: %v", err)}
	}

	parsed, err := parseDetectorResponse(result.Text)
	if err != nil {
		c.log.Error("classify: parse response failed", "stage", stage, "error", err)
		metrics.Errors.WithLabelValues(stage, "parse").Inc()
		return Result{IsHuman: false, Confidence: 0, Reason: fmt.Sprintf("error: %v", err)}
	}
	return parsed
}

var jsonBlockRE = regexp.MustCompile(`\{[^{}]*\}`)

func parseDetectorResponse(text string) (Result, error) {
	block := jsonBlockRE.FindString(text)
	if block == "" {
		return Result{}, fmt.Errorf("no json object in detector response")
	}
	parsed := gjson.Parse(block)
	if !parsed.IsObject() {
		return Result{}, fmt.Errorf("decode detector json: not an object")
	}
	return Result{
		IsHuman:    parsed.Get("is_human").Bool(),
		Confidence: parsed.Get("confidence").Float(),
		Reason:     parsed.Get("reason").String(),
	}, nil
}

var (
	ringToneRE      = regexp.MustCompile(`(?i)\bb+i+n+g+\b|\br+i+n+g+\b`)
	bracketedTagRE  = regexp.MustCompile(`\[[^\]]*\]`)
	controlCharRE   = regexp.MustCompile(`[\x00-\x1F\x7F]`)
	pureNoiseRE     = regexp.MustCompile(`^[\s.,!?-]*$`)
	whitespaceRunRE = regexp.MustCompile(`\s+`)
)

// CleanRingToneArtifacts strips repeated-character runs, ring-tone words
// ("BIIING"/"RIIING"), control characters, and bracketed noise tags from a
// transcript, collapsing the remaining whitespace. It is idempotent:
// re-running it on its own output is a no-op.
func CleanRingToneArtifacts(text string) string {
	cleaned := bracketedTagRE.ReplaceAllString(text, " ")
	cleaned = controlCharRE.ReplaceAllString(cleaned, " ")
	cleaned = ringToneRE.ReplaceAllString(cleaned, " ")
	cleaned = stripRepeatedRuns(cleaned)
	cleaned = whitespaceRunRE.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// stripRepeatedRuns replaces every run of four or more identical letters
// with a single space.
func stripRepeatedRuns(s string) string {
	runes := []rune(s)
	out := make([]rune, 0, len(runes))
	for i, j := 0, 0; i < len(runes); i = j {
		for j = i; j < len(runes) && runes[j] == runes[i]; j++ {
		}
		if j-i >= 4 && unicode.IsLetter(runes[i]) {
			out = append(out, ' ')
		} else {
			out = append(out, runes[i:j]...)
		}
	}
	return string(out)
}

func isPureNoise(text string) bool {
	return pureNoiseRE.MatchString(text)
}
