// Package llmchat is the single-turn, non-streaming external chat LLM client
// used by internal/classify to run the human-vs-voicemail and
// real-speech-vs-noise detector prompts. It is the only caller of the
// openai-agents-go SDK in this repository; the call's own voice
// conversation goes over the separate realtime WebSocket in
// internal/llmrealtime, not through here.
package llmchat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"
)

// Client runs single-turn completions against a registered OpenAI-compatible
// provider, for callers that need the full response text at once rather
// than token-by-token streaming.
type Client struct {
	provider  agents.ModelProvider
	model     string
	maxTokens int
}

// New builds a client pointed at baseURL with apiKey, defaulting to model
// when the caller doesn't override it per-call.
func New(baseURL, apiKey, model string, maxTokens int) *Client {
	provider := agents.NewOpenAIProvider(agents.OpenAIProviderParams{
		BaseURL:      param.NewOpt(baseURL),
		APIKey:       param.NewOpt(apiKey),
		UseResponses: param.NewOpt(true),
	})
	return &Client{provider: provider, model: model, maxTokens: maxTokens}
}

// Result is the outcome of a single completion.
type Result struct {
	Text      string
	LatencyMs float64
}

// Complete runs one turn: systemPrompt as instructions, userMessage as the
// sole input, and returns the full response text.
func (c *Client) Complete(ctx context.Context, systemPrompt, userMessage string) (*Result, error) {
	agent := agents.New("detector").
		WithInstructions(systemPrompt).
		WithModel(c.model).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(c.maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   c.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	start := time.Now()

	events, errCh, err := runner.RunStreamedChan(ctx, agent, userMessage)
	if err != nil {
		return nil, fmt.Errorf("llmchat stream start: %w", err)
	}

	var textBuf strings.Builder
	for ev := range events {
		raw, ok := ev.(agents.RawResponsesStreamEvent)
		if !ok {
			continue
		}
		if raw.Data.Type != "response.output_text.delta" {
			continue
		}
		textBuf.WriteString(raw.Data.Delta)
	}

	if streamErr := <-errCh; streamErr != nil {
		return nil, fmt.Errorf("llmchat stream: %w", streamErr)
	}

	return &Result{
		Text:      textBuf.String(),
		LatencyMs: float64(time.Since(start).Milliseconds()),
	}, nil
}
