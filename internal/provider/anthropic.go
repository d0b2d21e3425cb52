package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/kea-dev/kea/internal/message"
)

const (
	anthropicAPIVersion = "2023-06-01"
	anthropicMaxTokens  = 4096
)

// AnthropicProvider implements the anthropic-messages wire kind.
type AnthropicProvider struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewAnthropicProvider builds an adapter for Anthropic's Messages API.
func NewAnthropicProvider(name, model, apiKey, baseURL string, client *http.Client) *AnthropicProvider {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &AnthropicProvider{name: name, model: model, apiKey: apiKey, baseURL: baseURL, client: client}
}

func (a *AnthropicProvider) Name() string           { return a.name }
func (a *AnthropicProvider) SupportsVision() bool   { return true }
func (a *AnthropicProvider) FreeTier() bool         { return false }
func (a *AnthropicProvider) IsConfigured() bool     { return a.apiKey != "" }
func (a *AnthropicProvider) Close()                 { a.client.CloseIdleConnections() }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicRequest struct {
	Model     string              `json:"model"`
	MaxTokens int                 `json:"max_tokens"`
	Messages  []anthropicMessage  `json:"messages"`
	System    string              `json:"system,omitempty"`
	Stream    bool                `json:"stream"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Text string `json:"text"`
	} `json:"delta"`
}

// toRequest builds the Messages API request body. Anthropic's content-block
// array shape is, field for field, the universal message.Part shape
// (type/text, or type/source{type,media_type,data}), so FormatForClaude is a
// pass-through and message.Part's own JSON tags do the wire encoding — no
// separate per-vendor content-building helper is needed here, unlike
// OpenAI/Gemini where the wire shape genuinely differs.
func (a *AnthropicProvider) toRequest(messages []message.Message, systemPrompt string) anthropicRequest {
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		formatted := message.FormatForClaude(m)
		if formatted.IsMultimodal() {
			out = append(out, anthropicMessage{Role: string(formatted.Role), Content: formatted.Parts})
		} else {
			out = append(out, anthropicMessage{Role: string(formatted.Role), Content: formatted.Text})
		}
	}
	return anthropicRequest{
		Model:     a.model,
		MaxTokens: anthropicMaxTokens,
		Messages:  out,
		System:    systemPrompt,
		Stream:    true,
	}
}

// StreamChat streams a completion from the Messages API. All failures
// become a single error chunk; the channel is always closed.
func (a *AnthropicProvider) StreamChat(ctx context.Context, messages []message.Message, systemPrompt string) <-chan StreamChunk {
	out := make(chan StreamChunk)

	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				emit(ctx, out, StreamChunk{Provider: a.name, Err: fmt.Errorf("panic: %v", r)})
			}
		}()

		body, err := json.Marshal(a.toRequest(messages, systemPrompt))
		if err != nil {
			emit(ctx, out, StreamChunk{Provider: a.name, Err: err})
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
		if err != nil {
			emit(ctx, out, StreamChunk{Provider: a.name, Err: err})
			return
		}
		req.Header.Set("x-api-key", a.apiKey)
		req.Header.Set("anthropic-version", anthropicAPIVersion)
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			emit(ctx, out, StreamChunk{Provider: a.name, Err: err})
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			emit(ctx, out, StreamChunk{Provider: a.name, Err: fmt.Errorf("anthropic: unexpected status %d", resp.StatusCode)})
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				continue
			}
			switch event.Type {
			case "content_block_delta":
				if event.Delta != nil && event.Delta.Text != "" {
					if !emit(ctx, out, StreamChunk{Provider: a.name, Content: event.Delta.Text}) {
						return
					}
				}
			case "message_stop":
				emit(ctx, out, StreamChunk{Provider: a.name, Done: true})
				return
			}
		}
		if err := scanner.Err(); err != nil {
			emit(ctx, out, StreamChunk{Provider: a.name, Err: err})
			return
		}
		emit(ctx, out, StreamChunk{Provider: a.name, Done: true})
	}()

	return out
}

// emit sends chunk on ch unless ctx is already done, returning false when
// the stream was cancelled so the caller can stop producing further chunks.
func emit(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
