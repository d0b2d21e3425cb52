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

// openAIFormatProvider is the shared implementation behind openai-chat,
// openrouter-chat, and openai-compatible-chat: three wire kinds that only
// differ in base URL, extra headers, and free-tier detection. Generalizing
// the OpenAI/Mistral/Grok family into one parameterised implementation is
// the approach SPEC_FULL.md's design notes call for.
type openAIFormatProvider struct {
	name     string
	model    string
	apiKey   string
	baseURL  string
	client   *http.Client
	headers  map[string]string
	freeTier bool
	// configured overrides IsConfigured for wire kinds that can run without
	// an API key (openai-compatible local servers).
	configuredOverride *bool
}

func newOpenAIFormatProvider(name, model, apiKey, baseURL string, client *http.Client, extraHeaders map[string]string, freeTier bool) *openAIFormatProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &openAIFormatProvider{
		name: name, model: model, apiKey: apiKey, baseURL: baseURL,
		client: client, headers: extraHeaders, freeTier: freeTier,
	}
}

func (p *openAIFormatProvider) Name() string         { return p.name }
func (p *openAIFormatProvider) SupportsVision() bool { return true }
func (p *openAIFormatProvider) FreeTier() bool       { return p.freeTier }
func (p *openAIFormatProvider) Close()               { p.client.CloseIdleConnections() }

func (p *openAIFormatProvider) IsConfigured() bool {
	if p.configuredOverride != nil {
		return *p.configuredOverride
	}
	return p.apiKey != ""
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIChatRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (p *openAIFormatProvider) toRequest(messages []message.Message, systemPrompt string) openAIChatRequest {
	out := make([]openAIMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openAIMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range messages {
		role, text, parts := message.FormatForOpenAI(m)
		if parts != nil {
			out = append(out, openAIMessage{Role: string(role), Content: parts})
		} else {
			out = append(out, openAIMessage{Role: string(role), Content: text})
		}
	}
	return openAIChatRequest{Model: p.model, Messages: out, Stream: true}
}

// StreamChat streams a chat completion from an OpenAI-compatible
// /chat/completions endpoint.
func (p *openAIFormatProvider) StreamChat(ctx context.Context, messages []message.Message, systemPrompt string) <-chan StreamChunk {
	out := make(chan StreamChunk)

	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				emit(ctx, out, StreamChunk{Provider: p.name, Err: fmt.Errorf("panic: %v", r)})
			}
		}()

		body, err := json.Marshal(p.toRequest(messages, systemPrompt))
		if err != nil {
			emit(ctx, out, StreamChunk{Provider: p.name, Err: err})
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			emit(ctx, out, StreamChunk{Provider: p.name, Err: err})
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		}
		for k, v := range p.headers {
			req.Header.Set(k, v)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			emit(ctx, out, StreamChunk{Provider: p.name, Err: err})
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			emit(ctx, out, StreamChunk{Provider: p.name, Err: fmt.Errorf("%s: unexpected status %d", p.name, resp.StatusCode)})
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			if line == "data: [DONE]" {
				emit(ctx, out, StreamChunk{Provider: p.name, Done: true})
				return
			}
			var chunk openAIStreamChunk
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if !emit(ctx, out, StreamChunk{Provider: p.name, Content: chunk.Choices[0].Delta.Content}) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			emit(ctx, out, StreamChunk{Provider: p.name, Err: err})
			return
		}
		emit(ctx, out, StreamChunk{Provider: p.name, Done: true})
	}()

	return out
}

// NewOpenAIProvider builds the openai-chat adapter.
func NewOpenAIProvider(name, model, apiKey, baseURL string, client *http.Client) Provider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return newOpenAIFormatProvider(name, model, apiKey, baseURL, client, nil, false)
}

// NewOpenRouterProvider builds the openrouter-chat adapter. OpenRouter
// requires attribution headers and marks ":free"-suffixed models free-tier.
func NewOpenRouterProvider(name, model, apiKey string, client *http.Client) Provider {
	headers := map[string]string{
		"HTTP-Referer": "https://kea.research",
		"X-Title":      "KEA Research",
	}
	return newOpenAIFormatProvider(name, model, apiKey, "https://openrouter.ai/api/v1", client, headers, IsFreeTierModel(KindOpenRouterChat, model))
}

// NewOpenAICompatibleProvider builds the openai-compatible-chat adapter for
// local/self-hosted OpenAI-compatible servers (Ollama, LM Studio, vLLM).
// Unlike the other wire kinds it is always considered configured, since
// local servers frequently need no API key.
func NewOpenAICompatibleProvider(name, model, apiKey, baseURL string, client *http.Client) Provider {
	p := newOpenAIFormatProvider(name, model, apiKey, strings.TrimSuffix(baseURL, "/"), client, nil, false)
	configured := true
	p.configuredOverride = &configured
	return p
}
