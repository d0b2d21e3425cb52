package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/kea-dev/kea/internal/message"
)

const geminiMaxOutputTokens = 4096

// GoogleProvider implements the google-generate-content wire kind. The API
// key is sent as a query parameter rather than a header, and the stream has
// no explicit terminator — a synthetic done chunk is emitted when the
// response body ends.
type GoogleProvider struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewGoogleProvider builds an adapter for the Gemini streamGenerateContent API.
func NewGoogleProvider(name, model, apiKey, baseURL string, client *http.Client) *GoogleProvider {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &GoogleProvider{name: name, model: model, apiKey: apiKey, baseURL: baseURL, client: client}
}

func (g *GoogleProvider) Name() string         { return g.name }
func (g *GoogleProvider) SupportsVision() bool { return true }
func (g *GoogleProvider) FreeTier() bool       { return false }
func (g *GoogleProvider) IsConfigured() bool   { return g.apiKey != "" }
func (g *GoogleProvider) Close()               { g.client.CloseIdleConnections() }

type geminiContent struct {
	Role  string               `json:"role"`
	Parts []message.GeminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		MaxOutputTokens int `json:"maxOutputTokens"`
	} `json:"generationConfig"`
	SystemInstruction *geminiContent `json:"systemInstruction,omitempty"`
}

type geminiResponseChunk struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (g *GoogleProvider) toRequest(messages []message.Message, systemPrompt string) geminiRequest {
	contents := make([]geminiContent, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == message.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: message.FormatForGemini(m)})
	}
	req := geminiRequest{Contents: contents}
	req.GenerationConfig.MaxOutputTokens = geminiMaxOutputTokens
	if systemPrompt != "" {
		req.SystemInstruction = &geminiContent{Parts: []message.GeminiPart{{Text: systemPrompt}}}
	}
	return req
}

func extractGeminiText(data geminiResponseChunk) string {
	if len(data.Candidates) == 0 {
		return ""
	}
	for _, p := range data.Candidates[0].Content.Parts {
		if p.Text != "" {
			return p.Text
		}
	}
	return ""
}

// StreamChat streams a completion from the Gemini streamGenerateContent
// endpoint.
func (g *GoogleProvider) StreamChat(ctx context.Context, messages []message.Message, systemPrompt string) <-chan StreamChunk {
	out := make(chan StreamChunk)

	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				emit(ctx, out, StreamChunk{Provider: g.name, Err: fmt.Errorf("panic: %v", r)})
			}
		}()

		body, err := json.Marshal(g.toRequest(messages, systemPrompt))
		if err != nil {
			emit(ctx, out, StreamChunk{Provider: g.name, Err: err})
			return
		}

		endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s",
			g.baseURL, g.model, url.QueryEscape(g.apiKey))

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			emit(ctx, out, StreamChunk{Provider: g.name, Err: err})
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.client.Do(req)
		if err != nil {
			emit(ctx, out, StreamChunk{Provider: g.name, Err: err})
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			emit(ctx, out, StreamChunk{Provider: g.name, Err: fmt.Errorf("gemini: unexpected status %d", resp.StatusCode)})
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var data geminiResponseChunk
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &data); err != nil {
				continue
			}
			if text := extractGeminiText(data); text != "" {
				if !emit(ctx, out, StreamChunk{Provider: g.name, Content: text}) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			emit(ctx, out, StreamChunk{Provider: g.name, Err: err})
			return
		}
		// Gemini sends no explicit terminator; synthesize one when the body ends.
		emit(ctx, out, StreamChunk{Provider: g.name, Done: true})
	}()

	return out
}
