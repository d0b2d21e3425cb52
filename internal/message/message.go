// Package message converts between the universal multimodal message shape
// and the wire layouts each provider kind expects.
package message

import (
	"regexp"
	"strings"
)

// Role identifies who sent a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// PartType distinguishes the two kinds of content part a message can carry.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ImageSource is the base64-encoded payload of an image content part.
type ImageSource struct {
	Type      string `json:"type"` // always "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Part is one element of a multimodal content list: either text or an image.
type Part struct {
	Type   PartType     `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

// Message is the universal shape the pipeline works with internally.
// Content is either a plain string (Text != "", Parts == nil) or an ordered
// list of Parts (Parts != nil). Exactly one of the two is populated.
type Message struct {
	Role  Role
	Text  string
	Parts []Part
}

// IsMultimodal reports whether the message carries a content-part list
// rather than a plain string.
func (m Message) IsMultimodal() bool {
	return m.Parts != nil
}

// HasImages reports whether the message contains at least one image part.
func HasImages(m Message) bool {
	if !m.IsMultimodal() {
		return false
	}
	for _, p := range m.Parts {
		if p.Type == PartImage {
			return true
		}
	}
	return false
}

// ExtractTextOnly strips images from a message, returning a new text-only
// message. Text parts are joined with "\n"; if the message carried only
// images, the result text is the literal placeholder "(image)".
//
// Applying ExtractTextOnly to an already text-only message returns it
// unchanged, so the operation is idempotent.
func ExtractTextOnly(m Message) Message {
	if !m.IsMultimodal() {
		return Message{Role: m.Role, Text: m.Text}
	}

	var texts []string
	for _, p := range m.Parts {
		if p.Type == PartText {
			texts = append(texts, p.Text)
		}
	}
	text := strings.TrimSpace(strings.Join(texts, "\n"))
	if text == "" {
		text = "(image)"
	}
	return Message{Role: m.Role, Text: text}
}

// FormatForClaude passes the message through unchanged: Anthropic's wire
// format for multimodal content already matches the universal shape.
func FormatForClaude(m Message) Message {
	return m
}

// OpenAIContentPart is one element of an OpenAI-style content array.
type OpenAIContentPart struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL *OpenAIImageURLRef `json:"image_url,omitempty"`
}

// OpenAIImageURLRef wraps a data: URL as OpenAI's image_url part expects.
type OpenAIImageURLRef struct {
	URL string `json:"url"`
}

// FormatForOpenAI converts a message to the OpenAI/OpenRouter/compatible
// content-array shape, reassembling images as data: URLs.
func FormatForOpenAI(m Message) (role Role, text string, parts []OpenAIContentPart) {
	if !m.IsMultimodal() {
		return m.Role, m.Text, nil
	}
	out := make([]OpenAIContentPart, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Type {
		case PartText:
			out = append(out, OpenAIContentPart{Type: "text", Text: p.Text})
		case PartImage:
			mediaType := "image/jpeg"
			data := ""
			if p.Source != nil {
				if p.Source.MediaType != "" {
					mediaType = p.Source.MediaType
				}
				data = p.Source.Data
			}
			out = append(out, OpenAIContentPart{
				Type:     "image_url",
				ImageURL: &OpenAIImageURLRef{URL: "data:" + mediaType + ";base64," + data},
			})
		}
	}
	return m.Role, "", out
}

// GeminiPart is one element of a Gemini "parts" array.
type GeminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *GeminiInlineData `json:"inline_data,omitempty"`
}

// GeminiInlineData is Gemini's inline image payload shape.
type GeminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// FormatForGemini converts a message into Gemini's {role, parts} shape.
// The caller remaps role "assistant" to "model" separately (Gemini's role
// remapping is a request-level concern, not a per-message one).
func FormatForGemini(m Message) []GeminiPart {
	if !m.IsMultimodal() {
		return []GeminiPart{{Text: m.Text}}
	}
	out := make([]GeminiPart, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Type {
		case PartText:
			out = append(out, GeminiPart{Text: p.Text})
		case PartImage:
			mediaType := "image/jpeg"
			data := ""
			if p.Source != nil {
				if p.Source.MediaType != "" {
					mediaType = p.Source.MediaType
				}
				data = p.Source.Data
			}
			out = append(out, GeminiPart{InlineData: &GeminiInlineData{MimeType: mediaType, Data: data}})
		}
	}
	return out
}

var dataURLPattern = regexp.MustCompile(`^data:([^;]+);base64,`)

// MimeAndDataFromURL splits a base64 data: URL into its MIME type and
// payload, falling back to "image/jpeg" when the URL doesn't match the
// expected shape.
func MimeAndDataFromURL(dataURL string) (mime string, data string) {
	parts := strings.SplitN(dataURL, ",", 2)
	if len(parts) != 2 {
		return "image/jpeg", dataURL
	}
	if m := dataURLPattern.FindStringSubmatch(dataURL); m != nil {
		return m[1], parts[1]
	}
	return "image/jpeg", parts[1]
}
