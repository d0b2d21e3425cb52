package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/kea-dev/kea/internal/message"
	"github.com/kea-dev/kea/internal/sse"
)

// handleHealth responds with a simple JSON status indicating the server
// is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// apiPart is one element of a multimodal message's content, as received
// over the wire.
type apiPart struct {
	Type   string              `json:"type"`
	Text   string              `json:"text,omitempty"`
	Source *message.ImageSource `json:"source,omitempty"`
}

// apiMessage is one conversation turn, as received over the wire. Content
// is either a plain string or a list of parts — never both.
type apiMessage struct {
	Role    string    `json:"role"`
	Content string    `json:"content,omitempty"`
	Parts   []apiPart `json:"parts,omitempty"`
}

func (m apiMessage) toMessage() message.Message {
	out := message.Message{Role: message.Role(m.Role)}
	if len(m.Parts) == 0 {
		out.Text = m.Content
		return out
	}
	out.Parts = make([]message.Part, len(m.Parts))
	for i, p := range m.Parts {
		out.Parts[i] = message.Part{Type: message.PartType(p.Type), Text: p.Text, Source: p.Source}
	}
	return out
}

// pipelineRequest is the POST /v1/pipeline request body.
type pipelineRequest struct {
	Messages []apiMessage `json:"messages"`
	Question string       `json:"question,omitempty"`
}

// handlePipeline runs one Knowledge Ensemble Aggregation pass and streams
// its events as Server-Sent Events. If question is omitted, it is derived
// from the last user message.
func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	var req pipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if len(req.Messages) == 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "messages must not be empty"})
		return
	}

	messages := make([]message.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = m.toMessage()
	}

	question := req.Question
	if question == "" {
		question = lastUserText(messages)
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	orch := s.newOrchestrator()
	events := orch.RunPipeline(r.Context(), messages, question)
	if err := writer.Drain(events); err != nil {
		log.Printf("sse write error: %v", err)
	}
}

// lastUserText returns the last user message's text, extracting text from
// a multimodal message if necessary.
func lastUserText(messages []message.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == message.RoleUser {
			return message.ExtractTextOnly(messages[i]).Text
		}
	}
	return ""
}
