package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gochat/internal/models"
)

var (
	errEmptyMessages  = errors.New("at least one message is required")
	errInvalidRole    = errors.New("invalid role")
	errInvalidContent = errors.New("invalid message content")
	errInvalidFile    = errors.New("invalid file attachment")
	errInvalidOption  = errors.New("invalid sampling option")
)

// ChatRequest is the payload the browser posts for one chat turn.
type ChatRequest struct {
	ConversationID string
	Model          string
	Temperature    *float64
	TopP           *float64
	Seed           *int
	Messages       []ChatMessage
}

// UnmarshalJSON implements custom parsing to enforce validation.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		ConversationID string        `json:"conversation_id"`
		Model          string        `json:"model"`
		Temperature    *float64      `json:"temperature"`
		TopP           *float64      `json:"top_p"`
		Seed           *int          `json:"seed"`
		Messages       []ChatMessage `json:"messages"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}

	r.ConversationID = strings.TrimSpace(raw.ConversationID)
	r.Model = strings.TrimSpace(raw.Model)
	r.Temperature = raw.Temperature
	r.TopP = raw.TopP
	r.Seed = raw.Seed
	r.Messages = raw.Messages

	return r.validate()
}

func (r *ChatRequest) validate() error {
	if len(r.Messages) == 0 {
		return errEmptyMessages
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("%w: temperature must be between 0 and 2", errInvalidOption)
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return fmt.Errorf("%w: top_p must be between 0 and 1", errInvalidOption)
	}
	return nil
}

// Settings returns the completion options carried by the request.
func (r ChatRequest) Settings() models.Settings {
	return models.Settings{
		Model:       r.Model,
		Temperature: r.Temperature,
		TopP:        r.TopP,
		Seed:        r.Seed,
	}
}

// ToDomain converts the browser messages into conversation messages, preserving order.
func (r ChatRequest) ToDomain() []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(r.Messages))
	for _, m := range r.Messages {
		var files []models.FileReference
		if len(m.Files) > 0 {
			files = make([]models.FileReference, 0, len(m.Files))
			for _, f := range m.Files {
				files = append(files, models.FileReference{
					Name:     f.Name,
					MIMEType: f.Type,
					DataURL:  f.DataURL,
				})
			}
		}
		out = append(out, models.ChatMessage{
			Role:    models.Role(m.Role),
			Content: m.Content,
			Files:   files,
		})
	}
	return out
}

// ChatMessage captures a single message within the chat request.
type ChatMessage struct {
	Role    string
	Content string
	Files   []FileAttachment
}

// FileAttachment is a file the browser already read into a data URL.
type FileAttachment struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	DataURL string `json:"data_url"`
}

// UnmarshalJSON supports string and array-of-text content formats.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    string           `json:"role"`
		Content json.RawMessage  `json:"content"`
		Files   []FileAttachment `json:"files"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	content, err := extractMessageContent(raw.Content)
	if err != nil {
		return err
	}

	m.Role = strings.TrimSpace(raw.Role)
	m.Content = content
	m.Files = raw.Files

	return m.validate()
}

func (m *ChatMessage) validate() error {
	if !models.Role(m.Role).Valid() {
		return fmt.Errorf("%w: %s", errInvalidRole, m.Role)
	}
	if strings.TrimSpace(m.Content) == "" && len(m.Files) == 0 {
		return fmt.Errorf("%w: message content must not be empty", errInvalidContent)
	}
	for i, f := range m.Files {
		if strings.TrimSpace(f.Type) == "" {
			return fmt.Errorf("%w: files[%d] type is required", errInvalidFile, i)
		}
		if !strings.HasPrefix(f.DataURL, "data:") {
			return fmt.Errorf("%w: files[%d] must carry a data URL", errInvalidFile, i)
		}
	}
	return nil
}

func extractMessageContent(raw json.RawMessage) (string, error) {
	if raw == nil || string(raw) == "null" {
		return "", nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var segments []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err == nil {
		var builder strings.Builder
		for _, segment := range segments {
			if segment.Type != "text" {
				return "", fmt.Errorf("%w: segment type %q not supported", errInvalidContent, segment.Type)
			}
			builder.WriteString(segment.Text)
		}
		return builder.String(), nil
	}

	return "", fmt.Errorf("%w: unsupported content structure", errInvalidContent)
}

// ModelView is the browser-facing shape of a resolved model.
type ModelView struct {
	ID              string `json:"id"`
	ContextWindow   int    `json:"context_window"`
	KnowledgeCutoff string `json:"knowledge_cutoff,omitempty"`
	Images          bool   `json:"images"`
	Preferred       bool   `json:"preferred"`
	Deprecated      bool   `json:"deprecated"`
}

// ModelList wraps the catalogue the way the upstream /v1/models does.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelView `json:"data"`
}

// FromModel converts a resolved model for the browser.
func FromModel(m models.Model) ModelView {
	return ModelView{
		ID:              m.ID,
		ContextWindow:   m.ContextWindow,
		KnowledgeCutoff: m.KnowledgeCutoff,
		Images:          m.Images,
		Preferred:       m.Preferred,
		Deprecated:      m.Deprecated,
	}
}

// FromModels converts the resolved catalogue, keeping its order.
func FromModels(list []models.Model) ModelList {
	data := make([]ModelView, 0, len(list))
	for _, m := range list {
		data = append(data, FromModel(m))
	}
	return ModelList{Object: "list", Data: data}
}

// DeltaEvent is the payload of a streamed delta sent to the browser.
type DeltaEvent struct {
	Text  string           `json:"text"`
	Files []FileAttachment `json:"files"`
}

// FromDelta converts an adapter delta for the browser.
func FromDelta(text string, files []models.FileReference) DeltaEvent {
	out := DeltaEvent{Text: text, Files: make([]FileAttachment, 0, len(files))}
	for _, f := range files {
		out.Files = append(out.Files, FileAttachment{Name: f.Name, Type: f.MIMEType, DataURL: f.DataURL})
	}
	return out
}
