package models

import "strings"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether the role is one the completions API accepts from a conversation.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// FileReference points at file data already held in memory by the conversation.
type FileReference struct {
	Name     string
	MIMEType string
	DataURL  string
}

// IsImage reports whether the declared MIME type is an image type.
func (f FileReference) IsImage() bool {
	return strings.HasPrefix(f.MIMEType, "image")
}

// ChatMessage is a single conversational turn owned by the caller.
type ChatMessage struct {
	Role    Role
	Content string
	Files   []FileReference
}

// Model is a resolved catalogue entry enriched with static metadata.
type Model struct {
	ID              string
	ContextWindow   int
	KnowledgeCutoff string
	Images          bool
	Preferred       bool
	Deprecated      bool
}

// Settings carries the per-conversation completion options.
// Nil sampling parameters are left out of the upstream request.
type Settings struct {
	Model       string
	Temperature *float64
	TopP        *float64
	Seed        *int
}

// DeltaFunc receives each incremental text fragment of a streamed completion.
type DeltaFunc func(text string, files []FileReference)
