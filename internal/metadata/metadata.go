package metadata

import "gochat/internal/models"

// Entry holds the facts about a model that the upstream catalogue does not report.
type Entry struct {
	ContextWindow   int
	KnowledgeCutoff string
	Images          bool
	Preferred       bool
	Deprecated      bool
}

// Table maps model identifiers to static metadata.
type Table map[string]Entry

var builtin = Table{
	"gpt-4.1":              {ContextWindow: 1047576, KnowledgeCutoff: "2024-06-01", Images: true, Preferred: true},
	"gpt-4.1-mini":         {ContextWindow: 1047576, KnowledgeCutoff: "2024-06-01", Images: true, Preferred: true},
	"gpt-4.1-nano":         {ContextWindow: 1047576, KnowledgeCutoff: "2024-06-01", Images: true},
	"gpt-4o":               {ContextWindow: 128000, KnowledgeCutoff: "2023-10-01", Images: true, Preferred: true},
	"gpt-4o-mini":          {ContextWindow: 128000, KnowledgeCutoff: "2023-10-01", Images: true, Preferred: true},
	"gpt-4-turbo":          {ContextWindow: 128000, KnowledgeCutoff: "2023-12-01", Images: true},
	"gpt-4-turbo-preview":  {ContextWindow: 128000, KnowledgeCutoff: "2023-12-01"},
	"gpt-4-vision-preview": {ContextWindow: 128000, KnowledgeCutoff: "2023-04-01", Images: true, Deprecated: true},
	"gpt-4":                {ContextWindow: 8192, KnowledgeCutoff: "2021-09-01"},
	"gpt-4-32k":            {ContextWindow: 32768, KnowledgeCutoff: "2021-09-01", Deprecated: true},
	"gpt-3.5-turbo":        {ContextWindow: 16385, KnowledgeCutoff: "2021-09-01"},
	"gpt-3.5-turbo-16k":    {ContextWindow: 16385, KnowledgeCutoff: "2021-09-01", Deprecated: true},
}

// Builtin returns a copy of the table shipped with gochat.
func Builtin() Table {
	return builtin.clone()
}

// WithOverrides returns a copy of t where the given entries replace or extend the known models.
func (t Table) WithOverrides(overrides map[string]Entry) Table {
	out := t.clone()
	for id, entry := range overrides {
		out[id] = entry
	}
	return out
}

// Enrich builds a Model for id. Unknown identifiers get zero-valued metadata.
func (t Table) Enrich(id string) models.Model {
	entry := t[id]
	return models.Model{
		ID:              id,
		ContextWindow:   entry.ContextWindow,
		KnowledgeCutoff: entry.KnowledgeCutoff,
		Images:          entry.Images,
		Preferred:       entry.Preferred,
		Deprecated:      entry.Deprecated,
	}
}

func (t Table) clone() Table {
	out := make(Table, len(t))
	for id, entry := range t {
		out[id] = entry
	}
	return out
}
