package domain

import (
	"fmt"
	"strings"
	"time"
)

// KnowledgeDocument is the raw support documentation the chatbot answers from.
type KnowledgeDocument struct {
	Text     string
	Origin   string
	Version  string
	LoadedAt time.Time
}

// NewKnowledgeDocument creates a KnowledgeDocument loaded now.
func NewKnowledgeDocument(text, origin, version string) *KnowledgeDocument {
	return &KnowledgeDocument{
		Text:     text,
		Origin:   origin,
		Version:  version,
		LoadedAt: time.Now().UTC(),
	}
}

// ValidateKnowledgeDocument validates a KnowledgeDocument instance.
func ValidateKnowledgeDocument(d *KnowledgeDocument) error {
	if d == nil {
		return fmt.Errorf("knowledge document cannot be nil")
	}
	if d.Origin == "" {
		return fmt.Errorf("knowledge document Origin is required")
	}
	if strings.TrimSpace(d.Text) == "" {
		return fmt.Errorf("knowledge document Text cannot be empty")
	}
	return nil
}

// Query is one user question with the optional client-held conversation.
type Query struct {
	Text    string
	Context string
}
