package models

import (
	"path"
	"strings"
)

// ToolSpec describes a registered tool: its name, human description, and
// typed input schema. Name is unique per registry.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// InputSchema is a JSON Schema object describing the tool arguments.
	// nil means the tool accepts arbitrary arguments.
	InputSchema map[string]any `json:"input_schema,omitempty"`
	// SupportsAgentContext marks tools that consume the agent context
	// (index/document/segment identifiers) in addition to their arguments.
	SupportsAgentContext bool `json:"supports_agent_context"`
}

// ReferenceType classifies a citation target.
type ReferenceType string

const (
	ReferenceDocument      ReferenceType = "document"
	ReferenceImage         ReferenceType = "image"
	ReferenceURL           ReferenceType = "url"
	ReferenceDocumentPanel ReferenceType = "show_document_panel"
)

// Reference is a pointer to an external artifact surfaced to the client
// for UI linking and citation.
type Reference struct {
	ID          string         `json:"id"`
	Type        ReferenceType  `json:"type"`
	Title       string         `json:"title"`
	DisplayName string         `json:"display_name,omitempty"`
	Value       string         `json:"value"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// imageSuffixes are URL path suffixes that classify a reference as an image.
var imageSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp", ".svg"}

// ReferenceTypeForURL returns ReferenceImage when the URL path carries an
// image suffix, ReferenceDocument otherwise. Query strings and fragments
// are ignored.
func ReferenceTypeForURL(rawURL string) ReferenceType {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	for _, s := range imageSuffixes {
		if ext == s {
			return ReferenceImage
		}
	}
	return ReferenceDocument
}

// Attachment is a typed binary payload forwarded to the model as input.
// Only images are accepted; Data is base64-encoded.
type Attachment struct {
	Type      string `json:"type"` // always "image"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ToolResult is the normalized output of one tool invocation.
type ToolResult struct {
	Success     bool           `json:"success"`
	Message     string         `json:"message,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	References  []Reference    `json:"references,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Error       string         `json:"error,omitempty"`
	ExecutionS  float64        `json:"execution_time_s"`

	// Truncated is set by the registry when the textual content exceeded
	// the content cap and was cut.
	Truncated bool `json:"truncated,omitempty"`
}

// TextContent returns the joined textual portion of the result: Message
// plus any string "content" found in Data (string or list of strings /
// content blocks).
func (r *ToolResult) TextContent() string {
	var parts []string
	if r.Message != "" {
		parts = append(parts, r.Message)
	}
	if c, ok := r.Data["content"]; ok {
		parts = append(parts, flattenContent(c)...)
	}
	return strings.Join(parts, "\n")
}

func flattenContent(v any) []string {
	switch c := v.(type) {
	case string:
		if c == "" {
			return nil
		}
		return []string{c}
	case []any:
		var out []string
		for _, item := range c {
			out = append(out, flattenContent(item)...)
		}
		return out
	case map[string]any:
		if t, ok := c["text"].(string); ok && t != "" {
			return []string{t}
		}
	}
	return nil
}
