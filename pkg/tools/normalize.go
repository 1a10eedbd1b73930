package tools

import (
	"strings"

	"github.com/google/uuid"

	"github.com/docsight/docsight/pkg/models"
)

// referenceSeparator splits "<title> : <url>" reference strings on the
// first occurrence.
const referenceSeparator = " : "

// normalize applies the registry's output contract in place: references
// are collected and stamped, text output is capped, and attachments are
// filtered down to what the model layer may consume.
func (r *Registry) normalize(result *models.ToolResult, toolName string) {
	r.collectReferences(result, toolName)
	r.capContent(result)
	r.filterAttachments(result)
}

// collectReferences merges references found in the result data into the
// typed References slice and stamps provenance metadata on every entry.
func (r *Registry) collectReferences(result *models.ToolResult, toolName string) {
	if result.Data != nil {
		if raw, ok := result.Data["references"]; ok {
			result.References = append(result.References, parseReferences(raw)...)
			delete(result.Data, "references")
		}
		if inner, ok := result.Data["data"].(map[string]any); ok {
			if raw, ok := inner["references"]; ok {
				result.References = append(result.References, parseReferences(raw)...)
				delete(inner, "references")
			}
		}
	}

	for i := range result.References {
		ref := &result.References[i]
		if ref.ID == "" {
			ref.ID = uuid.NewString()
		}
		if ref.Type == "" {
			ref.Type = models.ReferenceTypeForURL(ref.Value)
		}
		if ref.Metadata == nil {
			ref.Metadata = make(map[string]any, 2)
		}
		ref.Metadata["tool"] = toolName
		ref.Metadata["source"] = "tool_execution"
	}
}

// parseReferences accepts the shapes tools emit: a list of strings, a
// list of objects, or a single value of either kind.
func parseReferences(raw any) []models.Reference {
	switch v := raw.(type) {
	case []any:
		out := make([]models.Reference, 0, len(v))
		for _, item := range v {
			out = append(out, parseReferences(item)...)
		}
		return out
	case []string:
		out := make([]models.Reference, 0, len(v))
		for _, s := range v {
			out = append(out, parseReferenceString(s))
		}
		return out
	case string:
		return []models.Reference{parseReferenceString(v)}
	case map[string]any:
		return []models.Reference{parseReferenceObject(v)}
	default:
		return nil
	}
}

// parseReferenceString splits "<title> : <url>" on the first separator.
// Strings without a separator become both title and value.
func parseReferenceString(s string) models.Reference {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, referenceSeparator); idx >= 0 {
		title := strings.TrimSpace(s[:idx])
		value := strings.TrimSpace(s[idx+len(referenceSeparator):])
		return models.Reference{Title: title, DisplayName: title, Value: value}
	}
	return models.Reference{Title: s, DisplayName: s, Value: s}
}

func parseReferenceObject(m map[string]any) models.Reference {
	ref := models.Reference{
		ID:          stringField(m, "id"),
		Title:       stringField(m, "title"),
		DisplayName: stringField(m, "display_name"),
		Value:       stringField(m, "value"),
	}
	if ref.Value == "" {
		ref.Value = stringField(m, "url")
	}
	if t := stringField(m, "type"); t != "" {
		ref.Type = models.ReferenceType(t)
	}
	if ref.DisplayName == "" {
		ref.DisplayName = ref.Title
	}
	if meta, ok := m["metadata"].(map[string]any); ok {
		ref.Metadata = meta
	}
	return ref
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// capContent enforces the text-output bound. When the combined text
// exceeds the cap, the capped text replaces the message body and the
// structured content is dropped so downstream consumers see one
// consistent, bounded string.
func (r *Registry) capContent(result *models.ToolResult) {
	maxLen := r.cfg.MaxContentLen
	if maxLen <= 0 {
		return
	}
	text := result.TextContent()
	if len(text) <= maxLen {
		return
	}
	result.Message = text[:maxLen]
	if result.Data != nil {
		delete(result.Data, "content")
	}
	result.Truncated = true
	r.logger.Debug("Tool output truncated", "limit", maxLen, "original_len", len(text))
}

// filterAttachments keeps only image attachments whose base64 payload is
// within bounds, capped at the forwardable count.
func (r *Registry) filterAttachments(result *models.ToolResult) {
	if len(result.Attachments) == 0 {
		return
	}
	kept := result.Attachments[:0]
	for _, a := range result.Attachments {
		if a.Type != "image" {
			continue
		}
		if r.cfg.RefImageMaxBase64Len > 0 && len(a.Data) > r.cfg.RefImageMaxBase64Len {
			r.logger.Debug("Dropping oversized image attachment", "len", len(a.Data))
			continue
		}
		kept = append(kept, a)
		if r.cfg.RefImageMaxAttach > 0 && len(kept) >= r.cfg.RefImageMaxAttach {
			break
		}
	}
	result.Attachments = kept
}
