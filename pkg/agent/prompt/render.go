package prompt

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

// renderText evaluates {{#if VAR}}…{{else}}…{{/if}} blocks (nesting
// supported), then substitutes {{VAR}} placeholders. Unknown placeholders
// render empty.
func renderText(text string, vars map[string]string) string {
	text = renderConditionals(text, vars)
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		name := m[2 : len(m)-2]
		return vars[name]
	})
}

const (
	ifOpen  = "{{#if "
	ifElse  = "{{else}}"
	ifClose = "{{/if}}"
)

func renderConditionals(text string, vars map[string]string) string {
	var out strings.Builder
	for {
		start := strings.Index(text, ifOpen)
		if start < 0 {
			out.WriteString(text)
			return out.String()
		}
		out.WriteString(text[:start])

		rest := text[start+len(ifOpen):]
		condEnd := strings.Index(rest, "}}")
		if condEnd < 0 {
			// Unterminated open tag; emit verbatim.
			out.WriteString(text[start:])
			return out.String()
		}
		varName := strings.TrimSpace(rest[:condEnd])
		body := rest[condEnd+2:]

		thenPart, elsePart, remainder, ok := splitConditional(body)
		if !ok {
			out.WriteString(text[start:])
			return out.String()
		}

		if vars[varName] != "" {
			out.WriteString(renderConditionals(thenPart, vars))
		} else {
			out.WriteString(renderConditionals(elsePart, vars))
		}
		text = remainder
	}
}

// splitConditional finds the matching {{/if}} for the block opened before
// body, splitting on the top-level {{else}} if present. Returns ok=false
// when the block is unterminated.
func splitConditional(body string) (thenPart, elsePart, remainder string, ok bool) {
	depth := 0
	elseAt := -1
	for i := 0; i < len(body); {
		switch {
		case strings.HasPrefix(body[i:], ifOpen):
			depth++
			i += len(ifOpen)
		case strings.HasPrefix(body[i:], ifElse):
			if depth == 0 && elseAt < 0 {
				elseAt = i
			}
			i += len(ifElse)
		case strings.HasPrefix(body[i:], ifClose):
			if depth == 0 {
				if elseAt >= 0 {
					return body[:elseAt], body[elseAt+len(ifElse) : i], body[i+len(ifClose):], true
				}
				return body[:i], "", body[i+len(ifClose):], true
			}
			depth--
			i += len(ifClose)
		default:
			i++
		}
	}
	return "", "", "", false
}
