// Package prompt provides the named-template registry used by all
// pipelines. Templates expose a system prompt and an instruction body
// with {{VAR}} interpolation and {{#if VAR}}…{{else}}…{{/if}} blocks.
package prompt

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownTemplate is returned when a template name is not registered.
var ErrUnknownTemplate = errors.New("unknown prompt template")

// ErrMissingVariable is returned when a required variable is absent.
var ErrMissingVariable = errors.New("missing prompt variable")

// Template is a named prompt pair. Variables lists the names that must be
// present at render time; variables referenced but not listed are
// optional and render empty when absent.
type Template struct {
	SystemPrompt string
	Instruction  string
	Variables    []string
}

// Rendered is a template after variable substitution.
type Rendered struct {
	SystemPrompt string
	Instruction  string
}

// Registry holds named templates with a render cache. Safe for concurrent
// use; Reload swaps back to the builtin set and clears the cache.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
	cache     map[string]Rendered
}

// NewRegistry creates a registry seeded with the builtin template set.
func NewRegistry() *Registry {
	r := &Registry{}
	r.reset()
	return r
}

func (r *Registry) reset() {
	r.templates = make(map[string]Template, len(builtinTemplates))
	for name, t := range builtinTemplates {
		r.templates[name] = t
	}
	r.cache = make(map[string]Rendered)
}

// Register adds or replaces a template.
func (r *Registry) Register(name string, t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[name] = t
	r.cache = make(map[string]Rendered)
}

// Names returns the registered template names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.templates))
	for name := range r.templates {
		out = append(out, name)
	}
	return out
}

// Render substitutes vars into the named template. Fails with
// ErrMissingVariable when a required variable is absent and
// ErrUnknownTemplate when the name is not registered.
func (r *Registry) Render(name string, vars map[string]string) (Rendered, error) {
	r.mu.RLock()
	t, ok := r.templates[name]
	if !ok {
		r.mu.RUnlock()
		return Rendered{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	key := cacheKey(name, vars)
	if cached, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	for _, required := range t.Variables {
		if _, ok := vars[required]; !ok {
			return Rendered{}, fmt.Errorf("%w: %q requires %q", ErrMissingVariable, name, required)
		}
	}

	out := Rendered{
		SystemPrompt: renderText(t.SystemPrompt, vars),
		Instruction:  renderText(t.Instruction, vars),
	}

	r.mu.Lock()
	r.cache[key] = out
	r.mu.Unlock()
	return out, nil
}

// Reload restores the builtin template set and clears the cache.
func (r *Registry) Reload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
}

func cacheKey(name string, vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	key := name
	for _, k := range keys {
		key += "\x00" + k + "\x01" + vars[k]
	}
	return key
}
