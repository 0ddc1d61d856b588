// Package tagged implements the internally tagged representation used by
// every pluggable configuration kind: a `type` discriminator field selects
// a registered variant, the remaining fields belong to the variant itself.
// Fragments keep their raw JSON so snapshots round-trip byte-for-byte and
// variant decoding can be deferred until compilation.
package tagged

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/goccy/go-yaml"
)

// Fragment is a raw type-discriminated configuration value.
type Fragment struct {
	Type string
	Raw  json.RawMessage
}

// Decode captures the discriminator and raw bytes from a JSON object.
func Decode(data []byte) (Fragment, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Fragment{}, fmt.Errorf("invalid tagged value: %w", err)
	}
	if head.Type == "" {
		return Fragment{}, fmt.Errorf("tagged value is missing the `type` field")
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return Fragment{Type: head.Type, Raw: raw}, nil
}

// DecodeYAML bridges a YAML value to Decode.
func DecodeYAML(data []byte) (Fragment, error) {
	j, err := yaml.YAMLToJSON(data)
	if err != nil {
		return Fragment{}, fmt.Errorf("invalid tagged value: %w", err)
	}
	return Decode(j)
}

// MarshalJSON emits the original raw bytes, discriminator included.
func (f Fragment) MarshalJSON() ([]byte, error) {
	if f.Raw == nil {
		return []byte("null"), nil
	}
	return f.Raw, nil
}

// MarshalYAML emits the fragment as YAML for file-based snapshots.
func (f Fragment) MarshalYAML() ([]byte, error) {
	if f.Raw == nil {
		return []byte("null"), nil
	}
	return yaml.JSONToYAML(f.Raw)
}

// UnmarshalJSON re-captures the fragment from JSON.
func (f *Fragment) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*f = decoded
	return nil
}

// UnmarshalYAML re-captures the fragment from YAML.
func (f *Fragment) UnmarshalYAML(data []byte) error {
	decoded, err := DecodeYAML(data)
	if err != nil {
		return err
	}
	*f = decoded
	return nil
}

// IsZero reports whether the fragment is unset.
func (f Fragment) IsZero() bool {
	return f.Type == "" && f.Raw == nil
}

// Registry maps discriminator tags to config-value factories for one
// pluggable kind. Variants register at init time; registration is
// idempotent per name (last one wins, matching the teacher's feature
// registration behavior).
type Registry[T any] struct {
	kind      string
	mu        sync.RWMutex
	factories map[string]func() T
}

// NewRegistry creates a registry for the named kind (used in error text).
func NewRegistry[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:      kind,
		factories: make(map[string]func() T),
	}
}

// Register adds a variant factory under a discriminator tag.
func (r *Registry[T]) Register(name string, factory func() T) {
	r.mu.Lock()
	r.factories[name] = factory
	r.mu.Unlock()
}

// New instantiates an empty config value for a tag.
func (r *Registry[T]) New(name string) (T, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	var zero T
	if !ok {
		return zero, fmt.Errorf("unknown %s type %q", r.kind, name)
	}
	return factory(), nil
}

// Build decodes a fragment into its registered variant config value.
func Build[T any](r *Registry[T], f Fragment) (T, error) {
	cfg, err := r.New(f.Type)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := json.Unmarshal(f.Raw, cfg); err != nil {
		var zero T
		return zero, fmt.Errorf("invalid %s config for type %q: %w", r.kind, f.Type, err)
	}
	return cfg, nil
}
