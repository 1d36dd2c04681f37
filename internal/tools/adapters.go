package tools

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/tradewire/agentcore/pkg/schema"
)

// Adapter transforms a canonical tool payload into a partner-specific
// shape. Transforms are jq programs compiled once at registry build time.
type Adapter struct {
	ID   string
	code *gojq.Code
}

// Transform applies the adapter's jq program to the payload. The payload
// is normalized through JSON first so the program sees plain JSON values.
func (a *Adapter) Transform(payload map[string]any) (map[string]any, error) {
	normalized, err := normalizeJSON(payload)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"adapter %s: payload is not JSON-serializable", a.ID).WithCause(err)
	}

	iter := a.code.Run(normalized)
	v, ok := iter.Next()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "adapter %s: transform produced no output", a.ID)
	}
	if err, isErr := v.(error); isErr {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "adapter %s: transform failed", a.ID).WithCause(err)
	}
	result, ok := v.(map[string]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"adapter %s: transform produced %T, expected object", a.ID, v)
	}
	return result, nil
}

// AdapterRegistry resolves adapter IDs to compiled adapters. Unknown IDs
// fall back to the identity adapter.
type AdapterRegistry struct {
	adapters map[string]*Adapter
	fallback *Adapter
}

// adapter jq programs, keyed by adapter ID.
var adapterPrograms = map[string]string{
	"canonical": ".",
	"acme_edi":  `. + {"source": "acme_edi"}`,
}

// NewAdapterRegistry compiles the built-in adapter transforms.
func NewAdapterRegistry() (*AdapterRegistry, error) {
	fallback, err := compileAdapter("default", ".")
	if err != nil {
		return nil, err
	}
	r := &AdapterRegistry{
		adapters: make(map[string]*Adapter, len(adapterPrograms)),
		fallback: fallback,
	}
	for id, program := range adapterPrograms {
		a, err := compileAdapter(id, program)
		if err != nil {
			return nil, err
		}
		r.adapters[id] = a
	}
	return r, nil
}

// Get returns the adapter for the given ID, or the identity fallback.
func (r *AdapterRegistry) Get(id string) *Adapter {
	if a, ok := r.adapters[id]; ok {
		return a
	}
	return r.fallback
}

func compileAdapter(id, program string) (*Adapter, error) {
	query, err := gojq.Parse(program)
	if err != nil {
		return nil, fmt.Errorf("parse adapter %s transform: %w", id, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compile adapter %s transform: %w", id, err)
	}
	return &Adapter{ID: id, code: code}, nil
}

// normalizeJSON round-trips a value through JSON encoding so gojq sees
// only the value kinds it supports.
func normalizeJSON(v map[string]any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
