/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// FieldType selects the input control rendered for a field.
type FieldType string

const (
	FieldText   FieldType = "text"
	FieldNumber FieldType = "number"
	FieldSelect FieldType = "select"
	FieldDate   FieldType = "date"
	FieldTime   FieldType = "time"
	FieldHidden FieldType = "hidden"
)

// Field describes one form input of a variant. Key is the nested option path,
// for example ["start", "date"].
type Field struct {
	Key     []string  `json:"key"`
	Label   string    `json:"label"`
	Type    FieldType `json:"type"`
	Choices []string  `json:"choices,omitempty"`
	Default string    `json:"default,omitempty"`
}

// Definition describes a timer variant: how to build it and how its form looks.
type Definition struct {
	Variant Variant
	Label   string
	Fields  []Field
	New     func(id string, opts Options, now time.Time) (Timer, error)
}

// Registry maps variant identifiers to definitions. Iteration follows
// registration order.
type Registry struct {
	mu    sync.RWMutex
	defs  map[Variant]Definition
	order []Variant
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[Variant]Definition)}
}

// DefaultRegistry returns a registry with the built-in variants.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_, _ = r.Register(IntervalDefinition())
	_, _ = r.Register(RRuleDefinition())
	return r
}

// Register adds def. It returns false without error when the variant is
// already registered.
func (r *Registry) Register(def Definition) (bool, error) {
	if def.Variant == "" {
		return false, errors.New("register timer variant: empty identifier")
	}
	if def.New == nil {
		return false, fmt.Errorf("register timer variant %s: nil constructor", def.Variant)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Variant]; exists {
		return false, nil
	}
	r.defs[def.Variant] = def
	r.order = append(r.order, def.Variant)
	return true, nil
}

// Lookup returns the definition of variant.
func (r *Registry) Lookup(variant Variant) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[variant]
	return def, ok
}

// Definitions returns every definition in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, v := range r.order {
		out = append(out, r.defs[v])
	}
	return out
}

// Variants returns the registered identifiers in registration order.
func (r *Registry) Variants() []Variant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Variant(nil), r.order...)
}

// New builds a timer of the given variant.
func (r *Registry) New(variant Variant, id string, opts Options, now time.Time) (Timer, error) {
	if variant == "" {
		return nil, ErrMissingVariant
	}
	def, ok := r.Lookup(variant)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVariant, variant)
	}
	return def.New(id, opts, now)
}

// FromRecord rebuilds a stored timer.
func (r *Registry) FromRecord(rec Record, now time.Time) (Timer, error) {
	return r.New(rec.Variant, rec.ID, rec.Options(), now)
}
