// Package registry declares the ordered stage schema for treatment cycles.
// The registry is fixed configuration loaded once at startup; the ordering it
// encodes is the single source of truth for forward progress.
package registry

import (
	"fmt"

	"cyclecore/pkg/domain"
)

// FieldType is the semantic type declared for a stage field.
type FieldType string

// Supported field types.
const (
	// FieldNumber accepts numeric values, optionally range-bounded.
	FieldNumber FieldType = "number"
	// FieldText accepts non-empty free text.
	FieldText FieldType = "text"
	// FieldDate accepts a calendar date or RFC 3339 timestamp.
	FieldDate FieldType = "date"
	// FieldChoice restricts the value to a declared set of options.
	FieldChoice FieldType = "choice"
	// FieldRecord accepts a nested key-value record.
	FieldRecord FieldType = "record"
)

// FieldSpec declares one field of a stage schema.
type FieldSpec struct {
	Name string
	Type FieldType
	// Min and Max bound number fields when set.
	Min *float64
	Max *float64
	// Choices lists the legal values for choice fields.
	Choices []string
	// Retrospective date fields record something that already happened and
	// must not lie in the future.
	Retrospective bool
}

// StageDefinition declares one stage: its identity, position, and schema.
type StageDefinition struct {
	ID       domain.StageID
	Order    int
	Required []FieldSpec
	Optional []FieldSpec
}

// Fields returns the required and optional specs as one slice.
func (d StageDefinition) Fields() []FieldSpec {
	out := make([]FieldSpec, 0, len(d.Required)+len(d.Optional))
	out = append(out, d.Required...)
	out = append(out, d.Optional...)
	return out
}

// Registry holds the ordered stage definitions. Immutable after construction.
type Registry struct {
	stages []StageDefinition
	index  map[domain.StageID]int
}

// New constructs a registry, rejecting duplicate IDs and non-increasing
// order values.
func New(stages []StageDefinition) (*Registry, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("registry requires at least one stage")
	}
	index := make(map[domain.StageID]int, len(stages))
	prev := -1
	for i, stage := range stages {
		if stage.ID == "" {
			return nil, fmt.Errorf("stage %d has empty id", i)
		}
		if _, dup := index[stage.ID]; dup {
			return nil, fmt.Errorf("duplicate stage id %s", stage.ID)
		}
		if stage.Order <= prev {
			return nil, fmt.Errorf("stage %s order %d is not strictly increasing", stage.ID, stage.Order)
		}
		prev = stage.Order
		index[stage.ID] = i
	}
	cloned := make([]StageDefinition, len(stages))
	copy(cloned, stages)
	return &Registry{stages: cloned, index: index}, nil
}

// StagesInOrder returns all stage definitions in declared order.
func (r *Registry) StagesInOrder() []StageDefinition {
	out := make([]StageDefinition, len(r.stages))
	copy(out, r.stages)
	return out
}

// DefinitionFor returns the definition for the given stage.
func (r *Registry) DefinitionFor(id domain.StageID) (StageDefinition, bool) {
	i, ok := r.index[id]
	if !ok {
		return StageDefinition{}, false
	}
	return r.stages[i], true
}

// OrderOf returns the order value for the given stage.
func (r *Registry) OrderOf(id domain.StageID) (int, bool) {
	i, ok := r.index[id]
	if !ok {
		return 0, false
	}
	return r.stages[i].Order, true
}

// First returns the initial stage of a new cycle.
func (r *Registry) First() StageDefinition {
	return r.stages[0]
}

// Final returns the last stage in registry order.
func (r *Registry) Final() StageDefinition {
	return r.stages[len(r.stages)-1]
}

// Next returns the stage following id, or ok=false when id is the final
// stage or unknown.
func (r *Registry) Next(id domain.StageID) (StageDefinition, bool) {
	i, ok := r.index[id]
	if !ok || i+1 >= len(r.stages) {
		return StageDefinition{}, false
	}
	return r.stages[i+1], true
}
