package workflow

import (
	"fmt"
	"sort"
)

// Registry maps workflow-type tags to definitions. It is never mutated after
// NewRegistry returns, so concurrent reads need no locking.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry indexes defs by type and rejects duplicate tags.
func NewRegistry(defs ...*Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	for _, def := range defs {
		if err := r.add(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(def *Definition) error {
	if def == nil {
		return fmt.Errorf("%w: nil definition", ErrInvalidDefinition)
	}
	if _, exists := r.defs[def.Type()]; exists {
		return fmt.Errorf("%w: workflow type %s registered twice", ErrInvalidDefinition, def.Type())
	}
	r.defs[def.Type()] = def
	return nil
}

// Get returns the definition for workflowType.
func (r *Registry) Get(workflowType string) (*Definition, error) {
	def, ok := r.defs[workflowType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkflowType, workflowType)
	}
	return def, nil
}

// Types returns the registered tags, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.defs))
	for t := range r.defs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
