package registry

import (
	"errors"
	"fmt"
)

// ErrInvalidSchema is returned by Validate for a tool whose input schema is
// not an object schema.
var ErrInvalidSchema = errors.New("input schema must have type \"object\"")

// Validate checks every registered tool. Problems that make a tool unusable
// are joined into the returned error; cosmetic ones are returned as warnings.
func (r *Registry) Validate() (warnings []string, err error) {
	var errs []error
	for _, t := range r.Tools() {
		name := t.Name()
		if t.Description() == "" {
			warnings = append(warnings, fmt.Sprintf("tool %s has no description", name))
		}
		schema := t.InputSchema()
		if schema == nil {
			continue
		}
		if typ, _ := schema["type"].(string); typ != "object" {
			errs = append(errs, fmt.Errorf("tool %s: %w", name, ErrInvalidSchema))
		}
	}
	return warnings, errors.Join(errs...)
}
