// Package personal strips fields tagged as personal data from entities
// before their events are persisted, and restores them after read.
//
// Entities opt in by implementing Holder. The accessor list is ordinary Go
// code, so a renamed or retyped field is a compile error rather than a
// silently skipped path.
//
//	func (c *Customer) PersonalData() []personal.Field {
//		return append([]personal.Field{
//			personal.Of("Name", &c.Name),
//			personal.Of("Email", &c.Email),
//		}, personal.Nest("Address", c.Address.PersonalData()...)...)
//	}
package personal

import (
	"encoding/json"
)

// Holder is implemented by entities that carry personal data.
type Holder interface {
	PersonalData() []Field
}

// Field is an accessor for one tagged leaf, addressed by its dot path.
type Field struct {
	Path string

	capture func() (json.RawMessage, error)
	restore func(json.RawMessage) error
	clear   func()
}

// Of returns the accessor for the value p points to.
func Of[T any](path string, p *T) Field {
	return Field{
		Path: path,
		capture: func() (json.RawMessage, error) {
			return json.Marshal(*p)
		},
		restore: func(raw json.RawMessage) error {
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			*p = v
			return nil
		},
		clear: func() {
			var zero T
			*p = zero
		},
	}
}

// Nest prefixes the paths of fields belonging to a nested value object.
func Nest(prefix string, fields ...Field) []Field {
	out := make([]Field, len(fields))
	for i, f := range fields {
		f.Path = prefix + "." + f.Path
		out[i] = f
	}
	return out
}

// Record maps dot paths to the original JSON-encoded values.
type Record map[string]json.RawMessage

// Fields returns the personal-data accessors of v, or nil when v carries
// no personal data.
func Fields(v any) []Field {
	h, ok := v.(Holder)
	if !ok {
		return nil
	}
	return h.PersonalData()
}
