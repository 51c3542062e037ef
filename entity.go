package eav

import (
	"sort"

	"github.com/google/uuid"
)

// Entity is one row of a registered entity type together with its
// schema-backed attribute values.
//
// Static fields live in Fields. Attribute values are read with Get and
// staged with Set; staged names are written by EntityManager.Save.
type Entity struct {
	Type   string         `json:"type"`
	ID     uuid.UUID      `json:"id"`
	Fields map[string]any `json:"fields"`

	values   map[string]any
	original map[string]any
	dirty    map[string]bool
	stored   bool
}

// NewEntity returns an unsaved entity of the given type.
func NewEntity(entityType string) *Entity {
	return &Entity{
		Type:   entityType,
		Fields: make(map[string]any),
		values: make(map[string]any),
		dirty:  make(map[string]bool),
	}
}

// Get returns a static field or an attribute value by name.
func (e *Entity) Get(name string) (any, bool) {
	if v, ok := e.Fields[name]; ok {
		return v, true
	}
	v, ok := e.values[name]
	return v, ok
}

// Attr returns an attribute value; static fields are not consulted.
func (e *Entity) Attr(name string) any {
	return e.values[name]
}

// Set stages an attribute value. Use SetField for static fields.
func (e *Entity) Set(name string, value any) {
	if e.values == nil {
		e.values = make(map[string]any)
	}
	if e.dirty == nil {
		e.dirty = make(map[string]bool)
	}
	e.values[name] = value
	e.dirty[name] = true
}

// SetField sets a static field value.
func (e *Entity) SetField(name string, value any) {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[name] = value
}

// AttrNames returns the names of attributes carrying a value, sorted.
func (e *Entity) AttrNames() []string {
	names := make([]string, 0, len(e.values))
	for name, v := range e.values {
		if v == nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Attrs returns a copy of the attribute values.
func (e *Entity) Attrs() map[string]any {
	out := make(map[string]any, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}

// Dirty returns the attribute names staged since the last load or save, sorted.
func (e *Entity) Dirty() []string {
	names := make([]string, 0, len(e.dirty))
	for name := range e.dirty {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Original returns the value last read from or written to storage.
func (e *Entity) Original(name string) (any, bool) {
	v, ok := e.original[name]
	return v, ok
}

// Stored reports whether the entity row exists in the database.
func (e *Entity) Stored() bool {
	return e.stored
}

// Loaded replaces attribute values with freshly read ones and clears the
// staged set. Storage implementations call it after reading or saving.
func (e *Entity) Loaded(values map[string]any) {
	e.values = make(map[string]any, len(values))
	e.original = make(map[string]any, len(values))
	for k, v := range values {
		e.values[k] = v
		e.original[k] = v
	}
	e.dirty = make(map[string]bool)
	e.stored = true
}
