// Package facet turns raw filter input (query-string style values) into
// entity lookups, one facet per filterable schema or static field.
package facet

import (
	"fmt"
	"strings"

	"github.com/lychee-technology/eav"
)

// Kind identifies the input shape a facet accepts.
type Kind string

const (
	KindText  Kind = "text"
	KindRange Kind = "range"
	KindDate  Kind = "date"
	KindBool  Kind = "bool"
	KindMany  Kind = "many"
)

// RangeSeparator splits "start:stop" range input.
const RangeSeparator = ":"

// Facet converts raw input for one attribute into lookups.
type Facet interface {
	Name() string
	Title() string
	Kind() Kind
	DataType() eav.DataType
	// Field reports whether the facet filters a static field.
	Field() bool
	// Lookups returns nil for empty input and an error for invalid input.
	Lookups(raw []string) (eav.Lookups, error)
}

type base struct {
	name  string
	title string
	dt    eav.DataType
	field bool
}

func (b base) Name() string           { return b.name }
func (b base) Title() string          { return b.title }
func (b base) DataType() eav.DataType { return b.dt }
func (b base) Field() bool            { return b.field }

// first returns the first non-blank raw value.
func first(raw []string) string {
	for _, r := range raw {
		if s := strings.TrimSpace(r); s != "" {
			return s
		}
	}
	return ""
}

// TextFacet matches one exact text value.
type TextFacet struct{ base }

func (f *TextFacet) Kind() Kind { return KindText }

func (f *TextFacet) Lookups(raw []string) (eav.Lookups, error) {
	v := first(raw)
	if v == "" {
		return nil, nil
	}
	return eav.Lookups{f.name: v}, nil
}

// RangeFacet parses "start:stop". Either bound may be blank; input without
// a separator matches exactly.
type RangeFacet struct{ base }

func (f *RangeFacet) Kind() Kind { return KindRange }

func (f *RangeFacet) Lookups(raw []string) (eav.Lookups, error) {
	v := first(raw)
	if v == "" {
		return nil, nil
	}
	startRaw, stopRaw, ranged := strings.Cut(v, RangeSeparator)
	start, err := eav.ParseRaw(f.dt, startRaw)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid range start %q: %w", f.name, startRaw, err)
	}
	if !ranged {
		return eav.Lookups{f.name: start}, nil
	}
	stop, err := eav.ParseRaw(f.dt, stopRaw)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid range stop %q: %w", f.name, stopRaw, err)
	}
	switch {
	case start != nil && stop != nil:
		return eav.Lookups{f.name + eav.LookupSeparator + string(eav.OpRange): []any{start, stop}}, nil
	case start != nil:
		return eav.Lookups{f.name + eav.LookupSeparator + string(eav.OpGt): start}, nil
	case stop != nil:
		return eav.Lookups{f.name + eav.LookupSeparator + string(eav.OpLte): stop}, nil
	}
	return nil, nil
}

// DateFacet matches one day.
type DateFacet struct{ base }

func (f *DateFacet) Kind() Kind { return KindDate }

func (f *DateFacet) Lookups(raw []string) (eav.Lookups, error) {
	v, err := eav.ParseRaw(eav.DataTypeDate, first(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid date: %w", f.name, err)
	}
	if v == nil {
		return nil, nil
	}
	return eav.Lookups{f.name: v}, nil
}

// BoolFacet matches true or false; blank input leaves the attribute unfiltered.
type BoolFacet struct{ base }

func (f *BoolFacet) Kind() Kind { return KindBool }

func (f *BoolFacet) Lookups(raw []string) (eav.Lookups, error) {
	v, err := eav.ParseRaw(eav.DataTypeBool, first(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid boolean: %w", f.name, err)
	}
	if v == nil {
		return nil, nil
	}
	return eav.Lookups{f.name: v}, nil
}

// ManyFacet selects entities carrying any of the given choices.
type ManyFacet struct {
	base
	choices []eav.Choice
}

func (f *ManyFacet) Kind() Kind { return KindMany }

// Choices returns the selectable choices in schema order.
func (f *ManyFacet) Choices() []eav.Choice {
	return append([]eav.Choice(nil), f.choices...)
}

func (f *ManyFacet) Lookups(raw []string) (eav.Lookups, error) {
	var names []string
	seen := make(map[string]bool)
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			name := eav.SlugifyName(part)
			if name == "" || seen[name] {
				continue
			}
			if !f.allowed(name) {
				return nil, fmt.Errorf("%s: unknown choice %q", f.name, strings.TrimSpace(part))
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	switch len(names) {
	case 0:
		return nil, nil
	case 1:
		return eav.Lookups{f.name: names[0]}, nil
	default:
		return eav.Lookups{f.name + eav.LookupSeparator + string(eav.OpIn): names}, nil
	}
}

func (f *ManyFacet) allowed(name string) bool {
	for _, c := range f.choices {
		if c.Name == name {
			return true
		}
	}
	return false
}

// ForSchema returns the facet matching the schema's datatype.
func ForSchema(s *eav.Schema) Facet {
	b := base{name: s.Name, title: s.Title, dt: s.DataType}
	if s.DataType == eav.DataTypeMany {
		return &ManyFacet{base: b, choices: append([]eav.Choice(nil), s.Choices...)}
	}
	return forType(b)
}

// ForField returns the facet for a static field.
func ForField(f eav.Field) Facet {
	return forType(base{name: f.Name, title: f.Name, dt: f.Type, field: true})
}

func forType(b base) Facet {
	switch b.dt {
	case eav.DataTypeInt, eav.DataTypeFloat:
		return &RangeFacet{base: b}
	case eav.DataTypeDate:
		return &DateFacet{base: b}
	case eav.DataTypeBool:
		return &BoolFacet{base: b}
	default:
		return &TextFacet{base: b}
	}
}
