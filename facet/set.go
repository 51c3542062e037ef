package facet

import (
	"context"
	"slices"
	"strings"

	"github.com/lychee-technology/eav"
	"go.uber.org/zap"
)

// Query parameters read by Set besides facet names.
const (
	ParamOrderBy   = "order_by"
	ParamOrderDesc = "order_desc"
)

// Source is the part of eav.EntityManager a facet set needs.
type Source interface {
	EntityType(name string) (*eav.EntityType, error)
	SchemataFor(ctx context.Context, e *eav.Entity) ([]*eav.Schema, error)
	Query(entityType string) *eav.Query
	DistinctValues(ctx context.Context, entityType, name string, scope eav.Lookups) ([]any, error)
}

// Set is the facet collection for one entity type within a scope, bound
// to one round of raw input.
type Set struct {
	src        Source
	entityType string
	scope      eav.Lookups
	data       map[string][]string

	facets   []Facet
	sortable []string
	fields   []string
	schemata []string
}

// New builds the facets of entityType that apply within scope. Scope
// lookups on static fields (e.g. a rubric) also select the applicable
// schemata, the same way they would for an entity carrying those fields.
func New(ctx context.Context, src Source, entityType string, scope eav.Lookups, data map[string][]string) (*Set, error) {
	et, err := src.EntityType(entityType)
	if err != nil {
		return nil, err
	}
	probe := eav.NewEntity(entityType)
	for k, v := range scope {
		if _, ok := et.Field(k); ok {
			probe.SetField(k, v)
		}
	}
	schemata, err := src.SchemataFor(ctx, probe)
	if err != nil {
		return nil, err
	}

	s := &Set{
		src:        src,
		entityType: entityType,
		scope:      scope.Merge(nil),
		data:       data,
	}
	for _, sc := range schemata {
		if sc.Managed {
			continue
		}
		if sc.Filtered {
			s.facets = append(s.facets, ForSchema(sc))
		}
		if sc.Sortable && sc.DataType.Scalar() {
			s.sortable = append(s.sortable, sc.Name)
			s.schemata = append(s.schemata, sc.Name)
		}
	}
	for _, f := range et.Fields {
		if f.Filterable {
			s.facets = append(s.facets, ForField(f))
		}
		if f.Sortable {
			s.sortable = append(s.sortable, f.Name)
			s.fields = append(s.fields, f.Name)
		}
	}
	return s, nil
}

// Facets returns the facets in schema order followed by field facets.
func (s *Set) Facets() []Facet {
	return append([]Facet(nil), s.facets...)
}

// Facet returns the facet with the given name.
func (s *Set) Facet(name string) (Facet, bool) {
	for _, f := range s.facets {
		if f.Name() == name {
			return f, true
		}
	}
	return nil, false
}

// FilterableNames lists facet names.
func (s *Set) FilterableNames() []string {
	names := make([]string, len(s.facets))
	for i, f := range s.facets {
		names[i] = f.Name()
	}
	return names
}

// SortableNames lists the names accepted by order_by.
func (s *Set) SortableNames() []string {
	return append([]string(nil), s.sortable...)
}

// Lookups merges the scope with the lookups of every facet whose input is
// valid. Invalid input is logged and skipped.
func (s *Set) Lookups() eav.Lookups {
	out := s.scope.Merge(nil)
	for _, f := range s.facets {
		raw, ok := s.data[f.Name()]
		if !ok {
			continue
		}
		lookups, err := f.Lookups(raw)
		if err != nil {
			zap.S().Debugw("skipping invalid facet input", "entityType", s.entityType, "facet", f.Name(), "err", err)
			continue
		}
		out = out.Merge(lookups)
	}
	return out
}

// Query returns the filtered and ordered query. An order_by naming
// anything but a sortable field or schema is an error.
func (s *Set) Query() (*eav.Query, error) {
	q := s.src.Query(s.entityType).Filter(s.Lookups())
	name := first(s.data[ParamOrderBy])
	if name == "" {
		return q, nil
	}
	if !slices.Contains(s.sortable, name) {
		return nil, eav.NewUnknownAttributeError("order", s.entityType, []string{name}, s.fields, s.schemata)
	}
	if desc(first(s.data[ParamOrderDesc])) {
		name = "-" + name
	}
	return q.OrderBy(name), nil
}

// All runs Query.
func (s *Set) All(ctx context.Context) ([]*eav.Entity, error) {
	q, err := s.Query()
	if err != nil {
		return nil, err
	}
	return q.All(ctx)
}

// Choices lists the values a text facet can take within the scope.
func (s *Set) Choices(ctx context.Context, name string) ([]any, error) {
	f, ok := s.Facet(name)
	if !ok {
		return nil, eav.NewUnknownAttributeError("list facet values of", s.entityType, []string{name}, nil, s.FilterableNames())
	}
	if m, ok := f.(*ManyFacet); ok {
		choices := m.Choices()
		out := make([]any, len(choices))
		for i, c := range choices {
			out[i] = c.Name
		}
		return out, nil
	}
	return s.src.DistinctValues(ctx, s.entityType, name, s.scope)
}

func desc(raw string) bool {
	switch strings.ToLower(raw) {
	case "", "0", "false", "off", "no":
		return false
	}
	return true
}
