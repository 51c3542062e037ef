package eav

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// QuerySpec is the backend-neutral description of an entity query.
type QuerySpec struct {
	EntityType string    `json:"entityType"`
	Filters    []Lookups `json:"filters,omitempty"`
	Excludes   []Lookups `json:"excludes,omitempty"`
	Order      []OrderBy `json:"order,omitempty"`
	Limit      int       `json:"limit,omitempty"` // 0 means no limit
}

// QueryExecutor runs query specs. The entity manager implements it.
type QueryExecutor interface {
	ExecuteQuery(ctx context.Context, spec *QuerySpec) ([]*Entity, error)
	ExecuteIDs(ctx context.Context, spec *QuerySpec) ([]uuid.UUID, error)
	ExecuteCount(ctx context.Context, spec *QuerySpec) (int64, error)
}

// Query is an immutable, chainable query over one entity type. Each
// Filter, Exclude or OrderBy call returns a new Query.
type Query struct {
	exec QueryExecutor
	spec QuerySpec
}

// NewQuery starts a query over entityType.
func NewQuery(exec QueryExecutor, entityType string) *Query {
	return &Query{exec: exec, spec: QuerySpec{EntityType: entityType}}
}

func (q *Query) clone() *Query {
	next := &Query{exec: q.exec, spec: q.spec}
	next.spec.Filters = append([]Lookups(nil), q.spec.Filters...)
	next.spec.Excludes = append([]Lookups(nil), q.spec.Excludes...)
	next.spec.Order = append([]OrderBy(nil), q.spec.Order...)
	return next
}

// Filter narrows the query to entities matching every lookup.
func (q *Query) Filter(lookups Lookups) *Query {
	next := q.clone()
	if len(lookups) > 0 {
		next.spec.Filters = append(next.spec.Filters, lookups.Merge(nil))
	}
	return next
}

// Exclude drops entities matching every lookup. Entities without a value
// for a referenced attribute are kept.
func (q *Query) Exclude(lookups Lookups) *Query {
	next := q.clone()
	if len(lookups) > 0 {
		next.spec.Excludes = append(next.spec.Excludes, lookups.Merge(nil))
	}
	return next
}

// OrderBy replaces the ordering. A leading "-" sorts descending.
func (q *Query) OrderBy(names ...string) *Query {
	next := q.clone()
	next.spec.Order = nil
	for _, name := range names {
		next.spec.Order = append(next.spec.Order, ParseOrderBy(name))
	}
	return next
}

// Spec returns a copy of the accumulated query description.
func (q *Query) Spec() QuerySpec {
	return q.clone().spec
}

// All returns every matching entity with its attributes loaded.
func (q *Query) All(ctx context.Context) ([]*Entity, error) {
	spec := q.Spec()
	return q.exec.ExecuteQuery(ctx, &spec)
}

// IDs returns the ids of matching entities in query order.
func (q *Query) IDs(ctx context.Context) ([]uuid.UUID, error) {
	spec := q.Spec()
	return q.exec.ExecuteIDs(ctx, &spec)
}

// Count returns the number of matching entities.
func (q *Query) Count(ctx context.Context) (int64, error) {
	spec := q.Spec()
	spec.Order = nil
	return q.exec.ExecuteCount(ctx, &spec)
}

// First returns the first matching entity or a not-found error.
func (q *Query) First(ctx context.Context) (*Entity, error) {
	spec := q.Spec()
	spec.Limit = 1
	entities, err := q.exec.ExecuteQuery(ctx, &spec)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, NewEAVError(ErrorTypeNotFound, ErrCodeEntityNotFound, "no entity matches the query").
			WithDetail("entityType", spec.EntityType)
	}
	return entities[0], nil
}

// ParseOrderBy reads "name" as ascending and "-name" as descending.
func ParseOrderBy(name string) OrderBy {
	if strings.HasPrefix(name, "-") {
		return OrderBy{Name: strings.TrimPrefix(name, "-"), SortOrder: SortOrderDesc}
	}
	return OrderBy{Name: name, SortOrder: SortOrderAsc}
}
