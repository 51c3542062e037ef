package eav

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecutor struct {
	specs    []QuerySpec
	entities []*Entity
}

func (r *recordingExecutor) ExecuteQuery(_ context.Context, spec *QuerySpec) ([]*Entity, error) {
	r.specs = append(r.specs, *spec)
	return r.entities, nil
}

func (r *recordingExecutor) ExecuteIDs(_ context.Context, spec *QuerySpec) ([]uuid.UUID, error) {
	r.specs = append(r.specs, *spec)
	ids := make([]uuid.UUID, len(r.entities))
	for i, e := range r.entities {
		ids[i] = e.ID
	}
	return ids, nil
}

func (r *recordingExecutor) ExecuteCount(_ context.Context, spec *QuerySpec) (int64, error) {
	r.specs = append(r.specs, *spec)
	return int64(len(r.entities)), nil
}

func TestQueryIsImmutable(t *testing.T) {
	exec := &recordingExecutor{}
	base := NewQuery(exec, "thing").Filter(Lookups{"colour": "orange"})
	narrowed := base.Filter(Lookups{"size__in": []string{"s", "l"}})
	excluded := base.Exclude(Lookups{"taste": "sweet"})

	assert.Len(t, base.Spec().Filters, 1)
	assert.Len(t, narrowed.Spec().Filters, 2)
	assert.Empty(t, narrowed.Spec().Excludes)
	assert.Len(t, excluded.Spec().Excludes, 1)
	assert.Equal(t, "thing", excluded.Spec().EntityType)
}

func TestQueryFilterCopiesLookups(t *testing.T) {
	lookups := Lookups{"colour": "orange"}
	q := NewQuery(&recordingExecutor{}, "thing").Filter(lookups)
	lookups["colour"] = "green"
	assert.Equal(t, "orange", q.Spec().Filters[0]["colour"])
}

func TestQuerySkipsEmptyLookups(t *testing.T) {
	q := NewQuery(&recordingExecutor{}, "thing").Filter(nil).Exclude(Lookups{})
	assert.Empty(t, q.Spec().Filters)
	assert.Empty(t, q.Spec().Excludes)
}

func TestQueryOrderBy(t *testing.T) {
	q := NewQuery(&recordingExecutor{}, "thing").OrderBy("age", "-title")
	assert.Equal(t, []OrderBy{
		{Name: "age", SortOrder: SortOrderAsc},
		{Name: "title", SortOrder: SortOrderDesc},
	}, q.Spec().Order)

	q = q.OrderBy("colour")
	assert.Equal(t, []OrderBy{{Name: "colour", SortOrder: SortOrderAsc}}, q.Spec().Order)
}

func TestQueryTerminals(t *testing.T) {
	ctx := context.Background()
	e := NewEntity("thing")
	e.ID = uuid.New()
	exec := &recordingExecutor{entities: []*Entity{e}}
	q := NewQuery(exec, "thing").Filter(Lookups{"colour": "orange"}).OrderBy("-age")

	all, err := q.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	ids, err := q.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{e.ID}, ids)

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	first, err := q.First(ctx)
	require.NoError(t, err)
	assert.Same(t, e, first)

	require.Len(t, exec.specs, 4)
	assert.Len(t, exec.specs[0].Order, 1)
	assert.Empty(t, exec.specs[2].Order, "count drops ordering")
	assert.Equal(t, 1, exec.specs[3].Limit)
	assert.Equal(t, 0, exec.specs[0].Limit)
}

func TestQueryFirstNotFound(t *testing.T) {
	_, err := NewQuery(&recordingExecutor{}, "thing").First(context.Background())
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.True(t, IsErrorCode(err, ErrCodeEntityNotFound))
}
