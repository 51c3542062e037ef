package facet

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/lychee-technology/eav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	et       *eav.EntityType
	schemata []*eav.Schema
	probes   []*eav.Entity
	specs    []eav.QuerySpec
	distinct []string
}

func (f *fakeSource) EntityType(name string) (*eav.EntityType, error) {
	if name != f.et.Name {
		return nil, eav.NewEntityTypeNotFoundError(name)
	}
	return f.et, nil
}

func (f *fakeSource) SchemataFor(_ context.Context, e *eav.Entity) ([]*eav.Schema, error) {
	f.probes = append(f.probes, e)
	return f.schemata, nil
}

func (f *fakeSource) Query(entityType string) *eav.Query {
	return eav.NewQuery(f, entityType)
}

func (f *fakeSource) DistinctValues(_ context.Context, _, name string, _ eav.Lookups) ([]any, error) {
	f.distinct = append(f.distinct, name)
	return []any{"orange", "red"}, nil
}

func (f *fakeSource) ExecuteQuery(_ context.Context, spec *eav.QuerySpec) ([]*eav.Entity, error) {
	f.specs = append(f.specs, *spec)
	return nil, nil
}

func (f *fakeSource) ExecuteIDs(context.Context, *eav.QuerySpec) ([]uuid.UUID, error) {
	return nil, nil
}

func (f *fakeSource) ExecuteCount(context.Context, *eav.QuerySpec) (int64, error) {
	return 0, nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		et: &eav.EntityType{Name: "item", Table: "items", Fields: []eav.Field{
			{Name: "rubric", Type: eav.DataTypeInt},
			{Name: "price", Type: eav.DataTypeFloat, Filterable: true, Sortable: true},
		}},
		schemata: []*eav.Schema{
			{ID: 1, Name: "colour", Title: "Colour", DataType: eav.DataTypeText, Filtered: true, Sortable: true},
			{ID: 2, Name: "age", Title: "Age", DataType: eav.DataTypeInt, Filtered: true},
			{ID: 3, Name: "size", Title: "Size", DataType: eav.DataTypeMany, Filtered: true, Sortable: true,
				Choices: []eav.Choice{{ID: 1, SchemaID: 3, Name: "s"}, {ID: 2, SchemaID: 3, Name: "l"}}},
			{ID: 4, Name: "m2o_size_s", DataType: eav.DataTypeBool, Filtered: true, Managed: true, ParentID: 3, ChoiceID: 1},
			{ID: 5, Name: "notes", DataType: eav.DataTypeText},
		},
	}
}

func TestNewBuildsFacetsForFilterableNames(t *testing.T) {
	src := newFakeSource()
	s, err := New(context.Background(), src, "item", eav.Lookups{"rubric": 3}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"colour", "age", "size", "price"}, s.FilterableNames())
	assert.Equal(t, []string{"colour", "price"}, s.SortableNames())

	require.Len(t, src.probes, 1)
	assert.Equal(t, 3, src.probes[0].Fields["rubric"])
}

func TestNewUnknownEntityType(t *testing.T) {
	_, err := New(context.Background(), newFakeSource(), "nope", nil, nil)
	assert.True(t, eav.IsErrorCode(err, eav.ErrCodeEntityTypeNotFound))
}

func TestLookupsSkipInvalidInput(t *testing.T) {
	data := map[string][]string{
		"colour": {"orange"},
		"age":    {"old:"},
		"size":   {"s", "l"},
		"price":  {":9.5"},
		"notes":  {"ignored"},
	}
	s, err := New(context.Background(), newFakeSource(), "item", eav.Lookups{"rubric": 3}, data)
	require.NoError(t, err)

	assert.Equal(t, eav.Lookups{
		"rubric":     3,
		"colour":     "orange",
		"size__in":   []string{"s", "l"},
		"price__lte": 9.5,
	}, s.Lookups())
}

func TestQueryOrdersBySortableName(t *testing.T) {
	src := newFakeSource()
	data := map[string][]string{ParamOrderBy: {"colour"}, ParamOrderDesc: {"1"}}
	s, err := New(context.Background(), src, "item", nil, data)
	require.NoError(t, err)

	_, err = s.All(context.Background())
	require.NoError(t, err)
	require.Len(t, src.specs, 1)
	assert.Equal(t, []eav.OrderBy{{Name: "colour", SortOrder: eav.SortOrderDesc}}, src.specs[0].Order)
	assert.Empty(t, src.specs[0].Filters)
}

func TestQueryRejectsUnknownOrderName(t *testing.T) {
	data := map[string][]string{ParamOrderBy: {"age"}}
	s, err := New(context.Background(), newFakeSource(), "item", nil, data)
	require.NoError(t, err)

	_, err = s.Query()
	require.Error(t, err)
	assert.True(t, eav.IsErrorCode(err, eav.ErrCodeUnknownAttribute))
	assert.Contains(t, err.Error(), `unknown attribute(s) "age"`)
	assert.Contains(t, err.Error(), "Available fields: (price)")
}

func TestChoices(t *testing.T) {
	src := newFakeSource()
	s, err := New(context.Background(), src, "item", nil, nil)
	require.NoError(t, err)

	values, err := s.Choices(context.Background(), "colour")
	require.NoError(t, err)
	assert.Equal(t, []any{"orange", "red"}, values)
	assert.Equal(t, []string{"colour"}, src.distinct)

	values, err = s.Choices(context.Background(), "size")
	require.NoError(t, err)
	assert.Equal(t, []any{"s", "l"}, values)

	_, err = s.Choices(context.Background(), "notes")
	assert.Error(t, err)
}

func TestDesc(t *testing.T) {
	for _, raw := range []string{"", "0", "false", "No"} {
		assert.False(t, desc(raw), raw)
	}
	for _, raw := range []string{"1", "true", "on"} {
		assert.True(t, desc(raw), raw)
	}
}
