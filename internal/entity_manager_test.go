package internal

import (
	"context"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lychee-technology/eav"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*entityManager, pgxmock.PgxPoolIface, *memStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	em := newEntityManager(mock, eav.DefaultConfig())
	store := newMemStore()
	em.schemas, em.attrs, em.entities = store, store, store
	require.NoError(t, em.RegisterEntityType(*thingType()))
	return em, mock, store
}

func expectTx(mock pgxmock.PgxPoolIface) {
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectRollback()
}

// seedSchemata creates colour (text), age (int) and size (many: s, m, l).
func seedSchemata(t *testing.T, em *entityManager, mock pgxmock.PgxPoolIface) {
	t.Helper()
	ctx := context.Background()
	for _, s := range []*eav.Schema{
		{Title: "Colour", DataType: eav.DataTypeText, Filtered: true},
		{Title: "Age", DataType: eav.DataTypeInt, Filtered: true, Sortable: true},
		{Title: "Size", DataType: eav.DataTypeMany, Filtered: true, Choices: []eav.Choice{{Title: "S"}, {Title: "M"}, {Title: "L"}}},
	} {
		expectTx(mock)
		_, err := em.CreateSchema(ctx, s)
		require.NoError(t, err)
	}
}

func TestRegisterEntityType(t *testing.T) {
	em, _, _ := newTestManager(t)

	err := em.RegisterEntityType(*thingType())
	assert.True(t, eav.IsErrorCode(err, eav.ErrCodeEntityTypeExists))

	err = em.RegisterEntityType(eav.EntityType{Name: "broken"})
	assert.True(t, eav.IsErrorCode(err, eav.ErrCodeValidationFailed))

	_, err = em.New("nope")
	assert.True(t, eav.IsErrorCode(err, eav.ErrCodeEntityTypeNotFound))

	e, err := em.New("thing")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.False(t, e.Stored())
}

func TestCreateSchemaNames(t *testing.T) {
	ctx := context.Background()
	em, mock, _ := newTestManager(t)

	expectTx(mock)
	colour, err := em.CreateSchema(ctx, &eav.Schema{Title: "Colour", DataType: eav.DataTypeText})
	require.NoError(t, err)
	assert.Equal(t, "colour", colour.Name)
	assert.NotZero(t, colour.ID)

	expectTx(mock)
	again, err := em.CreateSchema(ctx, &eav.Schema{Title: "Colour", DataType: eav.DataTypeText})
	require.NoError(t, err)
	assert.Equal(t, "colour_2", again.Name)

	expectTx(mock)
	title, err := em.CreateSchema(ctx, &eav.Schema{Title: "Title", DataType: eav.DataTypeText})
	require.NoError(t, err)
	assert.Equal(t, "title_2", title.Name, "static field names are reserved")

	tests := []struct {
		name   string
		schema *eav.Schema
		code   string
	}{
		{"reserved field", &eav.Schema{Name: "title", DataType: eav.DataTypeText}, eav.ErrCodeReservedName},
		{"managed prefix", &eav.Schema{Name: "m2o_thing", DataType: eav.DataTypeBool}, eav.ErrCodeReservedName},
		{"id column", &eav.Schema{Name: "id", DataType: eav.DataTypeText}, eav.ErrCodeReservedName},
		{"not a slug", &eav.Schema{Name: "Bad Name", DataType: eav.DataTypeText}, eav.ErrCodeValidationFailed},
		{"taken", &eav.Schema{Name: "colour", DataType: eav.DataTypeText}, eav.ErrCodeSchemaExists},
		{"managed", &eav.Schema{Title: "X", DataType: eav.DataTypeBool, Managed: true}, eav.ErrCodeValidationFailed},
		{"datatype", &eav.Schema{Title: "X", DataType: "blob"}, eav.ErrCodeValidationFailed},
		{"empty title", &eav.Schema{Title: "!!", DataType: eav.DataTypeText}, eav.ErrCodeValidationFailed},
		{"duplicate choices", &eav.Schema{Title: "Fit", DataType: eav.DataTypeMany, Choices: []eav.Choice{{Title: "Slim"}, {Title: "slim"}}}, eav.ErrCodeChoiceExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := em.CreateSchema(ctx, tt.schema)
			require.Error(t, err)
			assert.True(t, eav.IsErrorCode(err, tt.code), err.Error())
		})
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateManySchemaCreatesManagedSchemata(t *testing.T) {
	ctx := context.Background()
	em, mock, _ := newTestManager(t)

	expectTx(mock)
	size, err := em.CreateSchema(ctx, &eav.Schema{
		Title: "Size", DataType: eav.DataTypeMany, Filtered: true,
		Choices: []eav.Choice{{Title: "S"}, {Title: "M"}, {Title: "L"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"s", "m", "l"}, size.ChoiceNames())

	for _, c := range size.Choices {
		managed, err := em.GetSchema(ctx, eav.ManagedSchemaName("size", c.Name))
		require.NoError(t, err)
		assert.True(t, managed.Managed)
		assert.True(t, managed.Filtered)
		assert.Equal(t, size.ID, managed.ParentID)
		assert.Equal(t, c.ID, managed.ChoiceID)
	}

	all, err := em.ListSchemata(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	em, mock, _ := newTestManager(t)
	seedSchemata(t, em, mock)

	e, err := em.New("thing")
	require.NoError(t, err)
	e.SetField("title", "Apple")
	e.Set("colour", "green")
	e.Set("age", "3")
	e.Set("size", []string{"L", "s"})

	expectTx(mock)
	require.NoError(t, em.Save(ctx, e))
	assert.True(t, e.Stored())
	assert.Empty(t, e.Dirty())
	assert.Equal(t, int64(3), e.Attr("age"))
	assert.Equal(t, []string{"s", "l"}, e.Attr("size"))
	assert.Equal(t, true, e.Attr("m2o_size_s"))
	assert.Equal(t, false, e.Attr("m2o_size_m"))

	got, err := em.Get(ctx, "thing", e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Apple", got.Fields["title"])
	assert.Equal(t, "green", got.Attr("colour"))
	assert.Equal(t, int64(3), got.Attr("age"))
	assert.Equal(t, []string{"s", "l"}, got.Attr("size"))
	assert.Equal(t, true, got.Attr("m2o_size_l"))

	got.Set("colour", nil)
	got.Set("size", []string{"m"})
	expectTx(mock)
	require.NoError(t, em.Save(ctx, got))

	again, err := em.Get(ctx, "thing", e.ID)
	require.NoError(t, err)
	assert.Nil(t, again.Attr("colour"))
	assert.Equal(t, []string{"m"}, again.Attr("size"))
	assert.Equal(t, true, again.Attr("m2o_size_m"))
	assert.Equal(t, false, again.Attr("m2o_size_s"))
	assert.Equal(t, []string{"age", "m2o_size_l", "m2o_size_m", "m2o_size_s", "size"}, again.AttrNames())

	_, err = em.Get(ctx, "thing", uuid.New())
	assert.True(t, eav.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRejectsInvalidValues(t *testing.T) {
	ctx := context.Background()
	em, mock, _ := newTestManager(t)
	seedSchemata(t, em, mock)

	tests := []struct {
		name  string
		attr  string
		value any
		code  string
		msg   string
	}{
		{"unknown", "smell", "bad", eav.ErrCodeUnknownAttribute, `cannot save thing: unknown attribute(s) "smell"`},
		{"choice", "size", []string{"s", "xl"}, eav.ErrCodeChoiceNotAllowed, "expected subset of [s, m, l]"},
		{"managed", "m2o_size_s", true, eav.ErrCodeManagedReadOnly, `set "size" instead`},
		{"conversion", "age", "old", eav.ErrCodeConversionFailed, "age"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := em.New("thing")
			require.NoError(t, err)
			e.Set(tt.attr, tt.value)

			err = em.Validate(ctx, e)
			require.Error(t, err)
			assert.True(t, eav.IsErrorCode(err, tt.code), err.Error())
			assert.Contains(t, err.Error(), tt.msg)

			err = em.Save(ctx, e)
			require.Error(t, err)
			assert.False(t, e.Stored())
		})
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEnforcesRequired(t *testing.T) {
	ctx := context.Background()
	em, mock, _ := newTestManager(t)

	expectTx(mock)
	_, err := em.CreateSchema(ctx, &eav.Schema{Title: "Weight", DataType: eav.DataTypeFloat, Required: true})
	require.NoError(t, err)

	e, err := em.New("thing")
	require.NoError(t, err)
	err = em.Save(ctx, e)
	require.Error(t, err)
	assert.True(t, eav.IsErrorCode(err, eav.ErrCodeRequiredMissing))
	assert.Contains(t, err.Error(), "weight")

	e.Set("weight", 1.5)
	expectTx(mock)
	require.NoError(t, em.Save(ctx, e))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaFilterScopesSaveButNotCreate(t *testing.T) {
	ctx := context.Background()
	em, mock, _ := newTestManager(t)
	seedSchemata(t, em, mock)
	require.NoError(t, em.RegisterEntityType(eav.EntityType{
		Name:   "gadget",
		Table:  "gadgets",
		Fields: []eav.Field{{Name: "kind", Type: eav.DataTypeText}},
		SchemaFilter: func(_ *eav.Entity, s *eav.Schema) bool {
			return s.Name != "colour"
		},
	}))

	expectTx(mock)
	created, err := em.Create(ctx, "gadget", map[string]any{"kind": "lamp", "colour": "red", "size": "m"})
	require.NoError(t, err)
	assert.Equal(t, "red", created.Attr("colour"))
	assert.Equal(t, "lamp", created.Fields["kind"])

	got, err := em.Get(ctx, "gadget", created.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Attr("colour"), "colour does not apply to gadgets")
	assert.Equal(t, []string{"m"}, got.Attr("size"))

	got.Set("colour", "blue")
	err = em.Save(ctx, got)
	assert.True(t, eav.IsErrorCode(err, eav.ErrCodeUnknownAttribute))

	_, err = em.Create(ctx, "gadget", map[string]any{"smell": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot create gadget")

	schemata, err := em.SchemataFor(ctx, got)
	require.NoError(t, err)
	names := schemaNames(schemata)
	assert.NotContains(t, names, "colour")
	assert.Contains(t, names, "size")
	assert.Contains(t, names, "m2o_size_m")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteEntity(t *testing.T) {
	ctx := context.Background()
	em, mock, store := newTestManager(t)
	seedSchemata(t, em, mock)

	expectTx(mock)
	e, err := em.Create(ctx, "thing", map[string]any{"title": "Pear", "colour": "yellow"})
	require.NoError(t, err)
	require.Len(t, store.attrs, 1)

	expectTx(mock)
	require.NoError(t, em.Delete(ctx, e))
	assert.Empty(t, store.attrs)
	assert.Empty(t, store.rows["thing"])

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = em.Delete(ctx, e)
	assert.True(t, eav.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChoiceChanges(t *testing.T) {
	ctx := context.Background()
	em, mock, _ := newTestManager(t)
	seedSchemata(t, em, mock)

	expectTx(mock)
	e, err := em.Create(ctx, "thing", map[string]any{"size": []string{"s", "m"}})
	require.NoError(t, err)

	expectTx(mock)
	require.NoError(t, em.RemoveChoice(ctx, "size", "m"))
	got, err := em.Get(ctx, "thing", e.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"s"}, got.Attr("size"))
	_, err = em.GetSchema(ctx, "m2o_size_m")
	assert.True(t, eav.IsNotFound(err))

	expectTx(mock)
	xl, err := em.AddChoice(ctx, "size", "XL")
	require.NoError(t, err)
	assert.Equal(t, "xl", xl.Name)
	managed, err := em.GetSchema(ctx, "m2o_size_xl")
	require.NoError(t, err)
	assert.Equal(t, xl.ID, managed.ChoiceID)

	_, err = em.AddChoice(ctx, "size", "S")
	assert.True(t, eav.IsErrorCode(err, eav.ErrCodeChoiceExists))
	_, err = em.AddChoice(ctx, "colour", "Red")
	assert.True(t, eav.IsErrorCode(err, eav.ErrCodeSchemaInvalid))
	err = em.RemoveChoice(ctx, "size", "m")
	assert.True(t, eav.IsErrorCode(err, eav.ErrCodeChoiceNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncManagedSchemata(t *testing.T) {
	ctx := context.Background()
	em, mock, store := newTestManager(t)
	seedSchemata(t, em, mock)

	store.removeSchema("m2o_size_m")
	em.cache.invalidate()

	expectTx(mock)
	require.NoError(t, em.SyncManagedSchemata(ctx, "size"))
	_, err := em.GetSchema(ctx, "m2o_size_m")
	require.NoError(t, err)

	require.NoError(t, em.SyncManagedSchemata(ctx, "size"), "nothing to do")
	err = em.SyncManagedSchemata(ctx, "m2o_size_m")
	assert.True(t, eav.IsErrorCode(err, eav.ErrCodeValidationFailed))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSchema(t *testing.T) {
	ctx := context.Background()
	em, mock, _ := newTestManager(t)
	seedSchemata(t, em, mock)

	expectTx(mock)
	e, err := em.Create(ctx, "thing", map[string]any{"colour": "green", "age": 4})
	require.NoError(t, err)

	expectTx(mock)
	updated, err := em.UpdateSchema(ctx, &eav.Schema{Name: "colour", DataType: eav.DataTypeInt})
	require.NoError(t, err)
	assert.Equal(t, "Colour", updated.Title)
	assert.Equal(t, eav.DataTypeInt, updated.DataType)

	got, err := em.Get(ctx, "thing", e.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Attr("colour"), "datatype change drops stored values")
	assert.Equal(t, int64(4), got.Attr("age"))

	size, err := em.GetSchema(ctx, "size")
	require.NoError(t, err)
	expectTx(mock)
	renamed, err := em.UpdateSchema(ctx, &eav.Schema{ID: size.ID, Name: "dimension", Filtered: true})
	require.NoError(t, err)
	assert.Equal(t, "dimension", renamed.Name)
	assert.Equal(t, []string{"s", "m", "l"}, renamed.ChoiceNames())
	_, err = em.GetSchema(ctx, "m2o_dimension_l")
	require.NoError(t, err)

	_, err = em.UpdateSchema(ctx, &eav.Schema{Name: "m2o_dimension_l", Title: "Nope"})
	assert.True(t, eav.IsErrorCode(err, eav.ErrCodeManagedReadOnly))
	_, err = em.UpdateSchema(ctx, &eav.Schema{Name: "smell"})
	assert.True(t, eav.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSchema(t *testing.T) {
	ctx := context.Background()
	em, mock, store := newTestManager(t)
	seedSchemata(t, em, mock)

	expectTx(mock)
	_, err := em.Create(ctx, "thing", map[string]any{"size": "l", "colour": "red"})
	require.NoError(t, err)

	err = em.DeleteSchema(ctx, "m2o_size_l")
	assert.True(t, eav.IsErrorCode(err, eav.ErrCodeManagedReadOnly))

	expectTx(mock)
	require.NoError(t, em.DeleteSchema(ctx, "size"))
	all, err := em.ListSchemata(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"age", "colour"}, schemaNames(all))
	require.Len(t, store.attrs, 1)
	assert.Equal(t, "red", store.attrs[0].Value(eav.DataTypeText))

	err = em.DeleteSchema(ctx, "size")
	assert.True(t, eav.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteQueryOrdersAndLoads(t *testing.T) {
	ctx := context.Background()
	em, mock, store := newTestManager(t)
	seedSchemata(t, em, mock)

	for _, title := range []string{"Apple", "Pear"} {
		expectTx(mock)
		_, err := em.Create(ctx, "thing", map[string]any{"title": title, "age": len(title)})
		require.NoError(t, err)
	}

	entities, err := em.Query("thing").OrderBy("-age").All(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Contains(t, store.lastStmt.SQL, `DESC NULLS LAST, e."id" ASC`)
	for _, e := range entities {
		assert.NotNil(t, e.Attr("age"))
		assert.True(t, e.Stored())
	}

	_, err = em.Query("thing").Filter(eav.Lookups{"smell": "x"}).All(ctx)
	assert.True(t, eav.IsErrorCode(err, eav.ErrCodeUnknownAttribute))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteCountAndIDs(t *testing.T) {
	ctx := context.Background()
	em, mock, _ := newTestManager(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "things" e WHERE (e."title" = $1)`)).
		WithArgs("Apple").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))

	a, b := uuid.New(), uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT e."id" FROM "things" e WHERE (e."title" = $1) ORDER BY e."title" DESC NULLS LAST, e."id" ASC`)).
		WithArgs("Apple").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(a).AddRow(b))

	q := em.Query("thing").Filter(eav.Lookups{"title": "Apple"}).OrderBy("-title")
	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ids, err := q.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDistinctValues(t *testing.T) {
	ctx := context.Background()
	em, mock, _ := newTestManager(t)
	seedSchemata(t, em, mock)

	colour, err := em.GetSchema(ctx, "colour")
	require.NoError(t, err)
	size, err := em.GetSchema(ctx, "size")
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT DISTINCT a.value_text FROM "eav_attr" a`)).
		WithArgs("thing", colour.ID).
		WillReturnRows(pgxmock.NewRows([]string{"value_text"}).AddRow("green").AddRow("red"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT DISTINCT a.choice_id FROM "eav_attr" a`)).
		WithArgs("thing", size.ID).
		WillReturnRows(pgxmock.NewRows([]string{"choice_id"}).AddRow(size.Choices[2].ID).AddRow(size.Choices[0].ID))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT DISTINCT e."title" FROM "things" e WHERE e."title" IS NOT NULL ORDER BY 1`)).
		WillReturnRows(pgxmock.NewRows([]string{"title"}).AddRow("Apple"))

	values, err := em.DistinctValues(ctx, "thing", "colour", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"green", "red"}, values)

	values, err = em.DistinctValues(ctx, "thing", "size", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"s", "l"}, values)

	values, err = em.DistinctValues(ctx, "thing", "title", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"Apple"}, values)

	values, err = em.DistinctValues(ctx, "thing", "m2o_size_s", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{true}, values)

	_, err = em.DistinctValues(ctx, "thing", "smell", nil)
	assert.True(t, eav.IsErrorCode(err, eav.ErrCodeUnknownAttribute))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	em, mock, _ := newTestManager(t)

	mock.ExpectBegin()
	mock.ExpectRollback()
	boom := eav.NewInternalError("boom", nil)
	err := em.withTx(ctx, func(_ pgx.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)

	mock.ExpectBegin().WillReturnError(assert.AnError)
	err = em.withTx(ctx, func(_ pgx.Tx) error { return nil })
	assert.True(t, eav.IsErrorCode(err, eav.ErrCodeTransactionFailed))
	require.NoError(t, mock.ExpectationsWereMet())
}
