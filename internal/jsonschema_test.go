package internal

import (
	"context"
	"testing"
	"time"

	"github.com/lychee-technology/eav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildJSONSchema(t *testing.T) {
	catalog := thingCatalog()
	colour, _ := catalog.schema("colour")
	colour.Required = true

	js := buildJSONSchema(thingType(), catalog.all())
	assert.Equal(t, "thing", js.Title)
	assert.Equal(t, "object", js.Type)
	assert.Equal(t, []string{"colour"}, js.Required)

	require.Contains(t, js.Properties, "title")
	assert.Equal(t, []string{"string", "null"}, js.Properties["title"].Types)
	assert.Equal(t, []string{"integer", "null"}, js.Properties["age"].Types)

	size := js.Properties["size"]
	require.NotNil(t, size)
	assert.Equal(t, "array", size.Type)
	assert.True(t, size.UniqueItems)
	assert.Equal(t, []any{"s", "m", "l"}, size.Items.Enum)

	managed := js.Properties["m2o_size_s"]
	require.NotNil(t, managed)
	assert.True(t, managed.ReadOnly)
	assert.Equal(t, "Size: S", managed.Title)
}

func TestValidateEntityValues(t *testing.T) {
	et := thingType()
	schemata := thingCatalog().all()

	err := validateEntityValues(et, schemata,
		map[string]any{"title": "Apple"},
		map[string]any{"age": int64(3), "size": []string{"s", "l"}, "colour": nil})
	require.NoError(t, err)

	err = validateEntityValues(et, schemata, nil, map[string]any{"age": "old"})
	require.Error(t, err)
	assert.True(t, eav.IsErrorCode(err, eav.ErrCodeJSONSchemaViolation))

	err = validateEntityValues(et, schemata, nil, map[string]any{"size": []string{"xl"}})
	assert.True(t, eav.IsErrorCode(err, eav.ErrCodeJSONSchemaViolation))
}

func TestJSONValueFormatsDates(t *testing.T) {
	d := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-02-29", jsonValue(d))
	assert.Equal(t, 3, jsonValue(3))
}

func TestManagerJSONSchema(t *testing.T) {
	ctx := context.Background()
	em, mock, _ := newTestManager(t)
	seedSchemata(t, em, mock)

	js, err := em.JSONSchema(ctx, "thing")
	require.NoError(t, err)
	assert.Contains(t, js.Properties, "colour")
	assert.Contains(t, js.Properties, "m2o_size_m")
	assert.Empty(t, js.Required)

	_, err = em.JSONSchema(ctx, "nope")
	assert.True(t, eav.IsErrorCode(err, eav.ErrCodeEntityTypeNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}
