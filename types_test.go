package eav

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataTypeColumns(t *testing.T) {
	assert.Equal(t, "value_text", DataTypeText.ValueColumn())
	assert.Equal(t, "value_int", DataTypeInt.ValueColumn())
	assert.Equal(t, "value_float", DataTypeFloat.ValueColumn())
	assert.Equal(t, "value_date", DataTypeDate.ValueColumn())
	assert.Equal(t, "value_bool", DataTypeBool.ValueColumn())
	assert.Equal(t, "value_bool", DataTypeMany.ValueColumn())
	assert.Equal(t, "", DataType("blob").ValueColumn())

	assert.True(t, DataTypeMany.Valid())
	assert.False(t, DataTypeMany.Scalar())
	assert.True(t, DataTypeDate.Scalar())
	assert.False(t, DataType("blob").Valid())
	assert.Len(t, DataTypes(), 6)
}

func TestSchemaString(t *testing.T) {
	s := &Schema{Title: "Colour", DataType: DataTypeText}
	assert.Equal(t, "Colour (text)", s.String())

	s = &Schema{Title: "Age", DataType: DataTypeInt, Required: true}
	assert.Equal(t, "Age (number) required", s.String())
}

func TestSchemaChoices(t *testing.T) {
	s := &Schema{Name: "size", DataType: DataTypeMany, Choices: []Choice{
		{ID: 7, Name: "s", Title: "S"},
		{ID: 9, Name: "m", Title: "M"},
	}}
	assert.Equal(t, []string{"s", "m"}, s.ChoiceNames())

	c, ok := s.Choice("m")
	require.True(t, ok)
	assert.Equal(t, int64(9), c.ID)
	_, ok = s.Choice("xl")
	assert.False(t, ok)

	c, ok = s.ChoiceByID(7)
	require.True(t, ok)
	assert.Equal(t, "s", c.Name)
}

func TestAttrSetValue(t *testing.T) {
	a := &Attr{EntityType: "thing", EntityID: uuid.New(), SchemaID: 1}

	require.NoError(t, a.SetValue(DataTypeText, "green"))
	assert.Equal(t, "green", a.Value(DataTypeText))
	assert.Nil(t, a.Value(DataTypeInt))

	require.NoError(t, a.SetValue(DataTypeInt, int64(4)))
	assert.Nil(t, a.ValueText)
	assert.Equal(t, int64(4), a.Value(DataTypeInt))

	day := time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)
	require.NoError(t, a.SetValue(DataTypeDate, day))
	assert.Equal(t, day, a.Value(DataTypeDate))

	require.NoError(t, a.SetValue(DataTypeBool, nil))
	assert.Nil(t, a.Value(DataTypeBool))

	assert.Error(t, a.SetValue(DataTypeInt, "4"))
	assert.Error(t, a.SetValue(DataType("blob"), "x"))
}

func TestEntityTypeValidate(t *testing.T) {
	valid := EntityType{Name: "thing", Table: "things", Fields: []Field{{Name: "title", Type: DataTypeText}}}
	require.NoError(t, valid.Validate())
	assert.Equal(t, "id", valid.IDColumnName())
	assert.Equal(t, []string{"title"}, valid.FieldNames())

	f, ok := valid.Field("title")
	require.True(t, ok)
	assert.Equal(t, "title", f.ColumnName())
	assert.Equal(t, "headline", Field{Name: "title", Column: "headline"}.ColumnName())

	tests := []struct {
		name string
		et   EntityType
	}{
		{"no name", EntityType{Table: "things"}},
		{"no table", EntityType{Name: "thing"}},
		{"empty field", EntityType{Name: "thing", Table: "things", Fields: []Field{{Type: DataTypeText}}}},
		{"duplicate field", EntityType{Name: "thing", Table: "things", Fields: []Field{
			{Name: "a", Type: DataTypeText}, {Name: "a", Type: DataTypeInt},
		}}},
		{"many field", EntityType{Name: "thing", Table: "things", Fields: []Field{{Name: "a", Type: DataTypeMany}}}},
		{"lookup separator", EntityType{Name: "thing", Table: "things", Fields: []Field{{Name: "size__in", Type: DataTypeText}}}},
		{"id field", EntityType{Name: "thing", Table: "things", Fields: []Field{{Name: "id", Type: DataTypeText}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.et.Validate()
			require.Error(t, err)
			assert.True(t, IsErrorCode(err, ErrCodeValidationFailed))
		})
	}
}
