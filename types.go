package eav

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DataType represents supported attribute value types.
type DataType string

const (
	DataTypeText  DataType = "text"
	DataTypeInt   DataType = "int"
	DataTypeFloat DataType = "float"
	DataTypeDate  DataType = "date"
	DataTypeBool  DataType = "bool"
	DataTypeMany  DataType = "many" // one attr row per selected choice
)

var dataTypes = []DataType{DataTypeText, DataTypeInt, DataTypeFloat, DataTypeDate, DataTypeBool, DataTypeMany}

// DataTypes returns all datatypes in declaration order.
func DataTypes() []DataType {
	out := make([]DataType, len(dataTypes))
	copy(out, dataTypes)
	return out
}

// Valid reports whether dt is a known datatype.
func (dt DataType) Valid() bool {
	for _, known := range dataTypes {
		if dt == known {
			return true
		}
	}
	return false
}

// Scalar reports whether values of dt are stored in a single value column.
func (dt DataType) Scalar() bool {
	return dt.Valid() && dt != DataTypeMany
}

// ValueColumn returns the attr table column holding values of dt.
// Many-valued schemata keep their selection in choice_id and flag value_bool.
func (dt DataType) ValueColumn() string {
	switch dt {
	case DataTypeText:
		return "value_text"
	case DataTypeInt:
		return "value_int"
	case DataTypeFloat:
		return "value_float"
	case DataTypeDate:
		return "value_date"
	case DataTypeBool, DataTypeMany:
		return "value_bool"
	default:
		return ""
	}
}

// Display returns the human readable datatype label.
func (dt DataType) Display() string {
	switch dt {
	case DataTypeInt:
		return "number"
	case DataTypeFloat:
		return "decimal"
	case DataTypeBool:
		return "boolean"
	case DataTypeMany:
		return "multiple choices"
	default:
		return string(dt)
	}
}

// ManagedPrefix prefixes the names of schemata generated for choices.
const ManagedPrefix = "m2o_"

// Schema is metadata for one dynamic attribute.
type Schema struct {
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	Name     string   `json:"name"`
	HelpText string   `json:"helpText,omitempty"`
	DataType DataType `json:"datatype"`
	Required bool     `json:"required"`
	Searched bool     `json:"searched"`
	Filtered bool     `json:"filtered"`
	Sortable bool     `json:"sortable"`
	Managed  bool     `json:"managed"`

	// ParentID and ChoiceID are set on managed schemata only.
	ParentID int64 `json:"parentId,omitempty"`
	ChoiceID int64 `json:"choiceId,omitempty"`

	Choices []Choice `json:"choices,omitempty"`
}

func (s *Schema) String() string {
	required := ""
	if s.Required {
		required = " required"
	}
	return fmt.Sprintf("%s (%s)%s", s.Title, s.DataType.Display(), required)
}

// ChoiceNames returns the slug names of the schema's choices in order.
func (s *Schema) ChoiceNames() []string {
	names := make([]string, len(s.Choices))
	for i, c := range s.Choices {
		names[i] = c.Name
	}
	return names
}

// Choice returns the choice with the given name.
func (s *Schema) Choice(name string) (Choice, bool) {
	for _, c := range s.Choices {
		if c.Name == name {
			return c, true
		}
	}
	return Choice{}, false
}

// ChoiceByID returns the choice with the given id.
func (s *Schema) ChoiceByID(id int64) (Choice, bool) {
	for _, c := range s.Choices {
		if c.ID == id {
			return c, true
		}
	}
	return Choice{}, false
}

// Choice is one allowed value of a many-valued schema.
type Choice struct {
	ID       int64  `json:"id"`
	SchemaID int64  `json:"schemaId"`
	Title    string `json:"title"`
	Name     string `json:"name"`
}

// Attr is one stored (entity, schema[, choice]) value. Only the column
// matching the schema's datatype is meaningful.
type Attr struct {
	EntityType string     `json:"entityType"`
	EntityID   uuid.UUID  `json:"entityId"`
	SchemaID   int64      `json:"schemaId"`
	ChoiceID   int64      `json:"choiceId,omitempty"` // 0 when the schema has no choices
	ValueText  *string    `json:"valueText,omitempty"`
	ValueInt   *int64     `json:"valueInt,omitempty"`
	ValueFloat *float64   `json:"valueFloat,omitempty"`
	ValueDate  *time.Time `json:"valueDate,omitempty"`
	ValueBool  *bool      `json:"valueBool,omitempty"`
}

// Value returns the value stored in the column selected by dt.
func (a *Attr) Value(dt DataType) any {
	switch dt {
	case DataTypeText:
		if a.ValueText != nil {
			return *a.ValueText
		}
	case DataTypeInt:
		if a.ValueInt != nil {
			return *a.ValueInt
		}
	case DataTypeFloat:
		if a.ValueFloat != nil {
			return *a.ValueFloat
		}
	case DataTypeDate:
		if a.ValueDate != nil {
			return *a.ValueDate
		}
	case DataTypeBool, DataTypeMany:
		if a.ValueBool != nil {
			return *a.ValueBool
		}
	}
	return nil
}

// SetValue writes an already coerced value into the column selected by dt
// and clears the other value columns.
func (a *Attr) SetValue(dt DataType, value any) error {
	a.ValueText, a.ValueInt, a.ValueFloat, a.ValueDate, a.ValueBool = nil, nil, nil, nil, nil
	if value == nil {
		return nil
	}
	switch dt {
	case DataTypeText:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("text attr expects string, got %T", value)
		}
		a.ValueText = &v
	case DataTypeInt:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("int attr expects int64, got %T", value)
		}
		a.ValueInt = &v
	case DataTypeFloat:
		v, ok := value.(float64)
		if !ok {
			return fmt.Errorf("float attr expects float64, got %T", value)
		}
		a.ValueFloat = &v
	case DataTypeDate:
		v, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("date attr expects time.Time, got %T", value)
		}
		a.ValueDate = &v
	case DataTypeBool, DataTypeMany:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("bool attr expects bool, got %T", value)
		}
		a.ValueBool = &v
	default:
		return fmt.Errorf("unsupported datatype %q", dt)
	}
	return nil
}

// Field describes a static column of an entity table.
type Field struct {
	Name       string   `json:"name"`
	Column     string   `json:"column,omitempty"` // defaults to Name
	Type       DataType `json:"type"`
	Filterable bool     `json:"filterable,omitempty"`
	Sortable   bool     `json:"sortable,omitempty"`
}

// ColumnName returns the column backing the field.
func (f Field) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Name
}

// EntityType registers an application table whose rows carry dynamic attributes.
type EntityType struct {
	Name     string  `json:"name"`
	Table    string  `json:"table"`
	IDColumn string  `json:"idColumn,omitempty"` // defaults to "id"; must be a UUID column
	Fields   []Field `json:"fields"`

	// SchemaFilter narrows the schemata that apply to one instance,
	// e.g. by the entity's rubric. Nil means every schema applies.
	SchemaFilter func(e *Entity, s *Schema) bool `json:"-"`
}

// IDColumnName returns the id column, defaulting to "id".
func (t *EntityType) IDColumnName() string {
	if t.IDColumn != "" {
		return t.IDColumn
	}
	return "id"
}

// Field returns the static field with the given name.
func (t *EntityType) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldNames returns static field names in declaration order.
func (t *EntityType) FieldNames() []string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}

// Validate checks the registration for obvious mistakes.
func (t *EntityType) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return NewValidationError("name", "entity type name cannot be empty")
	}
	if strings.TrimSpace(t.Table) == "" {
		return NewValidationError("table", "entity type table cannot be empty")
	}
	seen := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		if f.Name == "" {
			return NewValidationError("fields", "field name cannot be empty")
		}
		if strings.Contains(f.Name, LookupSeparator) {
			return NewValidationError(f.Name, fmt.Sprintf("field name cannot contain %q", LookupSeparator))
		}
		if f.Name == "id" {
			return NewValidationError(f.Name, "field name id is reserved for the id column")
		}
		if seen[f.Name] {
			return NewValidationError(f.Name, "duplicate field")
		}
		seen[f.Name] = true
		if !f.Type.Scalar() {
			return NewValidationError(f.Name, fmt.Sprintf("unsupported field type %q", f.Type))
		}
	}
	return nil
}

// Lookups maps lookup keys ("name" or "name__op") to values.
type Lookups map[string]any

// SortOrder defines sort direction
type SortOrder string

const (
	SortOrderAsc  SortOrder = "asc"
	SortOrderDesc SortOrder = "desc"
)

// OrderBy orders query results by a field or schema name.
type OrderBy struct {
	Name      string    `json:"name"`
	SortOrder SortOrder `json:"sort_order,omitempty"`
}
