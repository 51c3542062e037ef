package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/lychee-technology/eav"
)

// JSONSchema describes the fields and the schemata applying to a fresh
// entity of entityType.
func (em *entityManager) JSONSchema(ctx context.Context, entityType string) (*jsonschema.Schema, error) {
	et, err := em.EntityType(entityType)
	if err != nil {
		return nil, err
	}
	catalog, err := em.cache.get(ctx)
	if err != nil {
		return nil, err
	}
	return buildJSONSchema(et, applicableSchemata(et, eav.NewEntity(et.Name), catalog)), nil
}

func buildJSONSchema(et *eav.EntityType, schemata []*eav.Schema) *jsonschema.Schema {
	root := &jsonschema.Schema{
		Title:      et.Name,
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(et.Fields)+len(schemata)),
	}
	for _, f := range et.Fields {
		prop := scalarJSONSchema(f.Type)
		prop.Title = f.Name
		root.Properties[f.Name] = prop
	}

	var required []string
	for _, s := range schemata {
		var prop *jsonschema.Schema
		switch {
		case s.Managed:
			prop = &jsonschema.Schema{Type: "boolean", ReadOnly: true}
		case s.DataType == eav.DataTypeMany:
			enum := make([]any, len(s.Choices))
			for i, c := range s.Choices {
				enum[i] = c.Name
			}
			prop = &jsonschema.Schema{
				Type:        "array",
				Items:       &jsonschema.Schema{Type: "string", Enum: enum},
				UniqueItems: true,
			}
		default:
			prop = scalarJSONSchema(s.DataType)
		}
		prop.Title = s.Title
		prop.Description = s.HelpText
		root.Properties[s.Name] = prop
		if s.Required && !s.Managed {
			required = append(required, s.Name)
		}
	}
	sort.Strings(required)
	root.Required = required
	return root
}

func scalarJSONSchema(dt eav.DataType) *jsonschema.Schema {
	switch dt {
	case eav.DataTypeInt:
		return &jsonschema.Schema{Types: []string{"integer", "null"}}
	case eav.DataTypeFloat:
		return &jsonschema.Schema{Types: []string{"number", "null"}}
	case eav.DataTypeBool:
		return &jsonschema.Schema{Types: []string{"boolean", "null"}}
	case eav.DataTypeDate:
		return &jsonschema.Schema{Types: []string{"string", "null"}, Format: "date"}
	default:
		return &jsonschema.Schema{Types: []string{"string", "null"}}
	}
}

// validateEntityValues checks coerced field and attribute values against
// the generated JSON Schema.
func validateEntityValues(et *eav.EntityType, schemata []*eav.Schema, fields, values map[string]any) error {
	resolved, err := buildJSONSchema(et, schemata).Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return eav.NewInternalError("failed to resolve JSON schema", err)
	}

	doc := make(map[string]any, len(fields)+len(values))
	for k, v := range fields {
		doc[k] = jsonValue(v)
	}
	for k, v := range values {
		doc[k] = jsonValue(v)
	}
	// Round-trip so numbers and slices take their JSON shapes.
	raw, err := json.Marshal(doc)
	if err != nil {
		return eav.NewInternalError("failed to encode entity values", err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return eav.NewInternalError("failed to decode entity values", err)
	}

	if err := resolved.Validate(instance); err != nil {
		return eav.NewEAVError(eav.ErrorTypeValidation, eav.ErrCodeJSONSchemaViolation,
			fmt.Sprintf("%s values do not match their JSON schema", et.Name)).WithCause(err)
	}
	return nil
}

func jsonValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.Format(eav.DateLayout)
	}
	return v
}
