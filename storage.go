package eav

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
)

// EntityManager provides schema, choice, entity and query operations
type EntityManager interface {
	// Entity type registration
	RegisterEntityType(t EntityType) error
	EntityType(name string) (*EntityType, error)

	// Schema operations
	CreateSchema(ctx context.Context, s *Schema) (*Schema, error)
	UpdateSchema(ctx context.Context, s *Schema) (*Schema, error)
	DeleteSchema(ctx context.Context, name string) error
	GetSchema(ctx context.Context, name string) (*Schema, error)
	ListSchemata(ctx context.Context) ([]*Schema, error)
	SchemataFor(ctx context.Context, e *Entity) ([]*Schema, error)

	// Choice operations on many-valued schemata
	AddChoice(ctx context.Context, schemaName, title string) (*Choice, error)
	RemoveChoice(ctx context.Context, schemaName, choiceName string) error
	SyncManagedSchemata(ctx context.Context, schemaName string) error

	// Entity operations
	New(entityType string) (*Entity, error)
	Create(ctx context.Context, entityType string, values map[string]any) (*Entity, error)
	Get(ctx context.Context, entityType string, id uuid.UUID) (*Entity, error)
	Save(ctx context.Context, e *Entity) error
	Delete(ctx context.Context, e *Entity) error
	Validate(ctx context.Context, e *Entity) error

	// Query operations
	Query(entityType string) *Query
	DistinctValues(ctx context.Context, entityType, name string, scope Lookups) ([]any, error)
	JSONSchema(ctx context.Context, entityType string) (*jsonschema.Schema, error)
}
