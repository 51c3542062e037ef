package internal

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lychee-technology/eav"
)

// queryer is the statement surface shared by pgxpool.Pool, pgx.Tx and pgxmock.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// dbPool is a queryer that can open transactions.
type dbPool interface {
	queryer
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SchemaStore persists schemata and choices.
type SchemaStore interface {
	LoadSchemata(ctx context.Context, q queryer) ([]*eav.Schema, error)
	InsertSchema(ctx context.Context, q queryer, s *eav.Schema) error
	UpdateSchema(ctx context.Context, q queryer, s *eav.Schema) error
	DeleteSchema(ctx context.Context, q queryer, id int64) error
	InsertChoice(ctx context.Context, q queryer, c *eav.Choice) error
	DeleteChoice(ctx context.Context, q queryer, id int64) error
	DeleteChoices(ctx context.Context, q queryer, schemaID int64) error
}

// AttrStore persists attribute values.
type AttrStore interface {
	FetchAttrs(ctx context.Context, q queryer, entityType string, ids []uuid.UUID) ([]eav.Attr, error)
	UpsertValue(ctx context.Context, q queryer, attr *eav.Attr) error
	DeleteValue(ctx context.Context, q queryer, entityType string, id uuid.UUID, schemaID int64) error
	SyncChoices(ctx context.Context, q queryer, entityType string, id uuid.UUID, schemaID int64, choiceIDs []int64) error
	DeleteForEntity(ctx context.Context, q queryer, entityType string, id uuid.UUID) error
	DeleteForSchema(ctx context.Context, q queryer, schemaID int64) error
	DeleteForChoice(ctx context.Context, q queryer, schemaID, choiceID int64) error
}

// EntityStore reads and writes rows of registered entity tables.
type EntityStore interface {
	InsertRow(ctx context.Context, q queryer, et *eav.EntityType, id uuid.UUID, fields map[string]any) error
	UpdateRow(ctx context.Context, q queryer, et *eav.EntityType, id uuid.UUID, fields map[string]any) error
	DeleteRow(ctx context.Context, q queryer, et *eav.EntityType, id uuid.UUID) (bool, error)
	SelectRows(ctx context.Context, q queryer, et *eav.EntityType, stmt sqlStatement) ([]EntityRow, error)
}
