// Package export writes the attribute view of one entity type to Parquet
// through an in-memory DuckDB database.
package export

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/jackc/pgx/v5"
	"github.com/lychee-technology/eav"
	"go.uber.org/zap"
)

// listSeparator joins many-valued selections before string_split rebuilds
// the VARCHAR[] inside DuckDB.
const listSeparator = "\x1f"

// Source is the part of eav.EntityManager the exporter reads from.
type Source interface {
	EntityType(name string) (*eav.EntityType, error)
	ListSchemata(ctx context.Context) ([]*eav.Schema, error)
	Query(entityType string) *eav.Query
}

// Column is one pivoted output column.
type Column struct {
	Name string
	Type eav.DataType
	// Many marks a many-valued schema exported as VARCHAR[].
	Many bool
}

// DuckType returns the DuckDB column type.
func (c Column) DuckType() string {
	if c.Many {
		return "VARCHAR[]"
	}
	switch c.Type {
	case eav.DataTypeInt:
		return "BIGINT"
	case eav.DataTypeFloat:
		return "DOUBLE"
	case eav.DataTypeDate:
		return "DATE"
	case eav.DataTypeBool:
		return "BOOLEAN"
	default:
		return "VARCHAR"
	}
}

// Result describes a finished export.
type Result struct {
	EntityType string
	Path       string
	Rows       int
	Columns    []Column
	Duration   time.Duration
}

// ParquetExporter pivots entities into a DuckDB table and copies it to Parquet.
type ParquetExporter struct {
	source Source
	db     *sql.DB
}

// NewParquetExporter opens DuckDB with the configured memory and thread limits.
func NewParquetExporter(ctx context.Context, source Source, cfg eav.ExportConfig) (*ParquetExporter, error) {
	if source == nil {
		return nil, fmt.Errorf("export source is required")
	}
	db, err := sql.Open("duckdb", cfg.DuckDBPath)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// One connection keeps the staging table visible to every statement.
	db.SetMaxOpenConns(1)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	var pragmas []string
	if cfg.DuckDBMemoryMB > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA memory_limit='%dMB';", cfg.DuckDBMemoryMB))
	}
	if cfg.DuckDBThreads > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA threads=%d;", cfg.DuckDBThreads))
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx2, p); err != nil {
			zap.S().Warnw("duckdb pragma failed", "pragma", p, "err", err)
		}
	}
	return &ParquetExporter{source: source, db: db}, nil
}

// Close releases the DuckDB handle.
func (x *ParquetExporter) Close() error {
	return x.db.Close()
}

// Columns lists the output columns of entityType: the id, the static
// fields in declaration order, then every non-managed schema.
func (x *ParquetExporter) Columns(ctx context.Context, entityType string) ([]Column, error) {
	et, err := x.source.EntityType(entityType)
	if err != nil {
		return nil, err
	}
	schemata, err := x.source.ListSchemata(ctx)
	if err != nil {
		return nil, err
	}
	return columnsFor(et, schemata), nil
}

func columnsFor(et *eav.EntityType, schemata []*eav.Schema) []Column {
	cols := make([]Column, 0, 1+len(et.Fields)+len(schemata))
	cols = append(cols, Column{Name: "id", Type: eav.DataTypeText})
	seen := map[string]bool{"id": true}
	for _, f := range et.Fields {
		if seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		cols = append(cols, Column{Name: f.Name, Type: f.Type})
	}
	for _, s := range schemata {
		if s.Managed || seen[s.Name] {
			continue
		}
		seen[s.Name] = true
		cols = append(cols, Column{Name: s.Name, Type: s.DataType, Many: s.DataType == eav.DataTypeMany})
	}
	return cols
}

// Export writes every entity of entityType to a ZSTD compressed Parquet file at path.
func (x *ParquetExporter) Export(ctx context.Context, entityType, path string) (*Result, error) {
	start := time.Now()
	cols, err := x.Columns(ctx, entityType)
	if err != nil {
		return nil, err
	}
	// Queries always end with the id as tiebreaker, so rows come out in id order.
	entities, err := x.source.Query(entityType).All(ctx)
	if err != nil {
		return nil, err
	}

	table := pgx.Identifier{"export_" + entityType}.Sanitize()
	if _, err := x.db.ExecContext(ctx, createTableSQL(table, cols)); err != nil {
		return nil, fmt.Errorf("create staging table: %w", err)
	}
	defer func() {
		if _, err := x.db.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+table); err != nil {
			zap.S().Warnw("failed to drop staging table", "table", table, "err", err)
		}
	}()

	if err := x.load(ctx, table, cols, entities); err != nil {
		return nil, err
	}
	if _, err := x.db.ExecContext(ctx, copySQL(table, path)); err != nil {
		return nil, fmt.Errorf("duckdb copy exec: %w", err)
	}

	res := &Result{
		EntityType: entityType,
		Path:       path,
		Rows:       len(entities),
		Columns:    cols,
		Duration:   time.Since(start),
	}
	zap.S().Infow("exported entities to parquet", "entityType", entityType, "path", path, "rows", res.Rows, "columns", len(cols), "duration", res.Duration)
	return res, nil
}

func (x *ParquetExporter) load(ctx context.Context, table string, cols []Column, entities []*eav.Entity) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin duckdb transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL(table, cols))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entities {
		if _, err := stmt.ExecContext(ctx, rowValues(cols, e)...); err != nil {
			return fmt.Errorf("insert entity %s: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit duckdb transaction: %w", err)
	}
	return nil
}

func createTableSQL(table string, cols []Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = pgx.Identifier{c.Name}.Sanitize() + " " + c.DuckType()
	}
	return fmt.Sprintf("CREATE OR REPLACE TABLE %s (%s)", table, strings.Join(defs, ", "))
}

func insertSQL(table string, cols []Column) string {
	names := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		names[i] = pgx.Identifier{c.Name}.Sanitize()
		if c.Many {
			params[i] = "string_split(CAST(? AS VARCHAR), chr(31))"
		} else {
			params[i] = fmt.Sprintf("CAST(? AS %s)", c.DuckType())
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(names, ", "), strings.Join(params, ", "))
}

func copySQL(table, path string) string {
	return fmt.Sprintf("COPY %s TO '%s' (FORMAT PARQUET, COMPRESSION 'ZSTD')", table, strings.ReplaceAll(path, "'", "''"))
}

// rowValues returns the insert arguments for e in column order. Many
// selections are joined with listSeparator; an empty selection is NULL.
func rowValues(cols []Column, e *eav.Entity) []any {
	args := make([]any, len(cols))
	for i, c := range cols {
		if i == 0 {
			args[i] = e.ID.String()
			continue
		}
		v, ok := e.Get(c.Name)
		if !ok || v == nil {
			args[i] = nil
			continue
		}
		if c.Many {
			names, _ := v.([]string)
			if len(names) == 0 {
				args[i] = nil
				continue
			}
			args[i] = strings.Join(names, listSeparator)
			continue
		}
		if t, ok := v.(time.Time); ok {
			args[i] = t.Format(eav.DateLayout)
			continue
		}
		args[i] = v
	}
	return args
}
