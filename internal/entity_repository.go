package internal

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lychee-technology/eav"
)

// EntityRow is one row of a registered entity table.
type EntityRow struct {
	ID     uuid.UUID
	Fields map[string]any
}

// PostgresEntityRepository reads and writes the application's entity tables.
// Callers pass coerced field values keyed by field name.
type PostgresEntityRepository struct{}

func NewPostgresEntityRepository() *PostgresEntityRepository {
	return &PostgresEntityRepository{}
}

func (r *PostgresEntityRepository) InsertRow(ctx context.Context, q queryer, et *eav.EntityType, id uuid.UUID, fields map[string]any) error {
	args := &sqlArgs{}
	columns := []string{sanitizeIdentifier(et.IDColumnName())}
	values := []string{args.add(id)}
	for _, f := range et.Fields {
		v, ok := fields[f.Name]
		if !ok {
			continue
		}
		columns = append(columns, sanitizeIdentifier(f.ColumnName()))
		values = append(values, args.add(v))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		sanitizeIdentifier(et.Table), strings.Join(columns, ", "), strings.Join(values, ", "))
	if _, err := q.Exec(ctx, query, args.list()...); err != nil {
		return fmt.Errorf("insert %s row: %w", et.Name, err)
	}
	return nil
}

func (r *PostgresEntityRepository) UpdateRow(ctx context.Context, q queryer, et *eav.EntityType, id uuid.UUID, fields map[string]any) error {
	args := &sqlArgs{}
	idPlaceholder := args.add(id)
	var sets []string
	for _, f := range et.Fields {
		v, ok := fields[f.Name]
		if !ok {
			continue
		}
		sets = append(sets, sanitizeIdentifier(f.ColumnName())+" = "+args.add(v))
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		sanitizeIdentifier(et.Table), strings.Join(sets, ", "),
		sanitizeIdentifier(et.IDColumnName()), idPlaceholder)
	tag, err := q.Exec(ctx, query, args.list()...)
	if err != nil {
		return fmt.Errorf("update %s row: %w", et.Name, err)
	}
	if tag.RowsAffected() == 0 {
		return eav.NewEntityNotFoundError(et.Name, id.String())
	}
	return nil
}

func (r *PostgresEntityRepository) DeleteRow(ctx context.Context, q queryer, et *eav.EntityType, id uuid.UUID) (bool, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1",
		sanitizeIdentifier(et.Table), sanitizeIdentifier(et.IDColumnName()))
	tag, err := q.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("delete %s row: %w", et.Name, err)
	}
	return tag.RowsAffected() > 0, nil
}

// SelectRows runs a statement returning the id column followed by every
// field column in declaration order.
func (r *PostgresEntityRepository) SelectRows(ctx context.Context, q queryer, et *eav.EntityType, stmt sqlStatement) ([]EntityRow, error) {
	rows, err := q.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("query %s rows: %w", et.Name, err)
	}
	defer rows.Close()

	var out []EntityRow
	for rows.Next() {
		var id uuid.UUID
		values := make([]any, len(et.Fields))
		dest := make([]any, 0, len(et.Fields)+1)
		dest = append(dest, &id)
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", et.Name, err)
		}

		row := EntityRow{ID: id, Fields: make(map[string]any, len(et.Fields))}
		for i, f := range et.Fields {
			v, err := eav.CoerceValue(f.Type, values[i])
			if err != nil {
				return nil, fmt.Errorf("read %s.%s: %w", et.Name, f.Name, err)
			}
			row.Fields[f.Name] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", et.Name, err)
	}
	return out, nil
}
