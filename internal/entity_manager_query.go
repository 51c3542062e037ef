package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lychee-technology/eav"
)

// Query starts a chainable query over entityType.
func (em *entityManager) Query(entityType string) *eav.Query {
	return eav.NewQuery(em, entityType)
}

func (em *entityManager) prepareQuery(ctx context.Context, spec *eav.QuerySpec) (*eav.EntityType, *schemaCatalog, *translator, error) {
	if spec == nil {
		return nil, nil, nil, fmt.Errorf("query spec cannot be nil")
	}
	et, err := em.EntityType(spec.EntityType)
	if err != nil {
		return nil, nil, nil, err
	}
	catalog, err := em.cache.get(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return et, catalog, newTranslator(em.config.Tables.Attr, et, catalog), nil
}

// ExecuteQuery returns the matching entities with attributes loaded.
func (em *entityManager) ExecuteQuery(ctx context.Context, spec *eav.QuerySpec) ([]*eav.Entity, error) {
	et, catalog, t, err := em.prepareQuery(ctx, spec)
	if err != nil {
		return nil, err
	}
	stmt, err := t.selectRows(spec)
	if err != nil {
		return nil, err
	}
	em.logStatement("select", stmt)

	start := time.Now()
	rows, err := em.entities.SelectRows(ctx, em.pool, et, stmt)
	EmitLatency(ctx, "select", time.Since(start).Milliseconds())
	if err != nil {
		return nil, eav.NewQueryExecutionError("failed to query entities", err)
	}
	EmitRowCount(ctx, et.Name, int64(len(rows)))

	return em.loadEntities(ctx, et, catalog, rows)
}

// ExecuteIDs returns the ids of matching entities in query order.
func (em *entityManager) ExecuteIDs(ctx context.Context, spec *eav.QuerySpec) ([]uuid.UUID, error) {
	_, _, t, err := em.prepareQuery(ctx, spec)
	if err != nil {
		return nil, err
	}
	stmt, err := t.selectIDs(spec)
	if err != nil {
		return nil, err
	}
	em.logStatement("ids", stmt)

	start := time.Now()
	rows, err := em.pool.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, eav.NewQueryExecutionError("failed to query entity ids", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	EmitLatency(ctx, "ids", time.Since(start).Milliseconds())
	if err != nil {
		return nil, eav.NewQueryExecutionError("failed to read entity ids", err)
	}
	return ids, nil
}

// ExecuteCount returns the number of matching entities.
func (em *entityManager) ExecuteCount(ctx context.Context, spec *eav.QuerySpec) (int64, error) {
	_, _, t, err := em.prepareQuery(ctx, spec)
	if err != nil {
		return 0, err
	}
	stmt, err := t.count(spec)
	if err != nil {
		return 0, err
	}
	em.logStatement("count", stmt)

	start := time.Now()
	var count int64
	err = em.pool.QueryRow(ctx, stmt.SQL, stmt.Args...).Scan(&count)
	EmitLatency(ctx, "count", time.Since(start).Milliseconds())
	if err != nil {
		return 0, eav.NewQueryExecutionError("failed to count entities", err)
	}
	return count, nil
}

// DistinctValues lists the distinct values of a field or schema among the
// entities matching scope. Many schemata yield choice names in choice order.
func (em *entityManager) DistinctValues(ctx context.Context, entityType, name string, scope eav.Lookups) ([]any, error) {
	spec := &eav.QuerySpec{EntityType: entityType}
	et, catalog, t, err := em.prepareQuery(ctx, spec)
	if err != nil {
		return nil, err
	}

	var (
		stmt sqlStatement
		dt   eav.DataType
	)
	if f, ok := et.Field(name); ok {
		dt = f.Type
		stmt, err = t.distinctField(f, scope)
	} else if s, ok := catalog.schema(name); ok {
		if s.Managed {
			return []any{true}, nil
		}
		dt = s.DataType
		stmt, err = t.distinctSchema(s, scope)
	} else {
		return nil, t.unknownError("list values of", []string{name})
	}
	if err != nil {
		return nil, err
	}
	em.logStatement("distinct", stmt)

	rows, err := em.pool.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, eav.NewQueryExecutionError("failed to query distinct values", err)
	}
	defer rows.Close()

	var raw []any
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, eav.NewQueryExecutionError("failed to scan distinct value", err)
		}
		raw = append(raw, v)
	}
	if err := rows.Err(); err != nil {
		return nil, eav.NewQueryExecutionError("failed to read distinct values", err)
	}

	if dt == eav.DataTypeMany {
		s, _ := catalog.schema(name)
		return choiceNamesByID(s, raw), nil
	}

	out := make([]any, 0, len(raw))
	for _, v := range raw {
		c, err := eav.CoerceValue(dt, v)
		if err != nil {
			return nil, eav.NewConversionError(name, dt, v, err)
		}
		if c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func choiceNamesByID(s *eav.Schema, raw []any) []any {
	used := make(map[int64]bool, len(raw))
	for _, v := range raw {
		if id, err := eav.CoerceValue(eav.DataTypeInt, v); err == nil && id != nil {
			used[id.(int64)] = true
		}
	}
	out := make([]any, 0, len(used))
	for _, c := range s.Choices {
		if used[c.ID] {
			out = append(out, c.Name)
		}
	}
	return out
}
