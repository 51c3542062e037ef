package internal

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lychee-technology/eav"
)

const attrColumns = "entity_type, entity_id, schema_id, choice_id, value_text, value_int, value_float, value_date, value_bool"

// PostgresAttrRepository stores attribute values in the attr table.
type PostgresAttrRepository struct {
	table string
}

func NewPostgresAttrRepository(table string) *PostgresAttrRepository {
	return &PostgresAttrRepository{table: sanitizeIdentifier(table)}
}

// FetchAttrs loads every attr of the given entities ordered by entity, schema and choice.
func (r *PostgresAttrRepository) FetchAttrs(ctx context.Context, q queryer, entityType string, ids []uuid.UUID) ([]eav.Attr, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE entity_type = $1 AND entity_id = ANY($2) ORDER BY entity_id, schema_id, choice_id`,
		attrColumns, r.table,
	)
	rows, err := q.Query(ctx, query, entityType, ids)
	if err != nil {
		return nil, fmt.Errorf("query attrs: %w", err)
	}
	defer rows.Close()

	var attrs []eav.Attr
	for rows.Next() {
		var a eav.Attr
		if err := rows.Scan(&a.EntityType, &a.EntityID, &a.SchemaID, &a.ChoiceID,
			&a.ValueText, &a.ValueInt, &a.ValueFloat, &a.ValueDate, &a.ValueBool); err != nil {
			return nil, fmt.Errorf("scan attr: %w", err)
		}
		attrs = append(attrs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attrs: %w", err)
	}
	return attrs, nil
}

// UpsertValue writes one attr row, replacing all value columns on conflict.
func (r *PostgresAttrRepository) UpsertValue(ctx context.Context, q queryer, attr *eav.Attr) error {
	if attr == nil {
		return fmt.Errorf("attr cannot be nil")
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (%s)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (entity_type, entity_id, schema_id, choice_id)
			DO UPDATE SET value_text = EXCLUDED.value_text, value_int = EXCLUDED.value_int,
				value_float = EXCLUDED.value_float, value_date = EXCLUDED.value_date,
				value_bool = EXCLUDED.value_bool`,
		r.table, attrColumns,
	)
	if _, err := q.Exec(ctx, query, attr.EntityType, attr.EntityID, attr.SchemaID, attr.ChoiceID,
		attr.ValueText, attr.ValueInt, attr.ValueFloat, attr.ValueDate, attr.ValueBool); err != nil {
		return fmt.Errorf("upsert attr (schema %d): %w", attr.SchemaID, err)
	}
	return nil
}

// DeleteValue removes every row of one schema for one entity.
func (r *PostgresAttrRepository) DeleteValue(ctx context.Context, q queryer, entityType string, id uuid.UUID, schemaID int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE entity_type = $1 AND entity_id = $2 AND schema_id = $3", r.table)
	if _, err := q.Exec(ctx, query, entityType, id, schemaID); err != nil {
		return fmt.Errorf("delete attr (schema %d): %w", schemaID, err)
	}
	return nil
}

// SyncChoices makes the selected choices of a many schema equal to choiceIDs.
func (r *PostgresAttrRepository) SyncChoices(ctx context.Context, q queryer, entityType string, id uuid.UUID, schemaID int64, choiceIDs []int64) error {
	if choiceIDs == nil {
		choiceIDs = []int64{}
	}
	deleteQuery := fmt.Sprintf(
		`DELETE FROM %s WHERE entity_type = $1 AND entity_id = $2 AND schema_id = $3 AND choice_id <> ALL($4)`,
		r.table,
	)
	if _, err := q.Exec(ctx, deleteQuery, entityType, id, schemaID, choiceIDs); err != nil {
		return fmt.Errorf("delete deselected choices (schema %d): %w", schemaID, err)
	}
	if len(choiceIDs) == 0 {
		return nil
	}

	insertQuery := fmt.Sprintf(
		`INSERT INTO %s (entity_type, entity_id, schema_id, choice_id, value_bool)
			SELECT $1, $2, $3, c, TRUE FROM unnest($4::bigint[]) AS c
			ON CONFLICT (entity_type, entity_id, schema_id, choice_id) DO NOTHING`,
		r.table,
	)
	if _, err := q.Exec(ctx, insertQuery, entityType, id, schemaID, choiceIDs); err != nil {
		return fmt.Errorf("insert selected choices (schema %d): %w", schemaID, err)
	}
	return nil
}

func (r *PostgresAttrRepository) DeleteForEntity(ctx context.Context, q queryer, entityType string, id uuid.UUID) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE entity_type = $1 AND entity_id = $2", r.table)
	if _, err := q.Exec(ctx, query, entityType, id); err != nil {
		return fmt.Errorf("delete attrs of %s %s: %w", entityType, id, err)
	}
	return nil
}

func (r *PostgresAttrRepository) DeleteForSchema(ctx context.Context, q queryer, schemaID int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE schema_id = $1", r.table)
	if _, err := q.Exec(ctx, query, schemaID); err != nil {
		return fmt.Errorf("delete attrs of schema %d: %w", schemaID, err)
	}
	return nil
}

func (r *PostgresAttrRepository) DeleteForChoice(ctx context.Context, q queryer, schemaID, choiceID int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE schema_id = $1 AND choice_id = $2", r.table)
	if _, err := q.Exec(ctx, query, schemaID, choiceID); err != nil {
		return fmt.Errorf("delete attrs of choice %d: %w", choiceID, err)
	}
	return nil
}
