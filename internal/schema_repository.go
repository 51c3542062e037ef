package internal

import (
	"context"
	"fmt"

	"github.com/lychee-technology/eav"
)

const schemaColumns = "id, title, name, help_text, datatype, required, searched, filtered, sortable, managed, parent_id, choice_id"

// PostgresSchemaRepository stores schemata and their choices.
type PostgresSchemaRepository struct {
	schemaTable string
	choiceTable string
}

func NewPostgresSchemaRepository(tables eav.TableNames) *PostgresSchemaRepository {
	return &PostgresSchemaRepository{
		schemaTable: sanitizeIdentifier(tables.Schema),
		choiceTable: sanitizeIdentifier(tables.Choice),
	}
}

// LoadSchemata returns every schema ordered by title, choices attached in id order.
func (r *PostgresSchemaRepository) LoadSchemata(ctx context.Context, q queryer) ([]*eav.Schema, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY title, id", schemaColumns, r.schemaTable)
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query schemata: %w", err)
	}
	defer rows.Close()

	var schemata []*eav.Schema
	byID := make(map[int64]*eav.Schema)
	for rows.Next() {
		var (
			s        eav.Schema
			datatype string
			parentID *int64
			choiceID *int64
		)
		if err := rows.Scan(&s.ID, &s.Title, &s.Name, &s.HelpText, &datatype,
			&s.Required, &s.Searched, &s.Filtered, &s.Sortable, &s.Managed, &parentID, &choiceID); err != nil {
			return nil, fmt.Errorf("scan schema: %w", err)
		}
		s.DataType = eav.DataType(datatype)
		if parentID != nil {
			s.ParentID = *parentID
		}
		if choiceID != nil {
			s.ChoiceID = *choiceID
		}
		schema := s
		schemata = append(schemata, &schema)
		byID[schema.ID] = &schema
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schemata: %w", err)
	}

	choiceQuery := fmt.Sprintf("SELECT id, schema_id, title, name FROM %s ORDER BY schema_id, id", r.choiceTable)
	choiceRows, err := q.Query(ctx, choiceQuery)
	if err != nil {
		return nil, fmt.Errorf("query choices: %w", err)
	}
	defer choiceRows.Close()

	for choiceRows.Next() {
		var c eav.Choice
		if err := choiceRows.Scan(&c.ID, &c.SchemaID, &c.Title, &c.Name); err != nil {
			return nil, fmt.Errorf("scan choice: %w", err)
		}
		if owner, ok := byID[c.SchemaID]; ok {
			owner.Choices = append(owner.Choices, c)
		}
	}
	if err := choiceRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate choices: %w", err)
	}

	return schemata, nil
}

func (r *PostgresSchemaRepository) InsertSchema(ctx context.Context, q queryer, s *eav.Schema) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (title, name, help_text, datatype, required, searched, filtered, sortable, managed, parent_id, choice_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id`,
		r.schemaTable,
	)
	err := q.QueryRow(ctx, query, s.Title, s.Name, s.HelpText, string(s.DataType),
		s.Required, s.Searched, s.Filtered, s.Sortable, s.Managed,
		nullableID(s.ParentID), nullableID(s.ChoiceID)).Scan(&s.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return eav.NewSchemaExistsError(s.Name).WithCause(err)
		}
		return fmt.Errorf("insert schema %s: %w", s.Name, err)
	}
	return nil
}

func (r *PostgresSchemaRepository) UpdateSchema(ctx context.Context, q queryer, s *eav.Schema) error {
	query := fmt.Sprintf(
		`UPDATE %s SET title = $2, name = $3, help_text = $4, datatype = $5, required = $6,
			searched = $7, filtered = $8, sortable = $9
			WHERE id = $1`,
		r.schemaTable,
	)
	tag, err := q.Exec(ctx, query, s.ID, s.Title, s.Name, s.HelpText, string(s.DataType),
		s.Required, s.Searched, s.Filtered, s.Sortable)
	if err != nil {
		if isUniqueViolation(err) {
			return eav.NewSchemaExistsError(s.Name).WithCause(err)
		}
		return fmt.Errorf("update schema %s: %w", s.Name, err)
	}
	if tag.RowsAffected() == 0 {
		return eav.NewSchemaNotFoundError(s.Name)
	}
	return nil
}

func (r *PostgresSchemaRepository) DeleteSchema(ctx context.Context, q queryer, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", r.schemaTable)
	if _, err := q.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("delete schema %d: %w", id, err)
	}
	return nil
}

func (r *PostgresSchemaRepository) InsertChoice(ctx context.Context, q queryer, c *eav.Choice) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (schema_id, title, name) VALUES ($1, $2, $3) RETURNING id",
		r.choiceTable,
	)
	if err := q.QueryRow(ctx, query, c.SchemaID, c.Title, c.Name).Scan(&c.ID); err != nil {
		if isUniqueViolation(err) {
			return eav.NewEAVError(eav.ErrorTypeConflict, eav.ErrCodeChoiceExists,
				fmt.Sprintf("choice %q already exists", c.Name)).WithCause(err)
		}
		return fmt.Errorf("insert choice %s: %w", c.Name, err)
	}
	return nil
}

func (r *PostgresSchemaRepository) DeleteChoice(ctx context.Context, q queryer, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", r.choiceTable)
	if _, err := q.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("delete choice %d: %w", id, err)
	}
	return nil
}

func (r *PostgresSchemaRepository) DeleteChoices(ctx context.Context, q queryer, schemaID int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE schema_id = $1", r.choiceTable)
	if _, err := q.Exec(ctx, query, schemaID); err != nil {
		return fmt.Errorf("delete choices of schema %d: %w", schemaID, err)
	}
	return nil
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
