package e2e_harness

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/eav"
)

// ThingType is the entity type backed by the table SeedThings creates.
func ThingType() eav.EntityType {
	return eav.EntityType{
		Name:  "thing",
		Table: "things",
		Fields: []eav.Field{
			{Name: "title", Type: eav.DataTypeText, Filterable: true, Sortable: true},
		},
	}
}

// SeedThings creates the things table.
func SeedThings(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS things (
  id UUID PRIMARY KEY,
  title TEXT
)`); err != nil {
		return fmt.Errorf("create things: %w", err)
	}
	return nil
}

// SeedSchemata creates the schemata used across the end-to-end tests: three
// scalar schemata, one with an automatic name, and a many-valued size.
func SeedSchemata(ctx context.Context, em eav.EntityManager) error {
	schemata := []*eav.Schema{
		{Title: "Colour", DataType: eav.DataTypeText, Filtered: true},
		{Title: "Taste", DataType: eav.DataTypeText},
		{Title: "Age", DataType: eav.DataTypeInt, Filtered: true, Sortable: true},
		{Title: "I can haz it", DataType: eav.DataTypeBool},
		{Title: "Size", DataType: eav.DataTypeMany, Filtered: true, Choices: []eav.Choice{
			{Title: "S"}, {Title: "M"}, {Title: "L"},
		}},
	}
	for _, s := range schemata {
		if _, err := em.CreateSchema(ctx, s); err != nil {
			return fmt.Errorf("create schema %q: %w", s.Title, err)
		}
	}
	return nil
}
