package internal

import (
	"context"
	"slices"
	"sort"

	"github.com/google/uuid"
	"github.com/lychee-technology/eav"
)

// memStore keeps schemata, attrs and entity rows in memory. It ignores the
// queryer so manager tests only need pgxmock for transactions and for the
// statements the manager runs on the pool itself.
type memStore struct {
	nextSchemaID int64
	nextChoiceID int64
	schemata     []*eav.Schema
	attrs        []eav.Attr
	rows         map[string][]EntityRow
	lastStmt     sqlStatement
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string][]EntityRow)}
}

func (m *memStore) find(id int64) *eav.Schema {
	for _, s := range m.schemata {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (m *memStore) removeSchema(name string) {
	m.schemata = slices.DeleteFunc(m.schemata, func(s *eav.Schema) bool { return s.Name == name })
}

func (m *memStore) LoadSchemata(context.Context, queryer) ([]*eav.Schema, error) {
	out := make([]*eav.Schema, 0, len(m.schemata))
	for _, s := range m.schemata {
		out = append(out, cloneSchema(s))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memStore) InsertSchema(_ context.Context, _ queryer, s *eav.Schema) error {
	for _, existing := range m.schemata {
		if existing.Name == s.Name {
			return eav.NewSchemaExistsError(s.Name)
		}
	}
	m.nextSchemaID++
	s.ID = m.nextSchemaID
	stored := cloneSchema(s)
	stored.Choices = nil
	m.schemata = append(m.schemata, stored)
	return nil
}

func (m *memStore) UpdateSchema(_ context.Context, _ queryer, s *eav.Schema) error {
	old := m.find(s.ID)
	if old == nil {
		return eav.NewSchemaNotFoundError(s.Name)
	}
	old.Title, old.Name, old.HelpText, old.DataType = s.Title, s.Name, s.HelpText, s.DataType
	old.Required, old.Searched, old.Filtered, old.Sortable = s.Required, s.Searched, s.Filtered, s.Sortable
	return nil
}

func (m *memStore) DeleteSchema(_ context.Context, _ queryer, id int64) error {
	m.schemata = slices.DeleteFunc(m.schemata, func(s *eav.Schema) bool { return s.ID == id })
	return nil
}

func (m *memStore) InsertChoice(_ context.Context, _ queryer, c *eav.Choice) error {
	owner := m.find(c.SchemaID)
	if owner == nil {
		return eav.NewSchemaNotFoundError("")
	}
	m.nextChoiceID++
	c.ID = m.nextChoiceID
	owner.Choices = append(owner.Choices, *c)
	return nil
}

func (m *memStore) DeleteChoice(_ context.Context, _ queryer, id int64) error {
	for _, s := range m.schemata {
		s.Choices = slices.DeleteFunc(s.Choices, func(c eav.Choice) bool { return c.ID == id })
	}
	return nil
}

func (m *memStore) DeleteChoices(_ context.Context, _ queryer, schemaID int64) error {
	if s := m.find(schemaID); s != nil {
		s.Choices = nil
	}
	return nil
}

func (m *memStore) FetchAttrs(_ context.Context, _ queryer, entityType string, ids []uuid.UUID) ([]eav.Attr, error) {
	var out []eav.Attr
	for _, a := range m.attrs {
		if a.EntityType == entityType && slices.Contains(ids, a.EntityID) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) UpsertValue(_ context.Context, _ queryer, attr *eav.Attr) error {
	for i, a := range m.attrs {
		if a.EntityType == attr.EntityType && a.EntityID == attr.EntityID && a.SchemaID == attr.SchemaID && a.ChoiceID == attr.ChoiceID {
			m.attrs[i] = *attr
			return nil
		}
	}
	m.attrs = append(m.attrs, *attr)
	return nil
}

func (m *memStore) DeleteValue(_ context.Context, _ queryer, entityType string, id uuid.UUID, schemaID int64) error {
	m.attrs = slices.DeleteFunc(m.attrs, func(a eav.Attr) bool {
		return a.EntityType == entityType && a.EntityID == id && a.SchemaID == schemaID
	})
	return nil
}

func (m *memStore) SyncChoices(_ context.Context, _ queryer, entityType string, id uuid.UUID, schemaID int64, choiceIDs []int64) error {
	m.attrs = slices.DeleteFunc(m.attrs, func(a eav.Attr) bool {
		return a.EntityType == entityType && a.EntityID == id && a.SchemaID == schemaID && !slices.Contains(choiceIDs, a.ChoiceID)
	})
	for _, choiceID := range choiceIDs {
		yes := true
		attr := eav.Attr{EntityType: entityType, EntityID: id, SchemaID: schemaID, ChoiceID: choiceID, ValueBool: &yes}
		if err := m.UpsertValue(context.Background(), nil, &attr); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) DeleteForEntity(_ context.Context, _ queryer, entityType string, id uuid.UUID) error {
	m.attrs = slices.DeleteFunc(m.attrs, func(a eav.Attr) bool { return a.EntityType == entityType && a.EntityID == id })
	return nil
}

func (m *memStore) DeleteForSchema(_ context.Context, _ queryer, schemaID int64) error {
	m.attrs = slices.DeleteFunc(m.attrs, func(a eav.Attr) bool { return a.SchemaID == schemaID })
	return nil
}

func (m *memStore) DeleteForChoice(_ context.Context, _ queryer, schemaID, choiceID int64) error {
	m.attrs = slices.DeleteFunc(m.attrs, func(a eav.Attr) bool { return a.SchemaID == schemaID && a.ChoiceID == choiceID })
	return nil
}

func (m *memStore) InsertRow(_ context.Context, _ queryer, et *eav.EntityType, id uuid.UUID, fields map[string]any) error {
	row := EntityRow{ID: id, Fields: make(map[string]any, len(et.Fields))}
	for _, f := range et.Fields {
		row.Fields[f.Name] = fields[f.Name]
	}
	m.rows[et.Name] = append(m.rows[et.Name], row)
	return nil
}

func (m *memStore) UpdateRow(_ context.Context, _ queryer, et *eav.EntityType, id uuid.UUID, fields map[string]any) error {
	for _, row := range m.rows[et.Name] {
		if row.ID != id {
			continue
		}
		for k, v := range fields {
			row.Fields[k] = v
		}
		return nil
	}
	return eav.NewEntityNotFoundError(et.Name, id.String())
}

func (m *memStore) DeleteRow(_ context.Context, _ queryer, et *eav.EntityType, id uuid.UUID) (bool, error) {
	before := len(m.rows[et.Name])
	m.rows[et.Name] = slices.DeleteFunc(m.rows[et.Name], func(r EntityRow) bool { return r.ID == id })
	return len(m.rows[et.Name]) < before, nil
}

// SelectRows returns the row named by a lone uuid argument, or every row.
func (m *memStore) SelectRows(_ context.Context, _ queryer, et *eav.EntityType, stmt sqlStatement) ([]EntityRow, error) {
	m.lastStmt = stmt
	var out []EntityRow
	for _, row := range m.rows[et.Name] {
		if len(stmt.Args) == 1 {
			if id, ok := stmt.Args[0].(uuid.UUID); ok && row.ID != id {
				continue
			}
		}
		fields := make(map[string]any, len(row.Fields))
		for k, v := range row.Fields {
			fields[k] = v
		}
		out = append(out, EntityRow{ID: row.ID, Fields: fields})
	}
	return out, nil
}
