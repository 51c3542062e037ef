package internal

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lychee-technology/eav"
	"go.uber.org/zap"
)

// New returns an unsaved entity with a fresh id.
func (em *entityManager) New(entityType string) (*eav.Entity, error) {
	if _, err := em.EntityType(entityType); err != nil {
		return nil, err
	}
	e := eav.NewEntity(entityType)
	e.ID = uuid.Must(uuid.NewV7())
	return e, nil
}

// Create inserts an entity from a mix of static field and schema values.
// Any existing schema may be set, regardless of the type's SchemaFilter.
func (em *entityManager) Create(ctx context.Context, entityType string, values map[string]any) (*eav.Entity, error) {
	et, err := em.EntityType(entityType)
	if err != nil {
		return nil, err
	}
	catalog, err := em.cache.get(ctx)
	if err != nil {
		return nil, err
	}

	var unknown []string
	for name := range values {
		if _, ok := et.Field(name); ok {
			continue
		}
		if !catalog.hasName(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return nil, eav.NewUnknownAttributeError("create", et.Name, unknown, et.FieldNames(), catalog.names())
	}

	e, err := em.New(entityType)
	if err != nil {
		return nil, err
	}
	for name, v := range values {
		if _, ok := et.Field(name); ok {
			e.SetField(name, v)
			continue
		}
		e.Set(name, v)
	}

	zap.S().Debugw("Creating entity", "entityType", entityType, "id", e.ID, "values", len(values))
	if err := em.save(ctx, et, catalog, e, false); err != nil {
		return nil, err
	}
	return e, nil
}

// Get loads one entity with its attributes.
func (em *entityManager) Get(ctx context.Context, entityType string, id uuid.UUID) (*eav.Entity, error) {
	et, err := em.EntityType(entityType)
	if err != nil {
		return nil, err
	}
	catalog, err := em.cache.get(ctx)
	if err != nil {
		return nil, err
	}

	t := newTranslator(em.config.Tables.Attr, et, catalog)
	stmt := t.selectRowByID(id)
	em.logStatement("get", stmt)
	rows, err := em.entities.SelectRows(ctx, em.pool, et, stmt)
	if err != nil {
		return nil, eav.NewQueryExecutionError("failed to load entity", err)
	}
	if len(rows) == 0 {
		return nil, eav.NewEntityNotFoundError(entityType, id.String())
	}

	entities, err := em.loadEntities(ctx, et, catalog, rows)
	if err != nil {
		return nil, err
	}
	return entities[0], nil
}

// Save writes the entity row and every staged attribute in one transaction.
func (em *entityManager) Save(ctx context.Context, e *eav.Entity) error {
	if e == nil {
		return fmt.Errorf("entity cannot be nil")
	}
	et, err := em.EntityType(e.Type)
	if err != nil {
		return err
	}
	catalog, err := em.cache.get(ctx)
	if err != nil {
		return err
	}
	return em.save(ctx, et, catalog, e, true)
}

// Validate runs the checks Save performs without writing anything.
func (em *entityManager) Validate(ctx context.Context, e *eav.Entity) error {
	if e == nil {
		return fmt.Errorf("entity cannot be nil")
	}
	et, err := em.EntityType(e.Type)
	if err != nil {
		return err
	}
	catalog, err := em.cache.get(ctx)
	if err != nil {
		return err
	}
	_, err = em.prepareSave(ctx, et, catalog, e, true)
	return err
}

// Delete removes the entity's attributes and row.
func (em *entityManager) Delete(ctx context.Context, e *eav.Entity) error {
	if e == nil {
		return fmt.Errorf("entity cannot be nil")
	}
	et, err := em.EntityType(e.Type)
	if err != nil {
		return err
	}

	return em.withTx(ctx, func(tx pgx.Tx) error {
		if err := em.attrs.DeleteForEntity(ctx, tx, et.Name, e.ID); err != nil {
			return err
		}
		found, err := em.entities.DeleteRow(ctx, tx, et, e.ID)
		if err != nil {
			return err
		}
		if !found {
			return eav.NewEntityNotFoundError(et.Name, e.ID.String())
		}
		zap.S().Debugw("Deleted entity", "entityType", et.Name, "id", e.ID)
		return nil
	})
}

// attrWrite is one staged attribute change.
type attrWrite struct {
	schema    *eav.Schema
	value     any // coerced; nil deletes
	choiceIDs []int64
	unchanged bool
}

type savePlan struct {
	fields map[string]any
	writes []attrWrite
	values map[string]any // attribute values after the save
}

// prepareSave coerces and validates every staged value of e.
func (em *entityManager) prepareSave(ctx context.Context, et *eav.EntityType, catalog *schemaCatalog, e *eav.Entity, scoped bool) (*savePlan, error) {
	plan := &savePlan{
		fields: make(map[string]any, len(e.Fields)),
		values: e.Attrs(),
	}

	var unknown []string
	for name, raw := range e.Fields {
		f, ok := et.Field(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		v, err := eav.CoerceValue(f.Type, raw)
		if err != nil {
			return nil, eav.NewConversionError(name, f.Type, raw, err)
		}
		plan.fields[name] = v
	}

	inScope := make(map[string]*eav.Schema)
	applicable := applicableSchemata(et, e, catalog)
	available := catalog.all()
	if scoped {
		available = applicable
	}
	for _, s := range available {
		inScope[s.Name] = s
	}

	dirty := e.Dirty()
	for _, name := range dirty {
		if _, ok := inScope[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return nil, eav.NewUnknownAttributeError("save", et.Name, unknown, et.FieldNames(), schemaNames(available))
	}

	for _, name := range dirty {
		s := inScope[name]
		if s.Managed {
			parentName := ""
			if parent, ok := catalog.schemaByID(s.ParentID); ok {
				parentName = parent.Name
			}
			return nil, eav.NewManagedReadOnlyError(s.Name, parentName)
		}

		raw := e.Attr(name)
		w := attrWrite{schema: s}
		if s.DataType == eav.DataTypeMany {
			names, ids, err := resolveChoices(et, s, raw)
			if err != nil {
				return nil, err
			}
			if len(names) > 0 {
				w.value = names
			}
			w.choiceIDs = ids
		} else {
			v, err := eav.CoerceValue(s.DataType, raw)
			if err != nil {
				return nil, eav.NewConversionError(name, s.DataType, raw, err)
			}
			w.value = v
		}

		if e.Stored() {
			original, _ := e.Original(name)
			w.unchanged = reflect.DeepEqual(original, w.value)
		} else {
			w.unchanged = w.value == nil
		}
		if w.value == nil {
			delete(plan.values, name)
		} else {
			plan.values[name] = w.value
		}
		plan.writes = append(plan.writes, w)
	}

	if em.config.Entity.EnforceRequired {
		var missing []string
		for _, s := range applicable {
			if !s.Required || s.Managed {
				continue
			}
			if plan.values[s.Name] == nil {
				missing = append(missing, s.Name)
			}
		}
		if len(missing) > 0 {
			return nil, eav.NewRequiredMissingError(missing)
		}
	}

	if em.config.Entity.ValidateJSONSchema {
		if err := validateEntityValues(et, available, plan.fields, plan.values); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// resolveChoices checks a many value against the schema's choices and
// returns names and ids in choice order.
func resolveChoices(et *eav.EntityType, s *eav.Schema, raw any) ([]string, []int64, error) {
	coerced, err := eav.CoerceValue(eav.DataTypeMany, raw)
	if err != nil {
		return nil, nil, eav.NewConversionError(s.Name, s.DataType, raw, err)
	}
	names, _ := coerced.([]string)

	selected := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := s.Choice(name); !ok {
			return nil, nil, eav.NewChoiceNotAllowedError(et.Name, s.Name, s.ChoiceNames(), names)
		}
		selected[name] = true
	}

	var (
		ordered []string
		ids     []int64
	)
	for _, c := range s.Choices {
		if selected[c.Name] {
			ordered = append(ordered, c.Name)
			ids = append(ids, c.ID)
		}
	}
	return ordered, ids, nil
}

func (em *entityManager) save(ctx context.Context, et *eav.EntityType, catalog *schemaCatalog, e *eav.Entity, scoped bool) error {
	plan, err := em.prepareSave(ctx, et, catalog, e, scoped)
	if err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.Must(uuid.NewV7())
	}

	start := time.Now()
	err = em.withTx(ctx, func(tx pgx.Tx) error {
		if e.Stored() {
			if err := em.entities.UpdateRow(ctx, tx, et, e.ID, plan.fields); err != nil {
				return err
			}
		} else if err := em.entities.InsertRow(ctx, tx, et, e.ID, plan.fields); err != nil {
			return err
		}

		for _, w := range plan.writes {
			if w.unchanged {
				continue
			}
			if err := em.writeAttr(ctx, tx, et, e, w); err != nil {
				return err
			}
		}
		return nil
	})
	EmitLatency(ctx, "save", time.Since(start).Milliseconds())
	if err != nil {
		return err
	}

	for name, v := range plan.fields {
		e.SetField(name, v)
	}
	e.Loaded(withManagedFlags(catalog, applicableSchemata(et, e, catalog), plan.values))
	return nil
}

func (em *entityManager) writeAttr(ctx context.Context, tx pgx.Tx, et *eav.EntityType, e *eav.Entity, w attrWrite) error {
	s := w.schema
	if s.DataType == eav.DataTypeMany {
		return em.attrs.SyncChoices(ctx, tx, et.Name, e.ID, s.ID, w.choiceIDs)
	}
	if w.value == nil {
		return em.attrs.DeleteValue(ctx, tx, et.Name, e.ID, s.ID)
	}
	attr := eav.Attr{EntityType: et.Name, EntityID: e.ID, SchemaID: s.ID}
	if err := attr.SetValue(s.DataType, w.value); err != nil {
		return eav.NewInternalError("failed to build attr", err)
	}
	return em.attrs.UpsertValue(ctx, tx, &attr)
}

// withManagedFlags replaces stored managed flags with ones derived from
// the many values: every managed schema of a many parent in scope (or with
// a value) reads true when its choice is selected and false otherwise.
func withManagedFlags(catalog *schemaCatalog, scope []*eav.Schema, values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	parents := make(map[int64]*eav.Schema)
	for _, s := range scope {
		if s.DataType == eav.DataTypeMany && !s.Managed {
			parents[s.ID] = s
		}
	}
	for name, v := range values {
		s, ok := catalog.schema(name)
		if ok && s.Managed {
			continue
		}
		if ok && s.DataType == eav.DataTypeMany {
			parents[s.ID] = s
		}
		out[name] = v
	}
	for _, s := range parents {
		names, _ := values[s.Name].([]string)
		for _, m := range catalog.managedFor(s.ID) {
			c, ok := s.ChoiceByID(m.ChoiceID)
			out[m.Name] = ok && containsString(names, c.Name)
		}
	}
	return out
}

// loadEntities attaches attribute values to rows, preserving row order.
func (em *entityManager) loadEntities(ctx context.Context, et *eav.EntityType, catalog *schemaCatalog, rows []EntityRow) ([]*eav.Entity, error) {
	ids := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}

	byEntity := make(map[uuid.UUID][]eav.Attr, len(rows))
	batch := em.config.Entity.BatchSize
	if batch <= 0 {
		batch = len(ids)
	}
	for start := 0; start < len(ids); start += batch {
		end := start + batch
		if end > len(ids) {
			end = len(ids)
		}
		attrs, err := em.attrs.FetchAttrs(ctx, em.pool, et.Name, ids[start:end])
		if err != nil {
			return nil, eav.NewQueryExecutionError("failed to load attributes", err)
		}
		for _, a := range attrs {
			byEntity[a.EntityID] = append(byEntity[a.EntityID], a)
		}
	}

	out := make([]*eav.Entity, 0, len(rows))
	for _, r := range rows {
		e := eav.NewEntity(et.Name)
		e.ID = r.ID
		e.Fields = r.Fields

		applicable := applicableSchemata(et, e, catalog)
		inScope := make(map[int64]bool, len(applicable))
		for _, s := range applicable {
			inScope[s.ID] = true
		}
		e.Loaded(withManagedFlags(catalog, applicable, attrValues(catalog, inScope, byEntity[r.ID])))
		out = append(out, e)
	}
	return out, nil
}

// attrValues folds attr rows into named values. Many values list choice
// names in choice order.
func attrValues(catalog *schemaCatalog, inScope map[int64]bool, attrs []eav.Attr) map[string]any {
	values := make(map[string]any, len(attrs))
	selected := make(map[int64]map[int64]bool)
	for i := range attrs {
		a := &attrs[i]
		s, ok := catalog.schemaByID(a.SchemaID)
		if !ok {
			zap.S().Warnw("attr references unknown schema", "schemaID", a.SchemaID, "entityID", a.EntityID)
			continue
		}
		if !inScope[s.ID] {
			continue
		}
		if s.DataType == eav.DataTypeMany {
			if selected[s.ID] == nil {
				selected[s.ID] = make(map[int64]bool)
			}
			selected[s.ID][a.ChoiceID] = true
			continue
		}
		if v := a.Value(s.DataType); v != nil {
			values[s.Name] = v
		}
	}

	schemaIDs := make([]int64, 0, len(selected))
	for id := range selected {
		schemaIDs = append(schemaIDs, id)
	}
	sort.Slice(schemaIDs, func(i, j int) bool { return schemaIDs[i] < schemaIDs[j] })
	for _, id := range schemaIDs {
		s, _ := catalog.schemaByID(id)
		var names []string
		for _, c := range s.Choices {
			if selected[id][c.ID] {
				names = append(names, c.Name)
			}
		}
		if len(names) > 0 {
			values[s.Name] = names
		}
	}
	return values
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
