package internal

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/lychee-technology/eav"
	"go.uber.org/zap"
)

// CreateSchema stores a new schema. An empty Name is derived from Title and
// made unique; Choices of a many schema are created along with their
// managed schemata.
func (em *entityManager) CreateSchema(ctx context.Context, s *eav.Schema) (*eav.Schema, error) {
	if s == nil {
		return nil, fmt.Errorf("schema cannot be nil")
	}
	if s.Managed {
		return nil, eav.NewValidationError("managed", "managed schemata are created from choices")
	}
	if !s.DataType.Valid() {
		return nil, eav.NewValidationError("datatype", fmt.Sprintf("unsupported datatype %q", s.DataType))
	}

	catalog, err := em.cache.get(ctx)
	if err != nil {
		return nil, err
	}

	name, err := em.resolveSchemaName(catalog, s.Title, s.Name, "")
	if err != nil {
		return nil, err
	}

	created := cloneSchema(s)
	created.ID = 0
	created.Name = name
	if strings.TrimSpace(created.Title) == "" {
		created.Title = name
	}
	created.ParentID, created.ChoiceID = 0, 0
	created.Choices = nil

	var choices []eav.Choice
	if s.DataType == eav.DataTypeMany {
		choices, err = newChoices(name, s.Choices)
		if err != nil {
			return nil, err
		}
	}

	err = em.withTx(ctx, func(tx pgx.Tx) error {
		if err := em.schemas.InsertSchema(ctx, tx, created); err != nil {
			return err
		}
		for i := range choices {
			choices[i].SchemaID = created.ID
			if err := em.schemas.InsertChoice(ctx, tx, &choices[i]); err != nil {
				return err
			}
			created.Choices = append(created.Choices, choices[i])
		}
		return em.applyManagedPlan(ctx, tx, planManagedSync(created, nil))
	})
	em.cache.invalidate()
	if err != nil {
		return nil, err
	}

	zap.S().Infow("created schema", "name", created.Name, "datatype", created.DataType, "choices", len(created.Choices))
	return cloneSchema(created), nil
}

// UpdateSchema changes a schema found by ID, or by Name when ID is zero.
// A datatype change drops the schema's stored values.
func (em *entityManager) UpdateSchema(ctx context.Context, s *eav.Schema) (*eav.Schema, error) {
	if s == nil {
		return nil, fmt.Errorf("schema cannot be nil")
	}
	catalog, err := em.cache.get(ctx)
	if err != nil {
		return nil, err
	}

	existing, ok := catalog.schemaByID(s.ID)
	if !ok {
		existing, ok = catalog.schema(s.Name)
	}
	if !ok {
		return nil, eav.NewSchemaNotFoundError(s.Name)
	}
	if existing.Managed {
		parent, _ := catalog.schemaByID(existing.ParentID)
		parentName := ""
		if parent != nil {
			parentName = parent.Name
		}
		return nil, eav.NewManagedReadOnlyError(existing.Name, parentName)
	}

	updated := cloneSchema(s)
	updated.ID = existing.ID
	updated.Managed = false
	updated.ParentID, updated.ChoiceID = 0, 0
	if updated.DataType == "" {
		updated.DataType = existing.DataType
	}
	if !updated.DataType.Valid() {
		return nil, eav.NewValidationError("datatype", fmt.Sprintf("unsupported datatype %q", updated.DataType))
	}
	if strings.TrimSpace(updated.Title) == "" {
		updated.Title = existing.Title
	}
	if updated.Name == "" || updated.Name == existing.Name {
		updated.Name = existing.Name
	} else {
		updated.Name, err = em.resolveSchemaName(catalog, updated.Title, updated.Name, existing.Name)
		if err != nil {
			return nil, err
		}
	}
	updated.Choices = nil
	if updated.DataType == eav.DataTypeMany && existing.DataType == eav.DataTypeMany {
		updated.Choices = append([]eav.Choice(nil), existing.Choices...)
	}

	typeChanged := updated.DataType != existing.DataType
	err = em.withTx(ctx, func(tx pgx.Tx) error {
		if err := em.schemas.UpdateSchema(ctx, tx, updated); err != nil {
			return err
		}
		if typeChanged {
			if err := em.attrs.DeleteForSchema(ctx, tx, existing.ID); err != nil {
				return err
			}
			if existing.DataType == eav.DataTypeMany {
				if err := em.schemas.DeleteChoices(ctx, tx, existing.ID); err != nil {
					return err
				}
			}
		}
		return em.applyManagedPlan(ctx, tx, planManagedSync(updated, catalog.managedFor(existing.ID)))
	})
	em.cache.invalidate()
	if err != nil {
		return nil, err
	}

	if typeChanged {
		zap.S().Warnw("schema datatype changed, stored values dropped",
			"name", updated.Name, "from", existing.DataType, "to", updated.DataType)
	}
	return cloneSchema(updated), nil
}

// DeleteSchema removes a schema with its values, choices and managed schemata.
func (em *entityManager) DeleteSchema(ctx context.Context, name string) error {
	catalog, err := em.cache.get(ctx)
	if err != nil {
		return err
	}
	s, ok := catalog.schema(name)
	if !ok {
		return eav.NewSchemaNotFoundError(name)
	}
	if s.Managed {
		parentName := ""
		if parent, ok := catalog.schemaByID(s.ParentID); ok {
			parentName = parent.Name
		}
		return eav.NewManagedReadOnlyError(s.Name, parentName)
	}

	err = em.withTx(ctx, func(tx pgx.Tx) error {
		if err := em.attrs.DeleteForSchema(ctx, tx, s.ID); err != nil {
			return err
		}
		for _, managed := range catalog.managedFor(s.ID) {
			if err := em.schemas.DeleteSchema(ctx, tx, managed.ID); err != nil {
				return err
			}
		}
		if s.DataType == eav.DataTypeMany {
			if err := em.schemas.DeleteChoices(ctx, tx, s.ID); err != nil {
				return err
			}
		}
		return em.schemas.DeleteSchema(ctx, tx, s.ID)
	})
	em.cache.invalidate()
	if err != nil {
		return err
	}
	zap.S().Infow("deleted schema", "name", name)
	return nil
}

func (em *entityManager) GetSchema(ctx context.Context, name string) (*eav.Schema, error) {
	catalog, err := em.cache.get(ctx)
	if err != nil {
		return nil, err
	}
	s, ok := catalog.schema(name)
	if !ok {
		return nil, eav.NewSchemaNotFoundError(name)
	}
	return cloneSchema(s), nil
}

// ListSchemata returns every schema ordered by title.
func (em *entityManager) ListSchemata(ctx context.Context) ([]*eav.Schema, error) {
	catalog, err := em.cache.get(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*eav.Schema, 0, len(catalog.all()))
	for _, s := range catalog.all() {
		out = append(out, cloneSchema(s))
	}
	return out, nil
}

// SchemataFor returns the schemata that apply to e.
func (em *entityManager) SchemataFor(ctx context.Context, e *eav.Entity) ([]*eav.Schema, error) {
	if e == nil {
		return nil, fmt.Errorf("entity cannot be nil")
	}
	et, err := em.EntityType(e.Type)
	if err != nil {
		return nil, err
	}
	catalog, err := em.cache.get(ctx)
	if err != nil {
		return nil, err
	}
	applicable := applicableSchemata(et, e, catalog)
	out := make([]*eav.Schema, len(applicable))
	for i, s := range applicable {
		out[i] = cloneSchema(s)
	}
	return out, nil
}

// AddChoice adds a choice to a many schema together with its managed schema.
func (em *entityManager) AddChoice(ctx context.Context, schemaName, title string) (*eav.Choice, error) {
	catalog, err := em.cache.get(ctx)
	if err != nil {
		return nil, err
	}
	parent, err := manySchema(catalog, schemaName)
	if err != nil {
		return nil, err
	}

	name := eav.SlugifyName(title)
	if name == "" {
		return nil, eav.NewValidationError("title", "choice title must contain letters or digits")
	}
	if _, exists := parent.Choice(name); exists {
		return nil, eav.NewChoiceExistsError(parent.Name, name)
	}

	choice := eav.Choice{SchemaID: parent.ID, Title: title, Name: name}
	err = em.withTx(ctx, func(tx pgx.Tx) error {
		if err := em.schemas.InsertChoice(ctx, tx, &choice); err != nil {
			return err
		}
		return em.schemas.InsertSchema(ctx, tx, managedSchemaFor(parent, choice))
	})
	em.cache.invalidate()
	if err != nil {
		return nil, err
	}
	zap.S().Infow("added choice", "schema", parent.Name, "choice", name)
	return &choice, nil
}

// RemoveChoice deletes a choice, its selections and its managed schema.
func (em *entityManager) RemoveChoice(ctx context.Context, schemaName, choiceName string) error {
	catalog, err := em.cache.get(ctx)
	if err != nil {
		return err
	}
	parent, err := manySchema(catalog, schemaName)
	if err != nil {
		return err
	}
	choice, ok := parent.Choice(choiceName)
	if !ok {
		return eav.NewChoiceNotFoundError(parent.Name, choiceName)
	}

	err = em.withTx(ctx, func(tx pgx.Tx) error {
		if err := em.attrs.DeleteForChoice(ctx, tx, parent.ID, choice.ID); err != nil {
			return err
		}
		for _, managed := range catalog.managedFor(parent.ID) {
			if managed.ChoiceID != choice.ID {
				continue
			}
			if err := em.schemas.DeleteSchema(ctx, tx, managed.ID); err != nil {
				return err
			}
		}
		return em.schemas.DeleteChoice(ctx, tx, choice.ID)
	})
	em.cache.invalidate()
	if err != nil {
		return err
	}
	zap.S().Infow("removed choice", "schema", parent.Name, "choice", choiceName)
	return nil
}

// SyncManagedSchemata creates, renames and deletes managed schemata until
// they match the choices of the named schema.
func (em *entityManager) SyncManagedSchemata(ctx context.Context, schemaName string) error {
	catalog, err := em.cache.get(ctx)
	if err != nil {
		return err
	}
	parent, ok := catalog.schema(schemaName)
	if !ok {
		return eav.NewSchemaNotFoundError(schemaName)
	}
	if parent.Managed {
		return eav.NewValidationError(schemaName, "managed schemata have no managed schemata")
	}

	plan := planManagedSync(parent, catalog.managedFor(parent.ID))
	if plan.empty() {
		return nil
	}
	err = em.withTx(ctx, func(tx pgx.Tx) error {
		return em.applyManagedPlan(ctx, tx, plan)
	})
	em.cache.invalidate()
	if err != nil {
		return err
	}
	zap.S().Infow("synchronized managed schemata", "schema", parent.Name,
		"created", len(plan.create), "updated", len(plan.update), "removed", len(plan.remove))
	return nil
}

func (em *entityManager) applyManagedPlan(ctx context.Context, tx pgx.Tx, plan managedPlan) error {
	for _, s := range plan.remove {
		if err := em.schemas.DeleteSchema(ctx, tx, s.ID); err != nil {
			return err
		}
	}
	for _, s := range plan.update {
		if err := em.schemas.UpdateSchema(ctx, tx, s); err != nil {
			return err
		}
	}
	for _, s := range plan.create {
		if err := em.schemas.InsertSchema(ctx, tx, s); err != nil {
			return err
		}
	}
	return nil
}

// resolveSchemaName validates an explicit name, or derives a unique one from
// title. current is the schema's present name when renaming.
func (em *entityManager) resolveSchemaName(catalog *schemaCatalog, title, name, current string) (string, error) {
	taken := func(n string) bool {
		return n != current && (catalog.hasName(n) || em.isReserved(n))
	}

	if name == "" {
		base := eav.SlugifyName(title)
		if base == "" {
			return "", eav.NewValidationError("title", "title must contain letters or digits")
		}
		return eav.UniqueName(base, taken), nil
	}

	if eav.SlugifyName(name) != name {
		return "", eav.NewValidationError("name",
			fmt.Sprintf("name %q must be lowercase letters, digits and underscores", name))
	}
	if em.isReserved(name) {
		reserved := append(em.reservedNames(), eav.ManagedPrefix+"*")
		return "", eav.NewReservedNameError(name, reserved)
	}
	if name != current && catalog.hasName(name) {
		return "", eav.NewSchemaExistsError(name)
	}
	return name, nil
}

// newChoices slugs and de-duplicates the titles of choices given at creation.
func newChoices(schemaName string, given []eav.Choice) ([]eav.Choice, error) {
	out := make([]eav.Choice, 0, len(given))
	seen := make(map[string]bool, len(given))
	for _, c := range given {
		title := c.Title
		if title == "" {
			title = c.Name
		}
		name := eav.SlugifyName(title)
		if c.Name != "" {
			name = eav.SlugifyName(c.Name)
		}
		if name == "" {
			return nil, eav.NewValidationError("choices", "choice title must contain letters or digits")
		}
		if seen[name] {
			return nil, eav.NewChoiceExistsError(schemaName, name)
		}
		seen[name] = true
		out = append(out, eav.Choice{Title: title, Name: name})
	}
	return out, nil
}

func manySchema(catalog *schemaCatalog, name string) (*eav.Schema, error) {
	s, ok := catalog.schema(name)
	if !ok {
		return nil, eav.NewSchemaNotFoundError(name)
	}
	if s.Managed || s.DataType != eav.DataTypeMany {
		return nil, eav.NewEAVError(eav.ErrorTypeValidation, eav.ErrCodeSchemaInvalid,
			fmt.Sprintf("schema %q is not a %s schema", name, eav.DataTypeMany.Display())).WithField(name)
	}
	return s, nil
}
