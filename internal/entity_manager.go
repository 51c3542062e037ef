package internal

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/lychee-technology/eav"
	"go.uber.org/zap"
)

type entityManager struct {
	pool     dbPool
	config   *eav.Config
	schemas  SchemaStore
	attrs    AttrStore
	entities EntityStore
	cache    *schemaCache

	typesMu sync.RWMutex
	types   map[string]*eav.EntityType
}

// NewEntityManager creates a new EntityManager backed by PostgreSQL
func NewEntityManager(pool dbPool, config *eav.Config) eav.EntityManager {
	return newEntityManager(pool, config)
}

func newEntityManager(pool dbPool, config *eav.Config) *entityManager {
	if config == nil {
		config = eav.DefaultConfig()
	}
	em := &entityManager{
		pool:     pool,
		config:   config,
		schemas:  NewPostgresSchemaRepository(config.Tables),
		attrs:    NewPostgresAttrRepository(config.Tables.Attr),
		entities: NewPostgresEntityRepository(),
		types:    make(map[string]*eav.EntityType),
	}
	em.cache = newSchemaCache(func(ctx context.Context) ([]*eav.Schema, error) {
		return em.schemas.LoadSchemata(ctx, em.pool)
	}, config.Cache)
	return em
}

// RegisterEntityType makes an application table available to the manager.
func (em *entityManager) RegisterEntityType(t eav.EntityType) error {
	if err := t.Validate(); err != nil {
		return err
	}
	em.typesMu.Lock()
	defer em.typesMu.Unlock()
	if _, exists := em.types[t.Name]; exists {
		return eav.NewEAVError(eav.ErrorTypeConflict, eav.ErrCodeEntityTypeExists,
			fmt.Sprintf("entity type %q is already registered", t.Name))
	}
	registered := t
	registered.Fields = append([]eav.Field(nil), t.Fields...)
	em.types[t.Name] = &registered
	zap.S().Debugw("registered entity type", "entityType", t.Name, "table", t.Table, "fields", len(t.Fields))
	return nil
}

func (em *entityManager) EntityType(name string) (*eav.EntityType, error) {
	em.typesMu.RLock()
	defer em.typesMu.RUnlock()
	t, ok := em.types[name]
	if !ok {
		return nil, eav.NewEntityTypeNotFoundError(name)
	}
	return t, nil
}

// reservedNames lists the static field names of every registered entity type.
func (em *entityManager) reservedNames() []string {
	em.typesMu.RLock()
	defer em.typesMu.RUnlock()
	seen := make(map[string]bool)
	var names []string
	for _, t := range em.types {
		for _, f := range t.Fields {
			if !seen[f.Name] {
				seen[f.Name] = true
				names = append(names, f.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func (em *entityManager) isReserved(name string) bool {
	if name == "id" || strings.HasPrefix(name, eav.ManagedPrefix) {
		return true
	}
	for _, r := range em.reservedNames() {
		if r == name {
			return true
		}
	}
	return false
}

// withTx runs fn in a transaction, rolling back unless fn and the commit succeed.
func (em *entityManager) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := em.pool.Begin(ctx)
	if err != nil {
		return eav.NewTransactionError("begin transaction", err)
	}
	defer tx.Rollback(ctx) // no-op if committed

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return eav.NewTransactionError("commit transaction", err)
	}
	return nil
}

func (em *entityManager) logStatement(operation string, stmt sqlStatement) {
	if em.config.Logging.LogQueries {
		zap.S().Debugw("eav statement", "operation", operation, "sql", stmt.SQL, "args", stmt.Args)
	}
}

// applicableSchemata returns the schemata in scope for e. Managed schemata
// follow their parent.
func applicableSchemata(et *eav.EntityType, e *eav.Entity, catalog *schemaCatalog) []*eav.Schema {
	if et.SchemaFilter == nil {
		return catalog.all()
	}
	allowed := make(map[int64]bool)
	var out []*eav.Schema
	for _, s := range catalog.all() {
		if s.Managed {
			continue
		}
		if et.SchemaFilter(e, s) {
			allowed[s.ID] = true
			out = append(out, s)
		}
	}
	for _, s := range catalog.all() {
		if s.Managed && allowed[s.ParentID] {
			out = append(out, s)
		}
	}
	return out
}

func cloneSchema(s *eav.Schema) *eav.Schema {
	c := *s
	c.Choices = append([]eav.Choice(nil), s.Choices...)
	return &c
}

func schemaNames(schemata []*eav.Schema) []string {
	names := make([]string, len(schemata))
	for i, s := range schemata {
		names[i] = s.Name
	}
	return names
}
