package internal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lychee-technology/eav"
)

// translator renders lookups against one entity type into PostgreSQL. The
// entity table is aliased "e"; attr subqueries use "a". A translator keeps
// the arguments of the statement it is building, so use one per statement.
type translator struct {
	attrTable string
	et        *eav.EntityType
	catalog   *schemaCatalog
	args      *sqlArgs
	typeArg   string
}

func newTranslator(attrTable string, et *eav.EntityType, catalog *schemaCatalog) *translator {
	return &translator{
		attrTable: sanitizeIdentifier(attrTable),
		et:        et,
		catalog:   catalog,
		args:      &sqlArgs{},
	}
}

func (t *translator) statement(sql string) sqlStatement {
	return sqlStatement{SQL: sql, Args: t.args.list()}
}

func (t *translator) entityTable() string {
	return sanitizeIdentifier(t.et.Table) + " e"
}

func (t *translator) idColumn() string {
	return "e." + sanitizeIdentifier(t.et.IDColumnName())
}

func (t *translator) fieldColumn(f eav.Field) string {
	return "e." + sanitizeIdentifier(f.ColumnName())
}

// entityTypeArg binds the entity type name once per statement.
func (t *translator) entityTypeArg() string {
	if t.typeArg == "" {
		t.typeArg = t.args.add(t.et.Name)
	}
	return t.typeArg
}

// attrSubquery selects the attr rows of one schema for the current entity row.
func (t *translator) attrSubquery(selectList string, schemaID int64) string {
	return fmt.Sprintf("SELECT %s FROM %s a WHERE a.entity_type = %s AND a.entity_id = %s AND a.schema_id = %s",
		selectList, t.attrTable, t.entityTypeArg(), t.idColumn(), t.args.add(schemaID))
}

// where combines every filter and exclude group. Each exclude group becomes
// NOT (c1 AND c2 ...), which keeps entities that lack the attribute.
func (t *translator) where(spec *eav.QuerySpec) (string, error) {
	var clauses []string
	for _, group := range spec.Filters {
		cond, err := t.conjunction(group, "filter")
		if err != nil {
			return "", err
		}
		if cond != "" {
			clauses = append(clauses, cond)
		}
	}
	for _, group := range spec.Excludes {
		cond, err := t.conjunction(group, "exclude")
		if err != nil {
			return "", err
		}
		if cond != "" {
			clauses = append(clauses, "NOT "+cond)
		}
	}
	return strings.Join(clauses, " AND "), nil
}

// conjunction ANDs the conditions of one lookup group, in key order.
func (t *translator) conjunction(lookups eav.Lookups, action string) (string, error) {
	parsed, err := lookups.Parse()
	if err != nil {
		return "", err
	}

	var unknown []string
	for _, l := range parsed {
		if !t.knows(l.Name) {
			unknown = append(unknown, l.Name)
		}
	}
	if len(unknown) > 0 {
		return "", t.unknownError(action, unknown)
	}

	conds := make([]string, 0, len(parsed))
	for _, l := range parsed {
		cond, err := t.condition(l)
		if err != nil {
			return "", err
		}
		conds = append(conds, cond)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "(" + strings.Join(conds, " AND ") + ")", nil
}

func (t *translator) knows(name string) bool {
	if _, ok := t.et.Field(name); ok {
		return true
	}
	return t.catalog.hasName(name)
}

func (t *translator) unknownError(action string, names []string) error {
	return eav.NewUnknownAttributeError(action, t.et.Name, names, t.et.FieldNames(), t.catalog.names())
}

func (t *translator) condition(l eav.Lookup) (string, error) {
	if f, ok := t.et.Field(l.Name); ok {
		return t.fieldCondition(f, l)
	}
	s, ok := t.catalog.schema(l.Name)
	if !ok {
		return "", t.unknownError("filter", []string{l.Name})
	}
	switch {
	case s.Managed:
		return t.managedCondition(s, l)
	case s.DataType == eav.DataTypeMany:
		return t.manyCondition(s, l)
	default:
		return t.scalarCondition(s, l)
	}
}

func (t *translator) fieldCondition(f eav.Field, l eav.Lookup) (string, error) {
	col := t.fieldColumn(f)
	value, err := eav.CoerceLookupValue(f.Type, l.Op, l.Value)
	if err != nil {
		return "", eav.NewInvalidLookupError(l.Key, err.Error()).WithCause(err)
	}
	if l.Op == eav.OpIsNull {
		if value.(bool) {
			return col + " IS NULL", nil
		}
		return col + " IS NOT NULL", nil
	}
	return t.compare(col, f.Type, l.Op, value)
}

func (t *translator) scalarCondition(s *eav.Schema, l eav.Lookup) (string, error) {
	col := "a." + s.DataType.ValueColumn()
	value, err := eav.CoerceLookupValue(s.DataType, l.Op, l.Value)
	if err != nil {
		return "", eav.NewInvalidLookupError(l.Key, err.Error()).WithCause(err)
	}
	if l.Op == eav.OpIsNull {
		sub := t.attrSubquery("1", s.ID) + " AND " + col + " IS NOT NULL"
		if value.(bool) {
			return "NOT EXISTS (" + sub + ")", nil
		}
		return "EXISTS (" + sub + ")", nil
	}
	sub := t.attrSubquery("1", s.ID)
	cmp, err := t.compare(col, s.DataType, l.Op, value)
	if err != nil {
		return "", err
	}
	return "EXISTS (" + sub + " AND " + cmp + ")", nil
}

// manyCondition matches entities having the named choice (exact) or any of
// the named choices (in).
func (t *translator) manyCondition(s *eav.Schema, l eav.Lookup) (string, error) {
	if l.Op != eav.OpExact && l.Op != eav.OpIn {
		return "", eav.NewInvalidLookupError(l.Key,
			fmt.Sprintf("only exact and in lookups can be used with %s attributes", s.DataType.Display()))
	}
	raw, err := eav.CoerceValue(eav.DataTypeMany, l.Value)
	if err != nil {
		return "", eav.NewInvalidLookupError(l.Key, err.Error()).WithCause(err)
	}
	names, _ := raw.([]string)
	if l.Op == eav.OpExact && len(names) != 1 {
		return "", eav.NewInvalidLookupError(l.Key, "exact expects a single choice name; use __in for several")
	}

	ids := make([]int64, 0, len(names))
	for _, name := range names {
		c, ok := s.Choice(name)
		if !ok {
			return "", eav.NewChoiceNotFoundError(s.Name, name)
		}
		ids = append(ids, c.ID)
	}
	if len(ids) == 0 {
		return "FALSE", nil
	}

	sub := t.attrSubquery("1", s.ID)
	if l.Op == eav.OpExact {
		return "EXISTS (" + sub + " AND a.choice_id = " + t.args.add(ids[0]) + ")", nil
	}
	return "EXISTS (" + sub + " AND a.choice_id = ANY(" + t.args.add(ids) + "))", nil
}

// managedCondition reads a managed flag off its parent's choice rows.
func (t *translator) managedCondition(s *eav.Schema, l eav.Lookup) (string, error) {
	if l.Op != eav.OpExact {
		return "", eav.NewInvalidLookupError(l.Key, "only exact lookups can be used with managed attributes")
	}
	raw, err := eav.CoerceValue(eav.DataTypeBool, l.Value)
	if err != nil || raw == nil {
		return "", eav.NewInvalidLookupError(l.Key, "managed attributes take a boolean value")
	}
	parent, ok := t.catalog.schemaByID(s.ParentID)
	if !ok {
		return "", eav.NewInternalError(fmt.Sprintf("managed schema %s has no parent", s.Name), nil)
	}
	sub := t.attrSubquery("1", parent.ID) + " AND a.choice_id = " + t.args.add(s.ChoiceID)
	if raw.(bool) {
		return "EXISTS (" + sub + ")", nil
	}
	return "NOT EXISTS (" + sub + ")", nil
}

func (t *translator) compare(col string, dt eav.DataType, op eav.LookupOp, value any) (string, error) {
	switch op {
	case eav.OpExact:
		return col + " = " + t.args.add(value), nil
	case eav.OpIExact:
		return "LOWER(" + col + ") = LOWER(" + t.args.add(value) + ")", nil
	case eav.OpContains, eav.OpIContains, eav.OpStartsWith, eav.OpIStartsWith, eav.OpEndsWith, eav.OpIEndsWith:
		return t.like(col, op, value.(string)), nil
	case eav.OpGt:
		return col + " > " + t.args.add(value), nil
	case eav.OpGte:
		return col + " >= " + t.args.add(value), nil
	case eav.OpLt:
		return col + " < " + t.args.add(value), nil
	case eav.OpLte:
		return col + " <= " + t.args.add(value), nil
	case eav.OpIn:
		items := value.([]any)
		if len(items) == 0 {
			return "FALSE", nil
		}
		typed, err := typedSlice(dt, items)
		if err != nil {
			return "", err
		}
		return col + " = ANY(" + t.args.add(typed) + ")", nil
	case eav.OpRange:
		bounds := value.([]any)
		return col + " BETWEEN " + t.args.add(bounds[0]) + " AND " + t.args.add(bounds[1]), nil
	default:
		return "", eav.NewEAVError(eav.ErrorTypeQuery, eav.ErrCodeQueryBuildFailed,
			fmt.Sprintf("unsupported operator %s", op))
	}
}

func (t *translator) like(col string, op eav.LookupOp, s string) string {
	pattern := escapeLike(s)
	switch op {
	case eav.OpContains, eav.OpIContains:
		pattern = "%" + pattern + "%"
	case eav.OpStartsWith, eav.OpIStartsWith:
		pattern = pattern + "%"
	case eav.OpEndsWith, eav.OpIEndsWith:
		pattern = "%" + pattern
	}
	keyword := " LIKE "
	switch op {
	case eav.OpIContains, eav.OpIStartsWith, eav.OpIEndsWith:
		keyword = " ILIKE "
	}
	return col + keyword + t.args.add(pattern)
}

// typedSlice converts coerced "in" values into a slice pgx can bind to ANY($n).
func typedSlice(dt eav.DataType, items []any) (any, error) {
	switch dt {
	case eav.DataTypeText:
		return convertSlice[string](items)
	case eav.DataTypeInt:
		return convertSlice[int64](items)
	case eav.DataTypeFloat:
		return convertSlice[float64](items)
	case eav.DataTypeDate:
		return convertSlice[time.Time](items)
	case eav.DataTypeBool:
		return convertSlice[bool](items)
	default:
		return nil, fmt.Errorf("in lookup not supported for %s", dt)
	}
}

func convertSlice[T any](items []any) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, item := range items {
		v, ok := item.(T)
		if !ok {
			return nil, fmt.Errorf("unexpected %T in list", item)
		}
		out = append(out, v)
	}
	return out, nil
}

// orderBy renders ORDER BY terms. Entities without a value sort last; the
// id column breaks ties so results are stable. "id" names the id column.
func (t *translator) orderBy(orders []eav.OrderBy) (string, error) {
	terms := make([]string, 0, len(orders)+1)
	byID := false
	for _, o := range orders {
		dir := "ASC"
		if o.SortOrder == eav.SortOrderDesc {
			dir = "DESC"
		}
		if o.Name == "id" {
			terms = append(terms, t.idColumn()+" "+dir)
			byID = true
			continue
		}
		if f, ok := t.et.Field(o.Name); ok {
			terms = append(terms, t.fieldColumn(f)+" "+dir+" NULLS LAST")
			continue
		}
		s, ok := t.catalog.schema(o.Name)
		if !ok {
			return "", t.unknownError("order", []string{o.Name})
		}
		if s.Managed || !s.DataType.Scalar() {
			return "", eav.NewEAVError(eav.ErrorTypeQuery, eav.ErrCodeQueryBuildFailed,
				fmt.Sprintf("cannot order by %s attribute %s", s.DataType.Display(), s.Name)).WithField(s.Name)
		}
		sub := t.attrSubquery("a."+s.DataType.ValueColumn(), s.ID)
		terms = append(terms, "("+sub+") "+dir+" NULLS LAST")
	}
	if !byID {
		terms = append(terms, t.idColumn()+" ASC")
	}
	return strings.Join(terms, ", "), nil
}

func (t *translator) selectColumns() string {
	cols := []string{t.idColumn()}
	for _, f := range t.et.Fields {
		cols = append(cols, t.fieldColumn(f))
	}
	return strings.Join(cols, ", ")
}

func (t *translator) buildSelect(spec *eav.QuerySpec, columns string) (sqlStatement, error) {
	where, err := t.where(spec)
	if err != nil {
		return sqlStatement{}, err
	}
	order, err := t.orderBy(spec.Order)
	if err != nil {
		return sqlStatement{}, err
	}

	var b strings.Builder
	b.WriteString("SELECT " + columns + " FROM " + t.entityTable())
	if where != "" {
		b.WriteString(" WHERE " + where)
	}
	b.WriteString(" ORDER BY " + order)
	if spec.Limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(spec.Limit))
	}
	return t.statement(b.String()), nil
}

// selectRows returns the id followed by every field column.
func (t *translator) selectRows(spec *eav.QuerySpec) (sqlStatement, error) {
	return t.buildSelect(spec, t.selectColumns())
}

func (t *translator) selectIDs(spec *eav.QuerySpec) (sqlStatement, error) {
	return t.buildSelect(spec, t.idColumn())
}

func (t *translator) count(spec *eav.QuerySpec) (sqlStatement, error) {
	where, err := t.where(spec)
	if err != nil {
		return sqlStatement{}, err
	}
	sql := "SELECT COUNT(*) FROM " + t.entityTable()
	if where != "" {
		sql += " WHERE " + where
	}
	return t.statement(sql), nil
}

// distinctField lists the distinct non-null values of a static field in scope.
func (t *translator) distinctField(f eav.Field, scope eav.Lookups) (sqlStatement, error) {
	col := t.fieldColumn(f)
	clauses := []string{col + " IS NOT NULL"}
	if cond, err := t.conjunction(scope, "filter"); err != nil {
		return sqlStatement{}, err
	} else if cond != "" {
		clauses = append(clauses, cond)
	}
	sql := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s ORDER BY 1",
		col, t.entityTable(), strings.Join(clauses, " AND "))
	return t.statement(sql), nil
}

// distinctSchema lists the distinct stored values of a scalar schema in
// scope. For many schemata it lists the distinct selected choice ids.
func (t *translator) distinctSchema(s *eav.Schema, scope eav.Lookups) (sqlStatement, error) {
	col := "a." + s.DataType.ValueColumn()
	if s.DataType == eav.DataTypeMany {
		col = "a.choice_id"
	}
	clauses := []string{
		"a.entity_type = " + t.entityTypeArg(),
		"a.schema_id = " + t.args.add(s.ID),
		col + " IS NOT NULL",
	}
	if cond, err := t.conjunction(scope, "filter"); err != nil {
		return sqlStatement{}, err
	} else if cond != "" {
		clauses = append(clauses, cond)
	}
	sql := fmt.Sprintf("SELECT DISTINCT %s FROM %s a JOIN %s ON %s = a.entity_id WHERE %s ORDER BY 1",
		col, t.attrTable, t.entityTable(), t.idColumn(), strings.Join(clauses, " AND "))
	return t.statement(sql), nil
}

func (t *translator) selectRowByID(id uuid.UUID) sqlStatement {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		t.selectColumns(), t.entityTable(), t.idColumn(), t.args.add(id))
	return t.statement(sql)
}
