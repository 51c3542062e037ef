package eav

import (
	"sort"
	"strings"
)

// LookupOp is the comparison part of a lookup key.
type LookupOp string

const (
	OpExact       LookupOp = "exact"
	OpIExact      LookupOp = "iexact"
	OpContains    LookupOp = "contains"
	OpIContains   LookupOp = "icontains"
	OpStartsWith  LookupOp = "startswith"
	OpIStartsWith LookupOp = "istartswith"
	OpEndsWith    LookupOp = "endswith"
	OpIEndsWith   LookupOp = "iendswith"
	OpGt          LookupOp = "gt"
	OpGte         LookupOp = "gte"
	OpLt          LookupOp = "lt"
	OpLte         LookupOp = "lte"
	OpIn          LookupOp = "in"
	OpRange       LookupOp = "range"
	OpIsNull      LookupOp = "isnull"
)

// LookupSeparator splits attribute names from operators.
const LookupSeparator = "__"

var knownOps = map[LookupOp]bool{
	OpExact: true, OpIExact: true, OpContains: true, OpIContains: true,
	OpStartsWith: true, OpIStartsWith: true, OpEndsWith: true, OpIEndsWith: true,
	OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpIn: true, OpRange: true, OpIsNull: true,
}

// TextOnly reports whether the operator only applies to text columns.
func (op LookupOp) TextOnly() bool {
	switch op {
	case OpIExact, OpContains, OpIContains, OpStartsWith, OpIStartsWith, OpEndsWith, OpIEndsWith:
		return true
	}
	return false
}

// Lookup is a parsed lookup key plus its value.
type Lookup struct {
	Key   string
	Name  string
	Op    LookupOp
	Value any
}

// ParseLookup splits "name" or "name__op" into its parts.
func ParseLookup(key string, value any) (Lookup, error) {
	parts := strings.Split(key, LookupSeparator)
	switch len(parts) {
	case 1:
		if parts[0] == "" {
			return Lookup{}, NewInvalidLookupError(key, "empty attribute name")
		}
		return Lookup{Key: key, Name: parts[0], Op: OpExact, Value: value}, nil
	case 2:
		if parts[0] == "" {
			return Lookup{}, NewInvalidLookupError(key, "empty attribute name")
		}
		op := LookupOp(parts[1])
		if !knownOps[op] {
			return Lookup{}, NewInvalidLookupError(key, "unsupported operator "+parts[1])
		}
		return Lookup{Key: key, Name: parts[0], Op: op, Value: value}, nil
	default:
		return Lookup{}, NewInvalidLookupError(key, "nested lookups are not supported")
	}
}

// Parse parses every key in sorted order.
func (l Lookups) Parse() ([]Lookup, error) {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Lookup, 0, len(keys))
	for _, k := range keys {
		lookup, err := ParseLookup(k, l[k])
		if err != nil {
			return nil, err
		}
		out = append(out, lookup)
	}
	return out, nil
}

// Merge returns a new Lookups with the entries of other overriding l.
func (l Lookups) Merge(other Lookups) Lookups {
	out := make(Lookups, len(l)+len(other))
	for k, v := range l {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}
