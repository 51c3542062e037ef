package eav

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the textual date format accepted and produced for date values.
const DateLayout = "2006-01-02"

// CoerceValue converts v to the storage type of dt: string, int64, float64,
// time.Time (UTC midnight), bool or []string for many. A nil v stays nil.
func CoerceValue(dt DataType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch dt {
	case DataTypeText:
		return coerceText(v)
	case DataTypeInt:
		return coerceInt(v)
	case DataTypeFloat:
		return coerceFloat(v)
	case DataTypeDate:
		return coerceDate(v)
	case DataTypeBool:
		return coerceBool(v)
	case DataTypeMany:
		return coerceChoiceNames(v)
	default:
		return nil, fmt.Errorf("unsupported datatype %q", dt)
	}
}

// ParseRaw parses textual input such as query-string values. Blank input yields nil.
func ParseRaw(dt DataType, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	return CoerceValue(dt, raw)
}

func coerceText(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case fmt.Stringer:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.String:
		return rv.String(), nil
	}
	return nil, fmt.Errorf("cannot convert %T to text", v)
}

func coerceInt(v any) (any, error) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("parse int %q: %w", x, err)
		}
		return floatToInt(f)
	case float32:
		return floatToInt(float64(x))
	case float64:
		return floatToInt(x)
	case bool:
		return nil, fmt.Errorf("cannot convert bool to int")
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("%d overflows int64", u)
		}
		return int64(u), nil
	}
	return nil, fmt.Errorf("cannot convert %T to int", v)
}

func floatToInt(f float64) (any, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, fmt.Errorf("%v is not an integer", f)
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("%v overflows int64", f)
	}
	return int64(f), nil
}

func coerceFloat(v any) (any, error) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("parse float %q: %w", x, err)
		}
		return f, nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case bool:
		return nil, fmt.Errorf("cannot convert bool to float")
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	}
	return nil, fmt.Errorf("cannot convert %T to float", v)
}

func coerceDate(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return truncateDate(x), nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return truncateDate(*x), nil
	case string:
		s := strings.TrimSpace(x)
		if t, err := time.Parse(DateLayout, s); err == nil {
			return t, nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q (expected %s or RFC3339)", x, DateLayout)
		}
		return truncateDate(t), nil
	}
	return nil, fmt.Errorf("cannot convert %T to date", v)
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func coerceBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case *bool:
		if x == nil {
			return nil, nil
		}
		return *x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "yes", "on", "y":
			return true, nil
		case "no", "off", "n":
			return false, nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return nil, fmt.Errorf("invalid boolean %q", x)
		}
		return b, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch rv.Int() {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
	}
	return nil, fmt.Errorf("cannot convert %T to bool", v)
}

// coerceChoiceNames accepts one name or a list of names and returns slugs
// in input order with duplicates removed.
func coerceChoiceNames(v any) (any, error) {
	var raw []string
	switch x := v.(type) {
	case string:
		if strings.TrimSpace(x) == "" {
			return []string{}, nil
		}
		raw = []string{x}
	case []string:
		raw = x
	case []any:
		raw = make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("choice names must be strings, got %T", item)
			}
			raw = append(raw, s)
		}
	default:
		return nil, fmt.Errorf("cannot convert %T to choice names", v)
	}

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, name := range raw {
		slug := SlugifyName(name)
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true
		out = append(out, slug)
	}
	return out, nil
}

// CoerceLookupValue converts a lookup value for op against dt. "in" expects a
// list, "range" a pair, "isnull" a bool; everything else a scalar.
func CoerceLookupValue(dt DataType, op LookupOp, v any) (any, error) {
	switch op {
	case OpIsNull:
		b, err := coerceBool(v)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, fmt.Errorf("isnull expects a bool")
		}
		return b, nil
	case OpIn:
		items, err := toSlice(v)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			c, err := CoerceValue(dt, item)
			if err != nil {
				return nil, err
			}
			if c == nil {
				continue
			}
			out = append(out, c)
		}
		return out, nil
	case OpRange:
		items, err := toSlice(v)
		if err != nil {
			return nil, err
		}
		if len(items) != 2 {
			return nil, fmt.Errorf("range expects two values, got %d", len(items))
		}
		lo, err := CoerceValue(dt, items[0])
		if err != nil {
			return nil, err
		}
		hi, err := CoerceValue(dt, items[1])
		if err != nil {
			return nil, err
		}
		if lo == nil || hi == nil {
			return nil, fmt.Errorf("range bounds cannot be nil")
		}
		return []any{lo, hi}, nil
	default:
		if op.TextOnly() && dt != DataTypeText {
			return nil, fmt.Errorf("operator %s only supported for text attributes, not %s", op, dt)
		}
		c, err := CoerceValue(dt, v)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, fmt.Errorf("operator %s does not accept nil; use isnull", op)
		}
		return c, nil
	}
}

func toSlice(v any) ([]any, error) {
	if v == nil {
		return nil, fmt.Errorf("expected a list, got nil")
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}
