package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Canonical returns the canonical string form of a value. Routing hashes and
// single-column index keys both use this form, so the two must never diverge.
func Canonical(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 64)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// CanonicalKey builds the index key for the given column values.
// Single-column keys use the canonical string form; composite keys use the
// JSON encoding of the value array. A NULL anywhere in the tuple makes the
// row unindexable: ok is false and no entry or delta may be produced.
func CanonicalKey(values []interface{}) (key string, ok bool) {
	for _, v := range values {
		if v == nil {
			return "", false
		}
	}
	if len(values) == 1 {
		return Canonical(values[0]), true
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", false
	}
	return string(b), true
}
