// Package cast converts the dynamically-typed values that come back
// from bencode.Unmarshal (string, *big.Int, []any, map[string]any) into
// the concrete Go types callers actually want.
package cast

import "math/big"

// ToInt64 converts v to an int64 if v is an int64-range *big.Int or one
// of the plain integer types.
func ToInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case *big.Int:
		if x == nil || !x.IsInt64() {
			return 0, false
		}
		return x.Int64(), true
	case int64:
		return x, true
	case int:
		return int64(x), true
	}
	return 0, false
}

// ToInt converts v to an int, per ToInt64.
func ToInt(v any) (int, bool) {
	n, ok := ToInt64(v)
	if !ok {
		return 0, false
	}
	return int(n), true
}

// ToString converts v to a string if v is a string or []byte.
func ToString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	}
	return "", false
}
