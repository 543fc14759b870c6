package conductor

import (
	"github.com/Ankcorn/big-daddy/internal/sqlparser"
)

// ExtractEqualities walks the top-level AND conjunction of a WHERE clause
// and returns a column → value map for every `col = <literal|placeholder>`
// conjunct. Equality is recognized on either side of the operator. clean is
// false when an OR appears in the top-level tree, which disables both
// shard-key and index routing: any shard might match.
func ExtractEqualities(where sqlparser.Expression, params []interface{}) (eqs map[string]interface{}, clean bool) {
	eqs = make(map[string]interface{})
	clean = collectEqualities(where, params, eqs)
	return eqs, clean
}

func collectEqualities(expr sqlparser.Expression, params []interface{}, eqs map[string]interface{}) bool {
	if expr == nil {
		return true
	}

	b, ok := expr.(*sqlparser.BinaryExpr)
	if !ok {
		return true
	}

	switch b.Operator {
	case "OR":
		return false
	case "AND":
		leftClean := collectEqualities(b.Left, params, eqs)
		rightClean := collectEqualities(b.Right, params, eqs)
		return leftClean && rightClean
	case "=":
		col, val, ok := equalitySides(b, params)
		if ok {
			eqs[col] = val
		}
		return true
	default:
		return true
	}
}

// equalitySides matches `col = value` or `value = col`.
func equalitySides(b *sqlparser.BinaryExpr, params []interface{}) (string, interface{}, bool) {
	if col, ok := b.Left.(*sqlparser.ColumnRef); ok {
		if val, ok := valueOf(b.Right, params); ok {
			return col.Column, val, true
		}
	}
	if col, ok := b.Right.(*sqlparser.ColumnRef); ok {
		if val, ok := valueOf(b.Left, params); ok {
			return col.Column, val, true
		}
	}
	return "", nil, false
}

func valueOf(expr sqlparser.Expression, params []interface{}) (interface{}, bool) {
	switch e := expr.(type) {
	case *sqlparser.Literal:
		return e.Value, true
	case *sqlparser.Placeholder:
		if e.Index < len(params) {
			return params[e.Index], true
		}
	}
	return nil, false
}
