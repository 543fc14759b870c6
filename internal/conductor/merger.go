package conductor

import (
	"strings"

	"github.com/Ankcorn/big-daddy/internal/aggregate"
	"github.com/Ankcorn/big-daddy/internal/sqlparser"
	"github.com/Ankcorn/big-daddy/pkg/types"
)

// MergeResults combines per-shard outcomes into the client-visible result
// according to the plan's strategy. Outcomes arrive in shard order, which
// keeps row concatenation stable and deterministic.
func MergeResults(plan *Plan, outcomes []shardOutcome) (*types.Result, error) {
	switch plan.Strategy {
	case MergeAffected:
		return mergeAffected(outcomes), nil
	case MergeAggregate:
		return mergeAggregates(plan, outcomes), nil
	case MergeGroupBy:
		return mergeGroupBy(plan, outcomes), nil
	case MergePassthrough:
		return mergeUnion(plan, outcomes), nil
	default:
		return mergeUnion(plan, outcomes), nil
	}
}

// emptyResult is what a zero-target plan produces without any shard RPC.
func emptyResult(plan *Plan) *types.Result {
	return &types.Result{
		Columns: selectColumnNames(selectOf(plan)),
		Rows:    []types.Row{},
	}
}

// selectOf returns the plan's SELECT statement, nil otherwise.
func selectOf(plan *Plan) *sqlparser.SelectStatement {
	if sel, ok := plan.Statement.(*sqlparser.SelectStatement); ok {
		return sel
	}
	return nil
}

// mergeAffected sums rowsAffected; writes return no rows.
func mergeAffected(outcomes []shardOutcome) *types.Result {
	var affected int64
	for _, o := range outcomes {
		for _, res := range o.results {
			if res != nil {
				affected += res.RowsAffected
			}
		}
	}
	return &types.Result{Columns: []string{}, Rows: []types.Row{}, RowsAffected: affected}
}

// mergeUnion concatenates rows in shard order, stripping _virtualShard
// unless the projection asked for it explicitly.
func mergeUnion(plan *Plan, outcomes []shardOutcome) *types.Result {
	sel := selectOf(plan)
	keepVirtual := projectsVirtualShard(sel)

	var columns []string
	var dropIdx = -1
	out := &types.Result{Rows: []types.Row{}}

	for _, o := range outcomes {
		res := o.first()
		if res == nil {
			continue
		}
		if columns == nil && len(res.Columns) > 0 {
			columns = res.Columns
			if !keepVirtual {
				for i, c := range columns {
					if c == virtualShardColumn {
						dropIdx = i
						break
					}
				}
				if dropIdx >= 0 {
					trimmed := make([]string, 0, len(columns)-1)
					trimmed = append(trimmed, columns[:dropIdx]...)
					trimmed = append(trimmed, columns[dropIdx+1:]...)
					columns = trimmed
				}
			}
		}
		for _, row := range res.Rows {
			out.Rows = append(out.Rows, rowToMap(res.Columns, row, dropIdx))
		}
	}

	if columns == nil {
		columns = selectColumnNames(sel)
	}
	out.Columns = columns
	return out
}

// mergeAggregates reduces an aggregate-only SELECT (no GROUP BY) to a
// single row. Each shard already aggregated locally, so its row holds one
// partial per aggregate column.
func mergeAggregates(plan *Plan, outcomes []shardOutcome) *types.Result {
	sel := selectOf(plan)
	columns := selectColumnNames(sel)

	// Collect one partial per shard per aggregate column.
	partials := make([][]*aggregate.Partial, len(sel.Columns))
	firstValues := make([]interface{}, len(sel.Columns))
	firstSeen := false

	for _, o := range outcomes {
		res := o.first()
		if res == nil || len(res.Rows) == 0 {
			continue
		}
		row := res.Rows[0]
		if !firstSeen {
			copy(firstValues, row)
			firstSeen = true
		}
		for i, col := range sel.Columns {
			aggExpr, ok := col.Expr.(*sqlparser.AggregateExpr)
			if !ok || i >= len(row) {
				continue
			}
			t, err := aggregate.ParseType(aggExpr.Function)
			if err != nil {
				continue
			}
			partials[i] = append(partials[i], aggregate.FromShardValue(t, row[i]))
		}
	}

	row := make(types.Row, len(columns))
	ordered := make([]interface{}, len(sel.Columns))
	for i, col := range sel.Columns {
		if _, ok := col.Expr.(*sqlparser.AggregateExpr); ok {
			ordered[i] = aggregate.MergeColumn(partials[i])
		} else if i < len(firstValues) {
			ordered[i] = firstValues[i]
		}
	}
	for i, name := range columns {
		if i < len(ordered) {
			row[name] = ordered[i]
		}
	}

	return &types.Result{Columns: columns, Rows: []types.Row{row}}
}

// mergeGroupBy combines per-shard pre-aggregated rows group-wise. Shards
// evaluated the full statement locally, so each shard row carries one
// partial per aggregate column for its group.
func mergeGroupBy(plan *Plan, outcomes []shardOutcome) *types.Result {
	sel := selectOf(plan)
	columns := selectColumnNames(sel)

	type groupState struct {
		first    []interface{}
		partials [][]*aggregate.Partial
	}
	groups := make(map[aggregate.GroupKey]*groupState)
	var order []aggregate.GroupKey

	// Positions of the GROUP BY columns within the select list.
	groupIdx := make([]int, 0, len(sel.GroupBy))
	for _, g := range sel.GroupBy {
		for i, col := range sel.Columns {
			if strings.EqualFold(col.Expr.String(), g.String()) || strings.EqualFold(col.Alias, g.String()) {
				groupIdx = append(groupIdx, i)
				break
			}
		}
	}

	for _, o := range outcomes {
		res := o.first()
		if res == nil {
			continue
		}
		for _, row := range res.Rows {
			keyVals := make([]interface{}, len(groupIdx))
			for i, idx := range groupIdx {
				if idx < len(row) {
					keyVals[i] = row[idx]
				}
			}
			key := aggregate.GroupKeyFor(keyVals)

			g, exists := groups[key]
			if !exists {
				g = &groupState{
					first:    append([]interface{}(nil), row...),
					partials: make([][]*aggregate.Partial, len(sel.Columns)),
				}
				groups[key] = g
				order = append(order, key)
			}
			for i, col := range sel.Columns {
				aggExpr, ok := col.Expr.(*sqlparser.AggregateExpr)
				if !ok || i >= len(row) {
					continue
				}
				t, err := aggregate.ParseType(aggExpr.Function)
				if err != nil {
					continue
				}
				g.partials[i] = append(g.partials[i], aggregate.FromShardValue(t, row[i]))
			}
		}
	}

	out := &types.Result{Columns: columns, Rows: make([]types.Row, 0, len(groups))}
	for _, key := range order {
		g := groups[key]
		row := make(types.Row, len(columns))
		for i, name := range columns {
			if len(g.partials[i]) > 0 {
				row[name] = aggregate.MergeColumn(g.partials[i])
			} else if i < len(g.first) {
				// GROUP BY columns flow through from the first row seen.
				row[name] = g.first[i]
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// rowToMap converts a positional row into the client field→value form,
// optionally dropping one column index.
func rowToMap(columns []string, row []interface{}, dropIdx int) types.Row {
	m := make(types.Row, len(columns))
	for i, col := range columns {
		if i == dropIdx {
			continue
		}
		if i < len(row) {
			m[col] = row[i]
		}
	}
	return m
}

// projectsVirtualShard reports whether the select list names _virtualShard
// explicitly.
func projectsVirtualShard(sel *sqlparser.SelectStatement) bool {
	if sel == nil {
		return false
	}
	for _, col := range sel.Columns {
		if ref, ok := col.Expr.(*sqlparser.ColumnRef); ok && ref.Column == virtualShardColumn {
			return true
		}
	}
	return false
}

// selectColumnNames derives the output schema from the select list.
func selectColumnNames(sel *sqlparser.SelectStatement) []string {
	if sel == nil {
		return []string{}
	}
	var columns []string
	for _, col := range sel.Columns {
		if col.Alias != "" {
			columns = append(columns, col.Alias)
		} else {
			columns = append(columns, col.Expr.String())
		}
	}
	return columns
}
