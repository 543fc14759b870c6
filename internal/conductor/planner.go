// Package conductor is the query router: it parses client SQL, plans the
// minimal shard set against a topology snapshot, fans out to shards, merges
// results, and emits asynchronous index-maintenance events.
package conductor

import (
	"fmt"

	cerr "github.com/Ankcorn/big-daddy/internal/errors"
	"github.com/Ankcorn/big-daddy/internal/routing"
	"github.com/Ankcorn/big-daddy/internal/sqlparser"
	"github.com/Ankcorn/big-daddy/internal/topology"
	"github.com/Ankcorn/big-daddy/pkg/types"
)

// MergeStrategy selects how per-shard results combine.
type MergeStrategy int

const (
	// MergeRows concatenates rows in shard order.
	MergeRows MergeStrategy = iota
	// MergeAggregate reduces aggregate columns across shards.
	MergeAggregate
	// MergeGroupBy combines rows group-wise when the GROUP BY columns are
	// projected.
	MergeGroupBy
	// MergePassthrough returns the union untouched (GROUP BY columns not
	// projected, so no safe merge exists).
	MergePassthrough
	// MergeAffected sums rowsAffected and returns no rows.
	MergeAffected
)

// ShardTarget is one (logical shard, physical node) execution target.
type ShardTarget struct {
	ShardID int
	NodeID  string
}

// ShardInsert is the rewritten INSERT and parameter vector for one shard.
type ShardInsert struct {
	Target    ShardTarget
	Statement *sqlparser.InsertStatement
	Params    []interface{}
}

// Plan is the executable form of one statement.
type Plan struct {
	Table     string
	Statement sqlparser.Statement
	Params    []interface{}
	QueryType types.QueryType
	Strategy  MergeStrategy

	// Targets is the shard set, in shard order. Empty with ZeroTargets set
	// means an index lookup proved no shard can match.
	Targets     []ShardTarget
	ZeroTargets bool

	// InsertsByShard carries per-shard INSERT statements; rows of a
	// multi-row VALUES list may hash to different shards.
	InsertsByShard []ShardInsert

	// AppendShardParam marks a resharding rewrite whose trailing
	// `_virtualShard = ?` parameter is the target's own shard id.
	AppendShardParam bool

	// UsedIndex names the virtual index consulted, for observability.
	UsedIndex string
}

// Planner turns parsed statements into plans against a topology snapshot.
// The snapshot may come from a cache; every decision that would be unsafe
// under staleness re-reads topology in the conductor instead.
type Planner struct{}

// NewPlanner creates a planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// PlanDML plans SELECT, INSERT, UPDATE, and DELETE statements. DDL and
// PRAGMA are orchestrated by the conductor directly because they mutate
// topology.
func (p *Planner) PlanDML(stmt sqlparser.Statement, params []interface{}, snap *topology.Snapshot) (*Plan, error) {
	switch s := stmt.(type) {
	case *sqlparser.SelectStatement:
		return p.planSelect(s, params, snap)
	case *sqlparser.InsertStatement:
		return p.planInsert(s, params, snap)
	case *sqlparser.UpdateStatement:
		return p.planWrite(s, s.Table, s.Where, params, snap, types.QueryUpdate)
	case *sqlparser.DeleteStatement:
		return p.planWrite(s, s.Table, s.Where, params, snap, types.QueryDelete)
	default:
		return nil, cerr.NewPlanError(cerr.CodeUnsupportedPlanShape, fmt.Sprintf("cannot plan %T", stmt))
	}
}

// planSelect plans a SELECT: shard-key equality first, then a ready index,
// then all shards.
func (p *Planner) planSelect(stmt *sqlparser.SelectStatement, params []interface{}, snap *topology.Snapshot) (*Plan, error) {
	if stmt.From == nil {
		return nil, cerr.NewPlanError(cerr.CodeUnsupportedPlanShape, "SELECT without FROM cannot be routed")
	}
	table, ok := snap.Table(stmt.From.Name)
	if !ok {
		return nil, cerr.NewSchemaError(cerr.CodeTableNotFound, fmt.Sprintf("table %s does not exist", stmt.From.Name))
	}

	plan := &Plan{
		Table:     table.Name,
		Statement: stmt,
		Params:    params,
		QueryType: types.QuerySelect,
		Strategy:  selectStrategy(stmt),
	}

	if err := p.routeByWhere(plan, stmt.Where, table, params, snap); err != nil {
		return nil, err
	}
	if table.Resharding {
		// Copy before rewriting: the parsed AST may be shared via the plan
		// cache and must stay pristine.
		rewritten := *stmt
		rewritten.Where = conjoinShardFilter(stmt.Where, len(params))
		plan.Statement = &rewritten
		plan.AppendShardParam = true
	}
	return plan, nil
}

// planWrite plans UPDATE and DELETE, which route exactly like SELECT.
func (p *Planner) planWrite(stmt sqlparser.Statement, tableName string, where sqlparser.Expression, params []interface{}, snap *topology.Snapshot, qt types.QueryType) (*Plan, error) {
	table, ok := snap.Table(tableName)
	if !ok {
		return nil, cerr.NewSchemaError(cerr.CodeTableNotFound, fmt.Sprintf("table %s does not exist", tableName))
	}

	plan := &Plan{
		Table:     table.Name,
		Statement: stmt,
		Params:    params,
		QueryType: qt,
		Strategy:  MergeAffected,
	}

	if err := p.routeByWhere(plan, where, table, params, snap); err != nil {
		return nil, err
	}
	if table.Resharding {
		switch s := stmt.(type) {
		case *sqlparser.UpdateStatement:
			rewritten := *s
			rewritten.Where = conjoinShardFilter(where, len(params))
			plan.Statement = &rewritten
		case *sqlparser.DeleteStatement:
			rewritten := *s
			rewritten.Where = conjoinShardFilter(where, len(params))
			plan.Statement = &rewritten
		}
		plan.AppendShardParam = true
	}
	return plan, nil
}

// routeByWhere fills plan.Targets using the rule order: shard-key equality,
// ready-index equality, all shards.
func (p *Planner) routeByWhere(plan *Plan, where sqlparser.Expression, table topology.TableMeta, params []interface{}, snap *topology.Snapshot) error {
	shards := snap.ShardsOf(table.Name)

	eqs, clean := ExtractEqualities(where, params)
	if clean {
		// Rule: shard_key = <value> at the top level routes to one shard.
		if val, ok := eqs[table.ShardKey]; ok && val != nil {
			shardID, err := routing.ShardFor(val, table.NumShards)
			if err != nil {
				return cerr.NewPlanError(cerr.CodeUnsupportedPlanShape, err.Error())
			}
			target, err := targetFor(shards, shardID)
			if err != nil {
				return err
			}
			plan.Targets = []ShardTarget{target}
			return nil
		}

		// Rule: a ready index whose columns are all bound by equalities.
		for _, idx := range snap.ReadyIndexesOn(table.Name) {
			vals := make([]interface{}, 0, len(idx.Columns))
			bound := true
			for _, col := range idx.Columns {
				v, ok := eqs[col]
				if !ok {
					bound = false
					break
				}
				vals = append(vals, v)
			}
			if !bound {
				continue
			}
			key, ok := types.CanonicalKey(vals)
			if !ok {
				// Equality against NULL never matches an index entry;
				// let the shards evaluate it.
				continue
			}

			shardIDs := lookupEntry(snap, idx.Name, key)
			plan.UsedIndex = idx.Name
			if len(shardIDs) == 0 {
				plan.Targets = nil
				plan.ZeroTargets = true
				return nil
			}
			targets := make([]ShardTarget, 0, len(shardIDs))
			for _, id := range shardIDs {
				target, err := targetFor(shards, id)
				if err != nil {
					return err
				}
				targets = append(targets, target)
			}
			plan.Targets = targets
			return nil
		}
	}

	// Fallback: every shard of the table.
	plan.Targets = allTargets(shards)
	return nil
}

// planInsert routes each VALUES row by the hashed shard key and groups the
// rows per shard.
func (p *Planner) planInsert(stmt *sqlparser.InsertStatement, params []interface{}, snap *topology.Snapshot) (*Plan, error) {
	table, ok := snap.Table(stmt.Table)
	if !ok {
		return nil, cerr.NewSchemaError(cerr.CodeTableNotFound, fmt.Sprintf("table %s does not exist", stmt.Table))
	}

	keyIdx := -1
	for i, col := range stmt.Columns {
		if col == table.ShardKey {
			keyIdx = i
			break
		}
	}
	if keyIdx < 0 {
		return nil, cerr.NewSchemaError(cerr.CodeMissingShardKey,
			fmt.Sprintf("INSERT into %s must include the shard key column %s", table.Name, table.ShardKey))
	}

	shards := snap.ShardsOf(table.Name)
	plan := &Plan{
		Table:     table.Name,
		Statement: stmt,
		Params:    params,
		QueryType: types.QueryInsert,
		Strategy:  MergeAffected,
	}

	rowsByShard := make(map[int][][]sqlparser.Expression)
	var shardOrder []int
	for _, row := range stmt.Rows {
		if keyIdx >= len(row) {
			return nil, cerr.NewSchemaError(cerr.CodeMissingShardKey, "VALUES row is shorter than the column list")
		}
		val, err := resolveValue(row[keyIdx], params)
		if err != nil {
			return nil, err
		}
		shardID, err := routing.ShardFor(val, table.NumShards)
		if err != nil {
			return nil, cerr.NewPlanError(cerr.CodeUnsupportedPlanShape, err.Error())
		}
		if _, seen := rowsByShard[shardID]; !seen {
			shardOrder = append(shardOrder, shardID)
		}
		rowsByShard[shardID] = append(rowsByShard[shardID], row)
	}

	nextParam := len(params)
	for _, shardID := range shardOrder {
		target, err := targetFor(shards, shardID)
		if err != nil {
			return nil, err
		}

		rows := rowsByShard[shardID]
		perShard := &sqlparser.InsertStatement{
			Table:   stmt.Table,
			Columns: append([]string(nil), stmt.Columns...),
			Rows:    rows,
		}

		if table.Resharding {
			// Physical rows written mid-move carry their logical shard so
			// they cannot leak across shards. Existing placeholder indices
			// are preserved; the new parameter appends.
			perShard.Columns = append(perShard.Columns, virtualShardColumn)
			taggedRows := make([][]sqlparser.Expression, len(rows))
			for i, row := range rows {
				tagged := append(append([]sqlparser.Expression(nil), row...), &sqlparser.Placeholder{Index: nextParam})
				nextParam++
				taggedRows[i] = tagged
			}
			perShard.Rows = taggedRows
		}

		shardParams := collectParams(perShard, params, shardID)
		plan.InsertsByShard = append(plan.InsertsByShard, ShardInsert{
			Target:    target,
			Statement: perShard,
			Params:    shardParams,
		})
		plan.Targets = append(plan.Targets, target)
	}

	return plan, nil
}

// conjoinShardFilter adds `AND _virtualShard = ?` (or a bare WHERE) for
// statements against a resharding table. The new placeholder takes the next
// parameter index; the executor appends the target shard's own id.
func conjoinShardFilter(where sqlparser.Expression, nextIndex int) sqlparser.Expression {
	filter := &sqlparser.BinaryExpr{
		Left:     &sqlparser.ColumnRef{Column: virtualShardColumn},
		Operator: "=",
		Right:    &sqlparser.Placeholder{Index: nextIndex},
	}
	if where == nil {
		return filter
	}
	return &sqlparser.BinaryExpr{Left: where, Operator: "AND", Right: filter}
}

// collectParams builds the positional parameter vector for one shard's
// INSERT by walking its rows in print order.
func collectParams(stmt *sqlparser.InsertStatement, params []interface{}, shardID int) []interface{} {
	var out []interface{}
	for _, row := range stmt.Rows {
		for _, expr := range row {
			ph, ok := expr.(*sqlparser.Placeholder)
			if !ok {
				continue
			}
			if ph.Index < len(params) {
				out = append(out, params[ph.Index])
			} else {
				// Appended resharding placeholder: the logical shard id.
				out = append(out, shardID)
			}
		}
	}
	return out
}

// resolveValue extracts a routing value from a literal or placeholder.
func resolveValue(expr sqlparser.Expression, params []interface{}) (interface{}, error) {
	switch e := expr.(type) {
	case *sqlparser.Literal:
		return e.Value, nil
	case *sqlparser.Placeholder:
		if e.Index >= len(params) {
			return nil, cerr.NewPlanError(cerr.CodeUnsupportedPlanShape,
				fmt.Sprintf("placeholder %d has no bound parameter", e.Index))
		}
		return params[e.Index], nil
	default:
		return nil, cerr.NewPlanError(cerr.CodeUnsupportedPlanShape,
			fmt.Sprintf("shard key must be a literal or placeholder, got %T", expr))
	}
}

// selectStrategy picks the merge strategy for a SELECT.
func selectStrategy(stmt *sqlparser.SelectStatement) MergeStrategy {
	hasAgg := false
	projected := make(map[string]bool)
	for _, col := range stmt.Columns {
		if _, ok := col.Expr.(*sqlparser.AggregateExpr); ok {
			hasAgg = true
		}
		projected[col.Expr.String()] = true
		if col.Alias != "" {
			projected[col.Alias] = true
		}
	}

	if len(stmt.GroupBy) > 0 {
		// Groups merge safely only when every GROUP BY column is visible in
		// the shard results; otherwise the union passes through untouched.
		for _, g := range stmt.GroupBy {
			if !projected[g.String()] {
				return MergePassthrough
			}
		}
		return MergeGroupBy
	}
	if hasAgg {
		return MergeAggregate
	}
	return MergeRows
}

// lookupEntry finds an index entry in the snapshot.
func lookupEntry(snap *topology.Snapshot, indexName, key string) []int {
	for _, e := range snap.IndexEntries[indexName] {
		if e.KeyValue == key {
			return e.ShardIDs
		}
	}
	return nil
}

// targetFor resolves a logical shard id in the shard map.
func targetFor(shards []topology.TableShard, shardID int) (ShardTarget, error) {
	for _, s := range shards {
		if s.ShardID == shardID {
			return ShardTarget{ShardID: s.ShardID, NodeID: s.NodeID}, nil
		}
	}
	return ShardTarget{}, cerr.NewTopologyError(cerr.CodeNotCreated,
		fmt.Sprintf("shard %d has no table_shards row", shardID))
}

// allTargets converts the whole shard map to targets.
func allTargets(shards []topology.TableShard) []ShardTarget {
	out := make([]ShardTarget, len(shards))
	for i, s := range shards {
		out[i] = ShardTarget{ShardID: s.ShardID, NodeID: s.NodeID}
	}
	return out
}
