package conductor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Ankcorn/big-daddy/internal/maintenance"
	"github.com/Ankcorn/big-daddy/internal/shard"
	"github.com/Ankcorn/big-daddy/internal/sqlparser"
	"github.com/Ankcorn/big-daddy/internal/topology"
	"github.com/Ankcorn/big-daddy/pkg/types"
)

// captureSpec describes the indexed-column capture attached to a write.
type captureSpec struct {
	indexes []topology.VirtualIndex
	columns []string       // deduplicated union of indexed columns
	colPos  map[string]int // column → position in the capture row
}

// newCaptureSpec builds the capture column set for a table's indexes.
// Returns nil when the table has no indexes: writes then skip capture
// entirely and no batch is needed.
func newCaptureSpec(indexes []topology.VirtualIndex) *captureSpec {
	if len(indexes) == 0 {
		return nil
	}
	spec := &captureSpec{indexes: indexes, colPos: make(map[string]int)}
	for _, idx := range indexes {
		for _, col := range idx.Columns {
			if _, seen := spec.colPos[col]; !seen {
				spec.colPos[col] = len(spec.columns)
				spec.columns = append(spec.columns, col)
			}
		}
	}
	return spec
}

// captureQuery builds the SELECT that snapshots indexed columns for the
// rows a write touches. It reuses the write's own WHERE clause, so the
// same parameter values apply.
func (c *captureSpec) captureQuery(table string, where sqlparser.Expression) string {
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(c.columns, ", "), table)
	if where != nil {
		q += " WHERE " + where.String()
	}
	return q
}

// keysOf extracts each index's canonical key from one captured row.
// A NULL anywhere in an index's tuple yields no key for that index.
func (c *captureSpec) keysOf(row []interface{}) map[string]string {
	keys := make(map[string]string, len(c.indexes))
	for _, idx := range c.indexes {
		vals := make([]interface{}, 0, len(idx.Columns))
		for _, col := range idx.Columns {
			pos := c.colPos[col]
			if pos >= len(row) {
				vals = nil
				break
			}
			vals = append(vals, row[pos])
		}
		if vals == nil {
			continue
		}
		if key, ok := types.CanonicalKey(vals); ok {
			keys[idx.Name] = key
		}
	}
	return keys
}

// keySetsOf collects, per index, the set of keys present in a capture
// result.
func (c *captureSpec) keySetsOf(res *shard.Result) map[string]map[string]bool {
	sets := make(map[string]map[string]bool, len(c.indexes))
	for _, idx := range c.indexes {
		sets[idx.Name] = make(map[string]bool)
	}
	if res == nil {
		return sets
	}
	for _, row := range res.Rows {
		for indexName, key := range c.keysOf(row) {
			sets[indexName][key] = true
		}
	}
	return sets
}

// whereParams resolves the positional parameters of a printed WHERE clause:
// source placeholders bind their original values, the appended resharding
// placeholder binds the target shard id.
func whereParams(where sqlparser.Expression, params []interface{}, shardID int) []interface{} {
	var out []interface{}
	walkPlaceholders(where, func(ph *sqlparser.Placeholder) {
		if ph.Index < len(params) {
			out = append(out, params[ph.Index])
		} else {
			out = append(out, shardID)
		}
	})
	return out
}

// walkPlaceholders visits placeholders in print order.
func walkPlaceholders(expr sqlparser.Expression, visit func(*sqlparser.Placeholder)) {
	switch e := expr.(type) {
	case *sqlparser.Placeholder:
		visit(e)
	case *sqlparser.BinaryExpr:
		walkPlaceholders(e.Left, visit)
		walkPlaceholders(e.Right, visit)
	case *sqlparser.UnaryExpr:
		walkPlaceholders(e.Operand, visit)
	case *sqlparser.InExpr:
		walkPlaceholders(e.Expr, visit)
		for _, v := range e.Values {
			walkPlaceholders(v, visit)
		}
	case *sqlparser.BetweenExpr:
		walkPlaceholders(e.Expr, visit)
		walkPlaceholders(e.Low, visit)
		walkPlaceholders(e.High, visit)
	case *sqlparser.IsNullExpr:
		walkPlaceholders(e.Expr, visit)
	case *sqlparser.LikeExpr:
		walkPlaceholders(e.Expr, visit)
		walkPlaceholders(e.Pattern, visit)
	case *sqlparser.FunctionCall:
		for _, a := range e.Args {
			walkPlaceholders(a, visit)
		}
	case *sqlparser.AggregateExpr:
		if e.Arg != nil {
			walkPlaceholders(e.Arg, visit)
		}
	case *sqlparser.CaseExpr:
		if e.Operand != nil {
			walkPlaceholders(e.Operand, visit)
		}
		for _, w := range e.Whens {
			walkPlaceholders(w.When, visit)
			walkPlaceholders(w.Then, visit)
		}
		if e.Else != nil {
			walkPlaceholders(e.Else, visit)
		}
	}
}

// updateEvents computes the maintenance events for an UPDATE from the
// per-shard pre/post captures. Deltas deduplicate globally: a remove is
// emitted only when no captured shard still holds the key afterwards, and
// an add only when no captured shard held it before. This keeps shared keys
// from flapping when several rows carry the same value.
func (c *captureSpec) updateEvents(outcomes []shardOutcome) []maintenance.Event {
	type shardDelta struct {
		shardID int
		removed map[string]map[string]bool // index → keys
		added   map[string]map[string]bool
	}

	allOld := make(map[string]map[string]bool) // index → keys seen before, any shard
	allNew := make(map[string]map[string]bool)
	for _, idx := range c.indexes {
		allOld[idx.Name] = make(map[string]bool)
		allNew[idx.Name] = make(map[string]bool)
	}

	var deltas []shardDelta
	for _, o := range outcomes {
		if o.err != nil || len(o.results) < 3 {
			continue
		}
		oldSets := c.keySetsOf(o.results[0])
		newSets := c.keySetsOf(o.results[2])

		d := shardDelta{
			shardID: o.target.ShardID,
			removed: make(map[string]map[string]bool),
			added:   make(map[string]map[string]bool),
		}
		for _, idx := range c.indexes {
			d.removed[idx.Name] = diff(oldSets[idx.Name], newSets[idx.Name])
			d.added[idx.Name] = diff(newSets[idx.Name], oldSets[idx.Name])
			union(allOld[idx.Name], oldSets[idx.Name])
			union(allNew[idx.Name], newSets[idx.Name])
		}
		deltas = append(deltas, d)
	}

	var events []maintenance.Event
	for _, d := range deltas {
		for _, idx := range c.indexes {
			for key := range d.removed[idx.Name] {
				if allNew[idx.Name][key] {
					continue
				}
				events = append(events, maintenance.Event{
					IndexName: idx.Name, KeyValue: key, ShardID: d.shardID, Operation: topology.DeltaRemove,
				})
			}
			for key := range d.added[idx.Name] {
				if allOld[idx.Name][key] {
					continue
				}
				events = append(events, maintenance.Event{
					IndexName: idx.Name, KeyValue: key, ShardID: d.shardID, Operation: topology.DeltaAdd,
				})
			}
		}
	}
	return events
}

// deleteEvents turns the per-shard pre-images of a DELETE into remove
// events, deduplicated per (index, key, shard).
func (c *captureSpec) deleteEvents(outcomes []shardOutcome) []maintenance.Event {
	var events []maintenance.Event
	for _, o := range outcomes {
		if o.err != nil || len(o.results) < 2 {
			continue
		}
		for indexName, keys := range c.keySetsOf(o.results[0]) {
			for key := range keys {
				events = append(events, maintenance.Event{
					IndexName: indexName, KeyValue: key, ShardID: o.target.ShardID, Operation: topology.DeltaRemove,
				})
			}
		}
	}
	return events
}

// insertEvents derives add events straight from the INSERT's AST: each row's
// indexed values are literals or parameter references.
func insertEvents(plan *Plan, indexes []topology.VirtualIndex) []maintenance.Event {
	var events []maintenance.Event
	for _, ins := range plan.InsertsByShard {
		colPos := make(map[string]int, len(ins.Statement.Columns))
		for i, col := range ins.Statement.Columns {
			colPos[col] = i
		}

		for _, row := range ins.Statement.Rows {
			for _, idx := range indexes {
				vals := make([]interface{}, 0, len(idx.Columns))
				resolved := true
				for _, col := range idx.Columns {
					pos, ok := colPos[col]
					if !ok || pos >= len(row) {
						resolved = false
						break
					}
					v, err := resolveValue(row[pos], plan.Params)
					if err != nil {
						resolved = false
						break
					}
					vals = append(vals, v)
				}
				if !resolved {
					continue
				}
				key, ok := types.CanonicalKey(vals)
				if !ok {
					continue
				}
				events = append(events, maintenance.Event{
					IndexName: idx.Name, KeyValue: key, ShardID: ins.Target.ShardID, Operation: topology.DeltaAdd,
				})
			}
		}
	}
	return dedupeEvents(events)
}

// dedupeEvents removes duplicate (index, key, shard, op) tuples.
func dedupeEvents(events []maintenance.Event) []maintenance.Event {
	seen := make(map[string]bool, len(events))
	out := events[:0]
	for _, ev := range events {
		k := fmt.Sprintf("%s|%s|%d|%s", ev.IndexName, ev.KeyValue, ev.ShardID, ev.Operation)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, ev)
	}
	return out
}

// emitEvents sends one maintain_index_events message. Emission is
// fire-and-forget: a failed enqueue is logged and never fails the write.
func (c *Conductor) emitEvents(ctx context.Context, table string, events []maintenance.Event, correlationID string) {
	if len(events) == 0 || c.queue == nil {
		return
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	msg := &maintenance.Message{
		Type:          maintenance.TypeMaintainIndex,
		DatabaseID:    c.databaseID,
		TableName:     table,
		Events:        events,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UnixMilli(),
	}
	if err := c.queue.Send(ctx, msg); err != nil {
		log.WithError(err).WithField("table", table).Warn("failed to enqueue index maintenance events")
	}
}

// diff returns a \ b.
func diff(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k := range a {
		if !b[k] {
			out[k] = true
		}
	}
	return out
}

// union adds every key of src to dst.
func union(dst, src map[string]bool) {
	for k := range src {
		dst[k] = true
	}
}
