package conductor

import (
	"testing"

	"github.com/stretchr/testify/require"

	cerr "github.com/Ankcorn/big-daddy/internal/errors"
	"github.com/Ankcorn/big-daddy/internal/routing"
	"github.com/Ankcorn/big-daddy/internal/sqlparser"
	"github.com/Ankcorn/big-daddy/internal/topology"
	"github.com/Ankcorn/big-daddy/pkg/types"
)

// fakeSnapshot builds an in-memory snapshot without a catalog database.
func fakeSnapshot(numShards int, resharding bool, indexes ...topology.VirtualIndex) *topology.Snapshot {
	snap := &topology.Snapshot{
		Version:      1,
		Tables:       make(map[string]topology.TableMeta),
		TableShards:  make(map[string][]topology.TableShard),
		Indexes:      make(map[string]topology.VirtualIndex),
		IndexEntries: make(map[string][]topology.VirtualIndexEntry),
	}
	snap.Tables["users"] = topology.TableMeta{
		Name: "users", PKColumn: "id", PKType: "INTEGER", ShardKey: "id",
		NumShards: numShards, HashVersion: routing.HashVersion, Resharding: resharding,
	}
	for i := 0; i < numShards; i++ {
		snap.TableShards["users"] = append(snap.TableShards["users"], topology.TableShard{
			TableName: "users", ShardID: i, NodeID: "node-0",
		})
	}
	for _, idx := range indexes {
		snap.Indexes[idx.Name] = idx
	}
	return snap
}

func mustParse(t *testing.T, sql string) sqlparser.Statement {
	t.Helper()
	stmt, err := sqlparser.Parse(sql)
	require.NoError(t, err)
	return stmt
}

func TestPlanShardKeyEquality(t *testing.T) {
	snap := fakeSnapshot(4, false)
	p := NewPlanner()

	stmt := mustParse(t, "SELECT * FROM users WHERE id = 100")
	plan, err := p.PlanDML(stmt, nil, snap)
	require.NoError(t, err)
	require.Len(t, plan.Targets, 1)

	expected, _ := routing.ShardFor(int64(100), 4)
	require.Equal(t, expected, plan.Targets[0].ShardID)
}

func TestPlanShardKeyThroughPlaceholder(t *testing.T) {
	// The shard key binds through the second placeholder, index 1.
	snap := fakeSnapshot(4, false)
	p := NewPlanner()

	stmt := mustParse(t, "SELECT * FROM users WHERE age > ? AND id = ?")
	plan, err := p.PlanDML(stmt, []interface{}{int64(20), int64(100)}, snap)
	require.NoError(t, err)
	require.Len(t, plan.Targets, 1)

	expected, _ := routing.ShardFor(int64(100), 4)
	require.Equal(t, expected, plan.Targets[0].ShardID)
}

func TestPlanEqualityOnEitherSide(t *testing.T) {
	snap := fakeSnapshot(4, false)
	p := NewPlanner()

	stmt := mustParse(t, "SELECT * FROM users WHERE 100 = id")
	plan, err := p.PlanDML(stmt, nil, snap)
	require.NoError(t, err)
	require.Len(t, plan.Targets, 1)
}

func TestPlanOrDisablesRouting(t *testing.T) {
	snap := fakeSnapshot(4, false)
	p := NewPlanner()

	stmt := mustParse(t, "SELECT * FROM users WHERE id = 100 OR age > 21")
	plan, err := p.PlanDML(stmt, nil, snap)
	require.NoError(t, err)
	require.Len(t, plan.Targets, 4, "OR at the top level must fan out to all shards")
}

func TestPlanReadyIndexLookup(t *testing.T) {
	idx := topology.VirtualIndex{
		Name: "idx_email", Table: "users", Columns: []string{"email"},
		Type: topology.IndexTypeHash, Status: topology.IndexReady,
	}
	snap := fakeSnapshot(4, false, idx)
	snap.IndexEntries["idx_email"] = []topology.VirtualIndexEntry{
		{IndexName: "idx_email", KeyValue: "alice@x", ShardIDs: []int{2}},
	}
	p := NewPlanner()

	stmt := mustParse(t, "SELECT * FROM users WHERE email = 'alice@x'")
	plan, err := p.PlanDML(stmt, nil, snap)
	require.NoError(t, err)
	require.Equal(t, "idx_email", plan.UsedIndex)
	require.Len(t, plan.Targets, 1)
	require.Equal(t, 2, plan.Targets[0].ShardID)
}

func TestPlanIndexMissEmitsZeroTargets(t *testing.T) {
	idx := topology.VirtualIndex{
		Name: "idx_email", Table: "users", Columns: []string{"email"},
		Type: topology.IndexTypeHash, Status: topology.IndexReady,
	}
	snap := fakeSnapshot(4, false, idx)
	p := NewPlanner()

	stmt := mustParse(t, "SELECT * FROM users WHERE email = 'nobody@x'")
	plan, err := p.PlanDML(stmt, nil, snap)
	require.NoError(t, err)
	require.True(t, plan.ZeroTargets)
	require.Empty(t, plan.Targets)
}

func TestPlanBuildingIndexIgnored(t *testing.T) {
	idx := topology.VirtualIndex{
		Name: "idx_email", Table: "users", Columns: []string{"email"},
		Type: topology.IndexTypeHash, Status: topology.IndexBuilding,
	}
	snap := fakeSnapshot(4, false, idx)
	p := NewPlanner()

	stmt := mustParse(t, "SELECT * FROM users WHERE email = 'alice@x'")
	plan, err := p.PlanDML(stmt, nil, snap)
	require.NoError(t, err)
	require.Empty(t, plan.UsedIndex)
	require.Len(t, plan.Targets, 4, "an index that is not ready must not be consulted")
}

func TestPlanInsertRequiresShardKey(t *testing.T) {
	snap := fakeSnapshot(4, false)
	p := NewPlanner()

	stmt := mustParse(t, "INSERT INTO users (email) VALUES ('a@x')")
	_, err := p.PlanDML(stmt, nil, snap)
	require.Equal(t, cerr.CodeMissingShardKey, cerr.GetCode(err))
}

func TestPlanInsertGroupsRowsByShard(t *testing.T) {
	snap := fakeSnapshot(2, false)
	p := NewPlanner()

	// Fold16("1") = 49 → shard 1; Fold16("2") = 50 → shard 0.
	stmt := mustParse(t, "INSERT INTO users (id, email) VALUES (1, 'a@x'), (2, 'b@x')")
	plan, err := p.PlanDML(stmt, nil, snap)
	require.NoError(t, err)
	require.Len(t, plan.InsertsByShard, 2)

	total := 0
	for _, ins := range plan.InsertsByShard {
		total += len(ins.Statement.Rows)
		require.Len(t, ins.Statement.Rows, 1)
	}
	require.Equal(t, 2, total)
}

func TestPlanInsertReshardingInjectsVirtualShard(t *testing.T) {
	snap := fakeSnapshot(2, true)
	p := NewPlanner()

	stmt := mustParse(t, "INSERT INTO users (id, email) VALUES (?, ?)")
	plan, err := p.PlanDML(stmt, []interface{}{int64(1), "a@x"}, snap)
	require.NoError(t, err)
	require.Len(t, plan.InsertsByShard, 1)

	ins := plan.InsertsByShard[0]
	require.Equal(t, []string{"id", "email", "_virtualShard"}, ins.Statement.Columns)
	require.Len(t, ins.Statement.Rows[0], 3)

	// Existing placeholders keep their indices; the shard id parameter
	// appends at the end.
	require.Equal(t, []interface{}{int64(1), "a@x", ins.Target.ShardID}, ins.Params)

	// The original AST is untouched.
	orig := stmt.(*sqlparser.InsertStatement)
	require.Equal(t, []string{"id", "email"}, orig.Columns)
	require.Len(t, orig.Rows[0], 2)
}

func TestPlanSelectReshardingAppendsFilter(t *testing.T) {
	snap := fakeSnapshot(2, true)
	p := NewPlanner()

	stmt := mustParse(t, "SELECT * FROM users WHERE id = ?")
	plan, err := p.PlanDML(stmt, []interface{}{int64(7)}, snap)
	require.NoError(t, err)
	require.True(t, plan.AppendShardParam)

	rewritten := plan.Statement.(*sqlparser.SelectStatement)
	require.Contains(t, rewritten.Where.String(), "_virtualShard = ?")

	// The cached original must keep its WHERE clause unmodified.
	orig := stmt.(*sqlparser.SelectStatement)
	require.NotContains(t, orig.Where.String(), "_virtualShard")
}

func TestPlanUnknownTable(t *testing.T) {
	snap := fakeSnapshot(1, false)
	p := NewPlanner()

	stmt := mustParse(t, "SELECT * FROM missing")
	_, err := p.PlanDML(stmt, nil, snap)
	require.Equal(t, cerr.CodeTableNotFound, cerr.GetCode(err))
}

func TestSelectStrategy(t *testing.T) {
	tests := []struct {
		sql      string
		expected MergeStrategy
	}{
		{"SELECT * FROM users", MergeRows},
		{"SELECT COUNT(*) FROM users", MergeAggregate},
		{"SELECT city, COUNT(*) FROM users GROUP BY city", MergeGroupBy},
		{"SELECT COUNT(*) FROM users GROUP BY city", MergePassthrough},
	}
	for _, tt := range tests {
		stmt := mustParse(t, tt.sql).(*sqlparser.SelectStatement)
		require.Equal(t, tt.expected, selectStrategy(stmt), tt.sql)
	}
}

func TestPlanQueryTypes(t *testing.T) {
	snap := fakeSnapshot(1, false)
	p := NewPlanner()

	tests := []struct {
		sql      string
		expected types.QueryType
	}{
		{"SELECT * FROM users", types.QuerySelect},
		{"INSERT INTO users (id) VALUES (1)", types.QueryInsert},
		{"UPDATE users SET email = 'x' WHERE id = 1", types.QueryUpdate},
		{"DELETE FROM users WHERE id = 1", types.QueryDelete},
	}
	for _, tt := range tests {
		plan, err := p.PlanDML(mustParse(t, tt.sql), nil, snap)
		require.NoError(t, err, tt.sql)
		require.Equal(t, tt.expected, plan.QueryType, tt.sql)
	}
}
