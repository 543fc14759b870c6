package shard

import (
	"context"
	"testing"

	"github.com/Ankcorn/big-daddy/pkg/types"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	n, err := NewNode("node-0", t.TempDir())
	if err != nil {
		t.Fatalf("failed to create node: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n
}

func TestExecuteQueryRoundTrip(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	_, err := n.ExecuteQuery(ctx, "users", 0, Request{
		Query: "CREATE TABLE users (_virtualShard INTEGER NOT NULL DEFAULT 0, id INTEGER, email TEXT, PRIMARY KEY (_virtualShard, id))",
		Type:  types.QueryDDL,
	})
	if err != nil {
		t.Fatalf("create table failed: %v", err)
	}

	res, err := n.ExecuteQuery(ctx, "users", 0, Request{
		Query:  "INSERT INTO users (_virtualShard, id, email) VALUES (?, ?, ?)",
		Params: []interface{}{0, 1, "alice@x"},
		Type:   types.QueryInsert,
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if res.RowsAffected != 1 {
		t.Errorf("expected 1 row affected, got %d", res.RowsAffected)
	}

	res, err = n.ExecuteQuery(ctx, "users", 0, Request{
		Query:  "SELECT id, email FROM users WHERE id = ?",
		Params: []interface{}{1},
		Type:   types.QuerySelect,
	})
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Rows))
	}
	if res.Rows[0][1] != "alice@x" {
		t.Errorf("TEXT values should come back as strings, got %T %v", res.Rows[0][1], res.Rows[0][1])
	}
}

func TestShardsAreIsolated(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	for shard := 0; shard < 2; shard++ {
		if _, err := n.ExecuteQuery(ctx, "t", shard, Request{
			Query: "CREATE TABLE t (_virtualShard INTEGER NOT NULL DEFAULT 0, id INTEGER, PRIMARY KEY (_virtualShard, id))",
			Type:  types.QueryDDL,
		}); err != nil {
			t.Fatalf("create on shard %d failed: %v", shard, err)
		}
	}
	if _, err := n.ExecuteQuery(ctx, "t", 0, Request{
		Query: "INSERT INTO t (id) VALUES (1)", Type: types.QueryInsert,
	}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	res, err := n.ExecuteQuery(ctx, "t", 1, Request{Query: "SELECT * FROM t", Type: types.QuerySelect})
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if len(res.Rows) != 0 {
		t.Errorf("shard 1 should be empty, got %d rows", len(res.Rows))
	}
}

func TestExecuteBatchIsAtomicAndOrdered(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	if _, err := n.ExecuteQuery(ctx, "t", 0, Request{
		Query: "CREATE TABLE t (_virtualShard INTEGER NOT NULL DEFAULT 0, id INTEGER, v TEXT, PRIMARY KEY (_virtualShard, id))",
		Type:  types.QueryDDL,
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := n.ExecuteQuery(ctx, "t", 0, Request{
		Query: "INSERT INTO t (id, v) VALUES (1, 'old')", Type: types.QueryInsert,
	}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// Capture pair: select-before, update, select-after, in one transaction.
	results, err := n.ExecuteBatch(ctx, "t", 0, []Request{
		{Query: "SELECT v FROM t WHERE id = ?", Params: []interface{}{1}, Type: types.QuerySelect},
		{Query: "UPDATE t SET v = ? WHERE id = ?", Params: []interface{}{"new", 1}, Type: types.QueryUpdate},
		{Query: "SELECT v FROM t WHERE id = ?", Params: []interface{}{1}, Type: types.QuerySelect},
	})
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Rows[0][0] != "old" {
		t.Errorf("pre-image should be old, got %v", results[0].Rows[0][0])
	}
	if results[1].RowsAffected != 1 {
		t.Errorf("update should affect 1 row, got %d", results[1].RowsAffected)
	}
	if results[2].Rows[0][0] != "new" {
		t.Errorf("post-image should be new, got %v", results[2].Rows[0][0])
	}

	// A failing statement rolls back the whole batch.
	_, err = n.ExecuteBatch(ctx, "t", 0, []Request{
		{Query: "UPDATE t SET v = 'half' WHERE id = 1", Type: types.QueryUpdate},
		{Query: "UPDATE nonexistent SET v = 'x'", Type: types.QueryUpdate},
	})
	if err == nil {
		t.Fatal("batch with bad statement should fail")
	}
	res, _ := n.ExecuteQuery(ctx, "t", 0, Request{Query: "SELECT v FROM t WHERE id = 1", Type: types.QuerySelect})
	if res.Rows[0][0] != "new" {
		t.Errorf("failed batch must roll back, got %v", res.Rows[0][0])
	}
}

func TestRegistryResolvesNodes(t *testing.T) {
	registry, err := NewLocalCluster(t.TempDir(), 3)
	if err != nil {
		t.Fatalf("failed to create cluster: %v", err)
	}
	t.Cleanup(func() { registry.Close() })

	for _, id := range []string{"node-0", "node-1", "node-2"} {
		if _, err := registry.Get(id); err != nil {
			t.Errorf("node %s should resolve: %v", id, err)
		}
	}
	if _, err := registry.Get("node-9"); err == nil {
		t.Error("unknown node should fail")
	}
}
