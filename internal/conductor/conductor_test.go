package conductor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	cerr "github.com/Ankcorn/big-daddy/internal/errors"
	"github.com/Ankcorn/big-daddy/internal/maintenance"
	"github.com/Ankcorn/big-daddy/internal/shard"
	"github.com/Ankcorn/big-daddy/internal/topology"
)

// harness wires a full local stack: topology catalog, SQLite shard nodes,
// maintenance queue and consumer, and the conductor itself.
type harness struct {
	conductor *Conductor
	store     *topology.Store
	queue     *maintenance.Queue
	consumer  *maintenance.Consumer
}

func newHarness(t *testing.T, nodes, numShards int) *harness {
	t.Helper()
	dir := t.TempDir()

	store, err := topology.NewStore(filepath.Join(dir, "topology.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Create(context.Background(), nodes))

	registry, err := shard.NewLocalCluster(filepath.Join(dir, "nodes"), nodes)
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })

	queue := maintenance.NewQueue(256)
	builder := maintenance.NewBuilder(store, registry)
	consumer := maintenance.NewConsumer(queue, store, builder)

	cfg := DefaultConfig()
	cfg.DefaultNumShards = numShards
	c, err := New(cfg, store, registry, queue)
	require.NoError(t, err)

	return &harness{conductor: c, store: store, queue: queue, consumer: consumer}
}

// exec runs a statement and fails the test on error.
func (h *harness) exec(t *testing.T, sql string, params ...interface{}) {
	t.Helper()
	_, err := h.conductor.Query(context.Background(), sql, params, "")
	require.NoError(t, err, sql)
}

// drain flushes the maintenance queue synchronously.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	h.consumer.Drain(context.Background())
}

func (h *harness) snapshot(t *testing.T) *topology.Snapshot {
	t.Helper()
	snap, err := h.store.GetTopology(context.Background())
	require.NoError(t, err)
	return snap
}

// TestBuildIndexOnPopulatedTable is the build-then-ready path: three rows,
// one entry per distinct email, each on exactly one shard.
func TestBuildIndexOnPopulatedTable(t *testing.T) {
	h := newHarness(t, 3, 1)

	h.exec(t, "CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)")
	h.exec(t, "INSERT INTO users (id, email) VALUES (?, ?)", int64(1), "alice@")
	h.exec(t, "INSERT INTO users (id, email) VALUES (?, ?)", int64(2), "bob@")
	h.exec(t, "INSERT INTO users (id, email) VALUES (?, ?)", int64(3), "charlie@")
	h.exec(t, "CREATE INDEX idx_email ON users (email)")
	h.drain(t)

	snap := h.snapshot(t)
	idx, ok := snap.Indexes["idx_email"]
	require.True(t, ok)
	require.Equal(t, topology.IndexReady, idx.Status)
	require.Empty(t, idx.ErrorMessage)

	entries := snap.IndexEntries["idx_email"]
	require.Len(t, entries, 3)
	keys := make(map[string]bool)
	for _, e := range entries {
		keys[e.KeyValue] = true
		require.Len(t, e.ShardIDs, 1)
	}
	require.True(t, keys["alice@"] && keys["bob@"] && keys["charlie@"])
}

// TestBuildIndexSkipsNulls: NULL values never appear as index keys.
func TestBuildIndexSkipsNulls(t *testing.T) {
	h := newHarness(t, 3, 1)

	h.exec(t, "CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)")
	h.exec(t, "INSERT INTO users (id, email) VALUES (?, ?)", int64(1), "alice@")
	h.exec(t, "INSERT INTO users (id, email) VALUES (?, ?)", int64(2), "bob@")
	h.exec(t, "INSERT INTO users (id, email) VALUES (?, ?)", int64(3), nil)
	h.exec(t, "CREATE INDEX idx_email ON users (email)")
	h.drain(t)

	entries := h.snapshot(t).IndexEntries["idx_email"]
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.NotEqual(t, "null", e.KeyValue)
		require.NotEqual(t, "", e.KeyValue)
	}
}

// TestBuildIndexFailurePath: an index on a missing column fails the build
// and records the column in the error message.
func TestBuildIndexFailurePath(t *testing.T) {
	h := newHarness(t, 3, 1)

	h.exec(t, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)")
	h.exec(t, "CREATE INDEX idx_bad ON users (nonexistent_column)")
	h.drain(t)

	idx := h.snapshot(t).Indexes["idx_bad"]
	require.Equal(t, topology.IndexFailed, idx.Status)
	require.Contains(t, idx.ErrorMessage, "nonexistent_column")
}

// TestRoutingByPrimaryKey: a shard-key equality hits exactly one shard and
// the full scan sees every row.
func TestRoutingByPrimaryKey(t *testing.T) {
	h := newHarness(t, 2, 4)
	ctx := context.Background()

	h.exec(t, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, email TEXT)")
	h.exec(t, "INSERT INTO users (id, name, email) VALUES (?, ?, ?)", int64(100), "a", "a@x")
	h.exec(t, "INSERT INTO users (id, name, email) VALUES (?, ?, ?)", int64(200), "b", "b@x")

	res, err := h.conductor.Query(ctx, "SELECT * FROM users WHERE id = 100", nil, "")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.EqualValues(t, 100, res.Rows[0]["id"])
	require.Len(t, res.ShardStats, 1, "point lookup must touch exactly one shard")

	res, err = h.conductor.Query(ctx, "SELECT * FROM users", nil, "")
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	require.Len(t, res.ShardStats, 4, "full scan targets every shard")
}

// TestShardKeyThroughSecondPlaceholder: the shard key resolves from the
// placeholder at parameter index 1, not 0.
func TestShardKeyThroughSecondPlaceholder(t *testing.T) {
	h := newHarness(t, 2, 4)
	ctx := context.Background()

	h.exec(t, "CREATE TABLE users (id INTEGER PRIMARY KEY, age INTEGER)")
	h.exec(t, "INSERT INTO users (id, age) VALUES (?, ?)", int64(100), int64(30))
	h.exec(t, "INSERT INTO users (id, age) VALUES (?, ?)", int64(7), int64(50))

	res, err := h.conductor.Query(ctx,
		"SELECT * FROM users WHERE age > ? AND id = ?",
		[]interface{}{int64(20), int64(100)}, "")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.EqualValues(t, 100, res.Rows[0]["id"])
	require.Len(t, res.ShardStats, 1)
}

// TestUpdateMaintainsIndex: an UPDATE swaps the old key for the new one
// after the queue drains.
func TestUpdateMaintainsIndex(t *testing.T) {
	h := newHarness(t, 2, 1)
	ctx := context.Background()

	h.exec(t, "CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)")
	h.exec(t, "INSERT INTO users (id, email) VALUES (?, ?)", int64(1), "alice@")
	h.exec(t, "INSERT INTO users (id, email) VALUES (?, ?)", int64(2), "bob@")
	h.exec(t, "CREATE INDEX idx_email ON users (email)")
	h.drain(t)

	res, err := h.conductor.Query(ctx, "UPDATE users SET email = 'alice2@' WHERE id = 1", nil, "")
	require.NoError(t, err)
	require.EqualValues(t, 1, res.RowsAffected)
	h.drain(t)

	entries := h.snapshot(t).IndexEntries["idx_email"]
	keys := make(map[string][]int)
	for _, e := range entries {
		keys[e.KeyValue] = e.ShardIDs
	}
	require.NotContains(t, keys, "alice@")
	require.Contains(t, keys, "alice2@")
	require.Contains(t, keys, "bob@")
}

// TestUpdateGlobalDedup: a key shared across shards survives when only one
// shard's row moves off it.
func TestUpdateGlobalDedup(t *testing.T) {
	h := newHarness(t, 2, 2)
	ctx := context.Background()

	// Fold16("1")%2 = 1 and Fold16("2")%2 = 0: the rows land on different
	// shards by construction.
	h.exec(t, "CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)")
	h.exec(t, "INSERT INTO users (id, email) VALUES (?, ?)", int64(1), "shared")
	h.exec(t, "INSERT INTO users (id, email) VALUES (?, ?)", int64(2), "shared")
	h.exec(t, "CREATE INDEX idx_email ON users (email)")
	h.drain(t)

	entries := h.snapshot(t).IndexEntries["idx_email"]
	require.Len(t, entries, 1)
	require.Len(t, entries[0].ShardIDs, 2)

	_, err := h.conductor.Query(ctx, "UPDATE users SET email = 'new' WHERE id = 1", nil, "")
	require.NoError(t, err)
	h.drain(t)

	keys := make(map[string][]int)
	for _, e := range h.snapshot(t).IndexEntries["idx_email"] {
		keys[e.KeyValue] = e.ShardIDs
	}
	require.Contains(t, keys, "shared", "the other shard still holds the key")
	require.Contains(t, keys, "new")
	require.NotEqual(t, keys["shared"], keys["new"])
}

// TestDeleteMaintainsIndex: deleted rows drop their shard from the entry.
func TestDeleteMaintainsIndex(t *testing.T) {
	h := newHarness(t, 2, 1)
	ctx := context.Background()

	h.exec(t, "CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)")
	h.exec(t, "INSERT INTO users (id, email) VALUES (?, ?)", int64(1), "gone@")
	h.exec(t, "CREATE INDEX idx_email ON users (email)")
	h.drain(t)

	_, err := h.conductor.Query(ctx, "DELETE FROM users WHERE id = 1", nil, "")
	require.NoError(t, err)
	h.drain(t)

	require.Empty(t, h.snapshot(t).IndexEntries["idx_email"])
}

// TestIndexRoutingAfterBuild: a ready index narrows the fan-out, and a miss
// short-circuits without touching any shard.
func TestIndexRoutingAfterBuild(t *testing.T) {
	h := newHarness(t, 2, 4)
	ctx := context.Background()

	h.exec(t, "CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)")
	h.exec(t, "INSERT INTO users (id, email) VALUES (?, ?)", int64(1), "alice@")
	h.exec(t, "INSERT INTO users (id, email) VALUES (?, ?)", int64(2), "bob@")

	// Before the index is ready, the equality fans out to all shards.
	res, err := h.conductor.Query(ctx, "SELECT * FROM users WHERE email = 'alice@'", nil, "")
	require.NoError(t, err)
	require.Len(t, res.ShardStats, 4)

	h.exec(t, "CREATE INDEX idx_email ON users (email)")
	h.drain(t)

	res, err = h.conductor.Query(ctx, "SELECT * FROM users WHERE email = 'alice@'", nil, "")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.LessOrEqual(t, len(res.ShardStats), 4)
	require.Len(t, res.ShardStats, 1)

	// A value the index has never seen returns empty without any shard RPC.
	res, err = h.conductor.Query(ctx, "SELECT * FROM users WHERE email = 'nobody@'", nil, "")
	require.NoError(t, err)
	require.Empty(t, res.Rows)
	require.Empty(t, res.ShardStats)
}

// TestAggregateMerge: COUNT/SUM/MIN/MAX across shards equal their values
// over the union of rows.
func TestAggregateMerge(t *testing.T) {
	h := newHarness(t, 2, 4)
	ctx := context.Background()

	h.exec(t, "CREATE TABLE events (id INTEGER PRIMARY KEY, amount INTEGER)")
	amounts := []int64{5, 10, 15, 20, 25}
	for i, amount := range amounts {
		h.exec(t, "INSERT INTO events (id, amount) VALUES (?, ?)", int64(i+1), amount)
	}

	res, err := h.conductor.Query(ctx,
		"SELECT COUNT(*) AS n, SUM(amount) AS total, MIN(amount) AS lo, MAX(amount) AS hi FROM events", nil, "")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	row := res.Rows[0]
	require.EqualValues(t, 5, row["n"])
	require.EqualValues(t, 75, row["total"])
	require.EqualValues(t, 5, row["lo"])
	require.EqualValues(t, 25, row["hi"])
}

// TestGroupByMerge: groups combine across shards keyed by the projected
// GROUP BY column.
func TestGroupByMerge(t *testing.T) {
	h := newHarness(t, 2, 4)
	ctx := context.Background()

	h.exec(t, "CREATE TABLE events (id INTEGER PRIMARY KEY, city TEXT, amount INTEGER)")
	rows := []struct {
		id     int64
		city   string
		amount int64
	}{
		{1, "NYC", 10}, {2, "NYC", 20}, {3, "SF", 5}, {4, "SF", 7}, {5, "NYC", 30},
	}
	for _, r := range rows {
		h.exec(t, "INSERT INTO events (id, city, amount) VALUES (?, ?, ?)", r.id, r.city, r.amount)
	}

	res, err := h.conductor.Query(ctx,
		"SELECT city, COUNT(*) AS n, SUM(amount) AS total FROM events GROUP BY city", nil, "")
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)

	byCity := make(map[string]map[string]interface{})
	for _, row := range res.Rows {
		byCity[row["city"].(string)] = row
	}
	require.EqualValues(t, 3, byCity["NYC"]["n"])
	require.EqualValues(t, 60, byCity["NYC"]["total"])
	require.EqualValues(t, 2, byCity["SF"]["n"])
	require.EqualValues(t, 12, byCity["SF"]["total"])
}

// TestVirtualShardHidden: the hidden column never leaks unless projected.
func TestVirtualShardHidden(t *testing.T) {
	h := newHarness(t, 1, 1)
	ctx := context.Background()

	h.exec(t, "CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)")
	h.exec(t, "INSERT INTO users (id, email) VALUES (?, ?)", int64(1), "a@x")

	res, err := h.conductor.Query(ctx, "SELECT * FROM users", nil, "")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.NotContains(t, res.Rows[0], "_virtualShard")
	require.NotContains(t, res.Columns, "_virtualShard")

	res, err = h.conductor.Query(ctx, "SELECT _virtualShard, id FROM users", nil, "")
	require.NoError(t, err)
	require.Contains(t, res.Rows[0], "_virtualShard")
}

// TestInsertSelectRoundTripAcrossShards: every inserted row is readable by
// its primary key, whatever shard it hashed to.
func TestInsertSelectRoundTripAcrossShards(t *testing.T) {
	h := newHarness(t, 3, 8)
	ctx := context.Background()

	h.exec(t, "CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)")
	for i := int64(1); i <= 20; i++ {
		h.exec(t, "INSERT INTO users (id, email) VALUES (?, ?)", i, "u@x")
	}

	for i := int64(1); i <= 20; i++ {
		res, err := h.conductor.Query(ctx, "SELECT id FROM users WHERE id = ?", []interface{}{i}, "")
		require.NoError(t, err)
		require.Len(t, res.Rows, 1, "id %d", i)
		require.Len(t, res.ShardStats, 1)
	}

	res, err := h.conductor.Query(ctx, "SELECT COUNT(*) AS n FROM users", nil, "")
	require.NoError(t, err)
	require.EqualValues(t, 20, res.Rows[0]["n"])
}

// TestDropTableRemovesCatalogState: DROP cascades to shards and indexes.
func TestDropTableRemovesCatalogState(t *testing.T) {
	h := newHarness(t, 2, 2)
	ctx := context.Background()

	h.exec(t, "CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)")
	h.exec(t, "INSERT INTO users (id, email) VALUES (?, ?)", int64(1), "a@x")
	h.exec(t, "CREATE INDEX idx_email ON users (email)")
	h.drain(t)

	h.exec(t, "DROP TABLE users")
	snap := h.snapshot(t)
	require.Empty(t, snap.Tables)
	require.Empty(t, snap.Indexes)

	_, err := h.conductor.Query(ctx, "SELECT * FROM users", nil, "")
	require.Error(t, err)

	// IF EXISTS swallows the missing table.
	h.exec(t, "DROP TABLE IF EXISTS users")
}

// TestCreateIndexIfNotExists swallows only the duplicate-name error.
func TestCreateIndexIfNotExists(t *testing.T) {
	h := newHarness(t, 1, 1)
	ctx := context.Background()

	h.exec(t, "CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)")
	h.exec(t, "CREATE INDEX idx_email ON users (email)")
	h.drain(t)

	_, err := h.conductor.Query(ctx, "CREATE INDEX idx_email ON users (email)", nil, "")
	require.Error(t, err)

	h.exec(t, "CREATE INDEX IF NOT EXISTS idx_email ON users (email)")
}

// TestAlterTableRename updates shards and topology together.
func TestAlterTableRename(t *testing.T) {
	h := newHarness(t, 2, 2)

	h.exec(t, "CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)")
	h.exec(t, "INSERT INTO users (id, email) VALUES (?, ?)", int64(1), "a@x")
	h.exec(t, "ALTER TABLE users RENAME TO people")

	snap := h.snapshot(t)
	_, ok := snap.Table("people")
	require.True(t, ok)
	_, ok = snap.Table("users")
	require.False(t, ok)
}

// TestMaintainEventsIdempotent: applying the same event message twice
// leaves the catalog unchanged.
func TestMaintainEventsIdempotent(t *testing.T) {
	h := newHarness(t, 1, 1)
	ctx := context.Background()

	h.exec(t, "CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)")
	h.exec(t, "CREATE INDEX idx_email ON users (email)")
	h.drain(t)

	msg := &maintenance.Message{
		Type:      maintenance.TypeMaintainIndex,
		TableName: "users",
		Events: []maintenance.Event{
			{IndexName: "idx_email", KeyValue: "x@y", ShardID: 0, Operation: topology.DeltaAdd},
		},
	}
	require.NoError(t, h.queue.Send(ctx, msg))
	h.drain(t)
	first := h.snapshot(t).IndexEntries["idx_email"]

	require.NoError(t, h.queue.Send(ctx, msg))
	h.drain(t)
	second := h.snapshot(t).IndexEntries["idx_email"]

	require.Equal(t, first, second)
}

// TestTaggedTemplateSurface: template parts interpolate with ? at each
// boundary and values bind in order.
func TestTaggedTemplateSurface(t *testing.T) {
	h := newHarness(t, 1, 1)
	ctx := context.Background()

	h.exec(t, "CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)")

	_, err := h.conductor.SQL(ctx,
		[]string{"INSERT INTO users (id, email) VALUES (", ", ", ")"},
		[]interface{}{int64(1), "a@x"}, "")
	require.NoError(t, err)

	res, err := h.conductor.SQL(ctx,
		[]string{"SELECT email FROM users WHERE id = ", ""},
		[]interface{}{int64(1)}, "")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, "a@x", res.Rows[0]["email"])
}

// TestUnrecognizedStatementFails: anything outside the dialect surfaces a
// typed parse error.
func TestUnrecognizedStatementFails(t *testing.T) {
	h := newHarness(t, 1, 1)
	ctx := context.Background()

	_, err := h.conductor.Query(ctx, "VACUUM", nil, "")
	require.Error(t, err)
	require.Equal(t, cerr.ErrCategoryParser, cerr.GetCategory(err))
}
