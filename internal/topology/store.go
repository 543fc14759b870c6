package topology

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	cerr "github.com/Ankcorn/big-daddy/internal/errors"
)

var log = logrus.WithField("component", "topology")

// DeltaOp is the operation applied to one (key, shard) pair of an index.
type DeltaOp string

const (
	DeltaAdd    DeltaOp = "add"
	DeltaRemove DeltaOp = "remove"
)

// legalTransitions enumerates the allowed index status transitions.
var legalTransitions = map[IndexStatus][]IndexStatus{
	IndexBuilding:   {IndexReady, IndexFailed},
	IndexReady:      {IndexRebuilding},
	IndexRebuilding: {IndexReady, IndexFailed},
}

// Store is the SQLite-backed topology catalog. Mutations are serialized by
// a single write connection behind a mutex; reads go through a concurrent
// read pool and observe the most recent committed mutation.
type Store struct {
	db     *sql.DB // write connection (single writer)
	readDB *sql.DB // read connection pool
	dbPath string
	mu     sync.Mutex // write-only lock
}

// NewStore opens (or creates) the topology catalog database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("topology: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("topology: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db, readDB: readDB, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("topology: failed to initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates all required tables and indexes.
func (s *Store) initSchema() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Close closes the catalog database connections.
func (s *Store) Close() error {
	if err := s.readDB.Close(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

// created reports whether the cluster has been bootstrapped.
func (s *Store) created(ctx context.Context) (bool, error) {
	var n int
	if err := s.readDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM catalog_meta").Scan(&n); err != nil {
		return false, fmt.Errorf("topology: failed to check bootstrap state: %w", err)
	}
	return n > 0, nil
}

// bumpVersion increments the catalog version inside the given transaction.
// Every committed mutation moves the version so conductor caches can detect
// staleness with a single integer compare.
func bumpVersion(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, "UPDATE catalog_meta SET version = version + 1 WHERE id = 1")
	return err
}

// Create bootstraps the cluster with numNodes active storage nodes.
// It fails if the cluster already exists or numNodes < 1.
func (s *Store) Create(ctx context.Context, numNodes int) error {
	if numNodes < 1 {
		return cerr.NewTopologyError(cerr.CodeNotCreated, fmt.Sprintf("numNodes must be >= 1, got %d", numNodes))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.created(ctx)
	if err != nil {
		return err
	}
	if exists {
		return cerr.NewTopologyError(cerr.CodeAlreadyCreated, "topology already created")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("topology: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO catalog_meta (id, version, created_at) VALUES (1, 1, ?)", now); err != nil {
		return fmt.Errorf("topology: failed to write catalog meta: %w", err)
	}
	for i := 0; i < numNodes; i++ {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO nodes (node_id, status, capacity_used, created_at) VALUES (?, 'active', 0, ?)",
			fmt.Sprintf("node-%d", i), now); err != nil {
			return fmt.Errorf("topology: failed to insert node: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("topology: failed to commit bootstrap: %w", err)
	}
	log.WithField("nodes", numNodes).Info("topology created")
	return nil
}

// Version returns the current catalog version.
func (s *Store) Version(ctx context.Context) (int64, error) {
	var v int64
	err := s.readDB.QueryRowContext(ctx, "SELECT version FROM catalog_meta WHERE id = 1").Scan(&v)
	if err == sql.ErrNoRows {
		return 0, cerr.NewTopologyError(cerr.CodeNotCreated, "topology not created")
	}
	if err != nil {
		return 0, fmt.Errorf("topology: failed to read version: %w", err)
	}
	return v, nil
}

// GetTopology returns a consistent snapshot of the whole catalog.
// It fails if the cluster has not been created.
func (s *Store) GetTopology(ctx context.Context) (*Snapshot, error) {
	tx, err := s.readDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("topology: failed to begin read transaction: %w", err)
	}
	defer tx.Rollback()

	snap := &Snapshot{
		Tables:       make(map[string]TableMeta),
		TableShards:  make(map[string][]TableShard),
		Indexes:      make(map[string]VirtualIndex),
		IndexEntries: make(map[string][]VirtualIndexEntry),
	}

	err = tx.QueryRowContext(ctx, "SELECT version FROM catalog_meta WHERE id = 1").Scan(&snap.Version)
	if err == sql.ErrNoRows {
		return nil, cerr.NewTopologyError(cerr.CodeNotCreated, "topology not created")
	}
	if err != nil {
		return nil, fmt.Errorf("topology: failed to read version: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT node_id, status, capacity_used, COALESCE(last_error, ''), created_at FROM nodes ORDER BY node_id")
	if err != nil {
		return nil, fmt.Errorf("topology: failed to read nodes: %w", err)
	}
	for rows.Next() {
		var n StorageNode
		var createdAt int64
		if err := rows.Scan(&n.NodeID, &n.Status, &n.CapacityUsed, &n.LastError, &createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		n.CreatedAt = time.Unix(createdAt, 0)
		snap.Nodes = append(snap.Nodes, n)
	}
	rows.Close()

	rows, err = tx.QueryContext(ctx,
		"SELECT table_name, pk_column, pk_type, shard_key, num_shards, block_size, hash_version, resharding FROM tables")
	if err != nil {
		return nil, fmt.Errorf("topology: failed to read tables: %w", err)
	}
	for rows.Next() {
		var t TableMeta
		var resharding int
		if err := rows.Scan(&t.Name, &t.PKColumn, &t.PKType, &t.ShardKey, &t.NumShards, &t.BlockSize, &t.HashVersion, &resharding); err != nil {
			rows.Close()
			return nil, err
		}
		t.Resharding = resharding != 0
		snap.Tables[t.Name] = t
	}
	rows.Close()

	rows, err = tx.QueryContext(ctx,
		"SELECT table_name, shard_id, node_id FROM table_shards ORDER BY table_name, shard_id")
	if err != nil {
		return nil, fmt.Errorf("topology: failed to read table shards: %w", err)
	}
	for rows.Next() {
		var ts TableShard
		if err := rows.Scan(&ts.TableName, &ts.ShardID, &ts.NodeID); err != nil {
			rows.Close()
			return nil, err
		}
		snap.TableShards[ts.TableName] = append(snap.TableShards[ts.TableName], ts)
	}
	rows.Close()

	rows, err = tx.QueryContext(ctx,
		"SELECT index_name, table_name, columns, index_type, status, COALESCE(error_message, ''), created_at, updated_at FROM virtual_indexes")
	if err != nil {
		return nil, fmt.Errorf("topology: failed to read indexes: %w", err)
	}
	for rows.Next() {
		var idx VirtualIndex
		var cols string
		var createdAt, updatedAt int64
		if err := rows.Scan(&idx.Name, &idx.Table, &cols, &idx.Type, &idx.Status, &idx.ErrorMessage, &createdAt, &updatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		idx.Columns = strings.Split(cols, ",")
		idx.CreatedAt = time.Unix(createdAt, 0)
		idx.UpdatedAt = time.Unix(updatedAt, 0)
		snap.Indexes[idx.Name] = idx
	}
	rows.Close()

	rows, err = tx.QueryContext(ctx,
		"SELECT index_name, key_value, shard_ids FROM virtual_index_entries ORDER BY index_name, key_value")
	if err != nil {
		return nil, fmt.Errorf("topology: failed to read index entries: %w", err)
	}
	for rows.Next() {
		var e VirtualIndexEntry
		var shardJSON string
		if err := rows.Scan(&e.IndexName, &e.KeyValue, &shardJSON); err != nil {
			rows.Close()
			return nil, err
		}
		if err := json.Unmarshal([]byte(shardJSON), &e.ShardIDs); err != nil {
			rows.Close()
			return nil, fmt.Errorf("topology: corrupt shard_ids for %s/%s: %w", e.IndexName, e.KeyValue, err)
		}
		snap.IndexEntries[e.IndexName] = append(snap.IndexEntries[e.IndexName], e)
	}
	rows.Close()

	rows, err = tx.QueryContext(ctx,
		"SELECT job_id, job_type, table_name, status, COALESCE(error_message, ''), created_at, updated_at FROM async_jobs ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("topology: failed to read jobs: %w", err)
	}
	for rows.Next() {
		var j AsyncJob
		var createdAt, updatedAt int64
		if err := rows.Scan(&j.ID, &j.Type, &j.Table, &j.Status, &j.ErrorMessage, &createdAt, &updatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		j.CreatedAt = time.Unix(createdAt, 0)
		j.UpdatedAt = time.Unix(updatedAt, 0)
		snap.Jobs = append(snap.Jobs, j)
	}
	rows.Close()

	return snap, nil
}

// UpdateTopology applies a batch of table metadata deltas. Added tables get
// their shard map materialized round-robin: shard i lives on node i mod N.
func (s *Store) UpdateTopology(ctx context.Context, delta TableDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("topology: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var nodeIDs []string
	rows, err := tx.QueryContext(ctx, "SELECT node_id FROM nodes WHERE status = 'active' ORDER BY node_id")
	if err != nil {
		return fmt.Errorf("topology: failed to list nodes: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		nodeIDs = append(nodeIDs, id)
	}
	rows.Close()
	if len(nodeIDs) == 0 {
		return cerr.NewTopologyError(cerr.CodeNotCreated, "no active nodes")
	}
	// node-i sorts lexicographically; restore numeric order for assignment.
	sort.Slice(nodeIDs, func(i, j int) bool {
		return nodeNumber(nodeIDs[i]) < nodeNumber(nodeIDs[j])
	})

	now := time.Now().Unix()
	for _, t := range delta.Add {
		if t.NumShards < 1 {
			t.NumShards = 1
		}
		if t.ShardKey == "" {
			t.ShardKey = t.PKColumn
		}
		if t.BlockSize <= 0 {
			t.BlockSize = 1000
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tables (table_name, pk_column, pk_type, shard_key, num_shards, block_size, hash_version, resharding, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.Name, t.PKColumn, t.PKType, t.ShardKey, t.NumShards, t.BlockSize, t.HashVersion, boolToInt(t.Resharding), now)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				return cerr.NewTopologyError(cerr.CodeAlreadyExists, fmt.Sprintf("table %s already exists", t.Name))
			}
			return fmt.Errorf("topology: failed to insert table: %w", err)
		}
		for shard := 0; shard < t.NumShards; shard++ {
			nodeID := nodeIDs[shard%len(nodeIDs)]
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO table_shards (table_name, shard_id, node_id) VALUES (?, ?, ?)",
				t.Name, shard, nodeID); err != nil {
				return fmt.Errorf("topology: failed to insert shard map row: %w", err)
			}
		}
	}

	for _, t := range delta.Update {
		res, err := tx.ExecContext(ctx,
			`UPDATE tables SET pk_column = ?, pk_type = ?, shard_key = ?, block_size = ?, resharding = ? WHERE table_name = ?`,
			t.PKColumn, t.PKType, t.ShardKey, t.BlockSize, boolToInt(t.Resharding), t.Name)
		if err != nil {
			return fmt.Errorf("topology: failed to update table: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return cerr.NewSchemaError(cerr.CodeTableNotFound, fmt.Sprintf("table %s does not exist", t.Name))
		}
	}

	for _, name := range delta.Remove {
		if err := dropTableTx(ctx, tx, name); err != nil {
			return err
		}
	}

	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// RenameTable renames a table and rewrites its shard map and index
// definitions atomically.
func (s *Store) RenameTable(ctx context.Context, oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("topology: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE tables SET table_name = ? WHERE table_name = ?", newName, oldName)
	if err != nil {
		return fmt.Errorf("topology: failed to rename table: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cerr.NewSchemaError(cerr.CodeTableNotFound, fmt.Sprintf("table %s does not exist", oldName))
	}
	if _, err := tx.ExecContext(ctx, "UPDATE table_shards SET table_name = ? WHERE table_name = ?", newName, oldName); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE virtual_indexes SET table_name = ? WHERE table_name = ?", newName, oldName); err != nil {
		return err
	}

	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// DropTable removes a table, its shard map, and every index defined on it.
func (s *Store) DropTable(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("topology: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := dropTableTx(ctx, tx, name); err != nil {
		return err
	}
	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func dropTableTx(ctx context.Context, tx *sql.Tx, name string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM virtual_index_entries WHERE index_name IN (SELECT index_name FROM virtual_indexes WHERE table_name = ?)`,
		name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM virtual_indexes WHERE table_name = ?", name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM table_shards WHERE table_name = ?", name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM tables WHERE table_name = ?", name); err != nil {
		return err
	}
	return nil
}

// CreateVirtualIndex registers a new index definition in the building state.
// A taken name fails with ALREADY_EXISTS, which the conductor maps to the
// IF NOT EXISTS behavior of CREATE INDEX.
func (s *Store) CreateVirtualIndex(ctx context.Context, name, table string, columns []string, indexType IndexType) error {
	if len(columns) == 0 {
		return cerr.NewPlanError(cerr.CodeInvalidIndexColumn, "index requires at least one column")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("topology: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO virtual_indexes (index_name, table_name, columns, index_type, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'building', ?, ?)`,
		name, table, strings.Join(columns, ","), string(indexType), now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return cerr.NewTopologyError(cerr.CodeAlreadyExists, fmt.Sprintf("index %s already exists", name))
		}
		return fmt.Errorf("topology: failed to insert index: %w", err)
	}

	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateIndexStatus transitions an index between lifecycle states.
// Legal transitions: building→ready, building→failed, ready→rebuilding,
// rebuilding→ready, rebuilding→failed.
func (s *Store) UpdateIndexStatus(ctx context.Context, name string, status IndexStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("topology: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current IndexStatus
	err = tx.QueryRowContext(ctx, "SELECT status FROM virtual_indexes WHERE index_name = ?", name).Scan(&current)
	if err == sql.ErrNoRows {
		return cerr.NewSchemaError(cerr.CodeIndexNotFound, fmt.Sprintf("index %s does not exist", name))
	}
	if err != nil {
		return fmt.Errorf("topology: failed to read index status: %w", err)
	}

	if !transitionAllowed(current, status) {
		return cerr.NewTopologyError(cerr.CodeBadTransition,
			fmt.Sprintf("illegal index status transition %s → %s", current, status))
	}

	var msg interface{}
	if errorMessage != "" {
		msg = errorMessage
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE virtual_indexes SET status = ?, error_message = ?, updated_at = ? WHERE index_name = ?",
		string(status), msg, time.Now().Unix(), name); err != nil {
		return fmt.Errorf("topology: failed to update index status: %w", err)
	}

	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func transitionAllowed(from, to IndexStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// BatchUpsertIndexEntries replaces the entry for each key. Empty shard sets
// delete the entry; the batch is idempotent.
func (s *Store) BatchUpsertIndexEntries(ctx context.Context, name string, entries []VirtualIndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("topology: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	numShards, err := indexTableShards(ctx, tx, name)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if len(e.ShardIDs) == 0 {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM virtual_index_entries WHERE index_name = ? AND key_value = ?",
				name, e.KeyValue); err != nil {
				return err
			}
			continue
		}
		shardJSON, err := marshalShards(e.ShardIDs, numShards)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO virtual_index_entries (index_name, key_value, shard_ids) VALUES (?, ?, ?)
			 ON CONFLICT(index_name, key_value) DO UPDATE SET shard_ids = excluded.shard_ids`,
			name, e.KeyValue, shardJSON); err != nil {
			return fmt.Errorf("topology: failed to upsert index entry: %w", err)
		}
	}

	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ApplyIndexDelta adds or removes exactly one shard in one key's entry.
// When a removal empties the set, the entry row is deleted outright.
// Deltas to the same (key, shard) tuple are linearized by the single-writer
// lock; deltas to different tuples are safe to apply in any interleaving.
func (s *Store) ApplyIndexDelta(ctx context.Context, name string, shardID int, keyValue string, op DeltaOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("topology: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	numShards, err := indexTableShards(ctx, tx, name)
	if err != nil {
		return err
	}
	if shardID < 0 || shardID >= numShards {
		return cerr.NewTopologyError(cerr.CodeBadTransition,
			fmt.Sprintf("shard %d out of range for index %s", shardID, name))
	}

	var shardJSON string
	var shards []int
	err = tx.QueryRowContext(ctx,
		"SELECT shard_ids FROM virtual_index_entries WHERE index_name = ? AND key_value = ?",
		name, keyValue).Scan(&shardJSON)
	switch {
	case err == sql.ErrNoRows:
		shards = nil
	case err != nil:
		return fmt.Errorf("topology: failed to read index entry: %w", err)
	default:
		if err := json.Unmarshal([]byte(shardJSON), &shards); err != nil {
			return fmt.Errorf("topology: corrupt shard_ids for %s/%s: %w", name, keyValue, err)
		}
	}

	switch op {
	case DeltaAdd:
		shards = addShard(shards, shardID)
	case DeltaRemove:
		shards = removeShard(shards, shardID)
	default:
		return cerr.NewMaintenanceError(cerr.CodeDeltaFailed, fmt.Sprintf("unknown delta op %q", op), nil)
	}

	if len(shards) == 0 {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM virtual_index_entries WHERE index_name = ? AND key_value = ?",
			name, keyValue); err != nil {
			return err
		}
	} else {
		out, err := marshalShards(shards, numShards)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO virtual_index_entries (index_name, key_value, shard_ids) VALUES (?, ?, ?)
			 ON CONFLICT(index_name, key_value) DO UPDATE SET shard_ids = excluded.shard_ids`,
			name, keyValue, out); err != nil {
			return err
		}
	}

	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// GetIndexedShards looks up the shard set for a key value. Absent keys
// return an empty slice.
func (s *Store) GetIndexedShards(ctx context.Context, name, keyValue string) ([]int, error) {
	var shardJSON string
	err := s.readDB.QueryRowContext(ctx,
		"SELECT shard_ids FROM virtual_index_entries WHERE index_name = ? AND key_value = ?",
		name, keyValue).Scan(&shardJSON)
	if err == sql.ErrNoRows {
		return []int{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("topology: failed to read index entry: %w", err)
	}

	var shards []int
	if err := json.Unmarshal([]byte(shardJSON), &shards); err != nil {
		return nil, fmt.Errorf("topology: corrupt shard_ids for %s/%s: %w", name, keyValue, err)
	}
	return shards, nil
}

// DropVirtualIndex removes an index definition and all its entries.
func (s *Store) DropVirtualIndex(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("topology: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM virtual_index_entries WHERE index_name = ?", name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM virtual_indexes WHERE index_name = ?", name); err != nil {
		return err
	}

	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateJob appends an entry to the async job log and returns its id.
func (s *Store) CreateJob(ctx context.Context, jobType, table string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("topology: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO async_jobs (job_id, job_type, table_name, status, created_at, updated_at) VALUES (?, ?, ?, 'pending', ?, ?)",
		id, jobType, table, now, now); err != nil {
		return "", fmt.Errorf("topology: failed to insert job: %w", err)
	}

	if err := bumpVersion(ctx, tx); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// UpdateJobStatus transitions an async job, optionally recording an error.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("topology: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var msg interface{}
	if errorMessage != "" {
		msg = errorMessage
	}
	res, err := tx.ExecContext(ctx,
		"UPDATE async_jobs SET status = ?, error_message = ?, updated_at = ? WHERE job_id = ?",
		string(status), msg, time.Now().Unix(), jobID)
	if err != nil {
		return fmt.Errorf("topology: failed to update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cerr.NewTopologyError(cerr.CodeNotCreated, fmt.Sprintf("job %s does not exist", jobID))
	}

	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// indexTableShards resolves the shard count of the table an index covers.
// Entries referencing shards outside [0, numShards) are rejected.
func indexTableShards(ctx context.Context, tx *sql.Tx, indexName string) (int, error) {
	var numShards int
	err := tx.QueryRowContext(ctx,
		"SELECT t.num_shards FROM virtual_indexes i JOIN tables t ON t.table_name = i.table_name WHERE i.index_name = ?",
		indexName).Scan(&numShards)
	if err == sql.ErrNoRows {
		return 0, cerr.NewSchemaError(cerr.CodeIndexNotFound, fmt.Sprintf("index %s does not exist", indexName))
	}
	if err != nil {
		return 0, fmt.Errorf("topology: failed to resolve index table: %w", err)
	}
	return numShards, nil
}

// marshalShards validates, sorts, and encodes a shard set.
func marshalShards(shards []int, numShards int) (string, error) {
	sorted := make([]int, len(shards))
	copy(sorted, shards)
	sort.Ints(sorted)
	for _, s := range sorted {
		if s < 0 || s >= numShards {
			return "", cerr.NewTopologyError(cerr.CodeBadTransition, fmt.Sprintf("shard %d out of range", s))
		}
	}
	b, err := json.Marshal(sorted)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func addShard(shards []int, id int) []int {
	for _, s := range shards {
		if s == id {
			return shards
		}
	}
	out := append(shards, id)
	sort.Ints(out)
	return out
}

func removeShard(shards []int, id int) []int {
	out := shards[:0]
	for _, s := range shards {
		if s != id {
			out = append(out, s)
		}
	}
	return out
}

func nodeNumber(id string) int {
	var n int
	fmt.Sscanf(id, "node-%d", &n)
	return n
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
