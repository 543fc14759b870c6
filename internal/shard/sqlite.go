package shard

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	cerr "github.com/Ankcorn/big-daddy/internal/errors"
	"github.com/Ankcorn/big-daddy/pkg/types"
)

var log = logrus.WithField("component", "shard")

// Node is a SQLite-backed storage node. Each logical shard of each table
// lives in its own database file under the node's directory, so shard moves
// stay file-granular.
type Node struct {
	ID  string
	dir string

	mu  sync.Mutex
	dbs map[string]*sql.DB // "<table>/<shard>" → connection
}

// NewNode creates a storage node rooted at dir.
func NewNode(id, dir string) (*Node, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("shard: failed to create node directory: %w", err)
	}
	return &Node{ID: id, dir: dir, dbs: make(map[string]*sql.DB)}, nil
}

// db returns (opening if needed) the database for one logical shard.
func (n *Node) db(table string, shardID int) (*sql.DB, error) {
	key := fmt.Sprintf("%s/%d", table, shardID)

	n.mu.Lock()
	defer n.mu.Unlock()

	if db, ok := n.dbs[key]; ok {
		return db, nil
	}

	path := filepath.Join(n.dir, fmt.Sprintf("%s_shard%d.db", table, shardID))
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, cerr.NewShardError(cerr.CodeShardExecution, fmt.Sprintf("failed to open shard %s", key), err)
	}
	db.SetMaxOpenConns(1)
	n.dbs[key] = db
	return db, nil
}

// ExecuteQuery runs a single statement against one logical shard.
func (n *Node) ExecuteQuery(ctx context.Context, table string, shardID int, req Request) (*Result, error) {
	db, err := n.db(table, shardID)
	if err != nil {
		return nil, err
	}
	return execute(ctx, db, req)
}

// ExecuteBatch runs the statements inside a single transaction and returns
// their results in order.
func (n *Node) ExecuteBatch(ctx context.Context, table string, shardID int, reqs []Request) ([]*Result, error) {
	db, err := n.db(table, shardID)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, cerr.NewShardError(cerr.CodeShardExecution, "failed to begin batch", err)
	}
	defer tx.Rollback()

	results := make([]*Result, 0, len(reqs))
	for _, req := range reqs {
		res, err := executeOn(ctx, tx, req)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	if err := tx.Commit(); err != nil {
		return nil, cerr.NewShardError(cerr.CodeShardExecution, "failed to commit batch", err)
	}
	return results, nil
}

// Close closes every open shard database.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	var firstErr error
	for key, db := range n.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(n.dbs, key)
	}
	return firstErr
}

// queryer covers *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func execute(ctx context.Context, db *sql.DB, req Request) (*Result, error) {
	return executeOn(ctx, db, req)
}

func executeOn(ctx context.Context, q queryer, req Request) (*Result, error) {
	switch req.Type {
	case types.QuerySelect, types.QueryPragma:
		rows, err := q.QueryContext(ctx, req.Query, req.Params...)
		if err != nil {
			return nil, cerr.NewShardError(cerr.CodeShardExecution, "query failed", err)
		}
		defer rows.Close()
		return collectRows(rows)
	default:
		res, err := q.ExecContext(ctx, req.Query, req.Params...)
		if err != nil {
			return nil, cerr.NewShardError(cerr.CodeShardExecution, "statement failed", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			affected = 0
		}
		return &Result{Columns: []string{}, Rows: [][]interface{}{}, RowsAffected: affected}, nil
	}
}

func collectRows(rows *sql.Rows) (*Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, cerr.NewShardError(cerr.CodeShardExecution, "failed to read columns", err)
	}

	result := &Result{Columns: columns, Rows: [][]interface{}{}}
	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, cerr.NewShardError(cerr.CodeShardExecution, "failed to scan row", err)
		}
		rowCopy := make([]interface{}, len(values))
		for i, v := range values {
			// SQLite hands back []byte for TEXT in some paths; normalize.
			if b, ok := v.([]byte); ok {
				rowCopy[i] = string(b)
			} else {
				rowCopy[i] = v
			}
		}
		result.Rows = append(result.Rows, rowCopy)
		for i := range values {
			values[i] = nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, cerr.NewShardError(cerr.CodeShardExecution, "row iteration failed", err)
	}
	return result, nil
}

// Registry resolves node ids to executors for the conductor.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]Executor)}
}

// Register adds or replaces a node.
func (r *Registry) Register(nodeID string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[nodeID] = exec
}

// Get resolves a node id.
func (r *Registry) Get(nodeID string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, ok := r.nodes[nodeID]
	if !ok {
		return nil, cerr.NewShardError(cerr.CodeShardExecution, fmt.Sprintf("unknown node %s", nodeID), nil)
	}
	return exec, nil
}

// Close closes every registered node.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, exec := range r.nodes {
		if err := exec.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			log.WithError(err).WithField("node", id).Warn("failed to close node")
		}
	}
	r.nodes = make(map[string]Executor)
	return firstErr
}

// NewLocalCluster creates numNodes SQLite nodes under baseDir, named the way
// the topology bootstrap names them.
func NewLocalCluster(baseDir string, numNodes int) (*Registry, error) {
	registry := NewRegistry()
	for i := 0; i < numNodes; i++ {
		id := fmt.Sprintf("node-%d", i)
		node, err := NewNode(id, filepath.Join(baseDir, id))
		if err != nil {
			registry.Close()
			return nil, err
		}
		registry.Register(id, node)
	}
	return registry, nil
}
