// Package shard defines the storage-shard execution contract consumed by
// the conductor, and a local SQLite-backed implementation of it. A shard is
// a black-box RDBMS: it enforces its own schema, including the composite
// (_virtualShard, pk…) primary key, and knows nothing about other shards.
package shard

import (
	"context"

	"github.com/Ankcorn/big-daddy/pkg/types"
)

// Request is one statement to execute on a shard.
type Request struct {
	Query  string          `json:"query"`
	Params []interface{}   `json:"params"`
	Type   types.QueryType `json:"queryType"`
}

// Result is the outcome of one statement on one shard.
type Result struct {
	Columns      []string        `json:"columns"`
	Rows         [][]interface{} `json:"rows"`
	RowsAffected int64           `json:"rowsAffected"`
}

// Executor is the interface a storage node exposes to the conductor.
// ExecuteBatch runs the statements as one atomic unit and returns results
// preserving order; the write paths rely on this for capture pairs.
type Executor interface {
	ExecuteQuery(ctx context.Context, table string, shardID int, req Request) (*Result, error)
	ExecuteBatch(ctx context.Context, table string, shardID int, reqs []Request) ([]*Result, error)
	Close() error
}
