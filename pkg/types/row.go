// Package types holds the value and row representations shared by the
// conductor, the topology catalog, and the maintenance pipeline.
package types

// Row is a single result row as returned to clients: field name → value.
// Iteration order is carried separately by the result's column list.
type Row map[string]interface{}

// Result is the outcome of executing one SQL statement through the conductor.
type Result struct {
	Columns      []string     `json:"columns"`
	Rows         []Row        `json:"rows"`
	RowsAffected int64        `json:"rowsAffected"`
	ShardStats   []ShardStats `json:"shardStats,omitempty"`
}

// ShardStats reports per-shard execution observability for one statement.
type ShardStats struct {
	ShardID      int    `json:"shard_id"`
	NodeID       string `json:"node_id"`
	RowsReturned int64  `json:"rows_returned"`
	RowsAffected int64  `json:"rows_affected"`
	DurationMs   int64  `json:"duration_ms"`
}

// QueryType classifies a statement for the storage-shard interface.
type QueryType string

const (
	QuerySelect QueryType = "select"
	QueryInsert QueryType = "insert"
	QueryUpdate QueryType = "update"
	QueryDelete QueryType = "delete"
	QueryDDL    QueryType = "ddl"
	QueryPragma QueryType = "pragma"
)
