// Package maintenance implements the asynchronous index-maintenance
// pipeline: the queue message shapes, an in-process queue binding, the
// consumer that applies events to the topology catalog, and the index
// builder that backfills entries for a new index.
package maintenance

import (
	"github.com/Ankcorn/big-daddy/internal/topology"
)

// Message types.
const (
	TypeBuildIndex    = "build_index"
	TypeMaintainIndex = "maintain_index_events"
)

// Event is the unit of asynchronous catalog change produced by writes.
type Event struct {
	IndexName string           `json:"index_name"`
	KeyValue  string           `json:"key_value"`
	ShardID   int              `json:"shard_id"`
	Operation topology.DeltaOp `json:"operation"`
}

// Message is one maintenance-queue message. Exactly one of the two shapes
// is populated, selected by Type.
type Message struct {
	Type       string `json:"type"`
	DatabaseID string `json:"database_id"`
	TableName  string `json:"table_name"`

	// build_index fields.
	ColumnName string `json:"column_name,omitempty"`
	IndexName  string `json:"index_name,omitempty"`
	JobID      string `json:"job_id,omitempty"`

	// maintain_index_events fields.
	Events        []Event `json:"events,omitempty"`
	CorrelationID string  `json:"correlation_id,omitempty"`

	CreatedAt int64 `json:"created_at"`
}
