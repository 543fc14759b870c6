package topology

import "time"

// NodeStatus is the lifecycle state of a storage node.
type NodeStatus string

const (
	NodeActive   NodeStatus = "active"
	NodeDraining NodeStatus = "draining"
	NodeFailed   NodeStatus = "failed"
)

// StorageNode is one physical storage backend.
type StorageNode struct {
	NodeID       string     `json:"node_id"`
	Status       NodeStatus `json:"status"`
	CapacityUsed int64      `json:"capacity_used"`
	LastError    string     `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// TableMeta is the metadata for one logical table.
type TableMeta struct {
	Name        string `json:"table_name"`
	PKColumn    string `json:"pk_column"`
	PKType      string `json:"pk_type"`
	ShardKey    string `json:"shard_key"`
	NumShards   int    `json:"num_shards"`
	BlockSize   int    `json:"block_size"`
	HashVersion string `json:"hash_version"`
	Resharding  bool   `json:"resharding"`
}

// TableShard maps one logical shard of a table to a physical node.
type TableShard struct {
	TableName string `json:"table_name"`
	ShardID   int    `json:"shard_id"`
	NodeID    string `json:"node_id"`
}

// IndexStatus is the lifecycle state of a virtual index. Only ready indexes
// participate in planning.
type IndexStatus string

const (
	IndexBuilding   IndexStatus = "building"
	IndexReady      IndexStatus = "ready"
	IndexFailed     IndexStatus = "failed"
	IndexRebuilding IndexStatus = "rebuilding"
)

// IndexType is the kind of virtual index. Both kinds are equality hash
// indexes; the type is recorded on the definition, and duplicate keys are
// not rejected for unique indexes.
type IndexType string

const (
	IndexTypeHash   IndexType = "hash"
	IndexTypeUnique IndexType = "unique"
)

// VirtualIndex is a metadata-only secondary index definition.
type VirtualIndex struct {
	Name         string      `json:"index_name"`
	Table        string      `json:"table_name"`
	Columns      []string    `json:"columns"`
	Type         IndexType   `json:"index_type"`
	Status       IndexStatus `json:"status"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// VirtualIndexEntry maps one canonical key value to the sorted set of
// logical shards currently holding at least one row with that value.
type VirtualIndexEntry struct {
	IndexName string `json:"index_name"`
	KeyValue  string `json:"key_value"`
	ShardIDs  []int  `json:"shard_ids"`
}

// JobStatus is the lifecycle state of an async job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job types.
const (
	JobBuildIndex    = "build_index"
	JobMaintainIndex = "maintain_index_events"
)

// AsyncJob is one entry in the async job log.
type AsyncJob struct {
	ID           string    `json:"job_id"`
	Type         string    `json:"job_type"`
	Table        string    `json:"table_name"`
	Status       JobStatus `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Snapshot is a consistent view of the whole catalog.
type Snapshot struct {
	Version      int64                          `json:"version"`
	Nodes        []StorageNode                  `json:"nodes"`
	Tables       map[string]TableMeta           `json:"tables"`
	TableShards  map[string][]TableShard        `json:"table_shards"`
	Indexes      map[string]VirtualIndex        `json:"virtual_indexes"`
	IndexEntries map[string][]VirtualIndexEntry `json:"virtual_index_entries"`
	Jobs         []AsyncJob                     `json:"async_jobs"`
}

// Table returns the metadata for a table, if present.
func (s *Snapshot) Table(name string) (TableMeta, bool) {
	t, ok := s.Tables[name]
	return t, ok
}

// ShardsOf returns the shard map rows for a table, ordered by shard id.
func (s *Snapshot) ShardsOf(table string) []TableShard {
	return s.TableShards[table]
}

// ReadyIndexesOn returns the ready virtual indexes defined on a table.
// Indexes in any other state are invisible to the planner.
func (s *Snapshot) ReadyIndexesOn(table string) []VirtualIndex {
	var out []VirtualIndex
	for _, idx := range s.Indexes {
		if idx.Table == table && idx.Status == IndexReady {
			out = append(out, idx)
		}
	}
	return out
}

// IndexesOn returns all virtual indexes defined on a table, any status.
func (s *Snapshot) IndexesOn(table string) []VirtualIndex {
	var out []VirtualIndex
	for _, idx := range s.Indexes {
		if idx.Table == table {
			out = append(out, idx)
		}
	}
	return out
}

// TableDelta describes one batch of table metadata changes for
// UpdateTopology. Adds materialize shard-map rows round-robin over nodes.
type TableDelta struct {
	Add    []TableMeta `json:"add,omitempty"`
	Update []TableMeta `json:"update,omitempty"`
	Remove []string    `json:"remove,omitempty"`
}
