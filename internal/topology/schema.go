// Package topology provides the cluster metadata catalog: the storage-node
// roster, table metadata, the logical-to-physical shard map, virtual-index
// definitions and entries, and the async job log. The catalog is the single
// source of truth; conductors hold only caches of it.
package topology

// Schema contains the SQL definitions for the topology catalog (topology.db).

// CreateNodesTableSQL creates the storage-node roster.
const CreateNodesTableSQL = `
CREATE TABLE IF NOT EXISTS nodes (
    node_id TEXT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'active',
    capacity_used INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    created_at INTEGER NOT NULL
)`

// CreateTablesTableSQL creates table metadata. The hash version is recorded
// per table so a future algorithm change cannot silently remigrate data.
const CreateTablesTableSQL = `
CREATE TABLE IF NOT EXISTS tables (
    table_name TEXT PRIMARY KEY,
    pk_column TEXT NOT NULL,
    pk_type TEXT NOT NULL,
    shard_key TEXT NOT NULL,
    num_shards INTEGER NOT NULL DEFAULT 1,
    block_size INTEGER NOT NULL DEFAULT 1000,
    hash_version TEXT NOT NULL,
    resharding INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
)`

// CreateTableShardsTableSQL creates the logical→physical shard map.
const CreateTableShardsTableSQL = `
CREATE TABLE IF NOT EXISTS table_shards (
    table_name TEXT NOT NULL,
    shard_id INTEGER NOT NULL,
    node_id TEXT NOT NULL,
    PRIMARY KEY (table_name, shard_id),
    FOREIGN KEY (node_id) REFERENCES nodes(node_id)
)`

// CreateVirtualIndexesTableSQL creates virtual-index definitions.
const CreateVirtualIndexesTableSQL = `
CREATE TABLE IF NOT EXISTS virtual_indexes (
    index_name TEXT PRIMARY KEY,
    table_name TEXT NOT NULL,
    columns TEXT NOT NULL,
    index_type TEXT NOT NULL DEFAULT 'hash',
    status TEXT NOT NULL DEFAULT 'building',
    error_message TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
)`

// CreateVirtualIndexEntriesTableSQL creates the key→shards entries.
// shard_ids is a sorted JSON array; an entry with no shards is deleted,
// never stored empty.
const CreateVirtualIndexEntriesTableSQL = `
CREATE TABLE IF NOT EXISTS virtual_index_entries (
    index_name TEXT NOT NULL,
    key_value TEXT NOT NULL,
    shard_ids TEXT NOT NULL,
    PRIMARY KEY (index_name, key_value),
    FOREIGN KEY (index_name) REFERENCES virtual_indexes(index_name)
)`

// CreateAsyncJobsTableSQL creates the async job log.
const CreateAsyncJobsTableSQL = `
CREATE TABLE IF NOT EXISTS async_jobs (
    job_id TEXT PRIMARY KEY,
    job_type TEXT NOT NULL,
    table_name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    error_message TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
)`

// CreateCatalogMetaTableSQL creates the single-row metadata table carrying
// the monotonic catalog version used for conductor cache validation.
const CreateCatalogMetaTableSQL = `
CREATE TABLE IF NOT EXISTS catalog_meta (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    version INTEGER NOT NULL,
    created_at INTEGER NOT NULL
)`

// AllSchemaSQL returns every schema statement in creation order.
func AllSchemaSQL() []string {
	return []string{
		CreateNodesTableSQL,
		CreateTablesTableSQL,
		CreateTableShardsTableSQL,
		CreateVirtualIndexesTableSQL,
		CreateVirtualIndexEntriesTableSQL,
		CreateAsyncJobsTableSQL,
		CreateCatalogMetaTableSQL,
		`CREATE INDEX IF NOT EXISTS idx_shards_table ON table_shards(table_name)`,
		`CREATE INDEX IF NOT EXISTS idx_indexes_table ON virtual_indexes(table_name)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON async_jobs(status)`,
	}
}
