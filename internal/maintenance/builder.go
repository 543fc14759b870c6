package maintenance

import (
	"context"
	"fmt"
	"strings"

	"github.com/Ankcorn/big-daddy/internal/shard"
	"github.com/Ankcorn/big-daddy/internal/topology"
	"github.com/Ankcorn/big-daddy/pkg/types"
)

// Builder backfills virtual-index entries for a newly created index by
// scanning every logical shard of the table.
type Builder struct {
	store    *topology.Store
	registry *shard.Registry
}

// NewBuilder creates an index builder.
func NewBuilder(store *topology.Store, registry *shard.Registry) *Builder {
	return &Builder{store: store, registry: registry}
}

// Build scans the table, groups indexed values by shard, upserts the
// entries, and flips the index to ready. On any failure the index is
// transitioned to failed with the error message instead.
func (b *Builder) Build(ctx context.Context, indexName string) error {
	if err := b.build(ctx, indexName); err != nil {
		if statusErr := b.store.UpdateIndexStatus(ctx, indexName, topology.IndexFailed, err.Error()); statusErr != nil {
			log.WithError(statusErr).WithField("index", indexName).Error("failed to mark index failed")
		}
		return err
	}
	return b.store.UpdateIndexStatus(ctx, indexName, topology.IndexReady, "")
}

func (b *Builder) build(ctx context.Context, indexName string) error {
	snap, err := b.store.GetTopology(ctx)
	if err != nil {
		return err
	}
	idx, ok := snap.Indexes[indexName]
	if !ok {
		return fmt.Errorf("index %s does not exist", indexName)
	}
	shards := snap.ShardsOf(idx.Table)
	if len(shards) == 0 {
		return fmt.Errorf("table %s has no shards", idx.Table)
	}

	// Rows with a NULL anywhere in the tuple are never indexed, so they are
	// filtered out at the source.
	var conds []string
	for _, col := range idx.Columns {
		conds = append(conds, col+" IS NOT NULL")
	}
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s",
		strings.Join(idx.Columns, ", "), idx.Table, strings.Join(conds, " AND "))

	keyShards := make(map[string][]int)
	for _, ts := range shards {
		exec, err := b.registry.Get(ts.NodeID)
		if err != nil {
			return err
		}
		res, err := exec.ExecuteQuery(ctx, idx.Table, ts.ShardID, shard.Request{
			Query: query,
			Type:  types.QuerySelect,
		})
		if err != nil {
			return fmt.Errorf("scan of shard %d failed: %w", ts.ShardID, err)
		}
		for _, row := range res.Rows {
			key, ok := types.CanonicalKey(row)
			if !ok {
				continue
			}
			keyShards[key] = append(keyShards[key], ts.ShardID)
		}
	}

	entries := make([]topology.VirtualIndexEntry, 0, len(keyShards))
	for key, shardIDs := range keyShards {
		entries = append(entries, topology.VirtualIndexEntry{KeyValue: key, ShardIDs: shardIDs})
	}
	if err := b.store.BatchUpsertIndexEntries(ctx, indexName, entries); err != nil {
		return err
	}

	log.WithFields(map[string]interface{}{
		"index":   indexName,
		"entries": len(entries),
		"shards":  len(shards),
	}).Info("index build complete")
	return nil
}
