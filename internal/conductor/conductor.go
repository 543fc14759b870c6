package conductor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	cerr "github.com/Ankcorn/big-daddy/internal/errors"
	"github.com/Ankcorn/big-daddy/internal/maintenance"
	"github.com/Ankcorn/big-daddy/internal/routing"
	"github.com/Ankcorn/big-daddy/internal/shard"
	"github.com/Ankcorn/big-daddy/internal/sqlparser"
	"github.com/Ankcorn/big-daddy/internal/topology"
	"github.com/Ankcorn/big-daddy/pkg/types"
)

var log = logrus.WithField("component", "conductor")

const snapshotCacheKey = "topology-snapshot"

// Config holds conductor tunables.
type Config struct {
	// DatabaseID identifies this logical database in queue messages.
	DatabaseID string

	// DefaultNumShards is the logical shard count for newly created tables.
	DefaultNumShards int

	// Parallelism bounds concurrent shard calls per batch.
	Parallelism int

	// ShardTimeout applies to each shard call.
	ShardTimeout time.Duration

	// PlanCacheSize bounds the parsed-statement cache.
	PlanCacheSize int

	// SnapshotTTL bounds how long a topology snapshot stays cached; the
	// catalog version is compared on every use regardless.
	SnapshotTTL time.Duration
}

// DefaultConfig returns the default conductor configuration.
func DefaultConfig() Config {
	return Config{
		DatabaseID:       "default",
		DefaultNumShards: 1,
		Parallelism:      DefaultParallelism,
		ShardTimeout:     DefaultShardTimeout,
		PlanCacheSize:    1024,
		SnapshotTTL:      5 * time.Second,
	}
}

// Conductor is the query router. It owns only process-local caches; the
// topology catalog is the source of truth and every unsafe decision
// re-reads it.
type Conductor struct {
	cfg        Config
	databaseID string
	store      *topology.Store
	registry   *shard.Registry
	planner    *Planner
	executor   *Executor
	queue      maintenance.Publisher
	planCache  *PlanCache
	snapCache  *gocache.Cache
}

// New creates a conductor over the given topology store, node registry, and
// maintenance queue. queue may be nil in tests that do not exercise
// index maintenance.
func New(cfg Config, store *topology.Store, registry *shard.Registry, queue maintenance.Publisher) (*Conductor, error) {
	if cfg.DatabaseID == "" {
		cfg.DatabaseID = "default"
	}
	if cfg.DefaultNumShards < 1 {
		cfg.DefaultNumShards = 1
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 5 * time.Second
	}

	planCache, err := NewPlanCache(cfg.PlanCacheSize)
	if err != nil {
		return nil, err
	}

	return &Conductor{
		cfg:        cfg,
		databaseID: cfg.DatabaseID,
		store:      store,
		registry:   registry,
		planner:    NewPlanner(),
		executor:   NewExecutor(registry, cfg.Parallelism, cfg.ShardTimeout),
		queue:      queue,
		planCache:  planCache,
		snapCache:  gocache.New(cfg.SnapshotTTL, 10*cfg.SnapshotTTL),
	}, nil
}

// SQL executes a tagged-template query: parts are joined with `?` at each
// boundary and values bind in order.
func (c *Conductor) SQL(ctx context.Context, parts []string, values []interface{}, correlationID string) (*types.Result, error) {
	return c.Query(ctx, strings.Join(parts, "?"), values, correlationID)
}

// Query parses, plans, executes, and merges one SQL statement.
func (c *Conductor) Query(ctx context.Context, sqlText string, params []interface{}, correlationID string) (*types.Result, error) {
	stmt, err := c.parse(sqlText)
	if err != nil {
		return nil, err
	}

	switch s := stmt.(type) {
	case *sqlparser.SelectStatement, *sqlparser.InsertStatement, *sqlparser.UpdateStatement, *sqlparser.DeleteStatement:
		return c.runDML(ctx, s, params, correlationID)
	case *sqlparser.CreateTableStatement:
		return c.runCreateTable(ctx, s)
	case *sqlparser.CreateIndexStatement:
		return c.runCreateIndex(ctx, s)
	case *sqlparser.DropTableStatement:
		return c.runDropTable(ctx, s)
	case *sqlparser.AlterTableStatement:
		return c.runAlterTable(ctx, s)
	case *sqlparser.PragmaStatement:
		return c.runPragma(ctx, s, params)
	default:
		return nil, cerr.NewParserError(fmt.Sprintf("unsupported statement type %T", stmt))
	}
}

// parse returns the (possibly cached) AST for a statement text.
func (c *Conductor) parse(sqlText string) (sqlparser.Statement, error) {
	if stmt, ok := c.planCache.Get(sqlText); ok {
		return stmt, nil
	}
	stmt, err := sqlparser.Parse(sqlText)
	if err != nil {
		var terr *sqlparser.TokenizerError
		if errors.As(err, &terr) {
			return nil, cerr.Wrap(cerr.ErrCategoryTokenizer, terr.Kind, terr.Message, err)
		}
		return nil, cerr.Wrap(cerr.ErrCategoryParser, cerr.CodeParseError, "failed to parse statement", err)
	}
	c.planCache.Put(sqlText, stmt, tableOf(stmt))
	return stmt, nil
}

// snapshot returns a topology snapshot, re-reading the catalog when the
// cached copy's version lags or its TTL expired.
func (c *Conductor) snapshot(ctx context.Context) (*topology.Snapshot, error) {
	if v, ok := c.snapCache.Get(snapshotCacheKey); ok {
		snap := v.(*topology.Snapshot)
		version, err := c.store.Version(ctx)
		if err == nil && version == snap.Version {
			return snap, nil
		}
	}

	snap, err := c.store.GetTopology(ctx)
	if err != nil {
		return nil, err
	}
	c.snapCache.Set(snapshotCacheKey, snap, gocache.DefaultExpiration)
	return snap, nil
}

// invalidate drops the process-local caches for a table after DDL or an
// index-status change observed in this process.
func (c *Conductor) invalidate(table string) {
	c.planCache.InvalidateTable(table)
	c.snapCache.Delete(snapshotCacheKey)
}

// runDML executes SELECT, INSERT, UPDATE, DELETE.
func (c *Conductor) runDML(ctx context.Context, stmt sqlparser.Statement, params []interface{}, correlationID string) (*types.Result, error) {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	plan, err := c.planner.PlanDML(stmt, params, snap)
	if err != nil {
		return nil, err
	}

	if plan.ZeroTargets {
		// The index proved no shard can hold a match.
		return emptyResult(plan), nil
	}

	indexes := snap.IndexesOn(plan.Table)
	capture := newCaptureSpec(indexes)

	var calls []shardCall
	readPath := plan.QueryType == types.QuerySelect

	switch plan.QueryType {
	case types.QuerySelect:
		sql := plan.Statement.String()
		for _, target := range plan.Targets {
			calls = append(calls, shardCall{target: target, reqs: []shard.Request{{
				Query:  sql,
				Params: c.paramsFor(plan, target),
				Type:   types.QuerySelect,
			}}})
		}

	case types.QueryInsert:
		for _, ins := range plan.InsertsByShard {
			calls = append(calls, shardCall{target: ins.Target, reqs: []shard.Request{{
				Query:  ins.Statement.String(),
				Params: ins.Params,
				Type:   types.QueryInsert,
			}}})
		}

	case types.QueryUpdate:
		calls = c.updateCalls(plan, capture)

	case types.QueryDelete:
		calls = c.deleteCalls(plan, capture)
	}

	outcomes := c.executor.FanOut(ctx, plan.Table, calls, readPath)
	if err := combineErrors(outcomes, !readPath); err != nil {
		return nil, err
	}

	result, err := MergeResults(plan, outcomes)
	if err != nil {
		return nil, err
	}
	result.ShardStats = shardStats(outcomes, readPath)

	// Post-write side effects: cache invalidation and async index upkeep.
	if !readPath {
		c.planCache.InvalidateTable(plan.Table)
		if capture != nil {
			var events []maintenance.Event
			switch plan.QueryType {
			case types.QueryInsert:
				events = insertEvents(plan, indexes)
			case types.QueryUpdate:
				events = capture.updateEvents(outcomes)
			case types.QueryDelete:
				events = capture.deleteEvents(outcomes)
			}
			c.emitEvents(ctx, plan.Table, events, correlationID)
		}
	}

	return result, nil
}

// paramsFor returns the parameter vector for one target, appending the
// shard id when the plan carries a resharding filter.
func (c *Conductor) paramsFor(plan *Plan, target ShardTarget) []interface{} {
	if !plan.AppendShardParam {
		return plan.Params
	}
	out := make([]interface{}, 0, len(plan.Params)+1)
	out = append(out, plan.Params...)
	return append(out, target.ShardID)
}

// updateCalls builds per-target calls for UPDATE: with indexes the batch is
// [capture, update, capture] so old and new images come from the same
// transaction.
func (c *Conductor) updateCalls(plan *Plan, capture *captureSpec) []shardCall {
	stmt := plan.Statement.(*sqlparser.UpdateStatement)
	sql := stmt.String()

	var calls []shardCall
	for _, target := range plan.Targets {
		params := c.paramsFor(plan, target)
		if capture == nil {
			calls = append(calls, shardCall{target: target, reqs: []shard.Request{{
				Query: sql, Params: params, Type: types.QueryUpdate,
			}}})
			continue
		}
		capSQL := capture.captureQuery(plan.Table, stmt.Where)
		capParams := whereParams(stmt.Where, plan.Params, target.ShardID)
		calls = append(calls, shardCall{target: target, reqs: []shard.Request{
			{Query: capSQL, Params: capParams, Type: types.QuerySelect},
			{Query: sql, Params: params, Type: types.QueryUpdate},
			{Query: capSQL, Params: capParams, Type: types.QuerySelect},
		}})
	}
	return calls
}

// deleteCalls builds per-target calls for DELETE: with indexes the batch is
// [capture, delete].
func (c *Conductor) deleteCalls(plan *Plan, capture *captureSpec) []shardCall {
	stmt := plan.Statement.(*sqlparser.DeleteStatement)
	sql := stmt.String()

	var calls []shardCall
	for _, target := range plan.Targets {
		params := c.paramsFor(plan, target)
		if capture == nil {
			calls = append(calls, shardCall{target: target, reqs: []shard.Request{{
				Query: sql, Params: params, Type: types.QueryDelete,
			}}})
			continue
		}
		capSQL := capture.captureQuery(plan.Table, stmt.Where)
		capParams := whereParams(stmt.Where, plan.Params, target.ShardID)
		calls = append(calls, shardCall{target: target, reqs: []shard.Request{
			{Query: capSQL, Params: capParams, Type: types.QuerySelect},
			{Query: sql, Params: params, Type: types.QueryDelete},
		}})
	}
	return calls
}

// runCreateTable registers the table in topology, then applies the
// rewritten schema to every shard. Schema must exist everywhere before any
// data arrives, so the fan-out covers all shards with all-must-succeed
// semantics.
func (c *Conductor) runCreateTable(ctx context.Context, stmt *sqlparser.CreateTableStatement) (*types.Result, error) {
	pkCol, pkType := PrimaryKeyOf(stmt)
	if pkCol == "" {
		return nil, cerr.NewSchemaError(cerr.CodeColumnNotFound, "CREATE TABLE requires at least one column")
	}

	meta := topology.TableMeta{
		Name:        stmt.Name,
		PKColumn:    pkCol,
		PKType:      pkType,
		ShardKey:    pkCol,
		NumShards:   c.cfg.DefaultNumShards,
		HashVersion: routing.HashVersion,
	}
	err := c.store.UpdateTopology(ctx, topology.TableDelta{Add: []topology.TableMeta{meta}})
	if err != nil {
		if cerr.GetCode(err) == cerr.CodeAlreadyExists && stmt.IfNotExists {
			// Fall through: the rewritten DDL below carries IF NOT EXISTS.
		} else {
			return nil, err
		}
	}
	c.invalidate(stmt.Name)

	snap, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	rewritten := RewriteCreateTable(stmt)
	sql := rewritten.String()
	calls := ddlCalls(snap.ShardsOf(stmt.Name), sql)
	outcomes := c.executor.FanOut(ctx, stmt.Name, calls, false)
	if err := combineErrors(outcomes, true); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{"table": stmt.Name, "shards": len(calls)}).Info("table created")
	return &types.Result{Columns: []string{}, Rows: []types.Row{}}, nil
}

// runCreateIndex registers a building index and enqueues its backfill job.
// Physical per-shard indexes are out of scope, so shards see no DDL.
func (c *Conductor) runCreateIndex(ctx context.Context, stmt *sqlparser.CreateIndexStatement) (*types.Result, error) {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := snap.Table(stmt.Table); !ok {
		return nil, cerr.NewSchemaError(cerr.CodeTableNotFound, fmt.Sprintf("table %s does not exist", stmt.Table))
	}

	indexType := topology.IndexTypeHash
	if stmt.Unique {
		indexType = topology.IndexTypeUnique
	}

	if err := c.store.CreateVirtualIndex(ctx, stmt.Name, stmt.Table, stmt.Columns, indexType); err != nil {
		if cerr.GetCode(err) == cerr.CodeAlreadyExists && stmt.IfNotExists {
			return &types.Result{Columns: []string{}, Rows: []types.Row{}}, nil
		}
		return nil, err
	}
	c.invalidate(stmt.Table)

	jobID, err := c.store.CreateJob(ctx, topology.JobBuildIndex, stmt.Table)
	if err != nil {
		log.WithError(err).Warn("failed to record build job")
	}

	if c.queue != nil {
		msg := &maintenance.Message{
			Type:       maintenance.TypeBuildIndex,
			DatabaseID: c.databaseID,
			TableName:  stmt.Table,
			ColumnName: strings.Join(stmt.Columns, ","),
			IndexName:  stmt.Name,
			JobID:      jobID,
			CreatedAt:  time.Now().UnixMilli(),
		}
		if err := c.queue.Send(ctx, msg); err != nil {
			log.WithError(err).WithField("index", stmt.Name).Warn("failed to enqueue index build")
		}
	}

	return &types.Result{Columns: []string{}, Rows: []types.Row{}}, nil
}

// runDropTable drops the table on every shard, then removes it from
// topology along with its indexes.
func (c *Conductor) runDropTable(ctx context.Context, stmt *sqlparser.DropTableStatement) (*types.Result, error) {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := snap.Table(stmt.Name); !ok {
		if stmt.IfExists {
			return &types.Result{Columns: []string{}, Rows: []types.Row{}}, nil
		}
		return nil, cerr.NewSchemaError(cerr.CodeTableNotFound, fmt.Sprintf("table %s does not exist", stmt.Name))
	}

	calls := ddlCalls(snap.ShardsOf(stmt.Name), stmt.String())
	outcomes := c.executor.FanOut(ctx, stmt.Name, calls, false)
	if err := combineErrors(outcomes, true); err != nil {
		return nil, err
	}

	if err := c.store.DropTable(ctx, stmt.Name); err != nil {
		return nil, err
	}
	c.invalidate(stmt.Name)
	return &types.Result{Columns: []string{}, Rows: []types.Row{}}, nil
}

// runAlterTable applies the statement to every shard and keeps topology
// metadata in step for renames.
func (c *Conductor) runAlterTable(ctx context.Context, stmt *sqlparser.AlterTableStatement) (*types.Result, error) {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	table, ok := snap.Table(stmt.Table)
	if !ok {
		return nil, cerr.NewSchemaError(cerr.CodeTableNotFound, fmt.Sprintf("table %s does not exist", stmt.Table))
	}
	if stmt.Action == sqlparser.AlterDropColumn && stmt.OldColumn == table.ShardKey {
		return nil, cerr.NewSchemaError(cerr.CodeColumnNotFound,
			fmt.Sprintf("cannot drop shard key column %s", stmt.OldColumn))
	}

	calls := ddlCalls(snap.ShardsOf(stmt.Table), stmt.String())
	outcomes := c.executor.FanOut(ctx, stmt.Table, calls, false)
	if err := combineErrors(outcomes, true); err != nil {
		return nil, err
	}

	switch stmt.Action {
	case sqlparser.AlterRenameTable:
		if err := c.store.RenameTable(ctx, stmt.Table, stmt.NewName); err != nil {
			return nil, err
		}
		c.invalidate(stmt.NewName)
	case sqlparser.AlterRenameColumn:
		if stmt.OldColumn == table.PKColumn || stmt.OldColumn == table.ShardKey {
			meta := table
			if stmt.OldColumn == meta.PKColumn {
				meta.PKColumn = stmt.NewName
			}
			if stmt.OldColumn == meta.ShardKey {
				meta.ShardKey = stmt.NewName
			}
			if err := c.store.UpdateTopology(ctx, topology.TableDelta{Update: []topology.TableMeta{meta}}); err != nil {
				return nil, err
			}
		}
	}
	c.invalidate(stmt.Table)
	return &types.Result{Columns: []string{}, Rows: []types.Row{}}, nil
}

// runPragma fans the pragma out to every shard of every table and unions
// the rows.
func (c *Conductor) runPragma(ctx context.Context, stmt *sqlparser.PragmaStatement, params []interface{}) (*types.Result, error) {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	sql := stmt.String()
	out := &types.Result{Columns: []string{}, Rows: []types.Row{}}
	for tableName := range snap.Tables {
		var calls []shardCall
		for _, target := range allTargets(snap.ShardsOf(tableName)) {
			calls = append(calls, shardCall{target: target, reqs: []shard.Request{{
				Query: sql, Params: params, Type: types.QueryPragma,
			}}})
		}
		outcomes := c.executor.FanOut(ctx, tableName, calls, true)
		if err := combineErrors(outcomes, false); err != nil {
			return nil, err
		}
		for _, o := range outcomes {
			res := o.first()
			if res == nil {
				continue
			}
			if len(out.Columns) == 0 {
				out.Columns = res.Columns
			}
			for _, row := range res.Rows {
				out.Rows = append(out.Rows, rowToMap(res.Columns, row, -1))
			}
		}
	}
	return out, nil
}

// DrainDeadLetters exposes the queue's DLQ when the conductor owns an
// in-process queue; nil otherwise.
func (c *Conductor) DrainDeadLetters() []*maintenance.Message {
	if q, ok := c.queue.(*maintenance.Queue); ok {
		return q.DeadLetters()
	}
	return nil
}

// ddlCalls builds one identical DDL call per shard.
func ddlCalls(shards []topology.TableShard, sql string) []shardCall {
	var calls []shardCall
	for _, target := range allTargets(shards) {
		calls = append(calls, shardCall{target: target, reqs: []shard.Request{{
			Query: sql, Type: types.QueryDDL,
		}}})
	}
	return calls
}

// shardStats assembles the per-shard observability block.
func shardStats(outcomes []shardOutcome, readPath bool) []types.ShardStats {
	stats := make([]types.ShardStats, 0, len(outcomes))
	for _, o := range outcomes {
		s := types.ShardStats{
			ShardID:    o.target.ShardID,
			NodeID:     o.target.NodeID,
			DurationMs: o.duration.Milliseconds(),
		}
		for _, res := range o.results {
			if res == nil {
				continue
			}
			s.RowsAffected += res.RowsAffected
		}
		if readPath {
			if res := o.first(); res != nil {
				s.RowsReturned = int64(len(res.Rows))
			}
		}
		stats = append(stats, s)
	}
	return stats
}

// tableOf extracts the table a statement touches, for cache tagging.
func tableOf(stmt sqlparser.Statement) string {
	switch s := stmt.(type) {
	case *sqlparser.SelectStatement:
		if s.From != nil {
			return s.From.Name
		}
	case *sqlparser.InsertStatement:
		return s.Table
	case *sqlparser.UpdateStatement:
		return s.Table
	case *sqlparser.DeleteStatement:
		return s.Table
	case *sqlparser.CreateTableStatement:
		return s.Name
	case *sqlparser.CreateIndexStatement:
		return s.Table
	case *sqlparser.DropTableStatement:
		return s.Name
	case *sqlparser.AlterTableStatement:
		return s.Table
	}
	return ""
}
