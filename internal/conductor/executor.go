package conductor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	cerr "github.com/Ankcorn/big-daddy/internal/errors"
	"github.com/Ankcorn/big-daddy/internal/shard"
)

// DefaultParallelism bounds how many shard calls run concurrently in one
// batch. The default honors external subrequest ceilings.
const DefaultParallelism = 7

// DefaultShardTimeout is applied to each shard call.
const DefaultShardTimeout = 30 * time.Second

// shardCall is one planned shard invocation: a single statement or an
// atomic batch (capture pairs).
type shardCall struct {
	target ShardTarget
	reqs   []shard.Request
}

// shardOutcome is the result of one shard call.
type shardOutcome struct {
	target   ShardTarget
	results  []*shard.Result
	err      error
	duration time.Duration
}

// first returns the primary result of the call.
func (o *shardOutcome) first() *shard.Result {
	if len(o.results) == 0 {
		return nil
	}
	return o.results[0]
}

// Executor fans calls out to shards with bounded parallelism. The shard set
// is split into batches of at most parallel calls; batches run sequentially
// and all calls within a batch run concurrently.
type Executor struct {
	registry *shard.Registry
	parallel int
	timeout  time.Duration
}

// NewExecutor creates an executor over the given node registry.
func NewExecutor(registry *shard.Registry, parallel int, timeout time.Duration) *Executor {
	if parallel <= 0 {
		parallel = DefaultParallelism
	}
	if timeout <= 0 {
		timeout = DefaultShardTimeout
	}
	return &Executor{registry: registry, parallel: parallel, timeout: timeout}
}

// FanOut executes the calls and returns outcomes in call order. readPath
// selects the cancellation policy: a failing read cancels the rest of its
// batch, while writes always run to completion because they may already
// have side effects. Every call in a started batch is attempted before the
// error decision; later batches are not started once an error is recorded.
func (e *Executor) FanOut(ctx context.Context, table string, calls []shardCall, readPath bool) []shardOutcome {
	outcomes := make([]shardOutcome, len(calls))

	for start := 0; start < len(calls); start += e.parallel {
		end := start + e.parallel
		if end > len(calls) {
			end = len(calls)
		}

		batchCtx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				outcomes[idx] = e.callShard(batchCtx, table, calls[idx])
				if outcomes[idx].err != nil && readPath {
					cancel()
				}
			}(i)
		}
		wg.Wait()
		cancel()

		for i := start; i < end; i++ {
			if outcomes[i].err != nil {
				// Remaining batches never start; their outcomes stay empty
				// and are reported as skipped.
				for j := end; j < len(calls); j++ {
					outcomes[j] = shardOutcome{
						target: calls[j].target,
						err:    cerr.NewShardError(cerr.CodeShardExecution, "skipped after earlier shard failure", nil),
					}
				}
				return outcomes
			}
		}
	}

	return outcomes
}

// callShard runs one call with its own timeout.
func (e *Executor) callShard(ctx context.Context, table string, call shardCall) (outcome shardOutcome) {
	outcome = shardOutcome{target: call.target}
	start := time.Now()
	defer func() { outcome.duration = time.Since(start) }()

	exec, err := e.registry.Get(call.target.NodeID)
	if err != nil {
		outcome.err = err
		return outcome
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if len(call.reqs) == 1 {
		res, err := exec.ExecuteQuery(callCtx, table, call.target.ShardID, call.reqs[0])
		if err != nil {
			outcome.err = classifyShardErr(call.target, err)
			return outcome
		}
		outcome.results = []*shard.Result{res}
		return outcome
	}

	results, err := exec.ExecuteBatch(callCtx, table, call.target.ShardID, call.reqs)
	if err != nil {
		outcome.err = classifyShardErr(call.target, err)
		return outcome
	}
	outcome.results = results
	return outcome
}

// classifyShardErr tags timeouts so retry policy can distinguish them.
func classifyShardErr(target ShardTarget, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return cerr.NewShardError(cerr.CodeShardTimeout,
			fmt.Sprintf("shard %d on %s timed out", target.ShardID, target.NodeID), err)
	}
	return cerr.NewShardError(cerr.CodeShardExecution,
		fmt.Sprintf("shard %d on %s failed", target.ShardID, target.NodeID), err)
}

// combineErrors rolls per-shard failures into one error. Writes surface as
// partial_write because completed shards may have applied their effects.
func combineErrors(outcomes []shardOutcome, write bool) error {
	var parts []string
	for _, o := range outcomes {
		if o.err != nil {
			parts = append(parts, o.err.Error())
		}
	}
	if len(parts) == 0 {
		return nil
	}
	msg := strings.Join(parts, "; ")
	if write {
		return cerr.NewShardError(cerr.CodePartialWrite, msg, nil)
	}
	return cerr.NewShardError(cerr.CodeShardExecution, msg, nil)
}
