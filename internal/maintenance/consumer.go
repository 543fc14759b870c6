package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/Ankcorn/big-daddy/internal/topology"
)

const (
	// batchSize is the maximum number of messages settled together.
	batchSize = 10

	// maxAttempts is the delivery cap before a message dead-letters: the
	// first delivery plus three retries.
	maxAttempts = 4
)

// Consumer drains the maintenance queue and mutates the topology catalog.
// It never runs on the query path: a slow or failing consumer delays index
// freshness, not client writes.
type Consumer struct {
	queue   *Queue
	store   *topology.Store
	builder *Builder
}

// NewConsumer creates a consumer for the given queue.
func NewConsumer(queue *Queue, store *topology.Store, builder *Builder) *Consumer {
	return &Consumer{queue: queue, store: store, builder: builder}
}

// Run consumes batches until the context ends.
func (c *Consumer) Run(ctx context.Context) {
	for {
		if !c.DrainOnce(ctx) {
			return
		}
	}
}

// DrainOnce settles a single batch. Returns false when the context ended
// before a batch arrived.
func (c *Consumer) DrainOnce(ctx context.Context) bool {
	batch := c.queue.receiveBatch(ctx, batchSize)
	if batch == nil {
		return false
	}
	c.settle(ctx, batch)
	return true
}

// Drain settles batches until the queue is empty. Used by tests and by
// shutdown to flush pending maintenance work.
func (c *Consumer) Drain(ctx context.Context) {
	for c.queue.Len() > 0 {
		if !c.DrainOnce(ctx) {
			return
		}
	}
}

// settle processes a batch with parallel settlement. A message that fails
// is redelivered with a short backoff until it exhausts maxAttempts, then
// moves to the dead-letter queue.
func (c *Consumer) settle(ctx context.Context, batch []*envelope) {
	var wg sync.WaitGroup
	for _, env := range batch {
		wg.Add(1)
		go func(env *envelope) {
			defer wg.Done()
			env.attempts++

			err := c.handle(ctx, env)
			if err == nil {
				return
			}

			log.WithError(err).WithField("attempt", env.attempts).Error("maintenance message failed")
			if env.attempts >= maxAttempts {
				c.queue.deadLetter(env)
				return
			}

			// Redelivery backoff keeps a hot-failing message from spinning
			// the consumer.
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 10 * time.Millisecond
			b.MaxInterval = 250 * time.Millisecond
			select {
			case <-time.After(b.NextBackOff()):
			case <-ctx.Done():
			}
			c.queue.redeliver(env)
		}(env)
	}
	wg.Wait()
}

// handle dispatches one message by type.
func (c *Consumer) handle(ctx context.Context, env *envelope) error {
	msg, err := env.decode()
	if err != nil {
		return err
	}

	switch msg.Type {
	case TypeBuildIndex:
		return c.handleBuild(ctx, msg)
	case TypeMaintainIndex:
		return c.handleEvents(ctx, msg)
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// handleBuild runs a build_index job and keeps the async job log current.
func (c *Consumer) handleBuild(ctx context.Context, msg *Message) error {
	if msg.JobID != "" {
		if err := c.store.UpdateJobStatus(ctx, msg.JobID, topology.JobRunning, ""); err != nil {
			log.WithError(err).Warn("failed to mark job running")
		}
	}

	err := c.builder.Build(ctx, msg.IndexName)

	if msg.JobID != "" {
		status, errMsg := topology.JobCompleted, ""
		if err != nil {
			status, errMsg = topology.JobFailed, err.Error()
		}
		if jobErr := c.store.UpdateJobStatus(ctx, msg.JobID, status, errMsg); jobErr != nil {
			log.WithError(jobErr).Warn("failed to update job status")
		}
	}

	// A failed build is terminal: the index is already marked failed with
	// the message, so redelivering the job would only repeat the failure.
	if err != nil {
		log.WithError(err).WithField("index", msg.IndexName).Error("index build failed")
	}
	return nil
}

// handleEvents applies a maintain_index_events job. Deltas are idempotent,
// so a redelivered message converges to the same catalog state.
func (c *Consumer) handleEvents(ctx context.Context, msg *Message) error {
	for _, ev := range msg.Events {
		if err := c.store.ApplyIndexDelta(ctx, ev.IndexName, ev.ShardID, ev.KeyValue, ev.Operation); err != nil {
			return fmt.Errorf("delta %s %s/%d: %w", ev.Operation, ev.KeyValue, ev.ShardID, err)
		}
	}
	log.WithFields(logrus.Fields{
		"table":          msg.TableName,
		"events":         len(msg.Events),
		"correlation_id": msg.CorrelationID,
	}).Debug("applied index deltas")
	return nil
}
