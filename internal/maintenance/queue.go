package maintenance

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/golang/snappy"
	"github.com/sirupsen/logrus"

	cerr "github.com/Ankcorn/big-daddy/internal/errors"
)

var log = logrus.WithField("component", "maintenance")

// compressThreshold is the encoded-payload size above which queue payloads
// are snappy-compressed. Event batches from wide UPDATEs get large; single
// build messages do not.
const compressThreshold = 4096

// Publisher is the send side of the maintenance queue, as seen by the
// conductor. Sends are fire-and-forget: enqueue failures are logged by the
// caller and never fail the client's write.
type Publisher interface {
	Send(ctx context.Context, msg *Message) error
}

// envelope is one queued message plus its delivery bookkeeping.
type envelope struct {
	payload    []byte
	compressed bool
	attempts   int
}

// decode unpacks the envelope back into a Message.
func (e *envelope) decode() (*Message, error) {
	data := e.payload
	if e.compressed {
		var err error
		data, err = snappy.Decode(nil, e.payload)
		if err != nil {
			return nil, cerr.NewMaintenanceError(cerr.CodeDeltaFailed, "failed to decompress message", err)
		}
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, cerr.NewMaintenanceError(cerr.CodeDeltaFailed, "failed to decode message", err)
	}
	return &msg, nil
}

// Queue is the in-process maintenance queue binding: a bounded buffer with
// non-blocking publish and a dead-letter list for messages that exhaust
// their redeliveries.
type Queue struct {
	ch chan *envelope

	mu     sync.Mutex
	dlq    []*Message
	closed bool
}

// NewQueue creates a queue with the given buffer size.
func NewQueue(bufferSize int) *Queue {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Queue{ch: make(chan *envelope, bufferSize)}
}

// Send encodes and enqueues a message. A full buffer fails immediately
// rather than blocking the write path.
func (q *Queue) Send(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return cerr.NewMaintenanceError(cerr.CodeEnqueueFailed, "failed to encode message", err)
	}

	env := &envelope{payload: data}
	if len(data) > compressThreshold {
		env.payload = snappy.Encode(nil, data)
		env.compressed = true
	}

	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return cerr.NewMaintenanceError(cerr.CodeEnqueueFailed, "queue closed", nil)
	}

	select {
	case q.ch <- env:
		return nil
	case <-ctx.Done():
		return cerr.NewMaintenanceError(cerr.CodeEnqueueFailed, "send canceled", ctx.Err())
	default:
		return cerr.NewMaintenanceError(cerr.CodeEnqueueFailed, "queue buffer full", nil)
	}
}

// receiveBatch blocks for the first message, then drains up to max-1 more
// without waiting. Returns nil when the context ends.
func (q *Queue) receiveBatch(ctx context.Context, max int) []*envelope {
	var batch []*envelope

	select {
	case env := <-q.ch:
		batch = append(batch, env)
	case <-ctx.Done():
		return nil
	}

	for len(batch) < max {
		select {
		case env := <-q.ch:
			batch = append(batch, env)
		default:
			return batch
		}
	}
	return batch
}

// redeliver puts a failed envelope back on the queue.
func (q *Queue) redeliver(env *envelope) {
	select {
	case q.ch <- env:
	default:
		// Buffer full on redelivery: dead-letter rather than drop.
		q.deadLetter(env)
	}
}

// deadLetter records a message that exhausted its deliveries.
func (q *Queue) deadLetter(env *envelope) {
	msg, err := env.decode()
	if err != nil {
		log.WithError(err).Error("dead-lettering undecodable message")
		return
	}
	q.mu.Lock()
	q.dlq = append(q.dlq, msg)
	q.mu.Unlock()
	log.WithFields(logrus.Fields{
		"type":  msg.Type,
		"table": msg.TableName,
	}).Error("message moved to dead-letter queue")
}

// DeadLetters returns a copy of the dead-letter list.
func (q *Queue) DeadLetters() []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Message, len(q.dlq))
	copy(out, q.dlq)
	return out
}

// Len returns the number of buffered messages.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting new messages. The channel itself stays open so
// in-flight sends cannot race a close; consumers exit via their context.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
