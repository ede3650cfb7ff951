// Package transport abstracts connecting, sending, and delivering
// envelopes between runtime processes, including the per-receiver
// batching and ack discipline described in spec §6.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vactorio/vactor/wire"
)

// ErrNoAck is returned when a batch is not acked within the deadline.
var ErrNoAck = errors.New("transport: NO_ACK")

// FlushInterval is how long outbound envelopes for one receiver are
// buffered before being flushed as a single batch frame (spec §6,
// "one scheduling turn").
const FlushInterval = 5 * time.Millisecond

// MaxBatchBytes forces an early flush once the buffered batch for a
// receiver would exceed this size (spec §6).
const MaxBatchBytes = 10_000

// AckDeadline is how long the sender waits for a receiver to ack a
// batch before raising NO_ACK (spec §6).
const AckDeadline = 4 * time.Second

// Handler processes one inbound envelope. It is invoked from whatever
// goroutine the Session delivers on; implementations (remote.Remote)
// are internally synchronized.
type Handler func(wire.Envelope)

// Transport connects this process to the cluster-level delivery
// mechanism.
type Transport interface {
	// Connect registers this process under appID and starts accepting
	// inbound envelopes, dispatching each to handler.
	Connect(ctx context.Context, appID string, handler Handler) (Session, error)
}

// Session is a single-writer, receiver-batched send path to the rest of
// the cluster.
type Session interface {
	// Send enqueues an envelope for delivery to env.Receiver. It returns
	// once the envelope is queued, not once it is flushed; flush errors
	// (e.g. NO_ACK) are delivered to any pending call via the remote
	// layer's timeout path.
	Send(ctx context.Context, env wire.Envelope) error
	Close() error
}

// BatchQueue buffers outbound envelopes for one receiver and flushes
// them either when FlushInterval elapses or MaxBatchBytes is exceeded
// (spec §6). Shared by every Transport implementation that batches
// per-receiver (bus.Bus; Loopback delivers immediately and has no use
// for it).
type BatchQueue struct {
	mu      sync.Mutex
	pending [][]byte
	size    int
	timer   *time.Timer
	flush   func([][]byte)
}

// NewBatchQueue creates a BatchQueue that calls flush with the
// accumulated batch whenever it fires.
func NewBatchQueue(flush func([][]byte)) *BatchQueue {
	return &BatchQueue{flush: flush}
}

// Add enqueues msg, flushing immediately if MaxBatchBytes is exceeded.
func (q *BatchQueue) Add(msg []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, msg)
	q.size += len(msg)
	if q.size >= MaxBatchBytes {
		q.flushLocked()
		return
	}
	if q.timer == nil {
		q.timer = time.AfterFunc(FlushInterval, q.flushTimer)
	}
}

func (q *BatchQueue) flushTimer() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushLocked()
}

func (q *BatchQueue) flushLocked() {
	if len(q.pending) == 0 {
		return
	}
	batch := q.pending
	q.pending = nil
	q.size = 0
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	go q.flush(batch)
}

// EncodeBatch frames a set of already-encoded messages per spec §6:
// "len1,len2,...\n" || concat(messages).
func EncodeBatch(msgs [][]byte) []byte {
	var header []byte
	for i, m := range msgs {
		if i > 0 {
			header = append(header, ',')
		}
		header = append(header, []byte(itoa(len(m)))...)
	}
	header = append(header, '\n')
	out := make([]byte, 0, len(header)+sumLens(msgs))
	out = append(out, header...)
	for _, m := range msgs {
		out = append(out, m...)
	}
	return out
}

// DecodeBatch is the inverse of EncodeBatch.
func DecodeBatch(b []byte) ([][]byte, error) {
	nl := indexByte(b, '\n')
	if nl < 0 {
		return nil, errors.New("transport: DecodeBatch: missing header newline")
	}
	header := string(b[:nl])
	rest := b[nl+1:]
	var lens []int
	if header != "" {
		start := 0
		for i := 0; i <= len(header); i++ {
			if i == len(header) || header[i] == ',' {
				n, err := atoi(header[start:i])
				if err != nil {
					return nil, err
				}
				lens = append(lens, n)
				start = i + 1
			}
		}
	}
	out := make([][]byte, 0, len(lens))
	off := 0
	for _, l := range lens {
		if off+l > len(rest) {
			return nil, errors.New("transport: DecodeBatch: truncated message")
		}
		out = append(out, rest[off:off+l])
		off += l
	}
	return out, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func sumLens(msgs [][]byte) int {
	total := 0
	for _, m := range msgs {
		total += len(m)
	}
	return total
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

func atoi(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errors.New("transport: DecodeBatch: invalid length digit")
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
