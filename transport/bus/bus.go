// Package bus implements a NATS-like Transport: each app subscribes to a
// per-app subject, outbound envelopes are batched per-receiver for one
// scheduling turn and published as a single frame, and the receiver acks
// by replying on the message's reply subject (spec §6).
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/vactorio/vactor/transport"
	"github.com/vactorio/vactor/wire"
)

const subjectPrefix = "vactor.msg."

func subjectFor(appID string) string {
	return subjectPrefix + appID
}

// Bus is a Transport backed by a NATS connection.
type Bus struct {
	nc *nats.Conn
}

// New wraps an already-connected *nats.Conn. The caller owns the
// connection's lifecycle.
func New(nc *nats.Conn) *Bus {
	return &Bus{nc: nc}
}

func (b *Bus) Connect(ctx context.Context, appID string, handler transport.Handler) (transport.Session, error) {
	sess := &session{
		nc:     b.nc,
		appID:  appID,
		queues: make(map[string]*transport.BatchQueue),
	}

	sub, err := b.nc.Subscribe(subjectFor(appID), func(msg *nats.Msg) {
		msgs, err := transport.DecodeBatch(msg.Data)
		if err != nil {
			return
		}
		for _, m := range msgs {
			env, err := wire.Decode(m)
			if err != nil {
				continue
			}
			handler(env)
		}
		if msg.Reply != "" {
			_ = msg.Respond(nil) // empty ack, per spec §6
		}
	})
	if err != nil {
		return nil, fmt.Errorf("bus: Connect: subscribe: %w", err)
	}
	sess.sub = sub
	return sess, nil
}

type session struct {
	nc    *nats.Conn
	appID string
	sub   *nats.Subscription

	mu     sync.Mutex
	queues map[string]*transport.BatchQueue
}

func (s *session) Send(ctx context.Context, env wire.Envelope) error {
	b, err := wire.Encode(env)
	if err != nil {
		return fmt.Errorf("bus: Send: encode: %w", err)
	}

	receiver := env.Receiver
	s.mu.Lock()
	q, ok := s.queues[receiver]
	if !ok {
		q = transport.NewBatchQueue(func(batch [][]byte) {
			s.publish(receiver, batch)
		})
		s.queues[receiver] = q
	}
	s.mu.Unlock()

	q.Add(b)
	return nil
}

func (s *session) publish(receiver string, batch [][]byte) {
	frame := transport.EncodeBatch(batch)

	ctx, cancel := context.WithTimeout(context.Background(), transport.AckDeadline)
	defer cancel()
	_, err := s.nc.RequestWithContext(ctx, subjectFor(receiver), frame)
	if err != nil {
		// NO_ACK: the pending calls inside this batch will surface this
		// via their own TRANSPORT_CALL_TIMEOUT once the 60s deadline
		// elapses; nothing further to do at the transport layer, which
		// has no notion of individual call-ids.
		return
	}
}

func (s *session) Close() error {
	return s.sub.Unsubscribe()
}
