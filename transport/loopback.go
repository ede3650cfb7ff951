package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/vactorio/vactor/wire"
)

// loopbackRouter is the process-wide map of appID -> handler, grounded
// on the teacher's localEnvironmentsRouter pattern (environment.go):
// multiple in-memory "apps" within one test process route directly to
// each other without going over a real network.
type loopbackRouter struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

var defaultRouter = &loopbackRouter{handlers: make(map[string]Handler)}

// Loopback is an in-process Transport: envelopes are delivered directly
// to the destination app's handler within the same process. It is used
// for same-process tests and single-node deployments (spec §6,
// "transports: [] means in-proc loopback").
type Loopback struct {
	router *loopbackRouter
}

// NewLoopback creates a Loopback transport backed by the process-wide
// router, so multiple Loopback-connected apps in one process can reach
// each other.
func NewLoopback() *Loopback {
	return &Loopback{router: defaultRouter}
}

func (l *Loopback) Connect(ctx context.Context, appID string, handler Handler) (Session, error) {
	l.router.mu.Lock()
	if _, exists := l.router.handlers[appID]; exists {
		l.router.mu.Unlock()
		return nil, fmt.Errorf("transport: Loopback: appID %q already connected", appID)
	}
	l.router.handlers[appID] = handler
	l.router.mu.Unlock()

	return &loopbackSession{appID: appID, router: l.router}, nil
}

type loopbackSession struct {
	appID  string
	router *loopbackRouter
}

func (s *loopbackSession) Send(ctx context.Context, env wire.Envelope) error {
	s.router.mu.RLock()
	h, ok := s.router.handlers[env.Receiver]
	s.router.mu.RUnlock()
	if !ok {
		// Deliver a synthetic UNKNOWN_RECEIVER return immediately rather
		// than blocking; the remote layer's pending-call timeout would
		// otherwise have to fire to discover this.
		if env.Kind == wire.KindCall && env.ReturnAddress != "" {
			s.router.mu.RLock()
			retHandler, ok := s.router.handlers[env.ReturnAddress]
			s.router.mu.RUnlock()
			if ok {
				retHandler(wire.Envelope{
					Receiver:    env.ReturnAddress,
					CallID:      env.CallID,
					Kind:        wire.KindReturn,
					FailureCode: "UNKNOWN_RECEIVER",
					Return:      &wire.ReturnBody{},
				})
			}
		}
		return nil
	}
	go h(env)
	return nil
}

func (s *loopbackSession) Close() error {
	s.router.mu.Lock()
	delete(s.router.handlers, s.appID)
	s.router.mu.Unlock()
	return nil
}
