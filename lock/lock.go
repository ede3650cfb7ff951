// Package lock implements the client side of the distributed actor lock:
// lease acquisition, periodic refresh, and broken-lock notification
// (spec §4.5). The lock service itself is an external collaborator,
// reached only through the ServiceClient interface.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vactorio/vactor/actor"
	"github.com/vactorio/vactor/id"
)

// TTL is the lease duration requested on acquire/refresh (spec §3, §4.5).
const TTL = 60 * time.Second

// RefreshInterval is how often a held lock is refreshed (spec §4.5).
const RefreshInterval = 30 * time.Second

// AcquireRequest/AcquireResult/ReleaseRequest mirror the actor-lock
// service RPC contract (spec §6).
type AcquireRequest struct {
	ID          id.Identity
	Requester   string
	TTL         time.Duration
	SingleStage bool
}

type AcquireResult struct {
	Duration time.Duration // 0 means the lock was not granted
	Holders  []string
}

type ReleaseRequest struct {
	ID        id.Identity
	Requester string
}

// ServiceClient is the client-side contract for the (out-of-scope)
// actor-lock service.
type ServiceClient interface {
	Acquire(ctx context.Context, req AcquireRequest) (AcquireResult, error)
	Release(ctx context.Context, req ReleaseRequest) error
}

// Client acquires and maintains distributed actor locks.
type Client struct {
	svc       ServiceClient
	requester string

	sf singleflight.Group
}

// New creates a lock Client identified as requester (this app's ID)
// against the given lock service.
func New(svc ServiceClient, requester string) *Client {
	return &Client{svc: svc, requester: requester}
}

// Handle is released when the owning instance deactivates.
type Handle struct {
	client   *Client
	id       id.Identity
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Acquire acquires a lock for id, starting a 30s background refresher.
// onBroken fires at most once if the lock is lost after acquisition
// (spec §4.5).
func (c *Client) Acquire(ctx context.Context, target id.Identity, onBroken func()) (actor.LockHandle, error) {
	res, err := c.svc.Acquire(ctx, AcquireRequest{
		ID:          target,
		Requester:   c.requester,
		TTL:         TTL,
		SingleStage: true,
	})
	if err != nil {
		return nil, fmt.Errorf("lock: Acquire: %w", err)
	}
	if res.Duration == 0 {
		return nil, actor.NewFrameworkError(actor.CodeActorLockFailed, "lock held by another holder", map[string]string{
			actor.ParamRedirectDestination: joinHolders(res.Holders),
		}).AsError()
	}

	h := &Handle{client: c, id: target, stopCh: make(chan struct{})}
	h.ticker = time.NewTicker(RefreshInterval)
	go h.refreshLoop(onBroken)
	return h, nil
}

func (h *Handle) refreshLoop(onBroken func()) {
	var brokenOnce sync.Once
	fireBroken := func() {
		brokenOnce.Do(func() {
			if onBroken != nil {
				onBroken()
			}
		})
	}
	for {
		select {
		case <-h.stopCh:
			return
		case <-h.ticker.C:
			v, err, _ := h.client.sf.Do(string(id.Key(h.id)), func() (any, error) {
				ctx, cancel := context.WithTimeout(context.Background(), TTL)
				defer cancel()
				return h.client.svc.Acquire(ctx, AcquireRequest{
					ID:          h.id,
					Requester:   h.client.requester,
					TTL:         TTL,
					SingleStage: true,
				})
			})
			if err != nil {
				h.ticker.Stop()
				fireBroken()
				return
			}
			if res, ok := v.(AcquireResult); !ok || res.Duration == 0 {
				h.ticker.Stop()
				fireBroken()
				return
			}
		}
	}
}

// Release cancels the refresher before releasing the lock service-side,
// so a stale refresh can never race a release (spec §5 cancellation
// ordering requirement).
func (h *Handle) Release(ctx context.Context) error {
	h.stopOnce.Do(func() {
		if h.ticker != nil {
			h.ticker.Stop()
		}
		close(h.stopCh)
	})
	return h.client.svc.Release(ctx, ReleaseRequest{ID: h.id, Requester: h.client.requester})
}

func joinHolders(holders []string) string {
	out := ""
	for i, h := range holders {
		if i > 0 {
			out += ","
		}
		out += h
	}
	return out
}
