// Package portal implements the remote portal: typed proxies that
// resolve an actor's destination through the registry, retry across
// candidate destinations with backoff, and cache sticky placements
// (spec §4.3).
package portal

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/vactorio/vactor/actor"
	"github.com/vactorio/vactor/id"
	"github.com/vactorio/vactor/registry"
	"github.com/vactorio/vactor/remote"
	"github.com/vactorio/vactor/wire"
)

// stickyTTL bounds how long a sticky destination is trusted before the
// portal re-resolves through the registry, mirroring the teacher's
// activation cache TTL (environment.go's ActivationCacheTTL).
const stickyTTL = 60 * time.Second

// RemoteInvoker is the subset of *remote.Remote the portal depends on.
type RemoteInvoker interface {
	Invoke(ctx context.Context, destAppID string, req remote.ActorCallRequest, sub remote.Aborter) (remote.ActorCallResponse, error)
}

// RegistryClient is the subset of *registry.Client the portal depends on.
type RegistryClient interface {
	FindPlacement(actorType string) (registry.Entry, bool)
}

// Aborter lets a caller cancel an in-flight Invoke call-chain, including
// any attempt currently in progress (spec §4.3, §5).
type Aborter struct {
	ch   chan struct{}
	once sync.Once
}

// NewAborter creates an unsignalled Aborter.
func NewAborter() *Aborter {
	return &Aborter{ch: make(chan struct{})}
}

// Signal aborts the call-chain. Safe to call more than once.
func (a *Aborter) Signal() {
	a.once.Do(func() { close(a.ch) })
}

// Done implements remote.Aborter.
func (a *Aborter) Done() <-chan struct{} {
	return a.ch
}

// Portal retrieves actor proxies (spec §4.3).
type Portal struct {
	remote     RemoteInvoker
	registry   RegistryClient
	cache      *ristretto.Cache
	newBackoff func() Backoff
}

// New creates a Portal backed by remoteInvoker and registryClient.
func New(remoteInvoker RemoteInvoker, registryClient RegistryClient) (*Portal, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6 * 10,
		MaxCost:     1e6,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("portal: New: %w", err)
	}
	return &Portal{
		remote:     remoteInvoker,
		registry:   registryClient,
		cache:      cache,
		newBackoff: NewBackoff,
	}, nil
}

// Proxy invokes actions against one actor instance (spec §4.3).
type Proxy interface {
	Invoke(ctx context.Context, action string, args []wire.Variant, opts ...InvokeOption) (wire.Variant, error)
}

// InvokeOption configures one Invoke call.
type InvokeOption func(*invokeOptions)

type invokeOptions struct {
	aborter remote.Aborter
}

// WithAborter attaches an Aborter that can cancel this call-chain.
func WithAborter(a remote.Aborter) InvokeOption {
	return func(o *invokeOptions) { o.aborter = a }
}

// Retrieve returns a Proxy for the given actor type and id (spec §4.3).
func (p *Portal) Retrieve(actorType string, idParts []string) Proxy {
	return &proxy{portal: p, identity: id.New(actorType, idParts...)}
}

type proxy struct {
	portal   *Portal
	identity id.Identity
}

func (px *proxy) Invoke(ctx context.Context, action string, args []wire.Variant, opts ...InvokeOption) (wire.Variant, error) {
	var o invokeOptions
	for _, opt := range opts {
		opt(&o)
	}

	cacheKey := string(id.Key(px.identity))
	var stickyHit *string
	if v, found := px.portal.cache.Get(cacheKey); found {
		if s, ok := v.(string); ok {
			stickyHit = &s
		}
	}

	it := newDestinationIterator(px.identity, stickyHit)
	backoff := px.portal.newBackoff()
	var placementSticky bool

	var first, last *actor.ActionError
	var nested []actor.ActionError
	record := func(ae *actor.ActionError) {
		nested = append(nested, *ae)
		if first == nil {
			first = ae
		}
		last = ae
	}

	for round := 0; ; round++ {
		if o.aborter != nil {
			select {
			case <-o.aborter.Done():
				record(actor.NewFrameworkError(actor.CodeCallInterrupted, "invocation aborted", nil))
				return wire.Variant{}, px.invokeError(first, last, nested).AsError()
			default:
			}
		}

		if entry, found := px.portal.registry.FindPlacement(px.identity.Type); found {
			it.setEntry(entry)
			placementSticky = entry.Placement.Sticky
		}

		dest, lazy, hinted, ok := it.Next()
		if !ok {
			record(actor.NewFrameworkError(actor.CodeNoReceiversAvailable, "no destinations available", nil))
		} else {
			resp, err := px.portal.remote.Invoke(ctx, dest, remote.ActorCallRequest{
				ActorType: px.identity.Type,
				ID:        px.identity.ID,
				Action:    action,
				Args:      args,
				Lazy:      lazy,
			}, o.aborter)
			if err != nil {
				record(actor.NewFrameworkError(actor.CodeTransportError, err.Error(), nil))
			} else if resp.Error != nil {
				if resp.Error.Kind() == actor.KindApplication {
					return wire.Variant{}, resp.Error.AsError()
				}
				record(resp.Error)
				if fw := resp.Error.Framework; fw != nil {
					if fw.Code == actor.CodeCallInterrupted {
						return wire.Variant{}, px.invokeError(first, last, nested).AsError()
					}
					if d, ok := fw.Parameters[actor.ParamRedirectDestination]; ok && d != "" {
						it.pushRedirect(d)
					}
					if mv, ok := fw.Parameters[actor.ParamMigrationVersion]; ok && mv != "" {
						if n, err := strconv.Atoi(mv); err == nil {
							it.raiseMinVersion(n)
						}
					}
				}
			} else {
				if placementSticky {
					px.portal.cache.SetWithTTL(cacheKey, dest, 1, stickyTTL)
				}
				var result wire.Variant
				if resp.Result != nil {
					result = *resp.Result
				}
				return result, nil
			}
		}

		// The wait is skipped only when the upcoming attempt is hinted too.
		nextHinted := it.sticky != nil || it.redirect != nil
		wait, exhausted := backoff.Next(round, hinted && nextHinted)
		if exhausted {
			break
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			var abortCh <-chan struct{}
			if o.aborter != nil {
				abortCh = o.aborter.Done()
			}
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			case <-abortCh:
				timer.Stop()
			}
		}
	}

	return wire.Variant{}, px.invokeError(first, last, nested).AsError()
}

func (px *proxy) invokeError(first, last *actor.ActionError, nested []actor.ActionError) *actor.ActionError {
	msg := "invocation failed: no attempts were made"
	if first != nil && last != nil {
		msg = fmt.Sprintf("invocation failed after %d attempt(s): first=%s last=%s", len(nested), first.Error(), last.Error())
	}
	return &actor.ActionError{Framework: &actor.FrameworkError{
		Code:    actor.CodeInvokeError,
		Message: msg,
		Nested:  nested,
	}}
}
