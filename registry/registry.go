// Package registry implements the client side of the distributed actor
// registry: a long-poll pull loop that mirrors the cluster's "known"
// placement view, and a periodic push of what this app hosts ("own")
// (spec §4.6).
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/vactorio/vactor/logging"
)

// PushInterval is how often this app announces its own entries (spec §4.6).
const PushInterval = 30 * time.Second

// PullErrorBackoff is how long the pull loop pauses after an Obtain
// error before retrying (spec §4.6).
const PullErrorBackoff = 5 * time.Second

// Destination is one candidate host for an actor type.
type Destination struct {
	App              string
	MigrationVersion *int
}

// Placement is the placement policy for an actor type (spec §3).
type Placement struct {
	Version int
	BindIdx *int // nil if unset; negative values index from the end of id
	Sticky  bool
}

// Entry is one actor type's registry record.
type Entry struct {
	Destinations []Destination
	Placement    Placement
}

// ObtainRequest/ObtainResult/PushRequest mirror the actor-registry
// service RPC contract (spec §6).
type ObtainRequest struct {
	Nonce      string
	ActorTypes []string
}

type ObtainResult struct {
	Nonce     string
	ActorInfo map[string]Entry
}

type PushRequest struct {
	Application string
	ActorInfo   map[string]Entry
}

// ServiceClient is the client-side contract for the (out-of-scope)
// actor-registry service.
type ServiceClient interface {
	Obtain(ctx context.Context, req ObtainRequest) (ObtainResult, error)
	Push(ctx context.Context, req PushRequest) error
}

// Client maintains the local known/own registry mirror.
type Client struct {
	svc         ServiceClient
	application string

	mu        sync.RWMutex
	known     map[string]Entry
	own       map[string]Entry
	requested map[string]bool
	nonce     string

	cancel context.CancelFunc
	wg     sync.WaitGroup

	log *logging.Logger
}

// New creates a registry Client for the given application (appID).
func New(svc ServiceClient, application string) *Client {
	return &Client{
		svc:         svc,
		application: application,
		known:       make(map[string]Entry),
		own:         make(map[string]Entry),
		requested:   make(map[string]bool),
		log:         logging.New("registry", application),
	}
}

// RegisterOwn declares that this app hosts actorType with the given
// placement, to be announced on the next push. The own-map fallback in
// FindPlacement needs a destination before the first push round ever
// completes, so this app is recorded as its own (initial) destination.
func (c *Client) RegisterOwn(actorType string, placement Placement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.own[actorType]
	e.Placement = placement
	e.Destinations = []Destination{{App: c.application}}
	c.own[actorType] = e
}

// FindPlacement resolves actorType, consulting known first and falling
// back to own on miss; a miss also marks the type as requested so the
// next pull round asks the registry about it (spec §4.6).
func (c *Client) FindPlacement(actorType string) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.known[actorType]
	c.mu.RUnlock()
	if ok {
		return e, true
	}

	c.mu.Lock()
	c.requested[actorType] = true
	e, ok = c.own[actorType]
	c.mu.Unlock()
	return e, ok
}

// Start launches the pull and push background loops.
func (c *Client) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(2)
	go c.pullLoop(ctx)
	go c.pushLoop(ctx)
}

// Stop cancels the in-flight Obtain call and both background loops.
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Client) pullLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		types := make([]string, 0, len(c.requested))
		for t := range c.requested {
			types = append(types, t)
		}
		nonce := c.nonce
		c.mu.Unlock()

		res, err := c.svc.Obtain(ctx, ObtainRequest{Nonce: nonce, ActorTypes: types})
		if err != nil {
			c.log.Printf("obtain failed, retrying in %s: %v", PullErrorBackoff, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(PullErrorBackoff):
			}
			continue
		}

		c.mu.Lock()
		c.nonce = res.Nonce
		for t, e := range res.ActorInfo {
			c.known[t] = e
			delete(c.requested, t)
		}
		c.mu.Unlock()
		// Loop immediately after each reply, per spec §4.6.
	}
}

func (c *Client) pushLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(PushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			info := make(map[string]Entry, len(c.own))
			for k, v := range c.own {
				info[k] = v
			}
			c.mu.RUnlock()
			if err := c.svc.Push(ctx, PushRequest{Application: c.application, ActorInfo: info}); err != nil {
				c.log.Printf("push failed: %v", err)
			}
		}
	}
}
