package actor

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/vactorio/vactor/id"
)

// Container is the LRU collection of wrappers for one actor type on one
// process (spec §4.2). At most one live wrapper exists per id; eviction
// deactivates in the background without blocking admission of new ids.
type Container struct {
	actorType string
	capacity  int
	spec      TypeSpec
	lockFac   LockFactory

	mu         sync.Mutex
	entries    map[string]*list.Element // encode(id) -> element
	order      *list.List               // front = most recently used
	pending    map[string]bool          // ids currently being evicted
	finalizing bool

	evictCh chan string
	doneCh  chan struct{}
}

type containerEntry struct {
	key     string
	id      id.Identity
	wrapper *Wrapper
}

// NewContainer creates a Container with the given LRU capacity K.
func NewContainer(actorType string, capacity int, spec TypeSpec, lockFac LockFactory) *Container {
	c := &Container{
		actorType: actorType,
		capacity:  capacity,
		spec:      spec,
		lockFac:   lockFac,
		entries:   make(map[string]*list.Element),
		order:     list.New(),
		pending:   make(map[string]bool),
		evictCh:   make(chan string, 1024),
		doneCh:    make(chan struct{}),
	}
	go c.evictionWorker()
	return c
}

// Obtain returns the wrapper for id, creating it on cache miss. Fails
// with FINALIZING if the container is shutting down.
func (c *Container) Obtain(identity id.Identity) (*Wrapper, error) {
	key := string(id.Key(identity))

	c.mu.Lock()
	if c.finalizing {
		c.mu.Unlock()
		return nil, NewFrameworkError(CodeFinalizing, "container is finalizing", nil).AsError()
	}
	if el, ok := c.entries[key]; ok {
		w := el.Value.(*containerEntry).wrapper
		if !w.IsDead() {
			c.order.MoveToFront(el)
			c.mu.Unlock()
			return w, nil
		}
		// The wrapper deactivated on its own (a broken distributed lock,
		// not container eviction) but was never removed from the map;
		// replace it so the next invocation re-activates and re-acquires
		// the lock instead of failing forever with INCORRECT_STATE.
		c.order.Remove(el)
		delete(c.entries, key)
	}

	instance, err := c.spec.New(identity)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("actor: Container: New: %w", err)
	}
	w, err := NewWrapper(identity, c.spec, instance, c.lockFac)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	el := c.order.PushFront(&containerEntry{key: key, id: identity, wrapper: w})
	c.entries[key] = el
	c.mu.Unlock()

	c.maybeEvict()
	return w, nil
}

// WrapperFor is identical to Obtain, named separately to match the
// transport dispatch path's vocabulary (spec §4.2).
func (c *Container) WrapperFor(identity id.Identity) (*Wrapper, error) {
	return c.Obtain(identity)
}

// Peek returns the existing live wrapper for identity without creating
// one on a miss. Used by the lazy-call dispatch path (spec §4.3 "Lazy
// call"): a lazy call must fail over to the registry rather than
// silently activate a second instance when this app no longer hosts
// the live one.
func (c *Container) Peek(identity id.Identity) (*Wrapper, bool) {
	key := string(id.Key(identity))
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	w := el.Value.(*containerEntry).wrapper
	if w.IsDead() {
		return nil, false
	}
	return w, true
}

// Delete deactivates and removes the instance with the given id, if
// present.
func (c *Container) Delete(ctx context.Context, identity id.Identity) error {
	key := string(id.Key(identity))
	c.mu.Lock()
	el, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	w := el.Value.(*containerEntry).wrapper
	c.order.Remove(el)
	delete(c.entries, key)
	c.mu.Unlock()
	return w.Deactivate(ctx)
}

// Finalize blocks new creations and deactivates every live instance.
func (c *Container) Finalize(ctx context.Context) error {
	c.mu.Lock()
	c.finalizing = true
	var wrappers []*Wrapper
	for el := c.order.Front(); el != nil; el = el.Next() {
		wrappers = append(wrappers, el.Value.(*containerEntry).wrapper)
	}
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.mu.Unlock()

	for _, w := range wrappers {
		_ = w.Deactivate(ctx)
	}
	close(c.evictCh)
	<-c.doneCh
	return nil
}

func (c *Container) maybeEvict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.entries)-len(c.pending) > c.capacity {
		el := c.order.Back()
		for el != nil {
			entry := el.Value.(*containerEntry)
			if !c.pending[entry.key] {
				break
			}
			el = el.Prev()
		}
		if el == nil {
			return
		}
		entry := el.Value.(*containerEntry)
		c.pending[entry.key] = true
		select {
		case c.evictCh <- entry.key:
		default:
			// Evict channel full: unmark it as pending so the next
			// maybeEvict call retries; this never blocks the calling
			// Obtain path.
			delete(c.pending, entry.key)
			return
		}
	}
}

// evictionWorker deactivates the oldest ids in the background so that
// Obtain never blocks on eviction (spec §4.2 invariant).
func (c *Container) evictionWorker() {
	defer close(c.doneCh)
	for key := range c.evictCh {
		c.mu.Lock()
		el, ok := c.entries[key]
		var w *Wrapper
		if ok {
			w = el.Value.(*containerEntry).wrapper
		}
		c.mu.Unlock()

		if w != nil {
			// Deactivation completes before the wrapper is removed from
			// the map, so Obtain for the same id cannot observe a
			// half-dead instance.
			_ = w.Deactivate(context.Background())
		}

		c.mu.Lock()
		if el2, ok := c.entries[key]; ok {
			c.order.Remove(el2)
			delete(c.entries, key)
		}
		delete(c.pending, key)
		c.mu.Unlock()
	}
}

// NumActivated reports the number of instances currently tracked by the
// container (active or pending eviction).
func (c *Container) NumActivated() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
