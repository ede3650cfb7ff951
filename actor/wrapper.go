// Package actor implements the per-instance wrapper and LRU container
// that together form the virtual-actor runtime's instance lifecycle
// layer (spec §3, §4.1, §4.2).
package actor

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/vactorio/vactor/id"
)

// LockMode controls how an action serializes against other concurrent
// calls on the same instance (spec §4.1).
type LockMode int

const (
	LockExclusive LockMode = iota
	LockShared
	LockNone
)

// ActionFunc is the dispatch target for one named action.
type ActionFunc func(ctx context.Context, args []byte) ([]byte, error)

// ActionSpec declares one callable action on an actor type.
type ActionSpec struct {
	Name string
	Mode LockMode
	Fn   ActionFunc
}

// TypeSpec declares an actor type: how to construct an instance and
// which actions it exposes.
type TypeSpec struct {
	// New constructs a fresh instance for the given identity.
	New func(id.Identity) (any, error)
	// Actions is the method table. Only names present here are callable;
	// any other name fails with UNKNOWN_ACTION.
	Actions []ActionSpec
	// Activator/Deactivator run once, under exclusive lock, during
	// activation/deactivation respectively. Either may be nil.
	Activator   func(ctx context.Context, instance any) error
	Deactivator func(ctx context.Context, instance any) error
}

type wrapperState int

const (
	stateCreated wrapperState = iota
	stateActivating
	stateActive
	stateDeactivating
	stateInactive
)

// LockFactory acquires a distributed lock for a newly-activating
// instance. onBroken is invoked at most once if the lock is lost after
// acquisition.
type LockFactory func(ctx context.Context, id id.Identity, onBroken func()) (LockHandle, error)

// LockHandle is released when the wrapper deactivates.
type LockHandle interface {
	Release(ctx context.Context) error
}

// Wrapper is the runtime's per-instance envelope: it enforces locking,
// activation, and lifecycle around one actor instance (spec §3).
type Wrapper struct {
	id       id.Identity
	spec     TypeSpec
	lockFac  LockFactory
	instance any

	actions map[string]ActionSpec

	lifecycleMu sync.Mutex
	state       wrapperState

	rw        sync.RWMutex
	heldBy    map[string]int // call-id -> shared-hold depth (re-entrancy)
	heldByMu  sync.Mutex
	exclusive bool
	exclOwner string

	lockHandle LockHandle

	deactivateOnce sync.Once
	deactivated    chan struct{}

	timersMu sync.Mutex
	timers   []func() // cancel funcs for outstanding volatile timers
}

// NewWrapper builds a Wrapper in the `created` state. Activation happens
// lazily on the first Invoke.
func NewWrapper(identity id.Identity, spec TypeSpec, instance any, lockFac LockFactory) (*Wrapper, error) {
	actions := make(map[string]ActionSpec, len(spec.Actions))
	for _, a := range spec.Actions {
		actions[a.Name] = a
	}
	// Default to the instance's own Activate/Deactivate methods when the
	// spec declares no explicit Activator/Deactivator.
	if a, ok := instance.(interface{ Activate(context.Context) error }); ok && spec.Activator == nil {
		spec.Activator = func(ctx context.Context, _ any) error { return a.Activate(ctx) }
	}
	if d, ok := instance.(interface{ Deactivate(context.Context) error }); ok && spec.Deactivator == nil {
		spec.Deactivator = func(ctx context.Context, _ any) error { return d.Deactivate(ctx) }
	}
	return &Wrapper{
		id:          identity,
		spec:        spec,
		lockFac:     lockFac,
		instance:    instance,
		actions:     actions,
		state:       stateCreated,
		heldBy:      make(map[string]int),
		deactivated: make(chan struct{}),
	}, nil
}

// Invoke runs the named action through the full pipeline: state-check,
// activate-if-needed, per-call locking, dispatch, error classification.
func (w *Wrapper) Invoke(ctx context.Context, callID, action string, args []byte) ([]byte, *ActionError) {
	spec, ok := w.actions[action]
	if !ok {
		return nil, NewFrameworkError(CodeUnknownAction, fmt.Sprintf("unknown action %q", action), nil)
	}

	if err := w.ensureActive(ctx); err != nil {
		return nil, err
	}

	unlock, err := w.acquire(ctx, callID, spec.Mode)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-check state after acquiring the lock: a concurrent broken-lock
	// deactivation may have run while we waited.
	w.lifecycleMu.Lock()
	active := w.state == stateActive
	w.lifecycleMu.Unlock()
	if !active {
		return nil, NewFrameworkError(CodeIncorrectState, "instance is not active", nil)
	}

	result, callErr := spec.Fn(ctx, args)
	if callErr != nil {
		return nil, ClassifyActionResult(callErr)
	}
	return result, nil
}

// ensureActive runs the activation pipeline exactly once (spec §4.1).
func (w *Wrapper) ensureActive(ctx context.Context) *ActionError {
	w.lifecycleMu.Lock()
	if w.state == stateActive {
		w.lifecycleMu.Unlock()
		return nil
	}
	if w.state != stateCreated {
		w.lifecycleMu.Unlock()
		return NewFrameworkError(CodeIncorrectState, "instance is deactivating or inactive", nil)
	}
	w.state = stateActivating

	if w.lockFac != nil {
		handle, err := w.lockFac(ctx, w.id, func() { w.scheduleDeactivate() })
		if err != nil {
			w.state = stateCreated
			w.lifecycleMu.Unlock()
			// Propagate the lock client's own classified error (e.g. its
			// REDIRECT_DESTINATION parameter pointing at the current
			// holder) instead of discarding it and rebuilding a bare one.
			if ae, ok := FromErr(err); ok {
				return ae
			}
			return NewFrameworkError(CodeActorLockFailed, err.Error(), nil)
		}
		w.lockHandle = handle
	}

	if w.spec.Activator != nil {
		w.rw.Lock()
		err := w.spec.Activator(ctx, w.instance)
		w.rw.Unlock()
		if err != nil {
			w.lifecycleMu.Unlock()
			w.Deactivate(ctx)
			return NewApplicationError(err)
		}
	}

	w.state = stateActive
	w.lifecycleMu.Unlock()
	return nil
}

// scheduleDeactivate is the onBroken callback passed to the lock
// factory: it triggers deactivation without blocking the caller.
func (w *Wrapper) scheduleDeactivate() {
	go func() { _ = w.Deactivate(context.Background()) }()
}

// Deactivate runs the deactivation pipeline (spec §4.1). It is
// idempotent and always releases the distributed lock.
func (w *Wrapper) Deactivate(ctx context.Context) error {
	w.lifecycleMu.Lock()
	if w.state == stateCreated {
		w.state = stateInactive
		w.lifecycleMu.Unlock()
		w.signalDeactivated()
		return nil
	}
	if w.state == stateDeactivating || w.state == stateInactive {
		w.lifecycleMu.Unlock()
		<-w.deactivated
		return nil
	}
	w.state = stateDeactivating
	w.lifecycleMu.Unlock()

	w.cancelTimers()

	if w.spec.Deactivator != nil {
		// Best-effort: errors are logged, not surfaced.
		w.rw.Lock()
		if err := w.spec.Deactivator(ctx, w.instance); err != nil {
			log.Printf("actor: deactivator for %s failed: %v", w.id.Text(), err)
		}
		w.rw.Unlock()
	}

	if w.lockHandle != nil {
		_ = w.lockHandle.Release(ctx)
		w.lockHandle = nil
	}

	w.lifecycleMu.Lock()
	w.state = stateInactive
	w.lifecycleMu.Unlock()
	w.signalDeactivated()
	return nil
}

func (w *Wrapper) signalDeactivated() {
	w.deactivateOnce.Do(func() { close(w.deactivated) })
}

// IsActive reports whether the wrapper is in the active state.
func (w *Wrapper) IsActive() bool {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	return w.state == stateActive
}

// IsDead reports whether the wrapper has deactivated, or started
// deactivating, outside the container's own eviction path (e.g. its
// distributed lock broke mid-flight, see scheduleDeactivate) and must
// not be handed out again. The container swaps in a fresh wrapper when
// this is true (spec §4.2: the next invocation after must re-activate
// and re-acquire the lock).
func (w *Wrapper) IsDead() bool {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	return w.state == stateDeactivating || w.state == stateInactive
}

// acquire takes the per-instance RW lock per the declared LockMode.
// Call-id re-entrancy: a caller holding the exclusive lock (or a shared
// hold) for a given call-id may recursively acquire again without
// deadlocking.
func (w *Wrapper) acquire(ctx context.Context, callID string, mode LockMode) (func(), *ActionError) {
	switch mode {
	case LockNone:
		return func() {}, nil
	case LockExclusive:
		w.heldByMu.Lock()
		if w.exclusive && w.exclOwner == callID {
			w.heldByMu.Unlock()
			return func() {}, nil
		}
		w.heldByMu.Unlock()
		w.rw.Lock()
		w.heldByMu.Lock()
		w.exclusive = true
		w.exclOwner = callID
		w.heldByMu.Unlock()
		return func() {
			w.heldByMu.Lock()
			w.exclusive = false
			w.exclOwner = ""
			w.heldByMu.Unlock()
			w.rw.Unlock()
		}, nil
	case LockShared:
		w.heldByMu.Lock()
		if w.heldBy[callID] > 0 {
			w.heldBy[callID]++
			w.heldByMu.Unlock()
			return func() {
				w.heldByMu.Lock()
				w.heldBy[callID]--
				w.heldByMu.Unlock()
			}, nil
		}
		w.heldByMu.Unlock()
		w.rw.RLock()
		w.heldByMu.Lock()
		w.heldBy[callID] = 1
		w.heldByMu.Unlock()
		return func() {
			w.heldByMu.Lock()
			w.heldBy[callID]--
			if w.heldBy[callID] <= 0 {
				delete(w.heldBy, callID)
			}
			w.heldByMu.Unlock()
			w.rw.RUnlock()
		}, nil
	default:
		return nil, NewFrameworkError(CodeIncorrectState, "unknown lock mode", nil)
	}
}

// ScheduleTimer registers the cancel func of a volatile timer owned by
// the wrapper; every registered cancel func is called on deactivation.
// The wrapper neither starts the timer nor runs its callback; nothing
// here routes the callback through Invoke.
func (w *Wrapper) ScheduleTimer(cancel func()) {
	w.timersMu.Lock()
	w.timers = append(w.timers, cancel)
	w.timersMu.Unlock()
}

func (w *Wrapper) cancelTimers() {
	w.timersMu.Lock()
	timers := w.timers
	w.timers = nil
	w.timersMu.Unlock()
	for _, c := range timers {
		c()
	}
}
