// Package persist implements per-actor persistence envelopes: a scalar
// value with monotonic versioning, a key/value table with optimistic
// first-write-wins concurrency, and a migration-aware wrapper around
// either (spec §4.7). Keys are packed with the same FDB tuple encoding
// the actor-identity keyspace uses (`id.Key`), grounded on
// the teacher's `getActorKey`/`getActoKVKey` helpers
// (kv_registry.go), which share one tuple-packing scheme across every
// keyspace in the system.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"

	"github.com/vactorio/vactor/actor"
	"github.com/vactorio/vactor/id"
)

// ErrConflict is returned by a Client.Store call when the caller's
// baseline no longer matches the stored version (S6 optimistic
// concurrency).
var ErrConflict = errors.New("persist: baseline conflict")

// Key packs an actor identity plus a named slot (e.g. "state", or a
// table row key) into one opaque persistence key.
func Key(actorID id.Identity, slot string) []byte {
	t := make(tuple.Tuple, 0, len(actorID.ID)+2)
	t = append(t, actorID.Type)
	for _, p := range actorID.ID {
		t = append(t, p)
	}
	t = append(t, slot)
	return t.Pack()
}

// Client is the client-side contract for the (out-of-scope) persistence
// engine (§1 explicitly excludes the storage engine itself).
type Client interface {
	Load(ctx context.Context, key []byte) (data []byte, version string, found bool, err error)
	// Store writes data under key at newVersion. If baseline is
	// non-nil, the write is rejected with ErrConflict unless the
	// currently stored version equals *baseline exactly. A nil baseline
	// writes unconditionally, whether or not a prior version exists.
	Store(ctx context.Context, key []byte, data []byte, baseline *string, newVersion string) error
	Query(ctx context.Context, keyPrefix []byte) (map[string][]byte, error)
}

// nextVersion bumps a 20-digit zero-padded decimal version string. An
// empty previous version seeds from the current wall-clock millisecond
// count, also zero-padded to 20 digits (spec §4.7).
func nextVersion(prev string) string {
	if prev == "" {
		return fmt.Sprintf("%020d", time.Now().UnixMilli())
	}
	n, err := strconv.ParseInt(prev, 10, 64)
	if err != nil {
		n = 0
	}
	return fmt.Sprintf("%020d", n+1)
}

// Scalar is a single versioned value persisted under one key.
type Scalar[T any] struct {
	client Client
	key    []byte

	mu      sync.Mutex
	value   T
	version string
	changed bool
	checked bool
}

// NewScalar creates a Scalar bound to key, backed by client.
func NewScalar[T any](client Client, key []byte) *Scalar[T] {
	return &Scalar[T]{client: client, key: key}
}

// Load returns the current value, loading it from the client on first
// call.
func (s *Scalar[T]) Load(ctx context.Context) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checked {
		return s.value, nil
	}
	data, version, found, err := s.client.Load(ctx, s.key)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("persist: Scalar.Load: %w", err)
	}
	if found {
		if err := json.Unmarshal(data, &s.value); err != nil {
			var zero T
			return zero, fmt.Errorf("persist: Scalar.Load: unmarshal: %w", err)
		}
		s.version = version
	}
	s.checked = true
	return s.value, nil
}

// Change stages a new value to be written on the next Store.
func (s *Scalar[T]) Change(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	s.changed = true
	s.checked = true
}

// Store persists the staged value, bumping the version. A no-op unless
// force is true or the value has changed since the last Store (spec
// §4.7).
func (s *Scalar[T]) Store(ctx context.Context, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !force && !s.changed {
		return nil
	}
	data, err := json.Marshal(s.value)
	if err != nil {
		return fmt.Errorf("persist: Scalar.Store: marshal: %w", err)
	}
	newVersion := nextVersion(s.version)
	if err := s.client.Store(ctx, s.key, data, nil, newVersion); err != nil {
		return fmt.Errorf("persist: Scalar.Store: %w", err)
	}
	s.version = newVersion
	s.changed = false
	return nil
}

// Table is a keyed collection of rows under one prefix, each with its
// own optimistic-concurrency baseline (spec §4.7, S6).
type Table[T any] struct {
	client Client
	prefix []byte

	mu        sync.Mutex
	baselines map[string]string
}

// NewTable creates a Table bound to keyPrefix, backed by client.
func NewTable[T any](client Client, keyPrefix []byte) *Table[T] {
	return &Table[T]{client: client, prefix: keyPrefix, baselines: make(map[string]string)}
}

func (t *Table[T]) rowKey(row string) []byte {
	return append(append([]byte(nil), t.prefix...), []byte("\x00"+row)...)
}

// Get loads one row, remembering its baseline for the next Put.
func (t *Table[T]) Get(ctx context.Context, row string) (value T, found bool, err error) {
	data, version, found, err := t.client.Load(ctx, t.rowKey(row))
	if err != nil {
		var zero T
		return zero, false, fmt.Errorf("persist: Table.Get: %w", err)
	}
	if !found {
		var zero T
		return zero, false, nil
	}
	if err := json.Unmarshal(data, &value); err != nil {
		var zero T
		return zero, false, fmt.Errorf("persist: Table.Get: unmarshal: %w", err)
	}
	t.mu.Lock()
	t.baselines[row] = version
	t.mu.Unlock()
	return value, true, nil
}

// Put writes row, using the baseline recorded by the last Get/Put as
// the optimistic-concurrency check (first write for a never-seen row
// wins unconditionally). Returns the new baseline to echo on the next
// Put, or ErrConflict if another writer raced this one.
func (t *Table[T]) Put(ctx context.Context, row string, value T) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("persist: Table.Put: marshal: %w", err)
	}

	t.mu.Lock()
	prev, have := t.baselines[row]
	t.mu.Unlock()

	var baseline *string
	if have {
		baseline = &prev
	}

	newVersion := nextVersion(prev)
	if err := t.client.Store(ctx, t.rowKey(row), data, baseline, newVersion); err != nil {
		return "", err
	}

	t.mu.Lock()
	t.baselines[row] = newVersion
	t.mu.Unlock()
	return newVersion, nil
}

// MigrationController reports the highest persisted-state version this
// process knows how to read for actorType.
type MigrationController interface {
	CurrentVersion(actorType string) int
}

type envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// Migrating wraps a Scalar[envelope] with a version gate: loads whose
// persisted version exceeds what this process understands fail with
// MIGRATION_ERROR rather than silently misreading the data (spec
// §4.7).
type Migrating[T any] struct {
	inner      *Scalar[envelope]
	actorType  string
	version    int
	controller MigrationController
}

// NewMigrating wraps a Scalar stored at key with migration-version
// checking for actorType.
func NewMigrating[T any](client Client, key []byte, actorType string, version int, controller MigrationController) *Migrating[T] {
	return &Migrating[T]{
		inner:      NewScalar[envelope](client, key),
		actorType:  actorType,
		version:    version,
		controller: controller,
	}
}

// Load returns the wrapped value, failing with MIGRATION_ERROR if the
// persisted version is newer than this process's controller allows.
func (m *Migrating[T]) Load(ctx context.Context) (T, error) {
	var zero T
	env, err := m.inner.Load(ctx)
	if err != nil {
		return zero, err
	}
	if len(env.Data) == 0 {
		return zero, nil
	}
	current := m.controller.CurrentVersion(m.actorType)
	if env.Version > current {
		return zero, actor.NewFrameworkError(actor.CodeMigrationError, fmt.Sprintf(
			"persisted version %d exceeds known version %d for actor type %q", env.Version, current, m.actorType),
			nil).AsError()
	}
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return zero, fmt.Errorf("persist: Migrating.Load: unmarshal: %w", err)
	}
	return v, nil
}

// Change stages a new value at the process's current version.
func (m *Migrating[T]) Change(v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("persist: Migrating.Change: marshal: %w", err)
	}
	m.inner.Change(envelope{Version: m.version, Data: data})
	return nil
}

// Store persists the staged value.
func (m *Migrating[T]) Store(ctx context.Context, force bool) error {
	return m.inner.Store(ctx, force)
}
