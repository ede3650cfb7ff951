// Package local implements an in-memory lock.ServiceClient, used for
// single-process tests and the loopback-transport deployment mode. It
// follows the same map+mutex bookkeeping style as the teacher's
// kvRegistry server-state map (kv_registry.go).
package local

import (
	"context"
	"sync"
	"time"

	"github.com/vactorio/vactor/id"
	"github.com/vactorio/vactor/lock"
)

type heldLock struct {
	holder   string
	expireAt time.Time
}

// Service is an in-memory stand-in for the actor-lock service.
type Service struct {
	mu    sync.Mutex
	locks map[string]heldLock
}

// New creates an empty in-memory lock service.
func New() *Service {
	return &Service{locks: make(map[string]heldLock)}
}

func (s *Service) Acquire(ctx context.Context, req lock.AcquireRequest) (lock.AcquireResult, error) {
	key := string(id.Key(req.ID))
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.locks[key]
	if ok && held.holder != req.Requester && now.Before(held.expireAt) {
		return lock.AcquireResult{Duration: 0, Holders: []string{held.holder}}, nil
	}

	s.locks[key] = heldLock{holder: req.Requester, expireAt: now.Add(req.TTL)}
	return lock.AcquireResult{Duration: req.TTL}, nil
}

func (s *Service) Release(ctx context.Context, req lock.ReleaseRequest) error {
	key := string(id.Key(req.ID))
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.locks[key]; ok && held.holder == req.Requester {
		delete(s.locks, key)
	}
	return nil
}
