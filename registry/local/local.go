// Package local implements an in-memory registry.ServiceClient: a
// single shared table of per-app pushes, expired on a heartbeat TTL and
// served back out through Obtain. It mirrors the teacher's kvRegistry
// server-state bookkeeping (kv_registry.go's serverState/heartbeat map),
// minus the FoundationDB transaction plumbing, which the in-memory case
// doesn't need. It does no load balancing: Obtain returns every live app
// for a type, sorted by app ID.
package local

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vactorio/vactor/registry"
)

// HeartbeatTTL is how long a pushed entry remains live without a
// follow-up push (grounded on kv_registry.go's HeartbeatTTL).
const HeartbeatTTL = 90 * time.Second

type appEntry struct {
	entry    registry.Entry
	lastSeen time.Time
}

// Service is an in-memory stand-in for the actor-registry service.
type Service struct {
	mu sync.Mutex
	// byType[actorType][app] = last pushed entry for that app.
	byType map[string]map[string]appEntry
	nonce  int
}

// New creates an empty in-memory registry service.
func New() *Service {
	return &Service{byType: make(map[string]map[string]appEntry)}
}

// Obtain implements registry.ServiceClient. It ignores long-poll
// blocking (there is nothing to wait on in-process) and returns the
// current live destinations for each requested actor type immediately.
func (s *Service) Obtain(ctx context.Context, req registry.ObtainRequest) (registry.ObtainResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := make(map[string]registry.Entry, len(req.ActorTypes))
	for _, t := range req.ActorTypes {
		apps, ok := s.byType[t]
		if !ok {
			continue
		}
		var dests []registry.Destination
		var placement registry.Placement
		havePlacement := false
		for app, e := range apps {
			if now.Sub(e.lastSeen) >= HeartbeatTTL {
				continue
			}
			dests = append(dests, registry.Destination{App: app})
			if !havePlacement {
				placement = e.entry.Placement
				havePlacement = true
			}
		}
		if len(dests) == 0 {
			continue
		}
		sort.Slice(dests, func(i, j int) bool { return dests[i].App < dests[j].App })
		out[t] = registry.Entry{Destinations: dests, Placement: placement}
	}

	s.nonce++
	return registry.ObtainResult{Nonce: itoa(s.nonce), ActorInfo: out}, nil
}

// Push implements registry.ServiceClient, recording what req.Application
// hosts as of now.
func (s *Service) Push(ctx context.Context, req registry.PushRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for t, e := range req.ActorInfo {
		apps, ok := s.byType[t]
		if !ok {
			apps = make(map[string]appEntry)
			s.byType[t] = apps
		}
		apps[req.Application] = appEntry{entry: e, lastSeen: now}
	}
	return nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
