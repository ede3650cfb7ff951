package portal

import (
	"math/rand"

	"github.com/vactorio/vactor/id"
	"github.com/vactorio/vactor/registry"
)

// maxRounds bounds how many destinations a single Invoke call-chain
// will try before giving up (spec §4.3).
const maxRounds = 10

// destinationIterator walks the candidate destinations for one
// Invoke call-chain: a sticky-cache hit first, then any redirect
// pushed by a prior attempt's framework error, then the placement's
// bindIdx, then a uniform-random pick over the registry's known
// destinations (spec §4.3).
type destinationIterator struct {
	identity  id.Identity
	sticky    *string
	redirect  *string
	placement registry.Placement
	dests     []registry.Destination
	minVer    *int
	prevPick  string
	round     int
}

func newDestinationIterator(identity id.Identity, stickyHit *string) *destinationIterator {
	return &destinationIterator{identity: identity, sticky: stickyHit}
}

// setEntry refreshes the candidate pool from the latest registry lookup.
func (it *destinationIterator) setEntry(entry registry.Entry) {
	it.placement = entry.Placement
	it.dests = entry.Destinations
}

// pushRedirect records a REDIRECT_DESTINATION hint from the previous
// attempt's framework error, to be tried next.
func (it *destinationIterator) pushRedirect(dest string) {
	it.redirect = &dest
}

// raiseMinVersion records a MIGRATION_VERSION hint: future candidates
// whose migration version is older than v are filtered out.
func (it *destinationIterator) raiseMinVersion(v int) {
	if it.minVer == nil || v > *it.minVer {
		it.minVer = &v
	}
}

// Next yields the next destination to try. lazy is true only for a
// sticky-cache hit; hinted is true for either a sticky or a redirect
// hit, both of which let the caller's backoff skip its wait (spec §4.3
// "sticky + lazy invariant", "fast redirect"). ok is false once the
// round budget is spent or no candidate destinations remain.
func (it *destinationIterator) Next() (dest string, lazy bool, hinted bool, ok bool) {
	it.round++
	if it.round > maxRounds {
		return "", false, false, false
	}

	if it.sticky != nil {
		d := *it.sticky
		it.sticky = nil
		it.prevPick = d
		return d, true, true, true
	}
	if it.redirect != nil {
		d := *it.redirect
		it.redirect = nil
		it.prevPick = d
		return d, false, true, true
	}
	if it.placement.BindIdx != nil {
		idx := *it.placement.BindIdx
		if idx < 0 {
			idx += len(it.identity.ID)
		}
		if idx >= 0 && idx < len(it.identity.ID) {
			d := it.identity.ID[idx]
			it.prevPick = d
			return d, false, false, true
		}
	}

	candidates := it.filteredCandidates()
	if len(candidates) == 0 {
		return "", false, false, false
	}
	pickable := candidates
	if len(candidates) > 1 {
		filtered := make([]string, 0, len(candidates))
		for _, c := range candidates {
			if c != it.prevPick {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) > 0 {
			pickable = filtered
		}
	}
	d := pickable[rand.Intn(len(pickable))]
	it.prevPick = d
	return d, false, false, true
}

func (it *destinationIterator) filteredCandidates() []string {
	out := make([]string, 0, len(it.dests))
	for _, d := range it.dests {
		if it.minVer != nil && d.MigrationVersion != nil && *d.MigrationVersion < *it.minVer {
			continue
		}
		out = append(out, d.App)
	}
	return out
}
