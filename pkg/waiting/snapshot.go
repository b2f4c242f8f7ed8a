package waiting

import (
	"sort"

	"github.com/turnstile-io/turnstile/pkg/allocation"
	"github.com/turnstile-io/turnstile/pkg/types"
)

// serializable form of one parked request
type PendingRecord struct {
	Blocker  types.Owner     `json:"blocker"`
	Priority types.Priority  `json:"priority"`
	Owner    types.Owner     `json:"owner"`
	Requests []types.Request `json:"requests"`
}

// Snapshot is the external representation of a waiting state, used for
// replication snapshots. Records are emitted in a deterministic order
// so two equal states serialize identically.
type Snapshot struct {
	Grants  []allocation.GrantRecord `json:"grants"`
	Pending []PendingRecord          `json:"pending"`
}

// Snapshot converts the state into its external representation
func (s *State) Snapshot() *Snapshot {
	pending := make([]PendingRecord, 0, len(s.pendingOwners))
	for blocker, queue := range s.pending {
		queue.Ascend(func(e PendingEntry) bool {
			pending = append(pending, PendingRecord{
				Blocker:  blocker,
				Priority: e.Priority,
				Owner:    e.Owner,
				Requests: e.Requests,
			})
			return true
		})
	}
	sort.Slice(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if a.Blocker != b.Blocker {
			return a.Blocker < b.Blocker
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Owner < b.Owner
	})

	return &Snapshot{
		Grants:  s.alloc.Export(),
		Pending: pending,
	}
}

// FromSnapshot rebuilds a state from its external representation
func FromSnapshot(snap *Snapshot) *State {
	s := Empty()
	s.alloc = allocation.Import(snap.Grants)
	for _, rec := range snap.Pending {
		s.park(rec.Blocker, PendingEntry{
			Priority: rec.Priority,
			Owner:    rec.Owner,
			Requests: rec.Requests,
		})
	}
	return s
}
