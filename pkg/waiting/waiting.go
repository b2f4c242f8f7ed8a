// Package waiting wraps the allocation structure with a priority-based
// wait queue: requests that cannot be granted immediately are parked
// under a deterministically chosen blocking owner, and every change to
// some owner's holdings cascades through the queues, retrying parked
// requests in one global (priority, owner) order.
//
// Every public operation consumes a state and returns a new one; the
// receiver is never modified. The enclosing runtime is expected to keep
// the current state behind a single serialized swap point (pkg/fsm).
package waiting

import (
	"maps"

	"github.com/google/btree"
	"github.com/turnstile-io/turnstile/pkg/allocation"
	"github.com/turnstile-io/turnstile/pkg/types"
)

// an entry parked in the wait queue of some blocking owner
// entries are ordered lexicographically by (priority, owner), so an
// ordered set of entries is automatically priority-sorted with the
// owner as tie-break
type PendingEntry struct {
	Priority types.Priority
	Owner    types.Owner
	Requests []types.Request
}

func entryLess(a, b PendingEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Owner < b.Owner
}

// where a pending owner is parked, for fast lookup and cancellation
type pendingRef struct {
	blocker types.Owner
	entry   PendingEntry
}

const queueDegree = 8

// State is the waiting structure: the current grants plus two mutually
// consistent indexes over the parked requests. An owner is a key of
// pendingOwners exactly when its entry sits in pending[blocker] for the
// recorded blocker, and each owner has at most one outstanding request.
type State struct {
	alloc         *allocation.Allocation
	pending       map[types.Owner]*btree.BTreeG[PendingEntry]
	pendingOwners map[types.Owner]pendingRef
}

// result of an update against the waiting structure
// an empty Blockers set means fully granted; a non-empty one means
// nothing was granted and names the current conflicting holders
// Notify lists the owners whose parked requests became granted as a
// consequence of this call and who should be woken
type Result struct {
	Blockers types.OwnerSet
	Notify   types.OwnerSet
}

// Empty returns a state with no locks held and nothing parked
func Empty() *State {
	return &State{
		alloc:         allocation.New(),
		pending:       make(map[types.Owner]*btree.BTreeG[PendingEntry]),
		pendingOwners: make(map[types.Owner]pendingRef),
	}
}

// clone is the copy-on-write boundary: btree.Clone shares structure
// until one side writes, so cloning a state is cheap
func (s *State) clone() *State {
	pending := make(map[types.Owner]*btree.BTreeG[PendingEntry], len(s.pending))
	for blocker, queue := range s.pending {
		pending[blocker] = queue.Clone()
	}
	return &State{
		alloc:         s.alloc.Clone(),
		pending:       pending,
		pendingOwners: maps.Clone(s.pendingOwners),
	}
}

// Allocation exposes the current grant state for status queries. The
// returned value is shared with the state and must not be modified;
// transitions never mutate it in place, so it stays valid.
func (s *State) Allocation() *allocation.Allocation {
	return s.alloc
}

// Blocker reports which owner's holdings the given owner is parked on
func (s *State) Blocker(owner types.Owner) (types.Owner, bool) {
	ref, ok := s.pendingOwners[owner]
	return ref.blocker, ok
}

// Entry returns the parked entry of owner, if any
func (s *State) Entry(owner types.Owner) (PendingEntry, bool) {
	ref, ok := s.pendingOwners[owner]
	return ref.entry, ok
}

// QueuedOwners returns the number of owners with an outstanding request
func (s *State) QueuedOwners() int {
	return len(s.pendingOwners)
}

// UpdateLocks attempts to apply requests for owner immediately, without
// queuing. Preconditions and outcomes:
//   - owner must have no outstanding request; otherwise
//     types.ErrPendingRequest, state unchanged
//   - a malformed request list propagates as an allocation error, state
//     unchanged
//   - a blocked attempt returns the blocking owners as the result and
//     changes nothing
//   - a full grant cascades through every request parked on owner and,
//     transitively, on every owner unblocked in turn; the notify set is
//     the cascade result minus owners that re-blocked along the way
func (s *State) UpdateLocks(owner types.Owner, requests []types.Request) (*State, *Result, error) {
	next := s.clone()
	res, err := next.updateLocks(owner, requests)
	if err != nil {
		return s, nil, err
	}
	return next, res, nil
}

// UpdateLocksWaiting is UpdateLocks with persistence of blocked
// requests: a blocked attempt parks (priority, owner, requests) under
// the smallest blocking owner instead of discarding it. The returned
// result is exactly what the direct update produced; in particular a
// blocked attempt never mutates the grants, so its notify set is empty.
func (s *State) UpdateLocksWaiting(priority types.Priority, owner types.Owner, requests []types.Request) (*State, *Result, error) {
	next := s.clone()
	res, err := next.updateLocksWaiting(priority, owner, requests)
	if err != nil {
		return s, nil, err
	}
	return next, res, nil
}

// Cancel withdraws owner's parked request, removing it from both
// indexes. Fails with types.ErrNotPending if nothing is parked.
func (s *State) Cancel(owner types.Owner) (*State, error) {
	ref, ok := s.pendingOwners[owner]
	if !ok {
		return s, types.ErrNotPending
	}

	next := s.clone()
	delete(next.pendingOwners, owner)
	queue := next.pending[ref.blocker]
	queue.Delete(ref.entry)
	if queue.Len() == 0 {
		delete(next.pending, ref.blocker)
	}
	return next, nil
}

// OpportunisticUnion adds to owner's holdings whatever subset of the
// requested locks is immediately grantable, skipping the rest. Each
// request is tried on its own, in the order given. Returns the locks
// actually acquired and the owners to notify.
func (s *State) OpportunisticUnion(owner types.Owner, requests []types.Request) (*State, []types.LockName, types.OwnerSet, error) {
	if _, ok := s.pendingOwners[owner]; ok {
		return s, nil, nil, types.ErrPendingRequest
	}

	next := s.clone()
	acquired := make([]types.LockName, 0, len(requests))
	notify := types.OwnerSet{}
	for _, req := range requests {
		res, err := next.updateLocks(owner, []types.Request{req})
		if err != nil || res.Blockers.Len() > 0 {
			continue
		}
		acquired = append(acquired, req.Lock)
		notify.Merge(res.Notify)
	}
	for o := range notify {
		if _, stillPending := next.pendingOwners[o]; stillPending {
			delete(notify, o)
		}
	}
	return next, acquired, notify, nil
}

// internal mutating counterpart of UpdateLocks; exported wrappers
// clone first so callers only ever observe pure transitions
func (s *State) updateLocks(owner types.Owner, requests []types.Request) (*Result, error) {
	if _, ok := s.pendingOwners[owner]; ok {
		return nil, types.ErrPendingRequest
	}

	blockers, err := s.alloc.UpdateLocks(owner, requests)
	if err != nil {
		return nil, err
	}
	if blockers.Len() > 0 {
		return &Result{Blockers: blockers, Notify: types.OwnerSet{}}, nil
	}

	// owner's holdings changed: retry everything parked on it
	notify := s.cascade(types.OwnerSet{}, types.NewOwnerSet(owner))
	for o := range notify {
		// owners that re-blocked during the cascade are notified
		// later, when they personally become unblocked
		if _, stillPending := s.pendingOwners[o]; stillPending {
			delete(notify, o)
		}
	}
	return &Result{Blockers: types.OwnerSet{}, Notify: notify}, nil
}

func (s *State) updateLocksWaiting(priority types.Priority, owner types.Owner, requests []types.Request) (*Result, error) {
	res, err := s.updateLocks(owner, requests)
	if err != nil {
		return nil, err
	}
	if res.Blockers.Len() > 0 {
		blocker, _ := res.Blockers.Min()
		s.park(blocker, PendingEntry{Priority: priority, Owner: owner, Requests: requests})
	}
	return res, nil
}

func (s *State) park(blocker types.Owner, entry PendingEntry) {
	queue := s.pending[blocker]
	if queue == nil {
		queue = btree.NewG(queueDegree, entryLess)
		s.pending[blocker] = queue
	}
	queue.ReplaceOrInsert(entry)
	s.pendingOwners[entry.Owner] = pendingRef{blocker: blocker, entry: entry}
}

// cascade retries every request parked on the owners in todo and
// recursively continues for every owner unblocked in turn. Rounds:
// harvest the queues of all todo owners into one ordered working set,
// retry each entry through the update-or-wait path (which may cascade
// further on a grant, or re-park the entry under a new blocker), then
// recurse on the owners newly unblocked this round that have not been
// processed before. Each round's todo is disjoint from everything
// already done, so the recursion is bounded by the number of owners.
// Returns done plus every owner processed at any depth.
func (s *State) cascade(done, todo types.OwnerSet) types.OwnerSet {
	if todo.Len() == 0 {
		return done
	}

	harvested := btree.NewG(queueDegree, entryLess)
	for o := range todo {
		queue, ok := s.pending[o]
		if !ok {
			continue
		}
		delete(s.pending, o)
		queue.Ascend(func(e PendingEntry) bool {
			// about to be retried, hence no longer pending
			delete(s.pendingOwners, e.Owner)
			harvested.ReplaceOrInsert(e)
			return true
		})
	}

	unblocked := types.OwnerSet{}
	harvested.Ascend(func(e PendingEntry) bool {
		// a request that parked once cannot fail validation on replay,
		// so the error branch is unreachable here
		res, err := s.updateLocksWaiting(e.Priority, e.Owner, e.Requests)
		if err == nil {
			unblocked.Merge(res.Notify)
		}
		return true
	})

	processed := done.Clone()
	processed.Merge(todo)
	next := types.OwnerSet{}
	for o := range unblocked {
		if !processed.Has(o) {
			next.Add(o)
		}
	}
	return s.cascade(processed, next)
}
