// Package allocation is the base lock-allocation structure: it tracks
// which owners hold which locks and in what mode, and applies request
// lists all-or-nothing against the current grants. It knows nothing
// about queuing or priorities; that lives in pkg/waiting on top of it.
package allocation

import (
	"maps"
	"sort"

	"github.com/turnstile-io/turnstile/pkg/types"
)

// a lock is either held exclusively by one owner or shared by a set
type grant struct {
	exclusive bool
	holders   types.OwnerSet
}

func (g *grant) clone() *grant {
	return &grant{exclusive: g.exclusive, holders: g.holders.Clone()}
}

// manages the current grant state
// critical :
// - updates are all-or-nothing: a blocked or malformed request list
//   must leave the grants untouched
// - a blocking set never contains the requester itself
type Allocation struct {
	locks map[types.LockName]*grant
	owned map[types.Owner]map[types.LockName]struct{} // owner -> locks held
}

func New() *Allocation {
	return &Allocation{
		locks: make(map[types.LockName]*grant),
		owned: make(map[types.Owner]map[types.LockName]struct{}),
	}
}

// deep copy, used at the copy-on-write boundary of the waiting layer
func (a *Allocation) Clone() *Allocation {
	locks := make(map[types.LockName]*grant, len(a.locks))
	for name, g := range a.locks {
		locks[name] = g.clone()
	}
	owned := make(map[types.Owner]map[types.LockName]struct{}, len(a.owned))
	for o, held := range a.owned {
		owned[o] = maps.Clone(held)
	}
	return &Allocation{locks: locks, owned: owned}
}

// UpdateLocks attempts to apply requests for owner against the current
// grants. All-or-nothing: an empty returned set means every request was
// applied; a non-empty set names the currently conflicting holders and
// nothing was applied; an error means the request list is malformed and
// nothing was applied.
func (a *Allocation) UpdateLocks(owner types.Owner, requests []types.Request) (types.OwnerSet, error) {
	seen := make(map[types.LockName]struct{}, len(requests))
	for _, req := range requests {
		if req.Mode > types.Exclusive {
			return nil, types.ErrInvalidMode
		}
		if _, dup := seen[req.Lock]; dup {
			return nil, types.ErrRepeatedLock
		}
		seen[req.Lock] = struct{}{}
	}

	blockers := types.OwnerSet{}
	for _, req := range requests {
		blockers.Merge(a.blockers(owner, req))
	}
	if blockers.Len() > 0 {
		return blockers, nil
	}

	for _, req := range requests {
		a.apply(owner, req)
	}
	return types.OwnerSet{}, nil
}

// blockers computes the owners conflicting with a single request,
// excluding the requester
func (a *Allocation) blockers(owner types.Owner, req types.Request) types.OwnerSet {
	g, held := a.locks[req.Lock]
	if !held {
		return nil
	}

	switch req.Mode {
	case types.Release:
		return nil
	case types.Shared:
		// only an exclusive holder conflicts; the holder itself may
		// downgrade freely
		if g.exclusive && !g.holders.Has(owner) {
			return g.holders.Clone()
		}
		return nil
	default: // exclusive
		conflicting := types.OwnerSet{}
		for h := range g.holders {
			if h != owner {
				conflicting.Add(h)
			}
		}
		return conflicting
	}
}

// apply mutates the grants for one request already known to be
// unblocked and valid
func (a *Allocation) apply(owner types.Owner, req types.Request) {
	switch req.Mode {
	case types.Release:
		g, held := a.locks[req.Lock]
		if !held || !g.holders.Has(owner) {
			return // releasing a lock not held is a no-op
		}
		delete(g.holders, owner)
		if g.holders.Len() == 0 {
			delete(a.locks, req.Lock)
		}
		a.dropOwned(owner, req.Lock)

	case types.Shared:
		g, held := a.locks[req.Lock]
		if !held {
			g = &grant{holders: types.OwnerSet{}}
			a.locks[req.Lock] = g
		}
		g.exclusive = false
		g.holders.Add(owner)
		a.addOwned(owner, req.Lock)

	case types.Exclusive:
		a.locks[req.Lock] = &grant{
			exclusive: true,
			holders:   types.NewOwnerSet(owner),
		}
		a.addOwned(owner, req.Lock)
	}
}

func (a *Allocation) addOwned(owner types.Owner, lock types.LockName) {
	held := a.owned[owner]
	if held == nil {
		held = make(map[types.LockName]struct{})
		a.owned[owner] = held
	}
	held[lock] = struct{}{}
}

func (a *Allocation) dropOwned(owner types.Owner, lock types.LockName) {
	held := a.owned[owner]
	delete(held, lock)
	if len(held) == 0 {
		delete(a.owned, owner)
	}
}

// OwnersOf returns the current holders of lock
func (a *Allocation) OwnersOf(lock types.LockName) types.OwnerSet {
	g, held := a.locks[lock]
	if !held {
		return types.OwnerSet{}
	}
	return g.holders.Clone()
}

// HolderMode reports whether owner holds lock and in what mode
func (a *Allocation) HolderMode(lock types.LockName, owner types.Owner) (types.Mode, bool) {
	g, held := a.locks[lock]
	if !held || !g.holders.Has(owner) {
		return 0, false
	}
	if g.exclusive {
		return types.Exclusive, true
	}
	return types.Shared, true
}

// LocksOf returns the locks held by owner in ascending name order
func (a *Allocation) LocksOf(owner types.Owner) []types.LockName {
	held := a.owned[owner]
	locks := make([]types.LockName, 0, len(held))
	for l := range held {
		locks = append(locks, l)
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i] < locks[j] })
	return locks
}

// Len returns the number of locks currently held by anyone
func (a *Allocation) Len() int {
	return len(a.locks)
}

// serializable form of one lock's grant, used for snapshots
type GrantRecord struct {
	Lock      types.LockName `json:"lock"`
	Exclusive bool           `json:"exclusive"`
	Holders   []types.Owner  `json:"holders"`
}

// Export returns the grants in ascending lock order
func (a *Allocation) Export() []GrantRecord {
	records := make([]GrantRecord, 0, len(a.locks))
	for name, g := range a.locks {
		records = append(records, GrantRecord{
			Lock:      name,
			Exclusive: g.exclusive,
			Holders:   g.holders.Sorted(),
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Lock < records[j].Lock })
	return records
}

// Import rebuilds an allocation from exported records
func Import(records []GrantRecord) *Allocation {
	a := New()
	for _, rec := range records {
		g := &grant{exclusive: rec.Exclusive, holders: types.NewOwnerSet(rec.Holders...)}
		a.locks[rec.Lock] = g
		for _, o := range rec.Holders {
			a.addOwned(o, rec.Lock)
		}
	}
	return a
}
