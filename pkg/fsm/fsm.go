package fsm

import (
	"fmt"
	"sync"

	"github.com/turnstile-io/turnstile/pkg/allocation"
	"github.com/turnstile-io/turnstile/pkg/types"
	"github.com/turnstile-io/turnstile/pkg/waiting"
)

// holds the waiting structure behind a single serialized access point
// critical :
// - every applied command swaps the state pointer atomically, no
//   caller ever observes a partially updated state
// - an error leaves the previous state in place untouched
// - the notify sets must reach the caller so parked owners get woken
type FSM struct {
	mu    sync.RWMutex
	state *waiting.State
}

func New() *FSM {
	return &FSM{state: waiting.Empty()}
}

// applies a command to the waiting structure and returns the result or error
func (f *FSM) Apply(cmd types.Command) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch c := cmd.(type) {
	case types.UpdateLocksCmd:
		return f.applyUpdateLocks(c)
	case types.UpdateLocksWaitingCmd:
		return f.applyUpdateLocksWaiting(c)
	case types.CancelCmd:
		return f.applyCancel(c)
	case types.OpportunisticUnionCmd:
		return f.applyOpportunisticUnion(c)
	default:
		return nil, fmt.Errorf("unknown command type: %T", cmd)
	}
}

// returned by both update commands
// an empty Blockers slice means fully granted
type UpdateLocksResponse struct {
	Blockers []types.Owner
	Notify   []types.Owner
}

func (f *FSM) applyUpdateLocks(cmd types.UpdateLocksCmd) (any, error) {
	next, res, err := f.state.UpdateLocks(cmd.Owner, cmd.Requests)
	if err != nil {
		return nil, err
	}
	f.state = next
	return UpdateLocksResponse{
		Blockers: res.Blockers.Sorted(),
		Notify:   res.Notify.Sorted(),
	}, nil
}

func (f *FSM) applyUpdateLocksWaiting(cmd types.UpdateLocksWaitingCmd) (any, error) {
	next, res, err := f.state.UpdateLocksWaiting(cmd.Priority, cmd.Owner, cmd.Requests)
	if err != nil {
		return nil, err
	}
	f.state = next
	return UpdateLocksResponse{
		Blockers: res.Blockers.Sorted(),
		Notify:   res.Notify.Sorted(),
	}, nil
}

// returned when a pending request is withdrawn
type CancelResponse struct {
	Cancelled bool
}

func (f *FSM) applyCancel(cmd types.CancelCmd) (any, error) {
	next, err := f.state.Cancel(cmd.Owner)
	if err != nil {
		return nil, err
	}
	f.state = next
	return CancelResponse{Cancelled: true}, nil
}

// returned by the opportunistic union command
type OpportunisticUnionResponse struct {
	Acquired []types.LockName
	Notify   []types.Owner
}

func (f *FSM) applyOpportunisticUnion(cmd types.OpportunisticUnionCmd) (any, error) {
	next, acquired, notify, err := f.state.OpportunisticUnion(cmd.Owner, cmd.Requests)
	if err != nil {
		return nil, err
	}
	f.state = next
	return OpportunisticUnionResponse{
		Acquired: acquired,
		Notify:   notify.Sorted(),
	}, nil
}

// Allocation returns the current grant state. States are never mutated
// in place, so the returned allocation stays consistent even as new
// commands are applied.
func (f *FSM) Allocation() *allocation.Allocation {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.state.Allocation()
}

// Blocker reports which owner the given owner is currently parked on
func (f *FSM) Blocker(owner types.Owner) (types.Owner, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.state.Blocker(owner)
}

// current fsm stats
type Stats struct {
	HeldLocks    int
	QueuedOwners int
}

func (f *FSM) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return Stats{
		HeldLocks:    f.state.Allocation().Len(),
		QueuedOwners: f.state.QueuedOwners(),
	}
}
