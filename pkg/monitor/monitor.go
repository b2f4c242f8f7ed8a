// Package monitor is the runtime layer between callers and the
// replicated waiting state: it submits commands, parks calling
// goroutines while their requests sit in the wait queue, and wakes
// them when a notify set names their owner. "Waiting" inside the state
// machine is a pure data-structure fact; the actual suspension and
// wake-up of callers happens here.
package monitor

import (
	"context"
	"errors"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/turnstile-io/turnstile/pkg/clock"
	"github.com/turnstile-io/turnstile/pkg/fsm"
	"github.com/turnstile-io/turnstile/pkg/metrics"
	"github.com/turnstile-io/turnstile/pkg/types"
)

// Applier applies a command against the waiting state
// satisfied by both fsm.FSM (in-process) and raft.Node (replicated)
type Applier interface {
	Apply(cmd types.Command) (any, error)
}

type Monitor struct {
	applier Applier
	logger  hclog.Logger
	clock   *clock.Clock

	mu      sync.Mutex
	waiters map[types.Owner]chan struct{}
}

func New(applier Applier, logger hclog.Logger) *Monitor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Monitor{
		applier: applier,
		logger:  logger.Named("monitor"),
		clock:   clock.New(),
		waiters: make(map[types.Owner]chan struct{}),
	}
}

// Acquire applies requests for owner at the given priority and blocks
// until they are granted or ctx is done. On a blocked result the
// request stays parked inside the state machine; ctx
// cancellation/timeout withdraws it again via the cancel command.
func (m *Monitor) Acquire(ctx context.Context, owner types.Owner, priority types.Priority, requests []types.Request) error {
	start := m.clock.Elapsed()

	// register before submitting so a wakeup racing the response
	// cannot be lost
	ch, err := m.register(owner)
	if err != nil {
		return err
	}

	result, err := m.applier.Apply(types.UpdateLocksWaitingCmd{
		Priority: priority,
		Owner:    owner,
		Requests: requests,
	})
	if err != nil {
		m.unregister(owner, ch)
		metrics.UpdatesTotal.WithLabelValues("rejected").Inc()
		return err
	}

	resp := result.(fsm.UpdateLocksResponse)
	m.wake(resp.Notify)

	if len(resp.Blockers) == 0 {
		m.unregister(owner, ch)
		metrics.UpdatesTotal.WithLabelValues("granted").Inc()
		return nil
	}

	metrics.UpdatesTotal.WithLabelValues("blocked").Inc()
	metrics.QueuedOwners.Inc()
	defer metrics.QueuedOwners.Dec()
	m.logger.Debug("owner blocked", "owner", owner, "priority", priority, "blockers", resp.Blockers)

	select {
	case <-ch:
		metrics.WaitDuration.Observe(m.clock.Since(start).Seconds())
		return nil
	case <-ctx.Done():
		m.unregister(owner, ch)
		if _, cErr := m.applier.Apply(types.CancelCmd{Owner: owner}); cErr != nil {
			if errors.Is(cErr, types.ErrNotPending) {
				// lost the race to a concurrent grant: the request
				// went through after all
				metrics.WaitDuration.Observe(m.clock.Since(start).Seconds())
				return nil
			}
			return cErr
		}
		metrics.CancelsTotal.Inc()
		m.logger.Debug("request withdrawn", "owner", owner, "cause", ctx.Err())
		return ctx.Err()
	}
}

// Update applies requests for owner without queuing. A non-nil owner
// slice names the blockers of a rejected-but-retryable attempt.
func (m *Monitor) Update(ctx context.Context, owner types.Owner, requests []types.Request) ([]types.Owner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := m.applier.Apply(types.UpdateLocksCmd{Owner: owner, Requests: requests})
	if err != nil {
		metrics.UpdatesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	resp := result.(fsm.UpdateLocksResponse)
	m.wake(resp.Notify)
	if len(resp.Blockers) > 0 {
		metrics.UpdatesTotal.WithLabelValues("blocked").Inc()
		return resp.Blockers, nil
	}
	metrics.UpdatesTotal.WithLabelValues("granted").Inc()
	return nil, nil
}

// Release drops the given locks for owner. Releases never block.
func (m *Monitor) Release(ctx context.Context, owner types.Owner, locks ...types.LockName) error {
	requests := make([]types.Request, 0, len(locks))
	for _, l := range locks {
		requests = append(requests, types.ReleaseLock(l))
	}
	_, err := m.Update(ctx, owner, requests)
	return err
}

// AcquireOpportunistic grabs whatever subset of the requested locks is
// immediately available and returns it; nothing is ever parked.
func (m *Monitor) AcquireOpportunistic(ctx context.Context, owner types.Owner, requests []types.Request) ([]types.LockName, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := m.applier.Apply(types.OpportunisticUnionCmd{Owner: owner, Requests: requests})
	if err != nil {
		return nil, err
	}

	resp := result.(fsm.OpportunisticUnionResponse)
	m.wake(resp.Notify)
	return resp.Acquired, nil
}

func (m *Monitor) register(owner types.Owner) (chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.waiters[owner]; ok {
		return nil, types.ErrPendingRequest
	}
	ch := make(chan struct{})
	m.waiters[owner] = ch
	return ch, nil
}

// unregister drops owner's waiter, but only if it is still ch: a
// successor may have registered already
func (m *Monitor) unregister(owner types.Owner, ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.waiters[owner]; ok && cur == ch {
		delete(m.waiters, owner)
	}
}

// wake closes the waiter channels of every notified owner
func (m *Monitor) wake(owners []types.Owner) {
	if len(owners) == 0 {
		return
	}
	metrics.NotifySize.Observe(float64(len(owners)))

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range owners {
		if ch, ok := m.waiters[o]; ok {
			close(ch)
			delete(m.waiters, o)
		}
	}
}
