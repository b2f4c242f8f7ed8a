package raft

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turnstile-io/turnstile/pkg/fsm"
	"github.com/turnstile-io/turnstile/pkg/types"
)

func newTestNode(t *testing.T, addr string) *Node {
	t.Helper()

	node, err := NewNode(&Config{
		NodeID:    uuid.New(),
		BindAddr:  addr,
		DataDir:   t.TempDir(),
		Bootstrap: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { node.Shutdown() })

	err = node.WaitForLeader(5 * time.Second)
	require.NoError(t, err)

	return node
}

func TestGrantAndBlockThroughRaft(t *testing.T) {
	node := newTestNode(t, "127.0.0.1:15000")

	result, err := node.Apply(types.UpdateLocksCmd{
		Owner:    "job-1",
		Requests: []types.Request{types.AcquireExclusive("node/n1")},
	})
	require.NoError(t, err)

	resp := result.(fsm.UpdateLocksResponse)
	assert.Empty(t, resp.Blockers)

	result, err = node.Apply(types.UpdateLocksWaitingCmd{
		Priority: 5,
		Owner:    "job-2",
		Requests: []types.Request{types.AcquireExclusive("node/n1")},
	})
	require.NoError(t, err)

	resp = result.(fsm.UpdateLocksResponse)
	assert.Equal(t, []types.Owner{"job-1"}, resp.Blockers)

	stats := node.Stats()
	assert.Equal(t, 1, stats.HeldLocks)
	assert.Equal(t, 1, stats.QueuedOwners)
}

func TestCascadeThroughRaft(t *testing.T) {
	node := newTestNode(t, "127.0.0.1:15100")

	_, err := node.Apply(types.UpdateLocksCmd{
		Owner:    "job-1",
		Requests: []types.Request{types.AcquireExclusive("node/n1")},
	})
	require.NoError(t, err)

	_, err = node.Apply(types.UpdateLocksWaitingCmd{
		Priority: 5,
		Owner:    "job-2",
		Requests: []types.Request{types.AcquireExclusive("node/n1")},
	})
	require.NoError(t, err)

	result, err := node.Apply(types.UpdateLocksCmd{
		Owner:    "job-1",
		Requests: []types.Request{types.ReleaseLock("node/n1")},
	})
	require.NoError(t, err)

	resp := result.(fsm.UpdateLocksResponse)
	assert.Contains(t, resp.Notify, types.Owner("job-2"))
	assert.Equal(t, 0, node.Stats().QueuedOwners)
}

func TestDomainErrorsSurviveTheLog(t *testing.T) {
	node := newTestNode(t, "127.0.0.1:15200")

	_, err := node.Apply(types.CancelCmd{Owner: "nobody"})
	assert.ErrorIs(t, err, types.ErrNotPending)
}

func TestConcurrentExclusiveRequests(t *testing.T) {
	node := newTestNode(t, "127.0.0.1:15300")

	//all 3 jobs race for the same lock without queuing
	var wg sync.WaitGroup
	results := make([]fsm.UpdateLocksResponse, 3)
	errs := make([]error, 3)

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			result, err := node.Apply(types.UpdateLocksCmd{
				Owner:    types.Owner(fmt.Sprintf("job-%d", idx)),
				Requests: []types.Request{types.AcquireExclusive("contended")},
			})
			if err != nil {
				errs[idx] = err
				return
			}
			results[idx] = result.(fsm.UpdateLocksResponse)
		}(i)
	}

	wg.Wait()

	granted := 0
	blocked := 0
	for i := range results {
		require.NoError(t, errs[i])
		if len(results[i].Blockers) == 0 {
			granted++
		} else {
			blocked++
		}
	}

	assert.Equal(t, 1, granted, "exactly one job should take the lock")
	assert.Equal(t, 2, blocked, "the others see a blocking set, not an error")
	assert.Equal(t, 0, node.Stats().QueuedOwners, "direct updates never park")
}

func TestSnapshotRestoreAcrossRestart(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := &Config{
		NodeID:    uuid.New(),
		BindAddr:  "127.0.0.1:15400",
		DataDir:   tmpDir,
		Bootstrap: true,
	}

	node, err := NewNode(cfg)
	require.NoError(t, err)

	err = node.WaitForLeader(5 * time.Second)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = node.Apply(types.UpdateLocksCmd{
			Owner:    types.Owner(fmt.Sprintf("job-%d", i)),
			Requests: []types.Request{types.AcquireExclusive(types.LockName(fmt.Sprintf("node/n%d", i)))},
		})
		require.NoError(t, err)
	}
	_, err = node.Apply(types.UpdateLocksWaitingCmd{
		Priority: 1,
		Owner:    "job-9",
		Requests: []types.Request{types.AcquireExclusive("node/n0")},
	})
	require.NoError(t, err)

	statsBefore := node.Stats()
	assert.Equal(t, 5, statsBefore.HeldLocks)
	assert.Equal(t, 1, statsBefore.QueuedOwners)

	// force a snapshot so the restart restores rather than replays
	future := node.raft.Snapshot()
	require.NoError(t, future.Error())

	err = node.Shutdown()
	require.NoError(t, err)

	time.Sleep(500 * time.Millisecond)

	cfg.Bootstrap = false
	node2, err := NewNode(cfg)
	require.NoError(t, err)
	defer node2.Shutdown()

	err = node2.WaitForLeader(5 * time.Second)
	require.NoError(t, err)

	statsAfter := node2.Stats()
	assert.Equal(t, statsBefore.HeldLocks, statsAfter.HeldLocks, "grants should be restored")
	assert.Equal(t, statsBefore.QueuedOwners, statsAfter.QueuedOwners, "parked requests should be restored")
}
