package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turnstile-io/turnstile/pkg/types"
)

// TestExclusiveGrant tests an uncontended exclusive acquisition
func TestExclusiveGrant(t *testing.T) {
	a := New()

	blockers, err := a.UpdateLocks("o1", []types.Request{types.AcquireExclusive("L")})
	require.NoError(t, err)
	assert.Equal(t, 0, blockers.Len())

	mode, held := a.HolderMode("L", "o1")
	require.True(t, held)
	assert.Equal(t, types.Exclusive, mode)
	assert.Equal(t, []types.LockName{"L"}, a.LocksOf("o1"))
}

// TestSharedHoldersCoexist tests that shared grants accumulate holders
func TestSharedHoldersCoexist(t *testing.T) {
	a := New()

	for _, o := range []types.Owner{"o1", "o2", "o3"} {
		blockers, err := a.UpdateLocks(o, []types.Request{types.AcquireShared("L")})
		require.NoError(t, err)
		assert.Equal(t, 0, blockers.Len())
	}

	assert.ElementsMatch(t, []types.Owner{"o1", "o2", "o3"}, a.OwnersOf("L").Sorted())
}

// TestExclusiveBlockedByHolder tests conflict reporting against an
// exclusive holder
func TestExclusiveBlockedByHolder(t *testing.T) {
	a := New()

	_, err := a.UpdateLocks("o1", []types.Request{types.AcquireExclusive("L")})
	require.NoError(t, err)

	blockers, err := a.UpdateLocks("o2", []types.Request{types.AcquireExclusive("L")})
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.Owner{"o1"}, blockers.Sorted())

	// nothing was applied
	_, held := a.HolderMode("L", "o2")
	assert.False(t, held)
}

// TestSharedBlockedByExclusive tests that a shared request conflicts
// with a foreign exclusive holder
func TestSharedBlockedByExclusive(t *testing.T) {
	a := New()

	_, err := a.UpdateLocks("o1", []types.Request{types.AcquireExclusive("L")})
	require.NoError(t, err)

	blockers, err := a.UpdateLocks("o2", []types.Request{types.AcquireShared("L")})
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.Owner{"o1"}, blockers.Sorted())
}

// TestUpgradeBlockedByCoSharers tests that upgrading reports the other
// sharers but never the requester
func TestUpgradeBlockedByCoSharers(t *testing.T) {
	a := New()

	_, err := a.UpdateLocks("o1", []types.Request{types.AcquireShared("L")})
	require.NoError(t, err)
	_, err = a.UpdateLocks("o2", []types.Request{types.AcquireShared("L")})
	require.NoError(t, err)

	blockers, err := a.UpdateLocks("o1", []types.Request{types.AcquireExclusive("L")})
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.Owner{"o2"}, blockers.Sorted())
	assert.False(t, blockers.Has("o1"), "a blocking set never contains the requester")
}

// TestDowngradeAllowed tests that an exclusive holder may re-request
// shared without conflicting with itself
func TestDowngradeAllowed(t *testing.T) {
	a := New()

	_, err := a.UpdateLocks("o1", []types.Request{types.AcquireExclusive("L")})
	require.NoError(t, err)

	blockers, err := a.UpdateLocks("o1", []types.Request{types.AcquireShared("L")})
	require.NoError(t, err)
	assert.Equal(t, 0, blockers.Len())

	mode, held := a.HolderMode("L", "o1")
	require.True(t, held)
	assert.Equal(t, types.Shared, mode)

	// another owner can now share
	blockers, err = a.UpdateLocks("o2", []types.Request{types.AcquireShared("L")})
	require.NoError(t, err)
	assert.Equal(t, 0, blockers.Len())
}

// TestReleaseDropsGrant tests release and the disappearance of empty
// grants
func TestReleaseDropsGrant(t *testing.T) {
	a := New()

	_, err := a.UpdateLocks("o1", []types.Request{types.AcquireExclusive("L")})
	require.NoError(t, err)

	blockers, err := a.UpdateLocks("o1", []types.Request{types.ReleaseLock("L")})
	require.NoError(t, err)
	assert.Equal(t, 0, blockers.Len())
	assert.Equal(t, 0, a.Len())
	assert.Empty(t, a.LocksOf("o1"))
}

// TestReleaseUnheldIsNoop tests that releasing a lock the owner does
// not hold neither blocks nor errors
func TestReleaseUnheldIsNoop(t *testing.T) {
	a := New()

	_, err := a.UpdateLocks("o1", []types.Request{types.AcquireExclusive("L")})
	require.NoError(t, err)

	blockers, err := a.UpdateLocks("o2", []types.Request{types.ReleaseLock("L")})
	require.NoError(t, err)
	assert.Equal(t, 0, blockers.Len())

	_, held := a.HolderMode("L", "o1")
	assert.True(t, held, "the holder is unaffected")
}

// TestAllOrNothing tests that one blocked request prevents the whole
// list from being applied
func TestAllOrNothing(t *testing.T) {
	a := New()

	_, err := a.UpdateLocks("o1", []types.Request{types.AcquireExclusive("A")})
	require.NoError(t, err)

	blockers, err := a.UpdateLocks("o2", []types.Request{
		types.AcquireExclusive("B"), // free
		types.AcquireExclusive("A"), // conflicts
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.Owner{"o1"}, blockers.Sorted())

	_, held := a.HolderMode("B", "o2")
	assert.False(t, held, "the grantable half must not be applied either")
}

// TestRepeatedLockRejected tests validation of duplicate locks in one
// request list
func TestRepeatedLockRejected(t *testing.T) {
	a := New()

	_, err := a.UpdateLocks("o1", []types.Request{
		types.AcquireShared("L"),
		types.AcquireExclusive("L"),
	})
	assert.ErrorIs(t, err, types.ErrRepeatedLock)
	assert.Equal(t, 0, a.Len())
}

// TestInvalidModeRejected tests validation of unknown request modes
func TestInvalidModeRejected(t *testing.T) {
	a := New()

	_, err := a.UpdateLocks("o1", []types.Request{{Lock: "L", Mode: types.Mode(7)}})
	assert.ErrorIs(t, err, types.ErrInvalidMode)
}

// TestExportImport tests the snapshot records round-trip
func TestExportImport(t *testing.T) {
	a := New()

	_, err := a.UpdateLocks("o1", []types.Request{types.AcquireExclusive("A")})
	require.NoError(t, err)
	_, err = a.UpdateLocks("o2", []types.Request{types.AcquireShared("B")})
	require.NoError(t, err)
	_, err = a.UpdateLocks("o3", []types.Request{types.AcquireShared("B")})
	require.NoError(t, err)

	restored := Import(a.Export())
	assert.Equal(t, a.Export(), restored.Export())

	// conflicts behave identically after the round-trip
	blockers, err := restored.UpdateLocks("o4", []types.Request{types.AcquireExclusive("B")})
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.Owner{"o2", "o3"}, blockers.Sorted())
}

// TestCloneIsIndependent tests that mutating a clone leaves the
// original alone
func TestCloneIsIndependent(t *testing.T) {
	a := New()

	_, err := a.UpdateLocks("o1", []types.Request{types.AcquireExclusive("L")})
	require.NoError(t, err)

	b := a.Clone()
	_, err = b.UpdateLocks("o1", []types.Request{types.ReleaseLock("L")})
	require.NoError(t, err)

	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 0, b.Len())
}
