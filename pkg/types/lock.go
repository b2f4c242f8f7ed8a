package types

import "fmt"

// a lock names a cluster resource requiring coordinated access
// the waiting layer never interprets lock names, it only stores them
// and forwards them to the allocation layer
type LockName string

// owner identifies a job or task that holds or requests locks
// owners are compared by plain string order wherever a deterministic
// total order is needed (blocker choice, priority tie-break)
type Owner string

// priority orders blocked requests
// the SMALLEST value is the most important and is served first
type Priority int

// request modes understood by the allocation layer
type Mode uint8

const (
	Release Mode = iota
	Shared
	Exclusive
)

func (m Mode) String() string {
	switch m {
	case Release:
		return "release"
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// one desired operation on one lock
// requests are replayable: the waiting layer stores them verbatim and
// resubmits them when a blocked owner becomes eligible again
type Request struct {
	Lock LockName `json:"lock"`
	Mode Mode     `json:"mode"`
}

// builds a shared acquire request
func AcquireShared(lock LockName) Request {
	return Request{Lock: lock, Mode: Shared}
}

// builds an exclusive acquire request
func AcquireExclusive(lock LockName) Request {
	return Request{Lock: lock, Mode: Exclusive}
}

// builds a release request
func ReleaseLock(lock LockName) Request {
	return Request{Lock: lock, Mode: Release}
}
