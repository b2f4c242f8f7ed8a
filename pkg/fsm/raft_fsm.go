package fsm

import (
	"encoding/json"
	"io"

	"github.com/hashicorp/raft"
	"github.com/turnstile-io/turnstile/pkg/types"
	"github.com/turnstile-io/turnstile/pkg/waiting"
)

// adapter to bridge Raft's FSM interface with our internal FSM
type RaftFSM struct {
	fsm *FSM
}

func NewRaftFSM() *RaftFSM {
	return &RaftFSM{
		fsm: New(),
	}
}

func (rf *RaftFSM) GetFSM() *FSM {
	return rf.fsm
}

func (rf *RaftFSM) Apply(log *raft.Log) any {
	cmd, err := types.DecodeCommand(log.Data)
	if err != nil {
		return err
	}

	result, err := rf.fsm.Apply(cmd)
	if err != nil {
		return err
	}

	return result
}

// create a snapshot of the current waiting state
func (rf *RaftFSM) Snapshot() (raft.FSMSnapshot, error) {
	rf.fsm.mu.RLock()
	defer rf.fsm.mu.RUnlock()

	// states are persistent values, so taking the external
	// representation under the read lock is a consistent cut
	return &fsmSnapshot{snap: rf.fsm.state.Snapshot()}, nil
}

// restores the waiting state from a snapshot
// used when a node falls behind and catches up from the leader
func (rf *RaftFSM) Restore(snapshot io.ReadCloser) error {
	defer snapshot.Close()

	var snap waiting.Snapshot
	if err := json.NewDecoder(snapshot).Decode(&snap); err != nil {
		return err
	}

	rf.fsm.mu.Lock()
	defer rf.fsm.mu.Unlock()

	rf.fsm.state = waiting.FromSnapshot(&snap)
	return nil
}

// point-in-time external representation of the waiting state
type fsmSnapshot struct {
	snap *waiting.Snapshot
}

// persist snapshot to the given sink
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s.snap); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

// called when the snapshot is no longer needed
// nothing to clean up here
func (s *fsmSnapshot) Release() {}
