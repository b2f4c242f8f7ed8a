package storage

import (
	"os"
	"path/filepath"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
)

// RaftStore bundles the raft storage backends on a single boltdb file
// logstore : the raft log entries
// stablestore : stable raft metadata, survives restarts
// snapshotstore : snapshots of the waiting state
type RaftStore struct {
	LogStore      raft.LogStore
	StableStore   raft.StableStore
	SnapshotStore raft.SnapshotStore
}

func NewRaftStore(dataDir string) (*RaftStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "turnstile.db")

	//one boltdb serves both log and stable storage
	boltDB, err := raftboltdb.New(raftboltdb.Options{
		Path: dbPath,
	})
	if err != nil {
		return nil, err
	}

	//snapshot store (file-based)
	snapshotDir := filepath.Join(dataDir, "snapshots")
	snapshotStore, err := raft.NewFileSnapshotStore(snapshotDir, 3, os.Stderr)
	if err != nil {
		boltDB.Close()
		return nil, err
	}

	return &RaftStore{
		LogStore:      boltDB,
		StableStore:   boltDB,
		SnapshotStore: snapshotStore,
	}, nil
}

func (s *RaftStore) Close() error {
	if closer, ok := s.LogStore.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
