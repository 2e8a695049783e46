package db

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/virtual-drivefs/vdfs/trees"

	"github.com/google/uuid"
)

// Snapshot is a point-in-time serialization of a directory tree together
// with the changestamp it was taken at.
type Snapshot struct {
	ID                 uuid.UUID
	TakenAt            time.Time
	LargestChangestamp int64
	TreeState          []byte
}

type snapshotJSON struct {
	ID                 string `json:"id"`
	TakenAt            string `json:"taken_at"`
	LargestChangestamp int64  `json:"largest_changestamp"`
	TreeState          []byte `json:"tree_state"`
}

// TakeSnapshot serializes the tree and stores it as a new snapshot row.
func (p *SyncStateProvider) TakeSnapshot(tree *trees.DirectoryTree) (uuid.UUID, error) {
	state, err := tree.MarshalJSON()
	if err != nil {
		return uuid.Nil, fmt.Errorf("error marshalling directory tree: %w", err)
	}

	snapshot := &Snapshot{
		ID:                 uuid.New(),
		TakenAt:            time.Now(),
		LargestChangestamp: tree.LargestChangestamp(),
		TreeState:          state,
	}

	return p.InsertSnapshot(snapshot)
}

// RestoreSnapshot loads the snapshot with the given ID and rebuilds a
// directory tree from its serialized state.
func (p *SyncStateProvider) RestoreSnapshot(snapshotID uuid.UUID) (*trees.DirectoryTree, error) {
	snapshot, err := p.GetSnapshot(snapshotID)
	if err != nil {
		return nil, fmt.Errorf("error getting snapshot: %w", err)
	}

	return snapshot.Tree()
}

// RestoreLatestSnapshot rebuilds a directory tree from the most recent
// snapshot, or returns sql.ErrNoRows wrapped when none exist.
func (p *SyncStateProvider) RestoreLatestSnapshot() (*trees.DirectoryTree, error) {
	snapshot, err := p.GetLatestSnapshot()
	if err != nil {
		return nil, err
	}

	return snapshot.Tree()
}

// Tree deserializes the snapshot's tree state.
func (sn *Snapshot) Tree() (*trees.DirectoryTree, error) {
	tree := trees.NewDirectoryTree()
	if err := tree.UnmarshalJSON(sn.TreeState); err != nil {
		return nil, fmt.Errorf("error unmarshalling directory tree: %w", err)
	}
	return tree, nil
}

func (sn *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		ID:                 sn.ID.String(),
		TakenAt:            sn.TakenAt.Format(time.RFC3339),
		LargestChangestamp: sn.LargestChangestamp,
		TreeState:          sn.TreeState,
	})
}

func (sn *Snapshot) UnmarshalJSON(data []byte) error {
	var snap snapshotJSON

	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("error unmarshalling snapshot: %w", err)
	}

	takenAt, err := time.Parse(time.RFC3339, snap.TakenAt)
	if err != nil {
		return fmt.Errorf("error parsing time: %w", err)
	}

	sn.ID, err = uuid.Parse(snap.ID)
	if err != nil {
		return fmt.Errorf("error parsing snapshot id: %w", err)
	}
	sn.TakenAt = takenAt
	sn.LargestChangestamp = snap.LargestChangestamp
	sn.TreeState = snap.TreeState

	return nil
}
