package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wormhole-demo/portal-transfer/internal"
)

// Memory keeps snapshots for the lifetime of the process.
type Memory struct {
	mu        sync.RWMutex
	snapshots map[string]internal.Snapshot
}

func NewMemory() *Memory {
	return &Memory{snapshots: make(map[string]internal.Snapshot)}
}

func (m *Memory) Record(_ context.Context, snapshot internal.Snapshot) error {
	if snapshot.TransferID == "" {
		return fmt.Errorf("snapshot has no transfer id")
	}
	snapshot.Attestation = append(internal.Attestation(nil), snapshot.Attestation...)
	if snapshot.MessageKey != nil {
		key := *snapshot.MessageKey
		snapshot.MessageKey = &key
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshot.TransferID] = snapshot
	return nil
}

func (m *Memory) Load(_ context.Context, transferID string) (internal.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot, ok := m.snapshots[transferID]
	if !ok {
		return internal.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, transferID)
	}
	return snapshot, nil
}

func (m *Memory) List(_ context.Context, state internal.Stage) ([]internal.Snapshot, error) {
	m.mu.RLock()
	out := make([]internal.Snapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		if state == "" || s.State == state {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()

	sortSnapshots(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }

// sortSnapshots orders newest first.
func sortSnapshots(snapshots []internal.Snapshot) {
	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].UpdatedAt.Equal(snapshots[j].UpdatedAt) {
			return snapshots[i].TransferID < snapshots[j].TransferID
		}
		return snapshots[i].UpdatedAt.After(snapshots[j].UpdatedAt)
	})
}
