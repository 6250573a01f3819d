package store

import (
	"context"
	"errors"

	"github.com/wormhole-demo/portal-transfer/internal"
)

// ErrNotFound is returned by Load for unknown transfer IDs.
var ErrNotFound = errors.New("transfer not found")

// Store journals snapshots and serves them back for resume and status.
type Store interface {
	internal.Recorder
	Load(ctx context.Context, transferID string) (internal.Snapshot, error)
	// List returns the snapshots currently in state, or all when state is empty.
	List(ctx context.Context, state internal.Stage) ([]internal.Snapshot, error)
	Close() error
}
