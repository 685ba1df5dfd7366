// Package archive persists decoded contract events so that history queries
// and clients catching up after downtime do not re-scan the chain. The
// chain remains the source of truth; the archive is a cache that can be
// rebuilt from block zero at any time.
package archive

import (
	"context"
	"errors"

	"github.com/meridianlabs/escrowsync/internal/escrow"
)

// ErrNoCheckpoint is returned by Checkpoint when the watcher has never
// persisted a position.
var ErrNoCheckpoint = errors.New("archive: no checkpoint recorded")

// Store is the event archive surface. It extends the watcher's sink with the
// read queries the API serves. Writes are idempotent: re-saving an event
// with a (txHash, logIndex) pair already present is a no-op, which is what
// makes watcher restarts safe.
type Store interface {
	escrow.EventSink

	// EventsByTransaction returns archived events for one transaction in
	// (blockNumber, logIndex) order, capped at limit (0 = no cap).
	EventsByTransaction(ctx context.Context, txID uint64, limit int) ([]escrow.Event, error)

	// RecentEvents returns the newest archived events across all
	// transactions, newest first, capped at limit.
	RecentEvents(ctx context.Context, limit int) ([]escrow.Event, error)
}
