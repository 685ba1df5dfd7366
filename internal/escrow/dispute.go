package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/meridianlabs/escrowsync/internal/metrics"
)

// reverseScanCap bounds the brute-force dispute→transaction scan. The
// scan is O(n) over contract storage reads, so it stays capped; disputes
// beyond the cap resolve through the index or not at all.
const reverseScanCap = 100

// DisputeIndex is an incrementally-built mapping from dispute ID to the
// owning transaction ID, populated as Dispute events are observed during
// aggregation and watching. It replaces repeated linear scans for
// disputes the process has already seen.
type DisputeIndex struct {
	mu sync.RWMutex
	m  map[uint64]uint64
}

// NewDisputeIndex creates an empty index.
func NewDisputeIndex() *DisputeIndex {
	return &DisputeIndex{m: make(map[uint64]uint64)}
}

// Observe records a dispute→transaction correlation.
func (ix *DisputeIndex) Observe(disputeID, txID uint64) {
	if disputeID == 0 || txID == UnknownTransaction {
		return
	}
	ix.mu.Lock()
	ix.m[disputeID] = txID
	ix.mu.Unlock()
}

// Lookup returns the transaction owning disputeID, if observed.
func (ix *DisputeIndex) Lookup(disputeID uint64) (uint64, bool) {
	ix.mu.RLock()
	txID, ok := ix.m[disputeID]
	ix.mu.RUnlock()
	return txID, ok
}

// Len returns the number of observed correlations.
func (ix *DisputeIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.m)
}

// DisputeResolver reconstructs DisputeRecords and correlates dispute IDs
// back to transactions.
type DisputeResolver struct {
	ledger Ledger
	arb    Arbitrator // nil degrades status/ruling probes, never fails them
	index  *DisputeIndex
	logger *slog.Logger
}

// NewDisputeResolver creates a resolver. arb may be nil when no
// arbitrator client is configured; enrichment then degrades to defaults.
func NewDisputeResolver(ledger Ledger, arb Arbitrator, index *DisputeIndex, logger *slog.Logger) *DisputeResolver {
	if index == nil {
		index = NewDisputeIndex()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DisputeResolver{ledger: ledger, arb: arb, index: index, logger: logger}
}

// Index exposes the resolver's dispute index so the aggregator and
// watcher can feed observed Dispute events into it.
func (r *DisputeResolver) Index() *DisputeIndex { return r.index }

// Resolve returns the dispute record for a transaction, or (nil, nil)
// when the transaction has no dispute. The snapshot read and the
// arbitrator address/extra-data reads are mandatory and fail the call;
// everything else degrades field by field.
func (r *DisputeResolver) Resolve(ctx context.Context, txID uint64) (*DisputeRecord, error) {
	snap, err := r.ledger.ReadTransaction(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("read transaction %d: %w", txID, err)
	}
	return r.ResolveSnapshot(ctx, snap)
}

// ResolveSnapshot is Resolve for callers that already hold a fresh
// snapshot, avoiding a second contract read.
func (r *DisputeResolver) ResolveSnapshot(ctx context.Context, snap *TransactionSnapshot) (*DisputeRecord, error) {
	if !snap.HasDispute() {
		return nil, nil
	}

	arbAddr, extraData, err := r.ledger.ArbitratorInfo(ctx)
	if err != nil {
		metrics.DisputeResolutionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("arbitrator info: %w", err)
	}

	rec := &DisputeRecord{
		ID:              snap.DisputeID,
		TransactionID:   snap.ID,
		Status:          DisputeWaiting,
		Arbitrator:      arbAddr,
		ExtraData:       extraData,
		EvidenceGroupID: snap.ID,
	}
	r.index.Observe(snap.DisputeID, snap.ID)

	r.enrich(ctx, rec)
	metrics.DisputeResolutionsTotal.WithLabelValues("ok").Inc()
	return rec, nil
}

// enrich fills in arbitrator-reported fields. Each probe is isolated: a
// failed appeal-period lookup leaves that field absent without touching
// status or ruling, and a missing arbitrator client leaves all three at
// their defaults.
func (r *DisputeResolver) enrich(ctx context.Context, rec *DisputeRecord) {
	if r.arb == nil {
		r.logger.Warn("no arbitrator client configured, dispute enrichment skipped",
			"dispute", rec.ID)
		return
	}

	if code, err := r.arb.DisputeStatus(ctx, rec.ID); err != nil {
		r.logger.Warn("dispute status probe failed", "dispute", rec.ID, "error", err)
	} else {
		rec.Status = MapDisputeStatus(code)
	}

	if code, err := r.arb.CurrentRuling(ctx, rec.ID); err != nil {
		r.logger.Warn("current ruling probe failed", "dispute", rec.ID, "error", err)
	} else {
		ruling := MapRuling(code)
		rec.Ruling = &ruling
	}

	ap, ok := r.arb.(AppealPeriodReader)
	if !ok {
		return
	}
	start, end, err := ap.AppealPeriod(ctx, rec.ID)
	if err != nil {
		r.logger.Warn("appeal period probe failed", "dispute", rec.ID, "error", err)
		return
	}
	rec.AppealPeriod = &AppealWindow{Start: start, End: end}
}

// TransactionForDispute resolves a dispute ID back to its originating
// transaction ID. The index is consulted first; on a miss it falls back
// to a capped linear scan over transaction records. Returns
// UnknownTransaction when the cap is exhausted or the ledger fails.
func (r *DisputeResolver) TransactionForDispute(ctx context.Context, disputeID uint64) uint64 {
	if disputeID == 0 {
		return UnknownTransaction
	}

	if txID, ok := r.index.Lookup(disputeID); ok {
		metrics.ReverseLookupsTotal.WithLabelValues("index").Inc()
		return txID
	}

	count, err := r.ledger.TransactionCount(ctx)
	if err != nil {
		r.logger.Warn("transaction count failed, reverse lookup unresolved",
			"dispute", disputeID, "error", err)
		metrics.ReverseLookupsTotal.WithLabelValues("failed").Inc()
		return UnknownTransaction
	}

	limit := count
	if limit > reverseScanCap {
		limit = reverseScanCap
	}

	for id := uint64(0); id < limit; id++ {
		snap, err := r.ledger.ReadTransaction(ctx, id)
		if err != nil {
			r.logger.Warn("reverse lookup read failed, skipping record",
				"transaction", id, "error", err)
			continue
		}
		if snap.DisputeID == disputeID {
			r.index.Observe(disputeID, id)
			metrics.ReverseLookupsTotal.WithLabelValues("scan").Inc()
			return id
		}
	}

	metrics.ReverseLookupsTotal.WithLabelValues("unresolved").Inc()
	return UnknownTransaction
}
