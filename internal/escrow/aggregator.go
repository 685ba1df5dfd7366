package escrow

import (
	"context"
	"log/slog"
	"sort"

	"github.com/meridianlabs/escrowsync/internal/metrics"
)

const (
	// maxScanSpan caps the block range a single History call scans,
	// bounding per-call cost against rate-limited RPC backends. Callers
	// wanting a longer history re-invoke with an advanced fromBlock.
	maxScanSpan = 100_000

	// headFallbackSpan is the scan span assumed when the head-block
	// query fails. The head query is advisory only.
	headFallbackSpan = 1_000_000
)

// Aggregator assembles one ordered event history per transaction from six
// independent per-kind ledger queries.
type Aggregator struct {
	ledger Ledger
	index  *DisputeIndex
	logger *slog.Logger
}

// NewAggregator creates an aggregator. index receives dispute→transaction
// correlations observed during scans; pass the resolver's index so reverse
// lookups benefit.
func NewAggregator(ledger Ledger, index *DisputeIndex, logger *slog.Logger) *Aggregator {
	if index == nil {
		index = NewDisputeIndex()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{ledger: ledger, index: index, logger: logger}
}

// History returns every event recorded for the transaction in
// [fromBlock, fromBlock+maxScanSpan], sorted by block number (log index
// breaking ties within a block).
//
// This is a best-effort observability contract, not a correctness
// guarantee: a failing event source degrades to an empty contribution and
// a warning log, and a total failure of every source yields an empty
// history. History never returns an error. Against an unchanged ledger it
// is idempotent.
func (a *Aggregator) History(ctx context.Context, txID, fromBlock uint64) []Event {
	toBlock := a.scanCeiling(ctx, fromBlock)

	// Dispute and Ruling logs are keyed by the arbitrator's dispute ID,
	// not the transaction ID, so the alternate key is resolved up front.
	// A failed snapshot read degrades just those two kinds.
	var disputeID uint64
	disputeKeyKnown := false
	if snap, err := a.ledger.ReadTransaction(ctx, txID); err != nil {
		a.logger.Warn("snapshot read failed, dispute-keyed kinds degraded",
			"transaction", txID, "error", err)
	} else {
		disputeID = snap.DisputeID
		disputeKeyKnown = true
	}

	sources := make([]source, 0, len(Kinds))
	for _, kind := range Kinds {
		kind := kind
		key, ok := a.filterKey(kind, txID, disputeID, disputeKeyKnown)
		if !ok {
			continue
		}
		sources = append(sources, source{
			kind: kind,
			fetch: func(ctx context.Context) ([]Event, error) {
				return a.ledger.QueryEvents(ctx, kind, key, fromBlock, toBlock)
			},
		})
	}

	var merged []Event
	for _, res := range fetchAll(ctx, sources) {
		if res.err != nil {
			a.logger.Warn("event source failed, degrading to empty",
				"kind", res.kind, "transaction", txID, "error", res.err)
			metrics.EventQueriesTotal.WithLabelValues(string(res.kind), "error").Inc()
			continue
		}
		metrics.EventQueriesTotal.WithLabelValues(string(res.kind), "ok").Inc()

		for _, ev := range res.events {
			// Dispute-keyed kinds were queried under this transaction's
			// own dispute ID, so attribution is already pinned.
			if res.kind == KindDispute || res.kind == KindRuling {
				ev = withTransactionID(ev, txID)
			}
			if dev, ok := ev.(DisputeEvent); ok {
				a.index.Observe(dev.DisputeID, txID)
			}
			// Events without a valid block number cannot be placed in
			// order and are dropped from the merged history.
			if ev.Base().BlockNumber == 0 {
				a.logger.Warn("dropping event with no block number",
					"kind", res.kind, "tx_hash", ev.Base().TxHash)
				continue
			}
			merged = append(merged, ev)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		bi, bj := merged[i].Base(), merged[j].Base()
		if bi.BlockNumber != bj.BlockNumber {
			return bi.BlockNumber < bj.BlockNumber
		}
		return bi.LogIndex < bj.LogIndex
	})

	return merged
}

// scanCeiling determines the upper block bound for one invocation: the
// chain head when reachable, a fixed offset past fromBlock otherwise,
// clamped to maxScanSpan either way.
func (a *Aggregator) scanCeiling(ctx context.Context, fromBlock uint64) uint64 {
	toBlock, err := a.ledger.HeadBlock(ctx)
	if err != nil {
		a.logger.Warn("head block query failed, using fallback span", "error", err)
		toBlock = fromBlock + headFallbackSpan
	}
	if toBlock < fromBlock {
		toBlock = fromBlock
	}
	if toBlock-fromBlock > maxScanSpan {
		toBlock = fromBlock + maxScanSpan
	}
	return toBlock
}

// filterKey returns the native correlation key for a kind, or ok=false
// when the kind cannot produce events for this transaction (no dispute)
// or its key could not be resolved.
func (a *Aggregator) filterKey(kind EventKind, txID, disputeID uint64, disputeKeyKnown bool) (uint64, bool) {
	switch kind {
	case KindDispute, KindRuling:
		if !disputeKeyKnown || disputeID == 0 {
			return 0, false
		}
		return disputeID, true
	default:
		// MetaEvidence is keyed by meta-evidence ID and Evidence by
		// evidence group ID; both equal the transaction ID in this
		// contract family.
		return txID, true
	}
}
