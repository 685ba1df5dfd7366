// Package escrow reconstructs the state of arbitrable escrow transactions
// from the raw events and contract reads an on-chain ledger exposes.
//
// The chain only gives us append-only logs and point-in-time call results.
// This package turns those into something callers can actually use:
//   - an ordered event history per transaction
//   - the current resolved state (status, dispute, timeout eligibility)
//
// Reads are best-effort: a single flaky event source degrades that one
// source, never the whole answer. See Aggregator.History.
package escrow

import (
	"context"
	"math/big"
)

// UnknownTransaction is the sentinel transaction ID used when a dispute
// cannot be correlated back to its originating transaction. Callers must
// check for it explicitly; events carrying it are real but unattributed.
const UnknownTransaction = ^uint64(0)

// TransactionSnapshot is an immutable point-in-time view of an escrow
// transaction as read from the contract. Each read produces a fresh
// snapshot; nothing mutates one after construction.
type TransactionSnapshot struct {
	ID              uint64   `json:"id"`
	Sender          string   `json:"sender"`
	Receiver        string   `json:"receiver"`
	Amount          *big.Int `json:"amount"`
	RawStatus       uint8    `json:"rawStatus"`
	TimeoutPayment  uint64   `json:"timeoutPayment"`  // seconds
	LastInteraction uint64   `json:"lastInteraction"` // unix seconds
	CreatedAt       uint64   `json:"createdAt"`       // unix seconds, 0 if unknown
	DisputeID       uint64   `json:"disputeId"`       // 0 = no dispute
	SenderFee       *big.Int `json:"senderFee"`
	ReceiverFee     *big.Int `json:"receiverFee"`
}

// HasDispute reports whether a dispute has been raised for this transaction.
func (s *TransactionSnapshot) HasDispute() bool {
	return s.DisputeID != 0
}

// AppealWindow is the arbitrator-reported appeal period for a dispute.
type AppealWindow struct {
	Start uint64 `json:"start"` // unix seconds
	End   uint64 `json:"end"`   // unix seconds
}

// DisputeRecord is the reconstructed view of an arbitration case. It is
// recomputed on every query, never persisted.
//
// Status and Ruling come from best-effort arbitrator probes: Status
// defaults to DisputeWaiting and Ruling stays nil when the probes fail.
// AppealPeriod is nil when the arbitrator backend does not support it.
type DisputeRecord struct {
	ID              uint64        `json:"id"`
	TransactionID   uint64        `json:"transactionId"`
	Status          DisputeStatus `json:"status"`
	Ruling          *Ruling       `json:"ruling,omitempty"`
	Arbitrator      string        `json:"arbitrator"`
	ExtraData       []byte        `json:"extraData,omitempty"`
	EvidenceGroupID uint64        `json:"evidenceGroupId"`
	AppealPeriod    *AppealWindow `json:"appealPeriod,omitempty"`
}

// Ledger is the contract-call surface this package consumes. The concrete
// implementation lives in internal/chain; tests substitute fakes.
//
// Every method is a pure read. Transport timeouts and connection handling
// are the implementation's concern.
type Ledger interface {
	// ReadTransaction returns a fresh snapshot of the transaction.
	ReadTransaction(ctx context.Context, id uint64) (*TransactionSnapshot, error)

	// TransactionCount returns the number of transactions the contract
	// has ever recorded.
	TransactionCount(ctx context.Context) (uint64, error)

	// QueryEvents returns decoded events of one kind over [fromBlock, toBlock],
	// filtered by the kind's native correlation key (transaction ID for
	// Payment/HasToPayFee/MetaEvidence, evidence group ID for Evidence,
	// dispute ID for Dispute/Ruling).
	QueryEvents(ctx context.Context, kind EventKind, filterKey, fromBlock, toBlock uint64) ([]Event, error)

	// HeadBlock returns the chain's current head block number.
	HeadBlock(ctx context.Context) (uint64, error)

	// ArbitratorInfo returns the arbitrator address and extra data the
	// escrow contract is configured with.
	ArbitratorInfo(ctx context.Context) (addr string, extraData []byte, err error)
}

// LedgerScanner is the optional wide-scan capability used by the live
// watcher: all event kinds over a block range, unfiltered.
type LedgerScanner interface {
	ScanEvents(ctx context.Context, fromBlock, toBlock uint64) ([]Event, error)
}

// Arbitrator is the minimal capability surface of the arbitrator contract.
// Both methods return raw numeric codes; see MapDisputeStatus and MapRuling.
type Arbitrator interface {
	DisputeStatus(ctx context.Context, disputeID uint64) (uint8, error)
	CurrentRuling(ctx context.Context, disputeID uint64) (uint64, error)
}

// AppealPeriodReader is an optional arbitrator capability. Implementations
// that support appeals additionally satisfy this interface; the resolver
// discovers it by type assertion.
type AppealPeriodReader interface {
	AppealPeriod(ctx context.Context, disputeID uint64) (start, end uint64, err error)
}
