package escrow

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/meridianlabs/escrowsync/internal/traces"
)

// State is the fully resolved view of one transaction at a single instant.
type State struct {
	TransactionID uint64             `json:"transactionId"`
	Status        TransactionStatus  `json:"status"`
	Dispute       *DisputeRecord     `json:"dispute,omitempty"`
	Executable    bool               `json:"executable"`
	Timeout       TimeoutEligibility `json:"timeout"`
	Snapshot      *TransactionSnapshot `json:"snapshot"`
}

// Service is the only surface exposed to callers: ordered history and
// current resolved state. It composes the aggregator, the dispute
// resolver, and the pure status/timeout helpers.
type Service struct {
	ledger     Ledger
	aggregator *Aggregator
	disputes   *DisputeResolver
	feeTimeout int64 // seconds
	now        func() time.Time
}

// ServiceOption configures the facade.
type ServiceOption func(*Service)

// WithClock overrides the wall clock (for tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates the facade. feeTimeout is the arbitration fee
// timeout the contract enforces; the caller reads it from the contract at
// boot or falls back to configuration.
func NewService(ledger Ledger, aggregator *Aggregator, disputes *DisputeResolver, feeTimeout time.Duration, opts ...ServiceOption) *Service {
	s := &Service{
		ledger:     ledger,
		aggregator: aggregator,
		disputes:   disputes,
		feeTimeout: int64(feeTimeout / time.Second),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// History returns the ordered event history for a transaction starting at
// fromBlock (0 for the earliest scan window). Best-effort: partial results
// under source failures, never an error. Pass the last seen block + 1 to
// resume a longer history.
func (s *Service) History(ctx context.Context, txID, fromBlock uint64) []Event {
	ctx, span := traces.StartSpan(ctx, "escrow.History",
		traces.TransactionID(txID), attribute.Int64("from_block", int64(fromBlock)))
	defer span.End()

	events := s.aggregator.History(ctx, txID, fromBlock)
	span.SetAttributes(attribute.Int("event_count", len(events)))
	return events
}

// CurrentState resolves the transaction's status, dispute state, and
// timeout eligibility. The wall clock is sampled exactly once so the
// returned view is internally consistent. Only the mandatory snapshot and
// arbitrator-info reads can fail the call; dispute enrichment degrades
// field by field.
func (s *Service) CurrentState(ctx context.Context, txID uint64) (*State, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.CurrentState", traces.TransactionID(txID))
	defer span.End()

	snap, err := s.ledger.ReadTransaction(ctx, txID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot read failed")
		return nil, fmt.Errorf("read transaction %d: %w", txID, err)
	}

	dispute, err := s.disputes.ResolveSnapshot(ctx, snap)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispute resolution failed")
		return nil, fmt.Errorf("resolve dispute for transaction %d: %w", txID, err)
	}

	now := s.now().Unix()

	return &State{
		TransactionID: txID,
		Status:        MapStatus(snap.RawStatus),
		Dispute:       dispute,
		Executable:    CanExecute(snap, now),
		Timeout:       CanTimeOut(snap, now, s.feeTimeout),
		Snapshot:      snap,
	}, nil
}

// FeeTimeout returns the fee timeout the facade was configured with.
func (s *Service) FeeTimeout() time.Duration {
	return time.Duration(s.feeTimeout) * time.Second
}
