package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridianlabs/escrowsync/internal/metrics"
)

// EventSink receives observed events for archival. Implemented by
// internal/archive; kept as a local interface so this package does not
// import its consumers.
type EventSink interface {
	SaveEvents(ctx context.Context, events []Event) error
	Checkpoint(ctx context.Context) (uint64, error)
	SetCheckpoint(ctx context.Context, block uint64) error
}

// WatcherConfig configures the live chain watcher.
type WatcherConfig struct {
	PollInterval time.Duration
	StartBlock   uint64 // 0 = resume from checkpoint, else chain head
}

// DefaultWatcherConfig returns sensible defaults.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{PollInterval: 15 * time.Second}
}

// Watcher polls the ledger for newly emitted events, attributes them to
// transactions, and feeds them to the live broker and the archive sink.
//
// Unlike the per-transaction aggregator, the watcher scans unfiltered, so
// ruling events arrive keyed by dispute ID only and go through the
// reverse lookup; unresolvable ones are published with the
// UnknownTransaction sentinel rather than dropped.
type Watcher struct {
	ledger   Ledger
	scanner  LedgerScanner
	resolver *DisputeResolver
	broker   *Broker
	sink     EventSink // optional
	config   WatcherConfig
	logger   *slog.Logger

	lastBlock uint64

	stop chan struct{}
	done chan struct{}
}

// NewWatcher creates a watcher. sink may be nil when no archive is
// configured.
func NewWatcher(ledger Ledger, scanner LedgerScanner, resolver *DisputeResolver, broker *Broker, sink EventSink, cfg WatcherConfig, logger *slog.Logger) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultWatcherConfig().PollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		ledger:   ledger,
		scanner:  scanner,
		resolver: resolver,
		broker:   broker,
		sink:     sink,
		config:   cfg,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start determines the starting block and begins polling.
func (w *Watcher) Start(ctx context.Context) error {
	switch {
	case w.config.StartBlock != 0:
		w.lastBlock = w.config.StartBlock
	case w.sink != nil:
		block, err := w.sink.Checkpoint(ctx)
		if err != nil {
			w.logger.Warn("checkpoint read failed, starting from chain head", "error", err)
		} else if block != 0 {
			w.lastBlock = block
		}
	}

	if w.lastBlock == 0 {
		head, err := w.ledger.HeadBlock(ctx)
		if err != nil {
			return fmt.Errorf("head block: %w", err)
		}
		w.lastBlock = head
	}

	w.logger.Info("escrow watcher started",
		"start_block", w.lastBlock,
		"poll_interval", w.config.PollInterval,
	)

	go w.pollLoop(ctx)
	return nil
}

// Stop stops the watcher and waits for the poll loop to exit.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if err := w.scanOnce(ctx); err != nil {
				w.logger.Error("event scan failed", "error", err)
			}
		}
	}
}

func (w *Watcher) scanOnce(ctx context.Context) error {
	head, err := w.ledger.HeadBlock(ctx)
	if err != nil {
		return fmt.Errorf("head block: %w", err)
	}

	// Nothing new
	if head <= w.lastBlock {
		return nil
	}

	fromBlock := w.lastBlock + 1
	toBlock := head
	if toBlock-fromBlock > maxScanSpan {
		toBlock = fromBlock + maxScanSpan
	}

	events, err := w.scanner.ScanEvents(ctx, fromBlock, toBlock)
	if err != nil {
		return fmt.Errorf("scan events [%d,%d]: %w", fromBlock, toBlock, err)
	}

	attributed := make([]Event, 0, len(events))
	for _, ev := range events {
		attributed = append(attributed, w.attribute(ctx, ev))
	}

	for _, ev := range attributed {
		w.broker.Publish(ev)
	}

	if w.sink != nil && len(attributed) > 0 {
		if err := w.sink.SaveEvents(ctx, attributed); err != nil {
			w.logger.Error("archive write failed", "count", len(attributed), "error", err)
		}
	}
	if w.sink != nil {
		if err := w.sink.SetCheckpoint(ctx, toBlock); err != nil {
			w.logger.Error("checkpoint write failed", "block", toBlock, "error", err)
		}
	}

	w.lastBlock = toBlock
	metrics.WatcherLastBlock.Set(float64(toBlock))

	if len(attributed) > 0 {
		w.logger.Info("events observed",
			"count", len(attributed), "from_block", fromBlock, "to_block", toBlock)
	}
	return nil
}

// attribute resolves the owning transaction for events whose logs do not
// carry it directly. Failures leave the UnknownTransaction sentinel in
// place; the event is still published.
func (w *Watcher) attribute(ctx context.Context, ev Event) Event {
	switch e := ev.(type) {
	case DisputeEvent:
		w.resolver.Index().Observe(e.DisputeID, e.TransactionID)
		return e
	case RulingEvent:
		if e.TransactionID != UnknownTransaction {
			return e
		}
		return withTransactionID(e, w.resolver.TransactionForDispute(ctx, e.DisputeID))
	default:
		return ev
	}
}
