package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/meridianlabs/escrowsync/internal/escrow"
	"github.com/meridianlabs/escrowsync/internal/metrics"
)

// checkpointName keys the single watcher position row. A second watcher
// against another contract would use its own name; today there is one.
const checkpointName = "watcher"

// PostgresStore implements Store with PostgreSQL. Schema lives in
// migrations/; the store assumes migrations have been applied.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed event archive.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SaveEvents(ctx context.Context, events []escrow.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO escrow_events (kind, transaction_id, block_number, block_hash, tx_hash, log_index, block_time, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::JSONB)
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("archive: prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, ev := range events {
		r, err := encodeEvent(ev)
		if err != nil {
			return err
		}
		res, err := stmt.ExecContext(ctx,
			r.Kind, r.TransactionID, r.BlockNumber, r.BlockHash, r.TxHash, r.LogIndex, r.Timestamp, r.Payload)
		if err != nil {
			return fmt.Errorf("archive: insert event %s/%d: %w", r.TxHash, r.LogIndex, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			metrics.ArchivedEventsTotal.Inc()
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Checkpoint(ctx context.Context) (uint64, error) {
	var block int64
	err := s.db.QueryRowContext(ctx, `
		SELECT block_number FROM watcher_checkpoints WHERE name = $1
	`, checkpointName).Scan(&block)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNoCheckpoint
	}
	if err != nil {
		return 0, fmt.Errorf("archive: read checkpoint: %w", err)
	}
	return uint64(block), nil // #nosec G115 -- block numbers are nonnegative
}

func (s *PostgresStore) SetCheckpoint(ctx context.Context, block uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watcher_checkpoints (name, block_number, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET block_number = EXCLUDED.block_number, updated_at = NOW()
	`, checkpointName, int64(block)) // #nosec G115 -- block numbers fit in int64
	if err != nil {
		return fmt.Errorf("archive: write checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) EventsByTransaction(ctx context.Context, txID uint64, limit int) ([]escrow.Event, error) {
	query := `
		SELECT kind, payload FROM escrow_events
		WHERE transaction_id = $1
		ORDER BY block_number ASC, log_index ASC
	`
	args := []interface{}{encodeTxID(txID)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return s.queryEvents(ctx, query, args...)
}

func (s *PostgresStore) RecentEvents(ctx context.Context, limit int) ([]escrow.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryEvents(ctx, `
		SELECT kind, payload FROM escrow_events
		ORDER BY block_number DESC, log_index DESC
		LIMIT $1
	`, limit)
}

func (s *PostgresStore) queryEvents(ctx context.Context, query string, args ...interface{}) ([]escrow.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []escrow.Event
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.Kind, &r.Payload); err != nil {
			return nil, fmt.Errorf("archive: scan event: %w", err)
		}
		ev, err := decodeEvent(r)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
