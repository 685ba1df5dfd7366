// Package mirror queries an indexer mirror (a GraphQL subgraph) for lookups
// the contract cannot answer directly, such as "which transactions involve
// this address". The mirror lags the chain, so its answers are advisory:
// callers re-read anything they care about through the ledger.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/meridianlabs/escrowsync/internal/circuitbreaker"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("mirror: unavailable")

const (
	requestTimeout  = 5 * time.Second
	breakerKey      = "mirror"
	failureThreshold = 5
	openDuration     = 30 * time.Second
)

// Client is a GraphQL-over-HTTP client guarded by a circuit breaker.
type Client struct {
	http    *http.Client
	url     string
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// New creates a client for the subgraph endpoint at url.
func New(url string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:    &http.Client{Timeout: requestTimeout},
		url:     url,
		breaker: circuitbreaker.New(failureThreshold, openDuration),
		logger:  logger.With("component", "mirror"),
	}
}

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

// query executes one GraphQL request and unmarshals the data payload into out.
func (c *Client) query(ctx context.Context, query string, vars map[string]interface{}, out interface{}) error {
	if !c.breaker.Allow(breakerKey) {
		return ErrUnavailable
	}

	body, err := json.Marshal(graphqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("mirror: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mirror: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure(breakerKey)
		return fmt.Errorf("mirror: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		c.breaker.RecordFailure(breakerKey)
		return fmt.Errorf("mirror: endpoint returned %d", resp.StatusCode)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphqlError  `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		c.breaker.RecordFailure(breakerKey)
		return fmt.Errorf("mirror: decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		// Query-level errors are our bug, not the mirror's outage.
		c.breaker.RecordSuccess(breakerKey)
		return fmt.Errorf("mirror: query error: %s", envelope.Errors[0].Message)
	}

	c.breaker.RecordSuccess(breakerKey)
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("mirror: decode data: %w", err)
		}
	}
	return nil
}

const transactionsByAddressQuery = `
query ($addr: String!) {
  escrowTransactions(where: { or: [{ sender: $addr }, { receiver: $addr }] }, orderBy: id) {
    id
  }
}`

// TransactionsByAddress returns the transaction IDs the address participates
// in, as sender or receiver.
func (c *Client) TransactionsByAddress(ctx context.Context, addr string) ([]uint64, error) {
	var data struct {
		EscrowTransactions []struct {
			ID string `json:"id"`
		} `json:"escrowTransactions"`
	}
	if err := c.query(ctx, transactionsByAddressQuery, map[string]interface{}{"addr": addr}, &data); err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(data.EscrowTransactions))
	for _, txn := range data.EscrowTransactions {
		id, err := strconv.ParseUint(txn.ID, 10, 64)
		if err != nil {
			c.logger.Warn("mirror returned non-numeric transaction id", "id", txn.ID)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Healthy reports whether the breaker is closed. It never consumes the
// half-open probe slot, so it is safe for health checks.
func (c *Client) Healthy() bool {
	return c.breaker.State(breakerKey) == circuitbreaker.StateClosed
}
