// Package mcpserver exposes the reconciliation API as MCP tools so LLM
// agents can inspect escrow transactions, disputes, and evidence.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the connection settings for the reconciliation API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
}

// APIClient is a pure HTTP client for the reconciliation API.
type APIClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewAPIClient creates a client for the API at cfg.APIURL.
func NewAPIClient(cfg Config) *APIClient {
	return &APIClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *APIClient) doRequest(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// GetTransactionState returns the resolved state of one transaction.
func (c *APIClient) GetTransactionState(ctx context.Context, txID uint64) (json.RawMessage, error) {
	return c.doRequest(ctx, "/v1/transactions/"+strconv.FormatUint(txID, 10)+"/state", nil)
}

// GetTransactionHistory returns the ordered event history of one transaction.
func (c *APIClient) GetTransactionHistory(ctx context.Context, txID, fromBlock uint64) (json.RawMessage, error) {
	q := url.Values{}
	if fromBlock > 0 {
		q.Set("from_block", strconv.FormatUint(fromBlock, 10))
	}
	return c.doRequest(ctx, "/v1/transactions/"+strconv.FormatUint(txID, 10)+"/history", q)
}

// FindDisputeTransaction correlates a dispute ID back to its transaction.
func (c *APIClient) FindDisputeTransaction(ctx context.Context, disputeID uint64) (json.RawMessage, error) {
	return c.doRequest(ctx, "/v1/disputes/"+strconv.FormatUint(disputeID, 10)+"/transaction", nil)
}

// FetchEvidence resolves an evidence or meta-evidence content URI.
func (c *APIClient) FetchEvidence(ctx context.Context, uri, docType string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("uri", uri)
	if docType != "" {
		q.Set("type", docType)
	}
	return c.doRequest(ctx, "/v1/evidence", q)
}

// GetRecentEvents returns the newest archived events across all transactions.
func (c *APIClient) GetRecentEvents(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, "/v1/events/recent", q)
}
