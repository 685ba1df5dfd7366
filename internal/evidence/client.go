// Package evidence fetches evidence and meta-evidence documents from IPFS
// gateways. The chain only stores content URIs; this package resolves them
// to the JSON documents parties actually submitted.
package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/meridianlabs/escrowsync/internal/retry"
	"github.com/meridianlabs/escrowsync/internal/security"
)

const (
	// maxDocumentSize caps fetched documents. Evidence JSON is small;
	// anything larger is someone's video file, which we do not proxy.
	maxDocumentSize = 1 << 20 // 1 MiB

	fetchTimeout = 5 * time.Second
	maxAttempts  = 3
	baseDelay    = 300 * time.Millisecond
)

// Client resolves content URIs against an IPFS HTTP gateway.
type Client struct {
	http    *http.Client
	gateway string
	logger  *slog.Logger
}

// New creates a client for the given gateway base URL, e.g. "https://ipfs.io".
func New(gateway string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:    &http.Client{Timeout: fetchTimeout},
		gateway: strings.TrimRight(gateway, "/"),
		logger:  logger.With("component", "evidence"),
	}
}

// resolveURI turns the URI forms seen on chain into a gateway URL.
// Accepted: "ipfs://<cid>...", "/ipfs/<cid>...", and plain http(s) URLs.
func (c *Client) resolveURI(uri string) (string, error) {
	switch {
	case strings.HasPrefix(uri, "ipfs://"):
		return c.gateway + "/ipfs/" + strings.TrimPrefix(uri, "ipfs://"), nil
	case strings.HasPrefix(uri, "/ipfs/"):
		return c.gateway + uri, nil
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		// Chain-supplied URLs are untrusted; refuse anything that would make
		// us a proxy into internal networks.
		if err := security.ValidateEndpointURL(uri); err != nil {
			return "", fmt.Errorf("evidence: rejected URI %q: %w", uri, err)
		}
		return uri, nil
	default:
		return "", fmt.Errorf("evidence: unsupported URI scheme in %q", uri)
	}
}

// Fetch retrieves the raw document behind a content URI. Transient gateway
// failures are retried; 4xx responses are not.
func (c *Client) Fetch(ctx context.Context, uri string) ([]byte, error) {
	url, err := c.resolveURI(uri)
	if err != nil {
		return nil, err
	}

	var body []byte
	err = retry.Do(ctx, maxAttempts, baseDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("evidence: build request: %w", err))
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("evidence: fetch %s: %w", uri, err)
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return retry.Permanent(fmt.Errorf("evidence: fetch %s: gateway returned %d", uri, resp.StatusCode))
		default:
			return fmt.Errorf("evidence: fetch %s: gateway returned %d", uri, resp.StatusCode)
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
		if err != nil {
			return fmt.Errorf("evidence: read body: %w", err)
		}
		if len(body) > maxDocumentSize {
			return retry.Permanent(fmt.Errorf("evidence: document %s exceeds %d bytes", uri, maxDocumentSize))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Put adds a document to the object store through the gateway's add API
// and returns its content URI. Used by operator tooling; the engine
// itself only ever reads.
func (c *Client) Put(ctx context.Context, name string, data []byte) (string, error) {
	if len(data) > maxDocumentSize {
		return "", fmt.Errorf("evidence: document exceeds %d bytes", maxDocumentSize)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("evidence: build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("evidence: build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("evidence: build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gateway+"/api/v0/add", &buf)
	if err != nil {
		return "", fmt.Errorf("evidence: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("evidence: put: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("evidence: put: gateway returned %d", resp.StatusCode)
	}

	var added struct {
		Hash string `json:"Hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&added); err != nil {
		return "", fmt.Errorf("evidence: parse add response: %w", err)
	}
	if added.Hash == "" {
		return "", fmt.Errorf("evidence: gateway returned no content hash")
	}
	return "ipfs://" + added.Hash, nil
}

// MetaEvidence is the agreement document referenced by a MetaEvidence event.
// Fields beyond these exist in the wild; unknown ones are ignored.
type MetaEvidence struct {
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Category      string         `json:"category"`
	Question      string         `json:"question"`
	FileURI       string         `json:"fileURI"`
	RulingOptions *RulingOptions `json:"rulingOptions,omitempty"`
}

// RulingOptions labels the arbitrator's possible rulings.
type RulingOptions struct {
	Titles       []string `json:"titles"`
	Descriptions []string `json:"descriptions"`
}

// Document is a party-submitted evidence file referenced by an Evidence event.
type Document struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	FileURI     string `json:"fileURI"`
}

// FetchMetaEvidence fetches and parses the agreement document.
func (c *Client) FetchMetaEvidence(ctx context.Context, uri string) (*MetaEvidence, error) {
	body, err := c.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	var me MetaEvidence
	if err := json.Unmarshal(body, &me); err != nil {
		return nil, fmt.Errorf("evidence: parse meta-evidence %s: %w", uri, err)
	}
	return &me, nil
}

// FetchDocument fetches and parses a submitted evidence document.
func (c *Client) FetchDocument(ctx context.Context, uri string) (*Document, error) {
	body, err := c.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("evidence: parse document %s: %w", uri, err)
	}
	return &doc, nil
}
