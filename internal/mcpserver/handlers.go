package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *APIClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *APIClient) *Handlers {
	return &Handlers{client: client}
}

// getUint64 extracts a numeric argument. MCP numbers arrive as float64.
func getUint64(req mcp.CallToolRequest, name string) (uint64, bool) {
	raw, ok := req.GetArguments()[name]
	if !ok {
		return 0, false
	}
	f, ok := raw.(float64)
	if !ok || f < 0 {
		return 0, false
	}
	return uint64(f), true
}

// HandleGetTransactionState resolves a transaction's current state.
func (h *Handlers) HandleGetTransactionState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	txID, ok := getUint64(req, "transaction_id")
	if !ok {
		return mcp.NewToolResultError("transaction_id is required and must be a nonnegative number"), nil
	}

	raw, err := h.client.GetTransactionState(ctx, txID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get transaction state: %v", err)), nil
	}

	text, err := formatState(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse state: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetTransactionHistory returns the ordered event history.
func (h *Handlers) HandleGetTransactionHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	txID, ok := getUint64(req, "transaction_id")
	if !ok {
		return mcp.NewToolResultError("transaction_id is required and must be a nonnegative number"), nil
	}
	fromBlock, _ := getUint64(req, "from_block")

	raw, err := h.client.GetTransactionHistory(ctx, txID, fromBlock)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get history: %v", err)), nil
	}

	text, err := formatHistory(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse history: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleFindDisputeTransaction correlates a dispute back to its transaction.
func (h *Handlers) HandleFindDisputeTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	disputeID, ok := getUint64(req, "dispute_id")
	if !ok {
		return mcp.NewToolResultError("dispute_id is required and must be a nonnegative number"), nil
	}

	raw, err := h.client.FindDisputeTransaction(ctx, disputeID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to find dispute: %v", err)), nil
	}

	var resp struct {
		DisputeID     uint64 `json:"disputeId"`
		TransactionID uint64 `json:"transactionId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Dispute %d belongs to escrow transaction %d.", resp.DisputeID, resp.TransactionID)), nil
}

// HandleFetchEvidence resolves a content URI to its document.
func (h *Handlers) HandleFetchEvidence(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri := req.GetString("uri", "")
	if uri == "" {
		return mcp.NewToolResultError("uri is required"), nil
	}
	docType := req.GetString("type", "document")

	raw, err := h.client.FetchEvidence(ctx, uri, docType)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch evidence: %v", err)), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// HandleGetRecentEvents lists the newest archived events.
func (h *Handlers) HandleGetRecentEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit, _ := getUint64(req, "limit")

	raw, err := h.client.GetRecentEvents(ctx, int(limit)) // #nosec G115 -- bounded by the API
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get recent events: %v", err)), nil
	}

	text, err := formatHistory(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse events: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- formatting ---

type stateResponse struct {
	TransactionID uint64 `json:"transactionId"`
	Status        string `json:"status"`
	Executable    bool   `json:"executable"`
	Timeout       struct {
		SenderCanTimeOut   bool `json:"senderCanTimeOut"`
		ReceiverCanTimeOut bool `json:"receiverCanTimeOut"`
	} `json:"timeout"`
	Dispute *struct {
		ID     uint64  `json:"id"`
		Status string  `json:"status"`
		Ruling *string `json:"ruling"`
	} `json:"dispute"`
	Snapshot *struct {
		Sender   string      `json:"sender"`
		Receiver string      `json:"receiver"`
		Amount   json.Number `json:"amount"`
	} `json:"snapshot"`
}

func formatState(raw json.RawMessage) (string, error) {
	var st stateResponse
	if err := json.Unmarshal(raw, &st); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Escrow transaction %d\n", st.TransactionID)
	fmt.Fprintf(&b, "Status: %s\n", st.Status)
	if st.Snapshot != nil {
		fmt.Fprintf(&b, "Sender: %s\nReceiver: %s\nRemaining amount: %s\n",
			st.Snapshot.Sender, st.Snapshot.Receiver, st.Snapshot.Amount)
	}
	if st.Dispute != nil {
		fmt.Fprintf(&b, "Dispute %d: %s", st.Dispute.ID, st.Dispute.Status)
		if st.Dispute.Ruling != nil {
			fmt.Fprintf(&b, " (current ruling: %s)", *st.Dispute.Ruling)
		}
		b.WriteString("\n")
	}
	switch {
	case st.Executable:
		b.WriteString("The payment timeout has elapsed: the transaction can be executed.\n")
	case st.Timeout.SenderCanTimeOut:
		b.WriteString("The sender can time the receiver out (unpaid arbitration fee).\n")
	case st.Timeout.ReceiverCanTimeOut:
		b.WriteString("The receiver can time the sender out (unpaid arbitration fee).\n")
	}
	return b.String(), nil
}

type historyResponse struct {
	Count  int `json:"count"`
	Events []struct {
		Kind  string          `json:"kind"`
		Event json.RawMessage `json:"event"`
	} `json:"events"`
}

func formatHistory(raw json.RawMessage) (string, error) {
	var hist historyResponse
	if err := json.Unmarshal(raw, &hist); err != nil {
		return "", err
	}
	if hist.Count == 0 {
		return "No events found.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d event(s):\n", hist.Count)
	for _, entry := range hist.Events {
		var base struct {
			TransactionID uint64 `json:"transactionId"`
			BlockNumber   uint64 `json:"blockNumber"`
		}
		_ = json.Unmarshal(entry.Event, &base)
		fmt.Fprintf(&b, "- block %d: %s (transaction %d)\n", base.BlockNumber, entry.Kind, base.TransactionID)
	}
	return b.String(), nil
}
