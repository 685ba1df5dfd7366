package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all escrowsync tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("escrowsync", "1.0.0")
	client := NewAPIClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolGetTransactionState, h.HandleGetTransactionState)
	s.AddTool(ToolGetTransactionHistory, h.HandleGetTransactionHistory)
	s.AddTool(ToolFindDisputeTransaction, h.HandleFindDisputeTransaction)
	s.AddTool(ToolFetchEvidence, h.HandleFetchEvidence)
	s.AddTool(ToolGetRecentEvents, h.HandleGetRecentEvents)

	return s
}
