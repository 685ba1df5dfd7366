package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions. Descriptions are what the LLM reads to decide which
// tool to use.

var ToolGetTransactionState = mcp.NewTool("get_transaction_state",
	mcp.WithDescription(
		"Get the current resolved state of an escrow transaction: its status "+
			"(no_dispute, waiting_sender, waiting_receiver, dispute_created, resolved), "+
			"dispute details if one exists, and whether either party can execute or "+
			"time the other party out right now."),
	mcp.WithNumber("transaction_id",
		mcp.Required(),
		mcp.Description("The escrow transaction ID (a nonnegative integer)")),
)

var ToolGetTransactionHistory = mcp.NewTool("get_transaction_history",
	mcp.WithDescription(
		"Get the ordered on-chain event history of an escrow transaction: "+
			"agreement terms, payments, fee demands, dispute creation, evidence "+
			"submissions, and rulings, sorted by block. Partial results are possible "+
			"when parts of the chain are unreachable."),
	mcp.WithNumber("transaction_id",
		mcp.Required(),
		mcp.Description("The escrow transaction ID")),
	mcp.WithNumber("from_block",
		mcp.Description("Start the scan at this block (default: the earliest scan window). Use the last seen block + 1 to page through long histories.")),
)

var ToolFindDisputeTransaction = mcp.NewTool("find_dispute_transaction",
	mcp.WithDescription(
		"Find which escrow transaction a dispute ID belongs to. Dispute IDs are "+
			"assigned by the arbitrator and do not match transaction IDs."),
	mcp.WithNumber("dispute_id",
		mcp.Required(),
		mcp.Description("The arbitrator's dispute ID")),
)

var ToolFetchEvidence = mcp.NewTool("fetch_evidence",
	mcp.WithDescription(
		"Fetch an evidence or meta-evidence document from its content URI "+
			"(as seen in transaction history events). Meta-evidence is the agreement "+
			"terms; evidence documents are party submissions."),
	mcp.WithString("uri",
		mcp.Required(),
		mcp.Description("The content URI, e.g. '/ipfs/Qm...' or 'ipfs://Qm...'")),
	mcp.WithString("type",
		mcp.Description("Document type: 'document' (a party submission, default) or 'meta' (the agreement terms)"),
		mcp.Enum("document", "meta")),
)

var ToolGetRecentEvents = mcp.NewTool("get_recent_events",
	mcp.WithDescription(
		"List the newest archived escrow events across all transactions, newest "+
			"first. Useful for a network-wide activity overview."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of events to return (default 50, max 500)")),
)
