package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the midpay MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCreateTransaction = mcp.NewTool("create_transaction",
	mcp.WithDescription(
		"Create a new escrow transaction. Party A's funds are moved into the "+
			"neutral escrow account and a signed record is sealed into the chain. "+
			"The transaction stays open until it is confirmed, cancelled, or resolved."),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount to place in escrow as a decimal string (e.g. '250.00')")),
	mcp.WithString("description",
		mcp.Description("What the payment is for (e.g. 'Website development')")),
)

var ToolGetTransactionStatus = mcp.NewTool("get_transaction_status",
	mcp.WithDescription(
		"Look up the current state of an escrow transaction: status, amount, "+
			"parties, and who signed the latest record."),
	mcp.WithString("transaction_id",
		mcp.Required(),
		mcp.Description("The transaction ID from create_transaction (e.g. 'tx_a1b2c3')")),
)

var ToolMarkServiceCompleted = mcp.NewTool("mark_service_completed",
	mcp.WithDescription(
		"Report that the service has been delivered. Signed by party B, the "+
			"seller. Only valid while the transaction is in the created state; "+
			"funds stay in escrow until party A confirms."),
	mcp.WithString("transaction_id",
		mcp.Required(),
		mcp.Description("The transaction to mark as delivered")),
)

var ToolConfirmCompletion = mcp.NewTool("confirm_completion",
	mcp.WithDescription(
		"Confirm delivery and release the escrowed funds to party B. Signed by "+
			"party A, the buyer. Only valid after mark_service_completed. This is "+
			"a terminal state."),
	mcp.WithString("transaction_id",
		mcp.Required(),
		mcp.Description("The transaction to confirm")),
)

var ToolCancelTransaction = mcp.NewTool("cancel_transaction",
	mcp.WithDescription(
		"Cancel an open escrow transaction and refund the held funds to party A. "+
			"Valid before confirmation; disputed transactions must go through "+
			"resolve_dispute instead. This is a terminal state."),
	mcp.WithString("transaction_id",
		mcp.Required(),
		mcp.Description("The transaction to cancel")),
)

var ToolDisputeTransaction = mcp.NewTool("dispute_transaction",
	mcp.WithDescription(
		"Freeze an escrow transaction pending arbitration. The funds stay in "+
			"escrow and no other transition is allowed until resolve_dispute."),
	mcp.WithString("transaction_id",
		mcp.Required(),
		mcp.Description("The transaction to dispute")),
	mcp.WithString("reason",
		mcp.Required(),
		mcp.Description("Why the transaction is being disputed")),
)

var ToolResolveDispute = mcp.NewTool("resolve_dispute",
	mcp.WithDescription(
		"Settle a disputed transaction as the arbiter. 'release' pays the "+
			"escrowed funds to party B; 'refund' returns them to party A. "+
			"Either outcome is terminal."),
	mcp.WithString("transaction_id",
		mcp.Required(),
		mcp.Description("The disputed transaction to settle")),
	mcp.WithString("outcome",
		mcp.Required(),
		mcp.Description("How to settle: 'release' (pay B) or 'refund' (return to A)"),
		mcp.Enum("release", "refund")),
)

var ToolGetBalance = mcp.NewTool("get_balance",
	mcp.WithDescription(
		"Check account balances. Without a party, returns all three accounts "+
			"(A, B, and escrow); with one, returns that account alone."),
	mcp.WithString("party",
		mcp.Description("Which account to check"),
		mcp.Enum("A", "B", "escrow")),
)

var ToolVerifyBlockchain = mcp.NewTool("verify_blockchain",
	mcp.WithDescription(
		"Re-verify the whole chain: every block's hash, its link to the "+
			"previous block, and its proof-of-work. Reports the first broken "+
			"block if the chain has been tampered with."),
)

var ToolGetTransactionHistory = mcp.NewTool("get_transaction_history",
	mcp.WithDescription(
		"List the sealed transaction records in chain order, oldest first. "+
			"Each status change is its own record, so one transaction can appear "+
			"several times as it moves through its lifecycle."),
	mcp.WithString("status",
		mcp.Description("Only records with this status"),
		mcp.Enum("created", "service_completed", "confirmed", "cancelled", "disputed")),
	mcp.WithString("party",
		mcp.Description("Only records involving this party"),
		mcp.Enum("A", "B", "escrow")),
)
