package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/midpay/internal/bank"
	"github.com/mbd888/midpay/internal/escrow"
	"github.com/mbd888/midpay/internal/tx"
)

// Handlers holds the handler functions for each MCP tool. They call the
// escrow service in process; there is no HTTP hop.
type Handlers struct {
	service *escrow.Service
	ledger  *bank.Ledger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *escrow.Service, ledger *bank.Ledger) *Handlers {
	return &Handlers{service: service, ledger: ledger}
}

// HandleCreateTransaction places funds in escrow and seals the opening record.
func (h *Handlers) HandleCreateTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	amount := req.GetString("amount", "")
	if amount == "" {
		return mcp.NewToolResultError("amount is required"), nil
	}
	description := req.GetString("description", "")

	rec, err := h.service.Create(ctx, escrow.CreateRequest{Amount: amount, Description: description})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create transaction: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Transaction created. Funds are held in escrow.\n\n")
	writeRecord(&sb, rec)
	sb.WriteString("\nNext steps: mark_service_completed (as B), then confirm_completion (as A).")
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetTransactionStatus looks up the latest record for a transaction.
func (h *Handlers) HandleGetTransactionStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("transaction_id", "")
	if id == "" {
		return mcp.NewToolResultError("transaction_id is required"), nil
	}

	rec, err := h.service.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get transaction: %v", err)), nil
	}

	var sb strings.Builder
	writeRecord(&sb, rec)
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleMarkServiceCompleted records delivery by party B.
func (h *Handlers) HandleMarkServiceCompleted(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.transition(ctx, req, "Service marked as completed. Waiting for party A to confirm.",
		func(ctx context.Context, id string) (*tx.Record, error) {
			return h.service.MarkCompleted(ctx, id)
		})
}

// HandleConfirmCompletion releases the escrowed funds to party B.
func (h *Handlers) HandleConfirmCompletion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.transition(ctx, req, "Delivery confirmed. Escrowed funds released to party B.",
		func(ctx context.Context, id string) (*tx.Record, error) {
			return h.service.Confirm(ctx, id)
		})
}

// HandleCancelTransaction refunds the escrowed funds to party A.
func (h *Handlers) HandleCancelTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.transition(ctx, req, "Transaction cancelled. Escrowed funds refunded to party A.",
		func(ctx context.Context, id string) (*tx.Record, error) {
			return h.service.Cancel(ctx, id)
		})
}

// HandleDisputeTransaction freezes a transaction pending arbitration.
func (h *Handlers) HandleDisputeTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("transaction_id", "")
	if id == "" {
		return mcp.NewToolResultError("transaction_id is required"), nil
	}
	reason := req.GetString("reason", "")
	if reason == "" {
		return mcp.NewToolResultError("reason is required"), nil
	}

	rec, err := h.service.Dispute(ctx, id, reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to dispute transaction: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Transaction disputed. Funds stay frozen in escrow until resolve_dispute.\n\n")
	writeRecord(&sb, rec)
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleResolveDispute settles a disputed transaction either way.
func (h *Handlers) HandleResolveDispute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("transaction_id", "")
	if id == "" {
		return mcp.NewToolResultError("transaction_id is required"), nil
	}
	outcome := req.GetString("outcome", "")
	if outcome == "" {
		return mcp.NewToolResultError("outcome is required ('release' or 'refund')"), nil
	}

	rec, err := h.service.Resolve(ctx, id, outcome)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resolve dispute: %v", err)), nil
	}

	var sb strings.Builder
	if outcome == escrow.OutcomeRelease {
		sb.WriteString("Dispute resolved: funds released to party B.\n\n")
	} else {
		sb.WriteString("Dispute resolved: funds refunded to party A.\n\n")
	}
	writeRecord(&sb, rec)
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetBalance reports one or all account balances.
func (h *Handlers) HandleGetBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	party := req.GetString("party", "")

	if party != "" {
		acct, err := h.ledger.GetBalance(ctx, party)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get balance: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("%s: %s (in %s, out %s)",
			acct.Owner, acct.Balance, acct.TotalIn, acct.TotalOut)), nil
	}

	accounts, err := h.ledger.Summary(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get balances: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Account balances:\n")
	for _, acct := range accounts {
		fmt.Fprintf(&sb, "  %-6s %s\n", acct.Owner, acct.Balance)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleVerifyBlockchain replays the chain and reports the verdict.
func (h *Handlers) HandleVerifyBlockchain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res := h.service.VerifyChain()
	if res.Valid {
		return mcp.NewToolResultText(fmt.Sprintf(
			"Chain is intact: %d blocks verified.", res.Length)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"TAMPERING DETECTED: chain breaks at block %d (%s). %d blocks total.",
		res.FirstBrokenIndex, res.Reason, res.Length)), nil
}

// HandleGetTransactionHistory lists sealed records in chain order.
func (h *Handlers) HandleGetTransactionHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := escrow.HistoryFilter{
		Status: req.GetString("status", ""),
		Party:  req.GetString("party", ""),
	}

	records, err := h.service.History(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get history: %v", err)), nil
	}
	if len(records) == 0 {
		return mcp.NewToolResultText("No transactions match."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d record(s), oldest first:\n\n", len(records))
	for i, rec := range records {
		fmt.Fprintf(&sb, "%d. %s  %s  %s -> %s  %s (signed by %s)\n",
			i+1, rec.ID, rec.Amount, rec.From, rec.To, rec.Status, rec.SignedBy)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// transition runs one single-argument lifecycle operation.
func (h *Handlers) transition(ctx context.Context, req mcp.CallToolRequest, headline string,
	op func(context.Context, string) (*tx.Record, error)) (*mcp.CallToolResult, error) {

	id := req.GetString("transaction_id", "")
	if id == "" {
		return mcp.NewToolResultError("transaction_id is required"), nil
	}

	rec, err := op(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Transition failed: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString(headline)
	sb.WriteString("\n\n")
	writeRecord(&sb, rec)
	return mcp.NewToolResultText(sb.String()), nil
}

func writeRecord(sb *strings.Builder, rec *tx.Record) {
	fmt.Fprintf(sb, "ID:        %s\n", rec.ID)
	fmt.Fprintf(sb, "Status:    %s\n", rec.Status)
	fmt.Fprintf(sb, "Amount:    %s\n", rec.Amount)
	fmt.Fprintf(sb, "Parties:   %s -> %s\n", rec.From, rec.To)
	if rec.Description != "" {
		fmt.Fprintf(sb, "For:       %s\n", rec.Description)
	}
	if rec.DisputeReason != "" {
		fmt.Fprintf(sb, "Dispute:   %s\n", rec.DisputeReason)
	}
	if rec.Resolution != "" {
		fmt.Fprintf(sb, "Resolved:  %s\n", rec.Resolution)
	}
	fmt.Fprintf(sb, "Signed by: %s\n", rec.SignedBy)
	fmt.Fprintf(sb, "Updated:   %s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
}
