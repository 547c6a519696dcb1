package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/midpay/internal/escrow"
)

// Resource definitions. Unlike tools, resources are read-only snapshots
// the client can pull into context without side effects.

var ResourceAccounts = mcp.NewResource(
	"midpay://accounts",
	"Account balances",
	mcp.WithResourceDescription("Current balances of A, B, and the escrow account"),
	mcp.WithMIMEType("application/json"),
)

var ResourceBlockchain = mcp.NewResource(
	"midpay://blockchain",
	"Blockchain",
	mcp.WithResourceDescription("Every sealed block, including the genesis block"),
	mcp.WithMIMEType("application/json"),
)

var ResourceHistory = mcp.NewResource(
	"midpay://transactions/history",
	"Transaction history",
	mcp.WithResourceDescription("All sealed transaction records in chain order"),
	mcp.WithMIMEType("application/json"),
)

// ReadAccounts serves midpay://accounts.
func (h *Handlers) ReadAccounts(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	accounts, err := h.ledger.Summary(ctx)
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, accounts)
}

// ReadBlockchain serves midpay://blockchain.
func (h *Handlers) ReadBlockchain(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(req.Params.URI, h.service.Chain().Blocks())
}

// ReadHistory serves midpay://transactions/history.
func (h *Handlers) ReadHistory(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	records, err := h.service.History(ctx, escrow.HistoryFilter{})
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, records)
}

func jsonContents(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
