package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/midpay/internal/bank"
	"github.com/mbd888/midpay/internal/escrow"
)

// NewMCPServer creates a configured MCP server with all midpay tools and
// resources registered. The handlers share the in-process escrow service
// with the HTTP server, so both surfaces see the same chain and ledger.
func NewMCPServer(service *escrow.Service, ledger *bank.Ledger) *server.MCPServer {
	s := server.NewMCPServer("midpay", "1.0.0",
		server.WithResourceCapabilities(true, true),
	)
	h := NewHandlers(service, ledger)

	s.AddTool(ToolCreateTransaction, h.HandleCreateTransaction)
	s.AddTool(ToolGetTransactionStatus, h.HandleGetTransactionStatus)
	s.AddTool(ToolMarkServiceCompleted, h.HandleMarkServiceCompleted)
	s.AddTool(ToolConfirmCompletion, h.HandleConfirmCompletion)
	s.AddTool(ToolCancelTransaction, h.HandleCancelTransaction)
	s.AddTool(ToolDisputeTransaction, h.HandleDisputeTransaction)
	s.AddTool(ToolResolveDispute, h.HandleResolveDispute)
	s.AddTool(ToolGetBalance, h.HandleGetBalance)
	s.AddTool(ToolVerifyBlockchain, h.HandleVerifyBlockchain)
	s.AddTool(ToolGetTransactionHistory, h.HandleGetTransactionHistory)

	s.AddResource(ResourceAccounts, h.ReadAccounts)
	s.AddResource(ResourceBlockchain, h.ReadBlockchain)
	s.AddResource(ResourceHistory, h.ReadHistory)

	return s
}
