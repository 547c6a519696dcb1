// midpay MCP server - exposes the escrow ledger as MCP tools for LLMs
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/midpay/internal/bank"
	"github.com/mbd888/midpay/internal/chain"
	"github.com/mbd888/midpay/internal/config"
	"github.com/mbd888/midpay/internal/escrow"
	"github.com/mbd888/midpay/internal/keys"
	"github.com/mbd888/midpay/internal/mcpserver"
)

func main() {
	// stdout carries the MCP protocol; everything else goes to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	var store bank.Store
	if cfg.DataDir != "" {
		fs, err := bank.NewFileStore(cfg.DataDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open file store: %v\n", err)
			os.Exit(1)
		}
		store = fs
		logger.Info("using file storage", "dir", cfg.DataDir)
	} else {
		store = bank.NewMemoryStore()
		logger.Info("using in-memory storage (data will not persist)")
	}

	ledger := bank.New(store)
	if err := ledger.Bootstrap(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap accounts: %v\n", err)
		os.Exit(1)
	}

	keyring, err := keys.NewManager(bank.PartyA, bank.PartyB, bank.PartyEscrow)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create keyring: %v\n", err)
		os.Exit(1)
	}

	service := escrow.NewService(ledger, chain.New(cfg.Difficulty), keyring, escrow.NewMemoryStore())

	s := mcpserver.NewMCPServer(service, ledger)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
