package bank

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreWriteThrough(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	l := New(store)
	if err := l.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	if err := l.Transfer(ctx, PartyA, PartyEscrow, "250.00", "tx_1", "lock"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	// Files must exist on disk immediately after the mutation returns.
	for _, owner := range []string{PartyA, PartyB, PartyEscrow} {
		if _, err := os.Stat(filepath.Join(dir, owner+"_bank.json")); err != nil {
			t.Errorf("missing bank file for %s: %v", owner, err)
		}
	}

	// A second store over the same directory resumes from committed state.
	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	acct, err := reopened.GetBalance(ctx, PartyA)
	if err != nil {
		t.Fatalf("GetBalance after reopen: %v", err)
	}
	if acct.Balance != "750.00" {
		t.Errorf("A balance after reopen = %s, want 750.00", acct.Balance)
	}

	entries, err := reopened.History(ctx, PartyEscrow, 10)
	if err != nil {
		t.Fatalf("History after reopen: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != "credit" {
		t.Errorf("escrow history after reopen = %+v", entries)
	}
}

func TestFileStoreInsufficientFundsLeavesFilesIntact(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	l := New(store)
	if err := l.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	if err := store.Transfer(ctx, PartyB, PartyA, "9999.00", "tx_1", "no"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("Transfer = %v, want ErrInsufficientFunds", err)
	}

	reopened, _ := NewFileStore(dir)
	b, _ := reopened.GetBalance(ctx, PartyB)
	if b.Balance != "500.00" {
		t.Errorf("B balance = %s, want 500.00", b.Balance)
	}
}

func TestFileStoreSeedIdempotentAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, _ := NewFileStore(dir)
	l := New(store)
	_ = l.Bootstrap(ctx)
	_ = l.Transfer(ctx, PartyA, PartyB, "10.00", "tx_1", "pay")

	reopened, _ := NewFileStore(dir)
	if err := New(reopened).Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap after reopen: %v", err)
	}
	a, _ := reopened.GetBalance(ctx, PartyA)
	if a.Balance != "990.00" {
		t.Errorf("re-seed after reopen reset balance: %s", a.Balance)
	}
}
