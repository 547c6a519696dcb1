// Package bank tracks the balances of the transacting parties.
//
// Three accounts exist: A (payer), B (payee), and the neutral escrow
// account that holds funds in flight. Every movement is a transfer
// between two accounts; deposits and withdrawals move funds against an
// implicit external pool, everything else conserves the total.
package bank

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/midpay/internal/metrics"
	"github.com/mbd888/midpay/internal/money"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInvalidAmount     = errors.New("invalid amount")
)

// Well-known account owners.
const (
	PartyA      = "A"
	PartyB      = "B"
	PartyEscrow = "escrow"
)

// partyExternal is the implicit source/sink that deposits draw from and
// withdrawals pay into. It never appears in summaries.
const (
	partyExternal = "external"
	externalPool  = "1000000000.00"
)

// Default opening balances, matching the ledger's bootstrap state.
const (
	InitialBalanceA = "1000.00"
	InitialBalanceB = "500.00"
)

// Account is one party's balance.
type Account struct {
	Owner     string    `json:"owner"`
	Balance   string    `json:"balance"`
	TotalIn   string    `json:"totalIn"`
	TotalOut  string    `json:"totalOut"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Entry is one side of a recorded transfer.
type Entry struct {
	ID           string    `json:"id"`
	Owner        string    `json:"owner"`
	Type         string    `json:"type"` // debit, credit
	Amount       string    `json:"amount"`
	Counterparty string    `json:"counterparty"`
	Reference    string    `json:"reference,omitempty"` // transaction ID
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Store persists account balances. Transfer must apply both sides
// atomically and re-check funds under its own lock; every successful
// mutation must be durable before the call returns.
type Store interface {
	GetBalance(ctx context.Context, owner string) (*Account, error)
	Transfer(ctx context.Context, from, to, amount, reference, description string) error
	Seed(ctx context.Context, owner, balance string) error
	History(ctx context.Context, owner string, limit int) ([]*Entry, error)
	Accounts(ctx context.Context) ([]*Account, error)
}

// Ledger manages party balances on top of a Store.
type Ledger struct {
	store Store
}

// New creates a ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Bootstrap seeds the three accounts with their opening balances. Stores
// that already hold state keep it; seeding is idempotent.
func (l *Ledger) Bootstrap(ctx context.Context) error {
	seeds := []struct{ owner, balance string }{
		{PartyA, InitialBalanceA},
		{PartyB, InitialBalanceB},
		{PartyEscrow, "0.00"},
	}
	for _, s := range seeds {
		if err := l.store.Seed(ctx, s.owner, s.balance); err != nil {
			return fmt.Errorf("seed %s: %w", s.owner, err)
		}
	}
	return nil
}

// GetBalance returns one party's account.
func (l *Ledger) GetBalance(ctx context.Context, owner string) (*Account, error) {
	return l.store.GetBalance(ctx, owner)
}

// Transfer moves amount from one account to another. The amount must be
// strictly positive and covered by the source balance.
func (l *Ledger) Transfer(ctx context.Context, from, to, amount, reference, description string) error {
	amountBig, ok := money.Parse(amount)
	if !ok || amountBig.Sign() <= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if from == to {
		return fmt.Errorf("%w: transfer to self", ErrInvalidAmount)
	}

	bal, err := l.store.GetBalance(ctx, from)
	if err != nil {
		return err
	}
	balBig, _ := money.Parse(bal.Balance)
	if balBig.Cmp(amountBig) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from, bal.Balance, amount)
	}

	if err := l.store.Transfer(ctx, from, to, amount, reference, description); err != nil {
		return err
	}
	metrics.TransfersTotal.WithLabelValues(from, to).Inc()
	return nil
}

// Deposit credits a party from the external pool. Same amount rules as
// Transfer.
func (l *Ledger) Deposit(ctx context.Context, owner, amount, description string) error {
	if !IsKnownParty(owner) {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, owner)
	}
	if err := l.store.Seed(ctx, partyExternal, externalPool); err != nil {
		return fmt.Errorf("seed external pool: %w", err)
	}
	return l.Transfer(ctx, partyExternal, owner, amount, "", description)
}

// Withdraw debits a party into the external pool. Fails if the party
// cannot cover the amount.
func (l *Ledger) Withdraw(ctx context.Context, owner, amount, description string) error {
	if !IsKnownParty(owner) {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, owner)
	}
	if err := l.store.Seed(ctx, partyExternal, externalPool); err != nil {
		return fmt.Errorf("seed external pool: %w", err)
	}
	return l.Transfer(ctx, owner, partyExternal, amount, "", description)
}

// History returns a party's ledger entries, newest first.
func (l *Ledger) History(ctx context.Context, owner string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.History(ctx, owner, limit)
}

// Summary returns the party balances, hiding the external pool.
func (l *Ledger) Summary(ctx context.Context) ([]*Account, error) {
	all, err := l.store.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	accounts := make([]*Account, 0, len(all))
	for _, a := range all {
		if a.Owner == partyExternal {
			continue
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

// Analytics aggregates one party's ledger activity.
type Analytics struct {
	Owner      string `json:"owner"`
	Balance    string `json:"balance"`
	TotalIn    string `json:"totalIn"`
	TotalOut   string `json:"totalOut"`
	EntryCount int    `json:"entryCount"`
}

// AccountAnalytics returns lifetime totals for one party.
func (l *Ledger) AccountAnalytics(ctx context.Context, owner string) (*Analytics, error) {
	acct, err := l.store.GetBalance(ctx, owner)
	if err != nil {
		return nil, err
	}
	entries, err := l.store.History(ctx, owner, 0)
	if err != nil {
		return nil, err
	}
	return &Analytics{
		Owner:      acct.Owner,
		Balance:    acct.Balance,
		TotalIn:    acct.TotalIn,
		TotalOut:   acct.TotalOut,
		EntryCount: len(entries),
	}, nil
}

// IsKnownParty reports whether owner is one of the ledger's accounts.
func IsKnownParty(owner string) bool {
	switch owner {
	case PartyA, PartyB, PartyEscrow:
		return true
	}
	return false
}
