package bank

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mbd888/midpay/internal/idgen"
	"github.com/mbd888/midpay/internal/money"
)

// MemoryStore is an in-memory bank store for demo/development mode.
type MemoryStore struct {
	accounts map[string]*Account
	entries  []*Entry
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory bank store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*Account)}
}

func (m *MemoryStore) GetBalance(ctx context.Context, owner string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[owner]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, owner)
	}
	cp := *acct
	return &cp, nil
}

func (m *MemoryStore) Seed(ctx context.Context, owner, balance string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[owner]; ok {
		return nil
	}
	m.accounts[owner] = &Account{
		Owner:     owner,
		Balance:   balance,
		TotalIn:   "0.00",
		TotalOut:  "0.00",
		UpdatedAt: time.Now(),
	}
	return nil
}

func (m *MemoryStore) Transfer(ctx context.Context, from, to, amount, reference, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.accounts[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, from)
	}
	dst, ok := m.accounts[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, to)
	}

	amt, _ := money.Parse(amount)
	srcBal, _ := money.Parse(src.Balance)
	if srcBal.Cmp(amt) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from, src.Balance, amount)
	}

	now := time.Now()

	srcBal.Sub(srcBal, amt)
	srcOut, _ := money.Parse(src.TotalOut)
	srcOut.Add(srcOut, amt)
	src.Balance = money.Format(srcBal)
	src.TotalOut = money.Format(srcOut)
	src.UpdatedAt = now

	dstBal, _ := money.Parse(dst.Balance)
	dstBal.Add(dstBal, amt)
	dstIn, _ := money.Parse(dst.TotalIn)
	dstIn.Add(dstIn, amt)
	dst.Balance = money.Format(dstBal)
	dst.TotalIn = money.Format(dstIn)
	dst.UpdatedAt = now

	m.entries = append(m.entries,
		&Entry{
			ID: idgen.WithPrefix("ent_"), Owner: from, Type: "debit",
			Amount: amount, Counterparty: to, Reference: reference,
			Description: description, CreatedAt: now,
		},
		&Entry{
			ID: idgen.WithPrefix("ent_"), Owner: to, Type: "credit",
			Amount: amount, Counterparty: from, Reference: reference,
			Description: description, CreatedAt: now,
		},
	)

	return nil
}

func (m *MemoryStore) History(ctx context.Context, owner string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		if m.entries[i].Owner == owner {
			result = append(result, m.entries[i])
		}
	}
	return result, nil
}

func (m *MemoryStore) Accounts(ctx context.Context) ([]*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Account, 0, len(m.accounts))
	for _, owner := range []string{PartyA, PartyB, PartyEscrow} {
		if acct, ok := m.accounts[owner]; ok {
			cp := *acct
			out = append(out, &cp)
		}
	}
	return out, nil
}
