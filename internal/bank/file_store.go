package bank

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mbd888/midpay/internal/idgen"
	"github.com/mbd888/midpay/internal/money"
)

// FileStore persists each account as a JSON file in a data directory
// (A_bank.json, B_bank.json, ...). Balances are written through to disk
// before a mutation returns, so a restart resumes from the last
// committed state.
type FileStore struct {
	dir      string
	accounts map[string]*accountFile
	mu       sync.RWMutex
}

// accountFile is the on-disk shape of one account.
type accountFile struct {
	Account Account  `json:"account"`
	Entries []*Entry `json:"entries"`
}

// NewFileStore opens (or creates) the data directory and loads any
// existing account files.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &FileStore{dir: dir, accounts: make(map[string]*accountFile)}

	matches, err := filepath.Glob(filepath.Join(dir, "*_bank.json"))
	if err != nil {
		return nil, err
	}
	for _, path := range matches {
		data, err := os.ReadFile(path) // #nosec G304 -- path from our own data dir glob
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var af accountFile
		if err := json.Unmarshal(data, &af); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		s.accounts[af.Account.Owner] = &af
	}

	return s, nil
}

func (s *FileStore) path(owner string) string {
	return filepath.Join(s.dir, owner+"_bank.json")
}

// persist writes one account file atomically (temp file + rename).
// Must be called with s.mu held.
func (s *FileStore) persist(owner string) error {
	af, ok := s.accounts[owner]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, owner)
	}

	data, err := json.MarshalIndent(af, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path(owner) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path(owner)); err != nil {
		return fmt.Errorf("commit %s: %w", s.path(owner), err)
	}
	return nil
}

func (s *FileStore) GetBalance(ctx context.Context, owner string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	af, ok := s.accounts[owner]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, owner)
	}
	cp := af.Account
	return &cp, nil
}

func (s *FileStore) Seed(ctx context.Context, owner, balance string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[owner]; ok {
		return nil
	}
	s.accounts[owner] = &accountFile{
		Account: Account{
			Owner:     owner,
			Balance:   balance,
			TotalIn:   "0.00",
			TotalOut:  "0.00",
			UpdatedAt: time.Now(),
		},
	}
	return s.persist(owner)
}

func (s *FileStore) Transfer(ctx context.Context, from, to, amount, reference, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.accounts[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, from)
	}
	dst, ok := s.accounts[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, to)
	}

	amt, _ := money.Parse(amount)
	srcBal, _ := money.Parse(src.Account.Balance)
	if srcBal.Cmp(amt) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from, src.Account.Balance, amount)
	}

	// Keep the prior state so a failed write can be rolled back in memory.
	srcBefore, dstBefore := src.Account, dst.Account
	now := time.Now()

	srcBal.Sub(srcBal, amt)
	srcOut, _ := money.Parse(src.Account.TotalOut)
	srcOut.Add(srcOut, amt)
	src.Account.Balance = money.Format(srcBal)
	src.Account.TotalOut = money.Format(srcOut)
	src.Account.UpdatedAt = now
	src.Entries = append(src.Entries, &Entry{
		ID: idgen.WithPrefix("ent_"), Owner: from, Type: "debit",
		Amount: amount, Counterparty: to, Reference: reference,
		Description: description, CreatedAt: now,
	})

	dstBal, _ := money.Parse(dst.Account.Balance)
	dstBal.Add(dstBal, amt)
	dstIn, _ := money.Parse(dst.Account.TotalIn)
	dstIn.Add(dstIn, amt)
	dst.Account.Balance = money.Format(dstBal)
	dst.Account.TotalIn = money.Format(dstIn)
	dst.Account.UpdatedAt = now
	dst.Entries = append(dst.Entries, &Entry{
		ID: idgen.WithPrefix("ent_"), Owner: to, Type: "credit",
		Amount: amount, Counterparty: from, Reference: reference,
		Description: description, CreatedAt: now,
	})

	if err := s.persist(from); err != nil {
		src.Account, dst.Account = srcBefore, dstBefore
		src.Entries = src.Entries[:len(src.Entries)-1]
		dst.Entries = dst.Entries[:len(dst.Entries)-1]
		return err
	}
	if err := s.persist(to); err != nil {
		src.Account, dst.Account = srcBefore, dstBefore
		src.Entries = src.Entries[:len(src.Entries)-1]
		dst.Entries = dst.Entries[:len(dst.Entries)-1]
		// Put the source file back in line with memory.
		_ = s.persist(from)
		return err
	}

	return nil
}

func (s *FileStore) History(ctx context.Context, owner string, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	af, ok := s.accounts[owner]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, owner)
	}

	var result []*Entry
	for i := len(af.Entries) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, af.Entries[i])
	}
	return result, nil
}

func (s *FileStore) Accounts(ctx context.Context) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Account, 0, len(s.accounts))
	for _, owner := range []string{PartyA, PartyB, PartyEscrow} {
		if af, ok := s.accounts[owner]; ok {
			cp := af.Account
			out = append(out, &cp)
		}
	}
	return out, nil
}
