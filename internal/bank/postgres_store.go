package bank

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/mbd888/midpay/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed bank store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the bank tables with NUMERIC balance columns.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			owner       VARCHAR(32) PRIMARY KEY,
			balance     NUMERIC(20,2) NOT NULL DEFAULT 0,
			total_in    NUMERIC(20,2) NOT NULL DEFAULT 0,
			total_out   NUMERIC(20,2) NOT NULL DEFAULT 0,
			updated_at  TIMESTAMPTZ DEFAULT NOW(),
			CONSTRAINT chk_balance_nonneg CHECK (balance >= 0)
		);

		CREATE TABLE IF NOT EXISTS bank_entries (
			id           VARCHAR(36) PRIMARY KEY,
			owner        VARCHAR(32) NOT NULL,
			type         VARCHAR(10) NOT NULL,
			amount       NUMERIC(20,2) NOT NULL,
			counterparty VARCHAR(32) NOT NULL,
			reference    VARCHAR(64),
			description  TEXT,
			created_at   TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_bank_entries_owner ON bank_entries(owner);
		CREATE INDEX IF NOT EXISTS idx_bank_entries_ref ON bank_entries(reference);
		CREATE INDEX IF NOT EXISTS idx_bank_entries_created ON bank_entries(created_at DESC);
	`)
	return err
}

func (p *PostgresStore) GetBalance(ctx context.Context, owner string) (*Account, error) {
	acct := &Account{Owner: owner}
	err := p.db.QueryRowContext(ctx, `
		SELECT balance::text, total_in::text, total_out::text, updated_at
		FROM accounts WHERE owner = $1
	`, owner).Scan(&acct.Balance, &acct.TotalIn, &acct.TotalOut, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, owner)
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (p *PostgresStore) Seed(ctx context.Context, owner, balance string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (owner, balance, total_in, total_out, updated_at)
		VALUES ($1, $2::numeric, 0, 0, NOW())
		ON CONFLICT (owner) DO NOTHING
	`, owner, balance)
	return err
}

func (p *PostgresStore) Transfer(ctx context.Context, from, to, amount, reference, description string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock both rows in a fixed order to avoid deadlocks.
	first, second := from, to
	if second < first {
		first, second = second, first
	}
	for _, owner := range []string{first, second} {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT TRUE FROM accounts WHERE owner = $1 FOR UPDATE`, owner,
		).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrAccountNotFound, owner)
			}
			return err
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance - $2::numeric,
		    total_out = total_out + $2::numeric,
		    updated_at = NOW()
		WHERE owner = $1 AND balance >= $2::numeric
	`, from, amount)
	if err != nil {
		// The CHECK constraint also guards the balance; surface it uniformly.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "check_violation" {
			return fmt.Errorf("%w: %s needs %s", ErrInsufficientFunds, from, amount)
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s needs %s", ErrInsufficientFunds, from, amount)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance + $2::numeric,
		    total_in = total_in + $2::numeric,
		    updated_at = NOW()
		WHERE owner = $1
	`, to, amount); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bank_entries (id, owner, type, amount, counterparty, reference, description)
		VALUES ($1, $2, 'debit', $3::numeric, $4, $5, $6),
		       ($7, $4, 'credit', $3::numeric, $2, $5, $6)
	`, idgen.WithPrefix("ent_"), from, amount, to, reference, description,
		idgen.WithPrefix("ent_")); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresStore) History(ctx context.Context, owner string, limit int) ([]*Entry, error) {
	query := `
		SELECT id, owner, type, amount::text, counterparty,
		       COALESCE(reference, ''), COALESCE(description, ''), created_at
		FROM bank_entries
		WHERE owner = $1
		ORDER BY created_at DESC`
	args := []any{owner}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.Owner, &e.Type, &e.Amount, &e.Counterparty,
			&e.Reference, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresStore) Accounts(ctx context.Context) ([]*Account, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT owner, balance::text, total_in::text, total_out::text, updated_at
		FROM accounts ORDER BY owner
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var accounts []*Account
	for rows.Next() {
		a := &Account{}
		if err := rows.Scan(&a.Owner, &a.Balance, &a.TotalIn, &a.TotalOut, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
