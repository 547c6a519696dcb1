// Package mirror maintains a queryable PostgreSQL copy of the chain.
//
// The chain itself is the source of truth. The mirror is an observer:
// every sealed record and block is appended here after the fact so that
// SQL tooling and dashboards can read the history without replaying the
// chain. Writes are best-effort from the caller's point of view; a
// mirror failure never rolls back a sealed transaction.
package mirror

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mbd888/midpay/internal/chain"
	"github.com/mbd888/midpay/internal/tx"
)

// Mirror writes sealed transactions and blocks to PostgreSQL.
type Mirror struct {
	db *sql.DB
}

// New creates a mirror over the given database.
func New(db *sql.DB) *Mirror {
	return &Mirror{db: db}
}

// Migrate creates the mirror tables.
func (m *Mirror) Migrate(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS mirror_transactions (
			seq            BIGSERIAL PRIMARY KEY,
			tx_id          VARCHAR(64) NOT NULL,
			amount         NUMERIC(20,2) NOT NULL,
			description    TEXT,
			from_party     VARCHAR(32) NOT NULL,
			to_party       VARCHAR(32) NOT NULL,
			status         VARCHAR(32) NOT NULL,
			dispute_reason TEXT,
			resolution     VARCHAR(16),
			signed_by      VARCHAR(32) NOT NULL,
			signature      TEXT NOT NULL,
			record_created TIMESTAMPTZ NOT NULL,
			record_updated TIMESTAMPTZ NOT NULL,
			mirrored_at    TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS mirror_blocks (
			idx           BIGINT PRIMARY KEY,
			hash          VARCHAR(64) NOT NULL,
			previous_hash VARCHAR(64) NOT NULL,
			nonce         BIGINT NOT NULL,
			mined_at      TIMESTAMPTZ NOT NULL,
			data          JSONB,
			mirrored_at   TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_mirror_tx_id ON mirror_transactions(tx_id, seq);
		CREATE INDEX IF NOT EXISTS idx_mirror_tx_status ON mirror_transactions(status);
	`)
	return err
}

// SaveTransaction appends one sealed record. Records are immutable, so
// every status change lands as a new row; the full lifecycle of a
// transaction is the sequence of rows sharing its tx_id.
func (m *Mirror) SaveTransaction(ctx context.Context, rec *tx.Record) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO mirror_transactions (
			tx_id, amount, description, from_party, to_party,
			status, dispute_reason, resolution, signed_by, signature,
			record_created, record_updated
		) VALUES ($1, $2::NUMERIC(20,2), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, rec.ID, rec.Amount, rec.Description, rec.From, rec.To,
		string(rec.Status), rec.DisputeReason, rec.Resolution, rec.SignedBy, rec.Signature,
		rec.CreatedAt, rec.UpdatedAt)
	return err
}

// SaveBlock records one mined block. Re-mirroring an index overwrites
// the previous row so a restarted server can replay the chain safely.
func (m *Mirror) SaveBlock(ctx context.Context, b *chain.Block) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO mirror_blocks (idx, hash, previous_hash, nonce, mined_at, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idx) DO UPDATE SET
			hash = EXCLUDED.hash,
			previous_hash = EXCLUDED.previous_hash,
			nonce = EXCLUDED.nonce,
			mined_at = EXCLUDED.mined_at,
			data = EXCLUDED.data,
			mirrored_at = NOW()
	`, int64(b.Index), b.Hash, b.PreviousHash, int64(b.Nonce), // #nosec G115 -- chain indexes stay far below int64 range
		time.Unix(b.Timestamp, 0).UTC(), string(b.Data))
	return err
}

// MirroredRecord is one row of a transaction's mirrored lifecycle.
type MirroredRecord struct {
	Seq        int64     `json:"seq"`
	TxID       string    `json:"txId"`
	Amount     string    `json:"amount"`
	Status     string    `json:"status"`
	SignedBy   string    `json:"signedBy"`
	Updated    time.Time `json:"updated"`
	MirroredAt time.Time `json:"mirroredAt"`
}

// History returns every mirrored row for one transaction, oldest first.
func (m *Mirror) History(ctx context.Context, txID string) ([]*MirroredRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT seq, tx_id, amount::text, status, signed_by, record_updated, mirrored_at
		FROM mirror_transactions
		WHERE tx_id = $1
		ORDER BY seq ASC
	`, txID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []*MirroredRecord
	for rows.Next() {
		r := &MirroredRecord{}
		if err := rows.Scan(&r.Seq, &r.TxID, &r.Amount, &r.Status, &r.SignedBy, &r.Updated, &r.MirroredAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// LatestBlockIndex returns the highest mirrored block index, or -1 when
// the mirror is empty.
func (m *Mirror) LatestBlockIndex(ctx context.Context) (int64, error) {
	var idx int64
	err := m.db.QueryRowContext(ctx, `SELECT idx FROM mirror_blocks ORDER BY idx DESC LIMIT 1`).Scan(&idx)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	return idx, nil
}

// Ping reports whether the mirror database is reachable.
func (m *Mirror) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}
