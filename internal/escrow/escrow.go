// Package escrow drives the payment lifecycle between the two parties.
//
// Flow:
//  1. A creates a transaction → funds moved: A → escrow
//  2. B delivers the service → B marks it completed
//  3. A confirms → funds moved: escrow → B
//  4. A cancels before confirming → funds moved: escrow → A
//  5. Either side disputes → funds frozen until resolve(release|refund)
//
// Every state change produces a new signed transaction record sealed into
// the chain as its own block. All mutations run under one exclusive
// critical section covering guard check, ledger effect, record signing,
// and block append; a failed ledger effect aborts the transition with no
// block appended.
package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/midpay/internal/bank"
	"github.com/mbd888/midpay/internal/chain"
	"github.com/mbd888/midpay/internal/idgen"
	"github.com/mbd888/midpay/internal/keys"
	"github.com/mbd888/midpay/internal/logging"
	"github.com/mbd888/midpay/internal/metrics"
	"github.com/mbd888/midpay/internal/money"
	"github.com/mbd888/midpay/internal/retry"
	"github.com/mbd888/midpay/internal/syncutil"
	"github.com/mbd888/midpay/internal/tx"
)

var ErrNotFound = errors.New("transaction not found")

// Resolution outcomes accepted by Resolve.
const (
	OutcomeRelease = "release" // escrow -> B
	OutcomeRefund  = "refund"  // escrow -> A
)

// Store keeps the latest record per transaction id. The chain itself is
// the full history; the store is the fast current-state lookup.
type Store interface {
	Put(ctx context.Context, rec *tx.Record) error
	Get(ctx context.Context, id string) (*tx.Record, error)
}

// Sink mirrors sealed records and blocks to an external document store.
// Calls are best-effort; correctness never depends on the mirror.
type Sink interface {
	SaveTransaction(ctx context.Context, rec *tx.Record) error
	SaveBlock(ctx context.Context, b *chain.Block) error
}

// Broadcaster pushes live events to subscribed clients.
type Broadcaster interface {
	BroadcastTransaction(data map[string]interface{})
	BroadcastBlock(data map[string]interface{})
	BroadcastBalanceChange(data map[string]interface{})
}

// CreateRequest contains the parameters for creating a transaction.
type CreateRequest struct {
	Amount      string `json:"amount" binding:"required"`
	Description string `json:"description"`
}

// DisputeRequest contains the parameters for disputing a transaction.
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ResolveRequest contains the parameters for resolving a dispute.
type ResolveRequest struct {
	Outcome string `json:"outcome" binding:"required"`
}

// Service implements the escrow state machine over the ledger, the chain,
// and the key manager.
type Service struct {
	ledger  *bank.Ledger
	chain   *chain.Chain
	keyring *keys.Manager
	store   Store
	mirror  Sink
	events  Broadcaster
	mu      syncutil.ContextMutex
}

// NewService creates a new escrow service.
func NewService(ledger *bank.Ledger, ch *chain.Chain, keyring *keys.Manager, store Store) *Service {
	return &Service{
		ledger:  ledger,
		chain:   ch,
		keyring: keyring,
		store:   store,
	}
}

// WithMirror adds a best-effort document-store mirror.
func (s *Service) WithMirror(m Sink) *Service {
	s.mirror = m
	return s
}

// WithBroadcaster adds a realtime event broadcaster.
func (s *Service) WithBroadcaster(b Broadcaster) *Service {
	s.events = b
	return s
}

// Create opens a new escrow transaction: A's funds move into the escrow
// account and the CREATED record is sealed into the chain.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*tx.Record, error) {
	amount, ok := money.Parse(req.Amount)
	if !ok || amount.Sign() <= 0 {
		metrics.EscrowRejectionsTotal.WithLabelValues("invalid_amount").Inc()
		return nil, fmt.Errorf("%w: %q", bank.ErrInvalidAmount, req.Amount)
	}

	unlock, err := s.mu.LockContext(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := time.Now()
	rec := &tx.Record{
		ID:          idgen.WithPrefix("tx_"),
		Amount:      money.Format(amount),
		Description: req.Description,
		From:        bank.PartyA,
		To:          bank.PartyB,
		Status:      tx.StatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
		SignedBy:    bank.PartyA,
	}

	if err := s.ledger.Transfer(ctx, bank.PartyA, bank.PartyEscrow, rec.Amount, rec.ID, "escrow lock"); err != nil {
		if errors.Is(err, bank.ErrInsufficientFunds) {
			metrics.EscrowRejectionsTotal.WithLabelValues("insufficient_funds").Inc()
		}
		return nil, err
	}

	if err := s.seal(ctx, rec); err != nil {
		// Return the locked funds; the transition never happened.
		s.reverse(ctx, bank.PartyEscrow, bank.PartyA, rec, "escrow lock reversal")
		return nil, err
	}

	return rec, nil
}

// MarkCompleted records that B has delivered the service. No funds move.
func (s *Service) MarkCompleted(ctx context.Context, id string) (*tx.Record, error) {
	return s.advance(ctx, id, tx.EventComplete, bank.PartyB, nil)
}

// Confirm accepts the delivered service: escrowed funds move to B and the
// transaction reaches its terminal CONFIRMED state.
func (s *Service) Confirm(ctx context.Context, id string) (*tx.Record, error) {
	return s.advance(ctx, id, tx.EventConfirm, bank.PartyA, nil)
}

// Cancel aborts the transaction before confirmation: escrowed funds return
// to A and the transaction reaches its terminal CANCELLED state.
func (s *Service) Cancel(ctx context.Context, id string) (*tx.Record, error) {
	return s.advance(ctx, id, tx.EventCancel, bank.PartyA, nil)
}

// Dispute freezes a non-terminal transaction pending resolution.
func (s *Service) Dispute(ctx context.Context, id, reason string) (*tx.Record, error) {
	return s.advance(ctx, id, tx.EventDispute, bank.PartyEscrow, func(rec *tx.Record) {
		rec.DisputeReason = reason
	})
}

// Resolve settles a disputed transaction. Outcome "release" pays B,
// "refund" returns the funds to A; either way the transaction is terminal
// afterwards and the outcome is recorded on the final record.
func (s *Service) Resolve(ctx context.Context, id, outcome string) (*tx.Record, error) {
	var event tx.Event
	switch outcome {
	case OutcomeRelease:
		event = tx.EventResolveRelease
	case OutcomeRefund:
		event = tx.EventResolveRefund
	default:
		metrics.EscrowRejectionsTotal.WithLabelValues("invalid_outcome").Inc()
		return nil, fmt.Errorf("%w: outcome must be %q or %q, got %q",
			tx.ErrInvalidTransition, OutcomeRelease, OutcomeRefund, outcome)
	}
	return s.advance(ctx, id, event, bank.PartyEscrow, func(rec *tx.Record) {
		rec.Resolution = outcome
	})
}

// advance runs one state transition under the critical section: guard
// check, ledger effect, signing, block append. decorate, when set, runs on
// the successor record before it is signed.
func (s *Service) advance(ctx context.Context, id string, event tx.Event, signedBy string, decorate func(*tx.Record)) (*tx.Record, error) {
	unlock, err := s.mu.LockContext(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	next, err := tx.Transition(cur.Status, event)
	if err != nil {
		metrics.EscrowRejectionsTotal.WithLabelValues("invalid_transition").Inc()
		return nil, err
	}

	rec := cur.Successor(next, signedBy, time.Now())
	if decorate != nil {
		decorate(rec)
	}

	from, to := settlement(next)
	if from != "" {
		if err := s.ledger.Transfer(ctx, from, to, rec.Amount, rec.ID, "escrow "+string(event)); err != nil {
			return nil, err
		}
	}

	if err := s.seal(ctx, rec); err != nil {
		if from != "" {
			// Reverse the settlement; the transition never happened.
			s.reverse(ctx, to, from, rec, "escrow "+string(event)+" reversal")
		}
		return nil, err
	}

	return rec, nil
}

// reverse undoes a settlement whose seal failed. Sealing most often fails
// because the request context died mid-mining, so the reversal runs on a
// context detached from cancellation; the ledger must not be left holding
// funds for a transition that never happened.
func (s *Service) reverse(ctx context.Context, from, to string, rec *tx.Record, reason string) {
	rctx := context.WithoutCancel(ctx)
	if err := s.ledger.Transfer(rctx, from, to, rec.Amount, rec.ID, reason); err != nil {
		logging.L(ctx).Error("settlement reversal failed, funds stranded in escrow",
			"tx_id", rec.ID,
			"from", from,
			"to", to,
			"amount", rec.Amount,
			"error", err)
	}
}

// settlement returns the transfer implied by entering a status.
// Empty strings mean no funds move.
func settlement(next tx.Status) (from, to string) {
	switch next {
	case tx.StatusConfirmed:
		return bank.PartyEscrow, bank.PartyB
	case tx.StatusCancelled:
		return bank.PartyEscrow, bank.PartyA
	}
	return "", ""
}

// seal signs the record, mines it into the chain, stores it, and notifies
// observers. The caller holds the critical section.
func (s *Service) seal(ctx context.Context, rec *tx.Record) error {
	sig, err := s.keyring.Sign(rec.SignedBy, rec.SigningBytes())
	if err != nil {
		return fmt.Errorf("sign record %s: %w", rec.ID, err)
	}
	rec.Signature = sig

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}

	start := time.Now()
	block, err := s.chain.Append(ctx, payload)
	if err != nil {
		return fmt.Errorf("append block for %s: %w", rec.ID, err)
	}
	metrics.MiningDuration.Observe(time.Since(start).Seconds())
	metrics.BlocksMinedTotal.Inc()
	metrics.ChainLength.Set(float64(s.chain.Len()))
	metrics.TransactionsTotal.WithLabelValues(string(rec.Status)).Inc()

	if err := s.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("store record %s: %w", rec.ID, err)
	}

	logging.L(ctx).Info("transaction sealed",
		"tx_id", rec.ID,
		"status", rec.Status,
		"block_index", block.Index,
		"signed_by", rec.SignedBy)

	if s.mirror != nil {
		// Mirror writes are best-effort; the chain already holds the record.
		if err := retry.Do(ctx, 3, 100*time.Millisecond, func() error {
			return s.mirror.SaveTransaction(ctx, rec)
		}); err != nil {
			logging.L(ctx).Warn("mirror transaction write failed", "tx_id", rec.ID, "error", err)
		}
		if err := retry.Do(ctx, 3, 100*time.Millisecond, func() error {
			return s.mirror.SaveBlock(ctx, block)
		}); err != nil {
			logging.L(ctx).Warn("mirror block write failed", "block_index", block.Index, "error", err)
		}
	}

	if s.events != nil {
		s.events.BroadcastTransaction(map[string]interface{}{
			"id":     rec.ID,
			"amount": rec.Amount,
			"buyer":  rec.From,
			"seller": rec.To,
			"status": string(rec.Status),
		})
		s.events.BroadcastBlock(map[string]interface{}{
			"index": block.Index,
			"hash":  block.Hash,
		})
	}

	return nil
}

// Get returns the latest record for a transaction id.
func (s *Service) Get(ctx context.Context, id string) (*tx.Record, error) {
	return s.store.Get(ctx, id)
}

// HistoryFilter narrows a history query.
type HistoryFilter struct {
	Status string // match records with this status
	Party  string // match records where the party appears as from, to, or signer
}

// History walks the chain in order and returns every record matching the
// filter, newest last.
func (s *Service) History(ctx context.Context, f HistoryFilter) ([]*tx.Record, error) {
	if f.Status != "" {
		if _, err := tx.ParseStatus(f.Status); err != nil {
			return nil, err
		}
	}

	var out []*tx.Record
	for _, b := range s.chain.Blocks() {
		if b.Index == 0 {
			continue // genesis carries no record
		}
		var rec tx.Record
		if err := json.Unmarshal(b.Data, &rec); err != nil || rec.ID == "" {
			continue
		}
		if f.Status != "" && string(rec.Status) != f.Status {
			continue
		}
		if f.Party != "" && rec.From != f.Party && rec.To != f.Party && rec.SignedBy != f.Party {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

// VerifyChain replays the whole chain and reports the verdict.
func (s *Service) VerifyChain() chain.VerificationResult {
	res := s.chain.Verify()
	if res.Valid {
		metrics.ChainVerificationsTotal.WithLabelValues("valid").Inc()
	} else {
		metrics.ChainVerificationsTotal.WithLabelValues("invalid").Inc()
	}
	return res
}

// VerifyRecord checks a record's signature against its signer's key.
func (s *Service) VerifyRecord(rec *tx.Record) error {
	return s.keyring.Verify(rec.SignedBy, rec.SigningBytes(), rec.Signature)
}

// Balance returns one party's account.
func (s *Service) Balance(ctx context.Context, owner string) (*bank.Account, error) {
	return s.ledger.GetBalance(ctx, owner)
}

// Accounts returns all party balances at once.
func (s *Service) Accounts(ctx context.Context) ([]*bank.Account, error) {
	return s.ledger.Summary(ctx)
}

// Chain exposes the underlying chain for read-only listing.
func (s *Service) Chain() *chain.Chain {
	return s.chain
}
