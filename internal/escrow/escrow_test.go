package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/mbd888/midpay/internal/bank"
	"github.com/mbd888/midpay/internal/chain"
	"github.com/mbd888/midpay/internal/keys"
	"github.com/mbd888/midpay/internal/money"
	"github.com/mbd888/midpay/internal/tx"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	ledger := bank.New(bank.NewMemoryStore())
	if err := ledger.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	keyring, err := keys.NewManager(bank.PartyA, bank.PartyB, bank.PartyEscrow)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	return NewService(ledger, chain.New(1), keyring, NewMemoryStore())
}

func balance(t *testing.T, s *Service, owner string) string {
	t.Helper()
	acct, err := s.Balance(context.Background(), owner)
	if err != nil {
		t.Fatalf("Balance(%s): %v", owner, err)
	}
	return acct.Balance
}

func TestCreate_MovesFundsAndAppendsBlock(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, CreateRequest{Amount: "500.00", Description: "Website development"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if rec.Status != tx.StatusCreated {
		t.Errorf("status = %s, want created", rec.Status)
	}
	if rec.From != bank.PartyA || rec.To != bank.PartyB {
		t.Errorf("parties = %s -> %s, want A -> B", rec.From, rec.To)
	}
	if rec.Signature == "" {
		t.Error("record is unsigned")
	}
	if err := s.VerifyRecord(rec); err != nil {
		t.Errorf("VerifyRecord: %v", err)
	}

	if got := balance(t, s, bank.PartyA); got != "500.00" {
		t.Errorf("A balance = %s, want 500.00", got)
	}
	if got := balance(t, s, bank.PartyEscrow); got != "500.00" {
		t.Errorf("escrow balance = %s, want 500.00", got)
	}

	if s.Chain().Len() != 2 {
		t.Errorf("chain length = %d, want 2 (genesis + create)", s.Chain().Len())
	}
	if res := s.VerifyChain(); !res.Valid {
		t.Errorf("chain invalid after create: %+v", res)
	}
}

func TestCreate_InvalidAmount(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	for _, amount := range []string{"0", "0.00", "-5.00", "abc", "1.2.3"} {
		_, err := s.Create(ctx, CreateRequest{Amount: amount})
		if !errors.Is(err, bank.ErrInvalidAmount) {
			t.Errorf("Create(%q) = %v, want ErrInvalidAmount", amount, err)
		}
	}

	if got := balance(t, s, bank.PartyA); got != "1000.00" {
		t.Errorf("A balance changed on rejected create: %s", got)
	}
	if s.Chain().Len() != 1 {
		t.Errorf("chain grew on rejected create: %d blocks", s.Chain().Len())
	}
}

func TestCreate_InsufficientFunds(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Create(ctx, CreateRequest{Amount: "1500.00"})
	if !errors.Is(err, bank.ErrInsufficientFunds) {
		t.Fatalf("Create = %v, want ErrInsufficientFunds", err)
	}

	if got := balance(t, s, bank.PartyA); got != "1000.00" {
		t.Errorf("A balance changed on failed create: %s", got)
	}
	if s.Chain().Len() != 1 {
		t.Errorf("block appended despite ledger failure: %d blocks", s.Chain().Len())
	}
}

func TestCreate_SealFailureRefundsEscrow(t *testing.T) {
	// A keyring without A's key makes signing fail after the funds moved.
	ledger := bank.New(bank.NewMemoryStore())
	if err := ledger.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	keyring, err := keys.NewManager(bank.PartyB, bank.PartyEscrow)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	s := NewService(ledger, chain.New(1), keyring, NewMemoryStore())

	_, err = s.Create(context.Background(), CreateRequest{Amount: "100.00"})
	if !errors.Is(err, keys.ErrNoKey) {
		t.Fatalf("Create = %v, want ErrNoKey", err)
	}

	a, _ := ledger.GetBalance(context.Background(), bank.PartyA)
	esc, _ := ledger.GetBalance(context.Background(), bank.PartyEscrow)
	if a.Balance != "1000.00" || esc.Balance != "0.00" {
		t.Errorf("funds not restored after seal failure: A=%s escrow=%s", a.Balance, esc.Balance)
	}
	if s.Chain().Len() != 1 {
		t.Errorf("block appended despite seal failure: %d blocks", s.Chain().Len())
	}
}

// cancelStore honors its context the way the Postgres store does through
// database/sql, and can trip a cancellation right after a successful
// transfer to simulate a request dying between ledger effect and mining.
type cancelStore struct {
	bank.Store
	afterTransfer func()
}

func (c *cancelStore) Transfer(ctx context.Context, from, to, amount, reference, description string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.Store.Transfer(ctx, from, to, amount, reference, description); err != nil {
		return err
	}
	if c.afterTransfer != nil {
		c.afterTransfer()
	}
	return nil
}

func (c *cancelStore) GetBalance(ctx context.Context, owner string) (*bank.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.Store.GetBalance(ctx, owner)
}

func TestCreate_CancelDuringMiningRefundsEscrow(t *testing.T) {
	// The lock transfer succeeds, then the request context dies before the
	// block is mined. The refund must still land on the dead context.
	store := &cancelStore{Store: bank.NewMemoryStore()}
	ledger := bank.New(store)
	if err := ledger.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	keyring, err := keys.NewManager(bank.PartyA, bank.PartyB, bank.PartyEscrow)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	s := NewService(ledger, chain.New(1), keyring, NewMemoryStore())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.afterTransfer = cancel

	_, err = s.Create(ctx, CreateRequest{Amount: "100.00"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Create = %v, want context.Canceled", err)
	}

	a, _ := ledger.GetBalance(context.Background(), bank.PartyA)
	esc, _ := ledger.GetBalance(context.Background(), bank.PartyEscrow)
	if a.Balance != "1000.00" || esc.Balance != "0.00" {
		t.Errorf("funds stranded after aborted mining: A=%s escrow=%s", a.Balance, esc.Balance)
	}
	if s.Chain().Len() != 1 {
		t.Errorf("block appended despite aborted mining: %d blocks", s.Chain().Len())
	}
}

func TestCancel_CancelDuringMiningRestoresEscrow(t *testing.T) {
	store := &cancelStore{Store: bank.NewMemoryStore()}
	ledger := bank.New(store)
	if err := ledger.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	keyring, err := keys.NewManager(bank.PartyA, bank.PartyB, bank.PartyEscrow)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	s := NewService(ledger, chain.New(1), keyring, NewMemoryStore())

	rec, err := s.Create(context.Background(), CreateRequest{Amount: "100.00"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.afterTransfer = cancel

	if _, err := s.Cancel(ctx, rec.ID); !errors.Is(err, context.Canceled) {
		t.Fatalf("Cancel = %v, want context.Canceled", err)
	}

	// The refund transfer ran, then sealing died; the reversal must put
	// the funds back in escrow so the transaction stays cancellable.
	esc, _ := ledger.GetBalance(context.Background(), bank.PartyEscrow)
	a, _ := ledger.GetBalance(context.Background(), bank.PartyA)
	if esc.Balance != "100.00" || a.Balance != "900.00" {
		t.Errorf("reversal did not restore escrow: A=%s escrow=%s", a.Balance, esc.Balance)
	}
	got, _ := s.Get(context.Background(), rec.ID)
	if got.Status != tx.StatusCreated {
		t.Errorf("status = %s, want created", got.Status)
	}
}

func TestLifecycle_ConfirmFlow(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, CreateRequest{Amount: "500.00", Description: "Website development"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	completed, err := s.MarkCompleted(ctx, rec.ID)
	if err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if completed.Status != tx.StatusServiceCompleted {
		t.Errorf("status = %s, want service_completed", completed.Status)
	}
	// No funds move on completion.
	if got := balance(t, s, bank.PartyEscrow); got != "500.00" {
		t.Errorf("escrow balance = %s after complete, want 500.00", got)
	}

	confirmed, err := s.Confirm(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirmed.Status != tx.StatusConfirmed {
		t.Errorf("status = %s, want confirmed", confirmed.Status)
	}
	if err := s.VerifyRecord(confirmed); err != nil {
		t.Errorf("VerifyRecord(confirmed): %v", err)
	}

	if got := balance(t, s, bank.PartyA); got != "500.00" {
		t.Errorf("A balance = %s, want 500.00", got)
	}
	if got := balance(t, s, bank.PartyB); got != "1000.00" {
		t.Errorf("B balance = %s, want 1000.00", got)
	}
	if got := balance(t, s, bank.PartyEscrow); got != "0.00" {
		t.Errorf("escrow balance = %s, want 0.00", got)
	}

	// Genesis + create + complete + confirm.
	if s.Chain().Len() != 4 {
		t.Errorf("chain length = %d, want 4", s.Chain().Len())
	}
	if res := s.VerifyChain(); !res.Valid {
		t.Errorf("chain invalid after lifecycle: %+v", res)
	}
}

func TestLifecycle_CancelFlow(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, CreateRequest{Amount: "1000.00"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cancelled, err := s.Cancel(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != tx.StatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}

	if got := balance(t, s, bank.PartyA); got != "1000.00" {
		t.Errorf("A balance = %s after refund, want 1000.00", got)
	}
	if got := balance(t, s, bank.PartyEscrow); got != "0.00" {
		t.Errorf("escrow balance = %s after refund, want 0.00", got)
	}
}

func TestConfirm_RequiresCompletion(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, CreateRequest{Amount: "100.00"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = s.Confirm(ctx, rec.ID)
	if !errors.Is(err, tx.ErrInvalidTransition) {
		t.Fatalf("Confirm on created = %v, want ErrInvalidTransition", err)
	}

	// No funds moved, no block appended.
	if got := balance(t, s, bank.PartyB); got != "500.00" {
		t.Errorf("B balance = %s, want 500.00", got)
	}
	if s.Chain().Len() != 2 {
		t.Errorf("chain length = %d, want 2", s.Chain().Len())
	}
}

func TestTerminal_RejectsAllTransitions(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	rec, _ := s.Create(ctx, CreateRequest{Amount: "100.00"})
	if _, err := s.MarkCompleted(ctx, rec.ID); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if _, err := s.Confirm(ctx, rec.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	ops := map[string]func() error{
		"complete": func() error { _, err := s.MarkCompleted(ctx, rec.ID); return err },
		"confirm":  func() error { _, err := s.Confirm(ctx, rec.ID); return err },
		"cancel":   func() error { _, err := s.Cancel(ctx, rec.ID); return err },
		"dispute":  func() error { _, err := s.Dispute(ctx, rec.ID, "too late"); return err },
		"resolve":  func() error { _, err := s.Resolve(ctx, rec.ID, OutcomeRefund); return err },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, tx.ErrInvalidTransition) {
			t.Errorf("%s on confirmed = %v, want ErrInvalidTransition", name, err)
		}
	}
}

func TestDispute_ResolveRelease(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	rec, _ := s.Create(ctx, CreateRequest{Amount: "200.00"})
	if _, err := s.MarkCompleted(ctx, rec.ID); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	disputed, err := s.Dispute(ctx, rec.ID, "work does not match the brief")
	if err != nil {
		t.Fatalf("Dispute: %v", err)
	}
	if disputed.Status != tx.StatusDisputed {
		t.Errorf("status = %s, want disputed", disputed.Status)
	}
	if disputed.DisputeReason != "work does not match the brief" {
		t.Errorf("dispute reason = %q", disputed.DisputeReason)
	}
	// Funds stay frozen in escrow during the dispute.
	if got := balance(t, s, bank.PartyEscrow); got != "200.00" {
		t.Errorf("escrow balance = %s during dispute, want 200.00", got)
	}

	resolved, err := s.Resolve(ctx, rec.ID, OutcomeRelease)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Status != tx.StatusConfirmed {
		t.Errorf("status = %s, want confirmed", resolved.Status)
	}
	if resolved.Resolution != OutcomeRelease {
		t.Errorf("resolution = %q, want release", resolved.Resolution)
	}
	if resolved.DisputeReason == "" {
		t.Error("dispute reason dropped from resolved record")
	}

	if got := balance(t, s, bank.PartyB); got != "700.00" {
		t.Errorf("B balance = %s, want 700.00", got)
	}
}

func TestDispute_ResolveRefund(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	rec, _ := s.Create(ctx, CreateRequest{Amount: "200.00"})
	if _, err := s.Dispute(ctx, rec.ID, "never delivered"); err != nil {
		t.Fatalf("Dispute: %v", err)
	}

	resolved, err := s.Resolve(ctx, rec.ID, OutcomeRefund)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Status != tx.StatusCancelled {
		t.Errorf("status = %s, want cancelled", resolved.Status)
	}
	if resolved.Resolution != OutcomeRefund {
		t.Errorf("resolution = %q, want refund", resolved.Resolution)
	}

	if got := balance(t, s, bank.PartyA); got != "1000.00" {
		t.Errorf("A balance = %s after refund, want 1000.00", got)
	}
	if got := balance(t, s, bank.PartyEscrow); got != "0.00" {
		t.Errorf("escrow balance = %s after refund, want 0.00", got)
	}
}

func TestResolve_InvalidOutcome(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	rec, _ := s.Create(ctx, CreateRequest{Amount: "100.00"})
	if _, err := s.Dispute(ctx, rec.ID, "reason"); err != nil {
		t.Fatalf("Dispute: %v", err)
	}

	_, err := s.Resolve(ctx, rec.ID, "split")
	if !errors.Is(err, tx.ErrInvalidTransition) {
		t.Fatalf("Resolve(split) = %v, want ErrInvalidTransition", err)
	}
}

func TestResolve_RequiresDispute(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	rec, _ := s.Create(ctx, CreateRequest{Amount: "100.00"})

	_, err := s.Resolve(ctx, rec.ID, OutcomeRelease)
	if !errors.Is(err, tx.ErrInvalidTransition) {
		t.Fatalf("Resolve on created = %v, want ErrInvalidTransition", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestService(t)

	_, err := s.Get(context.Background(), "tx_missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}

	_, err = s.Confirm(context.Background(), "tx_missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Confirm = %v, want ErrNotFound", err)
	}
}

func TestHistory_ChainOrderAndFilters(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	first, _ := s.Create(ctx, CreateRequest{Amount: "100.00"})
	second, _ := s.Create(ctx, CreateRequest{Amount: "50.00"})
	if _, err := s.MarkCompleted(ctx, first.ID); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if _, err := s.Confirm(ctx, first.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	all, err := s.History(ctx, HistoryFilter{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("history length = %d, want 4", len(all))
	}
	// Chain order, newest last.
	if all[0].ID != first.ID || all[1].ID != second.ID || all[3].Status != tx.StatusConfirmed {
		t.Errorf("history out of chain order: %v %v %v", all[0].ID, all[1].ID, all[3].Status)
	}

	created, err := s.History(ctx, HistoryFilter{Status: "created"})
	if err != nil {
		t.Fatalf("History(created): %v", err)
	}
	if len(created) != 2 {
		t.Errorf("created records = %d, want 2", len(created))
	}

	byB, err := s.History(ctx, HistoryFilter{Party: bank.PartyB})
	if err != nil {
		t.Fatalf("History(party B): %v", err)
	}
	if len(byB) != 4 {
		t.Errorf("records touching B = %d, want 4", len(byB))
	}

	if _, err := s.History(ctx, HistoryFilter{Status: "bogus"}); err == nil {
		t.Error("expected error for unknown status filter")
	}
}

func TestVerifyChain_DetectsTamper(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	rec, _ := s.Create(ctx, CreateRequest{Amount: "100.00"})
	if _, err := s.MarkCompleted(ctx, rec.ID); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	if res := s.VerifyChain(); !res.Valid {
		t.Fatalf("chain should be valid before tampering: %+v", res)
	}

	// Flip a byte in the first record's payload.
	blocks := s.Chain().Blocks()
	blocks[1].Data[0] ^= 0xff

	res := s.VerifyChain()
	if res.Valid {
		t.Fatal("tampered chain reported valid")
	}
	if res.FirstBrokenIndex != 1 {
		t.Errorf("first broken index = %d, want 1", res.FirstBrokenIndex)
	}
}

func TestVerifyRecord_DetectsTamper(t *testing.T) {
	s := newTestService(t)

	rec, err := s.Create(context.Background(), CreateRequest{Amount: "100.00"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	forged := *rec
	forged.Amount = "999.00"
	if err := s.VerifyRecord(&forged); !errors.Is(err, keys.ErrBadSignature) {
		t.Errorf("VerifyRecord(forged) = %v, want ErrBadSignature", err)
	}
}

func TestConcurrentCreates_SerializeOnChain(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := s.Create(ctx, CreateRequest{Amount: "10.00"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Create: %v", err)
		}
	}

	if s.Chain().Len() != n+1 {
		t.Errorf("chain length = %d, want %d", s.Chain().Len(), n+1)
	}
	if res := s.VerifyChain(); !res.Valid {
		t.Errorf("chain invalid after concurrent creates: %+v", res)
	}
	if got := balance(t, s, bank.PartyEscrow); got != "100.00" {
		t.Errorf("escrow balance = %s, want 100.00", got)
	}
}

func TestEscrowBalance_EqualsOpenTransactions(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	open, _ := s.Create(ctx, CreateRequest{Amount: "75.00"})
	toConfirm, _ := s.Create(ctx, CreateRequest{Amount: "100.00"})
	toCancel, _ := s.Create(ctx, CreateRequest{Amount: "50.00"})

	if _, err := s.MarkCompleted(ctx, toConfirm.ID); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if _, err := s.Confirm(ctx, toConfirm.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if _, err := s.Cancel(ctx, toCancel.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// Escrow holds exactly the open transaction's amount.
	if got := balance(t, s, bank.PartyEscrow); got != open.Amount {
		t.Errorf("escrow balance = %s, want %s", got, open.Amount)
	}

	// Total money is conserved.
	total, _ := money.Parse("0")
	for _, owner := range []string{bank.PartyA, bank.PartyB, bank.PartyEscrow} {
		v, ok := money.Parse(balance(t, s, owner))
		if !ok {
			t.Fatalf("unparseable balance for %s", owner)
		}
		total.Add(total, v)
	}
	if money.Format(total) != "1500.00" {
		t.Errorf("total money = %s, want 1500.00", money.Format(total))
	}
}

func TestCancelledContext_LeavesStateUntouched(t *testing.T) {
	s := newTestService(t)

	rec, err := s.Create(context.Background(), CreateRequest{Amount: "100.00"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.MarkCompleted(cancelled, rec.ID); err == nil {
		t.Fatal("expected error from cancelled context")
	}

	got, err := s.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != tx.StatusCreated {
		t.Errorf("status changed under cancelled context: %s", got.Status)
	}
}

func ExampleService_Create() {
	ledger := bank.New(bank.NewMemoryStore())
	_ = ledger.Bootstrap(context.Background())
	keyring, _ := keys.NewManager(bank.PartyA, bank.PartyB, bank.PartyEscrow)
	s := NewService(ledger, chain.New(0), keyring, NewMemoryStore())

	rec, _ := s.Create(context.Background(), CreateRequest{Amount: "500.00", Description: "Website development"})
	fmt.Println(rec.Status)
	// Output: created
}
