package keys

import (
	"errors"
	"testing"
)

func TestSignAndVerify(t *testing.T) {
	m, err := NewManager("A", "B", "escrow")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	payload := []byte(`{"id":"tx_1","amount":"500.00"}`)

	sig, err := m.Sign("A", payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if sig == "" {
		t.Fatal("empty signature")
	}

	if err := m.Verify("A", payload, sig); err != nil {
		t.Errorf("Verify with correct party: %v", err)
	}
}

func TestVerifyWrongParty(t *testing.T) {
	m, err := NewManager("A", "B")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	payload := []byte("payment record")
	sig, err := m.Sign("A", payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	err = m.Verify("B", payload, sig)
	if !errors.Is(err, ErrBadSignature) {
		t.Errorf("Verify with wrong party = %v, want ErrBadSignature", err)
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	m, err := NewManager("A")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	sig, err := m.Sign("A", []byte(`{"amount":"500.00"}`))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	err = m.Verify("A", []byte(`{"amount":"9999.00"}`), sig)
	if !errors.Is(err, ErrBadSignature) {
		t.Errorf("Verify with tampered payload = %v, want ErrBadSignature", err)
	}
}

func TestUnknownParty(t *testing.T) {
	m, err := NewManager("A")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if _, err := m.Sign("C", []byte("x")); !errors.Is(err, ErrNoKey) {
		t.Errorf("Sign unknown party = %v, want ErrNoKey", err)
	}
	if err := m.Verify("C", []byte("x"), "00"); !errors.Is(err, ErrNoKey) {
		t.Errorf("Verify unknown party = %v, want ErrNoKey", err)
	}
	if _, err := m.Address("C"); !errors.Is(err, ErrNoKey) {
		t.Errorf("Address unknown party = %v, want ErrNoKey", err)
	}
}

func TestVerifyMalformedSignature(t *testing.T) {
	m, err := NewManager("A")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if err := m.Verify("A", []byte("x"), "not-hex"); !errors.Is(err, ErrBadSignature) {
		t.Errorf("Verify malformed hex = %v, want ErrBadSignature", err)
	}
	if err := m.Verify("A", []byte("x"), "00ff"); !errors.Is(err, ErrBadSignature) {
		t.Errorf("Verify short signature = %v, want ErrBadSignature", err)
	}
}

func TestPartyNamesAreCaseInsensitive(t *testing.T) {
	m, err := NewManager("A")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	sig, err := m.Sign("a", []byte("x"))
	if err != nil {
		t.Fatalf("Sign lowercase: %v", err)
	}
	if err := m.Verify("A", []byte("x"), sig); err != nil {
		t.Errorf("Verify uppercase: %v", err)
	}
}
