// Package keys manages the signing keypairs for the transacting parties.
//
// Each party (A, B, escrow) gets its own secp256k1 keypair at startup.
// Transaction records are signed with the acting party's private key and
// anyone holding the public key can verify the signature later.
package keys

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrNoKey        = errors.New("no key registered for party")
	ErrBadSignature = errors.New("signature verification failed")
)

// Manager holds the keypairs for all known parties.
type Manager struct {
	mu   sync.RWMutex
	keys map[string]*ecdsa.PrivateKey
}

// NewManager creates a manager with freshly generated keypairs for the
// given parties.
func NewManager(parties ...string) (*Manager, error) {
	m := &Manager{keys: make(map[string]*ecdsa.PrivateKey)}
	for _, p := range parties {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate key for %s: %w", p, err)
		}
		m.keys[normalize(p)] = key
	}
	return m, nil
}

// Sign signs the payload with the party's private key and returns the
// hex-encoded 65-byte signature (r[32] + s[32] + v[1]).
func (m *Manager) Sign(party string, payload []byte) (string, error) {
	m.mu.RLock()
	key, ok := m.keys[normalize(party)]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoKey, party)
	}

	sig, err := crypto.Sign(digest(payload), key)
	if err != nil {
		return "", fmt.Errorf("sign for %s: %w", party, err)
	}
	return hex.EncodeToString(sig), nil
}

// Verify checks that sigHex is a valid signature over payload by the
// named party. Returns ErrBadSignature on mismatch and ErrNoKey when the
// party has no registered keypair.
func (m *Manager) Verify(party string, payload []byte, sigHex string) error {
	m.mu.RLock()
	key, ok := m.keys[normalize(party)]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoKey, party)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return fmt.Errorf("%w: invalid signature hex: %v", ErrBadSignature, err)
	}
	if len(sig) != 65 {
		return fmt.Errorf("%w: signature must be 65 bytes, got %d", ErrBadSignature, len(sig))
	}

	pubKeyBytes, err := crypto.Ecrecover(digest(payload), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	pubKey, err := crypto.UnmarshalPubkey(pubKeyBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	recovered := crypto.PubkeyToAddress(*pubKey)
	expected := crypto.PubkeyToAddress(key.PublicKey)
	if recovered != expected {
		return fmt.Errorf("%w: expected signer %s, got %s",
			ErrBadSignature, expected.Hex(), recovered.Hex())
	}
	return nil
}

// Address returns the party's address derived from its public key.
func (m *Manager) Address(party string) (string, error) {
	m.mu.RLock()
	key, ok := m.keys[normalize(party)]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoKey, party)
	}
	return strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()), nil
}

// Parties returns all parties with a registered keypair.
func (m *Manager) Parties() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.keys))
	for p := range m.keys {
		out = append(out, p)
	}
	return out
}

func digest(payload []byte) []byte {
	return crypto.Keccak256(payload)
}

func normalize(party string) string {
	return strings.ToLower(strings.TrimSpace(party))
}
