// Package chain implements the append-only hash chain that seals every
// ledger mutation.
//
// Each block commits to its payload, its position, and the previous
// block's hash. Blocks are sealed by a proof-of-work search: the nonce is
// incremented until the SHA-256 hash of the block header starts with the
// required number of zero hex characters. Verification replays the whole
// chain and reports the first block where either the stored hash no
// longer matches the recomputed one or the link to the previous block is
// broken.
package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrIntegrity is returned when chain verification fails.
var ErrIntegrity = errors.New("chain integrity violation")

// DefaultDifficulty is the number of leading zero hex characters a block
// hash must have.
const DefaultDifficulty = 2

// Block is a single sealed entry in the chain.
type Block struct {
	Index        uint64          `json:"index"`
	Timestamp    int64           `json:"timestamp"`
	Data         json.RawMessage `json:"data"`
	PreviousHash string          `json:"previousHash"`
	Nonce        uint64          `json:"nonce"`
	Hash         string          `json:"hash"`
}

// blockHeader is the canonical serialization hashed for sealing.
// Field order is fixed; changing it invalidates every existing chain.
type blockHeader struct {
	Data         json.RawMessage `json:"data"`
	Index        uint64          `json:"index"`
	Nonce        uint64          `json:"nonce"`
	PreviousHash string          `json:"previous_hash"`
	Timestamp    int64           `json:"timestamp"`
}

// ComputeHash returns the SHA-256 hex digest of the block's canonical
// header. The stored Hash field is not part of the input.
func ComputeHash(b *Block) string {
	header, _ := json.Marshal(blockHeader{
		Data:         b.Data,
		Index:        b.Index,
		Nonce:        b.Nonce,
		PreviousHash: b.PreviousHash,
		Timestamp:    b.Timestamp,
	})
	sum := sha256.Sum256(header)
	return hex.EncodeToString(sum[:])
}

// VerificationResult reports the outcome of a full chain verification.
type VerificationResult struct {
	Valid            bool   `json:"valid"`
	Length           int    `json:"length"`
	FirstBrokenIndex int    `json:"firstBrokenIndex"` // -1 when the chain is intact
	Reason           string `json:"reason,omitempty"`
}

// Chain is a mutex-guarded, append-only block chain.
type Chain struct {
	mu         sync.RWMutex
	blocks     []*Block
	difficulty int
}

// New creates a chain with a sealed genesis block at index 0.
func New(difficulty int) *Chain {
	if difficulty < 0 {
		difficulty = 0
	}
	genesis := &Block{
		Index:        0,
		Timestamp:    time.Now().Unix(),
		Data:         json.RawMessage(`"genesis"`),
		PreviousHash: "0",
	}
	mineBlock(context.Background(), genesis, difficulty)
	return &Chain{
		blocks:     []*Block{genesis},
		difficulty: difficulty,
	}
}

// Append mines and appends a new block carrying payload. It blocks until
// the proof-of-work search finishes or ctx is cancelled; on cancellation
// the chain is left unmodified and the context error is returned.
func (c *Chain) Append(ctx context.Context, payload []byte) (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.blocks[len(c.blocks)-1]
	block := &Block{
		Index:        prev.Index + 1,
		Timestamp:    time.Now().Unix(),
		Data:         json.RawMessage(payload),
		PreviousHash: prev.Hash,
	}

	if err := mineBlock(ctx, block, c.difficulty); err != nil {
		return nil, err
	}

	c.blocks = append(c.blocks, block)
	return block, nil
}

// mineBlock searches for a nonce whose hash meets the difficulty target.
// Checks ctx between batches so a long search can be abandoned.
func mineBlock(ctx context.Context, b *Block, difficulty int) error {
	target := strings.Repeat("0", difficulty)
	for i := 0; ; i++ {
		if i%1024 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		b.Hash = ComputeHash(b)
		if strings.HasPrefix(b.Hash, target) {
			return nil
		}
		b.Nonce++
	}
}

// Verify replays the chain from index 1 and returns the verdict.
func (c *Chain) Verify() VerificationResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return VerifyBlocks(c.blocks)
}

// Check runs Verify and converts a failed result into an ErrIntegrity error.
func (c *Chain) Check() error {
	res := c.Verify()
	if res.Valid {
		return nil
	}
	return fmt.Errorf("%w: block %d: %s", ErrIntegrity, res.FirstBrokenIndex, res.Reason)
}

// VerifyBlocks checks an arbitrary block slice for hash and link
// consistency. A chain of length zero or one is trivially valid.
func VerifyBlocks(blocks []*Block) VerificationResult {
	res := VerificationResult{Valid: true, Length: len(blocks), FirstBrokenIndex: -1}

	for i := 1; i < len(blocks); i++ {
		cur, prev := blocks[i], blocks[i-1]
		if cur.Hash != ComputeHash(cur) {
			res.Valid = false
			res.FirstBrokenIndex = i
			res.Reason = "block hash does not match recomputed hash"
			return res
		}
		if cur.PreviousHash != prev.Hash {
			res.Valid = false
			res.FirstBrokenIndex = i
			res.Reason = "previous hash link is broken"
			return res
		}
	}
	return res
}

// Blocks returns the blocks in order. Callers must treat the returned
// blocks as read-only.
func (c *Chain) Blocks() []*Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Block, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// Len returns the number of blocks including genesis.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

// Latest returns the most recently appended block.
func (c *Chain) Latest() *Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[len(c.blocks)-1]
}

// Difficulty returns the proof-of-work difficulty.
func (c *Chain) Difficulty() int {
	return c.difficulty
}
