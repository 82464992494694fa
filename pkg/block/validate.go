package block

import (
	"errors"
	"fmt"

	"github.com/rusty-coin/core/config"
	"github.com/rusty-coin/core/pkg/types"
)

// Validation errors.
var (
	ErrNilHeader           = errors.New("block has nil header")
	ErrNoTransactions      = errors.New("block has no transactions")
	ErrBadMerkleRoot       = errors.New("merkle root mismatch")
	ErrBadVersion          = errors.New("unsupported block version")
	ErrZeroTimestamp       = errors.New("block timestamp is zero")
	ErrNoCoinbase          = errors.New("first transaction must be coinbase")
	ErrTooManyTxs          = errors.New("too many transactions in block")
	ErrBlockTooLarge       = errors.New("block too large")
	ErrDuplicateBlockInput = errors.New("duplicate input across transactions in block")
	ErrMultipleCoinbase    = errors.New("multiple coinbase transactions in block")
	ErrDuplicateTicketVote = errors.New("duplicate ticket vote for same ticket")
	ErrEmptyVoteSignature  = errors.New("ticket vote missing signature")
)

// Block version constants.
const (
	CurrentVersion = 1 // The current block version produced by this software.
	MaxVersion     = 1 // Bump when a fork introduces a new block version.
)

// Validate checks block structure and internal consistency: header
// bounds, exactly one leading Coinbase, merkle root, per-tx structural
// validation, and cross-transaction duplicate-input detection. This
// does NOT verify consensus rules (PoW, quorum, UTXO existence) — see
// internal/chain for the full pipeline.
func (b *Block) Validate() error {
	if b.Header == nil {
		return ErrNilHeader
	}

	if b.Header.Version < 1 || b.Header.Version > MaxVersion {
		return fmt.Errorf("%w: got %d, want 1..%d", ErrBadVersion, b.Header.Version, MaxVersion)
	}

	if b.Header.Timestamp == 0 {
		return ErrZeroTimestamp
	}

	if len(b.Transactions) == 0 {
		return ErrNoTransactions
	}

	if len(b.Transactions) > config.MaxBlockTxs {
		return fmt.Errorf("%w: %d txs, max %d", ErrTooManyTxs, len(b.Transactions), config.MaxBlockTxs)
	}

	// Check total block size (header + all tx canonical encodings).
	blockSize := len(b.Header.Bytes())
	for _, t := range b.Transactions {
		encoded, err := t.Encode()
		if err != nil {
			return fmt.Errorf("encode tx: %w", err)
		}
		blockSize += len(encoded)
	}
	for _, v := range b.TicketVotes {
		blockSize += types.HashSize + 1 + len(v.Signature)
	}
	if blockSize > config.MaxBlockSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrBlockTooLarge, blockSize, config.MaxBlockSize)
	}

	// transactions[0] must be Coinbase; no other Coinbase present.
	if !b.Transactions[0].IsCoinbase() {
		return ErrNoCoinbase
	}
	for i, t := range b.Transactions[1:] {
		if t.IsCoinbase() {
			return fmt.Errorf("tx %d: %w", i+1, ErrMultipleCoinbase)
		}
	}

	// Verify merkle root.
	txHashes := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		txHashes[i] = t.TxID()
	}
	expectedRoot := ComputeMerkleRoot(txHashes)
	if b.Header.MerkleRoot != expectedRoot {
		return fmt.Errorf("%w: header=%s computed=%s", ErrBadMerkleRoot, b.Header.MerkleRoot, expectedRoot)
	}

	// Validate each transaction structurally.
	for i, t := range b.Transactions {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
	}

	// Check for duplicate inputs across different transactions in the block
	// (per-tx duplicates are caught by tx.Validate above).
	allInputs := make(map[types.OutPoint]int) // outpoint -> tx index
	for i, t := range b.Transactions {
		for _, in := range t.Inputs {
			if prevTx, exists := allInputs[in.PrevOut]; exists {
				return fmt.Errorf("tx %d: %w: outpoint %s also spent in tx %d",
					i, ErrDuplicateBlockInput, in.PrevOut, prevTx)
			}
			allInputs[in.PrevOut] = i
		}
	}

	seenTickets := make(map[types.Hash]bool, len(b.TicketVotes))
	for i, v := range b.TicketVotes {
		if seenTickets[v.TicketHash] {
			return fmt.Errorf("ticket vote %d: %w: %s", i, ErrDuplicateTicketVote, v.TicketHash)
		}
		seenTickets[v.TicketHash] = true
		if len(v.Signature) == 0 {
			return fmt.Errorf("ticket vote %d: %w", i, ErrEmptyVoteSignature)
		}
	}

	return nil
}

// Hash returns the block header hash.
func (b *Block) Hash() types.Hash {
	if b.Header == nil {
		return types.Hash{}
	}
	return b.Header.Hash()
}
