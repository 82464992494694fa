// Package sidechain implements the two-way federated peg (C13): peg-in
// and peg-out lifecycle tracking and the fraud-proof challenge protocol
// that lets any bonded challenger contest a federation signer's claim.
package sidechain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rusty-coin/core/config"
	"github.com/rusty-coin/core/internal/consensus"
	"github.com/rusty-coin/core/internal/storage"
	"github.com/rusty-coin/core/pkg/block"
	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/types"
)

// PegStatus is a peg's position in its lifecycle.
type PegStatus uint8

const (
	PegStatusPending PegStatus = iota + 1
	PegStatusConfirmed
	PegStatusReleased
	PegStatusChallenged
	PegStatusReverted
)

func (s PegStatus) String() string {
	switch s {
	case PegStatusPending:
		return "Pending"
	case PegStatusConfirmed:
		return "Confirmed"
	case PegStatusReleased:
		return "Released"
	case PegStatusChallenged:
		return "Challenged"
	case PegStatusReverted:
		return "Reverted"
	default:
		return "Unknown"
	}
}

// Direction distinguishes a deposit into the sidechain from a
// withdrawal back to the main chain.
type Direction uint8

const (
	DirectionIn Direction = iota + 1
	DirectionOut
)

// Peg tracks one peg-in or peg-out operation from observation through
// finality or reversal.
type Peg struct {
	ID                types.Hash             `json:"id"`
	Direction         Direction              `json:"direction"`
	SourceChain       types.ChainID          `json:"source_chain"`
	DestChain         types.ChainID          `json:"dest_chain"`
	SourceOutpoint    types.OutPoint         `json:"source_outpoint"`
	Amount            uint64                 `json:"amount"`
	Recipient         types.Address          `json:"recipient"`
	ObservedHeight    uint64                 `json:"observed_height"`
	Confirmations     uint64                 `json:"confirmations"`
	FederationSigners [][]byte               `json:"federation_signers,omitempty"`
	Status            PegStatus              `json:"status"`
}

// MainchainProof is a peg-in's evidence that its source transaction is
// actually included in a mined mainchain block: the block's header
// plus a Merkle branch from the transaction hash up to the header's
// committed MerkleRoot (§4.11).
type MainchainProof struct {
	Header block.Header
	Branch []types.Hash
	Index  uint64
}

var (
	ErrPegExists              = errors.New("sidechain: peg already registered")
	ErrPegNotFound            = errors.New("sidechain: peg not found")
	ErrAmountOutOfRange       = errors.New("sidechain: amount outside configured peg bounds")
	ErrInsufficientSignatures = errors.New("sidechain: insufficient valid federation signatures")
	ErrNotConfirmed           = errors.New("sidechain: peg has not reached required confirmations")
	ErrInvalidRecipient       = errors.New("sidechain: peg recipient must not be empty")
	ErrMissingProof           = errors.New("sidechain: peg-in requires a mainchain inclusion proof")
	ErrBadInclusionProof      = errors.New("sidechain: mainchain inclusion proof does not verify")
)

var prefixPeg = []byte("sp/") // sp/<id(32)> -> Peg JSON

func pegKey(id types.Hash) []byte {
	key := make([]byte, len(prefixPeg)+types.HashSize)
	copy(key, prefixPeg)
	copy(key[len(prefixPeg):], id[:])
	return key
}

// Registry is the DB-backed, mutex-guarded set of in-flight pegs.
type Registry struct {
	mu   sync.RWMutex
	pegs map[types.Hash]*Peg
}

// NewRegistry creates an empty peg registry.
func NewRegistry() *Registry {
	return &Registry{pegs: make(map[types.Hash]*Peg)}
}

// LoadRegistry reconstructs a Registry from persisted storage.
func LoadRegistry(db storage.DB) (*Registry, error) {
	r := NewRegistry()
	err := db.ForEach(prefixPeg, func(_, value []byte) error {
		var p Peg
		if err := json.Unmarshal(value, &p); err != nil {
			return fmt.Errorf("unmarshal peg: %w", err)
		}
		r.pegs[p.ID] = &p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load sidechain registry: %w", err)
	}
	return r, nil
}

// Observe registers a newly-seen peg deposit or withdrawal request,
// rejecting amounts outside the configured bounds, an empty recipient,
// and — for a peg-in — a missing or non-verifying mainchain inclusion
// proof (§4.13). pow is used to confirm proof.Header actually meets
// its own declared difficulty; pass nil to skip that check (e.g. in
// tests exercising only the Merkle branch).
func Observe(r *Registry, p *Peg, proof *MainchainProof, pow *consensus.PoW, params config.ConsensusParams) error {
	if p.Recipient.IsZero() {
		return ErrInvalidRecipient
	}
	if p.Amount < params.MinPegAmount || p.Amount > params.MaxPegAmount {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrAmountOutOfRange, p.Amount, params.MinPegAmount, params.MaxPegAmount)
	}
	if p.Direction == DirectionIn {
		if proof == nil {
			return ErrMissingProof
		}
		if err := verifyMainchainProof(p.SourceOutpoint.TxID, proof, pow); err != nil {
			return fmt.Errorf("mainchain proof: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pegs[p.ID]; exists {
		return fmt.Errorf("%w: %s", ErrPegExists, p.ID)
	}
	cp := *p
	cp.Status = PegStatusPending
	r.pegs[p.ID] = &cp
	return nil
}

func verifyMainchainProof(txHash types.Hash, proof *MainchainProof, pow *consensus.PoW) error {
	if pow != nil {
		if err := pow.VerifyHeader(&proof.Header); err != nil {
			return fmt.Errorf("header fails its own declared difficulty: %w", err)
		}
	}
	if !block.VerifyMerkleBranch(txHash, proof.Branch, proof.Index, proof.Header.MerkleRoot) {
		return ErrBadInclusionProof
	}
	return nil
}

// AddConfirmation records a source-chain confirmation, promoting the
// peg to Confirmed once PegConfirmationsRequired is reached.
func (r *Registry) AddConfirmation(id types.Hash, params config.ConsensusParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pegs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPegNotFound, id)
	}
	if p.Status != PegStatusPending {
		return nil
	}
	p.Confirmations++
	if p.Confirmations >= params.PegConfirmationsRequired {
		p.Status = PegStatusConfirmed
	}
	return nil
}

// FederationSignature pairs a federation signer's public key with its
// signature over a peg's release message.
type FederationSignature struct {
	PubKey    []byte `json:"pub_key"`
	Signature []byte `json:"signature"`
}

// ReleaseSigningBytes is the message federation signers sign to
// authorize releasing a peg's funds to its recipient.
func ReleaseSigningBytes(p *Peg) []byte {
	buf := make([]byte, 0, types.HashSize+types.AddressSize+8)
	buf = append(buf, p.ID[:]...)
	buf = append(buf, p.Recipient[:]...)
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(p.Amount>>(8*i)))
	}
	return buf
}

// Release finalizes a Confirmed peg once enough distinct, cryptographically
// valid federation signatures over ReleaseSigningBytes have been
// collected — a raw count of distinct byte blobs is not sufficient;
// each must actually verify under the signer's claimed public key.
func (r *Registry) Release(id types.Hash, sigs []FederationSignature, params config.ConsensusParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pegs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPegNotFound, id)
	}
	if p.Status != PegStatusConfirmed {
		return fmt.Errorf("%w: peg %s is %s", ErrNotConfirmed, id, p.Status)
	}

	msg := ReleaseSigningBytes(p)
	seen := make(map[string]bool, len(sigs))
	validSigners := make([][]byte, 0, len(sigs))
	for _, s := range sigs {
		key := string(s.PubKey)
		if seen[key] {
			continue
		}
		if !crypto.VerifySignature(msg, s.Signature, s.PubKey) {
			continue
		}
		seen[key] = true
		validSigners = append(validSigners, s.PubKey)
	}
	if uint64(len(validSigners)) < params.FederationSignaturesNeeded {
		return fmt.Errorf("%w: got %d valid of %d submitted, need %d", ErrInsufficientSignatures, len(validSigners), len(sigs), params.FederationSignaturesNeeded)
	}

	p.FederationSigners = validSigners
	p.Status = PegStatusReleased
	return nil
}

// Get returns a copy of the peg for id.
func (r *Registry) Get(id types.Hash) (*Peg, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pegs[id]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// Revert marks a peg Reverted after a successful fraud challenge.
func (r *Registry) Revert(id types.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pegs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPegNotFound, id)
	}
	p.Status = PegStatusReverted
	return nil
}

// SaveTo persists every tracked peg to db.
func (r *Registry) SaveTo(db storage.DB) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.pegs {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal peg %s: %w", p.ID, err)
		}
		if err := db.Put(pegKey(p.ID), data); err != nil {
			return fmt.Errorf("save peg %s: %w", p.ID, err)
		}
	}
	return nil
}

// DeleteFrom removes a single peg entry from db.
func DeleteFrom(db storage.DB, id types.Hash) error {
	return db.Delete(pegKey(id))
}
