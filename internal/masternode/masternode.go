// Package masternode implements the masternode registry (C7):
// registration and maturity lifecycle, Proof-of-Service (PoSe)
// challenge/response, and slashing.
package masternode

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rusty-coin/core/internal/storage"
	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/tx"
	"github.com/rusty-coin/core/pkg/types"
)

// Status is a masternode's position in its lifecycle (§4.5).
type Status uint8

const (
	StatusRegistered Status = iota + 1
	StatusActive
	StatusOffline
	StatusProbation
	StatusBanned
)

func (s Status) String() string {
	switch s {
	case StatusRegistered:
		return "Registered"
	case StatusActive:
		return "Active"
	case StatusOffline:
		return "Offline"
	case StatusProbation:
		return "Probation"
	case StatusBanned:
		return "Banned"
	default:
		return "Unknown"
	}
}

// ID identifies a masternode by its registration collateral outpoint.
type ID = types.OutPoint

// Entry is a registered masternode and its PoSe state.
type Entry struct {
	ID                      ID            `json:"id"`
	OperatorPubKey          []byte        `json:"operator_pubkey"`
	CollateralOwner         types.Address `json:"collateral_owner"`
	NetworkAddress          string        `json:"network_address"`
	DKGPubKey               []byte        `json:"dkg_pubkey"`
	SupportedDKGVersions    []uint32      `json:"supported_dkg_versions"`
	Status                  Status        `json:"status"`
	RegisteredHeight        uint64        `json:"registered_height"`
	PoSeFailureCount        uint64        `json:"pose_failure_count"`
	LastSuccessfulPoSeHeight uint64       `json:"last_successful_pose_height"`
	DKGParticipationCount   uint64        `json:"dkg_participation_count"`
	DKGSuccessCount         uint64        `json:"dkg_success_count"`
	TotalPoSeChallenges     uint64        `json:"total_pose_challenges"`
	TotalPoSeSuccesses      uint64        `json:"total_pose_successes"`
	Reputation              float64       `json:"reputation"`
}

// Uptime is the fraction of all PoSe challenges ever answered
// successfully, an input to the quorum composite score (§4.7). A node
// with no challenge history yet is treated as fully up.
func (e *Entry) Uptime() float64 {
	if e.TotalPoSeChallenges == 0 {
		return 1.0
	}
	return float64(e.TotalPoSeSuccesses) / float64(e.TotalPoSeChallenges)
}

// DKGSuccessRate returns the fraction of DKG sessions this masternode
// participated in that completed successfully, used as an input to
// the quorum composite score (§4.7).
func (e *Entry) DKGSuccessRate() float64 {
	if e.DKGParticipationCount == 0 {
		return 0
	}
	return float64(e.DKGSuccessCount) / float64(e.DKGParticipationCount)
}

var (
	ErrAlreadyRegistered = errors.New("masternode: already registered")
	ErrNotFound          = errors.New("masternode: not found")
	ErrInvalidSignature  = errors.New("masternode: invalid signature")
)

var prefixMasternode = []byte("m/") // m/<txid><vout> -> Entry JSON

func entryKey(id ID) []byte {
	key := make([]byte, len(prefixMasternode)+types.HashSize+4)
	copy(key, prefixMasternode)
	copy(key[len(prefixMasternode):], id.TxID[:])
	off := len(prefixMasternode) + types.HashSize
	key[off] = byte(id.Vout)
	key[off+1] = byte(id.Vout >> 8)
	key[off+2] = byte(id.Vout >> 16)
	key[off+3] = byte(id.Vout >> 24)
	return key
}

// Registry is the DB-backed, mutex-guarded set of masternode entries.
type Registry struct {
	mu      sync.RWMutex
	entries map[ID]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[ID]*Entry)}
}

// LoadRegistry reconstructs a Registry from persisted storage.
func LoadRegistry(db storage.DB) (*Registry, error) {
	r := NewRegistry()
	err := db.ForEach(prefixMasternode, func(_, value []byte) error {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			return fmt.Errorf("unmarshal masternode entry: %w", err)
		}
		r.entries[e.ID] = &e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load masternode registry: %w", err)
	}
	return r, nil
}

// Register admits a new masternode from a MasternodeRegister +
// MasternodeCollateral pair, verifying the identity signature over
// the registration payload with the collateral-owner key.
func Register(reg *Registry, id ID, p *tx.MasternodeRegisterPayload, ownerPubKey []byte, height uint64) (*Entry, error) {
	if !VerifyRegistration(id, p, ownerPubKey) {
		return nil, ErrInvalidSignature
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.entries[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}
	e := &Entry{
		ID:                   id,
		OperatorPubKey:       p.OperatorPubKey,
		CollateralOwner:      p.CollateralOwner,
		NetworkAddress:       p.NetworkAddress,
		DKGPubKey:            p.DKGPubKey,
		SupportedDKGVersions: p.SupportedDKGVers,
		Status:               StatusRegistered,
		RegisteredHeight:     height,
	}
	reg.entries[id] = e
	return e, nil
}

// VerifyRegistration checks the identity signature over the
// registration fields with the collateral-owner's Ed25519 key.
func VerifyRegistration(id ID, p *tx.MasternodeRegisterPayload, ownerPubKey []byte) bool {
	msg := registrationSigningBytes(id, p)
	return crypto.VerifySignature(msg, p.Signature, ownerPubKey)
}

func registrationSigningBytes(id ID, p *tx.MasternodeRegisterPayload) []byte {
	var buf []byte
	buf = append(buf, id.TxID[:]...)
	for i := 0; i < 4; i++ {
		buf = append(buf, byte(id.Vout>>(8*i)))
	}
	buf = append(buf, p.OperatorPubKey...)
	buf = append(buf, p.CollateralOwner[:]...)
	buf = append(buf, []byte(p.NetworkAddress)...)
	buf = append(buf, p.DKGPubKey...)
	return buf
}

// AdvanceMaturity promotes Registered entries to Active once
// masternode_maturity blocks have passed.
func (r *Registry) AdvanceMaturity(height, maturity uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Status == StatusRegistered && height >= e.RegisteredHeight+maturity {
			e.Status = StatusActive
		}
	}
}

// Get returns a copy of the entry for id.
func (r *Registry) Get(id ID) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// Active returns a copy of every Active masternode entry.
func (r *Registry) Active() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Entry
	for _, e := range r.entries {
		if e.Status == StatusActive {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

// All returns a copy of every tracked masternode entry regardless of
// status, for callers that need a full point-in-time capture (e.g. a
// state snapshot) rather than only the Active subset.
func (r *Registry) All() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

// Remove deletes an entry, e.g. after a successful slash.
func (r *Registry) Remove(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// SaveTo persists every tracked entry to db.
func (r *Registry) SaveTo(db storage.DB) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal masternode %s: %w", e.ID, err)
		}
		if err := db.Put(entryKey(e.ID), data); err != nil {
			return fmt.Errorf("save masternode %s: %w", e.ID, err)
		}
	}
	return nil
}

// DeleteFrom removes a single masternode entry from db.
func DeleteFrom(db storage.DB, id ID) error {
	return db.Delete(entryKey(id))
}

// SaveRows persists a slice of entries with the same on-disk layout
// SaveTo uses, for a caller restoring a registry from an external
// capture (e.g. a fast-sync snapshot) rather than from a live Registry.
func SaveRows(db storage.DB, entries []*Entry) error {
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal masternode %s: %w", e.ID, err)
		}
		if err := db.Put(entryKey(e.ID), data); err != nil {
			return fmt.Errorf("save masternode %s: %w", e.ID, err)
		}
	}
	return nil
}
