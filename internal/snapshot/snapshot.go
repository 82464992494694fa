// Package snapshot implements fast-sync state snapshots (C11): a
// content-addressed capture of the UTXO set, ticket pool, masternode
// registry, proposal registry, and MPT trie nodes at a given height,
// so a new node can bootstrap near the chain tip instead of replaying
// every block, and an incremental delta format so it can then catch
// up to the tip without re-fetching a full snapshot per block.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rusty-coin/core/internal/governance"
	"github.com/rusty-coin/core/internal/masternode"
	"github.com/rusty-coin/core/internal/mpt"
	"github.com/rusty-coin/core/internal/storage"
	"github.com/rusty-coin/core/internal/ticket"
	"github.com/rusty-coin/core/internal/utxo"
	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/types"
)

var (
	ErrNotFound       = errors.New("snapshot: not found")
	ErrTooRecent      = errors.New("snapshot: height too recent to serve to peers")
	ErrMismatchedRoot = errors.New("snapshot: state root does not match header")
	ErrNoBaseSnapshot = errors.New("snapshot: no snapshot at or before requested height")
)

var prefixSnapshot = []byte("sn/")    // sn/<height be64> -> Snapshot JSON
var prefixIncremental = []byte("si/") // si/<to_height be64> -> Incremental JSON
var keyLatest = []byte("s/snaplatest")

// UTXOEntry is one row of the snapshotted UTXO set.
type UTXOEntry struct {
	OutPoint types.OutPoint `json:"outpoint"`
	Entry    utxo.Entry     `json:"entry"`
}

// Snapshot is a full point-in-time capture of chain state at Height,
// identified by its content hash ID. TrieNodes carries every MPT node
// reachable from StateRoot so a fast-syncing peer never has to trust
// that the sender's node store agrees with its own history of writes.
type Snapshot struct {
	ID          types.Hash             `json:"id"`
	Height      uint64                 `json:"height"`
	BlockHash   types.Hash             `json:"block_hash"`
	StateRoot   types.Hash             `json:"state_root"`
	UTXOs       []UTXOEntry            `json:"utxos"`
	Tickets     []*ticket.Ticket       `json:"tickets"`
	Masternodes []*masternode.Entry    `json:"masternodes"`
	Proposals   []*governance.Proposal `json:"proposals"`
	TrieNodes   map[types.Hash][]byte  `json:"trie_nodes"`
}

func computeID(s *Snapshot) types.Hash {
	cp := *s
	cp.ID = types.Hash{}
	data, _ := json.Marshal(cp)
	return crypto.Hash(data)
}

// UTXODelta is one row of an incremental snapshot: Entry non-nil means
// the outpoint was created or is still unspent as of ToHeight; Entry
// nil is a tombstone meaning the outpoint was spent between FromHeight
// and ToHeight — the OutPoint -> Option<UTXO> shape §4.9 describes.
type UTXODelta struct {
	OutPoint types.OutPoint `json:"outpoint"`
	Entry    *utxo.Entry    `json:"entry,omitempty"`
}

// Incremental is the set of UTXO changes between two heights, letting
// a node that already holds the state at FromHeight catch up to
// ToHeight without re-fetching a full snapshot.
type Incremental struct {
	FromHeight uint64      `json:"from_height"`
	ToHeight   uint64      `json:"to_height"`
	BlockHash  types.Hash  `json:"block_hash"`
	StateRoot  types.Hash  `json:"state_root"`
	Deltas     []UTXODelta `json:"deltas"`
}

func incrementalKey(toHeight uint64) []byte {
	key := make([]byte, len(prefixIncremental)+8)
	copy(key, prefixIncremental)
	for i := 0; i < 8; i++ {
		key[len(prefixIncremental)+i] = byte(toHeight >> (56 - 8*i))
	}
	return key
}

// Manager creates, persists, lists, and applies snapshots against a
// storage.DB, evicting the oldest once MaxSnapshots is exceeded.
type Manager struct {
	mu           sync.Mutex
	db           storage.DB
	maxSnapshots uint64
}

// NewManager creates a snapshot manager bounded to maxSnapshots retained.
func NewManager(db storage.DB, maxSnapshots uint64) *Manager {
	return &Manager{db: db, maxSnapshots: maxSnapshots}
}

func snapshotKey(height uint64) []byte {
	key := make([]byte, len(prefixSnapshot)+8)
	copy(key, prefixSnapshot)
	for i := 0; i < 8; i++ {
		key[len(prefixSnapshot)+i] = byte(height >> (56 - 8*i))
	}
	return key
}

// Create captures the given components at height and persists it,
// evicting the oldest retained snapshot if the configured limit is
// exceeded. Every MPT node reachable from stateRoot is exported into
// the snapshot so a receiving peer does not need any prior history of
// node writes to reconstruct the trie.
func (m *Manager) Create(height uint64, blockHash, stateRoot types.Hash, us *utxo.Store, tp *ticket.Pool, mr *masternode.Registry, gr *governance.Registry) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var utxos []UTXOEntry
	if err := us.ForEach(func(op types.OutPoint, e *utxo.Entry) error {
		utxos = append(utxos, UTXOEntry{OutPoint: op, Entry: *e})
		return nil
	}); err != nil {
		return nil, fmt.Errorf("snapshot utxos: %w", err)
	}

	nodes, err := mpt.ExportNodes(m.db, stateRoot)
	if err != nil {
		return nil, fmt.Errorf("snapshot trie nodes: %w", err)
	}

	s := &Snapshot{
		Height:      height,
		BlockHash:   blockHash,
		StateRoot:   stateRoot,
		UTXOs:       utxos,
		Tickets:     tp.All(),
		Masternodes: mr.All(),
		Proposals:   gr.All(),
		TrieNodes:   nodes,
	}
	s.ID = computeID(s)

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := m.db.Put(snapshotKey(height), data); err != nil {
		return nil, fmt.Errorf("store snapshot: %w", err)
	}
	if err := m.db.Put(keyLatest, data); err != nil {
		return nil, fmt.Errorf("store latest snapshot pointer: %w", err)
	}

	if err := m.evictOldest(); err != nil {
		return nil, fmt.Errorf("evict old snapshots: %w", err)
	}
	return s, nil
}

// CreateIncremental persists a delta between two heights, for a node
// that already holds the full state at fromHeight to catch up without
// re-fetching a complete snapshot.
func (m *Manager) CreateIncremental(inc *Incremental) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("marshal incremental snapshot: %w", err)
	}
	if err := m.db.Put(incrementalKey(inc.ToHeight), data); err != nil {
		return fmt.Errorf("store incremental snapshot: %w", err)
	}
	return nil
}

// GetIncremental loads the persisted delta ending at toHeight.
func (m *Manager) GetIncremental(toHeight uint64) (*Incremental, error) {
	data, err := m.db.Get(incrementalKey(toHeight))
	if err != nil {
		return nil, fmt.Errorf("%w: incremental to height %d", ErrNotFound, toHeight)
	}
	var inc Incremental
	if err := json.Unmarshal(data, &inc); err != nil {
		return nil, fmt.Errorf("unmarshal incremental snapshot: %w", err)
	}
	return &inc, nil
}

// ApplyIncremental advances us by one delta: a non-nil Entry
// upserts the outpoint, a nil Entry removes it (the spend tombstone).
func ApplyIncremental(us *utxo.Store, inc *Incremental) error {
	for _, d := range inc.Deltas {
		if d.Entry == nil {
			if err := us.Delete(d.OutPoint); err != nil {
				return fmt.Errorf("apply delta: delete %s: %w", d.OutPoint, err)
			}
			continue
		}
		e := *d.Entry
		if err := us.Put(d.OutPoint, &e); err != nil {
			return fmt.Errorf("apply delta: put %s: %w", d.OutPoint, err)
		}
	}
	return nil
}

func (m *Manager) evictOldest() error {
	var heights []uint64
	err := m.db.ForEach(prefixSnapshot, func(key, _ []byte) error {
		if len(key) != len(prefixSnapshot)+8 {
			return nil
		}
		var h uint64
		for i := 0; i < 8; i++ {
			h = h<<8 | uint64(key[len(prefixSnapshot)+i])
		}
		heights = append(heights, h)
		return nil
	})
	if err != nil {
		return err
	}
	if uint64(len(heights)) <= m.maxSnapshots {
		return nil
	}
	sortUint64(heights)
	toEvict := heights[:uint64(len(heights))-m.maxSnapshots]
	for _, h := range toEvict {
		if err := m.db.Delete(snapshotKey(h)); err != nil {
			return err
		}
	}
	return nil
}

func sortUint64(xs []uint64) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j] < xs[j-1]; j-- {
			xs[j], xs[j-1] = xs[j-1], xs[j]
		}
	}
}

// Get loads the snapshot persisted for height.
func (m *Manager) Get(height uint64) (*Snapshot, error) {
	data, err := m.db.Get(snapshotKey(height))
	if err != nil {
		return nil, fmt.Errorf("%w: height %d", ErrNotFound, height)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &s, nil
}

// Latest returns the most recently created snapshot, if any.
func (m *Manager) Latest() (*Snapshot, error) {
	data, err := m.db.Get(keyLatest)
	if err != nil {
		return nil, fmt.Errorf("%w: no snapshot taken yet", ErrNotFound)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal latest snapshot: %w", err)
	}
	return &s, nil
}

// nearestAtOrBefore scans persisted snapshot heights and returns the
// highest one not exceeding height.
func (m *Manager) nearestAtOrBefore(height uint64) (uint64, bool, error) {
	var best uint64
	found := false
	err := m.db.ForEach(prefixSnapshot, func(key, _ []byte) error {
		if len(key) != len(prefixSnapshot)+8 {
			return nil
		}
		var h uint64
		for i := 0; i < 8; i++ {
			h = h<<8 | uint64(key[len(prefixSnapshot)+i])
		}
		if h <= height && (!found || h > best) {
			best, found = h, true
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return best, found, nil
}

// EligibleForSync reports whether a snapshot at height is old enough
// to hand to a fast-syncing peer (§4.11's MinSnapshotAge: a snapshot
// too close to the tip might still be reorged away).
func EligibleForSync(snapshotHeight, tipHeight, minSnapshotAge uint64) bool {
	if tipHeight < snapshotHeight {
		return false
	}
	return tipHeight-snapshotHeight >= minSnapshotAge
}

// VerifySnapshot recomputes a snapshot's content ID and, for a non-zero
// StateRoot, checks that the root node is among the bundled trie nodes,
// so a fast-sync candidate can be rejected before any of its rows are
// trusted. It does not re-hash the bundled node encodings or check that
// every child node is present.
func VerifySnapshot(s *Snapshot) error {
	if computeID(s) != s.ID {
		return fmt.Errorf("snapshot: content hash mismatch for height %d", s.Height)
	}
	if s.StateRoot.IsZero() {
		return nil
	}
	if _, ok := s.TrieNodes[s.StateRoot]; !ok {
		return fmt.Errorf("%w: root node missing from bundled trie nodes", ErrMismatchedRoot)
	}
	return nil
}

// Apply restores a verified snapshot's UTXO set into us, its trie
// nodes into db (so a *mpt.Trie opened at s.StateRoot resolves), and
// its ticket/masternode/proposal rows into db using each package's own
// on-disk layout so the caller can reconstruct live registries with
// ticket.LoadPool, masternode.LoadRegistry, and governance.LoadRegistry.
func Apply(s *Snapshot, db storage.DB, us *utxo.Store) error {
	if err := VerifySnapshot(s); err != nil {
		return fmt.Errorf("apply snapshot: %w", err)
	}
	if err := us.ClearAll(); err != nil {
		return fmt.Errorf("apply snapshot: clear utxo set: %w", err)
	}
	if err := Restore(s, us); err != nil {
		return fmt.Errorf("apply snapshot: %w", err)
	}
	if err := mpt.ImportNodes(db, s.TrieNodes); err != nil {
		return fmt.Errorf("apply snapshot: import trie nodes: %w", err)
	}
	if err := ticket.SaveRows(db, s.Tickets); err != nil {
		return fmt.Errorf("apply snapshot: tickets: %w", err)
	}
	if err := masternode.SaveRows(db, s.Masternodes); err != nil {
		return fmt.Errorf("apply snapshot: masternodes: %w", err)
	}
	if err := governance.SaveRows(db, s.Proposals); err != nil {
		return fmt.Errorf("apply snapshot: proposals: %w", err)
	}
	return nil
}

// RollbackTo restores us to the UTXO state at targetHeight: it loads
// the nearest full snapshot at or before targetHeight, clears us and
// replays that snapshot's rows, then applies every incremental delta
// between the snapshot's height and targetHeight in order. It returns
// the snapshot used as the rollback's base. Unlike utxo.Store.Revert,
// which undoes a single height using that height's journal entry, this
// works even once old per-height journals have been pruned, as long as
// a base snapshot and the intervening incrementals are still retained.
func (m *Manager) RollbackTo(targetHeight uint64, db storage.DB, us *utxo.Store) (*Snapshot, error) {
	base, ok, err := m.nearestAtOrBefore(targetHeight)
	if err != nil {
		return nil, fmt.Errorf("rollback: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: target height %d", ErrNoBaseSnapshot, targetHeight)
	}
	s, err := m.Get(base)
	if err != nil {
		return nil, fmt.Errorf("rollback: load base snapshot: %w", err)
	}
	if err := Apply(s, db, us); err != nil {
		return nil, fmt.Errorf("rollback: %w", err)
	}
	for h := base + 1; h <= targetHeight; h++ {
		inc, err := m.GetIncremental(h)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("rollback: load incremental to %d: %w", h, err)
		}
		if err := ApplyIncremental(us, inc); err != nil {
			return nil, fmt.Errorf("rollback: apply incremental to %d: %w", h, err)
		}
	}
	return s, nil
}

// Restore loads a snapshot's UTXO rows into a fresh *utxo.Store,
// leaving ticket/masternode/governance restoration to the caller when
// it only needs the UTXO set (e.g. replaying blocks after the snapshot
// height to rebuild the other registries from scratch); Apply handles
// the full restoration including those rows and the trie.
func Restore(s *Snapshot, us *utxo.Store) error {
	for _, row := range s.UTXOs {
		e := row.Entry
		if err := us.Put(row.OutPoint, &e); err != nil {
			return fmt.Errorf("restore utxo %s: %w", row.OutPoint, err)
		}
	}
	return nil
}
