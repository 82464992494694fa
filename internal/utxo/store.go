package utxo

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rusty-coin/core/internal/storage"
	"github.com/rusty-coin/core/pkg/types"
)

// Key prefixes for the UTXO store.
var (
	prefixUTXO = []byte("u/") // u/<txid><vout> -> Entry JSON
	prefixAddr = []byte("a/") // a/<address><txid><vout> -> empty (index)
)

// Store implements Set backed by a storage.DB.
type Store struct {
	db storage.DB
}

// NewStore creates a new UTXO store backed by the given database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

// utxoKey builds a storage key for an outpoint: "u/" + txid(32) + vout(4).
func utxoKey(op types.OutPoint) []byte {
	key := make([]byte, len(prefixUTXO)+types.HashSize+4)
	copy(key, prefixUTXO)
	copy(key[len(prefixUTXO):], op.TxID[:])
	binary.BigEndian.PutUint32(key[len(prefixUTXO)+types.HashSize:], op.Vout)
	return key
}

// addrKey builds an address index key: "a/" + addr(20) + txid(32) + vout(4).
func addrKey(addr types.Address, op types.OutPoint) []byte {
	key := make([]byte, len(prefixAddr)+types.AddressSize+types.HashSize+4)
	copy(key, prefixAddr)
	copy(key[len(prefixAddr):], addr[:])
	off := len(prefixAddr) + types.AddressSize
	copy(key[off:], op.TxID[:])
	binary.BigEndian.PutUint32(key[off+types.HashSize:], op.Vout)
	return key
}

// Get retrieves an unspent output by its outpoint. Returns
// storage.ErrNotFound (wrapped) if the outpoint is unknown or already
// spent — callers must not receive a zero-value Entry for a missing
// key.
func (s *Store) Get(outpoint types.OutPoint) (*Entry, error) {
	data, err := s.db.Get(utxoKey(outpoint))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("utxo %s: %w", outpoint, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("utxo get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("utxo unmarshal: %w", err)
	}
	return &e, nil
}

// scriptAddress extracts the 20-byte address a script_pubkey encodes,
// if it is well-formed (scripts are opaque blobs; the only recognized
// form is exactly AddressSize bytes, see pkg/tx.verifyOwnership).
func scriptAddress(s types.Script) (types.Address, bool) {
	if len(s) != types.AddressSize {
		return types.Address{}, false
	}
	var addr types.Address
	copy(addr[:], s)
	return addr, true
}

// Put stores an unspent output and updates the address index.
func (s *Store) Put(outpoint types.OutPoint, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("utxo marshal: %w", err)
	}
	if err := s.db.Put(utxoKey(outpoint), data); err != nil {
		return fmt.Errorf("utxo put: %w", err)
	}

	if addr, ok := scriptAddress(e.Output.ScriptPubKey); ok {
		if err := s.db.Put(addrKey(addr, outpoint), []byte{}); err != nil {
			return fmt.Errorf("utxo index put: %w", err)
		}
	}

	return nil
}

// Delete removes an unspent output and its address index entry.
func (s *Store) Delete(outpoint types.OutPoint) error {
	// Read first to clean up the secondary index.
	if e, err := s.Get(outpoint); err == nil {
		if addr, ok := scriptAddress(e.Output.ScriptPubKey); ok {
			_ = s.db.Delete(addrKey(addr, outpoint))
		}
	}

	if err := s.db.Delete(utxoKey(outpoint)); err != nil {
		return fmt.Errorf("utxo delete: %w", err)
	}
	return nil
}

// Has checks whether an unspent output exists for the given outpoint.
func (s *Store) Has(outpoint types.OutPoint) (bool, error) {
	return s.db.Has(utxoKey(outpoint))
}

// GetUTXO implements pkg/tx.UTXOProvider.
func (s *Store) GetUTXO(outpoint types.OutPoint) (uint64, types.Script, error) {
	e, err := s.Get(outpoint)
	if err != nil {
		return 0, nil, err
	}
	return e.Output.Value, e.Output.ScriptPubKey, nil
}

// HasUTXO implements pkg/tx.UTXOProvider.
func (s *Store) HasUTXO(outpoint types.OutPoint) bool {
	ok, err := s.Has(outpoint)
	return err == nil && ok
}

// ForEach iterates over every unspent output currently in the store.
func (s *Store) ForEach(fn func(types.OutPoint, *Entry) error) error {
	return s.db.ForEach(prefixUTXO, func(key, value []byte) error {
		op, ok := decodeUTXOKey(key)
		if !ok {
			return nil // Malformed key (shouldn't happen), skip.
		}
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			return fmt.Errorf("utxo unmarshal: %w", err)
		}
		return fn(op, &e)
	})
}

func decodeUTXOKey(key []byte) (types.OutPoint, bool) {
	if len(key) != len(prefixUTXO)+types.HashSize+4 {
		return types.OutPoint{}, false
	}
	var op types.OutPoint
	off := len(prefixUTXO)
	copy(op.TxID[:], key[off:off+types.HashSize])
	op.Vout = binary.BigEndian.Uint32(key[off+types.HashSize:])
	return op, true
}

// GetByAddress returns all unspent outputs belonging to the given
// address, by scanning the address index.
func (s *Store) GetByAddress(addr types.Address) ([]types.OutPoint, []*Entry, error) {
	prefix := make([]byte, len(prefixAddr)+types.AddressSize)
	copy(prefix, prefixAddr)
	copy(prefix[len(prefixAddr):], addr[:])

	var outpoints []types.OutPoint
	var entries []*Entry
	err := s.db.ForEach(prefix, func(key, _ []byte) error {
		off := len(prefixAddr) + types.AddressSize
		if len(key) < off+types.HashSize+4 {
			return nil
		}
		var op types.OutPoint
		copy(op.TxID[:], key[off:off+types.HashSize])
		op.Vout = binary.BigEndian.Uint32(key[off+types.HashSize:])

		e, err := s.Get(op)
		if err != nil {
			return nil // Already spent, skip.
		}
		outpoints = append(outpoints, op)
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scan address index: %w", err)
	}
	return outpoints, entries, nil
}

// ClearAll removes every unspent output and secondary index entry.
// Used during UTXO set recovery (replay-from-genesis after a crash).
func (s *Store) ClearAll() error {
	var keys [][]byte
	for _, prefix := range [][]byte{prefixUTXO, prefixAddr} {
		if err := s.db.ForEach(prefix, func(key, _ []byte) error {
			k := make([]byte, len(key))
			copy(k, key)
			keys = append(keys, k)
			return nil
		}); err != nil {
			return fmt.Errorf("scan prefix %s: %w", prefix, err)
		}
	}
	for _, key := range keys {
		if err := s.db.Delete(key); err != nil {
			return fmt.Errorf("delete utxo key: %w", err)
		}
	}
	return nil
}
