package utxo

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rusty-coin/core/internal/storage"
	"github.com/rusty-coin/core/pkg/block"
	"github.com/rusty-coin/core/pkg/tx"
	"github.com/rusty-coin/core/pkg/types"
)

// ErrMissingJournal is returned by Revert when no undo journal exists
// for the requested height. Unlike a fictitious dummy-zero-value UTXO,
// an unrecoverable revert is treated as a fatal storage inconsistency:
// silently fabricating historical data would corrupt every balance
// computed afterward.
var ErrMissingJournal = errors.New("utxo: no undo journal for height, cannot revert safely")

var prefixJournal = []byte("j/") // j/<height be64> -> journal JSON

// spentRecord captures everything needed to restore a UTXO consumed by
// a block, so Revert can put it back exactly as it was.
type spentRecord struct {
	Outpoint types.OutPoint `json:"outpoint"`
	Entry    Entry          `json:"entry"`
}

// journal is the undo log for one block: the outpoints it created
// (to be deleted on revert) and the outpoints it spent (to be restored
// on revert).
type journal struct {
	Height  uint64         `json:"height"`
	Created []types.OutPoint `json:"created"`
	Spent   []spentRecord  `json:"spent"`
}

func journalKey(height uint64) []byte {
	key := make([]byte, len(prefixJournal)+8)
	copy(key, prefixJournal)
	binary.BigEndian.PutUint64(key[len(prefixJournal):], height)
	return key
}

// Apply applies every transaction in a block to the UTXO set: it
// removes the outputs each input spends and adds the new outputs each
// transaction creates, recording an undo journal so Revert can exactly
// reverse the operation later (reorgs and rollback-to-height both need
// this).
func (s *Store) Apply(blk *block.Block, height uint64) error {
	j := journal{Height: height}

	for _, t := range blk.Transactions {
		txid := t.TxID()

		if !t.IsCoinbase() {
			for _, in := range t.Inputs {
				e, err := s.Get(in.PrevOut)
				if err != nil {
					return fmt.Errorf("apply block %d: spend missing utxo %s: %w", height, in.PrevOut, err)
				}
				j.Spent = append(j.Spent, spentRecord{Outpoint: in.PrevOut, Entry: *e})
				if err := s.Delete(in.PrevOut); err != nil {
					return fmt.Errorf("apply block %d: delete utxo %s: %w", height, in.PrevOut, err)
				}
			}
		}

		for i, out := range t.GetOutputs() {
			op := types.OutPoint{TxID: txid, Vout: uint32(i)}
			e := &Entry{Output: out, IsCoinbase: t.IsCoinbase(), CreationHeight: height}
			if err := s.Put(op, e); err != nil {
				return fmt.Errorf("apply block %d: create utxo %s: %w", height, op, err)
			}
			j.Created = append(j.Created, op)
		}
	}

	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal journal for height %d: %w", height, err)
	}
	if err := s.db.Put(journalKey(height), data); err != nil {
		return fmt.Errorf("store journal for height %d: %w", height, err)
	}
	return nil
}

// Revert undoes the effect of Apply for the block at height: it
// deletes the outputs that block created and restores the outputs it
// spent, then removes the journal entry. Returns ErrMissingJournal if
// no journal exists for height, rather than guessing.
func (s *Store) Revert(height uint64) error {
	data, err := s.db.Get(journalKey(height))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("revert height %d: %w", height, ErrMissingJournal)
		}
		return fmt.Errorf("revert height %d: read journal: %w", height, err)
	}
	var j journal
	if err := json.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("revert height %d: unmarshal journal: %w", height, err)
	}

	for _, op := range j.Created {
		if err := s.Delete(op); err != nil {
			return fmt.Errorf("revert height %d: delete created utxo %s: %w", height, op, err)
		}
	}
	for _, sr := range j.Spent {
		e := sr.Entry
		if err := s.Put(sr.Outpoint, &e); err != nil {
			return fmt.Errorf("revert height %d: restore spent utxo %s: %w", height, sr.Outpoint, err)
		}
	}

	if err := s.db.Delete(journalKey(height)); err != nil {
		return fmt.Errorf("revert height %d: delete journal: %w", height, err)
	}
	return nil
}

// HasJournal reports whether an undo journal exists for height.
func (s *Store) HasJournal(height uint64) (bool, error) {
	return s.db.Has(journalKey(height))
}

// utxoProviderAdapter lets *Store satisfy tx.UTXOProvider directly
// (Store already implements GetUTXO/HasUTXO — this type exists only to
// document the relationship for readers of this file).
var _ tx.UTXOProvider = (*Store)(nil)
