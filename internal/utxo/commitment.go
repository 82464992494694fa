package utxo

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/rusty-coin/core/pkg/block"
	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/types"
)

// Commitment computes a merkle root over every unspent output in the
// store. Each entry is hashed deterministically, the hashes are
// sorted, and a merkle tree is built from them. Returns a zero hash
// for an empty set.
//
// This is a flat, map-order-independent summary used for diagnostics
// and light clients that don't need inclusion proofs; the canonical
// per-block state commitment is the domain-prefixed Merkle Patricia
// Trie in internal/mpt, which additionally supports proofs of
// inclusion and absence for individual outpoints.
func Commitment(store *Store) (types.Hash, error) {
	var hashes []types.Hash

	err := store.ForEach(func(op types.OutPoint, e *Entry) error {
		hashes = append(hashes, hashEntry(op, e))
		return nil
	})
	if err != nil {
		return types.Hash{}, fmt.Errorf("utxo commitment: %w", err)
	}

	if len(hashes) == 0 {
		return types.Hash{}, nil
	}

	sort.Slice(hashes, func(i, j int) bool {
		return hashLess(hashes[i], hashes[j])
	})

	return block.ComputeMerkleRoot(hashes), nil
}

// hashEntry produces a deterministic BLAKE3 hash of one UTXO entry.
// Format: txid(32) | vout(4) | value(8) | script_pubkey | is_coinbase(1)
func hashEntry(op types.OutPoint, e *Entry) types.Hash {
	var buf []byte
	buf = append(buf, op.TxID[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, op.Vout)
	buf = binary.LittleEndian.AppendUint64(buf, e.Output.Value)
	buf = append(buf, e.Output.ScriptPubKey...)
	if e.IsCoinbase {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return crypto.Hash(buf)
}

func hashLess(a, b types.Hash) bool {
	for i := 0; i < types.HashSize; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
