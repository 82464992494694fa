package mpt

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/types"
)

// ErrInvalidProof is returned when a proof fails to verify against the
// claimed root.
var ErrInvalidProof = errors.New("mpt: invalid proof")

// Proof is a Merkle path from a trie root down to (or to the point of
// divergence for) a single key. Nodes are listed root-first, each the
// raw encoding of the node at that depth. Verification re-derives each
// node's hash and checks it is referenced by its parent's matching
// child slot, and that the final node agrees with the claimed
// membership outcome.
type Proof struct {
	Key   []byte
	Nodes [][]byte
}

// Prove builds an inclusion or absence proof for key against the
// trie's current root. The returned (value, found) mirror Get; the
// proof verifies either outcome.
func (t *Trie) Prove(key []byte) (value []byte, found bool, proof *Proof, err error) {
	nibbles := toNibbles(key)
	proof = &Proof{Key: append([]byte(nil), key...)}

	h := t.Root
	for _, nb := range nibbles {
		if h.IsZero() {
			return nil, false, proof, nil
		}
		n, loadErr := t.store.load(h)
		if loadErr != nil {
			return nil, false, nil, loadErr
		}
		proof.Nodes = append(proof.Nodes, n.encode())
		h = n.children[nb]
	}
	if h.IsZero() {
		return nil, false, proof, nil
	}
	n, loadErr := t.store.load(h)
	if loadErr != nil {
		return nil, false, nil, loadErr
	}
	proof.Nodes = append(proof.Nodes, n.encode())
	if n.value == nil {
		return nil, false, proof, nil
	}
	return n.value, true, proof, nil
}

// VerifyProof checks that proof is consistent with root, and that it
// attests to the given (value, found) outcome for its key. It does
// not require access to the backing store — only the proof's node
// encodings.
func VerifyProof(root types.Hash, proof *Proof, value []byte, found bool) error {
	nibbles := toNibbles(proof.Key)

	if len(proof.Nodes) == 0 {
		if !root.IsZero() {
			return fmt.Errorf("%w: empty proof for non-empty root", ErrInvalidProof)
		}
		if found {
			return fmt.Errorf("%w: empty proof cannot attest membership", ErrInvalidProof)
		}
		return nil
	}

	cur := root
	for depth, enc := range proof.Nodes {
		if cur.IsZero() {
			return fmt.Errorf("%w: proof continues past a nil branch", ErrInvalidProof)
		}
		h := crypto.Hash(enc)
		if h != cur {
			return fmt.Errorf("%w: node hash mismatch at depth %d", ErrInvalidProof, depth)
		}
		n, err := decodeNode(enc)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidProof, err)
		}

		if depth == len(nibbles) {
			// Terminal node for the key itself.
			if found {
				if n.value == nil || !bytes.Equal(n.value, value) {
					return fmt.Errorf("%w: value mismatch", ErrInvalidProof)
				}
			} else if n.value != nil {
				return fmt.Errorf("%w: proof shows a value but absence was claimed", ErrInvalidProof)
			}
			if depth != len(proof.Nodes)-1 {
				return fmt.Errorf("%w: trailing nodes after terminal", ErrInvalidProof)
			}
			return nil
		}

		nb := nibbles[depth]
		cur = n.children[nb]
	}

	// Ran out of proof nodes before reaching the key's full depth: only
	// valid as an absence proof terminating at a nil branch.
	if found {
		return fmt.Errorf("%w: proof too short to attest membership", ErrInvalidProof)
	}
	if !cur.IsZero() {
		return fmt.Errorf("%w: proof truncated before a populated branch", ErrInvalidProof)
	}
	return nil
}
