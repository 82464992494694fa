// Package mpt implements the radix-16 Merkle Patricia Trie that
// commits chain state (UTXOs, tickets, masternodes, proposals) to a
// single root hash (§4.2). Every node is addressed by the BLAKE3 hash
// of its encoding, so the root is independent of insertion order and
// proofs are just node encodings along a path.
package mpt

import (
	"github.com/rusty-coin/core/internal/storage"
	"github.com/rusty-coin/core/pkg/types"
)

// Trie is a persistent (content-addressed) radix-16 trie rooted at
// Root. Put/Delete replace Root with a new root reflecting the change; the old
// root's nodes remain reachable in the store (cheap structural
// sharing, and a natural substrate for snapshots).
type Trie struct {
	store *nodeStore
	Root  types.Hash
}

// New opens a trie backed by db, rooted at root (the zero hash for an
// empty trie).
func New(db storage.DB, root types.Hash) *Trie {
	return &Trie{store: &nodeStore{db: db}, Root: root}
}

// Get looks up key, returning (value, true, nil) if present.
func (t *Trie) Get(key []byte) ([]byte, bool, error) {
	nibbles := toNibbles(key)
	h := t.Root
	for _, nb := range nibbles {
		if h.IsZero() {
			return nil, false, nil
		}
		n, err := t.store.load(h)
		if err != nil {
			return nil, false, err
		}
		h = n.children[nb]
	}
	if h.IsZero() {
		return nil, false, nil
	}
	n, err := t.store.load(h)
	if err != nil {
		return nil, false, err
	}
	if n.value == nil {
		return nil, false, nil
	}
	return n.value, true, nil
}

// Put inserts or overwrites key -> value and updates Root.
func (t *Trie) Put(key, value []byte) error {
	nibbles := toNibbles(key)
	newRoot, err := t.put(t.Root, nibbles, 0, value)
	if err != nil {
		return err
	}
	t.Root = newRoot
	return nil
}

func (t *Trie) put(h types.Hash, nibbles []byte, idx int, value []byte) (types.Hash, error) {
	n, err := t.store.load(h)
	if err != nil {
		return types.Hash{}, err
	}
	if idx == len(nibbles) {
		n.value = value
	} else {
		nb := nibbles[idx]
		childHash, err := t.put(n.children[nb], nibbles, idx+1, value)
		if err != nil {
			return types.Hash{}, err
		}
		n.children[nb] = childHash
	}
	return t.store.put(n)
}

// Delete removes key, if present, and updates Root. Returns whether
// the key existed.
func (t *Trie) Delete(key []byte) (bool, error) {
	nibbles := toNibbles(key)
	newRoot, removed, err := t.del(t.Root, nibbles, 0)
	if err != nil {
		return false, err
	}
	if removed {
		t.Root = newRoot
	}
	return removed, nil
}

func (t *Trie) del(h types.Hash, nibbles []byte, idx int) (types.Hash, bool, error) {
	if h.IsZero() {
		return types.Hash{}, false, nil
	}
	n, err := t.store.load(h)
	if err != nil {
		return types.Hash{}, false, err
	}

	if idx == len(nibbles) {
		if n.value == nil {
			return h, false, nil
		}
		n.value = nil
	} else {
		nb := nibbles[idx]
		newChild, removed, err := t.del(n.children[nb], nibbles, idx+1)
		if err != nil {
			return types.Hash{}, false, err
		}
		if !removed {
			return h, false, nil
		}
		n.children[nb] = newChild
	}

	newHash, err := t.store.put(n)
	if err != nil {
		return types.Hash{}, false, err
	}
	return newHash, true, nil
}
