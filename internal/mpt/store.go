package mpt

import (
	"errors"
	"fmt"

	"github.com/rusty-coin/core/internal/storage"
	"github.com/rusty-coin/core/pkg/types"
)

var prefixNode = []byte("n/") // n/<hash> -> encoded node

// ErrNodeNotFound is returned when a content hash referenced by the
// trie has no corresponding node in storage — a corrupt or
// incompletely-synced backing store.
var ErrNodeNotFound = errors.New("mpt: node not found for hash")

func nodeKey(h types.Hash) []byte {
	key := make([]byte, len(prefixNode)+types.HashSize)
	copy(key, prefixNode)
	copy(key[len(prefixNode):], h[:])
	return key
}

// nodeStore persists content-addressed trie nodes. Multiple Tries
// (different state roots) can share one nodeStore, since nodes are
// addressed by hash and never mutated in place.
type nodeStore struct {
	db storage.DB
}

func (s *nodeStore) load(h types.Hash) (*node, error) {
	if h.IsZero() {
		return &node{}, nil
	}
	data, err := s.db.Get(nodeKey(h))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, h)
		}
		return nil, fmt.Errorf("mpt: load node %s: %w", h, err)
	}
	return decodeNode(data)
}

// put stores a node and returns its content hash. An empty node
// (no value, no children) is never persisted — its hash is the zero
// hash, representing "absent".
func (s *nodeStore) put(n *node) (types.Hash, error) {
	if n.isEmpty() {
		return types.Hash{}, nil
	}
	h := hashNode(n)
	if err := s.db.Put(nodeKey(h), n.encode()); err != nil {
		return types.Hash{}, fmt.Errorf("mpt: store node %s: %w", h, err)
	}
	return h, nil
}
