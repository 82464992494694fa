package mpt

import (
	"github.com/rusty-coin/core/internal/storage"
	"github.com/rusty-coin/core/pkg/types"
)

// ExportNodes walks every node reachable from root and returns its raw
// encoding keyed by content hash, so a snapshot can carry a
// self-contained copy of the trie instead of relying on the receiving
// node already holding the same history of node writes.
func ExportNodes(db storage.DB, root types.Hash) (map[types.Hash][]byte, error) {
	store := &nodeStore{db: db}
	out := make(map[types.Hash][]byte)
	var walk func(h types.Hash) error
	walk = func(h types.Hash) error {
		if h.IsZero() {
			return nil
		}
		if _, seen := out[h]; seen {
			return nil
		}
		n, err := store.load(h)
		if err != nil {
			return err
		}
		out[h] = n.encode()
		for _, child := range n.children {
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return out, nil
}

// ImportNodes writes a previously-exported node set directly into db,
// keyed the same way the trie itself addresses nodes, so a trie opened
// with New(db, root) afterward can resolve every hash it references.
func ImportNodes(db storage.DB, nodes map[types.Hash][]byte) error {
	for h, encoded := range nodes {
		if err := db.Put(nodeKey(h), encoded); err != nil {
			return err
		}
	}
	return nil
}
