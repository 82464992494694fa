package mpt

import (
	"encoding/binary"
	"fmt"

	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/types"
)

// node is one level of the radix-16 trie: an optional terminal value
// and up to 16 children, one per nibble 0-15. A zero Hash in children
// means "no child on this branch". Nodes are immutable once stored —
// any mutation produces a new node and a new content hash.
type node struct {
	value    []byte
	children [16]types.Hash
}

func (n *node) isEmpty() bool {
	if len(n.value) != 0 {
		return false
	}
	for _, c := range n.children {
		if !c.IsZero() {
			return false
		}
	}
	return true
}

// encode serializes a node deterministically: value length + value,
// then 16 fixed-width child hashes in nibble order.
func (n *node) encode() []byte {
	buf := make([]byte, 0, 4+len(n.value)+16*types.HashSize)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(n.value)))
	buf = append(buf, n.value...)
	for _, c := range n.children {
		buf = append(buf, c[:]...)
	}
	return buf
}

func decodeNode(data []byte) (*node, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("mpt: node too short")
	}
	valLen := binary.LittleEndian.Uint32(data)
	off := 4
	if len(data) < off+int(valLen)+16*types.HashSize {
		return nil, fmt.Errorf("mpt: node truncated")
	}
	n := &node{}
	if valLen > 0 {
		n.value = append([]byte(nil), data[off:off+int(valLen)]...)
	}
	off += int(valLen)
	for i := 0; i < 16; i++ {
		copy(n.children[i][:], data[off:off+types.HashSize])
		off += types.HashSize
	}
	return n, nil
}

// hashNode returns the content hash identifying a node's encoding.
func hashNode(n *node) types.Hash {
	return crypto.Hash(n.encode())
}
