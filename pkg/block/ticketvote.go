package block

import (
	"encoding/binary"

	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/types"
)

// TicketVote is a selected voting ticket's approve/deny vote on the
// block it was drawn into a quorum for.
type TicketVote struct {
	TicketHash types.Hash `json:"ticket_hash"`
	Approve    bool       `json:"approve"`
	Signature  []byte     `json:"signature"`
}

// SigningBytes returns the canonical bytes a ticket's staker key signs
// to cast this vote: the ticket hash, the block header hash it votes
// on, and the approve flag.
func (v *TicketVote) SigningBytes(blockHash types.Hash) []byte {
	buf := make([]byte, 0, 65)
	buf = append(buf, v.TicketHash[:]...)
	buf = append(buf, blockHash[:]...)
	if v.Approve {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// TicketHashesDigest hashes the sorted set of ticket hashes voting on
// a block; this is the value committed as the quorum's ticket_hash.
func TicketHashesDigest(sortedHashes []types.Hash) types.Hash {
	buf := make([]byte, 0, len(sortedHashes)*32+4)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(sortedHashes)))
	for _, h := range sortedHashes {
		buf = append(buf, h[:]...)
	}
	return crypto.Hash(buf)
}
