// Package block defines block types and validation.
package block

import "github.com/rusty-coin/core/pkg/tx"

// Block represents a block in the chain: a header, its transactions,
// and the PoS ticket votes cast for or against it by the quorum drawn
// for this height (§3, §4.4).
type Block struct {
	Header       *Header           `json:"header"`
	Transactions []*tx.Transaction `json:"transactions"`
	TicketVotes  []*TicketVote     `json:"ticket_votes,omitempty"`
}

// NewBlock creates a new block with the given header and transactions.
func NewBlock(header *Header, txs []*tx.Transaction) *Block {
	return &Block{
		Header:       header,
		Transactions: txs,
	}
}
