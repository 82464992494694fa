package mpt

import "github.com/rusty-coin/core/pkg/types"

// Domain prefixes partition the trie's keyspace by the kind of state
// being committed (§4.2), so a UTXO and a ticket can never collide
// even if their encodings happen to coincide.
var (
	prefixUTXO       = []byte("utxo")
	prefixTicket     = []byte("tkt")
	prefixMasternode = []byte("mn")
	prefixProposal   = []byte("prop")
)

func withPrefix(prefix, suffix []byte) []byte {
	key := make([]byte, 0, len(prefix)+len(suffix))
	key = append(key, prefix...)
	key = append(key, suffix...)
	return key
}

// UTXOKey builds the trie key for an OutPoint's UTXO entry.
func UTXOKey(op types.OutPoint) []byte {
	return withPrefix(prefixUTXO, op.Encode())
}

// TicketKey builds the trie key for a ticket's pool entry, keyed by
// its ticket hash.
func TicketKey(ticketHash types.Hash) []byte {
	return withPrefix(prefixTicket, ticketHash[:])
}

// MasternodeKey builds the trie key for a masternode entry. A
// masternode's identity is its registration collateral OutPoint.
func MasternodeKey(collateral types.OutPoint) []byte {
	return withPrefix(prefixMasternode, collateral.Encode())
}

// ProposalKey builds the trie key for a governance proposal, keyed by
// its proposal hash.
func ProposalKey(proposalID types.Hash) []byte {
	return withPrefix(prefixProposal, proposalID[:])
}
