// Package consensus implements block-production consensus: the PoW
// engine in pow.go. Ticket-vote quorum validation, masternode PoSe,
// DKG threshold signing, and governance all live in their own
// internal packages and are orchestrated by internal/chain.
package consensus

import "github.com/rusty-coin/core/pkg/block"

// Engine is the interface for consensus implementations that prepare,
// seal, and verify block headers.
type Engine interface {
	VerifyHeader(header *block.Header) error
	Prepare(header *block.Header) error
	Seal(blk *block.Block) error
}
