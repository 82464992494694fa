package chain

import (
	"fmt"
	"sort"

	"github.com/rusty-coin/core/config"
	"github.com/rusty-coin/core/pkg/block"
	"github.com/rusty-coin/core/pkg/tx"
	"github.com/rusty-coin/core/pkg/types"
)

// CreateGenesisBlock builds the genesis block from the genesis
// configuration: height 0, a zero PrevHash, and a single coinbase
// transaction distributing the initial allocations. The header's
// StateRoot is left zero here — InitFromGenesis computes it once the
// coinbase outputs have actually been written into the MPT.
func CreateGenesisBlock(gen *config.Genesis) (*block.Block, error) {
	if gen == nil {
		return nil, fmt.Errorf("genesis config is nil")
	}

	coinbase, err := buildCoinbaseTx(gen.Alloc)
	if err != nil {
		return nil, fmt.Errorf("build coinbase: %w", err)
	}

	txs := []*tx.Transaction{coinbase}
	txHashes := []types.Hash{coinbase.TxID()}
	merkle := block.ComputeMerkleRoot(txHashes)

	header := &block.Header{
		Version:          block.CurrentVersion,
		PrevHash:         types.Hash{}, // Zero for genesis.
		MerkleRoot:       merkle,
		Timestamp:        gen.Timestamp,
		DifficultyTarget: gen.Consensus.InitialDifficultyBits,
		Height:           0,
	}

	return block.NewBlock(header, txs), nil
}

// buildCoinbaseTx creates the genesis coinbase: no inputs, one output
// per allocation. Addresses may be bech32 or raw hex. Allocations are
// sorted by address string first so the output ordering, and hence
// the transaction id, is identical across every node computing the
// same genesis configuration.
func buildCoinbaseTx(alloc map[string]uint64) (*tx.Transaction, error) {
	addrs := make([]string, 0, len(alloc))
	for addr := range alloc {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	b := tx.NewCoinbaseBuilder(0)
	count := 0
	for _, addrStr := range addrs {
		addr, err := types.ParseAddress(addrStr)
		if err != nil {
			return nil, fmt.Errorf("invalid alloc address %q: %w", addrStr, err)
		}
		b.AddOutput(alloc[addrStr], types.Script(addr.Bytes()), nil)
		count++
	}

	// A transaction must carry at least one output, and outputs must be
	// non-zero; an allocation-free genesis mints a single base unit to
	// the zero address rather than producing an invalid coinbase.
	if count == 0 {
		b.AddOutput(1, make(types.Script, types.AddressSize), nil)
	}

	return b.Build(), nil
}
