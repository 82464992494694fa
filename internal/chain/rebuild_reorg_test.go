package chain

import (
	"testing"

	"github.com/rusty-coin/core/internal/consensus"
	"github.com/rusty-coin/core/internal/governance"
	"github.com/rusty-coin/core/internal/masternode"
	"github.com/rusty-coin/core/internal/ticket"
	"github.com/rusty-coin/core/internal/utxo"
	"github.com/rusty-coin/core/pkg/block"
	"github.com/rusty-coin/core/pkg/types"
)

// TestNew_RecoversFromInterruptedReorgCheckpoint simulates a crash that
// happens after maybeReorg has re-indexed a heavier candidate branch by
// height (and written the checkpoint marking that in progress) but
// before rebuildFromGenesis finished replaying it into fresh state. A
// fresh Chain opened over the same db must detect the checkpoint and
// complete the replay itself.
func TestNew_RecoversFromInterruptedReorgCheckpoint(t *testing.T) {
	_, addr := genKey(t)
	params := testParams()
	tc, _ := newFundedTestChain(t, params, addr, 1000)

	genesisBlk, err := tc.chain.GetBlockByHeight(0)
	if err != nil {
		t.Fatalf("get genesis: %v", err)
	}

	a1, rootA1 := tc.mineCoinbaseOnlyBlock(t, genesisBlk, tc.chain.trie.Root, addr, 10)
	if err := tc.chain.ProcessBlock(a1); err != nil {
		t.Fatalf("process a1: %v", err)
	}
	a2, _ := tc.mineCoinbaseOnlyBlock(t, a1, rootA1, addr, 20)
	if err := tc.chain.ProcessBlock(a2); err != nil {
		t.Fatalf("process a2: %v", err)
	}

	b1, rootB1 := tc.mineCoinbaseOnlyBlock(t, genesisBlk, genesisBlk.Header.StateRoot, addr, 5)
	b2, rootB2 := tc.mineCoinbaseOnlyBlock(t, b1, rootB1, addr, 6)
	b3, _ := tc.mineCoinbaseOnlyBlock(t, b2, rootB2, addr, 7)

	// Hand-simulate the point in maybeReorg right after the candidate
	// branch has been re-indexed by height and the checkpoint written,
	// but before rebuildFromGenesis (and thus the tip/state commit) runs.
	if err := tc.chain.blocks.PutReorgCheckpoint(0, b3.Header.Height); err != nil {
		t.Fatalf("write checkpoint: %v", err)
	}
	for _, b := range []*block.Block{b1, b2, b3} {
		if err := tc.chain.blocks.PutBlock(b); err != nil {
			t.Fatalf("index candidate block: %v", err)
		}
	}

	// Reopen a chain over the same db/components, as if after a restart.
	reopened, err := New(types.ChainID{}, params, Components{
		DB:          tc.chain.db,
		UTXOs:       utxo.NewStore(tc.chain.db),
		Tickets:     ticket.NewPool(),
		Masternodes: masternode.NewRegistry(),
		Proposals:   governance.NewRegistry(),
		PoW: func() *consensus.PoW {
			pow, err := consensus.NewPoW(params.InitialDifficultyBits, params.MinDifficultyBits, params.DifficultyAdjustWindow, params.TargetBlockTime, params.MaxAdjustmentFactor)
			if err != nil {
				t.Fatalf("new pow: %v", err)
			}
			return pow
		}(),
	})
	if err != nil {
		t.Fatalf("reopen chain: %v", err)
	}

	if reopened.TipHash() != b3.Hash() {
		t.Fatalf("recovered tip = %s, want b3 %s", reopened.TipHash(), b3.Hash())
	}
	if reopened.Height() != 3 {
		t.Fatalf("recovered height = %d, want 3", reopened.Height())
	}
	if _, _, found := reopened.blocks.GetReorgCheckpoint(); found {
		t.Fatal("reopen left a stale reorg checkpoint in place")
	}
	if reopened.trie.Root != b3.Header.StateRoot {
		t.Fatal("recovered trie root does not match the replayed branch's committed state root")
	}
}
