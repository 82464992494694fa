package chain

import (
	"errors"
	"fmt"

	"github.com/rusty-coin/core/internal/governance"
	"github.com/rusty-coin/core/internal/log"
	"github.com/rusty-coin/core/internal/masternode"
	"github.com/rusty-coin/core/internal/mpt"
	"github.com/rusty-coin/core/internal/ticket"
	"github.com/rusty-coin/core/pkg/block"
	"github.com/rusty-coin/core/pkg/tx"
	"github.com/rusty-coin/core/pkg/types"
)

// MaxReorgDepth bounds how many blocks a single reorg may walk back,
// guarding against unbounded work from a wildly divergent peer chain.
const MaxReorgDepth = 1000

var (
	// ErrReorgTooDeep is returned when the common ancestor of a
	// candidate branch lies more than MaxReorgDepth blocks back.
	ErrReorgTooDeep = errors.New("chain: reorg exceeds max depth")
	// ErrGenesisReorg is returned when a candidate branch diverges
	// before height 0, i.e. it does not share this chain's genesis.
	ErrGenesisReorg = errors.New("chain: reorg would replace the genesis block")
	// ErrReorgFailed is returned when a reorg's replay of the candidate
	// branch fails validation partway through. The original tip is
	// restored: maybeReorg re-indexes the original branch by height and
	// replays it, so the UTXO set, trie and registries match it again.
	ErrReorgFailed = errors.New("chain: reorg failed, original tip retained")
)

// maybeReorg is called by ProcessBlock when a structurally and
// consensus-valid block extends a branch other than the current tip.
// Per §4.10, the chain switches to the new branch only if its
// cumulative work now exceeds the current tip's — heaviest chain wins,
// not longest chain.
func (c *Chain) maybeReorg(blk *block.Block) error {
	branch, forkHeight, err := c.collectBranch(blk.Hash())
	if err != nil {
		return fmt.Errorf("collect branch: %w", err)
	}

	var newWork uint64
	for _, b := range branch {
		newWork += blockWork(b.Header.DifficultyTarget)
	}
	var oldWork uint64
	var oldBranch []*block.Block
	for h := forkHeight + 1; h <= c.state.Height; h++ {
		b, err := c.blocks.GetBlockByHeight(h)
		if err != nil {
			return fmt.Errorf("load old branch block at height %d: %w", h, err)
		}
		oldWork += blockWork(b.Header.DifficultyTarget)
		oldBranch = append(oldBranch, b)
	}
	if newWork <= oldWork {
		log.Chain.Debug().Str("hash", blk.Hash().String()).Uint64("fork_height", forkHeight).
			Msg("side branch does not exceed tip work, not reorging")
		return nil
	}

	log.Chain.Info().Uint64("fork_height", forkHeight).Uint64("new_height", blk.Header.Height).
		Uint64("old_height", c.state.Height).Msg("reorganizing to heavier branch")

	revertedTxs := c.collectRevertedTxs(forkHeight)

	if err := c.blocks.PutReorgCheckpoint(forkHeight, blk.Header.Height); err != nil {
		return fmt.Errorf("write reorg checkpoint: %w", err)
	}

	// Re-index the candidate branch by height so GetBlockByHeight
	// resolves to it during replay, overwriting the old branch's index
	// entries above forkHeight.
	for _, b := range branch {
		if err := c.blocks.PutBlock(b); err != nil {
			return fmt.Errorf("index candidate branch block at height %d: %w", b.Header.Height, err)
		}
	}

	if err := c.rebuildFromGenesis(blk.Header.Height); err != nil {
		// rebuildFromGenesis has already reset and partly replayed the
		// UTXO set, trie and registries (c.state is untouched). Put the
		// original branch back in the height index and replay it. Height
		// index entries above the original tip still name candidate blocks.
		for _, b := range oldBranch {
			if perr := c.blocks.PutBlock(b); perr != nil {
				return fmt.Errorf("%w: %v (restore: %v)", ErrReorgFailed, err, perr)
			}
		}
		if rerr := c.rebuildFromGenesis(c.state.Height); rerr != nil {
			return fmt.Errorf("%w: %v (restore: %v)", ErrReorgFailed, err, rerr)
		}
		_ = c.blocks.DeleteReorgCheckpoint()
		return fmt.Errorf("%w: %v", ErrReorgFailed, err)
	}

	if err := c.blocks.DeleteReorgCheckpoint(); err != nil {
		return fmt.Errorf("clear reorg checkpoint: %w", err)
	}

	if c.revertedTxHandler != nil && len(revertedTxs) > 0 {
		newBranchTxs := make(map[types.Hash]bool, len(revertedTxs))
		for _, b := range branch {
			for _, t := range b.Transactions {
				newBranchTxs[t.TxID()] = true
			}
		}
		var toReturn []*tx.Transaction
		for _, t := range revertedTxs {
			if !newBranchTxs[t.TxID()] {
				toReturn = append(toReturn, t)
			}
		}
		if len(toReturn) > 0 {
			c.revertedTxHandler(toReturn)
		}
	}

	return nil
}

// collectRevertedTxs gathers the non-coinbase transactions carried by
// every currently-active block above forkHeight, before the height
// index is overwritten by the incoming branch, so the caller's mempool
// can be offered a chance to re-admit them.
func (c *Chain) collectRevertedTxs(forkHeight uint64) []*tx.Transaction {
	var out []*tx.Transaction
	for h := c.state.Height; h > forkHeight; h-- {
		blk, err := c.blocks.GetBlockByHeight(h)
		if err != nil {
			log.Chain.Warn().Err(err).Uint64("height", h).Msg("failed to load old branch block for revert collection")
			continue
		}
		if len(blk.Transactions) > 1 {
			out = append(out, blk.Transactions[1:]...)
		}
	}
	return out
}

// collectBranch walks backward from tipHash to the block whose parent
// is the main chain at (height-1), i.e. the common ancestor. It
// returns the branch in ascending height order (fork+1 .. tip) along
// with the fork height.
func (c *Chain) collectBranch(tipHash types.Hash) ([]*block.Block, uint64, error) {
	var branch []*block.Block
	hash := tipHash

	for {
		blk, err := c.blocks.GetBlock(hash)
		if err != nil {
			return nil, 0, fmt.Errorf("load block %s: %w", hash, err)
		}
		branch = append(branch, blk)
		if len(branch) > MaxReorgDepth {
			return nil, 0, fmt.Errorf("%w: branch exceeds %d blocks", ErrReorgTooDeep, MaxReorgDepth)
		}

		if blk.Header.Height == 0 {
			if !c.genesisHash.IsZero() && blk.Hash() != c.genesisHash {
				return nil, 0, ErrGenesisReorg
			}
			// The branch includes genesis itself; trim it since the
			// caller treats fork+1 as the first replayed height.
			forkHeight := uint64(0)
			return branch[:len(branch)-1], forkHeight, nil
		}

		parentHeight := blk.Header.Height - 1
		if mainBlock, err := c.blocks.GetBlockByHeight(parentHeight); err == nil && mainBlock.Hash() == blk.Header.PrevHash {
			// Reverse to ascending order before returning.
			for i, j := 0, len(branch)-1; i < j; i, j = i+1, j-1 {
				branch[i], branch[j] = branch[j], branch[i]
			}
			return branch, parentHeight, nil
		}
		hash = blk.Header.PrevHash
	}
}

// rebuildFromGenesis replays blocks 0..targetHeight (read by height
// from the block store) into freshly-reset UTXO set, state trie,
// ticket pool, masternode registry, and governance registry, then
// commits the result as the new tip. The ticket/masternode/governance
// registries carry no per-height undo journal of their own (unlike the
// UTXO set, §4.1), so a reorg rebuilds them wholesale rather than
// reverting block-by-block; this mirrors how the state trie itself is
// already reconstructed from the UTXO set rather than incrementally
// undone (see indexUTXOsInTrie). Used both for reorgs and for crash
// recovery when New() finds an interrupted reorg checkpoint.
func (c *Chain) rebuildFromGenesis(targetHeight uint64) error {
	if err := c.utxos.ClearAll(); err != nil {
		return fmt.Errorf("clear utxo set: %w", err)
	}
	c.tickets = ticket.NewPool()
	c.masternodes = masternode.NewRegistry()
	c.proposals = governance.NewRegistry()
	c.trie = mpt.New(c.db, types.Hash{})

	var supply, cumDiff, tipTimestamp uint64
	var tipHash types.Hash

	for h := uint64(0); h <= targetHeight; h++ {
		blk, err := c.blocks.GetBlockByHeight(h)
		if err != nil {
			return fmt.Errorf("load block at height %d: %w", h, err)
		}
		if err := c.utxos.Apply(blk, h); err != nil {
			return fmt.Errorf("apply utxos at height %d: %w", h, err)
		}
		if err := c.indexUTXOsInTrie(blk, h); err != nil {
			return fmt.Errorf("index trie at height %d: %w", h, err)
		}
		if c.trie.Root != blk.Header.StateRoot {
			return fmt.Errorf("%w at height %d: computed %s, header %s", ErrBadStateRoot, h, c.trie.Root, blk.Header.StateRoot)
		}
		c.applySideEffects(blk, h)

		coinbaseOut, err := blk.Transactions[0].TotalOutputValue()
		if err != nil {
			return fmt.Errorf("coinbase total at height %d: %w", h, err)
		}
		supply += coinbaseOut
		cumDiff += blockWork(blk.Header.DifficultyTarget)
		tipHash = blk.Hash()
		tipTimestamp = blk.Header.Timestamp
	}

	if err := c.blocks.SetTip(tipHash, targetHeight, supply); err != nil {
		return fmt.Errorf("set tip: %w", err)
	}
	if err := c.blocks.SetCumulativeDifficulty(cumDiff); err != nil {
		return fmt.Errorf("set cumulative difficulty: %w", err)
	}
	if err := c.persistTrieRoot(); err != nil {
		return fmt.Errorf("persist trie root: %w", err)
	}

	c.state.TipHash = tipHash
	c.state.Height = targetHeight
	c.state.Supply = supply
	c.state.CumulativeDifficulty = cumDiff
	c.state.TipTimestamp = tipTimestamp
	return nil
}
