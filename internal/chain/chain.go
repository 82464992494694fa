// Package chain implements the blockchain state machine: block
// processing, UTXO application, and the consensus-rule orchestration
// that ties together proof-of-work, PoS ticket quorums, the masternode
// registry, and governance effects (§4.10).
package chain

import (
	"fmt"
	"sync"

	"github.com/rusty-coin/core/config"
	"github.com/rusty-coin/core/internal/consensus"
	"github.com/rusty-coin/core/internal/governance"
	"github.com/rusty-coin/core/internal/log"
	"github.com/rusty-coin/core/internal/masternode"
	"github.com/rusty-coin/core/internal/mpt"
	"github.com/rusty-coin/core/internal/snapshot"
	"github.com/rusty-coin/core/internal/storage"
	"github.com/rusty-coin/core/internal/ticket"
	"github.com/rusty-coin/core/internal/utxo"
	"github.com/rusty-coin/core/pkg/block"
	"github.com/rusty-coin/core/pkg/tx"
	"github.com/rusty-coin/core/pkg/types"
)

// RevertedTxHandler is called after a reorg with non-coinbase
// transactions from reverted blocks that do not appear in the new
// branch, so the mempool can consider re-accepting them.
type RevertedTxHandler func(txs []*tx.Transaction)

// Chain ties together the block store, UTXO set, PoS ticket pool,
// masternode registry, governance proposal registry, and the
// state-commitment trie behind a single lock (§9: one writer at a
// time, readers see a consistent snapshot between calls).
type Chain struct {
	mu sync.Mutex

	ID     types.ChainID
	state  *State
	blocks *BlockStore
	db     storage.DB

	utxos       *utxo.Store
	tickets     *ticket.Pool
	masternodes *masternode.Registry
	proposals   *governance.Registry
	trie        *mpt.Trie
	pow         *consensus.PoW
	snapshots   *snapshot.Manager

	params      config.ConsensusParams
	genesisHash types.Hash

	// activeUpgrades records every ProtocolUpgrade proposal that has
	// activated, keyed by proposal id, with the height activation
	// occurred at (§4.8 "mark the upgrade active at the activation
	// height").
	activeUpgrades map[types.Hash]uint64

	// pendingTreasurySpends accumulates TreasurySpend proposals as they
	// activate; a node's wallet/mempool layer turns each into an actual
	// signed disbursement transaction spending the treasury UTXO (out
	// of scope for consensus itself, which only records that the spend
	// was authorized).
	pendingTreasurySpends []TreasurySpend

	revertedTxHandler RevertedTxHandler
}

// TreasurySpend is the concrete effect of an activated TreasurySpend
// governance proposal: an authorization to pay Amount to Recipient.
// Consensus only records the authorization; constructing and
// broadcasting the spending transaction itself is a wallet concern.
type TreasurySpend struct {
	ProposalID types.Hash
	Recipient  types.Address
	Amount     uint64
	Height     uint64
}

// ActiveUpgrades returns a copy of the protocol upgrades that have
// activated, keyed by proposal id and valued by activation height.
func (c *Chain) ActiveUpgrades() map[types.Hash]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[types.Hash]uint64, len(c.activeUpgrades))
	for k, v := range c.activeUpgrades {
		out[k] = v
	}
	return out
}

// PendingTreasurySpends returns a copy of the treasury spend
// authorizations accumulated so far.
func (c *Chain) PendingTreasurySpends() []TreasurySpend {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TreasurySpend, len(c.pendingTreasurySpends))
	copy(out, c.pendingTreasurySpends)
	return out
}

// Components bundles the stateful services a Chain orchestrates. All
// fields except Snapshots are required.
type Components struct {
	DB          storage.DB
	UTXOs       *utxo.Store
	Tickets     *ticket.Pool
	Masternodes *masternode.Registry
	Proposals   *governance.Registry
	PoW         *consensus.PoW
	// Snapshots is optional: a nil Manager disables periodic state
	// snapshotting (§4.10 step 7) entirely.
	Snapshots *snapshot.Manager
}

// New creates a chain over the given components, recovering tip state
// from the block store if one already exists.
func New(id types.ChainID, params config.ConsensusParams, c Components) (*Chain, error) {
	if c.DB == nil {
		return nil, fmt.Errorf("storage db is nil")
	}
	if c.UTXOs == nil || c.Tickets == nil || c.Masternodes == nil || c.Proposals == nil {
		return nil, fmt.Errorf("chain: all stateful components are required")
	}
	if c.PoW == nil {
		return nil, fmt.Errorf("chain: pow engine is required")
	}

	blocks := NewBlockStore(c.DB)

	tipHash, height, supply, err := blocks.GetTip()
	if err != nil {
		return nil, fmt.Errorf("recover tip: %w", err)
	}
	cumDiff := blocks.GetCumulativeDifficulty()

	var trieRoot types.Hash
	if root, err := c.DB.Get(keyTrieRoot); err == nil && len(root) == types.HashSize {
		copy(trieRoot[:], root)
	}

	var genesisHash types.Hash
	if genBlk, err := blocks.GetBlockByHeight(0); err == nil {
		genesisHash = genBlk.Hash()
	}

	ch := &Chain{
		ID:          id,
		state:       &State{TipHash: tipHash, Height: height, Supply: supply, CumulativeDifficulty: cumDiff},
		blocks:      blocks,
		db:          c.DB,
		utxos:       c.UTXOs,
		tickets:     c.Tickets,
		masternodes: c.Masternodes,
		proposals:   c.Proposals,
		trie:           mpt.New(c.DB, trieRoot),
		pow:            c.PoW,
		snapshots:      c.Snapshots,
		params:         params,
		genesisHash:    genesisHash,
		activeUpgrades: make(map[types.Hash]uint64),
	}

	if _, targetHeight, found := blocks.GetReorgCheckpoint(); found {
		if err := ch.rebuildFromGenesis(targetHeight); err != nil {
			return nil, fmt.Errorf("recover from interrupted reorg: %w", err)
		}
		if err := blocks.DeleteReorgCheckpoint(); err != nil {
			return nil, fmt.Errorf("clear recovered reorg checkpoint: %w", err)
		}
	}

	return ch, nil
}

var keyTrieRoot = []byte("s/trieroot")

// InitFromGenesis initializes a fresh chain from genesis configuration.
// Returns an error if the chain already has blocks.
func (c *Chain) InitFromGenesis(gen *config.Genesis) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.IsGenesis() {
		return fmt.Errorf("chain already initialized at height %d", c.state.Height)
	}

	blk, err := CreateGenesisBlock(gen)
	if err != nil {
		return fmt.Errorf("create genesis: %w", err)
	}

	if err := c.utxos.Apply(blk, 0); err != nil {
		return fmt.Errorf("apply genesis utxos: %w", err)
	}
	if err := c.indexUTXOsInTrie(blk, 0); err != nil {
		return fmt.Errorf("index genesis state root: %w", err)
	}
	blk.Header.StateRoot = c.trie.Root

	if err := c.blocks.PutBlock(blk); err != nil {
		return fmt.Errorf("store genesis: %w", err)
	}

	var supply uint64
	for _, v := range gen.Alloc {
		supply += v
	}
	if supply == 0 {
		supply = 1 // Matches CreateGenesisBlock's single-base-unit fallback.
	}

	hash := blk.Hash()
	c.state.TipHash = hash
	c.state.Height = 0
	c.state.Supply = supply
	c.state.TipTimestamp = blk.Header.Timestamp
	c.genesisHash = hash
	c.params = gen.Consensus

	if err := c.blocks.SetTip(hash, 0, supply); err != nil {
		return fmt.Errorf("set genesis tip: %w", err)
	}
	if err := c.persistTrieRoot(); err != nil {
		return fmt.Errorf("persist genesis state root: %w", err)
	}

	log.Chain.Info().Str("hash", hash.String()).Msg("genesis block initialized")
	return nil
}

func (c *Chain) persistTrieRoot() error {
	return c.db.Put(keyTrieRoot, c.trie.Root[:])
}

// State returns a copy of the current chain state.
func (c *Chain) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.state
}

// GetBlock retrieves a block by its hash.
func (c *Chain) GetBlock(hash types.Hash) (*block.Block, error) {
	return c.blocks.GetBlock(hash)
}

// GetBlockByHeight retrieves a block by its height.
func (c *Chain) GetBlockByHeight(height uint64) (*block.Block, error) {
	return c.blocks.GetBlockByHeight(height)
}

// Height returns the current chain height.
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Height
}

// TipHash returns the hash of the current chain tip.
func (c *Chain) TipHash() types.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.TipHash
}

// Supply returns the total coins in circulation.
func (c *Chain) Supply() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Supply
}

// Params returns the consensus parameters currently in effect.
func (c *Chain) Params() config.ConsensusParams {
	return c.params
}

// SetRevertedTxHandler sets the callback for transactions reverted
// during a reorg, so they can be re-added to the mempool.
func (c *Chain) SetRevertedTxHandler(fn RevertedTxHandler) {
	c.revertedTxHandler = fn
}

// getBlockTimestamp returns the timestamp of a block at the given
// height, used by PoW difficulty retargeting.
func (c *Chain) getBlockTimestamp(height uint64) (uint64, error) {
	blk, err := c.blocks.GetBlockByHeight(height)
	if err != nil {
		return 0, err
	}
	return blk.Header.Timestamp, nil
}

// blockSubsidy computes the halving-schedule coinbase subsidy for
// height, per §4.10: subsidy = InitialBlockReward >> (height /
// HalvingInterval), floored at zero once fully halved away.
func (c *Chain) blockSubsidy(height uint64) uint64 {
	if c.params.HalvingInterval == 0 {
		return c.params.InitialBlockReward
	}
	halvings := height / c.params.HalvingInterval
	if halvings >= 64 {
		return 0
	}
	return c.params.InitialBlockReward >> halvings
}

// indexUTXOsInTrie deletes the UTXO key of every input blk spends and
// commits every output it creates under its UTXO key, advancing Root.
// There is no undo path here: a reorg rebuilds the trie wholesale from
// genesis (see DESIGN.md), since the trie has no undo journal of its own.
func (c *Chain) indexUTXOsInTrie(blk *block.Block, height uint64) error {
	for _, t := range blk.Transactions {
		txid := t.TxID()
		if !t.IsCoinbase() {
			for _, in := range t.Inputs {
				if _, err := c.trie.Delete(mpt.UTXOKey(in.PrevOut)); err != nil {
					return err
				}
			}
		}
		for i, out := range t.GetOutputs() {
			op := types.OutPoint{TxID: txid, Vout: uint32(i)}
			if err := c.trie.Put(mpt.UTXOKey(op), encodeTrieOutput(out, height)); err != nil {
				return err
			}
		}
	}
	return nil
}

func encodeTrieOutput(out types.TxOutput, height uint64) []byte {
	buf := make([]byte, 0, 8+8+len(out.ScriptPubKey)+len(out.Memo))
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(out.Value>>(8*i)))
	}
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(height>>(8*i)))
	}
	buf = append(buf, out.ScriptPubKey...)
	buf = append(buf, out.Memo...)
	return buf
}

// GetTransaction looks up a confirmed transaction by hash via the tx index.
func (c *Chain) GetTransaction(hash types.Hash) (*tx.Transaction, error) {
	_, blockHash, err := c.blocks.GetTxLocation(hash)
	if err != nil {
		return nil, err
	}
	blk, err := c.blocks.GetBlock(blockHash)
	if err != nil {
		return nil, fmt.Errorf("load block for tx: %w", err)
	}
	for _, t := range blk.Transactions {
		if t.TxID() == hash {
			return t, nil
		}
	}
	return nil, fmt.Errorf("tx %s not found in block %s (index corrupt)", hash, blockHash)
}
