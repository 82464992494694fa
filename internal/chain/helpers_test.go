package chain

import (
	"testing"

	"github.com/rusty-coin/core/config"
	"github.com/rusty-coin/core/internal/consensus"
	"github.com/rusty-coin/core/internal/governance"
	"github.com/rusty-coin/core/internal/masternode"
	"github.com/rusty-coin/core/internal/mpt"
	"github.com/rusty-coin/core/internal/storage"
	"github.com/rusty-coin/core/internal/ticket"
	"github.com/rusty-coin/core/internal/utxo"
	"github.com/rusty-coin/core/pkg/block"
	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/tx"
	"github.com/rusty-coin/core/pkg/types"
)

// easyBits is a compact difficulty whose target sits a hair under
// maxUint256, so PoW.Seal finds a satisfying nonce within a handful of
// iterations (see internal/consensus/pow_test.go for the same trick).
const easyBits = 0x20ffffff

const testGenesisTimestamp = 1_700_000_000

// testParams returns a consensus parameter set tuned for fast,
// deterministic tests: mining is cheap (easyBits), there's no PoS
// quorum to assemble (QuorumSize 0), and coinbase outputs spend
// immediately (CoinbaseMaturity 0).
func testParams() config.ConsensusParams {
	p := config.DefaultConsensusParams()
	p.MinBlockTime = 1
	p.MaxFutureDrift = 1_000_000
	p.DifficultyAdjustWindow = 0
	p.InitialDifficultyBits = easyBits
	p.MinDifficultyBits = easyBits
	p.QuorumSize = 0
	p.CoinbaseMaturity = 0
	return p
}

// testChain bundles a Chain with the engine and parameters used to
// build it, so tests can mine further blocks without re-deriving them.
type testChain struct {
	chain  *Chain
	pow    *consensus.PoW
	params config.ConsensusParams
}

// newTestChain builds a chain over a fresh in-memory store and
// initializes it from a genesis allocating alloc (address -> balance).
func newTestChain(t *testing.T, params config.ConsensusParams, alloc map[string]uint64) *testChain {
	t.Helper()

	db := storage.NewMemory()
	pow, err := consensus.NewPoW(params.InitialDifficultyBits, params.MinDifficultyBits, params.DifficultyAdjustWindow, params.TargetBlockTime, params.MaxAdjustmentFactor)
	if err != nil {
		t.Fatalf("new pow: %v", err)
	}

	comps := Components{
		DB:          db,
		UTXOs:       utxo.NewStore(db),
		Tickets:     ticket.NewPool(),
		Masternodes: masternode.NewRegistry(),
		Proposals:   governance.NewRegistry(),
		PoW:         pow,
	}

	ch, err := New(types.ChainID{}, params, comps)
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}

	gen := config.TestnetGenesis()
	gen.Consensus = params
	gen.Timestamp = testGenesisTimestamp
	gen.Alloc = alloc

	if err := ch.InitFromGenesis(gen); err != nil {
		t.Fatalf("init genesis: %v", err)
	}

	return &testChain{chain: ch, pow: pow, params: params}
}

// newFundedTestChain is the common case: a single funded address,
// returning the chain and the genesis coinbase outpoint paying it.
func newFundedTestChain(t *testing.T, params config.ConsensusParams, addr types.Address, amount uint64) (*testChain, types.OutPoint) {
	t.Helper()
	tc := newTestChain(t, params, map[string]uint64{addr.String(): amount})
	gen, err := tc.chain.GetBlockByHeight(0)
	if err != nil {
		t.Fatalf("get genesis block: %v", err)
	}
	return tc, types.OutPoint{TxID: gen.Transactions[0].TxID(), Vout: 0}
}

// genKey generates a fresh Ed25519 key pair and its derived address.
func genKey(t *testing.T) (*crypto.PrivateKey, types.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key, crypto.AddressFromPubKey(key.PublicKey())
}

// signedPayment builds and signs a standard single-input payment
// spending in, sending amount to toAddr and the remainder back to
// fromAddr as change (the difference is the fee).
func signedPayment(t *testing.T, key *crypto.PrivateKey, in types.OutPoint, fromAddr, toAddr types.Address, amount, change uint64) *tx.Transaction {
	t.Helper()
	b := tx.NewBuilder()
	b.AddInput(in)
	b.AddOutput(amount, types.Script(toAddr.Bytes()), nil)
	if change > 0 {
		b.AddOutput(change, types.Script(fromAddr.Bytes()), nil)
	}
	if err := b.Sign(key); err != nil {
		t.Fatalf("sign payment: %v", err)
	}
	return b.Build()
}

// computeCandidateStateRoot predicts the state trie root a block would
// produce if applied, without mutating the chain's own trie: it mirrors
// indexUTXOsInTrie against a scratch trie rooted at base. Trie nodes
// are content-addressed, so writing through a scratch overlay onto the
// same db is harmless even for a branch that's never adopted.
func computeCandidateStateRoot(db storage.DB, base types.Hash, txs []*tx.Transaction, height uint64) (types.Hash, error) {
	scratch := mpt.New(db, base)
	for _, t := range txs {
		txid := t.TxID()
		if !t.IsCoinbase() {
			for _, in := range t.Inputs {
				if _, err := scratch.Delete(mpt.UTXOKey(in.PrevOut)); err != nil {
					return types.Hash{}, err
				}
			}
		}
		for i, out := range t.GetOutputs() {
			op := types.OutPoint{TxID: txid, Vout: uint32(i)}
			if err := scratch.Put(mpt.UTXOKey(op), encodeTrieOutput(out, height)); err != nil {
				return types.Hash{}, err
			}
		}
	}
	return scratch.Root, nil
}

// mineBlock assembles a coinbase-plus-txs block extending parent at
// baseRoot, pays the subsidy to coinbaseAddr, and seals it with tc's
// PoW engine. It returns both the block and the state root it commits
// to, so callers can chain further blocks without touching tc.chain's
// own (single, currently-active) trie.
func (tc *testChain) mineBlock(t *testing.T, parent *block.Block, baseRoot types.Hash, coinbaseAddr types.Address, txs []*tx.Transaction, tsOffset uint64) (*block.Block, types.Hash) {
	t.Helper()

	height := parent.Header.Height + 1
	subsidy := tc.chain.blockSubsidy(height)

	var fee uint64
	for _, txn := range txs {
		out, err := txn.TotalOutputValue()
		if err != nil {
			t.Fatalf("tx output total: %v", err)
		}
		in, err := inputTotal(tc.chain.utxos, txn)
		if err != nil {
			t.Fatalf("tx input total: %v", err)
		}
		fee += in - out
	}

	cb := tx.NewCoinbaseBuilder(height)
	cb.AddOutput(subsidy+fee, types.Script(coinbaseAddr.Bytes()), nil)
	coinbaseTx := cb.Build()

	all := append([]*tx.Transaction{coinbaseTx}, txs...)
	hashes := make([]types.Hash, len(all))
	for i, txn := range all {
		hashes[i] = txn.TxID()
	}

	header := &block.Header{
		Version:          block.CurrentVersion,
		PrevHash:         parent.Hash(),
		MerkleRoot:       block.ComputeMerkleRoot(hashes),
		Timestamp:        parent.Header.Timestamp + tsOffset,
		Height:           height,
		DifficultyTarget: tc.params.InitialDifficultyBits,
	}

	root, err := computeCandidateStateRoot(tc.chain.db, baseRoot, all, height)
	if err != nil {
		t.Fatalf("compute state root: %v", err)
	}
	header.StateRoot = root

	blk := block.NewBlock(header, all)
	if err := tc.pow.Seal(blk); err != nil {
		t.Fatalf("seal block: %v", err)
	}
	return blk, root
}

// mineCoinbaseOnlyBlock builds a block with no transactions beyond the
// coinbase, used by tests that only care about header/work bookkeeping
// (e.g. reorg branch comparisons) and not transaction content.
func (tc *testChain) mineCoinbaseOnlyBlock(t *testing.T, parent *block.Block, baseRoot types.Hash, payTo types.Address, tsOffset uint64) (*block.Block, types.Hash) {
	t.Helper()
	return tc.mineBlock(t, parent, baseRoot, payTo, nil, tsOffset)
}

func inputTotal(provider tx.UTXOProvider, t *tx.Transaction) (uint64, error) {
	var total uint64
	for _, in := range t.Inputs {
		v, _, err := provider.GetUTXO(in.PrevOut)
		if err != nil {
			return 0, err
		}
		total += v
	}
	return total, nil
}
