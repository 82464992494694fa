package chain

import (
	"testing"

	"github.com/rusty-coin/core/pkg/tx"
	"github.com/rusty-coin/core/pkg/types"
)

func TestInitFromGenesis_SetsTipAndSupply(t *testing.T) {
	_, fundAddr := genKey(t)
	amount := uint64(1000)
	tc, outpoint := newFundedTestChain(t, testParams(), fundAddr, amount)

	st := tc.chain.State()
	if st.Height != 0 {
		t.Fatalf("height = %d, want 0", st.Height)
	}
	if st.Supply != amount {
		t.Fatalf("supply = %d, want %d", st.Supply, amount)
	}
	if st.TipHash.IsZero() {
		t.Fatal("tip hash is zero after genesis init")
	}
	if outpoint.Vout != 0 {
		t.Fatalf("genesis outpoint vout = %d, want 0", outpoint.Vout)
	}

	if err := tc.chain.InitFromGenesis(nil); err == nil {
		t.Fatal("expected re-initializing an existing chain to fail")
	}
}

func TestProcessBlock_ExtendsTip(t *testing.T) {
	fundKey, fundAddr := genKey(t)
	_, recvAddr := genKey(t)
	amount := uint64(5000)
	tc, outpoint := newFundedTestChain(t, testParams(), fundAddr, amount)

	genesisBlk, err := tc.chain.GetBlockByHeight(0)
	if err != nil {
		t.Fatalf("get genesis: %v", err)
	}

	payment := signedPayment(t, fundKey, outpoint, fundAddr, recvAddr, 1000, amount-1000-10)
	blk, _ := tc.mineBlock(t, genesisBlk, tc.chain.trie.Root, fundAddr, []*tx.Transaction{payment}, 10)

	if err := tc.chain.ProcessBlock(blk); err != nil {
		t.Fatalf("process block: %v", err)
	}

	st := tc.chain.State()
	if st.Height != 1 {
		t.Fatalf("height = %d, want 1", st.Height)
	}
	if st.TipHash != blk.Hash() {
		t.Fatal("tip hash did not advance to the new block")
	}

	wantSupply := amount + tc.chain.blockSubsidy(1) + 10
	if st.Supply != wantSupply {
		t.Fatalf("supply = %d, want %d", st.Supply, wantSupply)
	}

	gotValue, gotScript, err := tc.chain.utxos.GetUTXO(types.OutPoint{TxID: payment.TxID(), Vout: 0})
	if err != nil {
		t.Fatalf("recipient utxo missing: %v", err)
	}
	if gotValue != 1000 {
		t.Fatalf("recipient utxo value = %d, want 1000", gotValue)
	}
	var gotAddr types.Address
	copy(gotAddr[:], gotScript)
	if gotAddr != recvAddr {
		t.Fatal("recipient utxo script does not match recipient address")
	}

	if tc.chain.utxos.HasUTXO(outpoint) {
		t.Fatal("spent genesis outpoint still present in utxo set")
	}
}

func TestProcessBlock_RejectsOrphan(t *testing.T) {
	_, fundAddr := genKey(t)
	tc, _ := newFundedTestChain(t, testParams(), fundAddr, 1000)

	genesisBlk, err := tc.chain.GetBlockByHeight(0)
	if err != nil {
		t.Fatalf("get genesis: %v", err)
	}

	orphan, _ := tc.mineCoinbaseOnlyBlock(t, genesisBlk, tc.chain.trie.Root, fundAddr, 10)
	// Point the orphan at a parent hash no block store knows about.
	orphan.Header.PrevHash[0] ^= 0xFF
	orphan.Header.Nonce = 0
	if err := tc.pow.Seal(orphan); err != nil {
		t.Fatalf("reseal orphan: %v", err)
	}

	if err := tc.chain.ProcessBlock(orphan); err == nil {
		t.Fatal("expected orphan block to be rejected")
	}
}

func TestBlockSubsidyHalving(t *testing.T) {
	_, fundAddr := genKey(t)
	tc, _ := newFundedTestChain(t, testParams(), fundAddr, 1)

	tc.chain.params.HalvingInterval = 10
	tc.chain.params.InitialBlockReward = 100

	cases := []struct {
		height uint64
		want   uint64
	}{
		{0, 100},
		{9, 100},
		{10, 50},
		{20, 25},
		{25, 25},
	}
	for _, c := range cases {
		if got := tc.chain.blockSubsidy(c.height); got != c.want {
			t.Errorf("blockSubsidy(%d) = %d, want %d", c.height, got, c.want)
		}
	}
}
