package chain

import (
	"errors"
	"testing"

	"github.com/rusty-coin/core/pkg/tx"
)

// TestProcessBlock_RejectsDoubleSpendAcrossBlocks exercises the
// cross-block half of double-spend protection: an outpoint already
// spent by an applied block cannot be spent again by a later one.
func TestProcessBlock_RejectsDoubleSpendAcrossBlocks(t *testing.T) {
	fundKey, fundAddr := genKey(t)
	_, recvAddr := genKey(t)
	tc, outpoint := newFundedTestChain(t, testParams(), fundAddr, 5000)

	genesisBlk, err := tc.chain.GetBlockByHeight(0)
	if err != nil {
		t.Fatalf("get genesis: %v", err)
	}

	first := signedPayment(t, fundKey, outpoint, fundAddr, recvAddr, 1000, 3990)
	blk1, root1 := tc.mineBlock(t, genesisBlk, tc.chain.trie.Root, fundAddr, []*tx.Transaction{first}, 10)

	// Build a second transaction spending the SAME outpoint. It is mined
	// before blk1 is applied, because mineBlock reads input values from
	// the live UTXO set to compute the fee.
	second := signedPayment(t, fundKey, outpoint, fundAddr, recvAddr, 500, 4490)
	blk2, _ := tc.mineBlock(t, blk1, root1, fundAddr, []*tx.Transaction{second}, 20)

	if err := tc.chain.ProcessBlock(blk1); err != nil {
		t.Fatalf("process first spend: %v", err)
	}

	err = tc.chain.ProcessBlock(blk2)
	if err == nil {
		t.Fatal("expected double spend to be rejected")
	}
	if !errors.Is(err, tx.ErrInputNotFound) {
		t.Fatalf("expected error wrapping ErrInputNotFound, got: %v", err)
	}

	if tc.chain.TipHash() != blk1.Hash() {
		t.Fatal("tip should not have advanced past the rejected double-spend block")
	}
}

func TestProcessBlock_RejectsTimestampTooFarInFuture(t *testing.T) {
	_, fundAddr := genKey(t)
	tc, _ := newFundedTestChain(t, testParams(), fundAddr, 1000)
	tc.chain.params.MaxFutureDrift = 100

	genesisBlk, err := tc.chain.GetBlockByHeight(0)
	if err != nil {
		t.Fatalf("get genesis: %v", err)
	}

	blk, _ := tc.mineCoinbaseOnlyBlock(t, genesisBlk, tc.chain.trie.Root, fundAddr, 1_000_000)

	err = tc.chain.ProcessBlock(blk)
	if !errors.Is(err, ErrTimestampInFuture) {
		t.Fatalf("expected ErrTimestampInFuture, got: %v", err)
	}
}

func TestProcessBlock_RejectsAlreadyKnownBlock(t *testing.T) {
	_, fundAddr := genKey(t)
	tc, _ := newFundedTestChain(t, testParams(), fundAddr, 1000)

	genesisBlk, err := tc.chain.GetBlockByHeight(0)
	if err != nil {
		t.Fatalf("get genesis: %v", err)
	}

	blk, _ := tc.mineCoinbaseOnlyBlock(t, genesisBlk, tc.chain.trie.Root, fundAddr, 10)
	if err := tc.chain.ProcessBlock(blk); err != nil {
		t.Fatalf("process block: %v", err)
	}

	err = tc.chain.ProcessBlock(blk)
	if !errors.Is(err, ErrBlockKnown) {
		t.Fatalf("expected ErrBlockKnown on reprocessing, got: %v", err)
	}
}
