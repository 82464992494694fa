package chain

import (
	"bytes"
	"testing"

	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/tx"
	"github.com/rusty-coin/core/pkg/types"
)

// garbageSignature is obviously-invalid ed25519 signature material: 64
// bytes that verify against no message under any key.
func garbageSignature() []byte {
	return bytes.Repeat([]byte{0xFF}, 64)
}

func TestValidateDomainPayload_RejectsInvalidTicketPurchaseSignature(t *testing.T) {
	fundKey, fundAddr := genKey(t)
	params := testParams()
	tc, outpoint := newFundedTestChain(t, params, fundAddr, 5*params.MinStake)

	genesisBlk, err := tc.chain.GetBlockByHeight(0)
	if err != nil {
		t.Fatalf("get genesis: %v", err)
	}

	b := tx.NewBuilder()
	b.AddInput(outpoint)
	b.AddOutput(params.MinStake, types.Script(fundAddr.Bytes()), nil)
	b.SetTicketPurchase(&tx.TicketPurchasePayload{
		TicketID:      types.Hash{0x01},
		LockedAmount:  params.MinStake,
		TicketAddress: fundAddr,
		StakerPubKey:  fundKey.PublicKey(),
		Signature:     garbageSignature(),
	})
	if err := b.Sign(fundKey); err != nil {
		t.Fatalf("sign: %v", err)
	}
	purchase := b.Build()

	blk, _ := tc.mineBlock(t, genesisBlk, tc.chain.trie.Root, fundAddr, []*tx.Transaction{purchase}, 10)

	if err := tc.chain.ProcessBlock(blk); err == nil {
		t.Fatal("expected ticket purchase with invalid staker signature to be rejected")
	}
}

func TestValidateDomainPayload_RejectsInvalidMasternodeRegistrationSignature(t *testing.T) {
	fundKey, fundAddr := genKey(t)
	params := testParams()
	tc, outpoint := newFundedTestChain(t, params, fundAddr, 2*params.MasternodeCollateralAmount)

	genesisBlk, err := tc.chain.GetBlockByHeight(0)
	if err != nil {
		t.Fatalf("get genesis: %v", err)
	}

	b := tx.NewBuilder()
	b.AddInput(outpoint)
	b.AddOutput(params.MasternodeCollateralAmount, types.Script(fundAddr.Bytes()), nil)
	b.SetMasternodeRegister(&tx.MasternodeRegisterPayload{
		OperatorPubKey:   fundKey.PublicKey(),
		CollateralOwner:  fundAddr,
		NetworkAddress:   "127.0.0.1:9000",
		DKGPubKey:        fundKey.PublicKey(),
		SupportedDKGVers: []uint32{1},
		Signature:        garbageSignature(),
	})
	// Sign() sets Inputs[0].PubKey to fundKey's pubkey, which is exactly
	// the "owner" key masternode registration is verified against — so
	// the only thing wrong here is the payload's own Signature field.
	if err := b.Sign(fundKey); err != nil {
		t.Fatalf("sign: %v", err)
	}
	register := b.Build()

	blk, _ := tc.mineBlock(t, genesisBlk, tc.chain.trie.Root, fundAddr, []*tx.Transaction{register}, 10)

	if err := tc.chain.ProcessBlock(blk); err == nil {
		t.Fatal("expected masternode registration with invalid signature to be rejected")
	}
}

func TestValidateDomainPayload_RejectsInvalidGovernanceProposalSignature(t *testing.T) {
	fundKey, fundAddr := genKey(t)
	params := testParams()
	tc, outpoint := newFundedTestChain(t, params, fundAddr, 2*params.ProposalStakeAmount)

	genesisBlk, err := tc.chain.GetBlockByHeight(0)
	if err != nil {
		t.Fatalf("get genesis: %v", err)
	}

	b := tx.NewBuilder()
	b.AddInput(outpoint)
	b.AddOutput(params.ProposalStakeAmount, types.Script(fundAddr.Bytes()), nil)
	b.SetGovernanceProposal(&tx.GovernanceProposalPayload{
		ProposalID:        types.Hash{0x02},
		ProposerAddress:   fundAddr, // left correct: only the signature is corrupted
		ProposalType:      tx.ProposalParameterChange,
		StartHeight:       1,
		EndHeight:         100,
		Title:             "lower min stake",
		DescriptionHash:   types.Hash{0x03},
		TargetParameter:   "min_stake",
		NewValue:          1,
		ProposerSignature: garbageSignature(),
	})
	if err := b.Sign(fundKey); err != nil {
		t.Fatalf("sign: %v", err)
	}
	proposal := b.Build()

	blk, _ := tc.mineBlock(t, genesisBlk, tc.chain.trie.Root, fundAddr, []*tx.Transaction{proposal}, 10)

	if err := tc.chain.ProcessBlock(blk); err == nil {
		t.Fatal("expected governance proposal with invalid signature to be rejected")
	}
}

func TestProcessBlock_AcceptsMultiSignerPayment(t *testing.T) {
	keyA, addrA := genKey(t)
	keyB, addrB := genKey(t)
	_, recvAddr := genKey(t)
	params := testParams()

	tc := newTestChain(t, params, map[string]uint64{
		addrA.String(): 2000,
		addrB.String(): 3000,
	})

	genesisBlk, err := tc.chain.GetBlockByHeight(0)
	if err != nil {
		t.Fatalf("get genesis: %v", err)
	}

	var outA, outB types.OutPoint
	for i, out := range genesisBlk.Transactions[0].Outputs {
		var a types.Address
		copy(a[:], out.ScriptPubKey)
		op := types.OutPoint{TxID: genesisBlk.Transactions[0].TxID(), Vout: uint32(i)}
		switch a {
		case addrA:
			outA = op
		case addrB:
			outB = op
		}
	}

	outpointAddr := map[types.OutPoint]types.Address{
		outA: addrA,
		outB: addrB,
	}
	signers := map[types.Address]*crypto.PrivateKey{
		addrA: keyA,
		addrB: keyB,
	}

	b := tx.NewBuilder()
	b.AddInput(outA)
	b.AddInput(outB)
	b.AddOutput(4500, types.Script(recvAddr.Bytes()), nil)
	b.AddOutput(400, types.Script(addrA.Bytes()), nil)
	if err := b.SignMulti(signers, outpointAddr); err != nil {
		t.Fatalf("sign multi: %v", err)
	}
	payment := b.Build()

	blk, _ := tc.mineBlock(t, genesisBlk, tc.chain.trie.Root, addrA, []*tx.Transaction{payment}, 10)
	if err := tc.chain.ProcessBlock(blk); err != nil {
		t.Fatalf("process multi-signer payment: %v", err)
	}

	if tc.chain.utxos.HasUTXO(outA) || tc.chain.utxos.HasUTXO(outB) {
		t.Fatal("both spent inputs should be gone from the utxo set")
	}
	if !tc.chain.utxos.HasUTXO(types.OutPoint{TxID: payment.TxID(), Vout: 0}) {
		t.Fatal("recipient output missing from utxo set")
	}
}
