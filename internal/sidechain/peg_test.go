package sidechain

import (
	"testing"

	"github.com/rusty-coin/core/config"
	"github.com/rusty-coin/core/pkg/block"
	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/types"
)

func mkPeg(direction Direction, amount uint64, recipient types.Address) *Peg {
	return &Peg{
		ID:             types.Hash{0xAA},
		Direction:      direction,
		SourceOutpoint: types.OutPoint{TxID: types.Hash{0xBB}, Vout: 0},
		Amount:         amount,
		Recipient:      recipient,
	}
}

// mkInclusionProof builds a small merkle tree containing leaf and returns
// the branch/index pair plus the header committing to its root, so
// verifyMainchainProof's branch check can be exercised without a PoW engine.
func mkInclusionProof(leaf types.Hash) (*MainchainProof, types.Hash) {
	sibling := types.Hash{0xCD}
	root := crypto.HashConcat(leaf, sibling)
	header := block.Header{MerkleRoot: root, Height: 10}
	return &MainchainProof{Header: header, Branch: []types.Hash{sibling}, Index: 0}, root
}

func TestObserve_PegIn_RequiresProof(t *testing.T) {
	params := config.DefaultConsensusParams()
	reg := NewRegistry()
	p := mkPeg(DirectionIn, 1*config.Coin, types.Address{0x01})
	if err := Observe(reg, p, nil, nil, params); err == nil {
		t.Fatal("expected missing-proof error")
	}
}

func TestObserve_PegIn_VerifiesInclusion(t *testing.T) {
	params := config.DefaultConsensusParams()
	reg := NewRegistry()
	p := mkPeg(DirectionIn, 1*config.Coin, types.Address{0x01})
	proof, _ := mkInclusionProof(p.SourceOutpoint.TxID)

	if err := Observe(reg, p, proof, nil, params); err != nil {
		t.Fatalf("observe: %v", err)
	}
	got, ok := reg.Get(p.ID)
	if !ok || got.Status != PegStatusPending {
		t.Fatalf("expected pending peg, got %+v ok=%v", got, ok)
	}
}

func TestObserve_PegIn_RejectsBadBranch(t *testing.T) {
	params := config.DefaultConsensusParams()
	reg := NewRegistry()
	p := mkPeg(DirectionIn, 1*config.Coin, types.Address{0x01})
	proof, _ := mkInclusionProof(types.Hash{0xFF}) // branch commits to a different leaf

	if err := Observe(reg, p, proof, nil, params); err == nil {
		t.Fatal("expected inclusion-proof verification failure")
	}
}

func TestObserve_RejectsEmptyRecipient(t *testing.T) {
	params := config.DefaultConsensusParams()
	reg := NewRegistry()
	p := mkPeg(DirectionOut, 1*config.Coin, types.Address{})
	if err := Observe(reg, p, nil, nil, params); err == nil {
		t.Fatal("expected empty-recipient rejection")
	}
}

func TestObserve_RejectsAmountOutOfRange(t *testing.T) {
	params := config.DefaultConsensusParams()
	reg := NewRegistry()
	p := mkPeg(DirectionOut, params.MaxPegAmount+1, types.Address{0x01})
	if err := Observe(reg, p, nil, nil, params); err == nil {
		t.Fatal("expected amount-out-of-range rejection")
	}
}

func TestRelease_RequiresValidSignaturesNotJustDistinctBlobs(t *testing.T) {
	params := config.DefaultConsensusParams()
	params.FederationSignaturesNeeded = 2
	params.PegConfirmationsRequired = 1
	reg := NewRegistry()
	p := mkPeg(DirectionOut, 1*config.Coin, types.Address{0x01})
	if err := Observe(reg, p, nil, nil, params); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if err := reg.AddConfirmation(p.ID, params); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	got, _ := reg.Get(p.ID)
	if got.Status != PegStatusConfirmed {
		t.Fatalf("expected confirmed peg, got %v", got.Status)
	}

	// Two distinct garbage byte blobs with no real signatures must not pass.
	garbage := []FederationSignature{
		{PubKey: []byte("pk-a"), Signature: []byte("garbage-a")},
		{PubKey: []byte("pk-b"), Signature: []byte("garbage-b")},
	}
	if err := reg.Release(p.ID, garbage, params); err == nil {
		t.Fatal("expected release with unverifiable signatures to fail")
	}
}

func TestRelease_SucceedsWithRealSignatures(t *testing.T) {
	params := config.DefaultConsensusParams()
	params.FederationSignaturesNeeded = 2
	params.PegConfirmationsRequired = 1
	reg := NewRegistry()
	p := mkPeg(DirectionOut, 1*config.Coin, types.Address{0x01})
	if err := Observe(reg, p, nil, nil, params); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if err := reg.AddConfirmation(p.ID, params); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	current, _ := reg.Get(p.ID)
	msg := ReleaseSigningBytes(current)

	sk1, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	sk2, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	sig1, err := sk1.Sign(msg)
	if err != nil {
		t.Fatal(err)
	}
	sig2, err := sk2.Sign(msg)
	if err != nil {
		t.Fatal(err)
	}

	sigs := []FederationSignature{
		{PubKey: sk1.PublicKey(), Signature: sig1},
		{PubKey: sk2.PublicKey(), Signature: sig2},
		{PubKey: sk1.PublicKey(), Signature: sig1}, // duplicate, must not double-count
	}
	if err := reg.Release(p.ID, sigs, params); err != nil {
		t.Fatalf("release: %v", err)
	}
	got, _ := reg.Get(p.ID)
	if got.Status != PegStatusReleased {
		t.Fatalf("expected released peg, got %v", got.Status)
	}
	if len(got.FederationSigners) != 2 {
		t.Fatalf("expected 2 valid signers recorded, got %d", len(got.FederationSigners))
	}
}
