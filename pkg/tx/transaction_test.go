package tx

import (
	"bytes"
	"math"
	"testing"

	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/types"
)

func testP2PKHScript(addr types.Address) types.Script {
	b := make(types.Script, types.AddressSize)
	copy(b, addr[:])
	return b
}

func TestTransaction_TxID_Deterministic(t *testing.T) {
	tx := &Transaction{
		Kind:    KindStandard,
		Version: 1,
		Inputs:  []Input{{PrevOut: types.OutPoint{TxID: types.Hash{0x01}, Vout: 0}}},
		Outputs: []types.TxOutput{{Value: 1000, ScriptPubKey: testP2PKHScript(types.Address{0x01})}},
	}

	id1 := tx.TxID()
	id2 := tx.TxID()
	if id1 != id2 {
		t.Error("TxID() should be deterministic")
	}
	if id1.IsZero() {
		t.Error("TxID() should not be zero")
	}
}

func TestTransaction_TxID_ChangesWithContent(t *testing.T) {
	tx1 := &Transaction{
		Kind:    KindStandard,
		Version: 1,
		Inputs:  []Input{{PrevOut: types.OutPoint{TxID: types.Hash{0x01}, Vout: 0}}},
		Outputs: []types.TxOutput{{Value: 1000, ScriptPubKey: testP2PKHScript(types.Address{0x01})}},
	}
	tx2 := &Transaction{
		Kind:    KindStandard,
		Version: 1,
		Inputs:  []Input{{PrevOut: types.OutPoint{TxID: types.Hash{0x01}, Vout: 0}}},
		Outputs: []types.TxOutput{{Value: 2000, ScriptPubKey: testP2PKHScript(types.Address{0x01})}},
	}

	if tx1.TxID() == tx2.TxID() {
		t.Error("different transactions should have different ids")
	}
}

func TestTransaction_TxID_IgnoresSignature(t *testing.T) {
	tx := &Transaction{
		Kind:    KindStandard,
		Version: 1,
		Inputs:  []Input{{PrevOut: types.OutPoint{TxID: types.Hash{0x01}, Vout: 0}}},
		Outputs: []types.TxOutput{{Value: 1000, ScriptPubKey: testP2PKHScript(types.Address{0x01})}},
	}

	id1 := tx.TxID()

	tx.Inputs[0].Signature = []byte("some signature")
	tx.Inputs[0].PubKey = []byte("some key")

	id2 := tx.TxID()

	if id1 != id2 {
		t.Error("TxID() should not change when signatures are added")
	}
}

func TestTransaction_TotalOutputValue(t *testing.T) {
	tx := &Transaction{
		Outputs: []types.TxOutput{
			{Value: 1000},
			{Value: 2000},
			{Value: 3000},
		},
	}
	got, err := tx.TotalOutputValue()
	if err != nil {
		t.Fatalf("TotalOutputValue() error: %v", err)
	}
	if got != 6000 {
		t.Errorf("TotalOutputValue() = %d, want 6000", got)
	}
}

func TestTransaction_TotalOutputValue_Empty(t *testing.T) {
	tx := &Transaction{}
	got, err := tx.TotalOutputValue()
	if err != nil {
		t.Fatalf("TotalOutputValue() error: %v", err)
	}
	if got != 0 {
		t.Errorf("TotalOutputValue() empty = %d, want 0", got)
	}
}

func TestTransaction_TotalOutputValue_Overflow(t *testing.T) {
	tx := &Transaction{
		Outputs: []types.TxOutput{
			{Value: math.MaxUint64},
			{Value: 1},
		},
	}
	_, err := tx.TotalOutputValue()
	if err == nil {
		t.Error("TotalOutputValue() should return error on overflow")
	}
}

func TestTransaction_EncodeDecode_RoundTrip(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())

	b := NewBuilder().
		AddInput(types.OutPoint{TxID: crypto.Hash([]byte("prev")), Vout: 2}).
		AddOutput(5000, testP2PKHScript(addr), []byte("memo")).
		SetLockTime(42).
		SetFee(10)
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	original := b.Build()

	encoded, err := original.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}

	if decoded.TxID() != original.TxID() {
		t.Error("decoded transaction id should match original")
	}
	if decoded.LockTime != original.LockTime {
		t.Errorf("locktime = %d, want %d", decoded.LockTime, original.LockTime)
	}
	if decoded.Fee_ != original.Fee_ {
		t.Errorf("fee = %d, want %d", decoded.Fee_, original.Fee_)
	}
	if !bytes.Equal(decoded.Inputs[0].Signature, original.Inputs[0].Signature) {
		t.Error("signature should survive the round trip")
	}

	reencoded, err := decoded.Encode()
	if err != nil {
		t.Fatalf("re-Encode() error: %v", err)
	}
	if !bytes.Equal(encoded, reencoded) {
		t.Error("encode(decode(encode(tx))) should equal encode(tx)")
	}
}

func TestDecode_UnknownKindIsInvalidFormat(t *testing.T) {
	encoded := []byte{0xFF, 1, 0, 0, 0}
	_, err := Decode(encoded)
	if err == nil {
		t.Fatal("expected error for unknown kind byte")
	}
}

func TestDecode_TruncatedIsInvalidFormat(t *testing.T) {
	_, err := Decode([]byte{byte(KindStandard)})
	if err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestBuilder_BuildAndSign(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := types.Address{0x01, 0x02, 0x03}

	prevOut := types.OutPoint{TxID: crypto.Hash([]byte("prev tx")), Vout: 0}

	b := NewBuilder().
		AddInput(prevOut).
		AddOutput(5000, testP2PKHScript(addr), nil)

	err := b.Sign(key)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	transaction := b.Build()

	if len(transaction.Inputs) != 1 {
		t.Fatalf("expected 1 input, got %d", len(transaction.Inputs))
	}
	if len(transaction.Outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(transaction.Outputs))
	}
	if transaction.Version != 1 {
		t.Errorf("version = %d, want 1", transaction.Version)
	}

	if err := transaction.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
	if err := transaction.VerifySignatures(); err != nil {
		t.Errorf("VerifySignatures() error: %v", err)
	}
}

func TestBuilder_MultipleInputsOutputs(t *testing.T) {
	key, _ := crypto.GenerateKey()

	b := NewBuilder().
		AddInput(types.OutPoint{TxID: types.Hash{0x01}, Vout: 0}).
		AddInput(types.OutPoint{TxID: types.Hash{0x02}, Vout: 1}).
		AddOutput(3000, testP2PKHScript(types.Address{0xAB}), nil).
		AddOutput(2000, testP2PKHScript(types.Address{0xCD}), nil).
		SetLockTime(100)

	b.Sign(key)
	transaction := b.Build()

	if len(transaction.Inputs) != 2 {
		t.Errorf("input count = %d, want 2", len(transaction.Inputs))
	}
	if len(transaction.Outputs) != 2 {
		t.Errorf("output count = %d, want 2", len(transaction.Outputs))
	}
	if transaction.LockTime != 100 {
		t.Errorf("locktime = %d, want 100", transaction.LockTime)
	}
	if err := transaction.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
	if err := transaction.VerifySignatures(); err != nil {
		t.Errorf("VerifySignatures() error: %v", err)
	}
}

func TestBuilder_SignMulti(t *testing.T) {
	key1, _ := crypto.GenerateKey()
	key2, _ := crypto.GenerateKey()

	addr1 := crypto.AddressFromPubKey(key1.PublicKey())
	addr2 := crypto.AddressFromPubKey(key2.PublicKey())

	out1 := types.OutPoint{TxID: crypto.Hash([]byte("tx1")), Vout: 0}
	out2 := types.OutPoint{TxID: crypto.Hash([]byte("tx2")), Vout: 1}

	b := NewBuilder().
		AddInput(out1).
		AddInput(out2).
		AddOutput(3000, testP2PKHScript(types.Address{0x99}), nil)

	signers := map[types.Address]*crypto.PrivateKey{
		addr1: key1,
		addr2: key2,
	}
	outpointAddr := map[types.OutPoint]types.Address{
		out1: addr1,
		out2: addr2,
	}

	if err := b.SignMulti(signers, outpointAddr); err != nil {
		t.Fatalf("SignMulti() error: %v", err)
	}

	transaction := b.Build()

	if err := transaction.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
	if err := transaction.VerifySignatures(); err != nil {
		t.Errorf("VerifySignatures() error: %v", err)
	}

	if string(transaction.Inputs[0].PubKey) == string(transaction.Inputs[1].PubKey) {
		t.Error("inputs should have different pubkeys")
	}
}

func TestBuilder_SignMulti_SameKeyTwoInputs(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())

	out1 := types.OutPoint{TxID: crypto.Hash([]byte("tx1")), Vout: 0}
	out2 := types.OutPoint{TxID: crypto.Hash([]byte("tx2")), Vout: 0}

	b := NewBuilder().
		AddInput(out1).
		AddInput(out2).
		AddOutput(5000, testP2PKHScript(types.Address{0x99}), nil)

	signers := map[types.Address]*crypto.PrivateKey{addr: key}
	outpointAddr := map[types.OutPoint]types.Address{
		out1: addr,
		out2: addr,
	}

	if err := b.SignMulti(signers, outpointAddr); err != nil {
		t.Fatalf("SignMulti() error: %v", err)
	}

	transaction := b.Build()
	if err := transaction.VerifySignatures(); err != nil {
		t.Errorf("VerifySignatures() error: %v", err)
	}

	if string(transaction.Inputs[0].Signature) != string(transaction.Inputs[1].Signature) {
		t.Error("same key should produce same signature (cache)")
	}
}

func TestBuilder_SignMulti_MissingAddress(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())

	out1 := types.OutPoint{TxID: types.Hash{0x01}, Vout: 0}

	b := NewBuilder().
		AddInput(out1).
		AddOutput(1000, testP2PKHScript(types.Address{0x01}), nil)

	signers := map[types.Address]*crypto.PrivateKey{addr: key}
	outpointAddr := map[types.OutPoint]types.Address{}

	err := b.SignMulti(signers, outpointAddr)
	if err == nil {
		t.Fatal("expected error for missing address mapping")
	}
}

func TestBuilder_SignMulti_MissingSigner(t *testing.T) {
	out1 := types.OutPoint{TxID: types.Hash{0x01}, Vout: 0}
	addr := types.Address{0xAA}

	b := NewBuilder().
		AddInput(out1).
		AddOutput(1000, testP2PKHScript(types.Address{0x01}), nil)

	signers := map[types.Address]*crypto.PrivateKey{}
	outpointAddr := map[types.OutPoint]types.Address{out1: addr}

	err := b.SignMulti(signers, outpointAddr)
	if err == nil {
		t.Fatal("expected error for missing signer")
	}
}

func TestBuilder_CoinbaseBuilder(t *testing.T) {
	b := NewCoinbaseBuilder(500).
		AddOutput(5_000_000, testP2PKHScript(types.Address{0x02}), nil)

	transaction := b.Build()
	if !transaction.IsCoinbase() {
		t.Fatal("expected coinbase transaction")
	}
	if transaction.CoinbaseHeight != 500 {
		t.Errorf("coinbase height = %d, want 500", transaction.CoinbaseHeight)
	}
	if err := transaction.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
	if err := transaction.VerifySignatures(); err != nil {
		t.Errorf("VerifySignatures() error: %v", err)
	}
	if transaction.GetFee() != 0 {
		t.Error("coinbase fee should be 0")
	}
}
