package tx

import (
	"errors"
	"math"
	"testing"

	"github.com/rusty-coin/core/config"
	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/types"
)

// validTx creates a minimal valid signed transaction for testing.
func validTx(t *testing.T) *Transaction {
	t.Helper()
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key.PublicKey())
	b := NewBuilder().
		AddInput(types.OutPoint{TxID: types.Hash{0x01}, Vout: 0}).
		AddOutput(1000, testP2PKHScript(addr), nil)
	b.Sign(key)
	return b.Build()
}

func TestValidate_Valid(t *testing.T) {
	tx := validTx(t)
	if err := tx.Validate(); err != nil {
		t.Errorf("valid tx should pass: %v", err)
	}
}

func TestValidate_NoInputs(t *testing.T) {
	tx := &Transaction{
		Kind:    KindStandard,
		Outputs: []types.TxOutput{{Value: 1000, ScriptPubKey: make(types.Script, 20)}},
	}
	err := tx.Validate()
	if !errors.Is(err, ErrNoInputs) {
		t.Errorf("expected ErrNoInputs, got: %v", err)
	}
}

func TestValidate_NoOutputs(t *testing.T) {
	tx := &Transaction{
		Kind: KindStandard,
		Inputs: []Input{{
			PrevOut:   types.OutPoint{TxID: types.Hash{0x01}},
			Signature: []byte("sig"),
			PubKey:    []byte("key"),
		}},
	}
	err := tx.Validate()
	if !errors.Is(err, ErrNoOutputs) {
		t.Errorf("expected ErrNoOutputs, got: %v", err)
	}
}

func TestValidate_DuplicateInput(t *testing.T) {
	same := types.OutPoint{TxID: types.Hash{0x01}, Vout: 0}
	tx := &Transaction{
		Kind: KindStandard,
		Inputs: []Input{
			{PrevOut: same, Signature: []byte("s"), PubKey: []byte("k")},
			{PrevOut: same, Signature: []byte("s"), PubKey: []byte("k")},
		},
		Outputs: []types.TxOutput{{Value: 1000, ScriptPubKey: make(types.Script, 20)}},
	}
	err := tx.Validate()
	if !errors.Is(err, ErrDuplicateInput) {
		t.Errorf("expected ErrDuplicateInput, got: %v", err)
	}
}

func TestValidate_MissingPubKey(t *testing.T) {
	tx := &Transaction{
		Kind:    KindStandard,
		Inputs:  []Input{{PrevOut: types.OutPoint{TxID: types.Hash{0x01}}, Signature: []byte("s")}},
		Outputs: []types.TxOutput{{Value: 1000, ScriptPubKey: make(types.Script, 20)}},
	}
	err := tx.Validate()
	if !errors.Is(err, ErrMissingPubKey) {
		t.Errorf("expected ErrMissingPubKey, got: %v", err)
	}
}

func TestValidate_MissingSig(t *testing.T) {
	tx := &Transaction{
		Kind:    KindStandard,
		Inputs:  []Input{{PrevOut: types.OutPoint{TxID: types.Hash{0x01}}, PubKey: []byte("k")}},
		Outputs: []types.TxOutput{{Value: 1000, ScriptPubKey: make(types.Script, 20)}},
	}
	err := tx.Validate()
	if !errors.Is(err, ErrMissingSig) {
		t.Errorf("expected ErrMissingSig, got: %v", err)
	}
}

func TestValidate_ZeroValueOutput(t *testing.T) {
	tx := &Transaction{
		Kind:    KindStandard,
		Inputs:  []Input{{PrevOut: types.OutPoint{TxID: types.Hash{0x01}}, Signature: []byte("s"), PubKey: []byte("k")}},
		Outputs: []types.TxOutput{{Value: 0, ScriptPubKey: make(types.Script, 20)}},
	}
	err := tx.Validate()
	if !errors.Is(err, ErrZeroOutput) {
		t.Errorf("expected ErrZeroOutput, got: %v", err)
	}
}

func TestValidate_OutputOverflow(t *testing.T) {
	tx := &Transaction{
		Kind:   KindStandard,
		Inputs: []Input{{PrevOut: types.OutPoint{TxID: types.Hash{0x01}}, Signature: []byte("s"), PubKey: []byte("k")}},
		Outputs: []types.TxOutput{
			{Value: math.MaxUint64, ScriptPubKey: make(types.Script, 20)},
			{Value: 1, ScriptPubKey: make(types.Script, 20)},
		},
	}
	err := tx.Validate()
	if !errors.Is(err, ErrOutputOverflow) {
		t.Errorf("expected ErrOutputOverflow, got: %v", err)
	}
}

func TestValidate_Coinbase(t *testing.T) {
	coinbase := &Transaction{
		Kind:           KindCoinbase,
		Version:        1,
		CoinbaseHeight: 10,
		Outputs:        []types.TxOutput{{Value: 50000, ScriptPubKey: make(types.Script, 20)}},
	}
	if err := coinbase.Validate(); err != nil {
		t.Errorf("coinbase tx should pass Validate: %v", err)
	}
}

func TestValidate_CoinbaseWithInputsRejected(t *testing.T) {
	coinbase := &Transaction{
		Kind:    KindCoinbase,
		Inputs:  []Input{{PrevOut: types.OutPoint{TxID: types.Hash{0x01}}}},
		Outputs: []types.TxOutput{{Value: 50000, ScriptPubKey: make(types.Script, 20)}},
	}
	if err := coinbase.Validate(); err == nil {
		t.Error("coinbase tx with inputs should fail Validate")
	}
}

func TestVerifySignatures_Coinbase(t *testing.T) {
	coinbase := &Transaction{
		Kind:    KindCoinbase,
		Version: 1,
		Outputs: []types.TxOutput{{Value: 50000, ScriptPubKey: make(types.Script, 20)}},
	}
	if err := coinbase.VerifySignatures(); err != nil {
		t.Errorf("coinbase tx should pass VerifySignatures: %v", err)
	}
}

func TestVerifySignatures_Valid(t *testing.T) {
	tx := validTx(t)
	if err := tx.VerifySignatures(); err != nil {
		t.Errorf("valid signatures should verify: %v", err)
	}
}

func TestVerifySignatures_WrongKey(t *testing.T) {
	key1, _ := crypto.GenerateKey()
	key2, _ := crypto.GenerateKey()
	addr := crypto.AddressFromPubKey(key1.PublicKey())

	b := NewBuilder().
		AddInput(types.OutPoint{TxID: types.Hash{0x01}, Vout: 0}).
		AddOutput(1000, testP2PKHScript(addr), nil)
	b.Sign(key1)
	transaction := b.Build()

	transaction.Inputs[0].PubKey = key2.PublicKey()

	err := transaction.VerifySignatures()
	if !errors.Is(err, ErrInvalidSig) {
		t.Errorf("expected ErrInvalidSig, got: %v", err)
	}
}

func TestVerifySignatures_TamperedOutput(t *testing.T) {
	tx := validTx(t)
	tx.Outputs[0].Value = 9999

	err := tx.VerifySignatures()
	if !errors.Is(err, ErrInvalidSig) {
		t.Errorf("tampered tx should fail verification: %v", err)
	}
}

func TestVerifySignatures_CorruptedSig(t *testing.T) {
	tx := validTx(t)
	tx.Inputs[0].Signature[0] ^= 0xFF

	err := tx.VerifySignatures()
	if !errors.Is(err, ErrInvalidSig) {
		t.Errorf("corrupted sig should fail: %v", err)
	}
}

func TestValidate_TooManyInputs(t *testing.T) {
	inputs := make([]Input, config.MaxTxInputs+1)
	for i := range inputs {
		inputs[i] = Input{
			PrevOut:   types.OutPoint{TxID: types.Hash{byte(i >> 8), byte(i)}, Vout: uint32(i)},
			Signature: []byte("s"),
			PubKey:    []byte("k"),
		}
	}
	transaction := &Transaction{
		Kind:    KindStandard,
		Inputs:  inputs,
		Outputs: []types.TxOutput{{Value: 1000, ScriptPubKey: make(types.Script, 20)}},
	}
	err := transaction.Validate()
	if !errors.Is(err, ErrTooManyInputs) {
		t.Errorf("expected ErrTooManyInputs, got: %v", err)
	}
}

func TestValidate_TooManyInputs_AtLimit(t *testing.T) {
	inputs := make([]Input, config.MaxTxInputs)
	for i := range inputs {
		inputs[i] = Input{
			PrevOut:   types.OutPoint{TxID: types.Hash{byte(i >> 8), byte(i)}, Vout: uint32(i)},
			Signature: []byte("s"),
			PubKey:    []byte("k"),
		}
	}
	transaction := &Transaction{
		Kind:    KindStandard,
		Inputs:  inputs,
		Outputs: []types.TxOutput{{Value: 1000, ScriptPubKey: make(types.Script, 20)}},
	}
	err := transaction.Validate()
	if errors.Is(err, ErrTooManyInputs) {
		t.Errorf("exactly MaxTxInputs should not trigger ErrTooManyInputs")
	}
}

func TestValidate_TooManyOutputs(t *testing.T) {
	outputs := make([]types.TxOutput, config.MaxTxOutputs+1)
	for i := range outputs {
		outputs[i] = types.TxOutput{Value: 1, ScriptPubKey: make(types.Script, 20)}
	}
	transaction := &Transaction{
		Kind:    KindStandard,
		Inputs:  []Input{{PrevOut: types.OutPoint{TxID: types.Hash{0x01}}, Signature: []byte("s"), PubKey: []byte("k")}},
		Outputs: outputs,
	}
	err := transaction.Validate()
	if !errors.Is(err, ErrTooManyOutputs) {
		t.Errorf("expected ErrTooManyOutputs, got: %v", err)
	}
}

func TestValidate_TooManyOutputs_AtLimit(t *testing.T) {
	outputs := make([]types.TxOutput, config.MaxTxOutputs)
	for i := range outputs {
		outputs[i] = types.TxOutput{Value: 1, ScriptPubKey: make(types.Script, 20)}
	}
	transaction := &Transaction{
		Kind:    KindStandard,
		Inputs:  []Input{{PrevOut: types.OutPoint{TxID: types.Hash{0x01}}, Signature: []byte("s"), PubKey: []byte("k")}},
		Outputs: outputs,
	}
	err := transaction.Validate()
	if errors.Is(err, ErrTooManyOutputs) {
		t.Errorf("exactly MaxTxOutputs should not trigger ErrTooManyOutputs")
	}
}

func TestValidate_ScriptDataTooLarge(t *testing.T) {
	transaction := &Transaction{
		Kind:   KindStandard,
		Inputs: []Input{{PrevOut: types.OutPoint{TxID: types.Hash{0x01}}, Signature: []byte("s"), PubKey: []byte("k")}},
		Outputs: []types.TxOutput{{
			Value:        1000,
			ScriptPubKey: make(types.Script, config.MaxScriptData+1),
		}},
	}
	err := transaction.Validate()
	if !errors.Is(err, ErrScriptDataTooLarge) {
		t.Errorf("expected ErrScriptDataTooLarge, got: %v", err)
	}
}

func TestValidate_ScriptDataAtLimit(t *testing.T) {
	transaction := &Transaction{
		Kind:   KindStandard,
		Inputs: []Input{{PrevOut: types.OutPoint{TxID: types.Hash{0x01}}, Signature: []byte("s"), PubKey: []byte("k")}},
		Outputs: []types.TxOutput{{
			Value:        1000,
			ScriptPubKey: make(types.Script, config.MaxScriptData),
		}},
	}
	err := transaction.Validate()
	if errors.Is(err, ErrScriptDataTooLarge) {
		t.Errorf("exactly MaxScriptData should not trigger ErrScriptDataTooLarge")
	}
}

func TestValidate_WrongPayloadRejected(t *testing.T) {
	tx := &Transaction{
		Kind:    KindStandard,
		Inputs:  []Input{{PrevOut: types.OutPoint{TxID: types.Hash{0x01}}, Signature: []byte("s"), PubKey: []byte("k")}},
		Outputs: []types.TxOutput{{Value: 1000, ScriptPubKey: make(types.Script, 20)}},
		TicketRedemption: &TicketRedemptionPayload{TicketID: types.Hash{0x01}},
	}
	err := tx.Validate()
	if !errors.Is(err, ErrUnexpectedPayload) {
		t.Errorf("expected ErrUnexpectedPayload, got: %v", err)
	}
}

func TestValidate_MissingPayloadForKind(t *testing.T) {
	tx := &Transaction{
		Kind:    KindTicketPurchase,
		Inputs:  []Input{{PrevOut: types.OutPoint{TxID: types.Hash{0x01}}, Signature: []byte("s"), PubKey: []byte("k")}},
		Outputs: []types.TxOutput{{Value: 1000, ScriptPubKey: make(types.Script, 20)}},
	}
	err := tx.Validate()
	if !errors.Is(err, ErrMissingPayload) {
		t.Errorf("expected ErrMissingPayload, got: %v", err)
	}
}
