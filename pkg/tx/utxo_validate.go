package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/types"
)

// UTXO-aware validation errors.
var (
	ErrInputNotFound   = errors.New("input UTXO not found")
	ErrInputSpent      = errors.New("input UTXO already spent")
	ErrInsufficientFee = errors.New("insufficient fee")
	ErrInputOverflow   = errors.New("input values overflow")
	ErrScriptMismatch  = errors.New("pubkey does not match UTXO script")
)

// UTXOProvider provides read-only access to the UTXO set for validation.
type UTXOProvider interface {
	GetUTXO(outpoint types.OutPoint) (value uint64, script types.Script, err error)
	HasUTXO(outpoint types.OutPoint) bool
}

// ValidateWithUTXOs performs full validation of a transaction against
// the UTXO set: it checks that all inputs exist, are unspent, that the
// spending pubkey hashes to the output's script, that signatures are
// valid, and that inputs >= outputs + declared fee. Returns the actual
// fee (inputs - outputs).
func (tx *Transaction) ValidateWithUTXOs(provider UTXOProvider) (uint64, error) {
	if err := tx.Validate(); err != nil {
		return 0, err
	}

	var totalInput uint64
	for i, in := range tx.Inputs {
		if !provider.HasUTXO(in.PrevOut) {
			return 0, fmt.Errorf("input %d (%s): %w", i, in.PrevOut, ErrInputNotFound)
		}

		value, script, err := provider.GetUTXO(in.PrevOut)
		if err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}

		if err := verifyOwnership(in.PubKey, script); err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}

		if totalInput > math.MaxUint64-value {
			return 0, fmt.Errorf("input %d: %w", i, ErrInputOverflow)
		}
		totalInput += value
	}

	if err := tx.VerifySignatures(); err != nil {
		return 0, err
	}

	totalOutput, err := tx.TotalOutputValue()
	if err != nil {
		return 0, fmt.Errorf("output overflow: %w", err)
	}

	if tx.IsCoinbase() {
		return 0, nil
	}

	if totalInput < totalOutput || totalInput-totalOutput < tx.Fee_ {
		return 0, fmt.Errorf("%w: inputs=%d outputs=%d fee=%d", ErrInsufficientFee, totalInput, totalOutput, tx.Fee_)
	}

	fee := totalInput - totalOutput
	return fee, nil
}

// TotalOutputValue sums the transaction's output values, returning an
// error on overflow.
func (tx *Transaction) TotalOutputValue() (uint64, error) {
	var total uint64
	for i, out := range tx.Outputs {
		if total > math.MaxUint64-out.Value {
			return 0, fmt.Errorf("output %d: %w", i, ErrOutputOverflow)
		}
		total += out.Value
	}
	return total, nil
}

// verifyOwnership checks that a spender's public key hashes to the
// output's script_pubkey. A script is an opaque byte blob (there is no
// scripting VM); the sole recognized form is BLAKE3(pubkey)[:20],
// i.e. the address that crypto.AddressFromPubKey derives.
func verifyOwnership(pubKey []byte, scriptPubKey types.Script) error {
	if len(pubKey) == 0 {
		return ErrMissingPubKey
	}
	if len(scriptPubKey) != types.AddressSize {
		return fmt.Errorf("%w: script length %d, want %d", ErrScriptMismatch, len(scriptPubKey), types.AddressSize)
	}

	derived := crypto.AddressFromPubKey(pubKey)

	var expected types.Address
	copy(expected[:], scriptPubKey)

	if expected != derived {
		return fmt.Errorf("%w: expected %s, got %s", ErrScriptMismatch, expected, derived)
	}
	return nil
}
