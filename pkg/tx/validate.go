package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/rusty-coin/core/config"
	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/types"
)

// Validation errors.
var (
	ErrNoInputs           = errors.New("transaction has no inputs")
	ErrNoOutputs          = errors.New("transaction has no outputs")
	ErrDuplicateInput     = errors.New("duplicate input")
	ErrOutputOverflow     = errors.New("output values overflow")
	ErrZeroOutput         = errors.New("output value is zero")
	ErrMissingPubKey      = errors.New("input missing public key")
	ErrMissingSig         = errors.New("input missing signature")
	ErrInvalidSig         = errors.New("invalid signature")
	ErrTooManyInputs      = errors.New("too many inputs")
	ErrTooManyOutputs     = errors.New("too many outputs")
	ErrScriptDataTooLarge = errors.New("script data too large")
	ErrMissingPayload     = errors.New("transaction missing kind-specific payload")
	ErrUnexpectedPayload  = errors.New("transaction carries a payload for a different kind")
)

// Validate checks transaction structure and basic rules. This does NOT
// check UTXO existence or double-spends; that requires the UTXO set
// (see ValidateWithUTXOs).
func (tx *Transaction) Validate() error {
	if err := tx.validateStructure(); err != nil {
		return err
	}
	return tx.validatePayload()
}

func (tx *Transaction) validateStructure() error {
	if tx.Kind == KindCoinbase {
		if len(tx.Inputs) != 0 {
			return fmt.Errorf("coinbase transaction must carry no inputs")
		}
	} else {
		if len(tx.Inputs) == 0 {
			return ErrNoInputs
		}
		if len(tx.Inputs) > config.MaxTxInputs {
			return fmt.Errorf("%w: %d inputs, max %d", ErrTooManyInputs, len(tx.Inputs), config.MaxTxInputs)
		}

		seen := make(map[types.OutPoint]bool, len(tx.Inputs))
		for i, in := range tx.Inputs {
			if seen[in.PrevOut] {
				return fmt.Errorf("input %d: %w", i, ErrDuplicateInput)
			}
			seen[in.PrevOut] = true

			if len(in.PubKey) == 0 {
				return fmt.Errorf("input %d: %w", i, ErrMissingPubKey)
			}
			if len(in.Signature) == 0 {
				return fmt.Errorf("input %d: %w", i, ErrMissingSig)
			}
		}
	}

	if len(tx.Outputs) == 0 {
		return ErrNoOutputs
	}
	if len(tx.Outputs) > config.MaxTxOutputs {
		return fmt.Errorf("%w: %d outputs, max %d", ErrTooManyOutputs, len(tx.Outputs), config.MaxTxOutputs)
	}

	var totalOutput uint64
	for i, out := range tx.Outputs {
		if out.Value == 0 {
			return fmt.Errorf("output %d: %w", i, ErrZeroOutput)
		}
		if len(out.ScriptPubKey) > config.MaxScriptData {
			return fmt.Errorf("output %d: %w: %d bytes, max %d", i, ErrScriptDataTooLarge, len(out.ScriptPubKey), config.MaxScriptData)
		}
		if totalOutput > math.MaxUint64-out.Value {
			return fmt.Errorf("output %d: %w", i, ErrOutputOverflow)
		}
		totalOutput += out.Value
	}

	return nil
}

// validatePayload checks that exactly the payload matching Kind is
// populated, and that all others are absent.
func (tx *Transaction) validatePayload() error {
	payloads := map[Kind]bool{
		KindTicketPurchase:       tx.TicketPurchase != nil,
		KindTicketRedemption:     tx.TicketRedemption != nil,
		KindMasternodeRegister:   tx.MasternodeRegister != nil,
		KindMasternodeCollateral: tx.MasternodeCollateral != nil,
		KindMasternodeSlash:      tx.MasternodeSlash != nil,
		KindGovernanceProposal:   tx.GovernanceProposal != nil,
		KindGovernanceVote:       tx.GovernanceVote != nil,
		KindActivateProposal:     tx.ActivateProposal != nil,
	}

	for kind, present := range payloads {
		if kind == tx.Kind && !present {
			return fmt.Errorf("kind %s: %w", tx.Kind, ErrMissingPayload)
		}
		if kind != tx.Kind && present {
			return fmt.Errorf("kind %s carries %s payload: %w", tx.Kind, kind, ErrUnexpectedPayload)
		}
	}
	return nil
}

// VerifySignatures checks that all input signatures are valid for this
// transaction's signing digest.
func (tx *Transaction) VerifySignatures() error {
	if tx.Kind == KindCoinbase {
		return nil
	}
	id := tx.TxID()
	for i, in := range tx.Inputs {
		if !crypto.VerifySignature(id[:], in.Signature, in.PubKey) {
			return fmt.Errorf("input %d: %w", i, ErrInvalidSig)
		}
	}
	return nil
}
