package tx

import (
	"fmt"

	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/types"
)

// Builder constructs transactions incrementally.
type Builder struct {
	tx *Transaction
}

// NewBuilder starts building a standard (value-transfer) transaction.
func NewBuilder() *Builder {
	return &Builder{tx: &Transaction{Kind: KindStandard, Version: 1}}
}

// NewCoinbaseBuilder starts building a coinbase transaction for the
// given block height.
func NewCoinbaseBuilder(height uint64) *Builder {
	return &Builder{tx: &Transaction{Kind: KindCoinbase, Version: 1, CoinbaseHeight: height}}
}

// WithKind switches the transaction under construction to a different
// kind; the caller is responsible for attaching the matching payload
// before Build.
func (b *Builder) WithKind(kind Kind) *Builder {
	b.tx.Kind = kind
	return b
}

// AddInput adds an input referencing a previous output.
func (b *Builder) AddInput(prevOut types.OutPoint) *Builder {
	b.tx.Inputs = append(b.tx.Inputs, Input{PrevOut: prevOut})
	return b
}

// AddOutput adds an output with a value, script, and optional memo.
func (b *Builder) AddOutput(value uint64, script types.Script, memo []byte) *Builder {
	b.tx.Outputs = append(b.tx.Outputs, types.TxOutput{Value: value, ScriptPubKey: script, Memo: memo})
	return b
}

// SetLockTime sets the transaction lock time.
func (b *Builder) SetLockTime(lockTime uint64) *Builder {
	b.tx.LockTime = lockTime
	return b
}

// SetFee sets the declared transaction fee.
func (b *Builder) SetFee(fee uint64) *Builder {
	b.tx.Fee_ = fee
	return b
}

// SetTicketPurchase attaches the ticket-purchase payload and switches
// Kind to KindTicketPurchase.
func (b *Builder) SetTicketPurchase(p *TicketPurchasePayload) *Builder {
	b.tx.Kind = KindTicketPurchase
	b.tx.TicketPurchase = p
	return b
}

// SetTicketRedemption attaches the ticket-redemption payload and
// switches Kind to KindTicketRedemption.
func (b *Builder) SetTicketRedemption(p *TicketRedemptionPayload) *Builder {
	b.tx.Kind = KindTicketRedemption
	b.tx.TicketRedemption = p
	return b
}

// SetMasternodeRegister attaches the masternode-registration payload.
func (b *Builder) SetMasternodeRegister(p *MasternodeRegisterPayload) *Builder {
	b.tx.Kind = KindMasternodeRegister
	b.tx.MasternodeRegister = p
	return b
}

// SetGovernanceProposal attaches the governance-proposal payload.
func (b *Builder) SetGovernanceProposal(p *GovernanceProposalPayload) *Builder {
	b.tx.Kind = KindGovernanceProposal
	b.tx.GovernanceProposal = p
	return b
}

// SetGovernanceVote attaches the governance-vote payload.
func (b *Builder) SetGovernanceVote(p *GovernanceVotePayload) *Builder {
	b.tx.Kind = KindGovernanceVote
	b.tx.GovernanceVote = p
	return b
}

// Sign signs all inputs with the provided private key over the
// transaction id. Each input gets the same signature (single-key
// spending).
func (b *Builder) Sign(key *crypto.PrivateKey) error {
	id := b.tx.TxID()
	sig, err := key.Sign(id[:])
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	pubKey := key.PublicKey()
	for i := range b.tx.Inputs {
		b.tx.Inputs[i].Signature = sig
		b.tx.Inputs[i].PubKey = pubKey
	}
	return nil
}

// SignMulti signs each input with the key that owns its outpoint.
// outpointAddr maps each input's outpoint to the address that owns it.
// signers maps each address to the private key that can spend from it.
func (b *Builder) SignMulti(
	signers map[types.Address]*crypto.PrivateKey,
	outpointAddr map[types.OutPoint]types.Address,
) error {
	id := b.tx.TxID()

	type sigPub struct {
		sig    []byte
		pubKey []byte
	}
	cache := make(map[types.Address]*sigPub)

	for i := range b.tx.Inputs {
		addr, ok := outpointAddr[b.tx.Inputs[i].PrevOut]
		if !ok {
			return fmt.Errorf("no address mapping for input %d outpoint", i)
		}
		key, ok := signers[addr]
		if !ok {
			return fmt.Errorf("no signer for address %s (input %d)", addr, i)
		}

		sp, cached := cache[addr]
		if !cached {
			sig, err := key.Sign(id[:])
			if err != nil {
				return fmt.Errorf("sign input %d: %w", i, err)
			}
			sp = &sigPub{sig: sig, pubKey: key.PublicKey()}
			cache[addr] = sp
		}
		b.tx.Inputs[i].Signature = sp.sig
		b.tx.Inputs[i].PubKey = sp.pubKey
	}
	return nil
}

// Build returns the constructed transaction. Does not validate; call
// tx.Validate() separately.
func (b *Builder) Build() *Transaction {
	return b.tx
}
