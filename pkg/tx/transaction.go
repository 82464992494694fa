// Package tx defines the tagged-variant transaction model and its
// canonical binary codec.
package tx

import (
	"encoding/binary"
	"fmt"

	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/types"
)

// Kind discriminates the transaction variant. The wire encoding is a
// single leading byte; an unrecognized value is InvalidFormat.
type Kind uint8

const (
	KindStandard Kind = iota + 1
	KindCoinbase
	KindTicketPurchase
	KindTicketRedemption
	KindMasternodeRegister
	KindMasternodeCollateral
	KindMasternodeSlash
	KindGovernanceProposal
	KindGovernanceVote
	KindActivateProposal
)

func (k Kind) String() string {
	switch k {
	case KindStandard:
		return "Standard"
	case KindCoinbase:
		return "Coinbase"
	case KindTicketPurchase:
		return "TicketPurchase"
	case KindTicketRedemption:
		return "TicketRedemption"
	case KindMasternodeRegister:
		return "MasternodeRegister"
	case KindMasternodeCollateral:
		return "MasternodeCollateral"
	case KindMasternodeSlash:
		return "MasternodeSlash"
	case KindGovernanceProposal:
		return "GovernanceProposal"
	case KindGovernanceVote:
		return "GovernanceVote"
	case KindActivateProposal:
		return "ActivateProposal"
	default:
		return "Unknown"
	}
}

// Input references a UTXO being spent.
type Input struct {
	PrevOut   types.OutPoint `json:"prevout"`
	Signature []byte         `json:"signature"`
	PubKey    []byte         `json:"pubkey"`
}

// Transaction is the tagged-variant transaction envelope. Only the
// fields relevant to Kind are populated; all variants expose the
// uniform capability set via the methods below (GetInputs/GetOutputs/
// GetLockTime/GetFee/TxID/IsCoinbase), dispatching on Kind rather than
// by subtyping.
type Transaction struct {
	Kind     Kind           `json:"kind"`
	Version  uint32         `json:"version"`
	Inputs   []Input        `json:"inputs,omitempty"`
	Outputs  []types.TxOutput `json:"outputs,omitempty"`
	LockTime uint64         `json:"locktime"`
	Fee_     uint64         `json:"fee"`
	Witness  [][]byte       `json:"witness,omitempty"`

	// CoinbaseHeight disambiguates otherwise-identical coinbase
	// transactions (no inputs to vary the hash).
	CoinbaseHeight uint64 `json:"coinbase_height,omitempty"`

	TicketPurchase       *TicketPurchasePayload       `json:"ticket_purchase,omitempty"`
	TicketRedemption     *TicketRedemptionPayload     `json:"ticket_redemption,omitempty"`
	MasternodeRegister   *MasternodeRegisterPayload   `json:"masternode_register,omitempty"`
	MasternodeCollateral *MasternodeCollateralPayload `json:"masternode_collateral,omitempty"`
	MasternodeSlash      *MasternodeSlashPayload      `json:"masternode_slash,omitempty"`
	GovernanceProposal   *GovernanceProposalPayload   `json:"governance_proposal,omitempty"`
	GovernanceVote       *GovernanceVotePayload       `json:"governance_vote,omitempty"`
	ActivateProposal     *ActivateProposalPayload     `json:"activate_proposal,omitempty"`
}

// TicketPurchasePayload carries the fields unique to a TicketPurchase tx.
type TicketPurchasePayload struct {
	TicketID      types.Hash    `json:"ticket_id"`
	LockedAmount  uint64        `json:"locked_amount"`
	TicketAddress types.Address `json:"ticket_address"`
	StakerPubKey  []byte        `json:"staker_pubkey"`
	Signature     []byte        `json:"signature"`
}

// TicketRedemptionPayload carries the fields unique to a TicketRedemption tx.
type TicketRedemptionPayload struct {
	TicketID types.Hash `json:"ticket_id"`
}

// MasternodeRegisterPayload carries the fields unique to a MasternodeRegister tx.
type MasternodeRegisterPayload struct {
	OperatorPubKey   []byte        `json:"operator_pubkey"`
	CollateralOwner  types.Address `json:"collateral_owner"`
	NetworkAddress   string        `json:"network_address"`
	DKGPubKey        []byte        `json:"dkg_pubkey"`
	SupportedDKGVers []uint32      `json:"supported_dkg_versions"`
	Signature        []byte        `json:"signature"`
}

// MasternodeCollateralPayload carries the fields unique to a MasternodeCollateral tx.
type MasternodeCollateralPayload struct {
	CollateralAmount    uint64         `json:"collateral_amount"`
	MasternodeIdentity  types.OutPoint `json:"masternode_identity"`
}

// MasternodeSlashPayload carries the fields unique to a MasternodeSlash tx.
type MasternodeSlashPayload struct {
	MasternodeID types.OutPoint `json:"masternode_id"`
	Reason       SlashReason    `json:"reason"`
	Proof        []byte         `json:"proof"`
}

// SlashReason enumerates why a masternode's collateral is being slashed.
type SlashReason uint8

const (
	SlashDoubleSigning SlashReason = iota + 1
	SlashInvalidBlockProposal
	SlashInvalidTransaction
	SlashGovernanceViolation
	SlashNonResponse
)

// GovernanceProposalPayload carries the fields unique to a GovernanceProposal tx.
type GovernanceProposalPayload struct {
	ProposalID       types.Hash    `json:"proposal_id"`
	ProposerAddress  types.Address `json:"proposer_address"`
	ProposalType     ProposalType  `json:"proposal_type"`
	StartHeight      uint64        `json:"start_height"`
	EndHeight        uint64        `json:"end_height"`
	Title            string        `json:"title"`
	DescriptionHash  types.Hash    `json:"description_hash"`
	CodeChangeHash   *types.Hash   `json:"code_change_hash,omitempty"`
	TargetParameter  string        `json:"target_parameter,omitempty"`
	NewValue         uint64        `json:"new_value,omitempty"`
	ProposerSignature []byte       `json:"proposer_signature"`
}

// ProposalType enumerates governance proposal categories.
type ProposalType uint8

const (
	ProposalProtocolUpgrade ProposalType = iota + 1
	ProposalParameterChange
	ProposalTreasurySpend
	ProposalBugFix
	ProposalCommunityFund
)

// VoteChoice enumerates how a vote was cast.
type VoteChoice uint8

const (
	VoteYes VoteChoice = iota + 1
	VoteNo
	VoteAbstain
)

// VoterType enumerates who is casting a governance vote.
type VoterType uint8

const (
	VoterPoSTicket VoterType = iota + 1
	VoterMasternode
)

// GovernanceVotePayload carries the fields unique to a GovernanceVote tx.
type GovernanceVotePayload struct {
	ProposalID types.Hash  `json:"proposal_id"`
	VoterType  VoterType   `json:"voter_type"`
	VoterID    types.Hash  `json:"voter_id"`
	Choice     VoteChoice  `json:"choice"`
	Signature  []byte      `json:"signature"`
}

// ActivateProposalPayload carries the fields unique to an ActivateProposal tx.
type ActivateProposalPayload struct {
	ProposalID        types.Hash `json:"proposal_id"`
	ApprovalProof     []byte     `json:"approval_proof"`
	ActivatorSignature []byte    `json:"activator_signature"`
}

// IsCoinbase reports whether this transaction is the block's coinbase.
func (tx *Transaction) IsCoinbase() bool {
	return tx.Kind == KindCoinbase
}

// GetInputs returns the transaction's inputs (empty for Coinbase).
func (tx *Transaction) GetInputs() []Input {
	return tx.Inputs
}

// GetOutputs returns the transaction's outputs.
func (tx *Transaction) GetOutputs() []types.TxOutput {
	return tx.Outputs
}

// GetLockTime returns the transaction's lock time.
func (tx *Transaction) GetLockTime() uint64 {
	return tx.LockTime
}

// GetFee returns the transaction's declared fee (0 for Coinbase).
func (tx *Transaction) GetFee() uint64 {
	if tx.Kind == KindCoinbase {
		return 0
	}
	return tx.Fee_
}

// TxID computes the transaction id: BLAKE3 over the canonical encoding
// with witness data (signatures) stripped, so malleating a signature
// does not change the id.
func (tx *Transaction) TxID() types.Hash {
	return crypto.Hash(tx.signingBytes())
}

// signingBytes is the canonical little-endian encoding used both for
// the txid and as the message transaction signatures are computed
// over. It omits Signature/Witness fields.
func (tx *Transaction) signingBytes() []byte {
	var buf []byte
	buf = append(buf, byte(tx.Kind))
	buf = binary.LittleEndian.AppendUint32(buf, tx.Version)

	if tx.Kind == KindCoinbase {
		buf = binary.LittleEndian.AppendUint64(buf, tx.CoinbaseHeight)
	} else {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Inputs)))
		for _, in := range tx.Inputs {
			buf = append(buf, in.PrevOut.TxID[:]...)
			buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Vout)
		}
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, out.Value)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(out.ScriptPubKey)))
		buf = append(buf, out.ScriptPubKey...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(out.Memo)))
		buf = append(buf, out.Memo...)
	}

	buf = binary.LittleEndian.AppendUint64(buf, tx.LockTime)
	buf = binary.LittleEndian.AppendUint64(buf, tx.Fee_)

	buf = appendVariantBytes(buf, tx)
	return buf
}

// appendVariantBytes appends the kind-specific payload fields to the
// signing buffer. Unknown/mismatched kind-payload pairs are simply
// skipped here; Validate() is responsible for rejecting them.
func appendVariantBytes(buf []byte, tx *Transaction) []byte {
	switch tx.Kind {
	case KindTicketPurchase:
		if p := tx.TicketPurchase; p != nil {
			buf = append(buf, p.TicketID[:]...)
			buf = binary.LittleEndian.AppendUint64(buf, p.LockedAmount)
			buf = append(buf, p.TicketAddress[:]...)
			buf = append(buf, p.StakerPubKey...)
		}
	case KindTicketRedemption:
		if p := tx.TicketRedemption; p != nil {
			buf = append(buf, p.TicketID[:]...)
		}
	case KindMasternodeRegister:
		if p := tx.MasternodeRegister; p != nil {
			buf = append(buf, p.OperatorPubKey...)
			buf = append(buf, p.CollateralOwner[:]...)
			buf = append(buf, []byte(p.NetworkAddress)...)
			buf = append(buf, p.DKGPubKey...)
		}
	case KindMasternodeCollateral:
		if p := tx.MasternodeCollateral; p != nil {
			buf = binary.LittleEndian.AppendUint64(buf, p.CollateralAmount)
			buf = append(buf, p.MasternodeIdentity.TxID[:]...)
			buf = binary.LittleEndian.AppendUint32(buf, p.MasternodeIdentity.Vout)
		}
	case KindMasternodeSlash:
		if p := tx.MasternodeSlash; p != nil {
			buf = append(buf, p.MasternodeID.TxID[:]...)
			buf = binary.LittleEndian.AppendUint32(buf, p.MasternodeID.Vout)
			buf = append(buf, byte(p.Reason))
			buf = append(buf, p.Proof...)
		}
	case KindGovernanceProposal:
		if p := tx.GovernanceProposal; p != nil {
			buf = append(buf, p.ProposalID[:]...)
			buf = append(buf, p.ProposerAddress[:]...)
			buf = append(buf, byte(p.ProposalType))
			buf = binary.LittleEndian.AppendUint64(buf, p.StartHeight)
			buf = binary.LittleEndian.AppendUint64(buf, p.EndHeight)
			buf = append(buf, []byte(p.Title)...)
			buf = append(buf, p.DescriptionHash[:]...)
		}
	case KindGovernanceVote:
		if p := tx.GovernanceVote; p != nil {
			buf = append(buf, p.ProposalID[:]...)
			buf = append(buf, byte(p.VoterType))
			buf = append(buf, p.VoterID[:]...)
			buf = append(buf, byte(p.Choice))
		}
	case KindActivateProposal:
		if p := tx.ActivateProposal; p != nil {
			buf = append(buf, p.ProposalID[:]...)
		}
	}
	return buf
}

// ErrInvalidFormat is returned when decoding encounters an unrecognized
// discriminant or a truncated/malformed wire payload.
var ErrInvalidFormat = fmt.Errorf("invalid transaction format")
