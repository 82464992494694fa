// Package governance implements the on-chain proposal lifecycle (C10):
// submission, PoS-ticket and masternode voting, tallying against the
// configured participation/approval thresholds, and activation
// scheduling.
package governance

import (
	"fmt"

	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/tx"
	"github.com/rusty-coin/core/pkg/types"
)

// Status is a proposal's position in its lifecycle.
type Status uint8

const (
	StatusVoting Status = iota + 1
	StatusApproved
	StatusRejected
	StatusInsufficientParticipation
	StatusActivated
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusVoting:
		return "Voting"
	case StatusApproved:
		return "Approved"
	case StatusRejected:
		return "Rejected"
	case StatusInsufficientParticipation:
		return "InsufficientParticipation"
	case StatusActivated:
		return "Activated"
	case StatusExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// Proposal is a governance proposal tracked from submission through
// activation or rejection.
type Proposal struct {
	ID              types.Hash        `json:"id"`
	Proposer        types.Address     `json:"proposer"`
	Type            tx.ProposalType   `json:"type"`
	StartHeight     uint64            `json:"start_height"`
	EndHeight       uint64            `json:"end_height"`
	Title           string            `json:"title"`
	DescriptionHash types.Hash        `json:"description_hash"`
	CodeChangeHash  *types.Hash       `json:"code_change_hash,omitempty"`
	TargetParameter string            `json:"target_parameter,omitempty"`
	NewValue        uint64            `json:"new_value,omitempty"`
	StakeAmount     uint64            `json:"stake_amount"`

	Status           Status `json:"status"`
	YesWeight        uint64 `json:"yes_weight"`
	NoWeight         uint64 `json:"no_weight"`
	AbstainWeight    uint64 `json:"abstain_weight"`
	ActivationHeight uint64 `json:"activation_height,omitempty"`

	// voters records one weight entry per distinct voter_id so a
	// resubmitted vote overwrites rather than double-counts.
	voters map[types.Hash]voteRecord
}

type voteRecord struct {
	choice tx.VoteChoice
	weight uint64
}

// ErrInvalidSignature is returned when a proposal or vote signature
// does not verify under the claimed identity.
var ErrInvalidSignature = fmt.Errorf("governance: invalid signature")

// ProposalSigningBytes is the message a proposer's key signs to
// authorize a GovernanceProposal payload.
func ProposalSigningBytes(p *tx.GovernanceProposalPayload) []byte {
	var buf []byte
	buf = append(buf, p.ProposalID[:]...)
	buf = append(buf, p.ProposerAddress[:]...)
	buf = append(buf, byte(p.ProposalType))
	buf = append(buf, p.DescriptionHash[:]...)
	buf = append(buf, []byte(p.Title)...)
	return buf
}

// VerifyProposalSignature checks the proposer's signature and that the
// signing key actually hashes to the claimed proposer address.
func VerifyProposalSignature(p *tx.GovernanceProposalPayload, proposerPubKey []byte) bool {
	if crypto.AddressFromPubKey(proposerPubKey) != p.ProposerAddress {
		return false
	}
	return crypto.VerifySignature(ProposalSigningBytes(p), p.ProposerSignature, proposerPubKey)
}

// VoteSigningBytes is the message a voter's key signs to cast a
// GovernanceVote.
func VoteSigningBytes(v *tx.GovernanceVotePayload) []byte {
	var buf []byte
	buf = append(buf, v.ProposalID[:]...)
	buf = append(buf, byte(v.VoterType))
	buf = append(buf, v.VoterID[:]...)
	buf = append(buf, byte(v.Choice))
	return buf
}

// VerifyVoteSignature checks a cast vote's signature under the voter's
// public key (a ticket's staker key for VoterPoSTicket, a masternode's
// operator key for VoterMasternode — the caller resolves which).
func VerifyVoteSignature(v *tx.GovernanceVotePayload, voterPubKey []byte) bool {
	return crypto.VerifySignature(VoteSigningBytes(v), v.Signature, voterPubKey)
}

// ActivationSigningBytes is the message an activator signs to finalize
// an Approved proposal.
func ActivationSigningBytes(p *tx.ActivateProposalPayload) []byte {
	var buf []byte
	buf = append(buf, p.ProposalID[:]...)
	buf = append(buf, p.ApprovalProof...)
	return buf
}

// VerifyActivationSignature checks that the activator's signature over
// ActivationSigningBytes verifies under activatorPubKey, and that
// ApprovalProof itself attests an approval rate meeting the proposal's
// required threshold. ApprovalProof is the big-endian fixed-point
// encoding (scaled by 1e6) of an approval ratio. Both the claimed ratio
// and the ratio re-derived from yesWeight/noWeight must reach
// threshold; the claimed ratio is not compared with the re-derived one.
func VerifyActivationSignature(p *tx.ActivateProposalPayload, activatorPubKey []byte, yesWeight, noWeight uint64, threshold float64) bool {
	if !crypto.VerifySignature(ActivationSigningBytes(p), p.ActivatorSignature, activatorPubKey) {
		return false
	}
	claimed, ok := decodeApprovalProof(p.ApprovalProof)
	if !ok {
		return false
	}
	decisive := yesWeight + noWeight
	var actual float64
	if decisive > 0 {
		actual = float64(yesWeight) / float64(decisive)
	}
	const epsilon = 1e-9
	return claimed+epsilon >= threshold && actual+epsilon >= threshold
}

// EncodeApprovalProof packs an approval ratio into the fixed-point
// format ApprovalProof carries on the wire.
func EncodeApprovalProof(approvalRatio float64) []byte {
	scaled := uint32(approvalRatio * 1_000_000)
	return []byte{byte(scaled >> 24), byte(scaled >> 16), byte(scaled >> 8), byte(scaled)}
}

func decodeApprovalProof(proof []byte) (float64, bool) {
	if len(proof) != 4 {
		return 0, false
	}
	scaled := uint32(proof[0])<<24 | uint32(proof[1])<<16 | uint32(proof[2])<<8 | uint32(proof[3])
	return float64(scaled) / 1_000_000, true
}
