package governance

import (
	"fmt"

	"github.com/rusty-coin/core/config"
	"github.com/rusty-coin/core/pkg/tx"
	"github.com/rusty-coin/core/pkg/types"
)

// Tally resolves a proposal whose voting window has just closed into
// one of three outcomes (§4.9): InsufficientParticipation when turnout
// never cleared the quorum floor regardless of how the votes split,
// Approved when turnout cleared the floor and the Yes share of
// decisive votes met the type's threshold, Rejected otherwise.
// Abstentions count toward participation but not toward the approval
// ratio.
func (r *Registry) Tally(id types.Hash, totalEligibleWeight uint64, params config.ConsensusParams) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.proposals[id]
	if !ok {
		return 0, fmt.Errorf("%w: %x", ErrProposalNotFound, id)
	}
	if p.Status != StatusVoting {
		return p.Status, nil
	}

	participating := p.YesWeight + p.NoWeight + p.AbstainWeight
	var participation float64
	if totalEligibleWeight > 0 {
		participation = float64(participating) / float64(totalEligibleWeight)
	}

	decisive := p.YesWeight + p.NoWeight
	var approval float64
	if decisive > 0 {
		approval = float64(p.YesWeight) / float64(decisive)
	}

	threshold := params.RequiredApprovalThreshold(uint8(p.Type))

	switch {
	case participation < params.MinParticipationThreshold:
		p.Status = StatusInsufficientParticipation
	case approval >= threshold:
		p.Status = StatusApproved
		p.ActivationHeight = p.EndHeight + params.ActivationDelayBlocks
	default:
		p.Status = StatusRejected
	}
	return p.Status, nil
}

// Activate finalizes an Approved proposal once its activation delay has
// elapsed, verifying the activator's signature and that ApprovalProof
// attests a rate that actually meets the proposal's approval
// threshold (§4.8: "activator signature valid ... minimum fee paid").
// It fails the proposal if the activation window has since expired
// (§4.9's "approved but never activated" edge case) and, on success,
// returns a copy so the caller can apply the proposal's concrete
// effect (parameter mutation, protocol-upgrade marking, treasury
// spend).
func (r *Registry) Activate(p *tx.ActivateProposalPayload, activatorPubKey []byte, height uint64, params config.ConsensusParams) (*Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.proposals[p.ProposalID]
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrProposalNotFound, p.ProposalID)
	}
	if entry.Status != StatusApproved {
		return nil, fmt.Errorf("%w: proposal %x is %s", ErrNotApproved, p.ProposalID, entry.Status)
	}
	if height < entry.ActivationHeight {
		return nil, fmt.Errorf("governance: activation height %d not yet reached (at %d)", entry.ActivationHeight, height)
	}
	if height > entry.ActivationHeight+params.MaxActivationWindow {
		entry.Status = StatusExpired
		return nil, fmt.Errorf("%w: proposal %x", ErrActivationWindowPassed, p.ProposalID)
	}

	threshold := params.RequiredApprovalThreshold(uint8(entry.Type))
	if !VerifyActivationSignature(p, activatorPubKey, entry.YesWeight, entry.NoWeight, threshold) {
		return nil, ErrInvalidSignature
	}

	entry.Status = StatusActivated
	cp := *entry
	return &cp, nil
}

// BurnFraction returns the fraction of a proposal's staked collateral
// that is forfeited on resolution (§4.9). Percentages are per-reason:
// a proposal voted down is treated as potentially malicious spam and
// burns in full, one that never reached quorum is apathy rather than
// malice and burns only half, and approved proposals return their
// stake in full. Stake movement itself is carried out by the
// transaction that spends the proposal's collateral UTXO (see
// DESIGN.md): this registry only records the accounting outcome the
// spend must honor.
func BurnFraction(s Status) float64 {
	switch s {
	case StatusRejected, StatusExpired:
		return 1.0
	case StatusInsufficientParticipation:
		return 0.5
	default:
		return 0.0
	}
}

// ExpireStale marks Voting proposals whose window closed without ever
// being tallied (e.g. a node that was offline across EndHeight) as
// Expired, so they do not linger indefinitely.
func (r *Registry) ExpireStale(height uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.proposals {
		if p.Status == StatusVoting && height > p.EndHeight {
			p.Status = StatusExpired
		}
	}
}
