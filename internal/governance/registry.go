package governance

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rusty-coin/core/config"
	"github.com/rusty-coin/core/internal/storage"
	"github.com/rusty-coin/core/pkg/tx"
	"github.com/rusty-coin/core/pkg/types"
)

var (
	ErrProposalExists     = errors.New("governance: proposal already exists")
	ErrProposalNotFound   = errors.New("governance: proposal not found")
	ErrVotingClosed       = errors.New("governance: voting window closed")
	ErrInvalidVotingWindow = errors.New("governance: voting window out of configured bounds")
	ErrDuplicateVote      = errors.New("governance: voter already voted with the same weight entry")
	ErrNotApproved        = errors.New("governance: proposal is not approved")
	ErrActivationWindowPassed = errors.New("governance: activation window has passed")
	ErrMissingRequiredField  = errors.New("governance: proposal missing a field required for its type")
	ErrInsufficientCollateral = errors.New("governance: staked collateral below required amount")
	ErrConflictingProposal   = errors.New("governance: conflicts with another active proposal")
)

var prefixProposal = []byte("g/") // g/<id(32)> -> proposal JSON (vote tallies included; per-voter records are not persisted)

func proposalKey(id types.Hash) []byte {
	key := make([]byte, len(prefixProposal)+types.HashSize)
	copy(key, prefixProposal)
	copy(key[len(prefixProposal):], id[:])
	return key
}

// Registry is the DB-backed, mutex-guarded set of governance
// proposals, mirroring the masternode and ticket registries' shape.
type Registry struct {
	mu        sync.RWMutex
	proposals map[types.Hash]*Proposal
}

// NewRegistry creates an empty proposal registry.
func NewRegistry() *Registry {
	return &Registry{proposals: make(map[types.Hash]*Proposal)}
}

// LoadRegistry reconstructs a Registry from persisted storage. Vote
// tallies are part of the persisted snapshot; individual voter
// records are not retained across restarts, matching the masternode
// and ticket registries' flat-entry persistence style (a restart
// trusts the last on-disk tally rather than replaying every vote tx).
func LoadRegistry(db storage.DB) (*Registry, error) {
	r := NewRegistry()
	err := db.ForEach(prefixProposal, func(_, value []byte) error {
		var p Proposal
		if err := json.Unmarshal(value, &p); err != nil {
			return fmt.Errorf("unmarshal proposal: %w", err)
		}
		p.voters = make(map[types.Hash]voteRecord)
		r.proposals[p.ID] = &p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load governance registry: %w", err)
	}
	return r, nil
}

// Submit admits a new proposal, verifying its signature, its
// type-specific required fields, that stakedAmount (the value actually
// locked by the submitting transaction) meets the configured
// collateral, voting window bounds against params, and that it does
// not conflict with another proposal already open over the same
// target (§4.8's admission checklist).
func (r *Registry) Submit(p *tx.GovernanceProposalPayload, proposerPubKey []byte, stakedAmount, height uint64, params config.ConsensusParams) (*Proposal, error) {
	if !VerifyProposalSignature(p, proposerPubKey) {
		return nil, ErrInvalidSignature
	}
	if err := ValidateRequiredFields(p); err != nil {
		return nil, err
	}
	if stakedAmount < params.ProposalStakeAmount {
		return nil, fmt.Errorf("%w: staked %d, required %d", ErrInsufficientCollateral, stakedAmount, params.ProposalStakeAmount)
	}
	if p.StartHeight < height {
		return nil, fmt.Errorf("%w: start height %d before current height %d", ErrInvalidVotingWindow, p.StartHeight, height)
	}
	if p.EndHeight <= p.StartHeight {
		return nil, fmt.Errorf("%w: end height must exceed start height", ErrInvalidVotingWindow)
	}
	window := p.EndHeight - p.StartHeight
	if window < params.MinVotingPeriodBlocks || window > params.MaxVotingPeriodBlocks {
		return nil, fmt.Errorf("%w: window %d blocks outside [%d, %d]", ErrInvalidVotingWindow, window, params.MinVotingPeriodBlocks, params.MaxVotingPeriodBlocks)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.proposals[p.ProposalID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrProposalExists, p.ProposalID)
	}
	if err := r.checkConflictsLocked(p); err != nil {
		return nil, err
	}

	entry := &Proposal{
		ID:              p.ProposalID,
		Proposer:        p.ProposerAddress,
		Type:            p.ProposalType,
		StartHeight:     p.StartHeight,
		EndHeight:       p.EndHeight,
		Title:           p.Title,
		DescriptionHash: p.DescriptionHash,
		CodeChangeHash:  p.CodeChangeHash,
		TargetParameter: p.TargetParameter,
		NewValue:        p.NewValue,
		StakeAmount:     stakedAmount,
		Status:          StatusVoting,
		voters:          make(map[types.Hash]voteRecord),
	}
	r.proposals[p.ProposalID] = entry
	return entry, nil
}

// ValidateRequiredFields checks that a proposal carries the fields its
// type demands: a ParameterChange names the parameter it changes, a
// ProtocolUpgrade names the code it upgrades to.
func ValidateRequiredFields(p *tx.GovernanceProposalPayload) error {
	switch p.ProposalType {
	case tx.ProposalParameterChange:
		if p.TargetParameter == "" {
			return fmt.Errorf("%w: parameter change requires target_parameter", ErrMissingRequiredField)
		}
	case tx.ProposalProtocolUpgrade:
		if p.CodeChangeHash == nil {
			return fmt.Errorf("%w: protocol upgrade requires code_change_hash", ErrMissingRequiredField)
		}
	}
	return nil
}

// CheckConflicts reports whether p would conflict with an already-open
// proposal targeting the same parameter or, for protocol upgrades, any
// other open upgrade proposal with an overlapping voting window.
func (r *Registry) CheckConflicts(p *tx.GovernanceProposalPayload) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkConflictsLocked(p)
}

func (r *Registry) checkConflictsLocked(p *tx.GovernanceProposalPayload) error {
	for _, existing := range r.proposals {
		if existing.Status != StatusVoting {
			continue
		}
		if existing.StartHeight >= p.EndHeight || p.StartHeight >= existing.EndHeight {
			continue // voting windows don't overlap
		}
		switch p.ProposalType {
		case tx.ProposalParameterChange:
			if existing.Type == tx.ProposalParameterChange && existing.TargetParameter == p.TargetParameter {
				return fmt.Errorf("%w: parameter %q already has an open proposal %s", ErrConflictingProposal, p.TargetParameter, existing.ID)
			}
		case tx.ProposalProtocolUpgrade:
			if existing.Type == tx.ProposalProtocolUpgrade {
				return fmt.Errorf("%w: protocol upgrade %s already open over this window", ErrConflictingProposal, existing.ID)
			}
		}
	}
	return nil
}

// Get returns a copy of the proposal for id.
func (r *Registry) Get(id types.Hash) (*Proposal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.proposals[id]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// CastVote applies a vote's weight to the proposal's running tally.
// voterID re-votes replace the voter's previous weight rather than
// accumulating it, so a voter cannot inflate its influence by voting
// twice. height must fall within [StartHeight, EndHeight).
func (r *Registry) CastVote(v *tx.GovernanceVotePayload, voterPubKey []byte, weight, height uint64) error {
	if !VerifyVoteSignature(v, voterPubKey) {
		return ErrInvalidSignature
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proposals[v.ProposalID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProposalNotFound, v.ProposalID)
	}
	if p.Status != StatusVoting || height < p.StartHeight || height >= p.EndHeight {
		return fmt.Errorf("%w: proposal %s at height %d", ErrVotingClosed, v.ProposalID, height)
	}

	if prev, voted := p.voters[v.VoterID]; voted {
		subtractWeight(p, prev.choice, prev.weight)
	}
	p.voters[v.VoterID] = voteRecord{choice: v.Choice, weight: weight}
	addWeight(p, v.Choice, weight)
	return nil
}

func addWeight(p *Proposal, choice tx.VoteChoice, weight uint64) {
	switch choice {
	case tx.VoteYes:
		p.YesWeight += weight
	case tx.VoteNo:
		p.NoWeight += weight
	case tx.VoteAbstain:
		p.AbstainWeight += weight
	}
}

func subtractWeight(p *Proposal, choice tx.VoteChoice, weight uint64) {
	switch choice {
	case tx.VoteYes:
		p.YesWeight -= weight
	case tx.VoteNo:
		p.NoWeight -= weight
	case tx.VoteAbstain:
		p.AbstainWeight -= weight
	}
}

// All returns a copy of every proposal the registry tracks regardless
// of status, for callers that need a full point-in-time capture (e.g.
// a state snapshot) rather than only open or closing proposals.
func (r *Registry) All() []*Proposal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Proposal, 0, len(r.proposals))
	for _, p := range r.proposals {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// Remove deletes a proposal entry, e.g. once fully resolved and its
// stake disbursed.
func (r *Registry) Remove(id types.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.proposals, id)
}

// OpenAt returns every proposal whose voting window is active at height.
func (r *Registry) OpenAt(height uint64) []*Proposal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Proposal
	for _, p := range r.proposals {
		if p.Status == StatusVoting && height >= p.StartHeight && height < p.EndHeight {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// EndingAt returns every Voting proposal whose window closes exactly
// at height, the set Tally should be called on.
func (r *Registry) EndingAt(height uint64) []*Proposal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Proposal
	for _, p := range r.proposals {
		if p.Status == StatusVoting && p.EndHeight == height {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// SaveTo persists every tracked proposal to db.
func (r *Registry) SaveTo(db storage.DB) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.proposals {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal proposal %s: %w", p.ID, err)
		}
		if err := db.Put(proposalKey(p.ID), data); err != nil {
			return fmt.Errorf("save proposal %s: %w", p.ID, err)
		}
	}
	return nil
}

// DeleteFrom removes a single proposal entry from db.
func DeleteFrom(db storage.DB, id types.Hash) error {
	return db.Delete(proposalKey(id))
}

// SaveRows persists a slice of proposals with the same on-disk layout
// SaveTo uses, for a caller restoring a registry from an external
// capture (e.g. a fast-sync snapshot) rather than from a live Registry.
func SaveRows(db storage.DB, proposals []*Proposal) error {
	for _, p := range proposals {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal proposal %s: %w", p.ID, err)
		}
		if err := db.Put(proposalKey(p.ID), data); err != nil {
			return fmt.Errorf("save proposal %s: %w", p.ID, err)
		}
	}
	return nil
}
