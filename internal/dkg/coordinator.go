package dkg

import (
	"fmt"
	"sync"

	"github.com/rusty-coin/core/pkg/types"
)

// Coordinator owns every in-flight DKG session. Per §5's concurrency
// model, session mutation is serialized per-session (Session.mu);
// the Coordinator's own lock only guards insertion/removal from the
// session map, so independent sessions never block each other.
type Coordinator struct {
	mu       sync.RWMutex
	sessions map[types.Hash]*Session
	params   Params
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(params Params) *Coordinator {
	return &Coordinator{
		sessions: make(map[types.Hash]*Session),
		params:   params,
	}
}

// StartSession registers a new session and returns it.
func (c *Coordinator) StartSession(id types.Hash, participants []Participant, height uint64) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.sessions[id]; exists {
		return nil, fmt.Errorf("dkg: session %s already exists", id)
	}
	s := NewSession(id, participants, c.params.ThresholdPercentage, height)
	c.sessions[id] = s
	return s, nil
}

// Session looks up a session by id.
func (c *Coordinator) Session(id types.Hash) (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	return s, ok
}

// Remove drops a session, e.g. once Completed/Failed and no longer
// needed for threshold signing history.
func (c *Coordinator) Remove(id types.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
}

// ExpirePhaseTimeouts fails any session that has overrun its current
// phase's block-height budget (§4.6: "guarded by per-phase
// block-height timeouts").
func (c *Coordinator) ExpirePhaseTimeouts(currentHeight uint64) {
	c.mu.RLock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.RUnlock()

	for _, s := range sessions {
		s.mu.Lock()
		deadline := s.StartHeight + c.phaseTimeout(s.Phase)
		if s.Phase != PhaseCompleted && s.Phase != PhaseFailed && currentHeight > deadline {
			s.Phase = PhaseFailed
		}
		s.mu.Unlock()
	}
}

func (c *Coordinator) phaseTimeout(p Phase) uint64 {
	switch p {
	case PhaseCommitment:
		return c.params.CommitmentTimeout
	case PhaseShareDistribution:
		return c.params.CommitmentTimeout + c.params.ShareTimeout
	case PhaseComplaint:
		return c.params.CommitmentTimeout + c.params.ShareTimeout + c.params.ComplaintTimeout
	case PhaseJustification:
		return c.params.CommitmentTimeout + c.params.ShareTimeout + c.params.ComplaintTimeout + c.params.JustifyTimeout
	default:
		return c.params.CommitmentTimeout + c.params.ShareTimeout + c.params.ComplaintTimeout + c.params.JustifyTimeout
	}
}
