// Package dkg implements the masternode quorum's distributed key
// generation coordinator (C8): Pedersen/Feldman verifiable secret
// sharing over BLS12-381, and threshold signing once a session
// completes.
package dkg

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/types"
)

// Phase is a DKG session's position in its lifecycle (§4.6).
type Phase uint8

const (
	PhaseWaitingForParticipants Phase = iota + 1
	PhaseCommitment
	PhaseShareDistribution
	PhaseComplaint
	PhaseJustification
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseWaitingForParticipants:
		return "WaitingForParticipants"
	case PhaseCommitment:
		return "CommitmentPhase"
	case PhaseShareDistribution:
		return "ShareDistribution"
	case PhaseComplaint:
		return "ComplaintPhase"
	case PhaseJustification:
		return "JustificationPhase"
	case PhaseCompleted:
		return "Completed"
	case PhaseFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Params is the subset of ConsensusParams the coordinator needs.
// Threaded explicitly rather than importing config, to keep dkg
// import-cycle free of the consensus parameter struct's other
// concerns.
type Params struct {
	ThresholdPercentage uint64
	CommitmentTimeout   uint64
	ShareTimeout        uint64
	ComplaintTimeout    uint64
	JustifyTimeout      uint64
	SignatureTimeout    uint64
	MaxConcurrentSigs   uint64
}

// Threshold returns ceil(n * pct / 100), minimum 1 (§4.6).
func Threshold(n int, pct uint64) int {
	t := int(math.Ceil(float64(n) * float64(pct) / 100.0))
	if t < 1 {
		t = 1
	}
	return t
}

// Participant is a session member identified by its masternode ID and
// Ed25519 authentication key.
type Participant struct {
	Index      int64
	Masternode types.OutPoint
	AuthPubKey ed25519.PublicKey
}

// Commitment is the broadcast DKGCommitment message (§4.6 phase 2).
type Commitment struct {
	Index          int64
	Coefficients   []*crypto.BLSPublicKey
	AuthSignature  []byte
}

// SecretShare is the DKGSecretShare message (§4.6 phase 3). In this
// in-process model EncryptedShare carries the share ciphertext; actual
// transport-level encryption is a concern of the networking layer.
type SecretShare struct {
	From, To       int64
	EncryptedShare []byte
	AuthSignature  []byte
}

// Complaint is a DKGComplaint message (§4.6 phase 4).
type Complaint struct {
	Complainant, Accused int64
	Evidence             []byte
	Signature            []byte
}

// Session tracks one DKG run among a fixed participant set.
type Session struct {
	mu sync.Mutex

	ID           types.Hash
	Participants []Participant
	Threshold    int
	StartHeight  uint64
	Phase        Phase

	commitments map[int64]*Commitment
	shares      map[[2]int64]*SecretShare
	complaints  []Complaint
	ejected     map[int64]bool

	// GroupPublicKey is set once the session reaches Completed.
	GroupPublicKey *crypto.BLSPublicKey
}

var (
	// ErrWrongPhase is returned when a message arrives for a phase the
	// session is not currently in.
	ErrWrongPhase = errors.New("dkg: message does not belong to current phase")
	// ErrDuplicateCommitment rejects a second commitment from the same
	// participant index (§4.6 phase 2).
	ErrDuplicateCommitment = errors.New("dkg: duplicate commitment from participant")
	// ErrUnknownParticipant is returned for messages from an index not
	// in the session's participant set.
	ErrUnknownParticipant = errors.New("dkg: unknown participant index")
	// ErrInsufficientParticipants is returned if too many are ejected
	// for the session to reach threshold (§4.6 phase 5).
	ErrInsufficientParticipants = errors.New("dkg: fewer than threshold participants remain")
)

// NewSession creates a session awaiting all participants to join.
func NewSession(id types.Hash, participants []Participant, thresholdPct uint64, startHeight uint64) *Session {
	return &Session{
		ID:           id,
		Participants: participants,
		Threshold:    Threshold(len(participants), thresholdPct),
		StartHeight:  startHeight,
		Phase:        PhaseWaitingForParticipants,
		commitments:  make(map[int64]*Commitment),
		shares:       make(map[[2]int64]*SecretShare),
		ejected:      make(map[int64]bool),
	}
}

func (s *Session) indexKnown(idx int64) bool {
	for _, p := range s.Participants {
		if p.Index == idx {
			return true
		}
	}
	return false
}

func (s *Session) participant(idx int64) (Participant, bool) {
	for _, p := range s.Participants {
		if p.Index == idx {
			return p, true
		}
	}
	return Participant{}, false
}

// Begin transitions WaitingForParticipants -> CommitmentPhase once
// every participant slot is filled. Called once the registry confirms
// all selected masternodes acknowledged the session.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Phase != PhaseWaitingForParticipants {
		return fmt.Errorf("%w: session in %s", ErrWrongPhase, s.Phase)
	}
	s.Phase = PhaseCommitment
	return nil
}

// SubmitCommitment records a participant's polynomial commitment.
func (s *Session) SubmitCommitment(c *Commitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Phase != PhaseCommitment {
		return fmt.Errorf("%w: session in %s", ErrWrongPhase, s.Phase)
	}
	p, ok := s.participant(c.Index)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownParticipant, c.Index)
	}
	if _, exists := s.commitments[c.Index]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateCommitment, c.Index)
	}
	if !ed25519.Verify(p.AuthPubKey, commitmentSigningBytes(c), c.AuthSignature) {
		return fmt.Errorf("dkg: invalid auth signature on commitment from %d", c.Index)
	}
	s.commitments[c.Index] = c
	if len(s.commitments) == len(s.Participants) {
		s.Phase = PhaseShareDistribution
	}
	return nil
}

func commitmentSigningBytes(c *Commitment) []byte {
	var buf []byte
	for _, pk := range c.Coefficients {
		buf = append(buf, pk.Bytes()...)
	}
	return buf
}

// SubmitShare records a secret share sent from one participant to
// another.
func (s *Session) SubmitShare(sh *SecretShare) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Phase != PhaseShareDistribution {
		return fmt.Errorf("%w: session in %s", ErrWrongPhase, s.Phase)
	}
	if !s.indexKnown(sh.From) || !s.indexKnown(sh.To) {
		return fmt.Errorf("%w: %d -> %d", ErrUnknownParticipant, sh.From, sh.To)
	}
	s.shares[[2]int64{sh.From, sh.To}] = sh
	expected := len(s.Participants) * len(s.Participants)
	if len(s.shares) == expected {
		s.Phase = PhaseComplaint
	}
	return nil
}

// FileComplaint records a complaint against an accused participant
// whose share failed verification against their commitments.
func (s *Session) FileComplaint(c Complaint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Phase != PhaseComplaint {
		return fmt.Errorf("%w: session in %s", ErrWrongPhase, s.Phase)
	}
	p, ok := s.participant(c.Complainant)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownParticipant, c.Complainant)
	}
	if !ed25519.Verify(p.AuthPubKey, complaintSigningBytes(c), c.Signature) {
		return fmt.Errorf("dkg: invalid auth signature on complaint from %d", c.Complainant)
	}
	s.complaints = append(s.complaints, c)
	return nil
}

func complaintSigningBytes(c Complaint) []byte {
	buf := make([]byte, 0, 16+len(c.Evidence))
	buf = appendInt64(buf, c.Complainant)
	buf = appendInt64(buf, c.Accused)
	buf = append(buf, c.Evidence...)
	return buf
}

func appendInt64(buf []byte, v int64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}

// AdvanceToJustification moves ComplaintPhase -> JustificationPhase
// once the complaint window closes (block-height gated by the
// coordinator).
func (s *Session) AdvanceToJustification() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Phase != PhaseComplaint {
		return fmt.Errorf("%w: session in %s", ErrWrongPhase, s.Phase)
	}
	if len(s.complaints) == 0 {
		return s.finishLocked()
	}
	s.Phase = PhaseJustification
	return nil
}

// Justify resolves a complaint: if the accused's cleartext share,
// checked against their own commitments, is valid, the complaint is
// dismissed; otherwise the accused is ejected (§4.6 phase 5).
func (s *Session) Justify(accused int64, clearShare []byte, forIndex int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Phase != PhaseJustification {
		return fmt.Errorf("%w: session in %s", ErrWrongPhase, s.Phase)
	}
	commitment, ok := s.commitments[accused]
	if !ok {
		s.ejected[accused] = true
		return s.checkQuorumLocked()
	}
	shareVal := bytesToScalar(clearShare)
	if err := VerifyShare(shareVal, forIndex, commitment.Coefficients); err != nil {
		s.ejected[accused] = true
	}
	return s.checkQuorumLocked()
}

func (s *Session) checkQuorumLocked() error {
	remaining := 0
	for _, p := range s.Participants {
		if !s.ejected[p.Index] {
			remaining++
		}
	}
	if remaining < s.Threshold {
		s.Phase = PhaseFailed
		return fmt.Errorf("%w: %d remain, need %d", ErrInsufficientParticipants, remaining, s.Threshold)
	}
	return s.finishLocked()
}

// finishLocked derives the group public key as the sum of every
// surviving participant's constant-term commitment and marks the
// session Completed. Caller holds s.mu.
func (s *Session) finishLocked() error {
	var groupKey *crypto.BLSPublicKey
	for _, p := range s.Participants {
		if s.ejected[p.Index] {
			continue
		}
		c, ok := s.commitments[p.Index]
		if !ok || len(c.Coefficients) == 0 {
			continue
		}
		if groupKey == nil {
			groupKey = c.Coefficients[0]
		} else {
			groupKey = groupKey.Add(c.Coefficients[0])
		}
	}
	if groupKey == nil {
		s.Phase = PhaseFailed
		return fmt.Errorf("dkg: no surviving commitments to derive group key")
	}
	s.GroupPublicKey = groupKey
	s.Phase = PhaseCompleted
	return nil
}

// SurvivingIndices returns the participant indices that were not
// ejected during justification, in ascending order.
func (s *Session) SurvivingIndices() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for _, p := range s.Participants {
		if !s.ejected[p.Index] {
			out = append(out, p.Index)
		}
	}
	return out
}

// CurrentPhase returns the session's current phase.
func (s *Session) CurrentPhase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Phase
}
