package dkg

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/types"
)

// SigStatus tracks a threshold signing request's progress.
type SigStatus uint8

const (
	SigPending SigStatus = iota + 1
	SigCompleted
	SigTimedOut
)

// ShareContribution is one participant's raw BLS signature share over
// a signing request's message, authenticated by their Ed25519 key.
type ShareContribution struct {
	Index         int64
	Share         *crypto.BLSSignature
	AuthSignature []byte
}

// SigningRequest collects signature shares for a message under a
// completed session's group key, aggregating once threshold shares
// have arrived (§4.6).
type SigningRequest struct {
	mu sync.Mutex

	Session    *Session
	Message    []byte
	Status     SigStatus
	RequestedAt uint64

	shares    map[int64]*ShareContribution
	Signature *crypto.BLSSignature
}

var (
	// ErrSessionNotCompleted rejects a signing request against a
	// session that never reached Completed.
	ErrSessionNotCompleted = errors.New("dkg: session not completed")
	// ErrTooManyConcurrentSignatures enforces max_concurrent_signatures.
	ErrTooManyConcurrentSignatures = errors.New("dkg: too many concurrent signature requests")
	// ErrAlreadyContributed rejects a duplicate share from one index.
	ErrAlreadyContributed = errors.New("dkg: participant already contributed a share")
	// ErrInvalidShareSignature rejects a share whose auth signature
	// does not verify.
	ErrInvalidShareSignature = errors.New("dkg: invalid auth signature on signature share")
)

// NewSigningRequest creates a pending request tied to a completed
// session.
func NewSigningRequest(session *Session, message []byte, height uint64) (*SigningRequest, error) {
	if session.CurrentPhase() != PhaseCompleted {
		return nil, ErrSessionNotCompleted
	}
	return &SigningRequest{
		Session:     session,
		Message:     message,
		Status:      SigPending,
		RequestedAt: height,
		shares:      make(map[int64]*ShareContribution),
	}, nil
}

// SigningCoordinator tracks in-flight signing requests, bounding
// concurrency to max_concurrent_signatures.
type SigningCoordinator struct {
	mu       sync.Mutex
	requests map[types.Hash]*SigningRequest
	maxConcurrent uint64
}

// NewSigningCoordinator creates an empty signing coordinator.
func NewSigningCoordinator(maxConcurrent uint64) *SigningCoordinator {
	return &SigningCoordinator{
		requests:      make(map[types.Hash]*SigningRequest),
		maxConcurrent: maxConcurrent,
	}
}

// Request registers a new signing request keyed by requestID (e.g.
// BLAKE3 of session id || message).
func (sc *SigningCoordinator) Request(requestID types.Hash, session *Session, message []byte, height uint64) (*SigningRequest, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if uint64(len(sc.requests)) >= sc.maxConcurrent {
		return nil, ErrTooManyConcurrentSignatures
	}
	req, err := NewSigningRequest(session, message, height)
	if err != nil {
		return nil, err
	}
	sc.requests[requestID] = req
	return req, nil
}

// Purge removes a completed or timed-out request.
func (sc *SigningCoordinator) Purge(requestID types.Hash) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	delete(sc.requests, requestID)
}

// ExpireTimeouts marks pending requests older than signatureTimeout
// blocks as TimedOut.
func (sc *SigningCoordinator) ExpireTimeouts(currentHeight, signatureTimeout uint64) {
	sc.mu.Lock()
	reqs := make([]*SigningRequest, 0, len(sc.requests))
	for _, r := range sc.requests {
		reqs = append(reqs, r)
	}
	sc.mu.Unlock()

	for _, r := range reqs {
		r.mu.Lock()
		if r.Status == SigPending && currentHeight > r.RequestedAt+signatureTimeout {
			r.Status = SigTimedOut
		}
		r.mu.Unlock()
	}
}

// Contribute adds a participant's signature share, authenticated with
// their Ed25519 auth key, and aggregates once threshold shares have
// accumulated.
func (r *SigningRequest) Contribute(c ShareContribution, authPubKey ed25519.PublicKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Status != SigPending {
		return fmt.Errorf("dkg: signing request is %v, not pending", r.Status)
	}
	if _, exists := r.shares[c.Index]; exists {
		return fmt.Errorf("%w: %d", ErrAlreadyContributed, c.Index)
	}
	if !ed25519.Verify(authPubKey, shareSigningBytes(r.Message, c.Share), c.AuthSignature) {
		return fmt.Errorf("%w: from %d", ErrInvalidShareSignature, c.Index)
	}
	if !c.Share.Verify(r.Message, participantPublicKey(r.Session, c.Index)) {
		return fmt.Errorf("dkg: signature share from %d does not verify under its own key", c.Index)
	}

	r.shares[c.Index] = &c

	if len(r.shares) >= r.Session.Threshold {
		sig, err := aggregateShares(r.shares)
		if err != nil {
			return fmt.Errorf("dkg: aggregate shares: %w", err)
		}
		r.Signature = sig
		r.Status = SigCompleted
	}
	return nil
}

func shareSigningBytes(message []byte, share *crypto.BLSSignature) []byte {
	return append(append([]byte{}, message...), share.Bytes()...)
}

// participantPublicKey looks up the per-participant BLS public key
// derived from the session's commitments: share_i's verification key
// is the polynomial evaluated in the exponent at x=i, i.e. the same
// expression VerifyShare checks against.
func participantPublicKey(s *Session, idx int64) *crypto.BLSPublicKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	var combined *crypto.BLSPublicKey
	for _, p := range s.Participants {
		if s.ejected[p.Index] {
			continue
		}
		c, ok := s.commitments[p.Index]
		if !ok {
			continue
		}
		pk := evalCommitmentAt(c.Coefficients, idx)
		if combined == nil {
			combined = pk
		} else {
			combined = combined.Add(pk)
		}
	}
	return combined
}

func evalCommitmentAt(coefficients []*crypto.BLSPublicKey, x int64) *crypto.BLSPublicKey {
	if len(coefficients) == 0 {
		return nil
	}
	result := coefficients[0]
	xPow := big.NewInt(1)
	xb := big.NewInt(x)
	for k := 1; k < len(coefficients); k++ {
		xPow = new(big.Int).Mod(new(big.Int).Mul(xPow, xb), groupOrder)
		term, err := scaledPoint(coefficients[k], xPow)
		if err != nil {
			continue
		}
		result = result.Add(term)
	}
	return result
}

// aggregateShares combines per-participant signature shares into the
// group signature via Lagrange interpolation at x=0: each share is
// scaled by its Lagrange coefficient, then the scaled shares are
// summed (§4.6).
func aggregateShares(shares map[int64]*ShareContribution) (*crypto.BLSSignature, error) {
	xs := make([]int64, 0, len(shares))
	for idx := range shares {
		xs = append(xs, idx)
	}

	scaled := make([]*crypto.BLSSignature, 0, len(shares))
	for _, idx := range xs {
		coeff := LagrangeCoefficientBytes(xs, idx)
		scaled = append(scaled, shares[idx].Share.ScalarMultiply(coeff))
	}
	return crypto.AggregateBLSSignatures(scaled)
}
