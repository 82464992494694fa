package sidechain

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/rusty-coin/core/config"
	"github.com/rusty-coin/core/internal/masternode"
	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/tx"
	"github.com/rusty-coin/core/pkg/types"
)

// ChallengeStatus is a fraud challenge's position in its lifecycle:
// Open -> UnderVerification -> Proven | Disproven, with TimedOut
// reachable from either of the first two if FraudVerificationTimeout
// elapses first (§4.11).
type ChallengeStatus uint8

const (
	ChallengeStatusOpen ChallengeStatus = iota + 1
	ChallengeStatusUnderVerification
	ChallengeStatusProven
	ChallengeStatusDisproven
	ChallengeStatusTimedOut
)

func (s ChallengeStatus) String() string {
	switch s {
	case ChallengeStatusOpen:
		return "Open"
	case ChallengeStatusUnderVerification:
		return "UnderVerification"
	case ChallengeStatusProven:
		return "Proven"
	case ChallengeStatusDisproven:
		return "Disproven"
	case ChallengeStatusTimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

// FraudType enumerates the kinds of misbehavior a challenge can
// accuse a federation signer of (§4.11); each has its own evidence
// shape and verification rule.
type FraudType uint8

const (
	// FraudInvalidStateTransition accuses a federation signer of
	// attesting to a post-state that does not follow from the claimed
	// pre-state and operation.
	FraudInvalidStateTransition FraudType = iota + 1
	// FraudDoubleSigning accuses a signer of signing two conflicting
	// releases for the same peg.
	FraudDoubleSigning
	// FraudWithheldData accuses a signer of releasing a peg without the
	// inclusion proof its own attestation claims to have checked.
	FraudWithheldData
)

func (f FraudType) String() string {
	switch f {
	case FraudInvalidStateTransition:
		return "InvalidStateTransition"
	case FraudDoubleSigning:
		return "DoubleSigning"
	case FraudWithheldData:
		return "WithheldData"
	default:
		return "Unknown"
	}
}

// Evidence is the structured proof a challenge is opened or rebutted
// with (§4.11): what the state was before and after the disputed
// operation, the operation itself, and supporting witness material.
type Evidence struct {
	PreState            []byte   `json:"pre_state,omitempty"`
	PostState           []byte   `json:"post_state,omitempty"`
	FraudulentOperation []byte   `json:"fraudulent_operation,omitempty"`
	WitnessData         [][]byte `json:"witness_data,omitempty"`
	AdditionalEvidence  [][]byte `json:"additional_evidence,omitempty"`
}

// Challenge is a bonded dispute over a peg's validity: the challenger
// posts MinChallengeBond and accuses Respondent of FraudType,
// substantiated by Evidence, before FraudVerificationTimeout elapses.
type Challenge struct {
	ID           types.Hash      `json:"id"`
	PegID        types.Hash      `json:"peg_id"`
	Challenger   types.Address   `json:"challenger"`
	Respondent   masternode.ID   `json:"respondent"`
	Bond         uint64          `json:"bond"`
	FraudType    FraudType       `json:"fraud_type"`
	Claim        string          `json:"claim"`
	Evidence     Evidence        `json:"evidence"`
	OpenedHeight uint64          `json:"opened_height"`
	Status       ChallengeStatus `json:"status"`
}

var (
	ErrChallengeExists   = errors.New("sidechain: challenge already open for this peg")
	ErrChallengeNotFound = errors.New("sidechain: challenge not found")
	ErrBondTooLow        = errors.New("sidechain: challenge bond below configured minimum")
	ErrChallengeClosed   = errors.New("sidechain: challenge already resolved")
	ErrNotUnderVerification = errors.New("sidechain: challenge is not awaiting verification")
	ErrUnknownFraudType  = errors.New("sidechain: unrecognized fraud type")
)

// ChallengeRegistry tracks open and resolved fraud challenges,
// separate from Registry so a peg lookup never has to scan challenge
// history.
type ChallengeRegistry struct {
	mu         sync.Mutex
	challenges map[types.Hash]*Challenge
}

// NewChallengeRegistry creates an empty challenge registry.
func NewChallengeRegistry() *ChallengeRegistry {
	return &ChallengeRegistry{challenges: make(map[types.Hash]*Challenge)}
}

// Open admits a new fraud challenge against a peg, rejecting an
// under-bonded challenge outright and refusing a second simultaneous
// challenge on the same peg.
func (cr *ChallengeRegistry) Open(c *Challenge, params config.ConsensusParams) error {
	if c.Bond < params.MinChallengeBond {
		return fmt.Errorf("%w: %d < %d", ErrBondTooLow, c.Bond, params.MinChallengeBond)
	}
	cr.mu.Lock()
	defer cr.mu.Unlock()
	for _, existing := range cr.challenges {
		if existing.PegID == c.PegID && existing.Status == ChallengeStatusOpen {
			return fmt.Errorf("%w: peg %s", ErrChallengeExists, c.PegID)
		}
	}
	cp := *c
	cp.Status = ChallengeStatusOpen
	cr.challenges[c.ID] = &cp
	return nil
}

// SubmitEvidence appends rebuttal witness material to an open
// challenge's evidence bundle.
func (cr *ChallengeRegistry) SubmitEvidence(id types.Hash, witness []byte) error {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	c, ok := cr.challenges[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChallengeNotFound, id)
	}
	if c.Status != ChallengeStatusOpen {
		return fmt.Errorf("%w: %s is %s", ErrChallengeClosed, id, c.Status)
	}
	c.Evidence.AdditionalEvidence = append(c.Evidence.AdditionalEvidence, witness)
	return nil
}

// Verify moves an Open challenge to UnderVerification and evaluates
// its evidence against its claimed FraudType, resolving it to Proven
// or Disproven. On Proven it slashes Respondent's masternode
// collateral in reg (§4.11: "collateral slash / suspension / ban /
// fine" — a proven federation fraud is treated as the most severe
// case and draws the same full slash a DoubleSigning masternode proof
// does).
func (cr *ChallengeRegistry) Verify(id types.Hash, reg *masternode.Registry) (*Challenge, error) {
	cr.mu.Lock()
	c, ok := cr.challenges[id]
	if !ok {
		cr.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrChallengeNotFound, id)
	}
	if c.Status != ChallengeStatusOpen {
		cr.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrChallengeClosed, id, c.Status)
	}
	c.Status = ChallengeStatusUnderVerification
	evidence := c.Evidence
	fraudType := c.FraudType
	respondent := c.Respondent
	cr.mu.Unlock()

	proven, err := verifyByType(fraudType, evidence)
	if err != nil {
		return nil, fmt.Errorf("verify fraud type %s: %w", fraudType, err)
	}

	cr.mu.Lock()
	defer cr.mu.Unlock()
	c, ok = cr.challenges[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChallengeNotFound, id)
	}
	if c.Status != ChallengeStatusUnderVerification {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotUnderVerification, id, c.Status)
	}

	if proven {
		c.Status = ChallengeStatusProven
		if reg != nil {
			if err := reg.ApplySlash(&tx.MasternodeSlashPayload{MasternodeID: respondent, Reason: slashReasonFor(fraudType)}); err != nil {
				return nil, fmt.Errorf("apply fraud slash: %w", err)
			}
		}
	} else {
		c.Status = ChallengeStatusDisproven
	}

	cp := *c
	return &cp, nil
}

// verifyByType runs the type-specific verification rule a fraud
// challenge's FraudType prescribes. These rules are deliberately
// self-contained: they re-derive an expected value from the evidence
// already bundled with the challenge rather than reaching back into
// chain state, so verification is a pure function of what the
// challenger and rebutting witnesses submitted.
func verifyByType(ft FraudType, ev Evidence) (bool, error) {
	switch ft {
	case FraudInvalidStateTransition:
		return verifyInvalidStateTransition(ev), nil
	case FraudDoubleSigning:
		return verifyDoubleSigning(ev), nil
	case FraudWithheldData:
		return verifyWithheldData(ev), nil
	default:
		return false, fmt.Errorf("%w: %d", ErrUnknownFraudType, ft)
	}
}

// verifyInvalidStateTransition proves fraud when the claimed
// post-state does not match the hash of pre-state plus operation that
// an honest signer would have produced.
func verifyInvalidStateTransition(ev Evidence) bool {
	if len(ev.PreState) == 0 || len(ev.PostState) == 0 || len(ev.FraudulentOperation) == 0 {
		return false
	}
	expected := crypto.Hash(append(append([]byte{}, ev.PreState...), ev.FraudulentOperation...))
	return !bytes.Equal(expected[:], ev.PostState)
}

// verifyDoubleSigning proves fraud when the witness data bundles two
// distinct payloads signed by the same key, i.e. a genuine
// equivocation: WitnessData[0:2] are the payloads, [2:4] the matching
// signatures, [4] the shared public key.
func verifyDoubleSigning(ev Evidence) bool {
	if len(ev.WitnessData) != 5 {
		return false
	}
	payloadA, payloadB := ev.WitnessData[0], ev.WitnessData[1]
	sigA, sigB := ev.WitnessData[2], ev.WitnessData[3]
	pubKey := ev.WitnessData[4]
	if bytes.Equal(payloadA, payloadB) {
		return false
	}
	return crypto.VerifySignature(payloadA, sigA, pubKey) && crypto.VerifySignature(payloadB, sigB, pubKey)
}

// verifyWithheldData proves fraud when a release's fraudulent
// operation (the claimed inclusion proof) does not hash to the
// reference commitment (the peg's recorded proof root) carried as the
// first additional-evidence entry.
func verifyWithheldData(ev Evidence) bool {
	if len(ev.FraudulentOperation) == 0 || len(ev.AdditionalEvidence) == 0 {
		return false
	}
	claimedRoot := ev.AdditionalEvidence[0]
	actual := crypto.Hash(ev.FraudulentOperation)
	return !bytes.Equal(actual[:], claimedRoot)
}

func slashReasonFor(ft FraudType) tx.SlashReason {
	switch ft {
	case FraudDoubleSigning:
		return tx.SlashDoubleSigning
	default:
		return tx.SlashInvalidTransaction
	}
}

// ExpireStale closes any Open or UnderVerification challenge whose
// verification window has elapsed without resolution as TimedOut.
func (cr *ChallengeRegistry) ExpireStale(height uint64, timeout uint64) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	for _, c := range cr.challenges {
		if (c.Status == ChallengeStatusOpen || c.Status == ChallengeStatusUnderVerification) && height > c.OpenedHeight+timeout {
			c.Status = ChallengeStatusTimedOut
		}
	}
}

// Get returns a copy of the challenge for id.
func (cr *ChallengeRegistry) Get(id types.Hash) (*Challenge, bool) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	c, ok := cr.challenges[id]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}
