// Package quorum implements masternode quorum formation (C9): the
// composite eligibility score and the deterministic, ChaCha8-seeded
// weighted-without-replacement selection shared by every masternode
// quorum type (OxideSend mixing, FerrousShield custody, governance
// oversight, PoSe challengers, and DKG sessions).
package quorum

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/types"
)

// Type enumerates the masternode quorum purposes (§4.7).
type Type uint8

const (
	TypeOxideSend Type = iota + 1
	TypeFerrousShield
	TypeGovernance
	TypePoSeChallenger
	TypeDKGParticipant
)

func (t Type) String() string {
	switch t {
	case TypeOxideSend:
		return "OxideSend"
	case TypeFerrousShield:
		return "FerrousShield"
	case TypeGovernance:
		return "Governance"
	case TypePoSeChallenger:
		return "PoSeChallenger"
	case TypeDKGParticipant:
		return "DKGParticipant"
	default:
		return "Unknown"
	}
}

// ErrInsufficientCandidates is returned when fewer than size distinct
// masternodes are available to draw from.
var ErrInsufficientCandidates = errors.New("quorum: insufficient candidates")

// Candidate is the minimal masternode view the selection algorithm
// needs, decoupled from the masternode package's Entry type so this
// package stays a leaf dependency.
type Candidate struct {
	ID              types.OutPoint
	Uptime          float64
	DKGSuccessRate  float64
	LastActiveAge   uint64 // blocks since last participation in any quorum
	MaxActiveAge    uint64 // normalizer for the freshness term
	Reputation      float64 // in [0, 1]
}

// Score computes the composite eligibility score (§4.7):
// 0.4*uptime + 0.3*dkg_success + 0.2*participation_freshness + 0.1*reputation.
func Score(c Candidate) float64 {
	freshness := 1.0
	if c.MaxActiveAge > 0 {
		freshness = 1.0 - float64(c.LastActiveAge)/float64(c.MaxActiveAge)
		if freshness < 0 {
			freshness = 0
		}
	}
	return 0.4*c.Uptime + 0.3*c.DKGSuccessRate + 0.2*freshness + 0.1*c.Reputation
}

// Seed derives the deterministic ChaCha8 seed for a quorum selection
// at height for a given quorum type, per §4.7:
// BLAKE3(height_le || block_hash || quorum_type_name || "QUORUM_SELECTION_SEED").
func Seed(height uint64, blockHash types.Hash, qt Type) types.Hash {
	var buf []byte
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(height>>(8*i)))
	}
	buf = append(buf, blockHash[:]...)
	buf = append(buf, []byte(qt.String())...)
	buf = append(buf, []byte("QUORUM_SELECTION_SEED")...)
	return crypto.Hash(buf)
}

// Select deterministically draws size candidates from minScore-filtered
// eligible candidates, weighted by Score and without replacement,
// seeded by seed so every honest node reproduces the same quorum.
func Select(candidates []Candidate, size int, minScore float64, seed types.Hash) ([]Candidate, error) {
	pool := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if Score(c) >= minScore {
			pool = append(pool, c)
		}
	}
	if len(pool) < size {
		return nil, fmt.Errorf("%w: have %d scoring >= %.2f, need %d", ErrInsufficientCandidates, len(pool), minScore, size)
	}

	sortByID(pool)

	weights := make([]float64, len(pool))
	var total float64
	for i, c := range pool {
		w := Score(c)
		if w <= 0 {
			w = 0.0001 // Every eligible candidate keeps nonzero draw odds.
		}
		weights[i] = w
		total += w
	}

	rng := rand.New(rand.NewChaCha8(seed))
	chosen := make([]bool, len(pool))
	out := make([]Candidate, 0, size)

	for len(out) < size {
		r := rng.Float64() * total
		var sum float64
		pick := -1
		for i, w := range weights {
			if chosen[i] {
				continue
			}
			sum += w
			if sum >= r {
				pick = i
				break
			}
		}
		if pick == -1 {
			// Floating-point rounding landed past every remaining
			// weight; fall back to the last unchosen candidate.
			for i := len(pool) - 1; i >= 0; i-- {
				if !chosen[i] {
					pick = i
					break
				}
			}
		}
		chosen[pick] = true
		total -= weights[pick]
		out = append(out, pool[pick])
	}
	return out, nil
}

func sortByID(cs []Candidate) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && lessOutPoint(cs[j].ID, cs[j-1].ID); j-- {
			cs[j], cs[j-1] = cs[j-1], cs[j]
		}
	}
}

func lessOutPoint(a, b types.OutPoint) bool {
	for i := range a.TxID {
		if a.TxID[i] != b.TxID[i] {
			return a.TxID[i] < b.TxID[i]
		}
	}
	return a.Vout < b.Vout
}

// ID computes the quorum_id committed for a selection: BLAKE3 of the
// quorum type, seed, and the sorted member outpoints, so two
// selections with the same members in different orders share an id.
func ID(qt Type, seed types.Hash, members []Candidate) types.Hash {
	sorted := make([]Candidate, len(members))
	copy(sorted, members)
	sortByID(sorted)

	var buf []byte
	buf = append(buf, byte(qt))
	buf = append(buf, seed[:]...)
	for _, c := range sorted {
		buf = append(buf, c.ID.TxID[:]...)
		for i := 0; i < 4; i++ {
			buf = append(buf, byte(c.ID.Vout>>(8*i)))
		}
	}
	return crypto.Hash(buf)
}
