package ticket

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/rusty-coin/core/pkg/block"
	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/types"
)

// Quorum failure modes, per §4.4.
var (
	ErrInsufficientEligibleTickets = errors.New("ticket: insufficient eligible tickets for quorum")
	ErrInvalidQuorumSize           = errors.New("ticket: quorum size mismatch")
	ErrDuplicateTicketInQuorum     = errors.New("ticket: duplicate ticket in quorum")
	ErrTicketDidntApproveBlock     = errors.New("ticket: ticket in quorum did not vote on this block")
	ErrInvalidTicketHash           = errors.New("ticket: committed ticket_hash mismatch")
)

// SelectQuorum deterministically draws quorumSize tickets from the
// eligible set, seeded by prevHash (§4.4). Any two honest nodes given
// the same eligible set and prevHash produce an identical quorum: the
// draw walks the tickets in ascending hash order, whatever the order of
// the eligible slice.
func SelectQuorum(eligible []*Ticket, prevHash types.Hash, quorumSize uint64) ([]*Ticket, error) {
	if uint64(len(eligible)) < quorumSize {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientEligibleTickets, len(eligible), quorumSize)
	}

	var total uint64
	for _, t := range eligible {
		total += t.Stake
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: zero total eligible stake", ErrInsufficientEligibleTickets)
	}

	ordered := make([]*Ticket, len(eligible))
	copy(ordered, eligible)
	sortByHash(ordered)

	rng := rand.New(rand.NewChaCha8(prevHash))
	selected := make(map[types.Hash]bool, quorumSize)
	out := make([]*Ticket, 0, quorumSize)

	// Bound attempts: each draw either selects a new ticket or repeats
	// an already-selected one; with non-degenerate stake distributions
	// this converges well under this cap.
	maxAttempts := int(quorumSize) * len(eligible) * 4
	if maxAttempts < 1024 {
		maxAttempts = 1024
	}

	for attempt := 0; len(out) < int(quorumSize) && attempt < maxAttempts; attempt++ {
		r := rng.Uint64N(total)
		var sum uint64
		for _, t := range ordered {
			sum += t.Stake
			if sum > r {
				if !selected[t.Hash] {
					selected[t.Hash] = true
					out = append(out, t)
				}
				break
			}
		}
	}

	if len(out) < int(quorumSize) {
		return nil, fmt.Errorf("%w: could not draw %d distinct tickets from %d attempts", ErrInsufficientEligibleTickets, quorumSize, maxAttempts)
	}
	return out, nil
}

// CommitTicketHash computes the value committed in the block header
// for a selected quorum: BLAKE3 of the quorum's ticket hashes sorted
// into a canonical order, so the commitment is invariant under
// permutation of the selection order (§8 testable property 5).
func CommitTicketHash(quorum []*Ticket) types.Hash {
	hashes := make([]types.Hash, len(quorum))
	for i, t := range quorum {
		hashes[i] = t.Hash
	}
	sortHashes(hashes)
	return block.TicketHashesDigest(hashes)
}

func sortHashes(hs []types.Hash) {
	for i := 1; i < len(hs); i++ {
		for j := i; j > 0 && lessHash(hs[j], hs[j-1]); j-- {
			hs[j], hs[j-1] = hs[j-1], hs[j]
		}
	}
}

// ValidateQuorum re-derives eligibility and recomputes the committed
// ticket_hash, per §4.4's validate_quorum. votes must correspond 1:1
// with the reconstructed quorum (same ticket set, valid signatures,
// no duplicates).
func ValidateQuorum(eligible []*Ticket, votes []*block.TicketVote, prevHash, blockHash types.Hash, quorumSize uint64, committedHash types.Hash) error {
	if uint64(len(votes)) != quorumSize {
		return fmt.Errorf("%w: got %d votes, want %d", ErrInvalidQuorumSize, len(votes), quorumSize)
	}

	eligibleByHash := make(map[types.Hash]*Ticket, len(eligible))
	for _, t := range eligible {
		eligibleByHash[t.Hash] = t
	}

	quorum, err := SelectQuorum(eligible, prevHash, quorumSize)
	if err != nil {
		return err
	}
	quorumSet := make(map[types.Hash]bool, len(quorum))
	for _, t := range quorum {
		quorumSet[t.Hash] = true
	}

	seen := make(map[types.Hash]bool, len(votes))
	for _, v := range votes {
		if seen[v.TicketHash] {
			return fmt.Errorf("%w: %s", ErrDuplicateTicketInQuorum, v.TicketHash)
		}
		seen[v.TicketHash] = true

		t, ok := eligibleByHash[v.TicketHash]
		if !ok || !quorumSet[v.TicketHash] {
			return fmt.Errorf("%w: ticket %s not in reconstructed quorum", ErrTicketDidntApproveBlock, v.TicketHash)
		}
		if !crypto.VerifySignature(v.SigningBytes(blockHash), v.Signature, t.StakerPubKey) {
			return fmt.Errorf("%w: invalid signature for ticket %s", ErrTicketDidntApproveBlock, v.TicketHash)
		}
	}

	recomputed := CommitTicketHash(quorum)
	if recomputed != committedHash {
		return fmt.Errorf("%w: recomputed %s, committed %s", ErrInvalidTicketHash, recomputed, committedHash)
	}
	return nil
}
