package masternode

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/rusty-coin/core/pkg/tx"
	"github.com/rusty-coin/core/pkg/types"
)

// ErrInvalidSlashProof is returned when a MasternodeSlash transaction's
// proof payload does not substantiate its claimed reason (§4.5).
var ErrInvalidSlashProof = errors.New("masternode: invalid slash proof")

// DoubleSigningProof is the decoded proof payload for a DoubleSigning
// slash: two conflicting signatures over different payloads at the
// same height by the same operator key.
type DoubleSigningProof struct {
	Height    uint64
	PayloadA  []byte
	SigA      []byte
	PayloadB  []byte
	SigB      []byte
}

// VerifyDoubleSigning checks that a DoubleSigningProof attests to a
// genuine equivocation: both signatures verify under operatorPubKey,
// at the same height, over two distinct payloads.
func VerifyDoubleSigning(p *DoubleSigningProof, operatorPubKey []byte, verify func(msg, sig, pubKey []byte) bool) error {
	if bytes.Equal(p.PayloadA, p.PayloadB) {
		return fmt.Errorf("%w: payloads are identical, not an equivocation", ErrInvalidSlashProof)
	}
	if !verify(p.PayloadA, p.SigA, operatorPubKey) || !verify(p.PayloadB, p.SigB, operatorPubKey) {
		return fmt.Errorf("%w: one or both signatures fail to verify", ErrInvalidSlashProof)
	}
	return nil
}

// NonResponseProof is the decoded proof payload for a NonResponse
// slash: the original challenge plus a witness quorum attesting to
// the absence of a response within the window.
type NonResponseProof struct {
	Challenge        PoSeChallenge
	WitnessIDs       []types.OutPoint
	WitnessSignatures [][]byte
}

// VerifyNonResponse checks that at least minWitnesses distinct
// witnesses, each an Active masternode at the time, signed an
// attestation of the target's silence.
func VerifyNonResponse(p *NonResponseProof, minWitnesses int, witnessPubKeys map[types.OutPoint][]byte, verify func(msg, sig, pubKey []byte) bool) error {
	if len(p.WitnessIDs) != len(p.WitnessSignatures) {
		return fmt.Errorf("%w: witness id/signature count mismatch", ErrInvalidSlashProof)
	}
	msg := p.Challenge.SigningBytes()
	seen := make(map[types.OutPoint]bool, len(p.WitnessIDs))
	valid := 0
	for i, wid := range p.WitnessIDs {
		if seen[wid] {
			continue
		}
		pub, ok := witnessPubKeys[wid]
		if !ok {
			continue
		}
		if verify(msg, p.WitnessSignatures[i], pub) {
			seen[wid] = true
			valid++
		}
	}
	if valid < minWitnesses {
		return fmt.Errorf("%w: only %d of %d required witnesses verified", ErrInvalidSlashProof, valid, minWitnesses)
	}
	return nil
}

// ApplySlash removes a banned masternode's registry entry once its
// MasternodeSlash transaction (consuming the collateral UTXO) is
// accepted. The collateral UTXO itself is spent by ordinary UTXO
// application; this only retires the registry bookkeeping.
func (r *Registry) ApplySlash(p *tx.MasternodeSlashPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[p.MasternodeID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, p.MasternodeID)
	}
	delete(r.entries, p.MasternodeID)
	return nil
}
