package masternode

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/types"
)

// PoSeChallenge is issued by a deterministically-selected challenger
// masternode against a target, per §4.5.
type PoSeChallenge struct {
	Nonce     uint64         `json:"nonce"`
	BlockHash types.Hash     `json:"block_hash"`
	TargetID  types.OutPoint `json:"target_id"`
	Signature []byte         `json:"signature"`
}

// SigningBytes is the message a challenger signs over a challenge.
func (c *PoSeChallenge) SigningBytes() []byte {
	buf := make([]byte, 0, 8+types.HashSize+types.HashSize+4)
	buf = binary.LittleEndian.AppendUint64(buf, c.Nonce)
	buf = append(buf, c.BlockHash[:]...)
	buf = append(buf, c.TargetID.TxID[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, c.TargetID.Vout)
	return buf
}

// PoSeResponse is the target's proof of liveness for a challenge.
type PoSeResponse struct {
	Nonce     uint64         `json:"nonce"`
	Signature []byte         `json:"signature"` // sig_over(nonce || block_hash)
	TargetID  types.OutPoint `json:"target_id"`
}

// ResponseSigningBytes is the message a target signs to answer a
// challenge: nonce || block_hash.
func ResponseSigningBytes(nonce uint64, blockHash types.Hash) []byte {
	buf := make([]byte, 0, 8+types.HashSize)
	buf = binary.LittleEndian.AppendUint64(buf, nonce)
	buf = append(buf, blockHash[:]...)
	return buf
}

// ErrInvalidResponse is returned when a PoSe response's signature does
// not verify under the target's operator key.
var ErrInvalidResponse = errors.New("masternode: invalid pose response")

// VerifyResponse checks a PoSeResponse against the originating
// challenge and the target's operator public key.
func VerifyResponse(challenge *PoSeChallenge, resp *PoSeResponse, operatorPubKey []byte) error {
	if resp.Nonce != challenge.Nonce || resp.TargetID != challenge.TargetID {
		return fmt.Errorf("%w: nonce/target mismatch", ErrInvalidResponse)
	}
	msg := ResponseSigningBytes(resp.Nonce, challenge.BlockHash)
	if !crypto.VerifySignature(msg, resp.Signature, operatorPubKey) {
		return fmt.Errorf("%w: signature check failed", ErrInvalidResponse)
	}
	return nil
}

// RecordSuccess resets the failure streak after a valid, on-time
// response (§4.5).
func (r *Registry) RecordSuccess(id ID, height uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.PoSeFailureCount = 0
	e.LastSuccessfulPoSeHeight = height
	return nil
}

// RecordFailure increments the failure streak on timeout or an
// invalid response, applying the Probation/Banned transitions at
// maxConsecutiveFailures and maxConsecutiveFailures+1 (§4.5). Returns
// true if this failure caused the entry to become Banned (ready for
// slashing).
func (r *Registry) RecordFailure(id ID, maxConsecutiveFailures uint64) (banned bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.PoSeFailureCount++
	switch {
	case e.PoSeFailureCount == maxConsecutiveFailures:
		e.Status = StatusProbation
	case e.PoSeFailureCount > maxConsecutiveFailures:
		e.Status = StatusBanned
		banned = true
	}
	return banned, nil
}
