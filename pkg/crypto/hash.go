// Package crypto provides cryptographic primitives for the consensus core:
// BLAKE3/SHA-256 hashing, Ed25519 signing, the OxideHash memory-hard PoW
// function, and BLS12-381 threshold signatures for masternode quorums.
package crypto

import (
	"crypto/sha256"

	"github.com/rusty-coin/core/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data. This is the
// general-purpose domain hash used for txids, block hashes, and MPT
// node content addressing.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// DoubleHash computes Hash(Hash(data)).
func DoubleHash(data []byte) types.Hash {
	first := Hash(data)
	return Hash(first[:])
}

// SHA256 computes a SHA-256 hash of the input data, for callers that
// need a standard digest independent of BLAKE3. No consensus path in
// this module calls it.
func SHA256(data []byte) types.Hash {
	return sha256.Sum256(data)
}

// AddressFromPubKey derives an address from an Ed25519 public key.
// Address = BLAKE3(pubkey)[:20].
func AddressFromPubKey(pubKey []byte) types.Address {
	h := Hash(pubKey)
	var addr types.Address
	copy(addr[:], h[:types.AddressSize])
	return addr
}

// HashConcat hashes the concatenation of two hashes. Used for building
// binary merkle trees and their inclusion proofs.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}
