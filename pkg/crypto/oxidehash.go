package crypto

import (
	"encoding/binary"

	"golang.org/x/crypto/argon2"
)

// OxideHash parameters. Tuned so that commodity CPUs mine at a
// predictable rate while ASIC/GPU advantage stays bounded by memory
// bandwidth rather than raw compute — the same tradeoff the teacher's
// wallet KDF (internal/wallet/encryption.go) makes for password
// stretching, repurposed here as the PoW acceptance function.
const (
	oxideTime    = 1
	oxideMemory  = 64 * 1024 // 64 MiB
	oxideThreads = 1
	oxideKeyLen  = 32
)

// OxideHash computes the memory-hard proof-of-work digest for a block
// header: the signing prefix (everything but the nonce) is used as the
// Argon2id salt and the little-endian nonce as the password. This
// makes the per-nonce cost dominated by the 64 MiB working set rather
// than hash-function throughput.
func OxideHash(prefix []byte, nonce uint64) [32]byte {
	var nonceBytes [8]byte
	binary.LittleEndian.PutUint64(nonceBytes[:], nonce)

	salt := prefix
	if len(salt) < 8 {
		// argon2 requires a non-trivial salt; pad short prefixes.
		padded := make([]byte, 8)
		copy(padded, salt)
		salt = padded
	}

	out := argon2.IDKey(nonceBytes[:], salt, oxideTime, oxideMemory, oxideThreads, oxideKeyLen)
	var digest [32]byte
	copy(digest[:], out)
	return digest
}
