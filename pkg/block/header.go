package block

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/types"
)

// Header is the 128-byte canonical block header. It is the only part
// of a block that carries the proof-of-work nonce and the compact
// difficulty target; everything else (transactions, ticket votes) is
// committed through MerkleRoot and StateRoot.
type Header struct {
	Version          uint32     `json:"version"`
	PrevHash         types.Hash `json:"prev_hash"`
	MerkleRoot       types.Hash `json:"merkle_root"`
	Timestamp        uint64     `json:"timestamp"`
	Nonce            uint64     `json:"nonce"`
	DifficultyTarget uint32     `json:"difficulty_target"`
	Height           uint64     `json:"height"`
	StateRoot        types.Hash `json:"state_root"`
}

// headerJSON mirrors Header for JSON purposes; kept distinct in case
// the two diverge (e.g. if a future wire revision adds a field that
// shouldn't round-trip through JSON).
type headerJSON struct {
	Version          uint32     `json:"version"`
	PrevHash         types.Hash `json:"prev_hash"`
	MerkleRoot       types.Hash `json:"merkle_root"`
	Timestamp        uint64     `json:"timestamp"`
	Nonce            uint64     `json:"nonce"`
	DifficultyTarget uint32     `json:"difficulty_target"`
	Height           uint64     `json:"height"`
	StateRoot        types.Hash `json:"state_root"`
}

func (h *Header) MarshalJSON() ([]byte, error) {
	return json.Marshal(headerJSON{
		Version:          h.Version,
		PrevHash:         h.PrevHash,
		MerkleRoot:       h.MerkleRoot,
		Timestamp:        h.Timestamp,
		Nonce:            h.Nonce,
		DifficultyTarget: h.DifficultyTarget,
		Height:           h.Height,
		StateRoot:        h.StateRoot,
	})
}

func (h *Header) UnmarshalJSON(data []byte) error {
	var j headerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	h.Version = j.Version
	h.PrevHash = j.PrevHash
	h.MerkleRoot = j.MerkleRoot
	h.Timestamp = j.Timestamp
	h.Nonce = j.Nonce
	h.DifficultyTarget = j.DifficultyTarget
	h.Height = j.Height
	h.StateRoot = j.StateRoot
	return nil
}

// Hash computes the block header hash (OxideHash is applied
// separately during mining/PoW verification; Hash is the general
// BLAKE3 identity hash used to reference the block elsewhere, e.g.
// PrevHash of the next header).
func (h *Header) Hash() types.Hash {
	return crypto.Hash(h.Bytes())
}

// SigningPrefix returns the header bytes excluding the nonce — the
// fixed salt OxideHash is computed over while the miner scans nonces.
func (h *Header) SigningPrefix() []byte {
	buf := make([]byte, 0, 128)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Timestamp)
	buf = binary.LittleEndian.AppendUint32(buf, h.DifficultyTarget)
	buf = binary.LittleEndian.AppendUint64(buf, h.Height)
	buf = append(buf, h.StateRoot[:]...)
	return buf
}

// SigningBytes is an alias for Bytes, used where callers think of the
// header's canonical encoding as the digest input for block-level
// signing/hashing rather than its wire form.
func (h *Header) SigningBytes() []byte {
	return h.Bytes()
}

// Bytes returns the full 128-byte canonical encoding of the header,
// in the exact field order of the wire format: version, prev_hash,
// merkle_root, timestamp, nonce, difficulty_target, height, state_root.
func (h *Header) Bytes() []byte {
	buf := make([]byte, 0, 128)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Timestamp)
	buf = binary.LittleEndian.AppendUint64(buf, h.Nonce)
	buf = binary.LittleEndian.AppendUint32(buf, h.DifficultyTarget)
	buf = binary.LittleEndian.AppendUint64(buf, h.Height)
	buf = append(buf, h.StateRoot[:]...)
	return buf
}

// DecodeHeader parses the 128-byte canonical header encoding produced
// by Bytes.
func DecodeHeader(data []byte) (*Header, error) {
	const headerSize = 4 + 32 + 32 + 8 + 8 + 4 + 8 + 32
	if len(data) != headerSize {
		return nil, fmt.Errorf("block: header must be %d bytes, got %d", headerSize, len(data))
	}
	h := &Header{}
	off := 0
	h.Version = binary.LittleEndian.Uint32(data[off:])
	off += 4
	copy(h.PrevHash[:], data[off:])
	off += 32
	copy(h.MerkleRoot[:], data[off:])
	off += 32
	h.Timestamp = binary.LittleEndian.Uint64(data[off:])
	off += 8
	h.Nonce = binary.LittleEndian.Uint64(data[off:])
	off += 8
	h.DifficultyTarget = binary.LittleEndian.Uint32(data[off:])
	off += 4
	h.Height = binary.LittleEndian.Uint64(data[off:])
	off += 8
	copy(h.StateRoot[:], data[off:])
	return h, nil
}
