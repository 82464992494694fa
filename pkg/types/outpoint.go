package types

import "fmt"

// OutPoint references a specific output in a transaction.
type OutPoint struct {
	TxID Hash   `json:"txid"`
	Vout uint32 `json:"vout"`
}

// IsZero returns true if the outpoint has a zero TxID and zero vout.
func (o OutPoint) IsZero() bool {
	return o.TxID.IsZero() && o.Vout == 0
}

// String returns "txid:vout" in hex.
func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.String(), o.Vout)
}

// Encode returns the canonical fixed-width binary form of the
// OutPoint: the 32-byte txid followed by the 4-byte little-endian
// vout. Used as the suffix of MPT and storage keys.
func (o OutPoint) Encode() []byte {
	buf := make([]byte, HashSize+4)
	copy(buf, o.TxID[:])
	buf[HashSize] = byte(o.Vout)
	buf[HashSize+1] = byte(o.Vout >> 8)
	buf[HashSize+2] = byte(o.Vout >> 16)
	buf[HashSize+3] = byte(o.Vout >> 24)
	return buf
}
