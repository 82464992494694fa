package mpt

// toNibbles expands a byte slice into its big-endian nibble sequence,
// two nibbles (0-15) per input byte.
func toNibbles(key []byte) []byte {
	out := make([]byte, len(key)*2)
	for i, b := range key {
		out[i*2] = b >> 4
		out[i*2+1] = b & 0x0f
	}
	return out
}
