package types

import (
	"encoding/hex"
	"encoding/json"
)

// Script is an opaque locking or unlocking script blob. There is no
// scripting VM: script_pubkey is interpreted only as "hash of an
// Address this output pays to", and script_sig only as "signature +
// public key proving the right to spend it". Any richer semantics is
// out of scope.
type Script []byte

// String returns the hex encoding of the script.
func (s Script) String() string {
	return hex.EncodeToString(s)
}

// MarshalJSON encodes the script as a hex string.
func (s Script) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(s))
}

// UnmarshalJSON decodes a hex string into a script.
func (s *Script) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*s = nil
		return nil
	}
	b, err := hex.DecodeString(str)
	if err != nil {
		return err
	}
	*s = b
	return nil
}

// TxOutput is a single spendable output: an amount locked to a
// script_pubkey, with an optional memo payload.
type TxOutput struct {
	Value        uint64 `json:"value"`
	ScriptPubKey Script `json:"script_pubkey"`
	Memo         []byte `json:"memo,omitempty"`
}
