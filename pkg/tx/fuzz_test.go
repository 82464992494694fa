package tx

import (
	"encoding/json"
	"testing"
)

// FuzzTxUnmarshal tests that arbitrary JSON input does not panic
// when unmarshaled into a Transaction struct.
func FuzzTxUnmarshal(f *testing.F) {
	f.Add([]byte(`{"kind":1,"inputs":[{"prevout":{"txid":"0000000000000000000000000000000000000000000000000000000000000000","vout":0}}],"outputs":[{"value":1000,"script_pubkey":"0000000000000000000000000000000000000000"}]}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"inputs":null,"outputs":null}`))
	f.Add([]byte(`{"kind":1,"inputs":[{"prevout":{"txid":"","vout":0},"pubkey":"","signature":""}],"outputs":[{"value":0}]}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var transaction Transaction
		if err := json.Unmarshal(data, &transaction); err != nil {
			return
		}
		// If unmarshal succeeded, these must not panic.
		transaction.TxID()
		transaction.signingBytes()
		transaction.Validate()          //nolint:errcheck
		transaction.VerifySignatures()  //nolint:errcheck // May fail but must not panic.
	})
}
