package types

import (
	"encoding/json"
	"testing"
)

func TestScript_MarshalJSON(t *testing.T) {
	s := Script{0xde, 0xad, 0xbe, 0xef}
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Script
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(got) != string(s) {
		t.Errorf("roundtrip mismatch: got %x, want %x", got, s)
	}
}

func TestScript_MarshalJSON_Empty(t *testing.T) {
	var s Script
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Script
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty script, got %x", got)
	}
}

func TestTxOutput_JSON_Roundtrip(t *testing.T) {
	out := TxOutput{
		Value:        12345,
		ScriptPubKey: Script{0x01, 0x02, 0x03},
		Memo:         []byte("hello"),
	}
	b, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got TxOutput
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Value != out.Value || string(got.ScriptPubKey) != string(out.ScriptPubKey) || string(got.Memo) != string(out.Memo) {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", got, out)
	}
}
