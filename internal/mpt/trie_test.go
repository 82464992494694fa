package mpt

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/rusty-coin/core/internal/storage"
	"github.com/rusty-coin/core/pkg/types"
)

func TestTrie_PutGet(t *testing.T) {
	tr := New(storage.NewMemory(), types.Hash{})

	if err := tr.Put([]byte("utxo-a"), []byte("value-a")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := tr.Put([]byte("utxo-b"), []byte("value-b")); err != nil {
		t.Fatalf("put: %v", err)
	}

	v, found, err := tr.Get([]byte("utxo-a"))
	if err != nil || !found || !bytes.Equal(v, []byte("value-a")) {
		t.Fatalf("get utxo-a = %q, %v, %v", v, found, err)
	}
	v, found, err = tr.Get([]byte("utxo-b"))
	if err != nil || !found || !bytes.Equal(v, []byte("value-b")) {
		t.Fatalf("get utxo-b = %q, %v, %v", v, found, err)
	}

	if _, found, err := tr.Get([]byte("missing")); err != nil || found {
		t.Fatalf("expected absence, got found=%v err=%v", found, err)
	}
}

func TestTrie_RootIndependentOfInsertionOrder(t *testing.T) {
	entries := map[string]string{
		"alpha":   "1",
		"bravo":   "2",
		"charlie": "3",
		"delta":   "4",
	}

	trA := New(storage.NewMemory(), types.Hash{})
	for _, k := range []string{"alpha", "bravo", "charlie", "delta"} {
		if err := trA.Put([]byte(k), []byte(entries[k])); err != nil {
			t.Fatal(err)
		}
	}

	trB := New(storage.NewMemory(), types.Hash{})
	for _, k := range []string{"delta", "charlie", "bravo", "alpha"} {
		if err := trB.Put([]byte(k), []byte(entries[k])); err != nil {
			t.Fatal(err)
		}
	}

	if trA.Root != trB.Root {
		t.Fatalf("root depends on insertion order: %s != %s", trA.Root, trB.Root)
	}
}

func TestTrie_Overwrite(t *testing.T) {
	tr := New(storage.NewMemory(), types.Hash{})
	if err := tr.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	r1 := tr.Root
	if err := tr.Put([]byte("k"), []byte("v2")); err != nil {
		t.Fatal(err)
	}
	if tr.Root == r1 {
		t.Fatalf("root did not change after overwrite")
	}
	v, found, err := tr.Get([]byte("k"))
	if err != nil || !found || !bytes.Equal(v, []byte("v2")) {
		t.Fatalf("get after overwrite = %q, %v, %v", v, found, err)
	}
}

func TestTrie_Delete(t *testing.T) {
	tr := New(storage.NewMemory(), types.Hash{})
	if err := tr.Put([]byte("k1"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Put([]byte("k2"), []byte("v2")); err != nil {
		t.Fatal(err)
	}

	removed, err := tr.Delete([]byte("k1"))
	if err != nil || !removed {
		t.Fatalf("delete k1 = %v, %v", removed, err)
	}
	if _, found, _ := tr.Get([]byte("k1")); found {
		t.Fatalf("k1 still present after delete")
	}
	if v, found, _ := tr.Get([]byte("k2")); !found || !bytes.Equal(v, []byte("v2")) {
		t.Fatalf("k2 disturbed by deleting k1")
	}

	removed, err = tr.Delete([]byte("k1"))
	if err != nil || removed {
		t.Fatalf("deleting absent key should be a no-op, got removed=%v err=%v", removed, err)
	}
}

func TestTrie_DeleteToEmpty(t *testing.T) {
	tr := New(storage.NewMemory(), types.Hash{})
	if err := tr.Put([]byte("only"), []byte("value")); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Delete([]byte("only")); err != nil {
		t.Fatal(err)
	}
	if !tr.Root.IsZero() {
		t.Fatalf("root should return to zero once trie is empty, got %s", tr.Root)
	}
}

func TestTrie_ProveInclusionAndAbsence(t *testing.T) {
	tr := New(storage.NewMemory(), types.Hash{})
	keys := []string{"utxo-1", "utxo-2", "utxo-3", "ticket-9"}
	for i, k := range keys {
		if err := tr.Put([]byte(k), []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}

	for i, k := range keys {
		val, found, proof, err := tr.Prove([]byte(k))
		if err != nil || !found {
			t.Fatalf("prove %s: found=%v err=%v", k, found, err)
		}
		if err := VerifyProof(tr.Root, proof, val, true); err != nil {
			t.Fatalf("verify inclusion %s: %v", k, err)
		}
		if !bytes.Equal(val, []byte{byte(i)}) {
			t.Fatalf("proved value mismatch for %s", k)
		}
	}

	_, found, proof, err := tr.Prove([]byte("no-such-key"))
	if err != nil || found {
		t.Fatalf("expected absence, got found=%v err=%v", found, err)
	}
	if err := VerifyProof(tr.Root, proof, nil, false); err != nil {
		t.Fatalf("verify absence: %v", err)
	}

	// Tampering with the claimed outcome must be rejected.
	if err := VerifyProof(tr.Root, proof, nil, true); err == nil {
		t.Fatalf("expected verification failure for falsely claimed membership")
	}
}

func TestTrie_ProveEmptyTrie(t *testing.T) {
	tr := New(storage.NewMemory(), types.Hash{})
	_, found, proof, err := tr.Prove([]byte("anything"))
	if err != nil || found {
		t.Fatalf("expected absence on empty trie, got found=%v err=%v", found, err)
	}
	if err := VerifyProof(tr.Root, proof, nil, false); err != nil {
		t.Fatalf("verify absence on empty trie: %v", err)
	}
}

func TestTrie_DomainKeysDoNotCollide(t *testing.T) {
	tr := New(storage.NewMemory(), types.Hash{})
	op := types.OutPoint{Vout: 3}
	mn := types.OutPoint{Vout: 3}

	if err := tr.Put(UTXOKey(op), []byte("utxo-value")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Put(MasternodeKey(mn), []byte("mn-value")); err != nil {
		t.Fatal(err)
	}

	v, found, err := tr.Get(UTXOKey(op))
	if err != nil || !found || !bytes.Equal(v, []byte("utxo-value")) {
		t.Fatalf("utxo key collided with masternode key: %q %v %v", v, found, err)
	}
	v, found, err = tr.Get(MasternodeKey(mn))
	if err != nil || !found || !bytes.Equal(v, []byte("mn-value")) {
		t.Fatalf("masternode lookup broken: %q %v %v", v, found, err)
	}
}

func TestTrie_ManyRandomInsertsDeterministicRoot(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	keys := make([][]byte, 200)
	vals := make([][]byte, 200)
	for i := range keys {
		k := make([]byte, 8)
		rng.Read(k)
		v := make([]byte, 4)
		rng.Read(v)
		keys[i] = k
		vals[i] = v
	}

	build := func(order []int) types.Hash {
		tr := New(storage.NewMemory(), types.Hash{})
		for _, i := range order {
			if err := tr.Put(keys[i], vals[i]); err != nil {
				t.Fatal(err)
			}
		}
		return tr.Root
	}

	forward := make([]int, len(keys))
	reverse := make([]int, len(keys))
	for i := range keys {
		forward[i] = i
		reverse[len(keys)-1-i] = i
	}

	if build(forward) != build(reverse) {
		t.Fatalf("root not independent of insertion order over larger key set")
	}
}
