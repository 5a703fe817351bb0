package bencode

import (
	"math/big"
	"testing"
)

func TestValueEncodedLenMatchesEncode(t *testing.T) {
	empty, err := NewDictionary()
	if err != nil {
		t.Fatalf("NewDictionary returned error: %v", err)
	}

	dict, err := NewDictionary(
		DictEntry{Key: "a", Val: NewString([]byte("bee"))},
		DictEntry{Key: "b", Val: NewList(
			NewIntegerInt64(1),
			NewIntegerInt64(-2),
			NewIntegerInt64(0),
		)},
		DictEntry{Key: "c", Val: empty},
	)
	if err != nil {
		t.Fatalf("NewDictionary returned error: %v", err)
	}

	encoded := dict.Encode()
	if got, want := dict.EncodedLen(), len(encoded); got != want {
		t.Fatalf("EncodedLen() = %d, len(Encode()) = %d", got, want)
	}

	const want = "d1:a3:bee1:bli1ei-2ei0ee1:cdee"
	if string(encoded) != want {
		t.Fatalf("Encode() = %q, want %q", encoded, want)
	}
}

func TestDecodeValueRoundTrip(t *testing.T) {
	const input = "d1:a3:bee1:bli1ei-2ei0ee1:cdee"

	v, err := DecodeValue([]byte(input), false)
	if err != nil {
		t.Fatalf("DecodeValue returned error: %v", err)
	}

	if string(v.Encode()) != input {
		t.Fatalf("re-encoded value = %q, want %q", v.Encode(), input)
	}

	a, ok := v.Get("a")
	if !ok {
		t.Fatal("missing key \"a\"")
	}
	s, ok := a.ByteString()
	if !ok || string(s) != "bee" {
		t.Fatalf("a = %v, want ByteString \"bee\"", a)
	}

	b, ok := v.Get("b")
	if !ok {
		t.Fatal("missing key \"b\"")
	}
	items, ok := b.List()
	if !ok || len(items) != 3 {
		t.Fatalf("b = %v, want a 3-element List", b)
	}
	want := []int64{1, -2, 0}
	for i, item := range items {
		n, ok := item.Integer()
		if !ok || n.Cmp(big.NewInt(want[i])) != 0 {
			t.Fatalf("b[%d] = %v, want %d", i, item, want[i])
		}
	}
}

func TestDecodeValueStrictRejectsOutOfOrderKeys(t *testing.T) {
	const input = "d1:bi1e1:ai2ee"

	if _, err := DecodeValue([]byte(input), false); err != nil {
		t.Fatalf("lenient DecodeValue failed: %v", err)
	}
	if _, err := DecodeValue([]byte(input), true); err == nil {
		t.Fatal("strict DecodeValue should reject out-of-order keys")
	}
}

func TestDecodeValueRejectsDuplicateKeys(t *testing.T) {
	const input = "d1:ai1e1:ai2ee"

	if _, err := DecodeValue([]byte(input), false); err == nil {
		t.Fatal("DecodeValue should reject duplicate keys even in lenient mode")
	}
}

func TestNewDictionaryRejectsDuplicates(t *testing.T) {
	_, err := NewDictionary(
		DictEntry{Key: "a", Val: NewIntegerInt64(1)},
		DictEntry{Key: "a", Val: NewIntegerInt64(2)},
	)
	if err == nil {
		t.Fatal("NewDictionary should reject duplicate keys")
	}
}

func TestValueEqual(t *testing.T) {
	a := NewList(NewIntegerInt64(1), NewString([]byte("x")))
	b := NewList(NewIntegerInt64(1), NewString([]byte("x")))
	c := NewList(NewIntegerInt64(2), NewString([]byte("x")))

	if !a.Equal(b) {
		t.Fatal("identical lists should be Equal")
	}
	if a.Equal(c) {
		t.Fatal("differing lists should not be Equal")
	}
}
