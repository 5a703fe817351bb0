package bencode

import (
	"math/big"
	"reflect"
	"testing"
)

func bigFromString(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad bignum literal: " + s)
	}
	return n
}

func TestUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    any
		wantErr bool
	}{
		{name: "positive integer", input: "i42e", want: big.NewInt(42)},
		{name: "negative integer", input: "i-42e", want: big.NewInt(-42)},
		{name: "zero", input: "i0e", want: big.NewInt(0)},
		{
			name:  "bignum beyond int64",
			input: "i123456789012345678901234567890e",
			want:  bigFromString("123456789012345678901234567890"),
		},
		{name: "empty string", input: "0:", want: ""},
		{name: "byte string", input: "4:spam", want: "spam"},
		{name: "list", input: "l4:spam4:eggse", want: []any{"spam", "eggs"}},
		{
			name:  "dict",
			input: "d3:cow3:moo4:spam4:eggse",
			want:  map[string]any{"cow": "moo", "spam": "eggs"},
		},
		{
			name:  "nested",
			input: "d4:spaml1:a1:bee",
			want:  map[string]any{"spam": []any{"a", "b"}},
		},
		{name: "leading zero integer", input: "i042e", wantErr: true},
		{name: "negative zero", input: "i-0e", wantErr: true},
		{name: "plus prefixed integer", input: "i+1e", wantErr: true},
		{name: "lone minus", input: "i-e", wantErr: true},
		{name: "empty integer", input: "ie", wantErr: true},
		{name: "negative string length", input: "-1:x", wantErr: true},
		{name: "truncated string", input: "5:ab", wantErr: true},
		{name: "unterminated list", input: "l4:spam", wantErr: true},
		{name: "trailing data", input: "i1ei2e", wantErr: true},
		{name: "duplicate dict key", input: "d1:ai1e1:ai2ee", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Unmarshal([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Unmarshal(%q) = %v, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal(%q) returned error: %v", tt.input, err)
			}

			gotBig, gotIsBig := got.(*big.Int)
			wantBig, wantIsBig := tt.want.(*big.Int)
			if gotIsBig || wantIsBig {
				if !gotIsBig || !wantIsBig || gotBig.Cmp(wantBig) != 0 {
					t.Fatalf("Unmarshal(%q) = %v, want %v", tt.input, got, tt.want)
				}
				return
			}

			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Unmarshal(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDecoderStrictDictOrder(t *testing.T) {
	lenient := NewDecoder([]byte("d1:bi1e1:ai2ee"))
	if _, err := lenient.Decode(); err != nil {
		t.Fatalf("lenient decode of out-of-order keys failed: %v", err)
	}

	strict := NewDecoder([]byte("d1:bi1e1:ai2ee")).Strict()
	if _, err := strict.Decode(); err == nil {
		t.Fatal("strict decode of out-of-order keys should have failed")
	}

	ordered := NewDecoder([]byte("d1:ai2e1:bi1ee")).Strict()
	if _, err := ordered.Decode(); err != nil {
		t.Fatalf("strict decode of in-order keys failed: %v", err)
	}
}

func TestDecoderMaxDepth(t *testing.T) {
	d := NewDecoder([]byte("l" + string(make([]byte, 0)) + "e"))
	d.maxDepth = 0
	if _, err := d.Decode(); err != nil {
		t.Fatalf("single-level list should decode at maxDepth 0: %v", err)
	}

	d2 := NewDecoder([]byte("lleee"))
	d2.maxDepth = 1
	if _, err := d2.Decode(); err == nil {
		t.Fatal("nested list beyond maxDepth should fail")
	}
}
