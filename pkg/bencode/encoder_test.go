package bencode

import (
	"math/big"
	"testing"
)

func TestMarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		want    string
		wantErr bool
	}{
		{name: "string", input: "spam", want: "4:spam"},
		{name: "empty string", input: "", want: "0:"},
		{name: "int", input: 42, want: "i42e"},
		{name: "negative int", input: -42, want: "i-42e"},
		{name: "int64", input: int64(42), want: "i42e"},
		{name: "uint64", input: uint64(42), want: "i42e"},
		{name: "true", input: true, want: "i1e"},
		{name: "false", input: false, want: "i0e"},
		{
			name:  "bignum beyond int64",
			input: bigFromString("123456789012345678901234567890"),
			want:  "i123456789012345678901234567890e",
		},
		{name: "list", input: []any{"spam", "eggs"}, want: "l4:spam4:eggse"},
		{
			name:  "dict sorts keys",
			input: map[string]any{"spam": "eggs", "cow": "moo"},
			want:  "d3:cow3:moo4:spam4:eggse",
		},
		{
			name:  "nested",
			input: map[string]any{"spam": []any{"a", "b"}},
			want:  "d4:spaml1:a1:bee",
		},
		{name: "unsupported type", input: 3.14, wantErr: true},
		{name: "nil big.Int", input: (*big.Int)(nil), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Marshal(%#v) = %q, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Marshal(%#v) returned error: %v", tt.input, err)
			}
			if string(got) != tt.want {
				t.Fatalf("Marshal(%#v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := map[string]any{
		"a": "bee",
		"b": []any{int64(1), int64(-2), int64(0)},
		"c": map[string]any{},
	}

	got, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}

	const want = "d1:a3:bee1:bli1ei-2ei0ee1:cdee"
	if string(got) != want {
		t.Fatalf("Marshal round-trip = %q, want %q", got, want)
	}

	if _, err := Unmarshal(got); err != nil {
		t.Fatalf("Unmarshal of own Marshal output failed: %v", err)
	}
}
