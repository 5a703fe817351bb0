package bencode

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sort"
	"strconv"
)

// Kind identifies which of the four bencode value kinds a Value holds.
type Kind int

const (
	KindInteger Kind = iota
	KindString
	KindList
	KindDictionary
)

// DictEntry is one key/value pair of a Dictionary Value. Dictionary
// values store entries in a slice rather than a map so that construction
// order is preserved until Encode, at which point entries are always
// emitted in ascending byte-lexicographic key order regardless of how
// they were built.
type DictEntry struct {
	Key string
	Val Value
}

// Value is a tagged union over the four bencode value kinds: Integer
// (arbitrary precision), ByteString (raw bytes, not necessarily UTF-8),
// List, and Dictionary. It is the typed counterpart to the any-returning
// Unmarshal/Marshal convenience API in decoder.go/encoder.go, for
// callers (such as the codec conformance tests) that need a
// precomputed length before allocating a buffer.
type Value struct {
	kind Kind
	i    *big.Int
	s    []byte
	l    []Value
	d    []DictEntry
}

func NewInteger(n *big.Int) Value { return Value{kind: KindInteger, i: new(big.Int).Set(n)} }

func NewIntegerInt64(n int64) Value { return NewInteger(big.NewInt(n)) }

func NewString(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindString, s: cp}
}

func NewList(items ...Value) Value { return Value{kind: KindList, l: items} }

// NewDictionary builds a Dictionary Value. Duplicate keys are rejected.
func NewDictionary(entries ...DictEntry) (Value, error) {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.Key]; ok {
			return Value{}, fmt.Errorf("bencode: duplicate key %q", e.Key)
		}
		seen[e.Key] = struct{}{}
	}
	return Value{kind: KindDictionary, d: entries}, nil
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) Integer() (*big.Int, bool) {
	if v.kind != KindInteger {
		return nil, false
	}
	return v.i, true
}

func (v Value) ByteString() ([]byte, bool) {
	if v.kind != KindString {
		return nil, false
	}
	return v.s, true
}

func (v Value) List() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.l, true
}

// Dictionary returns the entries of a Dictionary Value, sorted ascending
// by key as they would be on the wire.
func (v Value) Dictionary() ([]DictEntry, bool) {
	if v.kind != KindDictionary {
		return nil, false
	}
	sorted := append([]DictEntry(nil), v.d...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	return sorted, true
}

// Get looks up a key in a Dictionary Value.
func (v Value) Get(key string) (Value, bool) {
	for _, e := range v.d {
		if e.Key == key {
			return e.Val, true
		}
	}
	return Value{}, false
}

// Equal reports whether two Values are structurally identical.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindInteger:
		return v.i.Cmp(other.i) == 0
	case KindString:
		return bytes.Equal(v.s, other.s)
	case KindList:
		if len(v.l) != len(other.l) {
			return false
		}
		for i := range v.l {
			if !v.l[i].Equal(other.l[i]) {
				return false
			}
		}
		return true
	case KindDictionary:
		a, _ := v.Dictionary()
		b, _ := other.Dictionary()
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i].Key != b[i].Key || !a[i].Val.Equal(b[i].Val) {
				return false
			}
		}
		return true
	}
	return false
}

// EncodedLen returns the exact number of bytes Encode will produce,
// letting a caller allocate an exact buffer ahead of time.
func (v Value) EncodedLen() int {
	switch v.kind {
	case KindInteger:
		return 1 + len(v.i.String()) + 1
	case KindString:
		return len(strconv.Itoa(len(v.s))) + 1 + len(v.s)
	case KindList:
		n := 2
		for _, item := range v.l {
			n += item.EncodedLen()
		}
		return n
	case KindDictionary:
		n := 2
		entries, _ := v.Dictionary()
		for _, e := range entries {
			n += len(strconv.Itoa(len(e.Key))) + 1 + len(e.Key)
			n += e.Val.EncodedLen()
		}
		return n
	}
	return 0
}

// Encode returns the canonical bencoding of v.
func (v Value) Encode() []byte {
	buf := make([]byte, 0, v.EncodedLen())
	return v.appendTo(buf)
}

func (v Value) appendTo(buf []byte) []byte {
	switch v.kind {
	case KindInteger:
		buf = append(buf, TokenInteger.Byte())
		buf = append(buf, v.i.String()...)
		buf = append(buf, TokenEnding.Byte())
	case KindString:
		buf = strconv.AppendInt(buf, int64(len(v.s)), 10)
		buf = append(buf, TokenStringSeparator.Byte())
		buf = append(buf, v.s...)
	case KindList:
		buf = append(buf, TokenList.Byte())
		for _, item := range v.l {
			buf = item.appendTo(buf)
		}
		buf = append(buf, TokenEnding.Byte())
	case KindDictionary:
		buf = append(buf, TokenDict.Byte())
		entries, _ := v.Dictionary()
		for _, e := range entries {
			buf = strconv.AppendInt(buf, int64(len(e.Key)), 10)
			buf = append(buf, TokenStringSeparator.Byte())
			buf = append(buf, e.Key...)
			buf = e.Val.appendTo(buf)
		}
		buf = append(buf, TokenEnding.Byte())
	}
	return buf
}

// DecodeValue parses a single complete bencoded Value from data. In
// strict mode, malformed integers (leading zeros, "-0", "+0") and
// dictionaries whose keys are not in strictly ascending order raise an
// error; in lenient mode out-of-order keys are tolerated (duplicates are
// always rejected).
func DecodeValue(data []byte, strict bool) (Value, error) {
	p := &valueParser{r: bufio.NewReader(bytes.NewReader(data)), strict: strict, maxDepth: 2048}

	v, err := p.parse(0)
	if err != nil {
		return Value{}, err
	}

	if _, err := p.r.Peek(1); err == nil {
		return Value{}, fmt.Errorf("bencoding: trailing data after first value")
	} else if err != io.EOF {
		return Value{}, err
	}

	return v, nil
}

type valueParser struct {
	r        *bufio.Reader
	strict   bool
	maxDepth int
}

func (p *valueParser) parse(depth int) (Value, error) {
	if depth > p.maxDepth {
		return Value{}, errors.New("bencoding: max depth exceeded")
	}

	delim, err := p.r.ReadByte()
	if err != nil {
		return Value{}, err
	}

	switch delim {
	case byte(TokenDict):
		return p.parseDict(depth + 1)
	case byte(TokenList):
		return p.parseList(depth + 1)
	case byte(TokenInteger):
		return p.parseInteger()
	default:
		if err := p.r.UnreadByte(); err != nil {
			return Value{}, err
		}
		return p.parseString()
	}
}

func (p *valueParser) parseInteger() (Value, error) {
	buf, err := p.r.ReadSlice(byte(TokenEnding))
	if err != nil {
		return Value{}, err
	}

	n := len(buf) - 1
	if n <= 0 {
		return Value{}, fmt.Errorf("bencoding: invalid integer: empty")
	}
	s := buf[:n]

	if p.strict {
		if s[0] == '-' {
			if n == 1 {
				return Value{}, fmt.Errorf("bencoding: invalid integer: lone '-'")
			}
			if s[1] == '0' {
				return Value{}, fmt.Errorf("bencoding: invalid integer: negative zero")
			}
		} else if s[0] == '0' && n > 1 {
			return Value{}, fmt.Errorf("bencoding: invalid integer: leading zero")
		} else if s[0] == '+' {
			return Value{}, fmt.Errorf("bencoding: invalid integer: leading '+'")
		}
	}

	v, ok := new(big.Int).SetString(string(s), 10)
	if !ok {
		return Value{}, fmt.Errorf("bencoding: invalid integer: %q", s)
	}
	return NewInteger(v), nil
}

func (p *valueParser) parseString() (Value, error) {
	buf, err := p.r.ReadSlice(byte(TokenStringSeparator))
	if err != nil {
		return Value{}, err
	}
	n := len(buf) - 1
	if n <= 0 {
		return Value{}, fmt.Errorf("bencoding: invalid string length: empty")
	}
	lenStr := buf[:n]
	if p.strict && lenStr[0] == '0' && n > 1 {
		return Value{}, fmt.Errorf("bencoding: invalid string length: leading zero")
	}

	length, err := strconv.ParseInt(string(lenStr), 10, 64)
	if err != nil || length < 0 {
		return Value{}, fmt.Errorf("bencoding: invalid string length: %q", lenStr)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(p.r, data); err != nil {
		return Value{}, fmt.Errorf("bencoding: read string: %w", err)
	}
	return NewString(data), nil
}

func (p *valueParser) parseList(depth int) (Value, error) {
	var items []Value
	for {
		next, err := p.r.Peek(1)
		if err != nil {
			return Value{}, err
		}
		if next[0] == byte(TokenEnding) {
			p.r.ReadByte()
			break
		}
		v, err := p.parse(depth + 1)
		if err != nil {
			return Value{}, err
		}
		items = append(items, v)
	}
	return NewList(items...), nil
}

func (p *valueParser) parseDict(depth int) (Value, error) {
	var entries []DictEntry
	seen := make(map[string]struct{})
	prevKey := ""
	first := true

	for {
		next, err := p.r.Peek(1)
		if err != nil {
			return Value{}, err
		}
		if next[0] == byte(TokenEnding) {
			p.r.ReadByte()
			break
		}

		keyVal, err := p.parseString()
		if err != nil {
			return Value{}, err
		}
		keyBytes, _ := keyVal.ByteString()
		key := string(keyBytes)

		if p.strict && !first && key <= prevKey {
			return Value{}, fmt.Errorf("bencoding: dictionary key %q out of order after %q", key, prevKey)
		}
		if _, ok := seen[key]; ok {
			return Value{}, fmt.Errorf("bencoding: duplicate dictionary key %q", key)
		}
		seen[key] = struct{}{}

		v, err := p.parse(depth + 1)
		if err != nil {
			return Value{}, err
		}
		entries = append(entries, DictEntry{Key: key, Val: v})
		prevKey = key
		first = false
	}

	return Value{kind: KindDictionary, d: entries}, nil
}
