package dht

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"math/big"
)

// IDLength is the width of a NodeId in bytes (160 bits), per BEP-5.
const IDLength = sha1.Size

// NodeId is a 160-bit opaque identifier, interpreted as a big-endian
// unsigned integer for ordering, distance, and midpoint arithmetic.
type NodeId [IDLength]byte

// RandomNodeId returns a NodeId drawn from a cryptographically strong
// source, suitable for a freshly bootstrapped local identity.
func RandomNodeId() NodeId {
	var id NodeId
	if _, err := rand.Read(id[:]); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return id
}

// NodeIdFromBytes copies b into a NodeId. b must be exactly IDLength
// bytes long.
func NodeIdFromBytes(b []byte) (NodeId, bool) {
	var id NodeId
	if len(b) != IDLength {
		return id, false
	}
	copy(id[:], b)
	return id, true
}

func (id NodeId) Bytes() []byte { return id[:] }

func (id NodeId) String() string {
	const hex = "0123456789abcdef"
	out := make([]byte, 2*IDLength)
	for i, b := range id {
		out[2*i] = hex[b>>4]
		out[2*i+1] = hex[b&0xf]
	}
	return string(out)
}

// Compare returns -1, 0, or 1 as id is less than, equal to, or greater
// than other, treating both as big-endian unsigned integers.
func (id NodeId) Compare(other NodeId) int {
	return bytes.Compare(id[:], other[:])
}

func (id NodeId) Equal(other NodeId) bool {
	return id == other
}

func (id NodeId) Less(other NodeId) bool { return id.Compare(other) < 0 }

// Xor returns the bitwise XOR of id and other, the routing distance
// metric between the two identifiers.
func (id NodeId) Xor(other NodeId) NodeId {
	var out NodeId
	for i := range id {
		out[i] = id[i] ^ other[i]
	}
	return out
}

// PrefixLen returns the number of leading zero bits shared between id
// and other's XOR distance — the length of their common prefix.
func (id NodeId) PrefixLen(other NodeId) int {
	d := id.Xor(other)
	for i, b := range d {
		if b == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if b&(0x80>>uint(bit)) != 0 {
				return i*8 + bit
			}
		}
	}
	return IDLength * 8
}

// Add returns the full 161-bit sum id + other as IDLength+1 big-endian
// bytes, with the carry out of the top byte kept in byte 0 so it is
// never silently dropped before the caller right-shifts (e.g. in
// Midpoint).
func (id NodeId) Add(other NodeId) [IDLength + 1]byte {
	var sum [IDLength + 1]byte
	carry := uint16(0)
	for i := IDLength - 1; i >= 0; i-- {
		c := carry + uint16(id[i]) + uint16(other[i])
		sum[i+1] = byte(c)
		carry = c >> 8
	}
	sum[0] = byte(carry)
	return sum
}

// shiftRightOne divides a 161-bit unsigned value (big-endian, MSB in
// buf[0]) by two, in place, discarding the remainder.
func shiftRightOne(buf []byte) {
	carry := byte(0)
	for i := 0; i < len(buf); i++ {
		next := buf[i] & 1
		buf[i] = (buf[i] >> 1) | (carry << 7)
		carry = next
	}
}

// Midpoint returns the floor of (lo + hi) / 2, computed without
// overflowing or truncating the carry bit, so two ids whose sum
// exceeds 2^160 do not wrap to a midpoint below lo. The open top-level
// range [min, 2^160) is split with MidpointToInfinity instead.
func Midpoint(lo, hi NodeId) NodeId {
	sum := lo.Add(hi)
	shiftRightOne(sum[:])

	var mid NodeId
	copy(mid[:], sum[1:])
	return mid
}

// DivideByTwo returns floor(id / 2).
func (id NodeId) DivideByTwo() NodeId {
	buf := make([]byte, IDLength)
	copy(buf, id[:])
	shiftRightOne(buf)

	var out NodeId
	copy(out[:], buf)
	return out
}

// Big returns id as a math/big.Int, useful for diagnostics and for
// computing the size of a key-space range.
func (id NodeId) Big() *big.Int {
	return new(big.Int).SetBytes(id[:])
}

// twoTo160 is the size of the NodeId space, one past MaxNodeId.
var twoTo160 = new(big.Int).Lsh(big.NewInt(1), IDLength*8)

// MidpointToInfinity returns the floor of (min + 2^160) / 2, used to
// split the unbounded top-level range [min, 2^160) that no NodeId can
// represent directly.
func MidpointToInfinity(min NodeId) NodeId {
	span := new(big.Int).Sub(twoTo160, min.Big())
	half := new(big.Int).Rsh(span, 1)
	midBig := new(big.Int).Add(min.Big(), half)

	var mid NodeId
	b := midBig.Bytes()
	copy(mid[IDLength-len(b):], b)
	return mid
}

// RangeWidth returns max - min as a big.Int. If open is true, max is
// taken to be 2^160 (the unbounded top-level range).
func RangeWidth(min, max NodeId, open bool) *big.Int {
	hi := max.Big()
	if open {
		hi = twoTo160
	}
	return new(big.Int).Sub(hi, min.Big())
}

// MaxNodeId is the largest representable NodeId, all bits set.
var MaxNodeId = func() NodeId {
	var id NodeId
	for i := range id {
		id[i] = 0xff
	}
	return id
}()

// ZeroNodeId is the smallest representable NodeId, all bits clear.
var ZeroNodeId NodeId
