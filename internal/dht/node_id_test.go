package dht

import "testing"

func idWithLastByte(b byte) NodeId {
	var id NodeId
	id[IDLength-1] = b
	return id
}

func TestNodeIdXorSelfIsZero(t *testing.T) {
	a := RandomNodeId()
	if a.Xor(a) != ZeroNodeId {
		t.Fatal("id XOR itself should be all zero")
	}
}

func TestNodeIdCompare(t *testing.T) {
	a := idWithLastByte(1)
	b := idWithLastByte(2)

	if a.Compare(b) >= 0 {
		t.Fatal("0x...01 should compare less than 0x...02")
	}
	if b.Compare(a) <= 0 {
		t.Fatal("0x...02 should compare greater than 0x...01")
	}
	if a.Compare(a) != 0 {
		t.Fatal("id should compare equal to itself")
	}
}

func TestMidpointTopLevelRange(t *testing.T) {
	mid := MidpointToInfinity(ZeroNodeId)

	// 2^159 has a single set bit: the high bit of byte 0.
	var want NodeId
	want[0] = 0x80
	if mid != want {
		t.Fatalf("MidpointToInfinity(0) = %x, want %x", mid, want)
	}
}

func TestMidpointClosedRange(t *testing.T) {
	lo := ZeroNodeId
	hi := MaxNodeId

	mid := Midpoint(lo, hi)

	// floor((0 + (2^160-1)) / 2) = 2^159 - 1, i.e. byte 0 is 0x7f and the
	// rest are 0xff.
	var want NodeId
	want[0] = 0x7f
	for i := 1; i < IDLength; i++ {
		want[i] = 0xff
	}
	if mid != want {
		t.Fatalf("Midpoint(0, max) = %x, want %x", mid, want)
	}
}

func TestNodeIdAddCarryNotLost(t *testing.T) {
	sum := MaxNodeId.Add(MaxNodeId)

	// (2^160-1) + (2^160-1) = 2^161 - 2, which needs the 161st bit.
	if sum[0] != 0x01 {
		t.Fatalf("Add overflow carry lost: sum[0] = %x, want 0x01", sum[0])
	}
}

func TestDivideByTwo(t *testing.T) {
	four := idWithLastByte(4)
	two := idWithLastByte(2)

	if got := four.DivideByTwo(); got != two {
		t.Fatalf("4/2 = %x, want %x", got, two)
	}
}

func TestPrefixLen(t *testing.T) {
	a := ZeroNodeId
	b := idWithLastByte(1)

	if got := a.PrefixLen(b); got != IDLength*8-1 {
		t.Fatalf("PrefixLen(0, 1) = %d, want %d", got, IDLength*8-1)
	}
	if got := a.PrefixLen(a); got != IDLength*8 {
		t.Fatalf("PrefixLen(a, a) = %d, want %d", got, IDLength*8)
	}
}
