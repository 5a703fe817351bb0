package dht

import (
	"net"
	"testing"
	"time"
)

// TokenRotation scenario (spec.md testable properties).
func TestTokenRotationScenario(t *testing.T) {
	tm := NewTokenManager(75 * time.Millisecond)
	defer tm.Stop()

	n := net.IPv4(127, 0, 0, 1)
	n2 := net.IPv4(127, 0, 0, 2)

	t1 := tm.Generate(n)
	t2 := tm.Generate(n)
	if t1 != t2 {
		t.Fatal("two Generate calls within one epoch should return equal tokens")
	}

	if !tm.Verify(n, t1) {
		t.Fatal("Verify should accept a freshly issued token")
	}
	if tm.Verify(n2, t1) {
		t.Fatal("Verify should reject a token issued for a different IP")
	}

	time.Sleep(100 * time.Millisecond)
	if !tm.Verify(n, t1) {
		t.Fatal("Verify should still accept t1 within the previous-secret grace window")
	}

	time.Sleep(100 * time.Millisecond)
	if tm.Verify(n, t1) {
		t.Fatal("Verify should reject t1 once it's aged past two rotation epochs")
	}
}

func TestTokenManagerDefaultInterval(t *testing.T) {
	tm := NewTokenManager(0)
	defer tm.Stop()

	if tm.rotationInterval != defaultRotationInterval {
		t.Fatalf("rotationInterval = %v, want default %v", tm.rotationInterval, defaultRotationInterval)
	}
}
