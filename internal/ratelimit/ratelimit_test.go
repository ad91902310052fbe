package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiter_Allow(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, Burst: 1})
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	key := "203.0.113.10"
	if !l.Allow(key) {
		t.Errorf("expected Allow to return true for initial request")
	}
	// bucket is empty, no time has passed
	if l.Allow(key) {
		t.Errorf("expected Allow to return false when burst exceeded")
	}
	// one token refills after a second
	now = now.Add(time.Second)
	if !l.Allow(key) {
		t.Errorf("expected Allow to return true after refill")
	}
}

func TestLimiter_DifferentKeys(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, Burst: 1})

	if !l.Allow("A") {
		t.Error("A should be allowed")
	}
	if l.Allow("A") {
		t.Error("A should be blocked")
	}
	if !l.Allow("B") {
		t.Error("B should be allowed (independent of A)")
	}
	if got := l.Len(); got != 2 {
		t.Errorf("len: got %d, want 2", got)
	}
}

func TestLimiter_Prune(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 10, Burst: 0})
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(time.Minute)
	l.Allow("fresh")

	if n := l.Prune(30 * time.Second); n != 1 {
		t.Fatalf("pruned: got %d, want 1", n)
	}
	if got := l.Len(); got != 1 {
		t.Fatalf("len after prune: got %d, want 1", got)
	}
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "198.51.100.7:4242"
	if got := ClientKey(r); got != "198.51.100.7" {
		t.Errorf("got %q", got)
	}
	r.RemoteAddr = "[2001:db8::1]:443"
	if got := ClientKey(r); got != "2001:db8::1" {
		t.Errorf("got %q", got)
	}
	r.RemoteAddr = "unix-socket"
	if got := ClientKey(r); got != "unix-socket" {
		t.Errorf("got %q", got)
	}
}
