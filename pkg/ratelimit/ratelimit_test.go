package ratelimit

import (
	"testing"
	"time"
)

func TestAllowRespectsBurst(t *testing.T) {
	l := New(10, 2)
	if !l.Allow() {
		t.Fatal("expected first call to be allowed")
	}
	if !l.Allow() {
		t.Fatal("expected second call within burst to be allowed")
	}
	if l.Allow() {
		t.Fatal("expected third call to exceed burst")
	}
}

func TestAllowRefillsOverTime(t *testing.T) {
	l := New(1000, 1)
	if !l.Allow() {
		t.Fatal("expected first call to be allowed")
	}
	if l.Allow() {
		t.Fatal("expected immediate second call to be rejected")
	}
	time.Sleep(5 * time.Millisecond)
	if !l.Allow() {
		t.Fatal("expected call to be allowed after refill window")
	}
}

func TestZeroRateDisablesLimiting(t *testing.T) {
	l := New(0, 1)
	for i := 0; i < 100; i++ {
		if !l.Allow() {
			t.Fatal("expected zero-rate limiter to always allow")
		}
	}
}
