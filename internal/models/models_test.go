package models

import (
	"testing"
	"time"
)

func TestCanonicalPair(t *testing.T) {
	tests := []struct {
		a, b         string
		wantA, wantB string
	}{
		{"a", "b", "a", "b"},
		{"b", "a", "a", "b"},
		{"0f0", "0e0", "0e0", "0f0"},
	}
	for _, tt := range tests {
		gotA, gotB := CanonicalPair(tt.a, tt.b)
		if gotA != tt.wantA || gotB != tt.wantB {
			t.Errorf("CanonicalPair(%q, %q) = (%q, %q), want (%q, %q)", tt.a, tt.b, gotA, gotB, tt.wantA, tt.wantB)
		}
	}
}

func TestConversationKey_OrderIndependent(t *testing.T) {
	if ConversationKey("x", "y") != ConversationKey("y", "x") {
		t.Error("ConversationKey() should not depend on argument order")
	}
	if got := ConversationKey("y", "x"); got != "x:y" {
		t.Errorf("ConversationKey() = %q, want x:y", got)
	}
}

func TestRelationship_Counterpart(t *testing.T) {
	r := Relationship{UserA: "a", UserB: "b"}
	if r.Counterpart("a") != "b" || r.Counterpart("b") != "a" {
		t.Errorf("Counterpart() returned wrong side")
	}
}

func TestSession_Expired(t *testing.T) {
	now := time.Now()
	s := Session{ExpiresAt: now.Add(time.Minute)}
	if s.Expired(now) {
		t.Error("session should be live before ExpiresAt")
	}
	if !s.Expired(now.Add(time.Minute)) {
		t.Error("session should be expired at ExpiresAt")
	}
}
