package main

import (
	"testing"
	"time"
)

func TestSessionRoundTrip(t *testing.T) {
	m := newSessionManager("secret", time.Minute)
	token, err := m.Issue("alice", purposeAuth, "the quick brown fox")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	user, prompt, err := m.Validate(token, purposeAuth)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if user != "alice" || prompt != "the quick brown fox" {
		t.Fatalf("got user=%q prompt=%q", user, prompt)
	}
}

func TestSessionPurposeMismatch(t *testing.T) {
	m := newSessionManager("secret", time.Minute)
	token, _ := m.Issue("alice", purposeEnroll, "")
	if _, _, err := m.Validate(token, purposeAuth); err == nil {
		t.Fatal("enroll token validated for auth")
	}
}

func TestSessionExpired(t *testing.T) {
	m := newSessionManager("secret", -time.Minute)
	token, _ := m.Issue("alice", purposeAuth, "")
	if _, _, err := m.Validate(token, purposeAuth); err == nil {
		t.Fatal("expired token validated")
	}
}

func TestSessionWrongSecret(t *testing.T) {
	a := newSessionManager("secret-a", time.Minute)
	b := newSessionManager("secret-b", time.Minute)
	token, _ := a.Issue("alice", purposeAuth, "")
	if _, _, err := b.Validate(token, purposeAuth); err == nil {
		t.Fatal("token signed with another secret validated")
	}
}
