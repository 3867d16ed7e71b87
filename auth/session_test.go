package auth

import (
	"testing"

	"github.com/ewen-r/to-do-list/domain"
)

func TestPrincipalSessionRoundTrip(t *testing.T) {
	values := map[interface{}]interface{}{}
	BindPrincipal(values, domain.User{ID: "u1", Username: "alice", PasswordHash: "secret"})

	p := PrincipalFromSession(values)
	if !p.IsAuthenticated() {
		t.Fatal("expected an authenticated principal")
	}
	if p.ID != "u1" || p.Username != "alice" {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if p.UserID() != "u1" {
		t.Fatalf("unexpected owner key: %s", p.UserID())
	}

	// Only the minimal identity is serialized.
	if len(values) != 2 {
		t.Fatalf("expected two session values, got %d", len(values))
	}

	UnbindPrincipal(values)
	if got := PrincipalFromSession(values); got.IsAuthenticated() {
		t.Fatalf("expected anonymous principal after unbind, got %+v", got)
	}
}

func TestPrincipalFromEmptySession(t *testing.T) {
	p := PrincipalFromSession(map[interface{}]interface{}{})
	if p.IsAuthenticated() || p.UserID() != "" {
		t.Fatalf("expected anonymous principal, got %+v", p)
	}
}
