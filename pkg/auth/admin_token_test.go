package auth

import (
	"testing"
	"time"
)

func TestGenerateAndValidateAdminToken(t *testing.T) {
	m := NewAdminTokenManager([]byte("test-secret"), time.Hour)

	token, err := m.GenerateAdminToken("operator")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := m.ValidateAdminToken(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.Subject != "operator" {
		t.Fatalf("expected subject operator, got %s", claims.Subject)
	}
	if !claims.HasScope("sync") {
		t.Fatal("expected sync scope")
	}
	if claims.HasScope("delete") {
		t.Fatal("unexpected delete scope")
	}
}

func TestValidateRejectsWrongKey(t *testing.T) {
	m := NewAdminTokenManager([]byte("test-secret"), time.Hour)
	other := NewAdminTokenManager([]byte("other-secret"), time.Hour)

	token, err := m.GenerateAdminToken("operator")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if _, err := other.ValidateAdminToken(token); err == nil {
		t.Fatal("expected validation to fail with wrong key")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	m := NewAdminTokenManager([]byte("test-secret"), -time.Minute)

	token, err := m.GenerateAdminToken("operator")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if _, err := m.ValidateAdminToken(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}
