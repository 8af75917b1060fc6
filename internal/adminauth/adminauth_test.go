package adminauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGenerateAndValidate(t *testing.T) {
	a, err := New("test-secret")
	if err != nil {
		t.Fatal(err)
	}

	token, err := a.GenerateToken("ops@example.org", 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := a.ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "ops@example.org" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Issuer != issuer {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a, err := New("test-secret", WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}
	token, err := a.GenerateToken("ops", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := a.ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	a, _ := New("secret-a")
	b, _ := New("secret-b")

	token, err := a.GenerateToken("ops", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestEmptyInputs(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty secret")
	}
	a, _ := New("test-secret")
	if _, err := a.GenerateToken("", time.Minute); err == nil {
		t.Fatal("expected error for empty operator")
	}
	if _, err := a.ParseAndValidate(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatal("expected ErrInvalidToken for empty token")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := ContextWithOperator(context.Background(), " ops@example.org ")
	op, ok := OperatorFromContext(ctx)
	if !ok || op != "ops@example.org" {
		t.Fatalf("operator = %q, ok=%v", op, ok)
	}
	if _, ok := OperatorFromContext(context.Background()); ok {
		t.Fatal("operator found in empty context")
	}
}
