package service

import (
	"errors"
	"testing"
	"time"

	"kitaabse-pipeline/internal/domain"
)

type countingValidator struct {
	users map[string]*domain.User
	calls int
}

func (v *countingValidator) ValidateToken(token string) (*domain.User, error) {
	v.calls++
	if u, ok := v.users[token]; ok {
		return u, nil
	}
	return nil, errors.New("token validation failed")
}

func TestAuthService_ValidateToken(t *testing.T) {
	validator := &countingValidator{users: map[string]*domain.User{
		"valid-token": {ID: "user-123", Email: "test@example.com"},
	}}
	service := NewAuthService(validator, NewMockLogger())

	user, err := service.ValidateToken("valid-token")
	if err != nil {
		t.Fatalf("Expected no error for valid token, got %v", err)
	}
	if user.ID != "user-123" {
		t.Errorf("Expected user ID 'user-123', got %s", user.ID)
	}

	_, err = service.ValidateToken("invalid-token")
	if !errors.Is(err, domain.ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}

	_, err = service.ValidateToken("")
	if !errors.Is(err, domain.ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestAuthService_CachesValidTokens(t *testing.T) {
	validator := &countingValidator{users: map[string]*domain.User{
		"valid-token": {ID: "user-123"},
	}}
	service := NewAuthService(validator, NewMockLogger())
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := service.ValidateToken("valid-token"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if validator.calls != 1 {
		t.Errorf("Expected 1 upstream call, got %d", validator.calls)
	}

	now = now.Add(tokenCacheTTL)
	if _, err := service.ValidateToken("valid-token"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if validator.calls != 2 {
		t.Errorf("Expected the expired entry to be revalidated, got %d calls", validator.calls)
	}

	for i := 0; i < 2; i++ {
		_, _ = service.ValidateToken("bad")
	}
	if validator.calls != 4 {
		t.Errorf("Expected rejected tokens to bypass the cache, got %d calls", validator.calls)
	}
}
