package service

import (
	"fmt"
	"sync"
	"time"

	"kitaabse-pipeline/internal/domain"
)

const tokenCacheTTL = 30 * time.Second

type tokenCacheEntry struct {
	user      *domain.User
	expiresAt time.Time
}

// AuthService validates bearer tokens against the auth provider and keeps
// recent answers for a short while so every request does not hit the network.
type AuthService struct {
	validator domain.TokenValidator
	logger    domain.Logger
	now       func() time.Time

	cacheMu sync.RWMutex
	cache   map[string]tokenCacheEntry
}

func NewAuthService(validator domain.TokenValidator, logger domain.Logger) *AuthService {
	return &AuthService{
		validator: validator,
		logger:    logger,
		now:       time.Now,
		cache:     make(map[string]tokenCacheEntry),
	}
}

// ValidateToken resolves token to its user. Rejected tokens are not cached.
func (s *AuthService) ValidateToken(token string) (*domain.User, error) {
	if token == "" {
		return nil, domain.ErrInvalidToken
	}

	now := s.now()
	s.cacheMu.RLock()
	entry, ok := s.cache[token]
	s.cacheMu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		u := *entry.user
		return &u, nil
	}

	user, err := s.validator.ValidateToken(token)
	if err != nil {
		s.logger.Debug("Token rejected", "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if user == nil || user.ID == "" {
		return nil, domain.ErrInvalidToken
	}

	s.cacheMu.Lock()
	for k, e := range s.cache {
		if !now.Before(e.expiresAt) {
			delete(s.cache, k)
		}
	}
	u := *user
	s.cache[token] = tokenCacheEntry{user: &u, expiresAt: now.Add(tokenCacheTTL)}
	s.cacheMu.Unlock()

	return user, nil
}
