package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/aegis-grc/aegis/internal/platform/httpx"
	"github.com/aegis-grc/aegis/internal/shared"
)

const cacheTTL = 5 * time.Minute

// RepositoryPort looks up accounts by token id.
type RepositoryPort interface {
	FindByTokenID(ctx context.Context, tokenID string) (Account, error)
}

// Service resolves bearer tokens to identities. Tokens have the form
// "<token_id>.<secret>"; the secret is bcrypt-hashed at rest, so resolved
// tokens are cached briefly in Redis to keep the hot path cheap.
type Service struct {
	repo   RepositoryPort
	cache  *redis.Client
	logger *slog.Logger
}

// NewService constructs the resolver. The cache is optional.
func NewService(repo RepositoryPort, cache *redis.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

type cachedIdentity struct {
	UserID   int64  `json:"user_id"`
	Subject  string `json:"subject"`
	IsActive bool   `json:"is_active"`
}

// Resolve authenticates a bearer token and returns the caller's identity.
func (s *Service) Resolve(ctx context.Context, token string) (shared.Identity, error) {
	tokenID, secret, ok := strings.Cut(token, ".")
	if !ok || tokenID == "" || secret == "" {
		return shared.Identity{}, fmt.Errorf("identity: malformed token: %w", httpx.ErrUnauthenticated)
	}

	cacheKey := "identity:token:" + fingerprint(token)
	if id, ok := s.fromCache(ctx, cacheKey); ok {
		return id, nil
	}

	account, err := s.repo.FindByTokenID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			return shared.Identity{}, fmt.Errorf("identity: unknown token: %w", httpx.ErrUnauthenticated)
		}
		return shared.Identity{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.SecretHash), []byte(secret)); err != nil {
		return shared.Identity{}, fmt.Errorf("identity: secret mismatch: %w", httpx.ErrUnauthenticated)
	}

	id := shared.Identity{UserID: account.UserID, Subject: account.Subject, IsActive: account.IsActive}
	s.toCache(ctx, cacheKey, id)
	return id, nil
}

func (s *Service) fromCache(ctx context.Context, key string) (shared.Identity, bool) {
	if s.cache == nil {
		return shared.Identity{}, false
	}
	raw, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("identity cache read", slog.Any("error", err))
		}
		return shared.Identity{}, false
	}
	var cached cachedIdentity
	if err := json.Unmarshal(raw, &cached); err != nil {
		return shared.Identity{}, false
	}
	return shared.Identity{UserID: cached.UserID, Subject: cached.Subject, IsActive: cached.IsActive}, true
}

func (s *Service) toCache(ctx context.Context, key string, id shared.Identity) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(cachedIdentity{UserID: id.UserID, Subject: id.Subject, IsActive: id.IsActive})
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, cacheTTL).Err(); err != nil {
		s.logger.Warn("identity cache write", slog.Any("error", err))
	}
}

func fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
