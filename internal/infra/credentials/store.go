package credentials

import (
	"context"
	"fmt"
	"strings"

	"trendtide/internal/domain"
	"trendtide/internal/infra"
	"trendtide/internal/sqlinline"
)

// Providers whose API keys may be kept in provider_keys.
const (
	ProviderLLM       = "llm"
	ProviderInference = "inference"
	ProviderImageKit  = "imagekit"
	ProviderYouTube   = "youtube"
)

var knownProviders = map[string]bool{
	ProviderLLM:       true,
	ProviderInference: true,
	ProviderImageKit:  true,
	ProviderYouTube:   true,
}

// Store holds provider API keys in the database. Keys from the environment
// always win.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Token returns the stored key for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	var key string
	if err := s.sql.QueryRow(ctx, sqlinline.QSelectProviderKey, provider).Scan(&key); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("load %s key: %w", provider, err)
	}
	return strings.TrimSpace(key), nil
}

// Resolve returns configured when set, otherwise the stored key. A nil store
// resolves to configured only.
func (s *Store) Resolve(ctx context.Context, provider, configured string) (string, error) {
	if v := strings.TrimSpace(configured); v != "" {
		return v, nil
	}
	if s == nil || s.sql == nil {
		return "", nil
	}
	return s.Token(ctx, provider)
}

// Rotate stores key for provider, replacing any previous key.
func (s *Store) Rotate(ctx context.Context, provider, key, rotatedBy string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	key = strings.TrimSpace(key)
	if !knownProviders[provider] {
		return fmt.Errorf("%w: unknown provider %q", domain.ErrValidation, provider)
	}
	if key == "" {
		return fmt.Errorf("%w: key is required", domain.ErrValidation)
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QRotateProviderKey, provider, key, strings.TrimSpace(rotatedBy)); err != nil {
		return fmt.Errorf("rotate %s key: %w", provider, err)
	}
	return nil
}
