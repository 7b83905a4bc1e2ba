package auth

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/realtime/internal/domain"
)

// Authenticator verifies credentials through the token cache.
type Authenticator struct {
	verifier Verifier
	cache    *TokenCache
	logger   *zap.Logger
}

// NewAuthenticator wires a verifier behind a cache.
func NewAuthenticator(verifier Verifier, cache *TokenCache, logger *zap.Logger) *Authenticator {
	return &Authenticator{verifier: verifier, cache: cache, logger: logger}
}

// Authenticate returns the principal for rawToken or an authentication error.
func (a *Authenticator) Authenticate(ctx context.Context, rawToken string) (domain.Principal, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return domain.Principal{}, domain.Unauthenticated("missing credential")
	}

	if p, ok := a.cache.Get(rawToken); ok {
		return p, nil
	}

	p, err := a.verifier.Verify(ctx, rawToken)
	if err != nil {
		a.logger.Debug("credential rejected", zap.Error(err))
		return domain.Principal{}, domain.Unauthenticated("invalid or expired credential")
	}
	a.cache.Set(rawToken, p)
	return p, nil
}

// RunSweeper periodically evicts expired cache entries until ctx is done.
func (a *Authenticator) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.cache.Sweep(); n > 0 {
				a.logger.Debug("auth cache swept", zap.Int("removed", n))
			}
		}
	}
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
