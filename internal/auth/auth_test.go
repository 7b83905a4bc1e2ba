package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/realtime/internal/domain"
	"github.com/xiaot623/gogo/realtime/internal/testutil/helpers"
)

const secret = "test-secret"

func TestJWTVerifierAcceptsValidToken(t *testing.T) {
	v, err := NewJWTVerifier(secret, "")
	require.NoError(t, err)

	tok := helpers.SignToken(t, secret, domain.Principal{ID: "u1", Email: "u1@example.com", Role: domain.RoleSeller}, time.Hour)
	p, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, "u1@example.com", p.Email)
	assert.Equal(t, domain.RoleSeller, p.Role)
}

func TestJWTVerifierRejectsBadTokens(t *testing.T) {
	v, err := NewJWTVerifier(secret, "")
	require.NoError(t, err)

	expired := helpers.SignToken(t, secret, domain.Principal{ID: "u1", Role: domain.RoleBuyer}, -time.Minute)
	_, err = v.Verify(context.Background(), expired)
	assert.Error(t, err)

	forged := helpers.SignToken(t, "other-secret", domain.Principal{ID: "u1", Role: domain.RoleBuyer}, time.Hour)
	_, err = v.Verify(context.Background(), forged)
	assert.Error(t, err)

	badRole := helpers.SignToken(t, secret, domain.Principal{ID: "u1", Role: domain.Role("root")}, time.Hour)
	_, err = v.Verify(context.Background(), badRole)
	assert.Error(t, err)

	_, err = v.Verify(context.Background(), "not-a-jwt")
	assert.Error(t, err)
}

func TestNewJWTVerifierRequiresSecret(t *testing.T) {
	_, err := NewJWTVerifier("", "")
	assert.Error(t, err)
}

func TestTokenCacheLazyExpiry(t *testing.T) {
	c := NewTokenCache(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("tok", domain.Principal{ID: "u1"})
	p, ok := c.Get("tok")
	require.True(t, ok)
	assert.Equal(t, "u1", p.ID)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("tok")
	assert.False(t, ok)
	assert.Zero(t, c.Len(), "expired entry is evicted on read")
}

func TestTokenCacheSweep(t *testing.T) {
	c := NewTokenCache(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("a", domain.Principal{ID: "a"})
	now = now.Add(30 * time.Second)
	c.Set("b", domain.Principal{ID: "b"})
	now = now.Add(45 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
}

type countingVerifier struct {
	calls atomic.Int32
	err   error
}

func (v *countingVerifier) Verify(_ context.Context, raw string) (domain.Principal, error) {
	v.calls.Add(1)
	if v.err != nil {
		return domain.Principal{}, v.err
	}
	return domain.Principal{ID: raw, Role: domain.RoleBuyer}, nil
}

func TestAuthenticatorCachesVerifiedPrincipals(t *testing.T) {
	v := &countingVerifier{}
	a := NewAuthenticator(v, NewTokenCache(time.Minute), zap.NewNop())

	for i := 0; i < 3; i++ {
		p, err := a.Authenticate(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "u1", p.ID)
	}
	assert.Equal(t, int32(1), v.calls.Load())
}

func TestAuthenticatorRejections(t *testing.T) {
	v := &countingVerifier{err: errors.New("bad signature")}
	a := NewAuthenticator(v, NewTokenCache(time.Minute), zap.NewNop())

	_, err := a.Authenticate(context.Background(), "   ")
	assert.True(t, errors.Is(err, domain.ErrAuthentication))
	assert.Zero(t, v.calls.Load(), "empty credential never reaches the verifier")

	_, err = a.Authenticate(context.Background(), "tok")
	assert.True(t, errors.Is(err, domain.ErrAuthentication))

	_, err = a.Authenticate(context.Background(), "tok")
	assert.Error(t, err)
	assert.Equal(t, int32(2), v.calls.Load(), "failures are not cached")
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Empty(t, BearerToken("Basic abc"))
	assert.Empty(t, BearerToken(""))
}
