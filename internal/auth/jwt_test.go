package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webchat-service/internal/models"
	"webchat-service/internal/repositories"
)

const testKey = "test-signing-key"

type stubAccounts map[int]models.Identity

func (s stubAccounts) GetIdentity(_ context.Context, id int) (models.Identity, error) {
	identity, ok := s[id]
	if !ok {
		return models.Identity{}, repositories.ErrAccountNotFound
	}
	return identity, nil
}

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestJWTResolver(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	resolver := NewJWTResolver(testKey, stubAccounts{42: {ID: 42, Username: "alice"}})
	resolver.now = func() time.Time { return now }
	valid := func(extra jwt.MapClaims) jwt.MapClaims {
		claims := jwt.MapClaims{"user_id": 42, "exp": now.Add(time.Hour).Unix(), "token_type": "access"}
		for k, v := range extra {
			claims[k] = v
		}
		return claims
	}

	identity, err := resolver.Resolve(context.Background(), signToken(t, jwt.SigningMethodHS256, []byte(testKey), valid(nil)))
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.Username)

	stringID := valid(jwt.MapClaims{"user_id": "42"})
	delete(stringID, "token_type")
	_, err = resolver.Resolve(context.Background(), signToken(t, jwt.SigningMethodHS256, []byte(testKey), stringID))
	require.NoError(t, err)

	noExp := valid(nil)
	delete(noExp, "exp")

	rejected := map[string]string{
		"expired":       signToken(t, jwt.SigningMethodHS256, []byte(testKey), valid(jwt.MapClaims{"exp": now.Add(-time.Minute).Unix()})),
		"missing exp":   signToken(t, jwt.SigningMethodHS256, []byte(testKey), noExp),
		"wrong key":     signToken(t, jwt.SigningMethodHS256, []byte("other"), valid(nil)),
		"wrong alg":     signToken(t, jwt.SigningMethodHS512, []byte(testKey), valid(nil)),
		"refresh token": signToken(t, jwt.SigningMethodHS256, []byte(testKey), valid(jwt.MapClaims{"token_type": "refresh"})),
		"no user":       signToken(t, jwt.SigningMethodHS256, []byte(testKey), valid(jwt.MapClaims{"user_id": nil})),
		"garbage":       "not-a-jwt",
	}
	for name, token := range rejected {
		_, err := resolver.Resolve(context.Background(), token)
		assert.Error(t, err, name)
	}

	_, err = resolver.Resolve(context.Background(), signToken(t, jwt.SigningMethodHS256, []byte(testKey), valid(jwt.MapClaims{"user_id": 7})))
	assert.ErrorIs(t, err, ErrUnknownAccount)
}
