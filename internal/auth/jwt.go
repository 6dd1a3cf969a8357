package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"webchat-service/internal/models"
	"webchat-service/internal/repositories"
)

// IdentityLookup is satisfied by repositories.AccountRepository.
type IdentityLookup interface {
	GetIdentity(ctx context.Context, id int) (models.Identity, error)
}

// JWTResolver verifies HS256 access tokens locally and looks the account up
// in the shared database.
type JWTResolver struct {
	key      []byte
	accounts IdentityLookup
	now      func() time.Time
}

func NewJWTResolver(signingKey string, accounts IdentityLookup) *JWTResolver {
	return &JWTResolver{key: []byte(signingKey), accounts: accounts, now: time.Now}
}

func (r *JWTResolver) Resolve(ctx context.Context, raw string) (models.Identity, error) {
	if len(r.key) == 0 {
		return models.Identity{}, errors.New("no signing key configured")
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return r.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	)
	if err != nil {
		return models.Identity{}, fmt.Errorf("parse token: %w", err)
	}

	if typ, ok := claims["token_type"]; ok && typ != "access" {
		return models.Identity{}, fmt.Errorf("token_type %v is not an access token", typ)
	}

	userID, err := userIDClaim(claims)
	if err != nil {
		return models.Identity{}, err
	}

	identity, err := r.accounts.GetIdentity(ctx, userID)
	if errors.Is(err, repositories.ErrAccountNotFound) {
		return models.Identity{}, fmt.Errorf("%w: %d", ErrUnknownAccount, userID)
	}
	if err != nil {
		return models.Identity{}, err
	}
	return identity, nil
}

func userIDClaim(claims jwt.MapClaims) (int, error) {
	switch v := claims["user_id"].(type) {
	case float64:
		if v > 0 && v == float64(int(v)) {
			return int(v), nil
		}
	case string:
		if id, err := strconv.Atoi(v); err == nil && id > 0 {
			return id, nil
		}
	}
	return 0, errors.New("token has no valid user_id claim")
}
