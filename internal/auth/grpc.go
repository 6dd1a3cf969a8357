package auth

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	grpcclient "webchat-service/internal/grpc"
	"webchat-service/internal/models"
)

// IdentityService is satisfied by grpcclient.IdentityClient.
type IdentityService interface {
	ValidateToken(ctx context.Context, token string) (int, error)
	GetUser(ctx context.Context, userID int) (models.Identity, error)
}

// IdentityMirror stores identities resolved remotely. Satisfied by
// repositories.AccountRepo.
type IdentityMirror interface {
	SaveIdentity(ctx context.Context, identity models.Identity) error
}

// GRPCResolver delegates token validation to the identity service. When a
// mirror is set, every resolved identity is written to it before the
// session may post, since stored messages reference the local account row.
type GRPCResolver struct {
	identity IdentityService
	mirror   IdentityMirror
}

// NewGRPCResolver builds a resolver; mirror may be nil.
func NewGRPCResolver(identity IdentityService, mirror IdentityMirror) *GRPCResolver {
	return &GRPCResolver{identity: identity, mirror: mirror}
}

func (r *GRPCResolver) Resolve(ctx context.Context, token string) (models.Identity, error) {
	userID, err := r.identity.ValidateToken(ctx, token)
	if err != nil {
		return models.Identity{}, fmt.Errorf("validate token: %w", err)
	}

	identity, err := r.identity.GetUser(ctx, userID)
	if errors.Is(err, grpcclient.ErrUserNotFound) || status.Code(err) == codes.NotFound {
		return models.Identity{}, fmt.Errorf("%w: %d", ErrUnknownAccount, userID)
	}
	if err != nil {
		return models.Identity{}, fmt.Errorf("get user %d: %w", userID, err)
	}
	if r.mirror != nil {
		if err := r.mirror.SaveIdentity(ctx, identity); err != nil {
			return models.Identity{}, fmt.Errorf("mirror account %d: %w", userID, err)
		}
	}
	return identity, nil
}
