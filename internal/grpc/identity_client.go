package grpc

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"webchat-service/internal/models"
	"webchat-service/internal/observability"
)

const (
	validateTokenMethod = "/identity.IdentityService/ValidateToken"
	getUserMethod       = "/identity.IdentityService/GetUser"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUserNotFound = errors.New("user not found")
)

// IdentityClient talks to the identity service. Requests and responses are
// google.protobuf.Struct values so no generated stubs are needed.
type IdentityClient struct {
	conn grpc.ClientConnInterface
}

// NewIdentityClient constructs the wrapper.
func NewIdentityClient(conn grpc.ClientConnInterface) *IdentityClient {
	return &IdentityClient{conn: conn}
}

// Dial opens an instrumented insecure connection to addr.
func Dial(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithUnaryInterceptor(observability.GRPCClientMetricsUnaryInterceptor()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial identity service %s: %w", addr, err)
	}
	return conn, nil
}

// ValidateToken verifies the token and returns the authenticated user id.
func (c *IdentityClient) ValidateToken(ctx context.Context, token string) (int, error) {
	req, err := structpb.NewStruct(map[string]interface{}{"token": token})
	if err != nil {
		return 0, err
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, validateTokenMethod, req, resp); err != nil {
		return 0, err
	}

	fields := resp.GetFields()
	userID := int(fields["user_id"].GetNumberValue())
	if !fields["valid"].GetBoolValue() || userID == 0 {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

// GetUser fetches the display identity of userID.
func (c *IdentityClient) GetUser(ctx context.Context, userID int) (models.Identity, error) {
	req, err := structpb.NewStruct(map[string]interface{}{"user_id": userID})
	if err != nil {
		return models.Identity{}, err
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, getUserMethod, req, resp); err != nil {
		return models.Identity{}, err
	}

	fields := resp.GetFields()
	id := int(fields["id"].GetNumberValue())
	if id == 0 {
		return models.Identity{}, ErrUserNotFound
	}
	identity := models.Identity{ID: id, Username: fields["username"].GetStringValue()}
	if avatar := fields["avatar"].GetStringValue(); avatar != "" {
		identity.Avatar = &avatar
	}
	return identity, nil
}
