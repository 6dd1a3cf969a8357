package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// IdentityServer is the server side of the identity service contract. The
// chat service only consumes it; implementations live in tests and local
// development stubs.
type IdentityServer interface {
	ValidateToken(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetUser(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var identityServiceDesc = grpc.ServiceDesc{
	ServiceName: "identity.IdentityService",
	HandlerType: (*IdentityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ValidateToken", Handler: identityHandler(IdentityServer.ValidateToken, validateTokenMethod)},
		{MethodName: "GetUser", Handler: identityHandler(IdentityServer.GetUser, getUserMethod)},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterIdentityServer registers srv on s.
func RegisterIdentityServer(s grpc.ServiceRegistrar, srv IdentityServer) {
	s.RegisterService(&identityServiceDesc, srv)
}

type identityMethod func(IdentityServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func identityHandler(call identityMethod, fullMethod string) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(IdentityServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(IdentityServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
