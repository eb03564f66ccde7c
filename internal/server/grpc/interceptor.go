package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/filerelay/internal/common"
	"github.com/dmitrijs2005/filerelay/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// authedStream carries the caller identity in its context.
type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

func accessToken(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(common.AccessTokenHeaderName)
		if len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

// accessTokenInterceptor rejects relay streams without a valid access
// token. Expired tokens are reported with the ErrTokenExpired message so
// clients can tell them apart.
func (s *GRPCServer) accessTokenInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	token := accessToken(ss.Context())
	if len(token) == 0 {
		return status.Error(codes.Unauthenticated, "missing token")
	}

	id, err := auth.ParseToken(token, s.jwtSecret)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return status.Error(codes.Unauthenticated, common.ErrTokenExpired.Error())
		}
		return status.Error(codes.Unauthenticated, "invalid token")
	}

	return handler(srv, &authedStream{ServerStream: ss, ctx: auth.WithIdentity(ss.Context(), id)})
}
