package grpc

import (
	"context"
	"errors"
	"path"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/remote/grpcremote"
	"github.com/dmitrijs2005/gophvault/internal/server/auth"
)

type ctxKey string

const claimsKey ctxKey = "claims"

// protected lists the methods that need a device token.
var protected = map[string]bool{
	grpcremote.PushMethod: true,
	grpcremote.PullMethod: true,
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if !protected[info.FullMethod] {
		return handler(ctx, req)
	}

	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(common.AccessTokenHeaderName)
		if len(values) > 0 {
			accessToken = values[0]
		}
	}
	if len(accessToken) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	claims, err := auth.ParseToken(accessToken, s.jwtSecret)
	if errors.Is(err, common.ErrSessionExpired) {
		return nil, status.Error(codes.Unauthenticated, common.ErrSessionExpired.Error())
	}
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	return handler(context.WithValue(ctx, claimsKey, claims), req)
}

func (s *GRPCServer) metricsInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	s.metrics.Requests.WithLabelValues(path.Base(info.FullMethod), status.Code(err).String()).Inc()
	return resp, err
}

// authorizeTenant fails unless the token in ctx was issued for tenantID.
func authorizeTenant(ctx context.Context, tenantID string) (*auth.Claims, error) {
	claims, ok := ctx.Value(claimsKey).(*auth.Claims)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}
	if tenantID == "" || claims.TenantID != tenantID {
		return nil, status.Error(codes.PermissionDenied, "token not valid for tenant")
	}
	return claims, nil
}
