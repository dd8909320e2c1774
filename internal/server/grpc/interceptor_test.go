package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/remote/grpcremote"
	"github.com/dmitrijs2005/gophvault/internal/server/auth"
)

func withToken(token string) context.Context {
	return metadata.NewIncomingContext(context.Background(),
		metadata.Pairs(common.AccessTokenHeaderName, token))
}

func TestInterceptor_PingAllowsWithoutToken(t *testing.T) {
	s := newTestServer()
	info := &grpc.UnaryServerInfo{FullMethod: grpcremote.PingMethod}
	called := false

	resp, err := s.accessTokenInterceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		called = true
		return "ok", nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "ok", resp)
}

func TestInterceptor_MissingToken(t *testing.T) {
	s := newTestServer()
	info := &grpc.UnaryServerInfo{FullMethod: grpcremote.PushMethod}

	_, err := s.accessTokenInterceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		t.Fatal("handler should not be called when token missing")
		return nil, nil
	})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestInterceptor_ExpiredToken(t *testing.T) {
	s := newTestServer()
	tok, err := auth.GenerateToken("acme", "d1", []byte(testSecret), -time.Second)
	require.NoError(t, err)

	info := &grpc.UnaryServerInfo{FullMethod: grpcremote.PullMethod}
	_, err = s.accessTokenInterceptor(withToken(tok), nil, info, func(ctx context.Context, req any) (any, error) {
		t.Fatal("handler should not be called with an expired token")
		return nil, nil
	})
	st, _ := status.FromError(err)
	assert.Equal(t, codes.Unauthenticated, st.Code())
	assert.Equal(t, common.ErrSessionExpired.Error(), st.Message())
}

func TestInterceptor_ValidTokenBindsClaims(t *testing.T) {
	s := newTestServer()
	info := &grpc.UnaryServerInfo{FullMethod: grpcremote.PullMethod}

	_, err := s.accessTokenInterceptor(withToken(deviceToken(t, "acme")), nil, info, func(ctx context.Context, req any) (any, error) {
		claims, err := authorizeTenant(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, "laptop", claims.DeviceID)

		_, err = authorizeTenant(ctx, "globex")
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
		return nil, nil
	})
	require.NoError(t, err)
}
