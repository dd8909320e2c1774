// Package grpcremote is the wire contract of the sync server and a
// remote.Backend client for it.
package grpcremote

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/remote"
)

type Client struct {
	conn        grpc.ClientConnInterface
	closer      func() error
	accessToken string
}

// Dial connects to a sync server at addr. token is a device token issued by
// the server.
func Dial(addr, token string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: grpc client: %v", common.ErrSync, err)
	}
	c := NewClient(conn, token)
	c.closer = conn.Close
	return c, nil
}

// NewClient wraps an existing connection; Close leaves it open.
func NewClient(conn grpc.ClientConnInterface, token string) *Client {
	return &Client{conn: conn, accessToken: token}
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

func (c *Client) invoke(ctx context.Context, method string, req, reply any) error {
	err := c.conn.Invoke(withAccessToken(ctx, c.accessToken), method, req, reply,
		grpc.CallContentSubtype(CodecName))
	return fromStatus(err)
}

func (c *Client) Push(ctx context.Context, tenantID string, recs []remote.Record) (remote.PushResult, error) {
	var resp PushResponse
	if err := c.invoke(ctx, PushMethod, &PushRequest{TenantID: tenantID, Records: recs}, &resp); err != nil {
		return remote.PushResult{}, err
	}
	return resp.Result, nil
}

func (c *Client) Pull(ctx context.Context, tenantID, cursor string, limit int) (remote.Batch, error) {
	var resp PullResponse
	if err := c.invoke(ctx, PullMethod, &PullRequest{TenantID: tenantID, Cursor: cursor, Limit: limit}, &resp); err != nil {
		return remote.Batch{}, err
	}
	return resp.Batch, nil
}

func (c *Client) Ping(ctx context.Context) error {
	var resp PingResponse
	return c.invoke(ctx, PingMethod, &PingRequest{}, &resp)
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// fromStatus maps a gRPC status back onto the sentinel taxonomy.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", common.ErrSync, err)
	}
	var target error
	switch st.Code() {
	case codes.InvalidArgument:
		target = common.ErrInvalidInput
	case codes.Unauthenticated:
		target = common.ErrAuthentication
	case codes.PermissionDenied:
		target = common.ErrAuthorization
	case codes.DataLoss:
		target = common.ErrSyncCorruption
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	default:
		target = common.ErrSync
	}
	return fmt.Errorf("%w: %s", target, st.Message())
}

// ToStatus maps a backend error to a gRPC status for the server side.
func ToStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case common.IsAny(err, common.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case common.IsAny(err, common.ErrSyncCorruption):
		return status.Error(codes.DataLoss, err.Error())
	case common.IsAny(err, common.ErrAuthorization):
		return status.Error(codes.PermissionDenied, err.Error())
	case common.IsAny(err, common.ErrAuthentication):
		return status.Error(codes.Unauthenticated, err.Error())
	case common.IsAny(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case common.IsAny(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case common.IsAny(err, common.ErrSync):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
