package grpcremote

import (
	"context"

	"google.golang.org/grpc"

	"github.com/dmitrijs2005/gophvault/internal/remote"
)

const (
	ServiceName = "gophvault.sync.SyncService"

	PushMethod = "/" + ServiceName + "/Push"
	PullMethod = "/" + ServiceName + "/Pull"
	PingMethod = "/" + ServiceName + "/Ping"
)

type PushRequest struct {
	TenantID string          `json:"tenant_id"`
	Records  []remote.Record `json:"records"`
}

type PushResponse struct {
	Result remote.PushResult `json:"result"`
}

type PullRequest struct {
	TenantID string `json:"tenant_id"`
	Cursor   string `json:"cursor"`
	Limit    int    `json:"limit"`
}

type PullResponse struct {
	Batch remote.Batch `json:"batch"`
}

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}

// SyncServer is implemented by the sync server.
type SyncServer interface {
	Push(ctx context.Context, req *PushRequest) (*PushResponse, error)
	Pull(ctx context.Context, req *PullRequest) (*PullResponse, error)
	Ping(ctx context.Context, req *PingRequest) (*PingResponse, error)
}

func RegisterSyncServer(s grpc.ServiceRegistrar, srv SyncServer) {
	s.RegisterService(&ServiceDesc, srv)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Push", Handler: pushHandler},
		{MethodName: "Pull", Handler: pullHandler},
		{MethodName: "Ping", Handler: pingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gophvault/sync",
}

func pushHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PushRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).Push(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PushMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServer).Push(ctx, req.(*PushRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func pullHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PullRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).Pull(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServer).Pull(ctx, req.(*PullRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func pingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PingMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServer).Ping(ctx, req.(*PingRequest))
	}
	return interceptor(ctx, in, info, handler)
}
