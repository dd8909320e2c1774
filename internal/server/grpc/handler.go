package grpc

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/gophvault/internal/remote"
	"github.com/dmitrijs2005/gophvault/internal/remote/grpcremote"
)

func (s *GRPCServer) Push(ctx context.Context, req *grpcremote.PushRequest) (*grpcremote.PushResponse, error) {
	claims, err := authorizeTenant(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordsPushed.Add(float64(len(req.Records)))
	for i := range req.Records {
		if err := validRecord(&req.Records[i]); err != nil {
			s.metrics.RecordsRejected.Add(float64(len(req.Records)))
			return nil, err
		}
	}

	res, err := s.backend.Push(ctx, req.TenantID, req.Records)
	if err != nil {
		s.logger.Error(ctx, "push failed", "tenant", req.TenantID, "error", err.Error())
		return nil, grpcremote.ToStatus(err)
	}

	s.metrics.RecordsAccepted.Add(float64(res.Accepted))
	s.metrics.RecordsRejected.Add(float64(len(res.Skipped)))
	s.logger.Info(ctx, "push", "tenant", req.TenantID, "device", claims.DeviceID,
		"accepted", res.Accepted, "skipped", len(res.Skipped))

	return &grpcremote.PushResponse{Result: res}, nil
}

func (s *GRPCServer) Pull(ctx context.Context, req *grpcremote.PullRequest) (*grpcremote.PullResponse, error) {
	claims, err := authorizeTenant(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	batch, err := s.backend.Pull(ctx, req.TenantID, req.Cursor, req.Limit)
	if err != nil {
		s.logger.Error(ctx, "pull failed", "tenant", req.TenantID, "error", err.Error())
		return nil, grpcremote.ToStatus(err)
	}

	s.metrics.RecordsPulled.Add(float64(len(batch.Records)))
	s.logger.Debug(ctx, "pull", "tenant", req.TenantID, "device", claims.DeviceID,
		"records", len(batch.Records), "cursor", batch.Cursor)

	return &grpcremote.PullResponse{Batch: batch}, nil
}

func (s *GRPCServer) Ping(ctx context.Context, req *grpcremote.PingRequest) (*grpcremote.PingResponse, error) {
	return &grpcremote.PingResponse{Status: "OK"}, nil
}

func validRecord(r *remote.Record) error {
	switch {
	case r.Namespace == "" || r.Key == "":
		return status.Error(codes.InvalidArgument, "record without namespace or key")
	case len(r.MAC) == 0:
		return status.Errorf(codes.InvalidArgument, "record %s has no mac", r.ID())
	case len(r.Clock) == 0:
		return status.Errorf(codes.InvalidArgument, "record %s has no clock", r.ID())
	}
	return nil
}
