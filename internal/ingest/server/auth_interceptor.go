// Package server exposes the OTLP gRPC ingest surface. Each signal has its
// own Export server; all three resolve correlation envelopes and append to a
// bounded write buffer, shedding load instead of blocking the exporter.
package server

import (
	"context"
	"errors"
	"strings"

	"github.com/pharos-dev/pharos/internal/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const bearerPrefix = "bearer "

// NewAuthInterceptor authorizes every ingest RPC before its payload is
// decoded. The project scope is not known until resolution, so the check is
// capability-only here.
func NewAuthInterceptor(checker auth.Checker) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		token, err := bearerToken(ctx)
		if err != nil {
			return nil, err
		}
		if err := checker.Check(ctx, token, auth.CapabilityWrite, ""); err != nil {
			return nil, authStatus(err)
		}
		return handler(ctx, req)
	}
}

func bearerToken(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing request metadata")
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", status.Error(codes.Unauthenticated, "missing authorization header")
	}
	header := values[0]
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", status.Error(codes.Unauthenticated, "malformed authorization header")
	}
	return header[len(bearerPrefix):], nil
}

func authStatus(err error) error {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "invalid credential")
	case errors.Is(err, auth.ErrDenied):
		return status.Error(codes.PermissionDenied, "missing telemetry:write capability")
	default:
		return status.Error(codes.Internal, "authorization check failed")
	}
}
