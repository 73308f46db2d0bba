package internalrpc

import (
	"context"

	"google.golang.org/grpc/metadata"
)

const bearerMetadataKey = "authorization"

// ContextWithToken attaches a bearer token to an outgoing client context via
// grpc metadata, mirroring the "Authorization: Bearer ..." convention used
// at the external HTTP/S3 boundary.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, bearerMetadataKey, "Bearer "+token)
}

// TokenFromContext extracts the bearer token from an incoming server
// context's metadata, if present.
func TokenFromContext(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	values := md.Get(bearerMetadataKey)
	if len(values) == 0 {
		return "", false
	}
	const prefix = "Bearer "
	v := values[0]
	if len(v) >= len(prefix) && v[:len(prefix)] == prefix {
		return v[len(prefix):], true
	}
	return v, true
}
