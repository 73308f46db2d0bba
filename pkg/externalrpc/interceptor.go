// Package externalrpc is the external-facing gRPC façade: a thin
// delegation layer over pkg/bucketmanager and pkg/objectmanager, with a
// bearer-claims interceptor, per SPEC_FULL.md §4.10.
//
// Grounded on the teacher's pkg/api/server.go request/interceptor
// structure (google.golang.org/grpc), generalized from container-API
// verbs to bucket/object verbs.
package externalrpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/anvilfs/anvil/pkg/anvilerr"
	"github.com/anvilfs/anvil/pkg/auth"
	"github.com/anvilfs/anvil/pkg/internalrpc"
	"github.com/anvilfs/anvil/pkg/types"
)

type claimsKey struct{}

// ClaimsFromContext retrieves the claims record an interceptor attached.
func ClaimsFromContext(ctx context.Context) (*types.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*types.Claims)
	return c, ok
}

// publicMethods bypass claims verification (token minting itself).
var publicMethods = map[string]bool{
	"/anvil.external.AuthService/MintToken": true,
}

// AuthInterceptor verifies the bearer token on every method except
// publicMethods, attaching the decoded Claims to the request context.
func AuthInterceptor(verifier *auth.TokenManager) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		token, ok := internalrpc.TokenFromContext(ctx)
		if !ok {
			return nil, anvilerr.New(anvilerr.Unauthenticated, "missing bearer token")
		}
		claims, err := verifier.Verify(token)
		if err != nil {
			return nil, err
		}
		ctx = context.WithValue(ctx, claimsKey{}, claims)
		return handler(ctx, req)
	}
}
