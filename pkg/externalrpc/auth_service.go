package externalrpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/anvilfs/anvil/pkg/anvilerr"
)

// AuthServer mints bearer tokens for an app's granted policies.
type AuthServer interface {
	MintToken(ctx context.Context, req *MintTokenRequest) (*MintTokenResponse, error)
}

// MintTokenRequest authenticates an app by client id/secret (secret
// comparison happens against the app's EncryptedSecret; decryption key is
// process-wide, configured alongside the JWT secret).
type MintTokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// MintTokenResponse carries the signed bearer token.
type MintTokenResponse struct {
	Token string `json:"token"`
}

// NewAuthServer builds an AuthServer. resolve maps a client id/secret
// pair to (appID, tenantID, scopes) or an error; it is supplied by the
// caller since secret verification depends on the configured encryption
// key, which lives outside this package.
func NewAuthServer(resolve func(clientID, clientSecret string) (appID, tenantID int64, scopes []string, err error), mint func(appID, tenantID int64, scopes []string) (string, error)) AuthServer {
	return &simpleAuthServer{resolve: resolve, mint: mint}
}

type simpleAuthServer struct {
	resolve func(clientID, clientSecret string) (appID, tenantID int64, scopes []string, err error)
	mint    func(appID, tenantID int64, scopes []string) (string, error)
}

func (s *simpleAuthServer) MintToken(ctx context.Context, req *MintTokenRequest) (*MintTokenResponse, error) {
	appID, tenantID, scopes, err := s.resolve(req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, anvilerr.Wrap(anvilerr.Unauthenticated, "resolve app credentials", err)
	}
	token, err := s.mint(appID, tenantID, scopes)
	if err != nil {
		return nil, err
	}
	return &MintTokenResponse{Token: token}, nil
}

func mintTokenHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(MintTokenRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServer).MintToken(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/anvil.external.AuthService/MintToken"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AuthServer).MintToken(ctx, req.(*MintTokenRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// AuthServiceDesc is the hand-written grpc.ServiceDesc for AuthService.
var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: "anvil.external.AuthService",
	HandlerType: (*AuthServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "MintToken", Handler: mintTokenHandler},
	},
	Metadata: "externalrpc.proto",
}

// RegisterAuthServer registers srv against s.
func RegisterAuthServer(s *grpc.Server, srv AuthServer) {
	s.RegisterService(&AuthServiceDesc, srv)
}
