package externalrpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/anvilfs/anvil/pkg/anvilerr"
	"github.com/anvilfs/anvil/pkg/objectmanager"
	"github.com/anvilfs/anvil/pkg/types"
)

// ObjectServer exposes the non-streaming object operations over gRPC.
// PutObject/GetObject are served over pkg/s3gateway's HTTP streaming
// surface instead of here — hand-rolling bidirectional gRPC streaming
// without protoc-generated stubs buys nothing the S3 gateway doesn't
// already cover for byte-stream transfer.
type ObjectServer interface {
	HeadObject(ctx context.Context, req *HeadObjectRequest) (*HeadObjectResponse, error)
	DeleteObject(ctx context.Context, req *DeleteObjectRequest) (*Empty, error)
	ListObjects(ctx context.Context, req *ListObjectsRequest) (*ListObjectsResponse, error)
}

type HeadObjectRequest struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

type HeadObjectResponse struct {
	Object *types.Object `json:"object"`
}

type DeleteObjectRequest struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

type ListObjectsRequest struct {
	Bucket     string `json:"bucket"`
	Prefix     string `json:"prefix"`
	StartAfter string `json:"start_after"`
	Delimiter  string `json:"delimiter"`
	Limit      int    `json:"limit"`
}

type ListObjectsResponse struct {
	Objects        []*types.Object `json:"objects"`
	CommonPrefixes []string        `json:"common_prefixes"`
}

type objectServer struct {
	manager *objectmanager.Manager
}

// NewObjectServer builds an ObjectServer over manager.
func NewObjectServer(manager *objectmanager.Manager) ObjectServer {
	return &objectServer{manager: manager}
}

func (s *objectServer) HeadObject(ctx context.Context, req *HeadObjectRequest) (*HeadObjectResponse, error) {
	claims, _ := ClaimsFromContext(ctx)
	obj, err := s.manager.HeadObject(claims, req.Bucket, req.Key)
	if err != nil {
		return nil, err
	}
	return &HeadObjectResponse{Object: obj}, nil
}

func (s *objectServer) DeleteObject(ctx context.Context, req *DeleteObjectRequest) (*Empty, error) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil, anvilerr.New(anvilerr.Unauthenticated, "missing claims")
	}
	if err := s.manager.DeleteObject(claims, req.Bucket, req.Key); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *objectServer) ListObjects(ctx context.Context, req *ListObjectsRequest) (*ListObjectsResponse, error) {
	claims, _ := ClaimsFromContext(ctx)
	result, err := s.manager.ListObjects(claims, req.Bucket, req.Prefix, req.StartAfter, req.Delimiter, req.Limit)
	if err != nil {
		return nil, err
	}
	return &ListObjectsResponse{Objects: result.Objects, CommonPrefixes: result.CommonPrefixes}, nil
}

func headObjectHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(HeadObjectRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ObjectServer).HeadObject(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/anvil.external.ObjectService/HeadObject"}
	return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ObjectServer).HeadObject(ctx, req.(*HeadObjectRequest))
	})
}

func deleteObjectHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(DeleteObjectRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ObjectServer).DeleteObject(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/anvil.external.ObjectService/DeleteObject"}
	return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ObjectServer).DeleteObject(ctx, req.(*DeleteObjectRequest))
	})
}

func listObjectsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ListObjectsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ObjectServer).ListObjects(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/anvil.external.ObjectService/ListObjects"}
	return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ObjectServer).ListObjects(ctx, req.(*ListObjectsRequest))
	})
}

// ObjectServiceDesc is the hand-written grpc.ServiceDesc for ObjectService.
var ObjectServiceDesc = grpc.ServiceDesc{
	ServiceName: "anvil.external.ObjectService",
	HandlerType: (*ObjectServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "HeadObject", Handler: headObjectHandler},
		{MethodName: "DeleteObject", Handler: deleteObjectHandler},
		{MethodName: "ListObjects", Handler: listObjectsHandler},
	},
	Metadata: "externalrpc.proto",
}

// RegisterObjectServer registers srv against s.
func RegisterObjectServer(s *grpc.Server, srv ObjectServer) {
	s.RegisterService(&ObjectServiceDesc, srv)
}
