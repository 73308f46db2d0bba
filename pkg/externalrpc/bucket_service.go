package externalrpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/anvilfs/anvil/pkg/anvilerr"
	"github.com/anvilfs/anvil/pkg/bucketmanager"
	"github.com/anvilfs/anvil/pkg/types"
)

// BucketServer exposes bucketmanager over gRPC.
type BucketServer interface {
	CreateBucket(ctx context.Context, req *CreateBucketRequest) (*BucketResponse, error)
	DeleteBucket(ctx context.Context, req *DeleteBucketRequest) (*Empty, error)
	ListBuckets(ctx context.Context, req *Empty) (*ListBucketsResponse, error)
	SetBucketPublicAccess(ctx context.Context, req *SetBucketPublicAccessRequest) (*Empty, error)
}

type Empty struct{}

type CreateBucketRequest struct {
	Name   string `json:"name"`
	Region string `json:"region"`
}

type DeleteBucketRequest struct {
	Name string `json:"name"`
}

type SetBucketPublicAccessRequest struct {
	Name   string `json:"name"`
	Public bool   `json:"public"`
}

type BucketResponse struct {
	Bucket *types.Bucket `json:"bucket"`
}

type ListBucketsResponse struct {
	Buckets []*types.Bucket `json:"buckets"`
}

type bucketServer struct {
	manager *bucketmanager.Manager
}

// NewBucketServer builds a BucketServer over manager.
func NewBucketServer(manager *bucketmanager.Manager) BucketServer {
	return &bucketServer{manager: manager}
}

func (s *bucketServer) CreateBucket(ctx context.Context, req *CreateBucketRequest) (*BucketResponse, error) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil, anvilerr.New(anvilerr.Unauthenticated, "missing claims")
	}
	b, err := s.manager.CreateBucket(claims, req.Name, req.Region)
	if err != nil {
		return nil, err
	}
	return &BucketResponse{Bucket: b}, nil
}

func (s *bucketServer) DeleteBucket(ctx context.Context, req *DeleteBucketRequest) (*Empty, error) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil, anvilerr.New(anvilerr.Unauthenticated, "missing claims")
	}
	if err := s.manager.DeleteBucket(claims, req.Name); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *bucketServer) ListBuckets(ctx context.Context, req *Empty) (*ListBucketsResponse, error) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil, anvilerr.New(anvilerr.Unauthenticated, "missing claims")
	}
	buckets, err := s.manager.ListBuckets(claims)
	if err != nil {
		return nil, err
	}
	return &ListBucketsResponse{Buckets: buckets}, nil
}

func (s *bucketServer) SetBucketPublicAccess(ctx context.Context, req *SetBucketPublicAccessRequest) (*Empty, error) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil, anvilerr.New(anvilerr.Unauthenticated, "missing claims")
	}
	if err := s.manager.SetBucketPublicAccess(claims, req.Name, req.Public); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func createBucketHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(CreateBucketRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BucketServer).CreateBucket(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/anvil.external.BucketService/CreateBucket"}
	return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BucketServer).CreateBucket(ctx, req.(*CreateBucketRequest))
	})
}

func deleteBucketHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(DeleteBucketRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BucketServer).DeleteBucket(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/anvil.external.BucketService/DeleteBucket"}
	return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BucketServer).DeleteBucket(ctx, req.(*DeleteBucketRequest))
	})
}

func listBucketsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(Empty)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BucketServer).ListBuckets(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/anvil.external.BucketService/ListBuckets"}
	return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BucketServer).ListBuckets(ctx, req.(*Empty))
	})
}

func setBucketPublicAccessHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(SetBucketPublicAccessRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BucketServer).SetBucketPublicAccess(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/anvil.external.BucketService/SetBucketPublicAccess"}
	return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BucketServer).SetBucketPublicAccess(ctx, req.(*SetBucketPublicAccessRequest))
	})
}

// BucketServiceDesc is the hand-written grpc.ServiceDesc for BucketService.
var BucketServiceDesc = grpc.ServiceDesc{
	ServiceName: "anvil.external.BucketService",
	HandlerType: (*BucketServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateBucket", Handler: createBucketHandler},
		{MethodName: "DeleteBucket", Handler: deleteBucketHandler},
		{MethodName: "ListBuckets", Handler: listBucketsHandler},
		{MethodName: "SetBucketPublicAccess", Handler: setBucketPublicAccessHandler},
	},
	Metadata: "externalrpc.proto",
}

// RegisterBucketServer registers srv against s.
func RegisterBucketServer(s *grpc.Server, srv BucketServer) {
	s.RegisterService(&BucketServiceDesc, srv)
}
