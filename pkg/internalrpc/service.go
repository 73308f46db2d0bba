// Package internalrpc is the peer-to-peer shard protocol: PutShard,
// CommitShard, GetShard, and DeleteShard, called by pkg/objectmanager
// against the peers pkg/placement selected for an object key.
//
// Generated protoc stubs are not available in this environment, so the
// service is registered by hand against grpc.ServiceDesc — the same
// low-level API protoc-gen-go-grpc emits into, just written directly — and
// requests/responses are plain JSON-tagged structs carried by pkg/rpccodec.
// Grounded on the teacher's pkg/worker.go + pkg/api/server.go client/server
// pairing (google.golang.org/grpc, grpc/credentials), generalized from
// container lifecycle RPCs to shard byte-stream RPCs.
package internalrpc

import (
	"context"

	"google.golang.org/grpc"

	_ "github.com/anvilfs/anvil/pkg/rpccodec" // registers the "proto" JSON codec
)

// ShardServer is implemented by ShardStore (server.go), which adapts
// pkg/localstore.
type ShardServer interface {
	PutShard(ctx context.Context, req *PutShardRequest) (*PutShardResponse, error)
	CommitShard(ctx context.Context, req *CommitShardRequest) (*CommitShardResponse, error)
	GetShard(ctx context.Context, req *GetShardRequest) (*GetShardResponse, error)
	DeleteShard(ctx context.Context, req *DeleteShardRequest) (*DeleteShardResponse, error)
}

// PutShardRequest carries one shard's bytes for a given upload.
type PutShardRequest struct {
	UploadID   string `json:"upload_id"`
	ShardIndex int    `json:"shard_index"`
	Data       []byte `json:"data"`
}

// PutShardResponse acknowledges receipt.
type PutShardResponse struct{}

// CommitShardRequest atomically promotes a staged shard.
type CommitShardRequest struct {
	UploadID    string `json:"upload_id"`
	ShardIndex  int    `json:"shard_index"`
	ContentHash string `json:"content_hash"`
}

// CommitShardResponse acknowledges the commit.
type CommitShardResponse struct{}

// GetShardRequest fetches one committed shard by content hash.
type GetShardRequest struct {
	ContentHash string `json:"content_hash"`
	ShardIndex  int    `json:"shard_index"`
}

// GetShardResponse carries the shard's bytes.
type GetShardResponse struct {
	Data []byte `json:"data"`
}

// DeleteShardRequest removes one committed shard.
type DeleteShardRequest struct {
	ContentHash string `json:"content_hash"`
	ShardIndex  int    `json:"shard_index"`
}

// DeleteShardResponse acknowledges the delete.
type DeleteShardResponse struct{}

func putShardHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(PutShardRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ShardServer).PutShard(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/anvil.internal.ShardService/PutShard"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ShardServer).PutShard(ctx, req.(*PutShardRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func commitShardHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(CommitShardRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ShardServer).CommitShard(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/anvil.internal.ShardService/CommitShard"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ShardServer).CommitShard(ctx, req.(*CommitShardRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func getShardHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(GetShardRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ShardServer).GetShard(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/anvil.internal.ShardService/GetShard"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ShardServer).GetShard(ctx, req.(*GetShardRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func deleteShardHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(DeleteShardRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ShardServer).DeleteShard(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/anvil.internal.ShardService/DeleteShard"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ShardServer).DeleteShard(ctx, req.(*DeleteShardRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// ServiceDesc is the hand-written grpc.ServiceDesc for ShardService,
// equivalent to what protoc-gen-go-grpc would emit.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "anvil.internal.ShardService",
	HandlerType: (*ShardServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PutShard", Handler: putShardHandler},
		{MethodName: "CommitShard", Handler: commitShardHandler},
		{MethodName: "GetShard", Handler: getShardHandler},
		{MethodName: "DeleteShard", Handler: deleteShardHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internalrpc.proto",
}

// RegisterShardServer registers srv against s using ServiceDesc.
func RegisterShardServer(s *grpc.Server, srv ShardServer) {
	s.RegisterService(&ServiceDesc, srv)
}
