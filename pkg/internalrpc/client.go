package internalrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ShardClient calls a peer's ShardService.
type ShardClient struct {
	conn *grpc.ClientConn
}

// NewShardClient wraps an established connection.
func NewShardClient(conn *grpc.ClientConn) *ShardClient {
	return &ShardClient{conn: conn}
}

// Dial opens a plaintext connection to a peer's internal RPC address.
// Anvil's internal cluster traffic is expected to run over a trusted
// network boundary (VPC/mesh); see SPEC_FULL.md's security section for the
// external-facing TLS/SigV4 boundary instead.
func Dial(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func (c *ShardClient) PutShard(ctx context.Context, req *PutShardRequest) (*PutShardResponse, error) {
	resp := new(PutShardResponse)
	if err := c.conn.Invoke(ctx, "/anvil.internal.ShardService/PutShard", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ShardClient) CommitShard(ctx context.Context, req *CommitShardRequest) (*CommitShardResponse, error) {
	resp := new(CommitShardResponse)
	if err := c.conn.Invoke(ctx, "/anvil.internal.ShardService/CommitShard", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ShardClient) GetShard(ctx context.Context, req *GetShardRequest) (*GetShardResponse, error) {
	resp := new(GetShardResponse)
	if err := c.conn.Invoke(ctx, "/anvil.internal.ShardService/GetShard", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ShardClient) DeleteShard(ctx context.Context, req *DeleteShardRequest) (*DeleteShardResponse, error) {
	resp := new(DeleteShardResponse)
	if err := c.conn.Invoke(ctx, "/anvil.internal.ShardService/DeleteShard", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
