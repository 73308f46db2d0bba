// Package rpccodec registers a JSON-based grpc.Codec under the name "proto"
// so Anvil's internal and external RPC services can define plain Go structs
// for request/response messages instead of requiring protoc-generated
// stubs. Grounded on grpc-go's encoding.Codec interface (the teacher depends
// on google.golang.org/grpc directly; this fills the codegen gap without
// adding a protoc build step).
package rpccodec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Name is registered as the content-subtype grpc-go selects by default.
const Name = "proto"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return Name }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpccodec: marshal: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpccodec: unmarshal: %w", err)
	}
	return nil
}
