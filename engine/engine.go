// Package engine talks the Engine API to the L2 execution client.
package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/specularl2/specular-node/eth"
)

// Engine is the interface of the execution engine the driver builds on. The
// three calls mirror the Engine API; transport concerns stay out of the
// interface.
type Engine interface {
	ForkchoiceUpdate(ctx context.Context, fc *eth.ForkchoiceState, attributes *eth.PayloadAttributes) (*eth.ForkchoiceUpdatedResult, error)
	NewPayload(ctx context.Context, payload *eth.ExecutionPayload) (*eth.PayloadStatusV1, error)
	GetPayload(ctx context.Context, payloadID eth.PayloadID) (*eth.ExecutionPayload, error)
}

// APIClient is an Engine backed by an Engine API JSON-RPC endpoint. It sends
// each call once over the plain connection: it adds no JWT authentication and
// does not retry.
type APIClient struct {
	rpc *rpc.Client
}

var _ Engine = (*APIClient)(nil)

func NewAPIClient(client *rpc.Client) *APIClient {
	return &APIClient{rpc: client}
}

func Dial(ctx context.Context, endpoint string) (*APIClient, error) {
	client, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return NewAPIClient(client), nil
}

func (c *APIClient) ForkchoiceUpdate(ctx context.Context, fc *eth.ForkchoiceState, attributes *eth.PayloadAttributes) (*eth.ForkchoiceUpdatedResult, error) {
	var result eth.ForkchoiceUpdatedResult
	err := c.rpc.CallContext(ctx, &result, "engine_forkchoiceUpdatedV1", fc, attributes)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *APIClient) NewPayload(ctx context.Context, payload *eth.ExecutionPayload) (*eth.PayloadStatusV1, error) {
	var result eth.PayloadStatusV1
	err := c.rpc.CallContext(ctx, &result, "engine_newPayloadV1", payload)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *APIClient) GetPayload(ctx context.Context, payloadID eth.PayloadID) (*eth.ExecutionPayload, error) {
	var result eth.ExecutionPayload
	err := c.rpc.CallContext(ctx, &result, "engine_getPayloadV1", payloadID)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *APIClient) Close() {
	c.rpc.Close()
}
