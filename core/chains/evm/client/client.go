// Package client is a thin adapter over the four Ethereum JSON-RPC calls
// the queue manager needs, mirroring the shape of the teacher's
// core/chains/evm/client package (evmclient.Client) without pulling in its
// full multi-node failover machinery — out of scope per spec §1.
package client

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

// BlockParam is either a block height or the literal "latest", matching
// spec §6's description of the `block` RPC parameter.
type BlockParam struct {
	height *big.Int
}

// Latest is the BlockParam meaning "latest".
func Latest() BlockParam { return BlockParam{} }

// AtHeight is the BlockParam pinned to a specific block height.
func AtHeight(h *big.Int) BlockParam { return BlockParam{height: h} }

func (b BlockParam) String() string {
	if b.height == nil {
		return "latest"
	}
	return hexutil.EncodeBig(b.height)
}

// RPCError is the structured JSON-RPC error kind spec §2/§6 require:
// code + message, rather than a bare Go error string.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return e.Message
}

// ExtractRPCError unwraps err into an *RPCError if it originated from the
// node as a structured JSON-RPC error, matching go-ethereum's rpc.Error
// interface.
func ExtractRPCError(err error) *RPCError {
	if err == nil {
		return nil
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return &RPCError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
	}
	return nil
}

// TransactionByHashResult is the subset of eth_getTransactionByHash's
// response the manager inspects.
type TransactionByHashResult struct {
	Hash        common.Hash
	BlockNumber *big.Int // nil if not yet included in a block
}

// EthClient is the node adapter surface the queue manager depends on. A real
// implementation talks over JSON-RPC; tests substitute a fake.
type EthClient interface {
	GetBalance(ctx context.Context, addr common.Address, block BlockParam) (*big.Int, error)
	GetTransactionCount(ctx context.Context, addr common.Address, block BlockParam) (uint64, error)
	GetTransactionByHash(ctx context.Context, hash common.Hash) (*TransactionByHashResult, error)
	SendRawTransaction(ctx context.Context, raw []byte) error
}

type rpcClient struct {
	rpc *rpc.Client
}

// Dial connects to an Ethereum node's JSON-RPC endpoint.
func Dial(ctx context.Context, url string) (EthClient, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "client: failed to dial ethereum node")
	}
	return &rpcClient{rpc: c}, nil
}

func (c *rpcClient) GetBalance(ctx context.Context, addr common.Address, block BlockParam) (*big.Int, error) {
	var result hexutil.Big
	if err := c.rpc.CallContext(ctx, &result, "eth_getBalance", addr, block.String()); err != nil {
		return nil, errors.Wrap(err, "eth_getBalance failed")
	}
	return (*big.Int)(&result), nil
}

func (c *rpcClient) GetTransactionCount(ctx context.Context, addr common.Address, block BlockParam) (uint64, error) {
	var result hexutil.Uint64
	if err := c.rpc.CallContext(ctx, &result, "eth_getTransactionCount", addr, block.String()); err != nil {
		return 0, errors.Wrap(err, "eth_getTransactionCount failed")
	}
	return uint64(result), nil
}

type rawTxByHash struct {
	Hash        common.Hash     `json:"hash"`
	BlockNumber *hexutil.Big    `json:"blockNumber"`
}

func (c *rpcClient) GetTransactionByHash(ctx context.Context, hash common.Hash) (*TransactionByHashResult, error) {
	var raw *rawTxByHash
	if err := c.rpc.CallContext(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
		return nil, errors.Wrap(err, "eth_getTransactionByHash failed")
	}
	if raw == nil {
		return nil, nil
	}
	res := &TransactionByHashResult{Hash: raw.Hash}
	if raw.BlockNumber != nil {
		res.BlockNumber = (*big.Int)(raw.BlockNumber)
	}
	return res, nil
}

func (c *rpcClient) SendRawTransaction(ctx context.Context, raw []byte) error {
	err := c.rpc.CallContext(ctx, nil, "eth_sendRawTransaction", hexutil.Encode(raw))
	return errors.Wrap(err, "eth_sendRawTransaction failed")
}
