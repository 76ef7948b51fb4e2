package web3

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// ChainSnapshot represents summarized network metadata for UI/reporting.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// TransactionRequest describes one outgoing contract call. It is created per
// operation, consumed immediately and never persisted.
type TransactionRequest struct {
	To       common.Address
	Data     []byte
	GasLimit uint64
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can interact with different networks uniformly.
// SignAndSend consumes one account nonce per successful call; implementations
// must serialize it internally so a single-account deployment never races on
// nonce assignment.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	EstimateGas(ctx context.Context, to common.Address, data []byte) (uint64, error)
	SignAndSend(ctx context.Context, req TransactionRequest) (common.Hash, error)
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	Close()
}
