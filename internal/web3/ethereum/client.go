package ethereum

import (
	"context"
	stdErrors "errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"KlimaFlow-Chain/internal/wallet"
	"KlimaFlow-Chain/internal/web3"

	xerrors "KlimaFlow-Chain/internal/errors"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name            string
	RPCURL          string
	Notes           string
	EstimateTimeout time.Duration
	SendTimeout     time.Duration
}

// backend mirrors the subset of ethclient methods the client depends on so
// tests can substitute a fake without a live node.
type backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client implements the web3.Client interface for EVM compatible chains.
// Write paths are serialized by sendMu: one in-flight transaction per account
// keeps nonce assignment strictly sequential.
type Client struct {
	name            string
	notes           string
	rpcClient       *gethrpc.Client
	backend         backend
	account         *wallet.Account
	chainID         *big.Int
	estimateTimeout time.Duration
	sendTimeout     time.Duration
	sendMu          sync.Mutex
	closeMu         sync.Mutex
}

const (
	defaultEstimateTimeout = 15 * time.Second
	defaultSendTimeout     = 30 * time.Second
)

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config, account *wallet.Account) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置以太坊 RPC 地址")
	}
	if account == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置签名账户")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeNetworkFailure, err, "连接以太坊节点失败")
	}

	eth := ethclient.NewClient(rpcClient)
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, xerrors.Wrap(xerrors.CodeNetworkFailure, err, "获取链 ID 失败")
	}

	client := &Client{
		name:            cfg.Name,
		notes:           cfg.Notes,
		rpcClient:       rpcClient,
		backend:         eth,
		account:         account,
		chainID:         chainID,
		estimateTimeout: cfg.EstimateTimeout,
		sendTimeout:     cfg.SendTimeout,
	}
	client.applyTimeoutDefaults()
	return client, nil
}

// NewBackendClient wraps an injected backend for testing purposes.
func NewBackendClient(name string, chainID *big.Int, b backend, account *wallet.Account) *Client {
	client := &Client{
		name:    name,
		notes:   "injected backend",
		backend: b,
		account: account,
		chainID: new(big.Int).Set(chainID),
	}
	client.applyTimeoutDefaults()
	return client
}

func (c *Client) applyTimeoutDefaults() {
	if c.estimateTimeout <= 0 {
		c.estimateTimeout = defaultEstimateTimeout
	}
	if c.sendTimeout <= 0 {
		c.sendTimeout = defaultSendTimeout
	}
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
	c.backend = nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	if c == nil || c.backend == nil {
		return web3.ChainSnapshot{}, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的以太坊客户端")
	}

	blockNumber, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, xerrors.Wrap(xerrors.CodeNetworkFailure, err, "获取最新区块高度失败")
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(c.chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// EstimateGas queries the network for the gas required by the call.
func (c *Client) EstimateGas(ctx context.Context, to common.Address, data []byte) (uint64, error) {
	if c == nil || c.backend == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的以太坊客户端")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.estimateTimeout)
	defer cancel()

	gas, err := c.backend.EstimateGas(callCtx, gethcore.CallMsg{
		From: c.account.Address(),
		To:   &to,
		Data: data,
	})
	if err != nil {
		return 0, networkError(err, "估算 Gas 失败")
	}
	return gas, nil
}

// SignAndSend signs the transaction with the process account and broadcasts
// it, returning the transaction hash. Each successful call consumes one nonce
// and irreversibly commits state on-chain; failures after broadcast must be
// detected via the receipt, never assumed absent.
func (c *Client) SignAndSend(ctx context.Context, req web3.TransactionRequest) (common.Hash, error) {
	if c == nil || c.backend == nil {
		return common.Hash{}, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的以太坊客户端")
	}
	if c.account == nil || c.account.Key() == nil {
		return common.Hash{}, xerrors.New(xerrors.CodeSigningFailure, "签名账户不可用")
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	nonce, err := c.backend.PendingNonceAt(callCtx, c.account.Address())
	if err != nil {
		return common.Hash{}, networkError(err, "查询账户 nonce 失败")
	}
	gasPrice, err := c.backend.SuggestGasPrice(callCtx)
	if err != nil {
		return common.Hash{}, networkError(err, "查询 Gas 价格失败")
	}

	tx := coretypes.NewTransaction(nonce, req.To, big.NewInt(0), req.GasLimit, gasPrice, req.Data)
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(c.chainID), c.account.Key())
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeSigningFailure, err, "签名交易失败")
	}

	if err := c.backend.SendTransaction(callCtx, signed); err != nil {
		if isDeadline(err) {
			return common.Hash{}, networkError(err, "广播交易超时")
		}
		return common.Hash{}, xerrors.Wrap(xerrors.CodeBroadcastFailure, err, "广播交易被拒绝")
	}
	return signed.Hash(), nil
}

// CallContract executes a read-only contract call. Reads carry no nonce and
// may run concurrently with anything.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if c == nil || c.backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的以太坊客户端")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.estimateTimeout)
	defer cancel()

	out, err := c.backend.CallContract(callCtx, gethcore.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, networkError(err, "合约只读调用失败")
	}
	return out, nil
}

func networkError(err error, message string) *xerrors.Error {
	if isDeadline(err) {
		return xerrors.Wrap(xerrors.CodeNetworkFailure, err, message+": RPC 超时")
	}
	return xerrors.Wrap(xerrors.CodeNetworkFailure, err, message)
}

func isDeadline(err error) bool {
	return stdErrors.Is(err, context.DeadlineExceeded)
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
