package token

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	xerrors "KlimaFlow-Chain/internal/errors"
	"KlimaFlow-Chain/internal/web3"
	"KlimaFlow-Chain/pkg/logger"
)

// Action 枚举对话网关与策略步骤可以调用的链上操作。
type Action string

const (
	ActionBalance  Action = "getBalance"
	ActionTransfer Action = "transfer"
	ActionStake    Action = "stake"
	ActionUnstake  Action = "unstake"
)

// IsValidAction 检查给定的操作是否为支持的枚举值。
func IsValidAction(action Action) bool {
	switch action {
	case ActionBalance, ActionTransfer, ActionStake, ActionUnstake:
		return true
	default:
		return false
	}
}

// TransactionResult 汇总一次链上写操作的结果。失败时携带统一错误码与
// 可展示的错误文本，调用方永远不会收到未包装的底层错误。
type TransactionResult struct {
	Success      bool         `json:"success"`
	TxHash       string       `json:"tx_hash,omitempty"`
	ErrorCode    xerrors.Code `json:"error_code,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// Operations 负责构造 KLIMA 代币与质押池的调用数据并交给链客户端执行。
// 合约地址与 ABI 在构造后不可变。
type Operations struct {
	client    web3.Client
	tokenABI  abi.ABI
	poolABI   abi.ABI
	tokenAddr common.Address
	poolAddr  common.Address
	log       *slog.Logger
}

// Config 描述 Operations 依赖的两份合约。
type Config struct {
	TokenAddress string
	PoolAddress  string
}

// NewOperations 解析内联 ABI 并校验合约地址。
func NewOperations(client web3.Client, cfg Config) (*Operations, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置链客户端")
	}
	tokenAddr, err := parseAddress(cfg.TokenAddress, "代币合约地址")
	if err != nil {
		return nil, err
	}
	poolAddr, err := parseAddress(cfg.PoolAddress, "质押池合约地址")
	if err != nil {
		return nil, err
	}

	tokenABI, err := abi.JSON(strings.NewReader(klimaTokenABI))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析代币 ABI 失败")
	}
	poolABI, err := abi.JSON(strings.NewReader(klimaPoolABI))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析质押池 ABI 失败")
	}

	return &Operations{
		client:    client,
		tokenABI:  tokenABI,
		poolABI:   poolABI,
		tokenAddr: tokenAddr,
		poolAddr:  poolAddr,
		log:       logger.Named("token"),
	}, nil
}

// GetBalance 查询指定地址的 KLIMA 余额，返回十进制字符串。
// 只读调用不消耗 nonce，可与任何操作并发执行。
func (o *Operations) GetBalance(ctx context.Context, address string) (string, error) {
	owner, err := parseAddress(address, "查询地址")
	if err != nil {
		return "", err
	}
	data, err := o.tokenABI.Pack("balanceOf", owner)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "编码 balanceOf 调用失败")
	}
	out, err := o.client.CallContract(ctx, o.tokenAddr, data)
	if err != nil {
		return "", err
	}
	values, err := o.tokenABI.Unpack("balanceOf", out)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeNetworkFailure, err, "解析 balanceOf 返回值失败")
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return "", xerrors.New(xerrors.CodeNetworkFailure, "balanceOf 返回值类型异常")
	}
	return FromBaseUnits(balance), nil
}

// Transfer 将指定金额的 KLIMA 转给收款地址。
func (o *Operations) Transfer(ctx context.Context, amount, recipient string) TransactionResult {
	base, err := ValidateAmount(amount)
	if err != nil {
		return failure(err)
	}
	to, err := parseAddress(recipient, "收款地址")
	if err != nil {
		return failure(err)
	}
	data, err := o.tokenABI.Pack("transfer", to, base)
	if err != nil {
		return failure(xerrors.Wrap(xerrors.CodeUnknown, err, "编码 transfer 调用失败"))
	}
	return o.execute(ctx, "transfer", o.tokenAddr, data)
}

// Stake 将指定金额的 KLIMA 质押进池子。
func (o *Operations) Stake(ctx context.Context, amount string) TransactionResult {
	base, err := ValidateAmount(amount)
	if err != nil {
		return failure(err)
	}
	data, err := o.poolABI.Pack("stake", base)
	if err != nil {
		return failure(xerrors.Wrap(xerrors.CodeUnknown, err, "编码 stake 调用失败"))
	}
	return o.execute(ctx, "stake", o.poolAddr, data)
}

// Unstake 从池子中赎回指定金额的 KLIMA。
func (o *Operations) Unstake(ctx context.Context, amount string) TransactionResult {
	base, err := ValidateAmount(amount)
	if err != nil {
		return failure(err)
	}
	data, err := o.poolABI.Pack("unstake", base)
	if err != nil {
		return failure(xerrors.Wrap(xerrors.CodeUnknown, err, "编码 unstake 调用失败"))
	}
	return o.execute(ctx, "unstake", o.poolAddr, data)
}

// ExecuteAction 按名称分发写操作，供策略执行器与对话网关复用。
func (o *Operations) ExecuteAction(ctx context.Context, action Action, amount, recipient string) TransactionResult {
	switch action {
	case ActionTransfer:
		return o.Transfer(ctx, amount, recipient)
	case ActionStake:
		return o.Stake(ctx, amount)
	case ActionUnstake:
		return o.Unstake(ctx, amount)
	default:
		return failure(xerrors.New(xerrors.CodeValidation, fmt.Sprintf("暂不支持的链上操作: %s", action)))
	}
}

// execute 完成估气、签名与广播三步，并将任意失败折叠为结构化结果。
func (o *Operations) execute(ctx context.Context, op string, to common.Address, data []byte) TransactionResult {
	gas, err := o.client.EstimateGas(ctx, to, data)
	if err != nil {
		o.log.Warn("估算 Gas 失败", slog.String("operation", op), slog.Any("error", err))
		return failure(err)
	}
	hash, err := o.client.SignAndSend(ctx, web3.TransactionRequest{To: to, Data: data, GasLimit: gas})
	if err != nil {
		o.log.Warn("交易执行失败", slog.String("operation", op), slog.Any("error", err))
		return failure(err)
	}
	o.log.Info("交易已广播", slog.String("operation", op), slog.String("tx_hash", hash.Hex()))
	return TransactionResult{Success: true, TxHash: hash.Hex()}
}

func failure(err error) TransactionResult {
	result := TransactionResult{Success: false, ErrorCode: xerrors.CodeOf(err)}
	if e, ok := xerrors.From(err); ok {
		result.ErrorMessage = e.Message()
		if cause := e.Unwrap(); cause != nil {
			result.ErrorMessage = fmt.Sprintf("%s: %v", e.Message(), cause)
		}
		return result
	}
	result.ErrorMessage = err.Error()
	return result
}

func parseAddress(raw, field string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("%s不是合法的十六进制地址", field))
	}
	return common.HexToAddress(trimmed), nil
}
