package token

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	xerrors "KlimaFlow-Chain/internal/errors"
	"KlimaFlow-Chain/internal/web3"
)

const (
	testTokenAddr = "0x4e78011ce80ee02d2c3e649fb657e45898257815"
	testPoolAddr  = "0x25d28a24ceb6f81015bb0b2007d795acac411b4d"
)

// fakeChain 记录收到的交易请求并按配置返回结果。
type fakeChain struct {
	balance     *big.Int
	estimateErr error
	sendErr     error
	requests    []web3.TransactionRequest
	nextHash    int
}

func (f *fakeChain) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{ChainID: "0x539"}, nil
}

func (f *fakeChain) EstimateGas(context.Context, common.Address, []byte) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 60_000, nil
}

func (f *fakeChain) SignAndSend(_ context.Context, req web3.TransactionRequest) (common.Hash, error) {
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.requests = append(f.requests, req)
	f.nextHash++
	return common.HexToHash(fmt.Sprintf("0x%064x", f.nextHash)), nil
}

func (f *fakeChain) CallContract(context.Context, common.Address, []byte) ([]byte, error) {
	return common.LeftPadBytes(f.balance.Bytes(), 32), nil
}

func (f *fakeChain) Close() {}

func newTestOperations(t *testing.T, chain *fakeChain) *Operations {
	t.Helper()
	ops, err := NewOperations(chain, Config{TokenAddress: testTokenAddr, PoolAddress: testPoolAddr})
	if err != nil {
		t.Fatalf("new operations: %v", err)
	}
	return ops
}

func TestGetBalanceFormatsBaseUnits(t *testing.T) {
	chain := &fakeChain{balance: big.NewInt(5_000_000_000_000_000_000)}
	ops := newTestOperations(t, chain)

	balance, err := ops.GetBalance(context.Background(), "0x1234000000000000000000000000000000005678")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != "5" {
		t.Fatalf("balance = %q, want \"5\"", balance)
	}
}

func TestGetBalanceRejectsMalformedAddress(t *testing.T) {
	ops := newTestOperations(t, &fakeChain{balance: big.NewInt(0)})

	_, err := ops.GetBalance(context.Background(), "not-an-address")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("unexpected code %s", xerrors.CodeOf(err))
	}
}

func TestTransferTargetsTokenContract(t *testing.T) {
	chain := &fakeChain{balance: big.NewInt(0)}
	ops := newTestOperations(t, chain)

	result := ops.Transfer(context.Background(), "2.5", "0x9999999999999999999999999999999999999999")
	if !result.Success {
		t.Fatalf("transfer failed: %s", result.ErrorMessage)
	}
	if result.TxHash == "" {
		t.Fatal("expected a transaction hash")
	}
	if len(chain.requests) != 1 {
		t.Fatalf("expected 1 dispatched request, got %d", len(chain.requests))
	}
	if chain.requests[0].To != common.HexToAddress(testTokenAddr) {
		t.Fatalf("transfer dispatched to %s", chain.requests[0].To)
	}
	if chain.requests[0].GasLimit != 60_000 {
		t.Fatalf("estimated gas not carried through: %d", chain.requests[0].GasLimit)
	}
}

func TestStakeAndUnstakeTargetPoolContract(t *testing.T) {
	chain := &fakeChain{balance: big.NewInt(0)}
	ops := newTestOperations(t, chain)

	if result := ops.Stake(context.Background(), "1"); !result.Success {
		t.Fatalf("stake failed: %s", result.ErrorMessage)
	}
	if result := ops.Unstake(context.Background(), "1"); !result.Success {
		t.Fatalf("unstake failed: %s", result.ErrorMessage)
	}
	for i, req := range chain.requests {
		if req.To != common.HexToAddress(testPoolAddr) {
			t.Fatalf("request %d dispatched to %s", i, req.To)
		}
	}
}

func TestWriteOperationsFoldErrorsIntoResult(t *testing.T) {
	chain := &fakeChain{
		balance: big.NewInt(0),
		sendErr: xerrors.New(xerrors.CodeBroadcastFailure, "insufficient allowance"),
	}
	ops := newTestOperations(t, chain)

	result := ops.Stake(context.Background(), "10")
	if result.Success {
		t.Fatal("expected failure result")
	}
	if result.ErrorCode != xerrors.CodeBroadcastFailure {
		t.Fatalf("unexpected error code %s", result.ErrorCode)
	}
	if result.ErrorMessage == "" {
		t.Fatal("expected error message to be populated")
	}
}

func TestWriteOperationsValidateAmountFirst(t *testing.T) {
	chain := &fakeChain{balance: big.NewInt(0)}
	ops := newTestOperations(t, chain)

	for _, amount := range []string{"0", "-5", "nope"} {
		result := ops.Stake(context.Background(), amount)
		if result.Success {
			t.Fatalf("stake(%q) unexpectedly succeeded", amount)
		}
		if result.ErrorCode != xerrors.CodeValidation {
			t.Fatalf("stake(%q): unexpected code %s", amount, result.ErrorCode)
		}
	}
	if len(chain.requests) != 0 {
		t.Fatalf("invalid amounts must not reach the chain, got %d requests", len(chain.requests))
	}
}

func TestExecuteActionDispatch(t *testing.T) {
	chain := &fakeChain{balance: big.NewInt(0)}
	ops := newTestOperations(t, chain)

	if result := ops.ExecuteAction(context.Background(), ActionStake, "1", ""); !result.Success {
		t.Fatalf("stake via action failed: %s", result.ErrorMessage)
	}
	result := ops.ExecuteAction(context.Background(), Action("swap"), "1", "")
	if result.Success || result.ErrorCode != xerrors.CodeValidation {
		t.Fatalf("unknown action should fail validation, got %+v", result)
	}
}
