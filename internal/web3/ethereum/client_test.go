package ethereum

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"KlimaFlow-Chain/internal/wallet"
	"KlimaFlow-Chain/internal/web3"

	xerrors "KlimaFlow-Chain/internal/errors"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

const testKeyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

type fakeBackend struct {
	mu          sync.Mutex
	nonce       uint64
	gas         uint64
	estimateErr error
	sendErr     error
	sent        []*coretypes.Transaction
	callResult  []byte
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1337), nil }

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return 42, nil }

func (f *fakeBackend) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return f.gas, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *coretypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.nonce++
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) CallContract(context.Context, gethcore.CallMsg, *big.Int) ([]byte, error) {
	return f.callResult, nil
}

func newTestClient(t *testing.T, b backend) *Client {
	t.Helper()
	account, err := wallet.NewAccount(testKeyHex)
	if err != nil {
		t.Fatalf("new account: %v", err)
	}
	return NewBackendClient("testchain", big.NewInt(1337), b, account)
}

func TestSignAndSendAssignsSequentialNonces(t *testing.T) {
	backend := &fakeBackend{gas: 21_000}
	client := newTestClient(t, backend)

	ctx := context.Background()
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")

	var hashes []common.Hash
	for i := 0; i < 3; i++ {
		hash, err := client.SignAndSend(ctx, web3.TransactionRequest{To: to, Data: []byte{0x01}, GasLimit: 21_000})
		if err != nil {
			t.Fatalf("sign and send %d: %v", i, err)
		}
		hashes = append(hashes, hash)
	}

	if len(backend.sent) != 3 {
		t.Fatalf("expected 3 broadcast transactions, got %d", len(backend.sent))
	}
	for i, tx := range backend.sent {
		if tx.Nonce() != uint64(i) {
			t.Fatalf("transaction %d carries nonce %d", i, tx.Nonce())
		}
	}
	seen := map[common.Hash]bool{}
	for _, h := range hashes {
		if seen[h] {
			t.Fatalf("duplicate transaction hash %s", h)
		}
		seen[h] = true
	}
}

func TestSignAndSendBroadcastRejection(t *testing.T) {
	backend := &fakeBackend{sendErr: errors.New("insufficient funds for gas * price + value")}
	client := newTestClient(t, backend)

	_, err := client.SignAndSend(context.Background(), web3.TransactionRequest{
		To:       common.HexToAddress("0x2222222222222222222222222222222222222222"),
		GasLimit: 21_000,
	})
	if err == nil {
		t.Fatal("expected broadcast error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeBroadcastFailure {
		t.Fatalf("unexpected error code %s", xerrors.CodeOf(err))
	}
}

func TestEstimateGasNetworkFailure(t *testing.T) {
	backend := &fakeBackend{estimateErr: errors.New("connection refused")}
	client := newTestClient(t, backend)

	_, err := client.EstimateGas(context.Background(), common.Address{}, nil)
	if err == nil {
		t.Fatal("expected estimate error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeNetworkFailure {
		t.Fatalf("unexpected error code %s", xerrors.CodeOf(err))
	}
}

func TestFetchChainSnapshot(t *testing.T) {
	client := newTestClient(t, &fakeBackend{})

	snapshot, err := client.FetchChainSnapshot(context.Background())
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snapshot.ChainID != "0x539" {
		t.Fatalf("unexpected chain id %s", snapshot.ChainID)
	}
	if snapshot.BlockNumber != "0x2a" {
		t.Fatalf("unexpected block number %s", snapshot.BlockNumber)
	}
}
