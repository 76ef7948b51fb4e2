package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "KlimaFlow-Chain/internal/errors"
	"KlimaFlow-Chain/internal/llm"
	"KlimaFlow-Chain/internal/strategy"
	"KlimaFlow-Chain/internal/token"
)

type stubLLM struct {
	resp *llm.Response
	err  error
	wait time.Duration
}

func (s *stubLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

type stubExecutor struct {
	balance    string
	balanceErr error
	result     token.TransactionResult

	lastAction    token.Action
	lastAmount    string
	lastRecipient string
	calls         int
}

func (s *stubExecutor) GetBalance(context.Context, string) (string, error) {
	return s.balance, s.balanceErr
}

func (s *stubExecutor) ExecuteAction(_ context.Context, action token.Action, amount, recipient string) token.TransactionResult {
	s.calls++
	s.lastAction = action
	s.lastAmount = amount
	s.lastRecipient = recipient
	return s.result
}

type stubSubmitter struct {
	run *strategy.Run
	err error
}

func (s *stubSubmitter) Submit(context.Context, strategy.SubmitRequest) (*strategy.Run, error) {
	return s.run, s.err
}

func TestChatPlainConversation(t *testing.T) {
	llmClient := &stubLLM{resp: &llm.Response{Thought: "闲聊", Reply: "你好"}}
	gateway := New(llmClient, nil)

	result, err := gateway.Chat(context.Background(), ChatRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Reply != "你好" || result.Thought != "闲聊" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Action != "" || result.TxHash != "" {
		t.Fatalf("plain chat should not execute anything: %+v", result)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	gateway := New(&stubLLM{resp: &llm.Response{Reply: "ok"}}, nil)
	if _, err := gateway.Chat(context.Background(), ChatRequest{Message: "   "}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestChatExecutesBalanceDirective(t *testing.T) {
	llmClient := &stubLLM{resp: &llm.Response{
		Reply:     "查询余额",
		Directive: &llm.Directive{Action: "getBalance"},
	}}
	executor := &stubExecutor{balance: "5"}
	gateway := New(llmClient, executor, WithWallet("0xabc", "matic"))

	result, err := gateway.Chat(context.Background(), ChatRequest{Message: "balance"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Balance != "5" || result.Action != "getBalance" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestChatExecutesTransferDirective(t *testing.T) {
	llmClient := &stubLLM{resp: &llm.Response{
		Reply:     "开始转账",
		Directive: &llm.Directive{Action: "transfer", Amount: "2", Recipient: "0xdef"},
	}}
	executor := &stubExecutor{result: token.TransactionResult{Success: true, TxHash: "0x123"}}
	gateway := New(llmClient, executor)

	result, err := gateway.Chat(context.Background(), ChatRequest{Message: "transfer 2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TxHash != "0x123" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if executor.lastAction != token.ActionTransfer || executor.lastAmount != "2" || executor.lastRecipient != "0xdef" {
		t.Fatalf("unexpected executor call: %+v", executor)
	}
}

func TestChatFoldsChainFailureIntoResult(t *testing.T) {
	llmClient := &stubLLM{resp: &llm.Response{
		Reply:     "开始质押",
		Directive: &llm.Directive{Action: "stake", Amount: "10"},
	}}
	executor := &stubExecutor{result: token.TransactionResult{
		Success:      false,
		ErrorCode:    xerrors.CodeBroadcastFailure,
		ErrorMessage: "insufficient allowance",
	}}
	gateway := New(llmClient, executor)

	result, err := gateway.Chat(context.Background(), ChatRequest{Message: "stake 10"})
	if err != nil {
		t.Fatalf("chain failure should not fail the chat: %v", err)
	}
	if result.ErrorCode != xerrors.CodeBroadcastFailure || result.ErrorMessage != "insufficient allowance" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.TxHash != "" {
		t.Fatalf("failed action should not carry a tx hash: %+v", result)
	}
}

func TestChatRejectsUnknownAction(t *testing.T) {
	llmClient := &stubLLM{resp: &llm.Response{
		Reply:     "好的",
		Directive: &llm.Directive{Action: "selfdestruct"},
	}}
	executor := &stubExecutor{}
	gateway := New(llmClient, executor)

	result, err := gateway.Chat(context.Background(), ChatRequest{Message: "do it"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ErrorCode != xerrors.CodeValidation {
		t.Fatalf("unexpected error code: %s", result.ErrorCode)
	}
	if executor.calls != 0 {
		t.Fatal("invalid action must never reach the executor")
	}
}

func TestChatSubmitsStrategy(t *testing.T) {
	llmClient := &stubLLM{resp: &llm.Response{
		Reply:     "执行 moon 策略",
		Directive: &llm.Directive{Strategy: "moon", Amount: "10"},
	}}
	submitter := &stubSubmitter{run: &strategy.Run{ID: "run-7", Strategy: "moon"}}
	gateway := New(llmClient, &stubExecutor{}, WithRunSubmitter(submitter))

	result, err := gateway.Chat(context.Background(), ChatRequest{Message: "run moon with 10"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RunID != "run-7" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestChatFallsBackWhenLLMFails(t *testing.T) {
	primary := &stubLLM{err: errors.New("connection refused")}
	fallback := &stubLLM{resp: &llm.Response{Reply: "降级回复"}}
	gateway := New(primary, nil, WithFallback(fallback))

	result, err := gateway.Chat(context.Background(), ChatRequest{Message: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Reply != "降级回复" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestChatTimeout(t *testing.T) {
	llmClient := &stubLLM{wait: 50 * time.Millisecond, resp: &llm.Response{Reply: "late"}}
	gateway := New(llmClient, nil, WithLLMTimeout(10*time.Millisecond))

	_, err := gateway.Chat(context.Background(), ChatRequest{Message: "hi"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline exceeded, got %v", err)
	}
}
