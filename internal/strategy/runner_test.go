package strategy

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"KlimaFlow-Chain/internal/token"
)

const (
	testMarketAddr = "0x2f800db0fdb5223b3c3f354886d907a671414a7f"
	testPoolAddr   = "0x25d28a24ceb6f81015bb0b2007d795acac411b4d"
)

type executedCall struct {
	action    token.Action
	amount    string
	recipient string
}

type fakeExecutor struct {
	mu      sync.Mutex
	calls   []executedCall
	failOn  int
	failure token.TransactionResult

	blockOn int
	started chan struct{}
}

func (f *fakeExecutor) ExecuteAction(ctx context.Context, action token.Action, amount, recipient string) token.TransactionResult {
	f.mu.Lock()
	f.calls = append(f.calls, executedCall{action: action, amount: amount, recipient: recipient})
	n := len(f.calls)
	f.mu.Unlock()

	if f.blockOn == n {
		if f.started != nil {
			close(f.started)
		}
		<-ctx.Done()
		return token.TransactionResult{Success: false, ErrorCode: "TIMEOUT", ErrorMessage: ctx.Err().Error()}
	}
	if f.failOn == n {
		return f.failure
	}
	return token.TransactionResult{Success: true, TxHash: fmt.Sprintf("0x%064x", n)}
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingObserver struct {
	mu        sync.Mutex
	steps     []Step
	completed []RunStatus
}

func (o *recordingObserver) OnStepStatusChanged(_ string, step Step) {
	o.mu.Lock()
	o.steps = append(o.steps, step)
	o.mu.Unlock()
}

func (o *recordingObserver) OnRunCompleted(_ string, status RunStatus) {
	o.mu.Lock()
	o.completed = append(o.completed, status)
	o.mu.Unlock()
}

func newTestRun(t *testing.T, strategy, amount string) *Run {
	t.Helper()
	catalog := NewCatalog(CatalogConfig{MarketAddress: testMarketAddr, PoolAddress: testPoolAddr})
	def, err := catalog.Lookup(strategy)
	if err != nil {
		t.Fatalf("lookup %s: %v", strategy, err)
	}
	return def.NewRun("run-1", amount, time.Now().Unix())
}

func TestRunnerExecutesAllStepsInOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	executor := &fakeExecutor{}
	observer := &recordingObserver{}
	runner := NewRunner(executor, store, NewFanout(observer))

	run := newTestRun(t, "moon", "10")
	if err := store.Create(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if _, err := store.Claim(ctx, run.ID); err != nil {
		t.Fatalf("claim run: %v", err)
	}
	run.Status = RunInProgress

	if err := runner.Execute(ctx, run); err != nil {
		t.Fatalf("execute: %v", err)
	}

	stored, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if stored.Status != RunSucceeded {
		t.Fatalf("expected succeeded, got %s", stored.Status)
	}
	seen := make(map[string]bool)
	for i, step := range stored.Steps {
		if step.Status != StepComplete {
			t.Fatalf("step %d status = %s, want complete", step.Ordinal, step.Status)
		}
		if step.TxHash == "" {
			t.Fatalf("step %d missing tx hash", step.Ordinal)
		}
		if seen[step.TxHash] {
			t.Fatalf("step %d reuses tx hash %s", step.Ordinal, step.TxHash)
		}
		seen[step.TxHash] = true
		if step.Ordinal != i+1 {
			t.Fatalf("step ordinal %d at index %d", step.Ordinal, i)
		}
	}

	// moon 策略的链上动作: transfer→market, stake, transfer→pool。
	want := []executedCall{
		{action: token.ActionTransfer, amount: "10", recipient: testMarketAddr},
		{action: token.ActionStake, amount: "10"},
		{action: token.ActionTransfer, amount: "10", recipient: testPoolAddr},
	}
	if len(executor.calls) != len(want) {
		t.Fatalf("expected %d calls, got %d", len(want), len(executor.calls))
	}
	for i, call := range executor.calls {
		if call != want[i] {
			t.Fatalf("call %d = %+v, want %+v", i, call, want[i])
		}
	}

	if len(observer.completed) != 1 || observer.completed[0] != RunSucceeded {
		t.Fatalf("unexpected completion notifications: %+v", observer.completed)
	}
	// 每个步骤经历 running → complete 两次通知。
	if len(observer.steps) != 6 {
		t.Fatalf("expected 6 step notifications, got %d", len(observer.steps))
	}
	for i := 0; i < 6; i += 2 {
		if observer.steps[i].Status != StepRunning || observer.steps[i+1].Status != StepComplete {
			t.Fatalf("notification pair %d out of order: %s, %s", i/2, observer.steps[i].Status, observer.steps[i+1].Status)
		}
		if observer.steps[i].Ordinal != i/2+1 {
			t.Fatalf("notification pair %d has ordinal %d", i/2, observer.steps[i].Ordinal)
		}
	}
}

func TestRunnerStopsAtFailedStep(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	executor := &fakeExecutor{
		failOn: 2,
		failure: token.TransactionResult{
			Success:      false,
			ErrorCode:    "BROADCAST_FAILURE",
			ErrorMessage: "insufficient allowance",
		},
	}
	observer := &recordingObserver{}
	runner := NewRunner(executor, store, NewFanout(observer))

	run := newTestRun(t, "moon", "10")
	if err := store.Create(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if _, err := store.Claim(ctx, run.ID); err != nil {
		t.Fatalf("claim run: %v", err)
	}
	run.Status = RunInProgress

	if err := runner.Execute(ctx, run); err != nil {
		t.Fatalf("execute: %v", err)
	}

	stored, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if stored.Status != RunPartiallyFailed {
		t.Fatalf("expected partially_failed, got %s", stored.Status)
	}
	if stored.FailedOrdinal != 2 {
		t.Fatalf("expected failed ordinal 2, got %d", stored.FailedOrdinal)
	}
	if stored.Steps[0].Status != StepComplete {
		t.Fatalf("step 1 status = %s, want complete", stored.Steps[0].Status)
	}
	if stored.Steps[1].Status != StepFailed {
		t.Fatalf("step 2 status = %s, want failed", stored.Steps[1].Status)
	}
	if stored.Steps[1].ErrorCode != "BROADCAST_FAILURE" || stored.Steps[1].LastError != "insufficient allowance" {
		t.Fatalf("step 2 error = %s %q", stored.Steps[1].ErrorCode, stored.Steps[1].LastError)
	}
	if stored.Steps[2].Status != StepPending {
		t.Fatalf("step 3 status = %s, want pending", stored.Steps[2].Status)
	}
	if executor.callCount() != 2 {
		t.Fatalf("expected 2 calls, got %d", executor.callCount())
	}
	if len(observer.completed) != 1 || observer.completed[0] != RunPartiallyFailed {
		t.Fatalf("unexpected completion notifications: %+v", observer.completed)
	}
}

func TestRunnerCancelMidRun(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	executor := &fakeExecutor{blockOn: 2, started: make(chan struct{})}
	runner := NewRunner(executor, store, NewFanout())

	run := newTestRun(t, "moon", "10")
	if err := store.Create(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if _, err := store.Claim(ctx, run.ID); err != nil {
		t.Fatalf("claim run: %v", err)
	}
	run.Status = RunInProgress

	done := make(chan error, 1)
	go func() {
		done <- runner.Execute(ctx, run)
	}()

	select {
	case <-executor.started:
	case <-time.After(5 * time.Second):
		t.Fatal("step 2 never started")
	}
	if !runner.Cancel(run.ID) {
		t.Fatal("cancel did not find the running run")
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("execute did not return after cancel")
	}

	stored, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if stored.Status != RunCancelled {
		t.Fatalf("expected cancelled, got %s", stored.Status)
	}
	if stored.Steps[0].Status != StepComplete {
		t.Fatalf("step 1 status = %s, want complete", stored.Steps[0].Status)
	}
	if stored.Steps[1].Status != StepPending || stored.Steps[2].Status != StepPending {
		t.Fatalf("remaining steps = %s, %s, want pending", stored.Steps[1].Status, stored.Steps[2].Status)
	}
	if runner.Cancel(run.ID) {
		t.Fatal("cancel should no longer find the run after completion")
	}
}
