package strategy

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	xerrors "KlimaFlow-Chain/internal/errors"
	"KlimaFlow-Chain/internal/observability/alerting"
	"KlimaFlow-Chain/internal/token"
	"KlimaFlow-Chain/pkg/logger"
)

// Executor 定义了执行单个步骤所需的链上能力。
type Executor interface {
	ExecuteAction(ctx context.Context, action token.Action, amount, recipient string) token.TransactionResult
}

// Runner 按声明顺序驱动一次运行中的全部步骤。每次运行在单个协程内执行，
// 写入存储与广播通知都发生在该协程中，步骤之间不会并发。
type Runner struct {
	executor Executor
	store    Store
	fanout   *Fanout
	alerter  alerting.Dispatcher
	logger   *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// RunnerOption 定义可选配置。
type RunnerOption func(*Runner)

// WithRunnerLogger 指定日志输出。
func WithRunnerLogger(log *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = log
	}
}

// WithRunnerAlerter 配置告警派发器。
func WithRunnerAlerter(dispatcher alerting.Dispatcher) RunnerOption {
	return func(r *Runner) {
		r.alerter = dispatcher
	}
}

// NewRunner 构造 Runner。
func NewRunner(executor Executor, store Store, fanout *Fanout, opts ...RunnerOption) *Runner {
	r := &Runner{
		executor: executor,
		store:    store,
		fanout:   fanout,
		cancels:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.fanout == nil {
		r.fanout = NewFanout()
	}
	return r
}

// Cancel 请求中断指定运行。仅对正在执行的运行生效；
// 返回 false 表示该运行不在本进程内执行。
func (r *Runner) Cancel(runID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[runID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Execute 执行运行中的全部步骤并逐步持久化状态。
// 失败的步骤终止运行；其后的步骤保持 pending，运行进入 partially_failed。
func (r *Runner) Execute(ctx context.Context, run *Run) error {
	if r.executor == nil || r.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "运行执行器未初始化")
	}
	if run == nil || len(run.Steps) == 0 {
		return xerrors.New(CodeRunValidation, "运行不包含任何步骤")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.cancels[run.ID] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.cancels, run.ID)
		r.mu.Unlock()
	}()

	for i := range run.Steps {
		if runCtx.Err() != nil {
			return r.finishCancelled(ctx, run)
		}

		step := &run.Steps[i]
		step.Status = StepRunning
		if err := r.persistStep(ctx, run, *step); err != nil {
			return err
		}

		result := r.executor.ExecuteAction(runCtx, step.Action, run.Amount, step.Recipient)
		if !result.Success {
			if runCtx.Err() != nil && ctx.Err() == nil {
				// 步骤因取消被打断，按取消处理而非失败。
				step.Status = StepPending
				return r.finishCancelled(ctx, run)
			}
			step.Status = StepFailed
			step.ErrorCode = result.ErrorCode
			step.LastError = result.ErrorMessage
			if err := r.persistStep(ctx, run, *step); err != nil {
				return err
			}
			return r.finishFailed(ctx, run, *step)
		}

		step.Status = StepComplete
		step.TxHash = result.TxHash
		if err := r.persistStep(ctx, run, *step); err != nil {
			return err
		}
		r.logInfo("步骤执行成功",
			slog.String("run_id", run.ID),
			slog.Int("ordinal", step.Ordinal),
			slog.String("step", step.Name),
			slog.String("tx_hash", step.TxHash),
		)
	}

	run.Status = RunSucceeded
	if err := r.store.Update(ctx, run); err != nil {
		return err
	}
	r.fanout.OnRunCompleted(run.ID, run.Status)
	logger.Audit().Info("策略运行成功",
		slog.String("run_id", run.ID),
		slog.String("strategy", run.Strategy),
		slog.String("amount", run.Amount),
		slog.Int("steps", len(run.Steps)),
	)
	return nil
}

func (r *Runner) persistStep(ctx context.Context, run *Run, step Step) error {
	if err := r.store.Update(ctx, run); err != nil {
		logger.L().Error("持久化步骤状态失败",
			slog.Any("error", err),
			slog.String("run_id", run.ID),
			slog.Int("ordinal", step.Ordinal),
		)
		return err
	}
	r.fanout.OnStepStatusChanged(run.ID, step)
	return nil
}

func (r *Runner) finishFailed(ctx context.Context, run *Run, failed Step) error {
	run.Status = RunPartiallyFailed
	run.FailedOrdinal = failed.Ordinal
	run.LastError = failed.LastError
	if err := r.store.Update(ctx, run); err != nil {
		return err
	}
	r.fanout.OnRunCompleted(run.ID, run.Status)
	logger.Audit().Warn("策略运行部分失败",
		slog.String("run_id", run.ID),
		slog.String("strategy", run.Strategy),
		slog.Int("failed_ordinal", failed.Ordinal),
		slog.String("step", failed.Name),
		slog.String("error_code", string(failed.ErrorCode)),
		slog.String("error", failed.LastError),
	)
	r.emitAlert(ctx, run, failed)
	return nil
}

func (r *Runner) finishCancelled(ctx context.Context, run *Run) error {
	run.Status = RunCancelled
	if err := r.store.Update(ctx, run); err != nil {
		return err
	}
	r.fanout.OnRunCompleted(run.ID, run.Status)
	logger.Audit().Info("策略运行已取消",
		slog.String("run_id", run.ID),
		slog.String("strategy", run.Strategy),
	)
	return nil
}

func (r *Runner) logInfo(msg string, attrs ...slog.Attr) {
	log := r.logger
	if log == nil {
		log = logger.L()
	}
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	log.Info(msg, args...)
}

func (r *Runner) emitAlert(ctx context.Context, run *Run, failed Step) {
	if r.alerter == nil {
		return
	}
	code := failed.ErrorCode
	if code == "" {
		code = CodeStepFailed
	}
	event := alerting.Event{
		Code:     code,
		Message:  failed.LastError,
		Severity: xerrors.AttributesOf(code).Severity,
		RunID:    run.ID,
		Metadata: map[string]string{
			"strategy": run.Strategy,
			"step":     failed.Name,
			"ordinal":  strconv.Itoa(failed.Ordinal),
		},
		OccurredAt: time.Now(),
	}
	if err := r.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("run_id", run.ID),
		)
	}
}
