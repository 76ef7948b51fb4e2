package strategy

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "KlimaFlow-Chain/internal/errors"
	"KlimaFlow-Chain/internal/token"
	"KlimaFlow-Chain/pkg/logger"
)

// Service 负责策略运行的创建、查询与取消。
// 钱包是单账户的，任何时刻最多允许一条未完成的运行存在，
// 以保证链上交易的 nonce 串行递增。
type Service struct {
	catalog  *Catalog
	store    Store
	producer Producer
	runner   *Runner
}

// NewService 构造策略服务。runner 可以为 nil，此时 Cancel 只能取消排队中的运行。
func NewService(catalog *Catalog, store Store, producer Producer, runner *Runner) *Service {
	return &Service{catalog: catalog, store: store, producer: producer, runner: runner}
}

// SubmitRequest 描述一次运行请求。
type SubmitRequest struct {
	Strategy string `json:"strategy"`
	Amount   string `json:"amount"`
}

// Submit 校验请求、实例化运行并推送到队列。
// 存在未完成的运行时拒绝新请求，且不会改动已有运行的状态。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Run, error) {
	if s.catalog == nil || s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "策略服务未初始化")
	}
	def, err := s.catalog.Lookup(req.Strategy)
	if err != nil {
		return nil, err
	}
	if _, err := token.ValidateAmount(req.Amount); err != nil {
		return nil, xerrors.Wrap(CodeRunValidation, err, fmt.Sprintf("金额 %q 不合法", req.Amount))
	}

	active, err := s.store.Active(ctx)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, xerrors.New(CodeRunConflict,
			fmt.Sprintf("运行 %s 尚未完成，请等待其结束后再提交", active.ID))
	}

	run := def.NewRun(uuid.NewString(), req.Amount, time.Now().Unix())
	if err := s.store.Create(ctx, run); err != nil {
		return nil, err
	}
	if err := s.producer.Publish(ctx, run.ID); err != nil {
		logger.L().Error("运行入队失败", slog.Any("error", err), slog.String("run_id", run.ID))
		wrapped := xerrors.Wrap(CodeRunPublish, err, "发布运行到队列失败")
		// 入队失败时没有任何步骤上链，标记为 cancelled 而不是 partially_failed，
		// 同时释放准入位，允许重新提交。
		run.Status = RunCancelled
		run.LastError = wrapped.Error()
		_ = s.store.Update(ctx, run)
		return nil, wrapped
	}
	logger.Audit().Info("策略运行入队成功",
		slog.String("run_id", run.ID),
		slog.String("strategy", run.Strategy),
		slog.String("amount", run.Amount),
		slog.Int("steps", len(run.Steps)),
	)
	return run, nil
}

// Get 返回指定运行的快照。
func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的运行列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Run, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.List(ctx, options)
}

// Stats 返回符合过滤条件的运行统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (RunStats, error) {
	if s.store == nil {
		return RunStats{}, xerrors.New(xerrors.CodeInitializationFailure, "运行存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.Stats(ctx, options)
}

// Strategies 返回全部策略定义。
func (s *Service) Strategies() []Definition {
	if s.catalog == nil {
		return nil
	}
	return s.catalog.Definitions()
}

// Cancel 取消运行：排队中的直接标记为 cancelled；
// 正在执行的通知执行线程中断，剩余步骤保持 pending。
func (s *Service) Cancel(ctx context.Context, id string) (*Run, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行存储未初始化")
	}
	run, err := s.store.CancelPending(ctx, id)
	if err == nil {
		logger.Audit().Info("排队运行已取消", slog.String("run_id", id))
		return run, nil
	}
	if stdErrors.Is(err, ErrRunConflict) && run != nil && run.Status == RunInProgress {
		if s.runner != nil && s.runner.Cancel(id) {
			logger.Audit().Info("执行中运行请求取消", slog.String("run_id", id))
			return run, nil
		}
		return nil, xerrors.New(CodeRunConflict,
			fmt.Sprintf("运行 %s 正在别处执行，无法取消", id))
	}
	return nil, err
}

// Close 释放资源。
func (s *Service) Close() error {
	var firstErr error
	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			firstErr = err
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
