package strategy

import (
	"context"
	stdErrors "errors"
	"log/slog"

	xerrors "KlimaFlow-Chain/internal/errors"
	"KlimaFlow-Chain/pkg/logger"
)

// Processor 从队列消费运行 ID，领取后交给 Runner 执行。
// 默认单个工作协程，与单账户钱包的串行发送约束保持一致。
type Processor struct {
	runner      *Runner
	store       Store
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(log *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = log
	}
}

// WithWorkerCount 设置消费协程数量。多于一个工作协程只在
// 多账户部署下安全，默认保持为 1。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(runner *Runner, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		runner:      runner,
		store:       store,
		consumer:    consumer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动运行处理循环，阻塞直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置运行消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, runID string) error {
	if p.store == nil || p.runner == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	run, err := p.store.Claim(ctx, runID)
	if err != nil {
		if stdErrors.Is(err, ErrRunNotFound) || stdErrors.Is(err, ErrRunCompleted) {
			p.logDebug("跳过运行", slog.String("run_id", runID), slog.String("reason", err.Error()))
			return nil
		}
		if stdErrors.Is(err, ErrRunConflict) {
			// 被其他消费者抢先领取，直接确认消息。
			p.logDebug("运行已被领取", slog.String("run_id", runID))
			return nil
		}
		logger.L().Error("领取运行失败", slog.Any("error", err), slog.String("run_id", runID))
		return err
	}
	if err := p.runner.Execute(ctx, run); err != nil {
		logger.L().Error("运行执行异常", slog.Any("error", err), slog.String("run_id", runID))
		return err
	}
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	log := p.logger
	if log == nil {
		log = logger.L()
	}
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	log.Debug(msg, args...)
}
