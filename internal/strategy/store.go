package strategy

import "context"

// Store 定义了运行记录的持久化接口。
type Store interface {
	// Create 写入一条新的 pending 运行。
	Create(ctx context.Context, run *Run) error
	// Get 返回指定运行的快照，供无状态调用方轮询。
	Get(ctx context.Context, id string) (*Run, error)
	// Update 以执行线程内的最新快照覆盖存储内容。
	Update(ctx context.Context, run *Run) error
	// Claim 将 pending 运行标记为 in_progress 并返回快照。
	// 已终态的运行返回 ErrRunCompleted，执行中的返回 ErrRunConflict。
	Claim(ctx context.Context, id string) (*Run, error)
	// CancelPending 取消一条尚未开始执行的运行。
	CancelPending(ctx context.Context, id string) (*Run, error)
	// Active 返回当前 pending 或 in_progress 的运行；没有则返回 nil。
	Active(ctx context.Context) (*Run, error)
	// List 返回符合过滤条件的运行列表，按创建时间倒序。
	List(ctx context.Context, opts ListOptions) ([]*Run, error)
	// Stats 返回符合过滤条件的运行统计。
	Stats(ctx context.Context, opts ListOptions) (RunStats, error)
	// Close 释放底层资源。
	Close() error
}
