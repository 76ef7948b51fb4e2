package strategy

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "KlimaFlow-Chain/internal/errors"
)

// MemoryStore 以内存方式保存运行状态，用于测试与单机部署。
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, run *Run) error {
	if run == nil {
		return xerrors.New(xerrors.CodeValidation, "run 不能为空")
	}
	if run.ID == "" {
		return xerrors.New(xerrors.CodeValidation, "运行 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return ErrRunConflict
	}
	// 准入在写入的同一把锁内判定，并发提交不可能同时通过。
	for _, existing := range m.runs {
		if existing.Status == RunPending || existing.Status == RunInProgress {
			return ErrRunConflict
		}
	}
	now := time.Now().Unix()
	clone := run.Clone()
	if clone.CreatedAt == 0 {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	m.runs[run.ID] = clone
	return nil
}

// Get 返回运行快照。
func (m *MemoryStore) Get(_ context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run.Clone(), nil
}

// Update 覆盖存储中的运行快照。
func (m *MemoryStore) Update(_ context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return xerrors.New(xerrors.CodeValidation, "run 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	clone := run.Clone()
	clone.UpdatedAt = time.Now().Unix()
	m.runs[run.ID] = clone
	return nil
}

// Claim 将 pending 运行标记为执行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	switch {
	case run.Status == RunInProgress:
		return run.Clone(), ErrRunConflict
	case run.Status.IsTerminal():
		return run.Clone(), ErrRunCompleted
	}
	run.Status = RunInProgress
	run.UpdatedAt = time.Now().Unix()
	return run.Clone(), nil
}

// CancelPending 取消尚未开始的运行。
func (m *MemoryStore) CancelPending(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	if run.Status != RunPending {
		if run.Status.IsTerminal() {
			return run.Clone(), ErrRunCompleted
		}
		return run.Clone(), ErrRunConflict
	}
	run.Status = RunCancelled
	run.UpdatedAt = time.Now().Unix()
	return run.Clone(), nil
}

// Active 返回当前未完成的运行。
func (m *MemoryStore) Active(_ context.Context) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, run := range m.runs {
		if run.Status == RunPending || run.Status == RunInProgress {
			return run.Clone(), nil
		}
	}
	return nil, nil
}

// List 返回符合过滤条件的运行列表。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Run, error) {
	opts.applyDefaults()

	m.mu.RLock()
	matched := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		if opts.matches(run) {
			matched = append(matched, run.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if opts.Order == SortByCreatedAsc {
			return matched[i].CreatedAt < matched[j].CreatedAt
		}
		return matched[i].CreatedAt > matched[j].CreatedAt
	})

	if opts.Offset >= len(matched) {
		return []*Run{}, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// Stats 返回符合过滤条件的运行统计。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (RunStats, error) {
	opts.applyDefaults()

	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats RunStats
	for _, run := range m.runs {
		if opts.matches(run) {
			stats.add(run)
		}
	}
	return stats, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error {
	return nil
}
