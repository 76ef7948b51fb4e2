package strategy

import "sync"

// Observer 在每次状态变更后收到当前快照。通知按步骤序号顺序送达；
// 实现应当对 (runID, ordinal, status) 幂等，以容忍至少一次投递。
type Observer interface {
	OnStepStatusChanged(runID string, step Step)
	OnRunCompleted(runID string, status RunStatus)
}

// Fanout 将状态通知同步广播给全部注册的观察者。
type Fanout struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewFanout 创建观察者广播器。
func NewFanout(observers ...Observer) *Fanout {
	f := &Fanout{}
	for _, o := range observers {
		if o != nil {
			f.observers = append(f.observers, o)
		}
	}
	return f
}

// Register 追加一个观察者。
func (f *Fanout) Register(o Observer) {
	if o == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, o)
}

// OnStepStatusChanged 实现 Observer。
func (f *Fanout) OnStepStatusChanged(runID string, step Step) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, o := range f.observers {
		o.OnStepStatusChanged(runID, step)
	}
}

// OnRunCompleted 实现 Observer。
func (f *Fanout) OnRunCompleted(runID string, status RunStatus) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, o := range f.observers {
		o.OnRunCompleted(runID, status)
	}
}
