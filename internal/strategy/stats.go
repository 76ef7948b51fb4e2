package strategy

// RunStats 聚合了运行状态的统计信息，常用于仪表盘或健康检查。
type RunStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	InProgress      int   `json:"in_progress"`
	Succeeded       int   `json:"succeeded"`
	PartiallyFailed int   `json:"partially_failed"`
	Cancelled       int   `json:"cancelled"`
	OldestCreatedAt int64 `json:"oldest_created_at,omitempty"`
	NewestCreatedAt int64 `json:"newest_created_at,omitempty"`
}

func (s *RunStats) add(run *Run) {
	s.Total++
	switch run.Status {
	case RunPending:
		s.Pending++
	case RunInProgress:
		s.InProgress++
	case RunSucceeded:
		s.Succeeded++
	case RunPartiallyFailed:
		s.PartiallyFailed++
	case RunCancelled:
		s.Cancelled++
	}
	if s.OldestCreatedAt == 0 || run.CreatedAt < s.OldestCreatedAt {
		s.OldestCreatedAt = run.CreatedAt
	}
	if run.CreatedAt > s.NewestCreatedAt {
		s.NewestCreatedAt = run.CreatedAt
	}
}
