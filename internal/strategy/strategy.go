package strategy

import (
	xerrors "KlimaFlow-Chain/internal/errors"
	"KlimaFlow-Chain/internal/token"
)

// StepStatus 表示单个步骤在生命周期中的状态。
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepRunning  StepStatus = "running"
	StepComplete StepStatus = "complete"
	StepFailed   StepStatus = "failed"
)

// RunStatus 表示整次策略执行的状态。
type RunStatus string

const (
	RunPending         RunStatus = "pending"
	RunInProgress      RunStatus = "in_progress"
	RunSucceeded       RunStatus = "succeeded"
	RunPartiallyFailed RunStatus = "partially_failed"
	RunCancelled       RunStatus = "cancelled"
)

// IsTerminal 判断运行状态是否为终态。
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunSucceeded, RunPartiallyFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// Step 描述策略中的一个链上操作。状态只由 Runner 在执行线程内变更，
// 同一次运行的步骤不会被并发修改。
type Step struct {
	Ordinal     int          `json:"ordinal"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Action      token.Action `json:"action"`
	Recipient   string       `json:"recipient,omitempty"`
	Status      StepStatus   `json:"status"`
	TxHash      string       `json:"tx_hash,omitempty"`
	ErrorCode   xerrors.Code `json:"error_code,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
}

// Run 描述一次策略执行：同一金额下按声明顺序执行的一组步骤。
type Run struct {
	ID            string    `json:"id"`
	Strategy      string    `json:"strategy"`
	Amount        string    `json:"amount"`
	Status        RunStatus `json:"status"`
	Steps         []Step    `json:"steps"`
	FailedOrdinal int       `json:"failed_ordinal,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     int64     `json:"created_at"`
	UpdatedAt     int64     `json:"updated_at"`
}

// Clone 返回运行的深拷贝，避免调用方与存储共享可变状态。
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Steps = make([]Step, len(r.Steps))
	copy(clone.Steps, r.Steps)
	return &clone
}

var (
	// ErrRunNotFound 表示指定的运行不存在。
	ErrRunNotFound = xerrors.New(CodeRunNotFound, "run not found")
	// ErrRunConflict 表示当前账户已有未完成的运行。
	ErrRunConflict = xerrors.New(CodeRunConflict, "another run is still in flight", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrRunCompleted 表示运行已进入终态，无法再次领取或取消。
	ErrRunCompleted = xerrors.New(CodeRunCompleted, "run already finished", xerrors.WithSeverity(xerrors.SeverityInfo))
)

const (
	CodeRunNotFound   xerrors.Code = "RUN_NOT_FOUND"
	CodeRunConflict   xerrors.Code = "RUN_CONFLICT"
	CodeRunCompleted  xerrors.Code = "RUN_COMPLETED"
	CodeRunValidation xerrors.Code = "RUN_VALIDATION_FAILED"
	CodeRunPublish    xerrors.Code = "RUN_PUBLISH_FAILED"
	CodeStepFailed    xerrors.Code = "RUN_STEP_FAILED"
)

func init() {
	xerrors.Register(CodeRunNotFound, xerrors.Attributes{
		Message:   "run not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRunConflict, xerrors.Attributes{
		Message:   "another run is still in flight",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRunCompleted, xerrors.Attributes{
		Message:   "run already finished",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRunValidation, xerrors.Attributes{
		Message:   "run validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRunPublish, xerrors.Attributes{
		Message:   "failed to publish run",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeStepFailed, xerrors.Attributes{
		Message:   "strategy step failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
}

// IsValidRunStatus 检查给定的运行状态是否为支持的枚举值。
func IsValidRunStatus(status RunStatus) bool {
	switch status {
	case RunPending, RunInProgress, RunSucceeded, RunPartiallyFailed, RunCancelled:
		return true
	default:
		return false
	}
}
