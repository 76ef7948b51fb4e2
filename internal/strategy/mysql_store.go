package strategy

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "KlimaFlow-Chain/internal/errors"
)

// MySQLStore 使用 MySQL 持久化运行状态，供多次重启之间保留历史。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore 并确保表结构存在。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS strategy_runs (
        id VARCHAR(64) PRIMARY KEY,
        strategy VARCHAR(32) NOT NULL,
        amount VARCHAR(80) NOT NULL,
        status VARCHAR(32) NOT NULL,
        steps TEXT NOT NULL,
        failed_ordinal INT NOT NULL DEFAULT 0,
        last_error TEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_run_status (status),
        INDEX idx_run_created (created_at)
)`
	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 strategy_runs 表失败")
	}
	return nil
}

// Create 插入新的运行记录。
func (s *MySQLStore) Create(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return xerrors.New(xerrors.CodeValidation, "run 不能为空")
	}
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化步骤失败")
	}
	now := time.Now().Unix()
	createdAt := run.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}
	// 插入与准入检查放在同一条语句里：存在未完成的运行时插入零行，
	// 并发提交不可能同时通过。
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO strategy_runs (id, strategy, amount, status, steps, failed_ordinal, last_error, created_at, updated_at)
         SELECT ?, ?, ?, ?, ?, ?, ?, ?, ? FROM DUAL
         WHERE NOT EXISTS (
             SELECT 1 FROM strategy_runs WHERE status IN (?, ?)
         )`,
		run.ID, run.Strategy, run.Amount, string(run.Status), string(steps),
		run.FailedOrdinal, run.LastError, createdAt, now,
		string(RunPending), string(RunInProgress),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrRunConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入运行记录失败")
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrRunConflict
	}
	return nil
}

// Get 返回运行快照。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, strategy, amount, status, steps, failed_ordinal, last_error, created_at, updated_at
         FROM strategy_runs WHERE id = ?`, id)
	return scanRun(row)
}

// Update 覆盖存储中的运行快照。
func (s *MySQLStore) Update(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return xerrors.New(xerrors.CodeValidation, "run 不能为空")
	}
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化步骤失败")
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE strategy_runs SET status = ?, steps = ?, failed_ordinal = ?, last_error = ?, updated_at = ?
         WHERE id = ?`,
		string(run.Status), string(steps), run.FailedOrdinal, run.LastError, time.Now().Unix(), run.ID,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新运行记录失败")
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		if _, getErr := s.Get(ctx, run.ID); stdErrors.Is(getErr, ErrRunNotFound) {
			return ErrRunNotFound
		}
	}
	return nil
}

// Claim 将 pending 运行标记为执行中。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Run, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE strategy_runs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(RunInProgress), time.Now().Unix(), id, string(RunPending),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "领取运行失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "领取运行失败")
	}
	run, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if affected == 0 {
		if run.Status.IsTerminal() {
			return run, ErrRunCompleted
		}
		return run, ErrRunConflict
	}
	return run, nil
}

// CancelPending 取消尚未开始的运行。
func (s *MySQLStore) CancelPending(ctx context.Context, id string) (*Run, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE strategy_runs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(RunCancelled), time.Now().Unix(), id, string(RunPending),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "取消运行失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "取消运行失败")
	}
	run, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if affected == 0 {
		if run.Status.IsTerminal() {
			return run, ErrRunCompleted
		}
		return run, ErrRunConflict
	}
	return run, nil
}

// Active 返回当前未完成的运行。
func (s *MySQLStore) Active(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, strategy, amount, status, steps, failed_ordinal, last_error, created_at, updated_at
         FROM strategy_runs WHERE status IN (?, ?) LIMIT 1`,
		string(RunPending), string(RunInProgress),
	)
	run, err := scanRun(row)
	if stdErrors.Is(err, ErrRunNotFound) {
		return nil, nil
	}
	return run, err
}

// List 返回符合过滤条件的运行列表。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Run, error) {
	opts.applyDefaults()

	query := strings.Builder{}
	query.WriteString(`SELECT id, strategy, amount, status, steps, failed_ordinal, last_error, created_at, updated_at FROM strategy_runs`)
	where, args := buildWhere(opts)
	query.WriteString(where)
	if opts.Order == SortByCreatedAsc {
		query.WriteString(" ORDER BY created_at ASC")
	} else {
		query.WriteString(" ORDER BY created_at DESC")
	}
	query.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询运行列表失败")
	}
	defer rows.Close()

	runs := make([]*Run, 0, opts.Limit)
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历运行列表失败")
	}
	return runs, nil
}

// Stats 返回符合过滤条件的运行统计。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (RunStats, error) {
	opts.applyDefaults()

	query := strings.Builder{}
	query.WriteString(`SELECT status, COUNT(*), MIN(created_at), MAX(created_at) FROM strategy_runs`)
	where, args := buildWhere(opts)
	query.WriteString(where)
	query.WriteString(" GROUP BY status")

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return RunStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计运行失败")
	}
	defer rows.Close()

	var stats RunStats
	for rows.Next() {
		var status string
		var count int
		var oldest, newest sql.NullInt64
		if err := rows.Scan(&status, &count, &oldest, &newest); err != nil {
			return RunStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析运行统计失败")
		}
		stats.Total += count
		switch RunStatus(status) {
		case RunPending:
			stats.Pending += count
		case RunInProgress:
			stats.InProgress += count
		case RunSucceeded:
			stats.Succeeded += count
		case RunPartiallyFailed:
			stats.PartiallyFailed += count
		case RunCancelled:
			stats.Cancelled += count
		}
		if oldest.Valid && (stats.OldestCreatedAt == 0 || oldest.Int64 < stats.OldestCreatedAt) {
			stats.OldestCreatedAt = oldest.Int64
		}
		if newest.Valid && newest.Int64 > stats.NewestCreatedAt {
			stats.NewestCreatedAt = newest.Int64
		}
	}
	if err := rows.Err(); err != nil {
		return RunStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历运行统计失败")
	}
	return stats, nil
}

// Close 关闭数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildWhere(opts ListOptions) (string, []any) {
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if opts.Strategy != "" {
		clauses = append(clauses, "strategy = ?")
		args = append(args, opts.Strategy)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var status, steps string
	var lastError sql.NullString
	err := row.Scan(&run.ID, &run.Strategy, &run.Amount, &status, &steps,
		&run.FailedOrdinal, &lastError, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取运行记录失败")
	}
	run.Status = RunStatus(status)
	run.LastError = lastError.String
	if err := json.Unmarshal([]byte(steps), &run.Steps); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析步骤记录失败")
	}
	return &run, nil
}

func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Error 1062")
}
