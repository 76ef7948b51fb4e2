// Package history 持久化对话网关的交互记录，为推理提供上下文记忆。
package history

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ChatRecord 表示一次对话交互的落库结构。
type ChatRecord struct {
	Message   string `json:"message"`
	Reply     string `json:"reply"`
	Thought   string `json:"thought,omitempty"`
	Action    string `json:"action,omitempty"`
	TxHash    string `json:"tx_hash,omitempty"`
	RunID     string `json:"run_id,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Repository 抽象对话记录的持久化接口。
type Repository interface {
	Save(ctx context.Context, record ChatRecord) error
	ListLatest(ctx context.Context, limit int) ([]ChatRecord, error)
}

// maxCachedRecords 限制内存中保留的最近记录数量。
const maxCachedRecords = 512

// FileRepository 以追加写 JSON 行的方式保存对话记录。
type FileRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []ChatRecord
}

// NewFileRepository 创建一个文件对话仓库，并恢复已有记录。
func NewFileRepository(dataDir string) (*FileRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	path := filepath.Join(dataDir, "chat.log")
	repo := &FileRepository{dataFile: path}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录对话。
func (r *FileRepository) Save(_ context.Context, record ChatRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.OpenFile(r.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开对话日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化对话记录失败: %w", err)
	}

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入对话日志失败: %w", err)
	}

	r.records = append([]ChatRecord{record}, r.records...)
	if len(r.records) > maxCachedRecords {
		r.records = r.records[:maxCachedRecords]
	}
	return nil
}

// ListLatest 返回最近的对话记录，按时间倒序排列。
func (r *FileRepository) ListLatest(_ context.Context, limit int) ([]ChatRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.records) {
		limit = len(r.records)
	}

	results := make([]ChatRecord, limit)
	copy(results, r.records[:limit])
	return results, nil
}

func (r *FileRepository) loadFromDisk() error {
	file, err := os.OpenFile(r.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取对话日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []ChatRecord
	for scanner.Scan() {
		var record ChatRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]ChatRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析对话日志失败: %w", err)
	}
	if len(restored) > maxCachedRecords {
		restored = restored[:maxCachedRecords]
	}
	r.records = restored
	return nil
}

var _ Repository = (*FileRepository)(nil)
