package history

import (
	"context"
	"testing"
)

func TestFileRepositoryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	repo, err := NewFileRepository(dir)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}

	records := []ChatRecord{
		{Message: "balance?", Reply: "5 KLIMA", Action: "getBalance", CreatedAt: 1},
		{Message: "stake 2", Reply: "质押成功", Action: "stake", TxHash: "0xabc", CreatedAt: 2},
		{Message: "hello", Reply: "你好", CreatedAt: 3},
	}
	for _, record := range records {
		if err := repo.Save(ctx, record); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	latest, err := repo.ListLatest(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("expected 2 records, got %d", len(latest))
	}
	if latest[0].Message != "hello" || latest[1].Action != "stake" {
		t.Fatalf("unexpected ordering: %+v", latest)
	}

	// 重新打开仓库应当恢复全部记录。
	reopened, err := NewFileRepository(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	restored, err := reopened.ListLatest(ctx, 0)
	if err != nil {
		t.Fatalf("list restored: %v", err)
	}
	if len(restored) != 3 {
		t.Fatalf("expected 3 restored records, got %d", len(restored))
	}
	if restored[0].CreatedAt != 3 {
		t.Fatalf("newest record should come first, got %+v", restored[0])
	}
}
