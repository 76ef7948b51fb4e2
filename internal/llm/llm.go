package llm

import "context"

// Request 描述发送给大模型的对话上下文。
type Request struct {
	Message       string
	WalletAddress string
	NetworkID     string
	History       []HistoryEntry
	Knowledge     []KnowledgeCard
}

// Directive 是大模型从对话中提取出的链上操作意图。
// Action 取值与 token 包的操作枚举一致。
type Directive struct {
	Action    string `json:"action"`
	Amount    string `json:"amount,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
}

// Response 是大模型推理得到的结构化输出。
// Directive 为 nil 表示纯对话回复，不触发任何链上操作。
type Response struct {
	Thought   string
	Reply     string
	Directive *Directive
}

// KnowledgeCard 表示提供给大模型的知识切片，帮助生成更加准确的回复。
type KnowledgeCard struct {
	Title   string
	Content string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// HistoryEntry 描述了一段历史对话，用于为大模型提供上下文记忆。
type HistoryEntry struct {
	Message   string
	Reply     string
	Action    string
	TxHash    string
	CreatedAt int64
}
