package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "KlimaFlow-Chain/internal/errors"
	"KlimaFlow-Chain/internal/history"
	"KlimaFlow-Chain/internal/knowledge"
	"KlimaFlow-Chain/internal/llm"
	"KlimaFlow-Chain/internal/strategy"
	"KlimaFlow-Chain/internal/token"
	"KlimaFlow-Chain/pkg/logger"
)

// ChatRequest 描述一条来自用户的对话消息。
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResult 汇总推理与链上执行得到的结果。
type ChatResult struct {
	Message      string       `json:"message"`
	Thought      string       `json:"thought,omitempty"`
	Reply        string       `json:"reply"`
	Action       string       `json:"action,omitempty"`
	Balance      string       `json:"balance,omitempty"`
	TxHash       string       `json:"tx_hash,omitempty"`
	RunID        string       `json:"run_id,omitempty"`
	ErrorCode    xerrors.Code `json:"error_code,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	CreatedAt    int64        `json:"created_at"`
}

// TokenExecutor 定义网关所需的链上操作能力。
type TokenExecutor interface {
	GetBalance(ctx context.Context, address string) (string, error)
	ExecuteAction(ctx context.Context, action token.Action, amount, recipient string) token.TransactionResult
}

// RunSubmitter 定义网关提交策略运行所需的能力。
type RunSubmitter interface {
	Submit(ctx context.Context, req strategy.SubmitRequest) (*strategy.Run, error)
}

// Gateway 协调大模型与链上操作，是对话通道的业务核心。
type Gateway struct {
	llmClient     llm.Client
	fallback      llm.Client
	executor      TokenExecutor
	runs          RunSubmitter
	repo          history.Repository
	knowledge     knowledge.Provider
	walletAddress string
	networkID     string
	memoryDepth   int
	llmTimeout    time.Duration
}

// Option 定义可选的 Gateway 配置。
type Option func(*Gateway)

// defaultMemoryDepth 是推理时可参考的历史对话数量的默认值。
const defaultMemoryDepth = 5

// WithMemoryDepth 设置推理时可参考的历史对话数量。
func WithMemoryDepth(depth int) Option {
	return func(g *Gateway) {
		g.memoryDepth = depth
	}
}

// WithKnowledgeProvider 配置知识库，用于在推理前补充上下文。
func WithKnowledgeProvider(provider knowledge.Provider) Option {
	return func(g *Gateway) {
		g.knowledge = provider
	}
}

// WithFallback 配置大模型不可用时的降级推理器。
func WithFallback(client llm.Client) Option {
	return func(g *Gateway) {
		g.fallback = client
	}
}

// WithHistory 配置对话记录仓库。
func WithHistory(repo history.Repository) Option {
	return func(g *Gateway) {
		g.repo = repo
	}
}

// WithRunSubmitter 配置策略运行提交入口。
func WithRunSubmitter(runs RunSubmitter) Option {
	return func(g *Gateway) {
		g.runs = runs
	}
}

// WithLLMTimeout 设置调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		if timeout <= 0 {
			g.llmTimeout = 0
			return
		}
		g.llmTimeout = timeout
	}
}

// WithWallet 设置网关代表的钱包地址与网络。
func WithWallet(address, networkID string) Option {
	return func(g *Gateway) {
		g.walletAddress = address
		g.networkID = networkID
	}
}

// New 创建一个对话网关。
func New(llmClient llm.Client, executor TokenExecutor, opts ...Option) *Gateway {
	g := &Gateway{
		llmClient:   llmClient,
		executor:    executor,
		memoryDepth: defaultMemoryDepth,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.memoryDepth <= 0 {
		g.memoryDepth = defaultMemoryDepth
	}
	return g
}

// Chat 处理一条用户消息：推理意图，执行指令（如有），并记录对话。
func (g *Gateway) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if g.llmClient == nil && g.fallback == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置推理引擎")
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "消息内容不能为空")
	}

	historyEntries := g.loadHistory(ctx)
	knowledgeEntries := g.collectKnowledge(message)

	output, err := g.reason(ctx, llm.Request{
		Message:       message,
		WalletAddress: g.walletAddress,
		NetworkID:     g.networkID,
		History:       historyEntries,
		Knowledge:     knowledgeEntries,
	})
	if err != nil {
		return nil, err
	}

	result := &ChatResult{
		Message:   message,
		Thought:   output.Thought,
		Reply:     output.Reply,
		CreatedAt: time.Now().Unix(),
	}

	if output.Directive != nil {
		g.applyDirective(ctx, result, output.Directive)
	}

	g.saveRecord(ctx, result)
	return result, nil
}

func (g *Gateway) reason(ctx context.Context, req llm.Request) (*llm.Response, error) {
	llmCtx := ctx
	if g.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, g.llmTimeout)
		defer cancel()
	}

	if g.llmClient != nil {
		output, err := g.llmClient.Generate(llmCtx, req)
		if err == nil {
			return output, nil
		}
		if g.fallback == nil {
			if stdErrors.Is(err, context.DeadlineExceeded) {
				return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
			}
			return nil, xerrors.Wrap(xerrors.CodeNetworkFailure, err, "大模型推理失败")
		}
		logger.L().Warn("大模型不可用，使用规则推理器", slog.Any("error", err))
	}
	return g.fallback.Generate(ctx, req)
}

// applyDirective 执行推理得到的指令，并把结果折叠进对话回复。
// 链上失败不会让对话出错：统一错误码与描述随回复一起返回。
func (g *Gateway) applyDirective(ctx context.Context, result *ChatResult, directive *llm.Directive) {
	if strategyName := strings.TrimSpace(directive.Strategy); strategyName != "" {
		g.submitStrategy(ctx, result, strategyName, directive.Amount)
		return
	}

	action := token.Action(strings.TrimSpace(directive.Action))
	if !token.IsValidAction(action) {
		result.ErrorCode = xerrors.CodeValidation
		result.ErrorMessage = fmt.Sprintf("不支持的链上操作: %s", directive.Action)
		return
	}
	if g.executor == nil {
		result.ErrorCode = xerrors.CodeInitializationFailure
		result.ErrorMessage = "未配置链上执行器"
		return
	}

	result.Action = string(action)
	if action == token.ActionBalance {
		balance, err := g.executor.GetBalance(ctx, g.walletAddress)
		if err != nil {
			result.ErrorCode = xerrors.CodeOf(err)
			result.ErrorMessage = err.Error()
			return
		}
		result.Balance = balance
		result.Reply = fmt.Sprintf("%s\n当前余额: %s KLIMA", result.Reply, balance)
		return
	}

	txResult := g.executor.ExecuteAction(ctx, action, directive.Amount, directive.Recipient)
	if !txResult.Success {
		result.ErrorCode = txResult.ErrorCode
		result.ErrorMessage = txResult.ErrorMessage
		return
	}
	result.TxHash = txResult.TxHash
	result.Reply = fmt.Sprintf("%s\n交易哈希: %s", result.Reply, txResult.TxHash)
}

func (g *Gateway) submitStrategy(ctx context.Context, result *ChatResult, name, amount string) {
	if g.runs == nil {
		result.ErrorCode = xerrors.CodeInitializationFailure
		result.ErrorMessage = "未配置策略服务"
		return
	}
	run, err := g.runs.Submit(ctx, strategy.SubmitRequest{Strategy: name, Amount: amount})
	if err != nil {
		result.ErrorCode = xerrors.CodeOf(err)
		result.ErrorMessage = err.Error()
		return
	}
	result.RunID = run.ID
	result.Reply = fmt.Sprintf("%s\n策略运行已提交: %s", result.Reply, run.ID)
}

func (g *Gateway) loadHistory(ctx context.Context) []llm.HistoryEntry {
	if g.repo == nil {
		return nil
	}
	records, err := g.repo.ListLatest(ctx, g.memoryDepth)
	if err != nil {
		logger.L().Warn("加载对话历史失败", slog.Any("error", err))
		return nil
	}
	entries := make([]llm.HistoryEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, llm.HistoryEntry{
			Message:   record.Message,
			Reply:     record.Reply,
			Action:    record.Action,
			TxHash:    record.TxHash,
			CreatedAt: record.CreatedAt,
		})
	}
	return entries
}

func (g *Gateway) collectKnowledge(message string) []llm.KnowledgeCard {
	if g.knowledge == nil {
		return nil
	}
	snippets := g.knowledge.Query(message, "")
	cards := make([]llm.KnowledgeCard, 0, len(snippets))
	for _, snippet := range snippets {
		cards = append(cards, llm.KnowledgeCard{Title: snippet.Title, Content: snippet.Content})
	}
	return cards
}

func (g *Gateway) saveRecord(ctx context.Context, result *ChatResult) {
	if g.repo == nil {
		return
	}
	record := history.ChatRecord{
		Message:   result.Message,
		Reply:     result.Reply,
		Thought:   result.Thought,
		Action:    result.Action,
		TxHash:    result.TxHash,
		RunID:     result.RunID,
		CreatedAt: result.CreatedAt,
	}
	if err := g.repo.Save(ctx, record); err != nil {
		logger.L().Warn("保存对话记录失败", slog.Any("error", err))
	}
}
