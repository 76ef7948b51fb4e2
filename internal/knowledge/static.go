// Package knowledge 提供对话推理可引用的静态知识检索能力。
package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider 定义知识库检索的通用接口。
type Provider interface {
	Query(message, action string) []Snippet
}

// Snippet 描述可供大模型引用的一段知识。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// StaticProvider 通过加载 JSON 文件提供静态知识检索能力。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 文件加载知识条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// DefaultSnippets 返回内置的碳信用策略知识条目，
// 在未配置外部知识库文件时使用。
func DefaultSnippets() []Snippet {
	return []Snippet{
		{
			Title: "Bullish Strategy",
			Content: "Accumulate KLIMA during market dips; " +
				"stake acquired tokens to compound rebasing rewards; " +
				"hold through volatility for long-term carbon upside.",
			Keywords: []string{"bullish", "看涨", "accumulate"},
			Tags:     []string{"strategy"},
		},
		{
			Title: "Bearish Strategy",
			Content: "Reduce exposure by supplying carbon credits to the liquidity pool; " +
				"earn fees while prices consolidate; " +
				"keep a stable reserve for re-entry.",
			Keywords: []string{"bearish", "看跌", "hedge"},
			Tags:     []string{"strategy"},
		},
		{
			Title: "Buffet Strategy",
			Content: "Stake for steady rebasing rewards; " +
				"periodically reinvest rewards into additional carbon credits; " +
				"never deploy more than you can hold for years.",
			Keywords: []string{"buffet", "稳健", "reinvest"},
			Tags:     []string{"strategy"},
		},
		{
			Title: "Moon Strategy",
			Content: "Acquire tokenized carbon credits, stake them for yield, " +
				"then leverage the staked position to expand the portfolio. " +
				"Highest risk of the catalog; size positions accordingly.",
			Keywords: []string{"moon", "leverage", "杠杆"},
			Tags:     []string{"strategy"},
		},
		{
			Title: "KLIMA Staking",
			Content: "Staking locks KLIMA in the pool contract and accrues rebasing rewards. " +
				"Unstaking returns tokens to the wallet; rewards stop accruing immediately.",
			Keywords: []string{"stake", "unstake", "质押", "赎回"},
			Tags:     []string{"stake", "unstake"},
		},
	}
}

// Query 根据用户消息和链上操作进行两级匹配：
// 关键词命中的条目排在标签命中的条目之前，再按 maxResults 截断，
// 避免宽泛的标签把最相关的条目挤出结果。
func (p *StaticProvider) Query(message, action string) []Snippet {
	if p == nil {
		return nil
	}

	message = strings.ToLower(strings.TrimSpace(message))
	action = strings.ToLower(strings.TrimSpace(action))

	var keywordHits, tagHits []Snippet
	for _, item := range p.items {
		switch {
		case matchAny(item.Keywords, message, action):
			keywordHits = append(keywordHits, item)
		case matchAny(item.Tags, message, action):
			tagHits = append(tagHits, item)
		case len(item.Keywords) == 0 && len(item.Tags) == 0:
			// 未标注的条目视为通用知识，以最低优先级参与匹配。
			tagHits = append(tagHits, item)
		}
	}

	results := make([]Snippet, 0, p.maxResults)
	for _, item := range keywordHits {
		if len(results) >= p.maxResults {
			return results
		}
		results = append(results, item)
	}
	for _, item := range tagHits {
		if len(results) >= p.maxResults {
			return results
		}
		results = append(results, item)
	}
	return results
}

func matchAny(terms []string, message, action string) bool {
	for _, term := range terms {
		normalized := strings.ToLower(strings.TrimSpace(term))
		if normalized == "" {
			continue
		}
		if strings.Contains(message, normalized) || strings.Contains(action, normalized) {
			return true
		}
	}
	return false
}

// Ensure StaticProvider 实现 Provider 接口。
var _ Provider = (*StaticProvider)(nil)
