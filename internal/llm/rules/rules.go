// Package rules 提供一个不依赖外部服务的规则推理器。
// 它覆盖常见的操作意图，作为 OpenAI 不可用时的降级方案。
package rules

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"KlimaFlow-Chain/internal/llm"
)

var (
	addressPattern = regexp.MustCompile(`0x[0-9a-fA-F]{40}`)
	amountPattern  = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

var strategyNames = []string{"moon", "bullish", "bearish", "buffet"}

// Client 按关键词规则解析用户意图。
type Client struct{}

// NewClient 创建规则推理器。
func NewClient() *Client {
	return &Client{}
}

// Generate 实现 llm.Client。永远不会返回错误。
func (c *Client) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	message := strings.TrimSpace(req.Message)
	lowered := strings.ToLower(message)

	for _, name := range strategyNames {
		if strings.Contains(lowered, name) && mentionsExecution(lowered) {
			amount := amountPattern.FindString(message)
			return &llm.Response{
				Thought: fmt.Sprintf("规则匹配到策略 %s", name),
				Reply:   fmt.Sprintf("开始执行 %s 策略。", name),
				Directive: &llm.Directive{
					Strategy: name,
					Amount:   amount,
				},
			}, nil
		}
	}

	switch {
	case containsAny(lowered, "balance", "余额"):
		return &llm.Response{
			Thought: "规则匹配到余额查询",
			Reply:   "正在查询钱包余额。",
			Directive: &llm.Directive{
				Action: "getBalance",
			},
		}, nil
	case containsAny(lowered, "unstake", "赎回", "解除质押"):
		return &llm.Response{
			Thought:   "规则匹配到赎回操作",
			Reply:     "正在从质押池赎回 KLIMA。",
			Directive: &llm.Directive{Action: "unstake", Amount: amountPattern.FindString(message)},
		}, nil
	case containsAny(lowered, "stake", "质押"):
		return &llm.Response{
			Thought:   "规则匹配到质押操作",
			Reply:     "正在质押 KLIMA。",
			Directive: &llm.Directive{Action: "stake", Amount: amountPattern.FindString(message)},
		}, nil
	case containsAny(lowered, "transfer", "send", "转账"):
		return &llm.Response{
			Thought: "规则匹配到转账操作",
			Reply:   "正在发起 KLIMA 转账。",
			Directive: &llm.Directive{
				Action:    "transfer",
				Amount:    amountPattern.FindString(message),
				Recipient: addressPattern.FindString(message),
			},
		}, nil
	}

	return &llm.Response{
		Thought: "未匹配到任何操作意图",
		Reply: "我可以帮你查询余额、转账、质押或赎回 KLIMA，" +
			"也可以执行 moon、bullish、bearish、buffet 策略。",
	}, nil
}

func mentionsExecution(lowered string) bool {
	return containsAny(lowered, "strategy", "策略", "执行", "run", "execute")
}

func containsAny(text string, keywords ...string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}
