package strategy

import (
	"fmt"
	"sort"
	"strings"

	xerrors "KlimaFlow-Chain/internal/errors"
	"KlimaFlow-Chain/internal/token"
)

// Definition 描述目录中的一个具名策略。
type Definition struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Steps       []Step `json:"steps"`
}

// Catalog 保存全部可执行的策略定义，构造后不可变。
type Catalog struct {
	defs map[string]Definition
}

// CatalogConfig 提供转账类步骤需要的收款地址。
type CatalogConfig struct {
	// MarketAddress 是购入/再投资碳信用时的对手方地址。
	MarketAddress string
	// PoolAddress 是质押池地址，杠杆步骤将抵押转入该地址。
	PoolAddress string
}

// NewCatalog 构建内置的四个策略。步骤名称与描述沿用产品页面的文案。
func NewCatalog(cfg CatalogConfig) *Catalog {
	market := strings.TrimSpace(cfg.MarketAddress)
	pool := strings.TrimSpace(cfg.PoolAddress)

	defs := []Definition{
		{
			Name:        "moon",
			Title:       "Moon Strategy",
			Description: "Leverage tokenized carbon credits for DeFi yield optimization.",
			Steps: []Step{
				{Ordinal: 1, Name: "Acquire Carbon Credits", Description: "Purchase tokenized carbon credits via KlimaDAO", Action: token.ActionTransfer, Recipient: market},
				{Ordinal: 2, Name: "Stake for Yield", Description: "Stake acquired carbon credits to generate passive yield", Action: token.ActionStake},
				{Ordinal: 3, Name: "Leverage for Expansion", Description: "Use staked carbon credits as collateral to acquire more credits", Action: token.ActionTransfer, Recipient: pool},
			},
		},
		{
			Name:        "bullish",
			Title:       "Bullish Strategy",
			Description: "Accumulate carbon credits during dips and stake them.",
			Steps: []Step{
				{Ordinal: 1, Name: "Acquire Carbon Credits", Description: "Purchase tokenized carbon credits via KlimaDAO", Action: token.ActionTransfer, Recipient: market},
				{Ordinal: 2, Name: "Stake for Yield", Description: "Stake acquired carbon credits to generate passive yield", Action: token.ActionStake},
			},
		},
		{
			Name:        "bearish",
			Title:       "Bearish Strategy",
			Description: "Supply carbon credits via KlimaDAO for sustainable returns.",
			Steps: []Step{
				{Ordinal: 1, Name: "Supply Carbon Credits", Description: "Contribute carbon credits to KlimaDAO's liquidity pool", Action: token.ActionStake},
			},
		},
		{
			Name:        "buffet",
			Title:       "Buffet Strategy",
			Description: "Stake carbon credits and periodically reinvest rewards.",
			Steps: []Step{
				{Ordinal: 1, Name: "Stake for Rewards", Description: "Stake carbon credits for rebasing rewards", Action: token.ActionStake},
				{Ordinal: 2, Name: "Reinvest Rewards", Description: "Convert rewards into carbon credits and reinvest", Action: token.ActionTransfer, Recipient: market},
			},
		},
	}

	byName := make(map[string]Definition, len(defs))
	for _, def := range defs {
		byName[def.Name] = def
	}
	return &Catalog{defs: byName}
}

// Lookup 按名称返回策略定义。
func (c *Catalog) Lookup(name string) (Definition, error) {
	def, ok := c.defs[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Definition{}, xerrors.New(CodeRunValidation, fmt.Sprintf("未知的策略: %s", name))
	}
	return def, nil
}

// Names 返回全部策略名称，按字典序排列。
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.defs))
	for name := range c.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions 返回全部策略定义的拷贝，按名称排序。
func (c *Catalog) Definitions() []Definition {
	defs := make([]Definition, 0, len(c.defs))
	for _, name := range c.Names() {
		def := c.defs[name]
		steps := make([]Step, len(def.Steps))
		copy(steps, def.Steps)
		def.Steps = steps
		defs = append(defs, def)
	}
	return defs
}

// NewRun 基于策略定义实例化一次运行，所有步骤置为 pending。
func (def Definition) NewRun(id, amount string, now int64) *Run {
	steps := make([]Step, len(def.Steps))
	copy(steps, def.Steps)
	for i := range steps {
		steps[i].Status = StepPending
	}
	return &Run{
		ID:        id,
		Strategy:  def.Name,
		Amount:    amount,
		Status:    RunPending,
		Steps:     steps,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
