// Package llm 定义对话推理所需的统一接口与数据结构，
// 具体实现位于 openai 与 rules 子包。
package llm
