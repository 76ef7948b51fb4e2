// Package api 暴露 REST 与 WebSocket 接口，供前端驱动对话与策略执行。
package api
