// Package auth 提供基于静态 API Key 的访问控制。
// 默认关闭，适合单用户热钱包部署；开启后所有接口要求 Bearer 凭证。
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	loggerpkg "KlimaFlow-Chain/pkg/logger"
)

// Config 配置访问控制行为。
type Config struct {
	Enabled bool     `json:"enabled"`
	APIKeys []string `json:"api_keys"`
}

// Guard 校验请求携带的 API Key。
type Guard struct {
	enabled bool
	keys    [][]byte
}

// NewGuard 创建访问控制器。Enabled 为 true 但没有配置任何 Key 时，
// 所有请求都会被拒绝。
func NewGuard(cfg Config) *Guard {
	keys := make([][]byte, 0, len(cfg.APIKeys))
	for _, key := range cfg.APIKeys {
		trimmed := strings.TrimSpace(key)
		if trimmed != "" {
			keys = append(keys, []byte(trimmed))
		}
	}
	return &Guard{enabled: cfg.Enabled, keys: keys}
}

// Allow 判断给定的 Authorization 头是否有效。
func (g *Guard) Allow(authorization string) bool {
	if g == nil || !g.enabled {
		return true
	}
	token, ok := strings.CutPrefix(strings.TrimSpace(authorization), "Bearer ")
	if !ok {
		return false
	}
	candidate := []byte(strings.TrimSpace(token))
	for _, key := range g.keys {
		if subtle.ConstantTimeCompare(candidate, key) == 1 {
			return true
		}
	}
	return false
}

// Middleware 返回一个 HTTP 中间件，拒绝未携带有效凭证的请求。
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Allow(r.Header.Get("Authorization")) {
			next.ServeHTTP(w, r)
			return
		}
		loggerpkg.Audit().Warn("access_denied",
			"path", r.URL.Path,
			"method", r.Method,
		)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	})
}
