package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"KlimaFlow-Chain/internal/agent"
	"KlimaFlow-Chain/internal/auth"
	xerrors "KlimaFlow-Chain/internal/errors"
	"KlimaFlow-Chain/internal/observability/metrics"
	"KlimaFlow-Chain/internal/strategy"
)

// Server 负责暴露 HTTP 接口。
type Server struct {
	addr       string
	gateway    *agent.Gateway
	runs       *strategy.Service
	executor   agent.TokenExecutor
	guard      *auth.Guard
	walletAddr string
}

// ServerOption 定义可选配置。
type ServerOption func(*Server)

// WithGuard 配置访问控制器。
func WithGuard(guard *auth.Guard) ServerOption {
	return func(s *Server) {
		s.guard = guard
	}
}

// WithTokenExecutor 配置余额查询所用的链上执行器。
func WithTokenExecutor(executor agent.TokenExecutor) ServerOption {
	return func(s *Server) {
		s.executor = executor
	}
}

// WithWalletAddress 配置余额查询缺省使用的进程钱包地址。
func WithWalletAddress(address string) ServerOption {
	return func(s *Server) {
		s.walletAddr = address
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, gateway *agent.Gateway, runs *strategy.Service, opts ...ServerOption) *Server {
	s := &Server{addr: addr, gateway: gateway, runs: runs}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整路由，便于测试与复用。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/runs", s.protect(s.instrument("runs", http.HandlerFunc(s.handleRuns))))
	mux.Handle("/api/v1/runs/", s.protect(s.instrument("run", http.HandlerFunc(s.handleRunByID))))
	mux.Handle("/api/v1/stats", s.protect(s.instrument("stats", http.HandlerFunc(s.handleStats))))
	mux.Handle("/api/v1/strategies", s.protect(s.instrument("strategies", http.HandlerFunc(s.handleStrategies))))
	mux.Handle("/api/v1/balance", s.protect(s.instrument("balance", http.HandlerFunc(s.handleBalance))))
	mux.Handle("/api/v1/chat", s.protect(s.instrument("chat", http.HandlerFunc(s.handleChat))))
	mux.Handle("/ws/chat", s.protect(http.HandlerFunc(s.handleChatSocket)))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeValidation, "仅支持 GET/POST")
	}
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "策略服务未初始化")
		return
	}
	var req strategy.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeValidation, "请求体解析失败")
		return
	}
	run, err := s.runs.Submit(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "策略服务未初始化")
		return
	}
	opts := make([]strategy.ListOption, 0, 4)
	query := r.URL.Query()
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, strategy.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, strategy.WithOffset(parsed))
		}
	}
	if raw := query.Get("strategy"); raw != "" {
		opts = append(opts, strategy.WithStrategy(raw))
	}
	if raw := query.Get("status"); raw != "" {
		statuses := make([]strategy.RunStatus, 0, 2)
		for _, status := range strings.Split(raw, ",") {
			statuses = append(statuses, strategy.RunStatus(strings.TrimSpace(status)))
		}
		opts = append(opts, strategy.WithStatuses(statuses...))
	}
	if query.Get("order") == "asc" {
		opts = append(opts, strategy.WithOrder(strategy.SortByCreatedAsc))
	}

	runs, err := s.runs.List(r.Context(), opts...)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "策略服务未初始化")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, strategy.CodeRunNotFound, "无效的运行 ID")
		return
	}
	switch r.Method {
	case http.MethodGet:
		run, err := s.runs.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	case http.MethodDelete:
		run, err := s.runs.Cancel(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	default:
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeValidation, "仅支持 GET/DELETE")
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeValidation, "仅支持 GET")
		return
	}
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "策略服务未初始化")
		return
	}
	stats, err := s.runs.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeValidation, "仅支持 GET")
		return
	}
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "策略服务未初始化")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategies": s.runs.Strategies()})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeValidation, "仅支持 GET")
		return
	}
	if s.executor == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "链上执行器未初始化")
		return
	}
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		address = s.walletAddr
	}
	balance, err := s.executor.GetBalance(r.Context(), address)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeValidation, "仅支持 POST")
		return
	}
	if s.gateway == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "对话网关未初始化")
		return
	}
	var req agent.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeValidation, "请求体解析失败")
		return
	}
	result, err := s.gateway.Chat(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) protect(next http.Handler) http.Handler {
	if s.guard == nil {
		return next
	}
	return s.guard.Middleware(next)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code xerrors.Code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

// writeServiceError 将统一错误码映射为 HTTP 状态码。
func writeServiceError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeValidation, strategy.CodeRunValidation:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound, strategy.CodeRunNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict, strategy.CodeRunConflict, strategy.CodeRunCompleted:
		status = http.StatusConflict
	case xerrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	}
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
	}
	writeError(w, status, code, message)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
