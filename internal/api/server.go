package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "NegoChain/internal/errors"
	"NegoChain/internal/market"
	"NegoChain/internal/negotiation"
	"NegoChain/internal/observability/metrics"
	"NegoChain/internal/session"
)

// Server 负责暴露 REST 接口，供外部驱动谈判会话。
type Server struct {
	addr        string
	sessions    *session.Service
	market      market.Provider
	middlewares []func(http.Handler) http.Handler
}

// ServerOption 定义可选配置。
type ServerOption func(*Server)

// WithMiddleware 在路由外层追加 HTTP 中间件，按添加顺序由外向内包裹。
func WithMiddleware(middleware func(http.Handler) http.Handler) ServerOption {
	return func(s *Server) {
		if middleware != nil {
			s.middlewares = append(s.middlewares, middleware)
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, sessions *session.Service, provider market.Provider, opts ...ServerOption) *Server {
	s := &Server{addr: addr, sessions: sessions, market: provider}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.wrapped()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// Handler 返回完整的路由处理器，便于测试直接挂载。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sessions", s.handleSessions)
	mux.HandleFunc("/api/v1/sessions/stats", s.handleSessionStats)
	mux.HandleFunc("/api/v1/sessions/", s.handleSessionSubroutes)
	mux.HandleFunc("/api/v1/market/price", s.handleMarketPrice)
	mux.Handle("/metrics", metrics.Handler())
	return metrics.Middleware(mux)
}

// wrapped 将注册的中间件由外向内套在路由之外。
func (s *Server) wrapped() http.Handler {
	handler := s.Handler()
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		handler = s.middlewares[i](handler)
	}
	return handler
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateSession(w, r)
	case http.MethodGet:
		s.handleListSessions(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleCreateSession 处理创建谈判会话的请求。
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		http.Error(w, "会话服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req session.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	sess, err := s.sessions.Start(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		http.Error(w, "会话服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts := listOptionsFromQuery(r)
	sessions, err := s.sessions.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.sessions == nil {
		http.Error(w, "会话服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts := listOptionsFromQuery(r)
	stats, err := s.sessions.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleSessionSubroutes 分发 /api/v1/sessions/{id}[/run|/submit|/timeline]。
func (s *Server) handleSessionSubroutes(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		http.Error(w, "会话服务未初始化", http.StatusServiceUnavailable)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	id := parts[0]
	if id == "" {
		http.Error(w, "缺少会话 ID", http.StatusBadRequest)
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
			return
		}
		s.handleSessionDetail(w, r, id)
	case "run":
		if r.Method != http.MethodPost {
			http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
			return
		}
		s.handleRunSession(w, r, id)
	case "submit":
		if r.Method != http.MethodPost {
			http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
			return
		}
		s.handleSubmitSession(w, r, id)
	case "timeline":
		if r.Method != http.MethodGet {
			http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
			return
		}
		s.handleSessionTimeline(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRunSession(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := s.sessions.Run(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSubmitSession(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := s.sessions.Submit(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

func (s *Server) handleSessionTimeline(w http.ResponseWriter, r *http.Request, id string) {
	timeline, err := s.sessions.Timeline(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, timeline)
}

func (s *Server) handleMarketPrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.market == nil {
		http.Error(w, "行情服务未初始化", http.StatusServiceUnavailable)
		return
	}

	symbol := r.URL.Query().Get("symbol")
	assetType := r.URL.Query().Get("asset_type")
	if assetType == "" {
		assetType = string(market.AssetStock)
	}

	quote, err := s.market.Price(r.Context(), symbol, market.AssetType(assetType))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func listOptionsFromQuery(r *http.Request) []session.ListOption {
	var opts []session.ListOption
	query := r.URL.Query()

	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, session.WithLimit(parsed))
		}
	}
	if raw := query.Get("status"); raw != "" {
		statuses := make([]session.Status, 0, 4)
		for _, value := range strings.Split(raw, ",") {
			statuses = append(statuses, session.Status(strings.TrimSpace(value)))
		}
		opts = append(opts, session.WithStatuses(statuses...))
	}
	if query.Get("order") == "asc" {
		opts = append(opts, session.WithSortOrder(session.SortByUpdatedAsc))
	}
	return opts
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 将统一错误码映射为 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := xerrors.CodeOf(err)
	switch code {
	case session.CodeSessionNotFound:
		status = http.StatusNotFound
	case session.CodeSessionConflict:
		status = http.StatusConflict
	case session.CodeSessionValidation, negotiation.CodeConfigInvalid, xerrors.CodeInvalidArgument, market.CodeMarketBadSymbol:
		status = http.StatusBadRequest
	case market.CodeMarketUnavailable:
		status = http.StatusBadGateway
	case xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	}

	payload := map[string]string{
		"error": err.Error(),
		"code":  string(code),
	}
	writeJSON(w, status, payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
