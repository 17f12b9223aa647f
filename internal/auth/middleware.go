package auth

import (
	"errors"
	"net/http"

	"NegoChain/pkg/logger"
)

// Middleware 返回校验 API Key 的 HTTP 中间件。disabled 模式下直接放行。
// 拒绝的请求会写入审计日志。
func (s *Service) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s == nil || s.mode == ModeDisabled {
				next.ServeHTTP(w, r)
				return
			}

			subject, err := s.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				status := http.StatusUnauthorized
				if !errors.Is(err, ErrMissingToken) && !errors.Is(err, ErrInvalidToken) {
					status = http.StatusInternalServerError
				}
				http.Error(w, http.StatusText(status), status)
				logger.Audit().Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", status,
					"error", err.Error(),
				)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
		})
	}
}
