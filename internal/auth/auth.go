// Package auth 提供基于静态 API Key 的访问控制。启用后所有会话接口都
// 要求携带 Bearer 令牌，令牌与调用方名称的映射来自配置文件。
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Mode 表示认证子系统的开关状态。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeAPIKey   Mode = "apikey"
)

// Subject 描述通过认证的调用方。
type Subject struct {
	Name string
}

// Config 描述认证服务的配置。Keys 的键是令牌，值是调用方名称。
type Config struct {
	Enabled bool
	Keys    map[string]string
}

// Service 校验请求令牌并解析调用方身份。
type Service struct {
	mode Mode

	mu   sync.RWMutex
	keys map[string]string
}

// NewService 构造认证服务。未启用或没有任何令牌时进入 disabled 模式，
// 中间件将直接放行。
func NewService(cfg Config) *Service {
	if !cfg.Enabled || len(cfg.Keys) == 0 {
		return &Service{mode: ModeDisabled}
	}
	keys := make(map[string]string, len(cfg.Keys))
	for token, name := range cfg.Keys {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		keys[token] = name
	}
	if len(keys) == 0 {
		return &Service{mode: ModeDisabled}
	}
	return &Service{mode: ModeAPIKey, keys: keys}
}

// Mode 返回服务当前的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Authenticate 解析 Authorization 头并返回调用方身份。
func (s *Service) Authenticate(_ context.Context, authorization string) (*Subject, error) {
	token := strings.TrimSpace(authorization)
	if prefix := "bearer "; len(token) >= len(prefix) && strings.EqualFold(token[:len(prefix)], prefix) {
		token = strings.TrimSpace(token[len(prefix):])
	}
	if token == "" {
		return nil, ErrMissingToken
	}

	s.mu.RLock()
	name, ok := s.keys[token]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidToken
	}
	return &Subject{Name: name}, nil
}

type subjectKey struct{}

// WithSubject 将调用方身份写入上下文。
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext 读取上下文中的调用方身份，未认证时返回 nil。
func SubjectFromContext(ctx context.Context) *Subject {
	subject, _ := ctx.Value(subjectKey{}).(*Subject)
	return subject
}
