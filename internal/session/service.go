package session

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "NegoChain/internal/errors"
	"NegoChain/internal/negotiation"
	"NegoChain/internal/observability/metrics"
	"NegoChain/pkg/logger"
)

// StartRequest 描述创建谈判会话所需的输入。
type StartRequest struct {
	ID              string             `json:"id,omitempty"`
	BuyerAddress    string             `json:"buyer_address"`
	SellerAddress   string             `json:"seller_address"`
	Config          negotiation.Config `json:"config"`
	MarketSymbol    string             `json:"market_symbol,omitempty"`
	MarketAssetType string             `json:"market_asset_type,omitempty"`
}

// Service 负责会话的创建、执行与查询。
type Service struct {
	store    Store
	producer Producer
	executor Executor
}

// NewService 构造会话服务。producer 与 executor 均可为空：
// 没有 producer 时 Submit 不可用，没有 executor 时 Run 不可用。
func NewService(store Store, producer Producer, executor Executor) *Service {
	return &Service{store: store, producer: producer, executor: executor}
}

// Start 校验配置并创建一个新的会话，不触发执行。
func (s *Service) Start(ctx context.Context, req StartRequest) (*Session, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "会话服务未初始化")
	}

	cfg := req.Config
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Wrap(CodeSessionValidation, err, "会话配置不合法")
	}

	sessionID := strings.TrimSpace(req.ID)
	if sessionID != "" {
		existing, err := s.store.Get(ctx, sessionID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
	} else {
		sessionID = uuid.NewString()
	}

	sess := &Session{
		ID:              sessionID,
		BuyerAddress:    strings.TrimSpace(req.BuyerAddress),
		SellerAddress:   strings.TrimSpace(req.SellerAddress),
		Config:          cfg,
		MarketSymbol:    strings.ToUpper(strings.TrimSpace(req.MarketSymbol)),
		MarketAssetType: strings.TrimSpace(req.MarketAssetType),
		Status:          StatusOpen,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		if stdErrors.Is(err, ErrSessionConflict) {
			existing, getErr := s.store.Get(ctx, sessionID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrSessionNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	logger.Audit().Info("会话已创建",
		slog.String("session_id", sessionID),
		slog.String("buyer", sess.BuyerAddress),
		slog.String("seller", sess.SellerAddress),
		slog.Int("max_rounds", cfg.MaxRounds),
	)
	return sess, nil
}

// Submit 将已创建的会话推送到队列，由后台处理器异步执行。
func (s *Service) Submit(ctx context.Context, id string) (*Session, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "会话队列未初始化")
	}
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Finished() {
		return sess, nil
	}
	if err := s.producer.Publish(ctx, sess.ID); err != nil {
		logger.L().Error("会话入队失败", slog.Any("error", err), slog.String("session_id", sess.ID))
		wrapped := xerrors.Wrap(CodeSessionPublish, err, "发布会话到队列失败")
		_ = s.store.MarkFailed(ctx, sess.ID, CodeSessionPublish, wrapped.Error())
		return nil, wrapped
	}
	logger.Audit().Info("会话入队成功", slog.String("session_id", sess.ID))
	return sess, nil
}

// Run 同步执行指定会话的谈判。重复调用是幂等的：已终结的会话
// 直接返回缓存结果，绝不重新谈判。
func (s *Service) Run(ctx context.Context, id string) (*Session, error) {
	if s.store == nil || s.executor == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "会话执行器未初始化")
	}

	sess, err := s.store.Claim(ctx, id)
	if err != nil {
		if stdErrors.Is(err, ErrSessionFinished) {
			return sess, nil
		}
		return nil, err
	}

	result, execErr := s.executor.Execute(ctx, sess)
	if execErr != nil {
		code := xerrors.CodeOf(execErr)
		if code == xerrors.CodeUnknown {
			code = CodeSessionProcessing
		}
		if storeErr := s.store.MarkFailed(ctx, sess.ID, code, execErr.Error()); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("session_id", sess.ID))
		}
		logger.Audit().Warn("谈判执行失败",
			slog.String("session_id", sess.ID),
			slog.String("error", execErr.Error()),
			slog.String("error_code", string(code)),
		)
		return nil, execErr
	}

	if err := s.store.SaveResult(ctx, sess.ID, *result); err != nil {
		logger.L().Error("保存谈判结果失败", slog.Any("error", err), slog.String("session_id", sess.ID))
		return nil, err
	}
	metrics.ObserveSession(string(result.Outcome.Kind), len(result.Timeline))
	logger.Audit().Info("谈判执行完成",
		slog.String("session_id", sess.ID),
		slog.String("outcome", string(result.Outcome.Kind)),
		slog.Int("rounds", len(result.Timeline)),
	)
	return s.store.Get(ctx, sess.ID)
}

// Get 返回指定会话的状态。
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "会话存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// Timeline 返回指定会话的逐轮谈判记录。
func (s *Service) Timeline(ctx context.Context, id string) ([]negotiation.Round, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.Timeline, nil
}

// List 返回符合过滤条件的会话列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Session, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "会话存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.List(ctx, options)
}

// Stats 返回符合过滤条件的会话统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (SessionStats, error) {
	if s.store == nil {
		return SessionStats{}, xerrors.New(xerrors.CodeInitializationFailure, "会话存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.Stats(ctx, options)
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilFinished 在指定超时时间内轮询会话状态。
func (s *Service) WaitUntilFinished(ctx context.Context, id string, interval time.Duration) (*Session, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sess, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess.Finished() || sess.Status == StatusFailed {
			return sess, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
