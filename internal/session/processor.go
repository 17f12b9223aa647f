package session

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "NegoChain/internal/errors"
	"NegoChain/internal/observability/alerting"
	"NegoChain/internal/observability/metrics"
	"NegoChain/pkg/logger"
)

// Processor 负责从队列消费会话并驱动谈判执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动会话处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置会话消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, sessionID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	sess, err := p.store.Claim(ctx, sessionID)
	if err != nil {
		if stdErrors.Is(err, ErrSessionNotFound) || stdErrors.Is(err, ErrSessionFinished) || stdErrors.Is(err, ErrSessionConflict) {
			p.logDebug("跳过会话", slog.String("session_id", sessionID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取会话失败", slog.Any("error", err), slog.String("session_id", sessionID))
		p.emitAlert(ctx, sessionID, CodeSessionProcessing, err, "claim")
		return err
	}

	result, execErr := p.executor.Execute(ctx, sess)
	if execErr != nil {
		code := xerrors.CodeOf(execErr)
		if code == xerrors.CodeUnknown {
			code = CodeSessionProcessing
		}
		if storeErr := p.store.MarkFailed(ctx, sess.ID, code, execErr.Error()); storeErr != nil {
			logger.L().Error("标记会话失败状态出错", slog.Any("error", storeErr), slog.String("session_id", sess.ID))
			return storeErr
		}
		logger.Audit().Warn("谈判执行失败",
			slog.String("session_id", sess.ID),
			slog.String("error", execErr.Error()),
			slog.String("error_code", string(code)),
		)
		p.emitAlert(ctx, sess.ID, code, execErr, "execute")
		return nil
	}

	if err := p.store.SaveResult(ctx, sess.ID, *result); err != nil {
		logger.L().Error("保存谈判结果失败", slog.Any("error", err), slog.String("session_id", sess.ID))
		if storeErr := p.store.MarkFailed(ctx, sess.ID, CodeSessionProcessing, err.Error()); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("session_id", sess.ID))
			return storeErr
		}
		p.emitAlert(ctx, sess.ID, CodeSessionProcessing, err, "persist")
		return err
	}
	metrics.ObserveSession(string(result.Outcome.Kind), len(result.Timeline))
	logger.Audit().Info("谈判执行完成",
		slog.String("session_id", sess.ID),
		slog.String("outcome", string(result.Outcome.Kind)),
		slog.Int("rounds", len(result.Timeline)),
		slog.String("agreement_hash", result.AgreementHash),
	)
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, sessionID string, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		SessionID:  sessionID,
		Stage:      stage,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("session_id", sessionID),
			slog.String("stage", stage),
		)
	}
}
