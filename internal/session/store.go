package session

import (
	"context"

	xerrors "NegoChain/internal/errors"
)

// Store 抽象了会话状态的持久化接口。
type Store interface {
	Create(ctx context.Context, sess *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Claim(ctx context.Context, id string) (*Session, error)
	SaveResult(ctx context.Context, id string, result ExecutionResult) error
	MarkRecorded(ctx context.Context, id, txHash, block string) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string) error
	List(ctx context.Context, opts ListOptions) ([]*Session, error)
	Stats(ctx context.Context, opts ListOptions) (SessionStats, error)
	Close() error
}
