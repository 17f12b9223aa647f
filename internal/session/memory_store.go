package session

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "NegoChain/internal/errors"
)

// MemoryStore 以内存方式保存会话状态，主要用于测试与单机部署。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, sess *Session) error {
	if sess == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "session 不能为空")
	}
	if sess.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sess.ID]; ok {
		return ErrSessionConflict
	}
	now := time.Now().Unix()
	if sess.CreatedAt == 0 {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	m.sessions[sess.ID] = cloneSession(sess)
	return nil
}

// Get 返回会话快照。
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(sess), nil
}

// Claim 将会话标记为执行中。已终结的会话返回 ErrSessionFinished 以便
// 调用方直接复用缓存结果；正在执行的会话返回 ErrSessionConflict。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.Finished() {
		return cloneSession(sess), ErrSessionFinished
	}
	if sess.Status == StatusRunning {
		return cloneSession(sess), ErrSessionConflict
	}
	sess.Status = StatusRunning
	sess.LastError = ""
	sess.ErrorCode = ""
	sess.UpdatedAt = time.Now().Unix()
	return cloneSession(sess), nil
}

// SaveResult 写入谈判产物并切换到对应的终态。
func (m *MemoryStore) SaveResult(_ context.Context, id string, result ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Status = result.StatusFor()
	sess.Timeline = append(sess.Timeline[:0:0], result.Timeline...)
	outcome := result.Outcome
	sess.Outcome = &outcome
	sess.MarketPrice = result.MarketPrice
	sess.AgreementHash = result.AgreementHash
	sess.ChainTxHash = result.ChainTxHash
	sess.ChainBlock = result.ChainBlock
	sess.LastError = ""
	sess.ErrorCode = ""
	sess.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkRecorded 在链上登记完成后补写交易信息。
func (m *MemoryStore) MarkRecorded(_ context.Context, id, txHash, block string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.Status != StatusFinalized {
		return ErrSessionConflict
	}
	sess.ChainTxHash = txHash
	sess.ChainBlock = block
	sess.Status = StatusRecorded
	sess.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 标记会话执行失败。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Status = StatusFailed
	sess.LastError = lastError
	sess.ErrorCode = string(code)
	sess.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合过滤条件的会话列表。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		if !matchesListFilters(sess, opts) {
			continue
		}
		results = append(results, cloneSession(sess))
	}

	sort.Slice(results, func(i, j int) bool {
		if opts.Order == SortByUpdatedAsc {
			if results[i].UpdatedAt == results[j].UpdatedAt {
				return results[i].ID < results[j].ID
			}
			return results[i].UpdatedAt < results[j].UpdatedAt
		}
		if results[i].UpdatedAt == results[j].UpdatedAt {
			return results[i].ID < results[j].ID
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的会话数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (SessionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := SessionStats{}
	for _, sess := range m.sessions {
		if !matchesListFilters(sess, opts) {
			continue
		}
		stats.Total++
		switch sess.Status {
		case StatusOpen:
			stats.Open++
		case StatusRunning:
			stats.Running++
		case StatusFinalized:
			stats.Finalized++
		case StatusExhausted:
			stats.Exhausted++
		case StatusRecorded:
			stats.Recorded++
		case StatusFailed:
			stats.Failed++
		}
		if sess.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = sess.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (sess.UpdatedAt != 0 && sess.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = sess.UpdatedAt
		}
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func matchesListFilters(sess *Session, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if sess.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.UpdatedGTE > 0 && sess.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && sess.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.HasOutcome != nil && (sess.Outcome != nil) != *opts.HasOutcome {
		return false
	}
	return true
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
