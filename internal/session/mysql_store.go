package session

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"NegoChain/deploy/migrations"
	xerrors "NegoChain/internal/errors"
	"NegoChain/internal/negotiation"
	"github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 记录会话状态。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// initSchema 按顺序执行内嵌迁移脚本。对已存在的列或索引
// （MySQL 1060/1061）静默跳过，保证重启幂等。
func (s *MySQLStore) initSchema() error {
	scripts, err := migrations.Scripts()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取迁移脚本失败")
	}
	for _, script := range scripts {
		for _, stmt := range strings.Split(script, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := s.db.Exec(stmt); err != nil {
				var mysqlErr *mysql.MySQLError
				if stdErrors.As(err, &mysqlErr) && (mysqlErr.Number == 1060 || mysqlErr.Number == 1061) {
					continue
				}
				return xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行会话库迁移失败")
			}
		}
	}
	return nil
}

// Create 插入新的会话记录。
func (s *MySQLStore) Create(ctx context.Context, sess *Session) error {
	if sess == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "session 不能为空")
	}
	if strings.TrimSpace(sess.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}

	now := time.Now().Unix()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	configValue, err := json.Marshal(sess.Config)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码会话配置失败")
	}

	const stmt = `INSERT INTO negotiation_sessions
        (id, buyer_address, seller_address, config, market_symbol, market_asset_type, market_price, status, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		sess.ID,
		sess.BuyerAddress,
		sess.SellerAddress,
		string(configValue),
		sess.MarketSymbol,
		sess.MarketAssetType,
		nullFloat(sess.MarketPrice),
		sess.Status,
		sess.CreatedAt,
		sess.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrSessionConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入会话失败")
	}
	return nil
}

const sessionColumns = `id, buyer_address, seller_address, config, market_symbol, market_asset_type, market_price,
        status, timeline, outcome, agreement_hash, chain_tx_hash, chain_block, last_error, error_code, created_at, updated_at`

// Get 查询指定会话。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Session, error) {
	stmt := `SELECT ` + sessionColumns + ` FROM negotiation_sessions WHERE id = ?`

	row := s.db.QueryRowContext(ctx, stmt, id)
	sess, err := scanSession(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

// Claim 将会话标记为执行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Session, error) {
	const updateStmt = `UPDATE negotiation_sessions SET status = ?, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?)`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, updateStmt,
		StatusRunning,
		now,
		id,
		StatusOpen,
		StatusFailed,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新会话状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		sess, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if sess.Finished() {
			return sess, ErrSessionFinished
		}
		return sess, ErrSessionConflict
	}
	return s.Get(ctx, id)
}

// SaveResult 写入谈判产物并切换到对应的终态。
func (s *MySQLStore) SaveResult(ctx context.Context, id string, result ExecutionResult) error {
	timelineValue, err := json.Marshal(result.Timeline)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码谈判时间线失败")
	}
	outcomeValue, err := json.Marshal(result.Outcome)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码谈判终局失败")
	}

	const stmt = `UPDATE negotiation_sessions SET status = ?, timeline = ?, outcome = ?, market_price = ?,
        agreement_hash = ?, chain_tx_hash = ?, chain_block = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		result.StatusFor(),
		string(timelineValue),
		string(outcomeValue),
		nullFloat(result.MarketPrice),
		result.AgreementHash,
		result.ChainTxHash,
		result.ChainBlock,
		now,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存谈判结果失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// MarkRecorded 在链上登记完成后补写交易信息。
func (s *MySQLStore) MarkRecorded(ctx context.Context, id, txHash, block string) error {
	const stmt = `UPDATE negotiation_sessions SET status = ?, chain_tx_hash = ?, chain_block = ?, updated_at = ?
        WHERE id = ? AND status = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		StatusRecorded,
		txHash,
		block,
		now,
		id,
		StatusFinalized,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记链上登记失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrSessionConflict
	}
	return nil
}

// MarkFailed 标记会话执行失败。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string) error {
	const stmt = `UPDATE negotiation_sessions SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		StatusFailed,
		lastError,
		string(code),
		now,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记会话失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// List 返回最近的会话。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Session, error) {
	opts.applyDefaults()

	query := `SELECT ` + sessionColumns + ` FROM negotiation_sessions`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ?"

	args := append(filterArgs, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话列表失败")
	}
	defer rows.Close()

	sessions := make([]*Session, 0, opts.Limit)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历会话失败")
	}
	return sessions, nil
}

// Stats 返回符合过滤条件的会话聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (SessionStats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS open_count,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS running,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS finalized,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS exhausted,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS recorded,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM negotiation_sessions`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	args := []any{
		string(StatusOpen), string(StatusRunning), string(StatusFinalized),
		string(StatusExhausted), string(StatusRecorded), string(StatusFailed),
	}
	args = append(args, filterArgs...)

	row := s.db.QueryRowContext(ctx, query, args...)

	var stats SessionStats
	if err := row.Scan(
		&stats.Total,
		&stats.Open,
		&stats.Running,
		&stats.Finalized,
		&stats.Exhausted,
		&stats.Recorded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return SessionStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var configRaw string
	var timelineRaw sql.NullString
	var outcomeRaw sql.NullString
	var marketPrice sql.NullFloat64
	var lastError sql.NullString

	if err := row.Scan(
		&sess.ID,
		&sess.BuyerAddress,
		&sess.SellerAddress,
		&configRaw,
		&sess.MarketSymbol,
		&sess.MarketAssetType,
		&marketPrice,
		&sess.Status,
		&timelineRaw,
		&outcomeRaw,
		&sess.AgreementHash,
		&sess.ChainTxHash,
		&sess.ChainBlock,
		&lastError,
		&sess.ErrorCode,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话记录失败")
	}

	if err := json.Unmarshal([]byte(configRaw), &sess.Config); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话配置失败")
	}
	if timelineRaw.Valid && strings.TrimSpace(timelineRaw.String) != "" {
		var timeline []negotiation.Round
		if err := json.Unmarshal([]byte(timelineRaw.String), &timeline); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析谈判时间线失败")
		}
		sess.Timeline = timeline
	}
	if outcomeRaw.Valid && strings.TrimSpace(outcomeRaw.String) != "" {
		var outcome negotiation.Outcome
		if err := json.Unmarshal([]byte(outcomeRaw.String), &outcome); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析谈判终局失败")
		}
		sess.Outcome = &outcome
	}
	if marketPrice.Valid {
		price := marketPrice.Float64
		sess.MarketPrice = &price
	}
	if lastError.Valid {
		sess.LastError = lastError.String
	}
	return &sess, nil
}

func nullFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 6)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for range opts.Statuses {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
		for _, status := range opts.Statuses {
			args = append(args, status)
		}
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasOutcome != nil {
		if *opts.HasOutcome {
			conditions = append(conditions, "(outcome IS NOT NULL AND outcome <> '')")
		} else {
			conditions = append(conditions, "(outcome IS NULL OR outcome = '')")
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
