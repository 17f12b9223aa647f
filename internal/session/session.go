package session

import (
	stdErrors "errors"

	xerrors "NegoChain/internal/errors"
	"NegoChain/internal/negotiation"
)

// Status 表示谈判会话在生命周期中的状态。
type Status string

const (
	StatusOpen      Status = "open"
	StatusRunning   Status = "running"
	StatusFinalized Status = "finalized"
	StatusExhausted Status = "exhausted"
	StatusRecorded  Status = "recorded"
	StatusFailed    Status = "failed"
)

// Session 描述一次完整的谈判会话：配置、双方地址、市场上下文、
// 执行产物与链上登记信息。地址是不透明字符串，系统从不解析其含义。
type Session struct {
	ID              string                `json:"id"`
	BuyerAddress    string                `json:"buyer_address"`
	SellerAddress   string                `json:"seller_address"`
	Config          negotiation.Config    `json:"config"`
	MarketSymbol    string                `json:"market_symbol,omitempty"`
	MarketAssetType string                `json:"market_asset_type,omitempty"`
	MarketPrice     *float64              `json:"market_price,omitempty"`
	Status          Status                `json:"status"`
	Timeline        []negotiation.Round   `json:"timeline,omitempty"`
	Outcome         *negotiation.Outcome  `json:"outcome,omitempty"`
	AgreementHash   string                `json:"agreement_hash,omitempty"`
	ChainTxHash     string                `json:"chain_tx_hash,omitempty"`
	ChainBlock      string                `json:"chain_block,omitempty"`
	LastError       string                `json:"last_error,omitempty"`
	ErrorCode       string                `json:"error_code,omitempty"`
	CreatedAt       int64                 `json:"created_at"`
	UpdatedAt       int64                 `json:"updated_at"`
}

// Finished 判断会话是否已经产生终局结果。
func (s *Session) Finished() bool {
	switch s.Status {
	case StatusFinalized, StatusExhausted, StatusRecorded:
		return true
	default:
		return false
	}
}

// ExecutionResult 保存一次谈判执行的全部产物。
type ExecutionResult struct {
	Timeline      []negotiation.Round `json:"timeline"`
	Outcome       negotiation.Outcome `json:"outcome"`
	MarketPrice   *float64            `json:"market_price,omitempty"`
	AgreementHash string              `json:"agreement_hash,omitempty"`
	ChainTxHash   string              `json:"chain_tx_hash,omitempty"`
	ChainBlock    string              `json:"chain_block,omitempty"`
}

// StatusFor 根据终局类型换算会话状态。
func (r ExecutionResult) StatusFor() Status {
	if r.Outcome.Kind == negotiation.OutcomeAgreement {
		if r.ChainTxHash != "" {
			return StatusRecorded
		}
		return StatusFinalized
	}
	return StatusExhausted
}

var (
	// ErrSessionNotFound 表示指定的会话不存在。
	ErrSessionNotFound = xerrors.New(CodeSessionNotFound, "session not found")
	// ErrSessionConflict 表示会话在当前状态下无法进行所请求的操作。
	ErrSessionConflict = xerrors.New(CodeSessionConflict, "session conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrSessionFinished 表示会话已经终结，结果可以直接复用。
	ErrSessionFinished = xerrors.New(CodeSessionFinished, "session already finished", xerrors.WithSeverity(xerrors.SeverityInfo))
)

const (
	CodeSessionNotFound   xerrors.Code = "SESSION_NOT_FOUND"
	CodeSessionConflict   xerrors.Code = "SESSION_CONFLICT"
	CodeSessionFinished   xerrors.Code = "SESSION_FINISHED"
	CodeSessionValidation xerrors.Code = "SESSION_VALIDATION_FAILED"
	CodeSessionPublish    xerrors.Code = "SESSION_PUBLISH_FAILED"
	CodeSessionProcessing xerrors.Code = "SESSION_PROCESSING_FAILED"
)

func init() {
	xerrors.Register(CodeSessionNotFound, xerrors.Attributes{
		Message:   "session not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSessionConflict, xerrors.Attributes{
		Message:   "session conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSessionFinished, xerrors.Attributes{
		Message:   "session already finished",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSessionValidation, xerrors.Attributes{
		Message:   "session validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSessionPublish, xerrors.Attributes{
		Message:   "failed to publish session",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeSessionProcessing, xerrors.Attributes{
		Message:   "negotiation execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
}

// IsSessionError 判断错误是否对应统一会话错误码。
func IsSessionError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, ErrSessionNotFound) {
		return target == CodeSessionNotFound
	}
	if stdErrors.Is(err, ErrSessionConflict) {
		return target == CodeSessionConflict
	}
	if stdErrors.Is(err, ErrSessionFinished) {
		return target == CodeSessionFinished
	}
	return false
}

// IsValidStatus 检查给定的会话状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusOpen, StatusRunning, StatusFinalized, StatusExhausted, StatusRecorded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneSession(sess *Session) *Session {
	clone := *sess
	if sess.Timeline != nil {
		clone.Timeline = make([]negotiation.Round, len(sess.Timeline))
		copy(clone.Timeline, sess.Timeline)
	}
	if sess.Outcome != nil {
		outcome := *sess.Outcome
		clone.Outcome = &outcome
	}
	if sess.MarketPrice != nil {
		price := *sess.MarketPrice
		clone.MarketPrice = &price
	}
	return &clone
}
