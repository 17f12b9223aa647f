package ledger

import (
	"context"
	"fmt"
	"strings"

	xerrors "NegoChain/internal/errors"

	"github.com/ethereum/go-ethereum/crypto"
)

// zeroAddress 在任一方未提供地址时作为占位符参与哈希。
const zeroAddress = "0x0000000000000000000000000000000000000000"

// AgreementRecord 描述一份待登记的成交协议。
type AgreementRecord struct {
	SessionID    string  `json:"session_id"`
	Buyer        string  `json:"buyer"`
	Seller       string  `json:"seller"`
	Price        float64 `json:"price"`
	Quantity     int     `json:"quantity"`
	DeliveryDays int     `json:"delivery_days"`
	Escrow       bool    `json:"escrow"`
}

// Receipt 是一次链上登记的回执。
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber string `json:"block_number"`
}

// Recorder 将协议指纹写入外部账本。
type Recorder interface {
	Record(ctx context.Context, record AgreementRecord) (*Receipt, error)
	Close()
}

const (
	// CodeLedgerFailure 表示链上登记失败。
	CodeLedgerFailure xerrors.Code = "LEDGER_RECORD_FAILED"
)

func init() {
	xerrors.Register(CodeLedgerFailure, xerrors.Attributes{
		Message:   "failed to record agreement on chain",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// AgreementHash 对协议的规范化表示做 Keccak-256，返回 0x 前缀的十六进制。
// 价格按整数单位参与哈希，保证双方在不同浮点环境下得到一致指纹。
func AgreementHash(record AgreementRecord) string {
	buyer := strings.ToLower(strings.TrimSpace(record.Buyer))
	if buyer == "" {
		buyer = zeroAddress
	}
	seller := strings.ToLower(strings.TrimSpace(record.Seller))
	if seller == "" {
		seller = zeroAddress
	}
	quantity := record.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	escrow := 0
	if record.Escrow {
		escrow = 1
	}
	canonical := fmt.Sprintf("%s|%s|%d|%d|%d|%d",
		buyer, seller, int64(record.Price), quantity, record.DeliveryDays, escrow)
	digest := crypto.Keccak256([]byte(canonical))
	return fmt.Sprintf("0x%x", digest)
}
