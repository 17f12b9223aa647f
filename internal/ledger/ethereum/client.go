package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	xerrors "NegoChain/internal/errors"
	"NegoChain/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const defaultConfirmTimeout = 90 * time.Second

// Config describes how to construct an EVM compatible recorder.
type Config struct {
	Name           string
	RPCURL         string
	ChainID        int64
	PrivateKeyHex  string
	RegistryTo     string
	ConfirmTimeout time.Duration
}

// Recorder 将协议哈希作为交易数据写入 EVM 兼容链。
type Recorder struct {
	name    string
	eth     *ethclient.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	to      common.Address
	chainID *big.Int
	confirm time.Duration
	mu      sync.Mutex
}

// NewRecorder dials the configured RPC endpoint and returns a ready-to-use recorder.
func NewRecorder(ctx context.Context, cfg Config) (*Recorder, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置以太坊 RPC 地址")
	}
	keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKeyHex), "0x")
	if keyHex == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置登记账户私钥")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析登记账户私钥失败")
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接以太坊节点失败")
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID <= 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "获取链 ID 失败")
		}
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	to := from
	if registry := strings.TrimSpace(cfg.RegistryTo); registry != "" {
		to = common.HexToAddress(registry)
	}
	confirm := cfg.ConfirmTimeout
	if confirm <= 0 {
		confirm = defaultConfirmTimeout
	}

	return &Recorder{
		name:    cfg.Name,
		eth:     eth,
		key:     key,
		from:    from,
		to:      to,
		chainID: chainID,
		confirm: confirm,
	}, nil
}

// Record 发送携带协议哈希的交易并等待其被打包。
func (r *Recorder) Record(ctx context.Context, record ledger.AgreementRecord) (*ledger.Receipt, error) {
	if r == nil || r.eth == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的以太坊客户端")
	}

	hash := ledger.AgreementHash(record)
	payload, err := hexutil.Decode(hash)
	if err != nil {
		return nil, xerrors.Wrap(ledger.CodeLedgerFailure, err, "解码协议哈希失败")
	}

	// 串行化 nonce 获取与发送，避免并发登记时 nonce 冲突。
	r.mu.Lock()
	defer r.mu.Unlock()

	nonce, err := r.eth.PendingNonceAt(ctx, r.from)
	if err != nil {
		return nil, xerrors.Wrap(ledger.CodeLedgerFailure, err, "查询交易计数失败")
	}
	gasPrice, err := r.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, xerrors.Wrap(ledger.CodeLedgerFailure, err, "查询建议 Gas 价格失败")
	}

	tx := coretypes.NewTransaction(nonce, r.to, big.NewInt(0), 100_000, gasPrice, payload)
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(r.chainID), r.key)
	if err != nil {
		return nil, xerrors.Wrap(ledger.CodeLedgerFailure, err, "签名登记交易失败")
	}
	if err := r.eth.SendTransaction(ctx, signed); err != nil {
		return nil, xerrors.Wrap(ledger.CodeLedgerFailure, err, "发送登记交易失败")
	}

	receipt, err := r.waitMined(ctx, signed.Hash())
	if err != nil {
		// 交易已广播，返回哈希供调用方后续补查区块高度。
		return &ledger.Receipt{TxHash: signed.Hash().Hex()}, nil
	}
	return &ledger.Receipt{
		TxHash:      signed.Hash().Hex(),
		BlockNumber: fmt.Sprintf("0x%x", receipt.BlockNumber),
	}, nil
}

func (r *Recorder) waitMined(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, r.confirm)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		receipt, err := r.eth.TransactionReceipt(waitCtx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-waitCtx.Done():
			return nil, waitCtx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases network connections held by the recorder.
func (r *Recorder) Close() {
	if r == nil || r.eth == nil {
		return
	}
	r.eth.Close()
	r.eth = nil
}

var _ ledger.Recorder = (*Recorder)(nil)
