package ledger

import "context"

// NoopRecorder 不做任何链上操作，用于未配置账本的部署。
type NoopRecorder struct{}

// Record 返回空回执。
func (NoopRecorder) Record(_ context.Context, _ AgreementRecord) (*Receipt, error) {
	return nil, nil
}

// Close 无需释放资源。
func (NoopRecorder) Close() {}

var _ Recorder = NoopRecorder{}
