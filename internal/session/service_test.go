package session

import (
	"context"
	stdErrors "errors"
	"sync/atomic"
	"testing"

	xerrors "NegoChain/internal/errors"
	"NegoChain/internal/negotiation"
)

type countingExecutor struct {
	executed atomic.Int32
	fail     bool
}

func (e *countingExecutor) Execute(_ context.Context, sess *Session) (*ExecutionResult, error) {
	e.executed.Add(1)
	if e.fail {
		return nil, xerrors.New(CodeSessionProcessing, "执行失败")
	}
	result := agreementResult()
	return &result, nil
}

type recordingProducer struct {
	published []string
	fail      bool
}

func (p *recordingProducer) Publish(_ context.Context, sessionID string) error {
	if p.fail {
		return stdErrors.New("broker unavailable")
	}
	p.published = append(p.published, sessionID)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func TestServiceStartValidatesConfig(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil, nil)

	_, err := svc.Start(context.Background(), StartRequest{
		BuyerAddress:  "0xbuyer",
		SellerAddress: "0xseller",
		Config: negotiation.Config{
			BuyerBounds:  negotiation.PriceBounds{Min: 100, Max: 50},
			SellerBounds: negotiation.PriceBounds{Min: 50, Max: 100},
			BuyerTarget:  60,
			SellerTarget: 90,
		},
	})
	if err == nil {
		t.Fatal("inverted bounds should be rejected")
	}
	if code := xerrors.CodeOf(err); code != CodeSessionValidation {
		t.Fatalf("expected %s, got %s", CodeSessionValidation, code)
	}
}

func TestServiceStartGeneratesID(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil, nil)

	sess, err := svc.Start(context.Background(), StartRequest{
		BuyerAddress:  "0xbuyer",
		SellerAddress: "0xseller",
		Config:        testConfig(),
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected a generated session ID")
	}
	if sess.Status != StatusOpen {
		t.Fatalf("status = %s, want open", sess.Status)
	}
	if sess.Config.MaxRounds != 8 {
		t.Fatalf("defaults not applied: max_rounds = %d", sess.Config.MaxRounds)
	}
}

func TestServiceStartIsIdempotentByID(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil, nil)
	ctx := context.Background()

	req := StartRequest{
		ID:            "fixed-id",
		BuyerAddress:  "0xbuyer",
		SellerAddress: "0xseller",
		Config:        testConfig(),
	}
	first, err := svc.Start(ctx, req)
	if err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	second, err := svc.Start(ctx, req)
	if err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if first.ID != second.ID || second.CreatedAt != first.CreatedAt {
		t.Fatalf("repeated start should return the existing session: %+v vs %+v", first, second)
	}
}

func TestServiceRunIsIdempotent(t *testing.T) {
	executor := &countingExecutor{}
	svc := NewService(NewMemoryStore(), nil, executor)
	ctx := context.Background()

	sess, err := svc.Start(ctx, StartRequest{BuyerAddress: "0xb", SellerAddress: "0xs", Config: testConfig()})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	first, err := svc.Run(ctx, sess.ID)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if first.Status != StatusFinalized {
		t.Fatalf("status = %s, want finalized", first.Status)
	}

	second, err := svc.Run(ctx, sess.ID)
	if err != nil {
		t.Fatalf("repeated run failed: %v", err)
	}
	if second.Status != StatusFinalized {
		t.Fatalf("status = %s, want finalized", second.Status)
	}
	if got := executor.executed.Load(); got != 1 {
		t.Fatalf("a finished session must not be renegotiated: executed %d times", got)
	}
}

func TestServiceRunMarksFailure(t *testing.T) {
	executor := &countingExecutor{fail: true}
	store := NewMemoryStore()
	svc := NewService(store, nil, executor)
	ctx := context.Background()

	sess, err := svc.Start(ctx, StartRequest{BuyerAddress: "0xb", SellerAddress: "0xs", Config: testConfig()})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := svc.Run(ctx, sess.ID); err == nil {
		t.Fatal("expected execution error")
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != StatusFailed || got.ErrorCode != string(CodeSessionProcessing) {
		t.Fatalf("failure not recorded: %+v", got)
	}
}

func TestServiceSubmit(t *testing.T) {
	producer := &recordingProducer{}
	svc := NewService(NewMemoryStore(), producer, nil)
	ctx := context.Background()

	sess, err := svc.Start(ctx, StartRequest{BuyerAddress: "0xb", SellerAddress: "0xs", Config: testConfig()})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := svc.Submit(ctx, sess.ID); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if len(producer.published) != 1 || producer.published[0] != sess.ID {
		t.Fatalf("session not published: %+v", producer.published)
	}
}

func TestServiceSubmitPublishFailure(t *testing.T) {
	producer := &recordingProducer{fail: true}
	store := NewMemoryStore()
	svc := NewService(store, producer, nil)
	ctx := context.Background()

	sess, err := svc.Start(ctx, StartRequest{BuyerAddress: "0xb", SellerAddress: "0xs", Config: testConfig()})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	_, err = svc.Submit(ctx, sess.ID)
	if err == nil {
		t.Fatal("expected publish error")
	}
	if code := xerrors.CodeOf(err); code != CodeSessionPublish {
		t.Fatalf("expected %s, got %s", CodeSessionPublish, code)
	}

	got, getErr := store.Get(ctx, sess.ID)
	if getErr != nil {
		t.Fatalf("get failed: %v", getErr)
	}
	if got.Status != StatusFailed {
		t.Fatalf("publish failure should mark the session failed, got %s", got.Status)
	}
}

func TestServiceTimeline(t *testing.T) {
	executor := &countingExecutor{}
	svc := NewService(NewMemoryStore(), nil, executor)
	ctx := context.Background()

	sess, err := svc.Start(ctx, StartRequest{BuyerAddress: "0xb", SellerAddress: "0xs", Config: testConfig()})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := svc.Run(ctx, sess.ID); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	timeline, err := svc.Timeline(ctx, sess.ID)
	if err != nil {
		t.Fatalf("timeline failed: %v", err)
	}
	if len(timeline) != 1 || timeline[0].Number != 1 {
		t.Fatalf("unexpected timeline: %+v", timeline)
	}
}
