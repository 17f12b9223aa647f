package session

import (
	"context"
	"strings"
	"testing"

	"NegoChain/internal/ledger"
	"NegoChain/internal/market"
	"NegoChain/internal/negotiation"
)

type fakeRecorder struct {
	records []ledger.AgreementRecord
	receipt *ledger.Receipt
	err     error
}

func (r *fakeRecorder) Record(_ context.Context, record ledger.AgreementRecord) (*ledger.Receipt, error) {
	r.records = append(r.records, record)
	return r.receipt, r.err
}

func (r *fakeRecorder) Close() {}

func TestNegotiatorProducesAgreement(t *testing.T) {
	negotiator := NewNegotiator()
	sess := &Session{
		ID:            "n-1",
		BuyerAddress:  "0x1111111111111111111111111111111111111111",
		SellerAddress: "0x2222222222222222222222222222222222222222",
		Config:        testConfig(),
		Status:        StatusOpen,
	}

	result, err := negotiator.Execute(context.Background(), sess)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Outcome.Kind != negotiation.OutcomeAgreement {
		t.Fatalf("outcome = %s, want agreement", result.Outcome.Kind)
	}
	if !strings.HasPrefix(result.AgreementHash, "0x") {
		t.Fatalf("expected an agreement hash, got %q", result.AgreementHash)
	}
	if result.ChainTxHash != "" {
		t.Fatal("no recorder configured, chain tx hash should be empty")
	}
	if result.StatusFor() != StatusFinalized {
		t.Fatalf("status = %s, want finalized", result.StatusFor())
	}
}

func TestNegotiatorNoDealSkipsLedger(t *testing.T) {
	recorder := &fakeRecorder{receipt: &ledger.Receipt{TxHash: "0xtx"}}
	negotiator := NewNegotiator(WithLedgerRecorder(recorder))

	cfg := negotiation.Config{
		BuyerBounds:  negotiation.PriceBounds{Min: 50, Max: 100},
		SellerBounds: negotiation.PriceBounds{Min: 50, Max: 100},
		BuyerTarget:  50,
		SellerTarget: 100,
	}
	cfg.Normalize()
	sess := &Session{ID: "n-2", Config: cfg, Status: StatusOpen}

	result, err := negotiator.Execute(context.Background(), sess)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Outcome.Kind != negotiation.OutcomeNoDeal {
		t.Fatalf("outcome = %s, want no_deal", result.Outcome.Kind)
	}
	if result.AgreementHash != "" || len(recorder.records) != 0 {
		t.Fatal("a failed negotiation must not reach the ledger")
	}
	if result.StatusFor() != StatusExhausted {
		t.Fatalf("status = %s, want exhausted", result.StatusFor())
	}
}

func TestNegotiatorInjectsMarketSignal(t *testing.T) {
	provider := market.NewStaticProvider(map[string]float64{"WIDGET": 72.5})
	negotiator := NewNegotiator(WithMarketProvider(provider))

	sess := &Session{
		ID:              "n-3",
		Config:          testConfig(),
		MarketSymbol:    "WIDGET",
		MarketAssetType: string(market.AssetStock),
		Status:          StatusOpen,
	}
	result, err := negotiator.Execute(context.Background(), sess)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.MarketPrice == nil || *result.MarketPrice != 72.5 {
		t.Fatalf("market price not injected: %+v", result.MarketPrice)
	}
	if len(result.Timeline) == 0 || result.Timeline[0].MarketPrice == nil {
		t.Fatal("rounds should carry the market reference price")
	}
}

func TestNegotiatorDegradesWithoutQuote(t *testing.T) {
	provider := market.NewStaticProvider(nil)
	negotiator := NewNegotiator(WithMarketProvider(provider))

	sess := &Session{
		ID:              "n-4",
		Config:          testConfig(),
		MarketSymbol:    "MISSING",
		MarketAssetType: string(market.AssetStock),
		Status:          StatusOpen,
	}
	result, err := negotiator.Execute(context.Background(), sess)
	if err != nil {
		t.Fatalf("a missing quote must not fail the negotiation: %v", err)
	}
	if result.MarketPrice != nil {
		t.Fatal("degraded run should not report a market price")
	}
	if result.Outcome.Kind != negotiation.OutcomeAgreement {
		t.Fatalf("outcome = %s, want agreement", result.Outcome.Kind)
	}
}

func TestNegotiatorRecordsOnChain(t *testing.T) {
	recorder := &fakeRecorder{receipt: &ledger.Receipt{TxHash: "0xtx", BlockNumber: "42"}}
	negotiator := NewNegotiator(WithLedgerRecorder(recorder))

	sess := &Session{
		ID:            "n-5",
		BuyerAddress:  "0x1111111111111111111111111111111111111111",
		SellerAddress: "0x2222222222222222222222222222222222222222",
		Config:        testConfig(),
		Status:        StatusOpen,
	}
	result, err := negotiator.Execute(context.Background(), sess)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.ChainTxHash != "0xtx" || result.ChainBlock != "42" {
		t.Fatalf("receipt not propagated: %+v", result)
	}
	if result.StatusFor() != StatusRecorded {
		t.Fatalf("status = %s, want recorded", result.StatusFor())
	}
	if len(recorder.records) != 1 || recorder.records[0].SessionID != "n-5" {
		t.Fatalf("unexpected ledger records: %+v", recorder.records)
	}
}
