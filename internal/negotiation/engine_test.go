package negotiation

import (
	"context"
	"math"
	"testing"

	xerrors "NegoChain/internal/errors"
)

func TestEngineReachesAgreement(t *testing.T) {
	cfg := Config{
		BuyerBounds:    PriceBounds{Min: 50, Max: 100},
		SellerBounds:   PriceBounds{Min: 50, Max: 100},
		BuyerTarget:    60,
		SellerTarget:   90,
		FairnessWeight: 0.5,
	}
	engine, err := New(cfg)
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Outcome.Kind != OutcomeAgreement {
		t.Fatalf("outcome = %s, want agreement", result.Outcome.Kind)
	}
	// 对称配置下成交价应落在公平价 75 上。
	if math.Abs(result.Outcome.Price-75) > 1e-6 {
		t.Fatalf("price = %.4f, want 75", result.Outcome.Price)
	}
	if result.Outcome.Rounds > engine.Config().MaxRounds {
		t.Fatalf("rounds = %d exceeds max %d", result.Outcome.Rounds, engine.Config().MaxRounds)
	}
	if len(result.Timeline) != result.Outcome.Rounds {
		t.Fatalf("timeline length %d != rounds %d", len(result.Timeline), result.Outcome.Rounds)
	}
	if math.Abs(result.Outcome.SimpleFairness-1.0) > 1e-6 {
		t.Fatalf("symmetric deal should have fairness 1, got %.4f", result.Outcome.SimpleFairness)
	}
	if engine.State() != StateFinalized {
		t.Fatalf("state = %s, want finalized", engine.State())
	}

	first := result.Timeline[0]
	if first.BuyerOffer != 60 || first.SellerOffer != 90 {
		t.Fatalf("opening offers should be the targets, got %.2f/%.2f", first.BuyerOffer, first.SellerOffer)
	}
	if first.BuyerExplanation == "" || first.SellerExplanation == "" {
		t.Fatal("every round should carry explanations")
	}
}

func TestEngineExhaustsRounds(t *testing.T) {
	cfg := Config{
		BuyerBounds:  PriceBounds{Min: 50, Max: 100},
		SellerBounds: PriceBounds{Min: 50, Max: 100},
		BuyerTarget:  50,
		SellerTarget: 100,
	}
	engine, err := New(cfg)
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Outcome.Kind != OutcomeNoDeal {
		t.Fatalf("outcome = %s, want no_deal", result.Outcome.Kind)
	}
	if result.Outcome.Reason != NoDealMaxRounds {
		t.Fatalf("reason = %q, want %q", result.Outcome.Reason, NoDealMaxRounds)
	}
	if result.Outcome.Rounds != engine.Config().MaxRounds {
		t.Fatalf("rounds = %d, want %d", result.Outcome.Rounds, engine.Config().MaxRounds)
	}
	if engine.State() != StateExhausted {
		t.Fatalf("state = %s, want exhausted", engine.State())
	}
}

func TestEngineRunIdempotent(t *testing.T) {
	cfg := Config{
		BuyerBounds:    PriceBounds{Min: 50, Max: 100},
		SellerBounds:   PriceBounds{Min: 50, Max: 100},
		BuyerTarget:    60,
		SellerTarget:   90,
		FairnessWeight: 0.5,
	}
	engine, err := New(cfg)
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}

	first, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if len(first.Timeline) != len(second.Timeline) {
		t.Fatalf("a finished negotiation must not replay rounds: %d vs %d", len(first.Timeline), len(second.Timeline))
	}
	if first.Outcome != second.Outcome {
		t.Fatalf("repeated runs should return the same outcome: %+v vs %+v", first.Outcome, second.Outcome)
	}
}

func TestEngineTheoryOfMindBeliefs(t *testing.T) {
	cfg := Config{
		BuyerBounds:     PriceBounds{Min: 50, Max: 100},
		SellerBounds:    PriceBounds{Min: 50, Max: 100},
		BuyerTarget:     55,
		SellerTarget:    95,
		UseTheoryOfMind: true,
	}
	engine, err := New(cfg)
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(result.Timeline) < 2 {
		t.Fatalf("expected multiple rounds, got %d", len(result.Timeline))
	}
	last := result.Timeline[len(result.Timeline)-1]
	if last.BuyerBelief == nil || last.SellerBelief == nil {
		t.Fatal("theory of mind should attach beliefs to later rounds")
	}
	if !last.BuyerBelief.Confident() {
		t.Fatal("belief should be confident after several observed offers")
	}
}

func TestEngineMarketSignalRecorded(t *testing.T) {
	cfg := Config{
		BuyerBounds:  PriceBounds{Min: 50, Max: 100},
		SellerBounds: PriceBounds{Min: 50, Max: 100},
		BuyerTarget:  60,
		SellerTarget: 90,
		Market:       &MarketSignal{ReferencePrice: 78, Trend: TrendUp},
	}
	engine, err := New(cfg)
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, round := range result.Timeline {
		if round.MarketPrice == nil || *round.MarketPrice != 78 {
			t.Fatalf("round %d should record the market reference price", round.Number)
		}
	}
}

func TestEngineRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{
			name: "inverted bounds",
			cfg: Config{
				BuyerBounds:  PriceBounds{Min: 100, Max: 50},
				SellerBounds: PriceBounds{Min: 50, Max: 100},
				BuyerTarget:  60,
				SellerTarget: 90,
			},
		},
		{
			name: "target outside bounds",
			cfg: Config{
				BuyerBounds:  PriceBounds{Min: 50, Max: 100},
				SellerBounds: PriceBounds{Min: 50, Max: 100},
				BuyerTarget:  40,
				SellerTarget: 90,
			},
		},
		{
			name: "too few rounds",
			cfg: Config{
				BuyerBounds:  PriceBounds{Min: 50, Max: 100},
				SellerBounds: PriceBounds{Min: 50, Max: 100},
				BuyerTarget:  60,
				SellerTarget: 90,
				MaxRounds:    3,
			},
		},
		{
			name: "fairness weight above one",
			cfg: Config{
				BuyerBounds:    PriceBounds{Min: 50, Max: 100},
				SellerBounds:   PriceBounds{Min: 50, Max: 100},
				BuyerTarget:    60,
				SellerTarget:   90,
				FairnessWeight: 1.5,
			},
		},
		{
			name: "aggressiveness above one",
			cfg: Config{
				BuyerBounds:    PriceBounds{Min: 50, Max: 100},
				SellerBounds:   PriceBounds{Min: 50, Max: 100},
				BuyerTarget:    60,
				SellerTarget:   90,
				Aggressiveness: func() *float64 { v := 1.2; return &v }(),
			},
		},
		{
			name: "unknown market trend",
			cfg: Config{
				BuyerBounds:  PriceBounds{Min: 50, Max: 100},
				SellerBounds: PriceBounds{Min: 50, Max: 100},
				BuyerTarget:  60,
				SellerTarget: 90,
				Market:       &MarketSignal{ReferencePrice: 75, Trend: Trend("sideways")},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg)
			if err == nil {
				t.Fatal("expected config rejection")
			}
			if code := xerrors.CodeOf(err); code != CodeConfigInvalid {
				t.Fatalf("expected %s, got %s", CodeConfigInvalid, code)
			}
		})
	}
}

func TestEngineContextCancellation(t *testing.T) {
	cfg := Config{
		BuyerBounds:  PriceBounds{Min: 50, Max: 100},
		SellerBounds: PriceBounds{Min: 50, Max: 100},
		BuyerTarget:  50,
		SellerTarget: 100,
	}
	engine, err := New(cfg)
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.Run(ctx); err == nil {
		t.Fatal("cancelled context should stop the negotiation")
	}
	if engine.Done() {
		t.Fatal("a cancelled negotiation must not be finalized")
	}
}

func TestEngineHonorsZeroAggressiveness(t *testing.T) {
	zero := 0.0
	cfg := Config{
		BuyerBounds:    PriceBounds{Min: 50, Max: 100},
		SellerBounds:   PriceBounds{Min: 50, Max: 100},
		BuyerTarget:    60,
		SellerTarget:   90,
		Aggressiveness: &zero,
	}
	engine, err := New(cfg)
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	if got := engine.Config().Aggressiveness; got == nil || *got != 0 {
		t.Fatalf("aggressiveness = %v, want explicit 0", got)
	}

	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	timeline := engine.Timeline()
	if len(timeline) < 2 {
		t.Fatalf("expected at least two rounds, got %d", len(timeline))
	}
	// 进攻性为 0 时只按保底步长 0.005 移动：60 + 0.005*(90-60) = 60.15。
	// 默认值 0.5 会走到 60.75，据此区分配置是否被改写。
	second := timeline[1]
	if math.Abs(second.BuyerOffer-60.15) > 1e-9 {
		t.Fatalf("round 2 buyer offer = %.4f, want 60.15", second.BuyerOffer)
	}
	if math.Abs(second.SellerOffer-89.85) > 1e-9 {
		t.Fatalf("round 2 seller offer = %.4f, want 89.85", second.SellerOffer)
	}
}

func TestEngineFairnessWeightMonotonicity(t *testing.T) {
	bounds := PriceBounds{Min: 50, Max: 100}
	fairPrice := FairnessPrice(bounds, bounds)

	// fairness_weight 越高，第二轮报价离公平价越近。
	weights := []float64{0, 0.25, 0.5, 0.75, 1}
	prevBuyer := math.Inf(1)
	prevSeller := math.Inf(1)
	for _, weight := range weights {
		cfg := Config{
			BuyerBounds:    bounds,
			SellerBounds:   bounds,
			BuyerTarget:    60,
			SellerTarget:   90,
			FairnessWeight: weight,
		}
		engine, err := New(cfg)
		if err != nil {
			t.Fatalf("weight %.2f: new engine failed: %v", weight, err)
		}
		if _, err := engine.Run(context.Background()); err != nil {
			t.Fatalf("weight %.2f: run failed: %v", weight, err)
		}
		timeline := engine.Timeline()
		if len(timeline) < 2 {
			t.Fatalf("weight %.2f: expected at least two rounds, got %d", weight, len(timeline))
		}

		buyerDist := math.Abs(timeline[1].BuyerOffer - fairPrice)
		sellerDist := math.Abs(timeline[1].SellerOffer - fairPrice)
		if buyerDist >= prevBuyer {
			t.Fatalf("weight %.2f: buyer distance %.4f did not shrink from %.4f", weight, buyerDist, prevBuyer)
		}
		if sellerDist >= prevSeller {
			t.Fatalf("weight %.2f: seller distance %.4f did not shrink from %.4f", weight, sellerDist, prevSeller)
		}
		prevBuyer, prevSeller = buyerDist, sellerDist
	}
}

func TestConfigNormalizeDefaults(t *testing.T) {
	cfg := Config{
		BuyerBounds:  PriceBounds{Min: 50, Max: 100},
		SellerBounds: PriceBounds{Min: 50, Max: 100},
		BuyerTarget:  60,
		SellerTarget: 90,
	}
	cfg.Normalize()
	if cfg.MaxRounds != 8 || cfg.ConcessionRate != 0.05 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Aggressiveness == nil || *cfg.Aggressiveness != 0.5 {
		t.Fatalf("unexpected aggressiveness default: %+v", cfg.Aggressiveness)
	}
	if cfg.ConvergenceThreshold != 1.0 || cfg.FairnessTarget != 0.9 || cfg.Quantity != 1 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
