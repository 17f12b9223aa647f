package main

import (
	"context"
	"fmt"
	"log"
	"net/http/httptest"

	"NegoChain/internal/api"
	"NegoChain/internal/market"
	"NegoChain/internal/session"
	"NegoChain/sdk/go/negochain"
)

// 演示通过 SDK 驱动一次完整谈判：创建会话、同步执行、读取逐轮时间线。
// 为了免去部署步骤，后端直接在进程内以内存存储 + 静态行情启动。
func main() {
	provider := market.NewStaticProvider(map[string]float64{"WIDGET": 72.5})
	store := session.NewMemoryStore()
	defer store.Close()

	svc := session.NewService(store, nil, session.NewNegotiator(session.WithMarketProvider(provider)))
	backend := httptest.NewServer(api.NewServer(":0", svc, provider).Handler())
	defer backend.Close()

	client, err := negochain.NewClient(backend.URL, nil)
	if err != nil {
		log.Fatalf("创建客户端失败: %v", err)
	}
	ctx := context.Background()

	created, err := client.CreateSession(ctx, negochain.SessionRequest{
		BuyerAddress:  "0x1111111111111111111111111111111111111111",
		SellerAddress: "0x2222222222222222222222222222222222222222",
		Config: negochain.SessionConfig{
			BuyerBounds:    negochain.PriceBounds{Min: 50, Max: 100},
			SellerBounds:   negochain.PriceBounds{Min: 50, Max: 100},
			BuyerTarget:    60,
			SellerTarget:   90,
			FairnessWeight: 0.5,
		},
		MarketSymbol: "WIDGET",
	})
	if err != nil {
		log.Fatalf("创建会话失败: %v", err)
	}
	fmt.Printf("会话已创建: %s\n", created.ID)

	finished, err := client.RunSession(ctx, created.ID)
	if err != nil {
		log.Fatalf("执行会话失败: %v", err)
	}
	fmt.Printf("结局: %s, 成交价 %.2f, 共 %d 轮\n",
		finished.Outcome.Kind, finished.Outcome.Price, finished.Outcome.Rounds)
	fmt.Printf("协议哈希: %s\n", finished.AgreementHash)

	timeline, err := client.Timeline(ctx, created.ID)
	if err != nil {
		log.Fatalf("读取时间线失败: %v", err)
	}
	for _, round := range timeline {
		fmt.Printf("第 %d 轮: 买方 %.2f / 卖方 %.2f (公平度 %.3f)\n",
			round.Number, round.BuyerOffer, round.SellerOffer, round.SimpleFairness)
	}
}
