package ledger

import (
	"strings"
	"testing"
)

func TestAgreementHashDeterministic(t *testing.T) {
	record := AgreementRecord{
		Buyer:    "0x1111111111111111111111111111111111111111",
		Seller:   "0x2222222222222222222222222222222222222222",
		Price:    75.4,
		Quantity: 3,
		Escrow:   true,
	}

	first := AgreementHash(record)
	second := AgreementHash(record)
	if first != second {
		t.Fatalf("hash should be deterministic: %s vs %s", first, second)
	}
	if !strings.HasPrefix(first, "0x") || len(first) != 66 {
		t.Fatalf("expected a 0x-prefixed 32-byte hash, got %q", first)
	}
}

func TestAgreementHashAddressCaseInsensitive(t *testing.T) {
	lower := AgreementRecord{
		Buyer:  "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd",
		Seller: "0x2222222222222222222222222222222222222222",
		Price:  80,
	}
	upper := lower
	upper.Buyer = strings.ToUpper(lower.Buyer)

	if AgreementHash(lower) != AgreementHash(upper) {
		t.Fatal("address casing must not change the agreement hash")
	}
}

func TestAgreementHashZeroAddressFallback(t *testing.T) {
	anonymous := AgreementRecord{Price: 80}
	placeholder := AgreementRecord{Buyer: zeroAddress, Seller: zeroAddress, Price: 80}

	if AgreementHash(anonymous) != AgreementHash(placeholder) {
		t.Fatal("missing addresses should hash as the zero address")
	}
}

func TestAgreementHashPriceTruncation(t *testing.T) {
	a := AgreementRecord{Buyer: "0x1", Seller: "0x2", Price: 75.2}
	b := AgreementRecord{Buyer: "0x1", Seller: "0x2", Price: 75.9}
	c := AgreementRecord{Buyer: "0x1", Seller: "0x2", Price: 76.0}

	// 价格只以整数单位参与哈希，同一整数单位的价格指纹一致。
	if AgreementHash(a) != AgreementHash(b) {
		t.Fatal("prices in the same integer unit should produce the same hash")
	}
	if AgreementHash(a) == AgreementHash(c) {
		t.Fatal("different integer prices should produce different hashes")
	}
}

func TestAgreementHashDistinguishesTerms(t *testing.T) {
	base := AgreementRecord{
		Buyer:    "0x1111111111111111111111111111111111111111",
		Seller:   "0x2222222222222222222222222222222222222222",
		Price:    75,
		Quantity: 2,
	}
	withEscrow := base
	withEscrow.Escrow = true
	withDelivery := base
	withDelivery.DeliveryDays = 14

	hashes := map[string]string{
		"base":     AgreementHash(base),
		"escrow":   AgreementHash(withEscrow),
		"delivery": AgreementHash(withDelivery),
	}
	seen := make(map[string]string, len(hashes))
	for name, hash := range hashes {
		if other, ok := seen[hash]; ok {
			t.Fatalf("terms %s and %s should not collide", name, other)
		}
		seen[hash] = name
	}
}
