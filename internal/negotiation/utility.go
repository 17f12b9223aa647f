package negotiation

import (
	"fmt"
	"math"

	xerrors "NegoChain/internal/errors"
)

// Utility 计算价格对某个角色的归一化效用。买方在低价处效用高，
// 卖方在高价处效用高。价格落在区间内时结果位于 [0,1]，越界价格
// 会得到区间外的效用值，调用方不能假定结果被截断。
func Utility(role Role, price float64, bounds PriceBounds) (float64, error) {
	width := bounds.Width()
	if width <= 0 {
		return 0, xerrors.New(CodeConfigInvalid, fmt.Sprintf("价格区间宽度非法: %.2f", width))
	}
	switch role {
	case RoleBuyer:
		return (bounds.Max - price) / width, nil
	case RoleSeller:
		return (price - bounds.Min) / width, nil
	default:
		return 0, xerrors.New(CodeConfigInvalid, fmt.Sprintf("未知角色: %s", role))
	}
}

// SimpleFairness 返回 1-|bu-su|，两侧效用相等时为 1。
func SimpleFairness(buyerUtility, sellerUtility float64) float64 {
	return 1.0 - math.Abs(buyerUtility-sellerUtility)
}

// ProportionalFairness 返回 Nash 乘积形式的公平度 ln(bu)+ln(su)。
// 任一效用非正时对数没有定义，返回 CodeDomain 错误，由调用方以
// 哨兵值（缺省的 nil）记录该轮。
func ProportionalFairness(buyerUtility, sellerUtility float64) (float64, error) {
	if buyerUtility <= 0 || sellerUtility <= 0 {
		return 0, xerrors.New(CodeDomain,
			fmt.Sprintf("非正效用无法计算比例公平度: buyer=%.4f seller=%.4f", buyerUtility, sellerUtility))
	}
	return math.Log(buyerUtility) + math.Log(sellerUtility), nil
}

// FairnessPrice 求解两条线性效用曲线相交的价格，即买卖双方效用相等、
// 简单公平度取得最大值 1 的点。两侧区间一致时退化为区间中点。
func FairnessPrice(buyerBounds, sellerBounds PriceBounds) float64 {
	bw := buyerBounds.Width()
	sw := sellerBounds.Width()
	// (bMax - p)/bw == (p - sMin)/sw
	return (buyerBounds.Max*sw + sellerBounds.Min*bw) / (bw + sw)
}
