package model

import "github.com/shopspring/decimal"

// CalcLock computes the collateral an order must lock before it can rest on
// the book or cross, per spec.md §4.4's collateral rule:
//
//	BUY  YES @ p: collateral = p * qty
//	SELL YES @ p: collateral = (1 - p) * qty   (covered-short obligation)
//
// Market orders lock the conservative worst case (qty * $1.00) on both
// sides; the matching engine releases the unused portion once the actual
// fill prices are known. This generalizes raphalbongso-wager-marketplace's
// CalcLock (which hard-coded a 99-cent worst case and a flat fee-on-notional
// add-on) to the exact economic rule spec.md adopts, including the taker fee.
func CalcLock(side OrderSide, otype OrderType, price Price, qty int64, feeRate float64) Money {
	if otype == TypeMarket {
		base := MoneyFromCents(100 * qty)
		fee := base.Mul(decimal.NewFromFloat(feeRate))
		return base.Add(fee)
	}
	if side == SideBuy {
		base := price.MulQty(qty)
		fee := base.Mul(decimal.NewFromFloat(feeRate))
		return base.Add(fee)
	}
	base := price.Complement().MulQty(qty)
	fee := MaxPrice.MulQty(qty).Mul(decimal.NewFromFloat(feeRate))
	return base.Add(fee)
}

// BuyerFee and SellerFee compute the symmetric-notional fee charged against one side of
// a single fill, per spec.md §4.4 step d:
//
//	buyer_fee  = fee_rate * exec_price * fill_qty
//	seller_fee = fee_rate * (1 - exec_price) * fill_qty
func BuyerFee(execPrice Price, fillQty int64, feeRate float64) Money {
	return execPrice.MulQty(fillQty).Mul(decimal.NewFromFloat(feeRate))
}

func SellerFee(execPrice Price, fillQty int64, feeRate float64) Money {
	return execPrice.Complement().MulQty(fillQty).Mul(decimal.NewFromFloat(feeRate))
}
