package matching

import (
	"github.com/shopspring/decimal"

	"github.com/clearinghouse/prediction-core/internal/model"
)

// applyFillToPosition folds one fill into pos's weighted-average cost basis,
// realizing pnl on any portion that reduces or flips the existing position.
// Grounded on raphalbongso-wager-marketplace's UpsertPosition (signed shares
// delta), generalized from a bare quantity counter to spec.md §3's full
// Position shape (avg_entry_price, total_cost, realized_pnl).
func applyFillToPosition(pos *model.Position, side model.OrderSide, execPrice model.Price, qty int64) {
	delta := qty
	if side == model.SideSell {
		delta = -qty
	}

	if pos.Quantity == 0 || sameSign(pos.Quantity, delta) {
		pos.TotalCost = pos.TotalCost.Add(execPrice.MulQty(absInt64(delta)))
		pos.Quantity += delta
		pos.AvgEntryPrice = avgPrice(pos)
		return
	}

	closing := minInt64(absInt64(delta), absInt64(pos.Quantity))
	proceeds := execPrice.MulQty(closing)
	costBasis := pos.AvgEntryPrice.MulQty(closing)

	var realized model.Money
	if pos.Quantity > 0 {
		realized = proceeds.Sub(costBasis) // was long, now selling
	} else {
		realized = costBasis.Sub(proceeds) // was short, now covering
	}
	pos.RealizedPnl = pos.RealizedPnl.Add(realized)
	pos.TotalCost = pos.TotalCost.Sub(costBasis)
	if pos.Quantity > 0 {
		pos.Quantity -= closing
	} else {
		pos.Quantity += closing
	}

	if remainder := absInt64(delta) - closing; remainder > 0 {
		newDelta := remainder
		if delta < 0 {
			newDelta = -remainder
		}
		pos.TotalCost = execPrice.MulQty(absInt64(newDelta))
		pos.Quantity = newDelta
	}
	pos.AvgEntryPrice = avgPrice(pos)
}

func avgPrice(pos *model.Position) model.Price {
	if pos.Quantity == 0 {
		return model.Price{}
	}
	return model.NewPrice(pos.TotalCost.Decimal().Div(decimal.New(absInt64(pos.Quantity), 0)))
}

func sameSign(a, b int64) bool { return (a > 0) == (b > 0) }

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
