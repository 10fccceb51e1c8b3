package model

import (
	"fmt"

	"main/internal/model/enum"
)

// Trade is our view of a fill reported by the exchange trade-history channel.
type Trade struct {
	Instrument string
	Direction  enum.Direction
	Amount     float64
	Price      float64
	PosAfter   float64
	TradeType  string
	OrderID    int64
	Index      float64
	MakerTaker string
	Time       string
	Label      string
}

func (t Trade) String() string {
	return fmt.Sprintf("%s %v %s %v @ %v type: %s, oid: %d, label: %s, pos after: %v, index: %.0f",
		t.Time, t.MakerTaker, t.Direction, t.Amount, t.Price, t.TradeType, t.OrderID, t.Label, t.PosAfter, t.Index)
}
