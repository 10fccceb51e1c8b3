package model

import "main/internal/model/enum"

// Side indexes the two quote slots of an instrument, bid first.
type Side int

const (
	SideBid Side = iota
	SideAsk

	SideCount = 2
)

func (s Side) Direction() enum.Direction {
	if s == SideBid {
		return enum.DirectionBuy
	}
	return enum.DirectionSell
}

func (s Side) String() string {
	if s == SideBid {
		return "bid"
	}
	return "ask"
}

// SideOf maps an order direction to its quote slot.
func SideOf(d enum.Direction) Side {
	if d == enum.DirectionBuy {
		return SideBid
	}
	return SideAsk
}
