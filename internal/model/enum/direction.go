package enum

// Direction buy, sell
type Direction uint8

const (
	_direction_beg Direction = iota
	DirectionBuy
	DirectionSell
	_direction_end
)

func (d Direction) IsAvailable() bool {
	return d > _direction_beg && d < _direction_end
}

func (d Direction) String() string {
	switch d {
	case DirectionBuy:
		return "buy"
	case DirectionSell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseDirection maps the wire value of an order direction.
func ParseDirection(s string) Direction {
	switch s {
	case "buy":
		return DirectionBuy
	case "sell":
		return DirectionSell
	default:
		return _direction_beg
	}
}
