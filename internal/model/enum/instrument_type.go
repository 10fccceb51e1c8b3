package enum

// InstrumentType option, future, perpetual, combination
type InstrumentType uint8

const (
	_instrument_type_beg InstrumentType = iota
	InstrumentTypeOption
	InstrumentTypeFuture
	InstrumentTypePerpetual
	InstrumentTypeCombination
	_instrument_type_end
)

func (t InstrumentType) IsAvailable() bool {
	return t > _instrument_type_beg && t < _instrument_type_end
}

func (t InstrumentType) String() string {
	switch t {
	case InstrumentTypeOption:
		return "option"
	case InstrumentTypeFuture:
		return "future"
	case InstrumentTypePerpetual:
		return "perpetual"
	case InstrumentTypeCombination:
		return "combination"
	default:
		return "unknown"
	}
}

// ParseInstrumentType maps the wire value of an instrument type.
func ParseInstrumentType(s string) InstrumentType {
	switch s {
	case "option":
		return InstrumentTypeOption
	case "future":
		return InstrumentTypeFuture
	case "perpetual":
		return InstrumentTypePerpetual
	case "combination":
		return InstrumentTypeCombination
	default:
		return _instrument_type_beg
	}
}

// OptionType call, put
type OptionType uint8

const (
	_option_type_beg OptionType = iota
	OptionTypeCall
	OptionTypePut
	_option_type_end
)

func (t OptionType) IsAvailable() bool {
	return t > _option_type_beg && t < _option_type_end
}

func (t OptionType) String() string {
	switch t {
	case OptionTypeCall:
		return "call"
	case OptionTypePut:
		return "put"
	default:
		return "unknown"
	}
}

// ParseOptionType maps the wire value of an option subtype.
func ParseOptionType(s string) OptionType {
	switch s {
	case "call":
		return OptionTypeCall
	case "put":
		return OptionTypePut
	default:
		return _option_type_beg
	}
}
