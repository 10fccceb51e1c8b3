package model

import "main/internal/model/enum"

// Leg is one side of a combination instrument. Positive quantity is bought
// when the combination is bought.
type Leg struct {
	Instrument string
	Quantity   float64
}

// Instrument holds the static metadata of a tradable instrument.
// Immutable once loaded; the whole set is replaced on an instrument-set change.
type Instrument struct {
	Name       string
	Underlying string
	TickSize   float64
	Type       enum.InstrumentType
	OptionType enum.OptionType // zero unless Type is option
	ExpiryTs   int64           // unix seconds, zero for perpetuals
	Strike     float64         // zero unless Type is option
	Legs       []Leg           // empty unless Type is combination
}

// LegOtherThan returns the leg that is not the named instrument, for
// resolving the future leg of a roll against its perpetual.
func (i Instrument) LegOtherThan(name string) (Leg, bool) {
	hasNamed := false
	var other Leg
	var found bool
	for _, leg := range i.Legs {
		if leg.Instrument == name {
			hasNamed = true
		} else {
			other = leg
			found = true
		}
	}
	if !hasNamed || !found {
		return Leg{}, false
	}
	return other, true
}

func (i Instrument) IsOption() bool {
	return i.Type == enum.InstrumentTypeOption
}

func (i Instrument) IsPut() bool {
	return i.OptionType == enum.OptionTypePut
}

func (i Instrument) String() string {
	return i.Name
}
