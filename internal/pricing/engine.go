package pricing

import (
	"math"

	"main/internal/greeks"
	"main/internal/model"
)

// Config holds every pricing constant. It is immutable after construction;
// there is no tuning at runtime.
type Config struct {
	// DeltaRangeMin/Max bound the absolute ticker delta of options we quote.
	DeltaRangeMin float64
	DeltaRangeMax float64
	// Spread is the base half-spread around the mark price.
	Spread float64
	// SpreadFactor widens the spread per unit of cumulative absolute open
	// option deltas across the book.
	SpreadFactor float64
	// Lots is the quote size.
	Lots float64
	// Retreat scales the position-proportional price backoff on the side that
	// would grow the position.
	Retreat float64
	// MaxDeltas caps portfolio delta; breaching it suppresses the side that
	// would push it further out.
	MaxDeltas float64
	// MaxOpenOptionDeltas caps cumulative absolute open option deltas.
	MaxOpenOptionDeltas float64
	// DeltaSkew/VegaSkew/GammaSkew convert normalized portfolio greeks into a
	// price shift applied to both sides.
	DeltaSkew float64
	VegaSkew  float64
	GammaSkew float64
	// MaxVega/MaxGamma suppress buying or selling options outright when the
	// portfolio breaches them.
	MaxVega  float64
	MaxGamma float64
}

// Skews are the portfolio-level pricing inputs, recomputed with the greeks.
type Skews struct {
	Portfolio        greeks.Greeks
	OpenOptionDeltas float64
	Spread           float64
	Delta            float64
	Vega             float64
	Gamma            float64
}

// Input bundles the live state of one instrument for a pricing pass.
type Input struct {
	Instrument model.Instrument
	Ticker     model.Ticker
	HasTicker  bool
	Greeks     greeks.Greeks // unit greeks of the instrument
	Position   float64
	CloseOnly  bool
}

// Quote is the desired resting price per side. A nil side means do not quote.
type Quote struct {
	Bid *float64
	Ask *float64
}

// Engine computes desired bid/ask per instrument from the mark price, the
// portfolio skews and the configured spread parameters.
type Engine struct {
	cfg   Config
	skews Skews
	ready bool
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Recalc derives the pricing skews from fresh portfolio aggregates.
// Until the first call the engine prices nothing; quoting off zeroed skews
// right after startup would quote through our own risk.
func (e *Engine) Recalc(portfolio greeks.Greeks, openOptionDeltas float64) {
	e.skews = Skews{
		Portfolio:        portfolio,
		OpenOptionDeltas: openOptionDeltas,
		Spread:           math.Max(1.0, openOptionDeltas*e.cfg.SpreadFactor) * e.cfg.Spread,
		Delta:            portfolio.Delta * e.cfg.DeltaSkew * e.cfg.Lots,
		Vega:             portfolio.Vega / e.cfg.MaxVega * e.cfg.VegaSkew * e.cfg.Lots,
		Gamma:            portfolio.Gamma / e.cfg.MaxGamma * e.cfg.GammaSkew * e.cfg.Lots,
	}
	e.ready = true
}

// Skews returns the current portfolio-level pricing inputs.
func (e *Engine) Skews() Skews {
	return e.skews
}

// Ready reports whether skews have been computed at least once.
func (e *Engine) Ready() bool {
	return e.ready
}

// Lots returns the configured quote size.
func (e *Engine) Lots() float64 {
	return e.cfg.Lots
}

// Price computes the desired quote for one instrument. The returned retreat
// is the position backoff applied, kept for diagnostics on order errors.
func (e *Engine) Price(in Input) (Quote, float64) {
	if !in.HasTicker {
		return Quote{}, 0
	}
	withinDeltaRange := in.Instrument.IsOption() &&
		e.cfg.DeltaRangeMin < math.Abs(in.Ticker.Delta) && math.Abs(in.Ticker.Delta) < e.cfg.DeltaRangeMax
	wantToQuote := (withinDeltaRange && !in.CloseOnly) || in.Position != 0
	if !wantToQuote || !e.ready {
		// Outside the delta band, or the skews are not computed yet. A held
		// position keeps its quotes alive even in close-only mode, exactly to
		// let it be reduced.
		return Quote{}, 0
	}

	tick := in.Instrument.TickSize
	mark := in.Ticker.MarkPrice

	// The portfolio skews shift both sides in the same direction.
	shift := e.skews.Delta*in.Greeks.Delta + e.skews.Vega*in.Greeks.Vega + e.skews.Gamma*in.Greeks.Gamma
	bid := mark - e.skews.Spread - shift
	ask := mark + e.skews.Spread - shift

	// Retreat backs off the side that would grow the position we already have.
	retreat := e.cfg.Retreat * mark * tick * in.Position / e.cfg.Lots
	if in.Position > 0 {
		bid -= retreat
	}
	if in.Position < 0 {
		ask -= retreat
	}

	// Cap at the mark in case the skewing above crossed it.
	bid = math.Min(bid, mark-tick)
	ask = math.Max(ask, mark+tick)

	bid = RoundToTick(bid, tick)
	ask = RoundToTick(ask, tick)

	quote := Quote{Bid: &bid, Ask: &ask}
	pf := e.skews.Portfolio
	if bid < tick ||
		(in.CloseOnly && in.Position >= 0) ||
		e.cfg.MaxVega < pf.Vega ||
		e.cfg.MaxGamma < pf.Gamma ||
		(e.cfg.MaxOpenOptionDeltas < e.skews.OpenOptionDeltas && in.Position >= 0) ||
		(e.cfg.MaxDeltas < pf.Delta && in.Ticker.Delta > 0) ||
		(-e.cfg.MaxDeltas > pf.Delta && in.Ticker.Delta < 0) {
		quote.Bid = nil
	}
	if ask < tick ||
		(in.CloseOnly && in.Position <= 0) ||
		-e.cfg.MaxVega > pf.Vega ||
		-e.cfg.MaxGamma > pf.Gamma ||
		(e.cfg.MaxOpenOptionDeltas < e.skews.OpenOptionDeltas && in.Position <= 0) ||
		(e.cfg.MaxDeltas < pf.Delta && in.Ticker.Delta < 0) ||
		(-e.cfg.MaxDeltas > pf.Delta && in.Ticker.Delta > 0) {
		quote.Ask = nil
	}
	return quote, retreat
}

// RoundToTick aligns a price with the instrument tick size. Half-tick values
// round to even, the host rounding rule; tests pin this down.
func RoundToTick(value, tick float64) float64 {
	return tick * math.RoundToEven(value/tick)
}
