package account

import (
	"github.com/yanun0323/logs"

	"main/internal/codec"
)

// Config bounds the account-level risk the quoter may carry.
type Config struct {
	// MaxMargin is the required-margin high-water mark. Crossing it puts the
	// tracker into close-only mode.
	MaxMargin float64
	// ResumeFactor clears close-only once margin drops below
	// ResumeFactor*MaxMargin. Open orders themselves consume margin, so
	// resuming right at the limit would flicker the mode back and forth.
	ResumeFactor float64
}

const defaultResumeFactor = 0.4

// Tracker maintains live positions per instrument and the close-only risk
// mode derived from account-summary margin readings.
type Tracker struct {
	cfg       Config
	positions map[string]float64
	closeOnly bool
}

func NewTracker(cfg Config) *Tracker {
	if cfg.ResumeFactor <= 0 {
		cfg.ResumeFactor = defaultResumeFactor
	}
	return &Tracker{
		cfg:       cfg,
		positions: make(map[string]float64),
	}
}

// OnPortfolio applies a portfolio snapshot. The snapshot reports entries that
// exist in the account; instruments absent from it keep their last value and
// read as zero if never reported.
func (t *Tracker) OnPortfolio(entries []codec.PortfolioEntry) {
	for _, entry := range entries {
		t.positions[entry.Instrument] = entry.Position
	}
}

// Position returns the signed position of an instrument, zero if untracked.
func (t *Tracker) Position(instrument string) float64 {
	return t.positions[instrument]
}

// Positions returns every instrument with a nonzero position.
func (t *Tracker) Positions() map[string]float64 {
	out := make(map[string]float64, len(t.positions))
	for name, pos := range t.positions {
		if pos != 0 {
			out[name] = pos
		}
	}
	return out
}

// OnAccountSummary compares required margin against the configured limit and
// flips close-only mode with hysteresis. Returns true when the mode changed.
func (t *Tracker) OnAccountSummary(requiredMargin float64) bool {
	switch {
	case requiredMargin > t.cfg.MaxMargin && !t.closeOnly:
		logs.Warnf("required margin: %.0f, going into close only mode", requiredMargin)
		t.closeOnly = true
		return true
	case requiredMargin < t.cfg.MaxMargin*t.cfg.ResumeFactor && t.closeOnly:
		logs.Infof("required margin: %.0f, quoting everything again", requiredMargin)
		t.closeOnly = false
		return true
	default:
		return false
	}
}

// CloseOnly reports whether only position-reducing quotes are allowed.
func (t *Tracker) CloseOnly() bool {
	return t.closeOnly
}
