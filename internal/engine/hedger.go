package engine

import (
	"math"

	"github.com/yanun0323/logs"

	"main/internal/market"
	"main/internal/model/enum"
)

// minimum order size the venue accepts on linear perpetuals
const _minHedgeAmount = 0.001

// hedger flattens portfolio delta with market orders on a perpetual
// whenever it drifts outside the configured band. It runs on the greeks
// cadence, never faster, so one runaway loop cannot machine-gun orders.
type hedger struct {
	cfg   HedgeConfig
	label string
	exch  Exchange
	mkt   *market.Tracker
}

func newHedger(cfg HedgeConfig, label string, exch Exchange, mkt *market.Tracker) *hedger {
	return &hedger{cfg: cfg, label: label, exch: exch, mkt: mkt}
}

// maybeHedge sends one market order sized to bring delta back to zero.
// The resulting position flows back through the portfolio channel, so the
// next pass sees the corrected delta.
func (h *hedger) maybeHedge(portfolioDelta float64, pricerReady bool) {
	if !pricerReady {
		return
	}
	if math.Abs(portfolioDelta) <= h.cfg.Band {
		return
	}
	if _, ok := h.mkt.Ticker(h.cfg.Instrument); !ok {
		logs.Warnf("delta %.4f outside band but no ticker for %s yet", portfolioDelta, h.cfg.Instrument)
		return
	}

	amount := math.Floor(math.Abs(portfolioDelta)/_minHedgeAmount) * _minHedgeAmount
	if amount < _minHedgeAmount {
		return
	}

	direction := enum.DirectionSell
	if portfolioDelta < 0 {
		direction = enum.DirectionBuy
	}

	logs.Infof("hedging delta %.4f: %s %v %s", portfolioDelta, direction, amount, h.cfg.Instrument)
	if err := h.exch.SendMarketInsert(direction, h.cfg.Instrument, amount, h.label); err != nil {
		logs.Errorf("send hedge order: %+v", err)
	}
}
