package market

import "main/internal/model"

// Tracker holds the latest ticker per instrument and the latest index price
// per underlying. Values are overwritten in place on every notification.
type Tracker struct {
	tickers map[string]model.Ticker
	indexes map[string]float64
}

func NewTracker() *Tracker {
	return &Tracker{
		tickers: make(map[string]model.Ticker),
		indexes: make(map[string]float64),
	}
}

// OnTicker stores the latest ticker for an instrument.
func (t *Tracker) OnTicker(instrument string, ticker model.Ticker) {
	t.tickers[instrument] = ticker
}

// Ticker returns the latest ticker, if one was received.
func (t *Tracker) Ticker(instrument string) (model.Ticker, bool) {
	ticker, ok := t.tickers[instrument]
	return ticker, ok
}

// OnIndex stores the latest index price for an underlying.
func (t *Tracker) OnIndex(underlying string, price float64) {
	t.indexes[underlying] = price
}

// Index returns the latest index price, if one was received.
func (t *Tracker) Index(underlying string) (float64, bool) {
	price, ok := t.indexes[underlying]
	return price, ok
}
