package model

// Ticker is the latest per-instrument market snapshot.
// It is overwritten wholesale on every ticker notification; no history is kept here.
type Ticker struct {
	MarkPrice   float64
	Delta       float64
	BestBid     float64
	BestAsk     float64
	HasBestBid  bool
	HasBestAsk  bool
	Index       float64
	MarkTs      float64 // unix seconds with fractional part
	IV          float64
	Forward     float64
	FundingRate float64 // perpetuals only
}
