package rolls

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/account"
	"main/internal/codec"
	"main/internal/market"
	"main/internal/model"
	"main/internal/model/enum"
	"main/pkg/exception"
)

type sentOrder struct {
	direction  enum.Direction
	instrument string
	price      float64
	id         int64
}

type fakeExchange struct {
	inserts []sentOrder
	cancels []int64
	async   []string
}

func (f *fakeExchange) SendInsert(direction enum.Direction, instrument string, amount, price float64, postOnly bool, label string, clientOrderID int64) error {
	f.inserts = append(f.inserts, sentOrder{direction, instrument, price, clientOrderID})
	return nil
}

func (f *fakeExchange) SendAmend(clientOrderID int64, amount, price float64) error {
	return nil
}

func (f *fakeExchange) SendCancel(clientOrderID int64) error {
	f.cancels = append(f.cancels, clientOrderID)
	return nil
}

func (f *fakeExchange) PublicSubscribe(context.Context, ...string) error  { return nil }
func (f *fakeExchange) PrivateSubscribe(context.Context, ...string) error { return nil }

func (f *fakeExchange) SubscribeAsync(channels ...string) error {
	f.async = append(f.async, channels...)
	return nil
}

func (f *fakeExchange) CancelSession(context.Context) error { return nil }

func (f *fakeExchange) Messages(context.Context) (<-chan codec.Envelope, func()) {
	ch := make(chan codec.Envelope)
	return ch, func() {}
}

// prices returns the inserted bid/ask prices per instrument.
func (f *fakeExchange) prices(instrument string) []float64 {
	out := []float64{}
	for _, o := range f.inserts {
		if o.instrument == instrument {
			out = append(out, o.price)
		}
	}
	return out
}

type fakeStore struct {
	loaded []market.Sample
	saved  [][]market.Sample
}

func (s *fakeStore) Save(_ context.Context, _ string, samples []market.Sample) error {
	cp := append([]market.Sample(nil), samples...)
	s.saved = append(s.saved, cp)
	return nil
}

func (s *fakeStore) Load(context.Context, string) ([]market.Sample, error) {
	return s.loaded, nil
}

func testConfig() Config {
	return Config{
		Underlying:        "BTCUSD",
		SubscribeInterval: "1000ms",
		Window1DTE:        5,
		Window3DTE:        60,
		FundingLongterm:   0.0002,
		FundingCap:        0.001,
		Spread1DTE:        2,
		Spread3DTE:        4,
		SpreadLongterm:    8,
		MaxDTE:            32,
		Size:              1,
		MaxPosition:       5,
		AmendThreshold:    3,
		MaxGapSecs:        10,
		Label:             "R",
	}
}

func perpetual() model.Instrument {
	return model.Instrument{
		Name:       "BTC-PERPETUAL",
		Underlying: "BTCUSD",
		TickSize:   0.5,
		Type:       enum.InstrumentTypePerpetual,
	}
}

func roll(name, futureLeg string, daysOut float64) model.Instrument {
	return model.Instrument{
		Name:       name,
		Underlying: "BTCUSD",
		TickSize:   0.5,
		Type:       enum.InstrumentTypeCombination,
		ExpiryTs:   int64(nowUnix() + daysOut*_secondsPerDay),
		Legs: []model.Leg{
			{Instrument: futureLeg, Quantity: 1},
			{Instrument: "BTC-PERPETUAL", Quantity: -1},
		},
	}
}

func snapshot(instruments ...model.Instrument) codec.Notification {
	n := codec.Notification{Kind: codec.KindInstruments, Snapshot: true}
	for i := range instruments {
		ins := instruments[i]
		n.Instruments = append(n.Instruments, codec.InstrumentChange{Added: &ins})
	}
	return n
}

func newTestQuoter(cfg Config, exch Exchange, store FundingStore) *Quoter {
	return NewQuoter(cfg, exch, account.NewTracker(account.Config{}), store)
}

// seedFunding pushes perpetual tickers far enough back that both moving
// average windows are spanned.
func seedFunding(q *Quoter, rate float64) error {
	now := nowUnix()
	for _, age := range []float64{70, 30, 1} {
		err := q.onTicker(codec.TickerUpdate{
			Instrument: "BTC-PERPETUAL",
			Ticker:     model.Ticker{MarkTs: now - age, FundingRate: rate},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func TestInstrumentSelection(t *testing.T) {
	exch := &fakeExchange{}
	q := newTestQuoter(testConfig(), exch, nil)

	calendarSpread := model.Instrument{
		Name:       "BTC-FUT-SPREAD",
		Underlying: "BTCUSD",
		TickSize:   0.5,
		Type:       enum.InstrumentTypeCombination,
		ExpiryTs:   int64(nowUnix() + 2*_secondsPerDay),
		Legs: []model.Leg{
			{Instrument: "BTC-FUT-A", Quantity: 1},
			{Instrument: "BTC-FUT-B", Quantity: -1},
		},
	}

	err := q.onInstruments(snapshot(
		perpetual(),
		roll("BTC-ROLL-NEAR", "BTC-FUT-NEAR", 0.5),
		roll("BTC-ROLL-MID", "BTC-FUT-MID", 2),
		roll("BTC-ROLL-FAR", "BTC-FUT-FAR", 10),
		roll("BTC-ROLL-TOOFAR", "BTC-FUT-TOOFAR", 40), // beyond MaxDTE
		roll("BTC-ROLL-DEAD", "BTC-FUT-DEAD", -1),     // already expired
		calendarSpread, // no perpetual leg
		model.Instrument{Name: "ETH-ROLL", Underlying: "ETHUSD", Type: enum.InstrumentTypeCombination, ExpiryTs: int64(nowUnix() + _secondsPerDay)},
	))
	require.NoError(t, err)

	assert.Equal(t, "BTC-PERPETUAL", q.perpetual)
	assert.Len(t, q.rolls, 3)
	assert.Contains(t, q.rolls, "BTC-ROLL-NEAR")
	assert.Contains(t, q.rolls, "BTC-ROLL-MID")
	assert.Contains(t, q.rolls, "BTC-ROLL-FAR")
	assert.Equal(t, "BTC-FUT-NEAR", q.rolls["BTC-ROLL-NEAR"].futureLeg)
	assert.Len(t, exch.async, 4) // perpetual plus three rolls
}

func TestNoPerpetualIsFatal(t *testing.T) {
	q := newTestQuoter(testConfig(), &fakeExchange{}, nil)
	err := q.onInstruments(snapshot(roll("BTC-ROLL-NEAR", "BTC-FUT-NEAR", 0.5)))
	assert.Error(t, err)
}

func TestIncrementalChangeIsFatal(t *testing.T) {
	q := newTestQuoter(testConfig(), &fakeExchange{}, nil)

	n := snapshot(perpetual())
	n.Snapshot = false
	assert.ErrorIs(t, q.onInstruments(n), exception.ErrInstrumentsChanged)

	n = snapshot(perpetual())
	n.Instruments = append(n.Instruments, codec.InstrumentChange{Removed: true})
	assert.ErrorIs(t, q.onInstruments(n), exception.ErrInstrumentsChanged)
}

func TestFairValuePerBucket(t *testing.T) {
	exch := &fakeExchange{}
	q := newTestQuoter(testConfig(), exch, nil)

	require.NoError(t, q.onInstruments(snapshot(
		perpetual(),
		roll("BTC-ROLL-NEAR", "BTC-FUT-NEAR", 0.5),
		roll("BTC-ROLL-MID", "BTC-FUT-MID", 2),
		roll("BTC-ROLL-FAR", "BTC-FUT-FAR", 10),
	)))
	q.mkt.OnIndex("BTCUSD", 50000)
	require.NoError(t, seedFunding(q, 0.0005))

	// near: dte 0.5, funding 0.0005/day -> fair 12.5, half-spread 2
	near := exch.prices("BTC-ROLL-NEAR")
	require.Len(t, near, 2)
	assert.InDelta(t, 10.5, near[0], 0.01)
	assert.InDelta(t, 14.5, near[1], 0.01)

	// mid: dte 2 -> fair 50, half-spread 4
	mid := exch.prices("BTC-ROLL-MID")
	require.Len(t, mid, 2)
	assert.InDelta(t, 46, mid[0], 0.26)
	assert.InDelta(t, 54, mid[1], 0.26)

	// far: dte 10, longterm funding 0.0002 -> fair 100, half-spread 8
	far := exch.prices("BTC-ROLL-FAR")
	require.Len(t, far, 2)
	assert.InDelta(t, 92, far[0], 0.26)
	assert.InDelta(t, 108, far[1], 0.26)
}

func TestFundingCapBoundsFair(t *testing.T) {
	exch := &fakeExchange{}
	q := newTestQuoter(testConfig(), exch, nil)

	require.NoError(t, q.onInstruments(snapshot(perpetual(), roll("BTC-ROLL-NEAR", "BTC-FUT-NEAR", 0.5))))
	q.mkt.OnIndex("BTCUSD", 50000)
	require.NoError(t, seedFunding(q, 0.02)) // way past the 0.001 cap

	// fair capped at 0.5 * 0.001 * 50000 = 25
	near := exch.prices("BTC-ROLL-NEAR")
	require.Len(t, near, 2)
	assert.InDelta(t, 23, near[0], 0.26)
	assert.InDelta(t, 27, near[1], 0.26)
}

func TestNegativeFundingQuotesNegativePrices(t *testing.T) {
	exch := &fakeExchange{}
	q := newTestQuoter(testConfig(), exch, nil)

	require.NoError(t, q.onInstruments(snapshot(perpetual(), roll("BTC-ROLL-NEAR", "BTC-FUT-NEAR", 0.5))))
	q.mkt.OnIndex("BTCUSD", 50000)
	require.NoError(t, seedFunding(q, -0.02)) // clamps to -0.001, fair -25

	near := exch.prices("BTC-ROLL-NEAR")
	require.Len(t, near, 2)
	assert.InDelta(t, -27, near[0], 0.26)
	assert.InDelta(t, -23, near[1], 0.26)
	require.Len(t, exch.inserts, 2)
	assert.Equal(t, enum.DirectionBuy, exch.inserts[0].direction)
	assert.Equal(t, enum.DirectionSell, exch.inserts[1].direction)
}

func TestFutureLegCapSuppressesSides(t *testing.T) {
	exch := &fakeExchange{}
	q := newTestQuoter(testConfig(), exch, nil)

	require.NoError(t, q.onInstruments(snapshot(perpetual(), roll("BTC-ROLL-NEAR", "BTC-FUT-NEAR", 0.5))))
	q.mkt.OnIndex("BTCUSD", 50000)

	// the portfolio reports leg positions; the combination never appears.
	// long the future past the cap: buying the roll would grow it further,
	// so only the ask rests
	q.acct.OnPortfolio([]codec.PortfolioEntry{{Instrument: "BTC-FUT-NEAR", Position: 6}})
	require.NoError(t, seedFunding(q, 0.0005))

	near := exch.prices("BTC-ROLL-NEAR")
	require.Len(t, near, 1)
	assert.InDelta(t, 14.5, near[0], 0.01)
	require.Len(t, exch.inserts, 1)
	assert.Equal(t, enum.DirectionSell, exch.inserts[0].direction)
}

func TestPerpetualLegCapSuppressesSides(t *testing.T) {
	exch := &fakeExchange{}
	q := newTestQuoter(testConfig(), exch, nil)

	require.NoError(t, q.onInstruments(snapshot(perpetual(), roll("BTC-ROLL-NEAR", "BTC-FUT-NEAR", 0.5))))
	q.mkt.OnIndex("BTCUSD", 50000)

	// long the perpetual past the cap: selling the roll buys more perp,
	// so only the bid rests
	q.acct.OnPortfolio([]codec.PortfolioEntry{{Instrument: "BTC-PERPETUAL", Position: 6}})
	require.NoError(t, seedFunding(q, 0.0005))

	near := exch.prices("BTC-ROLL-NEAR")
	require.Len(t, near, 1)
	assert.InDelta(t, 10.5, near[0], 0.01)
	require.Len(t, exch.inserts, 1)
	assert.Equal(t, enum.DirectionBuy, exch.inserts[0].direction)
}

func TestLegPositionAtCapStillQuotes(t *testing.T) {
	exch := &fakeExchange{}
	q := newTestQuoter(testConfig(), exch, nil)

	require.NoError(t, q.onInstruments(snapshot(perpetual(), roll("BTC-ROLL-NEAR", "BTC-FUT-NEAR", 0.5))))
	q.mkt.OnIndex("BTCUSD", 50000)

	// exactly at the cap is not past it
	q.acct.OnPortfolio([]codec.PortfolioEntry{{Instrument: "BTC-FUT-NEAR", Position: 5}})
	require.NoError(t, seedFunding(q, 0.0005))
	assert.Len(t, exch.inserts, 2)
}

func TestNoQuotesBeforeWindowSpans(t *testing.T) {
	exch := &fakeExchange{}
	q := newTestQuoter(testConfig(), exch, nil)

	require.NoError(t, q.onInstruments(snapshot(perpetual(), roll("BTC-ROLL-NEAR", "BTC-FUT-NEAR", 0.5))))
	q.mkt.OnIndex("BTCUSD", 50000)

	// a single fresh sample does not span the short window
	err := q.onTicker(codec.TickerUpdate{
		Instrument: "BTC-PERPETUAL",
		Ticker:     model.Ticker{MarkTs: nowUnix(), FundingRate: 0.0005},
	})
	require.NoError(t, err)
	assert.Empty(t, exch.inserts)
}

func TestRestoreDiscardsStaleHistory(t *testing.T) {
	now := nowUnix()

	stale := &fakeStore{loaded: []market.Sample{{Ts: now - 3600, Value: 0.0005}}}
	q := newTestQuoter(testConfig(), &fakeExchange{}, stale)
	q.restoreFunding(context.Background())
	assert.Zero(t, q.funding.Len())

	fresh := &fakeStore{loaded: []market.Sample{
		{Ts: now - 30, Value: 0.0004},
		{Ts: now - 2, Value: 0.0006},
	}}
	q = newTestQuoter(testConfig(), &fakeExchange{}, fresh)
	q.restoreFunding(context.Background())
	assert.Equal(t, 2, q.funding.Len())
}

func TestPersistOnlyWhenDirty(t *testing.T) {
	store := &fakeStore{}
	q := newTestQuoter(testConfig(), &fakeExchange{}, store)
	require.NoError(t, q.onInstruments(snapshot(perpetual(), roll("BTC-ROLL-NEAR", "BTC-FUT-NEAR", 0.5))))

	ctx := context.Background()
	q.persistFunding(ctx)
	assert.Empty(t, store.saved, "nothing to persist yet")

	require.NoError(t, q.onTicker(codec.TickerUpdate{
		Instrument: "BTC-PERPETUAL",
		Ticker:     model.Ticker{MarkTs: nowUnix(), FundingRate: 0.0005},
	}))
	q.persistFunding(ctx)
	require.Len(t, store.saved, 1)
	assert.Len(t, store.saved[0], 1)

	q.persistFunding(ctx)
	assert.Len(t, store.saved, 1, "clean buffer is not re-saved")
}

func TestExpiredRollPullsQuotes(t *testing.T) {
	exch := &fakeExchange{}
	q := newTestQuoter(testConfig(), exch, nil)

	require.NoError(t, q.onInstruments(snapshot(perpetual(), roll("BTC-ROLL-NEAR", "BTC-FUT-NEAR", 0.5))))
	q.mkt.OnIndex("BTCUSD", 50000)
	require.NoError(t, seedFunding(q, 0.0005))
	require.Len(t, exch.inserts, 2)

	// expiry passes while the orders rest
	st := q.rolls["BTC-ROLL-NEAR"]
	st.ins.ExpiryTs = int64(nowUnix() - 60)
	q.rolls["BTC-ROLL-NEAR"] = st

	require.NoError(t, q.adjustAll())
	assert.Len(t, exch.cancels, 2, "both sides pulled")
	assert.Len(t, exch.inserts, 2, "no requote after expiry")

	// pulling again is a no-op
	require.NoError(t, q.adjustAll())
	assert.Len(t, exch.cancels, 2)
}
