package rolls

import (
	"context"
	"fmt"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/account"
	"main/internal/codec"
	"main/internal/market"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/pricing"
	"main/internal/quote"
	"main/internal/venue"
	"main/pkg/exception"
)

const (
	_secondsPerDay = 24 * 3600

	// persist the funding buffer this often so a restart can resume the MA
	_persistPeriod = 5 * time.Second
)

// Exchange is what the roll quoter needs from the venue connection.
type Exchange interface {
	quote.Sender
	PublicSubscribe(ctx context.Context, channels ...string) error
	PrivateSubscribe(ctx context.Context, channels ...string) error
	SubscribeAsync(channels ...string) error
	CancelSession(ctx context.Context) error
	Messages(ctx context.Context) (<-chan codec.Envelope, func())
}

// FundingStore persists funding-rate samples across restarts. Optional.
type FundingStore interface {
	Save(ctx context.Context, underlying string, samples []market.Sample) error
	Load(ctx context.Context, underlying string) ([]market.Sample, error)
}

type Config struct {
	// Underlying is the perpetual's underlying, eg "BTCUSD".
	Underlying        string
	SubscribeInterval string

	// Funding moving-average windows in seconds. The short window prices
	// rolls expiring within a day, the long one out to three days. Beyond
	// that FundingLongterm, a per-day rate, takes over.
	Window1DTE      float64
	Window3DTE      float64
	FundingLongterm float64
	// FundingCap bounds the per-day funding estimate either way. Funding
	// spikes are mean-reverting; pricing a month of them linearly is wrong.
	FundingCap float64

	// Requote triggers: funding estimate or index moved at least this much.
	FundingRecalcThreshold float64
	IndexRecalcThreshold   float64

	// Half-spreads in price units per DTE bucket.
	Spread1DTE     float64
	Spread3DTE     float64
	SpreadLongterm float64

	// MaxDTE is the farthest roll expiry we quote, in days.
	MaxDTE float64

	Size        float64
	MaxPosition float64

	AmendThreshold float64
	// MaxGapSecs discards persisted funding history older than this on restore.
	MaxGapSecs float64
	Label      string
}

// Quoter makes markets in calendar rolls against a perpetual: fair value is
// days-to-expiry times the funding estimate times the index.
type Quoter struct {
	cfg   Config
	exch  Exchange
	mkt   *market.Tracker
	acct  *account.Tracker
	store FundingStore
	recon *quote.Reconciler

	funding     *market.MovingAverage
	rolls       map[string]rollState
	perpetual   string
	lastFunding float64
	lastIndex   float64
	dirty       bool
}

// rollState pairs a quoted roll with its future leg. Positions only ever
// arrive for the legs; the combination itself never shows in the portfolio.
type rollState struct {
	ins       model.Instrument
	futureLeg string
}

func NewQuoter(cfg Config, exch Exchange, acct *account.Tracker, store FundingStore) *Quoter {
	q := &Quoter{
		cfg:     cfg,
		exch:    exch,
		mkt:     market.NewTracker(),
		acct:    acct,
		store:   store,
		funding: market.NewMovingAverage(cfg.Window3DTE),
		rolls:   map[string]rollState{},
	}
	q.recon = quote.New(quote.Config{
		AmendThreshold: cfg.AmendThreshold,
		Label:          cfg.Label,
		Lots:           cfg.Size,
	}, exch, q.diagnostics)
	return q
}

// Run restores funding history, subscribes, and quotes rolls until the
// context ends or the session dies.
func (q *Quoter) Run(ctx context.Context) error {
	q.restoreFunding(ctx)

	msgs, cancel := q.exch.Messages(ctx)
	defer cancel()

	if err := q.exch.PublicSubscribe(ctx, "instruments", "price_index."+q.cfg.Underlying); err != nil {
		return errors.Wrap(err, "subscribe public")
	}
	if err := q.exch.PrivateSubscribe(ctx, "session.orders", "account.portfolio"); err != nil {
		return errors.Wrap(err, "subscribe private")
	}

	persistTick := time.NewTicker(_persistPeriod)
	defer persistTick.Stop()

	defer q.teardown()

	for {
		select {
		case <-sys.Shutdown():
			return nil
		case <-ctx.Done():
			return nil
		case env, ok := <-msgs:
			if !ok {
				return errors.Wrap(exception.ErrConnectionClosed, "message stream")
			}
			if err := q.dispatch(env); err != nil {
				return err
			}
		case <-persistTick.C:
			q.persistFunding(ctx)
		}
	}
}

func (q *Quoter) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.persistFunding(ctx)
	if err := q.exch.CancelSession(ctx); err != nil {
		logs.Errorf("cancel session on teardown: %+v", err)
		return
	}
	logs.Info("session cancelled")
}

func (q *Quoter) restoreFunding(ctx context.Context) {
	if q.store == nil {
		return
	}
	samples, err := q.store.Load(ctx, q.cfg.Underlying)
	if err != nil {
		logs.Errorf("load funding history: %+v", err)
		return
	}
	kept := q.funding.Restore(samples, nowUnix(), q.cfg.MaxGapSecs)
	logs.Infof("restored %d/%d funding samples", kept, len(samples))
}

func (q *Quoter) persistFunding(ctx context.Context) {
	if q.store == nil || !q.dirty {
		return
	}
	if err := q.store.Save(ctx, q.cfg.Underlying, q.funding.Samples()); err != nil {
		logs.Errorf("save funding history: %+v", err)
		return
	}
	q.dirty = false
}

func (q *Quoter) dispatch(env codec.Envelope) error {
	switch {
	case env.ChannelName != "":
		return q.onNotification(env)
	case env.ID != nil && env.Error != nil:
		return q.onError(*env.ID, env.Error)
	case env.ID != nil:
		return nil
	default:
		logs.Warnf("drop frame with neither channel nor id")
		return nil
	}
}

func (q *Quoter) onNotification(env codec.Envelope) error {
	n, err := codec.DecodeNotification(env.ChannelName, env.Notification, env.Snapshot)
	if err != nil {
		logs.Errorf("decode notification: %+v", err)
		return nil
	}

	switch n.Kind {
	case codec.KindTicker:
		return q.onTicker(*n.Ticker)
	case codec.KindIndex:
		q.mkt.OnIndex(n.Index.Underlying, n.Index.Price)
		return q.maybeRequote()
	case codec.KindOrders:
		for _, u := range n.Orders {
			q.recon.OnOrderUpdate(u)
		}
		return nil
	case codec.KindPortfolio:
		q.acct.OnPortfolio(n.Portfolio)
		return q.adjustAll()
	case codec.KindInstruments:
		return q.onInstruments(n)
	default:
		return nil
	}
}

func (q *Quoter) onError(id int64, rpcErr *codec.RPCError) error {
	if id >= venue.CallIDOrderBase {
		return q.recon.OnOrderError(rpcErr, id)
	}
	logs.Errorf("request %d failed: %d %s", id, rpcErr.Code, rpcErr.Message)
	return nil
}

// onInstruments picks the perpetual to read funding from and the rolls to
// quote. Incremental changes kill the session, same as the option quoter.
// Rolls must carry the perpetual as one leg; their other leg is the future
// whose position the caps bind on.
func (q *Quoter) onInstruments(n codec.Notification) error {
	if !n.Snapshot {
		return exception.ErrInstrumentsChanged
	}

	combos := []model.Instrument{}
	for _, change := range n.Instruments {
		if change.Removed {
			return exception.ErrInstrumentsChanged
		}
		if change.Added == nil || change.Added.Underlying != q.cfg.Underlying {
			continue
		}
		ins := *change.Added
		switch {
		case ins.Type == enum.InstrumentTypePerpetual:
			q.perpetual = ins.Name
		case isRoll(ins) && q.dte(ins, nowUnix()) > 0 && q.dte(ins, nowUnix()) <= q.cfg.MaxDTE:
			combos = append(combos, ins)
		}
	}

	if q.perpetual == "" {
		return errors.Errorf("no perpetual found for %s", q.cfg.Underlying)
	}

	channels := []string{"ticker." + q.perpetual + "." + q.cfg.SubscribeInterval}
	for _, ins := range combos {
		leg, ok := ins.LegOtherThan(q.perpetual)
		if !ok {
			// calendar spread between two futures; we only roll the perpetual
			continue
		}
		q.rolls[ins.Name] = rollState{ins: ins, futureLeg: leg.Instrument}
		channels = append(channels, "ticker."+ins.Name+"."+q.cfg.SubscribeInterval)
	}

	if err := q.exch.SubscribeAsync(channels...); err != nil {
		return errors.Wrap(err, "subscribe tickers")
	}
	logs.Infof("quoting %d rolls against %s", len(q.rolls), q.perpetual)
	return nil
}

func (q *Quoter) onTicker(u codec.TickerUpdate) error {
	q.mkt.OnTicker(u.Instrument, u.Ticker)
	if u.Instrument != q.perpetual {
		return nil
	}
	q.funding.Add(u.Ticker.MarkTs, u.Ticker.FundingRate)
	q.dirty = true
	return q.maybeRequote()
}

// maybeRequote skips the pricing pass while neither the funding estimate nor
// the index moved past its threshold.
func (q *Quoter) maybeRequote() error {
	now := nowUnix()
	fnd, ok := q.fundingEstimate(1, now)
	if !ok {
		return nil
	}
	index, ok := q.mkt.Index(q.cfg.Underlying)
	if !ok {
		return nil
	}
	if absf(fnd-q.lastFunding) < q.cfg.FundingRecalcThreshold &&
		absf(index-q.lastIndex) < q.cfg.IndexRecalcThreshold &&
		q.lastIndex != 0 {
		return nil
	}
	q.lastFunding = fnd
	q.lastIndex = index
	return q.adjustAll()
}

func (q *Quoter) adjustAll() error {
	now := nowUnix()
	for _, st := range q.rolls {
		if err := q.adjust(st, now); err != nil {
			return err
		}
	}
	return nil
}

func (q *Quoter) adjust(st rollState, now float64) error {
	ins := st.ins
	index, ok := q.mkt.Index(q.cfg.Underlying)
	if !ok {
		return nil
	}

	dte := q.dte(ins, now)
	if dte <= 0 {
		// Expired while we were quoting it; pull both sides.
		return q.recon.Adjust(ins, pricing.Quote{})
	}

	fnd, spread, ok := q.bucket(dte, now)
	if !ok {
		return nil
	}

	fair := dte * fnd * index
	bid := pricing.RoundToTick(fair-spread, ins.TickSize)
	ask := pricing.RoundToTick(fair+spread, ins.TickSize)

	// Rolls trade at negative prices when funding is negative; only the
	// position caps suppress a side. The portfolio reports leg positions,
	// never the combination: buying the roll buys the future and sells the
	// perpetual, so each leg at its cap gates the matching side.
	desired := pricing.Quote{Bid: &bid, Ask: &ask}
	perpPos := q.acct.Position(q.perpetual)
	if perpPos > q.cfg.MaxPosition {
		desired.Ask = nil
	} else if perpPos < -q.cfg.MaxPosition {
		desired.Bid = nil
	}
	futPos := q.acct.Position(st.futureLeg)
	if futPos > q.cfg.MaxPosition {
		desired.Bid = nil
	} else if futPos < -q.cfg.MaxPosition {
		desired.Ask = nil
	}

	if err := q.recon.Adjust(ins, desired); err != nil {
		return errors.Wrap(err, "adjust roll").With("instrument", ins.Name)
	}
	return nil
}

// bucket maps days-to-expiry to the funding estimate and half-spread to use.
func (q *Quoter) bucket(dte, now float64) (fnd, spread float64, ok bool) {
	switch {
	case dte <= 1:
		fnd, ok = q.fundingEstimate(1, now)
		spread = q.cfg.Spread1DTE
	case dte <= 3:
		fnd, ok = q.fundingEstimate(3, now)
		spread = q.cfg.Spread3DTE
	default:
		fnd, ok = q.cfg.FundingLongterm, true
		spread = q.cfg.SpreadLongterm
	}
	fnd = clampf(fnd, -q.cfg.FundingCap, q.cfg.FundingCap)
	return fnd, spread, ok
}

// fundingEstimate is the capped per-day funding rate averaged over the bucket
// window. Not ok until the buffer spans the window.
func (q *Quoter) fundingEstimate(bucketDTE, now float64) (float64, bool) {
	window := q.cfg.Window1DTE
	if bucketDTE > 1 {
		window = q.cfg.Window3DTE
	}
	return q.funding.Average(window, now)
}

func (q *Quoter) dte(ins model.Instrument, now float64) float64 {
	return (float64(ins.ExpiryTs) - now) / _secondsPerDay
}

func (q *Quoter) diagnostics(instrument string) string {
	index, _ := q.mkt.Index(q.cfg.Underlying)
	return fmt.Sprintf("index=%v funding=%v pos=%v", index, q.lastFunding, q.acct.Position(instrument))
}

func isRoll(ins model.Instrument) bool {
	return ins.Type == enum.InstrumentTypeCombination && ins.ExpiryTs > 0
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
