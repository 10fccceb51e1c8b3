package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/account"
	"main/internal/codec"
	"main/internal/greeks"
	"main/internal/market"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/pricing"
	"main/internal/quote"
	"main/internal/registry"
	"main/internal/venue"
	"main/pkg/exception"
)

const (
	_secondsPerYear = 365.25 * 24 * 3600

	// collect tickers and portfolio state before the first quote goes out
	_warmup = 5 * time.Second
)

// Exchange is what the quoter needs from the venue connection.
type Exchange interface {
	quote.Sender
	SendMarketInsert(direction enum.Direction, instrument string, amount float64, label string) error
	PublicSubscribe(ctx context.Context, channels ...string) error
	PrivateSubscribe(ctx context.Context, channels ...string) error
	SubscribeAsync(channels ...string) error
	CancelSession(ctx context.Context) error
	Messages(ctx context.Context) (<-chan codec.Envelope, func())
}

type HedgeConfig struct {
	Enabled    bool
	Instrument string
	Band       float64
}

type Config struct {
	Underlying                string
	Label                     string
	SubscribeInterval         string
	UnquotedSubscribeInterval string
	IndexRecalcThreshold      float64
	GreeksPeriod              time.Duration
	GreeksPrintPeriod         time.Duration
	Hedge                     HedgeConfig
}

// instrumentState is the per-instrument quoting state kept on top of the
// market tracker.
type instrumentState struct {
	greeks         greeks.Greeks
	retreat        float64
	lastQuoteIndex float64
	subscribed     bool
}

// Quoter drives one option quoting session: market data in, greeks and
// skews recalculated on a timer, quotes reconciled out.
type Quoter struct {
	cfg   Config
	exch  Exchange
	reg   *registry.Registry
	mkt   *market.Tracker
	acct  *account.Tracker
	price *pricing.Engine
	recon *quote.Reconciler

	states    map[string]*instrumentState
	portfolio greeks.Greeks
	hedger    *hedger
	startedAt time.Time
}

func NewQuoter(cfg Config, exch Exchange, reg *registry.Registry, mkt *market.Tracker, acct *account.Tracker, price *pricing.Engine, quoteCfg quote.Config) *Quoter {
	q := &Quoter{
		cfg:    cfg,
		exch:   exch,
		reg:    reg,
		mkt:    mkt,
		acct:   acct,
		price:  price,
		states: map[string]*instrumentState{},
	}
	q.recon = quote.New(quoteCfg, exch, q.diagnostics)
	if cfg.Hedge.Enabled {
		q.hedger = newHedger(cfg.Hedge, cfg.Label, exch, mkt)
	}
	return q
}

// Run subscribes and processes messages until the context ends, the process
// shuts down, or the session dies. A closed message stream returns
// exception.ErrConnectionClosed; an incremental instrument change returns
// exception.ErrInstrumentsChanged. Both mean the caller must rebuild the
// session from scratch.
func (q *Quoter) Run(ctx context.Context) error {
	msgs, cancel := q.exch.Messages(ctx)
	defer cancel()

	if err := q.exch.PublicSubscribe(ctx, "instruments", "price_index."+q.cfg.Underlying); err != nil {
		return errors.Wrap(err, "subscribe public")
	}
	if err := q.exch.PrivateSubscribe(ctx,
		"session.orders",
		"account.portfolio",
		"account.summary",
		"account.trade_history",
	); err != nil {
		return errors.Wrap(err, "subscribe private")
	}

	q.startedAt = time.Now()

	greeksTick := time.NewTicker(q.cfg.GreeksPeriod)
	defer greeksTick.Stop()
	printTick := time.NewTicker(q.cfg.GreeksPrintPeriod)
	defer printTick.Stop()

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
		case <-greeksTick.C:
			q.recalcGreeks()
			if err := q.adjustAllQuotes(); err != nil {
				return err
			}
			if q.hedger != nil {
				q.hedger.maybeHedge(q.portfolio.Delta, q.price.Ready())
			}
		case <-printTick.C:
			logs.Infof("portfolio %s, open option deltas %.2f, open orders %d",
				q.portfolio.String(), q.price.Skews().OpenOptionDeltas, q.recon.OpenOrderCount())
		}
	}
}

// teardown pulls every session order and waits for the venue ack.
func (q *Quoter) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.exch.CancelSession(ctx); err != nil {
		logs.Errorf("cancel session on teardown: %+v", err)
		return
	}
	logs.Info("session cancelled")
}

func (q *Quoter) dispatch(env codec.Envelope) error {
	switch {
	case env.ChannelName != "":
		return q.onNotification(env)
	case env.ID != nil && env.Error != nil:
		return q.onError(*env.ID, env.Error)
	case env.ID != nil:
		q.onResult(*env.ID)
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
		return q.onIndex(n.Index.Price)
	case codec.KindOrders:
		for _, u := range n.Orders {
			q.recon.OnOrderUpdate(u)
		}
		return nil
	case codec.KindTrades:
		filled := false
		for _, t := range n.Trades {
			if t.Label == q.cfg.Label {
				logs.Infof("trade: %s", t.String())
				filled = true
			}
		}
		if filled {
			// a fill moved the portfolio; don't wait for the periodic pass
			q.recalcGreeks()
			return q.adjustAllQuotes()
		}
		return nil
	case codec.KindPortfolio:
		q.acct.OnPortfolio(n.Portfolio)
		q.ensurePositionSubscriptions(n.Portfolio)
		return nil
	case codec.KindAccountSummary:
		if q.acct.OnAccountSummary(n.Summary.RequiredMargin) {
			return q.adjustAllQuotes()
		}
		return nil
	case codec.KindInstruments:
		return q.onInstruments(n)
	default:
		logs.Warnf("unhandled channel: %s", env.ChannelName)
		return nil
	}
}

func (q *Quoter) onInstruments(n codec.Notification) error {
	if err := q.reg.Apply(n.Instruments, n.Snapshot); err != nil {
		return err
	}

	channels := make([]string, 0, len(q.reg.Quoted()))
	for name := range q.reg.Quoted() {
		st := q.state(name)
		if st.subscribed {
			continue
		}
		st.subscribed = true
		channels = append(channels, tickerChannel(name, q.cfg.SubscribeInterval))
	}
	if len(channels) == 0 {
		return nil
	}
	if err := q.exch.SubscribeAsync(channels...); err != nil {
		return errors.Wrap(err, "subscribe tickers")
	}
	logs.Infof("quoting %d instruments on %s", len(channels), q.cfg.Underlying)
	return nil
}

// ensurePositionSubscriptions subscribes tickers of unquoted instruments we
// hold a position in, at a slower cadence. Their greeks still count against
// the portfolio.
func (q *Quoter) ensurePositionSubscriptions(entries []codec.PortfolioEntry) {
	for _, e := range entries {
		if e.Position == 0 {
			continue
		}
		if _, quoted := q.reg.Quoted()[e.Instrument]; quoted {
			continue
		}
		if _, known := q.reg.Lookup(e.Instrument); !known {
			continue
		}
		st := q.state(e.Instrument)
		if st.subscribed {
			continue
		}
		st.subscribed = true
		if err := q.exch.SubscribeAsync(tickerChannel(e.Instrument, q.cfg.UnquotedSubscribeInterval)); err != nil {
			logs.Errorf("subscribe position ticker %s: %+v", e.Instrument, err)
		}
	}
}

func (q *Quoter) onTicker(u codec.TickerUpdate) error {
	q.mkt.OnTicker(u.Instrument, u.Ticker)

	ins, ok := q.reg.Quoted()[u.Instrument]
	if !ok {
		return nil
	}

	q.state(u.Instrument).lastQuoteIndex = u.Ticker.Index
	return q.adjustQuotes(ins)
}

// onIndex requotes the instruments whose quotes were last priced at an index
// further than the threshold from the fresh one. Tickers keep lastQuoteIndex
// current, so a busy instrument is not requoted twice for the same move.
func (q *Quoter) onIndex(price float64) error {
	for name, ins := range q.reg.Quoted() {
		st := q.state(name)
		if absf(st.lastQuoteIndex-price) > q.cfg.IndexRecalcThreshold {
			st.lastQuoteIndex = price
			if err := q.adjustQuotes(ins); err != nil {
				return err
			}
		}
	}
	return nil
}

func (q *Quoter) onResult(id int64) {
	switch id {
	case venue.CallIDSubscribe:
		logs.Debug("subscribe ok")
	case venue.CallIDLogin:
		logs.Info("login ok")
	case venue.CallIDCancelSession:
		logs.Info("cancel session ok")
	case venue.CallIDSetCOD:
		logs.Debug("cancel on disconnect armed")
	case venue.CallIDHedge:
		logs.Info("hedge order ok")
	default:
		if id < venue.CallIDOrderBase {
			logs.Debugf("result for id %d", id)
		}
	}
}

func (q *Quoter) onError(id int64, rpcErr *codec.RPCError) error {
	if id >= venue.CallIDOrderBase {
		return q.recon.OnOrderError(rpcErr, id)
	}

	switch id {
	case venue.CallIDLogin:
		return errors.Wrap(exception.ErrLoginRejected, rpcErr.Message)
	default:
		logs.Errorf("request %d failed: %d %s", id, rpcErr.Code, rpcErr.Message)
		return nil
	}
}

// recalcGreeks rebuilds per-instrument unit greeks and the portfolio
// aggregate from current positions and tickers. Quoted options count even
// with no position; held non-options contribute their position as delta.
func (q *Quoter) recalcGreeks() {
	var portfolio greeks.Greeks
	openOptionDeltas := 0.0

	for name, ins := range q.relevantInstruments() {
		pos := q.acct.Position(name)
		ticker, ok := q.mkt.Ticker(name)
		if !ok {
			continue
		}

		if !ins.IsOption() {
			portfolio.Delta += pos
			continue
		}

		maturity := (float64(ins.ExpiryTs) - ticker.MarkTs) / _secondsPerYear
		if maturity <= 0 {
			continue
		}

		delta := ticker.Delta
		unit := greeks.All(ticker.Forward, ins.Strike, ticker.IV, maturity, ins.IsPut(), &delta)
		q.state(name).greeks = unit

		if pos != 0 {
			scaled := unit
			scaled.Mult(pos)
			portfolio.Add(scaled)
			openOptionDeltas += absf(pos * unit.Delta)
		}
	}

	q.portfolio = portfolio
	q.price.Recalc(portfolio, openOptionDeltas)
}

// relevantInstruments is the quoted set plus every known instrument we hold.
func (q *Quoter) relevantInstruments() map[string]model.Instrument {
	out := make(map[string]model.Instrument, len(q.reg.Quoted()))
	for name, ins := range q.reg.Quoted() {
		out[name] = ins
	}
	for name := range q.acct.Positions() {
		if _, ok := out[name]; ok {
			continue
		}
		if ins, ok := q.reg.Lookup(name); ok {
			out[name] = ins
		}
	}
	return out
}

func (q *Quoter) adjustAllQuotes() error {
	if time.Since(q.startedAt) < _warmup {
		return nil
	}
	for _, ins := range q.reg.Quoted() {
		if err := q.adjustQuotes(ins); err != nil {
			return err
		}
	}
	return nil
}

func (q *Quoter) adjustQuotes(ins model.Instrument) error {
	if time.Since(q.startedAt) < _warmup {
		return nil
	}

	ticker, hasTicker := q.mkt.Ticker(ins.Name)
	st := q.state(ins.Name)

	desired, retreat := q.price.Price(pricing.Input{
		Instrument: ins,
		Ticker:     ticker,
		HasTicker:  hasTicker,
		Greeks:     st.greeks,
		Position:   q.acct.Position(ins.Name),
		CloseOnly:  q.acct.CloseOnly(),
	})
	st.retreat = retreat

	if err := q.recon.Adjust(ins, desired); err != nil {
		return errors.Wrap(err, "adjust quotes").With("instrument", ins.Name)
	}
	return nil
}

func (q *Quoter) state(name string) *instrumentState {
	st, ok := q.states[name]
	if !ok {
		st = &instrumentState{}
		q.states[name] = st
	}
	return st
}

func (q *Quoter) diagnostics(instrument string) string {
	ticker, hasTicker := q.mkt.Ticker(instrument)
	if !hasTicker {
		return fmt.Sprintf("pos=%v no ticker", q.acct.Position(instrument))
	}
	st := q.state(instrument)
	return fmt.Sprintf("mark=%v bid=%v ask=%v pos=%v retreat=%v",
		ticker.MarkPrice, ticker.BestBid, ticker.BestAsk,
		q.acct.Position(instrument), st.retreat)
}

func tickerChannel(instrument, interval string) string {
	return "ticker." + instrument + "." + interval
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
