package quote

import (
	"math"

	"github.com/yanun0323/logs"

	"main/internal/codec"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/pricing"
)

// Sender is the transport collaborator order commands are issued to.
// The websocket client implements it; tests substitute a recorder.
type Sender interface {
	SendInsert(direction enum.Direction, instrument string, amount, price float64, postOnly bool, label string, clientOrderID int64) error
	SendAmend(clientOrderID int64, amount, price float64) error
	SendCancel(clientOrderID int64) error
}

// Order is our last-known exchange view of one resting order.
type Order struct {
	ID     int64
	Price  float64
	Side   model.Side
	Status enum.OrderStatus
}

// IsOpen reports whether the order is resting at the exchange.
func (o Order) IsOpen() bool {
	return o.Status.IsOpen()
}

// Config tunes the reconciliation behavior.
type Config struct {
	// AmendThreshold, in ticks, is the minimum price move before an order is
	// re-sent. Chasing every micro tick would run straight into throttling.
	AmendThreshold float64
	// Label tags our orders so fills and updates of other sessions are ignored.
	Label string
	// Lots is the order size for inserts and amends.
	Lots float64
	// FirstClientOrderID seeds the per-session id counter. Ids below it are
	// reserved for control requests.
	FirstClientOrderID int64
}

type slot struct {
	priceSent *float64 // authoritative local view; nil means nothing should rest
	order     *Order   // exchange-confirmed view, may lag priceSent
}

type instrumentSlots struct {
	instrument model.Instrument
	sides      [model.SideCount]slot
}

// Reconciler compares desired quotes against last-sent and confirmed order
// state per (instrument, side) slot and issues insert/amend/cancel commands.
// At most one order is tracked per slot; a slot is reused only after its
// order reaches a terminal status or its desired price goes away.
type Reconciler struct {
	cfg    Config
	sender Sender
	slots  map[string]*instrumentSlots
	nextID int64

	// diagnostics renders pricing context for an instrument into warn logs on
	// unexpected order errors. Optional.
	diagnostics func(instrument string) string
}

func New(cfg Config, sender Sender, diagnostics func(instrument string) string) *Reconciler {
	if cfg.FirstClientOrderID <= 0 {
		cfg.FirstClientOrderID = 100
	}
	return &Reconciler{
		cfg:         cfg,
		sender:      sender,
		slots:       make(map[string]*instrumentSlots),
		nextID:      cfg.FirstClientOrderID,
		diagnostics: diagnostics,
	}
}

// Adjust reconciles one instrument's slots against the desired quote.
func (r *Reconciler) Adjust(instrument model.Instrument, desired pricing.Quote) error {
	state := r.slots[instrument.Name]
	if state == nil {
		state = &instrumentSlots{instrument: instrument}
		r.slots[instrument.Name] = state
	}
	for _, side := range []model.Side{model.SideBid, model.SideAsk} {
		price := desired.Bid
		if side == model.SideAsk {
			price = desired.Ask
		}
		if err := r.adjustSide(state, side, price); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) adjustSide(state *instrumentSlots, side model.Side, price *float64) error {
	sl := &state.sides[side]
	switch {
	case price == nil:
		if sl.priceSent == nil && (sl.order == nil || !sl.order.IsOpen()) {
			return nil
		}
		// There is, or may be, a resting order we no longer want. If a cancel
		// is already in flight this cancels twice; the duplicate comes back as
		// a benign order-not-found.
		sl.priceSent = nil
		if sl.order == nil {
			return nil
		}
		logs.Debugf("cancel %d %s %s", sl.order.ID, side, state.instrument.Name)
		return r.sender.SendCancel(sl.order.ID)

	case sl.priceSent == nil:
		// Fresh quote for a free slot. A previous order with an in-flight
		// cancel is left to its fate.
		id := r.nextID
		r.nextID++
		sl.order = &Order{ID: id, Price: *price, Side: side}
		sl.priceSent = price
		logs.Debugf("insert %d %s %s %v", id, state.instrument.Name, side, *price)
		return r.sender.SendInsert(side.Direction(), state.instrument.Name, r.cfg.Lots, *price, true, r.cfg.Label, id)

	case math.Abs(*price-*sl.priceSent) >= r.cfg.AmendThreshold*state.instrument.TickSize:
		logs.Debugf("amend %d %s %s %v -> %v", sl.order.ID, state.instrument.Name, side, *sl.priceSent, *price)
		sl.priceSent = price
		return r.sender.SendAmend(sl.order.ID, r.cfg.Lots, *price)

	default:
		// Below the amend threshold; leave the resting order alone.
		return nil
	}
}

// OnOrderUpdate applies an exchange order-state notification to its slot.
// Terminal statuses clear the sent price so the next pricing cycle can
// freely re-insert.
func (r *Reconciler) OnOrderUpdate(update codec.OrderUpdate) {
	if update.Label != r.cfg.Label {
		return
	}
	state := r.slots[update.Instrument]
	if state == nil {
		return
	}
	side := model.SideOf(update.Direction)
	price := update.Price
	if !update.HasPrice {
		// A missing price can only belong to an order that no longer rests.
		price = math.Inf(1)
		if update.Direction == enum.DirectionSell {
			price = 0
		}
	}
	sl := &state.sides[side]
	sl.order = &Order{ID: update.ClientOrderID, Price: price, Side: side, Status: update.Status}
	if !sl.order.IsOpen() {
		sl.priceSent = nil
	}
}

// OnOrderError repairs local state after the exchange rejected one of our
// order requests, identified by the client order id the request carried.
func (r *Reconciler) OnOrderError(rpcErr *codec.RPCError, clientOrderID int64) error {
	for _, state := range r.slots {
		for side := range state.sides {
			sl := &state.sides[side]
			if sl.order == nil || sl.order.ID != clientOrderID {
				continue
			}
			return r.recoverSlot(state, sl, rpcErr)
		}
	}
	// No slot owns this id; nothing to repair.
	logs.Errorf("error with unknown order(%d): %d %s", clientOrderID, rpcErr.Code, rpcErr.Message)
	return nil
}

func (r *Reconciler) recoverSlot(state *instrumentSlots, sl *slot, rpcErr *codec.RPCError) error {
	name := state.instrument.Name
	order := sl.order
	switch {
	case sl.priceSent == nil:
		// The failed request was a cancel.
		if rpcErr.IsOrderNotFound() {
			// It was filled or cancelled before our cancel got there.
			logs.Infof("order %d already filled/cancelled for %s", order.ID, name)
			return nil
		}
		// Failing to pull an order is serious. Try once more right away.
		logs.Errorf("failed to cancel %d for %s: %d %s", order.ID, name, rpcErr.Code, rpcErr.Message)
		return r.sender.SendCancel(order.ID)

	case !order.IsOpen():
		// The failed request was an insert. Clear the sent price so the next
		// pricing cycle retries it.
		sent := *sl.priceSent
		sl.priceSent = nil
		if rpcErr.IsThrottle() {
			logs.Infof("insert %d @%v %s throttled", order.ID, sent, name)
			return nil
		}
		logs.Warnf("failed to insert %d @%v for %s: %d %s%s", order.ID, sent, name, rpcErr.Code, rpcErr.Message, r.diag(name))
		return nil

	default:
		// The failed request was an amend on a resting order.
		sent := *sl.priceSent
		if rpcErr.IsThrottle() {
			// Don't amend again right away; the next price update will.
			logs.Infof("amend %d -> %v for %s throttled", order.ID, sent, name)
			return nil
		}
		logs.Warnf("failed to amend %d -> %v for %s: %d %s%s", order.ID, sent, name, rpcErr.Code, rpcErr.Message, r.diag(name))
		if math.Abs(order.Price-sent) >= 2*r.cfg.AmendThreshold*state.instrument.TickSize {
			// The order rests at the wrong price and amending keeps failing.
			// Pull it and let the next cycle re-insert at the right price.
			sl.priceSent = nil
			return r.sender.SendCancel(order.ID)
		}
		return nil
	}
}

func (r *Reconciler) diag(instrument string) string {
	if r.diagnostics == nil {
		return ""
	}
	return "\n" + r.diagnostics(instrument)
}

// PriceSent returns the authoritative local view of what rests on a slot.
func (r *Reconciler) PriceSent(instrument string, side model.Side) (float64, bool) {
	state := r.slots[instrument]
	if state == nil || state.sides[side].priceSent == nil {
		return 0, false
	}
	return *state.sides[side].priceSent, true
}

// TrackedOrder returns the exchange-confirmed order of a slot, if any.
func (r *Reconciler) TrackedOrder(instrument string, side model.Side) (Order, bool) {
	state := r.slots[instrument]
	if state == nil || state.sides[side].order == nil {
		return Order{}, false
	}
	return *state.sides[side].order, true
}

// OpenOrderCount counts slots whose orders still rest at the exchange.
func (r *Reconciler) OpenOrderCount() int {
	count := 0
	for _, state := range r.slots {
		for side := range state.sides {
			if o := state.sides[side].order; o != nil && o.IsOpen() {
				count++
			}
		}
	}
	return count
}
