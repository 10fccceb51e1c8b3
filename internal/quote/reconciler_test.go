package quote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/codec"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/pricing"
)

type insertCall struct {
	direction enum.Direction
	price     float64
	id        int64
}

type amendCall struct {
	id    int64
	price float64
}

type recordingSender struct {
	inserts []insertCall
	amends  []amendCall
	cancels []int64
}

func (s *recordingSender) SendInsert(direction enum.Direction, instrument string, amount, price float64, postOnly bool, label string, clientOrderID int64) error {
	s.inserts = append(s.inserts, insertCall{direction: direction, price: price, id: clientOrderID})
	return nil
}

func (s *recordingSender) SendAmend(clientOrderID int64, amount, price float64) error {
	s.amends = append(s.amends, amendCall{id: clientOrderID, price: price})
	return nil
}

func (s *recordingSender) SendCancel(clientOrderID int64) error {
	s.cancels = append(s.cancels, clientOrderID)
	return nil
}

func (s *recordingSender) reset() {
	s.inserts = nil
	s.amends = nil
	s.cancels = nil
}

func testInstrument() model.Instrument {
	return model.Instrument{
		Name:     "BTC-28NOV26-60000-C",
		TickSize: 1,
		Type:     enum.InstrumentTypeOption,
	}
}

func testReconciler() (*Reconciler, *recordingSender) {
	sender := &recordingSender{}
	r := New(Config{AmendThreshold: 3, Label: "X", Lots: 0.1}, sender, nil)
	return r, sender
}

func quoteAt(bid, ask float64) pricing.Quote {
	return pricing.Quote{Bid: &bid, Ask: &ask}
}

func openUpdate(id int64, direction enum.Direction, price float64) codec.OrderUpdate {
	return codec.OrderUpdate{
		ClientOrderID: id,
		Instrument:    "BTC-28NOV26-60000-C",
		Direction:     direction,
		Status:        enum.OrderStatusOpen,
		Price:         price,
		HasPrice:      true,
		Label:         "X",
	}
}

func TestAdjustInsertsBothSides(t *testing.T) {
	r, sender := testReconciler()

	require.NoError(t, r.Adjust(testInstrument(), quoteAt(90, 110)))

	require.Len(t, sender.inserts, 2)
	assert.Equal(t, insertCall{direction: enum.DirectionBuy, price: 90, id: 100}, sender.inserts[0])
	assert.Equal(t, insertCall{direction: enum.DirectionSell, price: 110, id: 101}, sender.inserts[1])
}

func TestAdjustAmendHysteresis(t *testing.T) {
	r, sender := testReconciler()
	require.NoError(t, r.Adjust(testInstrument(), quoteAt(90, 110)))
	sender.reset()

	// Two ticks of drift stays put.
	require.NoError(t, r.Adjust(testInstrument(), quoteAt(92, 110)))
	assert.Empty(t, sender.amends)
	assert.Empty(t, sender.inserts)

	// Three ticks from the last SENT price moves the order.
	require.NoError(t, r.Adjust(testInstrument(), quoteAt(93, 110)))
	require.Len(t, sender.amends, 1)
	assert.Equal(t, amendCall{id: 100, price: 93}, sender.amends[0])

	if sent, ok := r.PriceSent("BTC-28NOV26-60000-C", model.SideBid); assert.True(t, ok) {
		assert.Equal(t, 93.0, sent)
	}
}

func TestAdjustCancelIsIdempotent(t *testing.T) {
	r, sender := testReconciler()
	require.NoError(t, r.Adjust(testInstrument(), quoteAt(90, 110)))
	sender.reset()

	require.NoError(t, r.Adjust(testInstrument(), pricing.Quote{}))
	assert.Equal(t, []int64{100, 101}, sender.cancels)

	// Nothing should rest and nothing was confirmed open; re-suppressing must
	// not cancel again.
	sender.reset()
	require.NoError(t, r.Adjust(testInstrument(), pricing.Quote{}))
	assert.Empty(t, sender.cancels)
}

func TestTerminalUpdateFreesSlot(t *testing.T) {
	r, sender := testReconciler()
	require.NoError(t, r.Adjust(testInstrument(), quoteAt(90, 110)))

	r.OnOrderUpdate(openUpdate(100, enum.DirectionBuy, 90))
	filled := openUpdate(100, enum.DirectionBuy, 90)
	filled.Status = enum.OrderStatusFilled
	r.OnOrderUpdate(filled)

	_, ok := r.PriceSent("BTC-28NOV26-60000-C", model.SideBid)
	assert.False(t, ok, "terminal update must clear the sent price")

	sender.reset()
	require.NoError(t, r.Adjust(testInstrument(), quoteAt(91, 110)))
	require.Len(t, sender.inserts, 1)
	assert.Equal(t, int64(102), sender.inserts[0].id, "freed slot reinserts under a fresh id")
}

func TestForeignLabelIgnored(t *testing.T) {
	r, _ := testReconciler()
	require.NoError(t, r.Adjust(testInstrument(), quoteAt(90, 110)))

	update := openUpdate(100, enum.DirectionBuy, 42)
	update.Label = "other-bot"
	r.OnOrderUpdate(update)

	order, ok := r.TrackedOrder("BTC-28NOV26-60000-C", model.SideBid)
	require.True(t, ok)
	assert.Equal(t, 90.0, order.Price, "foreign label must not touch the slot")
}

func TestInsertErrorRetriesNextCycle(t *testing.T) {
	r, sender := testReconciler()
	require.NoError(t, r.Adjust(testInstrument(), quoteAt(90, 110)))
	sender.reset()

	throttle := &codec.RPCError{Code: codec.ErrorCodeThrottle, Message: "slow down"}
	require.NoError(t, r.OnOrderError(throttle, 100))
	assert.Empty(t, sender.cancels, "throttled insert just waits for the next cycle")

	_, ok := r.PriceSent("BTC-28NOV26-60000-C", model.SideBid)
	assert.False(t, ok, "failed insert must clear the sent price")

	require.NoError(t, r.Adjust(testInstrument(), quoteAt(90, 110)))
	require.Len(t, sender.inserts, 1)
	assert.Equal(t, int64(102), sender.inserts[0].id)
}

func TestAmendErrorCancelsDivergedOrder(t *testing.T) {
	r, sender := testReconciler()
	require.NoError(t, r.Adjust(testInstrument(), quoteAt(90, 110)))
	r.OnOrderUpdate(openUpdate(100, enum.DirectionBuy, 90))

	// Amend to 96, six ticks from the resting 90: twice the threshold.
	require.NoError(t, r.Adjust(testInstrument(), quoteAt(96, 110)))
	sender.reset()

	rejected := &codec.RPCError{Code: 99, Message: "no"}
	require.NoError(t, r.OnOrderError(rejected, 100))
	assert.Equal(t, []int64{100}, sender.cancels, "order resting far from target must be pulled")

	_, ok := r.PriceSent("BTC-28NOV26-60000-C", model.SideBid)
	assert.False(t, ok)
}

func TestAmendErrorThrottledLeavesOrder(t *testing.T) {
	r, sender := testReconciler()
	require.NoError(t, r.Adjust(testInstrument(), quoteAt(90, 110)))
	r.OnOrderUpdate(openUpdate(100, enum.DirectionBuy, 90))
	require.NoError(t, r.Adjust(testInstrument(), quoteAt(96, 110)))
	sender.reset()

	throttle := &codec.RPCError{Code: codec.ErrorCodeThrottle, Message: "slow down"}
	require.NoError(t, r.OnOrderError(throttle, 100))
	assert.Empty(t, sender.cancels)

	sent, ok := r.PriceSent("BTC-28NOV26-60000-C", model.SideBid)
	require.True(t, ok)
	assert.Equal(t, 96.0, sent, "throttled amend keeps the sent price for the next cycle")
}

func TestCancelErrorOrderNotFoundIsBenign(t *testing.T) {
	r, sender := testReconciler()
	require.NoError(t, r.Adjust(testInstrument(), quoteAt(90, 110)))
	require.NoError(t, r.Adjust(testInstrument(), pricing.Quote{}))
	sender.reset()

	notFound := &codec.RPCError{Code: codec.ErrorCodeOrderNotFound, Message: "gone"}
	require.NoError(t, r.OnOrderError(notFound, 100))
	assert.Empty(t, sender.cancels)

	// Any other cancel failure retries once.
	other := &codec.RPCError{Code: 99, Message: "no"}
	require.NoError(t, r.OnOrderError(other, 101))
	assert.Equal(t, []int64{101}, sender.cancels)
}

func TestErrorForUnknownOrderIsIgnored(t *testing.T) {
	r, sender := testReconciler()
	require.NoError(t, r.Adjust(testInstrument(), quoteAt(90, 110)))
	sender.reset()

	rejected := &codec.RPCError{Code: 99, Message: "no"}
	require.NoError(t, r.OnOrderError(rejected, 999))
	assert.Empty(t, sender.cancels)
	assert.Empty(t, sender.inserts)
}

func TestOpenOrderCount(t *testing.T) {
	r, _ := testReconciler()
	require.NoError(t, r.Adjust(testInstrument(), quoteAt(90, 110)))
	assert.Equal(t, 0, r.OpenOrderCount(), "unconfirmed orders do not count")

	r.OnOrderUpdate(openUpdate(100, enum.DirectionBuy, 90))
	r.OnOrderUpdate(openUpdate(101, enum.DirectionSell, 110))
	assert.Equal(t, 2, r.OpenOrderCount())
}
