package codec

import (
	"strings"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"main/internal/model"
	"main/internal/model/enum"
)

// Kind enumerates the closed set of notification channels the engine consumes.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindTicker
	KindIndex
	KindOrders
	KindTrades
	KindPortfolio
	KindAccountSummary
	KindInstruments
)

// Notification is the typed, validated form of one channel notification.
// Exactly one payload field is set, selected by Kind.
type Notification struct {
	Kind     Kind
	Snapshot bool

	Ticker      *TickerUpdate
	Index       *IndexUpdate
	Orders      []OrderUpdate
	Trades      []model.Trade
	Portfolio   []PortfolioEntry
	Summary     *AccountSummary
	Instruments []InstrumentChange
}

// TickerUpdate carries the latest ticker of one instrument.
type TickerUpdate struct {
	Instrument string
	Ticker     model.Ticker
}

// IndexUpdate carries the latest index price of one underlying.
type IndexUpdate struct {
	Underlying string
	Price      float64
}

// OrderUpdate is the exchange-confirmed state of one of our orders.
type OrderUpdate struct {
	ClientOrderID int64
	Instrument    string
	Direction     enum.Direction
	Status        enum.OrderStatus
	Price         float64
	HasPrice      bool
	Label         string
}

// PortfolioEntry is one position line of a portfolio snapshot.
type PortfolioEntry struct {
	Instrument string
	Position   float64
}

// AccountSummary carries the account-level margin reading.
type AccountSummary struct {
	RequiredMargin float64
}

// InstrumentChange is one entry of an instruments notification. Removed set
// means the active set changed incrementally, which is fatal for the session.
type InstrumentChange struct {
	Added   *model.Instrument
	Removed bool
}

type wireTicker struct {
	MarkPrice   float64  `json:"mark_price"`
	Delta       float64  `json:"delta"`
	BestBid     *float64 `json:"best_bid_price"`
	BestAsk     *float64 `json:"best_ask_price"`
	Index       float64  `json:"index"`
	MarkTs      float64  `json:"mark_timestamp"`
	IV          *float64 `json:"iv"`
	Forward     float64  `json:"forward"`
	FundingRate *float64 `json:"funding_rate"`
}

type wireIndex struct {
	Price float64 `json:"price"`
}

type wireOrder struct {
	ClientOrderID *int64   `json:"client_order_id"`
	Instrument    string   `json:"instrument_name"`
	Direction     string   `json:"direction"`
	Status        string   `json:"status"`
	Price         *float64 `json:"price"`
	Label         string   `json:"label"`
}

type wireTrade struct {
	Instrument string   `json:"instrument_name"`
	Direction  string   `json:"direction"`
	Amount     float64  `json:"amount"`
	Price      float64  `json:"price"`
	PosAfter   float64  `json:"position_after"`
	TradeType  string   `json:"trade_type"`
	OrderID    *int64   `json:"client_order_id"`
	Index      *float64 `json:"index"`
	MakerTaker string   `json:"maker_taker"`
	Time       string   `json:"time"`
	Label      string   `json:"label"`
}

type wirePosition struct {
	Instrument string  `json:"instrument_name"`
	Position   float64 `json:"position"`
}

type wireAccountSummary struct {
	RequiredMargin float64 `json:"required_margin"`
}

type wireLeg struct {
	Instrument string  `json:"instrument_name"`
	Quantity   float64 `json:"quantity"`
}

type wireInstrument struct {
	Name       string    `json:"instrument_name"`
	Underlying string    `json:"underlying"`
	TickSize   float64   `json:"tick_size"`
	Type       string    `json:"type"`
	OptionType string    `json:"option_type"`
	ExpiryTs   *int64    `json:"expiration_timestamp"`
	Strike     *float64  `json:"strike_price"`
	Legs       []wireLeg `json:"legs"`
}

type wireInstrumentChange struct {
	Added   *wireInstrument `json:"added"`
	Removed *wireInstrument `json:"removed"`
}

// DecodeNotification converts one channel notification into its typed form.
// Unknown channels decode to KindUnknown so the dispatcher can log and skip.
func DecodeNotification(channel string, payload []byte, snapshot bool) (Notification, error) {
	n := Notification{Snapshot: snapshot}
	switch {
	case strings.HasPrefix(channel, "ticker."):
		parts := strings.Split(channel, ".")
		if len(parts) < 2 {
			return n, errors.Errorf("malformed ticker channel: %s", channel)
		}
		var w wireTicker
		if err := sonic.ConfigFastest.Unmarshal(payload, &w); err != nil {
			return n, errors.Wrap(err, "decode ticker").With("channel", channel)
		}
		n.Kind = KindTicker
		n.Ticker = &TickerUpdate{Instrument: parts[1], Ticker: tickerFromWire(w)}

	case strings.HasPrefix(channel, "price_index."):
		var w wireIndex
		if err := sonic.ConfigFastest.Unmarshal(payload, &w); err != nil {
			return n, errors.Wrap(err, "decode index").With("channel", channel)
		}
		n.Kind = KindIndex
		n.Index = &IndexUpdate{Underlying: strings.TrimPrefix(channel, "price_index."), Price: w.Price}

	case channel == "session.orders":
		var ws []wireOrder
		if err := sonic.ConfigFastest.Unmarshal(payload, &ws); err != nil {
			return n, errors.Wrap(err, "decode orders")
		}
		n.Kind = KindOrders
		n.Orders = make([]OrderUpdate, 0, len(ws))
		for _, w := range ws {
			if w.ClientOrderID == nil {
				continue
			}
			u := OrderUpdate{
				ClientOrderID: *w.ClientOrderID,
				Instrument:    w.Instrument,
				Direction:     enum.ParseDirection(w.Direction),
				Status:        enum.ParseOrderStatus(w.Status),
				Label:         w.Label,
			}
			if w.Price != nil {
				u.Price = *w.Price
				u.HasPrice = true
			}
			n.Orders = append(n.Orders, u)
		}

	case channel == "account.trade_history":
		var ws []wireTrade
		if err := sonic.ConfigFastest.Unmarshal(payload, &ws); err != nil {
			return n, errors.Wrap(err, "decode trades")
		}
		n.Kind = KindTrades
		n.Trades = make([]model.Trade, 0, len(ws))
		for _, w := range ws {
			t := model.Trade{
				Instrument: w.Instrument,
				Direction:  enum.ParseDirection(w.Direction),
				Amount:     w.Amount,
				Price:      w.Price,
				PosAfter:   w.PosAfter,
				TradeType:  w.TradeType,
				MakerTaker: w.MakerTaker,
				Time:       w.Time,
				Label:      w.Label,
			}
			if w.OrderID != nil {
				t.OrderID = *w.OrderID
			}
			if w.Index != nil {
				t.Index = *w.Index
			}
			n.Trades = append(n.Trades, t)
		}

	case channel == "account.portfolio":
		var ws []wirePosition
		if err := sonic.ConfigFastest.Unmarshal(payload, &ws); err != nil {
			return n, errors.Wrap(err, "decode portfolio")
		}
		n.Kind = KindPortfolio
		n.Portfolio = make([]PortfolioEntry, 0, len(ws))
		for _, w := range ws {
			n.Portfolio = append(n.Portfolio, PortfolioEntry{Instrument: w.Instrument, Position: w.Position})
		}

	case channel == "account.summary":
		var w wireAccountSummary
		if err := sonic.ConfigFastest.Unmarshal(payload, &w); err != nil {
			return n, errors.Wrap(err, "decode account summary")
		}
		n.Kind = KindAccountSummary
		n.Summary = &AccountSummary{RequiredMargin: w.RequiredMargin}

	case channel == "instruments":
		var ws []wireInstrumentChange
		if err := sonic.ConfigFastest.Unmarshal(payload, &ws); err != nil {
			return n, errors.Wrap(err, "decode instruments")
		}
		n.Kind = KindInstruments
		n.Instruments = make([]InstrumentChange, 0, len(ws))
		for _, w := range ws {
			change := InstrumentChange{Removed: w.Removed != nil}
			if w.Added != nil {
				ins := instrumentFromWire(*w.Added)
				change.Added = &ins
			}
			n.Instruments = append(n.Instruments, change)
		}

	default:
		n.Kind = KindUnknown
	}
	return n, nil
}

func tickerFromWire(w wireTicker) model.Ticker {
	t := model.Ticker{
		MarkPrice: w.MarkPrice,
		Delta:     w.Delta,
		Index:     w.Index,
		MarkTs:    w.MarkTs,
		Forward:   w.Forward,
	}
	if w.BestBid != nil {
		t.BestBid = *w.BestBid
		t.HasBestBid = true
	}
	if w.BestAsk != nil {
		t.BestAsk = *w.BestAsk
		t.HasBestAsk = true
	}
	if w.IV != nil {
		t.IV = *w.IV
	}
	if w.FundingRate != nil {
		t.FundingRate = *w.FundingRate
	}
	return t
}

func instrumentFromWire(w wireInstrument) model.Instrument {
	ins := model.Instrument{
		Name:       w.Name,
		Underlying: w.Underlying,
		TickSize:   w.TickSize,
		Type:       enum.ParseInstrumentType(w.Type),
		OptionType: enum.ParseOptionType(w.OptionType),
	}
	if w.ExpiryTs != nil {
		ins.ExpiryTs = *w.ExpiryTs
	}
	if w.Strike != nil {
		ins.Strike = *w.Strike
	}
	for _, leg := range w.Legs {
		ins.Legs = append(ins.Legs, model.Leg{Instrument: leg.Instrument, Quantity: leg.Quantity})
	}
	return ins
}
