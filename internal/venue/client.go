package venue

import (
	"context"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/ws"

	"main/internal/codec"
	"main/internal/model/enum"
	"main/pkg/exception"
)

// Reserved request ids. Ids from CallIDOrderBase upward belong to the
// quote reconciler, one per order slot.
const (
	CallIDSubscribe     int64 = 0
	CallIDLogin         int64 = 1
	CallIDCancelSession int64 = 2
	CallIDSetCOD        int64 = 3
	CallIDHedge         int64 = 10
	CallIDOrderBase     int64 = 100
)

type Config struct {
	URL     string
	Token   string
	Account string
	CODSecs int
}

// Client speaks the venue's JSON-RPC dialect over a single websocket.
type Client struct {
	wss *ws.WebSocket
	cfg Config
}

func New(ctx context.Context, cfg Config) *Client {
	return &Client{
		wss: ws.New(ctx, cfg.URL),
		cfg: cfg,
	}
}

func (c *Client) Close() {
	c.wss.Close()
}

type request struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
	ID     int64  `json:"id"`
}

type loginParams struct {
	Token   string `json:"token"`
	Account string `json:"account,omitempty"`
}

type setCODParams struct {
	TimeoutSecs int `json:"timeout_secs"`
}

type subscribeParams struct {
	Channels []string `json:"channels"`
}

type insertParams struct {
	Direction     string   `json:"direction"`
	Instrument    string   `json:"instrument_name"`
	Amount        float64  `json:"amount"`
	Price         *float64 `json:"price,omitempty"`
	OrderType     string   `json:"order_type,omitempty"`
	PostOnly      bool     `json:"post_only,omitempty"`
	Label         string   `json:"label,omitempty"`
	ClientOrderID int64    `json:"client_order_id"`
}

type amendParams struct {
	Amount        float64 `json:"amount"`
	Price         float64 `json:"price"`
	ClientOrderID int64   `json:"client_order_id"`
}

type cancelParams struct {
	ClientOrderID int64 `json:"client_order_id"`
}

// Start opens the websocket and, when a token is configured,
// authenticates and arms cancel-on-disconnect before returning.
func (c *Client) Start(ctx context.Context) error {
	if err := c.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}

	if c.cfg.Token == "" {
		return nil
	}

	if err := c.call(ctx, request{
		Method: "public/login",
		Params: loginParams{Token: c.cfg.Token, Account: c.cfg.Account},
		ID:     CallIDLogin,
	}, exception.ErrLoginRejected); err != nil {
		return err
	}

	codSecs := c.cfg.CODSecs
	if codSecs <= 0 {
		codSecs = 6
	}

	return c.call(ctx, request{
		Method: "private/set_cancel_on_disconnect",
		Params: setCODParams{TimeoutSecs: codSecs},
		ID:     CallIDSetCOD,
	}, nil)
}

// call sends one request and blocks until its result arrives.
func (c *Client) call(ctx context.Context, req request, rejected error) error {
	if err := c.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, client *ws.WebSocket) error {
			if err := client.WriteJSON(req); err != nil {
				return errors.Wrap(err, "write request").With("method", req.Method)
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			env, ok := ws.ReadMessage[codec.Envelope](m)
			if !ok || env.ID == nil || *env.ID != req.ID {
				return false, nil
			}

			if env.Error != nil {
				if rejected != nil {
					return false, errors.Wrap(rejected, env.Error.Message)
				}
				return false, errors.Errorf("%s rejected: %d %s", req.Method, env.Error.Code, env.Error.Message)
			}

			return true, nil
		},
	}, false); err != nil {
		return errors.Wrap(err, "send and wait").With("method", req.Method)
	}

	return nil
}

// PublicSubscribe asks for public channels and waits for the ack.
func (c *Client) PublicSubscribe(ctx context.Context, channels ...string) error {
	return c.call(ctx, request{
		Method: "public/subscribe",
		Params: subscribeParams{Channels: channels},
		ID:     CallIDSubscribe,
	}, nil)
}

// PrivateSubscribe asks for account channels and waits for the ack.
func (c *Client) PrivateSubscribe(ctx context.Context, channels ...string) error {
	return c.call(ctx, request{
		Method: "private/subscribe",
		Params: subscribeParams{Channels: channels},
		ID:     CallIDSubscribe,
	}, nil)
}

// SubscribeAsync fires a public subscribe without waiting for the ack.
// Used for per-instrument tickers where the result is observed on the
// main message stream instead.
func (c *Client) SubscribeAsync(channels ...string) error {
	return c.send(request{
		Method: "public/subscribe",
		Params: subscribeParams{Channels: channels},
		ID:     CallIDSubscribe,
	})
}

// CancelSession cancels every order this session placed and waits for
// the venue to confirm. Called on shutdown and before teardown.
func (c *Client) CancelSession(ctx context.Context) error {
	return c.call(ctx, request{
		Method: "private/cancel_session",
		ID:     CallIDCancelSession,
	}, nil)
}

// SendInsert places a post-only limit order.
func (c *Client) SendInsert(direction enum.Direction, instrument string, amount, price float64, postOnly bool, label string, clientOrderID int64) error {
	p := price
	return c.send(request{
		Method: "private/insert",
		Params: insertParams{
			Direction:     direction.String(),
			Instrument:    instrument,
			Amount:        amount,
			Price:         &p,
			PostOnly:      postOnly,
			Label:         label,
			ClientOrderID: clientOrderID,
		},
		ID: clientOrderID,
	})
}

// SendMarketInsert places a market order, used by the delta hedger.
func (c *Client) SendMarketInsert(direction enum.Direction, instrument string, amount float64, label string) error {
	return c.send(request{
		Method: "private/insert",
		Params: insertParams{
			Direction:     direction.String(),
			Instrument:    instrument,
			Amount:        amount,
			OrderType:     "market",
			Label:         label,
			ClientOrderID: CallIDHedge,
		},
		ID: CallIDHedge,
	})
}

// SendAmend moves an open order to a new price.
func (c *Client) SendAmend(clientOrderID int64, amount, price float64) error {
	return c.send(request{
		Method: "private/amend",
		Params: amendParams{
			Amount:        amount,
			Price:         price,
			ClientOrderID: clientOrderID,
		},
		ID: clientOrderID,
	})
}

// SendCancel pulls an open order.
func (c *Client) SendCancel(clientOrderID int64) error {
	return c.send(request{
		Method: "private/cancel",
		Params: cancelParams{ClientOrderID: clientOrderID},
		ID:     clientOrderID,
	})
}

func (c *Client) send(req request) error {
	if err := c.wss.WriteJSON(req); err != nil {
		return errors.Wrap(err, "write request").With("method", req.Method)
	}

	return nil
}

// Observe fans incoming envelopes into handler until ctx ends or the
// connection drops. The returned function unsubscribes.
func (c *Client) Observe(ctx context.Context, handler func(env codec.Envelope)) (unsubscribe func()) {
	ch, cancel := c.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				env, ok := ws.ReadMessage[codec.Envelope](m)
				if !ok {
					logs.Warnf("drop undecodable message")
					continue
				}

				handler(env)
			}
		}
	}()

	return cancel
}

// Messages exposes the envelope stream as a channel. The channel closes
// when the websocket closes, which the caller treats as connection loss.
func (c *Client) Messages(ctx context.Context) (<-chan codec.Envelope, func()) {
	ch, cancel := c.wss.Subscribe()
	out := make(chan codec.Envelope, 256)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				env, ok := ws.ReadMessage[codec.Envelope](m)
				if !ok {
					logs.Warnf("drop undecodable message")
					continue
				}

				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, cancel
}
