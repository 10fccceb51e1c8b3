package codec

import (
	"encoding/json"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

// Envelope is the outer frame of every message the exchange sends:
// either a channel notification, a request result, or a request error.
type Envelope struct {
	ChannelName  string          `json:"channel_name"`
	Notification json.RawMessage `json:"notification"`
	Snapshot     bool            `json:"snapshot"`
	ID           *int64          `json:"id"`
	Result       json.RawMessage `json:"result"`
	Error        *RPCError       `json:"error"`
}

// RPCError is the error object paired with the correlating request id.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Exchange error codes we treat differently from generic failures.
const (
	ErrorCodeOrderNotFound = 1
	ErrorCodeThrottle      = 4
)

// IsThrottle reports whether the error is a rate-limit rejection.
func (e *RPCError) IsThrottle() bool {
	return e != nil && e.Code == ErrorCodeThrottle
}

// IsOrderNotFound reports whether the error is a stale-state cancel miss.
func (e *RPCError) IsOrderNotFound() bool {
	return e != nil && e.Code == ErrorCodeOrderNotFound
}

// DecodeEnvelope parses one raw websocket message.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := sonic.ConfigFastest.Unmarshal(raw, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "decode envelope")
	}
	return env, nil
}
