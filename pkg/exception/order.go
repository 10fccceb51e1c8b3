package exception

import "github.com/yanun0323/errors"

var (
	ErrOrderUnknown       = errors.New("order: not found in any slot")
	ErrOrderSlotOccupied  = errors.New("order: slot already holds a live order")
	ErrOrderInvalidAmount = errors.New("order: amount must be positive")
)
