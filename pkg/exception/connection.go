package exception

import "github.com/yanun0323/errors"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrInResponseError  = errors.New("there is an error in response error field")
	ErrLoginRejected    = errors.New("login rejected")
)
