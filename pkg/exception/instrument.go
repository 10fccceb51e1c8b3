package exception

import "github.com/yanun0323/errors"

var (
	// ErrInstrumentsChanged signals that the exchange reported an incremental
	// change to the active instrument set. The registry cannot be patched in
	// place, so the whole session must be torn down and rebuilt.
	ErrInstrumentsChanged = errors.New("instruments: active set changed")

	ErrUnknownInstrument = errors.New("instruments: unknown instrument")
)
