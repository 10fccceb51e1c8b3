package registry

import (
	"sort"

	"main/internal/codec"
	"main/internal/model"
	"main/pkg/exception"
)

// Config selects which instruments get quoted.
type Config struct {
	// Underlying restricts the registry to one underlying, eg "BTCUSD".
	Underlying string
	// QuotedExpiries is how many of the soonest distinct option expiries to quote.
	QuotedExpiries int
}

// Registry partitions the active instrument set into the options we quote and
// the rest of the underlying's instruments, which we only track for greeks.
// The set is immutable between Apply calls and replaced wholesale by each one.
type Registry struct {
	cfg      Config
	quoted   map[string]model.Instrument
	unquoted map[string]model.Instrument
}

func New(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		quoted:   make(map[string]model.Instrument),
		unquoted: make(map[string]model.Instrument),
	}
}

// Apply consumes an instruments notification and rebuilds both sets.
// A non-snapshot notification or any removed entry means the active set
// changed incrementally. Patching the quoted-expiry selection in place is
// unsafe, so that returns exception.ErrInstrumentsChanged and the caller must
// tear the session down.
func (r *Registry) Apply(changes []codec.InstrumentChange, snapshot bool) error {
	if !snapshot {
		return exception.ErrInstrumentsChanged
	}
	for _, change := range changes {
		if change.Removed {
			return exception.ErrInstrumentsChanged
		}
	}

	instruments := make([]model.Instrument, 0, len(changes))
	for _, change := range changes {
		if change.Added == nil || change.Added.Underlying != r.cfg.Underlying {
			continue
		}
		instruments = append(instruments, *change.Added)
	}

	expiries := quotedExpiries(instruments, r.cfg.QuotedExpiries)

	r.quoted = make(map[string]model.Instrument)
	r.unquoted = make(map[string]model.Instrument)
	for _, ins := range instruments {
		if ins.IsOption() && expiries[ins.ExpiryTs] {
			r.quoted[ins.Name] = ins
		} else {
			r.unquoted[ins.Name] = ins
		}
	}
	return nil
}

// quotedExpiries picks the n soonest distinct expiry timestamps among options.
func quotedExpiries(instruments []model.Instrument, n int) map[int64]bool {
	distinct := make(map[int64]struct{})
	for _, ins := range instruments {
		if ins.IsOption() {
			distinct[ins.ExpiryTs] = struct{}{}
		}
	}
	sorted := make([]int64, 0, len(distinct))
	for ts := range distinct {
		sorted = append(sorted, ts)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	selected := make(map[int64]bool, len(sorted))
	for _, ts := range sorted {
		selected[ts] = true
	}
	return selected
}

// Quoted returns the options selected for quoting, keyed by instrument name.
func (r *Registry) Quoted() map[string]model.Instrument {
	return r.quoted
}

// Unquoted returns the rest of the underlying's instruments, tracked only for
// greeks if a position shows up in them.
func (r *Registry) Unquoted() map[string]model.Instrument {
	return r.unquoted
}

// Lookup finds an instrument in either set.
func (r *Registry) Lookup(name string) (model.Instrument, bool) {
	if ins, ok := r.quoted[name]; ok {
		return ins, true
	}
	ins, ok := r.unquoted[name]
	return ins, ok
}
