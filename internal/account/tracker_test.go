package account

import (
	"testing"

	"main/internal/codec"
)

func TestPositions(t *testing.T) {
	tr := NewTracker(Config{MaxMargin: 1000})
	tr.OnPortfolio([]codec.PortfolioEntry{
		{Instrument: "BTC-28NOV26-60000-C", Position: 0.3},
		{Instrument: "BTC-PERPETUAL", Position: -1.5},
	})

	if got := tr.Position("BTC-PERPETUAL"); got != -1.5 {
		t.Fatalf("position: got %v want -1.5", got)
	}
	if got := tr.Position("never-seen"); got != 0 {
		t.Fatalf("untracked position: got %v want 0", got)
	}

	// A later snapshot only overwrites what it reports.
	tr.OnPortfolio([]codec.PortfolioEntry{
		{Instrument: "BTC-PERPETUAL", Position: 0},
	})
	if got := tr.Position("BTC-28NOV26-60000-C"); got != 0.3 {
		t.Fatalf("absent entry must keep last value, got %v", got)
	}
	if got := len(tr.Positions()); got != 1 {
		t.Fatalf("nonzero positions: got %d want 1", got)
	}
}

func TestCloseOnlyHysteresis(t *testing.T) {
	tr := NewTracker(Config{MaxMargin: 1000})

	if tr.CloseOnly() {
		t.Fatal("fresh tracker must not start in close-only")
	}
	if changed := tr.OnAccountSummary(900); changed || tr.CloseOnly() {
		t.Fatal("margin under the limit must not flip the mode")
	}
	if changed := tr.OnAccountSummary(1500); !changed || !tr.CloseOnly() {
		t.Fatal("margin over the limit must enter close-only")
	}
	// Dropping below the limit but above the resume level keeps close-only;
	// open orders hold margin, resuming here would oscillate.
	if changed := tr.OnAccountSummary(800); changed || !tr.CloseOnly() {
		t.Fatal("mid-band margin must stay in close-only")
	}
	if changed := tr.OnAccountSummary(399); !changed || tr.CloseOnly() {
		t.Fatal("margin under the resume level must leave close-only")
	}
	if changed := tr.OnAccountSummary(399); changed {
		t.Fatal("repeating the reading must not report a change")
	}
}
