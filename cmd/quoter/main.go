package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/account"
	"main/internal/engine"
	"main/internal/market"
	"main/internal/ops"
	"main/internal/pricing"
	"main/internal/registry"
	"main/internal/venue"
	"main/pkg/exception"
)

const (
	// reconnect pacing: quick after a dropped connection, slow after the
	// instrument set changed so the venue finishes rolling expiries first
	_reconnectDelay         = 2 * time.Second
	_instrumentsChangedWait = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "quoter.json", "path to JSON config")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if loaded.Quoter == nil {
		log.Fatal("config has no quoter section")
	}

	if loaded.Venue.Pyroscope != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "quoter",
			ServerAddress:   loaded.Venue.Pyroscope,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run(ctx, loaded)
}

// run supervises quoting sessions forever. Every session starts from a blank
// slate: fresh connection, fresh instrument set, fresh trackers. Whatever
// killed the previous session, the venue's cancel-on-disconnect already
// pulled its orders.
func run(ctx context.Context, loaded ops.Loaded) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := session(ctx, loaded)
		switch {
		case err == nil:
			logs.Info("session closed")
			return
		case errors.Is(err, exception.ErrInstrumentsChanged):
			logs.Warnf("instrument set changed, restarting in %s", _instrumentsChangedWait)
			if !sleep(ctx, _instrumentsChangedWait) {
				return
			}
		default:
			logs.Errorf("session died: %+v, reconnecting in %s", err, _reconnectDelay)
			if !sleep(ctx, _reconnectDelay) {
				return
			}
		}
	}
}

func session(ctx context.Context, loaded ops.Loaded) error {
	client := venue.New(ctx, venue.Config{
		URL:     loaded.Venue.URL,
		Token:   loaded.Venue.Token,
		Account: loaded.Venue.Account,
		CODSecs: loaded.Venue.CODSecs,
	})
	defer client.Close()

	if err := client.Start(ctx); err != nil {
		return errors.Wrap(err, "start venue client")
	}

	cfg := loaded.Quoter
	quoter := engine.NewQuoter(
		cfg.Engine,
		client,
		registry.New(cfg.Registry),
		market.NewTracker(),
		account.NewTracker(cfg.Account),
		pricing.NewEngine(cfg.Pricing),
		cfg.Quote,
	)
	return quoter.Run(ctx)
}

// sleep waits out the delay, false when the context ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
