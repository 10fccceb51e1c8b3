package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/account"
	"main/internal/ops"
	"main/internal/rolls"
	"main/internal/store"
	"main/internal/venue"
	"main/pkg/conn"
	"main/pkg/exception"
)

const (
	_reconnectDelay         = 2 * time.Second
	_instrumentsChangedWait = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "rolls.json", "path to JSON config")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if loaded.Rolls == nil {
		log.Fatal("config has no rolls section")
	}

	// Funding history is optional; without a database the quoter just warms
	// its moving average from live tickers.
	var funding *store.Funding
	if loaded.Store != nil {
		client, err := conn.New(conn.Option{
			Host:     loaded.Store.Host,
			Port:     loaded.Store.Port,
			User:     loaded.Store.User,
			Password: loaded.Store.Password,
			Database: loaded.Store.Database,
		})
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		defer func() {
			_ = client.Close()
		}()

		funding, err = store.NewFunding(client)
		if err != nil {
			log.Fatalf("init funding store: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run(ctx, loaded, funding)
}

func run(ctx context.Context, loaded ops.Loaded, funding *store.Funding) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := session(ctx, loaded, funding)
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

func session(ctx context.Context, loaded ops.Loaded, funding *store.Funding) error {
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

	var fundingStore rolls.FundingStore
	if funding != nil {
		fundingStore = funding
	}

	quoter := rolls.NewQuoter(*loaded.Rolls, client, account.NewTracker(account.Config{}), fundingStore)
	return quoter.Run(ctx)
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
