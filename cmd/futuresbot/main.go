package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"futures-bot/internal/alert"
	"futures-bot/internal/config"
	"futures-bot/internal/console"
	"futures-bot/internal/exchange/binance"
	"futures-bot/internal/logging"
	"futures-bot/internal/metrics"
	"futures-bot/internal/safety"
	"futures-bot/internal/store"
	"futures-bot/internal/trader"
)

func main() {
	var (
		configPath string
		envFile    string
		allowLive  bool
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path (optional)")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file with API_KEY/API_SECRET")
	flag.BoolVar(&allowLive, "allow-live", false, "allow mode=live")
	flag.Parse()

	if err := config.LoadDotEnv(envFile); err != nil {
		fatal(err.Error())
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, config.ErrMissingCredentials) {
			fmt.Println(err.Error())
			os.Exit(1)
		}
		fatal(err.Error())
	}
	if err := checkLiveAllowed(cfg, allowLive); err != nil {
		fatal(err.Error())
	}

	logger := logging.New(logging.Options{
		Level:        cfg.Log.Level,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		File:         cfg.Log.File,
		MaxSizeMB:    cfg.Log.MaxSizeMB,
		MaxBackups:   cfg.Log.MaxBackups,
	})
	defer logger.Close()
	log := logger.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	alerts := alert.NewFromConfig(string(cfg.Mode), cfg.Observability.Telegram, logger.Logger)
	if alerts != nil {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := alerts.Close(closeCtx); err != nil {
				log.Warn().Err(err).Msg("close alert manager failed")
			}
		}()
	}

	m := metrics.New()
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		go func() {
			if err := m.Serve(ctx, addr, log); err != nil {
				log.Error().Err(err).Str("addr", addr).Msg("metrics listener failed")
			}
		}()
	}

	st, err := store.New(cfg.State.Dir, logger.Logger)
	if err != nil {
		fatal(err.Error())
	}

	client, err := binance.NewClient(cfg.Exchange, logger.Logger)
	if err != nil {
		fatal(err.Error())
	}
	if offset, err := client.SyncTime(ctx); err != nil {
		log.Warn().Err(err).Msg("server time sync failed")
	} else {
		log.Debug().Dur("offset", offset).Msg("server time synced")
	}

	breaker := safety.NewBreaker(
		cfg.CircuitBreaker.Enabled,
		cfg.CircuitBreaker.MaxPlaceFailures,
		time.Duration(cfg.CircuitBreaker.CooldownSec)*time.Second,
		logger.Component("breaker"),
	)
	var alerter alert.Alerter
	if alerts != nil {
		alerter = alerts
		breaker.SetAlerter(alerts)
	}

	bot := trader.New(safety.NewGuardedExecutor(client, breaker), trader.Options{
		Mode:        string(cfg.Mode),
		MaxNotional: cfg.Trading.MaxNotional.Decimal,
		Stream:      client,
		Store:       st,
		Alerter:     alerter,
		Metrics:     m,
		Logger:      logger.Logger,
	})
	_ = bot.Start(ctx)
	defer bot.Close()

	con := console.New(bot, os.Stdin, os.Stdout, console.Options{
		DefaultSymbol: cfg.Trading.DefaultSymbol,
		WatchFor:      time.Duration(cfg.Trading.WatchSec) * time.Second,
		ClearScreen:   true,
	})
	done := make(chan error, 1)
	go func() { done <- con.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("console stopped")
		}
	case <-ctx.Done():
		fmt.Println()
	}
}

func checkLiveAllowed(cfg config.Config, allowLive bool) error {
	if cfg.Mode == config.ModeLive && !allowLive {
		return errors.New("mode=live blocked by default; set -allow-live=true to continue")
	}
	return nil
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, strings.TrimSpace(msg))
	os.Exit(1)
}
