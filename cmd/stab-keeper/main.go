// Command stab-keeper runs the price-controller cadence: it calls
// Controller.Update on a ticker so the internal STAB price and every
// collateral's derived liquidation threshold stay current even when no
// user operation happens to trigger an update. It also serves a
// prometheus scrape endpoint and persists engine state on shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	stabconfig "stabengine/config"
	"stabengine/internal/controller"
	"stabengine/internal/custody"
	"stabengine/internal/engine"
	"stabengine/internal/oracle"
	"stabengine/internal/store"
	"stabengine/observability/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("stab-keeper: %v", err)
	}
}

func run() error {
	var cfgPath, metricsAddr string
	flag.StringVar(&cfgPath, "config", "stab-keeper.toml", "path to the engine configuration file")
	flag.StringVar(&metricsAddr, "metrics-addr", ":9420", "address the prometheus scrape endpoint listens on")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("STAB_ENV"))
	logger := logging.Setup("stab-keeper", env)

	cfg, err := stabconfig.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	eng, err := build(cfg, logger)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := store.Open(filepath.Join(cfg.DataDir, "stab.db"))
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer db.Close()

	snap, err := db.Load()
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if err := eng.Restore(snap); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	httpServer := &http.Server{
		Addr:         metricsAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErrs := make(chan error, 1)
	go func() {
		logger.Info("stab-keeper metrics listening", "addr", metricsAddr)
		serverErrs <- httpServer.ListenAndServe()
	}()

	updateDelay := time.Duration(cfg.UpdateDelayMinutes) * time.Minute
	tickEvery := updateDelay
	if tickEvery <= 0 {
		tickEvery = time.Minute
	}
	ticker := time.NewTicker(tickEvery)
	defer ticker.Stop()

	logger.Info("stab-keeper started", "update_delay_minutes", cfg.UpdateDelayMinutes)

	for {
		select {
		case <-ticker.C:
			if err := eng.UpdateController(); err != nil {
				logger.Error("controller update failed", "error", err)
			}
		case <-stopCtx.Done():
			if err := eng.Persist(db); err != nil {
				logger.Error("persist on shutdown failed", "error", err)
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				_ = httpServer.Close()
				return err
			}
			return nil
		case err := <-serverErrs:
			if err != nil && err != http.ErrServerClosed {
				return err
			}
		}
	}
}

// build wires a fresh engine.Engine and price controller from cfg, matching
// internal/engine.New's composition plus a StaticOracle/StaticMarketPrice
// pair as the default collaborators until a live feed is configured.
func build(cfg *stabconfig.Config, logger *slog.Logger) (*engine.Engine, error) {
	dec := func(s string) decimal.Decimal {
		d, err := stabconfig.Decimal(s)
		if err != nil {
			d = decimal.Zero
		}
		return d
	}

	cu := custody.NewCustody()
	eng := engine.New(engine.Params{
		MinimumMint:           dec(cfg.MinimumMint),
		MaxVectorLength:       cfg.MaxVectorLength,
		LiquidationDelay:      time.Duration(cfg.LiquidationDelayMinutes) * time.Minute,
		UnmarkedDelay:         time.Duration(cfg.UnmarkedDelayMinutes) * time.Minute,
		LiquidationFine:       dec(cfg.LiquidationLiquidationFine),
		StabilisFine:          dec(cfg.StabilisLiquidationFine),
		ForceMintCRMultiplier: dec(cfg.ForceMintCRMultiplier),
	}, cu, logger)

	priceOracle := oracle.NewStaticOracle()
	marketPrice := oracle.NewStaticMarketPrice(dec(cfg.BasePrice))

	ctrl, err := controller.New(controller.Params{
		Kp:                   dec(cfg.Kp),
		Ki:                   dec(cfg.Ki),
		MaxInterestRate:      dec(cfg.MaxInterestRate),
		MinInterestRate:      dec(cfg.MinInterestRate),
		AllowedDeviation:     dec(cfg.AllowedDeviation),
		MaxPriceError:        dec(cfg.MaxPriceError),
		PriceErrorOffset:     dec(cfg.PriceErrorOffset),
		NumberOfCachedPrices: cfg.NumberOfCachedPrices,
		UpdateDelay:          time.Duration(cfg.UpdateDelayMinutes) * time.Minute,
		BasePrice:            dec(cfg.BasePrice),
	}, priceOracle, eng.Registry(), marketPrice, nil)
	if err != nil {
		return nil, fmt.Errorf("construct controller: %w", err)
	}
	eng.AttachController(ctrl)

	return eng, nil
}
