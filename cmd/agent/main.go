package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"funnel-agent/internal/browser"
	"funnel-agent/internal/config"
	"funnel-agent/internal/driver"
	"funnel-agent/internal/server"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	serve := flag.Bool("serve", false, "run the HTTP control server instead of a one-shot batch")
	resultsDir := flag.String("results", "", "override results directory")
	headful := flag.Bool("headful", false, "show the browser window")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}
	if *resultsDir != "" {
		cfg.ResultsDir = *resultsDir
	}
	if *headful {
		cfg.Headless = false
	}

	factory := func() (*browser.Session, error) {
		return browser.NewSession(log, browser.Options{
			Headless:   cfg.Headless,
			SlowMo:     cfg.SlowMo,
			NavTimeout: cfg.NavTimeout,
			NavRetries: cfg.NavRetries,
		})
	}
	runner := driver.NewRunner(cfg, log, factory)

	if *serve {
		runServer(cfg, log, runner)
		return
	}

	urls := flag.Args()
	if len(urls) == 0 {
		urls = cfg.URLs
	}
	if len(urls) == 0 {
		log.Fatal("no funnel urls: pass them as arguments or set urls in the config")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	agg, _, err := runner.RunAll(ctx, urls)
	if err != nil {
		log.Fatal("batch failed", zap.Error(err))
	}
	log.Info("batch finished",
		zap.Int("funnels", agg.TotalFunnels),
		zap.Int("paywalls", agg.FunnelsReachedPaywall),
		zap.Float64("averageSteps", agg.AverageSteps))
}

func runServer(cfg *config.Config, log *zap.Logger, runner *driver.Runner) {
	srv := server.New(cfg, log, runner)

	go func() {
		if err := srv.Start(); err != nil {
			log.Error("server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
}
