package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/huru0825/kenpo-watcher/internal/browser"
	"github.com/huru0825/kenpo-watcher/internal/calendar"
	"github.com/huru0825/kenpo-watcher/internal/captcha"
	"github.com/huru0825/kenpo-watcher/internal/config"
	"github.com/huru0825/kenpo-watcher/internal/cookies"
	"github.com/huru0825/kenpo-watcher/internal/notify"
	"github.com/huru0825/kenpo-watcher/internal/runner"
	"go.uber.org/zap"
)

// app holds the wired watcher and the resources it owns.
type app struct {
	runner *runner.Runner
	store  cookies.ClosableStore
	driver browser.Driver
	log    *zap.Logger
}

func newApp(ctx context.Context, cfg config.Config, log *zap.Logger) (*app, error) {
	filter, err := cfg.FilterConfig()
	if err != nil {
		return nil, err
	}
	seed, err := cookies.ParseSeed(cfg.Cookies.Seed, cfg.CookieDomain())
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	guard := captcha.NewGuard(cfg.Selectors.Captcha, cfg.Browser.ProbeTimeout, log, captcha.WithSettle(cfg.Browser.CheckboxSettle))
	ctrl := calendar.NewController(filter, cfg.Selectors.Calendar, guard, calendar.Timeouts{
		Navigation: cfg.Browser.NavigationTimeout,
		Commit:     cfg.Browser.CommitTimeout,
	}, log)
	driver := browser.NewPlaywright(log, cfg.Browser.Install)

	r := runner.New(runner.Deps{
		Driver:    driver,
		Traverser: ctrl,
		Rotator:   cookies.NewRotator(guard, store, log),
		Store:     store,
		Sink:      newSink(cfg, log),
	}, runner.Options{
		TargetURL:    cfg.Target.URL,
		ReferenceURL: cfg.ReferenceURL(),
		Session: browser.SessionOptions{
			Headless:          cfg.Browser.Headless,
			UserAgent:         cfg.Browser.UserAgent,
			Locale:            cfg.Browser.Locale,
			NavigationTimeout: cfg.Browser.NavigationTimeout,
			InputDelayMin:     cfg.Browser.InputDelayMin,
			InputDelayMax:     cfg.Browser.InputDelayMax,
		},
		SeedCookies: seed,
		ArtifactDir: cfg.Browser.ArtifactDir,
	}, log)

	return &app{runner: r, store: store, driver: driver, log: log}, nil
}

func (a *app) Close() error {
	return errors.Join(a.driver.Close(), a.store.Close())
}

// openStore opens the configured cookie store, sealing snapshots when keys
// are configured.
func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (cookies.ClosableStore, error) {
	hash, block, err := cfg.CookieKeys()
	if err != nil {
		return nil, err
	}
	var codec cookies.Codec
	if hash != nil {
		sealed, err := cookies.NewSealedCodec(hash, block)
		if err != nil {
			return nil, err
		}
		codec = sealed
	}
	store, err := cookies.Open(ctx, cfg.Cookies.Store, codec, log)
	if err != nil {
		return nil, fmt.Errorf("open cookie store: %w", err)
	}
	return store, nil
}

func newSink(cfg config.Config, log *zap.Logger) notify.Sink {
	logSink := notify.NewLogSink(log)
	if cfg.Notify.WebhookURL == "" {
		log.Warn("no webhook configured, notifications go to the log only")
		return logSink
	}
	return notify.Multi{notify.NewWebhookSink(cfg.Notify.WebhookURL, cfg.Notify.Timeout, log), logSink}
}
