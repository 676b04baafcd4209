package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowpbx/telephony/internal/api"
	"github.com/flowpbx/telephony/internal/api/middleware"
	"github.com/flowpbx/telephony/internal/config"
	"github.com/flowpbx/telephony/internal/database"
	"github.com/flowpbx/telephony/internal/database/models"
	"github.com/flowpbx/telephony/internal/database/pgstore"
	"github.com/flowpbx/telephony/internal/emergency"
	"github.com/flowpbx/telephony/internal/events"
	"github.com/flowpbx/telephony/internal/history"
	"github.com/flowpbx/telephony/internal/metrics"
	"github.com/flowpbx/telephony/internal/phone"
	"github.com/flowpbx/telephony/internal/phone/sim"
	"github.com/flowpbx/telephony/internal/phonenumber"
	"github.com/flowpbx/telephony/internal/telecom"
	"github.com/flowpbx/telephony/internal/telephony"
	"github.com/flowpbx/telephony/internal/tone"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	w, logFile := cfg.LogWriter()
	defer logFile.Close()
	logger := slog.New(cfg.SlogHandler(w))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("telephonyd failed", "error", err)
		os.Exit(1)
	}
}

// stores groups the repositories of whichever database backend is
// configured.
type stores struct {
	settings      database.SettingsRepository
	subscriptions database.SubscriptionRepository
	records       database.ConnectionRecordRepository
	operators     database.OperatorRepository
	close         func() error
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		settings, err := pg.Settings(ctx)
		if err != nil {
			pg.Close()
			return nil, fmt.Errorf("loading settings: %w", err)
		}
		return &stores{
			settings:      settings,
			subscriptions: pg.Subscriptions(),
			records:       pg.ConnectionRecords(),
			operators:     pg.Operators(),
			close:         pg.Close,
		}, nil
	}

	db, err := database.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	settings, err := database.NewSettingsRepository(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	return &stores{
		settings:      settings,
		subscriptions: database.NewSubscriptionRepository(db),
		records:       database.NewConnectionRecordRepository(db),
		operators:     database.NewOperatorRepository(db),
		close:         db.Close,
	}, nil
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting telephonyd",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"component", cfg.ComponentName,
		"postgres", cfg.DatabaseURL != "",
	)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	st, err := openStores(appCtx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	if err := bootstrapOperator(appCtx, st.operators, cfg, logger); err != nil {
		return err
	}

	// Voice stacks.
	inv := sim.DefaultInventory()
	if cfg.PhonesFile != "" {
		if inv, err = sim.LoadInventory(cfg.PhonesFile); err != nil {
			return err
		}
	}
	simPhones, err := inv.Build(logger, true)
	if err != nil {
		return fmt.Errorf("building phones: %w", err)
	}
	phones := phone.NewRegistry(cfg.ComponentName, st.subscriptions, logger)
	for _, p := range simPhones {
		phones.Add(p)
		defer p.Close()
	}
	phones.SetDefault(inv.DefaultSlot)
	for _, spec := range inv.Phones {
		if spec.SubscriptionID == 0 {
			continue
		}
		sub := &models.Subscription{
			SubID:   spec.SubscriptionID,
			PhoneID: spec.Slot,
			Label:   fmt.Sprintf("slot %d", spec.Slot),
		}
		if err := st.subscriptions.Upsert(appCtx, sub); err != nil {
			return fmt.Errorf("registering subscription %d: %w", spec.SubscriptionID, err)
		}
	}

	// Collaborators.
	classifier := phonenumber.NewClassifier()
	if err := classifier.Load(appCtx, st.settings); err != nil {
		return err
	}
	toneMode, err := st.settings.Get(appCtx, tone.SettingEmergencyTone)
	if err != nil {
		return fmt.Errorf("loading %s: %w", tone.SettingEmergencyTone, err)
	}
	tones := tone.NewFactory(io.Discard, logger)
	if err := tones.SetMode(toneMode); err != nil {
		logger.Warn("ignoring invalid emergency tone setting", "value", toneMode, "error", err)
	}

	hub := events.NewHub(logger)
	registry := telecom.NewRegistry(logger)
	detachHub := hub.Attach(registry)
	defer detachHub()
	unwatch := hub.WatchPhones(phones.Phones())
	defer unwatch()

	recorder := history.NewRecorder(st.records, logger)
	detachRecorder := recorder.Attach(registry)
	defer detachRecorder()
	recorderDone := make(chan struct{})
	go func() {
		recorder.Run(appCtx)
		close(recorderDone)
	}()

	svc := telephony.NewService(telephony.Options{
		Selector:   phones,
		Sequencer:  emergency.NewHelper(cfg.RadioOnTimeout, cfg.RadioOnRetries, logger),
		Classifier: classifier,
		MMI:        hub,
		Tones: func() telephony.TonePlayer {
			if p := tones.New(); p != nil {
				return p
			}
			return nil
		},
		Registry: registry,
		Logger:   logger,
	})

	collector := metrics.NewCollector(registry, phones, hub, time.Now())
	detachMetrics := collector.Attach(registry)
	defer detachMetrics()
	metricsHandler, err := collector.Handler()
	if err != nil {
		return fmt.Errorf("creating metrics handler: %w", err)
	}

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		return err
	}
	if jwtSecret == nil {
		logger.Warn("no jwt secret configured, control API is unauthenticated")
	}

	handler := api.NewServer(api.Options{
		Service:   svc,
		Phones:    phones,
		Settings:  st.settings,
		Operators: st.operators,
		Records:   st.records,
		Events:    hub,
		Metrics:   metricsHandler,
		JWTSecret: jwtSecret,
		RateLimit: middleware.NewRateLimitConfig(cfg.APIRate, cfg.APIBurst),
		OnSettingChanged: func(key, value string) {
			switch key {
			case phonenumber.SettingEmergencyNumbers:
				classifier.SetNumbers(phonenumber.ParseList(value))
			case tone.SettingEmergencyTone:
				if err := tones.SetMode(value); err != nil {
					logger.Warn("ignoring invalid emergency tone setting", "value", value, "error", err)
				}
			}
			hub.Publish(events.TypeSettingChanged, map[string]string{"key": key, "value": value})
		},
		Logger: logger,
	})
	defer handler.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case serveErr = <-errCh:
		logger.Error("http server error", "error", serveErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Event stream clients hold their connections open; Shutdown does not
	// wait for hijacked connections.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	for _, c := range registry.Connections() {
		c.Disconnect()
	}

	appCancel()
	select {
	case <-recorderDone:
	case <-ctx.Done():
		logger.Warn("history recorder did not drain before shutdown deadline")
	}

	logger.Info("telephonyd stopped")
	return serveErr
}

// bootstrapOperator creates the configured operator when no operator
// exists yet.
func bootstrapOperator(ctx context.Context, operators database.OperatorRepository, cfg *config.Config, logger *slog.Logger) error {
	if cfg.OperatorUsername == "" {
		return nil
	}
	n, err := operators.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting operators: %w", err)
	}
	if n > 0 {
		return nil
	}

	hash, err := database.HashPassword(cfg.OperatorPassword)
	if err != nil {
		return fmt.Errorf("hashing operator password: %w", err)
	}
	op := &models.Operator{Username: cfg.OperatorUsername, PasswordHash: hash}
	if err := operators.Create(ctx, op); err != nil {
		return fmt.Errorf("creating operator: %w", err)
	}
	logger.Info("created initial operator", "username", op.Username)
	return nil
}
