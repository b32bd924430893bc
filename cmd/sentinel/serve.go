package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/sentinelmesh/core/pkg/alerting"
	"github.com/sentinelmesh/core/pkg/api"
	"github.com/sentinelmesh/core/pkg/auth"
	"github.com/sentinelmesh/core/pkg/cache"
	"github.com/sentinelmesh/core/pkg/chain"
	"github.com/sentinelmesh/core/pkg/config"
	"github.com/sentinelmesh/core/pkg/contracts"
	"github.com/sentinelmesh/core/pkg/identity"
	"github.com/sentinelmesh/core/pkg/notify"
	"github.com/sentinelmesh/core/pkg/observability"
	"github.com/sentinelmesh/core/pkg/store"
	"github.com/sentinelmesh/core/pkg/submit"
)

//nolint:gocognit,gocyclo
func runServer(stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	wallet, err := loadOrGenerateWallet(cfg.KeystorePath)
	if err != nil {
		fmt.Fprintf(stderr, "wallet: %v\n", err)
		return 1
	}
	owner := contracts.Address(cfg.OwnerAddress)
	if owner.IsZero() {
		owner = wallet.Address()
	}
	logger.Info("node identity", "address", wallet.Address(), "owner", owner)

	c := chain.New(owner)

	// Chain persistence: replay the journal, then follow new commits.
	if err := ensureDir(cfg.ChainDBPath); err != nil {
		fmt.Fprintf(stderr, "chain store: %v\n", err)
		return 1
	}
	db, err := store.OpenSQLite(cfg.ChainDBPath)
	if err != nil {
		fmt.Fprintf(stderr, "chain store: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()
	chainStore, err := store.NewSQLiteChainStore(db)
	if err != nil {
		fmt.Fprintf(stderr, "chain store: %v\n", err)
		return 1
	}
	entries, err := chainStore.LoadAll(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "chain load: %v\n", err)
		return 1
	}
	if len(entries) > 0 {
		if err := c.Restore(entries); err != nil {
			fmt.Fprintf(stderr, "chain restore: %v\n", err)
			return 1
		}
		logger.Info("chain restored", "entries", len(entries), "head", c.Log().Head())
	} else {
		// Rule defaults are applied at genesis only; a restored chain
		// already carries its rules as RulesUpdated events.
		if cfg.Profile != "" {
			profile, err := config.LoadProfile(cfg.ProfilesDir, cfg.Profile)
			if err != nil {
				fmt.Fprintf(stderr, "profile: %v\n", err)
				return 1
			}
			if err := c.SetGlobalRules(owner, profile.AlertRule()); err != nil {
				fmt.Fprintf(stderr, "profile rules: %v\n", err)
				return 1
			}
			if profile.Rules.CooldownSec > 0 {
				_ = c.SetAlertCooldown(owner, time.Duration(profile.Rules.CooldownSec)*time.Second)
			}
			logger.Info("profile applied", "profile", profile.Code)
		} else if cfg.AlertCooldown != alerting.DefaultCooldown {
			_ = c.SetAlertCooldown(owner, cfg.AlertCooldown)
		}
	}
	c.Subscribe(chainStore.Follow(ctx))

	// Telemetry counters run synchronously; everything with I/O goes
	// through the async fan-out below.
	provider, err := observability.New(ctx, telemetryConfig())
	if err != nil {
		logger.Warn("observability init failed, continuing without", "error", err)
	} else {
		c.Subscribe(provider.ChainSubscriber())
		defer func() { _ = provider.Shutdown(context.Background()) }()
	}

	var sinks []func(chain.Entry)

	// Postgres archive for aggregator nodes.
	if cfg.ArchiveURL != "" {
		adb, err := sql.Open("postgres", cfg.ArchiveURL)
		if err != nil {
			fmt.Fprintf(stderr, "archive: %v\n", err)
			return 1
		}
		defer func() { _ = adb.Close() }()
		if err := adb.PingContext(ctx); err != nil {
			fmt.Fprintf(stderr, "archive ping: %v\n", err)
			return 1
		}
		archive := store.NewPostgresArchive(adb)
		if err := archive.Init(ctx); err != nil {
			fmt.Fprintf(stderr, "archive init: %v\n", err)
			return 1
		}
		sinks = append(sinks, archiveSink(ctx, archive, logger))
		logger.Info("archive connected")
	}

	// Verdict cache, fed from commits so repeat lookups skip the chain.
	var verdicts cache.VerdictCache
	if cfg.RedisAddr != "" {
		verdicts = cache.NewRedisCache(cfg.RedisAddr, os.Getenv("REDIS_PASSWORD"), 0, cache.DefaultTTL)
		logger.Info("redis cache connected", "addr", cfg.RedisAddr)
	} else {
		verdicts = cache.NewMemoryCache(cache.DefaultTTL)
	}
	sinks = append(sinks, cacheSink(ctx, verdicts))

	// Notifications.
	notifier := notify.New(contracts.Severity(strings.ToUpper(cfg.NotifyMinSeverity)), cfg.NotifyPerMinute, logger)
	notifier.AddChannel(notify.NewConsoleChannel(logger))
	if cfg.DiscordWebhookURL != "" {
		notifier.AddChannel(notify.NewDiscordChannel(cfg.DiscordWebhookURL, nil))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifier.AddChannel(notify.NewTelegramChannel(cfg.TelegramBotToken, cfg.TelegramChatID, "", nil))
	}
	sinks = append(sinks, notifySink(ctx, notifier))

	// Upstream relay: durable queue, drained by a background worker.
	if cfg.UpstreamURL != "" {
		if err := ensureDir(cfg.QueueDBPath); err != nil {
			fmt.Fprintf(stderr, "queue store: %v\n", err)
			return 1
		}
		qdb, err := store.OpenSQLite(cfg.QueueDBPath)
		if err != nil {
			fmt.Fprintf(stderr, "queue store: %v\n", err)
			return 1
		}
		defer func() { _ = qdb.Close() }()
		queue, err := submit.New(qdb)
		if err != nil {
			fmt.Fprintf(stderr, "queue: %v\n", err)
			return 1
		}
		queue.Start(ctx, upstreamSubmitter(cfg.UpstreamURL, os.Getenv("UPSTREAM_TOKEN")),
			time.Duration(cfg.SubmitIntervalSec)*time.Second)
		defer queue.Stop()
		sinks = append(sinks, relaySink(ctx, queue, logger))
		logger.Info("upstream relay enabled", "url", cfg.UpstreamURL)
	}

	c.Subscribe(fanOut(ctx, logger, sinks))

	// HTTP surface.
	secret := cfg.JWTSecret
	if secret == "" {
		secret = randomSecret()
		logger.Warn("JWT_SECRET not set; using an ephemeral secret, tokens will not survive restart")
	}
	validator := auth.NewValidator([]byte(secret), cfg.JWTIssuer)
	limiter := auth.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	handler := api.NewServer(c, logger).Handler(validator, limiter)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(stderr, "server: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func telemetryConfig() *observability.Config {
	cfg := observability.DefaultConfig()
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		cfg.Enabled = false
		return cfg
	}
	cfg.OTLPEndpoint = endpoint
	cfg.Insecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		cfg.Environment = env
	}
	return cfg
}

func loadOrGenerateWallet(path string) (*identity.Wallet, error) {
	w, err := identity.Load(path)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	w, err = identity.Generate()
	if err != nil {
		return nil, err
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	if err := w.Save(path); err != nil {
		return nil, err
	}
	return w, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// fanOut decouples slow sinks from the commit path: the subscriber only
// enqueues, a single goroutine dispatches in commit order. The channel is
// bounded; overflow drops the entry for the sinks (the journal itself is
// written synchronously and never drops).
func fanOut(ctx context.Context, logger *slog.Logger, sinks []func(chain.Entry)) chain.Subscriber {
	events := make(chan chain.Entry, 1024)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-events:
				for _, sink := range sinks {
					sink(e)
				}
			}
		}
	}()
	return func(e chain.Entry) {
		select {
		case events <- e:
		default:
			logger.Warn("event fan-out full, dropping", "sequence", e.Sequence, "type", e.Type)
		}
	}
}

func archiveSink(ctx context.Context, archive *store.PostgresArchive, logger *slog.Logger) func(chain.Entry) {
	return func(e chain.Entry) {
		var err error
		switch e.Type {
		case chain.EventDeepfakeDetected:
			var ev chain.DeepfakeDetectedEvent
			if err = json.Unmarshal(e.Payload, &ev); err == nil {
				err = archive.UpsertVideo(ctx, contracts.VideoRecord{
					ContentHash:    ev.ContentHash,
					PerceptualHash: ev.PerceptualHash,
					IsDeepfake:     true,
					ConfidenceBp:   ev.ConfidenceBp,
					FirstSeen:      e.Timestamp,
					LastSeen:       e.Timestamp,
					DetectionCount: 1,
					OriginCountry:  ev.Country,
					FirstSubmitter: ev.Submitter,
				})
			}
		case chain.EventVideoRegistered:
			var ev chain.VideoRegisteredEvent
			if err = json.Unmarshal(e.Payload, &ev); err == nil {
				err = archive.UpsertVideo(ctx, contracts.VideoRecord{
					ContentHash:    ev.ContentHash,
					PerceptualHash: ev.PerceptualHash,
					IsDeepfake:     false,
					ConfidenceBp:   ev.ConfidenceBp,
					FirstSeen:      e.Timestamp,
					LastSeen:       e.Timestamp,
					DetectionCount: 1,
					OriginCountry:  ev.Country,
					FirstSubmitter: ev.Submitter,
				})
			}
		case chain.EventVideoRedetected:
			var ev chain.VideoRedetectedEvent
			if err = json.Unmarshal(e.Payload, &ev); err == nil {
				err = archive.UpsertVideo(ctx, contracts.VideoRecord{
					ContentHash:    ev.ContentHash,
					LastSeen:       e.Timestamp,
					DetectionCount: ev.DetectionCount,
				})
			}
		case chain.EventAlertCreated:
			var ev chain.AlertCreatedEvent
			if err = json.Unmarshal(e.Payload, &ev); err == nil {
				err = archive.InsertAlert(ctx, contracts.Alert{
					ID:             ev.AlertID,
					ContentHash:    ev.ContentHash,
					Type:           ev.Type,
					Severity:       ev.Severity,
					Message:        ev.Message,
					CreatedAt:      e.Timestamp,
					TriggerIPHash:  ev.TriggerIPHash,
					TriggerCountry: ev.TriggerCountry,
				})
			}
		case chain.EventAlertAcknowledged:
			var ev chain.AlertAcknowledgedEvent
			if err = json.Unmarshal(e.Payload, &ev); err == nil {
				err = archive.MarkAlertAcknowledged(ctx, ev.AlertID, ev.By, e.Timestamp)
			}
		default:
			return
		}
		if err != nil {
			logger.Error("archive write failed", "sequence", e.Sequence, "type", e.Type, "error", err)
		}
	}
}

// cacheSink feeds verdicts of both kinds so edge nodes can skip known
// videos without a chain lookup.
func cacheSink(ctx context.Context, verdicts cache.VerdictCache) func(chain.Entry) {
	return func(e chain.Entry) {
		rec := contracts.VideoRecord{
			FirstSeen:      e.Timestamp,
			LastSeen:       e.Timestamp,
			DetectionCount: 1,
		}
		switch e.Type {
		case chain.EventDeepfakeDetected:
			var ev chain.DeepfakeDetectedEvent
			if err := json.Unmarshal(e.Payload, &ev); err != nil {
				return
			}
			rec.ContentHash = ev.ContentHash
			rec.PerceptualHash = ev.PerceptualHash
			rec.IsDeepfake = true
			rec.ConfidenceBp = ev.ConfidenceBp
			rec.OriginCountry = ev.Country
			rec.FirstSubmitter = ev.Submitter
		case chain.EventVideoRegistered:
			var ev chain.VideoRegisteredEvent
			if err := json.Unmarshal(e.Payload, &ev); err != nil {
				return
			}
			rec.ContentHash = ev.ContentHash
			rec.PerceptualHash = ev.PerceptualHash
			rec.ConfidenceBp = ev.ConfidenceBp
			rec.OriginCountry = ev.Country
			rec.FirstSubmitter = ev.Submitter
		default:
			return
		}
		_ = verdicts.PutVerdict(ctx, rec)
	}
}

func notifySink(ctx context.Context, notifier *notify.Notifier) func(chain.Entry) {
	return func(e chain.Entry) {
		if e.Type != chain.EventAlertCreated {
			return
		}
		var ev chain.AlertCreatedEvent
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return
		}
		notifier.Notify(ctx, contracts.Alert{
			ID:             ev.AlertID,
			ContentHash:    ev.ContentHash,
			Type:           ev.Type,
			Severity:       ev.Severity,
			Message:        ev.Message,
			CreatedAt:      e.Timestamp,
			TriggerIPHash:  ev.TriggerIPHash,
			TriggerCountry: ev.TriggerCountry,
		})
	}
}

// relaySink queues detections and sightings for the upstream aggregator.
func relaySink(ctx context.Context, queue *submit.Queue, logger *slog.Logger) func(chain.Entry) {
	return func(e chain.Entry) {
		var kind string
		switch e.Type {
		case chain.EventDeepfakeDetected, chain.EventVideoRegistered:
			kind = "detection"
		case chain.EventSpreadRecorded:
			kind = "sighting"
		default:
			return
		}
		if _, err := queue.Enqueue(ctx, kind, json.RawMessage(e.Payload)); err != nil {
			logger.Error("relay enqueue failed", "sequence", e.Sequence, "error", err)
		}
	}
}

// upstreamSubmitter posts queued payloads to the aggregator's API.
func upstreamSubmitter(baseURL, token string) submit.Submitter {
	client := &http.Client{Timeout: 30 * time.Second}
	return func(ctx context.Context, kind string, payload []byte) error {
		var path string
		switch kind {
		case "detection":
			path = "/api/detections"
		case "sighting":
			path = "/api/sightings"
		default:
			return fmt.Errorf("unknown submission kind %q", kind)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, strings.NewReader(string(payload)))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("upstream returned %d", resp.StatusCode)
		}
		return nil
	}
}
