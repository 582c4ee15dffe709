// Command backend is the main entrypoint for the chatqueue API and background workers.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the message store (Postgres with idempotent migrations, or in-memory).
//   - Starts background jobs: the Twitch chat listener, the single-flight
//     queue poller, and OAuth token refreshers for Twitch/Spotify.
//   - Exposes the HTTP API for the overlay, live chat replies, moderation, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/chatqueue/backend/agent"
	"github.com/onnwee/chatqueue/backend/chat"
	"github.com/onnwee/chatqueue/backend/config"
	"github.com/onnwee/chatqueue/backend/db"
	"github.com/onnwee/chatqueue/backend/dispatch"
	"github.com/onnwee/chatqueue/backend/oauth"
	"github.com/onnwee/chatqueue/backend/openai"
	"github.com/onnwee/chatqueue/backend/overlay"
	"github.com/onnwee/chatqueue/backend/poller"
	"github.com/onnwee/chatqueue/backend/queue"
	"github.com/onnwee/chatqueue/backend/responder"
	"github.com/onnwee/chatqueue/backend/server"
	"github.com/onnwee/chatqueue/backend/spotify"
	"github.com/onnwee/chatqueue/backend/telemetry"
	"github.com/onnwee/chatqueue/backend/theme"
)

var version = "dev"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")
	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		slog.Error("exiting", slog.Any("err", err))
		os.Exit(1)
	}
}

// setupLogging configures level (LOG_LEVEL) and format (LOG_FORMAT). Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

// stores bundles the persistence backends selected by STORE_BACKEND.
type stores struct {
	queue   queue.Store
	overlay overlay.Store
	tokens  oauth.Store
	db      *sql.DB
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreBackend == "memory" {
		slog.Warn("using in-memory store; queue and tokens are lost on restart", slog.String("component", "store"))
		return &stores{
			queue:   queue.NewMemoryStore(),
			overlay: overlay.NewMemoryStore(),
			tokens:  oauth.NewMemoryStore(),
		}, nil
	}
	database, err := db.Connect(ctx, cfg.DBDsn)
	if err != nil {
		return nil, err
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(database); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &stores{
		queue:   queue.NewPGStore(database),
		overlay: overlay.NewPGStore(database),
		tokens:  &db.TokenStore{DB: database},
		db:      database,
	}, nil
}

func run(cfg *config.Config) error {
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing(cfg.OTLPEndpoint, "chatqueue", version)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer func() {
			if err := st.db.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
	}

	ingestor := queue.NewIngestor(st.queue)
	ingestor.ApprovalRequired = cfg.ApprovalSet()
	ingestor.KeepUnknown = cfg.ChatKeepUnknown

	oauthConfigs := map[string]*oauth2.Config{}
	if cfg.TwitchOAuthEnabled() {
		oauthConfigs[oauth.ProviderTwitch] = oauth.NewTwitchConfig(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRedirectURI, cfg.TwitchScopes)
	}
	if cfg.SpotifyEnabled() {
		oauthConfigs[oauth.ProviderSpotify] = oauth.NewSpotifyConfig(cfg.SpotifyClientID, cfg.SpotifyClientSecret, cfg.SpotifyRedirectURI)
	}

	dispatcher := dispatch.New(newAgent(cfg), newTheme(cfg), newMusic(ctx, oauthConfigs, st.tokens))
	job := poller.New(st.queue, dispatcher, cfg.PollInterval, cfg.LeaseTimeout)

	var ai responder.AI
	if cfg.OpenAIAPIKey != "" {
		ai = openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	} else {
		slog.Warn("OPENAI_API_KEY not set; live replies come from the queue only", slog.String("component", "responder"))
	}
	router := responder.New(responder.Config{
		Threshold:     cfg.LiveAIThreshold,
		HistoryLimit:  cfg.HistoryLimit,
		RetryDelay:    cfg.ReplyRetryDelay,
		Timeout:       cfg.ReplyTimeout,
		MaxAIAttempts: cfg.ReplyMaxAIAttempts,
	}, st.queue, ai, overlay.Prompts{Store: st.overlay})

	deps := server.Deps{
		Queue:     st.queue,
		Ingestor:  ingestor,
		Responder: router,
		Overlay:   st.overlay,
		Tokens:    st.tokens,
		OAuth:     oauthConfigs,
		Auth:      server.AuthConfig{Token: cfg.AdminToken, Username: cfg.AdminUsername, Password: cfg.AdminPassword},
	}
	if st.db != nil {
		deps.DB = st.db
	}
	if cfg.ThemeDir != "" {
		deps.Themes = theme.New(cfg.ThemeSettingsPath, cfg.ThemeDir, cfg.ThemeReloadCmd)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return job.Run(gctx) })

	if err := cfg.ValidateChatReady(); err == nil {
		listener := chat.NewListener(cfg.TwitchChannel, cfg.TwitchBotUsername, cfg.TwitchOAuthToken, st.tokens, ingestor, cfg.ChatKeepUnknown)
		g.Go(func() error { return listener.Run(gctx) })
	} else {
		slog.Info("chat listener disabled", slog.Any("reason", err))
	}

	// Centralized OAuth token refreshers
	for provider, oc := range oauthConfigs {
		r := oauth.NewRefresher(st.tokens, provider, 5*time.Minute, 15*time.Minute, oauth.ConfigRefresh(oc))
		g.Go(func() error { return r.Run(gctx) })
	}

	if cfg.EnablePprof {
		g.Go(func() error { return servePprof(gctx) })
	}

	g.Go(func() error {
		return server.Start(gctx, server.NewMux(gctx, deps), cfg.HTTPAddr, cfg.ReplyTimeout+10*time.Second)
	})

	slog.Info("workers started", slog.String("version", version), slog.String("store", cfg.StoreBackend), slog.String("http_addr", cfg.HTTPAddr))
	err = g.Wait()
	slog.Info("shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// The collaborator constructors return nil interfaces when unconfigured so the
// dispatcher reports ErrNotConfigured for that command.

func newAgent(cfg *config.Config) dispatch.Agent {
	if cfg.AgentTmuxTarget == "" {
		slog.Info("agent forwarding disabled (AGENT_TMUX_TARGET empty)")
		return nil
	}
	return agent.NewTmux(cfg.AgentTmuxTarget, cfg.AgentPromptPrefix, cfg.AgentKeyDelay, cfg.AgentResponseWait)
}

func newTheme(cfg *config.Config) dispatch.Theme {
	if cfg.ThemeSettingsPath == "" || cfg.ThemeDir == "" {
		slog.Info("theme switching disabled (THEME_SETTINGS_PATH/THEME_DIR empty)")
		return nil
	}
	return theme.New(cfg.ThemeSettingsPath, cfg.ThemeDir, cfg.ThemeReloadCmd)
}

func newMusic(ctx context.Context, configs map[string]*oauth2.Config, tokens oauth.Store) dispatch.Music {
	oc := configs[oauth.ProviderSpotify]
	if oc == nil {
		slog.Info("spotify disabled (SPOTIFY_CLIENT_ID/SECRET/REDIRECT_URI empty)")
		return nil
	}
	return spotify.New(ctx, oc, tokens)
}

// servePprof exposes /debug/pprof on PPROF_ADDR (default localhost:6060).
func servePprof(ctx context.Context) error {
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
	// Use an http.Server with timeouts to satisfy G114 and avoid DoS risks
	srv := &http.Server{
		Addr:              pprofAddr,
		Handler:           nil, // default mux exposes /debug/pprof
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("pprof server error", slog.Any("err", err))
	}
	return nil
}
