// Command streamwarden is the main entrypoint for the chat bot service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Builds the platform connector factory (Twitch IRC, Kick, YouTube)
//     and the session registry.
//   - Starts background credential refreshers for Twitch and YouTube.
//   - Exposes an HTTP server with /healthz, /readyz, /status, /metrics,
//     and session control endpoints.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/joho/godotenv"

	"github.com/quenby/streamwarden/bot"
	"github.com/quenby/streamwarden/config"
	"github.com/quenby/streamwarden/credrefresh"
	"github.com/quenby/streamwarden/crypto"
	"github.com/quenby/streamwarden/db"
	"github.com/quenby/streamwarden/generator"
	"github.com/quenby/streamwarden/kickchat"
	"github.com/quenby/streamwarden/platform"
	"github.com/quenby/streamwarden/retention"
	"github.com/quenby/streamwarden/server"
	"github.com/quenby/streamwarden/telemetry"
	"github.com/quenby/streamwarden/twitchapi"
	"github.com/quenby/streamwarden/twitchchat"
	"github.com/quenby/streamwarden/ytchat"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("streamwarden", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first; fall back to the embedded SQL for
	// deployments that don't ship the migrations directory.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
	}

	// Credential sealing
	var sealer crypto.Sealer
	if cfg.EncryptionKey != "" {
		sealer, err = crypto.NewAESSealer(cfg.EncryptionKey)
		if err != nil {
			slog.Error("invalid ENCRYPTION_KEY", slog.Any("err", err))
			os.Exit(1)
		}
	} else {
		slog.Warn("ENCRYPTION_KEY not set - stored tokens will not be sealed")
	}

	store := db.NewStore(database, sealer)

	if err := cfg.ValidateGenerator(); err != nil {
		slog.Error("generator config invalid", slog.Any("err", err))
		os.Exit(1)
	}
	gen := generator.New(cfg.GeneratorBaseURL, cfg.GeneratorAPIKey, cfg.GeneratorModel)

	// Helix client for Twitch liveness checks, using app credentials.
	var helix *twitchapi.HelixClient
	if err := cfg.ValidateTwitchApp(); err == nil {
		helix = &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			ClientID:       cfg.TwitchClientID,
		}
	} else {
		slog.Warn("twitch app credentials missing - liveness checks disabled", slog.Any("err", err))
	}

	ytOAuth := ytchat.NewOAuthService(cfg.YTClientID, cfg.YTClientSecret, cfg.YTRedirectURI, store)

	factory := connectorFactory(cfg, sealer, helix, ytOAuth)

	registry := bot.NewRegistry(store, gen, factory, eventLogger, bot.Options{
		MaxSendDelay:       cfg.MaxSendDelay,
		ReconnectMaxTries:  cfg.ReconnectMaxTries,
		ViewerPollInterval: cfg.ViewerPollInterval,
		HeartbeatInterval:  cfg.HeartbeatInterval,
	})

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startRefreshers(ctx, cfg, store)
	go retention.StartJob(ctx, database)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		startPprof()
	}

	handlers := server.NewHandlers(database, registry, store)
	go func() {
		if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	registry.StopAll()
}

// setupLogging configures slog level and format from LOG_LEVEL/LOG_FORMAT.
// Defaults: level=info, format=text.
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
		// keep default
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
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))
}

// connectorFactory builds platform connectors from stored connections.
func connectorFactory(cfg *config.Config, sealer crypto.Sealer, helix *twitchapi.HelixClient, ytOAuth *ytchat.OAuthService) bot.ConnectorFactory {
	return func(conn *bot.PlatformConnection, botCfg *bot.BotConfig) (platform.Connector, error) {
		channel := conn.ChannelID
		if channel == "" {
			channel = botCfg.StreamerName
		}
		switch conn.Platform {
		case platform.Twitch:
			return twitchchat.New(channel, conn.Credentials(), sealer, helix), nil
		case platform.Kick:
			return kickchat.New(channel, conn.Credentials(), sealer, cfg.KickAPIBase, cfg.KickPusherURL)
		case platform.YouTube:
			return ytchat.New(conn.ChannelID, ytOAuth), nil
		default:
			return nil, fmt.Errorf("unsupported platform %q", conn.Platform)
		}
	}
}

// eventLogger surfaces session events into the service log.
func eventLogger(ev bot.Event) {
	slog.Info("session event",
		slog.String("type", string(ev.Type)),
		slog.String("user_id", ev.UserID),
		slog.String("platform", string(ev.Platform)),
		slog.Any("data", ev.Data),
		slog.String("component", "bot"))
}

// startRefreshers launches background token refresh for Twitch and YouTube
// platform connections.
func startRefreshers(ctx context.Context, cfg *config.Config, store *db.Store) {
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		credrefresh.StartRefresher(ctx, store, platform.Twitch, 5*time.Minute, 15*time.Minute,
			func(rctx context.Context, refreshToken string) (string, string, time.Time, error) {
				res, err := twitchapi.RefreshToken(rctx, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
				if err != nil {
					return "", "", time.Time{}, err
				}
				return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), nil
			})
	}
	if cfg.YTClientID != "" && cfg.YTClientSecret != "" {
		oc := &oauth2.Config{
			ClientID:     cfg.YTClientID,
			ClientSecret: cfg.YTClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  cfg.YTRedirectURI,
		}
		credrefresh.StartRefresher(ctx, store, platform.YouTube, 10*time.Minute, 20*time.Minute,
			func(rctx context.Context, refreshToken string) (string, string, time.Time, error) {
				newTok, err := oc.TokenSource(rctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
				if err != nil {
					return "", "", time.Time{}, err
				}
				return newTok.AccessToken, newTok.RefreshToken, newTok.Expiry, nil
			})
	}
}

// startPprof serves net/http/pprof on a loopback port.
func startPprof() {
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
		srv := &http.Server{
			Addr:              pprofAddr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
