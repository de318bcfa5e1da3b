package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/sharetube/watchparty/internal/controller"
	"github.com/sharetube/watchparty/internal/repository/connection/inmemory"
	telemetryNats "github.com/sharetube/watchparty/internal/repository/telemetry/nats"
	telemetryRedis "github.com/sharetube/watchparty/internal/repository/telemetry/redis"
	"github.com/sharetube/watchparty/internal/service/room"
	"github.com/sharetube/watchparty/internal/service/telemetry"
	"github.com/sharetube/watchparty/internal/suggest"
	"github.com/sharetube/watchparty/pkg/ctxlogger"
	"github.com/sharetube/watchparty/pkg/redisclient"
	"github.com/sharetube/watchparty/pkg/ytvideodata"
)

const shutdownTimeout = 30 * time.Second

type AppConfig struct {
	Secret         string        `json:"-"`
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	LogLevel       string        `json:"log_level"`
	MembersLimit   int           `json:"members_limit"`
	PlaylistLimit  int           `json:"playlist_limit"`
	GracePeriod    time.Duration `json:"grace_period"`
	PingInterval   time.Duration `json:"ping_interval"`
	OutboxSize     int           `json:"outbox_size"`
	MaxViolations  int           `json:"max_violations"`
	VideoLookup    bool          `json:"video_lookup"`
	RedisHost      string        `json:"redis_host"`
	RedisPort      int           `json:"redis_port"`
	RedisPassword  string        `json:"-"`
	DriftTTL       time.Duration `json:"drift_ttl"`
	NatsUrl        string        `json:"nats_url"`
	NatsSubject    string        `json:"nats_subject"`
	SuggestUrl     string        `json:"suggest_url"`
	SuggestApiKey  string        `json:"-"`
	SuggestTimeout time.Duration `json:"suggest_timeout"`
}

func (cfg AppConfig) Validate() error {
	return validation.ValidateStruct(&cfg,
		validation.Field(&cfg.Secret, validation.Required, validation.Length(8, 0)),
		validation.Field(&cfg.Host, validation.Required),
		validation.Field(&cfg.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&cfg.LogLevel, validation.Required, validation.By(validLogLevel)),
		validation.Field(&cfg.MembersLimit, validation.Required, validation.Min(1)),
		validation.Field(&cfg.PlaylistLimit, validation.Required, validation.Min(1)),
		validation.Field(&cfg.GracePeriod, validation.Min(time.Duration(0))),
		validation.Field(&cfg.PingInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&cfg.OutboxSize, validation.Required, validation.Min(2)),
		validation.Field(&cfg.MaxViolations, validation.Required, validation.Min(1)),
		validation.Field(&cfg.RedisPort, validation.When(cfg.RedisHost != "",
			validation.Required, validation.Min(1), validation.Max(65535))),
		validation.Field(&cfg.DriftTTL, validation.When(cfg.RedisHost != "",
			validation.Required, validation.Min(time.Second))),
		validation.Field(&cfg.SuggestUrl, is.URL),
		validation.Field(&cfg.SuggestTimeout, validation.When(cfg.SuggestUrl != "",
			validation.Required, validation.Min(100*time.Millisecond))),
	)
}

func validLogLevel(value any) error {
	s, _ := value.(string)
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return errors.New("must be one of DEBUG, INFO, WARN, ERROR")
	}

	return nil
}

func NewLogger(w io.Writer, logLevel string) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(strings.ToUpper(logLevel))); err != nil {
		level = slog.LevelInfo
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     level,
			AddSource: true,
		}),
	}

	return slog.New(&h)
}

// App is the wired server: room service, telemetry and the HTTP surface.
type App struct {
	handler    http.Handler
	controller interface{ Close() }
	closers    []func()
}

func New(ctx context.Context, cfg *AppConfig, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{}
	var (
		sinks          []telemetry.Sink
		controllerOpts []controller.Option
	)

	if cfg.RedisHost != "" {
		rc, err := redisclient.NewRedisClient(ctx, &redisclient.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		a.closers = append(a.closers, func() { rc.Close() })

		driftRepo := telemetryRedis.NewRepo(rc, cfg.DriftTTL, logger)
		sinks = append(sinks, driftRepo)
		controllerOpts = append(controllerOpts, controller.WithDriftRepo(driftRepo))
	}

	if cfg.NatsUrl != "" {
		nc, err := telemetryNats.Connect(cfg.NatsUrl, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, nc.Close)

		sinks = append(sinks, telemetryNats.NewPublisher(nc, cfg.NatsSubject))
	}

	recorder := telemetry.NewRecorder(telemetry.DefaultConfig(), logger, sinks...)
	if err := recorder.Start(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to start telemetry recorder: %w", err)
	}
	a.closers = append(a.closers, recorder.Stop)

	roomOpts := []room.Option{room.WithTelemetry(recorder)}
	if cfg.SuggestUrl != "" {
		suggester := suggest.NewHTTPSuggester(cfg.SuggestUrl, cfg.SuggestApiKey, cfg.SuggestTimeout)
		roomOpts = append(roomOpts, room.WithSuggester(suggest.NewService(suggester, cfg.SuggestTimeout, logger)))
	}

	roomService, err := room.NewService(room.Config{
		MembersLimit:  cfg.MembersLimit,
		PlaylistLimit: cfg.PlaylistLimit,
		Secret:        cfg.Secret,
		GracePeriod:   cfg.GracePeriod,
		OutboxSize:    cfg.OutboxSize,
	}, logger, roomOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, roomService.Close)

	if cfg.VideoLookup {
		controllerOpts = append(controllerOpts, controller.WithVideoData(ytvideodata.New(ytvideodata.Config{})))
	}

	controllerCfg := controller.DefaultConfig()
	controllerCfg.PingInterval = cfg.PingInterval
	controllerCfg.MaxViolations = cfg.MaxViolations

	ctrl := controller.NewController(roomService, inmemory.NewRepo(logger), controllerCfg, logger, controllerOpts...)
	a.handler = ctrl.GetMux()
	a.controller = ctrl

	return a, nil
}

func (a *App) Handler() http.Handler {
	return a.handler
}

// Close releases resources in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func Run(ctx context.Context, cfg *AppConfig) error {
	logger := NewLogger(os.Stdout, cfg.LogLevel)

	a, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: a.Handler()}

	// graceful shutdown
	serverCtx, serverStopCtx := context.WithCancel(ctx)
	defer serverStopCtx()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	go func() {
		<-sigCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		a.controller.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down server", "error", err)
		}
		serverStopCtx()
	}()

	logger.InfoContext(ctx, "starting server", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	<-serverCtx.Done()
	logger.Info("server stopped")

	return nil
}
