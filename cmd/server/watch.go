package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/watchparty/internal/app"
	"github.com/sharetube/watchparty/internal/client"
	"github.com/sharetube/watchparty/internal/client/simplayer"
	"github.com/sharetube/watchparty/internal/protocol"
	"github.com/sharetube/watchparty/internal/transport/ws"
	"github.com/spf13/cobra"
)

type watchOptions struct {
	server     string
	roomId     string
	name       string
	logLevel   string
	minBackoff time.Duration
	maxBackoff time.Duration
}

var watchOpts watchOptions

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Join a room as a headless viewer and follow its playback",
	Long: `Connects to a running server, joins the room and keeps a simulated
player in sync with it. Chat and playback changes are logged.`,
	RunE: runWatch,
}

func init() {
	fs := watchCmd.Flags()
	fs.StringVar(&watchOpts.server, "server", "ws://localhost:80", "Server base url")
	fs.StringVar(&watchOpts.roomId, "room", "", "Room id to join")
	fs.StringVar(&watchOpts.name, "name", "viewer", "Display name")
	fs.StringVar(&watchOpts.logLevel, "log-level", "INFO", "Logging level")
	fs.DurationVar(&watchOpts.minBackoff, "min-backoff", 500*time.Millisecond, "Initial reconnect delay")
	fs.DurationVar(&watchOpts.maxBackoff, "max-backoff", 30*time.Second, "Maximum reconnect delay")
	watchCmd.MarkFlagRequired("room")
}

func roomUrl(server, roomId string) (string, error) {
	base, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}

	switch base.Scheme {
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", base.Scheme)
	}

	return base.JoinPath("api", "v1", "ws", "room", roomId).String(), nil
}

func logObserver(logger *slog.Logger) func(protocol.Envelope) {
	return func(env protocol.Envelope) {
		switch env.Type {
		case protocol.TypeSync:
			if sync, err := protocol.Decode[protocol.SyncPayload](env); err == nil {
				logger.Info("playback",
					"action", sync.Action,
					"video_id", sync.VideoId,
					"timestamp", sync.Timestamp,
					"seq", sync.Seq,
				)
			}
		case protocol.TypeChatBroadcast:
			if chat, err := protocol.Decode[protocol.ChatBroadcastPayload](env); err == nil {
				logger.Info("chat",
					"from", chat.Message.UserName,
					"type", chat.Message.Type,
					"text", chat.Message.Text,
				)
			}
		case protocol.TypeSuggestResult:
			if result, err := protocol.Decode[protocol.SuggestResultPayload](env); err == nil {
				logger.Info("suggestions", "count", len(result.Suggestions))
			}
		}
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	endpoint, err := roomUrl(watchOpts.server, watchOpts.roomId)
	if err != nil {
		return err
	}

	logger := app.NewLogger(os.Stdout, watchOpts.logLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := ws.DefaultConfig()
	cfg.Url = endpoint
	cfg.Join = protocol.JoinPayload{User: protocol.JoinUser{Name: watchOpts.name}}
	cfg.MinBackoff = watchOpts.minBackoff
	cfg.MaxBackoff = watchOpts.maxBackoff

	t := ws.Dial(ctx, cfg, logger)
	defer t.Close()

	player := simplayer.New(clockwork.NewRealClock())
	engine := client.New(t, player, logger, client.WithObserver(logObserver(logger)))
	player.SetCallbacks(engine.PlayerReady, engine.PlayerStateChanged)

	// The widget reports ready once the engine loop is accepting input.
	go player.Ready()

	logger.Info("watching room", "room_id", watchOpts.roomId, "url", endpoint)
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if err := t.Err(); err != nil {
		return err
	}

	logger.Info("stopped watching")
	return nil
}
