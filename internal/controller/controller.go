package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/repository/connection"
	"github.com/sharetube/watchparty/internal/service/room"
	"github.com/sharetube/watchparty/internal/service/telemetry"
	"github.com/sharetube/watchparty/pkg/validator"
	"github.com/sharetube/watchparty/pkg/wsrouter"
	"github.com/sharetube/watchparty/pkg/ytvideodata"
)

type iRoomService interface {
	Join(context.Context, *room.JoinParams) (*room.Session, error)
	Rooms() []string
	Snapshot(context.Context, string) (domain.Snapshot, error)
}

type iConnRepo interface {
	Add(*websocket.Conn, connection.Member) error
	RemoveByConn(*websocket.Conn) error
	RemoveByMember(connection.Member) error
	GetConn(connection.Member) (*websocket.Conn, error)
	Len() int
	All() []*websocket.Conn
}

type iVideoData interface {
	Get(ctx context.Context, videoId string) (*ytvideodata.VideoData, error)
}

type iDriftRepo interface {
	GetRoomReports(ctx context.Context, roomId string) ([]telemetry.Report, error)
}

type Config struct {
	PingInterval   time.Duration
	JoinTimeout    time.Duration
	WriteTimeout   time.Duration
	LookupTimeout  time.Duration
	MaxMessageSize int64
	// MaxViolations is the number of malformed or unknown frames tolerated
	// before the connection is closed with a policy violation.
	MaxViolations int
}

func DefaultConfig() Config {
	return Config{
		PingInterval:   30 * time.Second,
		JoinTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		LookupTimeout:  5 * time.Second,
		MaxMessageSize: 64 << 10,
		MaxViolations:  5,
	}
}

type controller struct {
	roomService iRoomService
	connRepo    iConnRepo
	videoData   iVideoData
	driftRepo   iDriftRepo
	upgrader    websocket.Upgrader
	validate    *validator.Validator
	wsmux       *wsrouter.WSRouter
	logger      *slog.Logger
	config      Config
}

type Option func(*controller)

// WithVideoData enables title lookup for playlist entries sent without one.
func WithVideoData(videoData iVideoData) Option {
	return func(c *controller) {
		c.videoData = videoData
	}
}

func WithDriftRepo(driftRepo iDriftRepo) Option {
	return func(c *controller) {
		c.driftRepo = driftRepo
	}
}

func NewController(roomService iRoomService, connRepo iConnRepo, cfg Config, logger *slog.Logger, opts ...Option) *controller {
	c := &controller{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		roomService: roomService,
		connRepo:    connRepo,
		validate:    validator.NewValidator(),
		logger:      logger,
		config:      cfg,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.wsmux = c.getWSRouter()
	return c
}

// Close sends a going-away frame to every live connection. Hijacked
// connections are not tracked by http.Server.Shutdown.
func (c controller) Close() {
	deadline := time.Now().Add(c.config.WriteTimeout)
	for _, conn := range c.connRepo.All() {
		if err := conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			deadline,
		); err != nil {
			c.logger.Debug("failed to write close frame", "error", err)
		}
		conn.Close()
	}
}
