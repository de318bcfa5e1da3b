// Package ws is the websocket client transport. It reconnects with
// exponential backoff and rejoins the room after every connect; the
// room:state reply supersedes anything missed while disconnected.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/sharetube/watchparty/internal/protocol"
	"github.com/sharetube/watchparty/internal/transport"
)

// ErrJoinRefused is reported when the server closes the connection with a
// code that retrying cannot fix.
var ErrJoinRefused = errors.New("join refused")

const (
	closeCodeJoinRefused = 4001
	eventsBufferSize     = 256
)

type Config struct {
	// Url is the room endpoint, e.g. ws://host/api/v1/ws/room/<id>.
	Url          string
	Join         protocol.JoinPayload
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	WriteTimeout time.Duration
	// ReadTimeout must exceed the server ping interval.
	ReadTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinBackoff:   500 * time.Millisecond,
		MaxBackoff:   30 * time.Second,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  75 * time.Second,
	}
}

type Transport struct {
	cfg    Config
	clock  clockwork.Clock
	dialer *websocket.Dialer
	logger *slog.Logger
	events chan transport.Event

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	writeMu  sync.Mutex
	conn     *websocket.Conn
	identity transport.Identity
	err      error
}

type Option func(*Transport)

func WithClock(clock clockwork.Clock) Option {
	return func(t *Transport) {
		t.clock = clock
	}
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(t *Transport) {
		t.dialer = dialer
	}
}

// Dial starts the connect loop and returns immediately. Progress is
// reported through Events.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger, opts ...Option) *Transport {
	defaults := DefaultConfig()
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = defaults.MinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = max(defaults.MaxBackoff, cfg.MinBackoff)
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &Transport{
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		dialer:   websocket.DefaultDialer,
		logger:   logger.With("url", cfg.Url),
		events:   make(chan transport.Event, eventsBufferSize),
		cancel:   cancel,
		identity: transport.Identity{Join: cfg.Join},
	}

	for _, opt := range opts {
		opt(t)
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(ctx)
	}()

	return t
}

func (t *Transport) run(ctx context.Context) {
	defer close(t.events)

	backoff := t.cfg.MinBackoff
	for {
		conn, err := t.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			t.logger.Info("failed to connect", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-t.clock.After(backoff):
			}

			backoff = min(backoff*2, t.cfg.MaxBackoff)
			continue
		}
		backoff = t.cfg.MinBackoff

		t.setConn(conn)
		if !t.emit(ctx, transport.Event{Status: transport.StatusConnected}) {
			conn.Close()
			return
		}

		err = t.readLoop(ctx, conn)
		t.setConn(nil)
		conn.Close()

		if !t.emit(ctx, transport.Event{Status: transport.StatusDisconnected}) {
			return
		}

		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) && permanent(closeErr.Code) {
			t.mu.Lock()
			t.err = fmt.Errorf("%w: %s", ErrJoinRefused, closeErr.Text)
			t.mu.Unlock()
			t.logger.Error("connection closed permanently", "code", closeErr.Code, "reason", closeErr.Text)
			return
		}

		t.logger.Info("disconnected", "error", err)
	}
}

func permanent(code int) bool {
	return code == closeCodeJoinRefused || code == websocket.ClosePolicyViolation
}

// connect dials and sends room:join with the remembered identity.
func (t *Transport) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := t.dialer.DialContext(ctx, t.cfg.Url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	t.mu.Lock()
	join := t.identity.Join
	t.mu.Unlock()

	if err := t.write(conn, protocol.MustEnvelope(protocol.TypeJoin, join)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send join: %w", err)
	}

	return conn, nil
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) error {
	extend := func() error {
		return conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
	}
	if err := extend(); err != nil {
		return err
	}

	conn.SetPingHandler(func(appData string) error {
		if err := extend(); err != nil {
			return err
		}

		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(t.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		if err := extend(); err != nil {
			return err
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.logger.Warn("failed to unmarshal message", "error", err)
			continue
		}

		t.mu.Lock()
		t.identity.Observe(env)
		t.mu.Unlock()

		if !t.emit(ctx, transport.Event{Message: env}) {
			return ctx.Err()
		}
	}
}

func (t *Transport) emit(ctx context.Context, ev transport.Event) bool {
	select {
	case t.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *Transport) setConn(conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn = conn
}

func (t *Transport) write(conn *websocket.Conn, env protocol.Envelope) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout)); err != nil {
		return err
	}

	return conn.WriteJSON(env)
}

func (t *Transport) Events() <-chan transport.Event {
	return t.events
}

func (t *Transport) Send(_ context.Context, env protocol.Envelope) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return transport.ErrNotConnected
	}

	if err := t.write(conn, env); err != nil {
		return fmt.Errorf("failed to send %s: %w", env.Type, err)
	}

	return nil
}

// Err reports why the transport stopped on its own, if it did.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		t.writeMu.Lock()
		err := conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(t.cfg.WriteTimeout),
		)
		t.writeMu.Unlock()
		if err != nil {
			t.logger.Debug("failed to write close frame", "error", err)
		}
	}

	t.cancel()
	t.wg.Wait()
	return nil
}
