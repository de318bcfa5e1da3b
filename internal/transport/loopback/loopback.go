// Package loopback binds a client directly to an in-process room service.
package loopback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sharetube/watchparty/internal/protocol"
	"github.com/sharetube/watchparty/internal/service/room"
	"github.com/sharetube/watchparty/internal/transport"
)

var ErrUnsupportedType = errors.New("unsupported message type")

const eventsBufferSize = 256

type Transport struct {
	service *room.Service
	roomId  string
	logger  *slog.Logger
	events  chan transport.Event
	done    chan struct{}
	wg      sync.WaitGroup

	mu       sync.Mutex
	identity transport.Identity
	session  *room.Session
	closed   bool
}

func New(service *room.Service, roomId string, join protocol.JoinPayload, logger *slog.Logger) *Transport {
	return &Transport{
		service:  service,
		roomId:   roomId,
		logger:   logger.With("room_id", roomId),
		events:   make(chan transport.Event, eventsBufferSize),
		done:     make(chan struct{}),
		identity: transport.Identity{Join: join},
	}
}

// Connect joins the room with the remembered identity. It is also how a
// test reconnects after Drop.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return transport.ErrClosed
	}

	if t.session != nil {
		return nil
	}

	session, err := t.service.Join(ctx, &room.JoinParams{
		RoomId:   t.roomId,
		UserId:   t.identity.Join.User.Id,
		Username: t.identity.Join.User.Name,
		Token:    t.identity.Join.Token,
	})
	if err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}
	t.session = session

	select {
	case t.events <- transport.Event{Status: transport.StatusConnected}:
	case <-t.done:
	}

	t.wg.Add(1)
	go t.pump(session)

	return nil
}

// Drop leaves the room as an abrupt disconnect would.
func (t *Transport) Drop(ctx context.Context) error {
	t.mu.Lock()
	session := t.session
	t.mu.Unlock()

	if session == nil {
		return transport.ErrNotConnected
	}

	return session.Leave(ctx)
}

func (t *Transport) pump(session *room.Session) {
	defer t.wg.Done()

	for data := range session.Outbox() {
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.logger.Warn("failed to unmarshal message", "error", err)
			continue
		}

		t.mu.Lock()
		t.identity.Observe(env)
		t.mu.Unlock()

		select {
		case t.events <- transport.Event{Message: env}:
		case <-t.done:
			return
		}
	}

	t.mu.Lock()
	if t.session == session {
		t.session = nil
	}
	t.mu.Unlock()

	select {
	case t.events <- transport.Event{Status: transport.StatusDisconnected}:
	case <-t.done:
	}
}

func (t *Transport) Events() <-chan transport.Event {
	return t.events
}

// Send dispatches an envelope to the session. Rejected commands are dropped
// as they would be over the wire.
func (t *Transport) Send(ctx context.Context, env protocol.Envelope) error {
	t.mu.Lock()
	session := t.session
	t.mu.Unlock()

	if session == nil {
		return transport.ErrNotConnected
	}

	err := dispatch(ctx, session, env)
	if errors.Is(err, room.ErrCommandRejected) {
		return nil
	}

	return err
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	session := t.session
	t.mu.Unlock()

	close(t.done)
	if session != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := session.Leave(ctx); err != nil {
			t.logger.Warn("failed to leave room", "error", err)
		}
	}

	t.wg.Wait()
	close(t.events)
	return nil
}

func handle[T any](env protocol.Envelope, fn func(T) error) error {
	payload, err := protocol.Decode[T](env)
	if err != nil {
		return err
	}

	return fn(payload)
}

func dispatch(ctx context.Context, session *room.Session, env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeAction:
		return handle(env, func(p protocol.ActionPayload) error {
			var sentAt time.Time
			if p.SentAt > 0 {
				sentAt = time.UnixMilli(p.SentAt)
			}
			return session.Command(ctx, &room.CommandParams{
				Action:    p.Action,
				Timestamp: p.Timestamp,
				VideoId:   p.VideoId,
				SentAt:    sentAt,
			})
		})
	case protocol.TypeNext:
		return session.Advance(ctx)
	case protocol.TypeHeartbeat:
		return handle(env, func(p protocol.HeartbeatPayload) error {
			return session.Heartbeat(ctx, p.VideoId, p.Position)
		})
	case protocol.TypePlaylistAdd:
		return handle(env, func(p protocol.PlaylistAddPayload) error {
			video := p.Video()
			if video.Title == "" {
				video.Title = video.Id
			}
			return session.AddVideo(ctx, video)
		})
	case protocol.TypeSetMode:
		return handle(env, func(p protocol.ModePayload) error {
			return session.SetMode(ctx, p.Mode)
		})
	case protocol.TypeResync:
		return session.Resync(ctx)
	case protocol.TypeChatMessage:
		return handle(env, func(p protocol.ChatPayload) error {
			return session.Chat(ctx, p.Text, protocol.ChatUser)
		})
	case protocol.TypeSuggestRequest:
		_, err := session.Suggest(ctx)
		return err
	case protocol.TypeJoin:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}
