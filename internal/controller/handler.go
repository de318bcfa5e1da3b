package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sharetube/watchparty/internal/protocol"
	"github.com/sharetube/watchparty/internal/repository/connection"
	"github.com/sharetube/watchparty/internal/service/room"
	"github.com/sharetube/watchparty/pkg/ctxlogger"
	"github.com/sharetube/watchparty/pkg/wsrouter"
)

// maxCloseReason is the largest reason a close frame can carry.
const maxCloseReason = 123

// joinRoom upgrades the request and serves one room session. The first
// frame must be room:join; everything after it goes through the ws router.
func (c controller) joinRoom(w http.ResponseWriter, r *http.Request) {
	roomId := chi.URLParam(r, "room-id")
	ctx := ctxlogger.AppendCtx(r.Context(), slog.String("room_id", roomId))

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(c.config.MaxMessageSize)

	input, err := c.readJoin(conn)
	if err != nil {
		c.logger.DebugContext(ctx, "failed to read join message", "error", err)
		c.closeConn(conn, websocket.ClosePolicyViolation, err.Error())
		return
	}

	session, err := c.roomService.Join(ctx, &room.JoinParams{
		RoomId:   roomId,
		UserId:   input.User.Id,
		Username: input.User.Name,
		Token:    input.Token,
	})
	if err != nil {
		c.logger.InfoContext(ctx, "join refused", "error", err)
		c.closeConn(conn, closeCodeJoinRefused, err.Error())
		return
	}
	ctx = ctxlogger.AppendCtx(ctx, slog.String("user_id", session.UserId))

	c.register(ctx, conn, connection.Member{RoomId: roomId, UserId: session.UserId})
	defer func() {
		if err := c.connRepo.RemoveByConn(conn); err != nil && !errors.Is(err, connection.ErrNotFound) {
			c.logger.WarnContext(ctx, "failed to remove connection", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.WithValue(ctx, sessionCtxKey, session))
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump(ctx, conn, session)
	}()

	c.readPump(ctx, conn)
	cancel()

	if err := session.Leave(context.Background()); err != nil {
		c.logger.WarnContext(ctx, "failed to leave room", "error", err)
	}
	conn.Close()
	<-done

	c.logger.InfoContext(ctx, "connection closed")
}

func (c controller) readJoin(conn *websocket.Conn) (protocol.JoinPayload, error) {
	if err := conn.SetReadDeadline(time.Now().Add(c.config.JoinTimeout)); err != nil {
		return protocol.JoinPayload{}, err
	}
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return protocol.JoinPayload{}, fmt.Errorf("failed to read message: %w", err)
	}

	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return protocol.JoinPayload{}, fmt.Errorf("%w: %w", protocol.ErrMalformedPayload, err)
	}

	if env.Type != protocol.TypeJoin {
		return protocol.JoinPayload{}, ErrJoinExpected
	}

	return protocol.Decode[protocol.JoinPayload](env)
}

// register stores the connection, replacing the connection of a user that
// reconnected with a valid token.
func (c controller) register(ctx context.Context, conn *websocket.Conn, member connection.Member) {
	if old, err := c.connRepo.GetConn(member); err == nil {
		c.logger.InfoContext(ctx, "replacing connection")
		c.closeConn(old, closeCodeReplaced, "replaced by a new connection")
		if err := c.connRepo.RemoveByMember(member); err != nil && !errors.Is(err, connection.ErrNotFound) {
			c.logger.WarnContext(ctx, "failed to remove replaced connection", "error", err)
		}
	}

	if err := c.connRepo.Add(conn, member); err != nil {
		c.logger.WarnContext(ctx, "failed to add connection", "error", err)
	}
}

// writePump is the only writer of data frames. It exits when the session
// outbox closes or the reader is gone.
func (c controller) writePump(ctx context.Context, conn *websocket.Conn, session *room.Session) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	outbox := session.Outbox()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-outbox:
			if !ok {
				c.closeConn(conn, closeCodeSessionEnded, "session ended")
				conn.Close()
				return
			}

			if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
				conn.Close()
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.DebugContext(ctx, "failed to write message", "error", err)
				conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout)); err != nil {
				c.logger.DebugContext(ctx, "failed to write ping", "error", err)
				conn.Close()
				return
			}
		}
	}
}

func (c controller) readPump(ctx context.Context, conn *websocket.Conn) {
	pongWait := 2 * c.config.PingInterval
	extend := func() error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	}

	if err := extend(); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return extend()
	})

	violations := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.DebugContext(ctx, "unexpected close", "error", err)
			}
			return
		}

		if err := extend(); err != nil {
			return
		}

		err = c.wsmux.Route(ctx, conn, data)
		switch {
		case err == nil:
		case errors.Is(err, wsrouter.ErrMalformedMessage), errors.Is(err, wsrouter.ErrUnknownType):
			violations++
			c.logger.InfoContext(ctx, "invalid message", "error", err, "violations", violations)
			if violations >= c.config.MaxViolations {
				c.closeConn(conn, websocket.ClosePolicyViolation, "too many invalid messages")
				return
			}
		case errors.Is(err, room.ErrCommandRejected):
		case errors.Is(err, room.ErrSessionClosed), errors.Is(err, room.ErrRoomClosed):
			return
		default:
			c.logger.WarnContext(ctx, "failed to handle message", "error", err)
		}
	}
}

func (c controller) closeConn(conn *websocket.Conn, code int, reason string) {
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}

	if err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(c.config.WriteTimeout),
	); err != nil {
		c.logger.Debug("failed to write close frame", "error", err)
	}
}
