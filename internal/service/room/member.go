package room

import (
	"context"
	"fmt"

	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/protocol"
)

func (a *authority) join(ctx context.Context, params *JoinParams) (*Session, error) {
	var session *Session
	err := a.call(ctx, func() error {
		if _, _, err := a.room.Users.GetById(params.UserId); err == nil {
			var err error
			session, err = a.takeover(params)
			return err
		}

		user, err := a.room.AddUser(domain.User{
			Id:       params.UserId,
			Name:     params.Username,
			JoinedAt: a.service.clock.Now(),
		})
		if err != nil {
			return fmt.Errorf("failed to add user: %w", err)
		}

		token, err := a.service.generateJWT(a.id, user.Id)
		if err != nil {
			a.room.RemoveUser(user.Id)
			return fmt.Errorf("failed to generate token: %w", err)
		}

		sub := a.subscribe(user.Id)
		session = newSession(a, sub, token)
		a.logger.InfoContext(ctx, "user joined", "user_id", user.Id, "role", user.Role)

		a.sendState(sub, token)
		a.broadcastMembers()
		return nil
	})
	if err != nil {
		return nil, err
	}

	return session, nil
}

// takeover hands a present user's identity to a new connection. The stale
// outbox is closed so its writer shuts down.
func (a *authority) takeover(params *JoinParams) (*Session, error) {
	if params.Token == "" {
		return nil, ErrUserExists
	}

	claims, err := a.service.parseJWT(params.Token)
	if err != nil {
		return nil, err
	}

	if claims.RoomId != a.id || claims.UserId != params.UserId {
		return nil, ErrInvalidToken
	}

	if old, ok := a.subscribers[params.UserId]; ok {
		old.close()
	}

	sub := a.subscribe(params.UserId)
	a.logger.Info("user reconnected", "user_id", params.UserId)
	a.sendState(sub, params.Token)

	return newSession(a, sub, params.Token), nil
}

func (a *authority) subscribe(userId string) *subscriber {
	sub := &subscriber{
		userId: userId,
		outbox: make(chan []byte, a.service.config.OutboxSize),
	}
	a.subscribers[userId] = sub
	a.stopGrace()

	return sub
}

// removeUser closes the user's outbox and removes them from the room,
// promoting a new host when needed.
func (a *authority) removeUser(userId string) {
	if sub, ok := a.subscribers[userId]; ok {
		sub.close()
		delete(a.subscribers, userId)
	}

	removed, promoted, err := a.room.RemoveUser(userId)
	if err != nil {
		return
	}
	a.logger.Info("user left", "user_id", removed.Id)

	if a.room.Users.Length() == 0 {
		a.onEmpty()
		return
	}

	if promoted != nil {
		a.logger.Info("host promoted", "user_id", promoted.Id)
	}

	a.broadcastMembers()
}

func (a *authority) sendState(sub *subscriber, token string) {
	self, _, _ := a.room.Users.GetById(sub.userId)
	a.unicast(sub, protocol.TypeState, protocol.RoomStatePayload{
		Snapshot: a.room.Snapshot(a.service.clock.Now()),
		Self:     self,
		Token:    token,
	})
}

func (a *authority) broadcastMembers() {
	a.broadcast(protocol.TypeMembers, protocol.MembersPayload{
		Users: a.room.Users.AsList(),
	})
}
