package room

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/protocol"
)

type subscriber struct {
	userId    string
	outbox    chan []byte
	closeOnce sync.Once
}

func (sub *subscriber) close() {
	sub.closeOnce.Do(func() {
		close(sub.outbox)
	})
}

// authority is the single writer of one room. Every field below inputCh is
// owned by the run goroutine.
type authority struct {
	id      string
	service *Service
	logger  *slog.Logger
	inputCh chan func()
	closeCh chan struct{}

	room        *domain.Room
	subscribers map[string]*subscriber
	chat        []string
	graceTimer  clockwork.Timer
	destroyed   bool
}

func newAuthority(s *Service, roomId string) *authority {
	return &authority{
		id:      roomId,
		service: s,
		logger:  s.logger.With("room_id", roomId),
		inputCh: make(chan func()),
		closeCh: make(chan struct{}),
		room: domain.NewRoom(roomId, domain.Config{
			MembersLimit:  s.config.MembersLimit,
			PlaylistLimit: s.config.PlaylistLimit,
		}),
		subscribers: make(map[string]*subscriber),
	}
}

func (a *authority) run(ctx context.Context) {
	defer close(a.closeCh)
	defer a.closeAll()

	for {
		var graceCh <-chan time.Time
		if a.graceTimer != nil {
			graceCh = a.graceTimer.Chan()
		}

		select {
		case <-ctx.Done():
			a.service.release(a)
			a.logger.Info("room stopped")
			return
		case fn := <-a.inputCh:
			fn()
		case <-graceCh:
			a.graceTimer = nil
			if len(a.subscribers) == 0 {
				a.destroy()
			}
		}

		if a.destroyed {
			return
		}
	}
}

// call runs fn on the authority goroutine and waits for its result.
// Once the authority has accepted fn it always runs it before exiting.
func (a *authority) call(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case a.inputCh <- func() { errCh <- fn() }:
	case <-a.closeCh:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	return <-errCh
}

func (a *authority) destroy() {
	a.service.release(a)
	a.destroyed = true
	a.logger.Info("room destroyed")
}

func (a *authority) closeAll() {
	if a.graceTimer != nil {
		a.graceTimer.Stop()
	}

	for id, sub := range a.subscribers {
		sub.close()
		delete(a.subscribers, id)
	}
}

// onEmpty starts the grace timer or destroys the room right away.
func (a *authority) onEmpty() {
	if a.service.config.GracePeriod <= 0 {
		a.destroy()
		return
	}

	if a.graceTimer == nil {
		a.graceTimer = a.service.clock.NewTimer(a.service.config.GracePeriod)
	}
}

func (a *authority) stopGrace() {
	if a.graceTimer != nil {
		a.graceTimer.Stop()
		a.graceTimer = nil
	}
}

func (a *authority) marshal(messageType string, payload any) ([]byte, error) {
	env, err := protocol.NewEnvelope(messageType, payload)
	if err != nil {
		return nil, err
	}

	return json.Marshal(env)
}

// broadcast marshals once and enqueues to every subscriber. A subscriber
// whose outbox is full is dropped and must resync after reconnecting.
func (a *authority) broadcast(messageType string, payload any) {
	data, err := a.marshal(messageType, payload)
	if err != nil {
		a.logger.Error("failed to marshal broadcast", "type", messageType, "error", err)
		return
	}

	var slow []string
	for userId, sub := range a.subscribers {
		select {
		case sub.outbox <- data:
		default:
			slow = append(slow, userId)
		}
	}

	for _, userId := range slow {
		a.logger.Warn("dropping slow subscriber", "user_id", userId)
		a.removeUser(userId)
	}
}

func (a *authority) unicast(sub *subscriber, messageType string, payload any) {
	data, err := a.marshal(messageType, payload)
	if err != nil {
		a.logger.Error("failed to marshal message", "type", messageType, "error", err)
		return
	}

	select {
	case sub.outbox <- data:
	default:
		a.logger.Warn("dropping slow subscriber", "user_id", sub.userId)
		a.removeUser(sub.userId)
	}
}

func (a *authority) current(sub *subscriber) bool {
	return !a.destroyed && a.subscribers[sub.userId] == sub
}
