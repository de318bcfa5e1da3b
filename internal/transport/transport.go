// Package transport carries protocol envelopes between a client and a room
// authority. Messages and connection status changes share one ordered
// stream so a reconnect snapshot is never overtaken by stale messages.
package transport

import (
	"context"
	"errors"

	"github.com/sharetube/watchparty/internal/protocol"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("transport closed")
)

type Status int

const (
	StatusConnected Status = iota + 1
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "message"
	}
}

// Event is either a status change or, when Status is zero, a message.
type Event struct {
	Status  Status
	Message protocol.Envelope
}

func (e Event) IsMessage() bool {
	return e.Status == 0
}

type Transport interface {
	// Events is closed when the transport stops for good.
	Events() <-chan Event
	Send(ctx context.Context, env protocol.Envelope) error
	Close() error
}

// Identity remembers who to rejoin as. It picks up the user id and token
// from every room:state that passes through.
type Identity struct {
	Join protocol.JoinPayload
}

func (i *Identity) Observe(env protocol.Envelope) {
	if env.Type != protocol.TypeState {
		return
	}

	state, err := protocol.Decode[protocol.RoomStatePayload](env)
	if err != nil {
		return
	}

	i.Join.User.Id = state.Self.Id
	if state.Token != "" {
		i.Join.Token = state.Token
	}
}
