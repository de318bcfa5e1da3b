package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sharetube/watchparty/pkg/validator"
)

var ErrMalformedPayload = errors.New("malformed payload")

// client -> authority
const (
	TypeJoin           = "room:join"
	TypeAction         = "player:action"
	TypeNext           = "player:next"
	TypeHeartbeat      = "player:heartbeat"
	TypePlaylistAdd    = "playlist:add"
	TypeSetMode        = "room:mode"
	TypeResync         = "room:resync"
	TypeChatMessage    = "chat:message"
	TypeSuggestRequest = "suggest:request"
)

// authority -> client
const (
	TypeState           = "room:state"
	TypeSync            = "player:sync"
	TypePlaylistUpdated = "playlist:updated"
	TypeMembers         = "room:members"
	TypeModeUpdated     = "room:mode"
	TypeChatBroadcast   = "chat:broadcast"
	TypeSuggestResult   = "suggest:result"
)

type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(messageType string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: messageType}, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", messageType, err)
	}

	return Envelope{Type: messageType, Payload: data}, nil
}

// MustEnvelope is NewEnvelope for payloads that always marshal, such as
// structs of plain fields.
func MustEnvelope(messageType string, payload any) Envelope {
	env, err := NewEnvelope(messageType, payload)
	if err != nil {
		panic(err)
	}

	return env
}

var validate = validator.NewValidator()

// Decode unmarshals the envelope payload into T and validates it.
// Every failure wraps ErrMalformedPayload.
func Decode[T any](env Envelope) (T, error) {
	var payload T
	data := env.Payload
	if len(data) == 0 {
		data = []byte("{}")
	}

	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("%w: %s: %w", ErrMalformedPayload, env.Type, err)
	}

	if err := validate.Struct(payload); err != nil {
		return payload, fmt.Errorf("%w: %s: %w", ErrMalformedPayload, env.Type, err)
	}

	return payload, nil
}
