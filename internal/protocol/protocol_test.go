package protocol

import (
	"encoding/json"
	"testing"

	"github.com/sharetube/watchparty/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncRoundTrip(t *testing.T) {
	timestamps := []float64{0, 0.1, 98.5, 1234.567891234, 1.0 / 3.0}

	for _, ts := range timestamps {
		env, err := NewEnvelope(TypeSync, SyncPayload{
			Action:    domain.ActionSeek,
			Timestamp: ts,
			VideoId:   "dQw4w9WgXcQ",
			Seq:       7,
		})
		require.NoError(t, err)

		data, err := json.Marshal(env)
		require.NoError(t, err)

		var received Envelope
		require.NoError(t, json.Unmarshal(data, &received))
		assert.Equal(t, TypeSync, received.Type)

		payload, err := Decode[SyncPayload](received)
		require.NoError(t, err)
		assert.Equal(t, domain.ActionSeek, payload.Action)
		assert.Equal(t, ts, payload.Timestamp, "timestamp must survive exactly")
		assert.Equal(t, "dQw4w9WgXcQ", payload.VideoId)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
	}{
		{"bad json", Envelope{Type: TypeAction, Payload: json.RawMessage(`{"action":`)}},
		{"unknown action", Envelope{Type: TypeAction, Payload: json.RawMessage(`{"action":"rewind","timestamp":1}`)}},
		{"wrong type", Envelope{Type: TypeAction, Payload: json.RawMessage(`{"action":"seek","timestamp":"ten"}`)}},
		{"missing name", Envelope{Type: TypeJoin, Payload: json.RawMessage(`{"user":{"id":"u1"}}`)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var err error
			if tc.env.Type == TypeJoin {
				_, err = Decode[JoinPayload](tc.env)
			} else {
				_, err = Decode[ActionPayload](tc.env)
			}
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestDecodeLeavesTimestampRangeToRoom(t *testing.T) {
	payload, err := Decode[ActionPayload](Envelope{
		Type:    TypeAction,
		Payload: json.RawMessage(`{"action":"seek","timestamp":-1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, -1.0, payload.Timestamp)
}

func TestRoomStateFlattensSnapshot(t *testing.T) {
	env := MustEnvelope(TypeState, RoomStatePayload{
		Snapshot: domain.Snapshot{RoomId: "r1", CurrentIndex: -1, Seq: 3},
		Self:     domain.User{Id: "u1", Role: domain.RoleHost},
	})

	var raw map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &raw))
	assert.Equal(t, "r1", raw["roomId"])
	assert.Equal(t, float64(-1), raw["currentIndex"])
	assert.Contains(t, raw, "self")

	payload, err := Decode[RoomStatePayload](env)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), payload.Seq)
	assert.Equal(t, domain.RoleHost, payload.Self.Role)
}
