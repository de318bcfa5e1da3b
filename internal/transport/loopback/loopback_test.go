package loopback

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/protocol"
	"github.com/sharetube/watchparty/internal/service/room"
	"github.com/sharetube/watchparty/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransport(t *testing.T, name string) (*Transport, *room.Service) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := room.NewService(room.Config{
		MembersLimit:  domain.DefaultMembersLimit,
		PlaylistLimit: domain.DefaultPlaylistLimit,
		Secret:        "test-secret-key",
		OutboxSize:    64,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	tr := New(svc, "r1", protocol.JoinPayload{User: protocol.JoinUser{Name: name}}, logger)
	t.Cleanup(func() { tr.Close() })

	return tr, svc
}

func nextMessage(t *testing.T, tr *Transport, messageType string) protocol.Envelope {
	t.Helper()

	for {
		select {
		case ev, ok := <-tr.Events():
			require.True(t, ok, "events closed")
			if ev.IsMessage() && ev.Message.Type == messageType {
				return ev.Message
			}
		case <-time.After(2 * time.Second):
			require.FailNow(t, "timed out waiting for "+messageType)
		}
	}
}

func nextStatus(t *testing.T, tr *Transport) transport.Status {
	t.Helper()

	for {
		select {
		case ev, ok := <-tr.Events():
			require.True(t, ok, "events closed")
			if !ev.IsMessage() {
				return ev.Status
			}
		case <-time.After(2 * time.Second):
			require.FailNow(t, "timed out waiting for status")
		}
	}
}

func TestSendAndReceive(t *testing.T) {
	tr, _ := newTestTransport(t, "alice")
	ctx := context.Background()

	assert.ErrorIs(t, tr.Send(ctx, protocol.MustEnvelope(protocol.TypeResync, nil)), transport.ErrNotConnected)

	require.NoError(t, tr.Connect(ctx))
	assert.Equal(t, transport.StatusConnected, nextStatus(t, tr))
	nextMessage(t, tr, protocol.TypeState)

	require.NoError(t, tr.Send(ctx, protocol.MustEnvelope(protocol.TypePlaylistAdd, protocol.PlaylistAddPayload{Id: "abc"})))
	update, err := protocol.Decode[protocol.PlaylistUpdatedPayload](nextMessage(t, tr, protocol.TypePlaylistUpdated))
	require.NoError(t, err)
	require.Len(t, update.Playlist, 1)
	assert.Equal(t, "abc", update.Playlist[0].Title)

	// rejected commands are dropped silently
	require.NoError(t, tr.Send(ctx, protocol.MustEnvelope(protocol.TypeAction, protocol.ActionPayload{
		Action: domain.ActionPlay, VideoId: "abc",
	})))

	require.NoError(t, tr.Send(ctx, protocol.MustEnvelope(protocol.TypeAction, protocol.ActionPayload{
		Action: domain.ActionSetVideo, VideoId: "abc",
	})))
	applied, err := protocol.Decode[protocol.SyncPayload](nextMessage(t, tr, protocol.TypeSync))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSetVideo, applied.Action)

	assert.ErrorIs(t, tr.Send(ctx, protocol.Envelope{Type: "player:teleport"}), ErrUnsupportedType)
}

func TestDropAndReconnect(t *testing.T) {
	tr, svc := newTestTransport(t, "alice")
	ctx := context.Background()

	require.NoError(t, tr.Connect(ctx))
	first, err := protocol.Decode[protocol.RoomStatePayload](nextMessage(t, tr, protocol.TypeState))
	require.NoError(t, err)

	require.NoError(t, tr.Drop(ctx))
	assert.Equal(t, transport.StatusDisconnected, nextStatus(t, tr))

	require.NoError(t, tr.Connect(ctx))
	assert.Equal(t, transport.StatusConnected, nextStatus(t, tr))
	second, err := protocol.Decode[protocol.RoomStatePayload](nextMessage(t, tr, protocol.TypeState))
	require.NoError(t, err)
	assert.Equal(t, first.Self.Id, second.Self.Id)

	require.NoError(t, tr.Close())
	_, ok := <-tr.Events()
	for ok {
		_, ok = <-tr.Events()
	}

	assert.Eventually(t, func() bool {
		_, err := svc.Snapshot(ctx, "r1")
		return err != nil
	}, time.Second, 10*time.Millisecond)
}
