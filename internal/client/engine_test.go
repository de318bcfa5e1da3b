package client

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/watchparty/internal/client/simplayer"
	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/protocol"
	"github.com/sharetube/watchparty/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	events chan transport.Event

	mu   sync.Mutex
	sent []protocol.Envelope
}

func (f *fakeTransport) Events() <-chan transport.Event {
	return f.events
}

func (f *fakeTransport) Send(_ context.Context, env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) Close() error {
	close(f.events)
	return nil
}

func (f *fakeTransport) sentOf(messageType string) []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []protocol.Envelope
	for _, env := range f.sent {
		if env.Type == messageType {
			out = append(out, env)
		}
	}
	return out
}

type harness struct {
	engine    *Engine
	transport *fakeTransport
	player    *simplayer.Player
	clock     *clockwork.FakeClock
	cancel    context.CancelFunc
	done      chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := clockwork.NewFakeClock()
	h := &harness{
		transport: &fakeTransport{events: make(chan transport.Event)},
		player:    simplayer.New(clock),
		clock:     clock,
		done:      make(chan error, 1),
	}
	h.engine = New(h.transport, h.player, slog.New(slog.NewTextHandler(io.Discard, nil)), WithClock(clock))
	h.player.SetCallbacks(h.engine.PlayerReady, h.engine.PlayerStateChanged)

	var ctx context.Context
	ctx, h.cancel = context.WithCancel(context.Background())
	go func() {
		h.done <- h.engine.Run(ctx)
	}()

	t.Cleanup(func() {
		h.cancel()
		<-h.done
	})

	return h
}

// deliver hands an event to the engine and waits until it is handled.
func (h *harness) deliver(t *testing.T, ev transport.Event) {
	t.Helper()
	h.transport.events <- ev
	h.view(t)
}

func (h *harness) message(t *testing.T, messageType string, payload any) {
	t.Helper()
	h.deliver(t, transport.Event{Message: protocol.MustEnvelope(messageType, payload)})
}

func (h *harness) view(t *testing.T) View {
	t.Helper()

	view, err := h.engine.View(context.Background())
	require.NoError(t, err)
	return view
}

func (h *harness) ready(t *testing.T) {
	t.Helper()
	h.player.Ready()
	h.view(t)
}

var playlist = []domain.Video{{Id: "abc", Title: "A"}, {Id: "def", Title: "D"}}

// join connects and delivers a snapshot with the given player state.
func (h *harness) join(t *testing.T, role domain.Role, player domain.PlayerState, seq uint64) {
	t.Helper()

	index := -1
	if player.VideoId != "" {
		index = 0
	}

	h.deliver(t, transport.Event{Status: transport.StatusConnected})
	h.message(t, protocol.TypeState, protocol.RoomStatePayload{
		Snapshot: domain.Snapshot{
			RoomId:       "r1",
			Mode:         domain.ModeHostOnly,
			Playlist:     playlist,
			CurrentIndex: index,
			Player:       player,
			Users:        []domain.User{{Id: "me", Name: "me", Role: role}},
			Seq:          seq,
		},
		Self: domain.User{Id: "me", Name: "me", Role: role},
	})
}

func syncOf(action domain.Action, timestamp float64, videoId string, playing bool, seq uint64) protocol.SyncPayload {
	return protocol.SyncPayload{
		Action:    action,
		Timestamp: timestamp,
		VideoId:   videoId,
		IsPlaying: playing,
		Seq:       seq,
	}
}

func TestPlayDriftThreshold(t *testing.T) {
	tests := []struct {
		name     string
		local    float64
		wantSeek bool
		wantTime float64
	}{
		{name: "drift above threshold seeks", local: 97, wantSeek: true, wantTime: 100},
		{name: "drift below threshold resumes in place", local: 98.5, wantSeek: false, wantTime: 98.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.join(t, domain.RoleGuest, domain.PlayerState{VideoId: "abc", Position: tt.local}, 1)
			h.ready(t)
			require.Equal(t, tt.local, h.player.CurrentTime())
			seeks := h.player.Seeks()

			h.message(t, protocol.TypeSync, syncOf(domain.ActionPlay, 100, "abc", true, 2))

			assert.True(t, h.player.IsPlaying())
			assert.Equal(t, tt.wantTime, h.player.CurrentTime())
			if tt.wantSeek {
				assert.Equal(t, seeks+1, h.player.Seeks())
			} else {
				assert.Equal(t, seeks, h.player.Seeks())
			}
		})
	}
}

func TestPauseAndSeekAlwaysSnap(t *testing.T) {
	h := newHarness(t)
	h.join(t, domain.RoleGuest, domain.PlayerState{VideoId: "abc", IsPlaying: true, Position: 10}, 1)
	h.ready(t)
	seeks := h.player.Seeks()

	h.message(t, protocol.TypeSync, syncOf(domain.ActionPause, 10.5, "abc", false, 2))
	assert.False(t, h.player.IsPlaying())
	assert.Equal(t, 10.5, h.player.CurrentTime())
	assert.Equal(t, seeks+1, h.player.Seeks())

	h.message(t, protocol.TypeSync, syncOf(domain.ActionSeek, 10.5, "abc", false, 3))
	assert.Equal(t, seeks+2, h.player.Seeks())

	h.message(t, protocol.TypeSync, syncOf(domain.ActionSeek, 30, "abc", false, 4))
	assert.Equal(t, 30.0, h.player.CurrentTime())
	assert.Equal(t, uint64(4), h.view(t).Seq)
}

func TestSetVideoLoadsAndResets(t *testing.T) {
	h := newHarness(t)
	h.join(t, domain.RoleGuest, domain.PlayerState{VideoId: "abc", IsPlaying: true, Position: 50}, 1)
	h.ready(t)

	h.message(t, protocol.TypeSync, syncOf(domain.ActionSetVideo, 0, "def", false, 2))

	assert.Equal(t, []string{"abc", "def"}, h.player.Loads())
	assert.Equal(t, 0.0, h.player.CurrentTime())
	assert.False(t, h.player.IsPlaying())
	assert.Equal(t, 1, h.view(t).CurrentIndex)
}

func TestBuffersUntilReady(t *testing.T) {
	h := newHarness(t)
	h.join(t, domain.RoleGuest, domain.PlayerState{VideoId: "abc", IsPlaying: true, Position: 10}, 1)
	h.message(t, protocol.TypeSync, syncOf(domain.ActionSeek, 20, "abc", true, 2))

	assert.Empty(t, h.player.Loads())

	h.clock.Advance(3 * time.Second)
	h.ready(t)

	assert.Equal(t, []string{"abc"}, h.player.Loads())
	assert.Equal(t, 23.0, h.player.CurrentTime())
	assert.True(t, h.player.IsPlaying())
}

func TestSeqGapRequestsResync(t *testing.T) {
	h := newHarness(t)
	h.join(t, domain.RoleGuest, domain.PlayerState{VideoId: "abc", Position: 10}, 1)
	h.ready(t)

	h.message(t, protocol.TypeSync, syncOf(domain.ActionSeek, 40, "abc", false, 3))
	assert.Len(t, h.transport.sentOf(protocol.TypeResync), 1)
	assert.Equal(t, 10.0, h.player.CurrentTime())

	// nothing applies until the snapshot arrives
	h.message(t, protocol.TypeSync, syncOf(domain.ActionSeek, 50, "abc", false, 4))
	view := h.view(t)
	assert.False(t, view.Synced)
	assert.Equal(t, uint64(1), view.Seq)
	assert.Equal(t, 10.0, h.player.CurrentTime())

	h.message(t, protocol.TypeState, protocol.RoomStatePayload{
		Snapshot: domain.Snapshot{
			RoomId:   "r1",
			Playlist: playlist,
			Player:   domain.PlayerState{VideoId: "abc", Position: 50},
			Seq:      4,
		},
		Self: domain.User{Id: "me", Role: domain.RoleGuest},
	})
	view = h.view(t)
	assert.True(t, view.Synced)
	assert.Equal(t, uint64(4), view.Seq)
	assert.Equal(t, 50.0, h.player.CurrentTime())

	// stale syncs are ignored
	h.message(t, protocol.TypeSync, syncOf(domain.ActionSeek, 5, "abc", false, 4))
	assert.Equal(t, 50.0, h.player.CurrentTime())
}

func TestHeartbeatAndFreeze(t *testing.T) {
	h := newHarness(t)
	h.join(t, domain.RoleGuest, domain.PlayerState{VideoId: "abc", IsPlaying: true, Position: 10}, 1)
	h.ready(t)

	h.clock.Advance(HeartbeatInterval)
	require.Eventually(t, func() bool {
		return len(h.transport.sentOf(protocol.TypeHeartbeat)) == 1
	}, time.Second, 5*time.Millisecond)

	beat, err := protocol.Decode[protocol.HeartbeatPayload](h.transport.sentOf(protocol.TypeHeartbeat)[0])
	require.NoError(t, err)
	assert.Equal(t, "abc", beat.VideoId)
	assert.Equal(t, 11.0, beat.Position)

	h.deliver(t, transport.Event{Status: transport.StatusDisconnected})
	assert.False(t, h.player.IsPlaying())
	assert.False(t, h.view(t).Connected)

	h.clock.Advance(5 * HeartbeatInterval)
	h.view(t)
	assert.Len(t, h.transport.sentOf(protocol.TypeHeartbeat), 1)

	h.message(t, protocol.TypeSync, syncOf(domain.ActionPlay, 99, "abc", true, 2))
	assert.False(t, h.player.IsPlaying())

	h.join(t, domain.RoleGuest, domain.PlayerState{VideoId: "abc", IsPlaying: true, Position: 20}, 5)
	assert.True(t, h.player.IsPlaying())
	assert.Equal(t, 20.0, h.player.CurrentTime())
}

func TestLocalChangeWithoutControlSnapsBack(t *testing.T) {
	h := newHarness(t)
	h.join(t, domain.RoleGuest, domain.PlayerState{VideoId: "abc", IsPlaying: true, Position: 10}, 1)
	h.ready(t)

	h.player.UserPause()
	h.view(t)

	assert.True(t, h.player.IsPlaying())
	assert.Empty(t, h.transport.sentOf(protocol.TypeAction))
}

func TestLocalChangeWithControlBecomesCommand(t *testing.T) {
	h := newHarness(t)
	h.join(t, domain.RoleHost, domain.PlayerState{VideoId: "abc", IsPlaying: true, Position: 10}, 1)
	h.ready(t)

	h.clock.Advance(2 * time.Second)
	h.player.UserPause()
	h.view(t)

	actions := h.transport.sentOf(protocol.TypeAction)
	require.Len(t, actions, 1)
	action, err := protocol.Decode[protocol.ActionPayload](actions[0])
	require.NoError(t, err)
	assert.Equal(t, domain.ActionPause, action.Action)
	assert.Equal(t, 12.0, action.Timestamp)
	assert.Equal(t, "abc", action.VideoId)

	// the model only changes through the broadcast
	assert.True(t, h.view(t).Player.IsPlaying)
}

func TestIntents(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t)
	assert.ErrorIs(t, h.engine.Play(ctx), ErrNotSynced)

	h.join(t, domain.RoleHost, domain.PlayerState{VideoId: "abc", Position: 10}, 1)

	require.NoError(t, h.engine.Play(ctx))
	require.NoError(t, h.engine.Seek(ctx, 42))
	require.NoError(t, h.engine.SetVideo(ctx, "def"))
	require.NoError(t, h.engine.Next(ctx))
	require.NoError(t, h.engine.AddVideo(ctx, domain.Video{Id: "ghi", Title: "G"}))
	require.NoError(t, h.engine.Chat(ctx, "hello"))
	require.NoError(t, h.engine.Suggest(ctx))
	require.NoError(t, h.engine.SetMode(ctx, domain.ModeShared))
	assert.ErrorIs(t, h.engine.Seek(ctx, -1), domain.ErrInvalidTimestamp)

	actions := h.transport.sentOf(protocol.TypeAction)
	require.Len(t, actions, 3)
	var got []domain.Action
	for _, env := range actions {
		action, err := protocol.Decode[protocol.ActionPayload](env)
		require.NoError(t, err)
		got = append(got, action.Action)
	}
	assert.Equal(t, []domain.Action{domain.ActionPlay, domain.ActionSeek, domain.ActionSetVideo}, got)

	first, err := protocol.Decode[protocol.ActionPayload](actions[0])
	require.NoError(t, err)
	assert.Equal(t, 10.0, first.Timestamp)
	assert.Equal(t, "abc", first.VideoId)

	for _, messageType := range []string{
		protocol.TypeNext,
		protocol.TypePlaylistAdd,
		protocol.TypeChatMessage,
		protocol.TypeSuggestRequest,
		protocol.TypeSetMode,
	} {
		assert.Len(t, h.transport.sentOf(messageType), 1, messageType)
	}
}

func TestGuestIntentsNeedSharedMode(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t)
	h.join(t, domain.RoleGuest, domain.PlayerState{VideoId: "abc"}, 1)

	assert.ErrorIs(t, h.engine.Play(ctx), domain.ErrNotAllowed)
	assert.ErrorIs(t, h.engine.Next(ctx), domain.ErrNotAllowed)
	assert.ErrorIs(t, h.engine.SetMode(ctx, domain.ModeShared), domain.ErrNotAllowed)

	h.message(t, protocol.TypeModeUpdated, protocol.ModeUpdatedPayload{Mode: domain.ModeShared})
	assert.NoError(t, h.engine.Play(ctx))
}

func TestRunTearsDown(t *testing.T) {
	h := newHarness(t)
	h.join(t, domain.RoleGuest, domain.PlayerState{VideoId: "abc", IsPlaying: true}, 1)
	h.ready(t)

	h.cancel()
	assert.ErrorIs(t, <-h.done, context.Canceled)
	h.done <- nil

	assert.True(t, h.player.Destroyed())
	assert.ErrorIs(t, h.engine.Play(context.Background()), ErrEngineStopped)
}

func TestRunStopsWhenTransportCloses(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.transport.Close())
	assert.NoError(t, <-h.done)
	h.done <- nil

	assert.True(t, h.player.Destroyed())
}
