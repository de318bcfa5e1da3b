package domain

import (
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoom(t *testing.T, now time.Time) *Room {
	t.Helper()
	r := NewRoom("room-1", Config{MembersLimit: 9, PlaylistLimit: 25})

	host, err := r.AddUser(User{Id: "host", Name: "Host", JoinedAt: now})
	require.NoError(t, err)
	require.Equal(t, RoleHost, host.Role, "first user must be host")

	guest, err := r.AddUser(User{Id: "guest", Name: "Guest", JoinedAt: now})
	require.NoError(t, err)
	require.Equal(t, RoleGuest, guest.Role, "second user must be guest")

	return r
}

func TestEstimatePosition(t *testing.T) {
	clock := clockwork.NewFakeClock()
	state := PlayerState{VideoId: "v", IsPlaying: true, Position: 10, LastUpdated: clock.Now()}

	prev := EstimatePosition(state, clock.Now())
	for i := 0; i < 5; i++ {
		clock.Advance(700 * time.Millisecond)
		pos := EstimatePosition(state, clock.Now())
		assert.GreaterOrEqual(t, pos, prev, "position must not decrease while playing")
		prev = pos
	}
	assert.InDelta(t, 13.5, prev, 1e-9)

	// clock behind the last update never moves backwards
	assert.Equal(t, 10.0, EstimatePosition(state, state.LastUpdated.Add(-time.Second)))

	state.IsPlaying = false
	clock.Advance(time.Hour)
	assert.Equal(t, 10.0, EstimatePosition(state, clock.Now()), "paused position must be constant")
}

func TestValidTimestamp(t *testing.T) {
	assert.True(t, ValidTimestamp(0))
	assert.True(t, ValidTimestamp(98.5))
	assert.False(t, ValidTimestamp(-1))
	assert.False(t, ValidTimestamp(math.NaN()))
	assert.False(t, ValidTimestamp(math.Inf(1)))
}

func TestPlaylistIndex(t *testing.T) {
	p := NewPlaylist(3)
	assert.Equal(t, -1, p.Index())
	_, ok := p.Next()
	assert.False(t, ok, "next on empty playlist must be a no-op")
	assert.Equal(t, -1, p.Index())

	require.NoError(t, p.Add(Video{Id: "a"}))
	assert.Equal(t, -1, p.Index(), "append must not activate an entry")
	_, ok = p.Current()
	assert.False(t, ok)
	require.NoError(t, p.Add(Video{Id: "b"}))
	require.NoError(t, p.Add(Video{Id: "a"}))
	assert.ErrorIs(t, p.Add(Video{Id: "c"}), ErrPlaylistLimitReached)

	for i := 0; i < 10; i++ {
		p.Next()
		assert.GreaterOrEqual(t, p.Index(), 0)
		assert.Less(t, p.Index(), p.Length())
	}

	_, err := p.Select("missing")
	assert.ErrorIs(t, err, ErrVideoNotFound)
	video, err := p.Select("b")
	require.NoError(t, err)
	assert.Equal(t, "b", video.Id)
	assert.Equal(t, 1, p.Index())
}

func TestRoomLifecycle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestRoom(t, clock.Now())
	assert.Equal(t, StatusIdle, r.Player.Status())

	require.NoError(t, r.AppendVideo("host", Video{Id: "x", Title: "X"}))
	assert.Equal(t, -1, r.Playlist.Index())
	assert.Equal(t, StatusIdle, r.Player.Status(), "append must not load the video")

	_, ok := r.ApplyCommand(Command{Action: ActionPlay, Timestamp: 0, SenderId: "host"}, clock.Now())
	assert.False(t, ok, "play while idle must be rejected")

	state, ok := r.ApplyCommand(Command{Action: ActionSetVideo, VideoId: "x", SenderId: "host"}, clock.Now())
	require.True(t, ok)
	assert.Equal(t, StatusLoaded, state.Status())
	assert.Equal(t, 0.0, state.Position)

	state, ok = r.ApplyCommand(Command{Action: ActionPlay, Timestamp: 0, VideoId: "x", SenderId: "host"}, clock.Now())
	require.True(t, ok)
	assert.Equal(t, StatusPlaying, state.Status())

	clock.Advance(5 * time.Second)
	assert.InDelta(t, 5.0, EstimatePosition(r.Player, clock.Now()), 1e-9)

	state, ok = r.ApplyCommand(Command{Action: ActionPause, Timestamp: 5.0, SenderId: "host"}, clock.Now())
	require.True(t, ok)
	assert.Equal(t, StatusLoaded, state.Status())

	clock.Advance(time.Minute)
	assert.Equal(t, 5.0, EstimatePosition(r.Player, clock.Now()))
	assert.Equal(t, uint64(3), r.Seq)
}

func TestRoomSeekIsIdempotent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestRoom(t, clock.Now())
	require.NoError(t, r.AppendVideo("host", Video{Id: "x"}))
	_, ok := r.ApplyCommand(Command{Action: ActionSetVideo, VideoId: "x", SenderId: "host"}, clock.Now())
	require.True(t, ok)

	seek := Command{Action: ActionSeek, Timestamp: 42, SenderId: "host"}
	first, ok := r.ApplyCommand(seek, clock.Now())
	require.True(t, ok)
	second, ok := r.ApplyCommand(seek, clock.Now())
	require.True(t, ok)
	assert.Equal(t, first, second)
	assert.False(t, second.IsPlaying, "seek must keep playing flag")
}

func TestRoomRoleEnforcement(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestRoom(t, clock.Now())
	require.NoError(t, r.AppendVideo("host", Video{Id: "x"}))
	_, ok := r.ApplyCommand(Command{Action: ActionSetVideo, VideoId: "x", SenderId: "host"}, clock.Now())
	require.True(t, ok)

	before := r.Player
	seq := r.Seq
	for _, action := range []Action{ActionPlay, ActionPause, ActionSeek} {
		_, err := r.Apply(Command{Action: action, Timestamp: 10, SenderId: "guest"}, clock.Now())
		assert.ErrorIs(t, err, ErrNotAllowed)
	}
	_, err := r.Apply(Command{Action: ActionSetVideo, VideoId: "x", SenderId: "guest"}, clock.Now())
	assert.ErrorIs(t, err, ErrNotAllowed)
	_, err = r.Advance("guest", clock.Now())
	assert.ErrorIs(t, err, ErrNotAllowed)
	assert.ErrorIs(t, r.AppendVideo("guest", Video{Id: "y"}), ErrNotAllowed)
	assert.ErrorIs(t, r.SetMode("guest", ModeShared), ErrNotAllowed)
	assert.Equal(t, before, r.Player, "rejected commands must not mutate state")
	assert.Equal(t, seq, r.Seq)

	require.NoError(t, r.SetMode("host", ModeShared))
	_, ok = r.ApplyCommand(Command{Action: ActionPlay, Timestamp: 10, SenderId: "guest"}, clock.Now())
	assert.True(t, ok, "guest must control in shared mode")
	assert.ErrorIs(t, r.SetMode("guest", ModeHostOnly), ErrNotAllowed, "mode stays host only")
}

func TestRoomRejectsInvalidCommands(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestRoom(t, clock.Now())
	require.NoError(t, r.AppendVideo("host", Video{Id: "x"}))
	require.NoError(t, r.AppendVideo("host", Video{Id: "y"}))

	_, err := r.Apply(Command{Action: ActionSetVideo, VideoId: "missing", SenderId: "host"}, clock.Now())
	assert.ErrorIs(t, err, ErrVideoNotFound)

	_, err = r.Apply(Command{Action: ActionSetVideo, VideoId: "x", SenderId: "host"}, clock.Now())
	require.NoError(t, err)

	cases := []struct {
		name string
		cmd  Command
		err  error
	}{
		{"unknown sender", Command{Action: ActionPlay, SenderId: "nobody"}, ErrUserNotFound},
		{"negative timestamp", Command{Action: ActionSeek, Timestamp: -3, SenderId: "host"}, ErrInvalidTimestamp},
		{"nan timestamp", Command{Action: ActionSeek, Timestamp: math.NaN(), SenderId: "host"}, ErrInvalidTimestamp},
		{"stale video", Command{Action: ActionPlay, VideoId: "y", SenderId: "host"}, ErrStaleCommand},
		{"unknown action", Command{Action: "rewind", SenderId: "host"}, ErrUnknownAction},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := r.Player
			_, err := r.Apply(tc.cmd, clock.Now())
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, before, r.Player)
		})
	}
}

func TestRoomAdvance(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestRoom(t, clock.Now())

	_, err := r.Advance("host", clock.Now())
	assert.ErrorIs(t, err, ErrEmptyPlaylist)

	require.NoError(t, r.AppendVideo("host", Video{Id: "a"}))
	require.NoError(t, r.AppendVideo("host", Video{Id: "b"}))

	state, err := r.Advance("host", clock.Now())
	require.NoError(t, err)
	assert.Equal(t, "a", state.VideoId)
	assert.Equal(t, StatusLoaded, state.Status())

	state, err = r.Advance("host", clock.Now())
	require.NoError(t, err)
	assert.Equal(t, "b", state.VideoId)

	state, err = r.Advance("host", clock.Now())
	require.NoError(t, err)
	assert.Equal(t, "a", state.VideoId, "advance must wrap around")
	assert.Equal(t, 0, r.Playlist.Index())
}

func TestRoomAdvanceFromIdle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestRoom(t, clock.Now())
	require.NoError(t, r.AppendVideo("host", Video{Id: "a"}))
	require.NoError(t, r.AppendVideo("host", Video{Id: "b"}))

	snap := r.Snapshot(clock.Now())
	assert.Equal(t, StatusIdle, r.Player.Status())
	assert.Equal(t, -1, snap.CurrentIndex)
	assert.Nil(t, snap.CurrentVideo, "idle room has no current video")

	state, err := r.Advance("host", clock.Now())
	require.NoError(t, err)
	assert.Equal(t, "a", state.VideoId, "first advance must load the first entry")

	snap = r.Snapshot(clock.Now())
	assert.Equal(t, 0, snap.CurrentIndex)
	require.NotNil(t, snap.CurrentVideo)
	assert.Equal(t, state.VideoId, snap.CurrentVideo.Id)
}

func TestRoomHostPromotion(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestRoom(t, clock.Now())
	_, err := r.AddUser(User{Id: "late", JoinedAt: clock.Now()})
	require.NoError(t, err)

	_, promoted, err := r.RemoveUser("guest")
	require.NoError(t, err)
	assert.Nil(t, promoted, "guest leaving must not promote")

	removed, promoted, err := r.RemoveUser("host")
	require.NoError(t, err)
	assert.Equal(t, RoleHost, removed.Role)
	require.NotNil(t, promoted)
	assert.Equal(t, "late", promoted.Id)
	assert.True(t, r.CanControl("late"))

	_, _, err = r.RemoveUser("host")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRoomSnapshot(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestRoom(t, clock.Now())

	snap := r.Snapshot(clock.Now())
	assert.Equal(t, -1, snap.CurrentIndex)
	assert.Nil(t, snap.CurrentVideo)

	require.NoError(t, r.AppendVideo("host", Video{Id: "x"}))
	_, ok := r.ApplyCommand(Command{Action: ActionSetVideo, VideoId: "x", SenderId: "host"}, clock.Now())
	require.True(t, ok)
	_, ok = r.ApplyCommand(Command{Action: ActionPlay, Timestamp: 20, SenderId: "host"}, clock.Now())
	require.True(t, ok)

	clock.Advance(3 * time.Second)
	snap = r.Snapshot(clock.Now())
	require.NotNil(t, snap.CurrentVideo)
	assert.Equal(t, "x", snap.CurrentVideo.Id)
	assert.InDelta(t, 23.0, snap.Player.Position, 1e-9)
	assert.Equal(t, clock.Now(), snap.Player.LastUpdated)
	assert.Len(t, snap.Users, 2)
}
