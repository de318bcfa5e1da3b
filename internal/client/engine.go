// Package client keeps a local video widget aligned with a room authority.
// The engine never changes playback state on its own: every change comes
// from a broadcast, and local widget changes are only requests.
package client

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/protocol"
	"github.com/sharetube/watchparty/internal/transport"
)

var (
	ErrEngineStopped = errors.New("engine stopped")
	ErrNotSynced     = errors.New("not synced with room")
)

const (
	// SyncThreshold is the drift in seconds a play broadcast tolerates
	// before the widget is hard-seeked.
	SyncThreshold     = 2.0
	HeartbeatInterval = time.Second
)

// Player is the embedded video widget.
type Player interface {
	Load(videoId string)
	Play()
	Pause()
	SeekTo(seconds float64, allowSeekAhead bool)
	CurrentTime() float64
	Destroy()
}

// View is a copy of what the engine currently believes.
type View struct {
	Player       domain.PlayerState
	Seq          uint64
	Self         domain.User
	Mode         domain.Mode
	Users        []domain.User
	Playlist     []domain.Video
	CurrentIndex int
	Ready        bool
	Connected    bool
	Synced       bool
}

type Engine struct {
	transport transport.Transport
	player    Player
	clock     clockwork.Clock
	logger    *slog.Logger
	observer  func(protocol.Envelope)

	inputCh chan func()
	doneCh  chan struct{}

	// owned by Run
	model     domain.PlayerState
	seq       uint64
	synced    bool
	connected bool
	ready     bool
	loaded    string
	self      domain.User
	mode      domain.Mode
	users     []domain.User
	playlist  []domain.Video
	index     int
	heartbeat clockwork.Ticker
}

type Option func(*Engine)

func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithObserver is called on the engine goroutine for every message after
// the engine handled it. It must not block.
func WithObserver(fn func(protocol.Envelope)) Option {
	return func(e *Engine) {
		e.observer = fn
	}
}

func New(t transport.Transport, player Player, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		transport: t,
		player:    player,
		clock:     clockwork.NewRealClock(),
		logger:    logger,
		inputCh:   make(chan func()),
		doneCh:    make(chan struct{}),
		mode:      domain.ModeHostOnly,
		index:     -1,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Run processes transport events, widget signals and heartbeats until ctx
// is cancelled or the transport closes. The heartbeat is stopped and the
// widget destroyed before it returns.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.doneCh)
	defer e.player.Destroy()
	defer e.stopHeartbeat()

	events := e.transport.Events()
	for {
		var tick <-chan time.Time
		if e.heartbeat != nil {
			tick = e.heartbeat.Chan()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				e.logger.Info("transport closed")
				return nil
			}
			e.handleEvent(ctx, ev)
		case fn := <-e.inputCh:
			fn()
		case <-tick:
			e.sendHeartbeat(ctx)
		}
	}
}

func (e *Engine) do(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case e.inputCh <- func() { errCh <- fn() }:
	case <-e.doneCh:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	return <-errCh
}

func (e *Engine) handleEvent(ctx context.Context, ev transport.Event) {
	if !ev.IsMessage() {
		e.logger.Info("transport status changed", "status", ev.Status.String())
		switch ev.Status {
		case transport.StatusConnected:
			e.connected = true
			e.synced = false
		case transport.StatusDisconnected:
			e.connected = false
			e.synced = false
			e.freeze()
		}
		return
	}

	if err := e.handleMessage(ctx, ev.Message); err != nil {
		e.logger.Warn("failed to handle message", "type", ev.Message.Type, "error", err)
		return
	}

	if e.observer != nil {
		e.observer(ev.Message)
	}
}

func (e *Engine) handleMessage(ctx context.Context, env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeState:
		state, err := protocol.Decode[protocol.RoomStatePayload](env)
		if err != nil {
			return err
		}
		e.applyState(state)
	case protocol.TypeSync:
		sync, err := protocol.Decode[protocol.SyncPayload](env)
		if err != nil {
			return err
		}
		e.applySync(ctx, sync)
	case protocol.TypePlaylistUpdated:
		update, err := protocol.Decode[protocol.PlaylistUpdatedPayload](env)
		if err != nil {
			return err
		}
		e.playlist = update.Playlist
		e.index = update.CurrentIndex
	case protocol.TypeMembers:
		members, err := protocol.Decode[protocol.MembersPayload](env)
		if err != nil {
			return err
		}
		e.users = members.Users
		if i := slices.IndexFunc(e.users, func(u domain.User) bool { return u.Id == e.self.Id }); i >= 0 {
			e.self = e.users[i]
		}
	case protocol.TypeModeUpdated:
		mode, err := protocol.Decode[protocol.ModeUpdatedPayload](env)
		if err != nil {
			return err
		}
		e.mode = mode.Mode
	}

	return nil
}

// applyState replaces the whole local model with a snapshot.
func (e *Engine) applyState(state protocol.RoomStatePayload) {
	e.model = state.Player
	e.model.LastUpdated = e.clock.Now()
	e.seq = state.Seq
	e.synced = true

	e.self = state.Self
	e.mode = state.Mode
	e.users = state.Users
	e.playlist = state.Playlist
	e.index = state.CurrentIndex

	e.applyModel()
	e.updateHeartbeat()
}

func (e *Engine) applySync(ctx context.Context, sync protocol.SyncPayload) {
	if !e.synced {
		e.logger.Debug("ignoring sync while awaiting state", "seq", sync.Seq)
		return
	}

	switch {
	case sync.Seq <= e.seq:
		e.logger.Debug("ignoring stale sync", "seq", sync.Seq, "last_seq", e.seq)
		return
	case sync.Seq > e.seq+1:
		e.logger.Warn("sync gap, requesting state", "seq", sync.Seq, "last_seq", e.seq)
		e.synced = false
		if err := e.send(ctx, protocol.TypeResync, nil); err != nil {
			e.logger.Warn("failed to request resync", "error", err)
		}
		return
	}

	e.seq = sync.Seq
	e.model = domain.PlayerState{
		VideoId:     sync.VideoId,
		IsPlaying:   sync.IsPlaying,
		Position:    sync.Timestamp,
		LastUpdated: e.clock.Now(),
	}
	if sync.Action == domain.ActionSetVideo {
		e.trackIndex(sync.VideoId)
	}
	defer e.updateHeartbeat()

	if !e.ready {
		return
	}

	switch sync.Action {
	case domain.ActionPlay:
		if e.ensureLoaded(sync.VideoId) {
			e.player.SeekTo(sync.Timestamp, true)
		} else if drift := domain.Drift(e.player.CurrentTime(), sync.Timestamp); drift > SyncThreshold {
			e.logger.Debug("drift above threshold, seeking", "drift", drift)
			e.player.SeekTo(sync.Timestamp, true)
		}
		e.player.Play()
	case domain.ActionPause:
		e.ensureLoaded(sync.VideoId)
		e.player.SeekTo(sync.Timestamp, true)
		e.player.Pause()
	case domain.ActionSeek:
		e.ensureLoaded(sync.VideoId)
		e.player.SeekTo(sync.Timestamp, true)
	case domain.ActionSetVideo:
		e.player.Load(sync.VideoId)
		e.loaded = sync.VideoId
		e.player.SeekTo(sync.Timestamp, true)
		e.setPlaying(sync.IsPlaying)
	}
}

// trackIndex follows the playlist cursor, preferring the entry after the
// current one so advancing over duplicates stays accurate.
func (e *Engine) trackIndex(videoId string) {
	if len(e.playlist) == 0 {
		return
	}

	if next := (e.index + 1) % len(e.playlist); e.playlist[next].Id == videoId {
		e.index = next
		return
	}

	if i := slices.IndexFunc(e.playlist, func(v domain.Video) bool { return v.Id == videoId }); i >= 0 {
		e.index = i
	}
}

// ensureLoaded loads videoId if the widget shows something else and
// reports whether it did.
func (e *Engine) ensureLoaded(videoId string) bool {
	if e.loaded == videoId {
		return false
	}

	e.player.Load(videoId)
	e.loaded = videoId
	return true
}

func (e *Engine) setPlaying(playing bool) {
	if playing {
		e.player.Play()
	} else {
		e.player.Pause()
	}
}

// applyModel hard-applies the last authoritative state to the widget.
func (e *Engine) applyModel() {
	if !e.ready {
		return
	}

	if e.model.VideoId == "" {
		e.player.Pause()
		return
	}

	e.ensureLoaded(e.model.VideoId)
	e.player.SeekTo(domain.EstimatePosition(e.model, e.clock.Now()), true)
	e.setPlaying(e.model.IsPlaying)
}

// freeze pauses local playback while the authority is unreachable.
func (e *Engine) freeze() {
	if e.ready {
		e.player.Pause()
	}
	e.stopHeartbeat()
}

func (e *Engine) updateHeartbeat() {
	if e.ready && e.connected && e.synced && e.model.IsPlaying {
		if e.heartbeat == nil {
			e.heartbeat = e.clock.NewTicker(HeartbeatInterval)
		}
		return
	}

	e.stopHeartbeat()
}

func (e *Engine) stopHeartbeat() {
	if e.heartbeat != nil {
		e.heartbeat.Stop()
		e.heartbeat = nil
	}
}

func (e *Engine) sendHeartbeat(ctx context.Context) {
	if !e.ready || !e.synced || !e.model.IsPlaying {
		return
	}

	if err := e.send(ctx, protocol.TypeHeartbeat, protocol.HeartbeatPayload{
		VideoId:  e.model.VideoId,
		Position: e.player.CurrentTime(),
	}); err != nil {
		e.logger.Debug("failed to send heartbeat", "error", err)
	}
}

func (e *Engine) send(ctx context.Context, messageType string, payload any) error {
	env, err := protocol.NewEnvelope(messageType, payload)
	if err != nil {
		return err
	}

	return e.transport.Send(ctx, env)
}

func (e *Engine) canControl() bool {
	return e.self.Role == domain.RoleHost || e.mode == domain.ModeShared
}

// PlayerReady is the widget's onReady hook. The last known state is
// applied as soon as the widget can take it.
func (e *Engine) PlayerReady() {
	e.do(context.Background(), func() error {
		e.ready = true
		e.applyModel()
		e.updateHeartbeat()
		return nil
	})
}

// PlayerStateChanged is the widget's onStateChange hook. A change that
// matches the model is the engine's own doing and is ignored. Other
// changes become commands when the user may control playback and are
// reverted otherwise. It must not be called from inside a Player method.
func (e *Engine) PlayerStateChanged(playing bool) {
	e.do(context.Background(), func() error {
		if !e.ready || !e.connected || !e.synced || e.model.VideoId == "" {
			return nil
		}

		if playing == e.model.IsPlaying {
			return nil
		}

		if !e.canControl() {
			e.logger.Debug("reverting local change without control")
			e.applyModel()
			return nil
		}

		action := domain.ActionPause
		if playing {
			action = domain.ActionPlay
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.sendAction(ctx, action, e.player.CurrentTime(), e.model.VideoId); err != nil {
			e.logger.Warn("failed to send player action", "error", err)
		}
		return nil
	})
}

func (e *Engine) sendAction(ctx context.Context, action domain.Action, timestamp float64, videoId string) error {
	return e.send(ctx, protocol.TypeAction, protocol.ActionPayload{
		Action:    action,
		Timestamp: timestamp,
		VideoId:   videoId,
		SentAt:    e.clock.Now().UnixMilli(),
	})
}

func (e *Engine) View(ctx context.Context) (View, error) {
	var view View
	err := e.do(ctx, func() error {
		view = View{
			Player:       e.model,
			Seq:          e.seq,
			Self:         e.self,
			Mode:         e.mode,
			Users:        slices.Clone(e.users),
			Playlist:     slices.Clone(e.playlist),
			CurrentIndex: e.index,
			Ready:        e.ready,
			Connected:    e.connected,
			Synced:       e.synced,
		}
		return nil
	})

	return view, err
}
