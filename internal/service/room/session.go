package room

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/protocol"
	"github.com/sharetube/watchparty/internal/service/telemetry"
)

// Session is one connection's handle on a room. Outbox delivers marshalled
// envelopes in authority order and is closed when the session ends.
type Session struct {
	RoomId string
	UserId string
	Token  string

	authority  *authority
	sub        *subscriber
	suggesting atomic.Bool
}

func newSession(a *authority, sub *subscriber, token string) *Session {
	return &Session{
		RoomId:    a.id,
		UserId:    sub.userId,
		Token:     token,
		authority: a,
		sub:       sub,
	}
}

func (s *Session) Outbox() <-chan []byte {
	return s.sub.outbox
}

func (s *Session) do(ctx context.Context, fn func(a *authority) error) error {
	a := s.authority
	return a.call(ctx, func() error {
		if !a.current(s.sub) {
			return ErrSessionClosed
		}

		return fn(a)
	})
}

func (s *Session) reject(a *authority, op string, err error) error {
	a.logger.Debug("command rejected",
		"user_id", s.UserId,
		"op", op,
		"reason", err.Error(),
	)

	return fmt.Errorf("%w: %w", ErrCommandRejected, err)
}

type CommandParams struct {
	Action    domain.Action
	Timestamp float64
	VideoId   string
	SentAt    time.Time
}

// Command applies a player command. An accepted command produces exactly
// one player:sync broadcast; a rejected one produces none and returns an
// error wrapping ErrCommandRejected.
func (s *Session) Command(ctx context.Context, params *CommandParams) error {
	return s.do(ctx, func(a *authority) error {
		state, err := a.room.Apply(domain.Command{
			Action:    params.Action,
			Timestamp: params.Timestamp,
			VideoId:   params.VideoId,
			SenderId:  s.UserId,
			SentAt:    params.SentAt,
		}, a.service.clock.Now())
		if err != nil {
			return s.reject(a, string(params.Action), err)
		}

		a.broadcastSync(params.Action, state, s.UserId)
		return nil
	})
}

// Advance loads the next playlist entry, wrapping at the end.
func (s *Session) Advance(ctx context.Context) error {
	return s.do(ctx, func(a *authority) error {
		state, err := a.room.Advance(s.UserId, a.service.clock.Now())
		if err != nil {
			return s.reject(a, "next", err)
		}

		a.broadcastSync(domain.ActionSetVideo, state, s.UserId)
		return nil
	})
}

func (s *Session) AddVideo(ctx context.Context, video domain.Video) error {
	if err := validation.ValidateStructWithContext(ctx, &video,
		validation.Field(&video.Id, VideoIdRule...),
		validation.Field(&video.ThumbnailUrl, ThumbnailUrlRule...),
	); err != nil {
		return err
	}

	return s.do(ctx, func(a *authority) error {
		if err := a.room.AppendVideo(s.UserId, video); err != nil {
			return s.reject(a, "playlist:add", err)
		}

		a.broadcastPlaylist()
		return nil
	})
}

func (s *Session) SetMode(ctx context.Context, mode domain.Mode) error {
	return s.do(ctx, func(a *authority) error {
		if err := a.room.SetMode(s.UserId, mode); err != nil {
			return s.reject(a, "room:mode", err)
		}

		a.broadcast(protocol.TypeModeUpdated, protocol.ModeUpdatedPayload{Mode: mode})
		return nil
	})
}

func (s *Session) Chat(ctx context.Context, text string, chatType protocol.ChatType) error {
	if chatType == "" {
		chatType = protocol.ChatUser
	}

	return s.do(ctx, func(a *authority) error {
		user, _, err := a.room.Users.GetById(s.UserId)
		if err != nil {
			return err
		}

		a.postChat(protocol.ChatMessage{
			UserId:   user.Id,
			UserName: user.Name,
			Text:     text,
			Type:     chatType,
		})
		return nil
	})
}

// Heartbeat compares a reported position with the authoritative one and
// hands the result to telemetry. It never changes room state.
func (s *Session) Heartbeat(ctx context.Context, videoId string, position float64) error {
	return s.do(ctx, func(a *authority) error {
		player := a.room.Player
		if player.Status() == domain.StatusIdle || player.VideoId != videoId {
			return nil
		}

		now := a.service.clock.Now()
		expected := domain.EstimatePosition(player, now)
		report := telemetry.Report{
			RoomId:     a.id,
			UserId:     s.UserId,
			VideoId:    videoId,
			Position:   position,
			Expected:   expected,
			Drift:      position - expected,
			ReportedAt: now,
		}

		if a.service.telemetry != nil && !a.service.telemetry.Record(report) {
			a.logger.Debug("telemetry report dropped", "user_id", s.UserId)
		}

		return nil
	})
}

// Resync sends a fresh room:state to this session only.
func (s *Session) Resync(ctx context.Context) error {
	return s.do(ctx, func(a *authority) error {
		a.sendState(s.sub, s.Token)
		return nil
	})
}

// Suggest asks the recommendation collaborator for next videos. The call
// runs outside the authority. An empty result is not an error. The first
// suggestion is queued when it names a video and the user may add to the
// playlist.
func (s *Session) Suggest(ctx context.Context) ([]protocol.Suggestion, error) {
	if !s.suggesting.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: %w", ErrCommandRejected, ErrSuggestPending)
	}
	defer s.suggesting.Store(false)

	var (
		title  string
		recent []string
	)
	if err := s.do(ctx, func(a *authority) error {
		if video, ok := a.room.Playlist.Current(); ok {
			title = video.Title
		}
		recent = slices.Clone(a.chat)
		return nil
	}); err != nil {
		return nil, err
	}

	suggestions := []protocol.Suggestion{}
	if suggester := s.authority.service.suggester; suggester != nil {
		if result := suggester.Suggest(ctx, title, recent); result != nil {
			suggestions = result
		}
	}

	if err := s.do(ctx, func(a *authority) error {
		a.unicast(s.sub, protocol.TypeSuggestResult, protocol.SuggestResultPayload{
			Suggestions: suggestions,
		})

		if len(suggestions) == 0 {
			return nil
		}

		first := suggestions[0]
		text := fmt.Sprintf("Suggested next: %s (%s)", first.Title, first.Reason)
		if s.queueSuggestion(a, first) {
			text = fmt.Sprintf("Added %q to the queue (%s)", first.Title, first.Reason)
		}

		a.postChat(protocol.ChatMessage{
			Text: text,
			Type: protocol.ChatSystem,
		})
		return nil
	}); err != nil {
		return nil, err
	}

	return suggestions, nil
}

func (s *Session) queueSuggestion(a *authority, suggestion protocol.Suggestion) bool {
	if suggestion.VideoId == "" {
		return false
	}

	video := domain.Video{Id: suggestion.VideoId, Title: suggestion.Title}
	err := validation.Validate(video.Id, VideoIdRule...)
	if err == nil {
		err = a.room.AppendVideo(s.UserId, video)
	}
	if err != nil {
		a.logger.Debug("suggestion not queued",
			"user_id", s.UserId,
			"video_id", video.Id,
			"reason", err.Error(),
		)
		return false
	}

	a.broadcastPlaylist()
	return true
}

// Leave removes the user unless the session was already replaced.
func (s *Session) Leave(ctx context.Context) error {
	err := s.do(ctx, func(a *authority) error {
		a.removeUser(s.UserId)
		return nil
	})
	if errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrRoomClosed) {
		return nil
	}

	return err
}

func (a *authority) broadcastSync(action domain.Action, state domain.PlayerState, issuedBy string) {
	a.broadcast(protocol.TypeSync, protocol.SyncPayload{
		Action:    action,
		Timestamp: state.Position,
		VideoId:   state.VideoId,
		IsPlaying: state.IsPlaying,
		Seq:       a.room.Seq,
		IssuedBy:  issuedBy,
	})
}

func (a *authority) broadcastPlaylist() {
	a.broadcast(protocol.TypePlaylistUpdated, protocol.PlaylistUpdatedPayload{
		Playlist:     a.room.Playlist.AsList(),
		CurrentIndex: a.room.Playlist.Index(),
	})
}

// postChat broadcasts a chat message and keeps the last few texts as
// context for suggestions. Nothing is persisted.
func (a *authority) postChat(message protocol.ChatMessage) {
	message.Id = uuid.NewString()
	message.Timestamp = a.service.clock.Now().UnixMilli()

	a.chat = append(a.chat, message.Text)
	if len(a.chat) > chatContextSize {
		a.chat = a.chat[len(a.chat)-chatContextSize:]
	}

	a.broadcast(protocol.TypeChatBroadcast, protocol.ChatBroadcastPayload{Message: message})
}
