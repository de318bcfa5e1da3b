package client

import (
	"context"

	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/protocol"
)

// Intents are requests to the authority. None of them touch the widget;
// the resulting broadcast does.

func (e *Engine) Play(ctx context.Context) error {
	return e.do(ctx, func() error {
		return e.control(ctx, domain.ActionPlay, e.position(), "")
	})
}

func (e *Engine) Pause(ctx context.Context) error {
	return e.do(ctx, func() error {
		return e.control(ctx, domain.ActionPause, e.position(), "")
	})
}

func (e *Engine) Seek(ctx context.Context, seconds float64) error {
	if !domain.ValidTimestamp(seconds) {
		return domain.ErrInvalidTimestamp
	}

	return e.do(ctx, func() error {
		return e.control(ctx, domain.ActionSeek, seconds, "")
	})
}

func (e *Engine) SetVideo(ctx context.Context, videoId string) error {
	return e.do(ctx, func() error {
		return e.control(ctx, domain.ActionSetVideo, 0, videoId)
	})
}

func (e *Engine) Next(ctx context.Context) error {
	return e.do(ctx, func() error {
		if err := e.checkControl(); err != nil {
			return err
		}
		return e.send(ctx, protocol.TypeNext, nil)
	})
}

func (e *Engine) AddVideo(ctx context.Context, video domain.Video) error {
	return e.do(ctx, func() error {
		if err := e.checkControl(); err != nil {
			return err
		}
		return e.send(ctx, protocol.TypePlaylistAdd, protocol.PlaylistAddPayload{
			Id:           video.Id,
			Title:        video.Title,
			ThumbnailUrl: video.ThumbnailUrl,
			Duration:     video.Duration,
		})
	})
}

func (e *Engine) SetMode(ctx context.Context, mode domain.Mode) error {
	return e.do(ctx, func() error {
		if !e.synced {
			return ErrNotSynced
		}
		if e.self.Role != domain.RoleHost {
			return domain.ErrNotAllowed
		}
		return e.send(ctx, protocol.TypeSetMode, protocol.ModePayload{Mode: mode})
	})
}

func (e *Engine) Chat(ctx context.Context, text string) error {
	return e.do(ctx, func() error {
		return e.send(ctx, protocol.TypeChatMessage, protocol.ChatPayload{Text: text})
	})
}

func (e *Engine) Suggest(ctx context.Context) error {
	return e.do(ctx, func() error {
		return e.send(ctx, protocol.TypeSuggestRequest, nil)
	})
}

func (e *Engine) checkControl() error {
	if !e.synced {
		return ErrNotSynced
	}

	if !e.canControl() {
		return domain.ErrNotAllowed
	}

	return nil
}

func (e *Engine) control(ctx context.Context, action domain.Action, timestamp float64, videoId string) error {
	if err := e.checkControl(); err != nil {
		return err
	}

	if videoId == "" {
		videoId = e.model.VideoId
	}
	if videoId == "" {
		return domain.ErrNoActiveVideo
	}

	return e.sendAction(ctx, action, timestamp, videoId)
}

// position is where the local viewer is, falling back to the model while
// the widget cannot tell.
func (e *Engine) position() float64 {
	if e.ready && e.loaded == e.model.VideoId {
		return e.player.CurrentTime()
	}

	return domain.EstimatePosition(e.model, e.clock.Now())
}
