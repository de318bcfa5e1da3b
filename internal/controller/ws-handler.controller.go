package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/protocol"
	"github.com/sharetube/watchparty/internal/service/room"
	"github.com/sharetube/watchparty/pkg/ytvideodata"
)

type EmptyInput struct{}

func (c controller) handleJoin(ctx context.Context, _ *websocket.Conn, _ protocol.JoinPayload) error {
	c.logger.DebugContext(ctx, "ignoring repeated join")
	return nil
}

func (c controller) handleAction(ctx context.Context, _ *websocket.Conn, input protocol.ActionPayload) error {
	session, err := c.getSessionFromCtx(ctx)
	if err != nil {
		return err
	}

	var sentAt time.Time
	if input.SentAt > 0 {
		sentAt = time.UnixMilli(input.SentAt)
	}

	if err := session.Command(ctx, &room.CommandParams{
		Action:    input.Action,
		Timestamp: input.Timestamp,
		VideoId:   input.VideoId,
		SentAt:    sentAt,
	}); err != nil {
		return fmt.Errorf("failed to apply %s: %w", input.Action, err)
	}

	return nil
}

func (c controller) handleNext(ctx context.Context, _ *websocket.Conn, _ EmptyInput) error {
	session, err := c.getSessionFromCtx(ctx)
	if err != nil {
		return err
	}

	if err := session.Advance(ctx); err != nil {
		return fmt.Errorf("failed to advance playlist: %w", err)
	}

	return nil
}

func (c controller) handleHeartbeat(ctx context.Context, _ *websocket.Conn, input protocol.HeartbeatPayload) error {
	session, err := c.getSessionFromCtx(ctx)
	if err != nil {
		return err
	}

	return session.Heartbeat(ctx, input.VideoId, input.Position)
}

func (c controller) handlePlaylistAdd(ctx context.Context, _ *websocket.Conn, input protocol.PlaylistAddPayload) error {
	session, err := c.getSessionFromCtx(ctx)
	if err != nil {
		return err
	}

	video := input.Video()

	if video.Title == "" {
		if err := c.lookupVideo(ctx, &video); err != nil {
			return err
		}
	}

	if err := session.AddVideo(ctx, video); err != nil {
		return fmt.Errorf("failed to add video: %w", err)
	}

	return nil
}

// lookupVideo fills title and thumbnail from YouTube. A video YouTube does
// not know is rejected; any other lookup failure falls back to the bare id.
func (c controller) lookupVideo(ctx context.Context, video *domain.Video) error {
	if c.videoData == nil {
		video.Title = video.Id
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.LookupTimeout)
	defer cancel()

	videoData, err := c.videoData.Get(ctx, video.Id)
	if err != nil {
		if errors.Is(err, ytvideodata.ErrVideoNotFound) {
			c.logger.DebugContext(ctx, "video not found", "video_id", video.Id)
			return fmt.Errorf("%w: %w", room.ErrCommandRejected, err)
		}

		c.logger.WarnContext(ctx, "failed to get video data", "video_id", video.Id, "error", err)
		video.Title = video.Id
		return nil
	}

	video.Title = videoData.Title
	if video.ThumbnailUrl == "" {
		video.ThumbnailUrl = videoData.ThumbnailUrl
	}

	return nil
}

func (c controller) handleSetMode(ctx context.Context, _ *websocket.Conn, input protocol.ModePayload) error {
	session, err := c.getSessionFromCtx(ctx)
	if err != nil {
		return err
	}

	if err := session.SetMode(ctx, input.Mode); err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}

	return nil
}

func (c controller) handleResync(ctx context.Context, _ *websocket.Conn, _ EmptyInput) error {
	session, err := c.getSessionFromCtx(ctx)
	if err != nil {
		return err
	}

	return session.Resync(ctx)
}

func (c controller) handleChat(ctx context.Context, _ *websocket.Conn, input protocol.ChatPayload) error {
	session, err := c.getSessionFromCtx(ctx)
	if err != nil {
		return err
	}

	// clients cannot post system messages
	if err := session.Chat(ctx, input.Text, protocol.ChatUser); err != nil {
		return fmt.Errorf("failed to post chat message: %w", err)
	}

	return nil
}

func (c controller) handleSuggest(ctx context.Context, _ *websocket.Conn, _ EmptyInput) error {
	session, err := c.getSessionFromCtx(ctx)
	if err != nil {
		return err
	}

	// the collaborator may take seconds; reads continue meanwhile
	go func() {
		if _, err := session.Suggest(ctx); err != nil {
			switch {
			case errors.Is(err, room.ErrCommandRejected),
				errors.Is(err, room.ErrSessionClosed),
				errors.Is(err, room.ErrRoomClosed),
				errors.Is(err, context.Canceled):
				c.logger.DebugContext(ctx, "suggestion skipped", "error", err)
			default:
				c.logger.WarnContext(ctx, "failed to suggest", "error", err)
			}
		}
	}()

	return nil
}
