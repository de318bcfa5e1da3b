package protocol

import (
	"github.com/sharetube/watchparty/internal/domain"
)

type JoinUser struct {
	Id   string `json:"id" validate:"omitempty,max=64"`
	Name string `json:"name" validate:"required,max=32"`
}

type JoinPayload struct {
	User  JoinUser `json:"user"`
	Token string   `json:"token,omitempty"`
}

type ActionPayload struct {
	Action    domain.Action `json:"action" validate:"required,oneof=play pause seek setVideo"`
	Timestamp float64       `json:"timestamp"`
	VideoId   string        `json:"videoId,omitempty"`
	// SentAt is the sender's wall clock in unix milliseconds.
	SentAt int64 `json:"sentAt,omitempty"`
}

type HeartbeatPayload struct {
	VideoId  string  `json:"videoId" validate:"required"`
	Position float64 `json:"position" validate:"gte=0"`
}

type PlaylistAddPayload struct {
	Id           string   `json:"id" validate:"required,max=64"`
	Title        string   `json:"title,omitempty"`
	ThumbnailUrl string   `json:"thumbnailUrl,omitempty" validate:"omitempty,url"`
	Duration     *float64 `json:"duration,omitempty" validate:"omitempty,gte=0"`
}

func (p PlaylistAddPayload) Video() domain.Video {
	return domain.Video{
		Id:           p.Id,
		Title:        p.Title,
		ThumbnailUrl: p.ThumbnailUrl,
		Duration:     p.Duration,
	}
}

type ModePayload struct {
	Mode domain.Mode `json:"mode" validate:"required,oneof=HOST_ONLY SHARED"`
}

type ChatType string

const (
	ChatUser   ChatType = "user"
	ChatSystem ChatType = "system"
)

type ChatPayload struct {
	Text string   `json:"text" validate:"required,max=1000"`
	Type ChatType `json:"type,omitempty" validate:"omitempty,oneof=user system"`
}

type ChatMessage struct {
	Id        string   `json:"id"`
	UserId    string   `json:"userId,omitempty"`
	UserName  string   `json:"userName,omitempty"`
	Text      string   `json:"text"`
	Type      ChatType `json:"type"`
	Timestamp int64    `json:"timestamp"`
}

type ChatBroadcastPayload struct {
	Message ChatMessage `json:"message"`
}

type SyncPayload struct {
	Action    domain.Action `json:"action"`
	Timestamp float64       `json:"timestamp"`
	VideoId   string        `json:"videoId,omitempty"`
	IsPlaying bool          `json:"isPlaying"`
	Seq       uint64        `json:"seq"`
	IssuedBy  string        `json:"issuedBy,omitempty"`
}

type RoomStatePayload struct {
	domain.Snapshot
	Self  domain.User `json:"self"`
	Token string      `json:"token,omitempty"`
}

type PlaylistUpdatedPayload struct {
	Playlist     []domain.Video `json:"playlist"`
	CurrentIndex int            `json:"currentIndex"`
}

type MembersPayload struct {
	Users []domain.User `json:"users"`
}

type ModeUpdatedPayload struct {
	Mode domain.Mode `json:"mode"`
}

type Suggestion struct {
	Title  string `json:"title"`
	Reason string `json:"reason"`
	// VideoId is set when the recommendation names a playable video.
	VideoId string `json:"videoId,omitempty"`
}

type SuggestResultPayload struct {
	Suggestions []Suggestion `json:"suggestions"`
}
