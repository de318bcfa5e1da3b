package domain

import (
	"errors"
	"time"
)

var (
	ErrNotAllowed       = errors.New("not allowed")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrNoActiveVideo    = errors.New("no active video")
	ErrStaleCommand     = errors.New("command targets inactive video")
	ErrUnknownAction    = errors.New("unknown action")
	ErrInvalidMode      = errors.New("invalid mode")
	ErrEmptyPlaylist    = errors.New("playlist is empty")
)

const (
	DefaultMembersLimit  = 9
	DefaultPlaylistLimit = 25
)

type Mode string

const (
	ModeHostOnly Mode = "HOST_ONLY"
	ModeShared   Mode = "SHARED"
)

func (m Mode) Valid() bool {
	return m == ModeHostOnly || m == ModeShared
}

// Command is a player intent. SentAt is the sender's wall clock and is
// never used for ordering.
type Command struct {
	Action    Action
	Timestamp float64
	VideoId   string
	SenderId  string
	SentAt    time.Time
}

type Config struct {
	MembersLimit  int
	PlaylistLimit int
}

type Room struct {
	Id       string
	Playlist *Playlist
	Users    *Users
	Player   PlayerState
	Mode     Mode
	// Seq is incremented on every accepted player change.
	Seq uint64
}

func NewRoom(id string, cfg Config) *Room {
	return &Room{
		Id:       id,
		Playlist: NewPlaylist(cfg.PlaylistLimit),
		Users:    NewUsers(cfg.MembersLimit),
		Mode:     ModeHostOnly,
	}
}

func (r Room) CanControl(userId string) bool {
	user, _, err := r.Users.GetById(userId)
	if err != nil {
		return false
	}

	return user.Role == RoleHost || r.Mode == ModeShared
}

func (r Room) checkControl(userId string) error {
	if _, _, err := r.Users.GetById(userId); err != nil {
		return err
	}

	if !r.CanControl(userId) {
		return ErrNotAllowed
	}

	return nil
}

// Apply validates cmd against the room and, when accepted, replaces the
// player state. A rejected command leaves the room untouched.
func (r *Room) Apply(cmd Command, now time.Time) (PlayerState, error) {
	if err := r.checkControl(cmd.SenderId); err != nil {
		return r.Player, err
	}

	if !ValidTimestamp(cmd.Timestamp) {
		return r.Player, ErrInvalidTimestamp
	}

	next := r.Player
	switch cmd.Action {
	case ActionSetVideo:
		if _, err := r.Playlist.Select(cmd.VideoId); err != nil {
			return r.Player, err
		}

		next = PlayerState{VideoId: cmd.VideoId}
	case ActionPlay, ActionPause, ActionSeek:
		if r.Player.Status() == StatusIdle {
			return r.Player, ErrNoActiveVideo
		}

		if cmd.VideoId != "" && cmd.VideoId != r.Player.VideoId {
			return r.Player, ErrStaleCommand
		}

		next.Position = cmd.Timestamp
		switch cmd.Action {
		case ActionPlay:
			next.IsPlaying = true
		case ActionPause:
			next.IsPlaying = false
		}
	default:
		return r.Player, ErrUnknownAction
	}

	next.LastUpdated = now
	r.Player = next
	r.Seq++

	return r.Player, nil
}

func (r *Room) ApplyCommand(cmd Command, now time.Time) (PlayerState, bool) {
	state, err := r.Apply(cmd, now)
	return state, err == nil
}

// Advance moves to the next playlist entry, wrapping at the end, and loads
// it paused at zero.
func (r *Room) Advance(senderId string, now time.Time) (PlayerState, error) {
	if err := r.checkControl(senderId); err != nil {
		return r.Player, err
	}

	video, ok := r.Playlist.Next()
	if !ok {
		return r.Player, ErrEmptyPlaylist
	}

	r.Player = PlayerState{
		VideoId:     video.Id,
		LastUpdated: now,
	}
	r.Seq++

	return r.Player, nil
}

func (r *Room) AppendVideo(senderId string, video Video) error {
	if err := r.checkControl(senderId); err != nil {
		return err
	}

	return r.Playlist.Add(video)
}

func (r *Room) SetMode(senderId string, mode Mode) error {
	user, _, err := r.Users.GetById(senderId)
	if err != nil {
		return err
	}

	if user.Role != RoleHost {
		return ErrNotAllowed
	}

	if !mode.Valid() {
		return ErrInvalidMode
	}

	r.Mode = mode
	return nil
}

// AddUser makes the first user of the room its host.
func (r *Room) AddUser(user User) (User, error) {
	user.Role = RoleGuest
	if _, ok := r.Users.Host(); !ok {
		user.Role = RoleHost
	}

	if err := r.Users.Add(user); err != nil {
		return User{}, err
	}

	return user, nil
}

// RemoveUser removes the user and, when the host left, promotes the earliest
// joined remaining user. promoted is nil when no promotion happened.
func (r *Room) RemoveUser(id string) (removed User, promoted *User, err error) {
	removed, err = r.Users.RemoveById(id)
	if err != nil {
		return User{}, nil, err
	}

	if removed.Role != RoleHost || r.Users.Length() == 0 {
		return removed, nil, nil
	}

	if _, ok := r.Users.Host(); ok {
		return removed, nil, nil
	}

	next := r.Users.AsList()[0]
	host, err := r.Users.SetRole(next.Id, RoleHost)
	if err != nil {
		return removed, nil, err
	}

	return removed, &host, nil
}

type Snapshot struct {
	RoomId       string      `json:"roomId"`
	Mode         Mode        `json:"mode"`
	Playlist     []Video     `json:"playlist"`
	CurrentIndex int         `json:"currentIndex"`
	CurrentVideo *Video      `json:"currentVideo"`
	Player       PlayerState `json:"player"`
	Users        []User      `json:"users"`
	Seq          uint64      `json:"seq"`
}

// Snapshot projects the room with the player position estimated at now.
func (r Room) Snapshot(now time.Time) Snapshot {
	player := r.Player
	player.Position = EstimatePosition(r.Player, now)
	player.LastUpdated = now

	var current *Video
	if video, ok := r.Playlist.Current(); ok {
		current = &video
	}

	return Snapshot{
		RoomId:       r.Id,
		Mode:         r.Mode,
		Playlist:     r.Playlist.AsList(),
		CurrentIndex: r.Playlist.Index(),
		CurrentVideo: current,
		Player:       player,
		Users:        r.Users.AsList(),
		Seq:          r.Seq,
	}
}
