package domain

import (
	"errors"
)

var (
	ErrVideoNotFound        = errors.New("video not found")
	ErrPlaylistLimitReached = errors.New("playlist limit reached")
)

type Video struct {
	Id           string   `json:"id"`
	Title        string   `json:"title"`
	ThumbnailUrl string   `json:"thumbnailUrl"`
	Duration     *float64 `json:"duration,omitempty"`
}

// Playlist is append-only. index is -1 until a video is activated and
// then always points at the active entry.
type Playlist struct {
	list  []Video
	index int
	limit int
}

func NewPlaylist(limit int) *Playlist {
	return &Playlist{
		list:  []Video{},
		index: -1,
		limit: limit,
	}
}

func (p Playlist) AsList() []Video {
	list := make([]Video, len(p.list))
	copy(list, p.list)
	return list
}

func (p Playlist) Length() int {
	return len(p.list)
}

func (p Playlist) Index() int {
	return p.index
}

func (p Playlist) Current() (Video, bool) {
	if p.index < 0 {
		return Video{}, false
	}

	return p.list[p.index], true
}

func (p Playlist) IndexOf(id string) int {
	for index, video := range p.list {
		if video.Id == id {
			return index
		}
	}

	return -1
}

func (p *Playlist) Add(video Video) error {
	if p.limit > 0 && p.Length() >= p.limit {
		return ErrPlaylistLimitReached
	}

	p.list = append(p.list, video)
	return nil
}

// Select moves the index to the first entry with the given id.
func (p *Playlist) Select(id string) (Video, error) {
	index := p.IndexOf(id)
	if index < 0 {
		return Video{}, ErrVideoNotFound
	}

	p.index = index
	return p.list[index], nil
}

// Next advances the index, wrapping modulo the playlist length. From an
// inactive playlist it activates the first entry.
func (p *Playlist) Next() (Video, bool) {
	if len(p.list) == 0 {
		return Video{}, false
	}

	p.index = (p.index + 1) % len(p.list)
	return p.list[p.index], true
}
