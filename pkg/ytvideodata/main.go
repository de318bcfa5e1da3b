package ytvideodata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	DefaultOEmbedUrl    = "https://www.youtube.com/oembed"
	DefaultWatchUrl     = "https://www.youtube.com/watch"
	DefaultPageUrl      = "https://youtu.be"
	DefaultThumbnailUrl = "https://i.ytimg.com/vi"
)

type VideoData struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ThumbnailUrl string `json:"thumbnail_url"`
}

type Config struct {
	OEmbedUrl    string
	WatchUrl     string
	PageUrl      string
	ThumbnailUrl string
	Timeout      time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	if cfg.OEmbedUrl == "" {
		cfg.OEmbedUrl = DefaultOEmbedUrl
	}
	if cfg.WatchUrl == "" {
		cfg.WatchUrl = DefaultWatchUrl
	}
	if cfg.PageUrl == "" {
		cfg.PageUrl = DefaultPageUrl
	}
	if cfg.ThumbnailUrl == "" {
		cfg.ThumbnailUrl = DefaultThumbnailUrl
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Get looks the video up through oEmbed and falls back to parsing the
// watch page when the video is not embeddable.
func (c *Client) Get(ctx context.Context, videoId string) (*VideoData, error) {
	videoData, err := c.getWithEmbed(ctx, videoId)
	if err != nil {
		if !errors.Is(err, ErrVideoNotEmbeddable) {
			return nil, fmt.Errorf("failed to get video data with embed: %w", err)
		}

		videoData, err = c.getFromPage(ctx, videoId)
		if err != nil {
			return nil, fmt.Errorf("failed to get video data from page: %w", err)
		}
	}

	return videoData, nil
}
