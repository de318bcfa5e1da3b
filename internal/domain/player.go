package domain

import (
	"math"
	"time"
)

type Action string

const (
	ActionPlay     Action = "play"
	ActionPause    Action = "pause"
	ActionSeek     Action = "seek"
	ActionSetVideo Action = "setVideo"
)

func (a Action) Valid() bool {
	switch a {
	case ActionPlay, ActionPause, ActionSeek, ActionSetVideo:
		return true
	}

	return false
}

type Status string

const (
	StatusIdle    Status = "IDLE"
	StatusLoaded  Status = "LOADED"
	StatusPlaying Status = "PLAYING"
)

// PlayerState is the canonical player of a room. The live position is never
// stored: it is derived from Position and LastUpdated by EstimatePosition.
type PlayerState struct {
	VideoId     string    `json:"videoId"`
	IsPlaying   bool      `json:"isPlaying"`
	Position    float64   `json:"position"`
	LastUpdated time.Time `json:"lastUpdated"`
}

func (p PlayerState) Status() Status {
	switch {
	case p.VideoId == "":
		return StatusIdle
	case p.IsPlaying:
		return StatusPlaying
	default:
		return StatusLoaded
	}
}

// EstimatePosition returns the playback position in seconds at now.
// It never decreases while playing and is constant while paused.
func EstimatePosition(p PlayerState, now time.Time) float64 {
	if !p.IsPlaying {
		return p.Position
	}

	elapsed := now.Sub(p.LastUpdated).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	return p.Position + elapsed
}

func Drift(local, target float64) float64 {
	return math.Abs(local - target)
}

func ValidTimestamp(t float64) bool {
	return !math.IsNaN(t) && !math.IsInf(t, 0) && t >= 0
}
