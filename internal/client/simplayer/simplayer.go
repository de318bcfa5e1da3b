// Package simplayer is a deterministic video widget driven by a clock.
// Programmatic calls change state silently; the User* methods simulate a
// viewer and report through the registered callbacks.
package simplayer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type Player struct {
	clock clockwork.Clock

	mu        sync.Mutex
	videoId   string
	playing   bool
	position  float64
	anchor    time.Time
	ready     bool
	destroyed bool
	seeks     int
	loads     []string

	onReady       func()
	onStateChange func(playing bool)
}

func New(clock clockwork.Clock) *Player {
	return &Player{
		clock:  clock,
		anchor: clock.Now(),
	}
}

// SetCallbacks registers the widget's onReady and onStateChange hooks.
func (p *Player) SetCallbacks(onReady func(), onStateChange func(playing bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.onReady = onReady
	p.onStateChange = onStateChange
}

func (p *Player) Load(videoId string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.videoId = videoId
	p.playing = false
	p.position = 0
	p.anchor = p.clock.Now()
	p.loads = append(p.loads, videoId)
}

func (p *Player) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setPlaying(true)
}

func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setPlaying(false)
}

func (p *Player) SeekTo(seconds float64, _ bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.position = max(seconds, 0)
	p.anchor = p.clock.Now()
	p.seeks++
}

func (p *Player) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentTime()
}

func (p *Player) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.playing = false
	p.destroyed = true
}

func (p *Player) setPlaying(playing bool) {
	if p.playing == playing {
		return
	}

	p.position = p.currentTime()
	p.anchor = p.clock.Now()
	p.playing = playing
}

func (p *Player) currentTime() float64 {
	if !p.playing {
		return p.position
	}

	return p.position + p.clock.Since(p.anchor).Seconds()
}

// Ready marks the widget initialized and fires onReady.
func (p *Player) Ready() {
	p.mu.Lock()
	p.ready = true
	onReady := p.onReady
	p.mu.Unlock()

	if onReady != nil {
		onReady()
	}
}

// UserPlay simulates the viewer pressing play.
func (p *Player) UserPlay() {
	p.userToggle(true)
}

// UserPause simulates the viewer pressing pause.
func (p *Player) UserPause() {
	p.userToggle(false)
}

func (p *Player) userToggle(playing bool) {
	p.mu.Lock()
	p.setPlaying(playing)
	onStateChange := p.onStateChange
	p.mu.Unlock()

	if onStateChange != nil {
		onStateChange(playing)
	}
}

// Stall moves the local position without counting as a seek, the way
// buffering makes a real widget fall behind.
func (p *Player) Stall(position float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.position = position
	p.anchor = p.clock.Now()
}

func (p *Player) VideoId() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.videoId
}

func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *Player) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *Player) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// Seeks counts SeekTo calls.
func (p *Player) Seeks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seeks
}

func (p *Player) Loads() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.loads...)
}
