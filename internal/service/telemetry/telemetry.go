package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var ErrRecorderRunning = errors.New("recorder already running")

// Report is one heartbeat compared against the authoritative position.
// Drift is positive when the client is ahead.
type Report struct {
	RoomId     string    `json:"roomId"`
	UserId     string    `json:"userId"`
	VideoId    string    `json:"videoId"`
	Position   float64   `json:"position"`
	Expected   float64   `json:"expected"`
	Drift      float64   `json:"drift"`
	ReportedAt time.Time `json:"reportedAt"`
}

type Sink interface {
	Save(ctx context.Context, report Report) error
}

type Config struct {
	BufferSize   int
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BufferSize:   1024,
		WriteTimeout: 2 * time.Second,
	}
}

type Recorder struct {
	sinks   []Sink
	config  Config
	logger  *slog.Logger
	reports chan Report
	dropped atomic.Uint64

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewRecorder(cfg Config, logger *slog.Logger, sinks ...Sink) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}

	return &Recorder{
		sinks:    sinks,
		config:   cfg,
		logger:   logger,
		reports:  make(chan Report, cfg.BufferSize),
		stopChan: make(chan struct{}),
	}
}

// Record queues a report without blocking. It returns false when the
// buffer is full and the report was dropped.
func (r *Recorder) Record(report Report) bool {
	if len(r.sinks) == 0 {
		return true
	}

	select {
	case r.reports <- report:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrRecorderRunning
	}
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx)

	r.logger.Info("telemetry recorder started",
		slog.Int("buffer_size", r.config.BufferSize),
		slog.Int("sinks", len(r.sinks)))

	return nil
}

// Stop flushes queued reports and waits for the worker to exit.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopChan)
	r.wg.Wait()

	r.logger.Info("telemetry recorder stopped", slog.Uint64("dropped", r.Dropped()))
}

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			for {
				select {
				case report := <-r.reports:
					r.save(context.Background(), report)
				default:
					return
				}
			}
		case report := <-r.reports:
			r.save(ctx, report)
		}
	}
}

func (r *Recorder) save(ctx context.Context, report Report) {
	ctx, cancel := context.WithTimeout(ctx, r.config.WriteTimeout)
	defer cancel()

	for _, sink := range r.sinks {
		if err := sink.Save(ctx, report); err != nil {
			r.logger.WarnContext(ctx, "failed to save telemetry report",
				slog.String("room_id", report.RoomId),
				slog.String("user_id", report.UserId),
				slog.String("error", err.Error()))
		}
	}
}
