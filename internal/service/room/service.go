package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/protocol"
	"github.com/sharetube/watchparty/internal/service/telemetry"
	"golang.org/x/exp/maps"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomClosed      = errors.New("room closed")
	ErrServiceClosed   = errors.New("service closed")
	ErrSessionClosed   = errors.New("session closed")
	ErrCommandRejected = errors.New("command rejected")
	ErrUserExists      = errors.New("user already in room")
	ErrInvalidToken    = errors.New("invalid token")
	ErrJoinRetryLimit  = errors.New("join retry limit reached")
	ErrSuggestPending  = errors.New("suggestion already in progress")
)

const (
	chatContextSize = 5
	joinRetryLimit  = 8
)

type iTelemetry interface {
	Record(telemetry.Report) bool
}

type iSuggester interface {
	Suggest(ctx context.Context, currentTitle string, recentChat []string) []protocol.Suggestion
}

type Config struct {
	MembersLimit  int
	PlaylistLimit int
	Secret        string
	// GracePeriod keeps an empty room alive for rejoins. Zero destroys it
	// as soon as the last user leaves.
	GracePeriod time.Duration
	OutboxSize  int
}

func (cfg Config) Validate() error {
	return validation.ValidateStruct(&cfg,
		validation.Field(&cfg.MembersLimit, validation.Required, validation.Min(1)),
		validation.Field(&cfg.PlaylistLimit, validation.Required, validation.Min(1)),
		validation.Field(&cfg.Secret, validation.Required, validation.Length(8, 0)),
		validation.Field(&cfg.GracePeriod, validation.Min(time.Duration(0))),
		validation.Field(&cfg.OutboxSize, validation.Required, validation.Min(2)),
	)
}

type Service struct {
	config    Config
	clock     clockwork.Clock
	logger    *slog.Logger
	telemetry iTelemetry
	suggester iSuggester

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	rooms  map[string]*authority
	closed bool
}

type Option func(*Service)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

func WithTelemetry(t iTelemetry) Option {
	return func(s *Service) {
		s.telemetry = t
	}
}

func WithSuggester(suggester iSuggester) Option {
	return func(s *Service) {
		s.suggester = suggester
	}
}

func NewService(cfg Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid room service config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		config: cfg,
		clock:  clockwork.NewRealClock(),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]*authority),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

type JoinParams struct {
	RoomId   string
	UserId   string
	Username string
	Token    string
}

func (p JoinParams) validate(ctx context.Context) error {
	return validation.ValidateStructWithContext(ctx, &p,
		validation.Field(&p.RoomId, RoomIdRule...),
		validation.Field(&p.UserId, UserIdRule...),
		validation.Field(&p.Username, UsernameRule...),
	)
}

// Join adds the user to the room, creating its authority on first join.
// The returned session receives room:state before any broadcast.
func (s *Service) Join(ctx context.Context, params *JoinParams) (*Session, error) {
	if err := params.validate(ctx); err != nil {
		return nil, err
	}

	if params.UserId == "" {
		params.UserId = uuid.NewString()
	}

	for attempt := 0; attempt < joinRetryLimit; attempt++ {
		a, err := s.getOrCreate(params.RoomId)
		if err != nil {
			return nil, err
		}

		session, err := a.join(ctx, params)
		if errors.Is(err, ErrRoomClosed) {
			s.logger.DebugContext(ctx, "room closed during join, retrying",
				"room_id", params.RoomId,
				"attempt", attempt,
			)
			continue
		}

		return session, err
	}

	return nil, ErrJoinRetryLimit
}

func (s *Service) getOrCreate(roomId string) (*authority, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrServiceClosed
	}

	if a, ok := s.rooms[roomId]; ok {
		return a, nil
	}

	a := newAuthority(s, roomId)
	s.rooms[roomId] = a

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		a.run(s.ctx)
	}()

	s.logger.Info("room created", "room_id", roomId)
	return a, nil
}

func (s *Service) get(roomId string) (*authority, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.rooms[roomId]
	if !ok {
		return nil, ErrRoomNotFound
	}

	return a, nil
}

// release drops the authority from the table if it is still registered.
func (s *Service) release(a *authority) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rooms[a.id] == a {
		delete(s.rooms, a.id)
	}
}

func (s *Service) Rooms() []string {
	s.mu.Lock()
	ids := maps.Keys(s.rooms)
	s.mu.Unlock()

	slices.Sort(ids)
	return ids
}

func (s *Service) Snapshot(ctx context.Context, roomId string) (domain.Snapshot, error) {
	a, err := s.get(roomId)
	if err != nil {
		return domain.Snapshot{}, err
	}

	var snapshot domain.Snapshot
	if err := a.call(ctx, func() error {
		snapshot = a.room.Snapshot(s.clock.Now())
		return nil
	}); err != nil {
		if errors.Is(err, ErrRoomClosed) {
			return domain.Snapshot{}, ErrRoomNotFound
		}
		return domain.Snapshot{}, err
	}

	return snapshot, nil
}

// Close stops every authority and closes all session outboxes.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.logger.Info("room service closed")
}
