package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sharetube/watchparty/internal/protocol"
)

var ErrUnexpectedStatus = errors.New("unexpected status code")

const maxResponseSize = 1 << 20

type Suggester interface {
	Suggest(ctx context.Context, currentTitle string, recentChat []string) ([]protocol.Suggestion, error)
}

type request struct {
	CurrentTitle string   `json:"currentTitle"`
	RecentChat   []string `json:"recentChat"`
	Count        int      `json:"count"`
}

// HTTPSuggester posts the listening context to a recommendation endpoint.
// The reply is a JSON list of {title, reason}, optionally wrapped in a
// markdown code fence.
type HTTPSuggester struct {
	url    string
	apiKey string
	count  int
	client *http.Client
}

func NewHTTPSuggester(url, apiKey string, timeout time.Duration) *HTTPSuggester {
	return &HTTPSuggester{
		url:    url,
		apiKey: apiKey,
		count:  3,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSuggester) Suggest(ctx context.Context, currentTitle string, recentChat []string) ([]protocol.Suggestion, error) {
	body, err := json.Marshal(request{
		CurrentTitle: currentTitle,
		RecentChat:   recentChat,
		Count:        s.count,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return Parse(data)
}

// Parse decodes a suggestion list, tolerating a surrounding code fence.
// Entries without a title are skipped.
func Parse(data []byte) ([]protocol.Suggestion, error) {
	text := strings.TrimSpace(string(data))
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)
	if text == "" {
		return []protocol.Suggestion{}, nil
	}

	var raw []protocol.Suggestion
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode suggestions: %w", err)
	}

	suggestions := make([]protocol.Suggestion, 0, len(raw))
	for _, s := range raw {
		if strings.TrimSpace(s.Title) == "" {
			continue
		}
		suggestions = append(suggestions, s)
	}

	return suggestions, nil
}

// Service never fails: errors and timeouts are logged and become an
// empty list.
type Service struct {
	suggester Suggester
	timeout   time.Duration
	logger    *slog.Logger
}

func NewService(suggester Suggester, timeout time.Duration, logger *slog.Logger) *Service {
	return &Service{
		suggester: suggester,
		timeout:   timeout,
		logger:    logger,
	}
}

func (s *Service) Suggest(ctx context.Context, currentTitle string, recentChat []string) []protocol.Suggestion {
	if s.suggester == nil {
		return []protocol.Suggestion{}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	suggestions, err := s.suggester.Suggest(ctx, currentTitle, recentChat)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to get suggestions", "error", err)
		return []protocol.Suggestion{}
	}

	if suggestions == nil {
		return []protocol.Suggestion{}
	}

	return suggestions
}
