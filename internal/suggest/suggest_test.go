package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sharetube/watchparty/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  int
	}{
		{"plain", `[{"title":"A","reason":"r"},{"title":"B"}]`, 2},
		{"fenced", "```json\n[{\"title\":\"A\",\"reason\":\"r\"}]\n```", 1},
		{"skips untitled", `[{"title":""},{"title":"B"}]`, 1},
		{"empty", "  ", 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse([]byte(tc.input))
			require.NoError(t, err)
			assert.Len(t, got, tc.want)
		})
	}

	_, err := Parse([]byte("not json"))
	assert.Error(t, err)

	got, err := Parse([]byte(`[{"title":"A","reason":"r","videoId":"vid-a"}]`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "vid-a", got[0].VideoId)
}

func TestHTTPSuggester(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Current Song", req.CurrentTitle)
		assert.Equal(t, []string{"love this"}, req.RecentChat)

		w.Write([]byte("```json\n[{\"title\":\"Next\",\"reason\":\"fits\"}]\n```"))
	}))
	defer srv.Close()

	s := NewHTTPSuggester(srv.URL, "key", time.Second)
	got, err := s.Suggest(context.Background(), "Current Song", []string{"love this"})
	require.NoError(t, err)
	assert.Equal(t, []protocol.Suggestion{{Title: "Next", Reason: "fits"}}, got)
}

func TestHTTPSuggesterStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPSuggester(srv.URL, "", time.Second).Suggest(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

type failingSuggester struct{}

func (failingSuggester) Suggest(context.Context, string, []string) ([]protocol.Suggestion, error) {
	return nil, errors.New("quota exceeded")
}

type slowSuggester struct{}

func (slowSuggester) Suggest(ctx context.Context, _ string, _ []string) ([]protocol.Suggestion, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestServiceDegradesToEmpty(t *testing.T) {
	ctx := context.Background()

	got := NewService(failingSuggester{}, time.Second, slog.Default()).Suggest(ctx, "t", nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	got = NewService(slowSuggester{}, 20*time.Millisecond, slog.Default()).Suggest(ctx, "t", nil)
	assert.Empty(t, got)

	got = NewService(nil, 0, slog.Default()).Suggest(ctx, "t", nil)
	assert.Empty(t, got)
}
