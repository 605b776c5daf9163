package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, status int, content string, seen *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status >= 400 {
			_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClassifyParsesVerdict(t *testing.T) {
	t.Parallel()

	var seen chatRequest
	srv := chatServer(t, http.StatusOK,
		`{"is_relevant":true,"years_required":1,"tech_stack":["Go","Postgres"],"reason":"Entry level."}`, &seen)
	c, err := New(srv.Client(), Config{Endpoint: srv.URL, APIKey: "sk-test", DescriptionCap: 10}, nil)
	require.NoError(t, err)

	got, err := c.Classify(context.Background(), "Junior Backend Engineer", strings.Repeat("x", 50))
	require.NoError(t, err)
	require.True(t, got.Relevant)
	require.Equal(t, 1, got.YearsRequired)
	require.Equal(t, []string{"Go", "Postgres"}, got.TechStack)
	require.Equal(t, "Entry level.", got.Reason)

	require.Equal(t, DefaultModel, seen.Model)
	require.Equal(t, "json_object", seen.ResponseFormat.Type)
	require.Len(t, seen.Messages, 2)
	require.Contains(t, seen.Messages[1].Content, "Junior Backend Engineer")
	require.Contains(t, seen.Messages[1].Content, strings.Repeat("x", 10))
	require.NotContains(t, seen.Messages[1].Content, strings.Repeat("x", 11))
}

func TestClassifyReturnsAPIError(t *testing.T) {
	t.Parallel()

	srv := chatServer(t, http.StatusTooManyRequests, "", nil)
	c, err := New(srv.Client(), Config{Endpoint: srv.URL, APIKey: "sk-test"}, nil)
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), "Engineer", "")
	require.ErrorContains(t, err, "quota exceeded")
}

func TestClassifyRejectsMalformedContent(t *testing.T) {
	t.Parallel()

	srv := chatServer(t, http.StatusOK, "not json at all", nil)
	c, err := New(srv.Client(), Config{Endpoint: srv.URL, APIKey: "sk-test"}, nil)
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), "Engineer", "")
	require.Error(t, err)
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{}, nil)
	require.ErrorIs(t, err, ErrNoAPIKey)
}

func TestParseVerdict(t *testing.T) {
	t.Parallel()

	got, err := parseVerdict("```json\n{\"is_junior\": true, \"reason\": \"grad role\"}\n```")
	require.NoError(t, err)
	require.True(t, got.Relevant)
	require.Equal(t, "grad role", got.Reason)

	got, err = parseVerdict(`{"is_relevant": false, "is_junior": true}`)
	require.NoError(t, err)
	require.False(t, got.Relevant)
}
