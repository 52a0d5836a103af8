package tagger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkcapture/internal/capture"
)

func TestParseTags(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"json array", `["Development", " react ", ""]`, []string{"development", "react"}},
		{"non strings dropped", `["go", 3, null]`, []string{"go"}},
		{"prose around brackets", `Sure! Here you go: ["CSS", 'design'] hope it helps`, []string{"css", "design"}},
		{"empty array", `[]`, []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseTags(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ParseTags("no tags here")
	assert.True(t, errors.Is(err, ErrUnparseable))
}

func messageServer(t *testing.T, text string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_1",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-test",
			"content":       []map[string]any{{"type": "text", "text": text}},
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 10, "output_tokens": 5},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSuggestCallsMessagesAPI(t *testing.T) {
	var body map[string]any
	srv := messageServer(t, `["go", "Tools"]`, &body)

	tg, err := New(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "claude-test"}, nil, option.WithMaxRetries(0))
	require.NoError(t, err)

	tags, err := tg.Suggest(context.Background(), "Go 1.25 released", "https://go.dev/blog", "Release notes")
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "tools"}, tags)

	assert.Equal(t, "claude-test", body["model"])
	assert.EqualValues(t, defaultMaxTokens, body["max_tokens"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 1)
	raw, err := json.Marshal(msgs[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Title: Go 1.25 released")
	assert.Contains(t, string(raw), "URL: https://go.dev/blog")
	assert.Contains(t, string(raw), "home-automation")
}

func TestSuggestRequiresTitle(t *testing.T) {
	tg, err := New(Config{APIKey: "k"}, nil)
	require.NoError(t, err)
	_, err = tg.Suggest(context.Background(), "  ", "", "")
	assert.True(t, errors.Is(err, capture.ErrValidationRejected))
}

func TestSuggestUnparseableReply(t *testing.T) {
	srv := messageServer(t, "I cannot help with that.", nil)
	tg, err := New(Config{APIKey: "test-key", BaseURL: srv.URL}, nil, option.WithMaxRetries(0))
	require.NoError(t, err)

	_, err = tg.Suggest(context.Background(), "Title", "", "")
	assert.True(t, errors.Is(err, ErrUnparseable))
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)

	tg, err := New(Config{APIKey: "k", Vocabulary: []string{"a"}}, nil)
	require.NoError(t, err)
	v := tg.Vocabulary()
	v[0] = "mutated"
	assert.Equal(t, []string{"a"}, tg.Vocabulary())
}
