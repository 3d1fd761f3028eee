package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/ccgate/internal/notify"
)

func TestForward_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, "ccgate-test", log.Nop())
	toast := notify.Toast{
		ID:        "01JN123",
		Level:     notify.LevelError,
		Message:   "Could not load worksites 7",
		CreatedAt: time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
	}
	if err := n.Forward(context.Background(), toast); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok || len(blocks) != 2 {
		t.Fatalf("blocks = %v, want 2", got["blocks"])
	}
	text := blocks[0].(map[string]any)["text"].(map[string]any)["text"].(string)
	if !strings.Contains(text, "Could not load worksites 7") || !strings.HasPrefix(text, "\U0001f534") {
		t.Errorf("section text = %q", text)
	}
	footer := blocks[1].(map[string]any)["elements"].([]any)[0].(map[string]any)["text"].(string)
	if footer != "ccgate-test • 01JN123 • 2026-02-26 14:23 UTC" {
		t.Errorf("footer = %q", footer)
	}
}

func TestForward_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("", "x", nil)
	if err := n.Forward(context.Background(), notify.Toast{}); err != nil {
		t.Fatalf("Forward with empty URL should be no-op, got: %v", err)
	}
}

func TestForward_Non2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := New(srv.URL, "x", log.Nop()).Forward(context.Background(), notify.Toast{Message: "m"})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("err = %v, want 400", err)
	}
}

func TestForward_TruncatesLongMessage(t *testing.T) {
	t.Parallel()

	msg := buildMessage(notify.Toast{Level: notify.LevelError, Message: strings.Repeat("x", 5000)}, "x")
	blocks := msg["blocks"].([]map[string]any)
	text := blocks[0]["text"].(map[string]any)["text"].(string)
	if !strings.HasSuffix(text, "...") || len(text) > maxMessageLen+len("\U0001f534 ") {
		t.Errorf("text length = %d", len(text))
	}
}

func TestLevelEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level notify.Level
		want  string
	}{
		{notify.LevelError, "\U0001f534"},
		{notify.LevelWarning, "\U0001f7e1"},
		{notify.LevelInfo, "\U0001f7e2"},
		{notify.LevelSuccess, "\U0001f7e2"},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			t.Parallel()
			if got := levelEmoji(tt.level); got != tt.want {
				t.Errorf("levelEmoji(%q) = %q, want %q", tt.level, got, tt.want)
			}
		})
	}
}

func FuzzBuildMessage(f *testing.F) {
	f.Add("Could not load users 3", "error")
	f.Add("", "")
	f.Add("<@U123> *bold* _italic_", "warning")
	f.Add(strings.Repeat("A", 5000), "info")

	f.Fuzz(func(t *testing.T, message, level string) {
		msg := buildMessage(notify.Toast{ID: "fuzz", Level: notify.Level(level), Message: message}, "fuzz")
		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("round-trip failed: %v", err)
		}
	})
}
