package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/linnemanlabs/go-core/log"
)

type fakeForwarder struct {
	mu  sync.Mutex
	got []Toast
	err error
}

func (f *fakeForwarder) Forward(_ context.Context, t Toast) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, t)
	return f.err
}

func messages(ts []Toast) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Message
	}
	return out
}

func TestPush_BoundedOldestDropped(t *testing.T) {
	t.Parallel()

	c := New(Options{Limit: 3, Logger: log.Nop()})
	ctx := context.Background()
	for i := range 5 {
		c.Push(ctx, LevelInfo, fmt.Sprintf("m%d", i))
	}
	if diff := cmp.Diff([]string{"m2", "m3", "m4"}, messages(c.List())); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}
}

func TestPush_AssignsIDsAndTime(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New(Options{Now: func() time.Time { return at }})
	a := c.Push(context.Background(), LevelSuccess, "Invitations sent")
	b := c.Success(context.Background(), "Cache cleared")

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("ids = %q, %q, want distinct non-empty", a.ID, b.ID)
	}
	if !a.CreatedAt.Equal(at) || b.Level != LevelSuccess {
		t.Errorf("toast = %+v", b)
	}
}

func TestReport_ForwardsErrorToasts(t *testing.T) {
	t.Parallel()

	fwd := &fakeForwarder{err: errors.New("slack down")}
	c := New(Options{Forwarder: fwd})
	ctx := context.Background()

	c.Push(ctx, LevelInfo, "not forwarded")
	c.Report(ctx, errors.New("boom"), "Could not load teams 2")
	c.Report(ctx, errors.New("raw error"), "")
	c.Wait()

	fwd.mu.Lock()
	defer fwd.mu.Unlock()
	want := []string{"Could not load teams 2", "raw error"}
	got := messages(fwd.got)
	// forwarding is concurrent
	if len(got) == 2 && got[0] != want[0] {
		got[0], got[1] = got[1], got[0]
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("forwarded mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"not forwarded", "Could not load teams 2", "raw error"}, messages(c.List())); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}
}

func TestDismiss(t *testing.T) {
	t.Parallel()

	c := New(Options{})
	a := c.Push(context.Background(), LevelInfo, "a")
	c.Push(context.Background(), LevelInfo, "b")

	if !c.Dismiss(a.ID) {
		t.Error("Dismiss existing = false")
	}
	if c.Dismiss(a.ID) {
		t.Error("Dismiss twice = true")
	}
	if diff := cmp.Diff([]string{"b"}, messages(c.List())); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscribe(t *testing.T) {
	t.Parallel()

	c := New(Options{})
	var seen []string
	unsubscribe := c.Subscribe(func(t Toast) { seen = append(seen, t.Message) })
	c.Push(context.Background(), LevelInfo, "one")
	unsubscribe()
	c.Push(context.Background(), LevelInfo, "two")

	if diff := cmp.Diff([]string{"one"}, seen); diff != "" {
		t.Errorf("seen mismatch (-want +got):\n%s", diff)
	}
}

type displayErr struct{}

func (displayErr) Error() string          { return "internal: 503 upstream" }
func (displayErr) DisplayMessage() string { return "Service unavailable" }

func TestDisplayMessage(t *testing.T) {
	t.Parallel()

	if got := DisplayMessage(nil); got != "" {
		t.Errorf("nil = %q", got)
	}
	if got := DisplayMessage(errors.New("plain")); got != "plain" {
		t.Errorf("plain = %q", got)
	}
	if got := DisplayMessage(fmt.Errorf("wrapped: %w", displayErr{})); got != "Service unavailable" {
		t.Errorf("wrapped = %q", got)
	}
}
