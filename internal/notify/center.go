// Package notify is the user-visible notification channel: short toasts
// raised by background work, kept in a bounded list that clients poll or
// subscribe to.
package notify

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
)

// DefaultLimit is how many toasts are kept when Options.Limit is unset.
const DefaultLimit = 50

// Level is the severity of a toast.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Toast is one notification.
type Toast struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Forwarder relays toasts to an external channel.
type Forwarder interface {
	Forward(ctx context.Context, t Toast) error
}

// Options configures a Center.
type Options struct {
	Limit     int
	Now       func() time.Time
	Logger    log.Logger
	Forwarder Forwarder
}

// Center collects toasts, newest last, dropping the oldest past the limit.
// Error toasts are also handed to the Forwarder in the background.
type Center struct {
	limit     int
	now       func() time.Time
	logger    log.Logger
	forwarder Forwarder

	mu     sync.Mutex
	toasts []Toast

	subMu   sync.Mutex
	subs    map[int]func(Toast)
	nextSub int

	wg sync.WaitGroup
}

// New returns an empty Center.
func New(opts Options) *Center {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Center{
		limit:     opts.Limit,
		now:       opts.Now,
		logger:    opts.Logger,
		forwarder: opts.Forwarder,
		subs:      make(map[int]func(Toast)),
	}
}

// Push records a toast and notifies subscribers.
func (c *Center) Push(ctx context.Context, level Level, msg string) Toast {
	t := Toast{
		ID:        ulid.Make().String(),
		Level:     level,
		Message:   msg,
		CreatedAt: c.now().UTC(),
	}

	c.mu.Lock()
	c.toasts = append(c.toasts, t)
	if over := len(c.toasts) - c.limit; over > 0 {
		c.toasts = slices.Delete(c.toasts, 0, over)
	}
	c.subMu.Lock()
	c.mu.Unlock()
	for _, id := range slices.Sorted(maps.Keys(c.subs)) {
		c.subs[id](t)
	}
	c.subMu.Unlock()

	if level == LevelError && c.forwarder != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			ctx := context.WithoutCancel(ctx)
			if err := c.forwarder.Forward(ctx, t); err != nil {
				c.logger.Error(ctx, err, "forwarding toast failed", "toast_id", t.ID)
			}
		}()
	}
	return t
}

// Success pushes a success toast.
func (c *Center) Success(ctx context.Context, msg string) Toast {
	return c.Push(ctx, LevelSuccess, msg)
}

// Report pushes an error toast for err with msg as the display text.
func (c *Center) Report(ctx context.Context, err error, msg string) {
	if msg == "" {
		msg = DisplayMessage(err)
	}
	c.logger.Warn(ctx, "reporting error to user", "message", msg, "error", err)
	c.Push(ctx, LevelError, msg)
}

// List returns a copy of the toasts, oldest first.
func (c *Center) List() []Toast {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(make([]Toast, 0, len(c.toasts)), c.toasts...)
}

// Dismiss removes the toast with id and reports whether it existed.
func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.IndexFunc(c.toasts, func(t Toast) bool { return t.ID == id })
	if i < 0 {
		return false
	}
	c.toasts = slices.Delete(c.toasts, i, i+1)
	return true
}

// Subscribe registers fn for new toasts and returns a function removing it.
func (c *Center) Subscribe(fn func(Toast)) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// Wait blocks until background forwarding has finished.
func (c *Center) Wait() {
	c.wg.Wait()
}

// DisplayMessage turns err into text fit for a toast.
func DisplayMessage(err error) string {
	if err == nil {
		return ""
	}
	var d interface{ DisplayMessage() string }
	if errors.As(err, &d) {
		return d.DisplayMessage()
	}
	return err.Error()
}
