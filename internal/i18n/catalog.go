// Package i18n loads the backend's message catalog for one locale, caching
// it in local storage between runs.
package i18n

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/ccgate/internal/localstore"
)

// DefaultTTL is how long a cached catalog is used before refetching.
const DefaultTTL = 24 * time.Hour

// Fetcher downloads the catalog for a locale.
type Fetcher interface {
	GetLocalizations(ctx context.Context, locale string) (map[string]string, error)
}

// Options configures a Catalog.
type Options struct {
	TTL    time.Duration
	Now    func() time.Time
	Logger log.Logger
}

// Catalog is the translation table for one locale. Missing keys translate to
// themselves.
type Catalog struct {
	kv     localstore.Store
	fetch  Fetcher
	locale string
	ttl    time.Duration
	now    func() time.Time
	logger log.Logger

	mu       sync.RWMutex
	messages map[string]string
}

// New returns an empty catalog for locale. Call Load to fill it.
func New(kv localstore.Store, fetch Fetcher, locale string, opts Options) (*Catalog, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("i18n: invalid locale %q: %w", locale, err)
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Catalog{
		kv:       kv,
		fetch:    fetch,
		locale:   tag.String(),
		ttl:      opts.TTL,
		now:      opts.Now,
		logger:   opts.Logger.With("locale", tag.String()),
		messages: map[string]string{},
	}, nil
}

// Locale is the canonical BCP 47 tag of the catalog.
func (c *Catalog) Locale() string { return c.locale }

// Translate returns the message for key, or key itself when unknown.
func (c *Catalog) Translate(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.messages[key]; ok && m != "" {
		return m
	}
	return key
}

// Len is the number of loaded messages.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Load fills the catalog. A cached blob younger than the TTL is used as is.
// Otherwise the catalog is fetched and re-cached; if that fails a stale
// cached blob is still used.
func (c *Catalog) Load(ctx context.Context) error {
	cached, fetchedAt, cacheErr := c.readCache(ctx)
	if cacheErr != nil {
		c.logger.Warn(ctx, "ignoring unreadable localization cache", "error", cacheErr)
		cached = nil
	}
	if cached != nil && c.now().Sub(fetchedAt) < c.ttl {
		c.set(cached)
		return nil
	}

	fresh, err := c.fetch.GetLocalizations(ctx, c.locale)
	if err != nil {
		if cached != nil {
			c.logger.Warn(ctx, "using stale localizations", "error", err, "fetched_at", fetchedAt)
			c.set(cached)
			return nil
		}
		return fmt.Errorf("i18n: fetch %s: %w", c.locale, err)
	}
	c.set(fresh)
	if err := c.writeCache(ctx, fresh); err != nil {
		c.logger.Error(ctx, err, "caching localizations failed")
	}
	return nil
}

// Purge removes every cached catalog, for all locales, and returns how many
// keys were deleted. Loaded messages stay in memory.
func (c *Catalog) Purge(ctx context.Context) (int, error) {
	total := 0
	for _, prefix := range localstore.LocalizationPrefixes() {
		n, err := localstore.DeletePrefix(ctx, c.kv, prefix)
		total += n
		if err != nil {
			return total, fmt.Errorf("i18n: purge %s: %w", prefix, err)
		}
	}
	return total, nil
}

func (c *Catalog) set(m map[string]string) {
	c.mu.Lock()
	c.messages = m
	c.mu.Unlock()
}

func (c *Catalog) readCache(ctx context.Context) (map[string]string, time.Time, error) {
	rawAt, ok, err := c.kv.Get(ctx, localstore.LocalizationsUpdatedKey(c.locale))
	if err != nil || !ok {
		return nil, time.Time{}, err
	}
	ms, err := strconv.ParseInt(string(rawAt), 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}
	raw, ok, err := c.kv.Get(ctx, localstore.CachedLocalizationsKey(c.locale))
	if err != nil {
		return nil, time.Time{}, err
	}
	if !ok {
		return nil, time.Time{}, errors.New("timestamp without catalog")
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode catalog: %w", err)
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, time.UnixMilli(ms), nil
}

// writeCache stores the blob, then its timestamp.
func (c *Catalog) writeCache(ctx context.Context, m map[string]string) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := c.kv.Set(ctx, localstore.CachedLocalizationsKey(c.locale), raw); err != nil {
		return err
	}
	at := strconv.FormatInt(c.now().UnixMilli(), 10)
	return c.kv.Set(ctx, localstore.LocalizationsUpdatedKey(c.locale), []byte(at))
}
