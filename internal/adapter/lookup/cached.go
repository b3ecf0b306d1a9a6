package lookup

import (
	"context"
	"encoding/json"
	"log/slog"

	"spanlight/internal/domain"
)

// CacheObserver is told about every cache lookup.
type CacheObserver interface {
	CacheResult(cache string, hit bool)
}

// cached is the read-through logic shared by both providers. Only successful
// results are stored; cache failures degrade to a direct fetch.
type cached[T any] struct {
	name     string
	cache    Cache
	observer CacheObserver
	logger   *slog.Logger
}

func (c *cached[T]) get(ctx context.Context, key string, fetch func() (T, error)) (T, error) {
	if c.cache == nil {
		return fetch()
	}
	key = c.name + ":" + key

	if raw, ok, err := c.cache.Get(ctx, key); err != nil {
		c.logger.Warn("lookup cache read failed", "cache", c.name, "error", err)
	} else if ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			c.observe(true)
			return v, nil
		}
	}
	c.observe(false)

	v, err := fetch()
	if err != nil {
		return v, err
	}
	if raw, err := json.Marshal(v); err == nil {
		if err := c.cache.Set(ctx, key, raw); err != nil {
			c.logger.Warn("lookup cache write failed", "cache", c.name, "error", err)
		}
	}
	return v, nil
}

func (c *cached[T]) observe(hit bool) {
	if c.observer != nil {
		c.observer.CacheResult(c.name, hit)
	}
}

// CachedDictionary wraps a DictionaryProvider with a result cache.
type CachedDictionary struct {
	inner domain.DictionaryProvider
	c     cached[[]domain.DictionaryEntry]
}

// NewCachedDictionary wraps inner. A nil cache disables caching.
func NewCachedDictionary(inner domain.DictionaryProvider, cache Cache, observer CacheObserver, logger *slog.Logger) *CachedDictionary {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedDictionary{
		inner: inner,
		c:     cached[[]domain.DictionaryEntry]{name: "dictionary", cache: cache, observer: observer, logger: logger},
	}
}

// Define implements domain.DictionaryProvider.
func (d *CachedDictionary) Define(ctx context.Context, word string) ([]domain.DictionaryEntry, error) {
	return d.c.get(ctx, word, func() ([]domain.DictionaryEntry, error) {
		return d.inner.Define(ctx, word)
	})
}

// CachedEncyclopedia wraps an EncyclopediaProvider with a result cache.
type CachedEncyclopedia struct {
	inner domain.EncyclopediaProvider
	c     cached[*domain.EncyclopediaSummary]
}

// NewCachedEncyclopedia wraps inner. A nil cache disables caching.
func NewCachedEncyclopedia(inner domain.EncyclopediaProvider, cache Cache, observer CacheObserver, logger *slog.Logger) *CachedEncyclopedia {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEncyclopedia{
		inner: inner,
		c:     cached[*domain.EncyclopediaSummary]{name: "encyclopedia", cache: cache, observer: observer, logger: logger},
	}
}

// Summarize implements domain.EncyclopediaProvider.
func (e *CachedEncyclopedia) Summarize(ctx context.Context, phrase string) (*domain.EncyclopediaSummary, error) {
	return e.c.get(ctx, phrase, func() (*domain.EncyclopediaSummary, error) {
		return e.inner.Summarize(ctx, phrase)
	})
}

var (
	_ domain.DictionaryProvider   = (*CachedDictionary)(nil)
	_ domain.EncyclopediaProvider = (*CachedEncyclopedia)(nil)
)
