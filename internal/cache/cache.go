// Package cache holds read-side caches that domain events invalidate.
package cache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/jwalitptl/erp-admin/internal/model"
	"github.com/jwalitptl/erp-admin/pkg/event"
	"github.com/jwalitptl/erp-admin/pkg/logger"
)

// Cache key families. Entries are stored as "<family>:<id>" so an
// invalidation of a family removes every entry under it.
const (
	KeyLookup       = "Lookup"
	KeyLookupDetail = "LookupDetail"
)

// Key builds an entry key within a family.
func Key(family, id string) string {
	return family + ":" + id
}

type Store struct {
	c *gocache.Cache
}

func NewStore(ttl, cleanupInterval time.Duration) *Store {
	return &Store{c: gocache.New(ttl, cleanupInterval)}
}

func (s *Store) Get(key string) (interface{}, bool) {
	return s.c.Get(key)
}

func (s *Store) Set(key string, value interface{}) {
	s.c.SetDefault(key, value)
}

// RemoveByPrefix deletes every entry whose key is prefix or starts with
// "prefix:". It returns the number of entries removed.
func (s *Store) RemoveByPrefix(prefix string) int {
	removed := 0
	for key := range s.c.Items() {
		if key == prefix || strings.HasPrefix(key, prefix+":") {
			s.c.Delete(key)
			removed++
		}
	}
	return removed
}

func (s *Store) Len() int {
	return s.c.ItemCount()
}

// RegisterHandlers subscribes the store to CacheInvalidated.
func RegisterHandlers(bus *event.Bus, store *Store, log *logger.Logger) {
	event.Handle(bus, func(_ context.Context, evt model.CacheInvalidated) error {
		for _, key := range evt.Keys {
			n := store.RemoveByPrefix(key)
			log.Debug("cache invalidated", "key", key, "removed", n)
		}
		return nil
	})
}
