package codec

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/fpang/picwizard/internal/session"
)

// DefaultCacheTTL is how long an encoded raster stays cached.
const DefaultCacheTTL = 10 * time.Minute

// Cache memoizes encoded current rasters. Entries are keyed by record ID,
// revision, format and quality, so a committed enhancement or reset
// naturally misses.
type Cache struct {
	c *cache.Cache
}

// NewCache creates a cache whose entries expire after ttl.
// ttl <= 0 selects DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{c: cache.New(ttl, 2*ttl)}
}

// Encoded is an encoded snapshot of a record's current raster.
type Encoded struct {
	Data     []byte
	Format   Format
	Revision uint64
}

// EncodeCurrent returns the encoding of rec's current raster, reusing a
// cached copy when the revision has not changed.
func (c *Cache) EncodeCurrent(rec *session.Record, f Format, quality float64) (*Encoded, error) {
	img, rev := rec.CurrentRevision()
	key := fmt.Sprintf("%s:%d:%s:%.3f", rec.ID, rev, f, quality)

	if x, found := c.c.Get(key); found {
		log.Debug().Str("file", rec.Filename).Uint64("revision", rev).Msg("Encoded raster cache hit")
		return x.(*Encoded), nil
	}

	data, err := EncodeBytes(img, f, quality)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", rec.Filename, err)
	}
	enc := &Encoded{Data: data, Format: f, Revision: rev}
	c.c.Set(key, enc, cache.DefaultExpiration)
	return enc, nil
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.c.ItemCount()
}

// Flush drops every entry.
func (c *Cache) Flush() {
	c.c.Flush()
}
