package e2ee

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const DefaultKeyCacheTTL = time.Hour

// KeyCache memoizes DeriveKey. Entries are keyed by a digest of salt and
// secret, so the secret itself is never held as a map key.
type KeyCache struct {
	cache *ttlcache.Cache[string, []byte]
}

func NewKeyCache(ttl time.Duration) *KeyCache {
	if ttl <= 0 {
		ttl = DefaultKeyCacheTTL
	}
	return &KeyCache{
		cache: ttlcache.New[string, []byte](
			ttlcache.WithTTL[string, []byte](ttl),
			ttlcache.WithCapacity[string, []byte](16),
		),
	}
}

func (c *KeyCache) Derive(secret, salt string) []byte {
	if c == nil {
		return DeriveKey(secret, salt)
	}
	id := cacheID(secret, salt)
	if item := c.cache.Get(id); item != nil {
		return append([]byte(nil), item.Value()...)
	}
	key := DeriveKey(secret, salt)
	c.cache.Set(id, append([]byte(nil), key...), ttlcache.DefaultTTL)
	return key
}

func (c *KeyCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}

// Purge drops every cached key, e.g. when the secret is cleared.
func (c *KeyCache) Purge() {
	if c == nil {
		return
	}
	c.cache.DeleteAll()
}

func cacheID(secret, salt string) string {
	h := sha256.New()
	_, _ = h.Write([]byte(salt))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}
