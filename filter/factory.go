package filter

import (
	"fmt"
	"path/filepath"

	"github.com/go-redis/redis/v8"

	"github.com/nyxcrawl/scrapyengine/config"
)

// New builds the Filter named by settings.DupefilterClass ("memory",
// "disk", "redis", "bloom") — a compile-time switch standing in for the
// original engine's string-based class lookup.
func New(s *config.Settings, redisClient *redis.Client, spider string) (Filter, error) {
	switch s.DupefilterClass {
	case "", "memory":
		return NewMemoryFilter(), nil
	case "disk":
		if s.JobDir == "" {
			return nil, fmt.Errorf("filter: DUPEFILTER_CLASS=disk requires JOBDIR")
		}
		return NewDiskFilter(filepath.Join(s.JobDir, spider))
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("filter: DUPEFILTER_CLASS=redis requires a Redis client")
		}
		return NewRedisFilter(redisClient, s.RedisPrefix, spider), nil
	case "bloom":
		return NewBloomFilter(uint(s.BloomfilterBit)), nil
	default:
		return nil, fmt.Errorf("filter: unknown DUPEFILTER_CLASS %q", s.DupefilterClass)
	}
}
