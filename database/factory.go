package database

import "github.com/nyxcrawl/scrapyengine/config"

// NewManagerFromSettings builds a Manager with a "redis" entry (if
// s.RedisAddr is set) and a "mongo" entry (if s.MongoURI is set),
// leaving it to the caller to ConnectAll before use.
func NewManagerFromSettings(s *config.Settings) *Manager {
	m := NewManager()
	if s.RedisAddr != "" {
		m.Register("redis", NewRedis(s.RedisAddr, s.RedisPassword, s.RedisDB))
	}
	if s.MongoURI != "" {
		m.Register("mongo", NewMongo(s.MongoURI, s.MongoDB))
	}
	return m
}
