// Package database provides the named backend-pool registry
// CrawlerContext hands to any component that needs a shared Redis or
// Mongo client (the proxy pool, a Redis-backed queue/filter, a Mongo
// item sink), so those components never dial their own connection.
package database

import (
	"context"
	"time"
)

type Database interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	GetClient() interface{}
	Type() DatabaseType
	Stats() DatabaseStats
}

type DatabaseType string

const (
	TypeMongoDB DatabaseType = "mongodb"
	TypeRedis   DatabaseType = "redis"
)

type DatabaseStats struct {
	Type              DatabaseType  `json:"type"`
	Connected         bool          `json:"connected"`
	ConnectionTime    time.Duration `json:"connection_time"`
	MaxConnections    int           `json:"max_connections"`
	ActiveConnections int           `json:"active_connections"`
	IdleConnections   int           `json:"idle_connections"`
	TotalQueries      int64         `json:"total_queries"`
	ErrorCount        int64         `json:"error_count"`
	LastError         string        `json:"last_error,omitempty"`
}

// Manager is the named-pool registry: one Database per logical name
// ("redis", "mongo", or a spider-specific alias), connected and torn
// down together.
type Manager struct {
	databases map[string]Database
}

func NewManager() *Manager {
	return &Manager{databases: make(map[string]Database)}
}

// Register adds db under name. Connect must still be called (via
// ConnectAll) before GetDatabase's client is usable.
func (m *Manager) Register(name string, db Database) {
	m.databases[name] = db
}

func (m *Manager) GetDatabase(name string) (Database, bool) {
	db, exists := m.databases[name]
	return db, exists
}

func (m *Manager) ConnectAll(ctx context.Context) error {
	for _, db := range m.databases {
		if err := db.Connect(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) DisconnectAll(ctx context.Context) error {
	for _, db := range m.databases {
		if err := db.Disconnect(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) HealthCheckAll(ctx context.Context) map[string]error {
	results := make(map[string]error)
	for name, db := range m.databases {
		results[name] = db.HealthCheck(ctx)
	}
	return results
}

func (m *Manager) AllStats() map[string]DatabaseStats {
	out := make(map[string]DatabaseStats)
	for name, db := range m.databases {
		out[name] = db.Stats()
	}
	return out
}
