package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type RedisDatabase struct {
	BaseDatabase
	addr     string
	password string
	db       int
	client   *redis.Client
}

func NewRedis(addr, password string, db int) *RedisDatabase {
	return &RedisDatabase{addr: addr, password: password, db: db}
}

func (r *RedisDatabase) Connect(ctx context.Context) error {
	start := time.Now()

	client := redis.NewClient(&redis.Options{
		Addr:     r.addr,
		Password: r.password,
		DB:       r.db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		r.SetLastError(err.Error())
		r.IncrementErrorCount()
		return fmt.Errorf("redis connect: %w", err)
	}

	r.client = client
	r.SetConnected(true)
	r.SetConnectionTime(time.Since(start))
	r.SetLastError("")
	return nil
}

func (r *RedisDatabase) Disconnect(ctx context.Context) error {
	if !r.IsConnected() || r.client == nil {
		return nil
	}
	if err := r.client.Close(); err != nil {
		r.SetLastError(err.Error())
		r.IncrementErrorCount()
		return err
	}
	r.SetConnected(false)
	r.client = nil
	return nil
}

func (r *RedisDatabase) HealthCheck(ctx context.Context) error {
	if !r.IsConnected() || r.client == nil {
		return fmt.Errorf("redis: not connected")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := r.client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *RedisDatabase) GetClient() interface{} { return r.client }

// Client returns the typed *redis.Client directly, for callers (the
// queue/filter/proxy factories) that don't want to unwrap GetClient's
// interface{}.
func (r *RedisDatabase) Client() *redis.Client { return r.client }

func (r *RedisDatabase) Type() DatabaseType { return TypeRedis }

func (r *RedisDatabase) Stats() DatabaseStats {
	stats := DatabaseStats{
		Type:           TypeRedis,
		Connected:      r.IsConnected(),
		ConnectionTime: r.GetConnectionTime(),
		TotalQueries:   r.GetQueryCount(),
		ErrorCount:     r.GetErrorCount(),
		LastError:      r.GetLastError(),
	}
	if r.IsConnected() {
		stats.MaxConnections = 1
		stats.ActiveConnections = 1
	}
	return stats
}
