package queue

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/go-redis/redis/v8"

	"github.com/nyxcrawl/scrapyengine/config"
)

// New builds the Queue named by settings.SchedulerQueueClass ("memory",
// "disk", "redis", "amqp") for spider.
func New(s *config.Settings, redisClient *redis.Client, spider string, logger *slog.Logger) (Queue, error) {
	ser, err := NewSerializer(s.SchedulerSerializer)
	if err != nil {
		return nil, err
	}

	switch s.SchedulerQueueClass {
	case "", "memory":
		return NewMemoryQueue(), nil
	case "disk":
		if s.JobDir == "" {
			return nil, fmt.Errorf("queue: SCHEDULER_QUEUE_CLASS=disk requires JOBDIR")
		}
		return NewDiskQueue(filepath.Join(s.JobDir, spider, "queue"), ser)
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("queue: SCHEDULER_QUEUE_CLASS=redis requires a Redis client")
		}
		return NewRedisQueue(redisClient, s.RedisPrefix, spider, ser), nil
	case "amqp":
		if s.RabbitMQURL == "" {
			return nil, fmt.Errorf("queue: SCHEDULER_QUEUE_CLASS=amqp requires RABBITMQ_URL")
		}
		return NewAMQPQueue(s.RabbitMQURL, s.RedisPrefix, spider, ser, logger)
	default:
		return nil, fmt.Errorf("queue: unknown SCHEDULER_QUEUE_CLASS %q", s.SchedulerQueueClass)
	}
}
