// Package config holds the engine's settings contract: every tunable
// named in the original spider-settings module, loaded through viper so
// a value can come from a YAML file, an env var, or a CLI `-s KEY=VALUE`
// override, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SettingsModuleEnv is the env var naming which settings file to load,
// the Go-side successor to AIOSCRAPY_SETTINGS_MODULE.
const SettingsModuleEnv = "ENGINE_SETTINGS_MODULE"

// Settings is the full set of engine tunables. Each field's mapstructure
// tag is the original upper-snake-case setting key, so `-s KEY=VALUE` and
// env-var overrides can be mapped onto them mechanically (see Apply).
type Settings struct {
	ConcurrentRequests        int           `mapstructure:"CONCURRENT_REQUESTS"`
	ConcurrentRequestsPerDomain int         `mapstructure:"CONCURRENT_REQUESTS_PER_DOMAIN"`
	DownloadDelay              time.Duration `mapstructure:"DOWNLOAD_DELAY"`
	RandomizeDownloadDelay     bool          `mapstructure:"RANDOMIZE_DOWNLOAD_DELAY"`
	DownloadTimeout            time.Duration `mapstructure:"DOWNLOAD_TIMEOUT"`

	SchedulerQueueClass string `mapstructure:"SCHEDULER_QUEUE_CLASS"` // memory|disk|redis|amqp
	SchedulerSerializer string `mapstructure:"SCHEDULER_SERIALIZER"`  // json|msgpack
	SchedulerPersist    bool   `mapstructure:"SCHEDULER_PERSIST"`
	SchedulerFlushOnStart bool `mapstructure:"SCHEDULER_FLUSH_ON_START"`
	SchedulerQueueCache bool   `mapstructure:"SCHEDULER_QUEUE_CACHE"`

	DupefilterClass string `mapstructure:"DUPEFILTER_CLASS"` // memory|disk|redis|bloom
	BloomfilterBit  int    `mapstructure:"BLOOMFILTER_BIT"`  // absolute bit count

	RetryEnabled    bool `mapstructure:"RETRY_ENABLED"`
	RetryTimes      int  `mapstructure:"RETRY_TIMES"`
	RetryHTTPCodes  []int `mapstructure:"RETRY_HTTP_CODES"`

	DepthLimit    int `mapstructure:"DEPTH_LIMIT"`
	DepthPriority int `mapstructure:"DEPTH_PRIORITY"`

	RetryPriorityAdjust int `mapstructure:"RETRY_PRIORITY_ADJUST"`

	HeartbeatInterval  time.Duration `mapstructure:"HEARTBEAT_INTERVAL"`
	CloseSpiderOnIdle  bool          `mapstructure:"CLOSE_SPIDER_ON_IDLE"`
	ShutdownTimeout    time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	CloseSpiderTimeout    time.Duration `mapstructure:"CLOSESPIDER_TIMEOUT"`
	CloseSpiderItemCount  int           `mapstructure:"CLOSESPIDER_ITEMCOUNT"`
	CloseSpiderPageCount  int           `mapstructure:"CLOSESPIDER_PAGECOUNT"`
	CloseSpiderErrorCount int           `mapstructure:"CLOSESPIDER_ERRORCOUNT"`

	UseProxy        bool    `mapstructure:"USE_PROXY"`
	ProxyMinCount   int     `mapstructure:"PROXY_MIN_COUNT"`
	ProxyMaxCount   int     `mapstructure:"PROXY_MAX_COUNT"`
	ProxyMaxRPS     float64 `mapstructure:"PROXY_MAX_RPS_PER_PROXY"`

	JobDir string `mapstructure:"JOBDIR"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`

	RabbitMQURL   string `mapstructure:"RABBITMQ_URL"`
	RabbitMQVhost string `mapstructure:"RABBITMQ_VHOST"`

	MongoURI string `mapstructure:"MONGO_URI"`
	MongoDB  string `mapstructure:"MONGO_DATABASE"`

	AdminAddr string `mapstructure:"ADMIN_ADDR"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	LogFile  string `mapstructure:"LOG_FILE"`

	DingtalkAccessToken string `mapstructure:"DINGTALK_ACCESS_TOKEN"`
	DingtalkSecret      string `mapstructure:"DINGTALK_SECRET"`
}

// Default returns the settings every spider starts from before
// per-project/per-spider overrides are applied.
func Default() *Settings {
	return &Settings{
		ConcurrentRequests:          16,
		ConcurrentRequestsPerDomain: 8,
		DownloadDelay:               0,
		DownloadTimeout:             30 * time.Second,

		SchedulerQueueClass: "memory",
		SchedulerSerializer: "json",

		DupefilterClass: "memory",
		BloomfilterBit:  1 << 24,

		RetryEnabled:   true,
		RetryTimes:     2,
		RetryHTTPCodes: []int{500, 502, 503, 504, 522, 524, 408, 429},

		DepthLimit:    0,
		DepthPriority: 0,

		RetryPriorityAdjust: 1,

		HeartbeatInterval: DefaultHeartbeatInterval,
		CloseSpiderOnIdle: true,
		ShutdownTimeout:   DefaultShutdownTimeout,

		ProxyMinCount: 4,
		ProxyMaxCount: 64,
		ProxyMaxRPS:   5,

		RedisPrefix: "engine",

		AdminAddr: ":9090",

		LogLevel: "info",
	}
}

// Load reads a YAML settings file (if path is non-empty) and layers
// environment variables on top of it; env vars always win, mirroring the
// "any setting overridable by an upper snake case env var" contract. An
// empty path falls back to the file named by SettingsModuleEnv, if set.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(SettingsModuleEnv)
	}
	s := Default()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := v.Unmarshal(s); err != nil {
			return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
		}
	}
	rt := reflect.TypeOf(*s)
	for i := 0; i < rt.NumField(); i++ {
		key := rt.Field(i).Tag.Get("mapstructure")
		if value, ok := os.LookupEnv(key); ok {
			if err := s.set(key, value); err != nil {
				return nil, fmt.Errorf("config: env %s: %w", key, err)
			}
		}
	}
	return s, nil
}

// Apply parses a "-s KEY=VALUE" style override and sets the matching
// field on Settings, used for repeated -s flags; Load applies
// environment-variable overrides through the same setter.
func (s *Settings) Apply(kv string) error {
	key, value, ok := strings.Cut(kv, "=")
	if !ok {
		return fmt.Errorf("config: malformed override %q, want KEY=VALUE", kv)
	}
	return s.set(strings.TrimSpace(key), strings.TrimSpace(value))
}
