package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load reads the config file at path (optional) with environment overrides,
// applies defaults, and derives the duration fields.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.metrics_port", 9100)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "messaging")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "messaging.events")
	v.SetDefault("kafka.group_id", "messaging-service")
	v.SetDefault("nats.url", "")
	v.SetDefault("cache.unread_ttl_seconds", 5)
	v.SetDefault("cache.conversation_list_ttl_seconds", 30)
	v.SetDefault("ws.ping_interval_seconds", 25)
	v.SetDefault("ws.write_deadline_seconds", 10)
	v.SetDefault("ws.max_message_size_bytes", 65536)
	v.SetDefault("ws.inbound_rps", 10)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}

	c.UnreadTTL = time.Duration(c.Cache.UnreadTTLSeconds) * time.Second
	c.ConvListTTL = time.Duration(c.Cache.ConvListTTLSeconds) * time.Second
	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	return &c, nil
}
