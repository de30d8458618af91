package config

import "time"

type AppConfig struct {
	Env         string `mapstructure:"env"`
	Port        int    `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	JWTSecret   string `mapstructure:"jwt_secret"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type CacheConfig struct {
	UnreadTTLSeconds   int `mapstructure:"unread_ttl_seconds"`
	ConvListTTLSeconds int `mapstructure:"conversation_list_ttl_seconds"`
}

type WSConfig struct {
	PingIntervalSeconds  int   `mapstructure:"ping_interval_seconds"`
	WriteDeadlineSeconds int   `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes  int64 `mapstructure:"max_message_size_bytes"`
	InboundRPS           int   `mapstructure:"inbound_rps"`
}

type Config struct {
	App   AppConfig   `mapstructure:"app"`
	Mongo MongoConfig `mapstructure:"mongo"`
	Redis RedisConfig `mapstructure:"redis"`
	Kafka KafkaConfig `mapstructure:"kafka"`
	NATS  NATSConfig  `mapstructure:"nats"`
	Cache CacheConfig `mapstructure:"cache"`
	WS    WSConfig    `mapstructure:"ws"`

	// derived
	UnreadTTL     time.Duration
	ConvListTTL   time.Duration
	PingInterval  time.Duration
	WriteDeadline time.Duration
}
