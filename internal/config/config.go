package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AMI      AMIConfig      `yaml:"ami"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Engine   EngineConfig   `yaml:"engine"`
}

type AMIConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Secret   string `yaml:"secret"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

type PostgresConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type EngineConfig struct {
	BroadcastIntervalSeconds    int      `yaml:"broadcast_interval_seconds"`
	QueueRefreshIntervalSeconds int      `yaml:"queue_refresh_interval_seconds"`
	ReconcileBuffer             int      `yaml:"reconcile_buffer"`
	AgentExtensions             []string `yaml:"agent_extensions"`
}

func (c *EngineConfig) BroadcastInterval() time.Duration {
	return time.Duration(c.BroadcastIntervalSeconds) * time.Second
}

func (c *EngineConfig) QueueRefreshInterval() time.Duration {
	return time.Duration(c.QueueRefreshIntervalSeconds) * time.Second
}

func (c *AMIConfig) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{
		AMI: AMIConfig{
			Host: "127.0.0.1",
			Port: 5038,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "callwatch",
			TopicPrefix: "callwatch",
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Engine: EngineConfig{
			BroadcastIntervalSeconds:    10,
			QueueRefreshIntervalSeconds: 30,
			ReconcileBuffer:             64,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.AMI.Host == "" {
		return fmt.Errorf("ami.host is required")
	}
	if c.AMI.Port < 1 || c.AMI.Port > 65535 {
		return fmt.Errorf("ami.port must be between 1 and 65535, got %d", c.AMI.Port)
	}
	if c.AMI.Username == "" {
		return fmt.Errorf("ami.username is required")
	}
	if c.AMI.Secret == "" {
		return fmt.Errorf("ami.secret is required")
	}
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if c.MQTT.ClientID == "" {
		return fmt.Errorf("mqtt.client_id is required")
	}
	if c.MQTT.TopicPrefix == "" {
		return fmt.Errorf("mqtt.topic_prefix is required")
	}
	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres.url is required")
	}
	if c.Engine.BroadcastIntervalSeconds < 1 {
		return fmt.Errorf("engine.broadcast_interval_seconds must be at least 1, got %d", c.Engine.BroadcastIntervalSeconds)
	}
	if c.Engine.QueueRefreshIntervalSeconds < 1 {
		return fmt.Errorf("engine.queue_refresh_interval_seconds must be at least 1, got %d", c.Engine.QueueRefreshIntervalSeconds)
	}
	if c.Engine.ReconcileBuffer < 1 {
		return fmt.Errorf("engine.reconcile_buffer must be at least 1, got %d", c.Engine.ReconcileBuffer)
	}
	return nil
}
