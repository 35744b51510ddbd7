package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		d.Duration = time.Duration(int64(val)) * time.Millisecond
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(val)
		return err
	default:
		return nil
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

type Config struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	HTTPPort        int      `json:"http_port"` // 0 disables the ws/health sidecar
	MaxConns        int      `json:"max_conns"`
	QueueSize       int      `json:"queue_size"` // pending-message queue per connection
	SendBufferSize  int      `json:"send_buffer_size"`
	MaxFrameSize    int      `json:"max_frame_size"`
	WriteTimeout    Duration `json:"write_timeout"`
	RateLimitPerSec int      `json:"rate_limit_per_sec"`
	RateLimitBurst  int      `json:"rate_limit_burst"`
	RateLimitShards int      `json:"rate_limit_shards"`
	LogLevel        string   `json:"log_level"`
	LogPretty       bool     `json:"log_pretty"`
}

func Default() *Config {
	return &Config{
		Host:            "0.0.0.0",
		Port:            7878,
		HTTPPort:        0,
		MaxConns:        100000,
		QueueSize:       64,
		SendBufferSize:  32,
		MaxFrameSize:    65536,
		WriteTimeout:    Duration{10 * time.Second},
		RateLimitPerSec: 1000,
		RateLimitBurst:  2000,
		RateLimitShards: 32,
		LogLevel:        "info",
		LogPretty:       false,
	}
}

func LoadFromFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	err = json.Unmarshal(data, cfg)
	return cfg, err
}

func LoadFromEnv() *Config {
	cfg := Default()
	if v := os.Getenv("PUBSUB_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PUBSUB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("PUBSUB_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.HTTPPort = port
		}
	}
	if v := os.Getenv("PUBSUB_MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConns = n
		}
	}
	if v := os.Getenv("PUBSUB_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueSize = n
		}
	}
	if v := os.Getenv("PUBSUB_SEND_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SendBufferSize = n
		}
	}
	if v := os.Getenv("PUBSUB_MAX_FRAME"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxFrameSize = n
		}
	}
	if v := os.Getenv("PUBSUB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PUBSUB_LOG_PRETTY"); v == "true" || v == "1" {
		cfg.LogPretty = true
	}
	return cfg
}
