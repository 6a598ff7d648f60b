package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config содержит настройки relay и утилиты devlens-tail.
type Config struct {
	HTTP HTTPConfig `json:"http" yaml:"http" toml:"http"`
	WS   WSConfig   `json:"ws" yaml:"ws" toml:"ws"`
	Host HostConfig `json:"host" yaml:"host" toml:"host"`
	Log  LogConfig  `json:"log" yaml:"log" toml:"log"`

	// Source содержит путь к прочитанному файлу; пусто, если использованы значения по умолчанию.
	Source string `json:"-" yaml:"-" toml:"-"`
}

// HTTPConfig описывает транспорт запрос/ответ.
type HTTPConfig struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	MaxBodyBytes int64  `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	EventsPath   string `json:"events_path" yaml:"events_path" toml:"events_path"`
}

// WSConfig описывает постоянный двунаправленный транспорт.
type WSConfig struct {
	Addr          string   `json:"addr" yaml:"addr" toml:"addr"`
	Path          string   `json:"path" yaml:"path" toml:"path"`
	MaxFrameBytes int64    `json:"max_frame_bytes" yaml:"max_frame_bytes" toml:"max_frame_bytes"`
	PingInterval  Duration `json:"ping_interval" yaml:"ping_interval" toml:"ping_interval"`
	ReadTimeout   Duration `json:"read_timeout" yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout  Duration `json:"write_timeout" yaml:"write_timeout" toml:"write_timeout"`
}

// HostConfig определяет, куда пересылаются события. Пустой ForwardURL означает встроенную шину.
type HostConfig struct {
	ForwardURL       string   `json:"forward_url" yaml:"forward_url" toml:"forward_url"`
	Timeout          Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	SubscriberBuffer int      `json:"subscriber_buffer" yaml:"subscriber_buffer" toml:"subscriber_buffer"`
}

type LogConfig struct {
	Level      string `json:"level" yaml:"level" toml:"level"`
	File       string `json:"file" yaml:"file" toml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days" toml:"max_age_days"`
}

// Duration читается из строк вида "30s" во всех трёх форматах.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

const defaultMaxBytes = 2 << 20

// Default возвращает конфигурацию по умолчанию: порты совпадают с адресами, которые ожидает SDK.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:         "127.0.0.1:9527",
			MaxBodyBytes: defaultMaxBytes,
			EventsPath:   "/events",
		},
		WS: WSConfig{
			Addr:          "0.0.0.0:3927",
			Path:          "/ws",
			MaxFrameBytes: defaultMaxBytes,
			PingInterval:  Duration{54 * time.Second},
			ReadTimeout:   Duration{60 * time.Second},
			WriteTimeout:  Duration{10 * time.Second},
		},
		Host: HostConfig{
			Timeout:          Duration{5 * time.Second},
			SubscriberBuffer: 256,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// LoadConfig загружает конфигурацию: значения по умолчанию, затем файл (если он есть),
// затем переменные окружения DEVLENS_*.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		err := cfg.loadFile(path)
		switch {
		case err == nil:
			cfg.Source = path
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, c)
	case ".toml":
		return toml.Unmarshal(b, c)
	case ".json":
		return json.Unmarshal(b, c)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}

func (c *Config) applyEnv() {
	c.HTTP.Addr = envOr("DEVLENS_HTTP_ADDR", c.HTTP.Addr)
	c.WS.Addr = envOr("DEVLENS_WS_ADDR", c.WS.Addr)
	c.Host.ForwardURL = envOr("DEVLENS_FORWARD_URL", c.Host.ForwardURL)
	c.Log.Level = envOr("DEVLENS_LOG_LEVEL", c.Log.Level)
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.WS.Addr == "" {
		errs = append(errs, errors.New("ws.addr is required"))
	}
	if c.HTTP.Addr != "" && c.HTTP.Addr == c.WS.Addr {
		errs = append(errs, errors.New("http.addr and ws.addr must differ"))
	}
	if !strings.HasPrefix(c.WS.Path, "/") {
		errs = append(errs, fmt.Errorf("ws.path %q must start with /", c.WS.Path))
	}
	if !strings.HasPrefix(c.HTTP.EventsPath, "/") {
		errs = append(errs, fmt.Errorf("http.events_path %q must start with /", c.HTTP.EventsPath))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be positive"))
	}
	if c.WS.MaxFrameBytes <= 0 {
		errs = append(errs, errors.New("ws.max_frame_bytes must be positive"))
	}
	if c.WS.PingInterval.Duration <= 0 || c.WS.ReadTimeout.Duration <= c.WS.PingInterval.Duration {
		errs = append(errs, errors.New("ws.read_timeout must exceed a positive ws.ping_interval"))
	}
	if c.WS.WriteTimeout.Duration <= 0 {
		errs = append(errs, errors.New("ws.write_timeout must be positive"))
	}
	if c.Host.SubscriberBuffer <= 0 {
		errs = append(errs, errors.New("host.subscriber_buffer must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func envOr(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
