// Package durableconfig loads the server's configuration from a YAML
// file with environment variable overrides, the way config.Loader
// does for the teacher, but layers github.com/kelseyhightower/envconfig
// over the env pass instead of a hand-rolled reflection walk.
package durableconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration: listen address, discovery
// surface, archive and broker backend selection, and the ambient
// logging/telemetry stack.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Signature SignatureConfig `yaml:"signature"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Broker    BrokerConfig    `yaml:"broker"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" envconfig:"HTTP_ADDR"`
	MetricsAddr     string        `yaml:"metrics_addr" envconfig:"METRICS_ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`

	// TLSCertFile and TLSKeyFile enable TLS on the HTTP server when
	// both are set. The negotiated connection is hardened through
	// tlsutil.DefaultTLSConfig (TLS 1.2+, AEAD-only cipher suites)
	// rather than net/http's defaults.
	TLSCertFile string `yaml:"tls_cert_file" envconfig:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" envconfig:"TLS_KEY_FILE"`
}

// SignatureConfig controls how inbound /invoke requests are
// authenticated. Mode "none" uses server.NoopValidator; "jwt" uses
// server.JWTValidator with Secret as the HMAC key.
type SignatureConfig struct {
	Mode   string `yaml:"mode" envconfig:"MODE"`
	Secret string `yaml:"secret" envconfig:"SECRET"`
}

// ArchiveConfig selects and configures one of archive.Archive's
// backends. DSN is interpreted according to Backend: a gorm DSN for
// "postgres"/"mysql"/"sqlite", a host:port for "redis", a connection
// URI for "mongo".
type ArchiveConfig struct {
	Backend  string `yaml:"backend" envconfig:"BACKEND"`
	DSN      string `yaml:"dsn" envconfig:"DSN"`
	Database string `yaml:"database" envconfig:"DATABASE"`
}

// BrokerConfig selects the awakeable broker. Backend "inprocess"
// needs no further configuration; "nats" dials Addr.
type BrokerConfig struct {
	Backend string `yaml:"backend" envconfig:"BACKEND"`
	Addr    string `yaml:"addr" envconfig:"ADDR"`
}

type LogConfig struct {
	Level        string `yaml:"level" envconfig:"LEVEL"`
	Format       string `yaml:"format" envconfig:"FORMAT"`
	EnableCaller bool   `yaml:"enable_caller" envconfig:"ENABLE_CALLER"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" envconfig:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" envconfig:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" envconfig:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" envconfig:"SAMPLE_RATE"`
}

// Default returns the configuration used when no file is given and no
// environment variables are set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			MetricsAddr:     ":9091",
			ShutdownTimeout: 15 * time.Second,
		},
		Signature: SignatureConfig{
			Mode: "none",
		},
		Archive: ArchiveConfig{
			Backend: "memory",
		},
		Broker: BrokerConfig{
			Backend: "inprocess",
		},
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			EnableCaller: true,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "durableflow",
			SampleRate:   0.1,
		},
	}
}

// Load builds the configuration: defaults, then path (if non-empty and
// present), then environment variables under envPrefix, in that order
// of increasing precedence.
func Load(path, envPrefix string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if envPrefix == "" {
		envPrefix = "DURABLEFLOW"
	}
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate checks invariants Default and Load cannot enforce on their
// own, such as cross-field consistency between Backend and DSN.
func (c *Config) Validate() error {
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return fmt.Errorf("tls_cert_file and tls_key_file must be set together")
	}

	switch c.Archive.Backend {
	case "memory":
	case "postgres", "mysql", "sqlite", "redis", "mongo":
		if c.Archive.DSN == "" {
			return fmt.Errorf("archive backend %q requires a dsn", c.Archive.Backend)
		}
	default:
		return fmt.Errorf("unknown archive backend %q", c.Archive.Backend)
	}

	switch c.Broker.Backend {
	case "inprocess":
	case "nats":
		if c.Broker.Addr == "" {
			return fmt.Errorf("broker backend %q requires an addr", c.Broker.Backend)
		}
	default:
		return fmt.Errorf("unknown broker backend %q", c.Broker.Backend)
	}

	switch c.Signature.Mode {
	case "none":
	case "jwt":
		if c.Signature.Secret == "" {
			return fmt.Errorf("signature mode %q requires a secret", c.Signature.Mode)
		}
	default:
		return fmt.Errorf("unknown signature mode %q", c.Signature.Mode)
	}

	return nil
}
