// Package config loads the server configuration from YAML with environment
// overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EXECUTABLES_"

type Config struct {
	HTTPAddr    string `yaml:"httpAddr"`
	GRPCAddr    string `yaml:"grpcAddr"`
	MetricsPath string `yaml:"metricsPath"`

	LogLevel     string `yaml:"logLevel"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`

	HTTP     HTTPConfig     `yaml:"http"`
	Remote   RemoteConfig   `yaml:"remote"`
	Throttle ThrottleConfig `yaml:"throttle"`
}

type HTTPConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	MaxBodyBytes    int64         `yaml:"maxBodyBytes"`
	Pretty          bool          `yaml:"pretty"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
	MetadataHeaders []string      `yaml:"metadataHeaders"`
}

// RemoteConfig lists gRPC addresses per endpoint name; "*" matches any name.
type RemoteConfig struct {
	Endpoints  map[string][]string `yaml:"endpoints"`
	RPCTimeout time.Duration       `yaml:"rpcTimeout"`
	MaxConns   int                 `yaml:"maxConns"`
}

// ThrottleConfig enables per-executable throttling when RPS is positive.
type ThrottleConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func Default() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":9090",
		MetricsPath: "/metrics",
		LogLevel:    "info",
		ServiceName: "executables",
		HTTP: HTTPConfig{
			Timeout:      10 * time.Second,
			MaxBodyBytes: 1 << 20,
		},
		Remote: RemoteConfig{
			RPCTimeout: 3 * time.Second,
			MaxConns:   2,
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := Decode(bytes.NewReader(data), &cfg); err != nil {
			return cfg, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg, os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Decode reads YAML from r into cfg, keeping values for absent keys.
// Unknown keys are rejected.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides cfg from EXECUTABLES_* variables looked up with getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(EnvPrefix + name)); v != "" {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v := strings.TrimSpace(getenv(EnvPrefix + name)); v != "" {
			*dst = splitList(v)
		}
	}
	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("GRPC_ADDR", &cfg.GRPCAddr)
	str("METRICS_PATH", &cfg.MetricsPath)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("OTLP_ENDPOINT", &cfg.OTLPEndpoint)
	str("SERVICE_NAME", &cfg.ServiceName)
	list("CORS_ORIGINS", &cfg.HTTP.CORSOrigins)
	list("METADATA_HEADERS", &cfg.HTTP.MetadataHeaders)

	if v := strings.TrimSpace(getenv(EnvPrefix + "HTTP_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %sHTTP_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.HTTP.Timeout = d
	}
	if v := strings.TrimSpace(getenv(EnvPrefix + "THROTTLE_RPS")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: %sTHROTTLE_RPS: %w", EnvPrefix, err)
		}
		cfg.Throttle.RPS = f
	}
	if v := strings.TrimSpace(getenv(EnvPrefix + "REMOTE")); v != "" {
		// name=addr1|addr2,other=addr3
		eps := map[string][]string{}
		for _, part := range splitList(v) {
			name, addrs, ok := strings.Cut(part, "=")
			if !ok || name == "" || addrs == "" {
				return fmt.Errorf("config: %sREMOTE: malformed entry %q", EnvPrefix, part)
			}
			eps[name] = strings.Split(addrs, "|")
		}
		cfg.Remote.Endpoints = eps
	}
	return nil
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" && c.GRPCAddr == "" {
		errs = append(errs, errors.New("at least one of httpAddr and grpcAddr is required"))
	}
	if c.MetricsPath != "" && !strings.HasPrefix(c.MetricsPath, "/") {
		errs = append(errs, fmt.Errorf("metricsPath %q must start with /", c.MetricsPath))
	}
	if c.HTTP.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("http.maxBodyBytes must not be negative"))
	}
	if c.Throttle.RPS > 0 && c.Throttle.Burst <= 0 {
		errs = append(errs, errors.New("throttle.burst must be positive when throttle.rps is set"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
