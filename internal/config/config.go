// Package config loads solver configuration from the environment and an
// optional YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Solver        SolverConfig        `yaml:"solver"`
	STT           STTConfig           `yaml:"stt"`
	Browser       BrowserConfig       `yaml:"browser"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig holds listener settings for service mode.
type ServiceConfig struct {
	Principal   string `yaml:"principal"`
	GRPCPort    string `yaml:"grpcPort"`
	HTTPPort    string `yaml:"httpPort"`
	MetricsPort string `yaml:"metricsPort"`
}

// SolverConfig holds the per-challenge knobs.
type SolverConfig struct {
	Delay           time.Duration `yaml:"delay"`           // per-keystroke delay
	Wait            time.Duration `yaml:"wait"`            // per-step timeout
	Retry           int           `yaml:"retry"`           // max attempts
	TranscodeBinary string        `yaml:"transcodeBinary"` // ffmpeg
}

// STTConfig selects and configures the speech recognizer.
type STTConfig struct {
	Provider        string `yaml:"provider"` // mock, vosk, google
	ModelDir        string `yaml:"modelDir"`
	LanguageCode    string `yaml:"languageCode"`
	MaxAlternatives int    `yaml:"maxAlternatives"`
	FrameBytes      int    `yaml:"frameBytes"`
}

// BrowserConfig configures the local Chrome instance.
type BrowserConfig struct {
	ExecPath  string `yaml:"execPath"`
	Headless  bool   `yaml:"headless"`
	UserAgent string `yaml:"userAgent"`
}

// KafkaConfig configures outcome event publishing.
type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	TopicAttempts string   `yaml:"topicAttempts"`
	TopicResults  string   `yaml:"topicResults"`
	Principal     string   `yaml:"principal"`
}

// ObservabilityConfig configures logging.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Principal:   "svc-recaptcha-solver",
			GRPCPort:    "50051",
			HTTPPort:    "8080",
			MetricsPort: "9090",
		},
		Solver: SolverConfig{
			Delay:           64 * time.Millisecond,
			Wait:            5 * time.Second,
			Retry:           3,
			TranscodeBinary: "ffmpeg",
		},
		STT: STTConfig{
			Provider:        "mock",
			ModelDir:        "model",
			LanguageCode:    "en-US",
			MaxAlternatives: 10,
			FrameBytes:      4000,
		},
		Browser: BrowserConfig{
			Headless: true,
		},
		Kafka: KafkaConfig{
			TopicAttempts: "recaptcha.solver.attempts",
			TopicResults:  "recaptcha.solver.results",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE (if any), and environment overrides, in that order.
// A CONFIG_FILE that cannot be read or parsed is ignored.
func Load() *Config {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if fileCfg, err := LoadFile(path); err == nil {
			cfg = fileCfg
		}
	}
	applyEnv(cfg)
	return cfg
}

// LoadFile reads a YAML configuration file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", cfg.Service.Principal)
	cfg.Service.GRPCPort = envOrDefault("GRPC_PORT", cfg.Service.GRPCPort)
	cfg.Service.HTTPPort = envOrDefault("HTTP_PORT", cfg.Service.HTTPPort)
	cfg.Service.MetricsPort = envOrDefault("METRICS_PORT", cfg.Service.MetricsPort)

	cfg.Solver.Delay = envOrDefaultDuration("SOLVER_DELAY", cfg.Solver.Delay)
	cfg.Solver.Wait = envOrDefaultDuration("SOLVER_WAIT", cfg.Solver.Wait)
	cfg.Solver.Retry = envOrDefaultInt("SOLVER_RETRY", cfg.Solver.Retry)
	cfg.Solver.TranscodeBinary = envOrDefault("SOLVER_TRANSCODE_BINARY", cfg.Solver.TranscodeBinary)

	cfg.STT.Provider = envOrDefault("STT_PROVIDER", cfg.STT.Provider)
	cfg.STT.ModelDir = envOrDefault("STT_MODEL_DIR", cfg.STT.ModelDir)
	cfg.STT.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", cfg.STT.LanguageCode)
	cfg.STT.MaxAlternatives = envOrDefaultInt("STT_MAX_ALTERNATIVES", cfg.STT.MaxAlternatives)
	cfg.STT.FrameBytes = envOrDefaultInt("STT_FRAME_BYTES", cfg.STT.FrameBytes)

	cfg.Browser.ExecPath = envOrDefault("BROWSER_EXEC_PATH", cfg.Browser.ExecPath)
	cfg.Browser.Headless = envOrDefaultBool("BROWSER_HEADLESS", cfg.Browser.Headless)
	cfg.Browser.UserAgent = envOrDefault("BROWSER_USER_AGENT", cfg.Browser.UserAgent)

	cfg.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", cfg.Kafka.Enabled)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	cfg.Kafka.TopicAttempts = envOrDefault("KAFKA_TOPIC_ATTEMPTS", cfg.Kafka.TopicAttempts)
	cfg.Kafka.TopicResults = envOrDefault("KAFKA_TOPIC_RESULTS", cfg.Kafka.TopicResults)
	cfg.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", cfg.Kafka.Principal)
	if cfg.Kafka.Principal == "" {
		cfg.Kafka.Principal = cfg.Service.Principal
	}

	cfg.Observability.LogLevel = envOrDefault("LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.LogFormat = envOrDefault("LOG_FORMAT", cfg.Observability.LogFormat)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
