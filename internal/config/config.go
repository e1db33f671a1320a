// Package config loads server configuration from environment variables,
// optionally overlaid with a YAML file named by AUTOGUI_CONFIG_FILE.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// TransportType selects how JSON-RPC messages reach the server.
type TransportType string

const (
	// TransportStdio uses stdin/stdout (the default for MCP hosts).
	TransportStdio TransportType = "stdio"
	// TransportHTTP uses HTTP POST with an SSE response stream.
	TransportHTTP TransportType = "sse"
)

// Backend selects the screen-analysis collaborator.
type Backend string

const (
	// BackendRemote posts screenshots to an OmniParser-style HTTP server.
	BackendRemote Backend = "remote"
	// BackendLocal captions screenshots with a vision model via ollama.
	BackendLocal Backend = "local"
)

// Config holds everything the server binary needs to run.
type Config struct {
	// Analysis backend.
	ParserServer string  `yaml:"parser_server"` // host:port of the remote analysis server
	Backend      Backend `yaml:"backend"`
	CaptionModel string  `yaml:"caption_model"`
	Device       string  `yaml:"device"`
	BoxThreshold float64 `yaml:"box_threshold"`
	OllamaURL    string  `yaml:"ollama_url"`
	OllamaPort   int     `yaml:"ollama_port"`

	// Geometry and preview.
	AnalysisSize int `yaml:"analysis_size"` // longest preview side in pixels
	Padding      int `yaml:"padding"`       // mapping margin in pixels

	// Transport.
	Transport         TransportType `yaml:"transport"`
	HTTPAddress       string        `yaml:"http_address"`
	HTTPSocketPath    string        `yaml:"http_socket"`
	CORSOrigin        string        `yaml:"cors_origin"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HTTPReadTimeout   time.Duration `yaml:"http_read_timeout"`
	HTTPWriteTimeout  time.Duration `yaml:"http_write_timeout"`
	RateLimit         float64       `yaml:"rate_limit"` // requests per second, 0 disables

	// Operational.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AuditLogPath   string        `yaml:"audit_log"`
	Debug          bool          `yaml:"debug"`
}

// Load reads configuration from the environment, then overlays the YAML
// file named by AUTOGUI_CONFIG_FILE if one is set.
func Load() (*Config, error) {
	boxThreshold, err := getEnvAsFloat("BOX_THRESHOLD", 0.05)
	if err != nil {
		return nil, err
	}
	ollamaPort, err := getEnvAsInt("AUTOGUI_OLLAMA_PORT", 11434)
	if err != nil {
		return nil, err
	}
	analysisSize, err := getEnvAsInt("AUTOGUI_ANALYSIS_SIZE", 960)
	if err != nil {
		return nil, err
	}
	padding, err := getEnvAsInt("AUTOGUI_PADDING", 0)
	if err != nil {
		return nil, err
	}
	heartbeatInterval, err := getEnvAsDuration("MCP_HEARTBEAT_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, err
	}
	httpReadTimeout, err := getEnvAsDuration("MCP_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	httpWriteTimeout, err := getEnvAsDuration("MCP_HTTP_WRITE_TIMEOUT", 0)
	if err != nil {
		return nil, err
	}
	rateLimit, err := getEnvAsFloat("MCP_RATE_LIMIT", 0)
	if err != nil {
		return nil, err
	}
	requestTimeout, err := getEnvAsDuration("AUTOGUI_REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ParserServer: os.Getenv("OMNI_PARSER_SERVER"),
		Backend:      Backend(os.Getenv("AUTOGUI_BACKEND")),
		CaptionModel: getEnv("CAPTION_MODEL_NAME", "llama3.2-vision:11b"),
		Device:       getEnv("OMNI_PARSER_DEVICE", "cpu"),
		BoxThreshold: boxThreshold,
		OllamaURL:    getEnv("AUTOGUI_OLLAMA_URL", "http://localhost"),
		OllamaPort:   ollamaPort,

		AnalysisSize: analysisSize,
		Padding:      padding,

		Transport:         TransportType(getEnv("MCP_TRANSPORT", "stdio")),
		HTTPAddress:       getEnv("MCP_HTTP_ADDRESS", ":8080"),
		HTTPSocketPath:    os.Getenv("MCP_HTTP_SOCKET"),
		CORSOrigin:        getEnv("MCP_CORS_ORIGIN", "*"),
		HeartbeatInterval: heartbeatInterval,
		HTTPReadTimeout:   httpReadTimeout,
		HTTPWriteTimeout:  httpWriteTimeout,
		RateLimit:         rateLimit,

		RequestTimeout: requestTimeout,
		AuditLogPath:   os.Getenv("AUTOGUI_AUDIT_LOG"),
		Debug:          getEnvAsBool("AUTOGUI_DEBUG", false),
	}

	// SSE_HOST/SSE_PORT is the legacy way of asking for the HTTP
	// transport; honor it when MCP_TRANSPORT is not set explicitly.
	if os.Getenv("MCP_TRANSPORT") == "" {
		if host, port := os.Getenv("SSE_HOST"), os.Getenv("SSE_PORT"); host != "" && port != "" {
			cfg.Transport = TransportHTTP
			cfg.HTTPAddress = host + ":" + port
		}
	}

	if path := os.Getenv("AUTOGUI_CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	// When no backend is named, having a parser server means remote.
	if cfg.Backend == "" {
		if cfg.ParserServer != "" {
			cfg.Backend = BackendRemote
		} else {
			cfg.Backend = BackendLocal
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Transport != TransportStdio && c.Transport != TransportHTTP {
		return fmt.Errorf("invalid transport type: %s (must be 'stdio' or 'sse')", c.Transport)
	}
	if c.Backend != BackendRemote && c.Backend != BackendLocal {
		return fmt.Errorf("invalid backend: %s (must be 'remote' or 'local')", c.Backend)
	}
	if c.Backend == BackendRemote && c.ParserServer == "" {
		return fmt.Errorf("backend 'remote' requires OMNI_PARSER_SERVER")
	}
	if c.AnalysisSize <= 0 {
		return fmt.Errorf("analysis size must be positive, got %d", c.AnalysisSize)
	}
	if c.Padding < 0 {
		return fmt.Errorf("padding cannot be negative, got %d", c.Padding)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q (expected integer)", key, value)
	}
	return result, nil
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q (expected number)", key, value)
	}
	return result, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q (expected duration, e.g., '30s', '5m')", key, value)
	}
	return d, nil
}
