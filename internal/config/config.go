// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/notary-relay/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config     string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host       string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port       int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Verifier   string `kong:"help='Verifier address host:port (overrides config).',env='VERIFIER_ADDRESS'"`
	NativeHost string `kong:"help='Native messaging host name (overrides config).',env='NATIVE_HOST'"`
	LogLevel   string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Bank    BankConfig    `toml:"bank"`
	Prover  ProverConfig  `toml:"prover"`
	Native  NativeConfig  `toml:"native"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8700)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// BankConfig describes the banking provider whose transactions are notarized.
type BankConfig struct {
	BaseURL         string `toml:"base_url"`
	HostMarker      string `toml:"host_marker"`
	TransactionPath string `toml:"transaction_path"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// ProverConfig holds the values copied into every proof request.
type ProverConfig struct {
	VerifierAddress string `toml:"verifier_address"`
	MaxSentData     int    `toml:"max_sent_data"`
	MaxRecvData     int    `toml:"max_recv_data"`
}

// NativeConfig locates the native messaging host that runs the prover.
type NativeConfig struct {
	HostName        string   `toml:"host_name"`
	ManifestDirs    []string `toml:"manifest_dirs"`
	Origin          string   `toml:"origin"`
	MaxMessageBytes int      `toml:"max_message_bytes"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/notary-relay/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Verifier != "" {
		c.Prover.VerifierAddress = cli.Verifier
	}
	if cli.NativeHost != "" {
		c.Native.HostName = cli.NativeHost
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Bank URL: optional (defaulted) but must be HTTPS when given.
	if c.Bank.BaseURL != "" {
		u, err := url.Parse(c.Bank.BaseURL)
		if err != nil {
			return fmt.Errorf("bank.base_url is not a valid URL: %w", err)
		}
		if u.Scheme != "https" {
			return fmt.Errorf("bank.base_url must use HTTPS; got %q", c.Bank.BaseURL)
		}
	}
	if p := c.Bank.TransactionPath; p != "" && p[0] != '/' {
		return fmt.Errorf("bank.transaction_path must start with '/'; got %q", p)
	}

	if a := c.Prover.VerifierAddress; a != "" {
		if _, _, err := net.SplitHostPort(a); err != nil {
			return fmt.Errorf("prover.verifier_address must be host:port: %w", err)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Bank.TimeoutSeconds < 0 {
		return fmt.Errorf("bank.timeout_seconds must be non-negative; got %d", c.Bank.TimeoutSeconds)
	}
	if c.Bank.IdleConnections < 0 {
		return fmt.Errorf("bank.idle_connections must be non-negative; got %d", c.Bank.IdleConnections)
	}
	if c.Prover.MaxSentData < 0 || c.Prover.MaxRecvData < 0 {
		return fmt.Errorf("prover.max_sent_data and prover.max_recv_data must be non-negative")
	}
	if c.Native.MaxMessageBytes < 0 {
		return fmt.Errorf("native.max_message_bytes must be non-negative; got %d", c.Native.MaxMessageBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	if strings.ContainsAny(c.Native.HostName, `/\`) {
		return fmt.Errorf("native.host_name must not contain path separators; got %q", c.Native.HostName)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/api", "/healthz", "/relay/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish between
// an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8700
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB
	}
	if c.Bank.BaseURL == "" {
		c.Bank.BaseURL = "https://app.revolut.com"
	}
	if c.Bank.HostMarker == "" {
		c.Bank.HostMarker = "revolut.com"
	}
	if c.Bank.TransactionPath == "" {
		c.Bank.TransactionPath = "/api/retail/transaction/"
	}
	if c.Bank.TimeoutSeconds == 0 {
		c.Bank.TimeoutSeconds = 30
	}
	if c.Bank.IdleConnections == 0 {
		c.Bank.IdleConnections = 10
	}
	if c.Prover.VerifierAddress == "" {
		c.Prover.VerifierAddress = "81.219.135.164:30079"
	}
	if c.Prover.MaxSentData == 0 {
		c.Prover.MaxSentData = 4096
	}
	if c.Prover.MaxRecvData == 0 {
		c.Prover.MaxRecvData = 16384
	}
	if c.Native.HostName == "" {
		c.Native.HostName = "com.notary.krithon"
	}
	if len(c.Native.ManifestDirs) == 0 {
		c.Native.ManifestDirs = defaultManifestDirs()
	}
	if c.Native.MaxMessageBytes == 0 {
		c.Native.MaxMessageBytes = 1024 * 1024 // browser limit for host -> extension
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// defaultManifestDirs returns the per-user and system-wide Chrome native
// messaging host directories for Linux and macOS.
func defaultManifestDirs() []string {
	dirs := []string{}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(home, ".config", "google-chrome", "NativeMessagingHosts"),
			filepath.Join(home, ".config", "chromium", "NativeMessagingHosts"),
			filepath.Join(home, "Library", "Application Support", "Google", "Chrome", "NativeMessagingHosts"),
		)
	}
	return append(dirs,
		"/etc/opt/chrome/native-messaging-hosts",
		"/etc/chromium/native-messaging-hosts",
		"/Library/Google/Chrome/NativeMessagingHosts",
	)
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TransactionURL returns the bank API URL for a single transaction.
func (c *BankConfig) TransactionURL(id string) string {
	return strings.TrimRight(c.BaseURL, "/") + c.TransactionPath + url.PathEscape(id)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
