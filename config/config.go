// Package config loads trustcore settings from a TOML file, applies
// environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// FileName is the config file inside the config directory.
	FileName = "config.toml"

	EnvDataDir  = "TRUSTCORE_DATA_DIR"
	EnvLogLevel = "TRUSTCORE_LOG_LEVEL"

	appDirName = "Helyxium"
)

// Duration is a time.Duration written as a Go duration string ("30m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the complete trustcore configuration.
type Config struct {
	DataDir  string         `toml:"data_dir"`
	LogLevel string         `toml:"log_level"`
	Listen   string         `toml:"listen"`
	Security SecurityConfig `toml:"security"`
	Coppa    CoppaConfig    `toml:"coppa"`
}

type SecurityConfig struct {
	SessionTTL        Duration `toml:"session_ttl"`
	MaxFailedAttempts int      `toml:"max_failed_attempts"`
	LockoutDuration   Duration `toml:"lockout_duration"`
	PBKDF2Iterations  int      `toml:"pbkdf2_iterations"`
	// HashWorkers bounds concurrent password derivations. 0 means GOMAXPROCS.
	HashWorkers      int      `toml:"hash_workers"`
	MFAChallengeTTL  Duration `toml:"mfa_challenge_ttl"`
	TOTPIssuer       string   `toml:"totp_issuer"`
	CorruptKeyPolicy string   `toml:"corrupt_key_policy"`
}

// CoppaConfig limits are in minutes.
type CoppaConfig struct {
	ConsentTTL    Duration `toml:"consent_ttl"`
	SweepInterval Duration `toml:"sweep_interval"`
	DailyLimit    int      `toml:"daily_limit"`
	SessionLimit  int      `toml:"session_limit"`
	BreakInterval int      `toml:"break_interval"`
	// Outbox is a JSON-lines file that receives consent requests, tokens
	// included, for delivery to parents. Relative paths are under data_dir.
	// Empty means requests are only logged.
	Outbox string `toml:"outbox,omitempty"`
}

// Default returns the built-in configuration with the platform data
// directory. If the home directory cannot be resolved DataDir is empty and
// Validate rejects the config until it is set.
func Default() *Config {
	dir, _ := Dir()
	return &Config{
		DataDir:  dir,
		LogLevel: "info",
		Listen:   "127.0.0.1:8722",
		Security: SecurityConfig{
			SessionTTL:        Duration{30 * time.Minute},
			MaxFailedAttempts: 5,
			LockoutDuration:   Duration{5 * time.Minute},
			PBKDF2Iterations:  100_000,
			MFAChallengeTTL:   Duration{5 * time.Minute},
			TOTPIssuer:        appDirName,
			CorruptKeyPolicy:  "fail",
		},
		Coppa: CoppaConfig{
			ConsentTTL:    Duration{7 * 24 * time.Hour},
			SweepInterval: Duration{time.Hour},
			DailyLimit:    60,
			SessionLimit:  30,
			BreakInterval: 15,
		},
	}
}

// Dir returns the per-user application directory:
// %APPDATA%\Helyxium on Windows, ~/Library/Application Support/Helyxium on
// macOS and ~/.config/helyxium elsewhere.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return platformDir(runtime.GOOS, home, os.Getenv("APPDATA")), nil
}

func platformDir(goos, home, appData string) string {
	switch goos {
	case "windows":
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, appDirName)
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appDirName)
	default:
		return filepath.Join(home, ".config", strings.ToLower(appDirName))
	}
}

// DefaultPath returns the config file path inside Dir.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads path over the defaults. A missing file is not an error. An
// empty path means DefaultPath. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	md, err := toml.DecodeFile(path, cfg)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	default:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides copies TRUSTCORE_* variables over the loaded values.
func (c *Config) ApplyEnvOverrides() {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		c.DataDir = dir
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.LogLevel = level
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, field, msg string) {
		if !ok {
			errs = append(errs, fmt.Errorf("%s: %s", field, msg))
		}
	}

	check(c.DataDir != "", "data_dir", "must be set")
	_, levelErr := ParseLogLevel(c.LogLevel)
	check(levelErr == nil, "log_level", "must be debug, info, warn or error")
	switch {
	case c.Listen == "":
		errs = append(errs, errors.New("listen: must be set"))
	case !loopbackAddr(c.Listen):
		errs = append(errs, fmt.Errorf("listen: %q is not a loopback address", c.Listen))
	}

	s := c.Security
	check(s.SessionTTL.Duration > 0, "security.session_ttl", "must be positive")
	check(s.MaxFailedAttempts > 0, "security.max_failed_attempts", "must be positive")
	check(s.LockoutDuration.Duration > 0, "security.lockout_duration", "must be positive")
	check(s.PBKDF2Iterations >= 100_000, "security.pbkdf2_iterations", "must be at least 100000")
	check(s.HashWorkers >= 0, "security.hash_workers", "must not be negative")
	check(s.MFAChallengeTTL.Duration > 0, "security.mfa_challenge_ttl", "must be positive")
	switch s.CorruptKeyPolicy {
	case "", "fail", "regenerate":
	default:
		errs = append(errs, fmt.Errorf("security.corrupt_key_policy: unknown policy %q", s.CorruptKeyPolicy))
	}

	p := c.Coppa
	check(p.ConsentTTL.Duration > 0, "coppa.consent_ttl", "must be positive")
	check(p.SweepInterval.Duration > 0, "coppa.sweep_interval", "must be positive")
	check(p.DailyLimit > 0 && p.SessionLimit > 0 && p.BreakInterval > 0, "coppa", "time limits must be positive")
	check(p.SessionLimit <= p.DailyLimit, "coppa.session_limit", "must not exceed daily_limit")

	return errors.Join(errs...)
}

// loopbackAddr reports whether addr binds only to the local host. The API
// has no transport authentication of its own.
func loopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// KeyDir is where the custodian keeps its key files.
func (c *Config) KeyDir() string { return filepath.Join(c.DataDir, "keys") }

// DatabasePath is the bbolt file holding accounts and COPPA records.
func (c *Config) DatabasePath() string { return filepath.Join(c.DataDir, "trust.db") }

// OutboxPath resolves Coppa.Outbox against DataDir. Empty when unset.
func (c *Config) OutboxPath() string {
	if c.Coppa.Outbox == "" || filepath.IsAbs(c.Coppa.Outbox) {
		return c.Coppa.Outbox
	}
	return filepath.Join(c.DataDir, c.Coppa.Outbox)
}

// ParseLogLevel maps a level name to a slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, err
	}
	return level, nil
}

// WriteTOML encodes c to w.
func (c *Config) WriteTOML(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// Save writes c to path with owner-only permissions.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	if err := c.WriteTOML(f); err != nil {
		f.Close()
		return fmt.Errorf("encoding config: %w", err)
	}
	return f.Close()
}
