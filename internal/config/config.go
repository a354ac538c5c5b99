package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/auszug/internal/model"
)

// DefaultFile is the config file looked up when --config is not given.
const DefaultFile = "auszug.yaml"

// Config represents the top-level auszug.yaml configuration.
type Config struct {
	Ledger       LedgerConfig        `yaml:"ledger"`
	Sources      SourcesConfig       `yaml:"sources"`
	Archives     []ArchiveConfig     `yaml:"archives,omitempty"`
	Credentials  CredentialsConfig   `yaml:"credentials"`
	Parse        ParseConfig         `yaml:"parse"`
	Reconstruct  ReconstructConfig   `yaml:"reconstruct"`
	AccountsFile string              `yaml:"accounts_file"`
	Institutions []model.Institution `yaml:"institutions,omitempty"`
	Log          LogConfig           `yaml:"log"`

	// dir is the directory of the loaded file; relative paths resolve
	// against it.
	dir string
}

// LedgerConfig selects the storage engine.
type LedgerConfig struct {
	Driver    string `yaml:"driver"` // "sqlite" or "pgx"
	DSN       string `yaml:"dsn"`
	BatchSize int    `yaml:"batch_size"`
}

// SourcesConfig lists where statements are discovered.
type SourcesConfig struct {
	Roots      []SourceRoot `yaml:"roots"`
	Extensions []string     `yaml:"extensions,omitempty"`
}

// SourceRoot is one scanned directory with an optional institution hint.
type SourceRoot struct {
	Path        string `yaml:"path"`
	Institution string `yaml:"institution,omitempty"`
}

// ArchiveConfig registers a password-protected archive naming scheme.
// Pattern is matched against the file name; its "key" group (or first
// group) names the credential. Key is used when the pattern has no group.
type ArchiveConfig struct {
	Pattern     string `yaml:"pattern"`
	Key         string `yaml:"key,omitempty"`
	Institution string `yaml:"institution,omitempty"`
}

// CredentialsConfig points at the read-only credential store.
type CredentialsConfig struct {
	File      string `yaml:"file"`
	EnvPrefix string `yaml:"env_prefix"`
}

// ParseConfig tunes the dispatcher and parsers.
type ParseConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	HeadLines int           `yaml:"head_lines"`
}

// ReconstructConfig tunes the balance reconstructor.
type ReconstructConfig struct {
	DriftTolerance string `yaml:"drift_tolerance"`
}

// LogConfig controls logging and the audit log directory.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
	Dir    string `yaml:"dir"`
}

// Load reads an auszug.yaml file from disk. Missing settings take their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.dir = filepath.Dir(path)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new installation.
func Default() *Config {
	return &Config{
		Ledger: LedgerConfig{
			Driver:    "sqlite",
			DSN:       "auszug.db",
			BatchSize: 50,
		},
		Sources: SourcesConfig{
			Roots: []SourceRoot{{Path: "statements"}},
		},
		Credentials: CredentialsConfig{
			File:      "secrets.env",
			EnvPrefix: "AUSZUG_",
		},
		Parse: ParseConfig{
			Timeout:   60 * time.Second,
			HeadLines: 40,
		},
		Reconstruct: ReconstructConfig{
			DriftTolerance: "0.01",
		},
		AccountsFile: "accounts.csv",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Dir:    "logs",
		},
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Ledger.Driver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("ledger.driver must be sqlite or pgx, got %q", c.Ledger.Driver)
	}
	if c.Ledger.DSN == "" {
		return fmt.Errorf("ledger.dsn is required")
	}
	if c.Ledger.BatchSize <= 0 {
		return fmt.Errorf("ledger.batch_size must be positive")
	}
	for i, a := range c.Archives {
		re, err := regexp.Compile(a.Pattern)
		if err != nil {
			return fmt.Errorf("archives[%d].pattern: %w", i, err)
		}
		if re.NumSubexp() == 0 && a.Key == "" {
			return fmt.Errorf("archives[%d]: pattern has no group and no key", i)
		}
	}
	if c.Parse.Timeout <= 0 {
		return fmt.Errorf("parse.timeout must be positive")
	}
	if c.Parse.HeadLines <= 0 {
		return fmt.Errorf("parse.head_lines must be positive")
	}
	if _, err := c.Tolerance(); err != nil {
		return err
	}
	for i, inst := range c.Institutions {
		if inst.Name == "" || inst.Parser == "" {
			return fmt.Errorf("institutions[%d]: name and parser are required", i)
		}
	}
	return nil
}

// Tolerance returns the drift tolerance as a decimal.
func (c *Config) Tolerance() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.Reconstruct.DriftTolerance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("reconstruct.drift_tolerance: %w", err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("reconstruct.drift_tolerance must not be negative")
	}
	return d, nil
}

// Path resolves p against the directory of the config file.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}

// LedgerDSN returns the DSN with relative SQLite paths resolved.
func (c *Config) LedgerDSN() string {
	if c.Ledger.Driver == "sqlite" && c.Ledger.DSN != ":memory:" {
		return c.Path(c.Ledger.DSN)
	}
	return c.Ledger.DSN
}
