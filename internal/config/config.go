package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"bakonf-go/internal/bakonf"
)

// Config represents the main configuration for bakonf.
type Config struct {
	Hostname string `toml:"hostname,omitempty"`
	BaseDir  string `toml:"base_dir"`
	LogDir   string `toml:"log_dir"`

	// Database is the fingerprint store path.
	Database string `toml:"database"`

	// Include lists shell patterns of paths to scan. Patterns are expanded
	// when the config is loaded; patterns that match nothing are dropped.
	Include []string `toml:"include"`
	// Exclude lists regular expressions matched against the start of
	// absolute paths.
	Exclude []string `toml:"exclude"`
	// MaxSize is the largest file selected, in bytes. Zero means no limit.
	MaxSize int64 `toml:"maxsize"`
	// Configs lists shell patterns of additional files whose include and
	// exclude lists are appended to this one.
	Configs []string `toml:"configs,omitempty"`

	Compress   bool             `toml:"compress"`
	Output     OutputConfig     `toml:"output"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// EncryptionConfig holds paths to the age key pair used for encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// OutputConfig represents the destination archives are delivered to.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type OutputConfig struct {
	Type string `toml:"type"` // "filesystem", "s3" or "memory"
	Name string `toml:"name,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	Dir string `toml:"dir,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`
	// S3Endpoint selects an S3-compatible service instead of AWS.
	S3Endpoint string `toml:"s3_endpoint,omitempty"`
	// Static credentials. When empty the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// NewConfig creates a new Config with default paths under baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Database: filepath.Join(baseDir, "virtuals.db"),
		Include:  []string{"/etc"},
		Exclude:  []string{"/etc/ssl/private", "/etc/shadow-", "/etc/gshadow-"},
		Output: OutputConfig{
			Type: "filesystem",
			Name: "local",
			Dir:  filepath.Join(baseDir, "archives"),
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "bakonf.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "bakonf.key"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads the config at path, merges the include and exclude lists of
// every file matched by its configs patterns, and expands include patterns
// into absolute paths. Any failure is returned as a *bakonf.ConfigError.
func Load(path string) (*Config, error) {
	cfg, err := ReadFromFile(path)
	if err != nil {
		return nil, bakonf.NewConfigError(path, err)
	}

	for _, pattern := range cfg.Configs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, bakonf.NewConfigError(path, fmt.Errorf("bad configs pattern %q: %w", pattern, err))
		}
		sort.Strings(matches)
		for _, extraPath := range matches {
			extra, err := ReadFromFile(extraPath)
			if err != nil {
				return nil, bakonf.NewConfigError(extraPath, err)
			}
			cfg.Include = append(cfg.Include, extra.Include...)
			cfg.Exclude = append(cfg.Exclude, extra.Exclude...)
		}
	}

	include, err := ExpandIncludes(cfg.Include)
	if err != nil {
		return nil, bakonf.NewConfigError(path, err)
	}
	cfg.Include = include

	if cfg.Database != "" {
		db, err := filepath.Abs(cfg.Database)
		if err != nil {
			return nil, bakonf.NewConfigError(path, fmt.Errorf("resolving database path: %w", err))
		}
		cfg.Database = db
	}
	return cfg, nil
}

// ExpandIncludes expands shell patterns into absolute paths, keeping the
// order of the patterns and the sorted order of each pattern's matches.
func ExpandIncludes(patterns []string) ([]string, error) {
	var out []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad include pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			abs, err := filepath.Abs(m)
			if err != nil {
				return nil, fmt.Errorf("resolving %s: %w", m, err)
			}
			out = append(out, abs)
		}
	}
	return out, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
