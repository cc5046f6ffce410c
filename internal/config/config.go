package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// Config holds all configuration for the loader
type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Staging   StagingConfig   `yaml:"staging"`
	Migration MigrationConfig `yaml:"migration"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Slack     SlackConfig     `yaml:"slack"`
}

// SlackConfig holds Slack notification settings
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	Enabled    bool   `yaml:"enabled"`
}

// SourceConfig holds source database connection settings
type SourceConfig struct {
	Type            string `yaml:"type"` // "mssql" or "postgres" (default: mssql)
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	Schema          string `yaml:"schema"`
	SSLMode         string `yaml:"ssl_mode"`          // PostgreSQL: disable, require, verify-ca, verify-full (default: require)
	TrustServerCert bool   `yaml:"trust_server_cert"` // MSSQL: trust server certificate (default: false)
	Encrypt         string `yaml:"encrypt"`           // MSSQL: disable, false, true (default: true)
	MaxConnections  int    `yaml:"max_connections"`
}

// WarehouseConfig holds destination warehouse connection settings
type WarehouseConfig struct {
	Type           string `yaml:"type"` // "redshift" or "postgres" (default: redshift)
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Database       string `yaml:"database"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	Schema         string `yaml:"schema"`
	SSLMode        string `yaml:"ssl_mode"`
	IAMRole        string `yaml:"iam_role"` // Redshift: role ARN used by COPY to read staging
	MaxConnections int    `yaml:"max_connections"`
}

// StagingConfig describes where compressed chunks are staged before COPY.
type StagingConfig struct {
	Type         string `yaml:"type"` // "s3" or "local" (default: s3)
	Dir          string `yaml:"dir"`  // local: root directory
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Profile      string `yaml:"profile"`
	Endpoint     string `yaml:"endpoint"` // S3-compatible endpoint (MinIO, LocalStack)
	UsePathStyle bool   `yaml:"use_path_style"`
}

// MigrationConfig holds migration behavior settings
type MigrationConfig struct {
	Workers           int      `yaml:"workers"`
	ChunkMaxBytes     int64    `yaml:"chunk_max_bytes"`
	CompressionLevel  *int     `yaml:"compression_level"` // nil means default; 0 stores uncompressed
	UploadMaxAttempts int      `yaml:"upload_max_attempts"`
	UploadRetryDelay  string   `yaml:"upload_retry_delay"` // Go duration, multiplied by the attempt number
	FailOnBadRows     bool     `yaml:"fail_on_bad_rows"`   // Default false: malformed rows are skipped
	MaxRejectedRows   int64    `yaml:"max_rejected_rows"`
	IncludeTables     []string `yaml:"include_tables"` // Only migrate these tables (glob patterns)
	ExcludeTables     []string `yaml:"exclude_tables"` // Skip these tables (glob patterns)
	WorkDir           string   `yaml:"work_dir"`       // Local chunk files
	DataDir           string   `yaml:"data_dir"`       // Run history and lock file
	StateFile         string   `yaml:"state_file"`     // YAML file for the last run instead of SQLite history
	HistoryRetention  int      `yaml:"history_retention_days"`
}

// ScheduleConfig holds settings for the serve command.
type ScheduleConfig struct {
	Interval   string `yaml:"interval"`
	RunOnStart bool   `yaml:"run_on_start"`
}

const (
	defaultWorkers          = 10
	defaultChunkMaxBytes    = 64 << 20
	minChunkMaxBytes        = 1 << 10
	defaultCompression      = 6
	defaultUploadAttempts   = 3
	defaultUploadRetryDelay = "1s"
	defaultMaxRejectedRows  = 1000
	defaultHistoryRetention = 30
)

// LoadOptions controls configuration loading behavior.
type LoadOptions struct {
	SuppressWarnings bool
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	return LoadWithOptions(path, LoadOptions{})
}

// LoadWithOptions reads configuration from a YAML file with options.
func LoadWithOptions(path string, opts LoadOptions) (*Config, error) {
	// Check file permissions before reading (warns if insecure)
	if warning := checkFilePermissions(path); warning != "" && !opts.SuppressWarnings {
		fmt.Fprint(os.Stderr, warning)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return LoadBytes(data)
}

// LoadBytes reads configuration from YAML bytes. Secret templates are
// expanded after parsing so resolved values never pass through the YAML parser.
func LoadBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.expandSecrets(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DefaultDataDir returns the default data directory for run history and locks.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".mssql-warehouse-loader")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

func (c *Config) applyDefaults() {
	// Source defaults
	if c.Source.Type == "" {
		c.Source.Type = "mssql"
	}
	if c.Source.Port == 0 {
		if c.Source.Type == "postgres" {
			c.Source.Port = 5432
		} else {
			c.Source.Port = 1433
		}
	}
	if c.Source.Schema == "" {
		if c.Source.Type == "postgres" {
			c.Source.Schema = "public"
		} else {
			c.Source.Schema = "dbo"
		}
	}
	if c.Source.SSLMode == "" {
		c.Source.SSLMode = "require"
	}
	if c.Source.Encrypt == "" {
		c.Source.Encrypt = "true"
	}

	// Warehouse defaults
	if c.Warehouse.Type == "" {
		c.Warehouse.Type = "redshift"
	}
	if c.Warehouse.Port == 0 {
		if c.Warehouse.Type == "redshift" {
			c.Warehouse.Port = 5439
		} else {
			c.Warehouse.Port = 5432
		}
	}
	if c.Warehouse.Schema == "" {
		c.Warehouse.Schema = "public"
	}
	if c.Warehouse.SSLMode == "" {
		c.Warehouse.SSLMode = "require"
	}

	// Staging defaults
	if c.Staging.Type == "" {
		c.Staging.Type = "s3"
	}
	c.Staging.Prefix = strings.Trim(c.Staging.Prefix, "/")
	if c.Staging.Prefix == "" {
		c.Staging.Prefix = "warehouse-loader"
	}
	c.Staging.Dir = expandTilde(c.Staging.Dir)

	// Migration defaults
	if c.Migration.Workers <= 0 {
		c.Migration.Workers = defaultWorkers
	}
	if c.Source.MaxConnections <= 0 {
		c.Source.MaxConnections = c.Migration.Workers + 2
	}
	if c.Warehouse.MaxConnections <= 0 {
		c.Warehouse.MaxConnections = c.Migration.Workers + 2
	}
	if c.Migration.ChunkMaxBytes == 0 {
		c.Migration.ChunkMaxBytes = defaultChunkMaxBytes
	}
	if c.Migration.CompressionLevel == nil {
		level := defaultCompression
		c.Migration.CompressionLevel = &level
	}
	if c.Migration.UploadMaxAttempts <= 0 {
		c.Migration.UploadMaxAttempts = defaultUploadAttempts
	}
	if c.Migration.UploadRetryDelay == "" {
		c.Migration.UploadRetryDelay = defaultUploadRetryDelay
	}
	if c.Migration.MaxRejectedRows == 0 {
		c.Migration.MaxRejectedRows = defaultMaxRejectedRows
	}
	c.Migration.WorkDir = expandTilde(c.Migration.WorkDir)
	if c.Migration.WorkDir == "" {
		c.Migration.WorkDir = filepath.Join(os.TempDir(), "warehouse-loader")
	}
	c.Migration.DataDir = expandTilde(c.Migration.DataDir)
	c.Migration.StateFile = expandTilde(c.Migration.StateFile)
	if c.Migration.HistoryRetention == 0 {
		c.Migration.HistoryRetention = defaultHistoryRetention
	}
}

func (c *Config) validate() error {
	// Validate source
	if c.Source.Host == "" {
		return fmt.Errorf("source.host is required")
	}
	if c.Source.Database == "" {
		return fmt.Errorf("source.database is required")
	}
	if c.Source.Type != "mssql" && c.Source.Type != "postgres" {
		return fmt.Errorf("source.type must be 'mssql' or 'postgres', got '%s'", c.Source.Type)
	}

	// Validate warehouse
	if c.Warehouse.Host == "" {
		return fmt.Errorf("warehouse.host is required")
	}
	if c.Warehouse.Database == "" {
		return fmt.Errorf("warehouse.database is required")
	}
	if c.Warehouse.Type != "redshift" && c.Warehouse.Type != "postgres" {
		return fmt.Errorf("warehouse.type must be 'redshift' or 'postgres', got '%s'", c.Warehouse.Type)
	}

	// Validate staging
	switch c.Staging.Type {
	case "s3":
		if c.Staging.Bucket == "" {
			return fmt.Errorf("staging.bucket is required for s3 staging")
		}
	case "local":
		if c.Staging.Dir == "" {
			return fmt.Errorf("staging.dir is required for local staging")
		}
	default:
		return fmt.Errorf("staging.type must be 's3' or 'local', got '%s'", c.Staging.Type)
	}
	if c.Warehouse.Type == "redshift" {
		if c.Staging.Type != "s3" {
			return fmt.Errorf("redshift warehouse requires s3 staging")
		}
		if c.Warehouse.IAMRole == "" {
			return fmt.Errorf("warehouse.iam_role is required for redshift")
		}
	}

	// Validate migration settings
	if c.Migration.ChunkMaxBytes < minChunkMaxBytes {
		return fmt.Errorf("migration.chunk_max_bytes must be at least %d", minChunkMaxBytes)
	}
	if l := c.GzipLevel(); l < -2 || l > 9 {
		return fmt.Errorf("migration.compression_level must be between -2 and 9")
	}
	if _, err := time.ParseDuration(c.Migration.UploadRetryDelay); err != nil {
		return fmt.Errorf("migration.upload_retry_delay: invalid value %q", c.Migration.UploadRetryDelay)
	}
	if c.Schedule.Interval != "" {
		d, err := time.ParseDuration(c.Schedule.Interval)
		if err != nil {
			return fmt.Errorf("schedule.interval: invalid value %q", c.Schedule.Interval)
		}
		if d < time.Minute {
			return fmt.Errorf("schedule.interval must be at least 1m")
		}
	}
	return nil
}

// RetryDelay returns the parsed upload retry delay.
func (c *Config) RetryDelay() time.Duration {
	d, err := time.ParseDuration(c.Migration.UploadRetryDelay)
	if err != nil {
		return time.Second
	}
	return d
}

// GzipLevel returns the artifact compression level. An explicit 0 is kept.
func (c *Config) GzipLevel() int {
	if c.Migration.CompressionLevel == nil {
		return defaultCompression
	}
	return *c.Migration.CompressionLevel
}

// ScheduleInterval returns the parsed schedule interval, or 0 when unset.
func (c *Config) ScheduleInterval() time.Duration {
	d, _ := time.ParseDuration(c.Schedule.Interval)
	return d
}

// SourceDSN returns the source database connection string
func (c *Config) SourceDSN() string {
	if c.Source.Type == "postgres" {
		return c.buildPostgresDSN(c.Source.Host, c.Source.Port, c.Source.Database,
			c.Source.User, c.Source.Password, c.Source.SSLMode)
	}
	return c.buildMSSQLDSN(c.Source.Host, c.Source.Port, c.Source.Database,
		c.Source.User, c.Source.Password, c.Source.Encrypt, c.Source.TrustServerCert)
}

// WarehouseDSN returns the warehouse connection string. Redshift speaks the
// PostgreSQL wire protocol, so both flavors share the URL form.
func (c *Config) WarehouseDSN() string {
	return c.buildPostgresDSN(c.Warehouse.Host, c.Warehouse.Port, c.Warehouse.Database,
		c.Warehouse.User, c.Warehouse.Password, c.Warehouse.SSLMode)
}

func (c *Config) buildMSSQLDSN(host string, port int, database, user, password, encrypt string,
	trustServerCert bool) string {

	trustCert := "false"
	if trustServerCert {
		trustCert = "true"
	}

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s&TrustServerCertificate=%s",
		url.QueryEscape(user), url.QueryEscape(password), host, port,
		url.QueryEscape(database), url.QueryEscape(encrypt), trustCert)
}

func (c *Config) buildPostgresDSN(host string, port int, database, user, password, sslMode string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(user), url.QueryEscape(password), host, port,
		url.PathEscape(database), url.QueryEscape(sslMode))
}

// Sanitized returns a copy of the config with sensitive fields redacted
func (c *Config) Sanitized() *Config {
	sanitized := *c // shallow copy

	sanitized.Source.Password = "[REDACTED]"
	sanitized.Warehouse.Password = "[REDACTED]"

	if sanitized.Slack.WebhookURL != "" {
		sanitized.Slack.WebhookURL = "[REDACTED]"
	}

	return &sanitized
}
