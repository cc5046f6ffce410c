package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const baseYAML = `
source:
  type: mssql
  host: mssql-server
  database: sales
  user: sa
  password: secret
warehouse:
  type: redshift
  host: dw.example.com
  database: analytics
  user: loader
  password: dwsecret
  iam_role: arn:aws:iam::123456789012:role/loader
staging:
  type: s3
  bucket: loader-staging
`

func TestMSSQLDSNURLEncoding(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		password string
		database string
		wantUser string
		wantPass string
		wantDB   string
	}{
		{"plain credentials", "admin", "secret", "mydb", "admin", "secret", "mydb"},
		{"password with @", "admin", "pass@word", "mydb", "admin", "pass%40word", "mydb"},
		{"password with colon", "admin", "pass:word", "mydb", "admin", "pass%3Aword", "mydb"},
		{"password with slash", "admin", "pass/word", "mydb", "admin", "pass%2Fword", "mydb"},
		{"user with @", "user@domain", "secret", "mydb", "user%40domain", "secret", "mydb"},
		{"database with spaces", "admin", "secret", "my database", "admin", "secret", "my+database"},
		{"complex password", "admin", "P@ss:w/rd?123", "mydb", "admin", "P%40ss%3Aw%2Frd%3F123", "mydb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			dsn := cfg.buildMSSQLDSN("localhost", 1433, tt.database, tt.user, tt.password, "true", false)

			if !strings.Contains(dsn, tt.wantUser+":") {
				t.Errorf("MSSQL DSN missing encoded user %q in %q", tt.wantUser, dsn)
			}
			if !strings.Contains(dsn, ":"+tt.wantPass+"@") {
				t.Errorf("MSSQL DSN missing encoded password %q in %q", tt.wantPass, dsn)
			}
			if !strings.Contains(dsn, "database="+tt.wantDB) {
				t.Errorf("MSSQL DSN missing encoded database %q in %q", tt.wantDB, dsn)
			}
		})
	}
}

func TestPostgresDSNURLEncoding(t *testing.T) {
	cfg := &Config{}
	dsn := cfg.buildPostgresDSN("dw", 5439, "my database", "user@corp", "p@ss/word", "require")

	if !strings.HasPrefix(dsn, "postgres://user%40corp:p%40ss%2Fword@dw:5439/") {
		t.Errorf("unexpected userinfo in %q", dsn)
	}
	if !strings.Contains(dsn, "/my%20database?") {
		t.Errorf("database not path-escaped in %q", dsn)
	}
	if !strings.HasSuffix(dsn, "sslmode=require") {
		t.Errorf("missing sslmode in %q", dsn)
	}
}

func TestLoadBytesDefaults(t *testing.T) {
	cfg, err := LoadBytes([]byte(baseYAML))
	if err != nil {
		t.Fatalf("LoadBytes failed: %v", err)
	}

	if cfg.Source.Port != 1433 || cfg.Source.Schema != "dbo" {
		t.Errorf("source defaults not applied: %+v", cfg.Source)
	}
	if cfg.Warehouse.Port != 5439 || cfg.Warehouse.Schema != "public" {
		t.Errorf("warehouse defaults not applied: %+v", cfg.Warehouse)
	}
	if cfg.Migration.Workers != 10 {
		t.Errorf("expected 10 workers, got %d", cfg.Migration.Workers)
	}
	if cfg.Migration.ChunkMaxBytes != 64<<20 {
		t.Errorf("expected 64MiB chunk budget, got %d", cfg.Migration.ChunkMaxBytes)
	}
	if cfg.Migration.UploadMaxAttempts != 3 {
		t.Errorf("expected 3 upload attempts, got %d", cfg.Migration.UploadMaxAttempts)
	}
	if cfg.RetryDelay() != time.Second {
		t.Errorf("expected 1s retry delay, got %v", cfg.RetryDelay())
	}
	if cfg.Staging.Prefix != "warehouse-loader" {
		t.Errorf("unexpected staging prefix %q", cfg.Staging.Prefix)
	}
	if cfg.Migration.FailOnBadRows {
		t.Error("bad rows should be skipped by default")
	}
}

func TestCompressionLevel(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want int
	}{
		{"unset uses default", "", 6},
		{"explicit zero kept", "migration:\n  compression_level: 0\n", 0},
		{"explicit level", "migration:\n  compression_level: 9\n", 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadBytes([]byte(baseYAML + tt.yaml))
			if err != nil {
				t.Fatalf("LoadBytes failed: %v", err)
			}
			if got := cfg.GzipLevel(); got != tt.want {
				t.Errorf("GzipLevel() = %d, want %d", got, tt.want)
			}
		})
	}

	if _, err := LoadBytes([]byte(baseYAML + "migration:\n  compression_level: 12\n")); err == nil ||
		!strings.Contains(err.Error(), "compression_level") {
		t.Errorf("expected compression_level error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing source host", func(c *Config) { c.Source.Host = "" }, "source.host is required"},
		{"bad source type", func(c *Config) { c.Source.Type = "oracle" }, "source.type"},
		{"missing warehouse host", func(c *Config) { c.Warehouse.Host = "" }, "warehouse.host is required"},
		{"bad warehouse type", func(c *Config) { c.Warehouse.Type = "snowflake" }, "warehouse.type"},
		{"s3 without bucket", func(c *Config) { c.Staging.Bucket = "" }, "staging.bucket"},
		{"redshift needs s3", func(c *Config) {
			c.Staging.Type = "local"
			c.Staging.Dir = "/tmp/stage"
		}, "requires s3 staging"},
		{"redshift needs iam role", func(c *Config) { c.Warehouse.IAMRole = "" }, "iam_role"},
		{"postgres with local staging", func(c *Config) {
			c.Warehouse.Type = "postgres"
			c.Staging.Type = "local"
			c.Staging.Dir = "/tmp/stage"
		}, ""},
		{"tiny chunk budget", func(c *Config) { c.Migration.ChunkMaxBytes = 10 }, "chunk_max_bytes"},
		{"bad retry delay", func(c *Config) { c.Migration.UploadRetryDelay = "soon" }, "upload_retry_delay"},
		{"short schedule", func(c *Config) { c.Schedule.Interval = "10s" }, "at least 1m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadBytes([]byte(baseYAML))
			if err != nil {
				t.Fatalf("LoadBytes failed: %v", err)
			}
			tt.edit(cfg)
			err = cfg.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestExpandTemplateValue(t *testing.T) {
	tmpDir := t.TempDir()
	secretFile := filepath.Join(tmpDir, "secret.txt")
	if err := os.WriteFile(secretFile, []byte("  my-secret-password  \n"), 0600); err != nil {
		t.Fatalf("failed to create secret file: %v", err)
	}
	t.Setenv("TEST_SECRET_VAR", "env-secret-value")

	tests := []struct {
		name      string
		input     string
		expected  string
		expectErr bool
	}{
		{name: "cleartext password", input: "my-plain-password", expected: "my-plain-password"},
		{name: "empty string", input: "", expected: ""},
		{name: "file template", input: "${file:" + secretFile + "}", expected: "my-secret-password"},
		{name: "env template", input: "${env:TEST_SECRET_VAR}", expected: "env-secret-value"},
		{name: "upper case provider", input: "${ENV:TEST_SECRET_VAR}", expected: "env-secret-value"},
		{name: "env template missing var", input: "${env:NONEXISTENT_VAR_12345}", expected: ""},
		{name: "file template missing file", input: "${file:/nonexistent/path/to/secret}", expectErr: true},
		{name: "dollar sign without braces", input: "$file:/path", expected: "$file:/path"},
		{name: "empty reference", input: "${file:}", expected: "${file:}"},
		{name: "legacy env var syntax expands", input: "${TEST_SECRET_VAR}", expected: "env-secret-value"},
		{name: "embedded template", input: "user-${env:TEST_SECRET_VAR}-x", expected: "user-env-secret-value-x"},
		{name: "env var starting with number", input: "${env:1INVALID}", expected: "${env:1INVALID}"},
		{name: "env var with hyphen", input: "${env:INVALID-VAR}", expected: "${env:INVALID-VAR}"},
		{name: "legacy var starting with number", input: "${1INVALID}", expected: "${1INVALID}"},
		{name: "unknown provider kept", input: "${gcp:thing}", expected: "${gcp:thing}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := expandTemplateValue(tt.input)
			if tt.expectErr {
				if err == nil {
					t.Errorf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestExpandTemplateValueBackends(t *testing.T) {
	origVault, origSM := vaultLookup, awsSMLookup
	defer func() { vaultLookup, awsSMLookup = origVault, origSM }()

	vaultLookup = func(ref string) (string, error) {
		if ref == "secret/data/dw#password" {
			return "from-vault", nil
		}
		return "", errors.New("permission denied")
	}
	awsSMLookup = func(ref string) (string, error) {
		return "from-sm:" + ref, nil
	}

	got, err := expandTemplateValue("${vault:secret/data/dw#password}")
	if err != nil || got != "from-vault" {
		t.Errorf("vault: got %q, %v", got, err)
	}
	got, err = expandTemplateValue("${aws_sm:prod/dw#password}")
	if err != nil || got != "from-sm:prod/dw#password" {
		t.Errorf("aws_sm: got %q, %v", got, err)
	}
	if _, err := expandTemplateValue("${vault:secret/data/other#x}"); err == nil {
		t.Error("expected vault error to propagate")
	}
}

func TestLoadBytesWithSecretTemplates(t *testing.T) {
	tmpDir := t.TempDir()
	pwdFile := filepath.Join(tmpDir, "mssql_password")
	if err := os.WriteFile(pwdFile, []byte(`p@ss"word'#1`), 0600); err != nil {
		t.Fatalf("failed to create password file: %v", err)
	}
	t.Setenv("TEST_DW_PASSWORD", "env-dw-password")

	yaml := strings.Replace(baseYAML, "password: secret", "password: ${file:"+pwdFile+"}", 1)
	yaml = strings.Replace(yaml, "password: dwsecret", "password: ${env:TEST_DW_PASSWORD}", 1)

	cfg, err := LoadBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("LoadBytes failed: %v", err)
	}
	if cfg.Source.Password != `p@ss"word'#1` {
		t.Errorf("source password: got %q", cfg.Source.Password)
	}
	if cfg.Warehouse.Password != "env-dw-password" {
		t.Errorf("warehouse password: got %q", cfg.Warehouse.Password)
	}
}

func TestJSONSecretField(t *testing.T) {
	got, err := jsonSecretField(`{"username":"loader","password":"s3cr3t","port":5439}`, "password")
	if err != nil || got != "s3cr3t" {
		t.Errorf("got %q, %v", got, err)
	}
	got, err = jsonSecretField(`{"port":5439}`, "port")
	if err != nil || got != "5439" {
		t.Errorf("got %q, %v", got, err)
	}
	if _, err := jsonSecretField(`not json`, "password"); err == nil {
		t.Error("expected error for non-JSON secret")
	}
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot get home directory")
	}
	if got := expandTilde("~/some/path"); got != filepath.Join(home, "some/path") {
		t.Errorf("expandTilde: got %q", got)
	}
	if got := expandTilde("/abs/path"); got != "/abs/path" {
		t.Errorf("expandTilde changed absolute path: %q", got)
	}
}

func TestSanitized(t *testing.T) {
	cfg, err := LoadBytes([]byte(baseYAML))
	if err != nil {
		t.Fatalf("LoadBytes failed: %v", err)
	}
	cfg.Slack.WebhookURL = "https://hooks.slack.com/services/x"

	s := cfg.Sanitized()
	if s.Source.Password != "[REDACTED]" || s.Warehouse.Password != "[REDACTED]" || s.Slack.WebhookURL != "[REDACTED]" {
		t.Errorf("secrets not redacted: %+v", s)
	}
	if cfg.Source.Password != "secret" {
		t.Error("Sanitized must not modify the original config")
	}
}
