package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	// ${provider:ref} (e.g. ${file:~/.secrets/pg}, ${vault:secret/data/dw#password})
	// or legacy ${VAR}.
	templatePattern = regexp.MustCompile(`\$\{(?:([A-Za-z_]+):([^}]*)|([A-Za-z_][A-Za-z0-9_]*))\}`)
	validEnvName    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Secret backends. Variables so tests can stub the network lookups.
var (
	vaultLookup = resolveVault
	awsSMLookup = resolveAWSSecretsManager
)

// expandTemplateValue resolves secret templates in a config value. Values
// without templates are returned unchanged. Malformed templates are kept literally.
func expandTemplateValue(value string) (string, error) {
	if !strings.Contains(value, "${") {
		return value, nil
	}

	var firstErr error
	out := templatePattern.ReplaceAllStringFunc(value, func(m string) string {
		parts := templatePattern.FindStringSubmatch(m)
		if parts[3] != "" {
			return os.Getenv(parts[3])
		}
		provider, ref := strings.ToLower(parts[1]), strings.TrimSpace(parts[2])
		if ref == "" {
			return m
		}

		var (
			resolved string
			err      error
		)
		switch provider {
		case "file":
			resolved, err = readSecretFile(ref)
		case "env":
			if !validEnvName.MatchString(ref) {
				return m
			}
			resolved = os.Getenv(ref)
		case "vault":
			resolved, err = vaultLookup(ref)
		case "aws_sm":
			resolved, err = awsSMLookup(ref)
		default:
			return m
		}
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("resolving secret %s:%s: %w", provider, ref, err)
			}
			return m
		}
		return resolved
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// expandSecrets resolves templates in every field that may carry one.
func (c *Config) expandSecrets() error {
	fields := []struct {
		name string
		ptr  *string
	}{
		{"source.host", &c.Source.Host},
		{"source.database", &c.Source.Database},
		{"source.user", &c.Source.User},
		{"source.password", &c.Source.Password},
		{"warehouse.host", &c.Warehouse.Host},
		{"warehouse.database", &c.Warehouse.Database},
		{"warehouse.user", &c.Warehouse.User},
		{"warehouse.password", &c.Warehouse.Password},
		{"warehouse.iam_role", &c.Warehouse.IAMRole},
		{"staging.bucket", &c.Staging.Bucket},
		{"staging.prefix", &c.Staging.Prefix},
		{"staging.dir", &c.Staging.Dir},
		{"staging.endpoint", &c.Staging.Endpoint},
		{"migration.work_dir", &c.Migration.WorkDir},
		{"migration.data_dir", &c.Migration.DataDir},
		{"slack.webhook_url", &c.Slack.WebhookURL},
	}
	for _, f := range fields {
		v, err := expandTemplateValue(*f.ptr)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.ptr = v
	}
	return nil
}
