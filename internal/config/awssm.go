package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// resolveAWSSecretsManager reads a secret from AWS Secrets Manager.
// Format: secret-id or secret-id#json-key for JSON secrets.
func resolveAWSSecretsManager(ref string) (string, error) {
	id, key, _ := strings.Cut(ref, "#")

	ctx := context.Background()
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("loading AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(cfg)
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		return "", fmt.Errorf("getting secret %q: %w", id, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %q has no string value (binary secrets not supported)", id)
	}
	if key == "" {
		return *out.SecretString, nil
	}
	return jsonSecretField(*out.SecretString, key)
}

func jsonSecretField(payload, key string) (string, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return "", fmt.Errorf("secret is not a JSON object: %w", err)
	}
	v, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret", key)
	}
	switch s := v.(type) {
	case string:
		return s, nil
	default:
		return fmt.Sprint(s), nil
	}
}
