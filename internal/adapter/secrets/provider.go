// Package secrets resolves database connection settings at startup, either
// from the environment or from an AWS Secrets Manager secret holding
// RDS-style JSON.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/config"
)

const defaultPort = 3306

// ConnectionDescriptor is the resolved set of database connection settings.
type ConnectionDescriptor struct {
	Host     string
	Port     int
	DBName   string
	Username string
	Password string
}

// Provider resolves connection settings once, before the first run.
type Provider interface {
	Resolve(ctx context.Context) (ConnectionDescriptor, error)
}

// SelectProvider picks the Secrets Manager provider when a secret name is
// configured and the env-backed one otherwise.
func SelectProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Provider, error) {
	if cfg.DBSecretName != "" {
		return NewManagerProvider(ctx, cfg, logger)
	}
	return NewEnvProvider(cfg), nil
}

// EnvProvider reads connection settings already validated by config.Load.
type EnvProvider struct {
	cfg *config.Config
}

// NewEnvProvider creates a provider backed by DB_* env vars.
func NewEnvProvider(cfg *config.Config) *EnvProvider {
	return &EnvProvider{cfg: cfg}
}

// Resolve returns the env-derived settings. It never fails.
func (p *EnvProvider) Resolve(context.Context) (ConnectionDescriptor, error) {
	return ConnectionDescriptor{
		Host:     p.cfg.DBHost,
		Port:     p.cfg.DBPort,
		DBName:   p.cfg.DBName,
		Username: p.cfg.DBUser,
		Password: p.cfg.DBPassword,
	}, nil
}

// secretsAPI is the slice of the Secrets Manager client used here.
type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ManagerProvider resolves connection settings from AWS Secrets Manager.
type ManagerProvider struct {
	api        secretsAPI
	secretName string
	logger     *slog.Logger
}

// NewManagerProvider creates a provider for the configured secret using the
// default AWS credential chain.
func NewManagerProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*ManagerProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &ManagerProvider{
		api:        secretsmanager.NewFromConfig(awsCfg),
		secretName: cfg.DBSecretName,
		logger:     logger,
	}, nil
}

// Resolve fetches and parses the secret payload.
func (p *ManagerProvider) Resolve(ctx context.Context) (ConnectionDescriptor, error) {
	out, err := p.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.secretName),
	})
	if err != nil {
		return ConnectionDescriptor{}, fmt.Errorf("get secret %s: %w", p.secretName, err)
	}
	if out.SecretString == nil {
		return ConnectionDescriptor{}, fmt.Errorf("secret %s has no string payload", p.secretName)
	}

	desc, err := parseSecret([]byte(*out.SecretString))
	if err != nil {
		return ConnectionDescriptor{}, fmt.Errorf("parse secret %s: %w", p.secretName, err)
	}

	p.logger.Info("database credentials resolved", "secret", p.secretName, "host", desc.Host)
	return desc, nil
}

// secretPayload mirrors the JSON RDS writes for managed secrets. The port
// arrives as a number from RDS and as a string from hand-written secrets, so
// json.Number covers both. The database name key varies across secret
// generations.
type secretPayload struct {
	Host                 string      `json:"host"`
	Port                 json.Number `json:"port"`
	Username             string      `json:"username"`
	Password             string      `json:"password"`
	DBName               string      `json:"dbname"`
	Database             string      `json:"database"`
	DBInstanceIdentifier string      `json:"dbInstanceIdentifier"`
}

func parseSecret(raw []byte) (ConnectionDescriptor, error) {
	var payload secretPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ConnectionDescriptor{}, fmt.Errorf("decode payload: %w", err)
	}

	if payload.Host == "" {
		return ConnectionDescriptor{}, fmt.Errorf("missing host")
	}
	if payload.Username == "" || payload.Password == "" {
		return ConnectionDescriptor{}, fmt.Errorf("missing username or password")
	}

	port := defaultPort
	if payload.Port != "" {
		p64, err := payload.Port.Int64()
		if err != nil || p64 < 1 || p64 > 65535 {
			return ConnectionDescriptor{}, fmt.Errorf("invalid port %q", payload.Port.String())
		}
		port = int(p64)
	}

	name := payload.DBName
	if name == "" {
		name = payload.Database
	}
	if name == "" {
		name = payload.DBInstanceIdentifier
	}
	if name == "" {
		return ConnectionDescriptor{}, fmt.Errorf("missing database name")
	}

	return ConnectionDescriptor{
		Host:     payload.Host,
		Port:     port,
		DBName:   name,
		Username: payload.Username,
		Password: payload.Password,
	}, nil
}
