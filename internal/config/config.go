package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// MemoryLedgerURL selects the in-process ledger instead of a node.
const MemoryLedgerURL = "memory://"

type Config struct {
	HTTPAddr string `yaml:"http_addr" env:"CUSTODY_HTTP_ADDR"`
	GRPCAddr string `yaml:"grpc_addr" env:"CUSTODY_GRPC_ADDR"`

	Ledger LedgerConfig `yaml:"ledger"`

	RedisAddr string `yaml:"redis_addr" env:"CUSTODY_REDIS_ADDR"`
	MySQLDSN  string `yaml:"mysql_dsn" env:"CUSTODY_MYSQL_DSN"`

	ReconcileInterval time.Duration `yaml:"reconcile_interval" env:"CUSTODY_RECONCILE_INTERVAL"`
	ReconcileWorkers  int           `yaml:"reconcile_workers" env:"CUSTODY_RECONCILE_WORKERS"`

	LogLevel  string `yaml:"log_level" env:"CUSTODY_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"CUSTODY_LOG_FORMAT"`
}

type LedgerConfig struct {
	URL             string `yaml:"url" env:"CUSTODY_LEDGER_URL"`
	ContractAddress string `yaml:"contract_address" env:"CUSTODY_CONTRACT_ADDRESS"`
	// Hex private key the server signs registrations with.
	RegistrarKey string `yaml:"registrar_key" env:"CUSTODY_REGISTRAR_KEY"`
	// 0 asks the node.
	ChainID             int64         `yaml:"chain_id" env:"CUSTODY_CHAIN_ID"`
	GasLimit            uint64        `yaml:"gas_limit" env:"CUSTODY_GAS_LIMIT"`
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout" env:"CUSTODY_CONFIRMATION_TIMEOUT"`
	PollInterval        time.Duration `yaml:"poll_interval" env:"CUSTODY_POLL_INTERVAL"`
}

func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":50051",
		Ledger: LedgerConfig{
			URL:                 "http://127.0.0.1:7545",
			GasLimit:            2_000_000,
			ConfirmationTimeout: 60 * time.Second,
			PollInterval:        time.Second,
		},
		ReconcileInterval: 30 * time.Second,
		ReconcileWorkers:  4,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Load applies defaults, then the YAML file at path (skipped when path is
// empty), then CUSTODY_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) UseMemoryLedger() bool {
	return c.Ledger.URL == MemoryLedgerURL
}

func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Ledger.RegistrarKey) == "" {
		errs = append(errs, errors.New("CUSTODY_REGISTRAR_KEY is required"))
	}
	if c.Ledger.URL == "" {
		errs = append(errs, errors.New("ledger url is required"))
	}
	if !c.UseMemoryLedger() && !common.IsHexAddress(c.Ledger.ContractAddress) {
		errs = append(errs, fmt.Errorf("invalid contract address %q", c.Ledger.ContractAddress))
	}
	if c.Ledger.ConfirmationTimeout <= 0 {
		errs = append(errs, errors.New("confirmation timeout must be positive"))
	}
	if c.Ledger.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.ReconcileInterval <= 0 {
		errs = append(errs, errors.New("reconcile interval must be positive"))
	}
	if c.ReconcileWorkers <= 0 {
		errs = append(errs, errors.New("reconcile workers must be positive"))
	}
	if c.HTTPAddr == "" && c.GRPCAddr == "" {
		errs = append(errs, errors.New("at least one of http and grpc addresses is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
