package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
	"github.com/solend-liquidator/program"
	"github.com/solend-liquidator/utils"
)

const (
	EnvQueueHost = "QUEUE_HOST"
	EnvSecretKey = "SECRET_KEY"
)

var ErrMissingEnv = errors.New("missing required environment variable")

type Node struct {
	Rpc    string `json:"rpc"`
	Ws     string `json:"ws"`
	Usable bool   `json:"usable"`
}

type Config struct {
	Endpoints                         []*Node          `json:"endpoints"`
	LendingProgram                    solana.PublicKey `json:"lending_program"`
	LendingMarket                     solana.PublicKey `json:"lending_market"`
	OracleProgram                     solana.PublicKey `json:"oracle_program"`
	SwapProgram                       solana.PublicKey `json:"swap_program"`
	Stable                            solana.PublicKey `json:"stable_mint"`
	Listen                            string           `json:"listen"`
	QueueKey                          string           `json:"queue_key"`
	PollObligationIntervalSeconds     int              `json:"poll_obligation_interval_seconds"`
	RefetchObligationsIntervalSeconds int              `json:"refetch_obligations_interval_seconds"`
	LiquidationAttemptDurationSeconds int              `json:"liquidation_attempt_duration_seconds"`
	WorkerIdleIntervalSeconds         int              `json:"worker_idle_interval_seconds"`
	TxConfirmTimeoutSeconds           int              `json:"tx_confirm_timeout_seconds"`
	TargetGasBalance                  float64          `json:"target_gas_balance"`
	PriorityFeeMicroLamports          uint64           `json:"priority_fee_micro_lamports"`
	ComputeUnitLimit                  uint32           `json:"compute_unit_limit"`
	QueueHost                         string           `json:"-"`
	Key                               string           `json:"-"`
	WorkSpace                         string           `json:"-"`
}

// Load reads <workspace>/config/config.json and the environment. The queue host is always
// required; the signer key only when withKey is set.
func Load(workspace string, withKey bool) (*Config, error) {
	infoJson, err := os.ReadFile(filepath.Join(workspace, utils.ConfigFile))
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	var cfg Config
	if err := json.Unmarshal(infoJson, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	cfg.WorkSpace = workspace
	cfg.QueueHost = os.Getenv(EnvQueueHost)
	if cfg.QueueHost == "" {
		return nil, errors.Wrap(ErrMissingEnv, EnvQueueHost)
	}
	if withKey {
		cfg.Key = os.Getenv(EnvSecretKey)
		if cfg.Key == "" {
			return nil, errors.Wrap(ErrMissingEnv, EnvSecretKey)
		}
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.LendingProgram.IsZero() {
		cfg.LendingProgram = program.Solend
	}
	if cfg.LendingMarket.IsZero() {
		cfg.LendingMarket = program.MainLendingMarket
	}
	if cfg.OracleProgram.IsZero() {
		cfg.OracleProgram = program.Pyth
	}
	if cfg.SwapProgram.IsZero() {
		cfg.SwapProgram = program.Swap
	}
	if cfg.Stable.IsZero() {
		cfg.Stable = program.USDC
	}
	if cfg.QueueKey == "" {
		cfg.QueueKey = "liquidation_queue"
	}
	if cfg.PollObligationIntervalSeconds <= 0 {
		cfg.PollObligationIntervalSeconds = 30
	}
	if cfg.RefetchObligationsIntervalSeconds <= 0 {
		cfg.RefetchObligationsIntervalSeconds = 600
	}
	if cfg.LiquidationAttemptDurationSeconds <= 0 {
		cfg.LiquidationAttemptDurationSeconds = 60
	}
	if cfg.WorkerIdleIntervalSeconds <= 0 {
		cfg.WorkerIdleIntervalSeconds = 10
	}
	if cfg.TxConfirmTimeoutSeconds <= 0 {
		cfg.TxConfirmTimeoutSeconds = 30
	}
	if cfg.TargetGasBalance <= 0 {
		cfg.TargetGasBalance = 1
	}
}

func (cfg *Config) validate() error {
	if cfg.Rpc() == "" {
		return errors.New("no usable rpc endpoint configured")
	}
	return nil
}

// Rpc returns the first usable rpc endpoint.
func (cfg *Config) Rpc() string {
	for _, node := range cfg.Endpoints {
		if node.Usable && node.Rpc != "" {
			return node.Rpc
		}
	}
	return ""
}

func (cfg *Config) PollInterval() time.Duration {
	return time.Duration(cfg.PollObligationIntervalSeconds) * time.Second
}

func (cfg *Config) RefetchInterval() time.Duration {
	return time.Duration(cfg.RefetchObligationsIntervalSeconds) * time.Second
}

func (cfg *Config) AttemptDuration() time.Duration {
	return time.Duration(cfg.LiquidationAttemptDurationSeconds) * time.Second
}

func (cfg *Config) IdleInterval() time.Duration {
	return time.Duration(cfg.WorkerIdleIntervalSeconds) * time.Second
}

func (cfg *Config) ConfirmTimeout() time.Duration {
	return time.Duration(cfg.TxConfirmTimeoutSeconds) * time.Second
}
