package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/logger"
)

// Config holds the configuration for the rebalancer service
type Config struct {
	PlannerEndpoint  string
	SignerEndpoint   string
	PrivateKey       string
	Chains           map[string]ChainConfig
	WorkerCount      int
	QueueSize        int
	APIPort          int
	MetricsPort      string
	DatabasePath     string
	CircuitBreaker   CircuitBreakerConfig
	Signing          SigningConfig
	TriggerInterval  time.Duration
	PositionCacheTTL time.Duration
	LoggerConfig     LoggerConfig
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// SigningConfig bounds the signature polling loop
type SigningConfig struct {
	MaxAttempts  int
	PollInterval time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// ChainConfig holds the configuration for a specific blockchain
type ChainConfig struct {
	Name           string
	RPCURL         string
	RouterAddress  string
	TokenAddresses map[string]string
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	workerCount, err := GetEnvWorkerCount()
	if err != nil {
		return nil, err
	}

	queueSize, err := GetEnvQueueSize()
	if err != nil {
		return nil, err
	}

	apiPort, err := GetEnvAPIPort()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	signMaxAttempts, err := GetEnvSignMaxAttempts()
	if err != nil {
		return nil, err
	}

	signPollInterval, err := GetEnvSignPollInterval()
	if err != nil {
		return nil, err
	}

	triggerInterval, err := GetEnvTriggerInterval()
	if err != nil {
		return nil, err
	}

	positionCacheTTL, err := GetEnvPositionCacheTTL()
	if err != nil {
		return nil, err
	}

	plannerEndpoint, err := GetEnvPlannerEndpoint()
	if err != nil {
		return nil, err
	}

	signerEndpoint, err := GetEnvSignerEndpoint()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	// Initialize chain configurations
	chainConfigs := make(map[string]ChainConfig)
	chainConfigList, err := GetEnvChainConfigs()
	if err != nil {
		return nil, err
	}
	for _, chainConfig := range chainConfigList {
		chainConfigs[chainConfig.Name] = chainConfig
	}

	cfg := &Config{
		PlannerEndpoint: plannerEndpoint,
		SignerEndpoint:  signerEndpoint,
		PrivateKey:      os.Getenv("PRIVATE_KEY"),
		Chains:          chainConfigs,
		WorkerCount:     workerCount,
		QueueSize:       queueSize,
		APIPort:         apiPort,
		MetricsPort:     metricsPort,
		DatabasePath:    os.Getenv("DATABASE_PATH"),
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		Signing: SigningConfig{
			MaxAttempts:  signMaxAttempts,
			PollInterval: signPollInterval,
		},
		TriggerInterval:  triggerInterval,
		PositionCacheTTL: positionCacheTTL,
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY environment variable is required")
	}
	if cfg.SignerEndpoint == "" {
		return fmt.Errorf("SIGNER_ENDPOINT environment variable is required")
	}
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain configuration is required")
	}
	for name, chainConfig := range cfg.Chains {
		if chainConfig.RouterAddress == "" {
			return fmt.Errorf("router address for chain %s is required", name)
		}
	}
	return nil
}
