package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/chains"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/logger"
)

const (
	// DefaultWorkerCount defines the default number of execution drivers
	DefaultWorkerCount = 5

	// DefaultQueueSize defines the default execution queue capacity
	DefaultQueueSize = 100

	// DefaultAPIPort defines the default port for the HTTP API server
	DefaultAPIPort = 8081

	// DefaultMetricsPort defines the default port for the health and metrics server
	DefaultMetricsPort = "8080"

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker in seconds
	DefaultCircuitBreakerWindow = 5

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker in seconds
	DefaultCircuitBreakerReset = 15

	// DefaultSignMaxAttempts defines how many times a signature request is polled
	DefaultSignMaxAttempts = 30

	// DefaultSignPollInterval defines the seconds between signature polls
	DefaultSignPollInterval = 2

	// DefaultTriggerInterval defines the seconds between trigger monitor evaluations
	DefaultTriggerInterval = 60

	// DefaultPositionCacheTTL defines the seconds position snapshots stay fresh
	DefaultPositionCacheTTL = 30

	// DefaultPlannerEndpoint defines the default endpoint for the planning service
	DefaultPlannerEndpoint = "https://planner.flowyield.io"
)

// chainDefaults carries the built-in per-chain values. Every field can be
// overridden with environment variables for debugging purposes.
type chainDefaults struct {
	rpcURL string
	router string
	tokens map[string]string
}

var defaultChains = map[string]chainDefaults{
	chains.Ethereum: {
		rpcURL: "https://eth.llamarpc.com",
		router: "0x7C8aB33E3aF2f07fD2dc83d17539e2890cC98a21",
		tokens: map[string]string{
			"USDC": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			"USDT": "0xdAC17F958D2ee523a2206206994597C13D831ec7",
		},
	},
	chains.Polygon: {
		rpcURL: "https://polygon-rpc.com",
		router: "0x3Fb17d5D06E3e395Bb2f56e4bF0aD317c2e75F1b",
		tokens: map[string]string{
			"USDC": "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
			"USDT": "0xc2132D05D31c914a87C6611C10748AEb04B58e8F",
		},
	},
	chains.Arbitrum: {
		rpcURL: "https://arb1.arbitrum.io/rpc",
		router: "0x9dD4a917E2cBa13F37dc79318c11c2AAf1e75a1F",
		tokens: map[string]string{
			"USDC": "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
			"USDT": "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9",
		},
	},
	chains.Avalanche: {
		rpcURL: "https://avalanche-c-chain-rpc.publicnode.com",
		router: "0x44cF5dF2A2eC8b2C6b3c3a9BdC1e08E4cE22a0c7",
		tokens: map[string]string{
			"USDC": "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
			"USDT": "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7",
		},
	},
	chains.BSC: {
		rpcURL: "https://bsc-dataseed.bnbchain.org",
		router: "0x1fA2cE2a6Fb02E7C9E16E7a93aD2AB2E87C4FD0e",
		tokens: map[string]string{
			"USDC": "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d",
			"USDT": "0x55d398326f99059fF775485246999027B3197955",
		},
	},
	chains.Base: {
		rpcURL: "https://mainnet.base.org",
		router: "0xE83fD26028FF7d2dF996B153a14DcE4fDf3a0A1C",
		tokens: map[string]string{
			"USDC": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			"USDT": "0xfde4C96c8593536E31F229EA8f37b2ADa2699bb2",
		},
	},
}

// GetEnvWorkerCount returns the number of execution drivers from environment variables
func GetEnvWorkerCount() (int, error) {
	workerCount := os.Getenv("WORKER_COUNT")
	if workerCount == "" {
		return DefaultWorkerCount, nil
	}

	count, err := strconv.Atoi(workerCount)
	if err != nil {
		return 0, fmt.Errorf("invalid WORKER_COUNT value: %s, must be an integer", workerCount)
	}
	if count <= 0 {
		return 0, fmt.Errorf("WORKER_COUNT must be greater than 0")
	}
	return count, nil
}

// GetEnvQueueSize returns the execution queue capacity from environment variables
func GetEnvQueueSize() (int, error) {
	queueSize := os.Getenv("QUEUE_SIZE")
	if queueSize == "" {
		return DefaultQueueSize, nil
	}

	size, err := strconv.Atoi(queueSize)
	if err != nil {
		return 0, fmt.Errorf("invalid QUEUE_SIZE value: %s, must be an integer", queueSize)
	}
	if size <= 0 {
		return 0, fmt.Errorf("QUEUE_SIZE must be greater than 0")
	}
	return size, nil
}

// GetEnvAPIPort returns the API server port from environment variables
func GetEnvAPIPort() (int, error) {
	apiPort := os.Getenv("API_PORT")
	if apiPort == "" {
		return DefaultAPIPort, nil
	}

	port, err := strconv.Atoi(apiPort)
	if err != nil {
		return 0, fmt.Errorf("invalid API_PORT value: %s, must be a valid integer", apiPort)
	}
	return port, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if enabled == "" {
		return DefaultCircuitBreakerEnabled, nil
	}

	if enabled == "true" {
		return true, nil
	} else if enabled == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	window := os.Getenv("CIRCUIT_BREAKER_WINDOW")
	if window == "" {
		return DefaultCircuitBreakerWindow * time.Second, nil
	}

	parsed, err := time.ParseDuration(window)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_WINDOW value: %s, must be a valid duration string", window)
	}
	return parsed, nil
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	reset := os.Getenv("CIRCUIT_BREAKER_RESET")
	if reset == "" {
		return DefaultCircuitBreakerReset * time.Second, nil
	}

	parsed, err := time.ParseDuration(reset)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_RESET value: %s, must be a valid duration string", reset)
	}
	return parsed, nil
}

// GetEnvSignMaxAttempts returns the signature polling attempt budget from environment variables
func GetEnvSignMaxAttempts() (int, error) {
	maxAttempts := os.Getenv("SIGN_MAX_ATTEMPTS")
	if maxAttempts == "" {
		return DefaultSignMaxAttempts, nil
	}

	attempts, err := strconv.Atoi(maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("invalid SIGN_MAX_ATTEMPTS value: %s, must be an integer", maxAttempts)
	}
	if attempts <= 0 {
		return 0, fmt.Errorf("SIGN_MAX_ATTEMPTS must be greater than 0")
	}
	return attempts, nil
}

// GetEnvSignPollInterval returns the interval between signature polls from environment variables
func GetEnvSignPollInterval() (time.Duration, error) {
	pollInterval := os.Getenv("SIGN_POLL_INTERVAL")
	if pollInterval == "" {
		return DefaultSignPollInterval * time.Second, nil
	}

	parsed, err := time.ParseDuration(pollInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid SIGN_POLL_INTERVAL value: %s, must be a valid duration string", pollInterval)
	}
	return parsed, nil
}

// GetEnvTriggerInterval returns the trigger monitor evaluation interval from environment variables
func GetEnvTriggerInterval() (time.Duration, error) {
	triggerInterval := os.Getenv("TRIGGER_INTERVAL")
	if triggerInterval == "" {
		return DefaultTriggerInterval * time.Second, nil
	}

	parsed, err := time.ParseDuration(triggerInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid TRIGGER_INTERVAL value: %s, must be a valid duration string", triggerInterval)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("TRIGGER_INTERVAL must be greater than 0")
	}
	return parsed, nil
}

// GetEnvPositionCacheTTL returns how long position snapshots stay fresh from environment variables
func GetEnvPositionCacheTTL() (time.Duration, error) {
	cacheTTL := os.Getenv("POSITION_CACHE_TTL")
	if cacheTTL == "" {
		return DefaultPositionCacheTTL * time.Second, nil
	}

	parsed, err := time.ParseDuration(cacheTTL)
	if err != nil {
		return 0, fmt.Errorf("invalid POSITION_CACHE_TTL value: %s, must be a valid duration string", cacheTTL)
	}
	return parsed, nil
}

// GetEnvPlannerEndpoint returns the planning service endpoint from environment variables
func GetEnvPlannerEndpoint() (string, error) {
	plannerEndpoint := os.Getenv("PLANNER_ENDPOINT")
	if plannerEndpoint == "" {
		return DefaultPlannerEndpoint, nil
	}

	// Validate URL format
	if _, err := url.ParseRequestURI(plannerEndpoint); err != nil {
		return "", fmt.Errorf("invalid PLANNER_ENDPOINT value: %s, must be a valid URL", plannerEndpoint)
	}
	return plannerEndpoint, nil
}

// GetEnvSignerEndpoint returns the threshold signer endpoint from environment variables
func GetEnvSignerEndpoint() (string, error) {
	signerEndpoint := os.Getenv("SIGNER_ENDPOINT")
	if signerEndpoint == "" {
		return "", nil
	}

	// Validate URL format
	if _, err := url.ParseRequestURI(signerEndpoint); err != nil {
		return "", fmt.Errorf("invalid SIGNER_ENDPOINT value: %s, must be a valid URL", signerEndpoint)
	}
	return signerEndpoint, nil
}

// GetEnvLogLevel returns the logging level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return logger.InfoLevel, nil
	}

	switch strings.ToLower(level) {
	case "debug":
		return logger.DebugLevel, nil
	case "info":
		return logger.InfoLevel, nil
	case "notice":
		return logger.NoticeLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	}
	return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be 'debug', 'info', 'notice' or 'error'", level)
}

// GetEnvLogColoring returns whether log coloring is enabled from environment variables
func GetEnvLogColoring() (bool, error) {
	coloring := os.Getenv("LOG_COLORING")
	if coloring == "" {
		return true, nil
	}

	if coloring == "true" {
		return true, nil
	} else if coloring == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", coloring)
}

// GetEnvChainConfigs returns the chain configurations for all supported chains.
// Built-in defaults cover RPC URL, router address and token addresses; each
// can be overridden with <CHAIN>_RPC_URL, <CHAIN>_ROUTER_ADDRESS and
// <CHAIN>_<SYMBOL>_ADDRESS environment variables.
func GetEnvChainConfigs() ([]ChainConfig, error) {
	configs := make([]ChainConfig, 0, len(chains.ChainList))

	for _, name := range chains.ChainList {
		defaults, ok := defaultChains[name]
		if !ok {
			return nil, fmt.Errorf("no built-in configuration for chain %s", name)
		}
		prefix := strings.ToUpper(name)

		rpc := os.Getenv(prefix + "_RPC_URL")
		if rpc == "" {
			rpc = defaults.rpcURL
		}

		router := os.Getenv(prefix + "_ROUTER_ADDRESS")
		if router == "" {
			router = defaults.router
		}
		if !common.IsHexAddress(router) {
			return nil, fmt.Errorf("invalid %s_ROUTER_ADDRESS value: %s, must be a valid Ethereum address", prefix, router)
		}

		tokens := make(map[string]string, len(defaults.tokens))
		for symbol, addr := range defaults.tokens {
			if override := os.Getenv(prefix + "_" + symbol + "_ADDRESS"); override != "" {
				addr = override
			}
			if !common.IsHexAddress(addr) {
				return nil, fmt.Errorf("invalid %s_%s_ADDRESS value: %s, must be a valid Ethereum address", prefix, symbol, addr)
			}
			tokens[symbol] = addr
		}

		configs = append(configs, ChainConfig{
			Name:           name,
			RPCURL:         rpc,
			RouterAddress:  router,
			TokenAddresses: tokens,
		})
	}

	return configs, nil
}
