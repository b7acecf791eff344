package chainadapter

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/chains"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/logger"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/metrics"
)

// EVMConfig configures one EVM chain adapter.
type EVMConfig struct {
	ChainName     string
	RPCURL        string
	RouterAddress string
	// GasMultiplier buffers the suggested gas price (1.1 = 10% buffer).
	GasMultiplier float64
	// ConfirmationTimeout bounds WaitForConfirmation.
	ConfirmationTimeout time.Duration
	// TokenAddresses maps asset symbols to ERC20 addresses on this chain.
	TokenAddresses map[string]string
}

// EVMAdapter submits rebalance transactions through a router contract on one
// EVM chain and waits for their receipts.
type EVMAdapter struct {
	cfg    EVMConfig
	client *ethclient.Client
	router *bind.BoundContract
	auth   *bind.TransactOpts
	nonces *nonceTracker
	logger logger.Logger

	mu        sync.Mutex
	pendingTx map[string]*submittedTx
}

type submittedTx struct {
	tx    *types.Transaction
	nonce uint64
}

var _ Adapter = (*EVMAdapter)(nil)

// NewEVMAdapter creates an adapter for one EVM chain. Connect must be called
// before submitting transactions.
func NewEVMAdapter(cfg EVMConfig, log logger.Logger) *EVMAdapter {
	if cfg.GasMultiplier <= 0 {
		cfg.GasMultiplier = 1.1
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = 5 * time.Minute
	}
	return &EVMAdapter{
		cfg:       cfg,
		nonces:    newNonceTracker(cfg.ChainName, log),
		logger:    log,
		pendingTx: make(map[string]*submittedTx),
	}
}

// Chain returns the chain name this adapter serves.
func (a *EVMAdapter) Chain() string { return a.cfg.ChainName }

// Connected reports whether the RPC client is established.
func (a *EVMAdapter) Connected() bool { return a.client != nil }

// Connect establishes the RPC connection, the transaction signer and the
// router contract binding.
func (a *EVMAdapter) Connect(privateKeyHex string) error {
	client, err := ethclient.Dial(a.cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to %s client: %v", a.cfg.ChainName, err)
	}
	a.client = client

	if privateKeyHex != "" {
		auth, err := createAuthenticator(client, privateKeyHex)
		if err != nil {
			return fmt.Errorf("failed to create authenticator for %s: %v", a.cfg.ChainName, err)
		}
		a.auth = auth
	}

	routerABI, err := getRouterABI()
	if err != nil {
		return fmt.Errorf("failed to parse router ABI: %v", err)
	}
	routerAddr := common.HexToAddress(a.cfg.RouterAddress)
	a.router = bind.NewBoundContract(routerAddr, routerABI, client, client, client)

	return nil
}

// LatestBlockNumber gets the latest block number from the chain.
func (a *EVMAdapter) LatestBlockNumber(ctx context.Context) (uint64, error) {
	if a.client == nil {
		return 0, fmt.Errorf("client not connected")
	}
	return a.client.BlockNumber(ctx)
}

func (a *EVMAdapter) Deposit(ctx context.Context, req TxRequest) (*TxResult, error) {
	asset, amount, sig, err := a.resolveRequest(req)
	if err != nil {
		return nil, err
	}
	return a.submit(ctx, "deposit", protocolKey(req.TargetProtocol), asset, amount, sig)
}

func (a *EVMAdapter) Withdraw(ctx context.Context, req TxRequest) (*TxResult, error) {
	asset, amount, sig, err := a.resolveRequest(req)
	if err != nil {
		return nil, err
	}
	venue := req.SourceProtocol
	if venue == "" {
		venue = req.TargetProtocol
	}
	return a.submit(ctx, "withdraw", protocolKey(venue), asset, amount, sig)
}

func (a *EVMAdapter) Swap(ctx context.Context, req TxRequest) (*TxResult, error) {
	asset, amount, sig, err := a.resolveRequest(req)
	if err != nil {
		return nil, err
	}
	return a.submit(ctx, "swap", protocolKey(req.TargetProtocol), asset, amount, sig)
}

func (a *EVMAdapter) Migrate(ctx context.Context, req TxRequest) (*TxResult, error) {
	asset, amount, sig, err := a.resolveRequest(req)
	if err != nil {
		return nil, err
	}
	return a.submit(ctx, "migrate", protocolKey(req.SourceProtocol), protocolKey(req.TargetProtocol), asset, amount, sig)
}

// resolveRequest validates the request against this chain's configuration.
func (a *EVMAdapter) resolveRequest(req TxRequest) (common.Address, *big.Int, []byte, error) {
	if a.client == nil || a.auth == nil {
		return common.Address{}, nil, nil, &SubmissionError{ChainName: a.cfg.ChainName, Reason: "adapter not connected"}
	}
	tokenAddr, ok := a.cfg.TokenAddresses[strings.ToUpper(req.Asset)]
	if !ok {
		return common.Address{}, nil, nil, &SubmissionError{
			ChainName: a.cfg.ChainName,
			Reason:    fmt.Sprintf("asset %s not configured", req.Asset),
		}
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return common.Address{}, nil, nil, &SubmissionError{ChainName: a.cfg.ChainName, Reason: "amount must be positive"}
	}
	return common.HexToAddress(tokenAddr), req.Amount, common.FromHex(req.Signature), nil
}

// submit refreshes the gas price, reserves a nonce and sends the router
// transaction. The returned result carries the transaction hash; cost is
// only known after confirmation.
func (a *EVMAdapter) submit(ctx context.Context, method string, args ...interface{}) (*TxResult, error) {
	if err := a.updateGasPrice(ctx); err != nil {
		a.logger.ErrorWithChain(a.cfg.ChainName, "Failed to update gas price: %v", err)
		// Continue with the previous gas price.
	}

	a.mu.Lock()
	txOpts := *a.auth
	a.mu.Unlock()
	txOpts.Context = ctx
	if limit, ok := chains.DefaultGasLimit[a.cfg.ChainName]; ok {
		txOpts.GasLimit = limit
	}

	nonce, err := a.nonces.Reserve(ctx, a.client, txOpts.From)
	if err != nil {
		return nil, &SubmissionError{ChainName: a.cfg.ChainName, Reason: "nonce reservation failed", Err: err}
	}
	txOpts.Nonce = big.NewInt(int64(nonce))

	tx, err := a.router.Transact(&txOpts, method, args...)
	if err != nil {
		a.nonces.Failed(nonce)
		return nil, &SubmissionError{ChainName: a.cfg.ChainName, Reason: method + " rejected", Err: err}
	}

	a.nonces.Track(nonce, tx.Hash())
	a.mu.Lock()
	a.pendingTx[tx.Hash().Hex()] = &submittedTx{tx: tx, nonce: nonce}
	a.mu.Unlock()

	a.logger.InfoWithChain(a.cfg.ChainName, "%s transaction sent: %s (nonce: %d)", method, tx.Hash().Hex(), nonce)
	return &TxResult{TransactionHash: tx.Hash().Hex()}, nil
}

// WaitForConfirmation blocks until the transaction is mined or the
// adapter's confirmation timeout elapses. A reverted receipt is reported as
// a ConfirmationError; cancellation surfaces as the context error.
func (a *EVMAdapter) WaitForConfirmation(ctx context.Context, txHash string) (*TxResult, error) {
	a.mu.Lock()
	submitted, ok := a.pendingTx[txHash]
	a.mu.Unlock()
	if !ok {
		return nil, &ConfirmationError{ChainName: a.cfg.ChainName, TxHash: txHash, Reason: "unknown transaction"}
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.cfg.ConfirmationTimeout)
	defer cancel()

	start := time.Now()
	receipt, err := bind.WaitMined(waitCtx, a.client, submitted.tx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.nonces.Failed(submitted.nonce)
		a.forget(txHash)
		return nil, &ConfirmationError{
			ChainName: a.cfg.ChainName,
			TxHash:    txHash,
			Reason:    fmt.Sprintf("not mined within %v", a.cfg.ConfirmationTimeout),
		}
	}
	metrics.ConfirmationTime.WithLabelValues(a.cfg.ChainName).Observe(time.Since(start).Seconds())

	if receipt.Status == types.ReceiptStatusFailed {
		a.nonces.Failed(submitted.nonce)
		a.forget(txHash)
		return nil, &ConfirmationError{ChainName: a.cfg.ChainName, TxHash: txHash, Reason: "execution reverted"}
	}

	a.nonces.Confirmed(submitted.nonce)
	a.forget(txHash)
	metrics.GasUsed.WithLabelValues(a.cfg.ChainName).Observe(float64(receipt.GasUsed))

	cost := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), submitted.tx.GasPrice())
	a.logger.InfoWithChain(a.cfg.ChainName, "Transaction confirmed: %s (gas used: %d)", txHash, receipt.GasUsed)
	return &TxResult{TransactionHash: txHash, CostIncurred: cost.String()}, nil
}

func (a *EVMAdapter) forget(txHash string) {
	a.mu.Lock()
	delete(a.pendingTx, txHash)
	a.mu.Unlock()
}

// updateGasPrice refreshes the signer's gas price from current network
// conditions, applying the configured multiplier.
func (a *EVMAdapter) updateGasPrice(ctx context.Context) error {
	if a.client == nil {
		return fmt.Errorf("client not connected")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gasPrice, err := a.client.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return fmt.Errorf("failed to get gas price: %v", err)
	}

	multiplied := new(big.Float).Mul(
		new(big.Float).SetInt(gasPrice),
		big.NewFloat(a.cfg.GasMultiplier),
	)
	finalGasPrice := new(big.Int)
	multiplied.Int(finalGasPrice)

	a.mu.Lock()
	if a.auth != nil {
		a.auth.GasPrice = finalGasPrice
	}
	a.mu.Unlock()

	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(finalGasPrice), big.NewFloat(1e9)).Float64()
	metrics.GasPrice.WithLabelValues(a.cfg.ChainName).Set(gwei)
	return nil
}

// protocolKey encodes a protocol identifier as a bytes32 router argument.
func protocolKey(protocol string) [32]byte {
	var key [32]byte
	copy(key[:], protocol)
	return key
}

// Helper function to create authenticator
func createAuthenticator(client *ethclient.Client, privateKeyHex string) (*bind.TransactOpts, error) {
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}

	chainID, err := client.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %v", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %v", err)
	}

	return auth, nil
}

// Helper function to get the router ABI
func getRouterABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(`[
		{
			"inputs": [
				{"name": "venue", "type": "bytes32"},
				{"name": "asset", "type": "address"},
				{"name": "amount", "type": "uint256"},
				{"name": "signature", "type": "bytes"}
			],
			"name": "deposit",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "venue", "type": "bytes32"},
				{"name": "asset", "type": "address"},
				{"name": "amount", "type": "uint256"},
				{"name": "signature", "type": "bytes"}
			],
			"name": "withdraw",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "venue", "type": "bytes32"},
				{"name": "asset", "type": "address"},
				{"name": "amount", "type": "uint256"},
				{"name": "signature", "type": "bytes"}
			],
			"name": "swap",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "fromVenue", "type": "bytes32"},
				{"name": "toVenue", "type": "bytes32"},
				{"name": "asset", "type": "address"},
				{"name": "amount", "type": "uint256"},
				{"name": "signature", "type": "bytes"}
			],
			"name": "migrate",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`))
}
