package chains

// Chain identifiers used throughout action plans. Chains are addressed by
// name; the EVM adapter maps names to numeric chain IDs for signing.
const (
	Ethereum  = "ethereum"
	Polygon   = "polygon"
	Arbitrum  = "arbitrum"
	Avalanche = "avalanche"
	BSC       = "bsc"
	Base      = "base"
)

// ChainList contains the supported chain names.
var ChainList = []string{
	Ethereum,
	Polygon,
	Arbitrum,
	Avalanche,
	BSC,
	Base,
}

// chainIDs maps chain names to their EVM chain IDs.
var chainIDs = map[string]int{
	Ethereum:  1,
	Polygon:   137,
	Arbitrum:  42161,
	Avalanche: 43114,
	BSC:       56,
	Base:      8453,
}

// DefaultGasLimit is the default gas limit for rebalance transactions per chain.
var DefaultGasLimit = map[string]uint64{
	Ethereum:  400000,
	Polygon:   400000,
	Arbitrum:  1000000,
	Avalanche: 400000,
	BSC:       400000,
	Base:      400000,
}

// ChainID returns the numeric chain ID for a chain name, or 0 if unknown.
func ChainID(name string) int {
	return chainIDs[name]
}

// IsSupported reports whether the chain name is a known chain.
func IsSupported(name string) bool {
	_, ok := chainIDs[name]
	return ok
}
