package models

// Opportunity is a yield venue listing as reported by the opportunity source.
type Opportunity struct {
	Protocol   string  `json:"protocol"`
	Chain      string  `json:"chain"`
	APY        float64 `json:"apy"`
	TVL        float64 `json:"tvl"`
	RiskScore  float64 `json:"risk_score"`
	MinDeposit string  `json:"min_deposit"`
	Fees       float64 `json:"fees"`
}

// Position is a wallet's holding in one yield venue.
type Position struct {
	WalletAddress string  `json:"wallet_address"`
	Protocol      string  `json:"protocol"`
	Chain         string  `json:"chain"`
	Asset         string  `json:"asset"`
	Amount        string  `json:"amount"`
	Value         float64 `json:"value"`
	APY           float64 `json:"apy"`
	RiskScore     float64 `json:"risk_score"`
}
