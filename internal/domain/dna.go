package domain

// TokenDNA captures launch-time characteristics of a token, used to match
// new candidates against the profile of past winners.
type TokenDNA struct {
	InitialLiquidity uint64 // lamports at pool creation
	InitialMarketCap uint64
	LaunchHourUTC    uint8
	HasTwitter       bool
	MintRenounced    bool
	MarketVolatility float64
}

// DNAMatch is the result of scoring a TokenDNA against the library.
type DNAMatch struct {
	IsMatch bool
	IsElite bool
	Score   uint64
}
