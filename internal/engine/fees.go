package engine

// FeeRate is the exchange commission, charged identically for maker and
// taker fills.
const FeeRate = 0.0025

// Fee returns the commission in USD for a trade of the given USD value.
func Fee(tradeValueUSD float64) float64 {
	return FeeRate * tradeValueUSD
}
