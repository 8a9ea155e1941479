package coingecko

import "strings"

// coinIDs maps ticker symbols to CoinGecko coin ids for the assets the
// exchanges commonly list. Symbols outside the table fall back to the
// lowercase symbol, which matches for many smaller coins.
var coinIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"SOL":   "solana",
	"ADA":   "cardano",
	"DOT":   "polkadot",
	"AVAX":  "avalanche-2",
	"MATIC": "matic-network",
	"LINK":  "chainlink",
	"ATOM":  "cosmos",
	"LTC":   "litecoin",
	"XRP":   "ripple",
	"DOGE":  "dogecoin",
	"BNB":   "binancecoin",
	"UNI":   "uniswap",
	"AAVE":  "aave",
	"NEAR":  "near",
	"ALGO":  "algorand",
	"XLM":   "stellar",
	"USDC":  "usd-coin",
	"USDT":  "tether",
}

// CoinID resolves a ticker symbol to its CoinGecko coin id.
func CoinID(symbol string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", false
	}
	if id, ok := coinIDs[s]; ok {
		return id, true
	}
	return strings.ToLower(s), true
}
