package store

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema. Prefix-based so each record family supports range
// scans, with zero-padded numeric segments for lexicographic ordering.
const (
	prefixBalance = "bal:"   // balance per (account, ticker)
	prefixAsset   = "asset:" // registered assets
	prefixOrder   = "ord:"   // open limit orders
	prefixTrade   = "trade:" // trade history per ticker
)

// balanceKey formats "bal:{address}:{ticker}".
func balanceKey(account common.Address, ticker string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, account.Hex(), ticker))
}

// assetKey formats "asset:{ticker}".
func assetKey(ticker string) []byte {
	return []byte(prefixAsset + ticker)
}

// orderKey formats "ord:{id}" with the id zero-padded to 20 digits so a
// prefix scan yields orders in ascending id (insertion) order.
func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

// tradeKey formats "trade:{ticker}:{seq}" with a zero-padded sequence so
// scans are chronological.
func tradeKey(ticker string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixTrade, ticker, seq))
}

// tradePrefix returns the scan prefix for one ticker's trades.
func tradePrefix(ticker string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, ticker))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
