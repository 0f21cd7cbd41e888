package store

import (
	"fmt"

	"github.com/jxskiss/base62"
)

// Key layout. Identifiers are base62-encoded to keep keys compact;
// time-ordered collections use fixed-width decimal timestamps so
// lexicographic iteration order is chronological order.
const (
	accountPrefix = "account/"
	triggerPrefix = "trigger/"
	pricePrefix   = "price/"
	averagePrefix = "averages/"
)

func accountKey(id int64) []byte {
	return append([]byte(accountPrefix), base62.FormatInt(id)...)
}

func triggerKey(accountID, timestamp int64) []byte {
	key := append([]byte(triggerPrefix), base62.FormatInt(accountID)...)
	key = append(key, '/')
	return append(key, base62.FormatInt(timestamp)...)
}

func priceKey(timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", pricePrefix, timestamp))
}

func averageKey(timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", averagePrefix, timestamp))
}
