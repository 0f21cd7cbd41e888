package models

import (
	"time"
)

// Pair is the only market this bot trades.
const Pair = "BTC/USD"

// AccountState tracks where an account sits in its buy/sell cycle.
type AccountState string

const (
	StateInUSD   AccountState = "IN_USD"
	StateBuying  AccountState = "BUYING_BTC"
	StateInBTC   AccountState = "IN_BTC"
	StateSelling AccountState = "SELLING_BTC"
)

// Valid reports whether s is one of the four defined states.
func (s AccountState) Valid() bool {
	switch s {
	case StateInUSD, StateBuying, StateInBTC, StateSelling:
		return true
	}
	return false
}

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Account is one independent bot cycling between USD and BTC.
//
// Which target prices are meaningful depends on State: IN_USD carries
// BuyPrice, IN_BTC carries SellPrice and optionally HedgePrice. The
// opposite side's fields go stale and are ignored until the next flip.
type Account struct {
	ID      int64 `json:"id"`
	Version int64 `json:"version"`

	State      AccountState `json:"state"`
	BalanceUSD float64      `json:"accountBalanceUSD"`
	BalanceBTC float64      `json:"accountBalanceBTC"`

	BuyPrice   *float64 `json:"buyPrice,omitempty"`
	SellPrice  *float64 `json:"sellPrice,omitempty"`
	HedgePrice *float64 `json:"hedgePrice,omitempty"`

	TargetAmountUSD float64 `json:"targetAmountUsd"`
	ProfitUSD       float64 `json:"profitUSD"`
	ProfitDelta     float64 `json:"profitDelta"`

	RiskFactor        *float64 `json:"riskFactor,omitempty"`
	HedgeDelayMinutes *int     `json:"hedgeDelayMinutes,omitempty"`
	HoursToUpdate     int      `json:"hoursToUpdate"`

	// HedgeTimes is an append-only log of hedge timestamps (RFC 3339).
	HedgeTimes []string `json:"hedgeTimes,omitempty"`

	CreatedAt int64 `json:"timestamp"`
}

// InstantKind tags the always-armed price condition of a trigger.
type InstantKind string

const (
	InstantBuy  InstantKind = "buy"
	InstantSell InstantKind = "sell"
)

// RangeKind tags the trailing-average condition of a trigger.
type RangeKind string

const (
	RangeAbove RangeKind = "above" // average >= buy price after Hours
	RangeBelow RangeKind = "below" // average <= sell price after Hours
)

// InstantCondition is compared directly against the latest price.
// HedgePrice is only meaningful on a sell condition.
type InstantCondition struct {
	Kind       InstantKind `json:"kind"`
	Price      float64     `json:"price"`
	HedgePrice *float64    `json:"hedgePrice,omitempty"`
}

// RangeCondition fires once Hours have elapsed since the trigger was
// created and the trailing Hours-hour average crosses the instant price.
type RangeCondition struct {
	Kind  RangeKind `json:"kind"`
	Hours int       `json:"hours"`
}

// Trigger is a standing single-use condition tied to one account.
// (AccountID, Timestamp) is its storage key.
type Trigger struct {
	AccountID   int64            `json:"accountId"`
	Timestamp   int64            `json:"timestamp"` // creation time, unix ms
	Instant     InstantCondition `json:"instant"`
	Range       *RangeCondition  `json:"range,omitempty"`
	LastUpdated int64            `json:"lastupdatedts,omitempty"`
}

// PriceSample is one observation from the price feed, latest-wins.
type PriceSample struct {
	Pair      string  `json:"type"`
	Timestamp int64   `json:"timestamp"` // unix ms
	Price     float64 `json:"price"`
	Exchange  string  `json:"exchange,omitempty"`
}

// AverageSet is a snapshot of trailing mean prices keyed by look-back
// hours, published by the aggregator.
type AverageSet struct {
	Pair      string          `json:"type"`
	Timestamp int64           `json:"timestamp"` // unix ms
	Averages  map[int]float64 `json:"averages"`
}

// At returns the mean for the given look-back window, if present.
func (a *AverageSet) At(hours int) (float64, bool) {
	if a == nil || a.Averages == nil {
		return 0, false
	}
	v, ok := a.Averages[hours]
	return v, ok
}

// FireReason classifies why a trigger fired.
type FireReason string

const (
	ReasonInstantBuy  FireReason = "instant-buy"
	ReasonInstantSell FireReason = "instant-sell"
	ReasonHedge       FireReason = "hedge"
	ReasonRangeUpdate FireReason = "range-update"
)

// FiredTrigger is a trigger that met its condition, carrying the price
// and average snapshot it was evaluated against so downstream handlers
// never re-fetch them.
type FiredTrigger struct {
	Trigger   Trigger     `json:"trigger"`
	Reason    FireReason  `json:"reason"`
	LastPrice PriceSample `json:"lastPrice"`
	Averages  AverageSet  `json:"averages"`
}

// OrderRequest asks the execution layer to trade an account's full
// working balance at around Price.
type OrderRequest struct {
	ID        string  `json:"id"`
	AccountID int64   `json:"accountId"`
	Side      Side    `json:"side"`
	Price     float64 `json:"price"`
	IsHedge   bool    `json:"isHedge"`
	Timestamp int64   `json:"timestamp"`
}

// CompletedOrder reports an executed (assumed fully filled) order.
type CompletedOrder struct {
	OrderID           string  `json:"order_id"`
	AccountID         int64   `json:"accountId"`
	Side              Side    `json:"side"`
	ExecutedAmount    float64 `json:"executed_amount"`
	OriginalAmount    float64 `json:"original_amount"`
	RemainingAmount   float64 `json:"remaining_amount"`
	AvgExecutionPrice float64 `json:"avg_execution_price"`
	IsHedge           bool    `json:"isHedge"`
	Timestamp         int64   `json:"timestamp"`
}

// MetricsRow is the per-account trade counter row.
type MetricsRow struct {
	AccountID          int64   `json:"accountId"`
	TotalTrades        int64   `json:"totalTrades"`
	Buys               int64   `json:"buys"`
	Sells              int64   `json:"sells"`
	Hedges             int64   `json:"hedges"`
	VolumeBTC          float64 `json:"volumeBTC"`
	VolumeUSD          float64 `json:"volumeUSD"`
	ExchangeBalanceBTC float64 `json:"exchangeBalanceBTC"`
	ExchangeBalanceUSD float64 `json:"exchangeBalanceUSD"`
	LastUpdated        int64   `json:"lastUpdated"`
}

// Notification is a structured human-readable summary for the chat sink.
type Notification struct {
	Title    string              `json:"title"`
	Fallback string              `json:"fallback"`
	Color    string              `json:"color"` // slack color name or hex
	Fields   []NotificationField `json:"fields,omitempty"`
	Text     string              `json:"text,omitempty"`
	Time     int64               `json:"ts"`
}

// NotificationField is one key/value line of a notification attachment.
type NotificationField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// LogConfig holds the logging setup.
type LogConfig struct {
	Level      string `json:"level"`
	Output     string `json:"output"` // "console", "file", "both"
	File       string `json:"file"`
	MaxSize    int    `json:"max_size"`
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"`
	Compress   bool   `json:"compress"`
}

// Config holds all bot configuration loaded from the JSON config file.
type Config struct {
	DBPath       string `json:"db_path"`
	TradesDBPath string `json:"trades_db_path"`
	HTTPAddr     string `json:"http_addr"`

	PriceSource     string `json:"price_source"` // "gemini" or "binance"
	GeminiAPIURL    string `json:"gemini_api_url"`
	BinanceSymbol   string `json:"binance_symbol"`
	PollIntervalSec int    `json:"poll_interval_sec"`

	ScanIntervalSec    int `json:"scan_interval_sec"`
	AverageIntervalSec int `json:"average_interval_sec"`
	DigestIntervalMin  int `json:"digest_interval_min"`

	SlackChannel string `json:"slack_channel"`

	LogConfig LogConfig `json:"log"`
}

// NowMillis is the unix-millisecond timestamp convention used across
// all stored records.
func NowMillis() int64 { return time.Now().UnixMilli() }
