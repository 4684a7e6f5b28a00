package models

import "time"

// FeedState is the engine-owned view of one symbol x feed.
type FeedState struct {
	Feed          string
	LatestPrice   *float64
	LastUpdated   time.Time
	Reliability   float64
	TotalUpdates  int64
	MismatchCount int64
}

// FeedDeviation is one pairwise comparison within a validation cycle.
type FeedDeviation struct {
	FeedA            string  `json:"feed_a"`
	PriceA           float64 `json:"price_a"`
	FeedB            string  `json:"feed_b"`
	PriceB           float64 `json:"price_b"`
	Deviation        float64 `json:"deviation"`
	ExceedsThreshold bool    `json:"exceeds_threshold"`
}

// FeedValidation is the result of a cross-feed validation attempt.
type FeedValidation struct {
	Symbol              string          `json:"symbol"`
	ValidationPerformed bool            `json:"validation_performed"`
	MismatchDetected    bool            `json:"mismatch_detected"`
	MaxDeviation        float64         `json:"max_deviation"`
	Deviations          []FeedDeviation `json:"deviations"`
	FeedsValidated      int             `json:"feeds_validated"`
}

type FeedSnapshot struct {
	LatestPrice   *float64  `json:"latest_price"`
	Reliability   float64   `json:"reliability"`
	LastUpdated   time.Time `json:"last_updated"`
	TotalUpdates  int64     `json:"total_updates"`
	MismatchCount int64     `json:"mismatch_count"`
}

// SymbolFeedSummary describes every feed of one symbol.
type SymbolFeedSummary struct {
	Symbol          string                  `json:"symbol"`
	Feeds           map[string]FeedSnapshot `json:"feeds"`
	MaxDeviation    float64                 `json:"max_deviation"`
	MismatchCount   int64                   `json:"mismatch_count"`
	MismatchRate    float64                 `json:"feed_mismatch_rate"`
	TotalUpdates    int64                   `json:"total_updates"`
	ActiveFeeds     int                     `json:"active_feeds"`
	RegisteredFeeds int                     `json:"registered_feeds"`
}

type SymbolHealth struct {
	MismatchCount      int64   `json:"mismatch_count"`
	MismatchRate       float64 `json:"mismatch_rate"`
	AverageReliability float64 `json:"avg_reliability"`
	ActiveFeeds        int     `json:"active_feeds"`
}

type FeedReliability struct {
	Symbol      string  `json:"symbol"`
	Feed        string  `json:"feed"`
	Reliability float64 `json:"reliability"`
}

// FeedHealth aggregates feed integrity across all symbols.
type FeedHealth struct {
	TotalSymbols          int                     `json:"total_symbols"`
	TotalFeeds            int                     `json:"total_feeds"`
	TotalMismatches       int64                   `json:"total_mismatches"`
	TotalValidationCycles int64                   `json:"total_validation_cycles"`
	TotalPriceUpdates     int64                   `json:"total_price_updates"`
	AverageReliability    float64                 `json:"average_feed_reliability"`
	GlobalMismatchRate    float64                 `json:"global_feed_mismatch_rate"`
	PerSymbol             map[string]SymbolHealth `json:"per_symbol_health"`
	LowestReliability     []FeedReliability       `json:"lowest_reliability_feeds"`
}
