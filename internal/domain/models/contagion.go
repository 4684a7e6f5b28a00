package models

// PriceUpdate is returned for every price fed to the contagion engine.
type PriceUpdate struct {
	Symbol         string   `json:"symbol"`
	Price          float64  `json:"price"`
	Return         *float64 `json:"log_return"`
	DataPoints     int      `json:"data_points"`
	SufficientData bool     `json:"sufficient_data"`
}

type SymbolVolatility struct {
	Volatility float64 `json:"volatility"`
	Baseline   float64 `json:"baseline"`
	Ratio      float64 `json:"ratio"`
	Elevated   bool    `json:"elevated"`
}

// ContagionSummary is recomputed on every call from the current windows.
type ContagionSummary struct {
	AverageCorrelation    float64                     `json:"average_correlation"`
	VolatilitySyncRatio   float64                     `json:"volatility_sync_ratio"`
	CorrelationSpikeRatio float64                     `json:"correlation_spike_ratio"`
	CRS                   float64                     `json:"contagion_risk_score"`
	ContagionFlag         bool                        `json:"systemic_contagion_flag"`
	SymbolsTracked        int                         `json:"symbols_tracked"`
	DataSufficient        bool                        `json:"data_sufficient"`
	CorrelationMatrix     map[string]float64          `json:"correlation_matrix"`
	PerSymbolVolatility   map[string]SymbolVolatility `json:"per_symbol_volatility"`
	ElevatedSymbols       []string                    `json:"elevated_volatility_symbols"`
}

type SymbolContagionMetrics struct {
	Symbol             string  `json:"symbol"`
	PriceCount         int     `json:"price_count"`
	ReturnCount        int     `json:"return_count"`
	LatestPrice        float64 `json:"latest_price"`
	RollingVolatility  float64 `json:"rolling_volatility"`
	BaselineVolatility float64 `json:"baseline_volatility"`
	Elevated           bool    `json:"is_elevated"`
	AverageReturn      float64 `json:"average_return"`
}
