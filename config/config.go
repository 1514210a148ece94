// Package config loads the engine's TOML-configured parameters, writing a
// default file on first run.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

// Config is the full set of tunable engine parameters, loaded once at
// startup and handed to internal/engine.New.
type Config struct {
	DataDir string `toml:"DataDir"`

	MinimumMint               string `toml:"minimum_mint"`
	LiquidationLiquidationFine string `toml:"liquidation_liquidation_fine"`
	StabilisLiquidationFine   string `toml:"stabilis_liquidation_fine"`
	ForceMintCRMultiplier     string `toml:"force_mint_cr_multiplier"`
	MaxVectorLength           int    `toml:"max_vector_length"`
	LiquidationDelayMinutes   int64  `toml:"liquidation_delay"`
	UnmarkedDelayMinutes      int64  `toml:"unmarked_delay"`
	UpdateDelayMinutes        int64  `toml:"update_delay"`
	NumberOfCachedPrices      uint64 `toml:"number_of_cached_prices"`
	AllowedDeviation          string `toml:"allowed_deviation"`
	MaxPriceError             string `toml:"max_price_error"`
	Kp                        string `toml:"kp"`
	Ki                        string `toml:"ki"`
	MinInterestRate           string `toml:"min_interest_rate"`
	MaxInterestRate           string `toml:"max_interest_rate"`
	PriceErrorOffset          string `toml:"price_error_offset"`
	BasePrice                 string `toml:"base_price"`
}

// Load reads cfg from path, writing the default configuration first if
// the file does not yet exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault writes and returns the default configuration.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		DataDir:                    "./stab-data",
		MinimumMint:                "1",
		LiquidationLiquidationFine: "0.10",
		StabilisLiquidationFine:    "0.05",
		ForceMintCRMultiplier:      "3",
		MaxVectorLength:            100,
		LiquidationDelayMinutes:    0,
		UnmarkedDelayMinutes:       0,
		UpdateDelayMinutes:         0,
		NumberOfCachedPrices:       50,
		AllowedDeviation:           "0.005",
		MaxPriceError:              "0.5",
		Kp:                         "0.00000000076517857",
		Ki:                         "0.00000000076517857",
		MinInterestRate:            "0.9999992287",
		MaxInterestRate:            "1.0000007715",
		PriceErrorOffset:           "1",
		BasePrice:                  "1",
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decimal parses a TOML-encoded decimal field, returning the parse error
// for a malformed value.
func Decimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
