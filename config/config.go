// Package config loads the TOML-encoded parameters a market is constructed
// from, grounded on the teacher's config.Load/createDefault round trip
// (DecodeFile on an existing file, otherwise write out sane defaults).
package config

import (
	"fmt"
	"math/big"
	"os"

	"github.com/BurntSushi/toml"

	"marketcore/market"
)

// MarketConfig mirrors market.Params in a TOML-friendly shape: addresses are
// hex strings and the max supply is a decimal string, since BurntSushi/toml
// has no native big.Int support.
type MarketConfig struct {
	PoolID                  string `toml:"PoolID"`
	Borrower                string `toml:"Borrower"`
	Controller              string `toml:"Controller"`
	FeeRecipient            string `toml:"FeeRecipient"`
	Sentinel                string `toml:"Sentinel"`
	MaxTotalSupply          string `toml:"MaxTotalSupply"`
	AnnualInterestBips      uint64 `toml:"AnnualInterestBips"`
	ProtocolFeeBips         uint64 `toml:"ProtocolFeeBips"`
	DelinquencyFeeBips      uint64 `toml:"DelinquencyFeeBips"`
	DelinquencyGracePeriod  uint64 `toml:"DelinquencyGracePeriod"`
	ReserveRatioBips        uint64 `toml:"ReserveRatioBips"`
	WithdrawalBatchDuration uint64 `toml:"WithdrawalBatchDuration"`
	DataDir                 string `toml:"DataDir"`
}

// Load reads the configuration at path, writing out a default file first if
// none exists yet.
func Load(path string) (*MarketConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &MarketConfig{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// createDefault writes and returns a starter configuration with a market
// that mints nothing, owned by the zero address, so an operator is forced
// to edit every field before running a market with real value at stake.
func createDefault(path string) (*MarketConfig, error) {
	cfg := &MarketConfig{
		PoolID:                  "default",
		Borrower:                "0x0000000000000000000000000000000000000000",
		Controller:              "0x0000000000000000000000000000000000000000",
		FeeRecipient:            "0x0000000000000000000000000000000000000000",
		Sentinel:                "0x0000000000000000000000000000000000000000",
		MaxTotalSupply:          "0",
		AnnualInterestBips:      0,
		ProtocolFeeBips:         0,
		DelinquencyFeeBips:      0,
		DelinquencyGracePeriod:  0,
		ReserveRatioBips:        1000,
		WithdrawalBatchDuration: 604800,
		DataDir:                 "./marketcore-data",
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: write default %s: %w", path, err)
	}
	return cfg, nil
}

// Params parses the TOML-friendly fields into a market.Params plus the pool
// ID the market should be constructed under.
func (c *MarketConfig) Params() (poolID string, params market.Params, err error) {
	var p market.Params
	if err = p.Borrower.UnmarshalText([]byte(c.Borrower)); err != nil {
		return "", p, fmt.Errorf("config: Borrower: %w", err)
	}
	if err = p.Controller.UnmarshalText([]byte(c.Controller)); err != nil {
		return "", p, fmt.Errorf("config: Controller: %w", err)
	}
	if err = p.FeeRecipient.UnmarshalText([]byte(c.FeeRecipient)); err != nil {
		return "", p, fmt.Errorf("config: FeeRecipient: %w", err)
	}
	if err = p.Sentinel.UnmarshalText([]byte(c.Sentinel)); err != nil {
		return "", p, fmt.Errorf("config: Sentinel: %w", err)
	}
	maxTotalSupply, ok := new(big.Int).SetString(c.MaxTotalSupply, 10)
	if !ok {
		return "", p, fmt.Errorf("config: MaxTotalSupply %q is not a valid integer", c.MaxTotalSupply)
	}
	p.MaxTotalSupply = maxTotalSupply
	p.AnnualInterestBips = c.AnnualInterestBips
	p.ProtocolFeeBips = c.ProtocolFeeBips
	p.DelinquencyFeeBips = c.DelinquencyFeeBips
	p.DelinquencyGracePeriod = c.DelinquencyGracePeriod
	p.ReserveRatioBips = c.ReserveRatioBips
	p.WithdrawalBatchDuration = c.WithdrawalBatchDuration
	return c.PoolID, p, nil
}
