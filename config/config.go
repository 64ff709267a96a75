// Package config loads the protocol configuration: supported tokens, fee
// rates, staking parameters, agent limits and module pauses. The loaded
// struct is immutable; runtime pause changes go through PauseRegistry, which
// swaps a whole snapshot at once.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	ethcommon "github.com/ethereum/go-ethereum/common"

	"stakevault/native/collateral"
)

// Token mirrors one [[Tokens]] block.
type Token struct {
	Symbol                  string `toml:"Symbol"`
	PriceFeedID             string `toml:"PriceFeedID"`
	Decimals                uint8  `toml:"Decimals"`
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	MaxDepositPerTx         string `toml:"MaxDepositPerTx"`
	IsStablecoin            bool   `toml:"IsStablecoin"`
}

// Fees carries the protocol fee rates and recipients.
type Fees struct {
	DepositBps  uint64 `toml:"DepositBps"`
	WithdrawBps uint64 `toml:"WithdrawBps"`
	RewardBps   uint64 `toml:"RewardBps"`
	Collector   string `toml:"Collector"`
	Treasury    string `toml:"Treasury"`
}

// Staking carries the staking-ledger parameters.
type Staking struct {
	BaseRewardRateBps uint64 `toml:"BaseRewardRateBps"`
}

// Agents carries the request-router parameters.
type Agents struct {
	MaxRequestsPerHour uint32 `toml:"MaxRequestsPerHour"`
	Executor           string `toml:"Executor"`
}

// Oracle carries the price-source parameters.
type Oracle struct {
	Endpoint           string `toml:"Endpoint"`
	MaxQuoteAgeSeconds int64  `toml:"MaxQuoteAgeSeconds"`
}

// Pauses lists modules that start paused.
type Pauses struct {
	Modules []string `toml:"Modules"`
}

// Config is the versioned protocol configuration.
type Config struct {
	Version uint64  `toml:"Version"`
	Vault   string  `toml:"Vault"`
	Oracle  Oracle  `toml:"Oracle"`
	Tokens  []Token `toml:"Tokens"`
	Fees    Fees    `toml:"Fees"`
	Staking Staking `toml:"Staking"`
	Agents  Agents  `toml:"Agents"`
	Pauses  Pauses  `toml:"Pauses"`
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := &Config{}
	if _, err := toml.Decode(string(raw), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Staking.BaseRewardRateBps == 0 {
		c.Staking.BaseRewardRateBps = 500
	}
	if c.Agents.MaxRequestsPerHour == 0 {
		c.Agents.MaxRequestsPerHour = 10
	}
	if c.Oracle.MaxQuoteAgeSeconds == 0 {
		c.Oracle.MaxQuoteAgeSeconds = 3600
	}
	if c.Fees.RewardBps == 0 {
		c.Fees.RewardBps = 100
	}
}

// Validate checks ranges and address formats without touching any engine.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return fmt.Errorf("config: Version is required")
	}
	if _, err := DecodeAddress(c.Vault); err != nil {
		return fmt.Errorf("config: Vault: %w", err)
	}
	if _, err := DecodeAddress(c.Fees.Collector); err != nil {
		return fmt.Errorf("config: Fees.Collector: %w", err)
	}
	if _, err := DecodeAddress(c.Fees.Treasury); err != nil {
		return fmt.Errorf("config: Fees.Treasury: %w", err)
	}
	if c.Agents.Executor != "" {
		if _, err := DecodeAddress(c.Agents.Executor); err != nil {
			return fmt.Errorf("config: Agents.Executor: %w", err)
		}
	}
	if c.Fees.DepositBps > collateral.MaxFeeBps || c.Fees.WithdrawBps > collateral.MaxFeeBps {
		return fmt.Errorf("config: deposit/withdraw fees exceed %d bps", collateral.MaxFeeBps)
	}
	if c.Fees.RewardBps > 1_000 {
		return fmt.Errorf("config: reward fee exceeds 1000 bps")
	}
	if c.Staking.BaseRewardRateBps > 2_000 {
		return fmt.Errorf("config: base reward rate exceeds 2000 bps")
	}
	seen := make(map[string]bool, len(c.Tokens))
	for i := range c.Tokens {
		token := &c.Tokens[i]
		symbol := strings.ToUpper(strings.TrimSpace(token.Symbol))
		if symbol == "" {
			return fmt.Errorf("config: token %d has no symbol", i)
		}
		if seen[symbol] {
			return fmt.Errorf("config: duplicate token %s", symbol)
		}
		seen[symbol] = true
		if _, err := token.TokenConfig(); err != nil {
			return err
		}
	}
	return nil
}

// MaxQuoteAge returns the oracle freshness window as a duration.
func (c *Config) MaxQuoteAge() time.Duration {
	return time.Duration(c.Oracle.MaxQuoteAgeSeconds) * time.Second
}

// TokenConfig converts the TOML block into the ledger's token configuration.
func (t *Token) TokenConfig() (*collateral.TokenConfig, error) {
	limit, ok := new(big.Int).SetString(strings.TrimSpace(t.MaxDepositPerTx), 10)
	if !ok || limit.Sign() <= 0 {
		return nil, fmt.Errorf("config: token %s: MaxDepositPerTx must be a positive decimal string", t.Symbol)
	}
	cfg := &collateral.TokenConfig{
		Symbol:                  t.Symbol,
		PriceFeedID:             t.PriceFeedID,
		Decimals:                t.Decimals,
		LiquidationThresholdBps: t.LiquidationThresholdBps,
		MaxDepositPerTx:         limit,
		IsStablecoin:            t.IsStablecoin,
	}
	return collateral.SanitizeToken(cfg)
}

// DecodeAddress parses a 0x-prefixed 20-byte hex address.
func DecodeAddress(value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if !ethcommon.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("invalid address %q", value)
	}
	return ethcommon.HexToAddress(trimmed), nil
}
