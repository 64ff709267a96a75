package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
Version = 3
Vault = "0x00000000000000000000000000000000000000aa"

[Oracle]
Endpoint = "https://hermes.pyth.network"
MaxQuoteAgeSeconds = 1800

[Fees]
DepositBps = 10
WithdrawBps = 20
RewardBps = 100
Collector = "0x00000000000000000000000000000000000000fe"
Treasury = "0x00000000000000000000000000000000000000fd"

[Staking]
BaseRewardRateBps = 750

[Agents]
MaxRequestsPerHour = 10
Executor = "0x00000000000000000000000000000000000000ee"

[Pauses]
Modules = ["agent"]

[[Tokens]]
Symbol = "usds"
Decimals = 6
LiquidationThresholdBps = 8000
MaxDepositPerTx = "1000000000"
IsStablecoin = true

[[Tokens]]
Symbol = "WETH"
PriceFeedID = "ff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"
Decimals = 18
LiquidationThresholdBps = 8250
MaxDepositPerTx = "5000000000000000000"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stakevault.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSample(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.EqualValues(t, 3, cfg.Version)
	require.EqualValues(t, 1800, cfg.Oracle.MaxQuoteAgeSeconds)
	require.EqualValues(t, 750, cfg.Staking.BaseRewardRateBps)
	require.Len(t, cfg.Tokens, 2)

	vault, err := DecodeAddress(cfg.Vault)
	require.NoError(t, err)
	require.EqualValues(t, 0xaa, vault[19])

	// Symbols are canonicalised by the conversion, not the loader.
	usds, err := cfg.Tokens[0].TokenConfig()
	require.NoError(t, err)
	require.Equal(t, "USDS", usds.Symbol)
	require.True(t, usds.IsStablecoin)
	require.Equal(t, big.NewInt(1_000_000_000), usds.MaxDepositPerTx)

	weth, err := cfg.Tokens[1].TokenConfig()
	require.NoError(t, err)
	require.EqualValues(t, 18, weth.Decimals)
	require.NotEmpty(t, weth.PriceFeedID)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
Version = 1
Vault = "0x00000000000000000000000000000000000000aa"
[Fees]
Collector = "0x00000000000000000000000000000000000000fe"
Treasury = "0x00000000000000000000000000000000000000fd"
`))
	require.NoError(t, err)
	require.EqualValues(t, 500, cfg.Staking.BaseRewardRateBps)
	require.EqualValues(t, 10, cfg.Agents.MaxRequestsPerHour)
	require.EqualValues(t, 3600, cfg.Oracle.MaxQuoteAgeSeconds)
	require.EqualValues(t, 100, cfg.Fees.RewardBps)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing version": `
Vault = "0x00000000000000000000000000000000000000aa"
[Fees]
Collector = "0x00000000000000000000000000000000000000fe"
Treasury = "0x00000000000000000000000000000000000000fd"
`,
		"bad vault": `
Version = 1
Vault = "not-an-address"
[Fees]
Collector = "0x00000000000000000000000000000000000000fe"
Treasury = "0x00000000000000000000000000000000000000fd"
`,
		"fee over cap": `
Version = 1
Vault = "0x00000000000000000000000000000000000000aa"
[Fees]
DepositBps = 501
Collector = "0x00000000000000000000000000000000000000fe"
Treasury = "0x00000000000000000000000000000000000000fd"
`,
		"duplicate token": `
Version = 1
Vault = "0x00000000000000000000000000000000000000aa"
[Fees]
Collector = "0x00000000000000000000000000000000000000fe"
Treasury = "0x00000000000000000000000000000000000000fd"
[[Tokens]]
Symbol = "USDS"
Decimals = 6
MaxDepositPerTx = "100"
IsStablecoin = true
[[Tokens]]
Symbol = "usds"
Decimals = 6
MaxDepositPerTx = "100"
IsStablecoin = true
`,
		"oracle token without feed": `
Version = 1
Vault = "0x00000000000000000000000000000000000000aa"
[Fees]
Collector = "0x00000000000000000000000000000000000000fe"
Treasury = "0x00000000000000000000000000000000000000fd"
[[Tokens]]
Symbol = "WETH"
Decimals = 18
MaxDepositPerTx = "100"
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestPauseRegistry(t *testing.T) {
	registry := NewPauseRegistry(Pauses{Modules: []string{"Agent", " staking "}})
	require.True(t, registry.IsPaused("agent"))
	require.True(t, registry.IsPaused("staking"))
	require.False(t, registry.IsPaused("collateral"))

	registry.SetPaused("collateral", true)
	registry.SetPaused("agent", false)
	require.True(t, registry.IsPaused("collateral"))
	require.False(t, registry.IsPaused("agent"))
	require.ElementsMatch(t, []string{"collateral", "staking"}, registry.Paused())
}
