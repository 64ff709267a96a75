package storage

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"stakevault/native/agent"
	"stakevault/native/collateral"
	nativecommon "stakevault/native/common"
	"stakevault/native/staking"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func addr(suffix byte) [20]byte {
	var a [20]byte
	a[19] = suffix
	return a
}

func TestBankBalances(t *testing.T) {
	store := openStore(t)
	bank := store.Bank()

	balance, err := bank.TokenBalance(addr(1), "USDS")
	require.NoError(t, err)
	require.Nil(t, balance)

	require.NoError(t, bank.SetTokenBalance(addr(1), "USDS", big.NewInt(12345)))
	balance, err = bank.TokenBalance(addr(1), "USDS")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(12345), balance)

	// Keys separate address and token; no cross-talk.
	other, err := bank.TokenBalance(addr(1), "WETH")
	require.NoError(t, err)
	require.Nil(t, other)
	other, err = bank.TokenBalance(addr(2), "USDS")
	require.NoError(t, err)
	require.Nil(t, other)
}

func TestCollateralRoundTrip(t *testing.T) {
	store := openStore(t)
	view := store.Collateral()

	missing, err := view.GetToken("USDS")
	require.NoError(t, err)
	require.Nil(t, missing)

	cfg := &collateral.TokenConfig{
		Symbol:                  "USDS",
		Decimals:                6,
		LiquidationThresholdBps: 8000,
		MaxDepositPerTx:         big.NewInt(1_000_000),
		IsStablecoin:            true,
		IsSupported:             true,
	}
	require.NoError(t, view.PutToken(cfg))
	stored, err := view.GetToken("USDS")
	require.NoError(t, err)
	require.Equal(t, cfg, stored)

	list, err := view.TokenList()
	require.NoError(t, err)
	require.Empty(t, list)
	require.NoError(t, view.SetTokenList([]string{"USDS", "WETH"}))
	list, err = view.TokenList()
	require.NoError(t, err)
	require.Equal(t, []string{"USDS", "WETH"}, list)

	pos := &collateral.Position{
		Address:        addr(7),
		Balances:       map[string]*big.Int{"USDS": big.NewInt(999)},
		TotalValueUSD:  big.NewInt(98_901),
		LastUpdateTime: 1_700_000_000,
		DepositCount:   1,
		IsActive:       true,
	}
	require.NoError(t, view.PutPosition(pos))
	storedPos, err := view.GetPosition(addr(7))
	require.NoError(t, err)
	require.Equal(t, pos, storedPos)

	none, err := view.GetPosition(addr(8))
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestStakingRoundTrip(t *testing.T) {
	store := openStore(t)
	view := store.Staking()

	pos := &staking.Position{
		Address:            addr(3),
		StakingToken:       "WETH",
		StakedAmount:       big.NewInt(1_000_000),
		RewardRateBps:      500,
		LastRewardUpdate:   1_700_000_000,
		AccumulatedRewards: big.NewInt(136),
		UnstakeRequested:   true,
		UnstakeRequestTime: 1_700_000_100,
	}
	require.NoError(t, view.PutPosition(pos))
	stored, err := view.GetPosition(addr(3))
	require.NoError(t, err)
	require.Equal(t, pos, stored)
}

func TestAgentRoundTrip(t *testing.T) {
	store := openStore(t)
	view := store.Agents()

	info := &agent.AgentInfo{Address: addr(9), Label: "yield-bot", AuthorizedAt: 1_700_000_000}
	require.NoError(t, view.PutAgent(info))
	stored, err := view.GetAgent(addr(9))
	require.NoError(t, err)
	require.Equal(t, info, stored)

	require.NoError(t, view.DeleteAgent(addr(9)))
	stored, err = view.GetAgent(addr(9))
	require.NoError(t, err)
	require.Nil(t, stored)

	req := &agent.Request{
		ID:        [32]byte{0xAB},
		User:      addr(1),
		Agent:     addr(9),
		Type:      agent.RequestTypeDeposit,
		Payload:   []byte(`{"token":"USDS","amount":100}`),
		CreatedAt: 1_700_000_000,
		ExpiresAt: 1_700_000_600,
		Status:    agent.StatusPending,
	}
	require.NoError(t, view.PutRequest(req))
	storedReq, err := view.GetRequest(req.ID)
	require.NoError(t, err)
	require.Equal(t, req, storedReq)

	usage, err := view.GetQuota(addr(9))
	require.NoError(t, err)
	require.Zero(t, usage)
	want := nativecommon.QuotaNow{ReqCount: 3, BucketID: 472_222}
	require.NoError(t, view.PutQuota(addr(9), want))
	usage, err = view.GetQuota(addr(9))
	require.NoError(t, err)
	require.Equal(t, want, usage)
}

func TestReopenKeepsState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")

	store, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Bank().SetTokenBalance(addr(1), "USDS", big.NewInt(42)))
	require.NoError(t, store.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	balance, err := reopened.Bank().TokenBalance(addr(1), "USDS")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(42), balance)
}
