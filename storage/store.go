// Package storage persists ledger state in a single BoltDB file. Each module
// gets its own bucket namespace and a narrow view struct that satisfies the
// module engine's state interface.
package storage

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	bolt "go.etcd.io/bbolt"

	"stakevault/native/agent"
	"stakevault/native/collateral"
	nativecommon "stakevault/native/common"
	"stakevault/native/staking"
)

var (
	bucketBalances            = []byte("bank/balances")
	bucketCollateralTokens    = []byte("collateral/tokens")
	bucketCollateralPositions = []byte("collateral/positions")
	bucketCollateralMeta      = []byte("collateral/meta")
	bucketStakingPositions    = []byte("staking/positions")
	bucketAgents              = []byte("agent/allowlist")
	bucketAgentRequests       = []byte("agent/requests")
	bucketAgentQuotas         = []byte("agent/quotas")

	tokenListKey = []byte("token-list")
)

// Store owns the BoltDB handle shared by every module view.
type Store struct {
	db *bolt.DB
}

// Open initialises the database file and creates the module buckets.
func Open(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketBalances,
			bucketCollateralTokens,
			bucketCollateralPositions,
			bucketCollateralMeta,
			bucketStakingPositions,
			bucketAgents,
			bucketAgentRequests,
			bucketAgentQuotas,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Bank returns the fungible-token balance view.
func (s *Store) Bank() *BankStore { return &BankStore{db: s.db} }

// Collateral returns the collateral-ledger state view.
func (s *Store) Collateral() *CollateralStore { return &CollateralStore{db: s.db} }

// Staking returns the staking-ledger state view.
func (s *Store) Staking() *StakingStore { return &StakingStore{db: s.db} }

// Agents returns the request-router state view.
func (s *Store) Agents() *AgentStore { return &AgentStore{db: s.db} }

func getJSON[T any](db *bolt.DB, bucket, key []byte) (*T, error) {
	var out *T
	err := db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucket).Get(key)
		if raw == nil {
			return nil
		}
		decoded := new(T)
		if err := json.Unmarshal(raw, decoded); err != nil {
			return fmt.Errorf("storage: decode %s/%s: %w", bucket, key, err)
		}
		out = decoded
		return nil
	})
	return out, err
}

func putJSON(db *bolt.DB, bucket, key []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode %s/%s: %w", bucket, key, err)
	}
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, raw)
	})
}

func balanceKey(addr [20]byte, token string) []byte {
	buf := make([]byte, len(addr)+1+len(token))
	copy(buf, addr[:])
	buf[len(addr)] = '/'
	copy(buf[len(addr)+1:], token)
	return buf
}

// BankStore persists per-account token balances as decimal strings.
type BankStore struct {
	db *bolt.DB
}

func (s *BankStore) TokenBalance(addr [20]byte, token string) (*big.Int, error) {
	var balance *big.Int
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBalances).Get(balanceKey(addr, token))
		if raw == nil {
			return nil
		}
		parsed, ok := new(big.Int).SetString(string(raw), 10)
		if !ok {
			return fmt.Errorf("storage: corrupt balance for %x/%s", addr, token)
		}
		balance = parsed
		return nil
	})
	return balance, err
}

func (s *BankStore) SetTokenBalance(addr [20]byte, token string, amount *big.Int) error {
	value := "0"
	if amount != nil {
		value = amount.String()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBalances).Put(balanceKey(addr, token), []byte(value))
	})
}

// CollateralStore persists token configurations, the iterated token list and
// collateral positions.
type CollateralStore struct {
	db *bolt.DB
}

func (s *CollateralStore) GetToken(symbol string) (*collateral.TokenConfig, error) {
	return getJSON[collateral.TokenConfig](s.db, bucketCollateralTokens, []byte(symbol))
}

func (s *CollateralStore) PutToken(cfg *collateral.TokenConfig) error {
	return putJSON(s.db, bucketCollateralTokens, []byte(cfg.Symbol), cfg)
}

func (s *CollateralStore) TokenList() ([]string, error) {
	list, err := getJSON[[]string](s.db, bucketCollateralMeta, tokenListKey)
	if err != nil || list == nil {
		return nil, err
	}
	return *list, nil
}

func (s *CollateralStore) SetTokenList(symbols []string) error {
	if symbols == nil {
		symbols = []string{}
	}
	return putJSON(s.db, bucketCollateralMeta, tokenListKey, symbols)
}

func (s *CollateralStore) GetPosition(addr [20]byte) (*collateral.Position, error) {
	return getJSON[collateral.Position](s.db, bucketCollateralPositions, addr[:])
}

func (s *CollateralStore) PutPosition(pos *collateral.Position) error {
	return putJSON(s.db, bucketCollateralPositions, pos.Address[:], pos)
}

// StakingStore persists staking positions.
type StakingStore struct {
	db *bolt.DB
}

func (s *StakingStore) GetPosition(addr [20]byte) (*staking.Position, error) {
	return getJSON[staking.Position](s.db, bucketStakingPositions, addr[:])
}

func (s *StakingStore) PutPosition(pos *staking.Position) error {
	return putJSON(s.db, bucketStakingPositions, pos.Address[:], pos)
}

// AgentStore persists the agent allow-list, routed requests and per-agent
// quota counters.
type AgentStore struct {
	db *bolt.DB
}

func (s *AgentStore) GetAgent(addr [20]byte) (*agent.AgentInfo, error) {
	return getJSON[agent.AgentInfo](s.db, bucketAgents, addr[:])
}

func (s *AgentStore) PutAgent(info *agent.AgentInfo) error {
	return putJSON(s.db, bucketAgents, info.Address[:], info)
}

func (s *AgentStore) DeleteAgent(addr [20]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).Delete(addr[:])
	})
}

func (s *AgentStore) GetRequest(id [32]byte) (*agent.Request, error) {
	return getJSON[agent.Request](s.db, bucketAgentRequests, id[:])
}

func (s *AgentStore) PutRequest(req *agent.Request) error {
	return putJSON(s.db, bucketAgentRequests, req.ID[:], req)
}

func (s *AgentStore) GetQuota(addr [20]byte) (nativecommon.QuotaNow, error) {
	usage, err := getJSON[nativecommon.QuotaNow](s.db, bucketAgentQuotas, addr[:])
	if err != nil || usage == nil {
		return nativecommon.QuotaNow{}, err
	}
	return *usage, nil
}

func (s *AgentStore) PutQuota(addr [20]byte, usage nativecommon.QuotaNow) error {
	return putJSON(s.db, bucketAgentQuotas, addr[:], usage)
}
