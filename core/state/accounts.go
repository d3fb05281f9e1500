package state

import (
	"fmt"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"safehands/core/types"
)

var accountPrefix = []byte("account/")

func accountStorageKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

// storedBalance pairs an asset symbol with its base-unit amount. Balances are
// sorted by symbol before encoding so the stored form is deterministic.
type storedBalance struct {
	Asset  string
	Amount *big.Int
}

type storedAccount struct {
	Nonce    uint64
	Balances []storedBalance
}

func newStoredAccount(acc *types.Account) *storedAccount {
	if acc == nil {
		return &storedAccount{}
	}
	out := &storedAccount{Nonce: acc.Nonce}
	for asset, amount := range acc.Balances {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		out.Balances = append(out.Balances, storedBalance{Asset: asset, Amount: new(big.Int).Set(amount)})
	}
	sort.Slice(out.Balances, func(i, j int) bool { return out.Balances[i].Asset < out.Balances[j].Asset })
	return out
}

func (s *storedAccount) toAccount() *types.Account {
	acc := types.NewAccount()
	if s == nil {
		return acc
	}
	acc.Nonce = s.Nonce
	for _, bal := range s.Balances {
		if bal.Amount == nil {
			continue
		}
		acc.SetBalance(bal.Asset, bal.Amount)
	}
	return acc
}

// GetAccount loads the account record for the address. Unknown addresses
// yield an empty account rather than an error.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	raw, ok, err := m.get(accountStorageKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewAccount(), nil
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("account: decode record: %w", err)
	}
	return stored.toAccount(), nil
}

// PutAccount persists the account record for the address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	encoded, err := rlp.EncodeToBytes(newStoredAccount(account))
	if err != nil {
		return fmt.Errorf("account: encode record: %w", err)
	}
	return m.db.Put(accountStorageKey(addr), encoded)
}
