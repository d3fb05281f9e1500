package core

import (
	"fmt"
	"math/big"

	"safehands/native/escrow"
)

var genesisAppliedKey = []byte("genesis/applied")

// GenesisAlloc seeds an account balance on first start so deposits have funds
// to lock. Allocations are applied exactly once per database.
type GenesisAlloc struct {
	Address [20]byte
	Asset   string
	Amount  *big.Int
}

// ApplyGenesis credits the configured allocations unless the database was
// already initialised. Re-running against an initialised database is a no-op.
func (n *Node) ApplyGenesis(allocs []GenesisAlloc) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	applied, err := n.db.Has(genesisAppliedKey)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	for i, alloc := range allocs {
		asset, err := escrow.NormalizeAsset(alloc.Asset)
		if err != nil {
			return fmt.Errorf("genesis alloc %d: %w", i, err)
		}
		if alloc.Amount == nil || alloc.Amount.Sign() <= 0 {
			return fmt.Errorf("genesis alloc %d: amount must be positive", i)
		}
		if alloc.Address == ([20]byte{}) {
			return fmt.Errorf("genesis alloc %d: address required", i)
		}
		account, err := n.state.GetAccount(alloc.Address[:])
		if err != nil {
			return err
		}
		account.SetBalance(asset, new(big.Int).Add(account.Balance(asset), alloc.Amount))
		if err := n.state.PutAccount(alloc.Address[:], account); err != nil {
			return err
		}
	}
	return n.db.Put(genesisAppliedKey, []byte{1})
}
