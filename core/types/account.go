package types

import "math/big"

// Account records the fungible token balance held by a principal. Balances are
// denominated in the smallest token unit and expressed as big integers.
type Account struct {
	Nonce   uint64
	Balance *big.Int
}

// EnsureAccount normalises a possibly nil account into a usable value with a
// zero balance.
func EnsureAccount(acc *Account) *Account {
	if acc == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}
