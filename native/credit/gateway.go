package credit

import (
	"math/big"

	"creditra/crypto"
)

// LiquidityGateway moves the reserve asset between the liquidity source and a
// borrower. Implementations perform their own balance and allowance
// preconditions so the state machine never branches on whether a real token is
// configured.
//
// FundDraw pays out a draw: it must fail with ErrInsufficientReserve when the
// reserve cannot cover the amount, then move reserve -> borrower.
//
// CollectRepayment pulls a repayment: it must fail with
// ErrInsufficientAllowance or ErrInsufficientFunds when the borrower has not
// pre-authorised spender for the amount or cannot cover it, then move
// borrower -> reserve through the delegated-transfer primitive.
type LiquidityGateway interface {
	FundDraw(reserve, borrower crypto.Address, amount *big.Int) error
	CollectRepayment(borrower, spender, reserve crypto.Address, amount *big.Int) error
}

// NoopGateway is the bookkeeping-only gateway used when no liquidity token is
// configured: draws and repayments adjust the credit line without moving any
// asset.
type NoopGateway struct{}

func (NoopGateway) FundDraw(crypto.Address, crypto.Address, *big.Int) error { return nil }

func (NoopGateway) CollectRepayment(crypto.Address, crypto.Address, crypto.Address, *big.Int) error {
	return nil
}
