package token

import (
	"errors"
	"math/big"
	"strings"

	"creditra/core/types"
	"creditra/crypto"
	"creditra/native/credit"
)

var (
	ErrInvalidAmount         = errors.New("token: amount must be positive")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")

	errNilState = errors.New("token: state not configured")
)

type ledgerState interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, acc *types.Account) error
	TokenAllowance(owner, spender crypto.Address) (*big.Int, error)
	SetTokenAllowance(owner, spender crypto.Address, amount *big.Int) error
}

// Ledger is a fungible-asset ledger persisted through the state manager. It
// implements the credit engine's liquidity gateway on top of four primitives:
// balance, allowance, transfer and delegated transfer.
type Ledger struct {
	symbol string
	state  ledgerState
}

// NewLedger creates a ledger for the given asset symbol.
func NewLedger(symbol string) *Ledger {
	return &Ledger{symbol: strings.ToUpper(strings.TrimSpace(symbol))}
}

// SetState wires the ledger to the external persistence layer.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// Symbol returns the asset symbol the ledger tracks.
func (l *Ledger) Symbol() string {
	if l == nil {
		return ""
	}
	return l.symbol
}

// BalanceOf returns the balance held by addr.
func (l *Ledger) BalanceOf(addr crypto.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	acc, err := l.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(types.EnsureAccount(acc).Balance), nil
}

// Allowance returns the amount spender may move on behalf of owner.
func (l *Ledger) Allowance(owner, spender crypto.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	allowance, err := l.state.TokenAllowance(owner, spender)
	if err != nil {
		return nil, err
	}
	if allowance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(allowance), nil
}

// Mint credits freshly issued units to the recipient. Used to fund the
// liquidity reserve.
func (l *Ledger) Mint(to crypto.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	acc, err := l.state.GetAccount(to)
	if err != nil {
		return err
	}
	acc = types.EnsureAccount(acc)
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return l.state.PutAccount(to, acc)
}

// Approve sets the amount spender may pull from owner.
func (l *Ledger) Approve(owner, spender crypto.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return l.state.SetTokenAllowance(owner, spender, new(big.Int).Set(amount))
}

// Transfer moves amount from one principal to another.
func (l *Ledger) Transfer(from, to crypto.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fromAcc, err := l.state.GetAccount(from)
	if err != nil {
		return err
	}
	fromAcc = types.EnsureAccount(fromAcc)
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toAcc, err := l.state.GetAccount(to)
	if err != nil {
		return err
	}
	toAcc = types.EnsureAccount(toAcc)

	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)

	if err := l.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return l.state.PutAccount(to, toAcc)
}

// TransferFrom moves amount from owner to the recipient using spender's
// allowance, reducing the allowance by the transferred amount.
func (l *Ledger) TransferFrom(spender, owner, to crypto.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	allowance, err := l.Allowance(owner, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.Transfer(owner, to, amount); err != nil {
		return err
	}
	remaining := new(big.Int).Sub(allowance, amount)
	return l.state.SetTokenAllowance(owner, spender, remaining)
}

// FundDraw implements the credit liquidity gateway: the reserve must cover the
// amount before it is paid out to the borrower.
func (l *Ledger) FundDraw(reserve, borrower crypto.Address, amount *big.Int) error {
	balance, err := l.BalanceOf(reserve)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return credit.ErrInsufficientReserve
	}
	return l.Transfer(reserve, borrower, amount)
}

// CollectRepayment implements the credit liquidity gateway: the borrower must
// have pre-authorised spender and hold the amount before it is pulled into the
// reserve.
func (l *Ledger) CollectRepayment(borrower, spender, reserve crypto.Address, amount *big.Int) error {
	allowance, err := l.Allowance(borrower, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return credit.ErrInsufficientAllowance
	}
	balance, err := l.BalanceOf(borrower)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return credit.ErrInsufficientFunds
	}
	return l.TransferFrom(spender, borrower, reserve, amount)
}
