package credit

import "errors"

var (
	// Validation.
	ErrInvalidAmount    = errors.New("credit: amount must be positive")
	ErrInvalidLimit     = errors.New("credit: credit limit must be positive")
	ErrNegativeLimit    = errors.New("credit: credit limit cannot be negative")
	ErrRateTooHigh      = errors.New("credit: interest rate exceeds 10000 bps")
	ErrScoreTooHigh     = errors.New("credit: risk score exceeds 100")
	ErrAmountOutOfRange = errors.New("credit: amount outside signed 128-bit range")

	// Not found.
	ErrNotFound = errors.New("credit: credit line not found")

	// State conflicts.
	ErrActiveLineExists   = errors.New("credit: borrower already has an active credit line")
	ErrLineClosed         = errors.New("credit: credit line is closed")
	ErrLineNotActive      = errors.New("credit: credit line not active")
	ErrOverLimit          = errors.New("credit: exceeds credit limit")
	ErrLimitBelowUtilized = errors.New("credit: credit limit below utilized amount")
	ErrUtilizationNotZero = errors.New("credit: cannot close: utilized amount not zero")

	// Authorization.
	ErrNotAdmin     = errors.New("credit: caller is not the admin")
	ErrNotBorrower  = errors.New("credit: caller is not the borrower")
	ErrUnauthorized = errors.New("credit: unauthorized")

	// Arithmetic.
	ErrOverflow = errors.New("credit: utilized amount overflow")

	// Liquidity.
	ErrInsufficientReserve   = errors.New("credit: insufficient reserve balance")
	ErrInsufficientAllowance = errors.New("credit: insufficient repayment allowance")
	ErrInsufficientFunds     = errors.New("credit: insufficient borrower balance")

	errNilState = errors.New("credit: state not configured")
)
