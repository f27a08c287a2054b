package credit

import (
	"math/big"

	"creditra/crypto"
)

const (
	// MaxInterestRateBps caps the interest rate at 100%.
	MaxInterestRateBps = 10_000
	// MaxRiskScore caps the risk score on its 0-100 scale.
	MaxRiskScore = 100
)

// CreditStatus enumerates the lifecycle states of a credit line.
type CreditStatus uint8

const (
	StatusActive CreditStatus = iota + 1
	StatusSuspended
	StatusDefaulted
	StatusClosed
)

// Valid reports whether the status is one of the defined lifecycle states.
func (s CreditStatus) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusDefaulted, StatusClosed:
		return true
	default:
		return false
	}
}

func (s CreditStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusSuspended:
		return "suspended"
	case StatusDefaulted:
		return "defaulted"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CreditLine is the persisted record for one borrower. Amounts are signed
// 128-bit bounded big integers; UtilizedAmount never exceeds CreditLimit on a
// stored record.
type CreditLine struct {
	Borrower        crypto.Address
	CreditLimit     *big.Int
	UtilizedAmount  *big.Int
	InterestRateBps uint32
	RiskScore       uint32
	Status          CreditStatus
}

// Clone returns a deep copy so callers can never mutate engine state through a
// returned record.
func (l *CreditLine) Clone() *CreditLine {
	if l == nil {
		return nil
	}
	clone := &CreditLine{
		Borrower:        l.Borrower,
		CreditLimit:     big.NewInt(0),
		UtilizedAmount:  big.NewInt(0),
		InterestRateBps: l.InterestRateBps,
		RiskScore:       l.RiskScore,
		Status:          l.Status,
	}
	if l.CreditLimit != nil {
		clone.CreditLimit = new(big.Int).Set(l.CreditLimit)
	}
	if l.UtilizedAmount != nil {
		clone.UtilizedAmount = new(big.Int).Set(l.UtilizedAmount)
	}
	return clone
}
