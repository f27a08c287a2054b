package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"creditra/core/types"
	"creditra/crypto"
	"creditra/native/credit"
	"creditra/storage"
)

const (
	prefixCreditLine = "credit/line/"
	prefixAccount    = "token/account/"
	prefixAllowance  = "token/allowance/"
)

// Manager adapts the raw key-value store into the narrow persistence
// interfaces consumed by the credit engine and the token ledger. One record is
// stored per borrower principal; there is no secondary index and no deletion.
type Manager struct {
	db storage.Database
}

func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func creditLineKey(borrower crypto.Address) []byte {
	return []byte(prefixCreditLine + hex.EncodeToString(borrower.Bytes()))
}

func accountKey(addr crypto.Address) []byte {
	return []byte(prefixAccount + hex.EncodeToString(addr.Bytes()))
}

func allowanceKey(owner, spender crypto.Address) []byte {
	return []byte(prefixAllowance + hex.EncodeToString(owner.Bytes()) + "/" + hex.EncodeToString(spender.Bytes()))
}

// storedCreditLine is the durable representation. Amounts travel as decimal
// strings so the record stays stable across encoders.
type storedCreditLine struct {
	Borrower        string `json:"borrower"`
	CreditLimit     string `json:"creditLimit"`
	UtilizedAmount  string `json:"utilizedAmount"`
	InterestRateBps uint32 `json:"interestRateBps"`
	RiskScore       uint32 `json:"riskScore"`
	Status          uint8  `json:"status"`
}

type storedAccount struct {
	Nonce   uint64 `json:"nonce"`
	Balance string `json:"balance"`
}

// CreditLineGet loads the record for a borrower, reporting presence.
func (m *Manager) CreditLineGet(borrower crypto.Address) (*credit.CreditLine, bool, error) {
	if m == nil || m.db == nil {
		return nil, false, errors.New("state: database not configured")
	}
	raw, err := m.db.Get(creditLineKey(borrower))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("state: load credit line: %w", err)
	}
	var stored storedCreditLine
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("state: decode credit line: %w", err)
	}
	line, err := stored.toCreditLine()
	if err != nil {
		return nil, false, err
	}
	return line, true, nil
}

// CreditLinePut persists the record under its borrower key.
func (m *Manager) CreditLinePut(line *credit.CreditLine) error {
	if m == nil || m.db == nil {
		return errors.New("state: database not configured")
	}
	if line == nil {
		return errors.New("state: nil credit line")
	}
	stored := storedCreditLine{
		Borrower:        line.Borrower.String(),
		CreditLimit:     amountString(line.CreditLimit),
		UtilizedAmount:  amountString(line.UtilizedAmount),
		InterestRateBps: line.InterestRateBps,
		RiskScore:       line.RiskScore,
		Status:          uint8(line.Status),
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("state: encode credit line: %w", err)
	}
	return m.db.Put(creditLineKey(line.Borrower), raw)
}

// GetAccount loads the token account for a principal, defaulting to a zero
// balance when the principal has never held the asset.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	if m == nil || m.db == nil {
		return nil, errors.New("state: database not configured")
	}
	raw, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load account: %w", err)
	}
	var stored storedAccount
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	balance, err := parseAmount(stored.Balance)
	if err != nil {
		return nil, fmt.Errorf("state: account balance: %w", err)
	}
	return &types.Account{Nonce: stored.Nonce, Balance: balance}, nil
}

// PutAccount persists the token account for a principal.
func (m *Manager) PutAccount(addr crypto.Address, acc *types.Account) error {
	if m == nil || m.db == nil {
		return errors.New("state: database not configured")
	}
	acc = types.EnsureAccount(acc)
	raw, err := json.Marshal(storedAccount{Nonce: acc.Nonce, Balance: amountString(acc.Balance)})
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	return m.db.Put(accountKey(addr), raw)
}

// TokenAllowance returns the amount spender may move on behalf of owner.
func (m *Manager) TokenAllowance(owner, spender crypto.Address) (*big.Int, error) {
	if m == nil || m.db == nil {
		return nil, errors.New("state: database not configured")
	}
	raw, err := m.db.Get(allowanceKey(owner, spender))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load allowance: %w", err)
	}
	return parseAmount(string(raw))
}

// SetTokenAllowance persists the spender allowance for owner.
func (m *Manager) SetTokenAllowance(owner, spender crypto.Address, amount *big.Int) error {
	if m == nil || m.db == nil {
		return errors.New("state: database not configured")
	}
	return m.db.Put(allowanceKey(owner, spender), []byte(amountString(amount)))
}

func (s storedCreditLine) toCreditLine() (*credit.CreditLine, error) {
	borrower, err := crypto.DecodeAddress(s.Borrower)
	if err != nil {
		return nil, fmt.Errorf("state: borrower address: %w", err)
	}
	limit, err := parseAmount(s.CreditLimit)
	if err != nil {
		return nil, fmt.Errorf("state: credit limit: %w", err)
	}
	utilized, err := parseAmount(s.UtilizedAmount)
	if err != nil {
		return nil, fmt.Errorf("state: utilized amount: %w", err)
	}
	status := credit.CreditStatus(s.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("state: invalid credit status %d", s.Status)
	}
	return &credit.CreditLine{
		Borrower:        borrower,
		CreditLimit:     limit,
		UtilizedAmount:  utilized,
		InterestRateBps: s.InterestRateBps,
		RiskScore:       s.RiskScore,
		Status:          status,
	}, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(v string) (*big.Int, error) {
	if v == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", v)
	}
	return parsed, nil
}
