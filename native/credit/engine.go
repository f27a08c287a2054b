package credit

import (
	"crypto/sha256"
	"math/big"
	"sync"
	"time"

	"creditra/core/events"
	"creditra/core/types"
	"creditra/crypto"
	"creditra/native/common"
)

type engineState interface {
	CreditLineGet(borrower crypto.Address) (*CreditLine, bool, error)
	CreditLinePut(line *CreditLine) error
}

type creditEvent struct {
	evt *types.Event
}

func (e creditEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e creditEvent) Event() *types.Event { return e.evt }

// Engine validates and executes the credit line lifecycle transitions. Every
// public operation authorises the caller, loads the record, validates the
// transition, persists and emits; draw and repay additionally hold the
// reentrancy guard across the liquidity gateway call. Mutating operations are
// serialized by an engine-level mutex so a write landing mid-operation can
// never be overwritten by a stale record.
type Engine struct {
	mu            sync.Mutex
	state         engineState
	admin         crypto.Address
	moduleAddress crypto.Address
	reserve       crypto.Address
	gateway       LiquidityGateway
	guard         *common.CallGuard
	emitter       events.Emitter
	nowFn         func() int64
}

// NewEngine constructs an engine owned by the given admin principal. The
// gateway starts in bookkeeping-only mode and the liquidity source defaults to
// the module's own principal until configured.
func NewEngine(admin, moduleAddr crypto.Address) *Engine {
	return &Engine{
		admin:         admin,
		moduleAddress: moduleAddr,
		reserve:       moduleAddr,
		gateway:       NoopGateway{},
		guard:         common.NewCallGuard(),
		emitter:       events.NoopEmitter{},
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// ModuleAddress derives the well-known principal the service itself controls.
// It is the default liquidity source and the spender of repayment allowances.
func ModuleAddress() crypto.Address {
	digest := sha256.Sum256([]byte("creditra/module"))
	return crypto.NewAddress(crypto.CREPrefix, digest[:crypto.AddressLength])
}

// beginMutation serializes state-mutating operations. The guard check runs
// before the lock: a settlement callback re-entering the engine on the same
// goroutine fails fast with ErrReentrancy instead of deadlocking, and every
// other caller queues until the in-flight unit of work has persisted.
func (e *Engine) beginMutation() (func(), error) {
	if e.guard.Held() {
		return nil, common.ErrReentrancy
	}
	e.mu.Lock()
	return e.mu.Unlock, nil
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for event timestamps. Primarily
// intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetLiquidityToken installs the live transfer gateway for the configured
// reserve asset. Admin only. Passing nil reverts to bookkeeping-only mode.
func (e *Engine) SetLiquidityToken(caller crypto.Address, gateway LiquidityGateway) error {
	unlock, err := e.beginMutation()
	if err != nil {
		return err
	}
	defer unlock()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if gateway == nil {
		e.gateway = NoopGateway{}
		return nil
	}
	e.gateway = gateway
	return nil
}

// SetLiquiditySource points the engine at the principal holding draw
// liquidity. Admin only. A zero address resets to the module principal.
func (e *Engine) SetLiquiditySource(caller, reserve crypto.Address) error {
	unlock, err := e.beginMutation()
	if err != nil {
		return err
	}
	defer unlock()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if reserve.IsZero() {
		e.reserve = e.moduleAddress
		return nil
	}
	e.reserve = reserve
	return nil
}

// Admin returns the principal that owns the admin-gated operations.
func (e *Engine) Admin() crypto.Address { return e.admin }

// LiquiditySource returns the currently configured reserve principal.
func (e *Engine) LiquiditySource() crypto.Address { return e.reserve }

// OpenCreditLine creates (or replaces a non-active) credit line for the
// borrower. Caller must be the issuer, which is the admin in this deployment.
func (e *Engine) OpenCreditLine(caller, borrower crypto.Address, creditLimit *big.Int, rateBps, riskScore uint32) (*CreditLine, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	unlock, err := e.beginMutation()
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	if creditLimit == nil || creditLimit.Sign() <= 0 {
		return nil, ErrInvalidLimit
	}
	if !withinAmountBounds(creditLimit) {
		return nil, ErrAmountOutOfRange
	}
	if rateBps > MaxInterestRateBps {
		return nil, ErrRateTooHigh
	}
	if riskScore > MaxRiskScore {
		return nil, ErrScoreTooHigh
	}

	existing, ok, err := e.state.CreditLineGet(borrower)
	if err != nil {
		return nil, err
	}
	if ok && existing.Status == StatusActive {
		return nil, ErrActiveLineExists
	}

	line := &CreditLine{
		Borrower:        borrower,
		CreditLimit:     new(big.Int).Set(creditLimit),
		UtilizedAmount:  big.NewInt(0),
		InterestRateBps: rateBps,
		RiskScore:       riskScore,
		Status:          StatusActive,
	}
	if err := e.state.CreditLinePut(line); err != nil {
		return nil, err
	}
	e.emit(NewOpenedEvent(line))
	return line.Clone(), nil
}

// DrawCredit increases the borrower's utilization and pays the amount out of
// the liquidity reserve. Borrower only; guarded against reentrancy.
func (e *Engine) DrawCredit(caller, borrower crypto.Address, amount *big.Int) (*CreditLine, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	unlock, err := e.beginMutation()
	if err != nil {
		return nil, err
	}
	defer unlock()
	release, err := e.guard.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := e.requireBorrower(caller, borrower); err != nil {
		return nil, err
	}
	if err := validatePositiveAmount(amount); err != nil {
		return nil, err
	}

	line, ok, err := e.state.CreditLineGet(borrower)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if line.Status == StatusClosed {
		return nil, ErrLineClosed
	}
	if line.Status != StatusActive {
		return nil, ErrLineNotActive
	}

	newUtilized, err := checkedAdd(line.UtilizedAmount, amount)
	if err != nil {
		return nil, err
	}
	if newUtilized.Cmp(line.CreditLimit) > 0 {
		return nil, ErrOverLimit
	}

	// Gateway before persist: a failed transfer must leave the record
	// untouched.
	if err := e.gateway.FundDraw(e.reserve, borrower, amount); err != nil {
		return nil, err
	}

	line.UtilizedAmount = newUtilized
	if err := e.state.CreditLinePut(line); err != nil {
		return nil, err
	}
	e.emit(NewDrawnEvent(line, amount, e.now()))
	return line.Clone(), nil
}

// RepayCredit reduces the borrower's utilization, pulling the applied amount
// through the pre-authorised allowance when a token is configured. Overpayment
// is accepted and capped at the outstanding balance. Repayment stays allowed
// while suspended so a frozen borrower can still reduce exposure.
func (e *Engine) RepayCredit(caller, borrower crypto.Address, amount *big.Int) (*CreditLine, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	unlock, err := e.beginMutation()
	if err != nil {
		return nil, err
	}
	defer unlock()
	release, err := e.guard.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := e.requireBorrower(caller, borrower); err != nil {
		return nil, err
	}
	if err := validatePositiveAmount(amount); err != nil {
		return nil, err
	}

	line, ok, err := e.state.CreditLineGet(borrower)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if line.Status == StatusClosed {
		return nil, ErrLineClosed
	}

	applied := new(big.Int).Set(amount)
	if applied.Cmp(line.UtilizedAmount) > 0 {
		applied = new(big.Int).Set(line.UtilizedAmount)
	}

	if applied.Sign() > 0 {
		if err := e.gateway.CollectRepayment(borrower, e.moduleAddress, e.reserve, applied); err != nil {
			return nil, err
		}
	}

	newUtilized := new(big.Int).Sub(line.UtilizedAmount, applied)
	if newUtilized.Sign() < 0 {
		newUtilized = big.NewInt(0)
	}
	line.UtilizedAmount = newUtilized
	if err := e.state.CreditLinePut(line); err != nil {
		return nil, err
	}
	// The event keeps the requested amount while the record reflects the
	// capped application.
	e.emit(NewRepaidEvent(line, amount, e.now()))
	return line.Clone(), nil
}

// UpdateRiskParameters replaces the limit, rate and score of an existing line
// without touching its status. Admin only.
func (e *Engine) UpdateRiskParameters(caller, borrower crypto.Address, creditLimit *big.Int, rateBps, riskScore uint32) (*CreditLine, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	unlock, err := e.beginMutation()
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}

	line, ok, err := e.state.CreditLineGet(borrower)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	if creditLimit == nil || creditLimit.Sign() < 0 {
		return nil, ErrNegativeLimit
	}
	if !withinAmountBounds(creditLimit) {
		return nil, ErrAmountOutOfRange
	}
	if creditLimit.Cmp(line.UtilizedAmount) < 0 {
		return nil, ErrLimitBelowUtilized
	}
	if rateBps > MaxInterestRateBps {
		return nil, ErrRateTooHigh
	}
	if riskScore > MaxRiskScore {
		return nil, ErrScoreTooHigh
	}

	line.CreditLimit = new(big.Int).Set(creditLimit)
	line.InterestRateBps = rateBps
	line.RiskScore = riskScore
	if err := e.state.CreditLinePut(line); err != nil {
		return nil, err
	}
	e.emit(NewRiskUpdatedEvent(line))
	return line.Clone(), nil
}

// SuspendCreditLine freezes an active line. Admin only.
func (e *Engine) SuspendCreditLine(caller, borrower crypto.Address) (*CreditLine, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	unlock, err := e.beginMutation()
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}

	line, ok, err := e.state.CreditLineGet(borrower)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if line.Status != StatusActive {
		return nil, ErrLineNotActive
	}

	line.Status = StatusSuspended
	if err := e.state.CreditLinePut(line); err != nil {
		return nil, err
	}
	e.emit(NewSuspendedEvent(line))
	return line.Clone(), nil
}

// CloseCreditLine closes the line. The admin may force-close regardless of
// utilization; the borrower may self-close only at zero utilization. Closing
// an already closed line is a silent no-op.
func (e *Engine) CloseCreditLine(caller, borrower crypto.Address) (*CreditLine, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	unlock, err := e.beginMutation()
	if err != nil {
		return nil, err
	}
	defer unlock()

	line, ok, err := e.state.CreditLineGet(borrower)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if line.Status == StatusClosed {
		return line.Clone(), nil
	}

	switch {
	case e.isAdmin(caller):
	case caller.Equal(borrower):
		if line.UtilizedAmount.Sign() != 0 {
			return nil, ErrUtilizationNotZero
		}
	default:
		return nil, ErrUnauthorized
	}

	line.Status = StatusClosed
	if err := e.state.CreditLinePut(line); err != nil {
		return nil, err
	}
	e.emit(NewClosedEvent(line))
	return line.Clone(), nil
}

// DefaultCreditLine marks the line as defaulted regardless of its current
// status or utilization. Admin only.
func (e *Engine) DefaultCreditLine(caller, borrower crypto.Address) (*CreditLine, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	unlock, err := e.beginMutation()
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}

	line, ok, err := e.state.CreditLineGet(borrower)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	line.Status = StatusDefaulted
	if err := e.state.CreditLinePut(line); err != nil {
		return nil, err
	}
	e.emit(NewDefaultedEvent(line))
	return line.Clone(), nil
}

// GetCreditLine returns the stored record for the borrower. No authorization
// and no side effects.
func (e *Engine) GetCreditLine(borrower crypto.Address) (*CreditLine, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	line, ok, err := e.state.CreditLineGet(borrower)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return line.Clone(), nil
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(creditEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}
