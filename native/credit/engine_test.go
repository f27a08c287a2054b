package credit

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"creditra/core/events"
	"creditra/core/types"
	"creditra/crypto"
	"creditra/native/common"
)

type mockState struct {
	lines map[string]*CreditLine
}

func newMockState() *mockState {
	return &mockState{lines: make(map[string]*CreditLine)}
}

func (m *mockState) CreditLineGet(borrower crypto.Address) (*CreditLine, bool, error) {
	line, ok := m.lines[borrower.String()]
	if !ok {
		return nil, false, nil
	}
	return line.Clone(), true, nil
}

func (m *mockState) CreditLinePut(line *CreditLine) error {
	if line == nil {
		return fmt.Errorf("nil credit line")
	}
	m.lines[line.Borrower.String()] = line.Clone()
	return nil
}

type recordingEmitter struct {
	events []*types.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	payload, ok := evt.(events.Payload)
	if !ok {
		return
	}
	r.events = append(r.events, payload.Event())
}

func (r *recordingEmitter) last() *types.Event {
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

func newTestAddress(fill byte) crypto.Address {
	return crypto.NewAddress(crypto.CREPrefix, bytes.Repeat([]byte{fill}, crypto.AddressLength))
}

func newTestEngine(t *testing.T) (*Engine, *mockState, *recordingEmitter, crypto.Address, crypto.Address) {
	t.Helper()
	admin := newTestAddress(0x01)
	borrower := newTestAddress(0x02)
	state := newMockState()
	emitter := &recordingEmitter{}
	engine := NewEngine(admin, ModuleAddress())
	engine.SetState(state)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	return engine, state, emitter, admin, borrower
}

func mustOpen(t *testing.T, e *Engine, admin, borrower crypto.Address, limit int64, rate, score uint32) *CreditLine {
	t.Helper()
	line, err := e.OpenCreditLine(admin, borrower, big.NewInt(limit), rate, score)
	if err != nil {
		t.Fatalf("open credit line: %v", err)
	}
	return line
}

func TestOpenCreditLine(t *testing.T) {
	engine, _, emitter, admin, borrower := newTestEngine(t)

	line := mustOpen(t, engine, admin, borrower, 1000, 300, 70)
	if line.Status != StatusActive {
		t.Fatalf("expected active status, got %v", line.Status)
	}
	if line.UtilizedAmount.Sign() != 0 {
		t.Fatalf("expected zero utilization, got %s", line.UtilizedAmount)
	}
	if line.CreditLimit.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected credit limit %s", line.CreditLimit)
	}

	evt := emitter.last()
	if evt == nil || evt.Type != EventTypeOpened {
		t.Fatalf("expected %s event, got %+v", EventTypeOpened, evt)
	}
	if evt.Attributes["borrower"] != borrower.String() {
		t.Fatalf("event borrower mismatch: %s", evt.Attributes["borrower"])
	}

	got, err := engine.GetCreditLine(borrower)
	if err != nil {
		t.Fatalf("get credit line: %v", err)
	}
	if got.CreditLimit.Cmp(line.CreditLimit) != 0 || got.Status != line.Status {
		t.Fatalf("stored line mismatch: %+v", got)
	}
}

func TestOpenCreditLineValidation(t *testing.T) {
	engine, _, _, admin, borrower := newTestEngine(t)

	cases := []struct {
		name  string
		limit *big.Int
		rate  uint32
		score uint32
		want  error
	}{
		{"zero limit", big.NewInt(0), 100, 10, ErrInvalidLimit},
		{"negative limit", big.NewInt(-5), 100, 10, ErrInvalidLimit},
		{"limit above range", new(big.Int).Add(MaxAmount(), big.NewInt(1)), 100, 10, ErrAmountOutOfRange},
		{"rate above cap", big.NewInt(100), MaxInterestRateBps + 1, 10, ErrRateTooHigh},
		{"score above cap", big.NewInt(100), 100, MaxRiskScore + 1, ErrScoreTooHigh},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := engine.OpenCreditLine(admin, borrower, tc.limit, tc.rate, tc.score); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := engine.OpenCreditLine(borrower, borrower, big.NewInt(100), 100, 10); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin for non-admin caller, got %v", err)
	}
}

func TestOpenCreditLineBoundaryParameters(t *testing.T) {
	engine, _, _, admin, borrower := newTestEngine(t)

	line, err := engine.OpenCreditLine(admin, borrower, MaxAmount(), MaxInterestRateBps, MaxRiskScore)
	if err != nil {
		t.Fatalf("boundary open failed: %v", err)
	}
	if line.InterestRateBps != MaxInterestRateBps || line.RiskScore != MaxRiskScore {
		t.Fatalf("boundary parameters not stored: %+v", line)
	}
}

func TestOpenDuplicateActiveLine(t *testing.T) {
	engine, _, _, admin, borrower := newTestEngine(t)

	mustOpen(t, engine, admin, borrower, 1000, 300, 70)
	if _, err := engine.OpenCreditLine(admin, borrower, big.NewInt(500), 200, 50); !errors.Is(err, ErrActiveLineExists) {
		t.Fatalf("expected ErrActiveLineExists, got %v", err)
	}
}

func TestReopenAfterTerminalStatus(t *testing.T) {
	engine, _, _, admin, borrower := newTestEngine(t)

	for _, transition := range []func() error{
		func() error { _, err := engine.CloseCreditLine(admin, borrower); return err },
		func() error { _, err := engine.DefaultCreditLine(admin, borrower); return err },
		func() error { _, err := engine.SuspendCreditLine(admin, borrower); return err },
	} {
		mustOpen(t, engine, admin, borrower, 1000, 300, 70)
		if err := transition(); err != nil {
			t.Fatalf("transition failed: %v", err)
		}
		line := mustOpen(t, engine, admin, borrower, 2000, 100, 20)
		if line.Status != StatusActive || line.UtilizedAmount.Sign() != 0 {
			t.Fatalf("reopened line not reset: %+v", line)
		}
		if _, err := engine.CloseCreditLine(admin, borrower); err != nil {
			t.Fatalf("cleanup close: %v", err)
		}
	}
}

func TestDrawCredit(t *testing.T) {
	engine, _, emitter, admin, borrower := newTestEngine(t)
	mustOpen(t, engine, admin, borrower, 1000, 300, 70)

	line, err := engine.DrawCredit(borrower, borrower, big.NewInt(500))
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if line.UtilizedAmount.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected utilization 500, got %s", line.UtilizedAmount)
	}

	evt := emitter.last()
	if evt == nil || evt.Type != EventTypeDrawn {
		t.Fatalf("expected %s event, got %+v", EventTypeDrawn, evt)
	}
	if evt.Attributes["amount"] != "500" || evt.Attributes["timestamp"] != "1700000000" {
		t.Fatalf("draw event attributes: %+v", evt.Attributes)
	}

	// Exactly reaching the limit is allowed.
	if _, err := engine.DrawCredit(borrower, borrower, big.NewInt(500)); err != nil {
		t.Fatalf("draw to limit: %v", err)
	}
	if _, err := engine.DrawCredit(borrower, borrower, big.NewInt(1)); !errors.Is(err, ErrOverLimit) {
		t.Fatalf("expected ErrOverLimit, got %v", err)
	}
}

func TestDrawCreditRejections(t *testing.T) {
	engine, _, _, admin, borrower := newTestEngine(t)
	stranger := newTestAddress(0x03)

	if _, err := engine.DrawCredit(borrower, borrower, big.NewInt(10)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mustOpen(t, engine, admin, borrower, 100, 300, 70)

	if _, err := engine.DrawCredit(stranger, borrower, big.NewInt(10)); !errors.Is(err, ErrNotBorrower) {
		t.Fatalf("expected ErrNotBorrower, got %v", err)
	}
	if _, err := engine.DrawCredit(borrower, borrower, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero, got %v", err)
	}
	if _, err := engine.DrawCredit(borrower, borrower, big.NewInt(-10)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative, got %v", err)
	}
	if _, err := engine.DrawCredit(borrower, borrower, big.NewInt(101)); !errors.Is(err, ErrOverLimit) {
		t.Fatalf("expected ErrOverLimit, got %v", err)
	}

	if _, err := engine.SuspendCreditLine(admin, borrower); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if _, err := engine.DrawCredit(borrower, borrower, big.NewInt(10)); !errors.Is(err, ErrLineNotActive) {
		t.Fatalf("expected ErrLineNotActive while suspended, got %v", err)
	}

	if _, err := engine.CloseCreditLine(admin, borrower); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := engine.DrawCredit(borrower, borrower, big.NewInt(10)); !errors.Is(err, ErrLineClosed) {
		t.Fatalf("expected ErrLineClosed, got %v", err)
	}
}

func TestDrawCreditOverflow(t *testing.T) {
	engine, state, _, admin, borrower := newTestEngine(t)
	mustOpen(t, engine, admin, borrower, 1, 0, 0)

	// Force a near-max utilization directly in state so the add overflows the
	// signed 128-bit range before the limit check runs.
	stored := state.lines[borrower.String()]
	stored.CreditLimit = MaxAmount()
	stored.UtilizedAmount = MaxAmount()

	if _, err := engine.DrawCredit(borrower, borrower, big.NewInt(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestRepayCredit(t *testing.T) {
	engine, _, emitter, admin, borrower := newTestEngine(t)
	mustOpen(t, engine, admin, borrower, 1000, 300, 70)

	if _, err := engine.DrawCredit(borrower, borrower, big.NewInt(500)); err != nil {
		t.Fatalf("draw: %v", err)
	}
	line, err := engine.RepayCredit(borrower, borrower, big.NewInt(200))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if line.UtilizedAmount.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected utilization 300, got %s", line.UtilizedAmount)
	}

	evt := emitter.last()
	if evt == nil || evt.Type != EventTypeRepaid {
		t.Fatalf("expected %s event, got %+v", EventTypeRepaid, evt)
	}
	if evt.Attributes["amount"] != "200" || evt.Attributes["newUtilizedAmount"] != "300" {
		t.Fatalf("repay event attributes: %+v", evt.Attributes)
	}
}

func TestRepayCreditOverpaymentCapped(t *testing.T) {
	engine, _, emitter, admin, borrower := newTestEngine(t)
	mustOpen(t, engine, admin, borrower, 1000, 300, 70)

	if _, err := engine.DrawCredit(borrower, borrower, big.NewInt(300)); err != nil {
		t.Fatalf("draw: %v", err)
	}
	line, err := engine.RepayCredit(borrower, borrower, big.NewInt(500))
	if err != nil {
		t.Fatalf("overpay repay: %v", err)
	}
	if line.UtilizedAmount.Sign() != 0 {
		t.Fatalf("expected zero utilization, got %s", line.UtilizedAmount)
	}

	// The event reports the requested figure, not the capped application.
	evt := emitter.last()
	if evt.Attributes["amount"] != "500" {
		t.Fatalf("expected requested amount 500 in event, got %s", evt.Attributes["amount"])
	}
	if evt.Attributes["newUtilizedAmount"] != "0" {
		t.Fatalf("expected new utilization 0 in event, got %s", evt.Attributes["newUtilizedAmount"])
	}
}

func TestRepayCreditStatusRules(t *testing.T) {
	engine, _, _, admin, borrower := newTestEngine(t)
	mustOpen(t, engine, admin, borrower, 1000, 300, 70)

	if _, err := engine.DrawCredit(borrower, borrower, big.NewInt(400)); err != nil {
		t.Fatalf("draw: %v", err)
	}

	// Repayment stays available while suspended.
	if _, err := engine.SuspendCreditLine(admin, borrower); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	line, err := engine.RepayCredit(borrower, borrower, big.NewInt(100))
	if err != nil {
		t.Fatalf("repay while suspended: %v", err)
	}
	if line.UtilizedAmount.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected utilization 300, got %s", line.UtilizedAmount)
	}

	// And while defaulted.
	if _, err := engine.DefaultCreditLine(admin, borrower); err != nil {
		t.Fatalf("default: %v", err)
	}
	if _, err := engine.RepayCredit(borrower, borrower, big.NewInt(100)); err != nil {
		t.Fatalf("repay while defaulted: %v", err)
	}

	// But not after closing.
	if _, err := engine.CloseCreditLine(admin, borrower); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := engine.RepayCredit(borrower, borrower, big.NewInt(100)); !errors.Is(err, ErrLineClosed) {
		t.Fatalf("expected ErrLineClosed, got %v", err)
	}
}

func TestRepayCreditRejections(t *testing.T) {
	engine, _, _, admin, borrower := newTestEngine(t)
	stranger := newTestAddress(0x03)

	if _, err := engine.RepayCredit(borrower, borrower, big.NewInt(10)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	mustOpen(t, engine, admin, borrower, 1000, 300, 70)
	if _, err := engine.RepayCredit(stranger, borrower, big.NewInt(10)); !errors.Is(err, ErrNotBorrower) {
		t.Fatalf("expected ErrNotBorrower, got %v", err)
	}
	if _, err := engine.RepayCredit(borrower, borrower, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestUpdateRiskParameters(t *testing.T) {
	engine, _, emitter, admin, borrower := newTestEngine(t)
	mustOpen(t, engine, admin, borrower, 1000, 300, 70)
	if _, err := engine.DrawCredit(borrower, borrower, big.NewInt(400)); err != nil {
		t.Fatalf("draw: %v", err)
	}

	line, err := engine.UpdateRiskParameters(admin, borrower, big.NewInt(2000), 500, 90)
	if err != nil {
		t.Fatalf("update risk parameters: %v", err)
	}
	if line.CreditLimit.Cmp(big.NewInt(2000)) != 0 || line.InterestRateBps != 500 || line.RiskScore != 90 {
		t.Fatalf("parameters not applied: %+v", line)
	}
	if line.Status != StatusActive || line.UtilizedAmount.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("status or utilization changed: %+v", line)
	}
	if evt := emitter.last(); evt == nil || evt.Type != EventTypeRiskUpdated {
		t.Fatalf("expected %s event, got %+v", EventTypeRiskUpdated, evt)
	}

	// Lowering the limit to exactly the utilized amount is allowed.
	if _, err := engine.UpdateRiskParameters(admin, borrower, big.NewInt(400), 500, 90); err != nil {
		t.Fatalf("limit == utilization should pass: %v", err)
	}
	if _, err := engine.UpdateRiskParameters(admin, borrower, big.NewInt(399), 500, 90); !errors.Is(err, ErrLimitBelowUtilized) {
		t.Fatalf("expected ErrLimitBelowUtilized, got %v", err)
	}
	if _, err := engine.UpdateRiskParameters(admin, borrower, big.NewInt(-1), 500, 90); !errors.Is(err, ErrNegativeLimit) {
		t.Fatalf("expected ErrNegativeLimit, got %v", err)
	}
	if _, err := engine.UpdateRiskParameters(admin, borrower, big.NewInt(2000), MaxInterestRateBps+1, 90); !errors.Is(err, ErrRateTooHigh) {
		t.Fatalf("expected ErrRateTooHigh, got %v", err)
	}
	if _, err := engine.UpdateRiskParameters(admin, borrower, big.NewInt(2000), 500, MaxRiskScore+1); !errors.Is(err, ErrScoreTooHigh) {
		t.Fatalf("expected ErrScoreTooHigh, got %v", err)
	}
	if _, err := engine.UpdateRiskParameters(borrower, borrower, big.NewInt(2000), 500, 90); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if _, err := engine.UpdateRiskParameters(admin, newTestAddress(0x04), big.NewInt(2000), 500, 90); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSuspendCreditLine(t *testing.T) {
	engine, _, emitter, admin, borrower := newTestEngine(t)
	mustOpen(t, engine, admin, borrower, 1000, 300, 70)

	line, err := engine.SuspendCreditLine(admin, borrower)
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if line.Status != StatusSuspended {
		t.Fatalf("expected suspended status, got %v", line.Status)
	}
	if evt := emitter.last(); evt == nil || evt.Type != EventTypeSuspended {
		t.Fatalf("expected %s event, got %+v", EventTypeSuspended, evt)
	}

	// Suspension requires an active line; a suspended line cannot be
	// suspended again.
	if _, err := engine.SuspendCreditLine(admin, borrower); !errors.Is(err, ErrLineNotActive) {
		t.Fatalf("expected ErrLineNotActive, got %v", err)
	}
	if _, err := engine.SuspendCreditLine(borrower, borrower); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if _, err := engine.SuspendCreditLine(admin, newTestAddress(0x04)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCloseCreditLine(t *testing.T) {
	engine, _, emitter, admin, borrower := newTestEngine(t)
	stranger := newTestAddress(0x03)
	mustOpen(t, engine, admin, borrower, 1000, 300, 70)

	if _, err := engine.DrawCredit(borrower, borrower, big.NewInt(300)); err != nil {
		t.Fatalf("draw: %v", err)
	}

	// A borrower cannot self-close with outstanding utilization.
	if _, err := engine.CloseCreditLine(borrower, borrower); !errors.Is(err, ErrUtilizationNotZero) {
		t.Fatalf("expected ErrUtilizationNotZero, got %v", err)
	}
	if _, err := engine.CloseCreditLine(stranger, borrower); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	// The admin force-closes regardless; the debt record survives.
	line, err := engine.CloseCreditLine(admin, borrower)
	if err != nil {
		t.Fatalf("admin close: %v", err)
	}
	if line.Status != StatusClosed || line.UtilizedAmount.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("unexpected closed line: %+v", line)
	}
	if evt := emitter.last(); evt == nil || evt.Type != EventTypeClosed {
		t.Fatalf("expected %s event, got %+v", EventTypeClosed, evt)
	}

	// Closing again is a silent no-op: same result, no extra event.
	emitted := len(emitter.events)
	again, err := engine.CloseCreditLine(admin, borrower)
	if err != nil {
		t.Fatalf("idempotent close: %v", err)
	}
	if again.Status != StatusClosed {
		t.Fatalf("expected closed status, got %v", again.Status)
	}
	if len(emitter.events) != emitted {
		t.Fatalf("idempotent close emitted an event")
	}
}

func TestCloseCreditLineBorrowerAtZero(t *testing.T) {
	engine, _, _, admin, borrower := newTestEngine(t)
	mustOpen(t, engine, admin, borrower, 1000, 300, 70)

	line, err := engine.CloseCreditLine(borrower, borrower)
	if err != nil {
		t.Fatalf("borrower close at zero utilization: %v", err)
	}
	if line.Status != StatusClosed {
		t.Fatalf("expected closed status, got %v", line.Status)
	}
}

func TestDefaultCreditLine(t *testing.T) {
	engine, _, emitter, admin, borrower := newTestEngine(t)
	mustOpen(t, engine, admin, borrower, 1000, 300, 70)

	if _, err := engine.DefaultCreditLine(borrower, borrower); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if _, err := engine.DefaultCreditLine(admin, newTestAddress(0x04)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	line, err := engine.DefaultCreditLine(admin, borrower)
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if line.Status != StatusDefaulted {
		t.Fatalf("expected defaulted status, got %v", line.Status)
	}
	if evt := emitter.last(); evt == nil || evt.Type != EventTypeDefaulted {
		t.Fatalf("expected %s event, got %+v", EventTypeDefaulted, evt)
	}

	// Default applies from any status, including closed.
	if _, err := engine.CloseCreditLine(admin, borrower); err != nil {
		t.Fatalf("close: %v", err)
	}
	line, err = engine.DefaultCreditLine(admin, borrower)
	if err != nil {
		t.Fatalf("default after close: %v", err)
	}
	if line.Status != StatusDefaulted {
		t.Fatalf("expected defaulted status after close, got %v", line.Status)
	}
}

func TestGetCreditLineMissing(t *testing.T) {
	engine, _, _, _, borrower := newTestEngine(t)
	if _, err := engine.GetCreditLine(borrower); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// reentrantGateway calls back into the engine during the funded transfer,
// exercising the guard.
type reentrantGateway struct {
	engine   *Engine
	borrower crypto.Address
	inner    error
}

func (g *reentrantGateway) FundDraw(reserve, borrower crypto.Address, amount *big.Int) error {
	_, g.inner = g.engine.DrawCredit(g.borrower, g.borrower, big.NewInt(1))
	return g.inner
}

func (g *reentrantGateway) CollectRepayment(borrower, spender, reserve crypto.Address, amount *big.Int) error {
	_, g.inner = g.engine.RepayCredit(g.borrower, g.borrower, big.NewInt(1))
	return g.inner
}

func TestReentrancyGuard(t *testing.T) {
	engine, _, _, admin, borrower := newTestEngine(t)
	mustOpen(t, engine, admin, borrower, 1000, 300, 70)

	gateway := &reentrantGateway{engine: engine, borrower: borrower}
	if err := engine.SetLiquidityToken(admin, gateway); err != nil {
		t.Fatalf("set gateway: %v", err)
	}

	if _, err := engine.DrawCredit(borrower, borrower, big.NewInt(10)); !errors.Is(err, common.ErrReentrancy) {
		t.Fatalf("expected guard rejection, got %v", err)
	}
	if !errors.Is(gateway.inner, common.ErrReentrancy) {
		t.Fatalf("inner call should have hit the guard, got %v", gateway.inner)
	}

	// The guard is released after the failed draw: bookkeeping-only draws
	// proceed normally again.
	if err := engine.SetLiquidityToken(admin, nil); err != nil {
		t.Fatalf("reset gateway: %v", err)
	}
	if _, err := engine.DrawCredit(borrower, borrower, big.NewInt(10)); err != nil {
		t.Fatalf("draw after guard release: %v", err)
	}
}

// settlingGateway attempts lifecycle transitions from inside the settlement
// callback, the window between the record load and its persist.
type settlingGateway struct {
	engine     *Engine
	admin      crypto.Address
	borrower   crypto.Address
	suspendErr error
	closeErr   error
	updateErr  error
	defaultErr error
}

func (g *settlingGateway) FundDraw(reserve, borrower crypto.Address, amount *big.Int) error {
	_, g.suspendErr = g.engine.SuspendCreditLine(g.admin, g.borrower)
	_, g.closeErr = g.engine.CloseCreditLine(g.admin, g.borrower)
	_, g.updateErr = g.engine.UpdateRiskParameters(g.admin, g.borrower, big.NewInt(1), 0, 0)
	_, g.defaultErr = g.engine.DefaultCreditLine(g.admin, g.borrower)
	return nil
}

func (g *settlingGateway) CollectRepayment(borrower, spender, reserve crypto.Address, amount *big.Int) error {
	_, g.suspendErr = g.engine.SuspendCreditLine(g.admin, g.borrower)
	return nil
}

func TestLifecycleOpsRejectedDuringSettlement(t *testing.T) {
	engine, _, _, admin, borrower := newTestEngine(t)
	mustOpen(t, engine, admin, borrower, 1000, 300, 70)

	gateway := &settlingGateway{engine: engine, admin: admin, borrower: borrower}
	if err := engine.SetLiquidityToken(admin, gateway); err != nil {
		t.Fatalf("set gateway: %v", err)
	}

	// The draw commits; none of the transitions attempted mid-settlement can
	// slip in and be overwritten by the stale record.
	line, err := engine.DrawCredit(borrower, borrower, big.NewInt(100))
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	for name, inner := range map[string]error{
		"suspend": gateway.suspendErr,
		"close":   gateway.closeErr,
		"update":  gateway.updateErr,
		"default": gateway.defaultErr,
	} {
		if !errors.Is(inner, common.ErrReentrancy) {
			t.Fatalf("%s during settlement should hit the guard, got %v", name, inner)
		}
	}
	if line.Status != StatusActive || line.UtilizedAmount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected line after settlement: %+v", line)
	}
	if line.CreditLimit.Cmp(big.NewInt(1000)) != 0 || line.InterestRateBps != 300 {
		t.Fatalf("mid-settlement update leaked through: %+v", line)
	}

	// And the same from the repayment path.
	if _, err := engine.RepayCredit(borrower, borrower, big.NewInt(50)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if !errors.Is(gateway.suspendErr, common.ErrReentrancy) {
		t.Fatalf("suspend during repayment settlement should hit the guard, got %v", gateway.suspendErr)
	}

	// With settlement finished the admin transition applies normally.
	suspended, err := engine.SuspendCreditLine(admin, borrower)
	if err != nil {
		t.Fatalf("suspend after settlement: %v", err)
	}
	if suspended.Status != StatusSuspended {
		t.Fatalf("expected suspended status, got %v", suspended.Status)
	}
}

func TestGatewayFailureLeavesRecordUntouched(t *testing.T) {
	engine, state, _, admin, borrower := newTestEngine(t)
	mustOpen(t, engine, admin, borrower, 1000, 300, 70)

	failing := failingGateway{err: errors.New("transfer rejected")}
	if err := engine.SetLiquidityToken(admin, failing); err != nil {
		t.Fatalf("set gateway: %v", err)
	}

	if _, err := engine.DrawCredit(borrower, borrower, big.NewInt(100)); err == nil {
		t.Fatal("expected draw to fail")
	}
	if got := state.lines[borrower.String()].UtilizedAmount; got.Sign() != 0 {
		t.Fatalf("utilization mutated despite transfer failure: %s", got)
	}
}

type failingGateway struct {
	err error
}

func (g failingGateway) FundDraw(reserve, borrower crypto.Address, amount *big.Int) error {
	return g.err
}

func (g failingGateway) CollectRepayment(borrower, spender, reserve crypto.Address, amount *big.Int) error {
	return g.err
}

func TestLiquidityConfiguration(t *testing.T) {
	engine, _, _, admin, borrower := newTestEngine(t)
	reserve := newTestAddress(0x05)

	if err := engine.SetLiquiditySource(borrower, reserve); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if err := engine.SetLiquiditySource(admin, reserve); err != nil {
		t.Fatalf("set reserve: %v", err)
	}
	if !engine.LiquiditySource().Equal(reserve) {
		t.Fatalf("reserve not applied: %s", engine.LiquiditySource())
	}
	// Zero resets to the module principal.
	if err := engine.SetLiquiditySource(admin, crypto.Address{}); err != nil {
		t.Fatalf("reset reserve: %v", err)
	}
	if !engine.LiquiditySource().Equal(ModuleAddress()) {
		t.Fatalf("reserve not reset: %s", engine.LiquiditySource())
	}

	if err := engine.SetLiquidityToken(borrower, NoopGateway{}); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
}
