package rpc

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"creditra/crypto"
	"creditra/native/credit"
)

// timestampWindow bounds how far a signed request's timestamp may drift from
// the server clock. A captured request stops replaying once the window
// elapses.
const timestampWindow = 5 * time.Minute

func (s *Server) checkTimestamp(ts int64) error {
	now := s.now()
	issued := time.Unix(ts, 0)
	if issued.Before(now.Add(-timestampWindow)) || issued.After(now.Add(timestampWindow)) {
		return fmt.Errorf("timestamp outside allowed window")
	}
	return nil
}

type creditOpenParams struct {
	Caller          string `json:"caller"`
	Borrower        string `json:"borrower"`
	CreditLimit     string `json:"creditLimit"`
	InterestRateBps uint32 `json:"interestRateBps"`
	RiskScore       uint32 `json:"riskScore"`
	Timestamp       int64  `json:"timestamp"`
	Signature       string `json:"signature"`
}

type creditAmountParams struct {
	Caller    string `json:"caller"`
	Borrower  string `json:"borrower"`
	Amount    string `json:"amount"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

type creditLifecycleParams struct {
	Caller    string `json:"caller"`
	Borrower  string `json:"borrower"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

type creditGetParams struct {
	Borrower string `json:"borrower"`
}

type creditLineResult struct {
	Borrower        string `json:"borrower"`
	CreditLimit     string `json:"creditLimit"`
	UtilizedAmount  string `json:"utilizedAmount"`
	InterestRateBps uint32 `json:"interestRateBps"`
	RiskScore       uint32 `json:"riskScore"`
	Status          string `json:"status"`
}

func creditLineToResult(line *credit.CreditLine) *creditLineResult {
	if line == nil {
		return nil
	}
	return &creditLineResult{
		Borrower:        line.Borrower.String(),
		CreditLimit:     line.CreditLimit.String(),
		UtilizedAmount:  line.UtilizedAmount.String(),
		InterestRateBps: line.InterestRateBps,
		RiskScore:       line.RiskScore,
		Status:          line.Status.String(),
	}
}

// creditDigest binds the operation name, the lowercased field values and the
// timestamp into the 32-byte payload the caller signs.
func creditDigest(op string, fields ...string) []byte {
	parts := make([]string, 0, len(fields)+1)
	parts = append(parts, "credit_"+op)
	for _, f := range fields {
		parts = append(parts, strings.ToLower(strings.TrimSpace(f)))
	}
	digest := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return digest[:]
}

func decodeHexBytes(value string) ([]byte, error) {
	cleaned := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if len(cleaned)%2 == 1 {
		cleaned = "0" + cleaned
	}
	if cleaned == "" {
		return nil, fmt.Errorf("hex value required")
	}
	return hex.DecodeString(cleaned)
}

// verifyCaller recovers the signer of digest and checks it controls the
// claimed caller address. Returns the verified principal.
func verifyCaller(caller, signature string, digest []byte) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(caller)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid caller: %w", err)
	}
	sig, err := decodeHexBytes(signature)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid signature: %w", err)
	}
	recovered, err := crypto.RecoverAddress(digest, sig)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid signature: %w", err)
	}
	if !recovered.Equal(addr) {
		return crypto.Address{}, fmt.Errorf("signature does not match caller")
	}
	return addr, nil
}

func parseAmountParam(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected a single parameter object")
	}
	return json.Unmarshal(req.Params[0], out)
}

// engineErrorCode maps engine failures onto JSON-RPC codes: authorization
// failures are surfaced distinctly from validation failures.
func engineErrorCode(err error) (int, int) {
	switch {
	case errors.Is(err, credit.ErrNotAdmin),
		errors.Is(err, credit.ErrNotBorrower),
		errors.Is(err, credit.ErrUnauthorized):
		return http.StatusForbidden, codeUnauthorized
	case errors.Is(err, credit.ErrNotFound):
		return http.StatusNotFound, codeInvalidParams
	default:
		return http.StatusBadRequest, codeInvalidParams
	}
}

func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	status, code := engineErrorCode(err)
	writeError(w, status, id, code, err.Error(), nil)
}

func (s *Server) handleCreditOpen(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params creditOpenParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid request parameters", err.Error())
		return
	}
	if err := s.checkTimestamp(params.Timestamp); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	digest := creditDigest("open",
		params.Caller,
		params.Borrower,
		params.CreditLimit,
		fmt.Sprintf("%d", params.InterestRateBps),
		fmt.Sprintf("%d", params.RiskScore),
		fmt.Sprintf("%d", params.Timestamp),
	)
	caller, err := verifyCaller(params.Caller, params.Signature, digest)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	borrower, err := crypto.DecodeAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
		return
	}
	limit, err := parseAmountParam(params.CreditLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	line, err := s.engine.OpenCreditLine(caller, borrower, limit, params.InterestRateBps, params.RiskScore)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, creditLineToResult(line))
}

func (s *Server) handleCreditDraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleAmountOp(w, req, "draw", s.engine.DrawCredit)
}

func (s *Server) handleCreditRepay(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleAmountOp(w, req, "repay", s.engine.RepayCredit)
}

func (s *Server) handleAmountOp(w http.ResponseWriter, req *RPCRequest, op string, apply func(caller, borrower crypto.Address, amount *big.Int) (*credit.CreditLine, error)) {
	var params creditAmountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid request parameters", err.Error())
		return
	}
	if err := s.checkTimestamp(params.Timestamp); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	digest := creditDigest(op,
		params.Caller,
		params.Borrower,
		params.Amount,
		fmt.Sprintf("%d", params.Timestamp),
	)
	caller, err := verifyCaller(params.Caller, params.Signature, digest)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	borrower, err := crypto.DecodeAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
		return
	}
	amount, err := parseAmountParam(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	line, err := apply(caller, borrower, amount)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, creditLineToResult(line))
}

func (s *Server) handleCreditUpdateRisk(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params creditOpenParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid request parameters", err.Error())
		return
	}
	if err := s.checkTimestamp(params.Timestamp); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	digest := creditDigest("updaterisk",
		params.Caller,
		params.Borrower,
		params.CreditLimit,
		fmt.Sprintf("%d", params.InterestRateBps),
		fmt.Sprintf("%d", params.RiskScore),
		fmt.Sprintf("%d", params.Timestamp),
	)
	caller, err := verifyCaller(params.Caller, params.Signature, digest)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	borrower, err := crypto.DecodeAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
		return
	}
	limit, err := parseAmountParam(params.CreditLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	line, err := s.engine.UpdateRiskParameters(caller, borrower, limit, params.InterestRateBps, params.RiskScore)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, creditLineToResult(line))
}

func (s *Server) handleCreditSuspend(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleLifecycleOp(w, req, "suspend", s.engine.SuspendCreditLine)
}

func (s *Server) handleCreditClose(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleLifecycleOp(w, req, "close", s.engine.CloseCreditLine)
}

func (s *Server) handleCreditDefault(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleLifecycleOp(w, req, "default", s.engine.DefaultCreditLine)
}

func (s *Server) handleLifecycleOp(w http.ResponseWriter, req *RPCRequest, op string, apply func(caller, borrower crypto.Address) (*credit.CreditLine, error)) {
	var params creditLifecycleParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid request parameters", err.Error())
		return
	}
	if err := s.checkTimestamp(params.Timestamp); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	digest := creditDigest(op,
		params.Caller,
		params.Borrower,
		fmt.Sprintf("%d", params.Timestamp),
	)
	caller, err := verifyCaller(params.Caller, params.Signature, digest)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	borrower, err := crypto.DecodeAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
		return
	}
	line, err := apply(caller, borrower)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, creditLineToResult(line))
}

func (s *Server) handleCreditGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params creditGetParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid request parameters", err.Error())
		return
	}
	borrower, err := crypto.DecodeAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
		return
	}
	line, err := s.engine.GetCreditLine(borrower)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, creditLineToResult(line))
}

type creditSetReserveParams struct {
	Caller    string `json:"caller"`
	Reserve   string `json:"reserve"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

type creditSetReserveResult struct {
	Reserve string `json:"reserve"`
}

func (s *Server) handleCreditSetReserve(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params creditSetReserveParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid request parameters", err.Error())
		return
	}
	if err := s.checkTimestamp(params.Timestamp); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	digest := creditDigest("setreserve",
		params.Caller,
		params.Reserve,
		fmt.Sprintf("%d", params.Timestamp),
	)
	caller, err := verifyCaller(params.Caller, params.Signature, digest)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var reserve crypto.Address
	if strings.TrimSpace(params.Reserve) != "" {
		reserve, err = crypto.DecodeAddress(params.Reserve)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid reserve", err.Error())
			return
		}
	}
	if err := s.engine.SetLiquiditySource(caller, reserve); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, creditSetReserveResult{Reserve: s.engine.LiquiditySource().String()})
}
