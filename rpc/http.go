package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"creditra/native/credit"
	"creditra/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

const (
	rateLimitPerSecond = 50
	rateLimitBurst     = 100
	limiterTTL         = 10 * time.Minute
	maxLimiterEntries  = 4096
)

// Server exposes the credit engine over JSON-RPC. Proof of control is
// established here by recovering the signer from each request signature; the
// engine enforces role policy on the recovered principal.
type Server struct {
	engine *credit.Engine
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*clientLimiter
}

func NewServer(engine *credit.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:   engine,
		logger:   logger,
		now:      time.Now,
		limiters: make(map[string]*clientLimiter),
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (s *Server) limiterFor(remoteAddr string) *rate.Limiter {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.limiters[host]
	if !ok {
		if len(s.limiters) >= maxLimiterEntries {
			s.evictLimiters(now)
		}
		entry = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rateLimitPerSecond), rateLimitBurst)}
		s.limiters[host] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// evictLimiters drops limiters idle past the TTL; when every entry is fresh it
// removes the least recently seen one so the map stays bounded. Callers hold
// s.mu.
func (s *Server) evictLimiters(now time.Time) {
	var oldestHost string
	var oldestSeen time.Time
	for host, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > limiterTTL {
			delete(s.limiters, host)
			continue
		}
		if oldestHost == "" || entry.lastSeen.Before(oldestSeen) {
			oldestHost, oldestSeen = host, entry.lastSeen
		}
	}
	if len(s.limiters) >= maxLimiterEntries && oldestHost != "" {
		delete(s.limiters, oldestHost)
	}
}

// Handler returns the HTTP handler serving the RPC endpoint and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if !s.limiterFor(r.RemoteAddr).Allow() {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "too many requests", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	start := time.Now()
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	switch req.Method {
	case "credit_open":
		s.handleCreditOpen(recorder, r, req)
	case "credit_draw":
		s.handleCreditDraw(recorder, r, req)
	case "credit_repay":
		s.handleCreditRepay(recorder, r, req)
	case "credit_updateRisk":
		s.handleCreditUpdateRisk(recorder, r, req)
	case "credit_suspend":
		s.handleCreditSuspend(recorder, r, req)
	case "credit_close":
		s.handleCreditClose(recorder, r, req)
	case "credit_default":
		s.handleCreditDefault(recorder, r, req)
	case "credit_get":
		s.handleCreditGet(recorder, r, req)
	case "credit_setReserve":
		s.handleCreditSetReserve(recorder, r, req)
	default:
		writeError(recorder, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}

	code := 0
	if recorder.status >= 400 {
		code = recorder.status
	}
	observability.RPCMetrics().Observe(req.Method, code, time.Since(start))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
