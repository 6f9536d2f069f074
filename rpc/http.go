package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"growvault/crypto"
	"growvault/native/vault"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rateLimitWindow = time.Minute
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

// Machine-readable kinds attached to RPC errors so clients can branch without
// parsing message text.
const (
	KindAlreadyInitialized = "alreadyInitialized"
	KindUninitialized      = "uninitialized"
	KindInsufficientFunds  = "insufficientFunds"
	KindInvalidAmount      = "invalidAmount"
	KindInvalidIdentity    = "invalidIdentity"
)

type rateLimiter struct {
	count       int
	windowStart time.Time
}

// Server exposes the vault ledger program over JSON-RPC 2.0. Mutating methods
// require the bearer token; read methods are throttled per source address and
// reject with codeRateLimited when the window is exhausted, which clients use
// as their backoff signal.
type Server struct {
	engine *vault.Engine
	logger *slog.Logger

	mu            sync.Mutex
	rateLimiters  map[string]*rateLimiter
	authToken     string
	maxReadsPerIP int
	nowFn         func() time.Time
}

func NewServer(engine *vault.Engine, authToken string, maxReadsPerWindow int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if maxReadsPerWindow <= 0 {
		maxReadsPerWindow = 120
	}
	return &Server{
		engine:        engine,
		logger:        logger,
		rateLimiters:  make(map[string]*rateLimiter),
		authToken:     strings.TrimSpace(authToken),
		maxReadsPerIP: maxReadsPerWindow,
		nowFn:         time.Now,
	}
}

// Start serves the RPC endpoint until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return http.ListenAndServe(addr, mux)
}

// Handler returns the HTTP handler, used by tests and embedding callers.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
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
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "unable to read request body", nil)
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON-RPC request", nil)
		return
	}

	switch req.Method {
	case "vault_initialize", "vault_deposit", "vault_withdraw", "vault_transfer",
		"vault_close", "treasury_pay", "bank_credit":
		if !s.authorized(r) {
			writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "missing or invalid bearer token", nil)
			return
		}
		s.handleWrite(w, &req)
	case "vault_balance", "vault_reward", "vault_spendable", "treasury_balance":
		if !s.allowRead(sourceIP(r)) {
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "read quota exceeded, retry later", nil)
			return
		}
		s.handleRead(w, &req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	provided := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return subtle.ConstantTimeCompare([]byte(provided), []byte(s.authToken)) == 1
}

func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) allowRead(source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn()
	limiter, ok := s.rateLimiters[source]
	if !ok || now.Sub(limiter.windowStart) >= rateLimitWindow {
		s.rateLimiters[source] = &rateLimiter{count: 1, windowStart: now}
		return true
	}
	if limiter.count >= s.maxReadsPerIP {
		return false
	}
	limiter.count++
	return true
}

// --- params ---

type ownerParams struct {
	Owner string `json:"owner"`
}

type amountParams struct {
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

type transferParams struct {
	Owner     string `json:"owner"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type payParams struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type addrParams struct {
	Address string `json:"address"`
}

var errInvalidParams = errors.New("invalid params")

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("%w: expected exactly one params object", errInvalidParams)
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return nil
}

func parseAddress(raw string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %v", crypto.ErrInvalidIdentity, err)
	}
	return addr, nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("%w: invalid base-unit amount %q", errInvalidParams, raw)
	}
	return amount, nil
}

func (s *Server) handleWrite(w http.ResponseWriter, req *RPCRequest) {
	var err error
	switch req.Method {
	case "vault_initialize":
		var params ownerParams
		if err = decodeParams(req, &params); err == nil {
			var owner crypto.Address
			if owner, err = parseAddress(params.Owner); err == nil {
				err = s.engine.Initialize(owner)
			}
		}
	case "vault_deposit", "vault_withdraw":
		var params amountParams
		if err = decodeParams(req, &params); err == nil {
			var owner crypto.Address
			var amount *big.Int
			if owner, err = parseAddress(params.Owner); err == nil {
				if amount, err = parseAmount(params.Amount); err == nil {
					if req.Method == "vault_deposit" {
						err = s.engine.Deposit(owner, amount)
					} else {
						err = s.engine.Withdraw(owner, amount)
					}
				}
			}
		}
	case "vault_transfer":
		var params transferParams
		if err = decodeParams(req, &params); err == nil {
			var owner, recipient crypto.Address
			var amount *big.Int
			if owner, err = parseAddress(params.Owner); err == nil {
				if recipient, err = parseAddress(params.Recipient); err == nil {
					if amount, err = parseAmount(params.Amount); err == nil {
						err = s.engine.Transfer(owner, recipient, amount)
					}
				}
			}
		}
	case "vault_close":
		var params ownerParams
		if err = decodeParams(req, &params); err == nil {
			var owner crypto.Address
			if owner, err = parseAddress(params.Owner); err == nil {
				err = s.engine.Close(owner)
			}
		}
	case "treasury_pay":
		var params payParams
		if err = decodeParams(req, &params); err == nil {
			var recipient crypto.Address
			var amount *big.Int
			if recipient, err = parseAddress(params.Recipient); err == nil {
				if amount, err = parseAmount(params.Amount); err == nil {
					err = s.engine.TreasuryPay(recipient, amount)
				}
			}
		}
	case "bank_credit":
		var params payParams
		if err = decodeParams(req, &params); err == nil {
			var recipient crypto.Address
			var amount *big.Int
			if recipient, err = parseAddress(params.Recipient); err == nil {
				if amount, err = parseAmount(params.Amount); err == nil {
					err = s.engine.Credit(recipient, amount)
				}
			}
		}
	}
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleRead(w http.ResponseWriter, req *RPCRequest) {
	var (
		balance *big.Int
		err     error
	)
	switch req.Method {
	case "vault_balance":
		var params ownerParams
		if err = decodeParams(req, &params); err == nil {
			var owner crypto.Address
			if owner, err = parseAddress(params.Owner); err == nil {
				balance, err = s.engine.Balance(owner)
			}
		}
	case "vault_reward":
		var params ownerParams
		if err = decodeParams(req, &params); err == nil {
			var owner crypto.Address
			if owner, err = parseAddress(params.Owner); err == nil {
				balance, err = s.engine.RewardBalance(owner)
			}
		}
	case "vault_spendable":
		var params addrParams
		if err = decodeParams(req, &params); err == nil {
			var addr crypto.Address
			if addr, err = parseAddress(params.Address); err == nil {
				balance, err = s.engine.SpendableBalance(addr)
			}
		}
	case "treasury_balance":
		balance, err = s.engine.TreasuryBalance()
	}
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"balance": balance.String()})
}

func (s *Server) writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, vault.ErrAlreadyInitialized):
		writeError(w, http.StatusConflict, id, codeServerError, err.Error(), map[string]string{"kind": KindAlreadyInitialized})
	case errors.Is(err, vault.ErrUninitialized):
		writeError(w, http.StatusNotFound, id, codeServerError, err.Error(), map[string]string{"kind": KindUninitialized})
	case errors.Is(err, vault.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, id, codeServerError, err.Error(), map[string]string{"kind": KindInsufficientFunds})
	case errors.Is(err, vault.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), map[string]string{"kind": KindInvalidAmount})
	case errors.Is(err, crypto.ErrInvalidIdentity):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), map[string]string{"kind": KindInvalidIdentity})
	case errors.Is(err, errInvalidParams):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	default:
		s.logger.Error("rpc request failed", "error", err)
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}
