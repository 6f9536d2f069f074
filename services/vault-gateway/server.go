package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"growvault/native/collectible"
	"growvault/native/lockup"
)

const maxRequestBody = 1 << 20 // 1 MiB

// Error kinds surfaced to callers. Stable strings: clients branch on these,
// not on message text.
const (
	kindInvalidAmount         = "invalidAmount"
	kindInvalidDuration       = "invalidDuration"
	kindAlreadyInitialized    = "alreadyInitialized"
	kindUninitialized         = "uninitialized"
	kindInsufficientFunds     = "insufficientFunds"
	kindInsufficientAvailable = "insufficientAvailableBalance"
	kindStillLocked           = "stillLocked"
	kindAlreadySettled        = "alreadySettled"
	kindNotFound              = "notFound"
	kindTreasuryInsufficient  = "treasuryInsufficient"
	kindRateLimited           = "rateLimited"
	kindUnknownWrite          = "unknown"
	kindInternal              = "internal"
	kindMalformedRequest      = "malformedRequest"
	kindUnsupportedLockAction = "unsupportedAction"
)

// Server is the HTTP front-end for vault and lock interactions.
type Server struct {
	ledger     LedgerClient
	registry   *LockRegistry
	settlement *SettlementService
	retrier    *readRetrier
	threshold  *big.Int
	logger     *slog.Logger
	router     chi.Router
}

func NewServer(ledger LedgerClient, registry *LockRegistry, settlement *SettlementService, retrier *readRetrier, legendaryThreshold *big.Int, logger *slog.Logger, limiter *ipRateLimiter) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ledger:     ledger,
		registry:   registry,
		settlement: settlement,
		retrier:    retrier,
		threshold:  legendaryThreshold,
		logger:     logger,
	}
	r := chi.NewRouter()
	if limiter != nil {
		r.Use(limiter.Middleware)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Post("/vault/initialize", s.handleInitialize)
		r.Post("/vault/deposit", s.handleDeposit)
		r.Post("/vault/withdraw", s.handleWithdraw)
		r.Post("/vault/transfer", s.handleTransfer)
		r.Get("/vault/{owner}", s.handleVaultStatus)
		r.Delete("/vault/{owner}", s.handleCloseVault)
		r.Post("/locks", s.handleLockAction)
		r.Get("/locks/{owner}", s.handleListLocks)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, kind := classifyError(err)
	if kind == kindInternal {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorEnvelope{Error: errorBody{Kind: kind, Message: err.Error()}})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, lockup.ErrInvalidAmount):
		return http.StatusBadRequest, kindInvalidAmount
	case errors.Is(err, lockup.ErrInvalidDuration):
		return http.StatusBadRequest, kindInvalidDuration
	case errors.Is(err, ErrAlreadyInitialized):
		return http.StatusConflict, kindAlreadyInitialized
	case errors.Is(err, ErrUninitialized):
		return http.StatusNotFound, kindUninitialized
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, kindInsufficientFunds
	case errors.Is(err, lockup.ErrInsufficientAvailableBalance):
		return http.StatusUnprocessableEntity, kindInsufficientAvailable
	case errors.Is(err, lockup.ErrStillLocked):
		return http.StatusConflict, kindStillLocked
	case errors.Is(err, lockup.ErrAlreadySettled):
		return http.StatusConflict, kindAlreadySettled
	case errors.Is(err, lockup.ErrNotFound):
		return http.StatusNotFound, kindNotFound
	case errors.Is(err, lockup.ErrTreasuryInsufficient):
		return http.StatusConflict, kindTreasuryInsufficient
	case errors.Is(err, ErrRateLimited):
		return http.StatusServiceUnavailable, kindRateLimited
	case errors.Is(err, ErrWriteUnconfirmed):
		// The ledger write may have applied. Callers must re-read state
		// before retrying; a blind resubmission can double-apply.
		return http.StatusBadGateway, kindUnknownWrite
	default:
		return http.StatusInternalServerError, kindInternal
	}
}

func decodeBody(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func parsePositiveAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, lockup.ErrInvalidAmount
	}
	return amount, nil
}

// --- vault passthroughs ---

type ownerRequest struct {
	Owner string `json:"owner"`
}

type amountRequest struct {
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

type transferRequest struct {
	Owner     string `json:"owner"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{Kind: kindMalformedRequest, Message: err.Error()}})
		return
	}
	if err := s.ledger.Initialize(r.Context(), req.Owner); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleVaultMove(w, r, s.ledger.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{Kind: kindMalformedRequest, Message: err.Error()}})
		return
	}
	amount, err := parsePositiveAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// The ledger only checks the raw balance; the lock-availability
	// invariant is this layer's responsibility.
	available, err := s.registry.AvailableBalance(r.Context(), req.Owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if amount.Cmp(available) > 0 {
		s.writeError(w, lockup.ErrInsufficientAvailableBalance)
		return
	}
	if err := s.ledger.Withdraw(r.Context(), req.Owner, amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.respondWithBalances(w, r, req.Owner)
}

func (s *Server) handleVaultMove(w http.ResponseWriter, r *http.Request, move func(ctx context.Context, owner string, amount *big.Int) error) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{Kind: kindMalformedRequest, Message: err.Error()}})
		return
	}
	amount, err := parsePositiveAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := move(r.Context(), req.Owner, amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.respondWithBalances(w, r, req.Owner)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{Kind: kindMalformedRequest, Message: err.Error()}})
		return
	}
	amount, err := parsePositiveAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	available, err := s.registry.AvailableBalance(r.Context(), req.Owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if amount.Cmp(available) > 0 {
		s.writeError(w, lockup.ErrInsufficientAvailableBalance)
		return
	}
	if err := s.ledger.Transfer(r.Context(), req.Owner, req.Recipient, amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.respondWithBalances(w, r, req.Owner)
}

// respondWithBalances re-reads authoritative state after a mutation so the
// caller can reconcile any cached view instead of trusting it.
func (s *Server) respondWithBalances(w http.ResponseWriter, r *http.Request, owner string) {
	balance, err := s.retrier.do(r.Context(), func(ctx context.Context) (*big.Int, error) {
		return s.ledger.VaultBalance(ctx, owner)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"balance": balance.String(),
	})
}

type vaultStatusResponse struct {
	Owner            string `json:"owner"`
	Balance          string `json:"balance"`
	RewardBalance    string `json:"rewardBalance"`
	AvailableBalance string `json:"availableBalance"`
	CollectibleStage string `json:"collectibleStage"`
}

func (s *Server) handleVaultStatus(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	balance, err := s.retrier.do(r.Context(), func(ctx context.Context) (*big.Int, error) {
		return s.ledger.VaultBalance(ctx, owner)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	reward, err := s.retrier.do(r.Context(), func(ctx context.Context) (*big.Int, error) {
		return s.ledger.RewardBalance(ctx, owner)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	available, err := s.registry.AvailableBalance(r.Context(), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vaultStatusResponse{
		Owner:            owner,
		Balance:          balance.String(),
		RewardBalance:    reward.String(),
		AvailableBalance: available.String(),
		CollectibleStage: string(collectible.StageForBalance(balance, s.threshold)),
	})
}

// handleCloseVault runs the account-closure cascade. Every active lock is
// settled first (paying the reward when matured, forfeiting it otherwise) so
// a failure later in the cascade never leaves the owner with a vault that has
// lost its lock records. Only after every lock has been settled are the rows
// purged and the ledger asked to sweep and delete the vault.
func (s *Server) handleCloseVault(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	locks, err := s.registry.ActiveLocks(r.Context(), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rewardsPaid := big.NewInt(0)
	for _, lock := range locks {
		paid, err := s.settlement.Settle(r.Context(), owner, lock.ID, true)
		if err != nil {
			s.writeError(w, err)
			return
		}
		rewardsPaid.Add(rewardsPaid, paid)
	}
	removed, err := s.registry.PurgeOwner(r.Context(), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.ledger.CloseVault(r.Context(), owner); err != nil {
		s.logger.Warn("vault close failed after lock purge",
			"owner", owner, "locksCleared", removed, "error", err)
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"locksCleared": removed,
		"rewardsPaid":  rewardsPaid.String(),
	})
}

// --- locks ---

type lockActionRequest struct {
	Action        string `json:"action"`
	Owner         string `json:"owner"`
	Amount        string `json:"amount,omitempty"`
	DurationHours uint64 `json:"durationHours,omitempty"`
	LockID        string `json:"lockId,omitempty"`
	Force         bool   `json:"force,omitempty"`
}

type lockPayload struct {
	ID            string `json:"id"`
	Owner         string `json:"owner"`
	Amount        string `json:"amount"`
	DurationHours uint64 `json:"durationHours"`
	RewardAmount  string `json:"rewardAmount"`
	CreatedAt     int64  `json:"createdAt"`
	Maturity      int64  `json:"maturity"`
	Status        string `json:"status"`
}

func lockToPayload(lock *lockup.Lock) lockPayload {
	return lockPayload{
		ID:            lock.ID,
		Owner:         lock.Owner,
		Amount:        lock.Amount.String(),
		DurationHours: lock.DurationHours,
		RewardAmount:  lock.RewardAmount.String(),
		CreatedAt:     lock.CreatedAt,
		Maturity:      lock.MaturityUnix,
		Status:        lock.Status.String(),
	}
}

func (s *Server) handleLockAction(w http.ResponseWriter, r *http.Request) {
	var req lockActionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{Kind: kindMalformedRequest, Message: err.Error()}})
		return
	}
	switch req.Action {
	case "create":
		amount, err := parsePositiveAmount(req.Amount)
		if err != nil {
			s.writeError(w, err)
			return
		}
		lock, err := s.registry.CreateLock(r.Context(), req.Owner, amount, req.DurationHours)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"lock":    lockToPayload(lock),
		})
	case "unlock":
		rewardPaid, err := s.settlement.Settle(r.Context(), req.Owner, req.LockID, req.Force)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"rewardPaid": rewardPaid.String(),
		})
	default:
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{
			Kind:    kindUnsupportedLockAction,
			Message: "action must be \"create\" or \"unlock\"",
		}})
	}
}

func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	locks, err := s.registry.ActiveLocks(r.Context(), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	available, err := s.registry.AvailableBalance(r.Context(), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	payload := make([]lockPayload, 0, len(locks))
	for _, lock := range locks {
		payload = append(payload, lockToPayload(lock))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"locks":            payload,
		"availableBalance": available.String(),
	})
}
