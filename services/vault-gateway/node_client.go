package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Sentinel errors surfaced by the ledger client. Read paths retry only on
// ErrRateLimited; everything else propagates to the caller immediately.
var (
	ErrRateLimited        = errors.New("ledger: rate limited")
	ErrUninitialized      = errors.New("ledger: vault not initialized")
	ErrAlreadyInitialized = errors.New("ledger: vault already initialized")
	ErrInsufficientFunds  = errors.New("ledger: insufficient funds")
	// ErrWriteUnconfirmed wraps transport failures on mutating calls. The
	// write may or may not have been applied; callers must re-read state
	// before treating it as failed.
	ErrWriteUnconfirmed = errors.New("ledger: write outcome unknown")
)

// LedgerClient is the gateway's boundary to the vaultd ledger node.
type LedgerClient interface {
	Initialize(ctx context.Context, owner string) error
	Deposit(ctx context.Context, owner string, amount *big.Int) error
	Withdraw(ctx context.Context, owner string, amount *big.Int) error
	Transfer(ctx context.Context, owner, recipient string, amount *big.Int) error
	CloseVault(ctx context.Context, owner string) error
	TreasuryPay(ctx context.Context, recipient string, amount *big.Int) error

	VaultBalance(ctx context.Context, owner string) (*big.Int, error)
	RewardBalance(ctx context.Context, owner string) (*big.Int, error)
	TreasuryBalance(ctx context.Context) (*big.Int, error)
}

// RPCLedgerClient implements LedgerClient against the vaultd JSON-RPC server.
type RPCLedgerClient struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

func NewRPCLedgerClient(baseURL, authToken string) *RPCLedgerClient {
	return &RPCLedgerClient{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      interface{}      `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

const rpcCodeRateLimited = -32020

func (e *jsonRPCErrorObj) kind() string {
	if e == nil || len(e.Data) == 0 {
		return ""
	}
	var payload struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return ""
	}
	return payload.Kind
}

func mapRPCError(obj *jsonRPCErrorObj) error {
	if obj == nil {
		return nil
	}
	if obj.Code == rpcCodeRateLimited {
		return fmt.Errorf("%w: %s", ErrRateLimited, obj.Message)
	}
	switch obj.kind() {
	case "uninitialized":
		return fmt.Errorf("%w: %s", ErrUninitialized, obj.Message)
	case "alreadyInitialized":
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, obj.Message)
	case "insufficientFunds":
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, obj.Message)
	default:
		return fmt.Errorf("ledger rpc error: %s", obj.Message)
	}
}

func (c *RPCLedgerClient) Initialize(ctx context.Context, owner string) error {
	return c.write(ctx, "vault_initialize", map[string]string{"owner": owner})
}

func (c *RPCLedgerClient) Deposit(ctx context.Context, owner string, amount *big.Int) error {
	return c.write(ctx, "vault_deposit", map[string]string{"owner": owner, "amount": amount.String()})
}

func (c *RPCLedgerClient) Withdraw(ctx context.Context, owner string, amount *big.Int) error {
	return c.write(ctx, "vault_withdraw", map[string]string{"owner": owner, "amount": amount.String()})
}

func (c *RPCLedgerClient) Transfer(ctx context.Context, owner, recipient string, amount *big.Int) error {
	return c.write(ctx, "vault_transfer", map[string]string{
		"owner":     owner,
		"recipient": recipient,
		"amount":    amount.String(),
	})
}

func (c *RPCLedgerClient) CloseVault(ctx context.Context, owner string) error {
	return c.write(ctx, "vault_close", map[string]string{"owner": owner})
}

func (c *RPCLedgerClient) TreasuryPay(ctx context.Context, recipient string, amount *big.Int) error {
	return c.write(ctx, "treasury_pay", map[string]string{"recipient": recipient, "amount": amount.String()})
}

func (c *RPCLedgerClient) VaultBalance(ctx context.Context, owner string) (*big.Int, error) {
	return c.readBalance(ctx, "vault_balance", map[string]string{"owner": owner})
}

func (c *RPCLedgerClient) RewardBalance(ctx context.Context, owner string) (*big.Int, error) {
	return c.readBalance(ctx, "vault_reward", map[string]string{"owner": owner})
}

func (c *RPCLedgerClient) TreasuryBalance(ctx context.Context) (*big.Int, error) {
	return c.readBalance(ctx, "treasury_balance", map[string]string{})
}

// write submits a state-transition request. Transport failures are wrapped in
// ErrWriteUnconfirmed and must never be blindly retried: resubmission can
// double-apply the change.
func (c *RPCLedgerClient) write(ctx context.Context, method string, params interface{}) error {
	if err := c.call(ctx, method, params, nil); err != nil {
		var rpcErr *jsonRPCErrorObj
		if errors.As(err, &rpcErr) {
			return mapRPCError(rpcErr)
		}
		return fmt.Errorf("%w: %s: %v", ErrWriteUnconfirmed, method, err)
	}
	return nil
}

func (c *RPCLedgerClient) readBalance(ctx context.Context, method string, params interface{}) (*big.Int, error) {
	var result struct {
		Balance string `json:"balance"`
	}
	if err := c.call(ctx, method, params, &result); err != nil {
		var rpcErr *jsonRPCErrorObj
		if errors.As(err, &rpcErr) {
			return nil, mapRPCError(rpcErr)
		}
		return nil, err
	}
	balance, ok := new(big.Int).SetString(result.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("ledger returned malformed balance %q", result.Balance)
	}
	return balance, nil
}

func (e *jsonRPCErrorObj) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *RPCLedgerClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	bodyStruct := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  []interface{}{params},
		ID:      id,
	}
	buf, err := json.Marshal(bodyStruct)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ledger rpc %s: status=%d body=%s", method, resp.StatusCode, string(body))
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return errors.New("ledger rpc returned empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}
