package wallet

//go:generate mockgen -source=wallet.go -destination=mocks/mock_wallet.go -package=mocks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"dex-console/pkg/money"
)

// Provider error codes that mean the user declined
const (
	CodeUserRejected   = "4001"
	CodeRequestDenied  = "5000"
	CodeActionRejected = "ACTION_REJECTED"
	CodeInternal       = "-32603"
	CodeUnsupported    = "4200"
)

// ErrNotConnected is returned by operations that need an unlocked account
var ErrNotConnected = errors.New("wallet not connected")

// Error is a wallet provider failure carrying its structured code
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wallet error %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("wallet error %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a wallet error from a numeric or string provider code
func NewError(code interface{}, message string) *Error {
	switch c := code.(type) {
	case int:
		return &Error{Code: strconv.Itoa(c), Message: message}
	case string:
		return &Error{Code: c, Message: message}
	default:
		return &Error{Code: fmt.Sprint(c), Message: message}
	}
}

// ErrUserRejected is the canonical refusal
func ErrUserRejected() *Error {
	return &Error{Code: CodeUserRejected, Message: "user rejected the request"}
}

// IsUserRejection reports whether err carries one of the user-refusal codes
func IsUserRejection(err error) bool {
	var wErr *Error
	if !errors.As(err, &wErr) {
		return false
	}
	switch wErr.Code {
	case CodeUserRejected, CodeRequestDenied, CodeActionRejected:
		return true
	}
	return false
}

// Wallet is the signing surface the confirmation flow depends on.
// ChainID is the provider form: decimal for EVM chains, "solana" for Solana.
type Wallet interface {
	Connected() bool
	Address() string
	ChainID() string
	NativeBalance(ctx context.Context) (money.Amount, error)
	SwitchChain(ctx context.Context, chainID string) error
	// SignTransaction signs a backend-built payload and returns the submit-ready blob.
	// It is never given a client-side deadline.
	SignTransaction(ctx context.Context, payload json.RawMessage) (string, error)
}

// TokenBalancer is implemented by wallets that can read token balances
type TokenBalancer interface {
	TokenBalance(ctx context.Context, token string) (money.Amount, error)
}

// SignRequest describes a pending signature for the approver
type SignRequest struct {
	ChainID string
	Account string
	To      string
	Value   string
	Payload json.RawMessage
}

// Approver stands in for the wallet's own approval prompt
type Approver interface {
	Approve(ctx context.Context, req SignRequest) (bool, error)
}

// ApproverFunc adapts a function to Approver
type ApproverFunc func(ctx context.Context, req SignRequest) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, req SignRequest) (bool, error) {
	return f(ctx, req)
}

// AutoApprove signs without asking
var AutoApprove = ApproverFunc(func(context.Context, SignRequest) (bool, error) { return true, nil })

func approve(ctx context.Context, a Approver, req SignRequest) error {
	if a == nil {
		return nil
	}
	ok, err := a.Approve(ctx, req)
	if errors.Is(err, context.Canceled) {
		return &Error{Code: CodeUserRejected, Message: "approval cancelled", Err: err}
	}
	if err != nil {
		return &Error{Code: CodeInternal, Message: "approval failed", Err: err}
	}
	if !ok {
		return ErrUserRejected()
	}
	return nil
}
