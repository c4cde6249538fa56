package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the closed set of outcomes the outbound pipeline reacts to.
type ErrorKind string

const (
	KindTransient         ErrorKind = "transient"
	KindStaleTransaction  ErrorKind = "stale_transaction"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindValidation        ErrorKind = "validation"
	KindConflict          ErrorKind = "conflict"
	KindNotFound          ErrorKind = "not_found"
	KindUnknown           ErrorKind = "unknown"
)

// Settlement sentinels
var (
	ErrTransactionNotFound  = errors.New("transaction not found on chain")
	ErrConfirmationTimeout  = errors.New("transaction not confirmed within the polling budget")
	ErrInsufficientTreasury = errors.New("treasury balance insufficient")
	ErrInvalidAddress       = errors.New("invalid destination address")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrDerivationFailed     = errors.New("wallet derivation failed")
	ErrUnsupportedToken     = errors.New("unsupported token")
	ErrNoHooks              = errors.New("no hooks registered")
	ErrTransactionReverted  = errors.New("transaction reverted")
)

// ChainError is an error raised while talking to a chain, already classified.
type ChainError struct {
	Kind    ErrorKind
	Network string
	Op      string
	Err     error
	Details map[string]interface{}
}

func (e *ChainError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Network, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Network, e.Kind, e.Err)
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// NewChainError wraps err under the given kind.
func NewChainError(kind ErrorKind, network, op string, err error) *ChainError {
	return &ChainError{Kind: kind, Network: network, Op: op, Err: err}
}

// WithDetails attaches structured context.
func (e *ChainError) WithDetails(details map[string]interface{}) *ChainError {
	e.Details = details
	return e
}

// KindOf returns the classification of err. Unclassified errors fall back to
// the sentinel they wrap, then to KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var chainErr *ChainError
	if errors.As(err, &chainErr) {
		return chainErr.Kind
	}
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientTreasury):
		return KindInsufficientFunds
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrInvalidAmount):
		return KindValidation
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrServiceUnavailable), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}
	return KindUnknown
}

var (
	transientPatterns = []string{
		"not mined within",
		"timeout",
		"timed out",
		"connection refused",
		"connection reset",
		"server busy",
		"server_busy",
		"too many requests",
		"429",
		"503",
		"eof",
		"already known",
		"known transaction",
		"unavailable",
		"circuit breaker is open",
	}
	stalePatterns = []string{
		"nonce too low",
		"replacement transaction underpriced",
		"transaction underpriced",
		"nonce has already been used",
		"tefpast_seq",
		"tefmax_ledger",
		"terpre_seq",
		"transaction_expiration_error",
		"expired",
	}
	insufficientPatterns = []string{
		"insufficient funds",
		"insufficient balance",
		"balance is not sufficient",
		"tecunfunded",
		"terinsuf_fee_b",
		"tecinsufficient_reserve",
		"bandwith_error",
		"bandwidth_error",
		"not enough energy",
	}
	validationPatterns = []string{
		"invalid address",
		"invalid sender",
		"invalid recipient",
		"temmalformed",
		"tembad",
		"tecno_dst",
		"temdst_is_src",
		"contract_validate_error",
		"sigerror",
		"negative",
	}
)

// Classify maps a raw RPC error into the taxonomy by message inspection. Already
// classified errors are returned as is.
func Classify(network, op string, err error) *ChainError {
	if err == nil {
		return nil
	}
	var chainErr *ChainError
	if errors.As(err, &chainErr) {
		return chainErr
	}
	if kind := KindOf(err); kind != KindUnknown {
		return NewChainError(kind, network, op, err)
	}

	msg := strings.ToLower(err.Error())
	// Stale and funding patterns are checked first: their messages often contain
	// generic words such as "expired" or "timeout".
	switch {
	case containsAny(msg, stalePatterns):
		return NewChainError(KindStaleTransaction, network, op, err)
	case containsAny(msg, insufficientPatterns):
		return NewChainError(KindInsufficientFunds, network, op, err)
	case containsAny(msg, validationPatterns):
		return NewChainError(KindValidation, network, op, err)
	case containsAny(msg, transientPatterns):
		return NewChainError(KindTransient, network, op, err)
	}
	return NewChainError(KindUnknown, network, op, err)
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
