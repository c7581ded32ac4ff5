package confirm

import (
	"errors"
	"fmt"

	"dex-console/pkg/quotes"
	"dex-console/pkg/types"
)

// ErrorKind is the user-facing classification of a flow failure
type ErrorKind string

const (
	KindNoQuotesAvailable   ErrorKind = "NoQuotesAvailable"
	KindQuoteStale          ErrorKind = "QuoteStale"
	KindUntradeableToken    ErrorKind = "UntradeableToken"
	KindInsufficientBalance ErrorKind = "InsufficientBalance"
	KindBuildFailed         ErrorKind = "BuildFailed"
	KindUserRejectedSigning ErrorKind = "UserRejectedSigning"
	KindSigningFailed       ErrorKind = "SigningFailed"
	KindExecutionFailed     ErrorKind = "ExecutionFailed"
	KindNetworkUnavailable  ErrorKind = "NetworkUnavailable"
	KindQuoteRefreshFailed  ErrorKind = "QuoteRefreshFailed"
)

var messages = map[ErrorKind]string{
	KindNoQuotesAvailable:   "No tradable quotes are available for this trade",
	KindQuoteStale:          "The refreshed quote differs from the one you reviewed",
	KindUntradeableToken:    "This token cannot be traded",
	KindInsufficientBalance: "Your balance does not cover this trade",
	KindBuildFailed:         "The trade could not be built",
	KindUserRejectedSigning: "You rejected the transaction in your wallet",
	KindSigningFailed:       "The wallet failed to sign the transaction",
	KindExecutionFailed:     "The signed trade was rejected",
	KindNetworkUnavailable:  "The trading backend is unreachable",
	KindQuoteRefreshFailed:  "The quote could not be refreshed",
}

// Message is the text shown to the user for k
func (k ErrorKind) Message() string {
	if m, ok := messages[k]; ok {
		return m
	}
	return string(k)
}

var (
	// ErrNoSelection means the confirmation cannot open without a selected quote
	ErrNoSelection = quotes.ErrNoSelection
	// ErrStaleQuotes means the quote set belongs to a different intent
	ErrStaleQuotes = quotes.ErrStale

	ErrNotOpen        = errors.New("no confirmation is open")
	ErrAlreadyOpen    = errors.New("a confirmation is already open")
	ErrBusy           = errors.New("a request is already in flight")
	ErrNotAwaiting    = errors.New("confirmation is not awaiting acknowledgments")
	ErrGateClosed     = errors.New("required acknowledgments are missing")
	ErrCancelled      = errors.New("confirmation cancelled")
	ErrNothingToRetry = errors.New("nothing to retry")
	ErrCannotCancel   = errors.New("the signed trade has already been submitted")
)

// FlowError is a failure attributed to a phase of one ticket
type FlowError struct {
	Kind    ErrorKind
	Phase   Phase
	TraceID types.TraceID
	Err     error
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s at %s [%s]: %v", e.Kind, e.Phase, e.TraceID.Short(), e.Err)
	}
	return fmt.Sprintf("%s at %s [%s]", e.Kind, e.Phase, e.TraceID.Short())
}

func (e *FlowError) Unwrap() error { return e.Err }

// KindOf extracts the flow error kind from err
func KindOf(err error) ErrorKind {
	var fErr *FlowError
	if errors.As(err, &fErr) {
		return fErr.Kind
	}
	return ""
}
