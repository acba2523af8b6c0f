package broker

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindUnknown             ErrorKind = "unknown"
	KindBelowMinNotional    ErrorKind = "below_min_notional"
	KindInsufficientBalance ErrorKind = "insufficient_balance"
	KindInvalidQuantity     ErrorKind = "invalid_quantity"
	KindRateLimited         ErrorKind = "rate_limited"
	KindUnknownOrder        ErrorKind = "unknown_order"
	KindAuth                ErrorKind = "auth"
	KindTransport           ErrorKind = "transport"
)

// Error is returned by gateways for every exchange-side failure so callers
// can branch on Kind instead of message text.
type Error struct {
	Kind       ErrorKind
	Code       int
	StatusCode int
	Message    string
	Op         string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (code %d): %s", e.Op, e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func KindOf(err error) ErrorKind {
	var brokerErr *Error
	if errors.As(err, &brokerErr) {
		return brokerErr.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
