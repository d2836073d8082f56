package status

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound         = errors.New("record: not found")
	ErrAlreadySettled   = errors.New("settlement: event already processed")
	ErrSettlementLocked = errors.New("settlement: event is being processed")
	ErrRefundLocked     = errors.New("refund: ticket refund in progress")
	ErrNotConnected     = errors.New("alerts: user has no live connection")
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrTooManyRequests  = errors.New("too many requests when circuit breaker is half open")
)

// Kind classifies pipeline failures and decides the HTTP status they surface with.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAvailability
	KindFraudBlocked
	KindNotFound
	KindPolicy
	KindAlreadyProcessed
	KindProcessor
	KindSignature
	KindOversold
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindAvailability:
		return "AVAILABILITY_ERROR"
	case KindFraudBlocked:
		return "FRAUD_BLOCKED"
	case KindNotFound:
		return "NOT_FOUND"
	case KindPolicy:
		return "POLICY_ERROR"
	case KindAlreadyProcessed:
		return "ALREADY_PROCESSED"
	case KindProcessor:
		return "PROCESSOR_ERROR"
	case KindSignature:
		return "SIGNATURE_ERROR"
	case KindOversold:
		return "OVERSOLD"
	default:
		return "INTERNAL_ERROR"
	}
}

func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindAvailability, KindPolicy, KindAlreadyProcessed, KindSignature:
		return http.StatusBadRequest
	case KindFraudBlocked:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindProcessor:
		return http.StatusPaymentRequired
	case KindOversold:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: KindPolicy}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// With returns a copy of e carrying an extra detail for the caller.
func (e *Error) With(key string, value any) *Error {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{Kind: e.Kind, Message: e.Message, Details: details, Err: e.Err}
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

func Availability(tier string, available int) *Error {
	return newError(KindAvailability, nil, "Only %d tickets available for tier %s", available, tier).
		With("tier", tier).
		With("available", available)
}

func FraudBlocked() *Error {
	return newError(KindFraudBlocked, nil, "Suspicious activity detected. Transaction blocked. Please contact support.")
}

func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, ErrNotFound, format, args...)
}

func Policy(format string, args ...any) *Error {
	return newError(KindPolicy, nil, format, args...)
}

func AlreadyProcessed(format string, args ...any) *Error {
	return newError(KindAlreadyProcessed, nil, format, args...)
}

func Processor(err error, format string, args ...any) *Error {
	return newError(KindProcessor, err, format, args...)
}

func Signature(err error) *Error {
	return newError(KindSignature, err, "Webhook signature verification failed")
}

func Oversold(tier string, requested int) *Error {
	return newError(KindOversold, nil, "Tier %s cannot cover %d paid tickets", tier, requested).
		With("tier", tier).
		With("requested", requested)
}

func Internal(err error, format string, args ...any) *Error {
	return newError(KindInternal, err, format, args...)
}

// KindOf reports the kind of the first *Error in err's chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
