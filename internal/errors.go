package internal

import (
	"errors"
	"fmt"
)

// Failure kinds. A *TransferError always unwraps to exactly one of these.
var (
	ErrValidation          = errors.New("validation error")
	ErrSubmission          = errors.New("submission error")
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	ErrReverted            = errors.New("transaction reverted")
	ErrMalformedReceipt    = errors.New("malformed receipt")
	ErrAttestationTimeout  = errors.New("attestation timeout")
	ErrAttestationRejected = errors.New("attestation rejected")
	ErrRedemption          = errors.New("redemption error")
	ErrCancelled           = errors.New("transfer cancelled")
	ErrNotResumable        = errors.New("transfer not resumable")
)

// Collaborator signals. These never escape the orchestrator as a failure kind.
var (
	// ErrReceiptPending is returned by SourceLedger.Receipt until the transaction is final.
	ErrReceiptPending = errors.New("receipt pending")
	// ErrAttestationNotReady is returned by AttestationService while guardians have not signed.
	ErrAttestationNotReady = errors.New("attestation not yet available")
	// ErrAlreadyRedeemed is returned by DestinationLedger.Redeem when the replay guard
	// reports the attestation as consumed.
	ErrAlreadyRedeemed = errors.New("attestation already redeemed")
)

var kindNames = map[error]string{
	ErrValidation:          "ValidationError",
	ErrSubmission:          "SubmissionError",
	ErrConfirmationTimeout: "TimeoutError",
	ErrReverted:            "RevertedError",
	ErrMalformedReceipt:    "MalformedReceiptError",
	ErrAttestationTimeout:  "AttestationTimeoutError",
	ErrAttestationRejected: "AttestationRejectedError",
	ErrRedemption:          "RedemptionError",
	ErrCancelled:           "CancelledError",
	ErrNotResumable:        "NotResumableError",
}

// KindName returns the operator-facing name of a failure kind.
func KindName(kind error) string {
	if name, ok := kindNames[kind]; ok {
		return name
	}
	return "UnknownError"
}

// KindFromName is the inverse of KindName. Unknown names return nil.
func KindFromName(name string) error {
	for kind, n := range kindNames {
		if n == name {
			return kind
		}
	}
	return nil
}

// TransferError is the failure of one pipeline. Snapshot is the Failed state
// to resume from.
type TransferError struct {
	Stage    Stage
	Kind     error
	Err      error
	Snapshot Snapshot
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s at %s: %v", KindName(e.Kind), e.Stage, e.Err)
}

func (e *TransferError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Resumable reports whether Resume can continue from this failure.
func (e *TransferError) Resumable() bool {
	return CheckResumable(e.Snapshot) == nil
}

// kindError tags err with a failure kind unless it already carries one.
type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string   { return e.err.Error() }
func (e *kindError) Unwrap() []error { return []error{e.kind, e.err} }

func withKind(kind, err error) error {
	if err == nil {
		return nil
	}
	if kindOf(err) != nil {
		return err
	}
	return &kindError{kind: kind, err: err}
}

// kindOf returns the failure kind carried by err, or nil.
func kindOf(err error) error {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Kind
	}
	for kind := range kindNames {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// permanentError stops Retry on the first occurrence.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ErrRetryExhausted is wrapped by Retry when MaxAttempts is reached.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// RetryExhaustedError records the attempts made and the last error seen.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() []error {
	return []error{ErrRetryExhausted, e.Last}
}
