package chain

import (
	"errors"
	"fmt"
)

// Failure kinds. Every error a Gateway returns matches exactly one of them
// through errors.Is.
var (
	// ErrUnavailable means the ledger could not be reached or did not confirm
	// in time. A submitted transaction may or may not have landed.
	ErrUnavailable = errors.New("chain: ledger unavailable")
	// ErrRejected means the ledger executed and reverted the transaction.
	ErrRejected = errors.New("chain: transaction rejected")
	// ErrProtocolMismatch means the ledger answered with something the
	// gateway cannot interpret. Not retryable.
	ErrProtocolMismatch = errors.New("chain: protocol mismatch")
	// ErrBillNotFound means the ledger has no bill with the requested id.
	ErrBillNotFound = errors.New("chain: bill not found")
)

// Error is a classified ledger failure.
type Error struct {
	Op   string
	Kind error
	// Reason is the decoded revert reason for ErrRejected.
	Reason string
	// TxHash is set when a transaction had been submitted before the failure.
	TxHash string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.TxHash != "" {
		msg += " (tx " + e.TxHash + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Unavailable classifies err as a connectivity or confirmation failure.
func Unavailable(op, txHash string, err error) *Error {
	return &Error{Op: op, Kind: ErrUnavailable, TxHash: txHash, Err: err}
}

// Rejected classifies a reverted transaction.
func Rejected(op, reason, txHash string, err error) *Error {
	return &Error{Op: op, Kind: ErrRejected, Reason: reason, TxHash: txHash, Err: err}
}

// Mismatch classifies a malformed or unexpected ledger response.
func Mismatch(op, txHash string, err error) *Error {
	return &Error{Op: op, Kind: ErrProtocolMismatch, TxHash: txHash, Err: err}
}

// NotFound reports a read of an unknown bill.
func NotFound(op string, err error) *Error {
	return &Error{Op: op, Kind: ErrBillNotFound, Err: err}
}

// SubmittedTx returns the hash of a transaction that was sent before err
// occurred, if any.
func SubmittedTx(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.TxHash
	}
	return ""
}
