package sponsor

import (
	"errors"
	"fmt"

	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/chain"
	"github.com/xraph/sponsor/id"
)

// Sentinel errors, one per error kind. Detail types below match their kind
// through errors.Is.
var (
	ErrValidation          = errors.New("sponsor: validation failed")
	ErrIdentityUnresolved  = errors.New("sponsor: identity unresolved")
	ErrConflict            = errors.New("sponsor: conflict")
	ErrNotFound            = errors.New("sponsor: not found")
	ErrUnauthorized        = errors.New("sponsor: unauthorized")
	ErrPartialBatchFailure = errors.New("sponsor: partial batch failure")
	ErrStoreFailure        = errors.New("sponsor: store failure")

	// Ledger kinds are shared with the chain package so gateway errors
	// match without translation.
	ErrChainUnavailable  = chain.ErrUnavailable
	ErrChainRejected     = chain.ErrRejected
	ErrProtocolMismatch  = chain.ErrProtocolMismatch
	ErrChainBillNotFound = chain.ErrBillNotFound
)

// Registry errors returned by store implementations.
var (
	ErrBillNotFound         = errors.New("sponsor: bill not found")
	ErrUserNotFound         = errors.New("sponsor: user not found")
	ErrAlreadyExists        = errors.New("sponsor: already exists")
	ErrDuplicateChainBillID = errors.New("sponsor: ledger bill id already mirrored")
	ErrDuplicateWallet      = errors.New("sponsor: wallet already linked to another user")
	ErrBillNotPending       = errors.New("sponsor: bill is no longer pending")
	ErrBillAlreadyPushed    = errors.New("sponsor: bill already pushed to ledger")
	ErrStoreClosed          = errors.New("sponsor: store is closed")
	ErrMigrationFailed      = errors.New("sponsor: migration failed")
)

// ChainError is a classified ledger failure.
type ChainError = chain.Error

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("sponsor: validation failed for %s: %s", e.Field, e.Message)
}

func (e ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError reports an operation refused because of the bill's state.
type ConflictError struct {
	BillID id.BillID
	Status bill.Status
	Reason string
	Err    error
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("sponsor: conflict on bill %s", e.BillID)
	if e.Status != "" {
		msg += fmt.Sprintf(" (status %s)", e.Status)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
func (e *ConflictError) Unwrap() error        { return e.Err }

// IdentityError reports a party without a resolvable ledger address, or a
// ledger address without a local user.
type IdentityError struct {
	Party   string
	UserID  id.UserID
	Address string
	Err     error
}

func (e *IdentityError) Error() string {
	switch {
	case e.Address != "":
		return fmt.Sprintf("sponsor: no local %s for ledger address %s", e.Party, e.Address)
	case e.Err != nil:
		return fmt.Sprintf("sponsor: cannot resolve %s %s: %v", e.Party, e.UserID, e.Err)
	default:
		return fmt.Sprintf("sponsor: %s %s has no wallet address", e.Party, e.UserID)
	}
}

func (e *IdentityError) Is(target error) bool { return target == ErrIdentityUnresolved }
func (e *IdentityError) Unwrap() error        { return e.Err }

// OrphanError reports a ledger write that succeeded while the local write
// that should mirror it failed. The ledger bill is repaired by importing
// ChainBillID; the ledger write must not be retried.
//
// BillID names the local row the write was made for, when one already
// existed. After a lost push race that row mirrors another ledger bill, and
// importing ChainBillID adds a second row for the same obligation.
type OrphanError struct {
	BillID      id.BillID
	ChainBillID bill.ChainBillID
	TxHash      string
	Err         error
}

func (e *OrphanError) Error() string {
	if e.BillID.IsNil() {
		return fmt.Sprintf("sponsor: ledger bill %s (tx %s) created but not mirrored: %v", e.ChainBillID, e.TxHash, e.Err)
	}
	return fmt.Sprintf("sponsor: ledger bill %s (tx %s) for local bill %s not mirrored: %v", e.ChainBillID, e.TxHash, e.BillID, e.Err)
}

func (e *OrphanError) Is(target error) bool { return target == ErrStoreFailure }
func (e *OrphanError) Unwrap() error        { return e.Err }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "sponsor: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("sponsor: %d errors occurred", len(e.Errors))
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// BatchError summarizes the failed items of a reconciliation batch.
type BatchError struct {
	MultiError
	Total int
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("sponsor: %d of %d items failed", len(e.Errors), e.Total)
}

func (e *BatchError) Is(target error) bool { return target == ErrPartialBatchFailure }
func (e *BatchError) Unwrap() []error      { return e.Errors }

// storeError marks a registry failure so KindOf reports it as a store failure.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if classified(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreFailure, err)
}

// ──────────────────────────────────────────────────
// Classification
// ──────────────────────────────────────────────────

// ErrorKind is the closed set of failure kinds reported to callers.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindValidation          ErrorKind = "VALIDATION_ERROR"
	KindIdentityUnresolved  ErrorKind = "IDENTITY_UNRESOLVED"
	KindConflict            ErrorKind = "CONFLICT"
	KindChainUnavailable    ErrorKind = "CHAIN_UNAVAILABLE"
	KindChainRejected       ErrorKind = "CHAIN_REJECTED"
	KindProtocolMismatch    ErrorKind = "PROTOCOL_MISMATCH"
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindUnauthorized        ErrorKind = "UNAUTHORIZED"
	KindPartialBatchFailure ErrorKind = "PARTIAL_BATCH_FAILURE"
	KindStoreFailure        ErrorKind = "STORE_FAILURE"
)

// kindOrder is checked top to bottom. Orphans and ledger failures come
// before not-found so a wrapped lookup error cannot mask them.
var kindOrder = []struct {
	kind ErrorKind
	errs []error
}{
	{KindPartialBatchFailure, []error{ErrPartialBatchFailure}},
	{KindStoreFailure, []error{ErrStoreFailure}},
	{KindProtocolMismatch, []error{ErrProtocolMismatch}},
	{KindChainRejected, []error{ErrChainRejected}},
	{KindChainUnavailable, []error{ErrChainUnavailable}},
	{KindValidation, []error{ErrValidation}},
	{KindIdentityUnresolved, []error{ErrIdentityUnresolved}},
	{KindUnauthorized, []error{ErrUnauthorized}},
	{KindConflict, []error{ErrConflict, ErrBillNotPending, ErrBillAlreadyPushed, ErrDuplicateChainBillID, ErrDuplicateWallet, ErrAlreadyExists}},
	{KindNotFound, []error{ErrNotFound, ErrBillNotFound, ErrUserNotFound, ErrChainBillNotFound}},
}

// KindOf classifies err. Errors outside the taxonomy are reported as store
// failures since the only untyped dependency is the registry.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, k := range kindOrder {
		for _, target := range k.errs {
			if errors.Is(err, target) {
				return k.kind
			}
		}
	}
	return KindStoreFailure
}

func classified(err error) bool {
	for _, k := range kindOrder {
		for _, target := range k.errs {
			if errors.Is(err, target) {
				return true
			}
		}
	}
	return false
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrBillNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrChainBillNotFound)
}

// IsRetryable reports whether the same request may succeed if repeated.
// Only ledger unavailability qualifies; a create that timed out must be
// reconciled before it is retried.
func IsRetryable(err error) bool {
	return KindOf(err) == KindChainUnavailable
}

// IsTerminal reports kinds that will not succeed without a change to the
// request or to the deployed contracts.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindChainRejected, KindProtocolMismatch:
		return true
	}
	return false
}
