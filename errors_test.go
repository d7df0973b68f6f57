package sponsor

import (
	"errors"
	"fmt"
	"testing"

	"github.com/xraph/sponsor/chain"
	"github.com/xraph/sponsor/id"
)

func TestKindOf(t *testing.T) {
	billID := id.NewBillID()
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"validation", ValidationError{Field: "amount", Message: "must be positive"}, KindValidation},
		{"identity", &IdentityError{Party: "sponsor", UserID: id.NewUserID()}, KindIdentityUnresolved},
		{"identity wrapping not found", &IdentityError{Party: "sponsor", Err: ErrUserNotFound}, KindIdentityUnresolved},
		{"conflict", &ConflictError{BillID: billID, Reason: "settled"}, KindConflict},
		{"not pending", fmt.Errorf("update: %w", ErrBillNotPending), KindConflict},
		{"duplicate wallet", ErrDuplicateWallet, KindConflict},
		{"unavailable", chain.Unavailable("GetBill", "", errors.New("dial tcp")), KindChainUnavailable},
		{"rejected", chain.Rejected("Reject", "Bill is not pending", "0x1", nil), KindChainRejected},
		{"mismatch", chain.Mismatch("CreateBill", "0x1", nil), KindProtocolMismatch},
		{"ledger not found", chain.NotFound("GetBill", nil), KindNotFound},
		{"bill not found", ErrBillNotFound, KindNotFound},
		{"unauthorized", fmt.Errorf("%w: not a party", ErrUnauthorized), KindUnauthorized},
		{"orphan", &OrphanError{ChainBillID: 3, Err: ErrBillAlreadyPushed}, KindStoreFailure},
		{"batch", &BatchError{MultiError: MultiError{Errors: []error{ErrBillNotFound}}, Total: 2}, KindPartialBatchFailure},
		{"untyped", errors.New("connection reset"), KindStoreFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestStoreError(t *testing.T) {
	if storeError("load", nil) != nil {
		t.Error("expected nil for nil error")
	}

	err := storeError("load bill", ErrBillNotFound)
	if !errors.Is(err, ErrBillNotFound) || errors.Is(err, ErrStoreFailure) {
		t.Errorf("classified error should pass through unchanged: %v", err)
	}

	raw := errors.New("too many connections")
	err = storeError("insert", raw)
	if !errors.Is(err, ErrStoreFailure) || !errors.Is(err, raw) {
		t.Errorf("untyped error should be marked as store failure: %v", err)
	}
}

func TestRetryableAndTerminal(t *testing.T) {
	unavailable := chain.Unavailable("PayWithToken", "0xabc", errors.New("timeout"))
	rejected := chain.Rejected("PayWithToken", "Insufficient sponsor token balance", "", nil)

	if !IsRetryable(unavailable) || IsRetryable(rejected) {
		t.Error("only unavailable errors are retryable")
	}
	if !IsTerminal(rejected) || IsTerminal(unavailable) {
		t.Error("rejected errors are terminal, unavailable ones are not")
	}
	if IsRetryable(ValidationError{}) || IsTerminal(ValidationError{}) {
		t.Error("validation errors are neither retryable nor terminal")
	}
}

func TestRespond(t *testing.T) {
	ok := Respond("data", nil)
	if !ok.Success || ok.Data != "data" || ok.ErrorKind != KindNone {
		t.Errorf("unexpected success result: %+v", ok)
	}

	rejected := Respond("data", chain.Rejected("Reject", "Bill is not pending", "0x1", nil))
	if rejected.Success || rejected.Data != "" {
		t.Errorf("failed result must not carry data: %+v", rejected)
	}
	if rejected.Cause != "Bill is not pending" || rejected.ErrorKind != KindChainRejected {
		t.Errorf("unexpected failure result: %+v", rejected)
	}

	unavailable := Respond(0, chain.Unavailable("GetBill", "", errors.New("dial tcp")))
	if !unavailable.Retryable {
		t.Error("unavailable result should be retryable")
	}
}

func TestErrorMessages(t *testing.T) {
	userID := id.NewUserID()
	tests := []struct {
		err  error
		want string
	}{
		{&IdentityError{Party: "sponsor", UserID: userID}, "sponsor: sponsor " + userID.String() + " has no wallet address"},
		{&IdentityError{Party: "beneficiary", Address: "0xabc"}, "sponsor: no local beneficiary for ledger address 0xabc"},
		{&BatchError{MultiError: MultiError{Errors: []error{ErrBillNotFound}}, Total: 4}, "sponsor: 1 of 4 items failed"},
		{MultiError{}, "sponsor: no errors"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
