package sponsor

import (
	"errors"

	"github.com/xraph/sponsor/chain"
)

// Result is the uniform envelope the API layer returns for every operation.
type Result[T any] struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Cause     string    `json:"cause,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`
	Data      T         `json:"data,omitempty"`
}

// Respond wraps an operation's return values in a Result. Partial batch
// failures are reported as successful calls that still carry the kind and
// cause so callers can inspect per-item detail in Data.
func Respond[T any](data T, err error) Result[T] {
	if err == nil {
		return Result[T]{Success: true, Message: "ok", Data: data}
	}

	kind := KindOf(err)
	res := Result[T]{
		Success:   kind == KindPartialBatchFailure,
		Message:   messageFor(kind),
		ErrorKind: kind,
		Cause:     causeOf(err),
		Retryable: IsRetryable(err),
	}
	if res.Success {
		res.Data = data
	}
	return res
}

func messageFor(kind ErrorKind) string {
	switch kind {
	case KindValidation:
		return "the request is invalid"
	case KindIdentityUnresolved:
		return "a party has no linked wallet address"
	case KindConflict:
		return "the bill is not in a state that allows this operation"
	case KindChainUnavailable:
		return "the ledger is unavailable; reconcile before retrying"
	case KindChainRejected:
		return "the ledger rejected the transaction"
	case KindProtocolMismatch:
		return "the ledger returned an unexpected response"
	case KindNotFound:
		return "not found"
	case KindUnauthorized:
		return "not allowed for this user"
	case KindPartialBatchFailure:
		return "completed with failures"
	default:
		return "the bill registry failed"
	}
}

// causeOf prefers the ledger's revert reason over the wrapped message.
func causeOf(err error) string {
	var ce *chain.Error
	if errors.As(err, &ce) && ce.Reason != "" {
		return ce.Reason
	}
	return err.Error()
}
