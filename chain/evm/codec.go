package evm

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/chain"
	"github.com/xraph/sponsor/identity"
	sptypes "github.com/xraph/sponsor/types"
)

var errNoEvent = errors.New("receipt has no " + eventBillCreated + " event from the payment contract")

// billIDFromLogs returns the bill id carried by the first BillCreated log
// emitted by contract.
func billIDFromLogs(ev abi.Event, contract common.Address, logs []*types.Log) (bill.ChainBillID, error) {
	pos, indexed, err := billIDInput(ev)
	if err != nil {
		return 0, err
	}

	for _, l := range logs {
		if l == nil || l.Address != contract || len(l.Topics) == 0 || l.Topics[0] != ev.ID {
			continue
		}

		var raw any
		if indexed {
			if len(l.Topics) <= pos+1 {
				return 0, fmt.Errorf("%s log has %d topics", eventBillCreated, len(l.Topics))
			}
			raw = new(big.Int).SetBytes(l.Topics[pos+1].Bytes())
		} else {
			values, err := ev.Inputs.NonIndexed().Unpack(l.Data)
			if err != nil {
				return 0, fmt.Errorf("decode %s data: %w", eventBillCreated, err)
			}
			if pos >= len(values) {
				return 0, fmt.Errorf("%s data has %d values", eventBillCreated, len(values))
			}
			raw = values[pos]
		}
		return chainBillID(raw)
	}
	return 0, errNoEvent
}

// billIDInput locates the event input carrying the bill id: the one named
// billId, else the first uint256. pos counts among inputs of the same
// indexed-ness.
func billIDInput(ev abi.Event) (pos int, indexed bool, err error) {
	match := -1
	for i, in := range ev.Inputs {
		if strings.EqualFold(in.Name, "billId") || strings.EqualFold(in.Name, "id") {
			match = i
			break
		}
		if match < 0 && in.Type.T == abi.UintTy && in.Type.Size == 256 {
			match = i
		}
	}
	if match < 0 {
		return 0, false, fmt.Errorf("%s event has no bill id input", eventBillCreated)
	}

	target := ev.Inputs[match]
	for _, in := range ev.Inputs[:match] {
		if in.Indexed == target.Indexed {
			pos++
		}
	}
	return pos, target.Indexed, nil
}

func chainBillID(v any) (bill.ChainBillID, error) {
	n, err := toBig(v)
	if err != nil {
		return 0, err
	}
	if n.Sign() < 0 || !n.IsUint64() {
		return 0, fmt.Errorf("bill id %s overflows uint64", n)
	}
	return bill.ChainBillID(n.Uint64()), nil
}

func chainBillIDs(out []any) ([]bill.ChainBillID, error) {
	if len(out) != 1 {
		return nil, fmt.Errorf("expected one output, got %d", len(out))
	}
	list, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("expected uint256[], got %T", out[0])
	}
	ids := make([]bill.ChainBillID, 0, len(list))
	for _, n := range list {
		cid, err := chainBillID(n)
		if err != nil {
			return nil, err
		}
		ids = append(ids, cid)
	}
	return ids, nil
}

func amountOutput(out []any) (sptypes.Amount, error) {
	if len(out) != 1 {
		return sptypes.Amount{}, fmt.Errorf("expected one output, got %d", len(out))
	}
	n, err := toBig(out[0])
	if err != nil {
		return sptypes.Amount{}, err
	}
	return sptypes.AmountFromMinor(n), nil
}

// ──────────────────────────────────────────────────
// getBill decoding
// ──────────────────────────────────────────────────

// billFields maps getBill outputs by ABI name. Both a single tuple output
// and a flat output list are accepted.
func billFields(m abi.Method, out []any) (map[string]any, error) {
	fields := make(map[string]any)

	if len(out) == 1 {
		v := reflect.ValueOf(out[0])
		if v.Kind() == reflect.Ptr {
			v = v.Elem()
		}
		if v.Kind() == reflect.Struct {
			t := v.Type()
			for i := range t.NumField() {
				name := t.Field(i).Tag.Get("json")
				if name == "" {
					name = t.Field(i).Name
				}
				fields[strings.ToLower(name)] = v.Field(i).Interface()
			}
			return fields, nil
		}
	}

	if len(out) != len(m.Outputs) {
		return nil, fmt.Errorf("expected %d outputs, got %d", len(m.Outputs), len(out))
	}
	for i, arg := range m.Outputs {
		fields[strings.ToLower(arg.Name)] = out[i]
	}
	return fields, nil
}

// decodeSnapshot converts getBill outputs. A zero id means the contract has
// no such bill.
func decodeSnapshot(m abi.Method, out []any) (*chain.Snapshot, error) {
	f, err := billFields(m, out)
	if err != nil {
		return nil, err
	}

	rawID, err := field(f, "id")
	if err != nil {
		return nil, err
	}
	cid, err := chainBillID(rawID)
	if err != nil {
		return nil, err
	}
	if cid == 0 {
		return nil, chain.ErrBillNotFound
	}

	snap := &chain.Snapshot{ID: cid}
	if snap.Beneficiary, err = addressField(f, "beneficiary"); err != nil {
		return nil, err
	}
	if snap.Sponsor, err = addressField(f, "sponsor"); err != nil {
		return nil, err
	}
	if snap.PaymentDestination, err = addressField(f, "paymentdestination"); err != nil {
		return nil, err
	}
	if snap.Description, err = stringField(f, "description"); err != nil {
		return nil, err
	}

	amount, err := bigField(f, "amount")
	if err != nil {
		return nil, err
	}
	snap.Amount = sptypes.AmountFromMinor(amount)

	status, err := bigField(f, "status")
	if err != nil {
		return nil, err
	}
	if !status.IsUint64() || status.Uint64() > 255 {
		return nil, fmt.Errorf("status %s out of range", status)
	}
	if snap.Status, err = bill.StatusFromLedger(uint8(status.Uint64())); err != nil {
		return nil, err
	}

	created, err := bigField(f, "createdat")
	if err != nil {
		return nil, err
	}
	snap.CreatedAt = unixTime(created)

	paid, err := bigField(f, "paidat")
	if err != nil {
		return nil, err
	}
	if paid.Sign() > 0 {
		t := unixTime(paid)
		snap.PaidAt = &t
	}
	return snap, nil
}

func field(f map[string]any, name string) (any, error) {
	v, ok := f[name]
	if !ok {
		return nil, fmt.Errorf("getBill output lacks %q", name)
	}
	return v, nil
}

func bigField(f map[string]any, name string) (*big.Int, error) {
	v, err := field(f, name)
	if err != nil {
		return nil, err
	}
	n, err := toBig(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

func addressField(f map[string]any, name string) (string, error) {
	v, err := field(f, name)
	if err != nil {
		return "", err
	}
	switch a := v.(type) {
	case common.Address:
		return identity.NormalizeAddress(a.Hex()), nil
	case string:
		return a, nil
	default:
		return "", fmt.Errorf("%s: unexpected type %T", name, v)
	}
}

func stringField(f map[string]any, name string) (string, error) {
	v, err := field(f, name)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: unexpected type %T", name, v)
	}
	return s, nil
}

func toBig(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, errors.New("nil integer")
		}
		return n, nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	default:
		return nil, fmt.Errorf("unexpected integer type %T", v)
	}
}

func unixTime(secs *big.Int) time.Time {
	if !secs.IsInt64() {
		return time.Time{}
	}
	return time.Unix(secs.Int64(), 0).UTC()
}

// ──────────────────────────────────────────────────
// Error classification
// ──────────────────────────────────────────────────

// classify maps a node or binding error onto the chain error kinds.
// Errors that cannot be attributed to the contract are treated as
// unavailability, since the outcome of any submitted write is unknown.
func classify(op, txHash string, err error) error {
	if err == nil {
		return nil
	}

	var ce *chain.Error
	if errors.As(err, &ce) {
		return err
	}
	if reason, ok := revertReason(err); ok {
		return chain.Rejected(op, reason, txHash, err)
	}
	if errors.Is(err, bind.ErrNoCode) || strings.HasPrefix(err.Error(), "abi:") {
		return chain.Mismatch(op, txHash, err)
	}
	return chain.Unavailable(op, txHash, err)
}

// revertReason extracts the revert message from a node error. ok is false
// when err is not a revert.
func revertReason(err error) (reason string, ok bool) {
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, isStr := de.ErrorData().(string); isStr {
			if data, derr := hexutil.Decode(s); derr == nil {
				if msg, uerr := abi.UnpackRevert(data); uerr == nil {
					return msg, true
				}
			}
		}
	}

	msg := err.Error()
	const marker = "execution reverted"
	i := strings.Index(msg, marker)
	if i < 0 {
		return "", false
	}
	reason = strings.TrimSpace(strings.TrimPrefix(msg[i+len(marker):], ":"))
	if reason == "" {
		reason = marker
	}
	return reason, true
}
