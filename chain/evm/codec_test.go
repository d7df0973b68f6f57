package evm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/chain"
	sptypes "github.com/xraph/sponsor/types"
)

var (
	paymentAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	aliceAddr   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bobAddr     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	shopAddr    = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func defaultPaymentABI(t *testing.T) abi.ABI {
	t.Helper()
	a, err := LoadABI([]byte(DefaultPaymentABI))
	require.NoError(t, err)
	return a
}

func TestLoadABI(t *testing.T) {
	raw := []byte(DefaultTokenABI)

	fromArray, err := LoadABI(raw)
	require.NoError(t, err)
	require.Contains(t, fromArray.Methods, methodBalanceOf)

	artifact := []byte(`{"contractName":"U2KToken","abi":` + DefaultTokenABI + `,"bytecode":"0x"}`)
	fromArtifact, err := LoadABI(artifact)
	require.NoError(t, err)
	require.Contains(t, fromArtifact.Methods, methodBalanceOf)

	for _, bad := range []string{"", "   ", `{"bytecode":"0x"}`, `{"abi":{}}`, `[{"type":"function","name":1}]`, `not json`} {
		_, err := LoadABI([]byte(bad))
		require.Error(t, err, "input %q", bad)
	}
}

func TestCheckPaymentABI(t *testing.T) {
	require.NoError(t, checkPaymentABI(defaultPaymentABI(t)))

	tokenOnly, err := LoadABI([]byte(DefaultTokenABI))
	require.NoError(t, err)
	err = checkPaymentABI(tokenOnly)
	require.Error(t, err)
	require.Contains(t, err.Error(), methodCreateBill)
	require.Contains(t, err.Error(), eventBillCreated)
}

func TestBillIDFromIndexedLog(t *testing.T) {
	a := defaultPaymentABI(t)
	ev := a.Events[eventBillCreated]

	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(5))
	require.NoError(t, err)

	logs := []*types.Log{
		{Address: shopAddr, Topics: []common.Hash{ev.ID, common.BigToHash(big.NewInt(99))}},
		{Address: paymentAddr, Topics: []common.Hash{a.Events["BillPaid"].ID, common.BigToHash(big.NewInt(98))}},
		{
			Address: paymentAddr,
			Topics: []common.Hash{
				ev.ID,
				common.BigToHash(big.NewInt(42)),
				common.BytesToHash(aliceAddr.Bytes()),
				common.BytesToHash(bobAddr.Bytes()),
			},
			Data: data,
		},
	}

	id, err := billIDFromLogs(ev, paymentAddr, logs)
	require.NoError(t, err)
	require.Equal(t, bill.ChainBillID(42), id)

	_, err = billIDFromLogs(ev, paymentAddr, logs[:2])
	require.ErrorIs(t, err, errNoEvent)
}

func TestBillIDFromDataLog(t *testing.T) {
	a, err := LoadABI([]byte(`[{"type":"event","name":"BillCreated","anonymous":false,"inputs":[
		{"name":"beneficiary","type":"address","indexed":true},
		{"name":"billId","type":"uint256","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}]}]`))
	require.NoError(t, err)
	ev := a.Events[eventBillCreated]

	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(7), big.NewInt(1000))
	require.NoError(t, err)

	id, err := billIDFromLogs(ev, paymentAddr, []*types.Log{{
		Address: paymentAddr,
		Topics:  []common.Hash{ev.ID, common.BytesToHash(aliceAddr.Bytes())},
		Data:    data,
	}})
	require.NoError(t, err)
	require.Equal(t, bill.ChainBillID(7), id)
}

func TestBillIDOverflow(t *testing.T) {
	a := defaultPaymentABI(t)
	ev := a.Events[eventBillCreated]
	huge := new(big.Int).Lsh(big.NewInt(1), 70)

	_, err := billIDFromLogs(ev, paymentAddr, []*types.Log{{
		Address: paymentAddr,
		Topics:  []common.Hash{ev.ID, common.BigToHash(huge), {}, {}},
	}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "overflows")
}

type billTuple struct {
	Id                 *big.Int //nolint:revive // matches the ABI field name
	Beneficiary        common.Address
	PaymentDestination common.Address
	Sponsor            common.Address
	Amount             *big.Int
	Description        string
	Status             uint8
	CreatedAt          *big.Int
	PaidAt             *big.Int
}

func packBill(t *testing.T, m abi.Method, b billTuple) []any {
	t.Helper()
	data, err := m.Outputs.Pack(b)
	require.NoError(t, err)
	out, err := m.Outputs.Unpack(data)
	require.NoError(t, err)
	return out
}

func TestDecodeSnapshot(t *testing.T) {
	m := defaultPaymentABI(t).Methods[methodGetBill]
	created := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	paid := created.Add(time.Hour)

	out := packBill(t, m, billTuple{
		Id:                 big.NewInt(3),
		Beneficiary:        aliceAddr,
		PaymentDestination: shopAddr,
		Sponsor:            bobAddr,
		Amount:             sptypes.MustParseAmount("12.5").Minor(),
		Description:        "rent",
		Status:             1,
		CreatedAt:          big.NewInt(created.Unix()),
		PaidAt:             big.NewInt(paid.Unix()),
	})

	snap, err := decodeSnapshot(m, out)
	require.NoError(t, err)
	require.Equal(t, bill.ChainBillID(3), snap.ID)
	require.Equal(t, strings.ToLower(aliceAddr.Hex()), snap.Beneficiary)
	require.Equal(t, strings.ToLower(bobAddr.Hex()), snap.Sponsor)
	require.Equal(t, strings.ToLower(shopAddr.Hex()), snap.PaymentDestination)
	require.Equal(t, "12.5", snap.Amount.String())
	require.Equal(t, "rent", snap.Description)
	require.Equal(t, bill.StatusPaid, snap.Status)
	require.True(t, created.Equal(snap.CreatedAt))
	require.NotNil(t, snap.PaidAt)
	require.True(t, paid.Equal(*snap.PaidAt))
}

func TestDecodeSnapshotUnknownBill(t *testing.T) {
	m := defaultPaymentABI(t).Methods[methodGetBill]
	out := packBill(t, m, billTuple{
		Id: new(big.Int), Amount: new(big.Int), CreatedAt: new(big.Int), PaidAt: new(big.Int),
	})

	_, err := decodeSnapshot(m, out)
	require.ErrorIs(t, err, chain.ErrBillNotFound)
}

func TestDecodeSnapshotBadStatus(t *testing.T) {
	m := defaultPaymentABI(t).Methods[methodGetBill]
	out := packBill(t, m, billTuple{
		Id: big.NewInt(1), Amount: big.NewInt(1), Status: 7, CreatedAt: big.NewInt(1), PaidAt: new(big.Int),
	})

	_, err := decodeSnapshot(m, out)
	require.Error(t, err)
}

func TestChainBillIDs(t *testing.T) {
	ids, err := chainBillIDs([]any{[]*big.Int{big.NewInt(1), big.NewInt(4)}})
	require.NoError(t, err)
	require.Equal(t, []bill.ChainBillID{1, 4}, ids)

	_, err = chainBillIDs([]any{"nope"})
	require.Error(t, err)
	_, err = chainBillIDs(nil)
	require.Error(t, err)
}

type dataError struct {
	msg  string
	data any
}

func (e dataError) Error() string  { return e.msg }
func (e dataError) ErrorData() any { return e.data }

func revertData(t *testing.T, reason string) string {
	t.Helper()
	strType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: strType}}.Pack(reason)
	require.NoError(t, err)
	selector := []byte{0x08, 0xc3, 0x79, 0xa0}
	return hexutil.Encode(append(selector, packed...))
}

func TestClassify(t *testing.T) {
	t.Run("revert data", func(t *testing.T) {
		err := classify("Reject", "0xabc", dataError{msg: "execution reverted", data: revertData(t, "Bill is not pending")})
		var ce *chain.Error
		require.ErrorAs(t, err, &ce)
		require.ErrorIs(t, err, chain.ErrRejected)
		require.Equal(t, "Bill is not pending", ce.Reason)
		require.Equal(t, "0xabc", ce.TxHash)
	})

	t.Run("revert message", func(t *testing.T) {
		err := classify("PayWithNative", "", errors.New("execution reverted: Incorrect payment amount"))
		var ce *chain.Error
		require.ErrorAs(t, err, &ce)
		require.Equal(t, "Incorrect payment amount", ce.Reason)
	})

	t.Run("bare revert", func(t *testing.T) {
		err := classify("Reject", "", errors.New("execution reverted"))
		require.ErrorIs(t, err, chain.ErrRejected)
	})

	t.Run("no code", func(t *testing.T) {
		require.ErrorIs(t, classify("GetBill", "", bind.ErrNoCode), chain.ErrProtocolMismatch)
	})

	t.Run("abi decode", func(t *testing.T) {
		require.ErrorIs(t, classify("GetBill", "", errors.New("abi: cannot marshal in to go type")), chain.ErrProtocolMismatch)
	})

	t.Run("deadline", func(t *testing.T) {
		err := classify("CreateBill", "0x1", context.DeadlineExceeded)
		require.ErrorIs(t, err, chain.ErrUnavailable)
		require.Equal(t, "0x1", chain.SubmittedTx(err))
	})

	t.Run("already classified", func(t *testing.T) {
		in := chain.NotFound("GetBill", nil)
		require.Same(t, in, classify("GetBill", "", in))
	})

	require.NoError(t, classify("x", "", nil))
}

func TestCreateArgs(t *testing.T) {
	req := chain.CreateRequest{
		Beneficiary: aliceAddr.Hex(),
		Sponsor:     bobAddr.Hex(),
		Destination: shopAddr.Hex(),
		Amount:      sptypes.MustParseAmount("2"),
		Description: "phone",
	}
	g := &Gateway{
		paymentABI: defaultPaymentABI(t),
		from:       aliceAddr,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	args, err := g.createArgs(req)
	require.NoError(t, err)
	require.Len(t, args, 5)
	require.Equal(t, aliceAddr, args[0])
	require.Equal(t, shopAddr, args[2])
	require.Equal(t, 0, sptypes.MustParseAmount("2").Minor().Cmp(args[3].(*big.Int)))

	legacy, err := LoadABI([]byte(`[{"type":"function","name":"createBill","stateMutability":"nonpayable",
		"inputs":[{"name":"sponsor","type":"address"},{"name":"paymentDestination","type":"string"},
		{"name":"amount","type":"uint256"},{"name":"description","type":"string"}],"outputs":[]}]`))
	require.NoError(t, err)
	g.paymentABI = legacy

	args, err = g.createArgs(req)
	require.NoError(t, err)
	require.Len(t, args, 4)
	require.Equal(t, bobAddr, args[0])
	require.Equal(t, shopAddr.Hex(), args[1])

	req.Sponsor = "bob"
	_, err = g.createArgs(req)
	require.ErrorIs(t, err, chain.ErrRejected)
}

func TestConfig(t *testing.T) {
	cfg := Config{
		RPCURL:          "http://127.0.0.1:8545",
		PrivateKey:      "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
		PaymentContract: paymentAddr.Hex(),
		TokenContract:   shopAddr.Hex(),
	}
	require.NoError(t, cfg.Validate())

	filled := cfg.withDefaults()
	require.Equal(t, uint64(1), filled.Confirmations)
	require.Equal(t, 2*time.Minute, filled.ConfirmTimeout)
	require.Equal(t, time.Second, filled.PollInterval)

	cfg.TokenContract = "token"
	cfg.RPCURL = ""
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "rpc_url")
	require.Contains(t, err.Error(), "token_contract")
}
