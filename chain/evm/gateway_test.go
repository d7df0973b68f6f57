package evm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/chain"
	sptypes "github.com/xraph/sponsor/types"
)

var tokenAddr = common.HexToAddress("0x4444444444444444444444444444444444444444")

// scriptedNode is a Backend that answers from scripted receipts, chain
// heads and contract calls.
type scriptedNode struct {
	mu sync.Mutex

	abis []abi.ABI

	// calls answers eth_call by method name.
	calls map[string]func() ([]byte, error)
	// callBlocks records the block argument of every eth_call by method name.
	callBlocks map[string][]*big.Int

	estimateErr error

	// receipt returns the receipt for a sent transaction; nil means not mined.
	receipt func(tx *types.Transaction) *types.Receipt

	// heads are successive BlockNumber answers; the last one repeats.
	heads     []uint64
	headCalls int

	sent []*types.Transaction
}

var _ Backend = (*scriptedNode)(nil)

func newScriptedNode(t *testing.T) *scriptedNode {
	t.Helper()
	token, err := LoadABI([]byte(DefaultTokenABI))
	require.NoError(t, err)
	return &scriptedNode{
		abis:       []abi.ABI{defaultPaymentABI(t), token},
		calls:      make(map[string]func() ([]byte, error)),
		callBlocks: make(map[string][]*big.Int),
	}
}

func (n *scriptedNode) method(data []byte) (string, error) {
	if len(data) < 4 {
		return "", errors.New("short call data")
	}
	for _, a := range n.abis {
		if m, err := a.MethodById(data[:4]); err == nil {
			return m.Name, nil
		}
	}
	return "", errors.New("unknown selector")
}

func (n *scriptedNode) CallContract(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	name, err := n.method(msg.Data)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.callBlocks[name] = append(n.callBlocks[name], block)
	answer, ok := n.calls[name]
	n.mu.Unlock()

	if !ok {
		return nil, errors.New("no scripted answer for " + name)
	}
	return answer()
}

func (n *scriptedNode) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (n *scriptedNode) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (n *scriptedNode) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return uint64(len(n.sent)), nil
}

func (n *scriptedNode) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1)}, nil
}

func (n *scriptedNode) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (n *scriptedNode) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (n *scriptedNode) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if n.estimateErr != nil {
		return 0, n.estimateErr
	}
	return 100_000, nil
}

func (n *scriptedNode) SendTransaction(_ context.Context, tx *types.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, tx)
	return nil
}

func (n *scriptedNode) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, tx := range n.sent {
		if tx.Hash() != hash || n.receipt == nil {
			continue
		}
		if r := n.receipt(tx); r != nil {
			return r, nil
		}
	}
	return nil, ethereum.NotFound
}

func (n *scriptedNode) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, errors.New("not supported")
}

func (n *scriptedNode) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("not supported")
}

func (n *scriptedNode) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(1337), nil
}

func (n *scriptedNode) BlockNumber(context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.headCalls++
	if len(n.heads) == 0 {
		return 0, errors.New("no head")
	}
	i := min(n.headCalls, len(n.heads)) - 1
	return n.heads[i], nil
}

func (n *scriptedNode) lastSent(t *testing.T) *types.Transaction {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent)
	return n.sent[len(n.sent)-1]
}

func newTestGateway(t *testing.T, node *scriptedNode, mutate func(*Config)) *Gateway {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	cfg := Config{
		ChainID:         1337,
		PrivateKey:      hexutil.Encode(crypto.FromECDSA(key)),
		PaymentContract: paymentAddr.Hex(),
		TokenContract:   tokenAddr.Hex(),
		Confirmations:   1,
		ConfirmTimeout:  time.Second,
		PollInterval:    time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	g, err := New(context.Background(), node, cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return g
}

func minedAt(block int64, logs ...*types.Log) func(*types.Transaction) *types.Receipt {
	return func(tx *types.Transaction) *types.Receipt {
		return &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			TxHash:      tx.Hash(),
			BlockNumber: big.NewInt(block),
			Logs:        logs,
		}
	}
}

func billCreatedLog(t *testing.T, id int64) *types.Log {
	t.Helper()
	ev := defaultPaymentABI(t).Events[eventBillCreated]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(5))
	require.NoError(t, err)
	return &types.Log{
		Address: paymentAddr,
		Topics: []common.Hash{
			ev.ID,
			common.BigToHash(big.NewInt(id)),
			common.BytesToHash(aliceAddr.Bytes()),
			common.BytesToHash(bobAddr.Bytes()),
		},
		Data: data,
	}
}

func createRequest() chain.CreateRequest {
	return chain.CreateRequest{
		Beneficiary: aliceAddr.Hex(),
		Sponsor:     bobAddr.Hex(),
		Destination: shopAddr.Hex(),
		Amount:      sptypes.MustParseAmount("12.5"),
		Description: "rent",
	}
}

func TestGatewayCreateBill(t *testing.T) {
	node := newScriptedNode(t)
	node.receipt = minedAt(10, billCreatedLog(t, 7))
	g := newTestGateway(t, node, nil)

	rcpt, err := g.CreateBill(context.Background(), createRequest())
	require.NoError(t, err)
	require.Equal(t, bill.ChainBillID(7), rcpt.ChainBillID)
	require.Equal(t, uint64(10), rcpt.BlockNumber)

	tx := node.lastSent(t)
	require.Equal(t, tx.Hash().Hex(), rcpt.TransactionHash)
	require.Equal(t, paymentAddr, *tx.To())
	require.Equal(t, uint64(0), tx.Nonce())
	require.Equal(t, defaultPaymentABI(t).Methods[methodCreateBill].ID, tx.Data()[:4])
	require.Zero(t, node.headCalls)

	_, err = g.PayWithToken(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, uint64(1), node.lastSent(t).Nonce())
}

func TestGatewayCreateBillWithoutEvent(t *testing.T) {
	node := newScriptedNode(t)
	node.receipt = minedAt(10)
	g := newTestGateway(t, node, nil)

	_, err := g.CreateBill(context.Background(), createRequest())
	require.ErrorIs(t, err, chain.ErrProtocolMismatch)
	require.Equal(t, node.lastSent(t).Hash().Hex(), chain.SubmittedTx(err))
}

func TestGatewayConfirmationTimeout(t *testing.T) {
	node := newScriptedNode(t)
	g := newTestGateway(t, node, func(c *Config) { c.ConfirmTimeout = 50 * time.Millisecond })

	_, err := g.Reject(context.Background(), 3)
	require.ErrorIs(t, err, chain.ErrUnavailable)
	require.Equal(t, node.lastSent(t).Hash().Hex(), chain.SubmittedTx(err))
}

func TestGatewayRevertedReceipt(t *testing.T) {
	node := newScriptedNode(t)
	node.receipt = func(tx *types.Transaction) *types.Receipt {
		return &types.Receipt{Status: types.ReceiptStatusFailed, TxHash: tx.Hash(), BlockNumber: big.NewInt(12)}
	}
	node.calls[methodPayWithToken] = func() ([]byte, error) {
		return nil, dataError{msg: "execution reverted", data: revertData(t, "Insufficient sponsor balance")}
	}
	g := newTestGateway(t, node, nil)

	_, err := g.PayWithToken(context.Background(), 3)
	require.ErrorIs(t, err, chain.ErrRejected)

	var ce *chain.Error
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "Insufficient sponsor balance", ce.Reason)
	require.Equal(t, node.lastSent(t).Hash().Hex(), ce.TxHash)

	blocks := node.callBlocks[methodPayWithToken]
	require.Len(t, blocks, 1)
	require.Equal(t, int64(12), blocks[0].Int64())
}

func TestGatewayRevertedReceiptWithoutReason(t *testing.T) {
	node := newScriptedNode(t)
	node.receipt = func(tx *types.Transaction) *types.Receipt {
		return &types.Receipt{Status: types.ReceiptStatusFailed, TxHash: tx.Hash(), BlockNumber: big.NewInt(12)}
	}
	node.calls[methodReject] = func() ([]byte, error) { return nil, nil }
	g := newTestGateway(t, node, nil)

	_, err := g.Reject(context.Background(), 3)
	var ce *chain.Error
	require.ErrorAs(t, err, &ce)
	require.ErrorIs(t, err, chain.ErrRejected)
	require.Equal(t, "transaction reverted", ce.Reason)
}

func TestGatewayRevertOnEstimate(t *testing.T) {
	node := newScriptedNode(t)
	node.estimateErr = errors.New("execution reverted: Bill is not pending")
	g := newTestGateway(t, node, nil)

	_, err := g.PayWithNative(context.Background(), 3, sptypes.MustParseAmount("1"))
	var ce *chain.Error
	require.ErrorAs(t, err, &ce)
	require.ErrorIs(t, err, chain.ErrRejected)
	require.Equal(t, "Bill is not pending", ce.Reason)
	require.Empty(t, ce.TxHash)
	require.Empty(t, node.sent)
}

func TestGatewayWaitsForConfirmations(t *testing.T) {
	node := newScriptedNode(t)
	node.receipt = minedAt(10)
	node.heads = []uint64{10, 11, 12}
	g := newTestGateway(t, node, func(c *Config) { c.Confirmations = 3 })

	rcpt, err := g.Reject(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, uint64(10), rcpt.BlockNumber)
	require.Equal(t, 3, node.headCalls)
}

func TestGatewayConfirmationsNeverReached(t *testing.T) {
	node := newScriptedNode(t)
	node.receipt = minedAt(10)
	node.heads = []uint64{10}
	g := newTestGateway(t, node, func(c *Config) {
		c.Confirmations = 3
		c.ConfirmTimeout = 50 * time.Millisecond
	})

	_, err := g.Reject(context.Background(), 3)
	require.ErrorIs(t, err, chain.ErrUnavailable)
	require.Equal(t, node.lastSent(t).Hash().Hex(), chain.SubmittedTx(err))
}

func TestGatewayGetBill(t *testing.T) {
	m := defaultPaymentABI(t).Methods[methodGetBill]
	pack := func(b billTuple) func() ([]byte, error) {
		return func() ([]byte, error) { return m.Outputs.Pack(b) }
	}

	t.Run("found", func(t *testing.T) {
		node := newScriptedNode(t)
		node.calls[methodGetBill] = pack(billTuple{
			Id:                 big.NewInt(3),
			Beneficiary:        aliceAddr,
			PaymentDestination: shopAddr,
			Sponsor:            bobAddr,
			Amount:             sptypes.MustParseAmount("4").Minor(),
			Description:        "water",
			Status:             2,
			CreatedAt:          big.NewInt(1_700_000_000),
			PaidAt:             big.NewInt(0),
		})
		g := newTestGateway(t, node, nil)

		snap, err := g.GetBill(context.Background(), 3)
		require.NoError(t, err)
		require.Equal(t, bill.ChainBillID(3), snap.ID)
		require.Equal(t, bill.StatusRejected, snap.Status)
		require.Equal(t, "4", snap.Amount.String())
		require.Nil(t, snap.PaidAt)
	})

	t.Run("zero id", func(t *testing.T) {
		node := newScriptedNode(t)
		node.calls[methodGetBill] = pack(billTuple{
			Id: big.NewInt(0), Amount: big.NewInt(0), CreatedAt: big.NewInt(0), PaidAt: big.NewInt(0),
		})
		g := newTestGateway(t, node, nil)

		_, err := g.GetBill(context.Background(), 9)
		require.ErrorIs(t, err, chain.ErrBillNotFound)
	})

	t.Run("revert", func(t *testing.T) {
		node := newScriptedNode(t)
		node.calls[methodGetBill] = func() ([]byte, error) {
			return nil, errors.New("execution reverted: Bill does not exist")
		}
		g := newTestGateway(t, node, nil)

		_, err := g.GetBill(context.Background(), 9)
		require.ErrorIs(t, err, chain.ErrBillNotFound)
	})

	t.Run("node down", func(t *testing.T) {
		node := newScriptedNode(t)
		node.calls[methodGetBill] = func() ([]byte, error) { return nil, context.DeadlineExceeded }
		g := newTestGateway(t, node, nil)

		_, err := g.GetBill(context.Background(), 9)
		require.ErrorIs(t, err, chain.ErrUnavailable)
	})
}

func TestGatewayBalancesAreSeparate(t *testing.T) {
	node := newScriptedNode(t)
	uintOut := func(v string) func() ([]byte, error) {
		return func() ([]byte, error) {
			return defaultPaymentABI(t).Methods[methodSponsorTokenBalance].Outputs.Pack(sptypes.MustParseAmount(v).Minor())
		}
	}
	node.calls[methodBalanceOf] = uintOut("100")
	node.calls[methodSponsorTokenBalance] = uintOut("7.5")
	g := newTestGateway(t, node, nil)

	held, err := g.TokenBalance(context.Background(), bobAddr.Hex())
	require.NoError(t, err)
	require.Equal(t, "100", held.String())

	deposited, err := g.SponsorTokenBalance(context.Background(), bobAddr.Hex())
	require.NoError(t, err)
	require.Equal(t, "7.5", deposited.String())

	_, err = g.TokenBalance(context.Background(), "not-an-address")
	require.ErrorIs(t, err, chain.ErrRejected)
}

func TestGatewayBillsForRole(t *testing.T) {
	node := newScriptedNode(t)
	node.calls[methodSponsorBills] = func() ([]byte, error) {
		return defaultPaymentABI(t).Methods[methodSponsorBills].Outputs.Pack([]*big.Int{big.NewInt(1), big.NewInt(4)})
	}
	node.calls[methodBeneficiaryBills] = func() ([]byte, error) {
		return defaultPaymentABI(t).Methods[methodBeneficiaryBills].Outputs.Pack([]*big.Int{})
	}
	g := newTestGateway(t, node, nil)

	ids, err := g.BillsForRole(context.Background(), bobAddr.Hex(), chain.RoleSponsor)
	require.NoError(t, err)
	require.Equal(t, []bill.ChainBillID{1, 4}, ids)

	ids, err = g.BillsForRole(context.Background(), aliceAddr.Hex(), chain.RoleBeneficiary)
	require.NoError(t, err)
	require.Empty(t, ids)
}
