// Package evm implements chain.Gateway against an EVM node hosting the bill
// payment and value-token contracts.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/chain"
	sptypes "github.com/xraph/sponsor/types"
)

// Backend is the node surface the gateway needs. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

var _ chain.Gateway = (*Gateway)(nil)

// Gateway talks to the payment and token contracts through one signing key.
type Gateway struct {
	cfg     Config
	backend Backend
	closer  func()
	logger  *slog.Logger

	paymentAddr common.Address
	paymentABI  abi.ABI
	payment     *bind.BoundContract
	token       *bind.BoundContract

	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int

	// writeMu orders submissions from the single signer so nonces are
	// assigned in sequence.
	writeMu sync.Mutex
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// Dial connects to cfg.RPCURL and returns a ready gateway.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, chain.Unavailable("Dial", "", err)
	}

	g, err := New(ctx, client, cfg, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	g.closer = client.Close
	return g, nil
}

// New builds a gateway on an existing backend. RPCURL is not used.
func New(ctx context.Context, backend Backend, cfg Config, opts ...Option) (*Gateway, error) {
	cfg = cfg.withDefaults()
	if !common.IsHexAddress(cfg.PaymentContract) || !common.IsHexAddress(cfg.TokenContract) {
		return nil, errors.New("evm: payment_contract and token_contract must be addresses")
	}

	paymentABI, err := loadOrDefault(cfg.PaymentABI, DefaultPaymentABI)
	if err != nil {
		return nil, err
	}
	if err := checkPaymentABI(paymentABI); err != nil {
		return nil, err
	}
	tokenABI, err := loadOrDefault(cfg.TokenABI, DefaultTokenABI)
	if err != nil {
		return nil, err
	}
	if _, ok := tokenABI.Methods[methodBalanceOf]; !ok {
		return nil, fmt.Errorf("evm: token abi lacks %s", methodBalanceOf)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("evm: private key: %w", err)
	}

	g := &Gateway{
		cfg:         cfg,
		backend:     backend,
		logger:      slog.Default(),
		paymentAddr: common.HexToAddress(cfg.PaymentContract),
		paymentABI:  paymentABI,
		key:         key,
		from:        crypto.PubkeyToAddress(key.PublicKey),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.payment = bind.NewBoundContract(g.paymentAddr, paymentABI, backend, backend, backend)
	g.token = bind.NewBoundContract(common.HexToAddress(cfg.TokenContract), tokenABI, backend, backend, backend)

	if cfg.ChainID > 0 {
		g.chainID = big.NewInt(cfg.ChainID)
	} else {
		id, err := backend.ChainID(ctx)
		if err != nil {
			return nil, classify("ChainID", "", err)
		}
		g.chainID = id
	}

	g.logger.Info("evm gateway ready",
		"chain_id", g.chainID,
		"signer", g.from.Hex(),
		"payment_contract", g.paymentAddr.Hex(),
		"confirmations", cfg.Confirmations,
	)
	return g, nil
}

// Signer returns the address every write is sent from.
func (g *Gateway) Signer() string { return g.from.Hex() }

// Close releases the node connection when the gateway dialed it.
func (g *Gateway) Close() {
	if g.closer != nil {
		g.closer()
	}
}

// ──────────────────────────────────────────────────
// Writes
// ──────────────────────────────────────────────────

func (g *Gateway) CreateBill(ctx context.Context, req chain.CreateRequest) (*chain.CreateReceipt, error) {
	const op = "CreateBill"

	args, err := g.createArgs(req)
	if err != nil {
		return nil, err
	}

	rcpt, err := g.transact(ctx, op, nil, methodCreateBill, args...)
	if err != nil {
		return nil, err
	}

	billID, err := billIDFromLogs(g.paymentABI.Events[eventBillCreated], g.paymentAddr, rcpt.Logs)
	if err != nil {
		return nil, chain.Mismatch(op, rcpt.TxHash.Hex(), err)
	}

	return &chain.CreateReceipt{Receipt: receipt(rcpt), ChainBillID: billID}, nil
}

func (g *Gateway) createArgs(req chain.CreateRequest) ([]any, error) {
	for name, addr := range map[string]string{
		"beneficiary": req.Beneficiary,
		"sponsor":     req.Sponsor,
	} {
		if !common.IsHexAddress(addr) {
			return nil, chain.Rejected("CreateBill", name+" is not an address", "", nil)
		}
	}

	inputs := g.paymentABI.Methods[methodCreateBill].Inputs
	dest, err := destinationArg(inputs[len(inputs)-3].Type, req.Destination)
	if err != nil {
		return nil, chain.Rejected("CreateBill", err.Error(), "", nil)
	}
	sponsorAddr := common.HexToAddress(req.Sponsor)
	amount := req.Amount.Minor()

	if len(inputs) == 4 {
		// The contract takes the beneficiary from the sender.
		if common.HexToAddress(req.Beneficiary) != g.from {
			g.logger.Warn("createBill records the signer as beneficiary",
				"requested", req.Beneficiary,
				"signer", g.from.Hex(),
			)
		}
		return []any{sponsorAddr, dest, amount, req.Description}, nil
	}
	return []any{common.HexToAddress(req.Beneficiary), sponsorAddr, dest, amount, req.Description}, nil
}

func destinationArg(t abi.Type, dest string) (any, error) {
	if t.T == abi.StringTy {
		return dest, nil
	}
	if !common.IsHexAddress(dest) {
		return nil, fmt.Errorf("payment destination %q is not an address", dest)
	}
	return common.HexToAddress(dest), nil
}

func (g *Gateway) PayWithNative(ctx context.Context, billID bill.ChainBillID, amount sptypes.Amount) (*chain.Receipt, error) {
	rcpt, err := g.transact(ctx, "PayWithNative", amount.Minor(), methodPayWithNative, billArg(billID))
	if err != nil {
		return nil, err
	}
	r := receipt(rcpt)
	return &r, nil
}

func (g *Gateway) PayWithToken(ctx context.Context, billID bill.ChainBillID) (*chain.Receipt, error) {
	rcpt, err := g.transact(ctx, "PayWithToken", nil, methodPayWithToken, billArg(billID))
	if err != nil {
		return nil, err
	}
	r := receipt(rcpt)
	return &r, nil
}

func (g *Gateway) Reject(ctx context.Context, billID bill.ChainBillID) (*chain.Receipt, error) {
	rcpt, err := g.transact(ctx, "Reject", nil, methodReject, billArg(billID))
	if err != nil {
		return nil, err
	}
	r := receipt(rcpt)
	return &r, nil
}

// transact submits a payment contract call and waits for its confirmation.
func (g *Gateway) transact(ctx context.Context, op string, value *big.Int, method string, args ...any) (*types.Receipt, error) {
	tx, err := g.submit(ctx, value, method, args...)
	if err != nil {
		return nil, classify(op, "", err)
	}
	hash := tx.Hash().Hex()
	g.logger.Debug("transaction submitted", "op", op, "tx", hash, "nonce", tx.Nonce())

	wctx, cancel := context.WithTimeout(ctx, g.cfg.ConfirmTimeout)
	defer cancel()

	rcpt, err := g.waitConfirmed(wctx, tx)
	if err != nil {
		return nil, chain.Unavailable(op, hash, err)
	}
	if rcpt.Status == types.ReceiptStatusFailed {
		return nil, chain.Rejected(op, g.replayRevert(ctx, tx, rcpt.BlockNumber), hash, nil)
	}
	return rcpt, nil
}

func (g *Gateway) submit(ctx context.Context, value *big.Int, method string, args ...any) (*types.Transaction, error) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	opts, err := bind.NewKeyedTransactorWithChainID(g.key, g.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	opts.Value = value
	return g.payment.Transact(opts, method, args...)
}

func (g *Gateway) waitConfirmed(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	rcpt, err := bind.WaitMined(ctx, g.backend, tx)
	if err != nil {
		return nil, err
	}
	if g.cfg.Confirmations <= 1 || rcpt.BlockNumber == nil {
		return rcpt, nil
	}

	target := rcpt.BlockNumber.Uint64() + g.cfg.Confirmations - 1
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()
	for {
		head, err := g.backend.BlockNumber(ctx)
		if err == nil && head >= target {
			return rcpt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// replayRevert re-executes a failed transaction at its block to recover the
// revert reason.
func (g *Gateway) replayRevert(ctx context.Context, tx *types.Transaction, block *big.Int) string {
	msg := ethereum.CallMsg{
		From:  g.from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}
	_, err := g.backend.CallContract(ctx, msg, block)
	if err == nil {
		return "transaction reverted"
	}
	if reason, ok := revertReason(err); ok {
		return reason
	}
	return "transaction reverted"
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

func (g *Gateway) GetBill(ctx context.Context, billID bill.ChainBillID) (*chain.Snapshot, error) {
	const op = "GetBill"

	out, err := g.call(ctx, g.payment, methodGetBill, billArg(billID))
	if err != nil {
		err = classify(op, "", err)
		if errors.Is(err, chain.ErrRejected) {
			// Reads of unknown ids revert on some deployments.
			return nil, chain.NotFound(op, err)
		}
		return nil, err
	}

	snap, err := decodeSnapshot(g.paymentABI.Methods[methodGetBill], out)
	switch {
	case errors.Is(err, chain.ErrBillNotFound):
		return nil, chain.NotFound(op, nil)
	case err != nil:
		return nil, chain.Mismatch(op, "", err)
	}
	return snap, nil
}

func (g *Gateway) BillsForRole(ctx context.Context, address string, role chain.Role) ([]bill.ChainBillID, error) {
	const op = "BillsForRole"
	if !common.IsHexAddress(address) {
		return nil, chain.Rejected(op, "not an address", "", nil)
	}

	method := methodBeneficiaryBills
	if role == chain.RoleSponsor {
		method = methodSponsorBills
	}
	out, err := g.call(ctx, g.payment, method, common.HexToAddress(address))
	if err != nil {
		return nil, classify(op, "", err)
	}
	ids, err := chainBillIDs(out)
	if err != nil {
		return nil, chain.Mismatch(op, "", err)
	}
	return ids, nil
}

func (g *Gateway) TokenBalance(ctx context.Context, address string) (sptypes.Amount, error) {
	return g.balance(ctx, "TokenBalance", g.token, methodBalanceOf, address)
}

func (g *Gateway) SponsorTokenBalance(ctx context.Context, address string) (sptypes.Amount, error) {
	return g.balance(ctx, "SponsorTokenBalance", g.payment, methodSponsorTokenBalance, address)
}

func (g *Gateway) balance(ctx context.Context, op string, c *bind.BoundContract, method, address string) (sptypes.Amount, error) {
	if !common.IsHexAddress(address) {
		return sptypes.Amount{}, chain.Rejected(op, "not an address", "", nil)
	}
	out, err := g.call(ctx, c, method, common.HexToAddress(address))
	if err != nil {
		return sptypes.Amount{}, classify(op, "", err)
	}
	amount, err := amountOutput(out)
	if err != nil {
		return sptypes.Amount{}, chain.Mismatch(op, "", err)
	}
	return amount, nil
}

func (g *Gateway) call(ctx context.Context, c *bind.BoundContract, method string, args ...any) ([]any, error) {
	var out []any
	err := c.Call(&bind.CallOpts{Context: ctx, From: g.from}, &out, method, args...)
	return out, err
}

func billArg(id bill.ChainBillID) *big.Int {
	return new(big.Int).SetUint64(uint64(id))
}

func receipt(r *types.Receipt) chain.Receipt {
	out := chain.Receipt{TransactionHash: r.TxHash.Hex()}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out
}
