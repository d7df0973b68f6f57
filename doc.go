// Package sponsor implements sponsor-funded bills backed by an on-chain
// payment contract, with a local registry kept in step with the ledger.
//
// A beneficiary creates a bill naming a sponsor; the sponsor pays it in the
// ledger's native currency or in value tokens, or rejects it. Every write
// goes to the ledger first and is mirrored locally only after it confirms.
// The ledger is authoritative: reconciliation copies ledger state into the
// registry and never the reverse.
//
// # Quick Start
//
// Create an engine with a registry and a ledger gateway:
//
//	import (
//	    "github.com/xraph/sponsor"
//	    "github.com/xraph/sponsor/chain/evm"
//	    "github.com/xraph/sponsor/store/postgres"
//	)
//
//	gw, err := evm.Dial(ctx, evm.Config{
//	    RPCURL:          rpcURL,
//	    ChainID:         31337,
//	    PrivateKey:      key,
//	    PaymentContract: paymentAddr,
//	    TokenContract:   tokenAddr,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	e := sponsor.New(postgres.New(db), gw)
//	if err := e.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Stop()
//
// # Bill Lifecycle
//
// Bills start PENDING and move once to PAID or REJECTED:
//
//	b, err := e.CreateBill(ctx, sponsor.CreateBillInput{
//	    BeneficiaryID:      beneficiaryID,
//	    SponsorID:          sponsorID,
//	    PaymentDestination: "0x5aeda56215b167893e80b4fe645ba6d5bab767de",
//	    Amount:             "12.5",
//	    Description:        "March rent",
//	})
//
//	b, err = e.PayBill(ctx, b.ID, sponsor.PayToken, "")
//
// Pay and reject refuse a bill that is not PENDING without touching the
// ledger. A timed-out write reports ErrChainUnavailable; its outcome is
// unknown and the bill should be refreshed before the call is repeated.
//
// # Reconciliation
//
// Bills that reached the ledger through another client are adopted with
// ImportFromChain or, for every bill naming a wallet, SyncWallet. A
// background sweep re-reads mirrored PENDING bills and applies status
// changes made on the ledger.
//
// # Errors
//
// Every failure maps to one ErrorKind through KindOf. Respond wraps an
// operation's results in the Result envelope used by API layers.
//
// # TypeID
//
// Local entities use TypeID identifiers:
//
//	bill_01h2xcejqtf2nbrexx3vqjhp41  // Bill ID
//	usr_01h455vb4pex5vsknk084sn02q   // User ID
//
// Ledger bill ids are the contract's own counters and are stored alongside.
package sponsor
