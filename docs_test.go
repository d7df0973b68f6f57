package sponsor_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/xraph/sponsor"
	"github.com/xraph/sponsor/chain/simulated"
	"github.com/xraph/sponsor/store/memory"
)

// TestDocumentationExamples verifies that the package documentation examples work.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		// Memory store and simulated ledger for demo; use postgres and evm in production.
		ledger := simulated.New()
		e := sponsor.New(memory.New(), ledger,
			sponsor.WithLogger(slog.Default()),
		)

		ctx := context.Background()
		if err := e.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer e.Stop()

		beneficiary, err := e.RegisterUser(ctx, sponsor.RegisterUserInput{
			Username:      "beneficiary",
			WalletAddress: "0x1111111111111111111111111111111111111111",
		})
		if err != nil {
			t.Fatal(err)
		}
		patron, err := e.RegisterUser(ctx, sponsor.RegisterUserInput{
			Username:      "sponsor",
			WalletAddress: "0x2222222222222222222222222222222222222222",
		})
		if err != nil {
			t.Fatal(err)
		}
		ledger.SetSponsorTokenBalance(patron.WalletAddress, sponsor.MustParseAmount("100"))

		b, err := e.CreateBill(ctx, sponsor.CreateBillInput{
			BeneficiaryID:      beneficiary.ID,
			SponsorID:          patron.ID,
			PaymentDestination: "0x5aeda56215b167893e80b4fe645ba6d5bab767de",
			Amount:             "12.5",
			Description:        "March rent",
		})
		if err != nil {
			t.Fatal(err)
		}

		b, err = e.PayBill(ctx, b.ID, sponsor.PayToken, "")
		if err != nil {
			t.Fatal(err)
		}
		if b.Status != sponsor.StatusPaid {
			t.Fatalf("expected PAID, got %s", b.Status)
		}

		report, err := e.SyncWallet(ctx, patron.ID, patron.WalletAddress)
		res := sponsor.Respond(report, err)
		if !res.Success {
			t.Fatalf("sync failed: %s", res.Message)
		}
	})

	t.Run("AmountExamples", func(t *testing.T) {
		a := sponsor.MustParseAmount("12.5")
		if a.Minor().String() != "12500000000000000000" {
			t.Errorf("unexpected minor units %s", a.Minor())
		}
		if _, err := sponsor.ParseAmount("0.0000000000000000001"); err == nil {
			t.Error("expected more than 18 fractional digits to be rejected")
		}
	})
}
