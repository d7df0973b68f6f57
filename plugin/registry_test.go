package plugin

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/xraph/sponsor/bill"
)

type recordingPlugin struct {
	name    string
	created atomic.Int32
	paid    atomic.Int32
	orphans atomic.Int32
}

func (p *recordingPlugin) Name() string { return p.name }

func (p *recordingPlugin) OnBillCreated(context.Context, *bill.Bill) error {
	p.created.Add(1)
	return nil
}

func (p *recordingPlugin) OnBillPaid(context.Context, *bill.Bill, string) error {
	p.paid.Add(1)
	return errors.New("ignored")
}

func (p *recordingPlugin) OnOrphanedChainWrite(context.Context, bill.ChainBillID, string, error) error {
	p.orphans.Add(1)
	return nil
}

func TestRegisterAndDispatch(t *testing.T) {
	r := NewRegistry()
	p := &recordingPlugin{name: "rec"}
	if err := r.Register(p); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(&recordingPlugin{name: "rec"}); err == nil {
		t.Error("expected duplicate registration error")
	}

	ctx := context.Background()
	b := &bill.Bill{Status: bill.StatusPending}
	r.EmitBillCreated(ctx, b)
	r.EmitBillPaid(ctx, b, "native")
	r.EmitOrphanedChainWrite(ctx, 4, "0x1", errors.New("insert failed"))
	r.EmitBillRejected(ctx, b)

	if p.created.Load() != 1 || p.paid.Load() != 1 || p.orphans.Load() != 1 {
		t.Errorf("unexpected counts: created=%d paid=%d orphans=%d",
			p.created.Load(), p.paid.Load(), p.orphans.Load())
	}
	if r.Count() != 1 || r.Get("rec") != p || r.Get("missing") != nil {
		t.Error("registry lookup mismatch")
	}
}

func TestEmitRespectsCanceledContext(t *testing.T) {
	r := NewRegistry()
	p := &recordingPlugin{name: "rec"}
	if err := r.Register(p); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.EmitBillCreated(ctx, &bill.Bill{})
}
