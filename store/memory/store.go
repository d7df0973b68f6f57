// Package memory implements store.Store in process memory. It is the
// default registry for tests and for running without a database.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/sponsor"
	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/id"
	"github.com/xraph/sponsor/identity"
	"github.com/xraph/sponsor/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	// Bill storage, keyed by local id; byChain is the unique ledger id index.
	bills   map[string]*bill.Bill
	byChain map[bill.ChainBillID]string

	// User storage; byWallet is the unique wallet index.
	users    map[string]*identity.User
	byWallet map[string]string

	closed bool
}

func New() *Store {
	return &Store{
		bills:    make(map[string]*bill.Bill),
		byChain:  make(map[bill.ChainBillID]string),
		users:    make(map[string]*identity.User),
		byWallet: make(map[string]string),
	}
}

// Bill Store implementation
func (s *Store) CreateBill(_ context.Context, b *bill.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return sponsor.ErrStoreClosed
	}
	if _, exists := s.bills[b.ID.String()]; exists {
		return sponsor.ErrAlreadyExists
	}
	if b.ChainBillID != nil {
		if _, exists := s.byChain[*b.ChainBillID]; exists {
			return sponsor.ErrDuplicateChainBillID
		}
		s.byChain[*b.ChainBillID] = b.ID.String()
	}
	s.bills[b.ID.String()] = cloneBill(b)
	return nil
}

func (s *Store) GetBill(_ context.Context, billID id.BillID) (*bill.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := s.bills[billID.String()]; ok {
		return cloneBill(b), nil
	}
	return nil, sponsor.ErrBillNotFound
}

func (s *Store) GetBillByChainID(_ context.Context, chainID bill.ChainBillID) (*bill.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if key, ok := s.byChain[chainID]; ok {
		return cloneBill(s.bills[key]), nil
	}
	return nil, sponsor.ErrBillNotFound
}

func (s *Store) ListBills(_ context.Context, opts bill.ListOpts) ([]*bill.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*bill.Bill, 0)
	for _, b := range s.bills {
		if !matchesRole(b, opts) {
			continue
		}
		if opts.Status != "" && b.Status != opts.Status {
			continue
		}
		result = append(result, cloneBill(b))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() > result[j].ID.String()
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListMirroredChainIDs(_ context.Context, ids []bill.ChainBillID) ([]bill.ChainBillID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]bill.ChainBillID, 0, len(ids))
	for _, cid := range ids {
		key, ok := s.byChain[cid]
		if ok && s.bills[key].IsPushedToBlockchain && !slices.Contains(result, cid) {
			result = append(result, cid)
		}
	}
	return result, nil
}

func (s *Store) ListPendingMirrored(_ context.Context, after *bill.PendingCursor, limit int) ([]*bill.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*bill.Bill, 0)
	for _, b := range s.bills {
		if b.IsPushedToBlockchain && b.Status == bill.StatusPending && !after.Covers(b) {
			result = append(result, cloneBill(b))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() < result[j].ID.String()
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return paginate(result, 0, limit), nil
}

func (s *Store) UpdateBillStatus(_ context.Context, b *bill.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.bills[b.ID.String()]
	if !ok {
		return sponsor.ErrBillNotFound
	}
	if cur.Status != bill.StatusPending {
		return sponsor.ErrBillNotPending
	}

	next := cloneBill(cur)
	next.Status = b.Status
	next.PaidAt = clonePaidAt(b)
	next.TransactionHash = b.TransactionHash
	next.UpdatedAt = b.UpdatedAt
	s.bills[b.ID.String()] = next
	return nil
}

func (s *Store) MarkBillPushed(_ context.Context, b *bill.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.bills[b.ID.String()]
	if !ok {
		return sponsor.ErrBillNotFound
	}
	if cur.IsPushedToBlockchain {
		return sponsor.ErrBillAlreadyPushed
	}
	if b.ChainBillID == nil {
		return sponsor.ValidationError{Field: "chain_bill_id", Message: "required to mark a bill pushed"}
	}
	if _, exists := s.byChain[*b.ChainBillID]; exists {
		return sponsor.ErrDuplicateChainBillID
	}

	next := cloneBill(cur)
	next.ChainBillID = b.ChainBillID.Ptr()
	next.IsPushedToBlockchain = true
	next.TransactionHash = b.TransactionHash
	next.UpdatedAt = b.UpdatedAt
	s.bills[b.ID.String()] = next
	s.byChain[*b.ChainBillID] = b.ID.String()
	return nil
}

// User Store implementation
func (s *Store) CreateUser(_ context.Context, u *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.ID.String()]; exists {
		return sponsor.ErrAlreadyExists
	}
	wallet := identity.NormalizeAddress(u.WalletAddress)
	if wallet != "" {
		if _, taken := s.byWallet[wallet]; taken {
			return sponsor.ErrDuplicateWallet
		}
		s.byWallet[wallet] = u.ID.String()
	}

	cp := *u
	cp.WalletAddress = wallet
	s.users[u.ID.String()] = &cp
	return nil
}

func (s *Store) GetUser(_ context.Context, userID id.UserID) (*identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, ok := s.users[userID.String()]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, sponsor.ErrUserNotFound
}

func (s *Store) GetUserByWallet(_ context.Context, address string) (*identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if key, ok := s.byWallet[identity.NormalizeAddress(address)]; ok {
		cp := *s.users[key]
		return &cp, nil
	}
	return nil, sponsor.ErrUserNotFound
}

func (s *Store) SetUserWallet(_ context.Context, userID id.UserID, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID.String()]
	if !ok {
		return sponsor.ErrUserNotFound
	}
	wallet := identity.NormalizeAddress(address)
	if owner, taken := s.byWallet[wallet]; taken && owner != userID.String() {
		return sponsor.ErrDuplicateWallet
	}

	delete(s.byWallet, u.WalletAddress)
	if wallet != "" {
		s.byWallet[wallet] = userID.String()
	}
	cp := *u
	cp.WalletAddress = wallet
	cp.Touch()
	s.users[userID.String()] = &cp
	return nil
}

// Core methods
func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sponsor.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func matchesRole(b *bill.Bill, opts bill.ListOpts) bool {
	if opts.UserID.IsNil() {
		return true
	}
	uid := opts.UserID.String()
	switch opts.Role {
	case bill.RoleSponsor:
		return b.SponsorID.String() == uid
	case bill.RoleBeneficiary:
		return b.BeneficiaryID.String() == uid
	default:
		return b.SponsorID.String() == uid || b.BeneficiaryID.String() == uid
	}
}

func paginate(bills []*bill.Bill, offset, limit int) []*bill.Bill {
	if offset > 0 {
		if offset >= len(bills) {
			return []*bill.Bill{}
		}
		bills = bills[offset:]
	}
	if limit > 0 && len(bills) > limit {
		bills = bills[:limit]
	}
	return bills
}

func cloneBill(b *bill.Bill) *bill.Bill {
	cp := *b
	if b.ChainBillID != nil {
		cp.ChainBillID = b.ChainBillID.Ptr()
	}
	cp.PaidAt = clonePaidAt(b)
	return &cp
}

func clonePaidAt(b *bill.Bill) *time.Time {
	if b.PaidAt == nil {
		return nil
	}
	t := *b.PaidAt
	return &t
}
