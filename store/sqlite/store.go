package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/sponsor"
	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/id"
	"github.com/xraph/sponsor/identity"
	sponsorstore "github.com/xraph/sponsor/store"
)

// compile-time interface check
var _ sponsorstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("sponsor/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: sqlite: %w", sponsor.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Bill Store ====================

func (s *Store) CreateBill(ctx context.Context, b *bill.Bill) error {
	m, err := toBillModel(b)
	if err != nil {
		return err
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		return uniqueError(err)
	}
	return nil
}

func (s *Store) GetBill(ctx context.Context, billID id.BillID) (*bill.Bill, error) {
	m := new(billModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", billID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, sponsor.ErrBillNotFound
		}
		return nil, err
	}
	return fromBillModel(m)
}

func (s *Store) GetBillByChainID(ctx context.Context, chainID bill.ChainBillID) (*bill.Bill, error) {
	col, err := toChainColumn(&chainID)
	if err != nil {
		return nil, err
	}
	m := new(billModel)
	err = s.sdb.NewSelect(m).
		Where("chain_bill_id = ?", *col).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, sponsor.ErrBillNotFound
		}
		return nil, err
	}
	return fromBillModel(m)
}

func (s *Store) ListBills(ctx context.Context, opts bill.ListOpts) ([]*bill.Bill, error) {
	var models []billModel
	q := s.sdb.NewSelect(&models)

	if !opts.UserID.IsNil() {
		uid := opts.UserID.String()
		switch opts.Role {
		case bill.RoleSponsor:
			q = q.Where("sponsor_id = ?", uid)
		case bill.RoleBeneficiary:
			q = q.Where("beneficiary_id = ?", uid)
		default:
			q = q.Where("(sponsor_id = ? OR beneficiary_id = ?)", uid, uid)
		}
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromBillModels(models)
}

func (s *Store) ListMirroredChainIDs(ctx context.Context, ids []bill.ChainBillID) ([]bill.ChainBillID, error) {
	if len(ids) == 0 {
		return []bill.ChainBillID{}, nil
	}

	args := make([]any, len(ids))
	for i := range ids {
		col, err := toChainColumn(&ids[i])
		if err != nil {
			return nil, err
		}
		args[i] = *col
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")

	var models []billModel
	err := s.sdb.NewSelect(&models).
		Where("is_pushed_to_blockchain = 1 AND chain_bill_id IN ("+placeholders+")", args...).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]bill.ChainBillID, 0, len(models))
	for i := range models {
		if models[i].ChainBillID != nil {
			result = append(result, bill.ChainBillID(*models[i].ChainBillID))
		}
	}
	return result, nil
}

func (s *Store) ListPendingMirrored(ctx context.Context, after *bill.PendingCursor, limit int) ([]*bill.Bill, error) {
	var models []billModel
	q := s.sdb.NewSelect(&models).
		Where("status = ? AND is_pushed_to_blockchain = 1", string(bill.StatusPending))
	if after != nil {
		t := after.CreatedAt.UTC()
		q = q.Where("(created_at > ? OR (created_at = ? AND id > ?))", t, t, after.ID.String())
	}
	q = q.OrderExpr("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromBillModels(models)
}

func (s *Store) UpdateBillStatus(ctx context.Context, b *bill.Bill) error {
	res, err := s.sdb.NewUpdate((*billModel)(nil)).
		Set("status = ?", string(b.Status)).
		Set("paid_at = ?", b.PaidAt).
		Set("transaction_hash = ?", b.TransactionHash).
		Set("updated_at = ?", updatedAt(b.UpdatedAt)).
		Where("id = ? AND status = ?", b.ID.String(), string(bill.StatusPending)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.missOrConflict(ctx, b.ID, sponsor.ErrBillNotPending)
	}
	return nil
}

func (s *Store) MarkBillPushed(ctx context.Context, b *bill.Bill) error {
	if b.ChainBillID == nil {
		return sponsor.ValidationError{Field: "chain_bill_id", Message: "required to mark a bill pushed"}
	}
	col, err := toChainColumn(b.ChainBillID)
	if err != nil {
		return err
	}
	res, err := s.sdb.NewUpdate((*billModel)(nil)).
		Set("chain_bill_id = ?", *col).
		Set("is_pushed_to_blockchain = ?", true).
		Set("transaction_hash = ?", b.TransactionHash).
		Set("updated_at = ?", updatedAt(b.UpdatedAt)).
		Where("id = ? AND is_pushed_to_blockchain = 0", b.ID.String()).
		Exec(ctx)
	if err != nil {
		return uniqueError(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.missOrConflict(ctx, b.ID, sponsor.ErrBillAlreadyPushed)
	}
	return nil
}

func (s *Store) missOrConflict(ctx context.Context, billID id.BillID, conflict error) error {
	var n int64
	err := s.sdb.NewRaw(`SELECT COUNT(*) FROM sponsor_bills WHERE id = ?`, billID.String()).Scan(ctx, &n)
	if err != nil {
		return err
	}
	if n == 0 {
		return sponsor.ErrBillNotFound
	}
	return conflict
}

// ==================== User Store ====================

func (s *Store) CreateUser(ctx context.Context, u *identity.User) error {
	if _, err := s.sdb.NewInsert(toUserModel(u)).Exec(ctx); err != nil {
		return uniqueError(err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID id.UserID) (*identity.User, error) {
	m := new(userModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", userID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, sponsor.ErrUserNotFound
		}
		return nil, err
	}
	return fromUserModel(m)
}

func (s *Store) GetUserByWallet(ctx context.Context, address string) (*identity.User, error) {
	wallet := identity.NormalizeAddress(address)
	if wallet == "" {
		return nil, sponsor.ErrUserNotFound
	}
	m := new(userModel)
	err := s.sdb.NewSelect(m).
		Where("wallet_address = ?", wallet).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, sponsor.ErrUserNotFound
		}
		return nil, err
	}
	return fromUserModel(m)
}

func (s *Store) SetUserWallet(ctx context.Context, userID id.UserID, address string) error {
	res, err := s.sdb.NewUpdate((*userModel)(nil)).
		Set("wallet_address = ?", identity.NormalizeAddress(address)).
		Set("updated_at = ?", now()).
		Where("id = ?", userID.String()).
		Exec(ctx)
	if err != nil {
		return uniqueError(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sponsor.ErrUserNotFound
	}
	return nil
}

// ==================== Helpers ====================

func fromBillModels(models []billModel) ([]*bill.Bill, error) {
	result := make([]*bill.Bill, len(models))
	for i := range models {
		b, err := fromBillModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = b
	}
	return result, nil
}

// uniqueError maps SQLite's "UNIQUE constraint failed: table.column"
// message onto the sentinel for the violated index.
func uniqueError(err error) error {
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return err
	}
	switch {
	case strings.Contains(msg, "sponsor_bills.chain_bill_id"):
		return sponsor.ErrDuplicateChainBillID
	case strings.Contains(msg, "sponsor_users.wallet_address"):
		return sponsor.ErrDuplicateWallet
	}
	return sponsor.ErrAlreadyExists
}

func updatedAt(t time.Time) time.Time {
	if t.IsZero() {
		return now()
	}
	return t.UTC()
}

func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
