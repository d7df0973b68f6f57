package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/sponsor"
	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/id"
	"github.com/xraph/sponsor/identity"
	sponsorstore "github.com/xraph/sponsor/store"
)

// compile-time interface check
var _ sponsorstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("sponsor/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %w", sponsor.ErrMigrationFailed, err)
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
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		return uniqueError(err)
	}
	return nil
}

func (s *Store) GetBill(ctx context.Context, billID id.BillID) (*bill.Bill, error) {
	m := new(billModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", billID.String()).
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
	err = s.pg.NewSelect(m).
		Where("chain_bill_id = $1", *col).
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
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if !opts.UserID.IsNil() {
		uid := opts.UserID.String()
		switch opts.Role {
		case bill.RoleSponsor:
			argIdx++
			q = q.Where(fmt.Sprintf("sponsor_id = $%d", argIdx), uid)
		case bill.RoleBeneficiary:
			argIdx++
			q = q.Where(fmt.Sprintf("beneficiary_id = $%d", argIdx), uid)
		default:
			argIdx += 2
			q = q.Where(fmt.Sprintf("(sponsor_id = $%d OR beneficiary_id = $%d)", argIdx-1, argIdx), uid, uid)
		}
	}
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
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

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i := range ids {
		col, err := toChainColumn(&ids[i])
		if err != nil {
			return nil, err
		}
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = *col
	}

	var models []billModel
	err := s.pg.NewSelect(&models).
		Where("is_pushed_to_blockchain AND chain_bill_id IN ("+strings.Join(placeholders, ", ")+")", args...).
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
	q := s.pg.NewSelect(&models).
		Where("status = $1 AND is_pushed_to_blockchain", string(bill.StatusPending))
	if after != nil {
		q = q.Where("(created_at, id) > ($2, $3)", after.CreatedAt.UTC(), after.ID.String())
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
	res, err := s.pg.NewUpdate((*billModel)(nil)).
		Set("status = $1", string(b.Status)).
		Set("paid_at = $2", b.PaidAt).
		Set("transaction_hash = $3", b.TransactionHash).
		Set("updated_at = $4", updatedAt(b.UpdatedAt)).
		Where("id = $5 AND status = $6", b.ID.String(), string(bill.StatusPending)).
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
	res, err := s.pg.NewUpdate((*billModel)(nil)).
		Set("chain_bill_id = $1", *col).
		Set("is_pushed_to_blockchain = $2", true).
		Set("transaction_hash = $3", b.TransactionHash).
		Set("updated_at = $4", updatedAt(b.UpdatedAt)).
		Where("id = $5 AND NOT is_pushed_to_blockchain", b.ID.String()).
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

// missOrConflict tells an absent row from a compare-and-set miss.
func (s *Store) missOrConflict(ctx context.Context, billID id.BillID, conflict error) error {
	var n int64
	err := s.pg.NewRaw(`SELECT COUNT(*) FROM sponsor_bills WHERE id = $1`, billID.String()).Scan(ctx, &n)
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
	if _, err := s.pg.NewInsert(toUserModel(u)).Exec(ctx); err != nil {
		return uniqueError(err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID id.UserID) (*identity.User, error) {
	m := new(userModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", userID.String()).
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
	err := s.pg.NewSelect(m).
		Where("wallet_address = $1", wallet).
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
	res, err := s.pg.NewUpdate((*userModel)(nil)).
		Set("wallet_address = $1", identity.NormalizeAddress(address)).
		Set("updated_at = $2", now()).
		Where("id = $3", userID.String()).
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

// uniqueError maps a unique violation onto the sentinel for its index.
func uniqueError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolationSQLCode {
		return err
	}
	switch pgErr.ConstraintName {
	case constraintChainBillID:
		return sponsor.ErrDuplicateChainBillID
	case constraintUserWallet:
		return sponsor.ErrDuplicateWallet
	case constraintBillsPK, constraintUsersPK:
		return sponsor.ErrAlreadyExists
	}
	return fmt.Errorf("%w: %s", sponsor.ErrAlreadyExists, pgErr.ConstraintName)
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
