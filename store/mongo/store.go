package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/sponsor"
	"github.com/xraph/sponsor/bill"
	"github.com/xraph/sponsor/id"
	"github.com/xraph/sponsor/identity"
	sponsorstore "github.com/xraph/sponsor/store"
)

// Collection name constants.
const (
	colBills = "sponsor_bills"
	colUsers = "sponsor_users"
)

// Index names; duplicate-key errors are mapped back to sentinels by them.
const (
	idxChainBillID = "idx_sponsor_bills_chain_bill_id"
	idxUserWallet  = "idx_sponsor_users_wallet"
)

// compile-time interface check
var _ sponsorstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all sponsor collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("%w: mongo %s indexes: %w", sponsor.ErrMigrationFailed, col, err)
		}
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
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if dup := duplicateError(err); dup != nil {
			return dup
		}
		return fmt.Errorf("sponsor/mongo: create bill: %w", err)
	}
	return nil
}

func (s *Store) GetBill(ctx context.Context, billID id.BillID) (*bill.Bill, error) {
	var m billModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": billID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, sponsor.ErrBillNotFound
		}
		return nil, fmt.Errorf("sponsor/mongo: get bill: %w", err)
	}
	return fromBillModel(&m)
}

func (s *Store) GetBillByChainID(ctx context.Context, chainID bill.ChainBillID) (*bill.Bill, error) {
	col, err := toChainColumn(&chainID)
	if err != nil {
		return nil, err
	}
	var m billModel
	err = s.mdb.NewFind(&m).
		Filter(bson.M{"chain_bill_id": *col}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, sponsor.ErrBillNotFound
		}
		return nil, fmt.Errorf("sponsor/mongo: get bill by ledger id: %w", err)
	}
	return fromBillModel(&m)
}

func (s *Store) ListBills(ctx context.Context, opts bill.ListOpts) ([]*bill.Bill, error) {
	var models []billModel

	filter := bson.M{}
	if !opts.UserID.IsNil() {
		uid := opts.UserID.String()
		switch opts.Role {
		case bill.RoleSponsor:
			filter["sponsor_id"] = uid
		case bill.RoleBeneficiary:
			filter["beneficiary_id"] = uid
		default:
			filter["$or"] = bson.A{
				bson.M{"sponsor_id": uid},
				bson.M{"beneficiary_id": uid},
			}
		}
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("sponsor/mongo: list bills: %w", err)
	}
	return fromBillModels(models)
}

func (s *Store) ListMirroredChainIDs(ctx context.Context, ids []bill.ChainBillID) ([]bill.ChainBillID, error) {
	if len(ids) == 0 {
		return []bill.ChainBillID{}, nil
	}

	in := make(bson.A, len(ids))
	for i := range ids {
		col, err := toChainColumn(&ids[i])
		if err != nil {
			return nil, err
		}
		in[i] = *col
	}

	var models []billModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"chain_bill_id":           bson.M{"$in": in},
			"is_pushed_to_blockchain": true,
		}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("sponsor/mongo: list mirrored ledger ids: %w", err)
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
	filter := bson.M{
		"status":                  string(bill.StatusPending),
		"is_pushed_to_blockchain": true,
	}
	if after != nil {
		t := after.CreatedAt.UTC()
		filter["$or"] = bson.A{
			bson.M{"created_at": bson.M{"$gt": t}},
			bson.M{"created_at": t, "_id": bson.M{"$gt": after.ID.String()}},
		}
	}
	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("sponsor/mongo: list pending mirrored: %w", err)
	}
	return fromBillModels(models)
}

func (s *Store) UpdateBillStatus(ctx context.Context, b *bill.Bill) error {
	res, err := s.mdb.NewUpdate((*billModel)(nil)).
		Filter(bson.M{"_id": b.ID.String(), "status": string(bill.StatusPending)}).
		Set("status", string(b.Status)).
		Set("paid_at", b.PaidAt).
		Set("transaction_hash", b.TransactionHash).
		Set("updated_at", updatedAt(b.UpdatedAt)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sponsor/mongo: update bill status: %w", err)
	}
	if res.MatchedCount() == 0 {
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
	res, err := s.mdb.NewUpdate((*billModel)(nil)).
		Filter(bson.M{"_id": b.ID.String(), "is_pushed_to_blockchain": false}).
		Set("chain_bill_id", *col).
		Set("is_pushed_to_blockchain", true).
		Set("transaction_hash", b.TransactionHash).
		Set("updated_at", updatedAt(b.UpdatedAt)).
		Exec(ctx)
	if err != nil {
		if dup := duplicateError(err); dup != nil {
			return dup
		}
		return fmt.Errorf("sponsor/mongo: mark bill pushed: %w", err)
	}
	if res.MatchedCount() == 0 {
		return s.missOrConflict(ctx, b.ID, sponsor.ErrBillAlreadyPushed)
	}
	return nil
}

func (s *Store) missOrConflict(ctx context.Context, billID id.BillID, conflict error) error {
	if _, err := s.GetBill(ctx, billID); err != nil {
		return err
	}
	return conflict
}

// ==================== User Store ====================

func (s *Store) CreateUser(ctx context.Context, u *identity.User) error {
	if _, err := s.mdb.NewInsert(toUserModel(u)).Exec(ctx); err != nil {
		if dup := duplicateError(err); dup != nil {
			return dup
		}
		return fmt.Errorf("sponsor/mongo: create user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID id.UserID) (*identity.User, error) {
	var m userModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": userID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, sponsor.ErrUserNotFound
		}
		return nil, fmt.Errorf("sponsor/mongo: get user: %w", err)
	}
	return fromUserModel(&m)
}

func (s *Store) GetUserByWallet(ctx context.Context, address string) (*identity.User, error) {
	wallet := identity.NormalizeAddress(address)
	if wallet == "" {
		return nil, sponsor.ErrUserNotFound
	}
	var m userModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"wallet_address": wallet}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, sponsor.ErrUserNotFound
		}
		return nil, fmt.Errorf("sponsor/mongo: get user by wallet: %w", err)
	}
	return fromUserModel(&m)
}

func (s *Store) SetUserWallet(ctx context.Context, userID id.UserID, address string) error {
	res, err := s.mdb.NewUpdate((*userModel)(nil)).
		Filter(bson.M{"_id": userID.String()}).
		Set("wallet_address", identity.NormalizeAddress(address)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		if dup := duplicateError(err); dup != nil {
			return dup
		}
		return fmt.Errorf("sponsor/mongo: set user wallet: %w", err)
	}
	if res.MatchedCount() == 0 {
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

// duplicateError returns the sentinel for a duplicate-key error, or nil
// when err is not one.
func duplicateError(err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, idxChainBillID):
		return sponsor.ErrDuplicateChainBillID
	case strings.Contains(msg, idxUserWallet):
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

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all sponsor collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colBills: {
			{
				Keys: bson.D{{Key: "chain_bill_id", Value: 1}},
				Options: options.Index().
					SetName(idxChainBillID).
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"chain_bill_id": bson.M{"$exists": true}}),
			},
			{Keys: bson.D{{Key: "beneficiary_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "sponsor_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "is_pushed_to_blockchain", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colUsers: {
			{
				Keys: bson.D{{Key: "wallet_address", Value: 1}},
				Options: options.Index().
					SetName(idxUserWallet).
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"wallet_address": bson.M{"$gt": ""}}),
			},
		},
	}
}
