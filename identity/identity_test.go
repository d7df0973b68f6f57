package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/sponsor/id"
)

type fakeLookup struct {
	byID     map[string]*User
	byWallet map[string]*User
}

var errMissing = errors.New("missing")

func (f fakeLookup) GetUser(_ context.Context, userID id.UserID) (*User, error) {
	if u, ok := f.byID[userID.String()]; ok {
		return u, nil
	}
	return nil, errMissing
}

func (f fakeLookup) GetUserByWallet(_ context.Context, address string) (*User, error) {
	if u, ok := f.byWallet[address]; ok {
		return u, nil
	}
	return nil, errMissing
}

func TestFromStoreNormalizesAddress(t *testing.T) {
	u := &User{ID: id.NewUserID(), WalletAddress: "0xabcdef"}
	r := FromStore(fakeLookup{
		byID:     map[string]*User{u.ID.String(): u},
		byWallet: map[string]*User{"0xabcdef": u},
	})

	got, err := r.UserByAddress(context.Background(), " 0xABCDEF ")
	if err != nil {
		t.Fatalf("UserByAddress: %v", err)
	}
	if got != u {
		t.Errorf("got %+v", got)
	}

	if _, err := r.UserByID(context.Background(), id.NewUserID()); !errors.Is(err, errMissing) {
		t.Errorf("expected lookup error, got %v", err)
	}
}

func TestSameAddress(t *testing.T) {
	if !SameAddress("0xAbC", "0xabc") {
		t.Error("case should not matter")
	}
	if SameAddress("", "") {
		t.Error("empty addresses never match")
	}
	if SameAddress("0x1", "0x2") {
		t.Error("different addresses matched")
	}
}
