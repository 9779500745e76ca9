package app

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	gateway "github.com/eugener/smaug/internal"
	"github.com/eugener/smaug/internal/events"
	"github.com/eugener/smaug/internal/ledger"
	"github.com/eugener/smaug/internal/storage/sqlite"
)

func newAdminEnv(t *testing.T) (*AdminService, *sqlite.Store, *[]events.Event) {
	t.Helper()
	store, err := sqlite.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	bus := events.NewBus()
	var seen []events.Event
	bus.Subscribe(func(_ context.Context, e events.Event) { seen = append(seen, e) })

	lg := ledger.NewService(store, bus, slog.Default())
	return NewAdminService(store, lg, bus, slog.Default()), store, &seen
}

func TestAdjustAndHistory(t *testing.T) {
	t.Parallel()
	svc, store, seen := newAdminEnv(t)
	ctx := context.Background()

	balance, txn, err := svc.Adjust(ctx, 99, 100001, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if balance != 1000 || txn.Reason != gateway.ReasonAdminTopUp {
		t.Errorf("balance=%d txn=%+v", balance, txn)
	}

	balance, txn, err = svc.Adjust(ctx, 99, 100001, -300)
	if err != nil {
		t.Fatal(err)
	}
	if balance != 700 || txn.Reason != gateway.ReasonAdminDeduct {
		t.Errorf("balance=%d txn=%+v", balance, txn)
	}

	hist, err := svc.History(ctx, 100001, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0].Amount != -300 || hist[1].Amount != 1000 {
		t.Fatalf("history = %+v", hist)
	}

	// both mutations emitted admin_action
	var actions []string
	for _, e := range *seen {
		if e.Type == events.TypeAdminAction {
			actions = append(actions, e.Fields["action"].(string))
		}
	}
	if len(actions) != 2 || actions[0] != ActionTopUp || actions[1] != ActionDeduct {
		t.Errorf("actions = %v", actions)
	}

	// a zero adjustment is rejected and not audited
	if _, _, err := svc.Adjust(ctx, 99, 100001, 0); !errors.Is(err, gateway.ErrValidation) {
		t.Errorf("zero adjust: %v", err)
	}

	b, _ := store.GetBalance(ctx, 100001)
	if b.Balance != 700 {
		t.Errorf("final balance = %d", b.Balance)
	}
}

func TestSetLimitAudited(t *testing.T) {
	t.Parallel()
	svc, store, seen := newAdminEnv(t)
	ctx := context.Background()

	limit := int64(5000)
	if err := svc.SetLimit(ctx, 99, 7, &limit); err != nil {
		t.Fatal(err)
	}
	b, err := store.GetBalance(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if b.Limit == nil || *b.Limit != 5000 {
		t.Errorf("limit = %v", b.Limit)
	}

	if err := svc.SetLimit(ctx, 99, 7, nil); err != nil {
		t.Fatal(err)
	}
	b, _ = store.GetBalance(ctx, 7)
	if b.Limit != nil {
		t.Error("limit not cleared")
	}

	var count int
	for _, e := range *seen {
		if e.Type == events.TypeAdminAction && e.Fields["action"] == ActionSetLimit {
			count++
		}
	}
	if count != 2 {
		t.Errorf("admin_action events = %d", count)
	}
}

func TestUserAggregates(t *testing.T) {
	t.Parallel()
	svc, _, _ := newAdminEnv(t)
	ctx := context.Background()

	if _, _, err := svc.Adjust(ctx, 99, 1, 100); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.Adjust(ctx, 99, 2, 50); err != nil {
		t.Fatal(err)
	}

	users, total, err := svc.ListUsers(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(users) != 2 {
		t.Fatalf("total=%d users=%d", total, len(users))
	}

	u, err := svc.GetUser(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if u.Balance != 100 {
		t.Errorf("user = %+v", u)
	}

	if _, err := svc.GetUser(ctx, 404); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("unknown user: %v", err)
	}
}
