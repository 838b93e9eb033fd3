package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/spend-ledger/ledger"
	"github.com/warp/spend-ledger/money"
	"github.com/warp/spend-ledger/store/sqlite"
	"github.com/warp/spend-ledger/store/sqlstore"
)

var (
	gbp = money.MustLookup("GBP")
	eur = money.MustLookup("EUR")
	jpy = money.MustLookup("JPY")

	t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
)

const tripID ledger.TripID = "trip-1"

// Trip members: alice owns, dave organizes, bob and carol are members.
const (
	alice ledger.ParticipantID = "alice"
	bob   ledger.ParticipantID = "bob"
	carol ledger.ParticipantID = "carol"
	dave  ledger.ParticipantID = "dave"

	mallory ledger.ParticipantID = "mallory" // not a member
)

// captureAudit is an AuditSink that keeps every entry.
type captureAudit struct {
	mu      sync.Mutex
	entries []ledger.AuditEntry
}

func (c *captureAudit) Record(_ context.Context, e ledger.AuditEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

func (c *captureAudit) actions() []ledger.AuditAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ledger.AuditAction, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Action
	}
	return out
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *sqlstore.Store
	ledger *ledger.Ledger
	audit  *captureAudit
}

func newFixture(t *testing.T, opts ...ledger.Option) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	trip := &ledger.Trip{ID: tripID, Name: "Lisbon", BaseCurrency: gbp, CreatedAt: t0}
	require.NoError(t, store.CreateTrip(ctx, trip, alice))
	require.NoError(t, store.AddMember(ctx, tripID, bob, ledger.RoleMember))
	require.NoError(t, store.AddMember(ctx, tripID, carol, ledger.RoleMember))
	require.NoError(t, store.AddMember(ctx, tripID, dave, ledger.RoleOrganizer))

	var (
		mu  sync.Mutex
		seq int
		now = t0
	)
	audit := &captureAudit{}
	base := []ledger.Option{
		ledger.WithAuditSink(audit),
		ledger.WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%03d", seq)
		}),
		ledger.WithClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(time.Second)
			return now
		}),
		ledger.WithReadRetry(3, 0),
	}
	return &fixture{
		t:      t,
		ctx:    ctx,
		store:  store,
		ledger: ledger.New(store, store, append(base, opts...)...),
		audit:  audit,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func gbpAmount(s string) money.Money {
	m, err := money.Parse(s, gbp)
	if err != nil {
		panic(err)
	}
	return m
}

// expense creates an OPEN expense paid by payer in the trip base currency.
func (f *fixture) expense(payer ledger.ParticipantID, amount string) *ledger.Expense {
	f.t.Helper()
	exp, err := f.ledger.CreateExpense(f.ctx, ledger.CreateExpenseParams{
		TripID:      tripID,
		Actor:       payer,
		Description: "Dinner",
		Amount:      dec(amount),
		Date:        t0,
	})
	require.NoError(f.t, err)
	return exp
}

func equal(ids ...ledger.ParticipantID) []ledger.AssignmentInput {
	out := make([]ledger.AssignmentInput, len(ids))
	for i, id := range ids {
		out[i] = ledger.AssignmentInput{Participant: id, SplitType: ledger.SplitEqual}
	}
	return out
}

func exact(id ledger.ParticipantID, amount string) ledger.AssignmentInput {
	return ledger.AssignmentInput{Participant: id, SplitType: ledger.SplitExact, SplitValue: decPtr(amount)}
}

// split assigns the expense with the payer as actor.
func (f *fixture) split(exp *ledger.Expense, inputs ...ledger.AssignmentInput) []ledger.Assignment {
	f.t.Helper()
	rows, _, err := f.ledger.SetAssignments(f.ctx, exp.ID, exp.Payer, inputs)
	require.NoError(f.t, err)
	return rows
}

func shares(rows []ledger.Assignment) map[ledger.ParticipantID]string {
	out := make(map[ledger.ParticipantID]string, len(rows))
	for _, a := range rows {
		out[a.Participant] = a.ShareAmount.String()
	}
	return out
}

// snapshot returns the expense and its assignments as stored.
func (f *fixture) snapshot(id ledger.ExpenseID) *ledger.ExpenseView {
	f.t.Helper()
	view, err := f.ledger.GetExpense(f.ctx, id, alice)
	require.NoError(f.t, err)
	return view
}
