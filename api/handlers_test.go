/*
handlers_test.go - HTTP tests for the ledger API

Tests for:
- Authentication (missing, malformed, foreign tokens)
- The trip lifecycle end to end: expense, split, close, settle, pay
- Error kind to status mapping
- Tri-state expense patches
- Audit log and demo scenarios
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/spend-ledger/ledger"
	"github.com/warp/spend-ledger/metrics"
	"github.com/warp/spend-ledger/money"
	"github.com/warp/spend-ledger/store/sqlite"
	"github.com/warp/spend-ledger/store/sqlstore"
)

const testSecret = "test-secret"

// syncAudit persists each entry immediately so tests can read it back.
type syncAudit struct{ store *sqlstore.Store }

func (s syncAudit) Record(ctx context.Context, e ledger.AuditEntry) {
	_ = s.store.SaveAudit(ctx, []ledger.AuditEntry{e})
}

type testServer struct {
	t       *testing.T
	router  http.Handler
	auth    *Authenticator
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	l := ledger.New(store, store,
		ledger.WithLogger(logger),
		ledger.WithAuditSink(syncAudit{store}),
		ledger.WithObserver(m),
	)
	auth := NewAuthenticator(testSecret)
	router := NewRouter(NewHandler(l, store, logger), RouterConfig{
		Auth:        auth,
		Metrics:     m,
		CORSOrigins: []string{"http://localhost:5173"},
	})
	return &testServer{t: t, router: router, auth: auth, metrics: m}
}

// do sends body (marshalled unless already a string) as actor.
// An empty actor sends no Authorization header.
func (s *testServer) do(method, path string, actor ledger.ParticipantID, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if actor != "" {
		token, err := s.auth.Issue(actor, time.Hour)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, rec.Code, rec.Body.String())
}

// seedTrip creates trip-1: alice owner, bob member, carol organizer.
func (s *testServer) seedTrip() {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/trips", "alice", CreateTripRequest{
		ID:           "trip-1",
		Name:         "Lisbon",
		BaseCurrency: "gbp",
		Members: []AddMemberRequest{
			{Participant: "bob", Role: "member"},
			{Participant: "carol", Role: "organizer"},
		},
	})
	requireStatus(s.t, rec, http.StatusCreated)
}

func (s *testServer) createExpense(actor ledger.ParticipantID, amount string) ExpenseDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/trips/trip-1/expenses", actor,
		fmt.Sprintf(`{"description":"Dinner","amount":%q,"date":"2026-03-10"}`, amount))
	requireStatus(s.t, rec, http.StatusCreated)
	return decodeBody[ExpenseDTO](s.t, rec)
}

// =============================================================================
// AUTH
// =============================================================================

func TestPublicEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/healthz", "", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/metrics", "", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Contains(t, rec.Body.String(), "spend_ledger_http_requests_total")
}

func TestRequireAuth(t *testing.T) {
	s := newTestServer(t)

	foreign, err := NewAuthenticator("other-secret").Issue("alice", time.Hour)
	require.NoError(t, err)
	expired, err := s.auth.Issue("alice", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"not bearer", "Basic YWxpY2U6cHc="},
		{"garbage", "Bearer not-a-jwt"},
		{"foreign secret", "Bearer " + foreign},
		{"expired", "Bearer " + expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/trips/trip-1", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuthenticator_RoundTrip(t *testing.T) {
	a := NewAuthenticator(testSecret)
	token, err := a.Issue("dave", time.Minute)
	require.NoError(t, err)

	actor, err := a.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, ledger.ParticipantID("dave"), actor)

	_, err = a.Validate(token + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// =============================================================================
// TRIP LIFECYCLE
// =============================================================================

func TestTripLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.seedTrip()

	// GIVEN: alice paid 90.00, split equally between the three of them
	exp := s.createExpense("alice", "90.00")
	assert.Equal(t, "90.00", exp.Amount)
	assert.Equal(t, "GBP", exp.Currency)
	assert.Equal(t, "2026-03-10", exp.Date)

	rec := s.do(http.MethodPut, "/api/expenses/"+exp.ID+"/assignments", "alice", SetAssignmentsRequest{
		Assignments: []AssignmentRequest{
			{Participant: "alice", SplitType: "EQUAL"},
			{Participant: "bob", SplitType: "EQUAL"},
			{Participant: "carol", SplitType: "EQUAL"},
		},
	})
	requireStatus(t, rec, http.StatusOK)
	set := decodeBody[SetAssignmentsResponse](t, rec)
	assert.Equal(t, "100.00", set.AssignedPercentage)
	require.Len(t, set.Assignments, 3)

	rec = s.do(http.MethodPost, "/api/expenses/"+exp.ID+"/close", "alice", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, "CLOSED", decodeBody[ExpenseDTO](t, rec).Status)

	// WHEN: someone edits the closed expense
	rec = s.do(http.MethodPatch, "/api/expenses/"+exp.ID, "bob", `{"amount":"120.00"}`)

	// THEN: the lock holds
	requireStatus(t, rec, http.StatusConflict)
	assert.Equal(t, "ExpenseClosed", decodeBody[ErrorResponse](t, rec).Kind)

	rec = s.do(http.MethodGet, "/api/trips/trip-1/balances", "bob", nil)
	requireStatus(t, rec, http.StatusOK)
	report := decodeBody[BalanceReportDTO](t, rec)
	require.Len(t, report.Balances, 3)
	assert.Equal(t, BalanceDTO{Participant: "alice", Owes: "0.00", IsOwed: "60.00", Net: "60.00"}, report.Balances[0])
	assert.Equal(t, "-30.00", report.Balances[1].Net)
	assert.Len(t, report.Transfers, 2)

	rec = s.do(http.MethodPost, "/api/trips/trip-1/settlements", "bob", nil)
	requireStatus(t, rec, http.StatusOK)
	settlements := decodeBody[[]SettlementDTO](t, rec)
	require.Len(t, settlements, 2)
	var bobs SettlementDTO
	for _, st := range settlements {
		assert.Equal(t, "alice", st.ToUser)
		assert.Equal(t, "30.00", st.Amount)
		if st.FromUser == "bob" {
			bobs = st
		}
	}
	require.NotEmpty(t, bobs.ID)

	// Only the creditor or an organizer records payments.
	rec = s.do(http.MethodPost, "/api/settlements/"+bobs.ID+"/payments", "bob", `{"amount":"10.00"}`)
	requireStatus(t, rec, http.StatusForbidden)

	rec = s.do(http.MethodPost, "/api/settlements/"+bobs.ID+"/payments", "alice",
		`{"amount":"10.00","method":"cash","paid_at":"2026-03-12"}`)
	requireStatus(t, rec, http.StatusCreated)
	paid := decodeBody[RecordPaymentResponse](t, rec)
	assert.Equal(t, "PARTIALLY_PAID", paid.Settlement.Status)
	assert.Equal(t, "20.00", paid.Settlement.Remaining)
	assert.Equal(t, "2026-03-12T00:00:00Z", paid.Payment.PaidAt)

	rec = s.do(http.MethodPost, "/api/settlements/"+bobs.ID+"/payments", "carol", `{"amount":"25.00"}`)
	requireStatus(t, rec, http.StatusUnprocessableEntity)
	over := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "OverPayment", over.Kind)
	assert.Equal(t, "20.00", over.Remaining)

	rec = s.do(http.MethodPost, "/api/settlements/"+bobs.ID+"/payments", "carol", `{"amount":"20.00"}`)
	requireStatus(t, rec, http.StatusCreated)

	rec = s.do(http.MethodGet, "/api/settlements/"+bobs.ID, "bob", nil)
	requireStatus(t, rec, http.StatusOK)
	detail := decodeBody[SettlementDetailDTO](t, rec)
	assert.Equal(t, "PAID", detail.Status)
	assert.Equal(t, "0.00", detail.Remaining)
	assert.Len(t, detail.Payments, 2)

	// Ledger operations were observed by the metrics middleware and observer.
	rec = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Contains(t, rec.Body.String(), `outcome="OverPayment"`)
	assert.Contains(t, rec.Body.String(), `route="/api/settlements/{settlementID}/payments"`)
}

func TestCloseExpense_IncompleteNeedsForce(t *testing.T) {
	s := newTestServer(t)
	s.seedTrip()
	exp := s.createExpense("alice", "100.00")

	rec := s.do(http.MethodPut, "/api/expenses/"+exp.ID+"/assignments/bob", "alice",
		`{"split_type":"EXACT","split_value":"40.00"}`)
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, "40.00", decodeBody[AssignmentDTO](t, rec).ShareAmount)

	rec = s.do(http.MethodGet, "/api/expenses/"+exp.ID+"/assignments/percentage", "bob", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, "40.00", decodeBody[AssignedPercentageDTO](t, rec).AssignedPercentage)

	rec = s.do(http.MethodPost, "/api/expenses/"+exp.ID+"/close", "alice", nil)
	requireStatus(t, rec, http.StatusConflict)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "AssignmentIncomplete", resp.Kind)
	assert.Equal(t, "40.00", resp.AssignedPercentage)

	rec = s.do(http.MethodPost, "/api/expenses/"+exp.ID+"/close", "alice", `{"force":true}`)
	requireStatus(t, rec, http.StatusOK)

	rec = s.do(http.MethodPost, "/api/expenses/"+exp.ID+"/reopen", "alice", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, "OPEN", decodeBody[ExpenseDTO](t, rec).Status)

	rec = s.do(http.MethodDelete, "/api/expenses/"+exp.ID+"/assignments/bob", "alice", nil)
	requireStatus(t, rec, http.StatusNoContent)

	rec = s.do(http.MethodGet, "/api/expenses/"+exp.ID, "carol", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Empty(t, decodeBody[ExpenseDetailDTO](t, rec).Assignments)
}

func TestTripSpendLock(t *testing.T) {
	s := newTestServer(t)
	s.seedTrip()

	rec := s.do(http.MethodPost, "/api/trips/trip-1/close", "bob", nil)
	requireStatus(t, rec, http.StatusForbidden)

	rec = s.do(http.MethodPost, "/api/trips/trip-1/close", "carol", nil)
	requireStatus(t, rec, http.StatusOK)
	trip := decodeBody[TripDTO](t, rec)
	assert.Equal(t, "CLOSED", trip.SpendStatus)
	assert.Equal(t, "carol", trip.SpendClosedBy)
	assert.NotNil(t, trip.SpendClosedAt)

	rec = s.do(http.MethodPost, "/api/trips/trip-1/expenses", "bob", `{"description":"Ice cream","amount":"4.50"}`)
	requireStatus(t, rec, http.StatusConflict)
	assert.Equal(t, "TripSpendClosed", decodeBody[ErrorResponse](t, rec).Kind)

	rec = s.do(http.MethodPost, "/api/trips/trip-1/reopen", "alice", nil)
	requireStatus(t, rec, http.StatusOK)
	s.createExpense("bob", "4.50")
}

func TestTripMembership(t *testing.T) {
	s := newTestServer(t)
	s.seedTrip()

	rec := s.do(http.MethodGet, "/api/trips/trip-1", "mallory", nil)
	requireStatus(t, rec, http.StatusForbidden)

	rec = s.do(http.MethodGet, "/api/trips/trip-1", "bob", nil)
	requireStatus(t, rec, http.StatusOK)
	trip := decodeBody[TripDTO](t, rec)
	assert.Equal(t, "GBP", trip.BaseCurrency)
	assert.Equal(t, []MemberDTO{
		{Participant: "alice", Role: "owner", CreatedAt: trip.Members[0].CreatedAt},
		{Participant: "bob", Role: "member", CreatedAt: trip.Members[1].CreatedAt},
		{Participant: "carol", Role: "organizer", CreatedAt: trip.Members[2].CreatedAt},
	}, trip.Members)

	// Members cannot invite; organizers can.
	rec = s.do(http.MethodPost, "/api/trips/trip-1/members", "bob", AddMemberRequest{Participant: "dave"})
	requireStatus(t, rec, http.StatusForbidden)
	rec = s.do(http.MethodPost, "/api/trips/trip-1/members", "carol", AddMemberRequest{Participant: "dave"})
	requireStatus(t, rec, http.StatusCreated)
	rec = s.do(http.MethodPost, "/api/trips/trip-1/members", "carol", AddMemberRequest{Participant: "dave"})
	requireStatus(t, rec, http.StatusConflict)
	rec = s.do(http.MethodPost, "/api/trips/trip-1/members", "carol", AddMemberRequest{Participant: "erin", Role: "owner"})
	requireStatus(t, rec, http.StatusBadRequest)

	rec = s.do(http.MethodGet, "/api/trips/trip-1/members", "dave", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Len(t, decodeBody[[]MemberDTO](t, rec), 4)
}

func TestCreateTrip_Validation(t *testing.T) {
	s := newTestServer(t)
	s.seedTrip()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{"name":`, http.StatusBadRequest},
		{"unknown field", `{"name":"x","base_currency":"GBP","colour":"red"}`, http.StatusBadRequest},
		{"missing name", `{"base_currency":"GBP"}`, http.StatusBadRequest},
		{"unknown currency", `{"name":"x","base_currency":"QQQ"}`, http.StatusBadRequest},
		{"bad role", `{"name":"x","base_currency":"GBP","members":[{"participant":"bob","role":"boss"}]}`, http.StatusBadRequest},
		{"existing id", `{"id":"trip-1","name":"x","base_currency":"GBP"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/trips", "alice", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.name == "existing id" {
				assert.Equal(t, "InvalidInput", decodeBody[ErrorResponse](t, rec).Kind)
			}
		})
	}
}

// =============================================================================
// EXPENSES
// =============================================================================

func TestUpdateExpense_TriStatePatch(t *testing.T) {
	s := newTestServer(t)
	s.seedTrip()
	exp := s.createExpense("alice", "50.00")
	assert.Nil(t, exp.Category)

	rec := s.do(http.MethodPatch, "/api/expenses/"+exp.ID, "bob",
		`{"category":"food","notes":"tip included","description":"Tapas"}`)
	requireStatus(t, rec, http.StatusOK)
	got := decodeBody[ExpenseDTO](t, rec)
	require.NotNil(t, got.Category)
	assert.Equal(t, "food", *got.Category)
	assert.Equal(t, "Tapas", got.Description)

	// null clears, absent keeps
	rec = s.do(http.MethodPatch, "/api/expenses/"+exp.ID, "bob", `{"category":null}`)
	requireStatus(t, rec, http.StatusOK)
	got = decodeBody[ExpenseDTO](t, rec)
	assert.Nil(t, got.Category)
	require.NotNil(t, got.Notes)
	assert.Equal(t, "tip included", *got.Notes)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"null required field", `{"description":null}`, http.StatusBadRequest},
		{"unknown field", `{"colour":"red"}`, http.StatusBadRequest},
		{"bad amount", `{"amount":"lots"}`, http.StatusBadRequest},
		{"bad date", `{"date":"10/03/2026"}`, http.StatusBadRequest},
		{"negative amount", `{"amount":"-1"}`, http.StatusUnprocessableEntity},
		{"not an object", `[1,2]`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPatch, "/api/expenses/"+exp.ID, "bob", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestExpense_ForeignCurrency(t *testing.T) {
	s := newTestServer(t)
	s.seedTrip()

	rec := s.do(http.MethodPost, "/api/trips/trip-1/expenses", "bob",
		`{"description":"Museum","amount":12.34,"currency":"EUR","fx_rate":"0.8567","date":"2026-03-11T15:04:05Z"}`)
	requireStatus(t, rec, http.StatusCreated)
	exp := decodeBody[ExpenseDTO](t, rec)
	assert.Equal(t, "12.34", exp.Amount)
	assert.Equal(t, "EUR", exp.Currency)
	assert.Equal(t, "10.57", exp.NormalizedAmount)
	assert.Equal(t, "GBP", exp.BaseCurrency)
	assert.Equal(t, "bob", exp.Payer)

	rec = s.do(http.MethodPost, "/api/trips/trip-1/expenses", "bob",
		`{"description":"Museum","amount":"12.34","currency":"EUR"}`)
	requireStatus(t, rec, http.StatusBadRequest)
}

func TestListAndDeleteExpenses(t *testing.T) {
	s := newTestServer(t)
	s.seedTrip()
	first := s.createExpense("alice", "10.00")
	s.createExpense("bob", "20.00")

	rec := s.do(http.MethodDelete, "/api/expenses/"+first.ID, "carol", nil)
	requireStatus(t, rec, http.StatusNoContent)

	rec = s.do(http.MethodGet, "/api/trips/trip-1/expenses", "bob", nil)
	requireStatus(t, rec, http.StatusOK)
	list := decodeBody[[]ExpenseDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "20.00", list[0].Amount)

	rec = s.do(http.MethodGet, "/api/expenses/"+first.ID, "bob", nil)
	requireStatus(t, rec, http.StatusNotFound)
}

// =============================================================================
// AUDIT & SCENARIOS
// =============================================================================

func TestListAuditEvents(t *testing.T) {
	s := newTestServer(t)
	s.seedTrip()
	exp := s.createExpense("alice", "10.00")
	rec := s.do(http.MethodPost, "/api/expenses/"+exp.ID+"/close", "alice", `{"force":true}`)
	requireStatus(t, rec, http.StatusOK)

	rec = s.do(http.MethodGet, "/api/trips/trip-1/audit", "bob", nil)
	requireStatus(t, rec, http.StatusForbidden)

	rec = s.do(http.MethodGet, "/api/trips/trip-1/audit?limit=1", "carol", nil)
	requireStatus(t, rec, http.StatusOK)
	events := decodeBody[[]AuditEventDTO](t, rec)
	require.Len(t, events, 1)
	assert.Equal(t, string(ledger.AuditExpenseClosed), events[0].Action)
	assert.Equal(t, exp.ID, events[0].EntityID)
	assert.Equal(t, "alice", events[0].Actor)

	rec = s.do(http.MethodGet, "/api/trips/trip-1/audit", "alice", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Len(t, decodeBody[[]AuditEventDTO](t, rec), 2)

	rec = s.do(http.MethodGet, "/api/trips/trip-1/audit?limit=-1", "alice", nil)
	requireStatus(t, rec, http.StatusBadRequest)
}

func TestScenarios(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/scenarios", "alice", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Len(t, decodeBody[[]ScenarioDTO](t, rec), len(scenarios))

	rec = s.do(http.MethodPost, "/api/scenarios/load", "alice", LoadScenarioRequest{ScenarioID: "nope"})
	requireStatus(t, rec, http.StatusBadRequest)

	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/scenarios/load", "alice", LoadScenarioRequest{ScenarioID: sc.ID})
			requireStatus(t, rec, http.StatusCreated)
			trip := decodeBody[TripDTO](t, rec)
			assert.Equal(t, sc.Name, trip.Name)
			assert.Len(t, trip.Members, 3)

			rec = s.do(http.MethodGet, "/api/trips/"+trip.ID+"/balances", "alice", nil)
			requireStatus(t, rec, http.StatusOK)
			report := decodeBody[BalanceReportDTO](t, rec)
			assert.NotEmpty(t, report.Transfers)
		})
	}
}

func TestScenarios_PartlySettled(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", "alice", LoadScenarioRequest{ScenarioID: "partly-settled"})
	requireStatus(t, rec, http.StatusCreated)
	trip := decodeBody[TripDTO](t, rec)

	rec = s.do(http.MethodGet, "/api/trips/"+trip.ID+"/settlements", "alice", nil)
	requireStatus(t, rec, http.StatusOK)
	settlements := decodeBody[[]SettlementDTO](t, rec)
	require.Len(t, settlements, 2)

	statuses := map[string]int{}
	for _, st := range settlements {
		statuses[st.Status]++
		assert.Equal(t, "alice", st.ToUser)
	}
	assert.Equal(t, map[string]int{"PARTIALLY_PAID": 1, "PENDING": 1}, statuses)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	gbp := money.Currency{Code: "GBP", Exponent: 2}
	tests := []struct {
		err  error
		want int
	}{
		{ledger.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", ledger.ErrForbidden), http.StatusForbidden},
		{ledger.ErrTripSpendClosed, http.StatusConflict},
		{ledger.ErrExpenseClosed, http.StatusConflict},
		{ledger.ErrAlreadyClosed, http.StatusConflict},
		{ledger.ErrNotClosed, http.StatusConflict},
		{ledger.ErrPeopleChangeOnClosedExpense, http.StatusConflict},
		{ledger.ErrDuplicateParticipant, http.StatusConflict},
		{&ledger.AssignmentIncompleteError{ExpenseID: "e"}, http.StatusConflict},
		{ledger.ErrInvalidAmount, http.StatusUnprocessableEntity},
		{ledger.ErrCurrencyMismatch, http.StatusUnprocessableEntity},
		{&ledger.OverPaymentError{Requested: money.New(1, gbp), Remaining: money.Zero(gbp)}, http.StatusUnprocessableEntity},
		{ledger.ErrInvalidInput, http.StatusBadRequest},
		{ledger.ErrTransient, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestWriteError_HidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("password=hunter2"))

	requireStatus(t, rec, http.StatusInternalServerError)
	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.Equal(t, "Internal", decodeBody[ErrorResponse](t, rec).Kind)
}
