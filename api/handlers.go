/*
handlers.go - HTTP request handlers for the ledger API

PURPOSE:
  Implements the HTTP handlers for all API endpoints. Each handler:
  1. Reads the actor placed in the context by RequireAuth
  2. Parses path parameters and the request body
  3. Calls exactly one ledger (or directory) operation
  4. Converts the result to DTOs, or maps the error via writeError

  Business rules (locks, permissions, allocation) live in the ledger.
  Handlers never re-check them.

ENDPOINT CATEGORIES:
  Trips:        Create, get, members, spend close/reopen, audit log
  Expenses:     CRUD, close/reopen
  Assignments:  Replace-all, single upsert/remove, assigned percentage
  Balances:     Balances + suggested transfers
  Settlements:  Reconcile, list, get, record payment

SEE ALSO:
  - server.go: Route definitions
  - dto.go:    Request/response types
  - errors.go: Error kind to status mapping
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/spend-ledger/ledger"
	"github.com/warp/spend-ledger/money"
	"github.com/warp/spend-ledger/store/sqlstore"
)

// Directory is the trip/membership side of the store that sits outside
// the ledger's spend operations.
type Directory interface {
	ledger.Authorizer
	CreateTrip(ctx context.Context, trip *ledger.Trip, owner ledger.ParticipantID) error
	AddMember(ctx context.Context, tripID ledger.TripID, participant ledger.ParticipantID, role ledger.Role) error
	Members(ctx context.Context, tripID ledger.TripID) ([]sqlstore.Member, error)
	Trip(ctx context.Context, id ledger.TripID) (*ledger.Trip, error)
	AuditLog(ctx context.Context, tripID ledger.TripID, limit int) ([]sqlstore.AuditRecord, error)
	Ping(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Ledger    *ledger.Ledger
	Directory Directory
	Logger    *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(l *ledger.Ledger, dir Directory, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Ledger: l, Directory: dir, Logger: logger}
}

// =============================================================================
// HEALTH
// =============================================================================

// Healthz pings the database.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.Directory.Ping(r.Context()); err != nil {
		h.Logger.Error("health check failed", "error", err)
		writeMessage(w, http.StatusServiceUnavailable, "Database unavailable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// TRIP HANDLERS
// =============================================================================

// CreateTrip creates a trip owned by the caller, plus any listed members.
func (h *Handler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	var req CreateTripRequest
	if !decode(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, fmt.Errorf("%w: name is required", ledger.ErrInvalidInput))
		return
	}
	base, err := money.Lookup(money.ISO, req.BaseCurrency)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", ledger.ErrInvalidInput, err))
		return
	}
	roles := make([]ledger.Role, len(req.Members))
	for i, m := range req.Members {
		if roles[i], err = ledger.ParseRole(m.Role); err != nil {
			writeError(w, err)
			return
		}
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	trip := &ledger.Trip{ID: ledger.TripID(id), Name: name, BaseCurrency: base}
	if err := h.Directory.CreateTrip(r.Context(), trip, actor); err != nil {
		writeError(w, err)
		return
	}
	for i, m := range req.Members {
		if err := h.Directory.AddMember(r.Context(), trip.ID, ledger.ParticipantID(m.Participant), roles[i]); err != nil {
			writeError(w, err)
			return
		}
	}
	h.Logger.Info("trip created", "trip_id", trip.ID, "owner", actor, "base_currency", base.Code)

	members, err := h.Directory.Members(r.Context(), trip.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTripDTO(trip, members))
}

// GetTrip returns a trip with its members.
func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	tripID, ok := h.member(w, r, ledger.RoleMember)
	if !ok {
		return
	}
	trip, err := h.Directory.Trip(r.Context(), tripID)
	if err != nil {
		writeError(w, err)
		return
	}
	members, err := h.Directory.Members(r.Context(), tripID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTripDTO(trip, members))
}

// ListMembers returns the trip's members.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	tripID, ok := h.member(w, r, ledger.RoleMember)
	if !ok {
		return
	}
	members, err := h.Directory.Members(r.Context(), tripID)
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = toMemberDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AddMember adds a participant. Organizers only.
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	tripID, ok := h.member(w, r, ledger.RoleOrganizer)
	if !ok {
		return
	}
	var req AddMemberRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Participant) == "" {
		writeError(w, fmt.Errorf("%w: participant is required", ledger.ErrInvalidInput))
		return
	}
	if req.Role == "" {
		req.Role = ledger.RoleMember.String()
	}
	role, err := ledger.ParseRole(req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	if role == ledger.RoleOwner {
		writeError(w, fmt.Errorf("%w: a trip has exactly one owner", ledger.ErrInvalidInput))
		return
	}
	if err := h.Directory.AddMember(r.Context(), tripID, ledger.ParticipantID(req.Participant), role); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, MemberDTO{Participant: req.Participant, Role: role.String()})
}

// CloseTripSpend locks all spend on the trip.
func (h *Handler) CloseTripSpend(w http.ResponseWriter, r *http.Request) {
	trip, err := h.Ledger.CloseTripSpend(r.Context(), tripParam(r), ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTripDTO(trip, nil))
}

// ReopenTripSpend unlocks spend on the trip.
func (h *Handler) ReopenTripSpend(w http.ResponseWriter, r *http.Request) {
	trip, err := h.Ledger.ReopenTripSpend(r.Context(), tripParam(r), ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTripDTO(trip, nil))
}

// ListAuditEvents returns the trip's audit trail, newest first.
// Optional ?limit=N.
func (h *Handler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	tripID, ok := h.member(w, r, ledger.RoleOrganizer)
	if !ok {
		return
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("%w: invalid limit %q", ledger.ErrInvalidInput, s))
			return
		}
		limit = n
	}
	records, err := h.Directory.AuditLog(r.Context(), tripID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]AuditEventDTO, len(records))
	for i, rec := range records {
		dtos[i] = toAuditEventDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// EXPENSE HANDLERS
// =============================================================================

// ListExpenses returns the trip's live expenses.
func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.Ledger.ListExpenses(r.Context(), tripParam(r), ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]ExpenseDTO, len(expenses))
	for i := range expenses {
		dtos[i] = toExpenseDTO(&expenses[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateExpense records a new expense on the trip.
func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var req CreateExpenseRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, err)
		return
	}
	exp, err := h.Ledger.CreateExpense(r.Context(), ledger.CreateExpenseParams{
		TripID:      tripParam(r),
		Actor:       ActorFrom(r.Context()),
		Payer:       ledger.ParticipantID(req.Payer),
		Description: req.Description,
		Amount:      req.Amount,
		Currency:    req.Currency,
		FxRate:      req.FxRate,
		Date:        date,
		Category:    req.Category,
		Notes:       req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenseDTO(exp))
}

// GetExpense returns an expense with its assignments.
func (h *Handler) GetExpense(w http.ResponseWriter, r *http.Request) {
	view, err := h.Ledger.GetExpense(r.Context(), expenseParam(r), ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ExpenseDetailDTO{
		ExpenseDTO:  toExpenseDTO(&view.Expense),
		Assignments: toAssignmentDTOs(view.Assignments),
	})
}

// UpdateExpense applies a partial update.
func (h *Handler) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	patch, err := decodeExpensePatch(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	exp, err := h.Ledger.UpdateExpense(r.Context(), expenseParam(r), ActorFrom(r.Context()), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(exp))
}

// DeleteExpense soft-deletes an open expense.
func (h *Handler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.DeleteExpense(r.Context(), expenseParam(r), ActorFrom(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloseExpense locks the expense. Body {"force": true} skips the
// assigned-percentage check.
func (h *Handler) CloseExpense(w http.ResponseWriter, r *http.Request) {
	var req CloseExpenseRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	exp, err := h.Ledger.CloseExpense(r.Context(), expenseParam(r), ActorFrom(r.Context()), req.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(exp))
}

// ReopenExpense unlocks a closed expense.
func (h *Handler) ReopenExpense(w http.ResponseWriter, r *http.Request) {
	exp, err := h.Ledger.ReopenExpense(r.Context(), expenseParam(r), ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(exp))
}

// =============================================================================
// ASSIGNMENT HANDLERS
// =============================================================================

// SetAssignments replaces the expense's assignments.
func (h *Handler) SetAssignments(w http.ResponseWriter, r *http.Request) {
	var req SetAssignmentsRequest
	if !decode(w, r, &req) {
		return
	}
	inputs := make([]ledger.AssignmentInput, len(req.Assignments))
	for i, a := range req.Assignments {
		inputs[i] = toAssignmentInput(a)
	}
	assignments, pct, err := h.Ledger.SetAssignments(r.Context(), expenseParam(r), ActorFrom(r.Context()), inputs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SetAssignmentsResponse{
		Assignments:        toAssignmentDTOs(assignments),
		AssignedPercentage: pct.StringFixed(2),
	})
}

// PutAssignment adds or updates one participant's assignment. The path
// participant wins over the body.
func (h *Handler) PutAssignment(w http.ResponseWriter, r *http.Request) {
	var req AssignmentRequest
	if !decode(w, r, &req) {
		return
	}
	req.Participant = chi.URLParam(r, "participant")
	a, err := h.Ledger.AddOrUpdateAssignment(r.Context(), expenseParam(r), ActorFrom(r.Context()), toAssignmentInput(req))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentDTOs([]ledger.Assignment{*a})[0])
}

// DeleteAssignment removes one participant's assignment.
func (h *Handler) DeleteAssignment(w http.ResponseWriter, r *http.Request) {
	participant := ledger.ParticipantID(chi.URLParam(r, "participant"))
	if err := h.Ledger.RemoveAssignment(r.Context(), expenseParam(r), ActorFrom(r.Context()), participant); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAssignedPercentage returns how much of the expense is assigned.
func (h *Handler) GetAssignedPercentage(w http.ResponseWriter, r *http.Request) {
	id := expenseParam(r)
	pct, err := h.Ledger.ComputeAssignedPercentage(r.Context(), id, ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AssignedPercentageDTO{ExpenseID: string(id), AssignedPercentage: pct.StringFixed(2)})
}

// =============================================================================
// BALANCE & SETTLEMENT HANDLERS
// =============================================================================

// GetBalances returns balances and suggested transfers.
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	report, err := h.Ledger.Balances(r.Context(), tripParam(r), ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceReportDTO(report))
}

// ListSettlements returns the trip's live settlements.
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	settlements, err := h.Ledger.ListSettlements(r.Context(), tripParam(r), ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTOs(settlements))
}

// RecordSettlements reconciles settlements with the current balances.
func (h *Handler) RecordSettlements(w http.ResponseWriter, r *http.Request) {
	settlements, err := h.Ledger.RecordSettlements(r.Context(), tripParam(r), ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTOs(settlements))
}

// GetSettlement returns a settlement with its payments.
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	view, err := h.Ledger.GetSettlement(r.Context(), settlementParam(r), ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	payments := make([]PaymentDTO, len(view.Payments))
	for i := range view.Payments {
		payments[i] = toPaymentDTO(&view.Payments[i])
	}
	writeJSON(w, http.StatusOK, SettlementDetailDTO{
		SettlementDTO: toSettlementDTO(&view.Settlement),
		Payments:      payments,
	})
}

// RecordPayment records a (partial) payment against a settlement.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if !decode(w, r, &req) {
		return
	}
	paidAt, err := parseDate(req.PaidAt)
	if err != nil {
		writeError(w, err)
		return
	}
	payment, settlement, err := h.Ledger.RecordPayment(r.Context(), ledger.RecordPaymentParams{
		SettlementID: settlementParam(r),
		Actor:        ActorFrom(r.Context()),
		Amount:       req.Amount,
		Currency:     req.Currency,
		PaidAt:       paidAt,
		Method:       req.Method,
		Reference:    req.Reference,
		Notes:        req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, RecordPaymentResponse{
		Payment:    toPaymentDTO(payment),
		Settlement: toSettlementDTO(settlement),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func tripParam(r *http.Request) ledger.TripID {
	return ledger.TripID(chi.URLParam(r, "tripID"))
}

func expenseParam(r *http.Request) ledger.ExpenseID {
	return ledger.ExpenseID(chi.URLParam(r, "expenseID"))
}

func settlementParam(r *http.Request) ledger.SettlementID {
	return ledger.SettlementID(chi.URLParam(r, "settlementID"))
}

// member checks the caller holds at least min on the path trip.
func (h *Handler) member(w http.ResponseWriter, r *http.Request, min ledger.Role) (ledger.TripID, bool) {
	tripID := tripParam(r)
	actor := ActorFrom(r.Context())
	role, err := h.Directory.RoleOf(r.Context(), tripID, actor)
	if err != nil {
		writeError(w, err)
		return "", false
	}
	if !role.AtLeast(min) {
		writeError(w, fmt.Errorf("%w: %s is %s, needs %s", ledger.ErrForbidden, actor, role, min))
		return "", false
	}
	return tripID, true
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}
