/*
scenarios.go - Demo trip loaders for testing and demonstrations

PURPOSE:
  Creates a fresh trip owned by the caller and populates it with
  realistic spend through the same ledger operations clients use.
  Nothing is reset; every load creates a new trip.

AVAILABLE SCENARIOS:
  weekend-away:    Three friends, equal splits, expenses closed
  multi-currency:  EUR and JPY expenses on a GBP trip, percentage and share splits
  partly-settled:  weekend-away plus settlements and one partial payment

USAGE VIA API:
  GET  /api/scenarios
  POST /api/scenarios/load
  {"scenario_id": "multi-currency"}

ADDING NEW SCENARIOS:
  1. Add to 'scenarios' slice with ID, name, description
  2. Add a loader to 'loaders'

SEE ALSO:
  - handlers.go: Trip and expense handlers the loaders mirror
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/spend-ledger/ledger"
	"github.com/warp/spend-ledger/money"
)

// ScenarioDTO describes a loadable scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "weekend-away",
		Name:        "Weekend Away",
		Description: "Dinner and a taxi split equally between three friends",
	},
	{
		ID:          "multi-currency",
		Name:        "Multi-Currency",
		Description: "EUR and JPY expenses on a GBP trip with percentage and share splits",
	},
	{
		ID:          "partly-settled",
		Name:        "Partly Settled",
		Description: "Weekend away with settlements recorded and one partial payment",
	},
}

// Demo companions added to every scenario trip.
const (
	demoFriend    ledger.ParticipantID = "demo-bob"
	demoOrganizer ledger.ParticipantID = "demo-carol"
)

type scenarioLoader func(ctx context.Context, h *Handler, tripID ledger.TripID, owner ledger.ParticipantID) error

var loaders = map[string]scenarioLoader{
	"weekend-away":   loadWeekendAway,
	"multi-currency": loadMultiCurrency,
	"partly-settled": loadPartlySettled,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario creates a new trip for the caller and fills it.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, fmt.Errorf("%w: unknown scenario %q", ledger.ErrInvalidInput, req.ScenarioID))
		return
	}

	ctx := r.Context()
	owner := ActorFrom(ctx)
	trip := &ledger.Trip{
		ID:           ledger.TripID(uuid.NewString()),
		Name:         scenarioName(req.ScenarioID),
		BaseCurrency: money.MustLookup("GBP"),
	}
	if err := h.Directory.CreateTrip(ctx, trip, owner); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Directory.AddMember(ctx, trip.ID, demoFriend, ledger.RoleMember); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Directory.AddMember(ctx, trip.ID, demoOrganizer, ledger.RoleOrganizer); err != nil {
		writeError(w, err)
		return
	}
	if err := load(ctx, h, trip.ID, owner); err != nil {
		h.Logger.Error("failed to load scenario", "scenario", req.ScenarioID, "trip_id", trip.ID, "error", err)
		writeError(w, err)
		return
	}
	h.Logger.Info("scenario loaded", "scenario", req.ScenarioID, "trip_id", trip.ID, "owner", owner)

	members, err := h.Directory.Members(ctx, trip.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTripDTO(trip, members))
}

func scenarioName(id string) string {
	for _, s := range scenarios {
		if s.ID == id {
			return s.Name
		}
	}
	return id
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadWeekendAway(ctx context.Context, h *Handler, tripID ledger.TripID, owner ledger.ParticipantID) error {
	day := time.Now().UTC().AddDate(0, 0, -2).Truncate(24 * time.Hour)

	dinner, err := h.Ledger.CreateExpense(ctx, ledger.CreateExpenseParams{
		TripID:      tripID,
		Actor:       owner,
		Description: "Dinner at the harbour",
		Amount:      decimal.RequireFromString("90.00"),
		Date:        day,
		Category:    strPtr("food"),
	})
	if err != nil {
		return err
	}
	if err := splitEqually(ctx, h, dinner.ID, owner, owner, demoFriend, demoOrganizer); err != nil {
		return err
	}

	taxi, err := h.Ledger.CreateExpense(ctx, ledger.CreateExpenseParams{
		TripID:      tripID,
		Actor:       demoFriend,
		Description: "Taxi from the station",
		Amount:      decimal.RequireFromString("30.00"),
		Date:        day,
		Category:    strPtr("transport"),
	})
	if err != nil {
		return err
	}
	return splitEqually(ctx, h, taxi.ID, demoFriend, owner, demoFriend)
}

func loadMultiCurrency(ctx context.Context, h *Handler, tripID ledger.TripID, owner ledger.ParticipantID) error {
	day := time.Now().UTC().AddDate(0, 0, -5).Truncate(24 * time.Hour)

	hotel, err := h.Ledger.CreateExpense(ctx, ledger.CreateExpenseParams{
		TripID:      tripID,
		Actor:       owner,
		Description: "Hotel in Lisbon",
		Amount:      decimal.RequireFromString("240.00"),
		Currency:    "EUR",
		FxRate:      decPtr("0.8567"),
		Date:        day,
		Category:    strPtr("lodging"),
	})
	if err != nil {
		return err
	}
	_, _, err = h.Ledger.SetAssignments(ctx, hotel.ID, owner, []ledger.AssignmentInput{
		{Participant: owner, SplitType: ledger.SplitPercentage, SplitValue: decPtr("50")},
		{Participant: demoFriend, SplitType: ledger.SplitPercentage, SplitValue: decPtr("25")},
		{Participant: demoOrganizer, SplitType: ledger.SplitPercentage, SplitValue: decPtr("25")},
	})
	if err != nil {
		return err
	}
	if _, err := h.Ledger.CloseExpense(ctx, hotel.ID, owner, false); err != nil {
		return err
	}

	sushi, err := h.Ledger.CreateExpense(ctx, ledger.CreateExpenseParams{
		TripID:      tripID,
		Actor:       demoOrganizer,
		Description: "Sushi in Tokyo",
		Amount:      decimal.RequireFromString("12000"),
		Currency:    "JPY",
		FxRate:      decPtr("0.0052"),
		Date:        day.AddDate(0, 0, 2),
		Category:    strPtr("food"),
	})
	if err != nil {
		return err
	}
	_, _, err = h.Ledger.SetAssignments(ctx, sushi.ID, demoOrganizer, []ledger.AssignmentInput{
		{Participant: owner, SplitType: ledger.SplitShares, SplitValue: decPtr("1")},
		{Participant: demoFriend, SplitType: ledger.SplitShares, SplitValue: decPtr("2")},
		{Participant: demoOrganizer, SplitType: ledger.SplitShares, SplitValue: decPtr("1")},
	})
	return err
}

func loadPartlySettled(ctx context.Context, h *Handler, tripID ledger.TripID, owner ledger.ParticipantID) error {
	if err := loadWeekendAway(ctx, h, tripID, owner); err != nil {
		return err
	}
	settlements, err := h.Ledger.RecordSettlements(ctx, tripID, owner)
	if err != nil {
		return err
	}
	if len(settlements) == 0 {
		return nil
	}
	s := settlements[0]
	half := money.New(s.Amount.Minor/2, s.Amount.Currency)
	_, _, err = h.Ledger.RecordPayment(ctx, ledger.RecordPaymentParams{
		SettlementID: s.ID,
		Actor:        s.ToUser,
		Amount:       half.Decimal(),
		Method:       strPtr("bank transfer"),
	})
	return err
}

func splitEqually(ctx context.Context, h *Handler, id ledger.ExpenseID, actor ledger.ParticipantID, who ...ledger.ParticipantID) error {
	inputs := make([]ledger.AssignmentInput, len(who))
	for i, p := range who {
		inputs[i] = ledger.AssignmentInput{Participant: p, SplitType: ledger.SplitEqual}
	}
	if _, _, err := h.Ledger.SetAssignments(ctx, id, actor, inputs); err != nil {
		return err
	}
	_, err := h.Ledger.CloseExpense(ctx, id, actor, false)
	return err
}

func strPtr(s string) *string {
	return &s
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
