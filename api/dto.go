/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are decimal strings with exactly the currency's minor-unit
  digits ("12.34", "1000" for JPY) next to an ISO 4217 code. Requests
  accept either a JSON string or a number.

DATES:
  Expense dates are "YYYY-MM-DD" or RFC 3339. Timestamps are RFC 3339 UTC.

PATCHES:
  PATCH /expenses/{id} distinguishes an absent key (leave alone) from an
  explicit null (clear category or notes). See decodeExpensePatch.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/spend-ledger/ledger"
	"github.com/warp/spend-ledger/store/sqlstore"
)

// =============================================================================
// TRIPS
// =============================================================================

type TripDTO struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	BaseCurrency  string      `json:"base_currency"`
	SpendStatus   string      `json:"spend_status"`
	SpendClosedAt *string     `json:"spend_closed_at,omitempty"`
	SpendClosedBy string      `json:"spend_closed_by,omitempty"`
	CreatedAt     string      `json:"created_at"`
	Members       []MemberDTO `json:"members,omitempty"`
}

type MemberDTO struct {
	Participant string `json:"participant"`
	Role        string `json:"role"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// CreateTripRequest creates a trip owned by the caller. ID is generated
// when empty.
type CreateTripRequest struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	BaseCurrency string             `json:"base_currency"`
	Members      []AddMemberRequest `json:"members"`
}

type AddMemberRequest struct {
	Participant string `json:"participant"`
	Role        string `json:"role"`
}

// =============================================================================
// EXPENSES
// =============================================================================

type ExpenseDTO struct {
	ID                 string  `json:"id"`
	TripID             string  `json:"trip_id"`
	Description        string  `json:"description"`
	Amount             string  `json:"amount"`
	Currency           string  `json:"currency"`
	FxRate             string  `json:"fx_rate"`
	NormalizedAmount   string  `json:"normalized_amount"`
	BaseCurrency       string  `json:"base_currency"`
	Date               string  `json:"date"`
	Status             string  `json:"status"`
	Payer              string  `json:"payer"`
	Category           *string `json:"category"`
	Notes              *string `json:"notes"`
	CreatedBy          string  `json:"created_by"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
	AssignedPercentage string  `json:"assigned_percentage,omitempty"`
}

type ExpenseDetailDTO struct {
	ExpenseDTO
	Assignments []AssignmentDTO `json:"assignments"`
}

type CreateExpenseRequest struct {
	Description string           `json:"description"`
	Amount      decimal.Decimal  `json:"amount"`
	Currency    string           `json:"currency"`
	FxRate      *decimal.Decimal `json:"fx_rate"`
	Date        string           `json:"date"`
	Payer       string           `json:"payer"`
	Category    *string          `json:"category"`
	Notes       *string          `json:"notes"`
}

type CloseExpenseRequest struct {
	Force bool `json:"force"`
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

type AssignmentDTO struct {
	ID                    string  `json:"id"`
	Participant           string  `json:"participant"`
	ShareAmount           string  `json:"share_amount"`
	NormalizedShareAmount string  `json:"normalized_share_amount"`
	SplitType             string  `json:"split_type"`
	SplitValue            *string `json:"split_value,omitempty"`
}

type AssignmentRequest struct {
	Participant string           `json:"participant"`
	SplitType   string           `json:"split_type"`
	SplitValue  *decimal.Decimal `json:"split_value"`
}

type SetAssignmentsRequest struct {
	Assignments []AssignmentRequest `json:"assignments"`
}

type SetAssignmentsResponse struct {
	Assignments        []AssignmentDTO `json:"assignments"`
	AssignedPercentage string          `json:"assigned_percentage"`
}

type AssignedPercentageDTO struct {
	ExpenseID          string `json:"expense_id"`
	AssignedPercentage string `json:"assigned_percentage"`
}

// =============================================================================
// BALANCES
// =============================================================================

type BalanceDTO struct {
	Participant string `json:"participant"`
	Owes        string `json:"owes"`
	IsOwed      string `json:"is_owed"`
	Net         string `json:"net"`
}

type TransferDTO struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type BalanceReportDTO struct {
	TripID       string        `json:"trip_id"`
	BaseCurrency string        `json:"base_currency"`
	Balances     []BalanceDTO  `json:"balances"`
	Transfers    []TransferDTO `json:"transfers"`
	AsOf         string        `json:"as_of"`
}

// =============================================================================
// SETTLEMENTS & PAYMENTS
// =============================================================================

type SettlementDTO struct {
	ID        string `json:"id"`
	TripID    string `json:"trip_id"`
	FromUser  string `json:"from_user"`
	ToUser    string `json:"to_user"`
	Amount    string `json:"amount"`
	TotalPaid string `json:"total_paid"`
	Remaining string `json:"remaining"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Stale     bool   `json:"stale"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type SettlementDetailDTO struct {
	SettlementDTO
	Payments []PaymentDTO `json:"payments"`
}

type PaymentDTO struct {
	ID           string  `json:"id"`
	SettlementID string  `json:"settlement_id"`
	Amount       string  `json:"amount"`
	Currency     string  `json:"currency"`
	PaidAt       string  `json:"paid_at"`
	Method       *string `json:"method,omitempty"`
	Reference    *string `json:"reference,omitempty"`
	Notes        *string `json:"notes,omitempty"`
	RecordedBy   string  `json:"recorded_by"`
	CreatedAt    string  `json:"created_at"`
}

type RecordPaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	PaidAt    string          `json:"paid_at"`
	Method    *string         `json:"method"`
	Reference *string         `json:"reference"`
	Notes     *string         `json:"notes"`
}

type RecordPaymentResponse struct {
	Payment    PaymentDTO    `json:"payment"`
	Settlement SettlementDTO `json:"settlement"`
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEventDTO struct {
	ID         string         `json:"id"`
	OccurredAt string         `json:"occurred_at"`
	Actor      string         `json:"actor"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     string         `json:"action"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

const dateLayout = "2006-01-02"

func timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func timestampPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := timestamp(*t)
	return &s
}

// parseDate accepts "YYYY-MM-DD" or RFC 3339. Empty means zero (ledger default).
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q (use YYYY-MM-DD or RFC 3339)", ledger.ErrInvalidInput, s)
	}
	return t, nil
}

func toTripDTO(t *ledger.Trip, members []sqlstore.Member) TripDTO {
	dto := TripDTO{
		ID:            string(t.ID),
		Name:          t.Name,
		BaseCurrency:  t.BaseCurrency.Code,
		SpendStatus:   string(t.SpendStatus),
		SpendClosedAt: timestampPtr(t.SpendClosedAt),
		SpendClosedBy: string(t.SpendClosedBy),
		CreatedAt:     timestamp(t.CreatedAt),
	}
	for _, m := range members {
		dto.Members = append(dto.Members, toMemberDTO(m))
	}
	return dto
}

func toMemberDTO(m sqlstore.Member) MemberDTO {
	return MemberDTO{
		Participant: string(m.Participant),
		Role:        m.Role.String(),
		CreatedAt:   timestamp(m.CreatedAt),
	}
}

func toExpenseDTO(e *ledger.Expense) ExpenseDTO {
	dto := ExpenseDTO{
		ID:               string(e.ID),
		TripID:           string(e.TripID),
		Description:      e.Description,
		Amount:           e.Amount.String(),
		Currency:         e.Currency().Code,
		FxRate:           e.FxRate.String(),
		NormalizedAmount: e.NormalizedAmount.String(),
		BaseCurrency:     e.NormalizedAmount.Currency.Code,
		Date:             e.Date.UTC().Format(dateLayout),
		Status:           string(e.Status),
		Payer:            string(e.Payer),
		Category:         e.Category,
		Notes:            e.Notes,
		CreatedBy:        string(e.CreatedBy),
		CreatedAt:        timestamp(e.CreatedAt),
		UpdatedAt:        timestamp(e.UpdatedAt),
	}
	if !e.AssignedPercentage.IsZero() {
		dto.AssignedPercentage = e.AssignedPercentage.StringFixed(2)
	}
	return dto
}

func toAssignmentDTOs(as []ledger.Assignment) []AssignmentDTO {
	dtos := make([]AssignmentDTO, len(as))
	for i, a := range as {
		dtos[i] = AssignmentDTO{
			ID:                    string(a.ID),
			Participant:           string(a.Participant),
			ShareAmount:           a.ShareAmount.String(),
			NormalizedShareAmount: a.NormalizedShareAmount.String(),
			SplitType:             string(a.SplitType),
		}
		if a.SplitValue != nil {
			v := a.SplitValue.String()
			dtos[i].SplitValue = &v
		}
	}
	return dtos
}

func toAssignmentInput(req AssignmentRequest) ledger.AssignmentInput {
	return ledger.AssignmentInput{
		Participant: ledger.ParticipantID(req.Participant),
		SplitType:   ledger.SplitType(req.SplitType),
		SplitValue:  req.SplitValue,
	}
}

func toBalanceReportDTO(r *ledger.BalanceReport) BalanceReportDTO {
	dto := BalanceReportDTO{
		TripID:       string(r.TripID),
		BaseCurrency: r.BaseCurrency.Code,
		Balances:     make([]BalanceDTO, len(r.Balances)),
		Transfers:    make([]TransferDTO, len(r.Transfers)),
		AsOf:         timestamp(r.AsOf),
	}
	for i, b := range r.Balances {
		dto.Balances[i] = BalanceDTO{
			Participant: string(b.Participant),
			Owes:        b.Owes.String(),
			IsOwed:      b.IsOwed.String(),
			Net:         b.Net().String(),
		}
	}
	for i, t := range r.Transfers {
		dto.Transfers[i] = TransferDTO{From: string(t.From), To: string(t.To), Amount: t.Amount.String()}
	}
	return dto
}

func toSettlementDTO(s *ledger.Settlement) SettlementDTO {
	return SettlementDTO{
		ID:        string(s.ID),
		TripID:    string(s.TripID),
		FromUser:  string(s.FromUser),
		ToUser:    string(s.ToUser),
		Amount:    s.Amount.String(),
		TotalPaid: s.TotalPaid.String(),
		Remaining: s.Remaining().String(),
		Currency:  s.Amount.Currency.Code,
		Status:    string(s.Status),
		Stale:     s.Stale,
		CreatedAt: timestamp(s.CreatedAt),
		UpdatedAt: timestamp(s.UpdatedAt),
	}
}

func toSettlementDTOs(ss []ledger.Settlement) []SettlementDTO {
	dtos := make([]SettlementDTO, len(ss))
	for i := range ss {
		dtos[i] = toSettlementDTO(&ss[i])
	}
	return dtos
}

func toPaymentDTO(p *ledger.Payment) PaymentDTO {
	return PaymentDTO{
		ID:           string(p.ID),
		SettlementID: string(p.SettlementID),
		Amount:       p.Amount.String(),
		Currency:     p.Amount.Currency.Code,
		PaidAt:       timestamp(p.PaidAt),
		Method:       p.Method,
		Reference:    p.Reference,
		Notes:        p.Notes,
		RecordedBy:   string(p.RecordedBy),
		CreatedAt:    timestamp(p.CreatedAt),
	}
}

func toAuditEventDTO(r sqlstore.AuditRecord) AuditEventDTO {
	return AuditEventDTO{
		ID:         r.ID,
		OccurredAt: timestamp(r.At),
		Actor:      string(r.Actor),
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Action:     string(r.Action),
		Metadata:   r.Metadata,
	}
}

// =============================================================================
// EXPENSE PATCH
// =============================================================================

var patchKeys = map[string]bool{
	"description": true, "amount": true, "currency": true, "fx_rate": true,
	"date": true, "payer": true, "category": true, "notes": true,
}

// decodeExpensePatch reads a JSON object into a tri-state patch.
func decodeExpensePatch(r io.Reader) (ledger.ExpensePatch, error) {
	var (
		raw   map[string]json.RawMessage
		patch ledger.ExpensePatch
		err   error
	)
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return patch, fmt.Errorf("%w: %v", ledger.ErrInvalidInput, err)
	}
	for k := range raw {
		if !patchKeys[k] {
			return patch, fmt.Errorf("%w: unknown field %q", ledger.ErrInvalidInput, k)
		}
	}

	if patch.Description, err = patchField(raw, "description", jsonValue[string]); err != nil {
		return patch, err
	}
	if patch.Amount, err = patchField(raw, "amount", jsonValue[decimal.Decimal]); err != nil {
		return patch, err
	}
	if patch.Currency, err = patchField(raw, "currency", jsonValue[string]); err != nil {
		return patch, err
	}
	if patch.FxRate, err = patchField(raw, "fx_rate", jsonValue[decimal.Decimal]); err != nil {
		return patch, err
	}
	if patch.Date, err = patchField(raw, "date", jsonDate); err != nil {
		return patch, err
	}
	if patch.Payer, err = patchField(raw, "payer", jsonValue[ledger.ParticipantID]); err != nil {
		return patch, err
	}
	if patch.Category, err = patchField(raw, "category", jsonValue[string]); err != nil {
		return patch, err
	}
	if patch.Notes, err = patchField(raw, "notes", jsonValue[string]); err != nil {
		return patch, err
	}
	return patch, nil
}

func patchField[T any](raw map[string]json.RawMessage, key string, parse func(json.RawMessage) (T, error)) (ledger.Optional[T], error) {
	msg, ok := raw[key]
	if !ok {
		return ledger.Optional[T]{}, nil
	}
	if bytes.Equal(bytes.TrimSpace(msg), []byte("null")) {
		return ledger.Null[T](), nil
	}
	v, err := parse(msg)
	if err != nil {
		return ledger.Optional[T]{}, fmt.Errorf("%w: field %q: %v", ledger.ErrInvalidInput, key, err)
	}
	return ledger.Set(v), nil
}

func jsonValue[T any](msg json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(msg, &v)
	return v, err
}

func jsonDate(msg json.RawMessage) (time.Time, error) {
	s, err := jsonValue[string](msg)
	if err != nil {
		return time.Time{}, err
	}
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	return parseDate(s)
}
