/*
errors.go - Ledger error kinds to HTTP responses

STATUS MAPPING:
  NotFound                                  404
  Forbidden                                 403
  TripSpendClosed, ExpenseClosed,
  AlreadyClosed, NotClosed,
  AssignmentIncomplete,
  PeopleChangeOnClosedExpense,
  DuplicateParticipant                      409
  InvalidAmount, OverPayment,
  CurrencyMismatch                          422
  InvalidInput                              400
  Transient                                 503
  anything else                             500 (details withheld)
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/warp/spend-ledger/ledger"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`

	// Set for AssignmentIncomplete.
	AssignedPercentage string `json:"assigned_percentage,omitempty"`
	// Set for OverPayment.
	Remaining string `json:"remaining,omitempty"`
}

var statusByKind = map[string]int{
	"NotFound":                    http.StatusNotFound,
	"Forbidden":                   http.StatusForbidden,
	"TripSpendClosed":             http.StatusConflict,
	"ExpenseClosed":               http.StatusConflict,
	"AlreadyClosed":               http.StatusConflict,
	"NotClosed":                   http.StatusConflict,
	"AssignmentIncomplete":        http.StatusConflict,
	"PeopleChangeOnClosedExpense": http.StatusConflict,
	"DuplicateParticipant":        http.StatusConflict,
	"InvalidAmount":               http.StatusUnprocessableEntity,
	"OverPayment":                 http.StatusUnprocessableEntity,
	"CurrencyMismatch":            http.StatusUnprocessableEntity,
	"InvalidInput":                http.StatusBadRequest,
	"Transient":                   http.StatusServiceUnavailable,
}

// StatusFor returns the HTTP status for a ledger error.
func StatusFor(err error) int {
	if status, ok := statusByKind[ledger.Kind(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// writeError renders a ledger error with its mapped status.
func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	resp := ErrorResponse{Error: http.StatusText(status), Kind: ledger.Kind(err)}
	if status == http.StatusInternalServerError {
		writeJSON(w, status, resp)
		return
	}
	resp.Details = err.Error()

	var incomplete *ledger.AssignmentIncompleteError
	if errors.As(err, &incomplete) {
		resp.AssignedPercentage = incomplete.Percentage.StringFixed(2)
	}
	var over *ledger.OverPaymentError
	if errors.As(err, &over) {
		resp.Remaining = over.Remaining.String()
	}
	writeJSON(w, status, resp)
}

// writeMessage renders a request-level problem (bad JSON, missing token).
func writeMessage(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
