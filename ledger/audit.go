package ledger

import (
	"context"
	"time"
)

// AuditAction names a recorded ledger event.
type AuditAction string

const (
	AuditExpenseCreated     AuditAction = "expense.created"
	AuditExpenseUpdated     AuditAction = "expense.updated"
	AuditExpenseClosed      AuditAction = "expense.closed"
	AuditExpenseReopened    AuditAction = "expense.reopened"
	AuditExpenseDeleted     AuditAction = "expense.deleted"
	AuditAssignmentsSet     AuditAction = "assignments.set"
	AuditAssignmentUpserted AuditAction = "assignment.upserted"
	AuditAssignmentRemoved  AuditAction = "assignment.removed"
	AuditSettlementRecorded AuditAction = "settlement.recorded"
	AuditPaymentRecorded    AuditAction = "payment.recorded"
	AuditTripSpendClosed    AuditAction = "trip.spend_closed"
	AuditTripSpendReopened  AuditAction = "trip.spend_reopened"
)

// AuditEntry records who did what when.
type AuditEntry struct {
	At         time.Time
	Actor      ParticipantID
	TripID     TripID
	EntityType string
	EntityID   string
	Action     AuditAction
	Metadata   map[string]any
}

// AuditSink receives entries after the owning transaction commits.
// Record must not block and has no way to fail the mutation.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry)
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, AuditEntry) {}
