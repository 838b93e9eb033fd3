package ledger

import (
	"context"
)

// CloseTripSpend freezes every expense in the trip. Organizer only, no
// preconditions. Closing a closed trip returns it unchanged.
func (l *Ledger) CloseTripSpend(ctx context.Context, tripID TripID, actor ParticipantID) (*Trip, error) {
	return l.setTripSpend(ctx, "close_trip_spend", tripID, actor, StatusClosed)
}

// ReopenTripSpend lifts the trip-wide freeze. Organizer only.
func (l *Ledger) ReopenTripSpend(ctx context.Context, tripID TripID, actor ParticipantID) (*Trip, error) {
	return l.setTripSpend(ctx, "reopen_trip_spend", tripID, actor, StatusOpen)
}

func (l *Ledger) setTripSpend(ctx context.Context, op string, tripID TripID, actor ParticipantID, status Status) (*Trip, error) {
	var out *Trip
	err := l.op(op, func() error {
		if _, err := l.tripRole(ctx, tripID, actor, RoleOrganizer); err != nil {
			return err
		}
		return l.tx(ctx, func(tx Tx, rec *recorder) error {
			trip, err := tx.Trip(ctx, tripID, LockUpdate)
			if err != nil {
				return err
			}
			out = trip
			if trip.SpendStatus == status {
				return nil
			}

			trip.SpendStatus = status
			action := AuditTripSpendReopened
			if status == StatusClosed {
				at := rec.at
				trip.SpendClosedAt = &at
				trip.SpendClosedBy = actor
				action = AuditTripSpendClosed
			} else {
				trip.SpendClosedAt = nil
				trip.SpendClosedBy = ""
			}
			if err := tx.UpdateTripSpend(ctx, trip); err != nil {
				return err
			}
			rec.add(action, actor, tripID, "trip", string(tripID), nil)
			return nil
		})
	})
	return out, err
}
