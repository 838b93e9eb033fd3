package ledger

import (
	"context"
	"fmt"
)

// Role is a trip member's role. Roles are ordered: member < organizer < owner.
type Role int

const (
	RoleNone Role = iota
	RoleMember
	RoleOrganizer
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleMember:
		return "member"
	case RoleOrganizer:
		return "organizer"
	case RoleOwner:
		return "owner"
	}
	return "none"
}

// ParseRole is the inverse of String.
func ParseRole(s string) (Role, error) {
	switch s {
	case "member":
		return RoleMember, nil
	case "organizer":
		return RoleOrganizer, nil
	case "owner":
		return RoleOwner, nil
	}
	return RoleNone, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
}

// AtLeast reports whether r grants min.
func (r Role) AtLeast(min Role) bool { return r >= min }

// Authorizer answers "what role does actor hold in trip?".
// Non-members yield an error wrapping ErrForbidden.
type Authorizer interface {
	RoleOf(ctx context.Context, tripID TripID, actor ParticipantID) (Role, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, tripID TripID, actor ParticipantID) (Role, error)

func (f AuthorizerFunc) RoleOf(ctx context.Context, tripID TripID, actor ParticipantID) (Role, error) {
	return f(ctx, tripID, actor)
}

// requireRole resolves actor's role and checks it against min.
func (l *Ledger) requireRole(ctx context.Context, tripID TripID, actor ParticipantID, min Role) (Role, error) {
	role, err := l.authz.RoleOf(ctx, tripID, actor)
	if err != nil {
		return RoleNone, err
	}
	if !role.AtLeast(min) {
		return role, fmt.Errorf("%w: %s is %s in trip %s, needs %s", ErrForbidden, actor, role, tripID, min)
	}
	return role, nil
}

// expenseRole resolves the trip owning expense id and actor's role in it.
// An expense never moves between trips, so the lookup can run outside the
// transaction that later locks the row.
func (l *Ledger) expenseRole(ctx context.Context, id ExpenseID, actor ParticipantID) (TripID, Role, error) {
	var tripID TripID
	err := l.view(ctx, func(tx Tx) error {
		exp, err := tx.Expense(ctx, id, LockNone)
		if err != nil {
			return err
		}
		tripID = exp.TripID
		return nil
	})
	if err != nil {
		return "", RoleNone, err
	}
	role, err := l.requireRole(ctx, tripID, actor, RoleMember)
	return tripID, role, err
}

// settlementRole is expenseRole for settlements.
func (l *Ledger) settlementRole(ctx context.Context, id SettlementID, actor ParticipantID) (TripID, Role, error) {
	var tripID TripID
	err := l.view(ctx, func(tx Tx) error {
		s, err := tx.Settlement(ctx, id, LockNone)
		if err != nil {
			return err
		}
		tripID = s.TripID
		return nil
	})
	if err != nil {
		return "", RoleNone, err
	}
	role, err := l.requireRole(ctx, tripID, actor, RoleMember)
	return tripID, role, err
}

// tripRole checks the trip exists and actor holds at least min in it.
func (l *Ledger) tripRole(ctx context.Context, id TripID, actor ParticipantID, min Role) (Role, error) {
	err := l.view(ctx, func(tx Tx) error {
		_, err := tx.Trip(ctx, id, LockNone)
		return err
	})
	if err != nil {
		return RoleNone, err
	}
	return l.requireRole(ctx, id, actor, min)
}
