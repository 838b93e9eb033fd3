/*
balance.go - Settlement calculator (pure functions)

PURPOSE:
  Turns a trip's expenses and assignments into per-participant balances
  and a short list of transfers that zeroes them. No side effects, no
  persistence; the same input always yields the same output.

BALANCES:
  For each live expense, every non-payer assignee owes their normalized
  share and the payer is owed the same amount:

    payer.IsOwed   += Σ non-payer NormalizedShareAmount
    assignee.Owes  += NormalizedShareAmount

  For a fully assigned expense this equals NormalizedAmount minus the
  payer's own share. Net balances always sum to exactly zero, even for
  partially assigned expenses.

TRANSFERS (greedy):
  Repeatedly match the largest debtor with the largest creditor and move
  min(|debt|, credit). Ties on magnitude go to the smaller participant id.
  Every step zeroes at least one participant, so N participants with a
  nonzero net need at most N-1 transfers. Arithmetic is in minor units,
  so the transfers reproduce the net balances exactly.

SEE ALSO:
  - settlement.go: Persists transfers as settlements
*/
package ledger

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/warp/spend-ledger/money"
)

// Balance is one participant's position in the trip base currency.
type Balance struct {
	Participant ParticipantID
	Owes        money.Money
	IsOwed      money.Money
}

// Net is IsOwed - Owes. Positive means the participant is a creditor.
func (b Balance) Net() money.Money {
	return money.New(b.IsOwed.Minor-b.Owes.Minor, b.IsOwed.Currency)
}

// Transfer is "From pays To Amount".
type Transfer struct {
	From   ParticipantID
	To     ParticipantID
	Amount money.Money
}

// BalanceReport is a point-in-time view of a trip.
type BalanceReport struct {
	TripID       TripID
	BaseCurrency money.Currency
	Balances     []Balance // ordered by participant
	Transfers    []Transfer
	AsOf         time.Time
}

// ComputeBalances aggregates live expenses. Deleted expenses are skipped.
// Every amount must already be in base.
//
// For each expense, every non-payer assignee owes their normalized share
// and the payer is owed the sum of those same shares. This differs from
// crediting the payer with normalizedAmount minus their own share whenever
// an expense is not fully assigned (force-closed or still open) or its
// normalized shares do not add up to normalizedAmount after rounding. In
// those cases the unassigned remainder stays with the payer, so the
// balances always net to zero and ComputeTransfers reproduces them exactly.
func ComputeBalances(expenses []Expense, assignments []Assignment, base money.Currency) (map[ParticipantID]Balance, error) {
	byExpense := make(map[ExpenseID][]Assignment)
	for _, a := range assignments {
		byExpense[a.ExpenseID] = append(byExpense[a.ExpenseID], a)
	}

	balances := make(map[ParticipantID]Balance)
	entry := func(p ParticipantID) Balance {
		b, ok := balances[p]
		if !ok {
			b = Balance{Participant: p, Owes: money.Zero(base), IsOwed: money.Zero(base)}
		}
		return b
	}

	for _, e := range expenses {
		if e.DeletedAt != nil {
			continue
		}
		if e.NormalizedAmount.Currency != base {
			return nil, fmt.Errorf("%w: expense %s normalized to %s, trip base is %s",
				ErrCurrencyMismatch, e.ID, e.NormalizedAmount.Currency.Code, base.Code)
		}
		payer := entry(e.Payer)
		for _, a := range byExpense[e.ID] {
			if a.NormalizedShareAmount.Currency != base {
				return nil, fmt.Errorf("%w: assignment %s is in %s, trip base is %s",
					ErrCurrencyMismatch, a.ID, a.NormalizedShareAmount.Currency.Code, base.Code)
			}
			if a.Participant == e.Payer {
				continue
			}
			debtor := entry(a.Participant)
			var err error
			if debtor.Owes, err = debtor.Owes.Add(a.NormalizedShareAmount); err != nil {
				return nil, moneyErr(err)
			}
			balances[a.Participant] = debtor
			if payer.IsOwed, err = payer.IsOwed.Add(a.NormalizedShareAmount); err != nil {
				return nil, moneyErr(err)
			}
		}
		balances[e.Payer] = payer
	}
	return balances, nil
}

type position struct {
	id  ParticipantID
	net int64
}

// ComputeTransfers reduces net balances to pairwise transfers. The
// balances must share one currency and net to zero.
func ComputeTransfers(balances map[ParticipantID]Balance) ([]Transfer, error) {
	var (
		cur       money.Currency
		haveCur   bool
		positions []position
		total     int64
	)
	for _, b := range balances {
		net := b.Net()
		if haveCur && net.Currency != cur {
			return nil, fmt.Errorf("%w: balances mix %s and %s", ErrCurrencyMismatch, cur.Code, net.Currency.Code)
		}
		cur, haveCur = net.Currency, true
		total += net.Minor
		if net.Minor != 0 {
			positions = append(positions, position{id: b.Participant, net: net.Minor})
		}
	}
	if total != 0 {
		return nil, fmt.Errorf("%w: balances net to %s, not zero", ErrInvalidAmount, money.New(total, cur))
	}
	slices.SortFunc(positions, func(a, b position) int { return cmp.Compare(a.id, b.id) })

	var transfers []Transfer
	for {
		debtor, creditor := -1, -1
		for i, p := range positions {
			switch {
			case p.net < 0 && (debtor < 0 || -p.net > -positions[debtor].net):
				debtor = i
			case p.net > 0 && (creditor < 0 || p.net > positions[creditor].net):
				creditor = i
			}
		}
		if debtor < 0 || creditor < 0 {
			break
		}
		amount := min(-positions[debtor].net, positions[creditor].net)
		transfers = append(transfers, Transfer{
			From:   positions[debtor].id,
			To:     positions[creditor].id,
			Amount: money.New(amount, cur),
		})
		positions[debtor].net += amount
		positions[creditor].net -= amount
	}
	return transfers, nil
}

// sortedBalances returns balances ordered by participant id.
func sortedBalances(balances map[ParticipantID]Balance) []Balance {
	out := make([]Balance, 0, len(balances))
	for _, b := range balances {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b Balance) int { return cmp.Compare(a.Participant, b.Participant) })
	return out
}

// report computes balances and transfers from one snapshot.
func report(ctx context.Context, tx Tx, tripID TripID) (*BalanceReport, error) {
	trip, err := tx.Trip(ctx, tripID, LockNone)
	if err != nil {
		return nil, err
	}
	expenses, err := tx.ListExpenses(ctx, tripID)
	if err != nil {
		return nil, err
	}
	assignments, err := tx.AssignmentsByTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	balances, err := ComputeBalances(expenses, assignments, trip.BaseCurrency)
	if err != nil {
		return nil, err
	}
	transfers, err := ComputeTransfers(balances)
	if err != nil {
		return nil, err
	}
	return &BalanceReport{
		TripID:       tripID,
		BaseCurrency: trip.BaseCurrency,
		Balances:     sortedBalances(balances),
		Transfers:    transfers,
	}, nil
}

// Balances returns the trip's current balances and suggested transfers.
func (l *Ledger) Balances(ctx context.Context, tripID TripID, actor ParticipantID) (*BalanceReport, error) {
	var out *BalanceReport
	err := l.op("balances", func() error {
		if _, err := l.tripRole(ctx, tripID, actor, RoleMember); err != nil {
			return err
		}
		return l.view(ctx, func(tx Tx) error {
			r, err := report(ctx, tx, tripID)
			if err != nil {
				return err
			}
			r.AsOf = l.timestamp()
			out = r
			return nil
		})
	})
	return out, err
}
