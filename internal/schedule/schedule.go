// Package schedule splits an unpaid balance into dated installments.
package schedule

import (
	"fmt"
	"time"

	"caixa/backend/internal/domain"
)

const dateLayout = "2006-01-02"

// Plan splits remainingCents into count installments due every intervalDays
// after start. Leftover cents from the integer division go to the last
// installment so the plan sums to remainingCents exactly.
func Plan(remainingCents int64, count int, intervalDays int, start time.Time) ([]domain.Installment, error) {
	if count < 1 {
		return nil, &domain.InvalidScheduleError{Reason: "count must be at least 1"}
	}
	if remainingCents <= 0 {
		return nil, &domain.InvalidScheduleError{Reason: "nothing left to schedule"}
	}
	if int64(count) > remainingCents {
		return nil, &domain.InvalidScheduleError{Reason: fmt.Sprintf("cannot split %d cents into %d installments", remainingCents, count)}
	}
	if intervalDays <= 0 {
		intervalDays = domain.DefaultInstallmentIntervalDays
	}

	base := remainingCents / int64(count)
	leftover := remainingCents % int64(count)
	day := DateOnly(start)

	plan := make([]domain.Installment, 0, count)
	for i := 1; i <= count; i++ {
		amount := base
		if i == count {
			amount += leftover
		}
		plan = append(plan, domain.Installment{
			Sequence:    i,
			AmountCents: amount,
			DueDate:     day.AddDate(0, 0, i*intervalDays),
			Status:      domain.InstallmentStatusPending,
		})
	}
	return plan, nil
}

// ApplyDueDates replaces the generated due dates with caller-chosen ones.
// Amounts are untouched. Every date must fall after notBefore and dates may
// not go backwards across the sequence.
func ApplyDueDates(plan []domain.Installment, dueDates []time.Time, notBefore time.Time) ([]domain.Installment, error) {
	if len(dueDates) != len(plan) {
		return nil, &domain.InvalidScheduleError{Reason: fmt.Sprintf("expected %d due dates, got %d", len(plan), len(dueDates))}
	}
	floor := DateOnly(notBefore)
	out := make([]domain.Installment, len(plan))
	for i, inst := range plan {
		due := DateOnly(dueDates[i])
		if !due.After(floor) {
			return nil, &domain.InvalidScheduleError{Reason: fmt.Sprintf("installment %d is not due in the future", inst.Sequence)}
		}
		if i > 0 && due.Before(out[i-1].DueDate) {
			return nil, &domain.InvalidScheduleError{Reason: fmt.Sprintf("installment %d is due before installment %d", inst.Sequence, inst.Sequence-1)}
		}
		inst.DueDate = due
		out[i] = inst
	}
	return out, nil
}

func Sum(plan []domain.Installment) int64 {
	var total int64
	for _, inst := range plan {
		total += inst.AmountCents
	}
	return total
}

func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, &domain.InvalidScheduleError{Reason: fmt.Sprintf("date %q must use YYYY-MM-DD", raw)}
	}
	return t, nil
}

func ParseDates(raw []string) ([]time.Time, error) {
	out := make([]time.Time, 0, len(raw))
	for _, r := range raw {
		t, err := ParseDate(r)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
