package plan

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Aggregator recomputes plan-level aggregates from the installment
// schedule. Paid counts are always derived by counting rows, never by
// incrementing the stored value, so replayed or out-of-order webhook
// events converge on the same totals.
type Aggregator struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewAggregator creates a new plan aggregator.
func NewAggregator(repo Repository, logger *zap.Logger) *Aggregator {
	return &Aggregator{repo: repo, logger: logger, now: time.Now}
}

// NextStatus computes the plan status implied by the schedule. Paused and
// cancelled plans keep their status, with one exception: a plan whose
// every installment is settled is completed no matter what.
func NextStatus(current PlanStatus, paid, total int, hasOverdue bool) PlanStatus {
	if total > 0 && paid >= total {
		return PlanStatusCompleted
	}
	if current.IsFrozen() {
		return current
	}
	if hasOverdue {
		return PlanStatusOverdue
	}
	return PlanStatusActive
}

// Recalculate reloads the plan's schedule and rewrites the derived
// columns: paid count, progress percentage, next due date and status.
func (a *Aggregator) Recalculate(ctx context.Context, planID uuid.UUID) error {
	p, err := a.repo.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	insts, err := a.repo.ListInstallments(ctx, planID)
	if err != nil {
		return err
	}

	now := a.now()
	paid := 0
	hasOverdue := false
	var nextDue *time.Time
	for i := range insts {
		inst := &insts[i]
		if inst.Status.CountsAsPaid() {
			paid++
			continue
		}
		if inst.Status == InstallmentCancelled {
			continue
		}
		if inst.Status == InstallmentOverdue || inst.DueDate.Before(now) {
			hasOverdue = true
		}
		if nextDue == nil || inst.DueDate.Before(*nextDue) {
			due := inst.DueDate
			nextDue = &due
		}
	}

	p.PaidInstallments = paid
	p.Progress = progressPercent(paid, p.TotalInstallments)
	p.NextDueDate = nextDue
	p.Status = NextStatus(p.Status, paid, p.TotalInstallments, hasOverdue)

	if err := a.repo.UpdatePlan(ctx, p); err != nil {
		return err
	}

	a.logger.Debug("plan aggregates recalculated",
		zap.String("plan_id", planID.String()),
		zap.Int("paid_installments", paid),
		zap.Int("progress", p.Progress),
		zap.String("status", string(p.Status)),
	)
	return nil
}

// RecordInstallmentPaid marks the installment paid and recalculates the
// owning plan.
func (a *Aggregator) RecordInstallmentPaid(ctx context.Context, inst *Installment) error {
	if err := a.repo.UpdateInstallmentStatus(ctx, inst.ID, InstallmentPaid); err != nil {
		return err
	}
	return a.Recalculate(ctx, inst.PlanID)
}

// AdjustForRefund moves the installment to its refunded state and
// recalculates the owning plan. Because refunded installments still count
// as paid, the plan's paid total never goes down here.
func (a *Aggregator) AdjustForRefund(ctx context.Context, inst *Installment, full bool) error {
	status := InstallmentPartiallyRefunded
	if full {
		status = InstallmentRefunded
	}
	if err := a.repo.UpdateInstallmentStatus(ctx, inst.ID, status); err != nil {
		return err
	}
	return a.Recalculate(ctx, inst.PlanID)
}

func progressPercent(paid, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(paid) / float64(total) * 100))
}
