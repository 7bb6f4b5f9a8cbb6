package gate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/steward-sh/steward/internal/fingerprint"
	"github.com/steward-sh/steward/internal/model"
	"github.com/steward-sh/steward/internal/scheduler"
)

// ItemKind classifies one entry of the ranked operator queue.
type ItemKind string

const (
	ItemRegression ItemKind = "regression"
	ItemApproval   ItemKind = "approval"
	ItemRunnable   ItemKind = "runnable_job"
	ItemWaiting    ItemKind = "waiting_job"
)

// queueRank is the fixed priority ordering: unacknowledged regressions
// first, then pending approvals, then runnable scheduled jobs, then
// everything else.
var queueRank = map[ItemKind]int{
	ItemRegression: 0,
	ItemApproval:   1,
	ItemRunnable:   2,
	ItemWaiting:    3,
}

// Item is one entry of the operator queue.
type Item struct {
	Kind         ItemKind  `json:"kind"`
	Fingerprint  string    `json:"fingerprint,omitempty"`
	ExecutionID  string    `json:"execution_id,omitempty"`
	JobID        string    `json:"job_id,omitempty"`
	Summary      string    `json:"summary"`
	Confidence   float64   `json:"confidence"`
	WaitingSince time.Time `json:"waiting_since"`
}

// Queue builds the ranked pending-work view: regressions awaiting
// acknowledgement, approvals awaiting a decision, scheduled jobs whose
// current window has not run, then the rest. Ties break by confidence
// descending, then by oldest wait.
func (g *Gate) Queue(ctx context.Context, sched *scheduler.Evaluator, jobs []scheduler.Job, now time.Time) ([]Item, error) {
	var items []Item

	regs, err := g.conf.PendingRegressions(ctx)
	if err != nil {
		return nil, err
	}
	for _, check := range regs {
		eff, err := g.conf.Effective(ctx, check.Fingerprint, now)
		if err != nil {
			return nil, err
		}
		items = append(items, Item{
			Kind:         ItemRegression,
			Fingerprint:  check.Fingerprint,
			Summary:      fmt.Sprintf("%s regression on %q (delta %.1f)", check.Severity, check.Command, check.Delta),
			Confidence:   eff.Decayed,
			WaitingSince: check.EvaluatedAt,
		})
	}

	pending, err := g.approvals.Pending(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range pending {
		eff, err := g.conf.Effective(ctx, rec.Fingerprint, now)
		if err != nil {
			return nil, err
		}
		items = append(items, Item{
			Kind:         ItemApproval,
			Fingerprint:  rec.Fingerprint,
			ExecutionID:  rec.ExecutionID,
			Summary:      fmt.Sprintf("approval pending for %q (%d steps)", rec.Plan.Goal, len(rec.Plan.Steps)),
			Confidence:   eff.Decayed,
			WaitingSince: rec.CreatedAt,
		})
	}

	if sched != nil {
		for _, job := range jobs {
			windowID, windowStart := sched.Window(job, now)
			runnable, err := sched.ShouldRun(ctx, job.JobID, windowID)
			if err != nil {
				return nil, err
			}
			fp := fingerprint.Command("", model.Normalize(job.Command))
			eff, err := g.conf.Effective(ctx, fp, now)
			if err != nil {
				return nil, err
			}

			kind := ItemWaiting
			summary := fmt.Sprintf("job %s ran for window %s", job.JobID, windowID)
			if runnable {
				kind = ItemRunnable
				summary = fmt.Sprintf("job %s due since %s", job.JobID, windowStart.Format(time.RFC3339))
			}
			items = append(items, Item{
				Kind:         kind,
				Fingerprint:  fp,
				JobID:        job.JobID,
				Summary:      summary,
				Confidence:   eff.Decayed,
				WaitingSince: windowStart,
			})
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if queueRank[items[i].Kind] != queueRank[items[j].Kind] {
			return queueRank[items[i].Kind] < queueRank[items[j].Kind]
		}
		if items[i].Confidence != items[j].Confidence {
			return items[i].Confidence > items[j].Confidence
		}
		return items[i].WaitingSince.Before(items[j].WaitingSince)
	})
	return items, nil
}
