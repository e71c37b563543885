// Package dispatch fans reviewer tasks out for a resolved pull request,
// gated on a parent issue and the re-review cycle budget.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/observability"
	"github.com/joescharf/prguard/internal/prcontext"
)

// Gate refusals.
var (
	ErrNoParentIssue   = errors.New("no parent issue referenced")
	ErrCycleCapReached = errors.New("re-review cycle cap reached")
)

// Bundle is the context every reviewer task receives. It is a value so each
// task owns its copy.
type Bundle struct {
	Repo       models.Repo
	PRNumber   int
	Parent     int
	BaseBranch string
	HeadSHA    string
	Title      string
}

// Task is one reviewer run: a bundle and the skill to apply.
type Task struct {
	Bundle Bundle
	Skill  string
}

// TaskResult is the findings batch one task produced.
type TaskResult struct {
	Skill    string
	Comments []models.ReviewComment
	Err      error
	Duration time.Duration
}

// Reviewer runs one review task.
type Reviewer interface {
	Review(ctx context.Context, task Task) ([]models.ReviewComment, error)
}

// Result is the outcome of a dispatch. Skipped carries the gate refusal when
// no tasks ran.
type Result struct {
	Tasks   []Task
	Results []TaskResult
	Skipped error
}

// Failed returns the results whose task errored.
func (r *Result) Failed() []TaskResult {
	var out []TaskResult
	for _, tr := range r.Results {
		if tr.Err != nil {
			out = append(out, tr)
		}
	}
	return out
}

// Comments concatenates every task's comments in skill order.
func (r *Result) Comments() []models.ReviewComment {
	var out []models.ReviewComment
	for _, tr := range r.Results {
		out = append(out, tr.Comments...)
	}
	return out
}

// Gate decides whether reviewers may run. It fails closed: without a parent
// issue, or once cycles reach the cap, nothing is dispatched.
func Gate(c *prcontext.Context, cycleCap int) error {
	if !c.HasParent() {
		return ErrNoParentIssue
	}
	if c.Cycles >= cycleCap {
		return fmt.Errorf("%w: %d of %d cycles used", ErrCycleCapReached, c.Cycles, cycleCap)
	}
	return nil
}

// Dispatcher runs reviewer tasks concurrently.
type Dispatcher struct {
	reviewer    Reviewer
	skills      []string
	cycleCap    int
	maxParallel int
	logger      *slog.Logger
}

// New creates a Dispatcher. maxParallel <= 0 runs every skill at once.
func New(r Reviewer, skills []string, cycleCap, maxParallel int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var uniq []string
	seen := make(map[string]bool)
	for _, s := range skills {
		if s != "" && !seen[s] {
			seen[s] = true
			uniq = append(uniq, s)
		}
	}
	if maxParallel <= 0 {
		maxParallel = max(len(uniq), 1)
	}
	return &Dispatcher{reviewer: r, skills: uniq, cycleCap: cycleCap, maxParallel: maxParallel, logger: logger}
}

// Plan applies the gate and returns one task per skill.
func (d *Dispatcher) Plan(c *prcontext.Context) ([]Task, error) {
	if err := Gate(c, d.cycleCap); err != nil {
		return nil, err
	}
	b := Bundle{
		Repo:       c.Repo,
		PRNumber:   c.PRNumber,
		Parent:     c.Parent,
		BaseBranch: c.BaseBranch,
		HeadSHA:    c.HeadSHA,
		Title:      c.Title,
	}
	tasks := make([]Task, 0, len(d.skills))
	for _, s := range d.skills {
		tasks = append(tasks, Task{Bundle: b, Skill: s})
	}
	return tasks, nil
}

// Dispatch gates and runs the reviewer tasks. A gate refusal is reported in
// Result.Skipped, not as an error. One task failing never cancels the others.
func (d *Dispatcher) Dispatch(ctx context.Context, c *prcontext.Context) (*Result, error) {
	tasks, err := d.Plan(c)
	if err != nil {
		decision := "no-parent-issue"
		if errors.Is(err, ErrCycleCapReached) {
			decision = "cycle-cap-reached"
		}
		observability.DispatchGates.WithLabelValues(decision).Inc()
		d.logger.Info("dispatch skipped", "pr", c.PRNumber, "reason", err)
		return &Result{Skipped: err}, nil
	}
	observability.DispatchGates.WithLabelValues("dispatched").Inc()

	p := pool.NewWithResults[TaskResult]().WithMaxGoroutines(d.maxParallel)
	for _, t := range tasks {
		p.Go(func() TaskResult {
			return d.run(ctx, t)
		})
	}
	results := p.Wait()

	// Report results in skill order regardless of completion order.
	order := make(map[string]int, len(tasks))
	for i, t := range tasks {
		order[t.Skill] = i
	}
	sorted := make([]TaskResult, len(results))
	for _, r := range results {
		sorted[order[r.Skill]] = r
	}

	return &Result{Tasks: tasks, Results: sorted}, ctx.Err()
}

func (d *Dispatcher) run(ctx context.Context, t Task) TaskResult {
	start := time.Now()
	comments, err := d.reviewer.Review(ctx, t)
	elapsed := time.Since(start)

	result := "ok"
	if err != nil {
		result = "error"
		d.logger.Error("reviewer task failed", "skill", t.Skill, "pr", t.Bundle.PRNumber, "err", err)
	} else {
		d.logger.Info("reviewer task done", "skill", t.Skill, "pr", t.Bundle.PRNumber, "comments", len(comments), "elapsed", elapsed)
	}
	observability.ReviewerTasks.WithLabelValues(t.Skill, result).Inc()
	observability.ReviewerLatency.WithLabelValues(t.Skill).Observe(elapsed.Seconds())

	return TaskResult{Skill: t.Skill, Comments: comments, Err: err, Duration: elapsed}
}
