// Package jobs is the Job Trigger Engine — spec.md §4.8. Webhook requests
// and a polling cron scheduler both create a JobRun and, when configured,
// drive an LLM session from a synthesized user message, grounded on the
// teacher's Worker poll loop (pkg/queue/worker.go: stopCh/stopOnce/wg
// "run until signaled" shape) adapted from session-queue draining to
// cron-schedule evaluation, using robfig/cron/v3's standard parser for the
// "would this schedule have fired since lastRunAt" check spec.md §4.8
// calls for.
package jobs

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/chat"
	"github.com/infrallm/infrallm/pkg/llm"
	"github.com/infrallm/infrallm/pkg/store"
)

// PollInterval is how often the cron scheduler checks enabled jobs —
// spec.md §4.8 "every 30s".
const PollInterval = 30 * time.Second

// RunTimeout bounds one job-triggered session's wall clock — spec.md §7's
// "Cron/webhook tasks honor a per-run wall-clock deadline (default 5 min)".
const RunTimeout = 5 * time.Minute

// SystemActorUserID is the synthetic user identity attributed to
// webhook/cron-triggered sessions and command executions, since a Job has
// no owning human user.
const SystemActorUserID = "system"

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Engine evaluates cron schedules and accepts webhook calls, spawning
// JobRuns and, when configured, driving the LLM orchestrator.
type Engine struct {
	jobs         store.JobRepository
	jobRuns      store.JobRunRepository
	sessions     store.SessionRepository
	chatManager  *chat.Manager
	orchestrator *llm.Orchestrator

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger *slog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(
	jobs store.JobRepository,
	jobRuns store.JobRunRepository,
	sessions store.SessionRepository,
	chatManager *chat.Manager,
	orchestrator *llm.Orchestrator,
) *Engine {
	return &Engine{
		jobs:         jobs,
		jobRuns:      jobRuns,
		sessions:     sessions,
		chatManager:  chatManager,
		orchestrator: orchestrator,
		stopCh:       make(chan struct{}),
		logger:       slog.Default(),
	}
}

// Start launches the cron polling loop in its own goroutine.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.run(ctx)
}

// Stop signals the polling loop to exit and waits for it to finish. Safe to
// call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollOnce(ctx)
		}
	}
}

// pollOnce loads every enabled cron job and fires those whose schedule
// would have produced a tick since lastRunAt — spec.md §4.8. LastRunAt is
// advanced before the run starts, acting as the deduplication lock so a
// slow run doesn't get double-fired by the next tick.
func (e *Engine) pollOnce(ctx context.Context) {
	jobList, err := e.jobs.ListEnabledCron(ctx)
	if err != nil {
		e.logger.Error("jobs: list enabled cron jobs", "error", err)
		return
	}

	now := time.Now()
	for _, job := range jobList {
		schedule, err := cronParser.Parse(job.CronSchedule)
		if err != nil {
			// Malformed schedules disable scheduling but stay visible, per
			// spec.md §4.8 — don't loop-log every poll, just skip.
			continue
		}

		since := job.CreatedAt
		if job.LastRunAt != nil {
			since = *job.LastRunAt
		}
		if schedule.Next(since).After(now) {
			continue
		}

		if err := e.jobs.UpdateLastRunAt(ctx, job.ID, now); err != nil {
			e.logger.Error("jobs: update last run at", "error", err, "jobId", job.ID)
			continue
		}

		e.fire(job, store.TriggeredByCron, "")
	}
}

// TriggerWebhook validates secret against job's configured webhook secret
// in constant time, creates a received JobRun, and (if autoRunLlm) drives
// an LLM session with payload — spec.md §4.8's webhook ingress.
func (e *Engine) TriggerWebhook(ctx context.Context, organizationID, jobID, secret, payload string) (*store.JobRun, error) {
	job, err := e.jobs.Get(ctx, organizationID, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsEnabled {
		return nil, apperr.Invalid("job is disabled")
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(job.WebhookSecret)) != 1 {
		return nil, apperr.Forbidden("invalid webhook secret")
	}

	return e.fire(job, store.TriggeredByWebhook, payload), nil
}

// fire creates the JobRun record and, if configured, launches the LLM
// session asynchronously under the Chat Task Manager so cancellation and
// shutdown draining behave identically to interactive chat tasks.
func (e *Engine) fire(job *store.Job, triggeredBy store.TriggeredBy, payload string) *store.JobRun {
	run := &store.JobRun{
		ID:          uuid.NewString(),
		JobID:       job.ID,
		TriggeredBy: triggeredBy,
		Status:      store.JobRunReceived,
		Payload:     payload,
		CreatedAt:   time.Now(),
	}
	if err := e.jobRuns.Create(context.Background(), run); err != nil {
		e.logger.Error("jobs: create job run", "error", err, "jobId", job.ID)
		return run
	}

	if !job.AutoRunLLM {
		return run
	}

	session := &store.Session{
		ID:              uuid.NewString(),
		OrganizationID:  job.OrganizationID,
		UserID:          SystemActorUserID,
		IsJobRunSession: true,
		CreatedAt:       time.Now(),
	}
	if err := e.sessions.Create(context.Background(), session); err != nil {
		e.logger.Error("jobs: create job run session", "error", err, "jobId", job.ID)
		e.failRun(run.ID, err)
		return run
	}

	sessionID := session.ID
	run.SessionID = &sessionID

	userMessage := job.Prompt
	if payload != "" {
		userMessage = fmt.Sprintf("%s\n\nWebhook payload:\n%s", job.Prompt, payload)
	}

	err := e.chatManager.Start(session.ID, func(ctx context.Context) {
		runCtx, cancel := context.WithTimeout(ctx, RunTimeout)
		defer cancel()

		msg, err := e.orchestrator.SendMessageStream(runCtx, session, SystemActorUserID, userMessage, "", nil, nil)
		if err != nil {
			e.failRun(run.ID, err)
			return
		}
		e.completeRun(run.ID, msg.Content)
	})
	if err != nil {
		e.logger.Error("jobs: start job run task", "error", err, "jobId", job.ID)
		e.failRun(run.ID, err)
	}

	return run
}

func (e *Engine) completeRun(runID, response string) {
	if err := e.jobRuns.UpdateStatus(context.Background(), runID, store.JobRunCompleted, &response); err != nil {
		e.logger.Error("jobs: mark run completed", "error", err, "runId", runID)
	}
}

func (e *Engine) failRun(runID string, cause error) {
	msg := cause.Error()
	if err := e.jobRuns.UpdateStatus(context.Background(), runID, store.JobRunFailed, &msg); err != nil {
		e.logger.Error("jobs: mark run failed", "error", err, "runId", runID)
	}
}
