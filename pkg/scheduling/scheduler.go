// Package scheduling fires Cron triggers and Cron bookmarks on their schedule.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/novotx/elsa-core/pkg/activities"
	"github.com/novotx/elsa-core/pkg/eventbus"
	"github.com/novotx/elsa-core/pkg/events"
	"github.com/novotx/elsa-core/pkg/persistence"
	"github.com/novotx/elsa-core/pkg/runtime"
	"github.com/robfig/cron/v3"
)

// Runner is the runtime operation a firing schedule calls.
type Runner interface {
	TriggerWorkflows(ctx context.Context, activityTypeName string, payload any, opts runtime.TriggerWorkflowsOptions) ([]runtime.WorkflowExecutionResult, error)
}

type job struct {
	expression string
	entryID    cron.EntryID
}

// Scheduler keeps one cron entry per distinct Cron trigger hash.
type Scheduler struct {
	triggers persistence.TriggerRepository
	runner   Runner
	logger   *slog.Logger
	cron     *cron.Cron

	mu   sync.Mutex
	jobs map[string]job // keyed by trigger hash

	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(triggers persistence.TriggerRepository, runner Runner, logger *slog.Logger) *Scheduler {
	logger = logger.With("module", "cron_scheduler")
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		triggers: triggers,
		runner:   runner,
		logger:   logger,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLogger),
			cron.Recover(cronLogger),
		)),
		jobs:   make(map[string]job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start loads the Cron triggers and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	err := s.Sync(ctx)
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Cron scheduler started", "jobs", s.Len())

	return nil
}

// Sync reconciles the cron entries with the Cron triggers in the index: new hashes are
// scheduled, hashes no longer indexed are removed.
func (s *Scheduler) Sync(ctx context.Context) error {
	triggers, err := s.triggers.FindByActivityType(ctx, activities.TypeCron)
	if err != nil {
		return fmt.Errorf("failed to load cron triggers: %w", err)
	}

	wanted := make(map[string]string, len(triggers))

	for _, t := range triggers {
		expression, err := activities.ParseCronPayload(t.Payload)
		if err != nil {
			s.logger.ErrorContext(ctx, "Skipping cron trigger", "trigger_id", t.ID, "definition_id", t.WorkflowDefinitionID, "error", err)

			continue
		}

		wanted[t.Hash] = expression
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, j := range s.jobs {
		if _, ok := wanted[hash]; !ok {
			s.cron.Remove(j.entryID)
			delete(s.jobs, hash)
			s.logger.InfoContext(ctx, "Removed cron job", "expression", j.expression)
		}
	}

	for hash, expression := range wanted {
		if _, ok := s.jobs[hash]; ok {
			continue
		}

		entryID, err := s.cron.AddFunc(expression, func() { s.fire(expression) })
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to add cron job", "expression", expression, "error", err)

			continue
		}

		s.jobs[hash] = job{expression: expression, entryID: entryID}
		s.logger.InfoContext(ctx, "Added cron job", "expression", expression, "entry_id", entryID)
	}

	return nil
}

// Subscribe re-synchronizes whenever the trigger index changes.
func (s *Scheduler) Subscribe(subscriber eventbus.EventSubscriber) error {
	return subscriber.Handle(events.TriggersIndexedEvent, func(ctx context.Context, _ any) error {
		return s.Sync(ctx)
	})
}

// Len returns the number of scheduled expressions.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.jobs)
}

// Fire runs the jobs of expression immediately.
func (s *Scheduler) Fire(expression string) {
	s.fire(expression)
}

func (s *Scheduler) fire(expression string) {
	logger := s.logger.With("expression", expression)

	results, err := s.runner.TriggerWorkflows(s.ctx, activities.TypeCron, activities.CronPayload(expression), runtime.TriggerWorkflowsOptions{})
	if err != nil {
		logger.ErrorContext(s.ctx, "Cron trigger failed", "error", err)

		return
	}

	logger.DebugContext(s.ctx, "Cron trigger fired", "workflows", len(results))
}

// Stop stops the cron loop and waits for running jobs.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.jobs = make(map[string]job)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Cron scheduler stopped")

	return nil
}
