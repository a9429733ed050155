package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/portal-idjuv/casework/internal/application/port"
	"github.com/portal-idjuv/casework/internal/application/workflow"
	"github.com/portal-idjuv/casework/internal/domain/entity"
	domainwf "github.com/portal-idjuv/casework/internal/domain/workflow"
)

// DuePredicate decides whether a case is ready for its scheduled action.
type DuePredicate func(c *entity.Case, now time.Time) bool

// ScheduledRule fires Action, as the system actor, on every case of
// WorkflowType sitting in Status for which Due holds.
type ScheduledRule struct {
	Name         string
	WorkflowType string
	Status       domainwf.Status
	Action       domainwf.Action
	Note         string
	Due          DuePredicate
}

// DateBefore is due once the date in field is strictly before the current
// UTC date. Cases without a readable date are never due.
func DateBefore(field string) DuePredicate {
	return func(c *entity.Case, now time.Time) bool {
		d, ok := domainwf.ParseDate(c.Fields[field])
		if !ok {
			return false
		}
		y, m, day := now.UTC().Date()
		today := time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
		return d.Before(today)
	}
}

// DefaultRules are the automatic transitions of the built-in workflows.
func DefaultRules() []ScheduledRule {
	return []ScheduledRule{
		{
			Name:         "licenca_encerrar_vencidas",
			WorkflowType: workflow.TypeLicenca,
			Status:       "em_gozo",
			Action:       "encerrar",
			Note:         "encerrada automaticamente ao fim do período",
			Due:          DateBefore("data_fim"),
		},
	}
}

// RunResult summarises one pass over the rules.
type RunResult struct {
	Examined     int
	Transitioned int
	Skipped      int
	Failed       int
}

// SchedulerConfig holds configuration for the scheduled transitions worker
type SchedulerConfig struct {
	Spec  string
	Retry workflow.RetryPolicy
}

// DefaultSchedulerConfig returns default configuration
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Spec:  "@every 1h",
		Retry: workflow.DefaultRetryPolicy(),
	}
}

// Scheduler runs ScheduledRules on a cron schedule.
type Scheduler struct {
	config SchedulerConfig
	engine workflow.WorkflowEngine
	rules  []ScheduledRule
	clock  port.Clock
	logger *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	last    RunResult
	lastRun time.Time
}

// NewScheduler creates a scheduler for rules
func NewScheduler(config SchedulerConfig, engine workflow.WorkflowEngine, rules []ScheduledRule, clock port.Clock, logger *zap.Logger) *Scheduler {
	if clock == nil {
		clock = port.SystemClock
	}
	return &Scheduler{
		config: config,
		engine: engine,
		rules:  rules,
		clock:  clock,
		logger: logger,
	}
}

// Name returns the worker name for identification
func (s *Scheduler) Name() string {
	return "ScheduledTransitions"
}

// Start registers the cron entry and starts the cron loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("scheduler already running")
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{s.logger}),
		cron.SkipIfStillRunning(cronLogger{s.logger}),
	))
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx

	if _, err := c.AddFunc(s.config.Spec, func() {
		if _, err := s.RunOnce(runCtx); err != nil {
			s.logger.Error("Scheduled transitions run failed", zap.Error(err))
		}
	}); err != nil {
		s.cancel()
		return fmt.Errorf("invalid schedule %q: %w", s.config.Spec, err)
	}

	c.Start()
	s.cron = c

	s.logger.Info("Scheduler started",
		zap.String("spec", s.config.Spec),
		zap.Int("rules", len(s.rules)))
	return nil
}

// Stop waits for a running pass to finish and stops the cron loop
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	cancel := s.cancel
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	<-c.Stop().Done()

	s.logger.Info("Scheduler stopped")
	return nil
}

// LastRun reports the result of the latest completed pass
func (s *Scheduler) LastRun() (RunResult, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastRun
}

// RunOnce applies every rule once. Candidates are collected before any
// transition so the listing never observes its own writes. Cases moved by
// someone else in the meantime are skipped.
func (s *Scheduler) RunOnce(ctx context.Context) (RunResult, error) {
	var res RunResult
	var errs []error
	now := s.clock.Now()

	for _, rule := range s.rules {
		due := func(c *entity.Case) bool { return rule.Due(c, now) }
		candidates, err := workflow.Collect(s.engine.ListByStatus(ctx, rule.WorkflowType, rule.Status, due))
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.Name, err))
			continue
		}

		for _, c := range candidates {
			res.Examined++
			err := workflow.RetryOnConflict(ctx, s.config.Retry, func(ctx context.Context) error {
				_, err := s.engine.Transition(ctx, c.ID, rule.Action, entity.System(), workflow.TransitionInput{Note: rule.Note})
				return err
			})

			switch {
			case err == nil:
				res.Transitioned++
				s.logger.Info("Scheduled transition applied",
					zap.String("rule", rule.Name),
					zap.String("case_id", c.ID),
					zap.String("action", rule.Action.String()))
			case errors.Is(err, domainwf.ErrIllegalTransition):
				res.Skipped++
			default:
				res.Failed++
				s.logger.Warn("Scheduled transition failed",
					zap.String("rule", rule.Name),
					zap.String("case_id", c.ID),
					zap.Error(err))
				if ctx.Err() != nil {
					errs = append(errs, ctx.Err())
					return s.record(res), errors.Join(errs...)
				}
			}
		}
	}

	return s.record(res), errors.Join(errs...)
}

func (s *Scheduler) record(res RunResult) RunResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = res
	s.lastRun = s.clock.Now()
	return res
}

// cronLogger routes cron's own messages to zap.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
