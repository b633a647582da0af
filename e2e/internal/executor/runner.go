package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/saaga0h/parkwatch/e2e/internal/checker"
	"github.com/saaga0h/parkwatch/e2e/internal/reporter"
	"github.com/saaga0h/parkwatch/e2e/internal/scenario"
)

// Runner plays a scenario against a running agent and checks expectations
type Runner struct {
	player    *Player
	observer  *Observer
	api       *checker.APIChecker
	postgres  *checker.PostgresChecker
	timeScale int
	logger    *slog.Logger
}

// NewRunner creates a runner. postgres may be nil, in which case postgres
// expectations fail with a reason.
func NewRunner(player *Player, observer *Observer, api *checker.APIChecker, postgres *checker.PostgresChecker, timeScale int, logger *slog.Logger) *Runner {
	return &Runner{
		player:    player,
		observer:  observer,
		api:       api,
		postgres:  postgres,
		timeScale: timeScale,
		logger:    logger,
	}
}

type step struct {
	at      int
	reading *scenario.Reading
	exp     *scenario.Expectation
}

// Run executes a scenario. Readings and checks due at the same second run
// readings first.
func (r *Runner) Run(ctx context.Context, s *scenario.Scenario) (*scenario.TestResult, []reporter.TimelineEvent, error) {
	virtualStart, err := s.Start(time.Now())
	if err != nil {
		return nil, nil, err
	}

	if err := r.observer.Start(s.Tenant); err != nil {
		return nil, nil, fmt.Errorf("failed to start observer: %w", err)
	}

	r.logger.Info("Starting scenario",
		"name", s.Name,
		"tenant", s.Tenant,
		"virtual_start", virtualStart.Format(time.RFC3339),
		"time_scale", r.timeScale)

	steps := make([]step, 0, len(s.Readings)+len(s.Expectations))
	for i := range s.Readings {
		steps = append(steps, step{at: s.Readings[i].At, reading: &s.Readings[i]})
	}
	for i := range s.Expectations {
		steps = append(steps, step{at: s.Expectations[i].At, exp: &s.Expectations[i]})
	}
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].at != steps[j].at {
			return steps[i].at < steps[j].at
		}
		return steps[i].reading != nil && steps[j].reading == nil
	})

	result := &scenario.TestResult{Scenario: s.Name, StartTime: time.Now()}
	var timeline []reporter.TimelineEvent

	for _, st := range steps {
		if err := WaitUntil(ctx, result.StartTime, st.at, r.timeScale); err != nil {
			return nil, nil, err
		}
		elapsed := time.Since(result.StartTime).Seconds()

		if st.reading != nil {
			at := virtualStart.Add(time.Duration(st.at) * time.Second)
			if err := r.player.Publish(s.Tenant, *st.reading, at); err != nil {
				return nil, nil, fmt.Errorf("failed to publish reading at %ds: %w", st.at, err)
			}
			timeline = append(timeline, reporter.TimelineEvent{
				Elapsed:     elapsed,
				Layer:       "reading",
				Description: fmt.Sprintf("%s %v (%s)", st.reading.Device, st.reading.Payload, st.reading.Description),
			})
			continue
		}

		er := r.check(ctx, s.Tenant, st.exp)
		result.Expectations = append(result.Expectations, er)
		if er.Passed {
			result.PassedCount++
			r.logger.Info("Expectation passed", "kind", er.Kind, "description", er.Description)
		} else {
			result.FailedCount++
			r.logger.Warn("Expectation failed", "kind", er.Kind, "description", er.Description, "reason", er.Reason)
		}

		timeline = append(timeline, reporter.TimelineEvent{
			Elapsed:     elapsed,
			Layer:       er.Kind,
			Description: er.Description,
			Success:     er.Passed,
			IsCheck:     true,
		})
	}

	result.EndTime = time.Now()
	result.Passed = result.FailedCount == 0
	return result, timeline, nil
}

func (r *Runner) check(ctx context.Context, tenantID string, exp *scenario.Expectation) scenario.ExpectationResult {
	er := scenario.ExpectationResult{Kind: exp.Kind(), Description: exp.Description}

	switch {
	case exp.Feed != nil:
		er.Passed, er.Reason, er.Actual = checker.CheckFeed(exp.Feed, r.observer.Messages())
	case exp.API != nil:
		er.Passed, er.Reason, er.Actual = r.api.Check(ctx, tenantID, exp.API)
	case exp.Postgres != nil:
		if r.postgres == nil {
			er.Reason = "postgres checks need --postgres-check"
			return er
		}
		er.Passed, er.Reason, er.Actual = r.postgres.Check(ctx, exp.Postgres)
	}

	if er.Description == "" {
		er.Description = er.Kind
	}
	return er
}
