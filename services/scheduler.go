package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"twinlink/config"
	"twinlink/logger"
)

// CycleResult counts the outcome of one autopilot fan-out.
type CycleResult struct {
	Users     int64 `json:"users"`
	Completed int64 `json:"completed"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
}

// JobRunner owns the recurring triggers: autopilot, follow-up sweep, reward
// expiry and transcript archiving. Every job runs in singleton mode.
type JobRunner struct {
	sched     gocron.Scheduler
	autopilot *AutopilotService
	followups *FollowUpService
	rewards   *RewardService
	archive   *ArchiveService
	log       *logger.Logger
}

// NewJobRunner registers the jobs. archive may be nil.
func NewJobRunner(cfg *config.Config, loc *time.Location, clock clockwork.Clock, log *logger.Logger,
	autopilot *AutopilotService, followups *FollowUpService, rewards *RewardService, archive *ArchiveService,
) (*JobRunner, error) {
	log = log.With("service", "JobRunner")
	sched, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLocation(loc),
		gocron.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	r := &JobRunner{
		sched:     sched,
		autopilot: autopilot,
		followups: followups,
		rewards:   rewards,
		archive:   archive,
		log:       log,
	}

	type job struct {
		name     string
		interval time.Duration
		run      func(ctx context.Context)
	}
	jobs := []job{
		{"autopilot", cfg.Autopilot.RunInterval, func(ctx context.Context) { r.RunAutopilotCycle(ctx) }},
		{"followup-sweep", cfg.FollowUp.SweepInterval, func(ctx context.Context) {
			if _, err := r.followups.Sweep(ctx); err != nil {
				r.log.Error("follow-up sweep failed", "error", err)
			}
		}},
		{"reward-expiry", cfg.Gamification.ExpiryInterval, func(ctx context.Context) {
			if _, err := r.rewards.ExpireRewards(ctx); err != nil {
				r.log.Error("reward expiry failed", "error", err)
			}
		}},
	}
	if archive != nil {
		jobs = append(jobs, job{"session-archive", cfg.Archive.Interval, func(ctx context.Context) {
			if _, err := r.archive.ArchiveFinished(ctx, 100); err != nil {
				r.log.Error("session archive failed", "error", err)
			}
		}})
	}

	for _, j := range jobs {
		if j.interval <= 0 {
			r.log.Warn("job disabled", "job", j.name)
			continue
		}
		if _, err := sched.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(j.run),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return nil, err
		}
		r.log.Info("job registered", "job", j.name, "interval", j.interval)
	}
	return r, nil
}

func (r *JobRunner) Start() { r.sched.Start() }

func (r *JobRunner) Shutdown() error { return r.sched.Shutdown() }

// RunAutopilotCycle triggers autopilot for every enabled user with bounded
// parallelism. One user's failure does not stop the others.
func (r *JobRunner) RunAutopilotCycle(ctx context.Context) CycleResult {
	var res CycleResult
	prefs, err := r.autopilot.EnabledUsers(ctx)
	if err != nil {
		r.log.Error("autopilot cycle: list users failed", "error", err)
		return res
	}
	res.Users = int64(len(prefs))

	var completed, skipped, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.autopilot.concurrency)
	for _, p := range prefs {
		g.Go(func() error {
			_, err := r.autopilot.Run(ctx, p.UserID, p.Settings)
			switch {
			case err == nil:
				completed.Add(1)
			case errors.Is(err, ErrGateNotMet):
				skipped.Add(1)
			default:
				failed.Add(1)
				r.log.Warn("autopilot run failed", "userID", p.UserID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Completed, res.Skipped, res.Failed = completed.Load(), skipped.Load(), failed.Load()
	r.log.Info("autopilot cycle finished",
		"users", res.Users,
		"completed", res.Completed,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res
}
