package app

import (
	"context"

	"github.com/flemzord/memoir/internal/core"
	"github.com/flemzord/memoir/internal/cron"
)

// scheduleModule wraps the job scheduler so it participates in the App
// lifecycle after every configured module.
type scheduleModule struct {
	scheduler *cron.Scheduler
	disabled  bool
}

func (m *scheduleModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "memory.scheduler"}
}

func (m *scheduleModule) Start() error {
	if m.disabled {
		return nil
	}
	return m.scheduler.Start()
}

func (m *scheduleModule) Stop(ctx context.Context) error {
	if m.disabled {
		return nil
	}
	return m.scheduler.Stop(ctx)
}

// newScheduleModule registers the summary, rebuild and cache purge jobs on
// the schedules from the config. Job outcomes feed the metrics.
func newScheduleModule(rt *Runtime) (*scheduleModule, error) {
	logger := rt.Logger.With("component", "cron")
	s := cron.NewScheduler(logger)
	s.SetObserver(rt.Metrics.RecordJobRun)

	sched := rt.Config.Schedule
	jobs := []cron.Job{
		&cron.SummaryJob{Memory: rt.Memory, Logger: logger, ScheduleExpr: sched.Summary},
		&cron.IndexRebuildJob{Memory: rt.Memory, Logger: logger, ScheduleExpr: sched.Rebuild},
		&cron.CachePurgeJob{Memory: rt.Memory, Logger: logger, ScheduleExpr: sched.CachePurge},
	}
	for _, j := range jobs {
		if err := s.RegisterJob(j); err != nil {
			return nil, err
		}
	}
	rt.AppContext.RegisterService("cron.scheduler", s)
	if sched.Disabled {
		logger.Info("scheduled jobs disabled")
	}
	return &scheduleModule{scheduler: s, disabled: sched.Disabled}, nil
}
