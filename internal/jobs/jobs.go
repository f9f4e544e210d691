package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Rajchodisetti/vote-trader/internal/observ"
)

// Job is a unit of periodic ops work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Runner schedules jobs on cron specs. A job still running when its next
// slot comes up is skipped, never run twice at once.
type Runner struct {
	cron    *cron.Cron
	log     zerolog.Logger
	ctx     context.Context
	timeout time.Duration
}

// NewRunner builds a runner whose job contexts derive from ctx and are
// bounded by timeout.
func NewRunner(ctx context.Context, timeout time.Duration) *Runner {
	log := observ.Logger("jobs")
	cl := cronLogger{log: log}
	return &Runner{
		cron: cron.New(cron.WithLogger(cl), cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
		log:     log,
		ctx:     ctx,
		timeout: timeout,
	}
}

// Add registers job on spec ("@every 30s", "*/5 * * * *"). An empty spec
// leaves the job disabled and is not an error.
func (r *Runner) Add(spec string, job Job) error {
	if spec == "" {
		r.log.Info().Str("job", job.Name()).Msg("job disabled")
		return nil
	}
	_, err := r.cron.AddFunc(spec, func() { r.run(job) })
	if err != nil {
		return fmt.Errorf("job %s: schedule %q: %w", job.Name(), spec, err)
	}
	r.log.Info().Str("job", job.Name()).Str("schedule", spec).Msg("job registered")
	return nil
}

func (r *Runner) run(job Job) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := job.Run(ctx)
	observ.RecordDuration("job_duration", time.Since(start), map[string]string{"job": job.Name()})
	if err != nil {
		observ.IncCounter("job_failures_total", map[string]string{"job": job.Name()})
		r.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
		return
	}
	r.log.Debug().Str("job", job.Name()).Msg("job completed")
}

// RunNow executes job outside its schedule.
func (r *Runner) RunNow(job Job) error {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()
	return job.Run(ctx)
}

func (r *Runner) Start() {
	r.cron.Start()
	r.log.Info().Int("jobs", len(r.cron.Entries())).Msg("job runner started")
}

// Stop stops scheduling and waits for running jobs to return.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	r.log.Info().Msg("job runner stopped")
}

// cronLogger routes cron's own logging through zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug().Fields(kv).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error().Err(err).Fields(kv).Msg(msg)
}
