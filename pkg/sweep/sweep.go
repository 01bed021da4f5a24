// Package sweep periodically expires stale workflow requests.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/torvus-labs/torvus-console/pkg/logging"
)

// Expirer moves requests that outlived their window to expired
type Expirer interface {
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

// Job is a named Expirer
type Job struct {
	Name    string
	Expirer Expirer
}

// Sweeper runs every job on a cron schedule
type Sweeper struct {
	Cron *cron.Cron
	jobs []Job
	now  func() time.Time
}

// New schedules jobs with a standard cron spec or descriptor such as "@every 1m"
func New(schedule string, jobs ...Job) (*Sweeper, error) {
	s := &Sweeper{
		Cron: cron.New(),
		jobs: jobs,
		now:  func() time.Time { return time.Now().UTC() },
	}
	_, err := s.Cron.AddFunc(schedule, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			logging.Log().WithError(err).Error("sweep failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// RunOnce runs every job now and returns how many requests each expired.
// A failing job does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) (map[string]int, error) {
	now := s.now()
	counts := make(map[string]int, len(s.jobs))
	var errs []error
	for _, j := range s.jobs {
		n, err := j.Expirer.ExpireStale(ctx, now)
		counts[j.Name] = n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", j.Name, err))
			continue
		}
		if n > 0 {
			logging.WithFields(logrus.Fields{"workflow": j.Name, "expired": n}).Info("expired stale requests")
		}
	}
	return counts, errors.Join(errs...)
}

func (s *Sweeper) Start() {
	s.Cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	<-s.Cron.Stop().Done()
}
