package workers

import (
	"fmt"
	"log"
	"time"

	"github.com/BVStecnologia/Healt-Solution-sub001/services"
	"github.com/robfig/cron/v3"
)

// Scheduler drives the four automation passes on a fixed wall-clock cadence,
// plus one delayed run shortly after process start. Passes run sequentially
// to bound outbound call volume; each is fault-isolated so one failing pass
// never blocks the others, in this tick or later ones.
type Scheduler struct {
	Reminders *ReminderWorker
	NoShows   *NoShowWorker
	Retries   *RetryWorker
	Handoff   *services.HandoffService

	tickMinutes  int
	initialDelay time.Duration
	c            *cron.Cron
}

func NewScheduler(reminders *ReminderWorker, noShows *NoShowWorker, retries *RetryWorker, handoff *services.HandoffService, tickMinutes int, initialDelay time.Duration) *Scheduler {
	return &Scheduler{
		Reminders:    reminders,
		NoShows:      noShows,
		Retries:      retries,
		Handoff:      handoff,
		tickMinutes:  tickMinutes,
		initialDelay: initialDelay,
	}
}

// Start registers the cron entry and schedules the delayed initial run.
func (s *Scheduler) Start() error {
	// The cron step restarts at the top of every hour, so ticks are only
	// evenly spaced (and reminder windows only partition the timeline)
	// when the cadence divides 60.
	if s.tickMinutes <= 0 || 60%s.tickMinutes != 0 {
		return fmt.Errorf("tick cadence must evenly divide the hour, got %d minutes", s.tickMinutes)
	}

	spec := fmt.Sprintf("*/%d * * * *", s.tickMinutes)

	s.c = cron.New()
	if _, err := s.c.AddFunc(spec, s.RunTick); err != nil {
		return fmt.Errorf("failed to register tick schedule %q: %w", spec, err)
	}
	s.c.Start()

	// Let other subsystems finish initializing before the first full tick.
	time.AfterFunc(s.initialDelay, s.RunTick)

	log.Printf("Scheduler: started (cadence %q, first run in %s)", spec, s.initialDelay)
	return nil
}

// Stop halts the cron timer. In-flight passes finish on their own.
func (s *Scheduler) Stop() {
	if s.c != nil {
		s.c.Stop()
	}
}

// RunTick executes the four passes, in order. Also invoked by the admin
// surface for manual runs.
func (s *Scheduler) RunTick() {
	started := time.Now()

	s.runPass("reminders", s.Reminders.Run)
	s.runPass("no-shows", s.NoShows.Run)
	s.runPass("retries", s.Retries.Run)
	s.runPass("handoff reconciliation", func() {
		if err := s.Handoff.SweepStale(); err != nil {
			log.Printf("Scheduler: handoff reconciliation: %v", err)
		}
	})

	log.Printf("Scheduler: tick finished in %s", time.Since(started).Round(time.Millisecond))
}

// runPass isolates one pass so a panic or error inside it cannot prevent the
// remaining passes from running.
func (s *Scheduler) runPass(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Scheduler: %s pass panicked: %v", name, r)
		}
	}()

	fn()
}
