// Package scheduler provides cron-based scheduling of outbound check-in
// calls.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/luminacare/checkincall/internal/telephony"
)

// callTimeout bounds how long one scheduled dial attempt may take.
const callTimeout = 30 * time.Second

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// CallScheduler places recurring check-in calls on a cron schedule.
type CallScheduler struct {
	sched     *Scheduler
	caller    telephony.VoiceCaller
	answerURL string
}

// NewCallScheduler creates a call scheduler that dials through caller and
// points answered calls at answerURL for their TwiML instructions.
func NewCallScheduler(caller telephony.VoiceCaller, answerURL string) *CallScheduler {
	return &CallScheduler{
		sched:     NewScheduler(),
		caller:    caller,
		answerURL: answerURL,
	}
}

// ScheduleCheckIn registers a recurring check-in call to the phone number.
// A failed dial attempt is logged and retried at the next scheduled slot.
func (s *CallScheduler) ScheduleCheckIn(expr, phone string) error {
	if err := s.sched.AddJob(expr, func() { s.placeCall(phone) }); err != nil {
		return err
	}
	slog.Info("CallScheduler.ScheduleCheckIn: check-in scheduled", "expr", expr, "phone", phone)
	return nil
}

func (s *CallScheduler) placeCall(phone string) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	sid, err := s.caller.PlaceCall(ctx, phone, s.answerURL)
	if err != nil {
		slog.Error("CallScheduler.placeCall: dial failed", "error", err, "phone", phone)
		return
	}
	slog.Info("CallScheduler.placeCall: check-in call placed", "phone", phone, "sid", sid)
}

// Stop stops the underlying cron scheduler.
func (s *CallScheduler) Stop() {
	s.sched.Stop()
}
