// Package scheduler runs the core's only background job: a periodic KV
// housekeeping sweep. Adapted from the teacher's cron-based scheduler
// stub (every other piece of work in this system is request-driven, per
// spec §2 "no background scheduler is part of the core" beyond this).
package scheduler

import (
	"github.com/robfig/cron/v3"

	"github.com/peluqueria/booking-engine/internal/kv"
	"github.com/peluqueria/booking-engine/pkg/logger"
)

// sizer is satisfied by KV backends that can report their own size for
// housekeeping metrics. kv.MemoryStore implements it; the Redis backend
// expires keys natively and has nothing to report.
type sizer interface {
	Len() int
}

// Scheduler owns the cron loop.
type Scheduler struct {
	cron   *cron.Cron
	store  kv.Store
	logger logger.Logger
}

func New(store kv.Store, log logger.Logger) *Scheduler {
	return &Scheduler{cron: cron.New(), store: store, logger: log}
}

func (s *Scheduler) Start() {
	s.logger.Info("starting background scheduler")
	if _, err := s.cron.AddFunc("@every 1m", s.sweepHousekeeping); err != nil {
		s.logger.Error("failed to schedule housekeeping sweep", "error", err)
	}
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	s.logger.Info("stopping background scheduler")
	s.cron.Stop()
}

// sweepHousekeeping logs the in-memory KV backend's key count. Memory
// entries expire lazily on next access (kv.MemoryStore.Get/SetNX), so a
// session or dedupe key from an abandoned conversation can otherwise sit
// in the map indefinitely; this is a visibility sweep, not a deletion one,
// since deleting here would race the lazy-expiry check in Get/SetNX.
func (s *Scheduler) sweepHousekeeping() {
	sz, ok := s.store.(sizer)
	if !ok {
		return
	}
	s.logger.Debug("kv housekeeping sweep", "backend_keys", sz.Len())
}
