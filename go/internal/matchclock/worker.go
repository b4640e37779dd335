package matchclock

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Run starts the worker pool and blocks until ctx is cancelled. On return
// every local timer has been stopped.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().
		Str("instance", s.instanceID).
		Int("workers", s.cfg.Workers).
		Msg("clock scheduler started")

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go s.worker(&wg, i)
	}

	<-ctx.Done()
	log.Info().Str("instance", s.instanceID).Msg("clock scheduler shutdown requested")

	s.cancel()
	wg.Wait()

	s.activeTimersMu.Lock()
	for roomID, armed := range s.activeTimers {
		stopAndDrainTimer(armed.timer)
		log.Debug().Str("room_id", roomID).Msg("cancelled timer on shutdown")
	}
	s.activeTimers = make(map[string]*armedTimer)
	s.activeTimersMu.Unlock()

	log.Info().Str("instance", s.instanceID).Msg("all clock workers shut down")
	return nil
}

// worker evaluates fired timers from the work channel
func (s *Scheduler) worker(wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	log.Debug().
		Str("instance", s.instanceID).
		Int("worker_id", workerID).
		Msg("clock worker started")

	for {
		select {
		case <-s.lifecycle.Done():
			return
		case f := <-s.workCh:
			if !s.beginEvaluation(f) {
				log.Debug().
					Str("room_id", f.RoomID).
					Int("worker_id", workerID).
					Msg("room already being evaluated, parked firing")
				continue
			}
			for {
				s.evaluate(f, workerID)
				next, ok := s.finishEvaluation(f.RoomID)
				if !ok {
					break
				}
				f = next
			}
		}
	}
}

func (s *Scheduler) evaluate(f firing, workerID int) {
	ctx, cancel := context.WithTimeout(s.lifecycle, s.cfg.EvaluateTimeout)
	defer cancel()

	if err := s.Evaluate(ctx, f); err != nil {
		log.Error().
			Err(err).
			Str("room_id", f.RoomID).
			Str("instance", s.instanceID).
			Int("worker_id", workerID).
			Msg("clock evaluation abandoned")
	}
}
