package jobs

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Evictor is the part of the room registry the sweeper drives.
type Evictor interface {
	EvictIdle(ttl time.Duration) []string
}

// SweeperConfig controls idle room eviction.
type SweeperConfig struct {
	Schedule string        // cron spec, e.g. "@every 1m"
	IdleTTL  time.Duration // 0 disables the sweeper
}

// RoomSweeper periodically evicts rooms that have sat empty past IdleTTL.
type RoomSweeper struct {
	rooms  Evictor
	config SweeperConfig
	cron   *cron.Cron
	log    *zap.Logger
}

func NewRoomSweeper(rooms Evictor, config SweeperConfig, log *zap.Logger) *RoomSweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &RoomSweeper{
		rooms:  rooms,
		config: config,
		cron:   cron.New(),
		log:    log,
	}
}

// Start schedules the sweep. It is a no-op when eviction is disabled.
func (s *RoomSweeper) Start() error {
	if s.config.IdleTTL <= 0 {
		s.log.Info("room eviction disabled, skipping sweeper")
		return nil
	}

	if _, err := s.cron.AddFunc(s.config.Schedule, func() { s.RunOnce() }); err != nil {
		return fmt.Errorf("failed to schedule room sweep: %w", err)
	}
	s.cron.Start()
	s.log.Info("room sweeper started",
		zap.String("schedule", s.config.Schedule),
		zap.Duration("idle_ttl", s.config.IdleTTL))
	return nil
}

// RunOnce performs a single sweep and returns the evicted room ids.
func (s *RoomSweeper) RunOnce() []string {
	evicted := s.rooms.EvictIdle(s.config.IdleTTL)
	if len(evicted) > 0 {
		s.log.Debug("room sweep finished", zap.Int("evicted", len(evicted)))
	}
	return evicted
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *RoomSweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
