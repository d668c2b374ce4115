package game

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper periodically marks players disconnected when their last heartbeat
// fell behind the timeout. It only nudges live runtimes; sessions nobody has
// touched since the process started have no connected players to sweep.
type Sweeper struct {
	hub     *Hub
	logger  zerolog.Logger
	scan    time.Duration
	timeout time.Duration
}

func NewSweeper(hub *Hub, scan, timeout time.Duration, logger zerolog.Logger) *Sweeper {
	if scan <= 0 {
		scan = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Sweeper{
		hub:     hub,
		logger:  logger.With().Str("component", "heartbeat_sweeper").Logger(),
		scan:    scan,
		timeout: timeout,
	}
}

// Run blocks until context cancellation.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.scan)
	defer ticker.Stop()

	// run immediately
	s.tick()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Sweeper) tick() {
	cutoff := time.Now().Add(-s.timeout)
	for _, rt := range s.hub.Runtimes() {
		rt.TrySweep(cutoff)
	}
}
