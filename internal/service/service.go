package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vector-10/compound-safe/internal/engine"
	"github.com/vector-10/compound-safe/internal/scheduler"
)

// Service drives the alert engine from the evaluation scheduler.
type Service struct {
	scheduler *scheduler.Scheduler
	engine    *engine.Engine
	logger    zerolog.Logger
}

// New constructs the monitoring service.
func New(sched *scheduler.Scheduler, eng *engine.Engine, logger zerolog.Logger) *Service {
	return &Service{
		scheduler: sched,
		engine:    eng,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the periodic evaluation loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.engine.EvaluateAll)
}
