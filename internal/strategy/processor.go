package strategy

import (
	"context"
	"time"

	"github.com/oddslab/tradegate/internal/types"
	"github.com/rs/zerolog/log"
)

// QuoteProvider supplies the market snapshot each run is evaluated against.
type QuoteProvider interface {
	Snapshot(ctx context.Context) (types.RunContext, error)
}

// Processor drives the executor on a fixed interval until its context is
// cancelled. Runs that overlap the interval are absorbed by the executor's
// single-flight guard.
type Processor struct {
	executor *Executor
	quotes   QuoteProvider
	interval time.Duration
}

// NewProcessor creates a run-loop processor.
func NewProcessor(executor *Executor, quotes QuoteProvider, interval time.Duration) *Processor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Processor{
		executor: executor,
		quotes:   quotes,
		interval: interval,
	}
}

// Start begins the run loop. It blocks until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "strategy_processor").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting strategy processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down strategy processor")
			return
		case <-ticker.C:
			rc, err := p.quotes.Snapshot(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("failed to snapshot market quotes")
				continue
			}

			result := p.executor.Run(ctx, rc)
			if len(result.Errors) > 0 {
				logger.Warn().
					Strs("errors", result.Errors).
					Msg("executor run finished with errors")
			}

			if _, err := p.executor.CleanupExpiredSignals(); err != nil {
				logger.Error().Err(err).Msg("failed to clean up expired signals")
			}
		}
	}
}
