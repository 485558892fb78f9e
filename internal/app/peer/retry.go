package peer

import (
	"context"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/rs/zerolog"
)

type retryPhase int

const (
	phaseIdle retryPhase = iota
	phaseAttempting
	phaseWaiting
	phaseSucceeded
	phaseExhausted
	phaseCancelled
)

// retrier drives a bounded sequence of construction attempts separated by a
// fixed delay. The delay is a timer bound to ctx, so cancelling ctx ends the
// sequence without a further attempt.
type retrier struct {
	participant domain.ParticipantID
	maxAttempts int
	delay       time.Duration
	logger      zerolog.Logger

	phase   retryPhase
	attempt int
	lastErr error
}

func (r *retrier) run(ctx context.Context, factory core.LinkFactory) (core.MediaLink, error) {
	for r.attempt < r.maxAttempts {
		if r.attempt > 0 {
			r.phase = phaseWaiting
			if err := sleep(ctx, r.delay); err != nil {
				r.phase = phaseCancelled
				return nil, err
			}
		}
		r.phase = phaseAttempting
		r.attempt++

		link, err := factory.NewLink(ctx, r.participant)
		if err == nil {
			if ctx.Err() != nil {
				_ = link.Close()
				r.phase = phaseCancelled
				return nil, ctx.Err()
			}
			r.phase = phaseSucceeded
			return link, nil
		}
		if ctx.Err() != nil {
			r.phase = phaseCancelled
			return nil, ctx.Err()
		}
		r.lastErr = err
		r.logger.Warn().Err(err).Int("attempt", r.attempt).Int("max_attempts", r.maxAttempts).Msg("link construction failed")
	}
	r.phase = phaseExhausted
	return nil, &core.ConnectionEstablishmentError{
		ParticipantID: r.participant,
		Attempts:      r.attempt,
		Err:           r.lastErr,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
