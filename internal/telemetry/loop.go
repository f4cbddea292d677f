package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/hwmqtt/internal/hardware"
	"github.com/nerrad567/hwmqtt/internal/sensor"
)

// Skip reasons reported in metrics.
const (
	skipNoValue   = "no_value"
	skipUnmatched = "unmatched"
)

// tickResult summarises one pass of the update loop.
type tickResult struct {
	published int
	failed    int
	noValue   int
	unmatched int
}

// loop publishes state values until ctx is cancelled. It returns a non-nil
// error only for fatal failures.
//
// The sleep between ticks is the full interval. Time spent in a tick is
// logged, not subtracted.
func (s *Service) loop(ctx context.Context, r *run, cat *sensor.Catalog) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		start := time.Now()
		res, err := s.tick(ctx, r, cat)
		elapsed := time.Since(start)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		s.metrics.observeTick(elapsed)
		s.logger.Debug("sensor update and publish complete",
			"run_id", r.id,
			"elapsed", elapsed,
			"published", res.published,
			"failed", res.failed,
			"no_value", res.noValue,
			"unmatched", res.unmatched,
		)

		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// tick refreshes the source and publishes every matched sensor with a value.
// Publishes run concurrently and are all joined before tick returns.
func (s *Service) tick(ctx context.Context, r *run, cat *sensor.Catalog) (res tickResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", ErrLoopFatal, p)
		}
	}()

	src := r.source()
	if err := src.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return res, nil
		}
		if errors.Is(err, hardware.ErrReleased) {
			return res, fmt.Errorf("%w: %w", ErrLoopFatal, err)
		}
		s.logger.Warn("hardware refresh incomplete", "run_id", r.id, "error", err)
	}

	pub := r.publisher()
	var g errgroup.Group
	g.SetLimit(s.opts.MaxConcurrentPublishes)

	var published, failed atomic.Int64

dispatch:
	for _, unit := range src.Hardware() {
		for _, live := range unit.Sensors {
			if ctx.Err() != nil {
				break dispatch
			}

			rec, ok := cat.Match(unit, live)
			if !ok || rec.RawID != live.ID {
				res.unmatched++
				s.metrics.skip(skipUnmatched)
				s.logger.Warn("no catalog record for live sensor",
					"unit", unit.Name,
					"sensor", live.Name,
					"type", live.Kind,
					"id", live.ID,
				)
				continue
			}
			if !live.HasValue() {
				res.noValue++
				s.metrics.skip(skipNoValue)
				s.logger.Debug("sensor has no value, skipping publish", "unique_id", rec.UniqueID)
				continue
			}

			payload := []byte(rec.FormatValue(*live.Value))
			g.Go(func() (err error) {
				defer func() {
					if p := recover(); p != nil {
						err = fmt.Errorf("%w: publish panic: %v", ErrLoopFatal, p)
					}
				}()
				perr := pub.Publish(ctx, rec.StateTopic, payload, sensor.AtLeastOnce, false)
				if perr != nil && ctx.Err() != nil {
					return nil
				}
				if perr != nil {
					failed.Add(1)
					s.logger.Warn("state publish failed", "unique_id", rec.UniqueID, "topic", rec.StateTopic, "error", perr)
				} else {
					published.Add(1)
				}
				s.metrics.published(perr == nil)
				return nil
			})
		}
	}

	err = g.Wait()
	res.published = int(published.Load())
	res.failed = int(failed.Load())
	return res, err
}
