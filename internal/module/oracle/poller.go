package oracle

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/resilience"
)

// Source is a feed endpoint polled over HTTP. The endpoint returns a JSON
// array of readings.
type Source struct {
	Feed    string
	Address string
	URL     string
	// RatePerSec limits requests to this source. Zero means one per second.
	RatePerSec float64
}

// Submitter accepts polled readings. The protocol implements it so every
// reading enters through a top-level operation.
type Submitter interface {
	SubmitReading(ctx context.Context, caller string, r Reading) error
}

// PollerOptions tunes a Poller.
type PollerOptions struct {
	Client      *http.Client
	Concurrency int
	Retry       resilience.RetryConfig
	Breaker     resilience.BreakerConfig
}

// PollStats summarizes one polling round.
type PollStats struct {
	Sources   int
	Failed    int
	Skipped   int
	Submitted int64
	Rejected  int64
}

// Poller fetches feed readings outside of any transition and submits them.
type Poller struct {
	sources  []Source
	submit   Submitter
	client   *http.Client
	limiters map[string]*rate.Limiter
	breaker  *resilience.Breaker
	retry    resilience.RetryConfig
	limit    int
}

// NewPoller returns a Poller over sources.
func NewPoller(sources []Source, submit Submitter, opts PollerOptions) *Poller {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	limiters := make(map[string]*rate.Limiter, len(sources))
	for _, s := range sources {
		r := s.RatePerSec
		if r <= 0 {
			r = 1
		}
		limiters[s.Feed] = rate.NewLimiter(rate.Limit(r), 1)
	}
	return &Poller{
		sources:  sources,
		submit:   submit,
		client:   opts.Client,
		limiters: limiters,
		breaker:  resilience.NewBreaker(opts.Breaker),
		retry:    opts.Retry,
		limit:    opts.Concurrency,
	}
}

// PollOnce fetches every source once. A failing source never stops the
// others; the round only errors when ctx is done.
func (p *Poller) PollOnce(ctx context.Context) (PollStats, error) {
	stats := PollStats{Sources: len(p.sources)}
	var failed, skipped atomic.Int32
	var submitted, rejected atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)
	for _, src := range p.sources {
		g.Go(func() error {
			if err := p.breaker.Allow(src.Feed); err != nil {
				skipped.Add(1)
				return nil
			}
			readings, err := p.fetch(gctx, src)
			p.breaker.Record(src.Feed, err)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				zap.L().Warn("oracle: poll failed", zap.String("feed", src.Feed), zap.Error(err))
				return nil
			}
			for _, r := range readings {
				if err := p.submit.SubmitReading(gctx, src.Address, r); err != nil {
					if _, domain := apperr.As(err); !domain {
						return err
					}
					rejected.Add(1)
					zap.L().Warn("oracle: reading rejected",
						zap.String("feed", src.Feed),
						zap.String("device_id", r.DeviceID),
						zap.Error(err),
					)
					continue
				}
				submitted.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()

	stats.Failed = int(failed.Load())
	stats.Skipped = int(skipped.Load())
	stats.Submitted = submitted.Load()
	stats.Rejected = rejected.Load()
	return stats, err
}

// Run polls every interval until ctx is done.
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		stats, err := p.PollOnce(ctx)
		if err != nil && ctx.Err() == nil {
			return err
		}
		zap.L().Info("oracle: poll round",
			zap.Int("sources", stats.Sources),
			zap.Int("failed", stats.Failed),
			zap.Int("skipped", stats.Skipped),
			zap.Int64("submitted", stats.Submitted),
			zap.Int64("rejected", stats.Rejected),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Poller) fetch(ctx context.Context, src Source) ([]Reading, error) {
	cfg := p.retry
	cfg.OnRetry = resilience.LogRetry("oracle", src.Feed)
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]Reading, error) {
		if err := p.limiters[src.Feed].Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "oracle: rate limit wait")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
		if err != nil {
			return nil, eris.Wrapf(err, "oracle: build request for %s", src.Feed)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := p.client.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "oracle: fetch %s", src.Feed)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			err := eris.Errorf("oracle: %s returned %d", src.Feed, resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}
		var readings []Reading
		if err := json.NewDecoder(resp.Body).Decode(&readings); err != nil {
			return nil, eris.Wrapf(err, "oracle: decode %s", src.Feed)
		}
		return readings, nil
	})
}
