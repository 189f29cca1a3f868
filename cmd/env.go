package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/module/oracle"
	"github.com/sells-group/dmrv/internal/protocol"
	"github.com/sells-group/dmrv/internal/resilience"
	"github.com/sells-group/dmrv/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "dmrv.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{MaxConns: cfg.Store.MaxConns})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openProtocol opens the store, applies migrations and bootstraps a
// protocol over it. The returned func closes the store.
func openProtocol(ctx context.Context, opts protocol.Options) (*protocol.Protocol, func(), error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, nil, err
	}
	p := protocol.New(cfg, st, opts)
	if err := p.Bootstrap(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, nil, err
	}
	return p, func() { st.Close() }, nil //nolint:errcheck
}

// withProtocol runs fn against a freshly opened protocol.
func withProtocol(cmd *cobra.Command, fn func(ctx context.Context, p *protocol.Protocol) error) error {
	if err := cfg.Validate("cli"); err != nil {
		return err
	}
	ctx := cmd.Context()
	p, closeFn, err := openProtocol(ctx, protocol.Options{})
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, p)
}

func requireCaller() (string, error) {
	if caller == "" {
		return "", eris.New("caller address is required (--as or DMRV_CALLER)")
	}
	return caller, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newPoller builds a feed poller from the oracle configuration. It returns
// nil when no sources are configured.
func newPoller(p *protocol.Protocol) (*oracle.Poller, error) {
	oc := cfg.Oracle
	if len(oc.Sources) == 0 {
		return nil, nil
	}
	sources := make([]oracle.Source, 0, len(oc.Sources))
	for _, s := range oc.Sources {
		addr, ok := oc.Feeds[s.Feed]
		if !ok {
			return nil, eris.Errorf("oracle source %s: feed %q has no address", s.URL, s.Feed)
		}
		sources = append(sources, oracle.Source{Feed: s.Feed, Address: addr, URL: s.URL, RatePerSec: s.RatePerSec})
	}
	return oracle.NewPoller(sources, p, oracle.PollerOptions{
		Concurrency: oc.Concurrency,
		Retry: resilience.FromSettings(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs,
			cfg.Retry.MaxBackoffMs, cfg.Retry.Multiplier),
		Breaker: resilience.BreakerConfig{
			Threshold: oc.BreakerThreshold,
			Cooldown:  time.Duration(oc.BreakerCooldownS) * time.Second,
		},
	}), nil
}

func pollInterval() time.Duration {
	if cfg.Oracle.PollIntervalSecs <= 0 {
		return time.Minute
	}
	return time.Duration(cfg.Oracle.PollIntervalSecs) * time.Second
}

func parseRole(s string) (model.Role, error) {
	switch r := model.Role(s); r {
	case model.RoleAdmin, model.RoleGovernance, model.RoleVerifier:
		return r, nil
	}
	return "", eris.Errorf("unknown role %q", s)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
